package testserver

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/reql"
)

func setup(t testing.TB) *Server {
	s, err := New(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func run(t testing.TB, s *Server, term reql.Term) result {
	t.Helper()
	require.NoError(t, term.Err())
	res, err := s.exec(context.Background(), term, nil)
	require.NoError(t, err)
	return res
}

func atom(t testing.TB, s *Server, term reql.Term) reql.Datum {
	t.Helper()
	res := run(t, s, term)
	if res.isSeq {
		return reql.Array(res.rows)
	}
	return res.atom
}

func runErr(t testing.TB, s *Server, term reql.Term) *queryError {
	t.Helper()
	require.NoError(t, term.Err())
	_, err := s.exec(context.Background(), term, nil)
	require.Error(t, err)
	var qe *queryError
	require.True(t, errors.As(err, &qe), "not a query error: %v", err)
	return qe
}

func createUsers(t testing.TB, s *Server) {
	run(t, s, reql.TableCreate("users"))
	res := atom(t, s, reql.Table("users").Insert([]any{
		map[string]any{"id": "alice", "age": 31, "team": "red"},
		map[string]any{"id": "bob", "age": 25, "team": "blue"},
		map[string]any{"id": "carol", "age": 42, "team": "red"},
		map[string]any{"id": "dave", "age": 19},
	}))
	require.Equal(t, reql.Number(4), res.(reql.Object)["inserted"])
}

func ids(t testing.TB, d reql.Datum) []string {
	t.Helper()
	arr, ok := d.(reql.Array)
	require.True(t, ok, "not an array: %v", d)
	out := make([]string, 0, len(arr))
	for _, row := range arr {
		out = append(out, string(row.(reql.Object)["id"].(reql.String)))
	}
	return out
}

func TestExec_Arithmetic(t *testing.T) {
	s := setup(t)
	require.Equal(t, reql.Number(7), atom(t, s, reql.Expr(1).Add(2).Mul(2).Add(1)))
	require.Equal(t, reql.String("ab"), atom(t, s, reql.Expr("a").Add("b")))
	require.Equal(t, reql.Bool(true), atom(t, s, reql.Expr(3).Gt(2, 1)))
}

func TestExec_InsertGet(t *testing.T) {
	s := setup(t)
	createUsers(t, s)

	got := atom(t, s, reql.Table("users").Get("bob"))
	require.Equal(t, reql.Number(25), got.(reql.Object)["age"])

	require.Equal(t, reql.NullDatum, atom(t, s, reql.Table("users").Get("nobody")))
	require.Equal(t, reql.Number(4), atom(t, s, reql.Table("users").Count()))
}

func TestExec_InsertGeneratesKeys(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("notes"))

	res := atom(t, s, reql.Table("notes").Insert(map[string]any{"text": "hi"})).(reql.Object)
	keys := res["generated_keys"].(reql.Array)
	require.Len(t, keys, 1)

	doc := atom(t, s, reql.Table("notes").Get(keys[0])).(reql.Object)
	require.Equal(t, reql.String("hi"), doc["text"])
	require.Equal(t, keys[0], doc["id"])
}

func TestExec_DuplicateInsert(t *testing.T) {
	s := setup(t)
	createUsers(t, s)

	res := atom(t, s, reql.Table("users").Insert(map[string]any{"id": "bob"})).(reql.Object)
	require.Equal(t, reql.Number(1), res["errors"])
	require.Contains(t, string(res["first_error"].(reql.String)), "Duplicate primary key `id`")

	res = atom(t, s, reql.Table("users").Insert(map[string]any{"id": "bob", "age": 26}, reql.InsertOpts{Conflict: "update"})).(reql.Object)
	require.Equal(t, reql.Number(1), res["replaced"])
}

func TestExec_MissingTable(t *testing.T) {
	s := setup(t)
	qe := runErr(t, s, reql.Table("ghosts"))
	require.Equal(t, reql.ErrorOpFailed, qe.ErrType)
	require.Equal(t, "Table `test.ghosts` does not exist.", qe.Msg)
}

func TestExec_FilterDefault(t *testing.T) {
	s := setup(t)
	createUsers(t, s)

	red := func(doc reql.Term) reql.Term { return doc.Field("team").Eq("red") }

	got := ids(t, atom(t, s, reql.Table("users").Filter(reql.Func1(red)).OrderBy("id")))
	require.Equal(t, []string{"alice", "carol"}, got)

	notBlue := func(doc reql.Term) reql.Term { return doc.Field("team").Ne("blue") }
	got = ids(t, atom(t, s, reql.Table("users").Filter(reql.Func1(notBlue), reql.FilterOpts{Default: true}).OrderBy("id")))
	require.Equal(t, []string{"alice", "carol", "dave"}, got)

	qe := runErr(t, s, reql.Table("users").Filter(reql.Func1(notBlue), reql.FilterOpts{Default: reql.Error()}))
	require.Equal(t, reql.ErrorNonExistence, qe.ErrType)
}

func TestExec_BetweenAndOrder(t *testing.T) {
	s := setup(t)
	createUsers(t, s)

	got := ids(t, atom(t, s, reql.Table("users").Between("b", "d")))
	require.Equal(t, []string{"bob", "carol"}, got)

	got = ids(t, atom(t, s, reql.Table("users").OrderBy(reql.Desc("age")).Limit(2)))
	require.Equal(t, []string{"carol", "alice"}, got)

	got = ids(t, atom(t, s, reql.Table("users").OrderBy(reql.OrderByOpts{Index: reql.Desc("id")})))
	require.Equal(t, []string{"dave", "carol", "bob", "alice"}, got)
	got = ids(t, atom(t, s, reql.Table("users").OrderBy(reql.OrderByOpts{Index: "id"}).Limit(2)))
	require.Equal(t, []string{"alice", "bob"}, got)
}

func TestExec_BetweenIntegerBounds(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("nums"))
	docs := make([]any, 30)
	for i := range docs {
		docs[i] = map[string]any{"id": i}
	}
	run(t, s, reql.Table("nums").Insert(docs))

	open := atom(t, s, reql.Table("nums").Between(10, 20).OrderBy("id")).(reql.Array)
	require.Len(t, open, 10)
	require.Equal(t, reql.Number(10), open[0].(reql.Object)["id"])
	require.Equal(t, reql.Number(19), open[9].(reql.Object)["id"])

	closed := atom(t, s, reql.Table("nums").Between(10, 20, reql.BetweenOpts{RightBound: "closed"})).(reql.Array)
	require.Len(t, closed, 11)
	require.Equal(t, reql.Number(20), closed[10].(reql.Object)["id"])

	leftOpen := atom(t, s, reql.Table("nums").Between(10, 20, reql.BetweenOpts{LeftBound: "open"}).Count())
	require.Equal(t, reql.Number(9), leftOpen)

	require.Equal(t, reql.Number(5), atom(t, s, reql.Table("nums").Between(reql.MinVal, 5).Count()))
	require.Equal(t, reql.Number(10), atom(t, s, reql.Table("nums").Between(20, reql.MaxVal).Count()))
}

func TestExec_GroupCount(t *testing.T) {
	s := setup(t)
	createUsers(t, s)

	got := atom(t, s, reql.Table("users").Group("team").Count())
	grouped, ok := got.(reql.GroupedData)
	require.True(t, ok, "got %v", got)
	counts := map[string]reql.Datum{}
	for _, g := range grouped {
		if name, ok := g.Group.(reql.String); ok {
			counts[string(name)] = g.Reduction
		}
	}
	require.Equal(t, reql.Number(2), counts["red"])
	require.Equal(t, reql.Number(1), counts["blue"])
}

func TestExec_Reduce(t *testing.T) {
	s := setup(t)
	createUsers(t, s)

	sum := reql.Table("users").Map(reql.Func1(func(doc reql.Term) reql.Term { return doc.Field("age") })).
		Reduce(reql.Func2(func(a, b reql.Term) reql.Term { return a.Add(b) }))
	require.Equal(t, reql.Number(117), atom(t, s, sum))
}

func TestExec_UpdateDelete(t *testing.T) {
	s := setup(t)
	createUsers(t, s)

	res := atom(t, s, reql.Table("users").Get("dave").Update(map[string]any{"team": "blue"})).(reql.Object)
	require.Equal(t, reql.Number(1), res["replaced"])

	res = atom(t, s, reql.Table("users").Get("dave").Update(map[string]any{"team": "blue"})).(reql.Object)
	require.Equal(t, reql.Number(1), res["unchanged"])

	res = atom(t, s, reql.Table("users").Filter(map[string]any{"team": "blue"}).Delete()).(reql.Object)
	require.Equal(t, reql.Number(2), res["deleted"])
	require.Equal(t, reql.Number(2), atom(t, s, reql.Table("users").Count()))
}

func TestExec_NonDeterministicUpdate(t *testing.T) {
	s := setup(t)
	createUsers(t, s)

	qe := runErr(t, s, reql.Table("users").Update(map[string]any{"r": reql.Random()}))
	require.Equal(t, reql.ResponseCompileError, qe.Type)
	require.Equal(t, "Could not prove argument deterministic.  Maybe you want to use the non_atomic flag?", qe.Msg)

	res := atom(t, s, reql.Table("users").Update(map[string]any{"r": reql.Random()}, reql.UpdateOpts{NonAtomic: true})).(reql.Object)
	require.Equal(t, reql.Number(4), res["replaced"])
}

func TestExec_ReadDoesNotWrite(t *testing.T) {
	require.False(t, needsWrite(reql.Table("users").Filter(map[string]any{"a": 1})))
	require.True(t, needsWrite(reql.Table("users").Get("a").Delete()))
	require.True(t, needsWrite(reql.Expr(1).Do(reql.Func1(func(reql.Term) reql.Term { return reql.TableCreate("x") }))))
}

func TestExec_Times(t *testing.T) {
	s := setup(t)

	require.Equal(t, reql.String("1970-01-01T00:00:01.500+00:00"), atom(t, s, reql.EpochTime(1.5).ToISO8601()))
	require.Equal(t, reql.Number(2021), atom(t, s, reql.MakeTime(2021, 3, 4, "Z").Year()))
	require.Equal(t, reql.Number(7), atom(t, s, reql.MakeTime(2021, 3, 7, "Z").DayOfWeek()))
	require.Equal(t, reql.String("-07:00"), atom(t, s, reql.EpochTime(0).InTimezone("-07:00").Timezone()))

	got := atom(t, s, reql.ISO8601("2020-02-29T12:30:00+02:00").ToEpochTime())
	want := time.Date(2020, 2, 29, 10, 30, 0, 0, time.UTC).Unix()
	require.Equal(t, reql.Number(want), got)

	qe := runErr(t, s, reql.ISO8601("2020-02-29T12:30:00"))
	require.Equal(t, "ISO 8601 string has no time zone, and no default time zone was provided.", qe.Msg)

	in := reql.EpochTime(10).During(reql.EpochTime(5), reql.EpochTime(10))
	require.Equal(t, reql.Bool(false), atom(t, s, in))
}

func TestExec_DBAndTableAdmin(t *testing.T) {
	s := setup(t)
	res := atom(t, s, reql.DBCreate("app")).(reql.Object)
	require.Equal(t, reql.Number(1), res["dbs_created"])

	run(t, s, reql.DB("app").TableCreate("events"))
	require.Equal(t, reql.Array{reql.String("events")}, atom(t, s, reql.DB("app").TableList()))

	qe := runErr(t, s, reql.DBCreate("app"))
	require.Equal(t, "Database `app` already exists.", qe.Msg)

	run(t, s, reql.DB("app").TableDrop("events"))
	require.Empty(t, atom(t, s, reql.DB("app").TableList()))
}

func TestExec_GlobalDB(t *testing.T) {
	s := setup(t)
	run(t, s, reql.DBCreate("app"))
	run(t, s, reql.DB("app").TableCreate("events"))

	term := reql.Table("events").Count()
	res, err := s.exec(context.Background(), term, map[string]reql.Term{"db": reql.DB("app")})
	require.NoError(t, err)
	require.Equal(t, reql.Number(0), res.atom)
}

func TestExec_UserError(t *testing.T) {
	s := setup(t)
	qe := runErr(t, s, reql.Branch(reql.Expr(1).Gt(2), "yes", reql.Error("nope")))
	require.Equal(t, reql.ErrorUser, qe.ErrType)
	require.Equal(t, "nope", qe.Msg)
}

func TestServer_BoltPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")

	s, err := New(Options{Path: path})
	require.NoError(t, err)
	createUsers(t, s)
	require.NoError(t, s.Close())

	s, err = New(Options{Path: path})
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, reql.Number(4), atom(t, s, reql.Table("users").Count()))
	require.Equal(t, reql.Number(42), atom(t, s, reql.Table("users").Get("carol").Field("age")))
}

func TestServer_CloseTwice(t *testing.T) {
	s, err := Start(Options{})
	require.NoError(t, err)
	require.NotEmpty(t, s.Addr())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
