package reql

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func wireJSON(t testing.TB, term Term) string {
	t.Helper()
	raw, err := json.Marshal(term)
	require.NoError(t, err)
	return string(raw)
}

func TestBuild_Commands(t *testing.T) {
	require.Equal(t, `[16,[[15,["users"]],"a"]]`, wireJSON(t, Table("users").Get("a")))
	require.Equal(t, `[2,[1,2,[2,[3]]]]`, wireJSON(t, Expr([]any{1, 2, []int{3}})))
	require.Equal(t, `{"a":[2,[1]],"b":{"c":true}}`, wireJSON(t, Expr(map[string]any{"a": []int{1}, "b": map[string]bool{"c": true}})))
	require.Equal(t,
		`[54,[[15,["users"]]],{"return_changes":true}]`,
		wireJSON(t, Table("users").Delete(DeleteOpts{ReturnChanges: true})))
}

func TestBuild_Row(t *testing.T) {
	term := Table("users").Filter(Row.Field("age").Gt(18))
	got := wireJSON(t, term)
	parsed, err := ParseTerm([]byte(got))
	require.NoError(t, err)
	require.Equal(t, got, wireJSON(t, parsed))

	_, err = Build(Row.Field("age"))
	require.ErrorIs(t, err, ErrUnboundRow)

	bad := Table("users").Filter(Row.Field("tags").Contains(Func1(func(tag Term) Term { return Row.Field("x").Eq(tag) })))
	require.ErrorIs(t, bad.Err(), ErrNestedRow)
}

func TestBuild_Errors(t *testing.T) {
	var be *BuildError
	err := NewTerm(TermGet, []Term{Table("users")}, nil).Err()
	require.True(t, errors.As(err, &be))
	require.ErrorIs(t, err, ErrArity)
	require.Equal(t, TermGet, be.Kind)

	err = Table("users").Insert(map[string]any{}, OptArgs{"bogus": 1}).Err()
	require.ErrorIs(t, err, ErrUnknownOptArg)

	err = Expr(make(chan int)).Err()
	require.ErrorIs(t, err, ErrInvalidValue)

	require.ErrorIs(t, Term{}.Err(), ErrInvalidTerm)
}

func TestTerm_String(t *testing.T) {
	require.Equal(t, `get(table("users"), "a")`, Table("users").Get("a").String())
	require.Equal(t, `[1, "x"]`, NewTerm(TermMakeArray, []Term{Expr(1), Expr("x")}, nil).String())
}

func TestRunOpts_Merge(t *testing.T) {
	base := RunOpts{DB: "a", MaxBatchRows: lo.ToPtr(10), Profile: lo.ToPtr(true)}
	got := base.Merge(RunOpts{DB: "b", ArrayLimit: lo.ToPtr(5)})
	require.Equal(t, RunOpts{DB: "b", MaxBatchRows: lo.ToPtr(10), Profile: lo.ToPtr(true), ArrayLimit: lo.ToPtr(5)}, got)

	global, err := got.globalOptArgs("ignored")
	require.NoError(t, err)
	require.Equal(t, float64(10), toFloat(global["max_batch_rows"]))
	require.Equal(t, true, global["profile"])
	require.NotContains(t, global, "min_batch_rows")
	require.Equal(t, []any{int(TermDB), []any{"b"}}, global["db"])
}

func TestRunOpts_MergeExplicitZero(t *testing.T) {
	conn := RunOpts{NoReply: lo.ToPtr(true), Profile: lo.ToPtr(true), MaxBatchRows: lo.ToPtr(10)}
	got := conn.Merge(RunOpts{NoReply: lo.ToPtr(false), Profile: lo.ToPtr(false), MaxBatchRows: lo.ToPtr(0)})
	require.False(t, got.noReply())
	require.False(t, *got.Profile)
	require.Equal(t, 0, *got.MaxBatchRows)

	global, err := got.globalOptArgs("")
	require.NoError(t, err)
	require.Equal(t, false, global["noreply"])
	require.Equal(t, false, global["profile"])
	require.Equal(t, float64(0), toFloat(global["max_batch_rows"]))

	require.True(t, conn.Merge(RunOpts{}).noReply())
}

func toFloat(v any) float64 {
	switch v := v.(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return -1
}

func TestDatum_CompareOrder(t *testing.T) {
	ordered := []Datum{
		Array{Number(1)},
		Bool(false),
		Bool(true),
		NullDatum,
		Number(-1),
		Number(2),
		Object{"a": Number(1)},
		Binary("x"),
		NewTime(time.Unix(0, 0)),
		String(""),
		String("a"),
	}
	for i := range ordered {
		for j := range ordered {
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = 1
			}
			require.Equal(t, want, Compare(ordered[i], ordered[j]), "%v vs %v", ordered[i], ordered[j])
		}
	}
}

func TestDatum_JSON(t *testing.T) {
	tm := NewTime(time.Date(2020, 1, 2, 3, 4, 5, 0, time.FixedZone("", -5*3600)))
	raw, err := MarshalDatum(Object{"t": tm, "b": Binary("hi")})
	require.NoError(t, err)
	require.JSONEq(t, `{"t":{"$reql_type$":"TIME","epoch_time":1577952245,"timezone":"-05:00"},"b":{"$reql_type$":"BINARY","data":"aGk="}}`, string(raw))

	d, err := UnmarshalDatum(raw)
	require.NoError(t, err)
	require.True(t, Equal(Object{"t": tm, "b": Binary("hi")}, d))
	require.Equal(t, "-05:00", d.(Object)["t"].(Time).Timezone())
}

func TestDecode(t *testing.T) {
	var dst struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	require.NoError(t, Decode(Object{"name": String("x"), "tags": Array{String("a")}}, &dst))
	require.Equal(t, "x", dst.Name)
	require.Equal(t, []string{"a"}, dst.Tags)

	var d Datum
	require.NoError(t, Decode(Number(3), &d))
	require.Equal(t, Number(3), d)
}

func TestDecodeChange(t *testing.T) {
	chg, err := DecodeChange(Object{"error": String(SkippedMessage(7))})
	require.NoError(t, err)
	require.Equal(t, ChangeSkipped, chg.Kind)
	require.Equal(t, 7, chg.Skipped)

	chg, err = DecodeChange(Object{"state": String("ready")})
	require.NoError(t, err)
	require.Equal(t, ChangeState, chg.Kind)
	require.Equal(t, FeedReady, chg.State)

	chg, err = DecodeChange(Object{"old_val": NullDatum, "new_val": Object{"id": Number(1)}, "new_offset": Number(0)})
	require.NoError(t, err)
	require.True(t, chg.IsInsert())
	require.Equal(t, 0, *chg.NewOffset)
	require.Nil(t, chg.OldOffset)
}

func datumGen() *rapid.Generator[any] {
	return rapid.OneOf(
		rapid.Map(rapid.Int64Range(-1e9, 1e9), func(n int64) any { return n }),
		rapid.Map(rapid.StringN(0, 8, -1), func(s string) any { return s }),
		rapid.Map(rapid.Bool(), func(b bool) any { return b }),
		rapid.Just[any](nil),
	)
}

func termGen() *rapid.Generator[Term] {
	leaf := rapid.Map(datumGen(), func(v any) Term { return Expr(v) })
	return rapid.Custom(func(t *rapid.T) Term {
		base := Table(rapid.StringMatching(`[a-z]{1,6}`).Draw(t, "table"))
		switch rapid.IntRange(0, 5).Draw(t, "shape") {
		case 0:
			return base.Get(leaf.Draw(t, "key"))
		case 1:
			return base.Filter(Func1(func(doc Term) Term { return doc.Field("f").Eq(leaf.Draw(t, "v")) }))
		case 2:
			return base.OrderBy(Desc("a")).Limit(rapid.IntRange(0, 100).Draw(t, "n"))
		case 3:
			return base.Between(leaf.Draw(t, "lo"), leaf.Draw(t, "hi"), BetweenOpts{RightBound: "closed"})
		case 4:
			return base.Insert(map[string]any{"v": leaf.Draw(t, "v"), "arr": []any{1, "two"}})
		default:
			return Branch(leaf.Draw(t, "cond"), base.Count(), Expr([]any{}))
		}
	})
}

func TestParseTerm_RoundTrip(t *testing.T) {
	gen := termGen()
	rapid.Check(t, func(t *rapid.T) {
		term := gen.Draw(t, "term")
		raw, err := json.Marshal(term)
		require.NoError(t, err)
		parsed, err := ParseTerm(raw)
		require.NoError(t, err)
		again, err := json.Marshal(parsed)
		require.NoError(t, err)
		require.JSONEq(t, string(raw), string(again))
	})
}
