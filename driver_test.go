package reql_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/reql"
	"github.com/andreyvit/reql/testserver"
)

func startServer(t testing.TB, opts testserver.Options) *testserver.Server {
	t.Helper()
	srv, err := testserver.Start(opts)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func connect(t testing.TB, srv *testserver.Server) *reql.Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := reql.Connect(ctx, reql.ConnectOpts{Address: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testCtx(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func fillTable(t testing.TB, conn *reql.Connection, name string, n int) {
	t.Helper()
	ctx := testCtx(t)
	require.NoError(t, conn.Exec(ctx, reql.TableCreate(name)))
	docs := make([]any, n)
	for i := range docs {
		docs[i] = map[string]any{"id": i, "name": fmt.Sprintf("doc%d", i)}
	}
	wr, err := conn.RunWrite(ctx, reql.Table(name).Insert(docs))
	require.NoError(t, err)
	require.Equal(t, n, wr.Inserted)
}

func TestDriver_RoundTrip(t *testing.T) {
	srv := startServer(t, testserver.Options{Name: "roundtrip"})
	conn := connect(t, srv)
	ctx := testCtx(t)

	info, err := conn.Server(ctx)
	require.NoError(t, err)
	require.Equal(t, "roundtrip", info.Name)
	require.NotEmpty(t, info.ID)

	fillTable(t, conn, "docs", 3)

	d, err := conn.RunAtom(ctx, reql.Table("docs").Get(1).Field("name"))
	require.NoError(t, err)
	require.Equal(t, reql.String("doc1"), d)

	var doc struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	cur, err := conn.Run(ctx, reql.Table("docs").Get(2))
	require.NoError(t, err)
	require.Equal(t, reql.CursorTypeAtom, cur.Type())
	require.NoError(t, cur.NextInto(ctx, &doc))
	require.Equal(t, 2, doc.ID)
	require.Equal(t, "doc2", doc.Name)
	require.NoError(t, cur.Close())
}

func TestDriver_Batches(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)
	fillTable(t, conn, "docs", 25)

	cur, err := conn.Run(ctx, reql.Table("docs"), reql.RunOpts{MaxBatchRows: lo.ToPtr(4)})
	require.NoError(t, err)
	require.Equal(t, reql.CursorTypeSequence, cur.Type())
	all, err := cur.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 25)
	require.Equal(t, reql.CursorExhausted, cur.State())

	_, err = cur.Next(ctx)
	require.ErrorIs(t, err, reql.ErrCursorEmpty)
	_, err = cur.Next(ctx)
	require.ErrorIs(t, err, reql.ErrCursorEmpty)
	require.NoError(t, cur.Close())
	require.NoError(t, cur.Close())
}

func TestDriver_CloseMidStream(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)
	fillTable(t, conn, "docs", 10)

	cur, err := conn.Run(ctx, reql.Table("docs"), reql.RunOpts{MaxBatchRows: lo.ToPtr(2)})
	require.NoError(t, err)
	_, err = cur.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, cur.Close())
	_, err = cur.Next(ctx)
	require.ErrorIs(t, err, reql.ErrCursorClosed)

	n, err := conn.RunAtom(ctx, reql.Table("docs").Count())
	require.NoError(t, err)
	require.Equal(t, reql.Number(10), n)
}

func TestDriver_EmptyResult(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)
	require.NoError(t, conn.Exec(ctx, reql.TableCreate("empty")))

	cur, err := conn.Run(ctx, reql.Table("empty"))
	require.NoError(t, err)
	_, err = cur.One(ctx)
	require.ErrorIs(t, err, reql.ErrNoResult)
}

func TestDriver_NoReply(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)
	require.NoError(t, conn.Exec(ctx, reql.TableCreate("events")))

	for i := range 20 {
		cur, err := conn.Run(ctx, reql.Table("events").Insert(map[string]any{"id": i}), reql.RunOpts{NoReply: lo.ToPtr(true)})
		require.NoError(t, err)
		require.Nil(t, cur)
	}
	require.NoError(t, conn.NoReplyWait(ctx))

	n, err := conn.RunAtom(ctx, reql.Table("events").Count())
	require.NoError(t, err)
	require.Equal(t, reql.Number(20), n)
}

func TestDriver_CloseWaitsForNoReply(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)
	require.NoError(t, conn.Exec(ctx, reql.TableCreate("events")))

	const n = 200
	for i := range n {
		_, err := conn.Run(ctx, reql.Table("events").Insert(map[string]any{"id": i}), reql.RunOpts{NoReply: lo.ToPtr(true)})
		require.NoError(t, err)
	}
	require.NoError(t, conn.Close())

	fresh := connect(t, srv)
	count, err := fresh.RunAtom(ctx, reql.Table("events").Count())
	require.NoError(t, err)
	require.Equal(t, reql.Number(n), count)
}

func TestDriver_NoReplyOverridden(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	ctx := testCtx(t)
	conn, err := reql.Connect(ctx, reql.ConnectOpts{Address: srv.Addr(), RunOpts: reql.RunOpts{NoReply: lo.ToPtr(true)}})
	require.NoError(t, err)
	defer conn.Close()

	cur, err := conn.Run(ctx, reql.Expr(1))
	require.NoError(t, err)
	require.Nil(t, cur)

	d, err := conn.RunAtom(ctx, reql.Expr(2), reql.RunOpts{NoReply: lo.ToPtr(false)})
	require.NoError(t, err)
	require.Equal(t, reql.Number(2), d)
}

func TestDriver_ConcurrentRuns(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)

	const docs = 50
	require.NoError(t, conn.Exec(ctx, reql.TableCreate("nums")))
	rows := make([]any, docs)
	for i := range rows {
		rows[i] = map[string]any{"id": i, "square": i * i}
	}
	require.NoError(t, conn.Exec(ctx, reql.Table("nums").Insert(rows)))

	var g errgroup.Group
	for w := range 32 {
		g.Go(func() error {
			for j := range 20 {
				id := (w*20 + j) % docs
				d, err := conn.RunAtom(ctx, reql.Table("nums").Get(id).Field("square"))
				if err != nil {
					return err
				}
				if !reql.Equal(reql.Number(id*id), d) {
					return fmt.Errorf("worker %d: get %d returned %v", w, id, d)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestDriver_Errors(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)
	fillTable(t, conn, "docs", 1)

	_, err := conn.RunAtom(ctx, reql.Table("nope"))
	require.ErrorIs(t, err, reql.ErrServer)
	var rt *reql.RuntimeError
	require.True(t, errors.As(err, &rt), "got %T", err)
	require.Equal(t, reql.ErrorOpFailed, rt.Type)
	require.Equal(t, "Table `test.nope` does not exist.", rt.Msg)

	_, err = conn.RunAtom(ctx, reql.Table("docs").Get(0).Field("missing"))
	require.ErrorIs(t, err, reql.ErrNonExistence)

	_, err = conn.RunWrite(ctx, reql.Table("docs").Insert(map[string]any{"id": 0}))
	var we *reql.WriteError
	require.True(t, errors.As(err, &we), "got %v", err)
	require.Equal(t, 1, we.Errors)

	_, err = conn.RunAtom(ctx, reql.Table("docs").Update(map[string]any{"r": reql.Random()}))
	var ce *reql.CompileError
	require.True(t, errors.As(err, &ce), "got %v", err)
}

func TestDriver_Use(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)

	require.NoError(t, conn.Exec(ctx, reql.DBCreate("app")))
	require.NoError(t, conn.Exec(ctx, reql.DB("app").TableCreate("things")))

	_, err := conn.RunAtom(ctx, reql.Table("things").Count())
	require.Error(t, err)

	conn.Use("app")
	n, err := conn.RunAtom(ctx, reql.Table("things").Count())
	require.NoError(t, err)
	require.Equal(t, reql.Number(0), n)

	n, err = conn.RunAtom(ctx, reql.Table("things").Count(), reql.RunOpts{DB: "app"})
	require.NoError(t, err)
	require.Equal(t, reql.Number(0), n)
}

func TestDriver_Profile(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)

	cur, err := conn.Run(ctx, reql.Expr(1).Add(1), reql.RunOpts{Profile: lo.ToPtr(true)})
	require.NoError(t, err)
	defer cur.Close()
	d, ok := cur.Atom()
	require.True(t, ok)
	require.Equal(t, reql.Number(2), d)
	require.NotNil(t, cur.Profile())
}

func TestDriver_Auth(t *testing.T) {
	srv := startServer(t, testserver.Options{AdminPassword: "s3cret"})
	require.NoError(t, srv.AddUser("bob", "hunter2"))
	ctx := testCtx(t)

	_, err := reql.Connect(ctx, reql.ConnectOpts{Address: srv.Addr(), Password: "wrong"})
	require.Error(t, err)
	require.True(t, reql.IsAuthError(err), "got %v", err)

	_, err = reql.Connect(ctx, reql.ConnectOpts{Address: srv.Addr(), Username: "nobody"})
	require.True(t, reql.IsAuthError(err), "got %v", err)

	conn, err := reql.Connect(ctx, reql.ConnectOpts{Address: srv.Addr(), Username: "bob", Password: "hunter2"})
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestDriver_Reconnect(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)

	require.NoError(t, conn.Reconnect(ctx))
	require.True(t, conn.IsOpen())
	d, err := conn.RunAtom(ctx, reql.Expr("ok"))
	require.NoError(t, err)
	require.Equal(t, reql.String("ok"), d)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	_, err = conn.RunAtom(ctx, reql.Expr(1))
	require.ErrorIs(t, err, reql.ErrConnectionClosed)
}

func TestChangefeed_Stream(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	writer := connect(t, srv)
	ctx := testCtx(t)
	fillTable(t, conn, "docs", 1)

	cur, err := conn.Run(ctx, reql.Table("docs").Changes(reql.ChangesOpts{IncludeInitial: true, IncludeStates: true}))
	require.NoError(t, err)
	defer cur.Close()
	require.True(t, cur.IsFeed())

	chg, err := cur.NextChange(ctx)
	require.NoError(t, err)
	require.Equal(t, reql.ChangeState, chg.Kind)
	require.Equal(t, reql.FeedInitializing, chg.State)

	chg, err = cur.NextChange(ctx)
	require.NoError(t, err)
	require.Equal(t, reql.ChangeData, chg.Kind)
	require.Equal(t, reql.String("doc0"), chg.NewVal.(reql.Object)["name"])

	chg, err = cur.NextChange(ctx)
	require.NoError(t, err)
	require.Equal(t, reql.FeedReady, chg.State)
	require.Equal(t, reql.FeedReady, cur.FeedState())

	_, err = writer.RunWrite(ctx, reql.Table("docs").Get(0).Update(map[string]any{"name": "renamed"}))
	require.NoError(t, err)

	chg, err = cur.NextChange(ctx)
	require.NoError(t, err)
	require.True(t, chg.IsUpdate())
	require.Equal(t, reql.String("doc0"), chg.OldVal.(reql.Object)["name"])
	require.Equal(t, reql.String("renamed"), chg.NewVal.(reql.Object)["name"])
}

func TestChangefeed_NextWaitTimesOut(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)
	require.NoError(t, conn.Exec(ctx, reql.TableCreate("docs")))

	cur, err := conn.Run(ctx, reql.Table("docs").Changes())
	require.NoError(t, err)
	defer cur.Close()

	_, err = cur.NextWait(reql.WaitFor(50 * time.Millisecond))
	require.ErrorIs(t, err, reql.ErrTimeout)

	require.NoError(t, conn.Exec(ctx, reql.Table("docs").Insert(map[string]any{"id": 1})))
	chg, err := cur.NextChange(ctx)
	require.NoError(t, err)
	require.True(t, chg.IsInsert())
}

func TestChangefeed_CloseWhileWaiting(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)
	require.NoError(t, conn.Exec(ctx, reql.TableCreate("docs")))

	cur, err := conn.Run(ctx, reql.Table("docs").Changes())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := cur.Next(ctx)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, cur.Close())
	require.ErrorIs(t, <-errc, reql.ErrCursorClosed)

	d, err := conn.RunAtom(ctx, reql.Table("docs").Count())
	require.NoError(t, err)
	require.Equal(t, reql.Number(0), d)
}

func TestChangefeed_TableDropped(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)
	require.NoError(t, conn.Exec(ctx, reql.TableCreate("docs")))

	cur, err := conn.Run(ctx, reql.Table("docs").Changes())
	require.NoError(t, err)
	defer cur.Close()

	require.NoError(t, conn.Exec(ctx, reql.TableDrop("docs")))
	_, err = cur.Next(ctx)
	require.ErrorIs(t, err, reql.ErrChangefeedDisconnected)
	var cd *reql.ChangefeedDisconnectedError
	require.True(t, errors.As(err, &cd))
	require.Equal(t, reql.CursorErrored, cur.State())
}

func TestChangefeed_Squash(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)
	require.NoError(t, conn.Exec(ctx, reql.TableCreate("docs")))

	cur, err := conn.Run(ctx, reql.Table("docs").Changes(reql.ChangesOpts{Squash: 0.2}))
	require.NoError(t, err)
	defer cur.Close()

	for i := range 5 {
		require.NoError(t, conn.Exec(ctx, reql.Table("docs").Insert(map[string]any{"id": 1, "n": i}, reql.InsertOpts{Conflict: "replace"})))
	}
	chg, err := cur.NextChange(ctx)
	require.NoError(t, err)
	require.True(t, chg.IsInsert())
	require.Equal(t, reql.Number(4), chg.NewVal.(reql.Object)["n"])
}

func TestChangefeed_Limit(t *testing.T) {
	srv := startServer(t, testserver.Options{})
	conn := connect(t, srv)
	ctx := testCtx(t)
	require.NoError(t, conn.Exec(ctx, reql.TableCreate("docs")))

	cur, err := conn.Run(ctx, reql.Table("docs").Changes().Limit(1))
	require.NoError(t, err)
	defer cur.Close()

	require.NoError(t, conn.Exec(ctx, reql.Table("docs").Insert([]any{map[string]any{"id": 1}, map[string]any{"id": 2}})))
	chg, err := cur.NextChange(ctx)
	require.NoError(t, err)
	require.Equal(t, reql.Object{"id": reql.Number(1)}, chg.NewVal)
	_, err = cur.Next(ctx)
	require.ErrorIs(t, err, reql.ErrCursorEmpty)
}
