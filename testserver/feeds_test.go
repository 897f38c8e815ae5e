package testserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/reql"
)

func openFeedQuery(t testing.TB, s *Server, term reql.Term) *feedCursor {
	t.Helper()
	res := run(t, s, term)
	require.NotNil(t, res.feed, "query did not return a changefeed")
	t.Cleanup(res.feed.close)
	return res.feed
}

func nextItems(t testing.TB, c *feedCursor) ([]reql.Datum, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	items, done, err := c.next(ctx)
	require.NoError(t, err)
	return items, done
}

func change(old, new reql.Datum) reql.Datum {
	if old == nil {
		old = reql.NullDatum
	}
	if new == nil {
		new = reql.NullDatum
	}
	return reql.Object{"old_val": old, "new_val": new}
}

func user(id string, age int) reql.Object {
	return reql.Object{"id": reql.String(id), "age": reql.Number(age)}
}

func TestFeed_TableChanges(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("users"))
	c := openFeedQuery(t, s, reql.Table("users").Changes())

	items, done := nextItems(t, c)
	require.Empty(t, items)
	require.False(t, done)

	run(t, s, reql.Table("users").Insert(map[string]any{"id": "a", "age": 1}))
	items, _ = nextItems(t, c)
	require.Equal(t, []reql.Datum{change(nil, user("a", 1))}, items)

	run(t, s, reql.Table("users").Get("a").Update(map[string]any{"age": 2}))
	run(t, s, reql.Table("users").Get("a").Delete())
	items, _ = nextItems(t, c)
	require.Equal(t, []reql.Datum{
		change(user("a", 1), user("a", 2)),
		change(user("a", 2), nil),
	}, items)
}

func TestFeed_OwnWritesNotReplayed(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("users"))
	run(t, s, reql.Table("users").Insert(map[string]any{"id": "a", "age": 1}))

	c := openFeedQuery(t, s, reql.Table("users").Changes(reql.ChangesOpts{IncludeInitial: true}))
	items, _ := nextItems(t, c)
	require.Equal(t, []reql.Datum{reql.Object{"new_val": user("a", 1)}}, items)

	run(t, s, reql.Table("users").Insert(map[string]any{"id": "b", "age": 2}))
	items, _ = nextItems(t, c)
	require.Equal(t, []reql.Datum{change(nil, user("b", 2))}, items)
}

func TestFeed_States(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("users"))
	run(t, s, reql.Table("users").Insert(map[string]any{"id": "a", "age": 1}))

	res := run(t, s, reql.Table("users").Changes(reql.ChangesOpts{IncludeInitial: true, IncludeStates: true, IncludeTypes: true}))
	t.Cleanup(res.feed.close)
	require.Contains(t, res.notes, reql.NoteIncludesStates)
	require.Contains(t, res.notes, reql.NoteSequenceFeed)

	items, _ := nextItems(t, res.feed)
	require.Equal(t, []reql.Datum{
		reql.Object{"state": reql.String("initializing")},
		reql.Object{"new_val": user("a", 1), "type": reql.String("initial")},
		reql.Object{"state": reql.String("ready")},
	}, items)
}

func TestFeed_Point(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("users"))
	run(t, s, reql.Table("users").Insert([]any{
		map[string]any{"id": "a", "age": 1},
		map[string]any{"id": "b", "age": 1},
	}))

	res := run(t, s, reql.Table("users").Get("a").Changes(reql.ChangesOpts{IncludeInitial: true}))
	t.Cleanup(res.feed.close)
	require.Equal(t, []reql.ResponseNote{reql.NoteAtomFeed}, res.notes)

	items, _ := nextItems(t, res.feed)
	require.Equal(t, []reql.Datum{reql.Object{"new_val": user("a", 1)}}, items)

	run(t, s, reql.Table("users").Get("b").Update(map[string]any{"age": 5}))
	run(t, s, reql.Table("users").Get("a").Update(map[string]any{"age": 6}))
	items, _ = nextItems(t, res.feed)
	require.Equal(t, []reql.Datum{change(user("a", 1), user("a", 6))}, items)
}

func TestFeed_Squash(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("users"))
	c := openFeedQuery(t, s, reql.Table("users").Changes(reql.ChangesOpts{Squash: true}))
	nextItems(t, c)

	run(t, s, reql.Table("users").Insert(map[string]any{"id": "a", "age": 1}))
	run(t, s, reql.Table("users").Get("a").Update(map[string]any{"age": 2}))
	run(t, s, reql.Table("users").Insert(map[string]any{"id": "b", "age": 1}))
	run(t, s, reql.Table("users").Get("b").Delete())

	items, _ := nextItems(t, c)
	require.Equal(t, []reql.Datum{change(nil, user("a", 2))}, items)
}

func TestFeed_QueueOverflow(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("users"))
	c := openFeedQuery(t, s, reql.Table("users").Changes(reql.ChangesOpts{ChangefeedQueueSize: 2}))
	nextItems(t, c)

	for i := range 5 {
		run(t, s, reql.Table("users").Insert(map[string]any{"id": i, "age": i}))
	}
	items, _ := nextItems(t, c)
	require.Len(t, items, 3)
	require.Equal(t, reql.Object{"error": reql.String(reql.SkippedMessage(3))}, items[0])
	require.Equal(t, change(nil, reql.Object{"id": reql.Number(3), "age": reql.Number(3)}), items[1])
}

func TestFeed_LimitSkipsOverflowNotice(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("users"))
	c := openFeedQuery(t, s, reql.Table("users").Changes(reql.ChangesOpts{ChangefeedQueueSize: 2}).Limit(2))
	nextItems(t, c)

	for i := range 5 {
		run(t, s, reql.Table("users").Insert(map[string]any{"id": i, "age": i}))
	}
	items, done := nextItems(t, c)
	require.True(t, done)
	require.Len(t, items, 3)
	require.Equal(t, reql.Object{"error": reql.String(reql.SkippedMessage(3))}, items[0])
	require.Equal(t, change(nil, reql.Object{"id": reql.Number(4), "age": reql.Number(4)}), items[2])
}

func TestFeed_TableDropAborts(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("users"))
	c := openFeedQuery(t, s, reql.Table("users").Changes())
	nextItems(t, c)

	run(t, s, reql.TableDrop("users"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, done, err := c.next(ctx)
	require.True(t, done)
	var qe *queryError
	require.True(t, errors.As(err, &qe), "got %v", err)
	require.Equal(t, reql.ErrorOpFailed, qe.ErrType)
	require.Equal(t, "Changefeed aborted (table unavailable).", qe.Msg)
	require.Empty(t, s.subscriptions())
}

func TestFeed_OrderByLimitOffsets(t *testing.T) {
	s := setup(t)
	createUsers(t, s)

	top := reql.Table("users").OrderBy(reql.Desc("age")).Limit(2)
	res := run(t, s, top.Changes(reql.ChangesOpts{IncludeInitial: true, IncludeOffsets: true}))
	t.Cleanup(res.feed.close)
	require.Equal(t, []reql.ResponseNote{reql.NoteOrderByLimitFeed}, res.notes)

	items, _ := nextItems(t, res.feed)
	require.Len(t, items, 2)
	require.Equal(t, reql.Number(0), items[0].(reql.Object)["new_offset"])
	require.Equal(t, reql.String("carol"), items[0].(reql.Object)["new_val"].(reql.Object)["id"])

	// bob overtakes carol and pushes alice out of the top two.
	run(t, s, reql.Table("users").Get("bob").Update(map[string]any{"age": 50}))
	items, _ = nextItems(t, res.feed)
	byKey := map[string]reql.Object{}
	for _, d := range items {
		obj := d.(reql.Object)
		val := obj["new_val"]
		if val == reql.NullDatum {
			val = obj["old_val"]
		}
		byKey[string(val.(reql.Object)["id"].(reql.String))] = obj
	}
	require.Equal(t, reql.Number(0), byKey["bob"]["new_offset"])
	require.Equal(t, reql.NullDatum, byKey["bob"]["old_offset"])
	require.Equal(t, reql.Number(1), byKey["carol"]["new_offset"])
	require.Equal(t, reql.Number(0), byKey["carol"]["old_offset"])
	require.Equal(t, reql.Number(1), byKey["alice"]["old_offset"])
	require.Equal(t, reql.NullDatum, byKey["alice"]["new_offset"])
}

func TestFeed_OffsetsNeedOrderByLimit(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("users"))
	qe := runErr(t, s, reql.Table("users").Changes(reql.ChangesOpts{IncludeOffsets: true}))
	require.Equal(t, "Cannot include offsets for range subscriptions.", qe.Msg)
}

func TestFeed_TransformsAndLimit(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("users"))

	feed := reql.Table("users").Changes().
		Filter(reql.Func1(func(chg reql.Term) reql.Term { return chg.Field("new_val").Field("age").Gt(10) })).
		Map(reql.Func1(func(chg reql.Term) reql.Term { return chg.Field("new_val").Field("id") })).
		Limit(2)
	c := openFeedQuery(t, s, feed)
	nextItems(t, c)

	run(t, s, reql.Table("users").Insert([]any{
		map[string]any{"id": "kid", "age": 5},
		map[string]any{"id": "adult", "age": 30},
	}))
	items, done := nextItems(t, c)
	require.Equal(t, []reql.Datum{reql.String("adult")}, items)
	require.False(t, done)

	run(t, s, reql.Table("users").Insert(map[string]any{"id": "elder", "age": 80}))
	items, done = nextItems(t, c)
	require.Equal(t, []reql.Datum{reql.String("elder")}, items)
	require.True(t, done)
	require.Empty(t, s.subscriptions())
}

func TestFeed_TerminalRejected(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("users"))
	qe := runErr(t, s, reql.Table("users").Changes().Count())
	require.Equal(t, "Cannot call a terminal (`reduce`, `count`, etc.) on an infinite stream (such as a changefeed).", qe.Msg)
}

func TestFeed_Union(t *testing.T) {
	s := setup(t)
	run(t, s, reql.TableCreate("a"))
	run(t, s, reql.TableCreate("b"))

	res := run(t, s, reql.Table("a").Changes().Union(reql.Table("b").Changes()))
	t.Cleanup(res.feed.close)
	require.Equal(t, []reql.ResponseNote{reql.NoteUnionedFeed}, res.notes)
	nextItems(t, res.feed)

	run(t, s, reql.Table("b").Insert(map[string]any{"id": 1}))
	items, _ := nextItems(t, res.feed)
	require.Equal(t, []reql.Datum{change(nil, reql.Object{"id": reql.Number(1)})}, items)
}

func TestFeed_ServerCloseEndsFeeds(t *testing.T) {
	s, err := New(Options{})
	require.NoError(t, err)
	run(t, s, reql.TableCreate("users"))
	c := openFeedQuery(t, s, reql.Table("users").Changes())
	nextItems(t, c)

	require.NoError(t, s.Close())
	_, done, err := c.next(context.Background())
	require.True(t, done)
	require.ErrorIs(t, err, ErrServerClosed)
}
