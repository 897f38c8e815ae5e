package changefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/reql"
)

func doc(id, v string) reql.Datum {
	return reql.Object{"id": reql.String(id), "v": reql.String(v)}
}

func TestFlags_Contains(t *testing.T) {
	f := FlagIncludeStates | FlagSquash
	if !f.Contains(FlagSquash) || !f.ContainsAny(FlagIncludeInitial|FlagIncludeStates) {
		t.Fatalf("Contains/ContainsAny returned unexpected values for %v", f)
	}
	if f.Contains(FlagIncludeTypes) || f.ContainsAny(0) {
		t.Fatalf("Contains/ContainsAny returned unexpected values for %v", f)
	}
}

func TestChange_Op(t *testing.T) {
	require.Equal(t, OpInsert, Change{New: doc("1", "a")}.Op())
	require.Equal(t, OpDelete, Change{Old: doc("1", "a")}.Op())
	require.Equal(t, OpUpdate, Change{Old: doc("1", "a"), New: doc("1", "b")}.Op())
	require.Equal(t, OpNone, Change{}.Op())
	require.True(t, Change{Old: doc("1", "a"), New: doc("1", "a")}.IsNoop())
	require.Equal(t, "invalid op 42", Op(42).String())

	obj := Change{New: doc("1", "a")}.Datum(FlagIncludeTypes)
	require.Equal(t, reql.NullDatum, obj["old_val"])
	require.Equal(t, reql.String("add"), obj["type"])
}

func TestSquasher_KeepsOldestOldAndNewestNew(t *testing.T) {
	s := NewSquasher()
	s.Add(Change{Key: "1", Old: doc("1", "a"), New: doc("1", "b")})
	s.Add(Change{Key: "2", New: doc("2", "x")})
	s.Add(Change{Key: "1", Old: doc("1", "b"), New: doc("1", "c")})
	s.Add(Change{Key: "2", Old: doc("2", "x")})

	got := s.Flush()
	require.Len(t, got, 1)
	require.Equal(t, "1", got[0].Key)
	require.Equal(t, doc("1", "a"), got[0].Old)
	require.Equal(t, doc("1", "c"), got[0].New)
	require.Zero(t, s.Len())
	require.Nil(t, s.Flush())
}

func TestSquasher_SeparatesSources(t *testing.T) {
	s := NewSquasher()
	s.Add(Change{Source: 0, Key: "1", New: doc("1", "a")})
	s.Add(Change{Source: 1, Key: "1", New: doc("1", "b")})
	s.Add(Change{Source: 0, Key: "1", Old: doc("1", "a"), New: doc("1", "c")})

	got := s.Flush()
	require.Len(t, got, 2)
	require.Equal(t, 0, got[0].Source)
	require.Nil(t, got[0].Old)
	require.Equal(t, doc("1", "c"), got[0].New)
	require.Equal(t, 1, got[1].Source)
	require.Equal(t, doc("1", "b"), got[1].New)
}

func TestChange_DatumOffsets(t *testing.T) {
	two := 2
	chg := Change{Key: "1", New: doc("1", "a"), NewOffset: &two}

	obj := chg.Datum(FlagIncludeOffsets)
	require.Equal(t, reql.Null{}, obj["old_offset"])
	require.Equal(t, reql.Number(2), obj["new_offset"])

	obj = chg.Datum(0)
	require.NotContains(t, obj, "new_offset")
}

func TestQueue_OverflowCountsSkipped(t *testing.T) {
	q := NewQueue(3)
	for i := range 5 {
		q.Push(Change{Key: string(rune('a' + i))})
	}
	items, skipped, err := q.Take()
	require.NoError(t, err)
	require.Equal(t, 2, skipped)
	require.Len(t, items, 3)
	require.Equal(t, "c", items[0].Key)

	_, skipped, _ = q.Take()
	require.Zero(t, skipped)
}

func TestQueue_CloseAfterDrain(t *testing.T) {
	q := NewQueue(0)
	q.Push(Change{Key: "a"})
	boom := errors.New("gone")
	q.Close(boom)
	q.Push(Change{Key: "b"})

	items, _, err := q.Take()
	require.NoError(t, err)
	require.Len(t, items, 1)
	_, _, err = q.Take()
	require.ErrorIs(t, err, boom)
}

func TestFeed_Unsquashed(t *testing.T) {
	f := New(Options{})
	f.Push(Change{Key: "1", New: doc("1", "a")})
	f.Push(Change{Key: "1", Old: doc("1", "a"), New: doc("1", "b")})

	b, err := f.Next(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, b.Changes, 2)
}

func TestFeed_SquashImmediate(t *testing.T) {
	f := New(Options{Squash: true})
	f.Push(Change{Key: "1", New: doc("1", "a")})
	f.Push(Change{Key: "1", Old: doc("1", "a"), New: doc("1", "b")})
	f.Push(Change{Key: "2", New: doc("2", "a")})
	f.Push(Change{Key: "2", Old: doc("2", "a")})

	b, err := f.Next(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, b.Changes, 1)
	require.Nil(t, b.Changes[0].Old)
	require.Equal(t, doc("1", "b"), b.Changes[0].New)
}

func TestFeed_SquashWindowWaits(t *testing.T) {
	f := New(Options{Squash: true, Window: 50 * time.Millisecond})
	f.Push(Change{Key: "1", New: doc("1", "a")})

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Push(Change{Key: "1", Old: doc("1", "a"), New: doc("1", "b")})
	}()

	start := time.Now()
	b, err := f.Next(context.Background(), false)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	require.Len(t, b.Changes, 1)
	require.Equal(t, doc("1", "b"), b.Changes[0].New)
}

func TestFeed_ImmediateReadSkipsWindow(t *testing.T) {
	f := New(Options{Squash: true, Window: time.Hour})
	f.Push(Change{Key: "1", New: doc("1", "a")})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := f.Next(ctx, true)
	require.NoError(t, err)
	require.Len(t, b.Changes, 1)
}

func TestFeed_OverflowReported(t *testing.T) {
	f := New(Options{QueueSize: 2})
	for i := range 4 {
		f.Push(Change{Key: string(rune('a' + i)), New: doc("x", "y")})
	}
	b, err := f.Next(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 2, b.Skipped)
	require.Len(t, b.Changes, 2)
}

func TestFeed_CloseAndCancel(t *testing.T) {
	f := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Next(ctx, false)
	require.ErrorIs(t, err, context.Canceled)

	boom := errors.New("table dropped")
	f.Close(boom)
	_, err = f.Next(context.Background(), false)
	require.ErrorIs(t, err, boom)
}
