package testserver

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/andreyvit/reql"
	"github.com/andreyvit/reql/internal/changefeed"
)

type feedKind int

const (
	tableFeed feedKind = iota
	pointFeed
	// requeryFeed re-evaluates a selection after every commit to its table
	// and reports the difference by primary key.
	requeryFeed
)

// feedSource is one CHANGES term contributing to a changefeed.
type feedSource struct {
	index   int
	kind    feedKind
	tableID string
	key     string

	term    reql.Term
	db      string
	vars    map[int64]reql.Datum
	ordered bool
	prev    map[string]reql.Datum
	order   []string

	// transforms are applied to every rendered change, each with its first
	// argument replaced by the items produced so far.
	transforms []reql.Term
	initial    []changefeed.Change
}

// feedVal is a changefeed value produced by evaluating a query.
type feedVal struct {
	note    reql.ResponseNote
	flags   changefeed.Flags
	opts    changefeed.Options
	sources []*feedSource
	limit   int
}

// subscription is a registered feed receiving committed changes.
type subscription struct {
	fv   *feedVal
	feed *changefeed.Feed
}

var errFeedStopped = errors.New("changefeed stopped")

func tableUnavailable() error {
	return opFailedErrf("Changefeed aborted (table unavailable).")
}

func (e *evaluator) evalFeed(t reql.Term) (any, bool, error) {
	if t.Kind() != reql.TermChanges {
		return nil, false, nil
	}
	v, err := e.changesFeed(t)
	return v, true, err
}

func (e *evaluator) changesFeed(t reql.Term) (any, error) {
	v, err := e.arg(t, 0)
	if err != nil {
		return nil, err
	}
	fv := &feedVal{limit: -1, opts: changefeed.Options{QueueSize: changefeed.DefaultQueueSize}}
	if err := e.feedOptions(t, fv); err != nil {
		return nil, err
	}
	initial := fv.flags.Contains(changefeed.FlagIncludeInitial)

	src := &feedSource{db: e.db, vars: maps.Clone(e.vars)}
	switch v := v.(type) {
	case *tableVal:
		src.kind, src.tableID = tableFeed, v.info.ID
		fv.note = reql.NoteSequenceFeed
		if initial {
			seq, err := e.scanTable(v.info, rangeOO())
			if err != nil {
				return nil, err
			}
			state, order, err := snapshot(seq)
			if err != nil {
				return nil, err
			}
			for _, key := range order {
				src.initial = append(src.initial, changefeed.Change{Key: key, New: state[key]})
			}
		}
	case *rowVal:
		key, err := primaryKey(v.key)
		if err != nil {
			return nil, withFrame(logicErrf("%v", err), 0)
		}
		src.kind, src.tableID, src.key = pointFeed, v.table.ID, string(key)
		fv.note = reql.NoteAtomFeed
		if initial {
			src.initial = []changefeed.Change{{Key: src.key, New: v.doc}}
		}
	case *seqVal:
		if v.table == nil {
			return nil, withFrame(logicErrf("Cannot call `changes` on a value of type %s.", typeName(v)), 0)
		}
		src.kind, src.tableID, src.term = requeryFeed, v.table.ID, t.Args()[0]
		src.ordered = isOrderByLimit(src.term)
		fv.note = reql.NoteSequenceFeed
		if src.ordered {
			fv.note = reql.NoteOrderByLimitFeed
		}
		if src.prev, src.order, err = snapshot(v); err != nil {
			return nil, err
		}
		if initial {
			for i, key := range src.order {
				chg := changefeed.Change{Key: key, New: src.prev[key]}
				if src.ordered {
					chg.NewOffset = &i
				}
				src.initial = append(src.initial, chg)
			}
		}
	default:
		return nil, withFrame(logicErrf("Cannot call `changes` on a value of type %s.", typeName(v)), 0)
	}
	if fv.flags.Contains(changefeed.FlagIncludeOffsets) && !src.ordered {
		return nil, logicErrf("Cannot include offsets for range subscriptions.")
	}
	fv.sources = []*feedSource{src}
	return fv, nil
}

func (e *evaluator) feedOptions(t reql.Term, fv *feedVal) error {
	for name, flag := range map[string]changefeed.Flags{
		"include_initial": changefeed.FlagIncludeInitial,
		"include_states":  changefeed.FlagIncludeStates,
		"include_types":   changefeed.FlagIncludeTypes,
		"include_offsets": changefeed.FlagIncludeOffsets,
	} {
		on, err := e.optBool(t, name, false)
		if err != nil {
			return err
		}
		if on {
			fv.flags |= flag
		}
	}

	squash, err := e.optDatum(t, "squash")
	if err != nil {
		return err
	}
	switch v := squash.(type) {
	case nil:
	case reql.Bool:
		fv.opts.Squash = bool(v)
	case reql.Number:
		if v < 0 {
			return withFrame(logicErrf("Expected BOOL or a positive NUMBER but found %s.", printDatum(v)), "squash")
		}
		fv.opts.Squash = true
		fv.opts.Window = seconds(float64(v))
	default:
		return withFrame(logicErrf("Expected BOOL or a positive NUMBER but found %s.", v.TypeName()), "squash")
	}
	if fv.opts.Squash {
		fv.flags |= changefeed.FlagSquash
	}

	qs, err := e.optDatum(t, "changefeed_queue_size")
	if err != nil {
		return err
	}
	if qs != nil {
		n, ok := qs.(reql.Number)
		if !ok || n < 1 || float64(n) != float64(int(n)) {
			return withFrame(logicErrf("Expected a positive integer for `changefeed_queue_size` but found %s.", printDatum(qs)), "changefeed_queue_size")
		}
		fv.opts.QueueSize = int(n)
	}
	return nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func isOrderByLimit(t reql.Term) bool {
	return t.Kind() == reql.TermLimit && len(t.Args()) > 0 && t.Args()[0].Kind() == reql.TermOrderBy
}

// snapshot indexes the documents of a selection by encoded primary key,
// also returning the keys in sequence order.
func snapshot(seq *seqVal) (map[string]reql.Datum, []string, error) {
	state := make(map[string]reql.Datum, len(seq.items))
	order := make([]string, 0, len(seq.items))
	for _, doc := range seq.items {
		obj, ok := doc.(reql.Object)
		if !ok {
			return nil, nil, logicErrf("Expected type OBJECT but found %s.", doc.TypeName())
		}
		key, err := primaryKey(obj[seq.table.PrimaryKey])
		if err != nil {
			return nil, nil, logicErrf("%v", err)
		}
		if _, dup := state[string(key)]; !dup {
			order = append(order, string(key))
		}
		state[string(key)] = doc
	}
	return state, order, nil
}

var feedTransforms = map[reql.TermKind]bool{
	reql.TermMap:        true,
	reql.TermFilter:     true,
	reql.TermConcatMap:  true,
	reql.TermPluck:      true,
	reql.TermWithout:    true,
	reql.TermMerge:      true,
	reql.TermBracket:    true,
	reql.TermGetField:   true,
	reql.TermWithFields: true,
	reql.TermHasFields:  true,
}

var feedTerminals = map[reql.TermKind]bool{
	reql.TermCount:    true,
	reql.TermReduce:   true,
	reql.TermFold:     true,
	reql.TermSum:      true,
	reql.TermAvg:      true,
	reql.TermMin:      true,
	reql.TermMax:      true,
	reql.TermDistinct: true,
	reql.TermIsEmpty:  true,
}

// transformFeed chains a streaming operation onto a changefeed. The
// operation runs on every change as it is delivered.
func (e *evaluator) transformFeed(t reql.Term, fv *feedVal) (any, error) {
	out := *fv
	switch {
	case t.Kind() == reql.TermLimit:
		n, err := e.argInt(t, 1)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, withFrame(logicErrf("LIMIT takes a non-negative argument (got %d)", n), 1)
		}
		if out.limit < 0 || n < out.limit {
			out.limit = n
		}
		return &out, nil
	case feedTerminals[t.Kind()]:
		return nil, logicErrf("Cannot call a terminal (`reduce`, `count`, etc.) on an infinite stream (such as a changefeed).")
	case !feedTransforms[t.Kind()]:
		return nil, logicErrf("Cannot call %s on a changefeed.", t.Kind())
	case fv.limit >= 0:
		return nil, logicErrf("Cannot call %s on a changefeed after LIMIT.", t.Kind())
	}
	out.sources = make([]*feedSource, len(fv.sources))
	for i, src := range fv.sources {
		c := *src
		c.transforms = append(slices.Clip(src.transforms), t)
		out.sources[i] = &c
	}
	return &out, nil
}

func (e *evaluator) unionFeeds(fvs []*feedVal) (any, error) {
	out := &feedVal{note: reql.NoteUnionedFeed, flags: fvs[0].flags, opts: fvs[0].opts, limit: -1}
	for i, fv := range fvs {
		if fv.limit >= 0 {
			return nil, withFrame(logicErrf("Cannot union a changefeed after LIMIT."), i)
		}
		for _, src := range fv.sources {
			c := *src
			c.index = len(out.sources)
			c.initial = slices.Clone(src.initial)
			for j := range c.initial {
				c.initial[j].Source = c.index
			}
			out.sources = append(out.sources, &c)
		}
	}
	return out, nil
}

// render turns a change into the object a feed returns.
func (fv *feedVal) render(chg changefeed.Change, initial bool) reql.Datum {
	if !initial {
		return chg.Datum(fv.flags)
	}
	obj := reql.Object{"new_val": orNull(chg.New)}
	if fv.flags.Contains(changefeed.FlagIncludeTypes) {
		obj["type"] = reql.String("initial")
	}
	if fv.flags.Contains(changefeed.FlagIncludeOffsets) && chg.NewOffset != nil {
		obj["new_offset"] = reql.Number(*chg.NewOffset)
	}
	return obj
}

func (fv *feedVal) transformed() bool {
	return slices.ContainsFunc(fv.sources, func(src *feedSource) bool { return len(src.transforms) > 0 })
}

// applyTransforms runs the streaming operations of src over one change.
func (e *evaluator) applyTransforms(src *feedSource, d reql.Datum) ([]reql.Datum, error) {
	cur := []reql.Datum{d}
	for _, tt := range src.transforms {
		if len(cur) == 0 {
			break
		}
		args := slices.Clone(tt.Args())
		args[0] = reql.Expr(reql.Array(cur))
		v, err := e.eval(reql.NewTerm(tt.Kind(), args, optArgs(tt)))
		if err != nil {
			return nil, err
		}
		seq, err := e.toSeq(v)
		if err != nil {
			return nil, err
		}
		cur = seq.items
	}
	return cur, nil
}

func stateItem(state reql.FeedState) reql.Datum {
	return reql.Object{"state": reql.String(state)}
}

// isNotice reports whether d is a state or overflow item; neither counts
// towards a feed's limit.
func isNotice(d reql.Datum) bool {
	obj, ok := d.(reql.Object)
	if !ok || len(obj) != 1 {
		return false
	}
	chg, err := reql.DecodeChange(obj)
	return err == nil && (chg.Kind == reql.ChangeState || chg.Kind == reql.ChangeSkipped)
}

// feedCursor streams a changefeed to one query token.
type feedCursor struct {
	s       *Server
	sub     *subscription
	pending []reql.Datum
	sent    int
	started bool
	closed  bool
}

// openFeed renders the initial items of fv. The caller subscribes the cursor
// before releasing execMu, so no commit slips between the initial state and
// the subscription.
func (e *evaluator) openFeed(fv *feedVal) (*feedCursor, error) {
	c := &feedCursor{s: e.s}
	states := fv.flags.Contains(changefeed.FlagIncludeStates)
	if states && fv.flags.Contains(changefeed.FlagIncludeInitial) {
		c.pending = append(c.pending, stateItem(reql.FeedInitializing))
	}
	for _, src := range fv.sources {
		for _, chg := range src.initial {
			items, err := e.applyTransforms(src, fv.render(chg, true))
			if err != nil {
				return nil, err
			}
			c.pending = append(c.pending, items...)
		}
		src.initial = nil
	}
	if states {
		c.pending = append(c.pending, stateItem(reql.FeedReady))
	}
	c.sub = &subscription{fv: fv, feed: changefeed.New(fv.opts)}
	return c, nil
}

// next returns the next batch. The first call returns the initial items
// without waiting; later calls block until a non-empty batch is available.
// done is set when a LIMIT has been reached.
func (c *feedCursor) next(ctx context.Context) (items []reql.Datum, done bool, err error) {
	for {
		if len(c.pending) > 0 || !c.started {
			c.started = true
			items, c.pending = c.pending, nil
			break
		}
		b, err := c.sub.feed.Next(ctx, false)
		if err != nil {
			c.close()
			return nil, true, err
		}
		if c.pending, err = c.s.renderBatch(ctx, c.sub, b); err != nil {
			c.close()
			return nil, true, err
		}
	}

	limit := c.sub.fv.limit
	if limit < 0 {
		return items, false, nil
	}
	for i, d := range items {
		if isNotice(d) {
			continue
		}
		if c.sent >= limit {
			items = items[:i]
			break
		}
		c.sent++
	}
	if c.sent >= limit {
		c.close()
		return items, true, nil
	}
	return items, false, nil
}

func (c *feedCursor) close() {
	if c.closed {
		return
	}
	c.closed = true
	c.s.unsubscribe(c.sub)
	c.sub.feed.Close(errFeedStopped)
}

// renderBatch converts buffered changes into feed items, reporting overflow
// first.
func (s *Server) renderBatch(ctx context.Context, sub *subscription, b changefeed.Batch) ([]reql.Datum, error) {
	var items []reql.Datum
	if b.Skipped > 0 {
		items = append(items, reql.Object{"error": reql.String(reql.SkippedMessage(b.Skipped))})
	}
	fv := sub.fv
	if !fv.transformed() {
		for _, chg := range b.Changes {
			items = append(items, fv.render(chg, false))
		}
		return items, nil
	}

	s.execMu.Lock()
	defer s.execMu.Unlock()
	tx, err := s.store.BeginTx(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for _, chg := range b.Changes {
		src := fv.sources[chg.Source]
		e := s.newEvaluator(ctx, tx, src.db)
		maps.Copy(e.vars, src.vars)
		out, err := e.applyTransforms(src, fv.render(chg, false))
		if err != nil {
			return nil, err
		}
		items = append(items, out...)
	}
	return items, nil
}

func (s *Server) subscribe(sub *subscription) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	s.feeds[sub] = struct{}{}
	activeFeeds.Inc()
}

func (s *Server) unsubscribe(sub *subscription) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if _, ok := s.feeds[sub]; ok {
		delete(s.feeds, sub)
		activeFeeds.Dec()
	}
}

func (s *Server) subscriptions() []*subscription {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	return slices.Collect(maps.Keys(s.feeds))
}

// publish delivers committed changes to subscribers and aborts the feeds of
// dropped tables. Called with execMu held, after the commit.
func (s *Server) publish(ctx context.Context, changes []pendingChange, dropped []*tableInfo) {
	subs := s.subscriptions()
	if len(subs) == 0 {
		return
	}
	gone := make(map[string]bool, len(dropped))
	for _, info := range dropped {
		gone[info.ID] = true
	}
	touched := make(map[string]bool)
	for _, pc := range changes {
		touched[pc.table.ID] = true
	}

	var tx storageTx
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()
	for _, sub := range subs {
		if slices.ContainsFunc(sub.fv.sources, func(src *feedSource) bool { return gone[src.tableID] }) {
			s.abort(sub, tableUnavailable())
			continue
		}
		for _, src := range sub.fv.sources {
			switch src.kind {
			case tableFeed, pointFeed:
				for _, pc := range changes {
					if pc.table.ID != src.tableID || pc.chg.IsNoop() {
						continue
					}
					if src.kind == pointFeed && pc.chg.Key != src.key {
						continue
					}
					chg := pc.chg
					chg.Source = src.index
					sub.feed.Push(chg)
				}
			case requeryFeed:
				if !touched[src.tableID] {
					continue
				}
				if tx == nil {
					var err error
					if tx, err = s.store.BeginTx(false); err != nil {
						s.log.Error("changefeed requery", "err", err)
						s.abort(sub, err)
						continue
					}
				}
				if err := s.requery(ctx, tx, sub, src); err != nil {
					s.abort(sub, err)
				}
			}
		}
	}
}

func (s *Server) abort(sub *subscription, err error) {
	s.unsubscribe(sub)
	sub.feed.Close(err)
}

// requery re-evaluates a selection feed and pushes the difference from its
// previous result.
func (s *Server) requery(ctx context.Context, tx storageTx, sub *subscription, src *feedSource) error {
	e := s.newEvaluator(ctx, tx, src.db)
	maps.Copy(e.vars, src.vars)
	v, err := e.eval(src.term)
	if err != nil {
		return err
	}
	seq, err := e.toSeq(v)
	if err != nil {
		return err
	}
	if seq.table == nil {
		return logicErrf("Changefeed selection is no longer a selection.")
	}
	state, order, err := snapshot(seq)
	if err != nil {
		return err
	}

	var oldPos, newPos map[string]int
	if src.ordered {
		oldPos, newPos = positions(src.order), positions(order)
	}
	at := func(pos map[string]int, key string) *int {
		if i, ok := pos[key]; ok {
			return &i
		}
		return nil
	}
	for _, key := range src.order {
		if _, ok := state[key]; !ok {
			sub.feed.Push(changefeed.Change{Source: src.index, Key: key, Old: src.prev[key], OldOffset: at(oldPos, key)})
		}
	}
	for _, key := range order {
		old, had := src.prev[key]
		if had && reql.Equal(old, state[key]) && (!src.ordered || oldPos[key] == newPos[key]) {
			continue
		}
		sub.feed.Push(changefeed.Change{
			Source:    src.index,
			Key:       key,
			Old:       old,
			New:       state[key],
			OldOffset: at(oldPos, key),
			NewOffset: at(newPos, key),
		})
	}
	src.prev, src.order = state, order
	return nil
}

func positions(keys []string) map[string]int {
	m := make(map[string]int, len(keys))
	for i, k := range keys {
		m[k] = i
	}
	return m
}

// closeFeeds ends every subscription, used on shutdown.
func (s *Server) closeFeeds(err error) {
	for _, sub := range s.subscriptions() {
		s.abort(sub, err)
	}
}
