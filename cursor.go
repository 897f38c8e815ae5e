package reql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type CursorState int

const (
	CursorPending CursorState = iota
	CursorActive
	CursorExhausted
	CursorErrored
	CursorClosed
)

func (s CursorState) String() string {
	switch s {
	case CursorPending:
		return "pending"
	case CursorActive:
		return "active"
	case CursorExhausted:
		return "exhausted"
	case CursorErrored:
		return "errored"
	case CursorClosed:
		return "closed"
	default:
		return fmt.Sprintf("CursorState(%d)", int(s))
	}
}

// Cursor kinds reported by Cursor.Type.
const (
	CursorTypeAtom             = "atom"
	CursorTypeSequence         = "sequence"
	CursorTypeFeed             = "feed"
	CursorTypeAtomFeed         = "atom-feed"
	CursorTypeOrderByLimitFeed = "order-by-limit-feed"
	CursorTypeUnionedFeed      = "unioned-feed"
)

// WaitPolicy says how long NextWait blocks for the next item.
type WaitPolicy struct {
	d       time.Duration
	forever bool
}

var (
	WaitForever = WaitPolicy{forever: true}
	NoWait      = WaitPolicy{}
)

func WaitFor(d time.Duration) WaitPolicy {
	return WaitPolicy{d: d}
}

// Cursor iterates over the result of a query, fetching further batches on
// demand. Next may be called from several goroutines; calls are serialized.
// Close may be called at any time, including while Next is blocked.
type Cursor struct {
	sess *session
	p    *pending
	term Term
	fmts formats
	log  *slog.Logger
	sem  chan struct{}
	done chan struct{}

	mu        sync.Mutex
	state     CursorState
	typ       string
	states    bool
	atom      Datum
	hasAtom   bool
	buf       []Datum
	finished  bool
	fetching  bool
	err       error
	profile   Datum
	feedState FeedState
}

func newCursor(s *session, p *pending, t Term, f formats, log *slog.Logger) *Cursor {
	return &Cursor{
		sess:  s,
		p:     p,
		term:  t,
		fmts:  f,
		log:   log,
		sem:   make(chan struct{}, 1),
		done:  make(chan struct{}),
		state: CursorPending,
	}
}

// apply folds one response into the cursor. The caller holds mu, except for
// the first response, which arrives before the cursor is shared.
func (c *Cursor) apply(resp *Response) error {
	if resp.Type.IsError() {
		queryErrorsTotal.WithLabelValues(resp.Type.String()).Inc()
		c.fail(newResponseError(resp, c.term))
		return c.err
	}
	if c.state == CursorPending {
		c.typ = cursorType(resp)
		c.states = resp.hasNote(NoteIncludesStates)
		c.state = CursorActive
	}
	if resp.Profile != nil && c.profile == nil {
		if d, err := decodeDatum(resp.Profile, c.fmts); err == nil {
			c.profile = d
		}
	}

	items := make([]Datum, 0, len(resp.Results))
	for _, r := range resp.Results {
		d, err := decodeDatum(r, c.fmts)
		if err != nil {
			c.fail(fmt.Errorf("reql: decoding result: %w", err))
			return c.err
		}
		items = append(items, d)
	}

	switch resp.Type {
	case ResponseSuccessAtom:
		c.finished = true
		if len(items) != 1 {
			c.fail(fmt.Errorf("reql: atom response with %d results", len(items)))
			return c.err
		}
		c.atom, c.hasAtom = items[0], true
		if arr, ok := items[0].(Array); ok {
			c.buf = append(c.buf, arr...)
		} else {
			c.buf = append(c.buf, items[0])
		}
	case ResponseSuccessSequence:
		c.finished = true
		c.buf = append(c.buf, items...)
	case ResponseSuccessPartial:
		c.buf = append(c.buf, items...)
	default:
		c.fail(fmt.Errorf("reql: unexpected %v response to a query", resp.Type))
		return c.err
	}
	return nil
}

func cursorType(resp *Response) string {
	for _, n := range resp.Notes {
		switch n {
		case NoteSequenceFeed:
			return CursorTypeFeed
		case NoteAtomFeed:
			return CursorTypeAtomFeed
		case NoteOrderByLimitFeed:
			return CursorTypeOrderByLimitFeed
		case NoteUnionedFeed:
			return CursorTypeUnionedFeed
		}
	}
	if resp.Type == ResponseSuccessAtom {
		return CursorTypeAtom
	}
	return CursorTypeSequence
}

func (c *Cursor) fail(err error) {
	c.err = err
	c.state = CursorErrored
	c.finished = true
	c.buf = nil
}

func (c *Cursor) lock(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-c.done:
		return ErrCursorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cursor) unlock() {
	<-c.sem
}

// Next returns the next item. It returns ErrCursorEmpty once the result is
// exhausted, ErrCursorClosed after Close, the stored error of a failed query,
// or ctx.Err() when ctx ends first.
func (c *Cursor) Next(ctx context.Context) (Datum, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()
	for {
		c.mu.Lock()
		switch {
		case c.state == CursorClosed:
			c.mu.Unlock()
			return nil, ErrCursorClosed
		case c.state == CursorErrored:
			err := c.err
			c.mu.Unlock()
			return nil, err
		case len(c.buf) > 0:
			d := c.pop()
			c.mu.Unlock()
			return d, nil
		case c.finished:
			c.state = CursorExhausted
			c.mu.Unlock()
			return nil, ErrCursorEmpty
		}
		needContinue := !c.fetching
		c.fetching = true
		c.mu.Unlock()

		if needContinue {
			if err := c.sess.sendContinue(c.p.token); err != nil {
				c.mu.Lock()
				c.fetching = false
				if c.state != CursorClosed {
					c.fail(err)
				}
				c.mu.Unlock()
				return nil, err
			}
		}

		resp, err := c.p.wait(ctx, c.done)
		if err != nil {
			if errors.Is(err, ErrCursorClosed) || ctx.Err() != nil {
				// The CONTINUE stays outstanding; its response is picked up
				// by the next call.
				return nil, err
			}
			c.mu.Lock()
			c.fetching = false
			if c.state != CursorClosed {
				c.fail(err)
			}
			c.mu.Unlock()
			return nil, err
		}
		c.mu.Lock()
		c.fetching = false
		if c.state != CursorClosed {
			c.apply(resp)
		}
		c.mu.Unlock()
	}
}

func (c *Cursor) pop() Datum {
	d := c.buf[0]
	c.buf[0] = nil
	c.buf = c.buf[1:]
	if c.states {
		if st, ok := stateMarker(d); ok {
			c.feedState = st
		}
	}
	return d
}

// NextWait is Next with a wait policy instead of a context. When nothing
// arrives in time it returns a *TimeoutError, and the cursor stays usable.
func (c *Cursor) NextWait(w WaitPolicy) (Datum, error) {
	ctx := context.Background()
	var cancel context.CancelFunc
	switch {
	case w.forever:
	case w.d > 0:
		ctx, cancel = context.WithTimeout(ctx, w.d)
	default:
		ctx, cancel = context.WithCancel(ctx)
		cancel()
	}
	if cancel != nil {
		defer cancel()
	}
	d, err := c.Next(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		waited := ""
		if w.d > 0 {
			waited = w.d.String()
		}
		return nil, &TimeoutError{Waited: waited}
	}
	return d, err
}

// NextInto decodes the next item into dst, see Decode.
func (c *Cursor) NextInto(ctx context.Context, dst any) error {
	d, err := c.Next(ctx)
	if err != nil {
		return err
	}
	return Decode(d, dst)
}

// All collects the remaining items.
func (c *Cursor) All(ctx context.Context) (Array, error) {
	out := Array{}
	for {
		d, err := c.Next(ctx)
		if errors.Is(err, ErrCursorEmpty) {
			return out, nil
		} else if err != nil {
			return out, err
		}
		out = append(out, d)
	}
}

// One returns the first item and closes the cursor. An empty result gives
// ErrNoResult.
func (c *Cursor) One(ctx context.Context) (Datum, error) {
	defer c.Close()
	d, err := c.Next(ctx)
	if errors.Is(err, ErrCursorEmpty) {
		return nil, ErrNoResult
	}
	return d, err
}

// Atom returns the single value of an atom response. Atom arrays are also
// iterated element by element by Next.
func (c *Cursor) Atom() (Datum, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atom, c.hasAtom
}

// Close discards buffered items and, when the server may still hold state
// for the query, sends STOP. Closing twice is a no-op.
func (c *Cursor) Close() error {
	c.mu.Lock()
	if c.state == CursorClosed {
		c.mu.Unlock()
		return nil
	}
	stop := !c.finished
	c.state = CursorClosed
	c.buf = nil
	close(c.done)
	c.mu.Unlock()

	if !stop {
		return nil
	}
	if !c.sess.isOpen() {
		return nil
	}
	// The STOP reply ends the token; the reader discards it.
	err := c.sess.sendStop(c.p.token)
	if errors.Is(err, ErrConnectionClosed) {
		return nil
	} else if err != nil {
		c.log.Debug("reql: sending STOP failed", "token", c.p.token, "err", err)
	}
	return err
}

func (c *Cursor) State() CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that terminated the cursor, if any.
func (c *Cursor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Cursor) Type() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typ
}

func (c *Cursor) IsFeed() bool {
	switch c.Type() {
	case CursorTypeFeed, CursorTypeAtomFeed, CursorTypeOrderByLimitFeed, CursorTypeUnionedFeed:
		return true
	}
	return false
}

// Profile returns the profile of a query run with RunOpts.Profile.
func (c *Cursor) Profile() Datum {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// FeedState is the last state marker seen on a feed started with
// include_states.
func (c *Cursor) FeedState() FeedState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feedState
}

// NextChange returns the next changefeed item, classified.
func (c *Cursor) NextChange(ctx context.Context) (Change, error) {
	d, err := c.Next(ctx)
	if err != nil {
		return Change{}, err
	}
	return DecodeChange(d)
}
