package changefeed

import (
	"context"
	"time"
)

type Options struct {
	QueueSize int
	// Squash coalesces changes per document. With a zero Window, every read
	// returns what has accumulated so far.
	Squash bool
	Window time.Duration
}

// Batch is what one read of a feed returns. Skipped counts changes dropped
// on overflow before Changes were queued.
type Batch struct {
	Changes []Change
	Skipped int
}

func (b Batch) Empty() bool {
	return len(b.Changes) == 0 && b.Skipped == 0
}

// Feed is the buffer of one changefeed subscription. Push may be called from
// any goroutine; Next from one reader at a time.
type Feed struct {
	q    *Queue
	opts Options

	sq       *Squasher
	skipped  int
	deadline time.Time
}

func New(opts Options) *Feed {
	f := &Feed{q: NewQueue(opts.QueueSize), opts: opts}
	if opts.Squash {
		f.sq = NewSquasher()
	}
	return f
}

func (f *Feed) Push(chg Change) {
	f.q.Push(chg)
}

// Close ends the feed. Next returns err once the buffered changes are read.
func (f *Feed) Close(err error) {
	f.q.Close(err)
}

// Next blocks until a batch is available. An immediate read flushes squashed
// changes without waiting for the window to pass.
func (f *Feed) Next(ctx context.Context, immediate bool) (Batch, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		items, skipped, err := f.q.Take()
		if f.sq == nil {
			if len(items) > 0 || skipped > 0 {
				return Batch{Changes: items, Skipped: skipped}, nil
			}
			if err != nil {
				return Batch{}, err
			}
		} else {
			for _, chg := range items {
				f.sq.Add(chg)
			}
			f.skipped += skipped
			if f.sq.Len() > 0 || f.skipped > 0 {
				now := time.Now()
				if f.deadline.IsZero() {
					f.deadline = now.Add(f.opts.Window)
				}
				if immediate || err != nil || f.opts.Window <= 0 || !now.Before(f.deadline) {
					if b := f.flush(); !b.Empty() {
						return b, nil
					}
					continue
				}
				if timer == nil {
					timer = time.NewTimer(f.deadline.Sub(now))
				} else {
					timer.Reset(f.deadline.Sub(now))
				}
			} else if err != nil {
				return Batch{}, err
			}
		}

		var expired <-chan time.Time
		if timer != nil {
			expired = timer.C
		}
		select {
		case <-f.q.Ready():
		case <-expired:
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		}
	}
}

func (f *Feed) flush() Batch {
	b := Batch{Changes: f.sq.Flush(), Skipped: f.skipped}
	f.skipped = 0
	f.deadline = time.Time{}
	return b
}
