package changefeed

import "sync"

const DefaultQueueSize = 100000

// Queue holds changes between the writer and a slow reader. When full, the
// oldest change is dropped and counted; the count is handed to the next Take.
type Queue struct {
	mu      sync.Mutex
	limit   int
	items   []Change
	skipped int
	err     error
	ready   chan struct{}
}

func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultQueueSize
	}
	return &Queue{limit: limit, ready: make(chan struct{}, 1)}
}

// Push appends chg. It never blocks. Pushing to a closed queue does nothing.
func (q *Queue) Push(chg Change) {
	q.mu.Lock()
	if q.err != nil {
		q.mu.Unlock()
		return
	}
	if len(q.items) >= q.limit {
		n := len(q.items) - q.limit + 1
		clear(q.items[:n])
		q.items = q.items[n:]
		q.skipped += n
	}
	q.items = append(q.items, chg)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Take removes all queued changes and returns them with the number of
// changes dropped since the previous Take.
func (q *Queue) Take() (items []Change, skipped int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, q.items = q.items, nil
	skipped, q.skipped = q.skipped, 0
	if len(items) == 0 && skipped == 0 {
		err = q.err
	}
	return items, skipped, err
}

// Ready is signalled after pushes and on Close. A signal may be stale, so
// the receiver has to Take and check.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close ends the queue with err. Changes already queued are still returned
// by Take before err is.
func (q *Queue) Close(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()
	q.signal()
}
