package workflow

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Handle tracks one submitted task. Completion is signalled on Done; Err is
// valid only after Done is closed.
type Handle struct {
	RunID uuid.UUID

	done chan struct{}
	err  error
}

// Done returns a channel closed when the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's error. Call only after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

// Wait blocks until the task finishes or the context is cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type task struct {
	fn     func() error
	handle *Handle
}

// KeyedLimiter serializes tasks sharing a key (limit 1, FIFO) while tasks for
// distinct keys run in parallel, bounded by a global worker pool.
type KeyedLimiter struct {
	pool *semaphore.Weighted
	wg   sync.WaitGroup

	mu     sync.Mutex
	queues map[string][]*task
}

// NewKeyedLimiter creates a limiter with the given worker pool size.
func NewKeyedLimiter(workers int64) *KeyedLimiter {
	if workers < 1 {
		workers = 1
	}
	return &KeyedLimiter{
		pool:   semaphore.NewWeighted(workers),
		queues: make(map[string][]*task),
	}
}

// Submit enqueues fn under key and returns immediately. If a task for the key
// is running, fn waits its turn; it is never dropped and never overlaps the
// running task. Submission order per key is preserved.
func (l *KeyedLimiter) Submit(key string, fn func() error) *Handle {
	t := &task{fn: fn, handle: &Handle{done: make(chan struct{})}}

	l.mu.Lock()
	queue, active := l.queues[key]
	if active {
		l.queues[key] = append(queue, t)
		l.mu.Unlock()
		return t.handle
	}
	l.queues[key] = nil
	l.mu.Unlock()

	l.wg.Add(1)
	go l.drain(key, t)
	return t.handle
}

// drain runs the head task for key, then pulls queued tasks until the key is
// idle. Exactly one drain goroutine exists per active key.
func (l *KeyedLimiter) drain(key string, t *task) {
	defer l.wg.Done()
	for t != nil {
		if err := l.pool.Acquire(context.Background(), 1); err != nil {
			t.handle.err = err
			close(t.handle.done)
			return
		}
		t.handle.err = t.fn()
		l.pool.Release(1)
		close(t.handle.done)

		l.mu.Lock()
		queue := l.queues[key]
		if len(queue) == 0 {
			delete(l.queues, key)
			t = nil
		} else {
			t = queue[0]
			l.queues[key] = queue[1:]
		}
		l.mu.Unlock()
	}
}

// Wait blocks until every submitted task has finished. Used on shutdown.
func (l *KeyedLimiter) Wait() {
	l.wg.Wait()
}
