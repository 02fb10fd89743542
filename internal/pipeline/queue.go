package pipeline

import (
	"context"
	"sync"
)

// FrameQueue hands completed frames from the driver callback thread to the
// single pulling consumer, preserving completion order.
//
// Push never blocks: when a bound is configured and reached, the policy
// decides which frame to drop. Pull blocks until a frame arrives, the
// queue closes, or the caller's context ends. After Close, pending and
// subsequent Pulls drain the remaining frames before returning ErrStopped.
type FrameQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	frames   []Frame
	capacity int
	policy   QueuePolicy
	closed   bool
	dropped  uint64
}

// NewFrameQueue creates a queue bounded to capacity frames under the given
// policy. With PolicyUnbounded the capacity is ignored.
func NewFrameQueue(capacity int, policy QueuePolicy) *FrameQueue {
	q := &FrameQueue{capacity: capacity, policy: policy}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a frame and wakes one waiting consumer. It reports whether
// the frame was admitted; a frame refused by PolicyDropNewest or by a
// closed queue is discarded.
func (q *FrameQueue) Push(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if q.policy != PolicyUnbounded && q.capacity > 0 && len(q.frames) >= q.capacity {
		switch q.policy {
		case PolicyDropNewest:
			q.dropped++
			return false
		default: // PolicyDropOldest
			q.frames[0] = Frame{}
			q.frames = q.frames[1:]
			q.dropped++
		}
	}

	q.frames = append(q.frames, f)
	q.cond.Signal()
	return true
}

// Pull removes and returns the oldest frame, blocking until one is
// available. It returns ErrStopped once the queue is closed and empty, or
// the context error if ctx ends first.
func (q *FrameQueue) Pull(ctx context.Context) (Frame, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	// A context ending while we wait must wake the cond loop.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.frames) == 0 {
		if q.closed {
			return Frame{}, ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		q.cond.Wait()
	}

	f := q.frames[0]
	q.frames[0] = Frame{}
	q.frames = q.frames[1:]
	return f, nil
}

// Close stops admission and wakes every waiter. Idempotent. Frames already
// queued remain pullable.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the current queue depth.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped reports how many frames the bound policy has discarded.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
