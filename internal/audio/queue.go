package audio

import (
	"context"
	"sync/atomic"
	"time"
)

// Queue is a bounded single-producer/single-consumer frame queue. When full,
// Push discards the oldest queued frame so the consumer always sees the most
// recent audio.
type Queue struct {
	ch      chan Frame
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity frames.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Frame, capacity)}
}

// Push enqueues f, evicting the oldest frame on overflow.
func (q *Queue) Push(f Frame) {
	for {
		select {
		case q.ch <- f:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop blocks until a frame is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// TryPop returns the next frame without blocking.
func (q *Queue) TryPop() (Frame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
		return Frame{}, false
	}
}

// Drain discards every queued frame, e.g. after a source restart.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped returns how many frames were evicted on overflow.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Pump polls src every interval and pushes each available frame into q
// until ctx is cancelled.
func Pump(ctx context.Context, src Source, q *Queue, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if f, ok := src.Frame(); ok {
				q.Push(f)
			}
		}
	}
}
