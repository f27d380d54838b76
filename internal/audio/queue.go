package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Put and Get once the queue is closed.
var ErrQueueClosed = errors.New("frame queue is closed")

// FrameQueue is an unbounded FIFO hand-off between the paced emitter
// (producer) and the transport send path (consumer). Get blocks until a
// frame is available, the context is cancelled, or the queue is closed.
// Single producer, single consumer; frames are never reordered or dropped.
type FrameQueue struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	signal chan struct{}
}

// NewFrameQueue creates an empty queue.
func NewFrameQueue() *FrameQueue {
	return &FrameQueue{
		signal: make(chan struct{}, 1),
	}
}

// Put appends a frame.
func (q *FrameQueue) Put(f Frame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Get removes and returns the oldest frame, blocking until one is available.
// Frames already queued are still delivered after Close.
func (q *FrameQueue) Get(ctx context.Context) (Frame, error) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			f := q.frames[0]
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return f, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Frame{}, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Close marks the queue closed and wakes any blocked Get.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}
