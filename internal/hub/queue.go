package hub

import (
	"sync"
	"sync/atomic"
)

// sendQueue is a byte-bounded FIFO of outbound frames.
//
// Enqueue never blocks, so fan-out under a router lock never waits on a slow
// socket.
type sendQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxBytes int
	curBytes int
	frames   []Frame

	drops atomic.Uint64
}

func newSendQueue(maxBytes int) *sendQueue {
	q := &sendQueue{maxBytes: maxBytes}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *sendQueue) DropCount() uint64 {
	return q.drops.Load()
}

// Enqueue appends frame if the queue is open and the frame fits within the
// byte budget.
func (q *sendQueue) Enqueue(frame Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.curBytes+len(frame.Data) > q.maxBytes {
		q.drops.Add(1)
		return false
	}

	q.frames = append(q.frames, frame)
	q.curBytes += len(frame.Data)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until a frame is available or the queue is closed and empty.
func (q *sendQueue) Dequeue() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.frames) == 0 {
		return Frame{}, false
	}
	frame := q.frames[0]
	q.frames[0] = Frame{}
	q.frames = q.frames[1:]
	q.curBytes -= len(frame.Data)
	return frame, true
}

// Close discards pending frames and wakes the consumer. It is a no-op once
// the queue has been closed, so a final frame queued by CloseWith survives.
func (q *sendQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.frames = nil
		q.curBytes = 0
	}
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// CloseWith stops accepting frames but lets the consumer drain what is
// already queued followed by final, regardless of the byte budget.
func (q *sendQueue) CloseWith(final Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.closed = true
	q.frames = append(q.frames, final)
	q.curBytes += len(final.Data)
	q.notEmpty.Broadcast()
	return true
}

func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
