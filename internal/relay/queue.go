package relay

import "sync"

// sendQueue is a byte-bounded FIFO of encoded frames waiting for the write
// pump. Enqueue never blocks; Ready fires whenever frames may be available.
type sendQueue struct {
	mu       sync.Mutex
	closed   bool
	maxBytes int
	curBytes int
	frames   [][]byte

	ready chan struct{}
}

func newSendQueue(maxBytes int) *sendQueue {
	return &sendQueue{maxBytes: maxBytes, ready: make(chan struct{}, 1)}
}

// Enqueue appends frame if it fits within the byte budget.
func (q *sendQueue) Enqueue(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.curBytes+len(frame) > q.maxBytes {
		return false
	}
	q.frames = append(q.frames, frame)
	q.curBytes += len(frame)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Dequeue pops the oldest frame without blocking.
func (q *sendQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	q.curBytes -= len(frame)
	return frame, true
}

func (q *sendQueue) Ready() <-chan struct{} { return q.ready }

func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.curBytes = 0
	q.mu.Unlock()
}
