package server

import (
	"sync"
)

// outboundQueue is a bounded per-connection send queue. A slow or dead
// client can never block the session's read loop or other sessions:
// when the queue is full the oldest frame is dropped and the connection
// is flagged so the writer closes it for a clean client reconnect.
type outboundQueue struct {
	mu      sync.Mutex
	items   [][]byte
	max     int
	dropped bool
	signal  chan struct{}
}

func newOutboundQueue(max int) *outboundQueue {
	if max <= 0 {
		max = 64
	}
	return &outboundQueue{
		max:    max,
		signal: make(chan struct{}, 1),
	}
}

// push enqueues a frame, dropping the oldest when full.
func (q *outboundQueue) push(frame []byte) {
	q.mu.Lock()
	if len(q.items) >= q.max {
		q.items = q.items[1:]
		q.dropped = true
	}
	q.items = append(q.items, frame)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// drain removes and returns all queued frames.
func (q *outboundQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// overflowed reports whether any frame was ever dropped.
func (q *outboundQueue) overflowed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
