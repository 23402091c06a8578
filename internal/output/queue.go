package output

import (
	"io"
)

// writeQueue hands writes to a background goroutine so callers never block
// on the destination. It drops writes once size items are pending.
type writeQueue struct {
	ch      chan []byte
	dst     io.WriteCloser
	onError func(error)
	done    chan struct{}
}

func newWriteQueue(dst io.WriteCloser, size int, onError func(error)) *writeQueue {
	q := &writeQueue{
		ch:      make(chan []byte, size),
		dst:     dst,
		onError: onError,
		done:    make(chan struct{}),
	}
	go q.drain()
	return q
}

// push copies p onto the queue. It returns false if the queue is full.
// The caller serializes push and close.
func (q *writeQueue) push(p []byte) bool {
	buf := make([]byte, len(p))
	copy(buf, p)

	select {
	case q.ch <- buf:
		return true
	default:
		return false
	}
}

// close stops accepting writes; pending writes are still flushed
func (q *writeQueue) close() {
	close(q.ch)
}

func (q *writeQueue) drain() {
	defer close(q.done)

	failed := false
	for p := range q.ch {
		if failed {
			continue
		}
		if _, err := q.dst.Write(p); err != nil {
			// Report once and discard the rest; the destination is gone
			failed = true
			q.onError(err)
		}
	}

	if err := q.dst.Close(); err != nil && !failed {
		q.onError(err)
	}
}
