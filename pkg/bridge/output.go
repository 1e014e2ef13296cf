// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package bridge

import (
	"io"
	"sync"
)

// outputQueue serializes writes to the output stream through one goroutine
// so concurrent line tasks never interleave partial lines.
type outputQueue struct {
	mu     sync.Mutex
	closed bool
	lines  chan []byte
	done   chan struct{}
	err    error
}

func newOutputQueue(w io.Writer) *outputQueue {
	q := &outputQueue{
		lines: make(chan []byte, 64),
		done:  make(chan struct{}),
	}
	go q.run(w)
	return q
}

func (q *outputQueue) run(w io.Writer) {
	defer close(q.done)
	for line := range q.lines {
		if q.err != nil {
			continue
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			q.err = err
		}
	}
}

// push enqueues one line. It reports false once the queue is closed.
func (q *outputQueue) push(line []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.lines <- line
	return true
}

// close flushes pending lines and returns the first write error.
func (q *outputQueue) close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.lines)
	}
	q.mu.Unlock()

	<-q.done
	return q.err
}
