// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package linereader splits a newline-delimited stream into trimmed,
// non-blank lines.
package linereader

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// DefaultMaxLineSize bounds a single line. MCP payloads (tool results with
// embedded media) can be far larger than bufio's 64 KiB default.
const DefaultMaxLineSize = 16 << 20

// Option customizes a Reader.
type Option func(*Reader)

// WithMaxLineSize overrides DefaultMaxLineSize.
func WithMaxLineSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxLineSize = n
		}
	}
}

// WithOversizeHandler is called with the byte size of every line longer than
// the maximum. Such lines are discarded and reading continues.
func WithOversizeHandler(fn func(size int)) Option {
	return func(r *Reader) { r.onOversize = fn }
}

// Reader yields lines lazily. It is not safe for concurrent use and cannot
// be restarted once the underlying stream is exhausted.
type Reader struct {
	br          *bufio.Reader
	maxLineSize int
	onOversize  func(size int)
	count       int
	err         error
}

// New wraps r.
func New(r io.Reader, opts ...Option) *Reader {
	lr := &Reader{maxLineSize: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(lr)
	}
	lr.br = bufio.NewReaderSize(r, min(64*1024, lr.maxLineSize))
	return lr
}

// Next returns the next non-blank line with surrounding whitespace removed.
// It returns false once the stream is closed or fails; see Err.
func (r *Reader) Next() (string, bool) {
	for r.err == nil {
		raw, size, err := r.readLine()
		if err != nil {
			r.err = err
		}
		if size == 0 {
			continue
		}
		r.count++

		if raw == nil {
			if r.onOversize != nil {
				r.onOversize(size)
			}
			continue
		}

		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}
		return line, true
	}
	return "", false
}

// readLine returns one line without its terminator, or nil when the line
// exceeds maxLineSize. size counts every byte consumed, terminator included.
func (r *Reader) readLine() (line []byte, size int, err error) {
	oversized := false
	for {
		chunk, err := r.br.ReadSlice('\n')
		size += len(chunk)

		content := chunk
		if n := len(content); n > 0 && content[n-1] == '\n' {
			content = content[:n-1]
		}
		if !oversized {
			if len(line)+len(content) > r.maxLineSize {
				oversized = true
				line = nil
			} else {
				// ReadSlice reuses its buffer; append copies
				line = append(line, content...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if oversized {
			return nil, size, err
		}
		if line == nil && size > 0 {
			line = []byte{}
		}
		return line, size, err
	}
}

// Err returns the first non-EOF error encountered.
func (r *Reader) Err() error {
	if errors.Is(r.err, io.EOF) {
		return nil
	}
	return r.err
}

// Count reports how many raw lines have been consumed, blank and oversized
// ones included.
func (r *Reader) Count() int {
	return r.count
}
