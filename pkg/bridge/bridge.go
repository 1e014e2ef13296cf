// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/mcp-stdio-bridge/pkg/forwarder"
	"github.com/go-core-stack/mcp-stdio-bridge/pkg/jsonrpc"
	"github.com/go-core-stack/mcp-stdio-bridge/pkg/linereader"
	"github.com/go-core-stack/mcp-stdio-bridge/pkg/metrics"
)

// DefaultDrainTimeout bounds how long Run waits for in-flight lines after
// the input closes.
const DefaultDrainTimeout = 10 * time.Second

// Forwarder is the upstream half of the bridge.
type Forwarder interface {
	Forward(ctx context.Context, msg json.RawMessage) (json.RawMessage, error)
	SessionID() string
}

// Bridge reads JSON-RPC lines, forwards each one on its own goroutine and
// writes replies as single lines. Replies are written in completion order,
// which is not necessarily input order.
type Bridge struct {
	// fwd sends each message upstream and reports the session id.
	fwd Forwarder
	// out is the only path to the output stream.
	out *outputQueue
	// logger emits diagnostics on stderr, never on the output stream.
	logger zerolog.Logger
	// metrics counts lines and replies; nil disables recording.
	metrics *metrics.Recorder
	// drainTimeout bounds the wait for in-flight lines after input EOF.
	drainTimeout time.Duration
	// maxLineSize is the longest line accepted; longer lines are skipped.
	maxLineSize int
	// sem caps concurrent line tasks when non-nil.
	sem chan struct{}
	// newLineID tags the log lines of one input line.
	newLineID func() string

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics records line and reply counters on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(b *Bridge) { b.metrics = r }
}

// WithDrainTimeout overrides DefaultDrainTimeout. Zero exits as soon as the
// input closes, abandoning in-flight lines.
func WithDrainTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.drainTimeout = d }
}

// WithMaxInFlight caps concurrent upstream calls; reading pauses while the
// cap is reached. Zero means unbounded.
func WithMaxInFlight(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.sem = make(chan struct{}, n)
		}
	}
}

// WithMaxLineSize bounds a single input line. Longer lines are rejected as
// malformed input and reading continues.
func WithMaxLineSize(n int) Option {
	return func(b *Bridge) { b.maxLineSize = n }
}

// New builds a Bridge writing replies to out. Call Run, or Close when only
// HandleLine is used.
func New(fwd Forwarder, out io.Writer, opts ...Option) *Bridge {
	b := &Bridge{
		fwd:          fwd,
		logger:       log.With().Str("component", "bridge").Logger(),
		drainTimeout: DefaultDrainTimeout,
		maxLineSize:  linereader.DefaultMaxLineSize,
		newLineID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.out = newOutputQueue(out)
	return b
}

// Run consumes in until it closes or ctx is cancelled. A nil return means a
// clean shutdown; read or write failures on the streams are returned.
func (b *Bridge) Run(ctx context.Context, in io.Reader) error {
	reader := linereader.New(in,
		linereader.WithMaxLineSize(b.maxLineSize),
		linereader.WithOversizeHandler(b.oversized),
	)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, ok := reader.Next()
			if !ok {
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	b.logger.Info().Msg("Proxy ready")

	var readErr error
loop:
	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("shutdown requested")
			break loop
		case line, ok := <-lines:
			if !ok {
				// the reader goroutine has exited; its state is safe to read
				if err := reader.Err(); err != nil {
					readErr = fmt.Errorf("read input: %w", err)
				}
				b.logger.Debug().Int("lines", reader.Count()).Msg("input closed")
				break loop
			}
			if !b.acquire(ctx) {
				break loop
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer b.release()
				b.HandleLine(ctx, line)
			}()
		}
	}

	b.drain()

	var writeErr error
	if err := b.Close(); err != nil {
		writeErr = fmt.Errorf("write output: %w", err)
	}
	b.logger.Info().Msg("Proxy closed")
	return errors.Join(readErr, writeErr)
}

// Close flushes queued replies and stops the writer. Replies produced after
// Close are discarded.
func (b *Bridge) Close() error {
	return b.out.close()
}

func (b *Bridge) acquire(ctx context.Context) bool {
	if b.sem == nil {
		return true
	}
	select {
	case b.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Bridge) release() {
	if b.sem != nil {
		<-b.sem
	}
}

func (b *Bridge) drain() {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	default:
	}

	timer := time.NewTimer(b.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		b.logger.Warn().
			Int64("pending", b.inFlight.Load()).
			Dur("drain_timeout", b.drainTimeout).
			Msg("abandoning in-flight requests")
	}
}

// oversized rejects a line longer than the configured maximum. The reader
// has already discarded it, so no reply can be correlated.
func (b *Bridge) oversized(size int) {
	logger := b.logger.With().Str("line_id", b.newLineID()).Logger()
	b.metrics.ObserveLine("malformed")
	logger.Error().
		Int("size", size).
		Int("max_line_size", b.maxLineSize).
		Msg("Error processing request: line exceeds maximum size")
	logger.Warn().Msg("Malformed input - no error response sent")
	b.metrics.ObserveReply(metrics.ReplyDropped)
}

// HandleLine processes one non-blank line to completion: parse, forward,
// and write either the upstream reply or a synthesized error. It never
// returns an error or panics; every failure is mapped or logged here.
func (b *Bridge) HandleLine(ctx context.Context, line string) {
	logger := b.logger.With().Str("line_id", b.newLineID()).Logger()

	var (
		msg      *jsonrpc.Message
		answered bool
	)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("line handler panicked: %v", r)
		if msg != nil && !answered {
			b.fail(logger, msg, err)
			return
		}
		logger.Error().Err(err).Msg("Error processing request")
		b.metrics.ObserveReply(metrics.ReplyDropped)
	}()

	msg, err := jsonrpc.Parse([]byte(line))
	if err != nil {
		b.metrics.ObserveLine("malformed")
		logger.Error().Err(err).Msg("Error processing request")
		logger.Warn().Msg("Malformed input - no error response sent")
		b.metrics.ObserveReply(metrics.ReplyDropped)
		return
	}
	b.metrics.ObserveLine(msg.Kind().String())

	method := msg.Method
	if method == "" {
		method = "notification"
	}
	logger = logger.With().Str("method", method).Stringer("id", msg.ID).Logger()

	session := "(no session)"
	if id := b.fwd.SessionID(); id != "" {
		session = "(session: " + forwarder.ShortID(id) + ")"
	}
	logger.Info().Msgf("→ %s (id: %s) %s", method, msg.ID, session)

	b.inFlight.Add(1)
	untrack := b.metrics.TrackInFlight()
	reply, err := b.forward(ctx, msg.Raw)
	untrack()
	b.inFlight.Add(-1)

	if err != nil {
		answered = true
		b.fail(logger, msg, err)
		return
	}

	logger.Info().Msgf("← Response (id: %s)", replyID(reply))

	if !msg.HasIdentity() {
		logger.Debug().Msg("reply to notification discarded")
		b.metrics.ObserveReply(metrics.ReplyDropped)
		return
	}

	if !jsonrpc.IsObject(reply) {
		logger.Warn().
			Str("reply", truncate(reply, 256)).
			Msg("Warning: Invalid response from server")
		b.metrics.ObserveReply(metrics.ReplyDropped)
		return
	}

	answered = true
	var buf bytes.Buffer
	if err := json.Compact(&buf, reply); err != nil {
		b.fail(logger, msg, &forwarder.DecodeError{Err: err})
		return
	}
	b.write(logger, buf.Bytes(), metrics.ReplyUpstream)
}

// forward shields the line task from a panicking Forwarder.
func (b *Bridge) forward(ctx context.Context, raw json.RawMessage) (reply json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("forward panicked: %v", r)
		}
	}()
	return b.fwd.Forward(ctx, raw)
}

// fail answers a request with an internal error. Messages without identity
// never receive a reply.
func (b *Bridge) fail(logger zerolog.Logger, msg *jsonrpc.Message, cause error) {
	logger.Error().Err(cause).Msg("Error processing request")

	if !msg.HasIdentity() {
		logger.Warn().Msg("Notification failed - no error response sent")
		b.metrics.ObserveReply(metrics.ReplyDropped)
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, cause.Error())); err != nil {
		logger.Error().Err(err).Msg("encode error response failed")
		return
	}
	b.write(logger, bytes.TrimRight(buf.Bytes(), "\n"), metrics.ReplyError)
}

func (b *Bridge) write(logger zerolog.Logger, line []byte, kind string) {
	if !b.out.push(line) {
		logger.Warn().Msg("output closed; reply discarded")
		b.metrics.ObserveReply(metrics.ReplyDropped)
		return
	}
	b.metrics.ObserveReply(kind)
}

func replyID(reply json.RawMessage) string {
	msg, err := jsonrpc.Parse(reply)
	if err != nil {
		return "none"
	}
	return msg.ID.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
