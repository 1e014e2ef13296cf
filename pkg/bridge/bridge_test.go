// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-stdio-bridge/pkg/jsonrpc"
)

type forwardFunc func(ctx context.Context, msg json.RawMessage) (json.RawMessage, error)

type fakeForwarder struct {
	mu    sync.Mutex
	calls []string
	fn    forwardFunc
}

func (f *fakeForwarder) Forward(ctx context.Context, msg json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, string(msg))
	f.mu.Unlock()
	return f.fn(ctx, msg)
}

func (f *fakeForwarder) SessionID() string { return "" }

func (f *fakeForwarder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	trimmed := strings.TrimRight(s.buf.String(), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func newTestBridge(fwd Forwarder, out io.Writer, opts ...Option) *Bridge {
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(fwd, out, opts...)
}

// echoResult replies with {"jsonrpc":"2.0","id":<id>,"result":"ok"}.
func echoResult(_ context.Context, msg json.RawMessage) (json.RawMessage, error) {
	parsed, err := jsonrpc.Parse(msg)
	if err != nil {
		return nil, err
	}
	id, _ := json.Marshal(parsed.ID)
	return json.RawMessage(`{"jsonrpc":"2.0","id":` + string(id) + `,"result":"ok"}`), nil
}

func decodeError(t *testing.T, line string) (json.RawMessage, jsonrpc.Error) {
	t.Helper()
	var envelope struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   *jsonrpc.Error  `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &envelope); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if envelope.JSONRPC != "2.0" || envelope.Error == nil {
		t.Fatalf("not an error envelope: %s", line)
	}
	return envelope.ID, *envelope.Error
}

func TestNotificationsNeverGetReplies(t *testing.T) {
	lines := []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":null,"method":"notifications/progress"}`,
	}

	for name, fn := range map[string]forwardFunc{
		"success": echoResult,
		"failure": func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("upstream down")
		},
	} {
		t.Run(name, func(t *testing.T) {
			fwd := &fakeForwarder{fn: fn}
			out := &syncBuffer{}
			b := newTestBridge(fwd, out)

			for _, line := range lines {
				b.HandleLine(context.Background(), line)
			}
			if err := b.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			if fwd.callCount() != len(lines) {
				t.Fatalf("expected %d forwards, got %d", len(lines), fwd.callCount())
			}
			if got := out.lines(); len(got) != 0 {
				t.Fatalf("notification produced output: %q", got)
			}
		})
	}
}

func TestRequestsGetExactlyOneReply(t *testing.T) {
	t.Run("upstream reply", func(t *testing.T) {
		reply := `{"jsonrpc":"2.0","id":"a-1","result":{"content":[{"type":"text","text":"<b>hi</b>"}]}}`
		fwd := &fakeForwarder{fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(reply), nil
		}}
		out := &syncBuffer{}
		b := newTestBridge(fwd, out)

		b.HandleLine(context.Background(), `{"jsonrpc":"2.0","id":"a-1","method":"tools/call"}`)
		_ = b.Close()

		got := out.lines()
		if len(got) != 1 || got[0] != reply {
			t.Fatalf("expected exact upstream reply, got %q", got)
		}
	})

	t.Run("synthesized error", func(t *testing.T) {
		fwd := &fakeForwarder{fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("upstream <down>")
		}}
		out := &syncBuffer{}
		b := newTestBridge(fwd, out)

		b.HandleLine(context.Background(), `{"jsonrpc":"2.0","id":42,"method":"tools/call"}`)
		_ = b.Close()

		got := out.lines()
		if len(got) != 1 {
			t.Fatalf("expected one line, got %q", got)
		}
		want := `{"jsonrpc":"2.0","id":42,"error":{"code":-32603,"message":"upstream <down>"}}`
		if got[0] != want {
			t.Fatalf("unexpected error reply:\n got %s\nwant %s", got[0], want)
		}
	})
}

func TestMultiLineReplyIsCompacted(t *testing.T) {
	fwd := &fakeForwarder{fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage("{\n  \"jsonrpc\": \"2.0\",\n  \"id\": 1,\n  \"result\": {}\n}"), nil
	}}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out)

	b.HandleLine(context.Background(), `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	_ = b.Close()

	got := out.lines()
	if len(got) != 1 || got[0] != `{"jsonrpc":"2.0","id":1,"result":{}}` {
		t.Fatalf("expected one compact line, got %q", got)
	}
}

func TestNonObjectReplyIsDropped(t *testing.T) {
	for _, reply := range []string{`"pong"`, `[{"jsonrpc":"2.0","id":1,"result":{}}]`, `null`, `17`} {
		fwd := &fakeForwarder{fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(reply), nil
		}}
		out := &syncBuffer{}
		b := newTestBridge(fwd, out)

		b.HandleLine(context.Background(), `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
		_ = b.Close()

		if got := out.lines(); len(got) != 0 {
			t.Fatalf("reply %s should not be written, got %q", reply, got)
		}
	}
}

func TestMalformedLineIsSkipped(t *testing.T) {
	fwd := &fakeForwarder{fn: echoResult}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out)

	input := "{\"jsonrpc\":\"2.0\",\"id\":1,\nnull\n[{\"jsonrpc\":\"2.0\",\"id\":3,\"method\":\"ping\"}]\n{\"jsonrpc\":\"2.0\",\"id\":2,\"method\":\"ping\"}\n"
	if err := b.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if fwd.callCount() != 1 {
		t.Fatalf("malformed lines must not be forwarded, got %d calls", fwd.callCount())
	}
	got := out.lines()
	if len(got) != 1 || got[0] != `{"jsonrpc":"2.0","id":2,"result":"ok"}` {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestBlankLinesAreNoops(t *testing.T) {
	fwd := &fakeForwarder{fn: echoResult}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out)

	if err := b.Run(context.Background(), strings.NewReader("\n   \n\t\r\n\n")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fwd.callCount() != 0 {
		t.Fatalf("blank lines were forwarded %d times", fwd.callCount())
	}
	if got := out.lines(); len(got) != 0 {
		t.Fatalf("blank lines produced output %q", got)
	}
}

func TestPanickingForwarderMapsToError(t *testing.T) {
	fwd := &fakeForwarder{fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
		panic("boom")
	}}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out)

	b.HandleLine(context.Background(), `{"jsonrpc":"2.0","id":"p","method":"ping"}`)
	_ = b.Close()

	got := out.lines()
	if len(got) != 1 {
		t.Fatalf("expected one error reply, got %q", got)
	}
	id, rpcErr := decodeError(t, got[0])
	if string(id) != `"p"` || rpcErr.Code != jsonrpc.ErrorCodeInternalError || !strings.Contains(rpcErr.Message, "boom") {
		t.Fatalf("unexpected reply %s", got[0])
	}
}

// sessionPanicker fails outside Forward, while the line is being logged.
type sessionPanicker struct {
	fakeForwarder
}

func (*sessionPanicker) SessionID() string { panic("session lookup failed") }

func TestPanicOutsideForwardIsContained(t *testing.T) {
	fwd := &sessionPanicker{fakeForwarder{fn: echoResult}}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":5,"method":"ping"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":6,"method":"ping"}`,
	}, "\n") + "\n"
	if err := b.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.lines()
	if len(got) != 2 {
		t.Fatalf("expected an error reply per request, got %q", got)
	}
	seen := map[string]bool{}
	for _, line := range got {
		id, rpcErr := decodeError(t, line)
		if rpcErr.Code != jsonrpc.ErrorCodeInternalError || !strings.Contains(rpcErr.Message, "session lookup failed") {
			t.Fatalf("unexpected reply %s", line)
		}
		seen[string(id)] = true
	}
	if !seen["5"] || !seen["6"] {
		t.Fatalf("expected replies for ids 5 and 6, got %q", got)
	}
}

func TestOversizedLineDoesNotStopInput(t *testing.T) {
	fwd := &fakeForwarder{fn: echoResult}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out, WithMaxLineSize(64))

	big := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"blob":"` + strings.Repeat("a", 100) + `"}}`
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		big,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	}, "\n") + "\n"
	if err := b.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("oversized line must not end Run: %v", err)
	}

	if fwd.callCount() != 2 {
		t.Fatalf("expected the two short lines forwarded, got %d calls", fwd.callCount())
	}
	got := out.lines()
	sort.Strings(got)
	want := []string{`{"jsonrpc":"2.0","id":1,"result":"ok"}`, `{"jsonrpc":"2.0","id":3,"result":"ok"}`}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected output %q", got)
	}
}

// firstWriteSignal closes written on the first Write.
type firstWriteSignal struct {
	syncBuffer
	once    sync.Once
	written chan struct{}
}

func (w *firstWriteSignal) Write(p []byte) (int, error) {
	n, err := w.syncBuffer.Write(p)
	w.once.Do(func() { close(w.written) })
	return n, err
}

func TestOutputFollowsCompletionOrder(t *testing.T) {
	out := &firstWriteSignal{written: make(chan struct{})}
	fwd := &fakeForwarder{fn: func(ctx context.Context, msg json.RawMessage) (json.RawMessage, error) {
		if strings.Contains(string(msg), `"id":1`) {
			// the earlier request is held until the later one has been written
			select {
			case <-out.written:
			case <-time.After(2 * time.Second):
				return nil, errors.New("second reply never written")
			}
		}
		return echoResult(ctx, msg)
	}}
	b := newTestBridge(fwd, out)

	input := `{"jsonrpc":"2.0","id":1,"method":"slow"}` + "\n" + `{"jsonrpc":"2.0","id":2,"method":"fast"}` + "\n"
	if err := b.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.lines()
	want := []string{
		`{"jsonrpc":"2.0","id":2,"result":"ok"}`,
		`{"jsonrpc":"2.0","id":1,"result":"ok"}`,
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected completion order %q, got %q", want, got)
	}
}

func TestConcurrentRepliesDoNotInterleave(t *testing.T) {
	fwd := &fakeForwarder{fn: echoResult}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out)

	var input strings.Builder
	const n = 200
	for i := 0; i < n; i++ {
		input.WriteString(`{"jsonrpc":"2.0","id":` + jsonInt(i) + `,"method":"ping"}` + "\n")
	}
	if err := b.Run(context.Background(), strings.NewReader(input.String())); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.lines()
	if len(got) != n {
		t.Fatalf("expected %d lines, got %d", n, len(got))
	}
	seen := make(map[string]bool, n)
	for _, line := range got {
		if !json.Valid([]byte(line)) {
			t.Fatalf("corrupted line %q", line)
		}
		seen[line] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct replies, got %d", n, len(seen))
	}
}

func TestMaxInFlight(t *testing.T) {
	var current, peak int32
	fwd := &fakeForwarder{fn: func(ctx context.Context, msg json.RawMessage) (json.RawMessage, error) {
		now := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if now <= old || atomic.CompareAndSwapInt32(&peak, old, now) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return echoResult(ctx, msg)
	}}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out, WithMaxInFlight(2))

	var input strings.Builder
	for i := 0; i < 20; i++ {
		input.WriteString(`{"jsonrpc":"2.0","id":` + jsonInt(i) + `,"method":"ping"}` + "\n")
	}
	if err := b.Run(context.Background(), strings.NewReader(input.String())); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("in-flight cap exceeded: peak %d", p)
	}
	if got := len(out.lines()); got != 20 {
		t.Fatalf("expected 20 replies, got %d", got)
	}
}

func TestRunDrainsInFlightOnEOF(t *testing.T) {
	fwd := &fakeForwarder{fn: func(ctx context.Context, msg json.RawMessage) (json.RawMessage, error) {
		time.Sleep(50 * time.Millisecond)
		return echoResult(ctx, msg)
	}}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out, WithDrainTimeout(5*time.Second))

	if err := b.Run(context.Background(), strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := out.lines(); len(got) != 1 {
		t.Fatalf("in-flight reply lost on EOF: %q", got)
	}
}

func TestRunAbandonsHungRequestAfterDrainTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	fwd := &fakeForwarder{fn: func(ctx context.Context, msg json.RawMessage) (json.RawMessage, error) {
		<-release
		return echoResult(ctx, msg)
	}}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out, WithDrainTimeout(50*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		done <- b.Run(context.Background(), strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"hang"}`+"\n"))
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after drain timeout")
	}
	if got := out.lines(); len(got) != 0 {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	fwd := &fakeForwarder{fn: echoResult}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, pr) }()

	if _, err := pw.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return len(out.lines()) == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored context cancellation")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestRunReportsOutputFailure(t *testing.T) {
	fwd := &fakeForwarder{fn: echoResult}
	b := newTestBridge(fwd, failingWriter{})

	err := b.Run(context.Background(), strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"))
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("expected write failure, got %v", err)
	}
}

func TestHandleLineAfterCloseDiscardsReply(t *testing.T) {
	fwd := &fakeForwarder{fn: echoResult}
	out := &syncBuffer{}
	b := newTestBridge(fwd, out)
	_ = b.Close()

	b.HandleLine(context.Background(), `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if got := out.lines(); len(got) != 0 {
		t.Fatalf("reply written after close: %q", got)
	}
}

func jsonInt(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

func waitUntil(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
