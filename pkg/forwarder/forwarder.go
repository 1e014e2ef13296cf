// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package forwarder performs the HTTP half of the bridge: it posts one
// JSON-RPC message to the remote MCP endpoint, carries the upstream session
// id across calls, and unwraps the SSE envelope of the reply.
package forwarder

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/mcp-stdio-bridge/pkg/auth"
	"github.com/go-core-stack/mcp-stdio-bridge/pkg/metrics"
	"github.com/go-core-stack/mcp-stdio-bridge/pkg/sse"
)

const (
	// HeaderSessionID carries the upstream session id in both directions.
	HeaderSessionID = "mcp-session-id"
	// EndpointPath is appended to the configured base URL.
	EndpointPath = "/mcp"

	acceptHeader = "application/json, text/event-stream"
	// maxErrorBody bounds how much of a non-2xx body is kept for the error reply.
	maxErrorBody = 64 * 1024
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Forwarder posts messages to one upstream endpoint. It is safe for
// concurrent use; the session id is its only mutable state.
type Forwarder struct {
	// endpoint is the resolved {base}/mcp URL every message is posted to.
	endpoint string
	// client performs outbound HTTP requests to the upstream.
	client *http.Client
	// auth decorates each request with credentials; nil sends none.
	auth auth.Authenticator
	// headers are static extras added before the protocol headers.
	headers http.Header
	// session holds the upstream session id once the first response sets it.
	session Session
	// logger emits structured diagnostics for round trips.
	logger zerolog.Logger
	// metrics records outcomes and latency; nil disables recording.
	metrics *metrics.Recorder
}

type settings struct {
	client   *http.Client
	timeout  time.Duration
	insecure bool
	auth     auth.Authenticator
	headers  http.Header
	logger   *zerolog.Logger
	metrics  *metrics.Recorder
}

// Option customizes a Forwarder.
type Option func(*settings)

// WithHTTPClient replaces the default client. Timeout and TLS options are
// ignored when a client is supplied.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.client = c }
}

// WithTimeout bounds each round trip. Zero, the default, means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithInsecureSkipVerify disables upstream certificate verification.
func WithInsecureSkipVerify(skip bool) Option {
	return func(s *settings) { s.insecure = skip }
}

// WithAuthenticator attaches credentials to every request.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *settings) { s.auth = a }
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(s *settings) { s.headers.Add(key, value) }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.logger = &l }
}

// WithMetrics records round trips on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *settings) { s.metrics = r }
}

// Endpoint derives the MCP endpoint from a base URL.
func Endpoint(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute (scheme://host)", baseURL)
	}
	return u.JoinPath(EndpointPath).String(), nil
}

// New builds a Forwarder targeting {baseURL}/mcp.
func New(baseURL string, opts ...Option) (*Forwarder, error) {
	endpoint, err := Endpoint(baseURL)
	if err != nil {
		return nil, err
	}

	s := settings{headers: make(http.Header)}
	for _, opt := range opts {
		opt(&s)
	}

	client := s.client
	if client == nil {
		client = newHTTPClient(s.timeout, s.insecure)
	}

	logger := log.With().Str("component", "forwarder").Logger()
	if s.logger != nil {
		logger = *s.logger
	}

	return &Forwarder{
		endpoint: endpoint,
		client:   client,
		auth:     s.auth,
		headers:  s.headers,
		logger:   logger,
		metrics:  s.metrics,
	}, nil
}

// newHTTPClient keeps connections warm across lines and honours system proxies.
func newHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecure, // nolint:gosec -- opt-in for development scenarios
		},
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Endpoint returns the resolved upstream URL.
func (f *Forwarder) Endpoint() string {
	return f.endpoint
}

// SessionID returns the session id issued by the upstream, if any.
func (f *Forwarder) SessionID() string {
	return f.session.ID()
}

// Forward sends msg upstream and returns the decoded reply. The reply is not
// validated beyond being well-formed JSON. Failures are *TransportError or
// *DecodeError; nothing is retried.
func (f *Forwarder) Forward(ctx context.Context, msg json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	reply, err := f.roundTrip(ctx, msg)
	f.metrics.ObserveForward(outcome(err), time.Since(start))
	if err != nil {
		f.logger.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("Error forwarding message")
		return nil, err
	}
	return reply, nil
}

func (f *Forwarder) roundTrip(ctx context.Context, msg json.RawMessage) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(msg))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("build upstream request: %w", err)}
	}

	for k, vv := range f.headers {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)
	if id := f.session.ID(); id != "" {
		req.Header.Set(HeaderSessionID, id)
	}

	if f.auth != nil {
		if err := f.auth.Authenticate(req); err != nil {
			return nil, &TransportError{Err: fmt.Errorf("authenticate request: %w", err)}
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Error().
				Err(closeErr).
				Msg("close upstream response body failed")
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			f.logger.Warn().
				Err(readErr).
				Int("status", resp.StatusCode).
				Msg("failed to read upstream error body")
		}
		return nil, &TransportError{Status: resp.StatusCode, Body: string(payload)}
	}

	if id := resp.Header.Get(HeaderSessionID); id != "" && f.session.Establish(id) {
		f.metrics.SessionEstablished()
		f.logger.Info().
			Str("session", ShortID(id)).
			Msg("Session established: " + ShortID(id))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read upstream body: %w", err)}
	}

	if isJSON(resp.Header) {
		body = bytes.TrimSpace(body)
		if !json.Valid(body) {
			return nil, &DecodeError{Err: errors.New("invalid JSON in upstream response")}
		}
		return json.RawMessage(body), nil
	}

	reply, err := sse.Decode(body)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return reply, nil
}

// isJSON reports whether the upstream answered with a bare JSON body instead
// of an event stream.
func isJSON(h http.Header) bool {
	if h.Get("Content-Type") == "" {
		return false
	}
	// GetMediaType only reads the headers of the request it is given.
	mediaType, err := contenttype.GetMediaType(&http.Request{Header: h})
	return err == nil && mediaType.Matches(jsonMediaType)
}
