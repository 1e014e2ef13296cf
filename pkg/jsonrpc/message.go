// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package jsonrpc models the JSON-RPC 2.0 envelopes that cross the bridge.
// Payload members (params, result, error) are kept as raw JSON so the bridge
// stays agnostic of the method semantics carried inside them.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the JSON-RPC version stamped on synthesized replies.
const ProtocolVersion = "2.0"

// Kind discriminates the shapes an inbound line can take.
type Kind int

const (
	// KindInvalid is an object that is neither a request, a notification nor a
	// response, e.g. {"id":9}.
	KindInvalid Kind = iota
	// KindRequest carries a method and a non-null id.
	KindRequest
	// KindNotification carries a method and no id (or a null id).
	KindNotification
	// KindResponse carries result or error instead of a method.
	KindResponse
)

// String returns the lower-case name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Message is one parsed inbound line. Raw holds the exact bytes that were
// read so the forwarder can send them upstream untouched.
type Message struct {
	Raw     json.RawMessage
	Version string
	Method  string
	ID      *RequestID
	Params  json.RawMessage
	Result  json.RawMessage
	Error   json.RawMessage
	kind    Kind
}

// Kind reports which variant of the union the message is.
func (m *Message) Kind() Kind {
	return m.kind
}

// HasIdentity reports whether a reply, including a synthesized error, may be
// written for this message.
func (m *Message) HasIdentity() bool {
	return m != nil && m.ID != nil
}

// ParseError reports an inbound line that is not valid JSON.
type ParseError struct {
	Err error
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

// Unwrap exposes the underlying decoding failure.
func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	errInvalidJSON = errors.New("invalid JSON")
	errNotObject   = errors.New("message is not a JSON object")
)

// Parse decodes one line into a Message. Broken JSON and anything other than
// an object (null, arrays, scalars) is rejected; an object of unknown shape is
// returned as KindInvalid and still forwarded.
func Parse(line []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(line)
	if !json.Valid(trimmed) {
		return nil, &ParseError{Err: errInvalidJSON}
	}

	if !IsObject(trimmed) {
		return nil, &ParseError{Err: errNotObject}
	}
	msg := &Message{Raw: json.RawMessage(trimmed), kind: KindInvalid}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, &ParseError{Err: err}
	}

	if raw, ok := fields["jsonrpc"]; ok {
		// a non-string version is left empty; the upstream decides what to do with it
		_ = json.Unmarshal(raw, &msg.Version)
	}
	if raw, ok := fields["method"]; ok {
		_ = json.Unmarshal(raw, &msg.Method)
	}
	if raw, ok := fields["id"]; ok {
		msg.ID = newRequestID(raw)
	}
	msg.Params = fields["params"]
	msg.Result = fields["result"]
	msg.Error = fields["error"]

	switch {
	case msg.Method != "" && msg.ID != nil:
		msg.kind = KindRequest
	case msg.Method != "":
		msg.kind = KindNotification
	case msg.Result != nil || msg.Error != nil:
		msg.kind = KindResponse
	}

	return msg, nil
}

// IsObject reports whether raw holds a JSON object.
func IsObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
