// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// RequestID is the identity of a request. It keeps the exact JSON encoding
// of the inbound id so a synthesized reply echoes it byte for byte (number
// precision and string escaping are preserved).
type RequestID struct {
	raw json.RawMessage
}

// newRequestID returns nil for a null id.
func newRequestID(raw json.RawMessage) *RequestID {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return &RequestID{raw: append(json.RawMessage(nil), trimmed...)}
}

// StringID builds a RequestID from a string value.
func StringID(s string) *RequestID {
	b, _ := json.Marshal(s)
	return &RequestID{raw: b}
}

// IsString reports whether the id was encoded as a JSON string.
func (id *RequestID) IsString() bool {
	return id != nil && len(id.raw) > 0 && id.raw[0] == '"'
}

// String renders the id for logs. String ids are unquoted.
func (id *RequestID) String() string {
	if id == nil {
		return "none"
	}
	if id.IsString() {
		var s string
		if err := json.Unmarshal(id.raw, &s); err == nil {
			return s
		}
	}
	return string(id.raw)
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return &ParseError{Err: errInvalidJSON}
	}
	id.raw = append(id.raw[:0], bytes.TrimSpace(data)...)
	return nil
}
