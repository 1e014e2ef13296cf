// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package sse unwraps the single-event Server-Sent-Events envelope that
// streamable HTTP MCP servers use to answer a POST.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const dataPrefix = "data: "

// ErrNoData is returned when the body carries no "data: " line.
var ErrNoData = errors.New("no data found in SSE response")

// ExtractData returns the remainder of the first line starting with
// "data: ". Later data lines and all other fields are ignored.
func ExtractData(body []byte) ([]byte, error) {
	for len(body) > 0 {
		var line []byte
		if i := bytes.IndexByte(body, '\n'); i >= 0 {
			line, body = body[:i], body[i+1:]
		} else {
			line, body = body, nil
		}
		line = bytes.TrimSuffix(line, []byte("\r"))
		if bytes.HasPrefix(line, []byte(dataPrefix)) {
			return line[len(dataPrefix):], nil
		}
	}
	return nil, ErrNoData
}

// Decode extracts the data payload and checks that it is valid JSON.
func Decode(body []byte) (json.RawMessage, error) {
	data, err := ExtractData(body)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON in SSE data: %.64q", data)
	}
	return json.RawMessage(data), nil
}
