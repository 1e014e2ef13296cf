// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package jsonrpc

import "encoding/json"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	ErrorCodeParseError     ErrorCode = -32700
	ErrorCodeInvalidRequest ErrorCode = -32600
	ErrorCodeMethodNotFound ErrorCode = -32601
	ErrorCodeInvalidParams  ErrorCode = -32602
	// ErrorCodeInternalError is used for every failure the bridge reports locally.
	ErrorCodeInternalError ErrorCode = -32603
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Response is a reply synthesized by the bridge. Upstream replies are never
// decoded into this type; they are passed through as raw JSON.
type Response struct {
	Version string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewErrorResponse builds an error reply for the given request identity.
func NewErrorResponse(id *RequestID, code ErrorCode, message string) *Response {
	return &Response{
		Version: ProtocolVersion,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}
