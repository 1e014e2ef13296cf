// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package forwarder

import "sync/atomic"

// Session holds the upstream session id. It starts empty and is set at most
// once; concurrent first responses race through a compare-and-swap and the
// losers are discarded.
type Session struct {
	id atomic.Pointer[string]
}

// ID returns the current session id or "" when none was issued yet.
func (s *Session) ID() string {
	if p := s.id.Load(); p != nil {
		return *p
	}
	return ""
}

// Establish stores id if no session is held and reports whether it did.
func (s *Session) Establish(id string) bool {
	if id == "" {
		return false
	}
	return s.id.CompareAndSwap(nil, &id)
}

// ShortID truncates a session id for logs.
func ShortID(id string) string {
	const n = 8
	if len(id) <= n {
		return id + "..."
	}
	return id[:n] + "..."
}
