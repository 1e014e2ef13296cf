// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package auth attaches upstream credentials to outbound bridge requests so
// the stdio client never has to hold them.
package auth
