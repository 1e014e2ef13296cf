// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package bridge connects a line-delimited JSON-RPC stream to a Forwarder.
// Each line is handled independently: a failure on one line is mapped to a
// JSON-RPC error reply (or logged, for notifications) and never stops the
// reader. Only JSON-RPC lines are written to the output stream.
package bridge
