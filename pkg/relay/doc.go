// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package relay bridges an inbound POST to a streamed answer from the AI
// backend. Each request gets its own Session that reads the upstream body in
// fixed-size chunks, translates every "data: " line into a normalised event
// line and flushes it to the caller in arrival order. Upstream rejections are
// answered with a single JSON error instead of a stream.
package relay
