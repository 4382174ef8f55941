// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package streaming turns a provider's raw HTTP response body into a bounded,
cancellable sequence of unified chunks.

Two pieces compose to do this:

  - FrameParser — a stateful byte-stream framer with three modes (SSE line
    framing, JSON-array streaming, NDJSON). Feed it bytes as they arrive off
    the wire; it returns only fully-delimited Frames and keeps any partial
    tail buffered across calls.
  - ChunkStream — the Idle/Active/Closed/Errored state machine that a
    provider adapter's Stream() drains into the channel it returns to the
    caller: ordered, terminates exactly once (closed by the producer when the
    provider's framing signals the end; it does not track choice-indices),
    and guarantees the upstream connection is released on every exit path
    (normal close, parse error, network error, or caller cancellation).

BackpressureStream is the bounded, block-only buffer ChunkStream is built on;
dropping a chunk under pressure is never correct, so the producer simply
blocks until the consumer catches up.
*/
package streaming
