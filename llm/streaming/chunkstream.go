package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the Chunk Stream's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateActive
	StateClosed
	StateErrored
)

// Chunk is the shape of a unified stream chunk that ChunkStream accepts.
// Providers hand in their own llm.StreamChunk via Push; ChunkStream itself is
// payload-agnostic through the generic parameter and does not call
// ChoiceIndex or Done: the producer decides when the stream ends.
type Chunk interface {
	// ChoiceIndex identifies which choice this chunk belongs to.
	ChoiceIndex() int
	// Done reports whether this chunk carries a non-null finish reason.
	Done() bool
}

// ChunkStream is the Idle -> Active -> Closed|Errored state machine described
// in the streaming engine's design: a lazy, finite, non-restartable sequence
// with bounded backpressure and a hard guarantee that cancelling or dropping
// the stream releases the upstream connection.
type ChunkStream[T Chunk] struct {
	buf      *BackpressureStream[T]
	release  func() // closes the upstream HTTP body; called exactly once
	cancel   context.CancelFunc
	state    atomic.Int32
	mu       sync.Mutex
	err      error
	released atomic.Bool
}

// NewChunkStream creates a stream bound to an upstream connection. release is
// called exactly once, on every termination path, to free the connection.
// cancel stops the producer goroutine feeding the stream.
func NewChunkStream[T Chunk](bufferSize int, release func(), cancel context.CancelFunc) *ChunkStream[T] {
	cs := &ChunkStream[T]{
		buf:     NewBackpressureStream[T](BackpressureConfig{BufferSize: bufferSize}),
		release: release,
		cancel:  cancel,
	}
	cs.state.Store(int32(StateIdle))
	return cs
}

// Activate transitions Idle -> Active once the upstream connection opens
// successfully.
func (cs *ChunkStream[T]) Activate() {
	cs.state.CompareAndSwap(int32(StateIdle), int32(StateActive))
}

// State returns the current lifecycle state.
func (cs *ChunkStream[T]) State() State {
	return State(cs.state.Load())
}

// Push is called by the producer (parser + adapter goroutine) for each
// well-formed chunk. It blocks under backpressure. Pushing a chunk whose
// Done() is true does not by itself close the stream — the producer closes
// via CloseNormally when the provider's own framing signals the end (explicit
// terminal sentinel, e.g. SSE [DONE] or NDJSON done:true). ChunkStream does
// not check that every choice-index received a terminal chunk.
func (cs *ChunkStream[T]) Push(ctx context.Context, chunk T) error {
	if cs.State() != StateActive {
		return ErrStreamClosed
	}
	return cs.buf.Write(ctx, chunk)
}

// Next is called by the caller to retrieve the next chunk. ok is false once
// the stream has closed normally; err is non-nil on abnormal termination.
func (cs *ChunkStream[T]) Next(ctx context.Context) (chunk T, ok bool, err error) {
	v, readErr := cs.buf.Read(ctx)
	if readErr == nil {
		return v, true, nil
	}
	if readErr == ErrStreamClosed {
		cs.mu.Lock()
		err = cs.err
		cs.mu.Unlock()
		return chunk, false, err
	}
	// Context cancellation/timeout from the caller's own ctx: treat as a
	// cancellation, not a stream error, and release resources immediately.
	cs.Cancel()
	return chunk, false, readErr
}

// Fail transitions the stream to Errored, recording err, and releases the
// upstream connection. Safe to call once; subsequent calls are no-ops.
func (cs *ChunkStream[T]) Fail(err error) {
	cs.mu.Lock()
	if cs.err == nil {
		cs.err = err
	}
	cs.mu.Unlock()
	if cs.state.Swap(int32(StateErrored)) != int32(StateErrored) {
		cs.doRelease()
	}
	_ = cs.buf.Close()
}

// CloseNormally transitions the stream to Closed after every choice-index
// has emitted its terminal chunk, or the provider's own end-of-stream
// sentinel was observed (e.g. SSE "[DONE]", NDJSON "done":true).
func (cs *ChunkStream[T]) CloseNormally() {
	if cs.state.Swap(int32(StateClosed)) != int32(StateClosed) {
		cs.doRelease()
	}
	_ = cs.buf.Close()
}

// Cancel is called by the stream's owner to abandon it early. It cancels the
// producer's context (releasing the in-flight read) and releases the
// connection, from whatever state the stream is currently in.
func (cs *ChunkStream[T]) Cancel() {
	if cs.cancel != nil {
		cs.cancel()
	}
	prev := cs.state.Swap(int32(StateClosed))
	if prev != int32(StateClosed) {
		cs.doRelease()
	}
	_ = cs.buf.Close()
}

func (cs *ChunkStream[T]) doRelease() {
	if cs.released.CompareAndSwap(false, true) && cs.release != nil {
		cs.release()
	}
}
