// Package engine implements the secure-channel engine capability driven by
// the record-layer adapter: wrap plaintext into encrypted records, unwrap
// records back into plaintext, report what the handshake needs next, and
// hand expensive cryptographic work back to the caller as delegated tasks.
//
// Engines never perform I/O. Sources and destinations are buffers owned by
// the caller; an engine reports underflow when the source lacks a complete
// record and overflow when the destination cannot hold the output, consuming
// nothing in either case.
package engine

import "tlspump/buffer"

// Status is the outcome class of a single wrap or unwrap invocation.
type Status int

const (
	StatusOK Status = iota
	StatusClosed
	StatusBufferOverflow
	StatusBufferUnderflow
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusClosed:
		return "closed"
	case StatusBufferOverflow:
		return "buffer-overflow"
	case StatusBufferUnderflow:
		return "buffer-underflow"
	default:
		return "unknown"
	}
}

// HandshakeState signals what the engine needs next to make progress.
type HandshakeState int

const (
	NotHandshaking HandshakeState = iota
	NeedWrap
	NeedUnwrap
	NeedTask
	Finished
)

func (h HandshakeState) String() string {
	switch h {
	case NotHandshaking:
		return "not-handshaking"
	case NeedWrap:
		return "need-wrap"
	case NeedUnwrap:
		return "need-unwrap"
	case NeedTask:
		return "need-task"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Result reports the outcome of one wrap or unwrap invocation.
type Result struct {
	Status   Status
	Consumed int
	Produced int
}

// Engine is the capability contract the adapter drives. Wrap and Unwrap
// return an error only on an engine fault (protocol violation, failed record
// authentication); the connection is unrecoverable afterwards. Overflow and
// underflow travel in the Result, never as errors.
type Engine interface {
	// Wrap encrypts or frames pending output into dst, consuming plaintext
	// from src when application data is flowing. Handshake wraps consume
	// nothing from src.
	Wrap(src, dst *buffer.Buffer) (Result, error)

	// Unwrap decodes at most one complete record from src into dst.
	Unwrap(src, dst *buffer.Buffer) (Result, error)

	// HandshakeStatus reports what must happen next to progress the
	// handshake; it changes as a side effect of wrap, unwrap and task
	// execution and must be re-queried after each.
	HandshakeStatus() HandshakeState

	// DelegatedTask pops the next queued deferred computation, or nil when
	// none is pending. Tasks run synchronously on the caller's goroutine.
	DelegatedTask() func()

	// Close queues a close alert for the next wrap. Records already
	// unwrapped remain readable.
	Close() error

	// RecordBufferSize is the sizing hint for buffers holding encrypted
	// records; ApplicationBufferSize for buffers holding plaintext. Both are
	// fixed for the engine's lifetime.
	RecordBufferSize() int
	ApplicationBufferSize() int
}
