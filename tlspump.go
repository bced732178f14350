// Package tlspump is a sans-I/O record-layer adapter. It drives an engine
// capability through four operations — Inject ciphertext, Read plaintext,
// Write plaintext, Extract ciphertext — so a surrounding byte-stream
// transport (socket, pipe, test harness) can call them in any order while
// the adapter itself never performs I/O.
//
// One adapter instance serves one connection and is meant to be called
// sequentially from a single goroutine; there is no internal locking.
// Delegated engine tasks run synchronously on the calling goroutine, so an
// expensive key exchange blocks the caller for its duration.
package tlspump

import (
	"errors"
	"fmt"

	"github.com/apex/log"

	"tlspump/buffer"
	"tlspump/config"
	"tlspump/engine"
	"tlspump/internal/logging"
	"tlspump/keystore"
)

// ErrSessionClosed distinguishes an orderly close from an engine fault.
// Read and Extract return it only once nothing drainable remains, so the
// caller can finish flushing before tearing the transport down.
var ErrSessionClosed = errors.New("session closed")

// maxOpRetries bounds destination growth per operation so a hostile peer
// cannot force unbounded allocation through repeated overflow reports.
const maxOpRetries = 8

type engineOp int

const (
	opWrap engineOp = iota
	opUnwrap
)

func (op engineOp) String() string {
	if op == opWrap {
		return "wrap"
	}
	return "unwrap"
}

// Adapter pumps bytes between a transport and an engine. Buffers are owned
// exclusively by the instance and never shared.
type Adapter struct {
	eng engine.Engine
	log log.Interface

	inboundNet  *buffer.Buffer
	outboundApp *buffer.Buffer
	outboundNet *buffer.Buffer

	closed bool
}

// New wraps an engine in an adapter. A nil logger discards everything.
func New(eng engine.Engine, logger log.Interface) *Adapter {
	if logger == nil {
		logger = logging.Discard()
	}
	outboundApp := buffer.New(eng.ApplicationBufferSize())
	outboundApp.Flip() // starts empty, ready to be wrapped
	return &Adapter{
		eng:         eng,
		log:         logger,
		inboundNet:  buffer.New(eng.RecordBufferSize()),
		outboundApp: outboundApp,
		outboundNet: buffer.New(eng.RecordBufferSize()),
	}
}

// NewServer loads the certificate bundle named by cfg, builds a server-role
// engine with the configured protocol list, and returns the adapter handle.
func NewServer(cfg *config.Config, logger log.Interface) (*Adapter, error) {
	cred, err := keystore.Load(cfg.CertificateBundle, cfg.BundlePassword)
	if err != nil {
		return nil, err
	}
	eng, err := engine.NewServer(engine.Options{
		Protocols:   cfg.Protocols(),
		Certificate: cred.CertificateDER,
		PrivateKey:  cred.PrivateKey,
	})
	if err != nil {
		return nil, err
	}
	return New(eng, logger), nil
}

// Inject appends ciphertext received from the transport to the inbound
// buffer. It performs no engine interaction and never fails.
func (a *Adapter) Inject(p []byte) {
	a.inboundNet.Put(p)
	a.log.WithFields(log.Fields{"bytes": len(p)}).Debug("injected ciphertext")
}

// Read decrypts buffered ciphertext, advancing the handshake as far as the
// available input allows, and returns the decrypted plaintext. It returns
// (nil, nil) when more input is needed and ErrSessionClosed once the peer
// has closed and nothing remains.
func (a *Adapter) Read() ([]byte, error) {
	a.inboundNet.Flip()
	if !a.inboundNet.HasRemaining() {
		a.inboundNet.Clear()
		if a.closed {
			return nil, ErrSessionClosed
		}
		return nil, nil
	}

	inboundApp := buffer.New(a.eng.ApplicationBufferSize())
	res, err := a.doOp(opUnwrap, a.inboundNet, inboundApp)
	if err != nil {
		return nil, err
	}

	// Handshake driver: keep stepping until the engine stops asking or the
	// input runs dry. The status must be re-queried every iteration; it
	// changes as a side effect of each operation.
	status := a.eng.HandshakeStatus()
	for done := false; !done; {
		switch status {
		case engine.NeedWrap:
			res, err = a.doOp(opWrap, inboundApp, a.outboundNet)
		case engine.NeedUnwrap:
			res, err = a.doOp(opUnwrap, a.inboundNet, inboundApp)
			if err == nil && res.Status == engine.StatusBufferUnderflow {
				done = true
			}
		default:
			done = true
		}
		if err != nil {
			return nil, err
		}
		status = a.eng.HandshakeStatus()
	}

	if a.inboundNet.HasRemaining() {
		a.inboundNet.Compact()
	} else {
		a.inboundNet.Clear()
	}
	if res.Status == engine.StatusClosed {
		a.closed = true
	}

	plaintext := inboundApp.Drain()
	if plaintext == nil {
		if a.closed {
			return nil, ErrSessionClosed
		}
		return nil, nil
	}
	a.log.WithFields(log.Fields{"bytes": len(plaintext)}).Debug("read plaintext")
	return plaintext, nil
}

// Write stages plaintext for encryption, replacing any not-yet-extracted
// plaintext wholesale: a second Write before the first is fully extracted
// discards the remainder of the first. This replace contract is deliberate;
// callers depend on it.
func (a *Adapter) Write(p []byte) int {
	staged := make([]byte, len(p))
	copy(staged, p)
	a.outboundApp = buffer.Wrap(staged)
	a.log.WithFields(log.Fields{"bytes": len(p)}).Debug("staged plaintext")
	return len(p)
}

// Extract returns ciphertext for the transport: first anything left queued
// by a previous wrap, then the result of wrapping staged plaintext. It
// returns (nil, nil) when there is nothing to send.
func (a *Adapter) Extract() ([]byte, error) {
	if out := a.outboundNet.Drain(); out != nil {
		a.log.WithFields(log.Fields{"bytes": len(out)}).Debug("extracted queued ciphertext")
		return out, nil
	}

	if !a.outboundApp.HasRemaining() {
		if a.closed {
			return nil, ErrSessionClosed
		}
		return nil, nil
	}

	a.outboundNet.Clear()
	res, err := a.doOp(opWrap, a.outboundApp, a.outboundNet)
	if err != nil {
		return nil, err
	}
	if res.Status == engine.StatusClosed {
		a.closed = true
	}

	out := a.outboundNet.Drain()
	if out == nil {
		if a.closed {
			return nil, ErrSessionClosed
		}
		return nil, nil
	}
	a.log.WithFields(log.Fields{"bytes": len(out)}).Debug("extracted ciphertext")
	return out, nil
}

// Close queues the engine's close alert and wraps it so the next Extract
// hands it to the transport.
func (a *Adapter) Close() error {
	if err := a.eng.Close(); err != nil {
		return err
	}
	if _, err := a.doOp(opWrap, a.outboundApp, a.outboundNet); err != nil {
		return err
	}
	a.closed = true
	return nil
}

// doOp invokes one engine primitive, growing the destination and retrying
// on overflow, stopping on underflow or completion, then drains any queued
// delegated tasks before returning.
func (a *Adapter) doOp(op engineOp, src, dst *buffer.Buffer) (engine.Result, error) {
	var res engine.Result
	var err error
	for attempt := 0; ; attempt++ {
		switch op {
		case opWrap:
			res, err = a.eng.Wrap(src, dst)
		default:
			res, err = a.eng.Unwrap(src, dst)
		}
		if err != nil {
			a.log.WithError(err).WithFields(log.Fields{"op": op.String()}).Error("engine fault")
			return res, err
		}
		if res.Status != engine.StatusBufferOverflow {
			break
		}
		if attempt >= maxOpRetries {
			return res, fmt.Errorf("%s: destination still overflowing after %d grows", op, attempt)
		}
		grow := a.eng.RecordBufferSize()
		if app := a.eng.ApplicationBufferSize(); app > grow {
			grow = app
		}
		dst.Resize(grow + dst.Position())
		a.log.WithFields(log.Fields{"op": op.String(), "capacity": dst.Capacity()}).Debug("grew destination buffer")
	}

	for a.eng.HandshakeStatus() == engine.NeedTask {
		task := a.eng.DelegatedTask()
		if task == nil {
			break
		}
		task()
	}

	a.log.WithFields(log.Fields{
		"op":       op.String(),
		"status":   res.Status.String(),
		"consumed": res.Consumed,
		"produced": res.Produced,
	}).Debug("engine op")
	return res, nil
}
