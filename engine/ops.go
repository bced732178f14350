package engine

import (
	"crypto/ed25519"
	"crypto/x509"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"tlspump/buffer"
)

// Wrap produces at most one record into dst. During the handshake it emits
// the pending flight and consumes nothing from src; once established it
// seals up to one record's worth of plaintext from src.
func (m *machine) Wrap(src, dst *buffer.Buffer) (Result, error) {
	if m.fault != nil {
		return Result{}, m.fault
	}
	if len(m.tasks) > 0 {
		return Result{Status: StatusOK}, nil
	}
	if m.phase != phaseEstablished {
		if !m.wrapTurn() {
			return Result{Status: StatusOK}, nil
		}
		return m.wrapHandshake(dst)
	}
	return m.wrapAppData(src, dst)
}

func (m *machine) wrapHandshake(dst *buffer.Buffer) (Result, error) {
	switch {
	case m.role == roleClient && m.phase == phaseClientHello:
		body := encodeClientHello(m.buildClientHello())
		res, ok := m.emitPlainRecord(dst, recordTypeHandshake, body)
		if !ok {
			return res, nil
		}
		m.transcript = mixTranscript(m.transcript, body)
		m.phase = phaseServerHello
		return res, nil

	case m.role == roleServer && m.phase == phaseServerHello:
		res, ok := m.emitPlainRecord(dst, recordTypeHandshake, m.pending)
		if !ok {
			return res, nil
		}
		m.pending = nil
		m.phase = phaseClientFinished
		return res, nil

	case m.role == roleClient && m.phase == phaseClientFinished:
		res, ok := m.emitSealedRecord(dst, recordTypeHandshake, encodeFinished(m.transcript))
		if !ok {
			return res, nil
		}
		m.phase = phaseServerFinished
		return res, nil

	case m.role == roleServer && m.phase == phaseServerFinished:
		res, ok := m.emitSealedRecord(dst, recordTypeHandshake, encodeFinished(m.transcript))
		if !ok {
			return res, nil
		}
		m.phase = phaseEstablished
		return res, nil
	}
	return Result{Status: StatusOK}, nil
}

func (m *machine) wrapAppData(src, dst *buffer.Buffer) (Result, error) {
	if m.closeQueued && !m.closeSent {
		res, ok := m.emitSealedRecord(dst, recordTypeAlert, []byte{alertCloseNotify})
		if !ok {
			return res, nil
		}
		m.closeSent = true
		res.Status = StatusClosed
		return res, nil
	}
	if m.closeSent {
		return Result{Status: StatusClosed}, nil
	}
	plaintext := src.Bytes()
	if len(plaintext) == 0 {
		return Result{Status: StatusOK}, nil
	}
	if len(plaintext) > maxPlaintext {
		plaintext = plaintext[:maxPlaintext]
	}
	res, ok := m.emitSealedRecord(dst, recordTypeAppData, plaintext)
	if !ok {
		return res, nil
	}
	src.Advance(len(plaintext))
	res.Consumed = len(plaintext)
	return res, nil
}

func (m *machine) emitPlainRecord(dst *buffer.Buffer, typ byte, body []byte) (Result, bool) {
	need := recordHeaderSize + len(body)
	if dst.Remaining() < need {
		return Result{Status: StatusBufferOverflow}, false
	}
	var header [recordHeaderSize]byte
	putRecordHeader(header[:], typ, m.wireVersion(), len(body))
	dst.Put(header[:])
	dst.Put(body)
	return Result{Status: StatusOK, Produced: need}, true
}

func (m *machine) emitSealedRecord(dst *buffer.Buffer, typ byte, plaintext []byte) (Result, bool) {
	need := recordHeaderSize + len(plaintext) + aeadOverhead
	if dst.Remaining() < need {
		return Result{Status: StatusBufferOverflow}, false
	}
	var header [recordHeaderSize]byte
	putRecordHeader(header[:], typ, m.wireVersion(), len(plaintext)+aeadOverhead)
	dst.Put(header[:])
	dst.Put(m.send.seal(header[:], plaintext))
	return Result{Status: StatusOK, Produced: need}, true
}

// Unwrap decodes at most one complete record from src into dst. A partial
// record reports underflow and consumes nothing; application plaintext that
// would not fit dst reports overflow and consumes nothing.
func (m *machine) Unwrap(src, dst *buffer.Buffer) (Result, error) {
	if m.fault != nil {
		return Result{}, m.fault
	}
	if len(m.tasks) > 0 {
		return Result{Status: StatusOK}, nil
	}
	if m.closeRcvd {
		return Result{Status: StatusClosed}, nil
	}

	raw := src.Bytes()
	typ, _, n, ok := parseRecordHeader(raw)
	if !ok {
		return Result{Status: StatusBufferUnderflow}, nil
	}
	if err := checkRecordType(typ); err != nil {
		return Result{}, m.latch(err)
	}
	if n > maxRecordBody {
		return Result{}, m.latch(fmt.Errorf("oversized record: %d bytes", n))
	}
	if len(raw) < recordHeaderSize+n {
		return Result{Status: StatusBufferUnderflow}, nil
	}
	header := raw[:recordHeaderSize]
	body := raw[recordHeaderSize : recordHeaderSize+n]

	if m.phase != phaseEstablished {
		if m.wrapTurn() {
			// Not our record to read yet; leave it buffered.
			return Result{Status: StatusOK}, nil
		}
		res, err := m.unwrapHandshake(typ, header, body)
		if err != nil {
			return Result{}, err
		}
		if res.Consumed > 0 {
			src.Advance(res.Consumed)
		}
		return res, nil
	}

	return m.unwrapAppData(typ, header, body, src, dst)
}

func (m *machine) unwrapHandshake(typ byte, header, body []byte) (Result, error) {
	if typ != recordTypeHandshake {
		return Result{}, m.latch(fmt.Errorf("record type %d during handshake", typ))
	}
	consumed := recordHeaderSize + len(body)

	switch {
	case m.role == roleServer && m.phase == phaseClientHello:
		if err := m.processClientHello(body); err != nil {
			return Result{}, m.latch(err)
		}
		m.phase = phaseServerHello
		return Result{Status: StatusOK, Consumed: consumed}, nil

	case m.role == roleClient && m.phase == phaseServerHello:
		if err := m.processServerHello(body); err != nil {
			return Result{}, m.latch(err)
		}
		m.phase = phaseClientFinished
		return Result{Status: StatusOK, Consumed: consumed}, nil

	case m.role == roleServer && m.phase == phaseClientFinished,
		m.role == roleClient && m.phase == phaseServerFinished:
		plaintext, err := m.recv.open(header, body)
		if err != nil {
			return Result{}, m.latch(errors.New("record authentication failed"))
		}
		if err := checkFinished(plaintext, m.transcript); err != nil {
			return Result{}, m.latch(err)
		}
		if m.role == roleServer {
			m.phase = phaseServerFinished
		} else {
			m.phase = phaseEstablished
		}
		return Result{Status: StatusOK, Consumed: consumed}, nil
	}
	return Result{}, m.latch(errors.New("handshake message out of order"))
}

func (m *machine) unwrapAppData(typ byte, header, body []byte, src, dst *buffer.Buffer) (Result, error) {
	if typ == recordTypeHandshake {
		// Renegotiation is not supported.
		return Result{}, m.latch(errors.New("unexpected handshake record after handshake completion"))
	}
	if typ == recordTypeAppData && dst.Remaining() < len(body)-aeadOverhead {
		// Report overflow before decrypting so the record counter is not
		// burned; nothing is consumed or produced.
		return Result{Status: StatusBufferOverflow}, nil
	}
	plaintext, err := m.recv.open(header, body)
	if err != nil {
		return Result{}, m.latch(errors.New("record authentication failed"))
	}
	consumed := recordHeaderSize + len(body)
	src.Advance(consumed)

	if typ == recordTypeAlert {
		if len(plaintext) == 1 && plaintext[0] == alertCloseNotify {
			m.closeRcvd = true
			return Result{Status: StatusClosed, Consumed: consumed}, nil
		}
		return Result{}, m.latch(fmt.Errorf("fatal alert from peer: %v", plaintext))
	}
	dst.Put(plaintext)
	return Result{Status: StatusOK, Consumed: consumed, Produced: len(plaintext)}, nil
}

func (m *machine) buildClientHello() *clientHello {
	min, max := versionBounds(m.versions)
	ch := &clientHello{verMax: max, verMin: min, suites: m.suites}
	ch.random = m.localRandom
	ch.ephemeral = m.localPub
	return ch
}

// processClientHello negotiates version and suite, then defers the expensive
// cryptography (ephemeral keygen, shared secret, transcript signature, key
// schedule) as delegated tasks.
func (m *machine) processClientHello(body []byte) error {
	ch, err := parseClientHello(body)
	if err != nil {
		return err
	}
	version, ok := negotiateVersion(m.versions, ch.verMin, ch.verMax)
	if !ok {
		return fmt.Errorf("no mutual protocol version (peer offered %s..%s)",
			versionName(ch.verMin), versionName(ch.verMax))
	}
	suite, ok := negotiateSuite(ch.suites, m.suites)
	if !ok {
		return errors.New("no mutual cipher suite")
	}
	m.version = version
	m.suite = suite
	m.remotePub = ch.ephemeral
	m.transcript = mixTranscript(m.transcript, body)

	m.tasks = append(m.tasks,
		func() {
			priv, err := generateScalar()
			if err == nil {
				m.localPriv = priv
				m.localPub, err = scalarPublic(priv)
			}
			if err == nil {
				m.shared, err = curve25519.X25519(m.localPriv, m.remotePub[:])
			}
			if err != nil {
				m.fault = fmt.Errorf("key agreement failed: %w", err)
			}
		},
		func() {
			if m.fault != nil {
				return
			}
			random, err := randomBytes(32)
			if err != nil {
				m.fault = err
				return
			}
			copy(m.localRandom[:], random)
			sh := &serverHello{
				version:   m.version,
				random:    m.localRandom,
				ephemeral: m.localPub,
				suite:     m.suite,
				certDER:   m.certDER,
			}
			core := encodeServerHelloCore(sh)
			digest := mixTranscript(m.transcript, core)
			sig := ed25519.Sign(m.signKey, digest[:])
			m.pending = appendSignature(core, sig)
			m.transcript = mixTranscript(m.transcript, m.pending)
			m.fault = m.installRecordKeys()
		},
	)
	return nil
}

// processServerHello stashes the flight and defers the shared-secret
// computation and signature verification as delegated tasks.
func (m *machine) processServerHello(body []byte) error {
	sh, core, sig, err := parseServerHello(body)
	if err != nil {
		return err
	}
	if !containsVersion(m.versions, sh.version) {
		return fmt.Errorf("server chose disabled protocol %s", versionName(sh.version))
	}
	if _, ok := negotiateSuite([]CipherSuite{sh.suite}, m.suites); !ok {
		return fmt.Errorf("server chose unsupported cipher suite %s", sh.suite)
	}
	m.version = sh.version
	m.suite = sh.suite
	m.remotePub = sh.ephemeral

	core = append([]byte(nil), core...)
	sig = append([]byte(nil), sig...)
	body = append([]byte(nil), body...)
	certDER := append([]byte(nil), sh.certDER...)

	m.tasks = append(m.tasks,
		func() {
			shared, err := curve25519.X25519(m.localPriv, m.remotePub[:])
			if err != nil {
				m.fault = fmt.Errorf("key agreement failed: %w", err)
				return
			}
			m.shared = shared
		},
		func() {
			if m.fault != nil {
				return
			}
			cert, err := x509.ParseCertificate(certDER)
			if err != nil {
				m.fault = fmt.Errorf("peer certificate unparseable: %w", err)
				return
			}
			pub, ok := cert.PublicKey.(ed25519.PublicKey)
			if !ok {
				m.fault = errors.New("peer certificate does not carry an Ed25519 key")
				return
			}
			digest := mixTranscript(m.transcript, core)
			if !ed25519.Verify(pub, digest[:], sig) {
				m.fault = errors.New("handshake signature verification failed")
				return
			}
			m.transcript = mixTranscript(m.transcript, body)
			m.fault = m.installRecordKeys()
		},
	)
	return nil
}

func (m *machine) installRecordKeys() error {
	clientKey, serverKey, err := deriveRecordKeys(m.shared, m.transcript)
	if err != nil {
		return err
	}
	sendKey, recvKey := clientKey, serverKey
	if m.role == roleServer {
		sendKey, recvKey = serverKey, clientKey
	}
	if m.send, err = newCipherState(m.suite, sendKey); err != nil {
		return err
	}
	m.recv, err = newCipherState(m.suite, recvKey)
	return err
}

// latch records a fault; every later operation fails with it.
func (m *machine) latch(err error) error {
	if m.fault == nil {
		m.fault = err
	}
	return m.fault
}
