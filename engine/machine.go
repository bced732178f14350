package engine

import (
	"crypto/ed25519"
	"errors"
)

// Options configures a concrete engine. The server side must carry a
// certificate and its Ed25519 signing key; the client side verifies the
// server's signature with the public key embedded in the received
// certificate (chain validation is the caller's business, not ours).
type Options struct {
	// Protocols is the enabled protocol-name list; empty selects the modern
	// default set.
	Protocols []string

	// CipherSuites in preference order; empty enables all supported suites.
	CipherSuites []CipherSuite

	// Certificate is the server certificate in DER form.
	Certificate []byte

	// PrivateKey signs the server hello transcript.
	PrivateKey ed25519.PrivateKey
}

type role int

const (
	roleClient role = iota
	roleServer
)

// Handshake phases, named for the flight each one is waiting on or about to
// produce.
type hsPhase int

const (
	phaseClientHello hsPhase = iota
	phaseServerHello
	phaseClientFinished
	phaseServerFinished
	phaseEstablished
)

// machine is the concrete Engine: a four-flight signed-ephemeral handshake
// followed by an AEAD record layer. All state transitions happen inside
// Wrap, Unwrap and the delegated tasks; the machine itself never blocks and
// never touches a socket.
type machine struct {
	role     role
	phase    hsPhase
	versions []uint16
	suites   []CipherSuite

	certDER []byte
	signKey ed25519.PrivateKey

	localPriv   []byte
	localPub    [32]byte
	remotePub   [32]byte
	localRandom [32]byte
	shared      []byte

	transcript [32]byte
	version    uint16
	suite      CipherSuite

	tasks   []func()
	pending []byte
	send    *cipherState
	recv    *cipherState

	fault       error
	closeQueued bool
	closeSent   bool
	closeRcvd   bool
}

// NewServer builds a server-role engine waiting for a client hello.
func NewServer(opts Options) (Engine, error) {
	m, err := newMachine(roleServer, opts)
	if err != nil {
		return nil, err
	}
	if len(m.certDER) == 0 || len(m.signKey) != ed25519.PrivateKeySize {
		return nil, errors.New("server engine requires a certificate and signing key")
	}
	return m, nil
}

// NewClient builds a client-role engine that will initiate the handshake on
// its first wrap.
func NewClient(opts Options) (Engine, error) {
	m, err := newMachine(roleClient, opts)
	if err != nil {
		return nil, err
	}
	m.localPriv, err = generateScalar()
	if err != nil {
		return nil, err
	}
	m.localPub, err = scalarPublic(m.localPriv)
	if err != nil {
		return nil, err
	}
	random, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.localRandom[:], random)
	return m, nil
}

func newMachine(r role, opts Options) (*machine, error) {
	versions, err := resolveProtocols(opts.Protocols)
	if err != nil {
		return nil, err
	}
	suites := opts.CipherSuites
	if len(suites) == 0 {
		suites = defaultCipherSuites
	}
	return &machine{
		role:       r,
		phase:      phaseClientHello,
		versions:   versions,
		suites:     suites,
		certDER:    opts.Certificate,
		signKey:    opts.PrivateKey,
		transcript: initialTranscript(),
	}, nil
}

func (m *machine) RecordBufferSize() int      { return recordHeaderSize + maxRecordBody }
func (m *machine) ApplicationBufferSize() int { return maxPlaintext }

func (m *machine) Close() error {
	if m.fault != nil {
		return m.fault
	}
	m.closeQueued = true
	return nil
}

func (m *machine) DelegatedTask() func() {
	if len(m.tasks) == 0 {
		return nil
	}
	task := m.tasks[0]
	m.tasks = m.tasks[1:]
	return task
}

func (m *machine) HandshakeStatus() HandshakeState {
	// A latched fault reports need-wrap so the driver performs one more
	// operation and surfaces the error instead of silently stopping.
	if m.fault != nil {
		return NeedWrap
	}
	if len(m.tasks) > 0 {
		return NeedTask
	}
	if m.phase == phaseEstablished {
		if m.closeQueued && !m.closeSent {
			return NeedWrap
		}
		return NotHandshaking
	}
	if m.wrapTurn() {
		return NeedWrap
	}
	return NeedUnwrap
}

// wrapTurn reports whether the current phase is one this role produces.
func (m *machine) wrapTurn() bool {
	switch m.phase {
	case phaseClientHello, phaseClientFinished:
		return m.role == roleClient
	case phaseServerHello, phaseServerFinished:
		return m.role == roleServer
	default:
		return false
	}
}

// wireVersion is the version stamped on outgoing record headers: the
// negotiated version once known, otherwise the highest offered.
func (m *machine) wireVersion() uint16 {
	if m.version != 0 {
		return m.version
	}
	_, max := versionBounds(m.versions)
	return max
}
