package engine

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"tlspump/buffer"
)

func testCredential(t *testing.T) (certDER []byte, key ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "engine-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return der, priv
}

func newPair(t *testing.T, clientOpts, serverOpts Options) (client, server Engine) {
	t.Helper()
	certDER, key := testCredential(t)
	serverOpts.Certificate = certDER
	serverOpts.PrivateKey = key
	server, err := NewServer(serverOpts)
	if err != nil {
		t.Fatalf("new server engine: %v", err)
	}
	client, err = NewClient(clientOpts)
	if err != nil {
		t.Fatalf("new client engine: %v", err)
	}
	return client, server
}

func runTasks(e Engine) {
	for {
		task := e.DelegatedTask()
		if task == nil {
			return
		}
		task()
	}
}

// driveHandshake pumps both engines until neither needs handshake action,
// returning an error message via t.Fatalf when the exchange stalls.
func driveHandshake(t *testing.T, client, server Engine) {
	t.Helper()
	clientIn := buffer.New(client.RecordBufferSize())
	serverIn := buffer.New(server.RecordBufferSize())
	sink := buffer.New(client.ApplicationBufferSize())

	step := func(e Engine, in, peerIn *buffer.Buffer) bool {
		runTasks(e)
		switch e.HandshakeStatus() {
		case NeedWrap:
			out := buffer.New(e.RecordBufferSize())
			if _, err := e.Wrap(buffer.Wrap(nil), out); err != nil {
				t.Fatalf("handshake wrap: %v", err)
			}
			runTasks(e)
			if flight := out.Drain(); flight != nil {
				peerIn.Put(flight)
				return true
			}
		case NeedUnwrap:
			in.Flip()
			res, err := e.Unwrap(in, sink)
			if err != nil {
				t.Fatalf("handshake unwrap: %v", err)
			}
			in.Compact()
			runTasks(e)
			if res.Status != StatusBufferUnderflow && res.Consumed > 0 {
				return true
			}
		}
		return false
	}

	for i := 0; i < 32; i++ {
		progressed := step(client, clientIn, serverIn)
		progressed = step(server, serverIn, clientIn) || progressed
		if client.HandshakeStatus() == NotHandshaking && server.HandshakeStatus() == NotHandshaking {
			return
		}
		if !progressed {
			t.Fatalf("handshake stalled: client=%v server=%v",
				client.HandshakeStatus(), server.HandshakeStatus())
		}
	}
	t.Fatal("handshake did not converge")
}

func TestHandshakeAndRecordRoundTrip(t *testing.T) {
	client, server := newPair(t, Options{}, Options{})
	driveHandshake(t, client, server)

	msg := []byte("the quick brown fox")
	out := buffer.New(client.RecordBufferSize())
	res, err := client.Wrap(buffer.Wrap(append([]byte(nil), msg...)), out)
	if err != nil {
		t.Fatalf("wrap app data: %v", err)
	}
	if res.Consumed != len(msg) {
		t.Fatalf("consumed %d of %d plaintext bytes", res.Consumed, len(msg))
	}

	in := buffer.Wrap(out.Drain())
	plain := buffer.New(server.ApplicationBufferSize())
	res, err = server.Unwrap(in, plain)
	if err != nil {
		t.Fatalf("unwrap app data: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("unexpected status %v", res.Status)
	}
	if got := plain.Drain(); !bytes.Equal(got, msg) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestUnwrapReportsUnderflowOnPartialRecord(t *testing.T) {
	client, server := newPair(t, Options{}, Options{})

	out := buffer.New(client.RecordBufferSize())
	if _, err := client.Wrap(buffer.Wrap(nil), out); err != nil {
		t.Fatalf("client hello wrap: %v", err)
	}
	hello := out.Drain()

	plain := buffer.New(server.ApplicationBufferSize())
	for _, cut := range []int{3, len(hello) - 1} {
		res, err := server.Unwrap(buffer.Wrap(hello[:cut]), plain)
		if err != nil {
			t.Fatalf("unwrap partial record: %v", err)
		}
		if res.Status != StatusBufferUnderflow {
			t.Fatalf("cut at %d: expected underflow, got %v", cut, res.Status)
		}
	}

	res, err := server.Unwrap(buffer.Wrap(hello), plain)
	if err != nil {
		t.Fatalf("unwrap full record: %v", err)
	}
	if res.Status != StatusOK || res.Consumed != len(hello) {
		t.Fatalf("full record not consumed: %+v", res)
	}
}

func TestWrapReportsOverflowWithoutConsuming(t *testing.T) {
	client, server := newPair(t, Options{}, Options{})
	driveHandshake(t, client, server)

	msg := []byte("overflow probe")
	src := buffer.Wrap(append([]byte(nil), msg...))
	tiny := buffer.New(4)
	res, err := client.Wrap(src, tiny)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if res.Status != StatusBufferOverflow || res.Consumed != 0 || res.Produced != 0 {
		t.Fatalf("expected clean overflow, got %+v", res)
	}
	if src.Remaining() != len(msg) {
		t.Fatal("overflow consumed source bytes")
	}

	tiny.Resize(client.RecordBufferSize())
	if res, err = client.Wrap(src, tiny); err != nil || res.Status != StatusOK {
		t.Fatalf("wrap after grow: %v %+v", err, res)
	}
}

func TestLegacyPeerRejectedWhenDisabled(t *testing.T) {
	client, server := newPair(t,
		Options{Protocols: []string{"SSLv2Hello", "SSLv3"}},
		Options{}, // modern defaults only
	)

	out := buffer.New(client.RecordBufferSize())
	if _, err := client.Wrap(buffer.Wrap(nil), out); err != nil {
		t.Fatalf("client hello wrap: %v", err)
	}
	plain := buffer.New(server.ApplicationBufferSize())
	if _, err := server.Unwrap(buffer.Wrap(out.Drain()), plain); err == nil {
		t.Fatal("server accepted an SSLv3-only peer with legacy disabled")
	}
}

func TestLegacyPeerAcceptedWhenEnabled(t *testing.T) {
	client, server := newPair(t,
		Options{Protocols: []string{"SSLv2Hello", "SSLv3"}},
		Options{Protocols: []string{"SSLv2Hello", "SSLv3", "TLSv1", "TLSv1.1", "TLSv1.2"}},
	)
	driveHandshake(t, client, server)
}

func TestSuiteNegotiationPrefersClientOrder(t *testing.T) {
	client, server := newPair(t,
		Options{CipherSuites: []CipherSuite{CipherSuiteAES256GCM, CipherSuiteChaCha20Poly1305}},
		Options{},
	)
	driveHandshake(t, client, server)
	if got := client.(*machine).suite; got != CipherSuiteAES256GCM {
		t.Fatalf("negotiated %v, want AES-256-GCM", got)
	}
	if got := server.(*machine).suite; got != CipherSuiteAES256GCM {
		t.Fatalf("server negotiated %v, want AES-256-GCM", got)
	}
}

func TestCloseAlertRoundTrip(t *testing.T) {
	client, server := newPair(t, Options{}, Options{})
	driveHandshake(t, client, server)

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	out := buffer.New(client.RecordBufferSize())
	res, err := client.Wrap(buffer.Wrap(nil), out)
	if err != nil {
		t.Fatalf("wrap close alert: %v", err)
	}
	if res.Status != StatusClosed {
		t.Fatalf("expected closed status from close wrap, got %v", res.Status)
	}

	plain := buffer.New(server.ApplicationBufferSize())
	res, err = server.Unwrap(buffer.Wrap(out.Drain()), plain)
	if err != nil {
		t.Fatalf("unwrap close alert: %v", err)
	}
	if res.Status != StatusClosed {
		t.Fatalf("expected closed status, got %v", res.Status)
	}
	if res, _ = server.Unwrap(buffer.Wrap(nil), plain); res.Status != StatusClosed {
		t.Fatalf("closed engine should stay closed, got %v", res.Status)
	}
}

func TestTamperedRecordFaultsEngine(t *testing.T) {
	client, server := newPair(t, Options{}, Options{})
	driveHandshake(t, client, server)

	out := buffer.New(client.RecordBufferSize())
	if _, err := client.Wrap(buffer.Wrap([]byte("payload")), out); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	record := out.Drain()
	record[len(record)-1] ^= 0x01

	plain := buffer.New(server.ApplicationBufferSize())
	if _, err := server.Unwrap(buffer.Wrap(record), plain); err == nil {
		t.Fatal("tampered record accepted")
	}
	// The fault must latch.
	if _, err := server.Wrap(buffer.Wrap([]byte("x")), buffer.New(64)); err == nil {
		t.Fatal("engine usable after fault")
	}
}

func TestResolveProtocols(t *testing.T) {
	if _, err := resolveProtocols([]string{"TLSv9"}); err == nil {
		t.Fatal("unknown protocol accepted")
	}
	versions, err := resolveProtocols([]string{"SSLv2Hello", "TLSv1.2"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(versions) != 1 || versions[0] != protocolVersionIDs["TLSv1.2"] {
		t.Fatalf("unexpected versions %v", versions)
	}
	if _, err := resolveProtocols([]string{"SSLv2Hello"}); err == nil {
		t.Fatal("hello-only list should enable no versions")
	}
}
