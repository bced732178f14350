package engine

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// Handshake message types, carried in handshake records.
const (
	msgClientHello byte = 1
	msgServerHello byte = 2
	msgFinished    byte = 20
)

const alertCloseNotify byte = 0

type clientHello struct {
	verMax    uint16
	verMin    uint16
	random    [32]byte
	ephemeral [32]byte
	suites    []CipherSuite
}

func encodeClientHello(ch *clientHello) []byte {
	body := make([]byte, 0, 70+2*len(ch.suites))
	body = append(body, msgClientHello)
	body = binary.BigEndian.AppendUint16(body, ch.verMax)
	body = binary.BigEndian.AppendUint16(body, ch.verMin)
	body = append(body, ch.random[:]...)
	body = append(body, ch.ephemeral[:]...)
	body = append(body, byte(len(ch.suites)))
	for _, s := range ch.suites {
		body = binary.BigEndian.AppendUint16(body, uint16(s))
	}
	return body
}

func parseClientHello(body []byte) (*clientHello, error) {
	if len(body) < 70 || body[0] != msgClientHello {
		return nil, errors.New("malformed client hello")
	}
	ch := &clientHello{
		verMax: binary.BigEndian.Uint16(body[1:3]),
		verMin: binary.BigEndian.Uint16(body[3:5]),
	}
	copy(ch.random[:], body[5:37])
	copy(ch.ephemeral[:], body[37:69])
	count := int(body[69])
	if count == 0 || len(body) < 70+2*count {
		return nil, errors.New("client hello cipher suite list truncated")
	}
	for i := 0; i < count; i++ {
		ch.suites = append(ch.suites, CipherSuite(binary.BigEndian.Uint16(body[70+2*i:])))
	}
	return ch, nil
}

type serverHello struct {
	version   uint16
	random    [32]byte
	ephemeral [32]byte
	suite     CipherSuite
	certDER   []byte
}

// encodeServerHelloCore encodes everything the server signs; the signature
// is appended afterwards to form the full message body.
func encodeServerHelloCore(sh *serverHello) []byte {
	body := make([]byte, 0, 71+len(sh.certDER))
	body = append(body, msgServerHello)
	body = binary.BigEndian.AppendUint16(body, sh.version)
	body = append(body, sh.random[:]...)
	body = append(body, sh.ephemeral[:]...)
	body = binary.BigEndian.AppendUint16(body, uint16(sh.suite))
	body = binary.BigEndian.AppendUint16(body, uint16(len(sh.certDER)))
	body = append(body, sh.certDER...)
	return body
}

func appendSignature(core, sig []byte) []byte {
	body := binary.BigEndian.AppendUint16(core, uint16(len(sig)))
	return append(body, sig...)
}

// parseServerHello splits the message into its decoded fields, the raw
// signed core and the signature. The raw core is kept verbatim so both
// sides hash identical bytes.
func parseServerHello(body []byte) (sh *serverHello, core, sig []byte, err error) {
	if len(body) < 71 || body[0] != msgServerHello {
		return nil, nil, nil, errors.New("malformed server hello")
	}
	sh = &serverHello{
		version: binary.BigEndian.Uint16(body[1:3]),
		suite:   CipherSuite(binary.BigEndian.Uint16(body[67:69])),
	}
	copy(sh.random[:], body[3:35])
	copy(sh.ephemeral[:], body[35:67])
	certLen := int(binary.BigEndian.Uint16(body[69:71]))
	if len(body) < 71+certLen+2 {
		return nil, nil, nil, errors.New("server hello certificate truncated")
	}
	sh.certDER = body[71 : 71+certLen]
	coreLen := 71 + certLen
	sigLen := int(binary.BigEndian.Uint16(body[coreLen : coreLen+2]))
	if len(body) < coreLen+2+sigLen {
		return nil, nil, nil, errors.New("server hello signature truncated")
	}
	return sh, body[:coreLen], body[coreLen+2 : coreLen+2+sigLen], nil
}

func encodeFinished(transcript [32]byte) []byte {
	body := make([]byte, 0, 33)
	body = append(body, msgFinished)
	return append(body, transcript[:]...)
}

func checkFinished(body []byte, transcript [32]byte) error {
	if len(body) != 33 || body[0] != msgFinished {
		return errors.New("malformed finished message")
	}
	if subtle.ConstantTimeCompare(body[1:], transcript[:]) != 1 {
		return errors.New("finished verification failed")
	}
	return nil
}
