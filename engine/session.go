package engine

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// cipherState is one direction of the record layer: an AEAD plus a strictly
// increasing record counter used as the nonce.
type cipherState struct {
	aead    cipher.AEAD
	counter uint64
}

func newCipherState(suite CipherSuite, key []byte) (*cipherState, error) {
	aead, err := newSuiteAEAD(suite, key)
	if err != nil {
		return nil, err
	}
	return &cipherState{aead: aead}, nil
}

func (c *cipherState) seal(aad, plaintext []byte) []byte {
	nonce := make([]byte, c.aead.NonceSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], c.counter)
	c.counter++
	return c.aead.Seal(nil, nonce, plaintext, aad)
}

func (c *cipherState) open(aad, ciphertext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], c.counter)
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, err
	}
	c.counter++
	return plaintext, nil
}

const channelLabel = "tlspump channel v1"

func initialTranscript() [32]byte {
	return sha256.Sum256([]byte(channelLabel))
}

// mixTranscript chains handshake message bytes into the running transcript
// hash.
func mixTranscript(t [32]byte, data []byte) [32]byte {
	h := sha256.New()
	h.Write(t[:])
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// deriveRecordKeys expands the ephemeral shared secret, bound to the
// transcript, into the client-write and server-write record keys.
func deriveRecordKeys(shared []byte, transcript [32]byte) (clientKey, serverKey []byte, err error) {
	reader := hkdf.New(sha256.New, shared, transcript[:], []byte("record keys"))
	clientKey = make([]byte, suiteKeySize)
	serverKey = make([]byte, suiteKeySize)
	if _, err := io.ReadFull(reader, clientKey); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(reader, serverKey); err != nil {
		return nil, nil, err
	}
	return clientKey, serverKey, nil
}

func generateScalar() ([]byte, error) {
	key := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	key[0] &= 248
	key[31] &= 127
	key[31] |= 64
	return key, nil
}

func scalarPublic(scalar []byte) ([32]byte, error) {
	var pub [32]byte
	if len(scalar) != curve25519.ScalarSize {
		return pub, errors.New("invalid private key length")
	}
	out, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], out)
	return pub, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
