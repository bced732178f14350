package engine

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherSuite identifies a negotiable AEAD construction for the record
// layer. All suites use 32-byte keys and a 16-byte tag.
type CipherSuite uint16

const (
	// CipherSuiteChaCha20Poly1305 is the default software-friendly suite.
	CipherSuiteChaCha20Poly1305 CipherSuite = 0x0001

	// CipherSuiteAES256GCM favours hardware AES acceleration.
	CipherSuiteAES256GCM CipherSuite = 0x0002

	// CipherSuiteXChaCha20Poly1305 uses the extended 24-byte nonce variant.
	CipherSuiteXChaCha20Poly1305 CipherSuite = 0x0003
)

const suiteKeySize = 32

var defaultCipherSuites = []CipherSuite{
	CipherSuiteChaCha20Poly1305,
	CipherSuiteAES256GCM,
	CipherSuiteXChaCha20Poly1305,
}

func (s CipherSuite) String() string {
	switch s {
	case CipherSuiteChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	case CipherSuiteAES256GCM:
		return "AES-256-GCM"
	case CipherSuiteXChaCha20Poly1305:
		return "XChaCha20-Poly1305"
	default:
		return fmt.Sprintf("unknown(0x%04x)", uint16(s))
	}
}

func newSuiteAEAD(suite CipherSuite, key []byte) (cipher.AEAD, error) {
	if len(key) != suiteKeySize {
		return nil, fmt.Errorf("suite %s requires a %d-byte key", suite, suiteKeySize)
	}
	switch suite {
	case CipherSuiteChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case CipherSuiteAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case CipherSuiteXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("unsupported cipher suite 0x%04x", uint16(suite))
	}
}

// negotiateSuite picks the first offered suite the local side supports,
// preserving the offerer's preference order.
func negotiateSuite(offered, supported []CipherSuite) (CipherSuite, bool) {
	for _, o := range offered {
		for _, s := range supported {
			if o == s {
				return o, true
			}
		}
	}
	return 0, false
}
