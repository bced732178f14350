// Package keystore loads and provisions the certificate bundle the server
// engine authenticates with. A bundle is a PEM file holding one CERTIFICATE
// block and a private key block, either plain PKCS#8 or sealed under a
// password.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// ErrCredentialLoad wraps every bundle loading failure. It is fatal at
// initialization time; callers do not retry.
var ErrCredentialLoad = errors.New("credential load failed")

const (
	certificateBlock = "CERTIFICATE"
	plainKeyBlock    = "PRIVATE KEY"
	sealedKeyBlock   = "SEALED PRIVATE KEY"

	sealSaltSize   = 16
	sealIterations = 4096
)

// Credential is a parsed bundle: the certificate presented to peers and the
// Ed25519 key that signs handshake transcripts.
type Credential struct {
	Certificate    *x509.Certificate
	CertificateDER []byte
	PrivateKey     ed25519.PrivateKey
}

// Load reads a bundle from path. The password is required when the key
// block is sealed and must be empty when it is not.
func Load(path, password string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialLoad, err)
	}
	var certDER, keyDER []byte
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case certificateBlock:
			if certDER == nil {
				certDER = block.Bytes
			}
		case plainKeyBlock:
			keyDER = block.Bytes
		case sealedKeyBlock:
			keyDER, err = unsealKey(block.Bytes, password)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCredentialLoad, err)
			}
		}
	}
	if certDER == nil {
		return nil, fmt.Errorf("%w: bundle %s holds no certificate", ErrCredentialLoad, path)
	}
	if keyDER == nil {
		return nil, fmt.Errorf("%w: bundle %s holds no private key", ErrCredentialLoad, path)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialLoad, err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialLoad, err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: bundle key is %T, want Ed25519", ErrCredentialLoad, parsed)
	}
	return &Credential{Certificate: cert, CertificateDER: certDER, PrivateKey: key}, nil
}

// Generate provisions a fresh self-signed Ed25519 credential for the given
// host name, valid for a year.
func Generate(host string) (*Credential, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, err
	}
	return &Credential{Certificate: cert, CertificateDER: certDER, PrivateKey: priv}, nil
}

// Save writes the credential as a PEM bundle. A non-empty password seals the
// key block.
func (c *Credential) Save(path, password string) error {
	keyDER, err := x509.MarshalPKCS8PrivateKey(c.PrivateKey)
	if err != nil {
		return err
	}
	keyBlock := &pem.Block{Type: plainKeyBlock, Bytes: keyDER}
	if password != "" {
		sealed, err := sealKey(keyDER, password)
		if err != nil {
			return err
		}
		keyBlock = &pem.Block{Type: sealedKeyBlock, Bytes: sealed}
	}
	out := pem.EncodeToMemory(&pem.Block{Type: certificateBlock, Bytes: c.CertificateDER})
	out = append(out, pem.EncodeToMemory(keyBlock)...)
	return os.WriteFile(path, out, 0o600)
}

// Sealed key layout: salt (16) | nonce (24) | chacha20poly1305-x ciphertext.
func sealKey(keyDER []byte, password string) ([]byte, error) {
	salt := make([]byte, sealSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(deriveSealKey(password, salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := append([]byte(nil), salt...)
	out = append(out, nonce...)
	return append(out, aead.Seal(nil, nonce, keyDER, nil)...), nil
}

func unsealKey(sealed []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("bundle key is sealed and no password was given")
	}
	if len(sealed) < sealSaltSize+chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed key block truncated")
	}
	salt := sealed[:sealSaltSize]
	nonce := sealed[sealSaltSize : sealSaltSize+chacha20poly1305.NonceSizeX]
	aead, err := chacha20poly1305.NewX(deriveSealKey(password, salt))
	if err != nil {
		return nil, err
	}
	keyDER, err := aead.Open(nil, nonce, sealed[sealSaltSize+chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, errors.New("wrong bundle password")
	}
	return keyDER, nil
}

func deriveSealKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, sealIterations, chacha20poly1305.KeySize, sha256.New)
}
