package license

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	licenseErrors "qmlcli/internal/errors"
)

// Token wire layout, all fields concatenated before base58 encoding:
//
//	version (1) || license id (16) || nonce (24) || ciphertext || signature (64)
//
// The signature covers everything before it, so validation can reject forged
// or corrupted tokens before paying for key derivation and decryption.
const (
	tokenVersion = 0x01

	tokenHeaderSize = 1 + 16
	tokenNonceSize  = chacha20poly1305.NonceSizeX
	tokenMinSize    = tokenHeaderSize + tokenNonceSize + chacha20poly1305.Overhead + ed25519.SignatureSize

	// MinMasterSecretSize is the minimum accepted content-key master secret.
	MinMasterSecretSize = 32

	contentKeyInfoLabel = "qml-license-content-key-v1"
)

// Engine seals and opens license tokens. It holds the issuer's long-term
// Ed25519 signing key and the master secret from which per-license content
// keys are derived. No two licenses share a confidentiality key: the content
// key is HKDF output salted with the license id.
type Engine struct {
	signingKey   ed25519.PrivateKey
	verifyKey    ed25519.PublicKey
	masterSecret []byte
}

// NewEngine creates a crypto engine from the issuer keys.
func NewEngine(signingKey ed25519.PrivateKey, masterSecret []byte) (*Engine, error) {
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(signingKey))
	}
	if len(masterSecret) < MinMasterSecretSize {
		return nil, fmt.Errorf("master secret must be at least %d bytes", MinMasterSecretSize)
	}
	return &Engine{
		signingKey:   signingKey,
		verifyKey:    signingKey.Public().(ed25519.PublicKey),
		masterSecret: masterSecret,
	}, nil
}

// NewVerifyOnlyEngine creates an engine that can open tokens but not seal
// them, for deployments that hold only the issuer's public key and master
// secret.
func NewVerifyOnlyEngine(verifyKey ed25519.PublicKey, masterSecret []byte) (*Engine, error) {
	if len(verifyKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("verify key must be %d bytes, got %d", ed25519.PublicKeySize, len(verifyKey))
	}
	if len(masterSecret) < MinMasterSecretSize {
		return nil, fmt.Errorf("master secret must be at least %d bytes", MinMasterSecretSize)
	}
	return &Engine{verifyKey: verifyKey, masterSecret: masterSecret}, nil
}

// contentKey derives the per-license ChaCha20-Poly1305 key.
func (e *Engine) contentKey(licenseID [16]byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, e.masterSecret, licenseID[:], []byte(contentKeyInfoLabel))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive content key: %w", err)
	}
	return key, nil
}

// Seal canonically encodes the license, encrypts it under the per-license
// content key, signs the result, and returns an opaque base58 token safe to
// place in headers or config files.
func (e *Engine) Seal(lic *License) (string, error) {
	if e.signingKey == nil {
		return "", errors.New("engine has no signing key")
	}

	plaintext, err := EncodePayload(lic)
	if err != nil {
		return "", err
	}

	id, err := uuid.Parse(lic.ID)
	if err != nil {
		return "", licenseErrors.Wrap(licenseErrors.KindMalformedPayload, "license id is not a uuid", err)
	}

	key, err := e.contentKey(id)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("create aead: %w", err)
	}

	buf := make([]byte, tokenHeaderSize+tokenNonceSize, tokenHeaderSize+tokenNonceSize+len(plaintext)+chacha20poly1305.Overhead+ed25519.SignatureSize)
	buf[0] = tokenVersion
	copy(buf[1:], id[:])
	if _, err := rand.Read(buf[tokenHeaderSize : tokenHeaderSize+tokenNonceSize]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	nonce := buf[tokenHeaderSize : tokenHeaderSize+tokenNonceSize]
	buf = aead.Seal(buf, nonce, plaintext, buf[:tokenHeaderSize])

	sig := ed25519.Sign(e.signingKey, buf)
	buf = append(buf, sig...)

	return base58.Encode(buf), nil
}

// Open verifies and decrypts a sealed token. Verification order is fixed:
// signature first (tamper is cheap to detect), then AEAD decryption, then
// canonical decoding. Each stage reports its own error kind so callers can
// distinguish forgery from corruption from issuer bugs.
func (e *Engine) Open(token string) (*License, error) {
	raw, err := base58.Decode(token)
	if err != nil {
		return nil, licenseErrors.Wrap(licenseErrors.KindMalformedPayload, "token is not valid base58", err)
	}
	if len(raw) < tokenMinSize {
		return nil, licenseErrors.Newf(licenseErrors.KindMalformedPayload, "token too short: %d bytes", len(raw))
	}

	signed := raw[:len(raw)-ed25519.SignatureSize]
	sig := raw[len(raw)-ed25519.SignatureSize:]
	if !ed25519.Verify(e.verifyKey, signed, sig) {
		return nil, licenseErrors.New(licenseErrors.KindInvalidSignature, "issuer signature verification failed")
	}

	// The version byte is covered by the signature, so a mismatch here means
	// an authentic token from a different format generation.
	if raw[0] != tokenVersion {
		return nil, licenseErrors.Newf(licenseErrors.KindMalformedPayload, "unsupported token version %d", raw[0])
	}

	var id [16]byte
	copy(id[:], raw[1:tokenHeaderSize])

	key, err := e.contentKey(id)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}

	nonce := signed[tokenHeaderSize : tokenHeaderSize+tokenNonceSize]
	ciphertext := signed[tokenHeaderSize+tokenNonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, signed[:tokenHeaderSize])
	if err != nil {
		return nil, licenseErrors.Wrap(licenseErrors.KindDecryptionFailed, "authentication tag mismatch", err)
	}

	lic, err := DecodePayload(plaintext)
	if err != nil {
		return nil, err
	}
	if lic.ID != uuid.UUID(id).String() {
		return nil, licenseErrors.New(licenseErrors.KindMalformedPayload, "token header id does not match payload")
	}

	lic.Signature = append([]byte(nil), sig...)
	return lic, nil
}

// VerifyKey returns the issuer's public verification key.
func (e *Engine) VerifyKey() ed25519.PublicKey {
	return e.verifyKey
}
