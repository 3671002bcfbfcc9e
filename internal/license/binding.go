package license

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// BindingTagSize is the length of a derived hardware binding tag.
	BindingTagSize = 32

	// MinBindingSecretSize is the minimum accepted issuer binding secret.
	MinBindingSecretSize = 16

	bindingInfoLabel = "qml-hardware-binding-v1"
)

// DeriveBindingTag derives the tag tying a license to one machine identity.
// The derivation is HKDF-SHA256 keyed by the issuer binding secret with the
// machine identity folded into the info string, so the same (machine, secret)
// pair always yields the same tag while different machines yield unrelated
// ones. The function is deterministic and performs no I/O.
func DeriveBindingTag(machineID string, secret []byte) ([]byte, error) {
	if machineID == "" {
		return nil, errors.New("machine id is empty")
	}
	if len(secret) < MinBindingSecretSize {
		return nil, fmt.Errorf("binding secret must be at least %d bytes", MinBindingSecretSize)
	}

	kdf := hkdf.New(sha256.New, secret, nil, []byte(bindingInfoLabel+"|"+machineID))
	tag := make([]byte, BindingTagSize)
	if _, err := io.ReadFull(kdf, tag); err != nil {
		return nil, fmt.Errorf("derive binding tag: %w", err)
	}
	return tag, nil
}

// VerifyBindingTag recomputes the binding tag for the given machine identity
// and compares it against the claimed tag in constant time.
func VerifyBindingTag(machineID string, secret, claimed []byte) bool {
	expected, err := DeriveBindingTag(machineID, secret)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, claimed) == 1
}
