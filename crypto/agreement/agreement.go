// Package agreement implements the ECDH P-256 key agreement that bootstraps
// a shared AEAD key between two participants (component C2): ephemeral
// keypair generation, shared-secret derivation, SEC1 public-key encoding,
// HKDF-SHA256 key derivation, and fingerprint display for out-of-band
// verification.
package agreement

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/meshcall/framecrypt/crypto/aead"
	"github.com/meshcall/framecrypt/internal/hkdf"
)

// PublicKeySize is the SEC1 uncompressed P-256 public key length: 0x04 ‖ X(32) ‖ Y(32).
const PublicKeySize = 65

// SharedSecretSize is the length of a P-256 ECDH shared secret in bytes.
const SharedSecretSize = 32

// ErrInvalidPublicKey indicates a buffer that is not a 65-byte SEC1
// uncompressed point with the 0x04 prefix.
var ErrInvalidPublicKey = errors.New("agreement: invalid public key")

func curve() ecdh.Curve { return ecdh.P256() }

// PrivateKey wraps an ephemeral P-256 private key. It is never extractable:
// the only operations exposed are public-key export and shared-secret
// derivation.
type PrivateKey struct {
	priv *ecdh.PrivateKey
}

// GenerateKeypair creates a fresh ephemeral P-256 keypair.
func GenerateKeypair() (PrivateKey, []byte, error) {
	priv, err := curve().GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, nil, fmt.Errorf("agreement: generate keypair: %w", err)
	}
	return PrivateKey{priv: priv}, priv.PublicKey().Bytes(), nil
}

// ParsePublicKey decodes and validates a peer's SEC1 uncompressed public key.
func ParsePublicKey(raw []byte) (*ecdh.PublicKey, error) {
	if len(raw) != PublicKeySize || raw[0] != 0x04 {
		return nil, ErrInvalidPublicKey
	}
	pub, err := curve().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// DeriveShared computes the 32-byte ECDH shared secret with a peer's public key.
func (p PrivateKey) DeriveShared(peer *ecdh.PublicKey) ([SharedSecretSize]byte, error) {
	secret, err := p.priv.ECDH(peer)
	if err != nil {
		return [SharedSecretSize]byte{}, fmt.Errorf("agreement: derive shared secret: %w", err)
	}
	var out [SharedSecretSize]byte
	copy(out[:], secret)
	return out, nil
}

// PublicKeyBytes returns this private key's SEC1 uncompressed public key.
func (p PrivateKey) PublicKeyBytes() []byte {
	return p.priv.PublicKey().Bytes()
}

// DeriveAEADKey expands a shared secret into an AEAD key via HKDF-SHA256
// with a zero 32-byte salt. Differing info bytes MUST (and do, by HKDF's
// construction) yield unrelated keys from the same shared secret, which is
// what lets a single ECDH handshake bootstrap independent directional keys.
func DeriveAEADKey(shared [SharedSecretSize]byte, info []byte) (aead.Key, error) {
	var zeroSalt [sha256.Size]byte
	okm, err := hkdf.DeriveKey(zeroSalt[:], shared[:], info, aead.KeySize)
	if err != nil {
		return aead.Key{}, fmt.Errorf("agreement: derive aead key: %w", err)
	}
	return aead.ImportKey(okm)
}

// Fingerprint returns the SHA-256 digest of a SEC1-encoded public key, used
// for out-of-band verification between participants.
func Fingerprint(publicKeyBytes []byte) [sha256.Size]byte {
	return sha256.Sum256(publicKeyBytes)
}

// FormatFingerprint renders a fingerprint as uppercase, colon-separated hex,
// optionally truncated to the first truncateTo bytes (0 means full length).
func FormatFingerprint(fp [sha256.Size]byte, truncateTo int) string {
	n := len(fp)
	if truncateTo > 0 && truncateTo < n {
		n = truncateTo
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%02X", fp[i])
	}
	return strings.Join(parts, ":")
}
