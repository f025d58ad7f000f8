// Package aead implements the AES-GCM-256 authenticated-encryption
// primitive that every encrypted media frame is built on (component C1).
//
// Nonces are always 12 bytes, tags are always 128 bits, and keys are always
// owned by the caller: this package never retains key material beyond the
// duration of a single Encrypt/Decrypt call.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/meshcall/framecrypt/internal/czero"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// NonceSize is the GCM nonce length in bytes.
const NonceSize = 12

// TagSize is the GCM authentication tag length in bytes.
const TagSize = 16

// ErrInvalidKeySize indicates an import buffer was not exactly KeySize bytes.
var ErrInvalidKeySize = errors.New("aead: invalid key size")

// ErrAuthFailed is returned for any decryption failure: wrong key, tampered
// ciphertext, or tampered nonce are all indistinguishable from one another.
var ErrAuthFailed = errors.New("aead: authentication failed")

// Key is an opaque handle to 32 bytes of AES-256-GCM key material. It is a
// plain value type; ownership discipline (the key store exclusively owns
// long-lived keys, processors only borrow one for the duration of one call)
// is a convention enforced by the calling packages, not by this type.
type Key struct {
	b [KeySize]byte
}

// GenerateKey draws fresh key material from a cryptographically secure RNG.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k.b[:]); err != nil {
		return Key{}, fmt.Errorf("aead: generate key: %w", err)
	}
	return k, nil
}

// ImportKey validates and wraps exactly KeySize bytes of external key
// material (for example a peer-provided key received over signaling).
func ImportKey(raw []byte) (Key, error) {
	if len(raw) != KeySize {
		return Key{}, ErrInvalidKeySize
	}
	var k Key
	copy(k.b[:], raw)
	return k, nil
}

// Export returns a copy of the raw 32 key bytes.
func (k Key) Export() [KeySize]byte {
	return k.b
}

// Zeroize overwrites the key's backing array, best-effort, so a key that has
// been evicted or destroyed does not linger in memory.
func (k *Key) Zeroize() {
	czero.Zeroize(k.b[:])
}

// NewRandomNonce draws a fresh 12-byte nonce from a cryptographically secure
// RNG. Callers MUST NOT reuse a (key, nonce) pair; drawing nonces uniformly
// at random from a 96-bit space keeps accidental reuse negligible well short
// of the birthday bound for any one key's lifetime.
func NewRandomNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("aead: generate nonce: %w", err)
	}
	return n, nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.b[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if gcm.NonceSize() != NonceSize {
		return nil, fmt.Errorf("aead: unexpected gcm nonce size: %d", gcm.NonceSize())
	}
	return gcm, nil
}

// Encrypt seals plaintext under key and nonce, returning ciphertext with the
// 16-byte tag appended. len(output) == len(plaintext) + TagSize.
func Encrypt(key Key, nonce [NonceSize]byte, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce[:], plaintext, nil), nil
}

// Decrypt opens a ciphertext‖tag buffer under key and nonce. Any failure —
// wrong key, tampered ciphertext, or tampered nonce — surfaces as the single
// ErrAuthFailed sentinel.
func Decrypt(key Key, nonce [NonceSize]byte, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plain, nil
}
