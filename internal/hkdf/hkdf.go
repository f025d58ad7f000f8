// Package hkdf implements HKDF (RFC 5869) extract/expand over SHA-256.
package hkdf

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"hash"
)

const sha256Size = 32

// ErrInvalidLength indicates a negative or overlong expand request.
var ErrInvalidLength = errors.New("hkdf: invalid output length")

// ExtractSHA256 performs HKDF-Extract using SHA-256: PRK = HMAC-Hash(salt, IKM).
func ExtractSHA256(salt []byte, ikm []byte) [sha256Size]byte {
	return extract(sha256.New, salt, ikm)
}

// ExpandSHA256 performs HKDF-Expand using SHA-256, producing outLen bytes of
// output keying material from a pseudorandom key and optional info bytes.
func ExpandSHA256(prk [sha256Size]byte, info []byte, outLen int) ([]byte, error) {
	if outLen < 0 {
		return nil, ErrInvalidLength
	}
	return expand(sha256.New, prk[:], info, outLen)
}

// DeriveKey is a convenience wrapper combining extract+expand into a single
// fixed-size key, matching crypto/agreement's "zero-salt HKDF" usage.
func DeriveKey(salt []byte, ikm []byte, info []byte, outLen int) ([]byte, error) {
	prk := ExtractSHA256(salt, ikm)
	return ExpandSHA256(prk, info, outLen)
}

func extract(hashFn func() hash.Hash, salt []byte, ikm []byte) [sha256Size]byte {
	mac := hmac.New(hashFn, salt)
	_, _ = mac.Write(ikm)
	var out [sha256Size]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func expand(hashFn func() hash.Hash, prk []byte, info []byte, outLen int) ([]byte, error) {
	if outLen == 0 {
		return []byte{}, nil
	}
	n := (outLen + sha256Size - 1) / sha256Size
	if n > 255 {
		return nil, ErrInvalidLength
	}

	okm := make([]byte, 0, n*sha256Size)
	var t []byte
	for i := 1; i <= n; i++ {
		mac := hmac.New(hashFn, prk)
		_, _ = mac.Write(t)
		_, _ = mac.Write(info)
		_, _ = mac.Write([]byte{byte(i)})
		t = mac.Sum(nil)
		okm = append(okm, t...)
	}
	return okm[:outLen], nil
}
