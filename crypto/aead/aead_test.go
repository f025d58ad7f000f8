package aead

import "testing"

func TestRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	nonce, err := NewRandomNonce()
	if err != nil {
		t.Fatalf("NewRandomNonce failed: %v", err)
	}
	plaintext := []byte("hello")
	ct, err := Encrypt(key, nonce, plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if len(ct) != len(plaintext)+TagSize {
		t.Fatalf("ciphertext length = %d, want %d", len(ct), len(plaintext)+TagSize)
	}
	pt, err := Decrypt(key, nonce, ct)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, plaintext)
	}
}

func TestTamperDetected(t *testing.T) {
	key, _ := GenerateKey()
	nonce, _ := NewRandomNonce()
	ct, err := Encrypt(key, nonce, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	tampered := append([]byte{}, ct...)
	tampered[0] ^= 0xff
	if _, err := Decrypt(key, nonce, tampered); err != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}

	tamperedNonce := nonce
	tamperedNonce[0] ^= 0xff
	if _, err := Decrypt(key, tamperedNonce, ct); err != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed for tampered nonce, got %v", err)
	}
}

func TestKeyIsolation(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	nonce, _ := NewRandomNonce()
	ct, err := Encrypt(key1, nonce, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := Decrypt(key2, nonce, ct); err != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed for wrong key, got %v", err)
	}
}

func TestImportKeyValidatesLength(t *testing.T) {
	if _, err := ImportKey(make([]byte, 31)); err != ErrInvalidKeySize {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
	raw := make([]byte, KeySize)
	raw[0] = 0x42
	k, err := ImportKey(raw)
	if err != nil {
		t.Fatalf("ImportKey failed: %v", err)
	}
	if k.Export()[0] != 0x42 {
		t.Fatalf("exported key does not match imported bytes")
	}
}

func TestIVUniquenessStatistical(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping statistical IV uniqueness check in short mode")
	}
	const n = 200_000
	seen := make(map[[NonceSize]byte]struct{}, n)
	for i := 0; i < n; i++ {
		nonce, err := NewRandomNonce()
		if err != nil {
			t.Fatalf("NewRandomNonce failed: %v", err)
		}
		if _, dup := seen[nonce]; dup {
			t.Fatalf("nonce collision observed after %d draws", i)
		}
		seen[nonce] = struct{}{}
	}
}

func TestZeroizeClearsKey(t *testing.T) {
	key, _ := GenerateKey()
	key.Zeroize()
	raw := key.Export()
	for _, b := range raw {
		if b != 0 {
			t.Fatalf("key not zeroized: %x", raw)
		}
	}
}
