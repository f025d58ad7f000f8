package agreement

import (
	"testing"

	"github.com/meshcall/framecrypt/crypto/aead"
)

func TestECDHAgreementMatches(t *testing.T) {
	alicePriv, alicePub, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair (alice) failed: %v", err)
	}
	bobPriv, bobPub, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair (bob) failed: %v", err)
	}

	bobParsed, err := ParsePublicKey(bobPub)
	if err != nil {
		t.Fatalf("ParsePublicKey (bob) failed: %v", err)
	}
	aliceParsed, err := ParsePublicKey(alicePub)
	if err != nil {
		t.Fatalf("ParsePublicKey (alice) failed: %v", err)
	}

	sAlice, err := alicePriv.DeriveShared(bobParsed)
	if err != nil {
		t.Fatalf("DeriveShared (alice) failed: %v", err)
	}
	sBob, err := bobPriv.DeriveShared(aliceParsed)
	if err != nil {
		t.Fatalf("DeriveShared (bob) failed: %v", err)
	}
	if sAlice != sBob {
		t.Fatalf("shared secrets differ")
	}

	keyAlice, err := DeriveAEADKey(sAlice, []byte("ctx"))
	if err != nil {
		t.Fatalf("DeriveAEADKey (alice) failed: %v", err)
	}
	keyBob, err := DeriveAEADKey(sBob, []byte("ctx"))
	if err != nil {
		t.Fatalf("DeriveAEADKey (bob) failed: %v", err)
	}

	nonce, err := aead.NewRandomNonce()
	if err != nil {
		t.Fatalf("NewRandomNonce failed: %v", err)
	}
	ct, err := aead.Encrypt(keyBob, nonce, []byte("hi alice"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	pt, err := aead.Decrypt(keyAlice, nonce, ct)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(pt) != "hi alice" {
		t.Fatalf("plaintext mismatch: %q", pt)
	}
}

func TestDeriveAEADKeyDifferentInfoDiffers(t *testing.T) {
	_, pubA, _ := GenerateKeypair()
	privB, _, _ := GenerateKeypair()
	peer, err := ParsePublicKey(pubA)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	shared, err := privB.DeriveShared(peer)
	if err != nil {
		t.Fatalf("DeriveShared failed: %v", err)
	}
	k1, err := DeriveAEADKey(shared, []byte("a"))
	if err != nil {
		t.Fatalf("DeriveAEADKey failed: %v", err)
	}
	k2, err := DeriveAEADKey(shared, []byte("b"))
	if err != nil {
		t.Fatalf("DeriveAEADKey failed: %v", err)
	}
	if k1.Export() == k2.Export() {
		t.Fatalf("expected different keys for different info bytes")
	}
}

func TestParsePublicKeyRejectsBadLength(t *testing.T) {
	if _, err := ParsePublicKey(make([]byte, 64)); err != ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
}

func TestParsePublicKeyRejectsBadPrefix(t *testing.T) {
	_, pub, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	pub[0] = 0x02
	if _, err := ParsePublicKey(pub); err == nil {
		t.Fatalf("expected error for non-0x04 prefix")
	}
}

func TestFormatFingerprint(t *testing.T) {
	_, pub, _ := GenerateKeypair()
	fp := Fingerprint(pub)
	full := FormatFingerprint(fp, 0)
	if len(full) != len(fp)*3-1 {
		t.Fatalf("unexpected formatted length: %d", len(full))
	}
	truncated := FormatFingerprint(fp, 4)
	if len(truncated) != 4*3-1 {
		t.Fatalf("unexpected truncated length: %d", len(truncated))
	}
}
