// Package czero provides constant-time comparison and best-effort key
// zeroization, the "additional utilities" called out in the AEAD primitive
// contract: length-checked constant-time equality with no early exit, and
// overwrite-with-random-then-zero for retiring key material.
package czero

import "crypto/rand"

// ConstantTimeEqual reports whether a and b hold identical bytes without
// branching on the position of the first difference. Unequal lengths are
// rejected up front (a length mismatch is not itself secret), but the byte
// comparison loop never returns early.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// Zeroize overwrites b with random bytes and then zeroes it, a best-effort
// measure against compiler dead-store elimination and memory scraping. The
// Go runtime gives no hard guarantee the memory won't be copied elsewhere
// (moved by the GC, retained in a prior stack frame), so this is
// "best-effort" as the contract requires, not a guarantee.
func Zeroize(b []byte) {
	if len(b) == 0 {
		return
	}
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = 0
	}
}
