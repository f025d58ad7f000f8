// Package mediaframe implements the bit-exact binary framing for encrypted
// media frames (component C3): serialize/parse, generation peeking without
// a full parse, and the length-based pass-through heuristic that lets
// encrypted and unencrypted frames coexist in a mixed stream.
package mediaframe

import (
	"errors"

	"github.com/meshcall/framecrypt/crypto/aead"
	"github.com/meshcall/framecrypt/internal/bin"
)

// Layout selects the wire header shape a Codec commits to. A codec is
// constructed with exactly one Layout and never mixes the two within the
// lifetime of a session.
type Layout int

const (
	// Default is gen(1) ‖ iv(12) ‖ body(>=16), minimum 29 bytes.
	Default Layout = iota
	// WithSequence is gen(1) ‖ seq(4 big-endian) ‖ iv(12) ‖ body(>=16),
	// minimum 33 bytes, for sessions with replay protection enabled.
	WithSequence
)

const (
	genLen  = 1
	seqLen  = 4
	ivLen   = aead.NonceSize
	minBody = aead.TagSize

	// MinLengthDefault is the minimum total frame length under Default layout.
	MinLengthDefault = genLen + ivLen + minBody
	// MinLengthWithSequence is the minimum total frame length under WithSequence layout.
	MinLengthWithSequence = genLen + seqLen + ivLen + minBody
)

// ErrFrameTooShort indicates a buffer shorter than the codec's minimum
// length; callers treat this as "not encrypted" and pass it through rather
// than failing.
var ErrFrameTooShort = errors.New("mediaframe: frame too short")

// ErrEmptyBuffer indicates PeekGeneration was called on a zero-length
// buffer. (PeekSequence reports any buffer under 5 bytes as ErrFrameTooShort.)
var ErrEmptyBuffer = errors.New("mediaframe: empty buffer")

// Frame is the parsed representation of an on-wire encrypted media frame.
type Frame struct {
	Generation uint8
	Sequence   uint32 // Only meaningful under WithSequence layout.
	IV         [aead.NonceSize]byte
	Body       []byte // Ciphertext ‖ 16-byte GCM tag.
}

// Codec serializes and parses frames under a single fixed Layout.
type Codec struct {
	layout Layout
}

// NewCodec constructs a Codec committed to layout.
func NewCodec(layout Layout) *Codec {
	return &Codec{layout: layout}
}

// Layout reports the codec's fixed wire layout.
func (c *Codec) Layout() Layout { return c.layout }

// MinLength returns the minimum valid frame length for this codec's layout.
func (c *Codec) MinLength() int {
	if c.layout == WithSequence {
		return MinLengthWithSequence
	}
	return MinLengthDefault
}

// Serialize concatenates a Frame into its on-wire byte representation. It
// never allocates beyond the header length plus len(f.Body).
func (c *Codec) Serialize(f Frame) []byte {
	headerLen := genLen + ivLen
	if c.layout == WithSequence {
		headerLen += seqLen
	}
	out := make([]byte, 0, headerLen+len(f.Body))
	out = append(out, f.Generation)
	if c.layout == WithSequence {
		var seqBuf [seqLen]byte
		bin.PutU32BE(seqBuf[:], f.Sequence)
		out = append(out, seqBuf[:]...)
	}
	out = append(out, f.IV[:]...)
	out = append(out, f.Body...)
	return out
}

// Parse validates and decodes a wire buffer into a Frame.
func (c *Codec) Parse(buf []byte) (Frame, error) {
	if len(buf) < c.MinLength() {
		return Frame{}, ErrFrameTooShort
	}
	var f Frame
	off := 0
	f.Generation = buf[off]
	off += genLen
	if c.layout == WithSequence {
		f.Sequence = bin.U32BE(buf[off : off+seqLen])
		off += seqLen
	}
	copy(f.IV[:], buf[off:off+ivLen])
	off += ivLen
	f.Body = append([]byte(nil), buf[off:]...)
	return f, nil
}

// PeekGeneration reads the generation byte without a full parse or
// validating minimum length beyond one byte.
func PeekGeneration(buf []byte) (uint8, error) {
	if len(buf) == 0 {
		return 0, ErrEmptyBuffer
	}
	return buf[0], nil
}

// PeekSequence reads the sequence number of a WithSequence-layout frame
// without a full parse.
func PeekSequence(buf []byte) (uint32, error) {
	if len(buf) < genLen+seqLen {
		return 0, ErrFrameTooShort
	}
	return bin.U32BE(buf[genLen : genLen+seqLen]), nil
}

// IsEncrypted applies the length-based pass-through heuristic: any buffer
// shorter than the codec's minimum length is treated as unencrypted and
// should be passed through rather than parsed. Length alone cannot prove a
// buffer IS encrypted — only that it's long enough to possibly be — so
// callers pair this with a key-generation lookup before trusting it.
func (c *Codec) IsEncrypted(buf []byte) bool {
	return len(buf) >= c.MinLength()
}
