package processor

import (
	"bytes"
	"testing"

	"github.com/meshcall/framecrypt/keystore"
	"github.com/meshcall/framecrypt/mediaframe"
	"github.com/meshcall/framecrypt/replay"
)

func TestWithReplayRoundTrip(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := NewWithReplay(ks)

	wire, err := p.EncryptFrame([]byte("hello"))
	if err != nil {
		t.Fatalf("EncryptFrame failed: %v", err)
	}
	if len(wire) != mediaframe.MinLengthWithSequence+len("hello") {
		t.Fatalf("wire length = %d, want %d", len(wire), mediaframe.MinLengthWithSequence+len("hello"))
	}

	plain, ok := p.DecryptFrame(wire)
	if !ok {
		t.Fatalf("DecryptFrame failed")
	}
	if !bytes.Equal(plain, []byte("hello")) {
		t.Fatalf("plain = %q, want %q", plain, "hello")
	}
}

func TestWithReplayRejectsReplayedFrame(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := NewWithReplay(ks)

	wire, err := p.EncryptFrame([]byte("hello"))
	if err != nil {
		t.Fatalf("EncryptFrame failed: %v", err)
	}

	if _, ok := p.DecryptFrame(wire); !ok {
		t.Fatalf("first decrypt should succeed")
	}
	if _, ok := p.DecryptFrame(wire); ok {
		t.Fatalf("replayed frame should be rejected")
	}
	if p.ReplayStats().Replays != 1 {
		t.Fatalf("Replays = %d, want 1", p.ReplayStats().Replays)
	}
}

func TestWithReplayOutOfOrderWithinWindowAccepted(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := NewWithReplay(ks)

	var wires [][]byte
	for i := 0; i < 5; i++ {
		w, err := p.EncryptFrame([]byte("frame"))
		if err != nil {
			t.Fatalf("EncryptFrame failed: %v", err)
		}
		wires = append(wires, w)
	}

	// Deliver out of order: 4, 0, 1, 2, 3 — all within the window.
	order := []int{4, 0, 1, 2, 3}
	for _, i := range order {
		if _, ok := p.DecryptFrame(wires[i]); !ok {
			t.Fatalf("frame %d out of order should be accepted", i)
		}
	}
}

func TestWithReplayCustomWindowSize(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := NewWithReplay(ks, WithReplayOptions(replay.WithWindowSize(16)))

	wire, err := p.EncryptFrame([]byte("x"))
	if err != nil {
		t.Fatalf("EncryptFrame failed: %v", err)
	}
	if _, ok := p.DecryptFrame(wire); !ok {
		t.Fatalf("expected frame to decrypt")
	}
}
