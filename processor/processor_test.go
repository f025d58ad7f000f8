package processor

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/meshcall/framecrypt/keystore"
	"github.com/meshcall/framecrypt/observability"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := New(ks)

	wire, err := p.EncryptFrame([]byte("hello"))
	if err != nil {
		t.Fatalf("EncryptFrame failed: %v", err)
	}
	if len(wire) != 1+12+5+16 {
		t.Fatalf("wire length = %d, want %d", len(wire), 1+12+5+16)
	}
	if wire[0] != 1 {
		t.Fatalf("generation byte = %d, want 1", wire[0])
	}

	plain, ok := p.DecryptFrame(wire)
	if !ok {
		t.Fatalf("DecryptFrame failed")
	}
	if !bytes.Equal(plain, []byte("hello")) {
		t.Fatalf("plain = %q, want %q", plain, "hello")
	}
}

func TestDecryptRejectsTamperedBody(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := New(ks)

	wire, err := p.EncryptFrame([]byte("hello"))
	if err != nil {
		t.Fatalf("EncryptFrame failed: %v", err)
	}
	tampered := append([]byte(nil), wire...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, ok := p.DecryptFrame(tampered); ok {
		t.Fatalf("tampered frame should fail to decrypt")
	}
	if p.Stats().DecryptionErrors != 1 {
		t.Fatalf("DecryptionErrors = %d, want 1", p.Stats().DecryptionErrors)
	}
}

func TestEncryptPassesThroughWithoutKey(t *testing.T) {
	ks := keystore.New()
	p := New(ks)

	wire, err := p.EncryptFrame([]byte("hello"))
	if err != nil {
		t.Fatalf("EncryptFrame should pass through, got error: %v", err)
	}
	if !bytes.Equal(wire, []byte("hello")) {
		t.Fatalf("pass-through output = %q, want unchanged input", wire)
	}
	if p.Stats().FramesPassedThrough != 1 {
		t.Fatalf("FramesPassedThrough = %d, want 1", p.Stats().FramesPassedThrough)
	}
}

func TestEncryptFailsWithoutKeyWhenPassThroughDisabled(t *testing.T) {
	ks := keystore.New()
	p := New(ks, WithConfig(Config{PassThroughWhenNoKey: false, DropOnDecryptionError: true}))

	if _, err := p.EncryptFrame([]byte("hello")); err == nil {
		t.Fatalf("expected error when no key is set and pass-through is disabled")
	}
}

func TestDecryptPassesThroughShortBuffer(t *testing.T) {
	ks := keystore.New()
	p := New(ks)

	short := []byte("short")
	plain, ok := p.DecryptFrame(short)
	if !ok {
		t.Fatalf("short buffer should pass through")
	}
	if !bytes.Equal(plain, short) {
		t.Fatalf("pass-through output changed")
	}
}

func TestDecryptDropsUnknownGeneration(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := New(ks)

	wire, err := p.EncryptFrame([]byte("hello"))
	if err != nil {
		t.Fatalf("EncryptFrame failed: %v", err)
	}
	wire[0] = 200 // a generation the store never issued

	if _, ok := p.DecryptFrame(wire); ok {
		t.Fatalf("frame under an unknown generation should be dropped")
	}
}

func TestKeyRotationAcrossInFlightFrames(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := New(ks)

	wire, err := p.EncryptFrame([]byte("hello"))
	if err != nil {
		t.Fatalf("EncryptFrame failed: %v", err)
	}

	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	plain, ok := p.DecryptFrame(wire)
	if !ok {
		t.Fatalf("a frame encrypted under the previous generation must still decrypt after rotation")
	}
	if !bytes.Equal(plain, []byte("hello")) {
		t.Fatalf("plain = %q, want %q", plain, "hello")
	}
}

func TestHistoryEvictionDropsFramesUnderEvictedGeneration(t *testing.T) {
	ks := keystore.New(keystore.WithHistorySize(2))
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := New(ks)

	wire, err := p.EncryptFrame([]byte("hello"))
	if err != nil {
		t.Fatalf("EncryptFrame failed: %v", err)
	}

	// Two more rotations push the original generation out of history
	// entirely (cap of 2 keeps only current+previous).
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if _, ok := p.DecryptFrame(wire); ok {
		t.Fatalf("a frame under an evicted generation must be dropped")
	}
}

func TestIncrementalMeanMatchesDirectComputation(t *testing.T) {
	avg := time.Duration(0)
	samples := []time.Duration{10, 20, 30, 40}
	for i, x := range samples {
		avg = updateAvg(avg, uint64(i+1), x)
	}
	want := time.Duration(25) // (10+20+30+40)/4
	if avg != want {
		t.Fatalf("incremental mean = %v, want %v", avg, want)
	}
}

func TestStatsResampleCurrentGenerationLive(t *testing.T) {
	ks := keystore.New()
	p := New(ks)

	if p.Stats().HasCurrentGeneration {
		t.Fatalf("expected no current generation before any key is generated")
	}

	gen, err := ks.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	stats := p.Stats()
	if !stats.HasCurrentGeneration || stats.CurrentGeneration != gen {
		t.Fatalf("Stats did not resample current generation live: %+v", stats)
	}
}

func TestResetStatsZeroesCounters(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := New(ks)

	if _, err := p.EncryptFrame([]byte("hello")); err != nil {
		t.Fatalf("EncryptFrame failed: %v", err)
	}
	p.ResetStats()
	stats := p.Stats()
	if stats.FramesEncrypted != 0 || stats.BytesEncrypted != 0 {
		t.Fatalf("ResetStats did not zero counters: %+v", stats)
	}
}

func TestEncryptStreamEncryptsEveryFrame(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := New(ks)

	frames := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	out := p.EncryptStream(frames)
	if len(out) != len(frames) {
		t.Fatalf("EncryptStream dropped frames: got %d, want %d", len(out), len(frames))
	}
	for i, w := range out {
		if _, ok := p.DecryptFrame(w); !ok {
			t.Fatalf("frame %d failed to decrypt after EncryptStream", i)
		}
	}
}

func TestDecryptStreamDropsFailuresKeepsOrder(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	p := New(ks)

	var wires [][]byte
	for _, s := range []string{"a", "b", "c"} {
		w, err := p.EncryptFrame([]byte(s))
		if err != nil {
			t.Fatalf("EncryptFrame failed: %v", err)
		}
		wires = append(wires, w)
	}
	tampered := append([]byte(nil), wires[1]...)
	tampered[len(tampered)-1] ^= 0xFF
	wires[1] = tampered

	out := p.DecryptStream(wires)
	if len(out) != 2 {
		t.Fatalf("DecryptStream returned %d frames, want 2", len(out))
	}
	if string(out[0]) != "a" || string(out[1]) != "c" {
		t.Fatalf("DecryptStream order/content wrong: %q", out)
	}
}

type recordingProcessorObserver struct {
	mu      sync.Mutex
	results []observability.FrameResult
}

func (r *recordingProcessorObserver) FrameProcessed(result observability.FrameResult, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recordingProcessorObserver) last() observability.FrameResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return ""
	}
	return r.results[len(r.results)-1]
}

func TestObserverReceivesDistinctFailureResults(t *testing.T) {
	ks := keystore.New()
	if _, err := ks.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	obs := &recordingProcessorObserver{}
	p := New(ks, WithObserver(obs))

	wire, err := p.EncryptFrame([]byte("hello"))
	if err != nil {
		t.Fatalf("EncryptFrame failed: %v", err)
	}
	if got := obs.last(); got != observability.FrameResultOK {
		t.Fatalf("observer result after encrypt = %q, want %q", got, observability.FrameResultOK)
	}

	tampered := append([]byte(nil), wire...)
	tampered[len(tampered)-1] ^= 0xFF
	if _, ok := p.DecryptFrame(tampered); ok {
		t.Fatalf("tampered frame should fail to decrypt")
	}
	if got := obs.last(); got != observability.FrameResultDecryptFailed {
		t.Fatalf("observer result after tamper = %q, want %q", got, observability.FrameResultDecryptFailed)
	}
}
