// Package processor implements the frame processor (component C6): the
// inline encrypt/decrypt hot path that borrows keys from a KeyProvider,
// maintains running counters, and applies the pass-through/drop policy
// that keeps a single bad frame from ever tearing down a session.
package processor

import (
	"sync"
	"time"

	"github.com/meshcall/framecrypt/crypto/aead"
	"github.com/meshcall/framecrypt/fserrors"
	"github.com/meshcall/framecrypt/mediaframe"
	"github.com/meshcall/framecrypt/observability"
)

// KeyProvider is the three-method view a Processor needs into a key
// source. keystore.Store implements it directly; callers MUST ensure
// every method is non-blocking and safe to call from any goroutine.
type KeyProvider interface {
	EncryptionKey() (aead.Key, bool)
	DecryptionKey(gen uint8) (aead.Key, bool)
	CurrentGeneration() (uint8, bool)
}

// Stats is a snapshot of a Processor's counters, returned by value.
type Stats struct {
	FramesEncrypted      uint64
	FramesDecrypted      uint64
	FramesPassedThrough  uint64
	BytesEncrypted       uint64
	EncryptionErrors     uint64
	DecryptionErrors     uint64
	AvgEncryptTime       time.Duration
	AvgDecryptTime       time.Duration
	CurrentGeneration    uint8
	HasCurrentGeneration bool
}

// ErrorCallback receives a non-fatal per-frame failure. It MUST NOT block.
type ErrorCallback func(err error, generation uint8, hasGeneration bool)

// Config tunes a Processor's pass-through/drop policy.
type Config struct {
	// PassThroughWhenNoKey: the encrypt path returns plaintext unchanged
	// if no encryption key is currently set. Default true.
	PassThroughWhenNoKey bool
	// DropOnDecryptionError: the decrypt path drops (returns ok=false) on
	// an AEAD failure instead of returning the ciphertext unchanged.
	// Default true.
	DropOnDecryptionError bool
}

// DefaultConfig is permissive: pass plaintext through unchanged when no
// key is set, and drop a frame outright on decryption failure.
func DefaultConfig() Config {
	return Config{PassThroughWhenNoKey: true, DropOnDecryptionError: true}
}

// Processor is the single-stream, synchronous encrypt/decrypt hot path.
// It is not safe for concurrent use by multiple goroutines on the same
// stream; independent Processor instances for independent streams are
// safe to run in parallel.
type Processor struct {
	provider KeyProvider
	cfg      Config
	codec    *mediaframe.Codec
	onError  ErrorCallback
	observer *observability.AtomicProcessorObserver

	mu      sync.Mutex
	stats   Stats
	nextSeq uint32 // only advanced/used via ProcessorWithReplay
}

// Option configures a Processor at construction.
type Option func(*Processor)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(p *Processor) { p.cfg = cfg }
}

// WithErrorCallback attaches a callback invoked on every recoverable
// per-frame error.
func WithErrorCallback(cb ErrorCallback) Option {
	return func(p *Processor) { p.onError = cb }
}

// WithObserver attaches a ProcessorObserver at construction.
func WithObserver(o observability.ProcessorObserver) Option {
	return func(p *Processor) { p.observer.Set(o) }
}

// New constructs a Processor over the Default wire layout (no sequence
// number). Use NewWithReplay for sessions with replay protection.
func New(provider KeyProvider, opts ...Option) *Processor {
	p := &Processor{
		provider: provider,
		cfg:      DefaultConfig(),
		codec:    mediaframe.NewCodec(mediaframe.Default),
		observer: observability.NewAtomicProcessorObserver(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) reportError(err error, gen uint8, hasGen bool) {
	if p.onError != nil {
		p.onError(err, gen, hasGen)
	}
}

// updateAvg applies the incremental-mean update avg += (x-avg)/n.
func updateAvg(avg time.Duration, n uint64, x time.Duration) time.Duration {
	return avg + (x-avg)/time.Duration(n)
}

// EncryptFrame encrypts plaintext under the provider's current key. If no
// key is set, it either passes plaintext through unchanged or fails,
// depending on Config.PassThroughWhenNoKey.
func (p *Processor) EncryptFrame(plaintext []byte) ([]byte, error) {
	return p.encryptFrameWithSequence(plaintext, 0)
}

func (p *Processor) encryptFrameWithSequence(plaintext []byte, seq uint32) ([]byte, error) {
	start := time.Now()
	key, ok := p.provider.EncryptionKey()
	if !ok {
		p.mu.Lock()
		p.stats.FramesPassedThrough++
		p.mu.Unlock()
		p.observer.FrameProcessed(observability.FrameResultPassThrough, time.Since(start))
		if p.cfg.PassThroughWhenNoKey {
			return plaintext, nil
		}
		return nil, fserrors.Wrap(fserrors.ComponentProcessor, fserrors.CodeKeyNotFound, nil, true)
	}

	gen, _ := p.provider.CurrentGeneration()
	nonce, err := aead.NewRandomNonce()
	if err != nil {
		p.mu.Lock()
		p.stats.EncryptionErrors++
		p.mu.Unlock()
		wrapped := fserrors.Wrap(fserrors.ComponentProcessor, fserrors.CodeEncryptionFailed, err, true)
		p.reportError(wrapped, gen, true)
		p.observer.FrameProcessed(observability.FrameResultEncryptFailed, time.Since(start))
		if p.cfg.PassThroughWhenNoKey {
			return plaintext, nil
		}
		return nil, wrapped
	}

	body, err := aead.Encrypt(key, nonce, plaintext)
	if err != nil {
		p.mu.Lock()
		p.stats.EncryptionErrors++
		p.mu.Unlock()
		wrapped := fserrors.Wrap(fserrors.ComponentProcessor, fserrors.CodeEncryptionFailed, err, true)
		p.reportError(wrapped, gen, true)
		p.observer.FrameProcessed(observability.FrameResultEncryptFailed, time.Since(start))
		if p.cfg.PassThroughWhenNoKey {
			return plaintext, nil
		}
		return nil, wrapped
	}

	wire := p.codec.Serialize(mediaframe.Frame{Generation: gen, Sequence: seq, IV: nonce, Body: body})

	elapsed := time.Since(start)
	p.mu.Lock()
	p.stats.FramesEncrypted++
	p.stats.BytesEncrypted += uint64(len(wire))
	p.stats.AvgEncryptTime = updateAvg(p.stats.AvgEncryptTime, p.stats.FramesEncrypted, elapsed)
	p.mu.Unlock()
	p.observer.FrameProcessed(observability.FrameResultOK, elapsed)

	return wire, nil
}

// DecryptFrame decrypts a wire frame. A buffer too short to be encrypted is
// returned unchanged with ok=true (pass-through). ok is false when the frame
// was dropped (unknown key generation, or an AEAD authentication failure
// under DropOnDecryptionError); the returned byte slice is then nil.
// Decryption failures are never fatal: they surface
// only through the error callback and the DecryptionErrors counter.
func (p *Processor) DecryptFrame(wire []byte) ([]byte, bool) {
	start := time.Now()

	if !p.codec.IsEncrypted(wire) {
		p.mu.Lock()
		p.stats.FramesPassedThrough++
		p.mu.Unlock()
		p.observer.FrameProcessed(observability.FrameResultPassThrough, time.Since(start))
		return wire, true
	}

	f, err := p.codec.Parse(wire)
	if err != nil {
		p.mu.Lock()
		p.stats.DecryptionErrors++
		p.mu.Unlock()
		wrapped := fserrors.Wrap(fserrors.ComponentProcessor, fserrors.CodeInvalidFrame, err, true)
		p.reportError(wrapped, 0, false)
		p.observer.FrameProcessed(observability.FrameResultInvalidFrame, time.Since(start))
		return nil, false
	}

	return p.decryptParsedFrame(f, start, wire)
}

// decryptParsedFrame runs key lookup, AEAD decryption, counters, and
// observer notification for an already-parsed frame. Shared by DecryptFrame
// and ProcessorWithReplay.DecryptFrame, which parses the wire itself so it
// can run the replay check before committing to an AEAD call.
func (p *Processor) decryptParsedFrame(f mediaframe.Frame, start time.Time, wire []byte) ([]byte, bool) {
	key, ok := p.provider.DecryptionKey(f.Generation)
	if !ok {
		p.mu.Lock()
		p.stats.DecryptionErrors++
		p.mu.Unlock()
		wrapped := fserrors.Wrap(fserrors.ComponentProcessor, fserrors.CodeKeyNotFound, nil, true)
		p.reportError(wrapped, f.Generation, true)
		p.observer.FrameProcessed(observability.FrameResultKeyNotFound, time.Since(start))
		return nil, false
	}

	plain, err := aead.Decrypt(key, f.IV, f.Body)
	if err != nil {
		p.mu.Lock()
		p.stats.DecryptionErrors++
		p.mu.Unlock()
		wrapped := fserrors.Wrap(fserrors.ComponentProcessor, fserrors.CodeDecryptionFailed, err, true)
		p.reportError(wrapped, f.Generation, true)
		p.observer.FrameProcessed(observability.FrameResultDecryptFailed, time.Since(start))
		if p.cfg.DropOnDecryptionError {
			return nil, false
		}
		return wire, true
	}

	elapsed := time.Since(start)
	p.mu.Lock()
	p.stats.FramesDecrypted++
	p.stats.AvgDecryptTime = updateAvg(p.stats.AvgDecryptTime, p.stats.FramesDecrypted, elapsed)
	p.mu.Unlock()
	p.observer.FrameProcessed(observability.FrameResultOK, elapsed)

	return plain, true
}

// Stats returns a snapshot of the processor's counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.stats
	snap.CurrentGeneration, snap.HasCurrentGeneration = p.provider.CurrentGeneration()
	return snap
}

// ResetStats zeroes every counter except the key provider's current
// generation, which is re-sampled fresh rather than preserved from the
// old snapshot.
func (p *Processor) ResetStats() {
	p.mu.Lock()
	p.stats = Stats{}
	p.mu.Unlock()
}

// EncryptStream encrypts each buffer in frames in order, forwarding
// outputs in the same order (strict FIFO). If encrypting one frame panics
// unexpectedly, that frame is forwarded unchanged rather than aborting the
// stream.
func (p *Processor) EncryptStream(frames [][]byte) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = p.encryptStreamOne(f)
	}
	return out
}

func (p *Processor) encryptStreamOne(frame []byte) (result []byte) {
	defer func() {
		if recover() != nil {
			result = frame
		}
	}()
	wire, err := p.EncryptFrame(frame)
	if err != nil {
		return frame
	}
	return wire
}

// DecryptStream decrypts each buffer in frames in order, forwarding
// outputs in the same order (strict FIFO) and dropping entries that fail
// to decrypt or that panic unexpectedly.
func (p *Processor) DecryptStream(frames [][]byte) [][]byte {
	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		if plain, ok := p.decryptStreamOne(f); ok {
			out = append(out, plain)
		}
	}
	return out
}

func (p *Processor) decryptStreamOne(frame []byte) (result []byte, ok bool) {
	defer func() {
		if recover() != nil {
			result, ok = nil, false
		}
	}()
	return p.DecryptFrame(frame)
}
