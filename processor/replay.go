package processor

import (
	"time"

	"github.com/meshcall/framecrypt/fserrors"
	"github.com/meshcall/framecrypt/mediaframe"
	"github.com/meshcall/framecrypt/observability"
	"github.com/meshcall/framecrypt/replay"
)

// ProcessorWithReplay composes a Processor over the WithSequence wire
// layout with a replay.Window, so decrypt additionally rejects frames the
// window's sliding-window decision procedure flags as too old, too far
// ahead, or already seen. Construction fixes the codec layout once; a
// session using this type never mixes it with the sequence-less Default
// layout.
type ProcessorWithReplay struct {
	proc   *Processor
	window *replay.Window
	onRepl ErrorCallback
}

// ReplayOption configures a ProcessorWithReplay at construction.
type ReplayOption func(*ProcessorWithReplay)

// WithProcessorOptions applies Processor options to the embedded Processor.
func WithProcessorOptions(opts ...Option) ReplayOption {
	return func(p *ProcessorWithReplay) {
		for _, opt := range opts {
			opt(p.proc)
		}
	}
}

// WithReplayOptions replaces the default replay.Window with one built from
// the given options.
func WithReplayOptions(opts ...replay.Option) ReplayOption {
	return func(p *ProcessorWithReplay) {
		p.window = replay.NewWindow(opts...)
	}
}

// WithReplayErrorCallback attaches a callback invoked whenever a frame is
// dropped specifically for failing the replay check (as opposed to any
// other decrypt failure, already covered by the embedded Processor's own
// ErrorCallback).
func WithReplayErrorCallback(cb ErrorCallback) ReplayOption {
	return func(p *ProcessorWithReplay) { p.onRepl = cb }
}

// NewWithReplay constructs a ProcessorWithReplay backed by provider, fixed
// to the mediaframe.WithSequence wire layout.
func NewWithReplay(provider KeyProvider, opts ...ReplayOption) *ProcessorWithReplay {
	p := &ProcessorWithReplay{
		proc:   New(provider, WithConfig(DefaultConfig())),
		window: replay.NewWindow(),
	}
	p.proc.codec = mediaframe.NewCodec(mediaframe.WithSequence)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EncryptFrame encrypts plaintext under the next sequence number and the
// provider's current key.
func (p *ProcessorWithReplay) EncryptFrame(plaintext []byte) ([]byte, error) {
	p.proc.mu.Lock()
	seq := p.proc.nextSeq
	p.proc.nextSeq++
	p.proc.mu.Unlock()
	return p.proc.encryptFrameWithSequence(plaintext, seq)
}

// DecryptFrame parses and decrypts wire, additionally rejecting frames the
// replay window flags. A frame rejected by the replay check increments the
// embedded Processor's DecryptionErrors counter and reports
// fserrors.CodeReplayDetected through both the ordinary ErrorCallback and,
// if set, WithReplayErrorCallback.
func (p *ProcessorWithReplay) DecryptFrame(wire []byte) ([]byte, bool) {
	start := time.Now()

	if !p.proc.codec.IsEncrypted(wire) {
		p.proc.mu.Lock()
		p.proc.stats.FramesPassedThrough++
		p.proc.mu.Unlock()
		p.proc.observer.FrameProcessed(observability.FrameResultPassThrough, time.Since(start))
		return wire, true
	}

	f, err := p.proc.codec.Parse(wire)
	if err != nil {
		p.proc.mu.Lock()
		p.proc.stats.DecryptionErrors++
		p.proc.mu.Unlock()
		wrapped := fserrors.Wrap(fserrors.ComponentProcessor, fserrors.CodeInvalidFrame, err, true)
		p.proc.reportError(wrapped, 0, false)
		p.proc.observer.FrameProcessed(observability.FrameResultInvalidFrame, time.Since(start))
		return nil, false
	}

	if !p.window.Check(f.Sequence) {
		p.proc.mu.Lock()
		p.proc.stats.DecryptionErrors++
		p.proc.mu.Unlock()
		wrapped := fserrors.Wrap(fserrors.ComponentProcessor, fserrors.CodeReplayDetected, nil, true)
		p.proc.reportError(wrapped, f.Generation, true)
		if p.onRepl != nil {
			p.onRepl(wrapped, f.Generation, true)
		}
		p.proc.observer.FrameProcessed(observability.FrameResultReplayDetected, time.Since(start))
		return nil, false
	}

	return p.proc.decryptParsedFrame(f, start, wire)
}

// Stats returns the embedded Processor's counter snapshot.
func (p *ProcessorWithReplay) Stats() Stats { return p.proc.Stats() }

// ReplayStats returns the embedded replay.Window's counter snapshot.
func (p *ProcessorWithReplay) ReplayStats() replay.Stats { return p.window.Stats() }
