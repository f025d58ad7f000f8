// Package observability defines typed notification interfaces for the
// key store, frame processor, and session state machine: a no-op default
// for when metrics are disabled, and an atomic-swap wrapper so a
// long-lived component can have its observer (re)attached at runtime.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// KeyEventReason qualifies a key-lifecycle event.
type KeyEventReason string

const (
	KeyEventReasonOK            KeyEventReason = "ok"
	KeyEventReasonEvicted       KeyEventReason = "evicted"
	KeyEventReasonRotationFired KeyEventReason = "rotation_fired"
)

// FrameResult classifies the outcome of one EncryptFrame/DecryptFrame call.
type FrameResult string

const (
	FrameResultOK             FrameResult = "ok"
	FrameResultEncryptFailed  FrameResult = "encrypt_failed"
	FrameResultDecryptFailed  FrameResult = "decrypt_failed"
	FrameResultKeyNotFound    FrameResult = "key_not_found"
	FrameResultInvalidFrame   FrameResult = "invalid_frame"
	FrameResultReplayDetected FrameResult = "replay_detected"
	FrameResultPassThrough    FrameResult = "pass_through"
)

// KeyStoreObserver receives key-lifecycle events from a keystore.Store.
type KeyStoreObserver interface {
	KeyGenerated(generation uint8)
	KeySet(generation uint8)
	KeyRotated(from, to uint8)
	KeyExpired(generation uint8, reason KeyEventReason)
	Destroyed()
}

// ProcessorObserver receives per-frame outcome events from a processor.Processor.
type ProcessorObserver interface {
	FrameProcessed(result FrameResult, d time.Duration)
}

// SessionObserver receives state-machine transition events from a session.Machine.
type SessionObserver interface {
	Transitioned(from, to string, event string)
	TransitionRejected(from string, event string)
}

type noopKeyStoreObserver struct{}

func (noopKeyStoreObserver) KeyGenerated(uint8)               {}
func (noopKeyStoreObserver) KeySet(uint8)                     {}
func (noopKeyStoreObserver) KeyRotated(uint8, uint8)          {}
func (noopKeyStoreObserver) KeyExpired(uint8, KeyEventReason) {}
func (noopKeyStoreObserver) Destroyed()                       {}

type noopProcessorObserver struct{}

func (noopProcessorObserver) FrameProcessed(FrameResult, time.Duration) {}

type noopSessionObserver struct{}

func (noopSessionObserver) Transitioned(string, string, string) {}
func (noopSessionObserver) TransitionRejected(string, string)   {}

// NoopKeyStoreObserver is a zero-cost observer used when metrics are disabled.
var NoopKeyStoreObserver KeyStoreObserver = noopKeyStoreObserver{}

// NoopProcessorObserver is a zero-cost observer used when metrics are disabled.
var NoopProcessorObserver ProcessorObserver = noopProcessorObserver{}

// NoopSessionObserver is a zero-cost observer used when metrics are disabled.
var NoopSessionObserver SessionObserver = noopSessionObserver{}

// AtomicKeyStoreObserver swaps its delegate at runtime.
type AtomicKeyStoreObserver struct {
	once sync.Once
	v    atomic.Value
}

type keyStoreObserverHolder struct{ obs KeyStoreObserver }

// NewAtomicKeyStoreObserver returns an initialized atomic observer.
func NewAtomicKeyStoreObserver() *AtomicKeyStoreObserver {
	a := &AtomicKeyStoreObserver{}
	a.once.Do(func() { a.v.Store(&keyStoreObserverHolder{obs: NoopKeyStoreObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicKeyStoreObserver) Set(obs KeyStoreObserver) {
	if obs == nil {
		obs = NoopKeyStoreObserver
	}
	a.once.Do(func() { a.v.Store(&keyStoreObserverHolder{obs: NoopKeyStoreObserver}) })
	a.v.Store(&keyStoreObserverHolder{obs: obs})
}

func (a *AtomicKeyStoreObserver) load() KeyStoreObserver {
	a.once.Do(func() { a.v.Store(&keyStoreObserverHolder{obs: NoopKeyStoreObserver}) })
	return a.v.Load().(*keyStoreObserverHolder).obs
}

// dispatch recovers a panicking observer call so one broken listener never
// disrupts the key store's own control flow.
func (a *AtomicKeyStoreObserver) dispatch(f func(KeyStoreObserver)) {
	defer func() { _ = recover() }()
	f(a.load())
}

func (a *AtomicKeyStoreObserver) KeyGenerated(gen uint8) {
	a.dispatch(func(o KeyStoreObserver) { o.KeyGenerated(gen) })
}
func (a *AtomicKeyStoreObserver) KeySet(gen uint8) {
	a.dispatch(func(o KeyStoreObserver) { o.KeySet(gen) })
}
func (a *AtomicKeyStoreObserver) KeyRotated(from, to uint8) {
	a.dispatch(func(o KeyStoreObserver) { o.KeyRotated(from, to) })
}
func (a *AtomicKeyStoreObserver) KeyExpired(gen uint8, reason KeyEventReason) {
	a.dispatch(func(o KeyStoreObserver) { o.KeyExpired(gen, reason) })
}
func (a *AtomicKeyStoreObserver) Destroyed() {
	a.dispatch(func(o KeyStoreObserver) { o.Destroyed() })
}

// AtomicProcessorObserver swaps its delegate at runtime.
type AtomicProcessorObserver struct {
	once sync.Once
	v    atomic.Value
}

type processorObserverHolder struct{ obs ProcessorObserver }

// NewAtomicProcessorObserver returns an initialized atomic observer.
func NewAtomicProcessorObserver() *AtomicProcessorObserver {
	a := &AtomicProcessorObserver{}
	a.once.Do(func() { a.v.Store(&processorObserverHolder{obs: NoopProcessorObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicProcessorObserver) Set(obs ProcessorObserver) {
	if obs == nil {
		obs = NoopProcessorObserver
	}
	a.once.Do(func() { a.v.Store(&processorObserverHolder{obs: NoopProcessorObserver}) })
	a.v.Store(&processorObserverHolder{obs: obs})
}

func (a *AtomicProcessorObserver) load() ProcessorObserver {
	a.once.Do(func() { a.v.Store(&processorObserverHolder{obs: NoopProcessorObserver}) })
	return a.v.Load().(*processorObserverHolder).obs
}

func (a *AtomicProcessorObserver) FrameProcessed(result FrameResult, d time.Duration) {
	defer func() { _ = recover() }()
	a.load().FrameProcessed(result, d)
}

// AtomicSessionObserver swaps its delegate at runtime.
type AtomicSessionObserver struct {
	once sync.Once
	v    atomic.Value
}

type sessionObserverHolder struct{ obs SessionObserver }

// NewAtomicSessionObserver returns an initialized atomic observer.
func NewAtomicSessionObserver() *AtomicSessionObserver {
	a := &AtomicSessionObserver{}
	a.once.Do(func() { a.v.Store(&sessionObserverHolder{obs: NoopSessionObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicSessionObserver) Set(obs SessionObserver) {
	if obs == nil {
		obs = NoopSessionObserver
	}
	a.once.Do(func() { a.v.Store(&sessionObserverHolder{obs: NoopSessionObserver}) })
	a.v.Store(&sessionObserverHolder{obs: obs})
}

func (a *AtomicSessionObserver) load() SessionObserver {
	a.once.Do(func() { a.v.Store(&sessionObserverHolder{obs: NoopSessionObserver}) })
	return a.v.Load().(*sessionObserverHolder).obs
}

func (a *AtomicSessionObserver) Transitioned(from, to, event string) {
	defer func() { _ = recover() }()
	a.load().Transitioned(from, to, event)
}

func (a *AtomicSessionObserver) TransitionRejected(from, event string) {
	defer func() { _ = recover() }()
	a.load().TransitionRejected(from, event)
}
