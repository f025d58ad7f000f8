// Package keystore implements the bounded-history AEAD key store (component
// C4): current/previous/history generations, eviction by maximal modular
// distance, optional auto-rotation, and atomic publication so readers on
// the media path never observe a torn key.
package keystore

import (
	"sync"
	"time"

	"github.com/meshcall/framecrypt/crypto/aead"
	"github.com/meshcall/framecrypt/crypto/agreement"
	"github.com/meshcall/framecrypt/fserrors"
	"github.com/meshcall/framecrypt/internal/timeutil"
	"github.com/meshcall/framecrypt/observability"
)

// DefaultHistorySize is the total number of generations retained (current,
// previous, and older) absent an explicit WithHistorySize option.
const DefaultHistorySize = 5

// snapshot is the store's entire retained key state, published atomically:
// readers always see either the old or the new snapshot, never a mix.
type snapshot struct {
	entries     map[uint8]aead.Key
	currentGen  uint8
	hasCurrent  bool
	previousGen uint8
	hasPrevious bool
}

// Store is a bounded-history AEAD key store with optional auto-rotation.
type Store struct {
	mu          sync.RWMutex
	snap        snapshot
	historySize int
	observer    *observability.AtomicKeyStoreObserver
	clock       timeutil.Clock

	rotateMu       sync.Mutex
	rotateInterval time.Duration // 0 means auto-rotation disabled
	rotateStop     func()        // nil when the timer has not started yet
	destroyed      bool
}

// Option configures a Store at construction.
type Option func(*Store)

// WithHistorySize overrides DefaultHistorySize: the total number of
// generations retained at once. A size of 0 is special-cased to mean "no
// history beyond current+previous" (effectively a cap of 2), since a
// literal cap of zero would leave no key to encrypt with.
func WithHistorySize(n int) Option {
	return func(s *Store) { s.historySize = n }
}

// WithClock overrides the real clock, for deterministic rotation-timer tests.
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithObserver attaches a KeyStoreObserver at construction.
func WithObserver(o observability.KeyStoreObserver) Option {
	return func(s *Store) { s.observer.Set(o) }
}

// WithAutoRotation enables automatic rotation every interval. The timer
// starts on the first successful Generate call, not at construction.
func WithAutoRotation(interval time.Duration) Option {
	return func(s *Store) { s.rotateInterval = interval }
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		historySize: DefaultHistorySize,
		observer:    observability.NewAtomicKeyStoreObserver(),
		clock:       timeutil.RealClock{},
		snap:        snapshot{entries: make(map[uint8]aead.Key)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) effectiveCap() int {
	if s.historySize <= 0 {
		return 2
	}
	return s.historySize
}

func nextGen(current uint8, hasCurrent bool) uint8 {
	if !hasCurrent {
		return 1
	}
	return current + 1 // wraps mod 256 by uint8 overflow
}

// dist is the modular distance used for eviction: how many generations
// behind currentGen the generation g sits, wrapping at 256. Because every
// retained generation is a distinct byte value, dist is injective over the
// retained set, so the "farthest" entry is always unique.
func dist(currentGen, g uint8) uint8 {
	return currentGen - g
}

// publish installs key under generation gen as the new current, demoting
// the old current to previous, and evicts the farthest-by-distance
// generation(s) until the retained set fits within the store's cap. The
// whole snapshot is rebuilt and swapped under the write lock so readers
// never see an intermediate state.
func (s *Store) publish(gen uint8, key aead.Key) {
	entries := make(map[uint8]aead.Key, len(s.snap.entries)+1)
	for g, k := range s.snap.entries {
		entries[g] = k
	}
	entries[gen] = key

	next := snapshot{
		entries:     entries,
		currentGen:  gen,
		hasCurrent:  true,
		previousGen: s.snap.currentGen,
		hasPrevious: s.snap.hasCurrent,
	}

	capacity := s.effectiveCap()
	var evicted []uint8
	for len(next.entries) > capacity {
		var worstGen uint8
		var worstDist uint8
		found := false
		for g := range next.entries {
			if g == next.currentGen {
				continue
			}
			d := dist(next.currentGen, g)
			if !found || d > worstDist {
				worstGen, worstDist, found = g, d, true
			}
		}
		if !found {
			break
		}
		evicted = append(evicted, worstGen)
		delete(next.entries, worstGen)
		if next.hasPrevious && next.previousGen == worstGen {
			next.hasPrevious = false
		}
	}

	old := s.snap.entries
	s.snap = next
	for _, g := range evicted {
		// g is already deleted from entries; zeroize the copy the replaced
		// snapshot's map still holds.
		if k, ok := old[g]; ok {
			k.Zeroize()
			old[g] = k
		}
		s.observer.KeyExpired(g, observability.KeyEventReasonEvicted)
	}
}

// Generate draws a fresh AEAD key, advances current, and returns the new
// generation.
func (s *Store) Generate() (uint8, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return 0, fserrors.Wrap(fserrors.ComponentKeyStore, fserrors.CodeDestroyed, nil, false)
	}
	key, err := aead.GenerateKey()
	if err != nil {
		s.mu.Unlock()
		return 0, fserrors.Wrap(fserrors.ComponentKeyStore, fserrors.CodeKeyGenerationFailed, err, true)
	}
	gen := nextGen(s.snap.currentGen, s.snap.hasCurrent)
	s.publish(gen, key)
	s.mu.Unlock()

	s.observer.KeyGenerated(gen)
	s.ensureRotationStarted()
	return gen, nil
}

// Set installs an externally provided key at an explicit generation, used
// on receipt of a peer's key over signaling.
func (s *Store) Set(key aead.Key, gen uint8) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return fserrors.Wrap(fserrors.ComponentKeyStore, fserrors.CodeDestroyed, nil, false)
	}
	s.publish(gen, key)
	s.mu.Unlock()

	s.observer.KeySet(gen)
	return nil
}

// Import validates raw key bytes and delegates to Set.
func (s *Store) Import(raw []byte, gen uint8) error {
	key, err := aead.ImportKey(raw)
	if err != nil {
		return fserrors.Wrap(fserrors.ComponentKeyStore, fserrors.CodeInvalidKey, err, true)
	}
	return s.Set(key, gen)
}

// ExportCurrent returns the raw 32 bytes of the current key.
func (s *Store) ExportCurrent() ([32]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return [32]byte{}, fserrors.Wrap(fserrors.ComponentKeyStore, fserrors.CodeDestroyed, nil, false)
	}
	if !s.snap.hasCurrent {
		return [32]byte{}, fserrors.Wrap(fserrors.ComponentKeyStore, fserrors.CodeKeyNotFound, nil, true)
	}
	return s.snap.entries[s.snap.currentGen].Export(), nil
}

// KeyFor looks up the key for a given generation among all retained
// generations. The bool is false if no matching generation is held.
func (s *Store) KeyFor(gen uint8) (aead.Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return aead.Key{}, false
	}
	k, ok := s.snap.entries[gen]
	return k, ok
}

// EncryptionKey implements processor.KeyProvider.
func (s *Store) EncryptionKey() (aead.Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed || !s.snap.hasCurrent {
		return aead.Key{}, false
	}
	return s.snap.entries[s.snap.currentGen], true
}

// DecryptionKey implements processor.KeyProvider.
func (s *Store) DecryptionKey(gen uint8) (aead.Key, bool) {
	return s.KeyFor(gen)
}

// CurrentGeneration implements processor.KeyProvider.
func (s *Store) CurrentGeneration() (uint8, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed || !s.snap.hasCurrent {
		return 0, false
	}
	return s.snap.currentGen, true
}

// Rotate generates a fresh key and emits a key-rotated event in addition
// to the key-generated event Generate already emits.
func (s *Store) Rotate() (uint8, error) {
	s.mu.RLock()
	from := s.snap.currentGen
	hadCurrent := s.snap.hasCurrent
	s.mu.RUnlock()

	to, err := s.Generate()
	if err != nil {
		return 0, err
	}
	if !hadCurrent {
		from = to
	}
	s.observer.KeyRotated(from, to)
	return to, nil
}

// FingerprintCurrent returns the SHA-256 fingerprint of the current key's
// raw bytes.
func (s *Store) FingerprintCurrent() ([32]byte, error) {
	raw, err := s.ExportCurrent()
	if err != nil {
		return [32]byte{}, err
	}
	return agreement.Fingerprint(raw[:]), nil
}

// FormattedFingerprint renders the current key's fingerprint as uppercase
// colon-separated hex.
func (s *Store) FormattedFingerprint() (string, error) {
	fp, err := s.FingerprintCurrent()
	if err != nil {
		return "", err
	}
	return agreement.FormatFingerprint(fp, 0), nil
}

// ensureRotationStarted starts the auto-rotation timer on the first
// successful Generate call, per the configured interval. A zero interval
// (auto-rotation not requested) or an already-running timer are no-ops.
func (s *Store) ensureRotationStarted() {
	if s.rotateInterval <= 0 {
		return
	}
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()
	if s.rotateStop != nil {
		return
	}
	ticks, stop := s.clock.NewTicker(s.rotateInterval)
	s.rotateStop = stop
	go func() {
		for range ticks {
			if _, err := s.Rotate(); err != nil {
				return
			}
		}
	}()
}

// Destroy stops auto-rotation, zeroizes and clears all held keys, and
// notifies observers. Destroy is idempotent.
func (s *Store) Destroy() {
	s.rotateMu.Lock()
	if s.rotateStop != nil {
		s.rotateStop()
		s.rotateStop = nil
	}
	s.rotateMu.Unlock()

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	for g, k := range s.snap.entries {
		k.Zeroize()
		s.snap.entries[g] = k
	}
	s.snap = snapshot{entries: make(map[uint8]aead.Key)}
	s.destroyed = true
	s.mu.Unlock()

	s.observer.Destroyed()
}
