// Package replay implements the sliding-window replay filter (component
// C5): a per-sender decision procedure over a 32-bit sequence space with
// wraparound arc-distance arithmetic, and a Manager multiplexing windows
// by sender identity.
package replay

import "sync"

// DefaultWindowSize is the number of trailing sequence numbers tolerated
// behind the current high-water mark.
const DefaultWindowSize = 1024

// DefaultMaxGap is the maximum forward jump accepted in one step.
const DefaultMaxGap = 2 * DefaultWindowSize

const (
	wrapThreshold = int64(1) << 31
	wrapModulus   = int64(1)<<32 + 1
)

// Stats is a snapshot of a Window's counters, returned by value.
type Stats struct {
	Checked     uint64
	Accepted    uint64
	Replays     uint64
	TooOld      uint64
	TooFarAhead uint64
	Highest     int64 // -1 if no frame has been accepted yet
}

// Window tracks replay state for a single sender.
type Window struct {
	mu         sync.Mutex
	windowSize int64
	maxGap     int64
	wrap       bool
	highest    int64 // -1 means "no frame seen yet"
	seen       map[uint32]struct{}
	stats      Stats
}

// Option configures a Window at construction.
type Option func(*Window)

// WithWindowSize overrides DefaultWindowSize.
func WithWindowSize(n int64) Option {
	return func(w *Window) { w.windowSize = n }
}

// WithMaxGap overrides DefaultMaxGap.
func WithMaxGap(n int64) Option {
	return func(w *Window) { w.maxGap = n }
}

// WithoutWrap disables the wraparound correction in the arc-distance
// computation, for deployments that can guarantee sequence numbers never
// approach the 32-bit boundary.
func WithoutWrap() Option {
	return func(w *Window) { w.wrap = false }
}

// NewWindow constructs a Window with defaults window_size=1024,
// max_gap=2048, wrap enabled.
func NewWindow(opts ...Option) *Window {
	w := &Window{
		windowSize: DefaultWindowSize,
		maxGap:     DefaultMaxGap,
		wrap:       true,
		highest:    -1,
		seen:       make(map[uint32]struct{}),
		stats:      Stats{Highest: -1},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func signedArc(seq uint32, highest int64, wrap bool) int64 {
	diff := int64(seq) - highest
	if wrap {
		if diff < -wrapThreshold {
			diff += wrapModulus
		} else if diff > wrapThreshold {
			diff -= wrapModulus
		}
	}
	return diff
}

// Check runs the replay decision procedure for seq and returns whether the
// frame is accepted.
func (w *Window) Check(seq uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stats.Checked++

	if w.highest == -1 {
		w.highest = int64(seq)
		w.seen[seq] = struct{}{}
		w.stats.Accepted++
		w.stats.Highest = w.highest
		return true
	}

	diff := signedArc(seq, w.highest, w.wrap)

	if diff > w.maxGap {
		w.stats.TooFarAhead++
		return false
	}
	if diff < -w.windowSize {
		w.stats.TooOld++
		return false
	}
	if _, replayed := w.seen[seq]; replayed {
		w.stats.Replays++
		return false
	}

	w.seen[seq] = struct{}{}
	w.stats.Accepted++
	if diff > 0 {
		w.highest = int64(seq)
		w.stats.Highest = w.highest
		w.pruneLocked()
	}
	return true
}

// pruneLocked drops seen entries that have fallen outside the trailing
// window relative to the current highest sequence number. Must be called
// with w.mu held.
func (w *Window) pruneLocked() {
	for s := range w.seen {
		if signedArc(s, w.highest, w.wrap) < -w.windowSize {
			delete(w.seen, s)
		}
	}
}

// Stats returns a snapshot of the window's counters.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Reset zeroes all state, including the seen set and highest mark.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.highest = -1
	w.seen = make(map[uint32]struct{})
	w.stats = Stats{Highest: -1}
}

// Manager multiplexes a Window per sender, keyed by a caller-defined
// comparable sender identity (channel ID, SSRC, participant ID, etc).
type Manager[SenderID comparable] struct {
	mu      sync.Mutex
	windows map[SenderID]*Window
	newOpts []Option
}

// NewManager constructs an empty Manager. opts are applied to every Window
// the manager creates on first use of a sender ID.
func NewManager[SenderID comparable](opts ...Option) *Manager[SenderID] {
	return &Manager[SenderID]{
		windows: make(map[SenderID]*Window),
		newOpts: opts,
	}
}

// Check runs the replay decision procedure for (sender, seq), creating a
// fresh Window for senders seen for the first time.
func (m *Manager[SenderID]) Check(sender SenderID, seq uint32) bool {
	return m.windowFor(sender).Check(seq)
}

// WindowFor returns the Window for sender, creating one if needed.
func (m *Manager[SenderID]) WindowFor(sender SenderID) *Window {
	return m.windowFor(sender)
}

func (m *Manager[SenderID]) windowFor(sender SenderID) *Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[sender]
	if !ok {
		w = NewWindow(m.newOpts...)
		m.windows[sender] = w
	}
	return w
}

// Remove drops a sender's window entirely, for when a participant leaves.
func (m *Manager[SenderID]) Remove(sender SenderID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, sender)
}
