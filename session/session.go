// Package session implements the call-session state machine (component
// C7): a fixed set of states and events, a static transition table, and
// the context bookkeeping (error payload, retry count, last good state)
// that rides along with each transition.
package session

import (
	"sync"
	"time"

	"github.com/meshcall/framecrypt/internal/timeutil"
	"github.com/meshcall/framecrypt/observability"
)

// State is one of the fixed, enumerated session states.
type State string

const (
	StateIdle           State = "idle"
	StateInitializing   State = "initializing"
	StateConnecting     State = "connecting"
	StateExchangingKeys State = "exchanging-keys"
	StateEncrypting     State = "encrypting"
	StateEncrypted      State = "encrypted"
	StateRekeying       State = "rekeying"
	StateError          State = "error"
	StateDisconnected   State = "disconnected"
)

// Event is one of the fixed, enumerated transition triggers.
type Event string

const (
	EventInitialize         Event = "initialize"
	EventConnect            Event = "connect"
	EventConnected          Event = "connected"
	EventKeyExchangeComplete Event = "key-exchange-complete"
	EventStartKeyExchange   Event = "start-key-exchange"
	EventEncryptionActive   Event = "encryption-active"
	EventStartRekey         Event = "start-rekey"
	EventRekeyComplete      Event = "rekey-complete"
	EventError              Event = "error"
	EventRecover            Event = "recover"
	EventDisconnect         Event = "disconnect"
	EventReset              Event = "reset"
)

// transitions is the complete legal transition set. Events not present for
// a given state are rejected rather than applied.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventInitialize: StateInitializing,
	},
	StateInitializing: {
		EventConnect: StateConnecting,
		EventError:   StateError,
	},
	StateConnecting: {
		EventConnected: StateExchangingKeys,
		EventError:     StateError,
	},
	StateExchangingKeys: {
		EventKeyExchangeComplete: StateEncrypting,
		EventError:               StateError,
		EventDisconnect:          StateDisconnected,
	},
	StateEncrypting: {
		EventEncryptionActive: StateEncrypted,
		EventStartKeyExchange: StateExchangingKeys,
		EventError:            StateError,
		EventDisconnect:       StateDisconnected,
	},
	StateEncrypted: {
		EventStartRekey:       StateRekeying,
		EventStartKeyExchange: StateExchangingKeys,
		EventError:            StateError,
		EventDisconnect:       StateDisconnected,
	},
	StateRekeying: {
		EventRekeyComplete: StateEncrypted,
		EventError:         StateError,
		EventDisconnect:    StateDisconnected,
	},
	StateError: {
		EventRecover: StateConnecting,
	},
	StateDisconnected: {
		EventConnect: StateConnecting,
	},
}

func init() {
	// "any state → idle (reset)" applies uniformly; fold it into the table
	// once here instead of repeating it in every state's literal above.
	// disconnect is listed in the literals for the connected states and is
	// added here for the error state.
	for s, m := range transitions {
		m[EventReset] = StateIdle
		transitions[s] = m
	}
	transitions[StateIdle][EventReset] = StateIdle
	transitions[StateError][EventDisconnect] = StateDisconnected
}

// ErrorPayload accompanies an `error` event.
type ErrorPayload struct {
	Message string
	Code    string
}

// Context is the bookkeeping that rides alongside the current state.
type Context struct {
	ErrorMessage       string
	ErrorCode          string
	RetryCount         int
	LastGoodState      State
	HasLastGoodState   bool
	LastTransitionTime time.Time
	UserData           map[string]any
}

// Machine is a session state machine with a fixed transition table,
// mutable context, and observer notification on every transition attempt.
type Machine struct {
	mu       sync.Mutex
	state    State
	ctx      Context
	observer *observability.AtomicSessionObserver
	clock    timeutil.Clock
}

// Option configures a Machine at construction.
type Option func(*Machine)

// WithObserver attaches a SessionObserver at construction.
func WithObserver(o observability.SessionObserver) Option {
	return func(m *Machine) { m.observer.Set(o) }
}

// WithClock overrides the real clock, for deterministic transition-time tests.
func WithClock(c timeutil.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// New constructs a Machine starting in StateIdle.
func New(opts ...Option) *Machine {
	m := &Machine{
		state:    StateIdle,
		observer: observability.NewAtomicSessionObserver(),
		clock:    timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Context returns a copy of the current context.
func (m *Machine) Context() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Fire applies event to the machine. ok is false if the event is not legal
// from the current state; the state and context are then left unchanged.
// Fire never panics: an illegal event is a rejection, not an error.
func (m *Machine) Fire(event Event, errPayload *ErrorPayload) bool {
	m.mu.Lock()
	from := m.state
	to, legal := transitions[from][event]
	if !legal {
		m.mu.Unlock()
		m.observer.TransitionRejected(string(from), string(event))
		return false
	}

	switch event {
	case EventError:
		if errPayload != nil {
			m.ctx.ErrorMessage = errPayload.Message
			m.ctx.ErrorCode = errPayload.Code
		}
		m.ctx.LastGoodState = from
		m.ctx.HasLastGoodState = true
		m.ctx.RetryCount++
	case EventRecover:
		m.ctx.ErrorMessage = ""
		m.ctx.ErrorCode = ""
	case EventReset:
		m.ctx.RetryCount = 0
		m.ctx.HasLastGoodState = false
		m.ctx.LastGoodState = ""
		m.ctx.UserData = nil
	}
	m.ctx.LastTransitionTime = m.clock.Now()
	m.state = to
	m.mu.Unlock()

	m.observer.Transitioned(string(from), string(to), string(event))
	return true
}

// IsEncrypted reports whether the session is in StateEncrypted.
func (m *Machine) IsEncrypted() bool { return m.State() == StateEncrypted }

// IsEncryptionActive reports whether the session is encrypting or encrypted.
func (m *Machine) IsEncryptionActive() bool {
	switch m.State() {
	case StateEncrypting, StateEncrypted:
		return true
	default:
		return false
	}
}

// IsConnected reports whether the session has an active or recovering
// cryptographic channel (key exchange onward).
func (m *Machine) IsConnected() bool {
	switch m.State() {
	case StateExchangingKeys, StateEncrypting, StateEncrypted, StateRekeying:
		return true
	default:
		return false
	}
}

// IsError reports whether the session is in StateError.
func (m *Machine) IsError() bool { return m.State() == StateError }
