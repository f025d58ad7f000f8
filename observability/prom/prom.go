// Package prom exports key-store and processor events to Prometheus.
package prom

import (
	"net/http"
	"time"

	"github.com/meshcall/framecrypt/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// KeyStoreObserver exports key-store metrics to Prometheus.
type KeyStoreObserver struct {
	generatedTotal prometheus.Counter
	setTotal       prometheus.Counter
	rotatedTotal   prometheus.Counter
	expiredTotal   *prometheus.CounterVec
	destroyedTotal prometheus.Counter
}

// NewKeyStoreObserver registers key-store metrics on the registry.
func NewKeyStoreObserver(reg *prometheus.Registry) *KeyStoreObserver {
	o := &KeyStoreObserver{
		generatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecrypt_keystore_generated_total",
			Help: "Keys generated.",
		}),
		setTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecrypt_keystore_set_total",
			Help: "Keys imported via Set.",
		}),
		rotatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecrypt_keystore_rotated_total",
			Help: "Key rotations performed.",
		}),
		expiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "framecrypt_keystore_expired_total",
			Help: "Keys expired, by reason.",
		}, []string{"reason"}),
		destroyedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecrypt_keystore_destroyed_total",
			Help: "Store destroy calls.",
		}),
	}
	reg.MustRegister(o.generatedTotal, o.setTotal, o.rotatedTotal, o.expiredTotal, o.destroyedTotal)
	return o
}

func (o *KeyStoreObserver) KeyGenerated(uint8) { o.generatedTotal.Inc() }
func (o *KeyStoreObserver) KeySet(uint8)       { o.setTotal.Inc() }
func (o *KeyStoreObserver) KeyRotated(uint8, uint8) {
	o.rotatedTotal.Inc()
}
func (o *KeyStoreObserver) KeyExpired(_ uint8, reason observability.KeyEventReason) {
	o.expiredTotal.WithLabelValues(string(reason)).Inc()
}
func (o *KeyStoreObserver) Destroyed() { o.destroyedTotal.Inc() }

// ProcessorObserver exports per-frame processing metrics to Prometheus.
type ProcessorObserver struct {
	framesTotal   *prometheus.CounterVec
	frameDuration prometheus.Histogram
}

// NewProcessorObserver registers processor metrics on the registry.
func NewProcessorObserver(reg *prometheus.Registry) *ProcessorObserver {
	o := &ProcessorObserver{
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "framecrypt_processor_frames_total",
			Help: "Frames processed, by outcome.",
		}, []string{"result"}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "framecrypt_processor_frame_duration_seconds",
			Help:    "Per-frame encrypt/decrypt duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(o.framesTotal, o.frameDuration)
	return o
}

func (o *ProcessorObserver) FrameProcessed(result observability.FrameResult, d time.Duration) {
	o.framesTotal.WithLabelValues(string(result)).Inc()
	o.frameDuration.Observe(d.Seconds())
}

// SessionObserver exports session state-machine metrics to Prometheus.
type SessionObserver struct {
	transitionsTotal *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec
}

// NewSessionObserver registers session metrics on the registry.
func NewSessionObserver(reg *prometheus.Registry) *SessionObserver {
	o := &SessionObserver{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "framecrypt_session_transitions_total",
			Help: "Accepted state transitions, by source state and event.",
		}, []string{"from", "event"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "framecrypt_session_transition_rejections_total",
			Help: "Rejected state transitions, by source state and event.",
		}, []string{"from", "event"}),
	}
	reg.MustRegister(o.transitionsTotal, o.rejectionsTotal)
	return o
}

func (o *SessionObserver) Transitioned(from, _, event string) {
	o.transitionsTotal.WithLabelValues(from, event).Inc()
}

func (o *SessionObserver) TransitionRejected(from, event string) {
	o.rejectionsTotal.WithLabelValues(from, event).Inc()
}
