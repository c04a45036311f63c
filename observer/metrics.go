// Package observer exports served calls and sessions as prometheus metrics.
package observer

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/outofforest/rpckit/service"
	"github.com/outofforest/rpckit/session"
)

// Call statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var _ service.Observer = &Metrics{}

// Metrics holds the prometheus registry and rpc meters.
type Metrics struct {
	Registry     *prometheus.Registry
	CallDuration *prometheus.HistogramVec
	CallTotal    *prometheus.CounterVec
	Sessions     *prometheus.GaugeVec
}

// NewMetrics creates metrics registered in a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	callDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpckit_call_duration_seconds",
		Help:    "Duration of served calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "api"})

	callTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rpckit_call_total",
		Help: "Total number of served calls.",
	}, []string{"service", "api", "status"})

	sessions := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rpckit_sessions",
		Help: "Number of sessions by state.",
	}, []string{"state"})

	reg.MustRegister(callDuration, callTotal, sessions)

	return &Metrics{
		Registry:     reg,
		CallDuration: callDuration,
		CallTotal:    callTotal,
		Sessions:     sessions,
	}
}

// Observe records served call.
func (m *Metrics) Observe(ctx context.Context, o service.Observation) {
	m.CallDuration.WithLabelValues(o.Service, o.API).Observe(o.Duration.Seconds())
	m.CallTotal.WithLabelValues(o.Service, o.API, status(o.Err)).Inc()
}

// TrackSession keeps the session counted under its current state.
func (m *Metrics) TrackSession(s *session.Session) {
	var mu sync.Mutex
	current := s.State()
	m.Sessions.WithLabelValues(current.String()).Inc()

	s.OnStateChange(func(state session.State) {
		mu.Lock()
		defer mu.Unlock()

		m.Sessions.WithLabelValues(current.String()).Dec()
		m.Sessions.WithLabelValues(state.String()).Inc()
		current = state
	})
}

func status(err error) string {
	if err == nil {
		return StatusOK
	}
	if code := service.ErrorCode(err); code != "" {
		return code
	}
	return StatusError
}
