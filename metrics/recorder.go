// Package metrics records swap activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moyoez/localswap/types"
)

const namespace = "localswap"

// Recorder implements the rebuild and transport metric hooks.
type Recorder struct {
	reg              *prom.Registry
	rebuildDuration  *prom.HistogramVec
	rebuildOutcomes  *prom.CounterVec
	iconCopies       *prom.CounterVec
	transportArmed   *prom.GaugeVec
	transportDisarms *prom.CounterVec
	sessionStates    *prom.CounterVec
}

// NewRecorder registers the swap metrics on reg, or on a fresh registry when
// reg is nil.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{reg: reg}
	r.rebuildDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "rebuild_duration_seconds",
		Help:      "Duration of repository rebuilds by outcome",
		Buckets:   prom.DefBuckets,
	}, []string{"status"})
	r.rebuildOutcomes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "rebuild_outcomes_total",
		Help:      "Repository rebuilds by final status",
	}, []string{"status"})
	r.iconCopies = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "icon_copies_total",
		Help:      "Icon copy runs by result",
	}, []string{"result"})
	r.transportArmed = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "transport_armed",
		Help:      "1 while the transport is serving",
	}, []string{"transport"})
	r.transportDisarms = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "transport_disarms_total",
		Help:      "Transport shutdowns by reason",
	}, []string{"transport", "reason"})
	r.sessionStates = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "session_state_entries_total",
		Help:      "Session screens entered",
	}, []string{"state"})
	reg.MustRegister(r.rebuildDuration, r.rebuildOutcomes, r.iconCopies,
		r.transportArmed, r.transportDisarms, r.sessionStates)
	return r
}

func (r *Recorder) ObserveRebuild(status types.RebuildStatus, took time.Duration) {
	r.rebuildDuration.WithLabelValues(string(status)).Observe(took.Seconds())
	r.rebuildOutcomes.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) ObserveIconCopy(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.iconCopies.WithLabelValues(result).Inc()
}

func (r *Recorder) TransportArmed(transport string) {
	r.transportArmed.WithLabelValues(transport).Set(1)
}

func (r *Recorder) TransportDisarmed(transport string, reason string) {
	r.transportArmed.WithLabelValues(transport).Set(0)
	r.transportDisarms.WithLabelValues(transport, reason).Inc()
}

// SessionStateEntered counts a rendered screen.
func (r *Recorder) SessionStateEntered(state types.SessionState) {
	r.sessionStates.WithLabelValues(string(state)).Inc()
}

// Handler serves the registry in the exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
