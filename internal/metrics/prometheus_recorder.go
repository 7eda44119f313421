package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sitedev"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg            *prom.Registry
	transitions    *prom.CounterVec
	phaseDuration  *prom.HistogramVec
	phaseResults   *prom.CounterVec
	mutations      *prom.CounterVec
	batchSize      prom.Histogram
	batchDuration  *prom.HistogramVec
	batchResults   *prom.CounterVec
	pending        prom.Gauge
	recursionLimit prom.Counter
	liveClients    prom.Gauge
}

// NewPrometheusRecorder registers the session collectors on reg, or on a new
// registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State machine transitions by target state",
		}, []string{"state"}),
		phaseDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of pipeline phase invocations",
			Buckets:   prom.DefBuckets,
		}, []string{"phase"}),
		phaseResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "phase_results_total",
			Help:      "Phase outcomes",
		}, []string{"phase", "result"}),
		mutations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Received mutations by kind and disposition",
		}, []string{"kind", "disposition"}),
		batchSize: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Mutations per committed batch",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 50},
		}),
		batchDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_commit_duration_seconds",
			Help:      "Time to apply a batch",
			Buckets:   prom.DefBuckets,
		}, []string{"cause"}),
		batchResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "batch_commits_total",
			Help:      "Batch commits by flush cause and result",
		}, []string{"cause", "result"}),
		pending: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_mutations",
			Help:      "Deferred mutations waiting for a commit",
		}),
		recursionLimit: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "recursion_limit_reached_total",
			Help:      "Times the pipeline gave up re-running after query-time mutations",
		}),
		liveClients: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Connected live-update clients",
		}),
	}
	reg.MustRegister(pr.transitions, pr.phaseDuration, pr.phaseResults, pr.mutations,
		pr.batchSize, pr.batchDuration, pr.batchResults, pr.pending, pr.recursionLimit, pr.liveClients)
	return pr
}

// Registry returns the registry the collectors live in.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.reg }

// CountDroppedEvents exposes fn, read at scrape time, as the number of
// observations the event bus skipped because a subscriber lagged.
func (p *PrometheusRecorder) CountDroppedEvents(fn func() uint64) {
	if p == nil || fn == nil {
		return
	}
	p.reg.MustRegister(prom.NewCounterFunc(prom.CounterOpts{
		Namespace: namespace,
		Name:      "bus_dropped_events_total",
		Help:      "Observations skipped for slow event bus subscribers",
	}, func() float64 { return float64(fn()) }))
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusRecorder) IncTransition(to string) {
	if p == nil {
		return
	}
	p.transitions.WithLabelValues(to).Inc()
}

func (p *PrometheusRecorder) ObservePhaseDuration(phase string, d time.Duration) {
	if p == nil {
		return
	}
	p.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPhaseResult(phase string, result ResultLabel) {
	if p == nil {
		return
	}
	p.phaseResults.WithLabelValues(phase, string(result)).Inc()
}

func (p *PrometheusRecorder) IncMutation(kind string, d Disposition) {
	if p == nil {
		return
	}
	p.mutations.WithLabelValues(kind, string(d)).Inc()
}

func (p *PrometheusRecorder) ObserveBatch(size int, cause string, d time.Duration, success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.batchSize.Observe(float64(size))
	p.batchDuration.WithLabelValues(cause).Observe(d.Seconds())
	p.batchResults.WithLabelValues(cause, res).Inc()
}

func (p *PrometheusRecorder) SetPendingMutations(n int) {
	if p == nil {
		return
	}
	p.pending.Set(float64(n))
}

func (p *PrometheusRecorder) IncRecursionLimit() {
	if p == nil {
		return
	}
	p.recursionLimit.Inc()
}

func (p *PrometheusRecorder) SetLiveClients(n int) {
	if p == nil {
		return
	}
	p.liveClients.Set(float64(n))
}
