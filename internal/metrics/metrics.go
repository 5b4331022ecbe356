package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values shared by callers.
const (
	TierMemory     = "memory"
	TierPersistent = "persistent"

	ResultHit  = "hit"
	ResultMiss = "miss"

	SourceScoped   = "scoped"
	SourceCache    = "cache"
	SourceComputed = "computed"
	SourceFailed   = "failed"

	PersistWritten = "written"
	PersistSkipped = "skipped"
	PersistFailed  = "failed"
)

// Metrics holds the Prometheus collectors for one Engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	CacheEvictions   prometheus.Counter
	ClassifyRequests *prometheus.CounterVec
	ClassifyDuration *prometheus.HistogramVec
	PersistWrites    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tinct",
			Name:      "cache_lookups_total",
			Help:      "Classification cache lookups by tier and result",
		}, []string{"tier", "result"}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tinct",
			Name:      "cache_evictions_total",
			Help:      "Documents evicted from the in-memory classification cache",
		}),
		ClassifyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tinct",
			Name:      "classify_requests_total",
			Help:      "Classification requests by the tier that answered them",
		}, []string{"source"}),
		ClassifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tinct",
			Name:      "classify_duration_seconds",
			Help:      "Classification request duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"source"}),
		PersistWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tinct",
			Name:      "persist_writes_total",
			Help:      "Write-behind outcomes for persisted classifications",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CacheLookups,
			m.CacheEvictions,
			m.ClassifyRequests,
			m.ClassifyDuration,
			m.PersistWrites,
		)
	}
	return m
}

func (m *Metrics) IncLookup(tier, result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(tier, result).Inc()
	}
}

func (m *Metrics) IncEviction() {
	if m != nil {
		m.CacheEvictions.Inc()
	}
}

// ObserveClassify records one finished request.
func (m *Metrics) ObserveClassify(source string, seconds float64) {
	if m != nil {
		m.ClassifyRequests.WithLabelValues(source).Inc()
		m.ClassifyDuration.WithLabelValues(source).Observe(seconds)
	}
}

func (m *Metrics) IncPersist(result string) {
	if m != nil {
		m.PersistWrites.WithLabelValues(result).Inc()
	}
}
