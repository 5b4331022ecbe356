package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncLookup(TierMemory, ResultHit)
	m.IncLookup(TierMemory, ResultHit)
	m.IncLookup(TierPersistent, ResultMiss)
	m.IncEviction()
	m.ObserveClassify(SourceCache, 0.002)
	m.IncPersist(PersistSkipped)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(TierMemory, ResultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(TierPersistent, ResultMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheEvictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifyRequests.WithLabelValues(SourceCache)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistWrites.WithLabelValues(PersistSkipped)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetrics_NoOp(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncLookup(TierMemory, ResultMiss)
		m.IncEviction()
		m.ObserveClassify(SourceComputed, 1)
		m.IncPersist(PersistFailed)
	})
}
