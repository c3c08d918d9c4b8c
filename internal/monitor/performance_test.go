package monitor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportAggregates(t *testing.T) {
	m := New(nil)
	for i := 1; i <= 20; i++ {
		m.RecordLatency("gemini", time.Duration(i)*100*time.Millisecond, false)
	}
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheMiss()
	m.RecordCacheMiss()
	m.RecordTruncation("gemini")

	r := m.Report()

	assert.Equal(t, 20, r.SampleCount)
	assert.Equal(t, 1050.0, r.AverageLatencyMs)
	assert.Equal(t, 1900.0, r.P95LatencyMs)
	assert.Equal(t, 0.25, r.CacheHitRate)
	assert.EqualValues(t, 1, r.Truncations)
	assert.Contains(t, r.Recommendations, "1 responses were truncated; raise MAX_OUTPUT_TOKENS")
}

func TestReportEmpty(t *testing.T) {
	r := New(nil).Report()

	assert.Zero(t, r.SampleCount)
	assert.Zero(t, r.P95LatencyMs)
	assert.Equal(t, []string{"Performance is within expected ranges"}, r.Recommendations)
}

func TestCleanupDropsOldSamples(t *testing.T) {
	m := New(nil)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	m.RecordLatency("gemini", time.Second, false)
	clock = clock.Add(2 * time.Hour)
	m.RecordLatency("gemini", time.Second, true)

	removed := m.Cleanup(time.Hour)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, m.Report().SampleCount)
}

func TestResetClearsEverything(t *testing.T) {
	m := New(nil)
	m.RecordLatency("mistral", time.Second, false)
	m.RecordCacheHit()
	m.RecordTruncation("mistral")
	m.RecordFailure("provider_failed")

	m.Reset()
	r := m.Report()

	assert.Zero(t, r.SampleCount)
	assert.Zero(t, r.CacheHits)
	assert.Zero(t, r.Truncations)
	assert.Zero(t, r.Failures)
}

func TestSamplesAreBounded(t *testing.T) {
	m := New(nil)
	m.maxSamples = 3
	for i := 0; i < 10; i++ {
		m.RecordLatency("gemini", time.Duration(i)*time.Millisecond, false)
	}
	assert.Equal(t, 3, m.Report().SampleCount)
}

func TestPrometheusMirroring(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheMiss()
	m.RecordTruncation("gemini")
	m.RecordLatency("gemini", 300*time.Millisecond, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.Truncations.WithLabelValues("gemini")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "identity_ocr_extraction_duration_seconds")
}
