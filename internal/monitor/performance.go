// performance.go - Latency, cache and truncation statistics for the extraction pipeline

package monitor

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMaxSamples bounds memory when Cleanup is never called.
const DefaultMaxSamples = 10_000

// Recommendation thresholds
const (
	slowP95           = 10 * time.Second
	lowHitRate        = 0.2
	minLookupsForRate = 10
)

// Sample is one observed extraction.
type Sample struct {
	Timestamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"latency"`
	Provider  string        `json:"provider"`
	Cached    bool          `json:"cached"`
}

// Report summarises everything recorded since the last Reset.
type Report struct {
	SampleCount      int       `json:"sampleCount"`
	AverageLatencyMs float64   `json:"averageLatencyMs"`
	P95LatencyMs     float64   `json:"p95LatencyMs"`
	CacheHits        int64     `json:"cacheHits"`
	CacheMisses      int64     `json:"cacheMisses"`
	CacheHitRate     float64   `json:"cacheHitRate"`
	Truncations      int64     `json:"truncations"`
	Failures         int64     `json:"failures"`
	Recommendations  []string  `json:"recommendations"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

// Monitor observes pipeline calls. It never influences pipeline decisions.
type Monitor struct {
	mu          sync.Mutex
	samples     []Sample
	cacheHits   int64
	cacheMisses int64
	truncations int64
	failures    int64
	maxSamples  int

	metrics *Metrics
	now     func() time.Time
}

// New creates a monitor. A nil registerer disables Prometheus mirroring.
func New(reg prometheus.Registerer) *Monitor {
	m := &Monitor{maxSamples: DefaultMaxSamples, now: time.Now}
	if reg != nil {
		m.metrics = NewMetrics(reg)
	}
	return m
}

// RecordLatency stores one extraction latency sample.
func (m *Monitor) RecordLatency(provider string, latency time.Duration, cached bool) {
	m.mu.Lock()
	m.samples = append(m.samples, Sample{Timestamp: m.now(), Latency: latency, Provider: provider, Cached: cached})
	if over := len(m.samples) - m.maxSamples; over > 0 {
		m.samples = slices.Delete(m.samples, 0, over)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ExtractionDuration.WithLabelValues(provider, strconv.FormatBool(cached)).Observe(latency.Seconds())
	}
}

// RecordCacheHit counts a cache hit.
func (m *Monitor) RecordCacheHit() {
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.CacheLookups.WithLabelValues("hit").Inc()
	}
}

// RecordCacheMiss counts a cache miss.
func (m *Monitor) RecordCacheMiss() {
	m.mu.Lock()
	m.cacheMisses++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordTruncation counts a provider response cut off by its token limit.
func (m *Monitor) RecordTruncation(provider string) {
	m.mu.Lock()
	m.truncations++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.Truncations.WithLabelValues(provider).Inc()
	}
}

// RecordFailure counts a failed extraction by error class.
func (m *Monitor) RecordFailure(class string) {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.Failures.WithLabelValues(class).Inc()
	}
}

// Report computes the current summary.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{
		SampleCount: len(m.samples),
		CacheHits:   m.cacheHits,
		CacheMisses: m.cacheMisses,
		Truncations: m.truncations,
		Failures:    m.failures,
		GeneratedAt: m.now(),
	}

	if n := len(m.samples); n > 0 {
		latencies := make([]time.Duration, n)
		var total time.Duration
		for i, s := range m.samples {
			latencies[i] = s.Latency
			total += s.Latency
		}
		slices.Sort(latencies)
		r.AverageLatencyMs = toMs(total / time.Duration(n))
		r.P95LatencyMs = toMs(percentile(latencies, 0.95))
	}
	if lookups := m.cacheHits + m.cacheMisses; lookups > 0 {
		r.CacheHitRate = math.Round(float64(m.cacheHits)/float64(lookups)*1000) / 1000
	}
	r.Recommendations = recommendations(r)
	return r
}

// Cleanup drops samples older than olderThan and returns how many were removed.
func (m *Monitor) Cleanup(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	before := len(m.samples)
	m.samples = slices.DeleteFunc(m.samples, func(s Sample) bool {
		return s.Timestamp.Before(cutoff)
	})
	return before - len(m.samples)
}

// Reset clears all samples and counters. Prometheus counters are monotonic and kept.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = nil
	m.cacheHits = 0
	m.cacheMisses = 0
	m.truncations = 0
	m.failures = 0
}

// percentile uses nearest-rank on sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	rank = max(0, min(len(sorted)-1, rank))
	return sorted[rank]
}

func toMs(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}

func recommendations(r Report) []string {
	var recs []string
	if time.Duration(r.P95LatencyMs*float64(time.Millisecond)) > slowP95 {
		recs = append(recs, "p95 latency is above 10 seconds; send smaller images or lower the batch group size")
	}
	if lookups := r.CacheHits + r.CacheMisses; lookups >= minLookupsForRate && r.CacheHitRate < lowHitRate {
		recs = append(recs, "Cache hit rate is below 20%; duplicate uploads are rare or CACHE_TTL is too short")
	}
	if r.Truncations > 0 {
		recs = append(recs, fmt.Sprintf("%d responses were truncated; raise MAX_OUTPUT_TOKENS", r.Truncations))
	}
	if len(recs) == 0 {
		recs = append(recs, "Performance is within expected ranges")
	}
	return recs
}
