package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	defaultMetricSamples = 1000
	slowFetchThreshold   = 30 * time.Second
)

// FetchMetrics tracks the outcome and duration of single-user fetches
type FetchMetrics struct {
	mu            sync.RWMutex
	durations     []time.Duration
	total         int64
	failures      int64
	slow          int64
	records       int64
	lastSuccessAt time.Time
	lastFailureAt time.Time
	maxSamples    int
}

// NewFetchMetrics creates a collector keeping the last 1000 durations
func NewFetchMetrics() *FetchMetrics {
	return &FetchMetrics{
		durations:  make([]time.Duration, 0, defaultMetricSamples),
		maxSamples: defaultMetricSamples,
	}
}

// RecordFetch records one fetch attempt
func (m *FetchMetrics) RecordFetch(at time.Time, duration time.Duration, recordCount int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.durations = append(m.durations, duration)
	if len(m.durations) > m.maxSamples {
		m.durations = m.durations[len(m.durations)-m.maxSamples:]
	}
	if duration > slowFetchThreshold {
		m.slow++
	}

	if err != nil {
		m.failures++
		m.lastFailureAt = at
		return
	}
	m.records += int64(recordCount)
	m.lastSuccessAt = at
}

// FetchStats is a snapshot of FetchMetrics
type FetchStats struct {
	TotalFetches  int64      `json:"totalFetches"`
	Failures      int64      `json:"failures"`
	SlowFetches   int64      `json:"slowFetches"`
	RecordsStored int64      `json:"recordsStored"`
	SuccessRate   float64    `json:"successRate"` // percentage
	AvgFetchMs    float64    `json:"avgFetchMs"`
	P95FetchMs    float64    `json:"p95FetchMs"`
	P99FetchMs    float64    `json:"p99FetchMs"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`
}

// Stats returns current fetch statistics
func (m *FetchMetrics) Stats() *FetchStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &FetchStats{
		TotalFetches:  m.total,
		Failures:      m.failures,
		SlowFetches:   m.slow,
		RecordsStored: m.records,
	}
	if m.total > 0 {
		stats.SuccessRate = float64(m.total-m.failures) / float64(m.total) * 100
	}
	if !m.lastSuccessAt.IsZero() {
		at := m.lastSuccessAt
		stats.LastSuccessAt = &at
	}
	if !m.lastFailureAt.IsZero() {
		at := m.lastFailureAt
		stats.LastFailureAt = &at
	}

	if len(m.durations) == 0 {
		return stats
	}

	sorted := make([]time.Duration, len(m.durations))
	copy(sorted, m.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	stats.AvgFetchMs = float64(sum.Milliseconds()) / float64(len(sorted))
	stats.P95FetchMs = float64(sorted[percentileIndex(len(sorted), 0.95)].Milliseconds())
	stats.P99FetchMs = float64(sorted[percentileIndex(len(sorted), 0.99)].Milliseconds())

	return stats
}

func percentileIndex(n int, p float64) int {
	i := int(float64(n) * p)
	if i >= n {
		i = n - 1
	}
	return i
}

// Check reports problems worth surfacing on a status page
func (s *FetchStats) Check() []string {
	issues := []string{}
	if s.TotalFetches >= 20 && s.SuccessRate < 90 {
		issues = append(issues, fmt.Sprintf("fetch success rate (%.1f%%) is below 90%%", s.SuccessRate))
	}
	if s.P95FetchMs > float64(slowFetchThreshold.Milliseconds()) {
		issues = append(issues, fmt.Sprintf("p95 fetch time (%.0fms) exceeds %s", s.P95FetchMs, slowFetchThreshold))
	}
	return issues
}

// Reset clears all counters
func (m *FetchMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.durations = make([]time.Duration, 0, m.maxSamples)
	m.total, m.failures, m.slow, m.records = 0, 0, 0, 0
	m.lastSuccessAt, m.lastFailureAt = time.Time{}, time.Time{}
}
