package ace

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Metric is one step invocation's execution record.
type Metric struct {
	Step      string         `json:"step"`
	Duration  time.Duration  `json:"duration"`
	Success   bool           `json:"success"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorRecord is one step failure's record.
type ErrorRecord struct {
	Step      string         `json:"step"`
	Message   string         `json:"message"`
	Kind      string         `json:"kind"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Statistics summarizes a step's recent executions.
type Statistics struct {
	Step        string  `json:"step"`
	Count       int     `json:"count"`
	SuccessRate float64 `json:"success_rate"`
	AvgMs       float64 `json:"avg_time_ms"`
	MinMs       float64 `json:"min_time_ms"`
	MaxMs       float64 `json:"max_time_ms"`
	P50Ms       float64 `json:"p50_time_ms"`
	P95Ms       float64 `json:"p95_time_ms"`
	P99Ms       float64 `json:"p99_time_ms"`
}

// Monitor records per-step timing/success metrics and error records in
// bounded ring buffers. Recording never fails the pipeline; every
// operation is safe for concurrent use.
type Monitor struct {
	mu         sync.RWMutex
	metrics    map[string][]Metric
	errors     []ErrorRecord
	maxMetrics int
}

// NewMonitor creates a monitor capping each step's metric buffer and the
// shared error buffer at DefaultMaxMetrics entries.
func NewMonitor() *Monitor {
	return &Monitor{
		metrics:    make(map[string][]Metric),
		maxMetrics: DefaultMaxMetrics,
	}
}

// WithMaxMetrics overrides the buffer capacity.
func (m *Monitor) WithMaxMetrics(limit int) *Monitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 {
		m.maxMetrics = limit
	}
	return m
}

// RecordExecution records one step invocation.
func (m *Monitor) RecordExecution(step string, duration time.Duration, success bool, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := append(m.metrics[step], Metric{
		Step:      step,
		Duration:  duration,
		Success:   success,
		Metadata:  metadata,
		Timestamp: time.Now(),
	})
	if overflow := len(buf) - m.maxMetrics; overflow > 0 {
		buf = append([]Metric(nil), buf[overflow:]...)
	}
	m.metrics[step] = buf
}

// RecordError records one step failure. Kind is derived from the error's
// concrete type.
func (m *Monitor) RecordError(step string, err error, context map[string]any) {
	if err == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.errors = append(m.errors, ErrorRecord{
		Step:      step,
		Message:   err.Error(),
		Kind:      fmt.Sprintf("%T", err),
		Context:   context,
		Timestamp: time.Now(),
	})
	if overflow := len(m.errors) - m.maxMetrics; overflow > 0 {
		m.errors = append([]ErrorRecord(nil), m.errors[overflow:]...)
	}
}

// Statistics returns a step's summary over the trailing window.
// A zero window means all retained metrics.
func (m *Monitor) Statistics(step string, window time.Duration) Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return calculateStats(step, m.metrics[step], window)
}

// AllStatistics returns summaries for every recorded step.
func (m *Monitor) AllStatistics(window time.Duration) map[string]Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]Statistics, len(m.metrics))
	for step, buf := range m.metrics {
		stats[step] = calculateStats(step, buf, window)
	}
	return stats
}

// Errors returns recent error records, newest first, filtered by step
// when non-empty and limited to limit entries when limit > 0.
func (m *Monitor) Errors(step string, limit int) []ErrorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]ErrorRecord, 0, len(m.errors))
	for i := len(m.errors) - 1; i >= 0; i-- {
		if step != "" && m.errors[i].Step != step {
			continue
		}
		matched = append(matched, m.errors[i])
		if limit > 0 && len(matched) == limit {
			break
		}
	}
	return matched
}

// ClearMetrics drops one step's metrics, or all metrics when step is "".
func (m *Monitor) ClearMetrics(step string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if step != "" {
		delete(m.metrics, step)
		return
	}
	m.metrics = make(map[string][]Metric)
}

// ClearErrors drops all error records.
func (m *Monitor) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = nil
}

func calculateStats(step string, buf []Metric, window time.Duration) Statistics {
	stats := Statistics{Step: step}

	metrics := buf
	if window > 0 {
		cutoff := time.Now().Add(-window)
		metrics = nil
		for _, mt := range buf {
			if !mt.Timestamp.Before(cutoff) {
				metrics = append(metrics, mt)
			}
		}
	}
	if len(metrics) == 0 {
		return stats
	}

	times := make([]float64, len(metrics))
	sum := 0.0
	successes := 0
	for i, mt := range metrics {
		ms := float64(mt.Duration) / float64(time.Millisecond)
		times[i] = ms
		sum += ms
		if mt.Success {
			successes++
		}
	}
	sort.Float64s(times)

	stats.Count = len(metrics)
	stats.SuccessRate = float64(successes) / float64(len(metrics))
	stats.AvgMs = sum / float64(len(times))
	stats.MinMs = times[0]
	stats.MaxMs = times[len(times)-1]
	stats.P50Ms = percentile(times, 0.5)
	stats.P95Ms = percentile(times, 0.95)
	stats.P99Ms = percentile(times, 0.99)
	return stats
}

// percentile indexes sorted values at floor(n*p), clamped to the last entry.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
