package ace

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMonitorStatistics(t *testing.T) {
	m := NewMonitor()

	// 10ms..100ms, alternating success.
	for i := 1; i <= 10; i++ {
		m.RecordExecution("retrieve", time.Duration(i*10)*time.Millisecond, i%2 == 0, nil)
	}

	stats := m.Statistics("retrieve", 0)
	if stats.Count != 10 {
		t.Fatalf("expected 10 metrics, got %d", stats.Count)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("expected success rate 0.5, got %f", stats.SuccessRate)
	}
	if stats.MinMs != 10 || stats.MaxMs != 100 {
		t.Errorf("expected min 10 / max 100, got %f / %f", stats.MinMs, stats.MaxMs)
	}
	if stats.AvgMs != 55 {
		t.Errorf("expected avg 55, got %f", stats.AvgMs)
	}
	if stats.P50Ms > stats.P95Ms || stats.P95Ms > stats.P99Ms || stats.P99Ms > stats.MaxMs {
		t.Errorf("expected monotonic percentiles, got p50=%f p95=%f p99=%f max=%f",
			stats.P50Ms, stats.P95Ms, stats.P99Ms, stats.MaxMs)
	}
	if stats.P50Ms != 60 {
		t.Errorf("expected p50 60 for 10 sorted samples, got %f", stats.P50Ms)
	}
}

func TestMonitorStatisticsEmpty(t *testing.T) {
	m := NewMonitor()

	stats := m.Statistics("never-ran", 0)
	if stats.Count != 0 {
		t.Errorf("expected zero count, got %d", stats.Count)
	}
	if stats.SuccessRate != 0 || stats.AvgMs != 0 {
		t.Error("expected zeroed statistics for unknown step")
	}
}

func TestMonitorWindow(t *testing.T) {
	m := NewMonitor()
	m.RecordExecution("step", 5*time.Millisecond, true, nil)

	if got := m.Statistics("step", time.Hour).Count; got != 1 {
		t.Errorf("expected wide window to include metric, got %d", got)
	}

	time.Sleep(2 * time.Millisecond)
	if got := m.Statistics("step", time.Millisecond).Count; got != 0 {
		t.Errorf("expected narrow window to exclude old metric, got %d", got)
	}
}

func TestMonitorMetricEviction(t *testing.T) {
	m := NewMonitor().WithMaxMetrics(5)

	for i := 0; i < 8; i++ {
		m.RecordExecution("step", time.Duration(i)*time.Millisecond, true, nil)
	}

	if got := m.Statistics("step", 0).Count; got != 5 {
		t.Errorf("expected metric buffer capped at 5, got %d", got)
	}
}

func TestMonitorAllStatistics(t *testing.T) {
	m := NewMonitor()
	m.RecordExecution("a", time.Millisecond, true, nil)
	m.RecordExecution("b", time.Millisecond, false, nil)

	all := m.AllStatistics(0)
	if len(all) != 2 {
		t.Fatalf("expected 2 step summaries, got %d", len(all))
	}
	if all["b"].SuccessRate != 0 {
		t.Errorf("expected step b failing, got rate %f", all["b"].SuccessRate)
	}
}

func TestMonitorErrors(t *testing.T) {
	m := NewMonitor()

	m.RecordError("step-a", nil, nil) // ignored
	for i := 0; i < 3; i++ {
		m.RecordError("step-a", fmt.Errorf("failure %d", i), map[string]any{"i": i})
	}
	m.RecordError("step-b", errors.New("other"), nil)

	all := m.Errors("", 0)
	if len(all) != 4 {
		t.Fatalf("expected 4 error records, got %d", len(all))
	}
	// Newest first.
	if all[0].Step != "step-b" {
		t.Errorf("expected newest error first, got %q", all[0].Step)
	}

	filtered := m.Errors("step-a", 2)
	if len(filtered) != 2 {
		t.Fatalf("expected limit 2, got %d", len(filtered))
	}
	if filtered[0].Message != "failure 2" {
		t.Errorf("expected most recent step-a error, got %q", filtered[0].Message)
	}
	if filtered[0].Kind == "" {
		t.Error("expected error kind to be recorded")
	}
}

func TestMonitorErrorEviction(t *testing.T) {
	m := NewMonitor().WithMaxMetrics(3)

	for i := 0; i < 5; i++ {
		m.RecordError("step", fmt.Errorf("failure %d", i), nil)
	}

	all := m.Errors("", 0)
	if len(all) != 3 {
		t.Fatalf("expected error buffer capped at 3, got %d", len(all))
	}
	if all[len(all)-1].Message != "failure 2" {
		t.Errorf("expected oldest retained to be failure 2, got %q", all[len(all)-1].Message)
	}
}

func TestMonitorClears(t *testing.T) {
	m := NewMonitor()
	m.RecordExecution("a", time.Millisecond, true, nil)
	m.RecordExecution("b", time.Millisecond, true, nil)
	m.RecordError("a", errors.New("x"), nil)

	m.ClearMetrics("a")
	if got := m.Statistics("a", 0).Count; got != 0 {
		t.Errorf("expected step a cleared, got %d", got)
	}
	if got := m.Statistics("b", 0).Count; got != 1 {
		t.Errorf("expected step b untouched, got %d", got)
	}

	m.ClearMetrics("")
	if got := len(m.AllStatistics(0)); got != 0 {
		t.Errorf("expected all metrics cleared, got %d", got)
	}

	m.ClearErrors()
	if got := len(m.Errors("", 0)); got != 0 {
		t.Errorf("expected errors cleared, got %d", got)
	}
}
