package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertFlagChurn         AlertType = "flag_churn"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// window counts events inside a sliding time span.
type window struct {
	events    []time.Time
	span      time.Duration
	threshold int
}

// add records an event at now and reports the in-window count and whether
// the threshold was reached. Reaching it empties the window so a single
// spike alerts once.
func (w *window) add(now time.Time) (int, bool) {
	cutoff := now.Add(-w.span)
	start := 0
	for start < len(w.events) && w.events[start].Before(cutoff) {
		start++
	}
	w.events = append(w.events[start:], now)
	n := len(w.events)
	if n < w.threshold {
		return n, false
	}
	w.events = w.events[:0]
	return n, true
}

// metricsCollector watches login failures and feature flag changes.
type metricsCollector struct {
	mu sync.Mutex

	logins window
	flags  window

	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultFlagChurnWindow       = 5 * time.Minute
	defaultFlagChurnThreshold    = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		logins:  window{span: defaultLoginFailureWindow, threshold: defaultLoginFailureThreshold},
		flags:   window{span: defaultFlagChurnWindow, threshold: defaultFlagChurnThreshold},
		alertFn: alertFn,
		now:     time.Now,
	}
}

func (m *metricsCollector) recordLoginFailure() {
	m.record(AlertLoginFailureSpike, "login failure rate exceeds threshold", func() *window { return &m.logins })
}

func (m *metricsCollector) recordFlagChange() {
	m.record(AlertFlagChurn, "feature flag change rate exceeds threshold", func() *window { return &m.flags })
}

func (m *metricsCollector) record(kind AlertType, msg string, pick func() *window) {
	if m == nil || m.alertFn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w := pick()
	if count, hit := w.add(now); hit {
		m.alertFn(AlertEvent{
			Type:      kind,
			Message:   msg,
			Count:     count,
			Threshold: w.threshold,
			Timestamp: now,
		})
	}
}
