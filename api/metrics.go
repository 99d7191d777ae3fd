package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertAssumeFailureSpike AlertType = "assume_failure_spike"
	AlertRateLimitSpike     AlertType = "rate_limit_spike"
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

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu  sync.Mutex
	now func() time.Time

	// Sliding window for failed role assumptions.
	assumeFailures  []time.Time
	assumeWindow    time.Duration
	assumeThreshold int

	// Sliding window for rate-limited assume-role requests.
	rateLimited        []time.Time
	rateLimitWindow    time.Duration
	rateLimitThreshold int

	alertFn AlertFunc
}

const (
	defaultAssumeFailureWindow    = 1 * time.Minute
	defaultAssumeFailureThreshold = 50
	defaultRateLimitWindow        = 5 * time.Minute
	defaultRateLimitThreshold     = 100
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		now:                time.Now,
		assumeWindow:       defaultAssumeFailureWindow,
		assumeThreshold:    defaultAssumeFailureThreshold,
		rateLimitWindow:    defaultRateLimitWindow,
		rateLimitThreshold: defaultRateLimitThreshold,
		alertFn:            alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditAssumeRoleFailure:
		m.record(&m.assumeFailures, m.assumeWindow, m.assumeThreshold,
			AlertAssumeFailureSpike, "assume-role failure rate exceeds threshold")
	case AuditAssumeRoleRateLimited:
		m.record(&m.rateLimited, m.rateLimitWindow, m.rateLimitThreshold,
			AlertRateLimitSpike, "assume-role rate limiting exceeds threshold")
	}
}

func (m *metricsCollector) record(times *[]time.Time, window time.Duration, threshold int, alert AlertType, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	*times = append(*times, now)
	*times = trimWindow(*times, now, window)

	if len(*times) >= threshold {
		m.alertFn(AlertEvent{
			Type:      alert,
			Message:   msg,
			Count:     len(*times),
			Threshold: threshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		*times = (*times)[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
