package browser

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/qapilot/pkg/telemetry"
)

// ActionKind names a browser operation for metrics.
type ActionKind string

const (
	ActionNavigate    ActionKind = "navigate"
	ActionClick       ActionKind = "click"
	ActionFill        ActionKind = "fill"
	ActionSelect      ActionKind = "select"
	ActionTextVisible ActionKind = "text_visible"
	ActionScreenshot  ActionKind = "screenshot"
)

// Metrics tracks browser runtime performance counters.
type Metrics struct {
	SessionsCreated atomic.Int64
	SessionsClosed  atomic.Int64
	ActiveSessions  atomic.Int64

	ActionCount        atomic.Int64
	ActionSuccessCount atomic.Int64
	ActionFailureCount atomic.Int64
	ActionLatencySum   atomic.Int64 // nanoseconds

	mu    sync.RWMutex
	hub   *telemetry.Hub
	runID string
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// EnableTelemetry wires the metrics collector to a telemetry hub.
func (m *Metrics) EnableTelemetry(hub *telemetry.Hub, runID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.hub = hub
	m.runID = runID
	m.mu.Unlock()
}

// RecordSessionCreated increments session creation counter.
func (m *Metrics) RecordSessionCreated(browserSessionID string) {
	if m == nil {
		return
	}
	m.SessionsCreated.Add(1)
	m.ActiveSessions.Add(1)
	m.publishEvent(telemetry.EventBrowserSessionCreated, map[string]any{
		"browser_session_id": browserSessionID,
	})
}

// RecordSessionClosed increments session close counter.
func (m *Metrics) RecordSessionClosed(browserSessionID string) {
	if m == nil {
		return
	}
	m.SessionsClosed.Add(1)
	m.ActiveSessions.Add(-1)
	m.publishEvent(telemetry.EventBrowserSessionClosed, map[string]any{
		"browser_session_id": browserSessionID,
	})
}

// RecordAction increments action counter and tracks success/failure.
func (m *Metrics) RecordAction(browserSessionID string, kind ActionKind, success bool, latency time.Duration) {
	if m == nil {
		return
	}
	m.ActionCount.Add(1)
	m.ActionLatencySum.Add(latency.Nanoseconds())
	eventType := telemetry.EventBrowserAction
	if success {
		m.ActionSuccessCount.Add(1)
	} else {
		m.ActionFailureCount.Add(1)
		eventType = telemetry.EventBrowserActionFailed
	}
	m.publishEvent(eventType, map[string]any{
		"browser_session_id": browserSessionID,
		"action":             string(kind),
		"success":            success,
		"latency_ms":         latency.Milliseconds(),
	})
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	successCount := m.ActionSuccessCount.Load()
	failCount := m.ActionFailureCount.Load()
	total := successCount + failCount
	successRate := float64(1.0)
	avg := time.Duration(0)
	if total > 0 {
		successRate = float64(successCount) / float64(total)
		avg = time.Duration(m.ActionLatencySum.Load() / total)
	}
	return MetricsSnapshot{
		SessionsCreated:      m.SessionsCreated.Load(),
		SessionsClosed:       m.SessionsClosed.Load(),
		ActiveSessions:       m.ActiveSessions.Load(),
		ActionCount:          m.ActionCount.Load(),
		ActionSuccessCount:   successCount,
		ActionFailureCount:   failCount,
		ActionSuccessRate:    successRate,
		AverageActionLatency: avg,
	}
}

func (m *Metrics) publishEvent(eventType telemetry.EventType, data map[string]any) {
	m.mu.RLock()
	hub := m.hub
	runID := m.runID
	m.mu.RUnlock()
	if hub == nil {
		return
	}
	hub.Publish(telemetry.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Data:      data,
	})
}

// MetricsSnapshot is a point-in-time copy of browser metrics.
type MetricsSnapshot struct {
	SessionsCreated      int64
	SessionsClosed       int64
	ActiveSessions       int64
	ActionCount          int64
	ActionSuccessCount   int64
	ActionFailureCount   int64
	ActionSuccessRate    float64
	AverageActionLatency time.Duration
}
