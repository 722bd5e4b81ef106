package metrics

import "time"

// SyncMetrics holds the counters the sync engine and daemon report into.
// All methods are safe on a nil receiver so components can run without
// metrics.
type SyncMetrics struct {
	SanitizeIssued  *Counter
	SanitizeApplied *Counter
	SanitizeStale   *Counter
	SanitizeFailed  *Counter
	SanitizeLatency *Histogram

	ClipboardApplied    *Counter
	ClipboardDropped    *Counter
	ClipboardPollErrors *Counter
	ClipboardCleaned    *Counter
	ParamsRemoved       *Counter

	IPCConnections *Gauge
	WSClients      *Gauge
	HTTPRequests   *Counter
}

// NewSyncMetrics registers the sync metrics on registry.
func NewSyncMetrics(registry *Registry) *SyncMetrics {
	return &SyncMetrics{
		SanitizeIssued:  registry.Counter("sanitize_requests_total", "Sanitize requests issued", nil),
		SanitizeApplied: registry.Counter("sanitize_applied_total", "Sanitize results applied to a surface", nil),
		SanitizeStale:   registry.Counter("sanitize_stale_total", "Sanitize results dropped as superseded", nil),
		SanitizeFailed:  registry.Counter("sanitize_failed_total", "Sanitize failures delivered to the caller", nil),
		SanitizeLatency: registry.Histogram("sanitize_duration_seconds", "Sanitize round-trip time", nil, LatencyBuckets),

		ClipboardApplied:    registry.Counter("clipboard_events_applied_total", "Clipboard events applied", nil),
		ClipboardDropped:    registry.Counter("clipboard_events_dropped_total", "Clipboard events dropped as already seen", nil),
		ClipboardPollErrors: registry.Counter("clipboard_poll_errors_total", "Failed latest-event polls", nil),
		ClipboardCleaned:    registry.Counter("clipboard_cleaned_total", "Clipboard contents rewritten by the monitor", nil),
		ParamsRemoved:       registry.Counter("params_removed_total", "Tracking parameters removed", nil),

		IPCConnections: registry.Gauge("ipc_connections", "Open IPC connections", nil),
		WSClients:      registry.Gauge("websocket_clients", "Connected websocket clients", nil),
		HTTPRequests:   registry.Counter("http_requests_total", "HTTP API requests served", nil),
	}
}

// RecordSanitize records a completed sanitize call and how it was handled.
func (m *SyncMetrics) RecordSanitize(d time.Duration, stale bool, err error) {
	if m == nil {
		return
	}
	m.SanitizeLatency.ObserveDuration(d)
	switch {
	case stale:
		m.SanitizeStale.Inc()
	case err != nil:
		m.SanitizeFailed.Inc()
	default:
		m.SanitizeApplied.Inc()
	}
}

// RecordIssued counts a submitted sanitize request.
func (m *SyncMetrics) RecordIssued() {
	if m == nil {
		return
	}
	m.SanitizeIssued.Inc()
}

// RecordClipboard counts an event offered to the reconciler.
func (m *SyncMetrics) RecordClipboard(applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.ClipboardApplied.Inc()
	} else {
		m.ClipboardDropped.Inc()
	}
}

// RecordPollError counts a swallowed poll failure.
func (m *SyncMetrics) RecordPollError() {
	if m == nil {
		return
	}
	m.ClipboardPollErrors.Inc()
}

// RecordCleaned counts a clipboard rewrite by the monitor.
func (m *SyncMetrics) RecordCleaned(params int) {
	if m == nil {
		return
	}
	m.ClipboardCleaned.Inc()
	m.ParamsRemoved.Add(uint64(params))
}

// SetIPCConnections records the number of open IPC connections.
func (m *SyncMetrics) SetIPCConnections(n int) {
	if m == nil {
		return
	}
	m.IPCConnections.Set(int64(n))
}

// SetWSClients records the number of connected websocket clients.
func (m *SyncMetrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(int64(n))
}

// RecordHTTPRequest counts a served API request.
func (m *SyncMetrics) RecordHTTPRequest() {
	if m == nil {
		return
	}
	m.HTTPRequests.Inc()
}
