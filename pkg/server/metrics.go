package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks relay runtime statistics. All counters use atomic
// operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Stream counters
	TotalStreamConns  atomic.Int64 // lifetime TCP connections accepted
	ActiveStreamConns atomic.Int64 // current active TCP connections
	StreamDisconnects atomic.Int64 // stream bindings torn down

	// Datagram counters
	PacketsIn             atomic.Int64 // total UDP packets received
	DatagramRegistrations atomic.Int64 // register envelopes honored
	Rebinds               atomic.Int64 // heartbeat identity rebinds
	DatagramEvictions     atomic.Int64 // idle-sweep evictions

	// Routing counters
	PublicMessages   atomic.Int64 // public messages relayed
	PrivateMessages  atomic.Int64 // private messages routed
	PrivateFailures  atomic.Int64 // privates with no reachable recipient
	MalformedDropped atomic.Int64 // unparseable inbound payloads dropped
}

// NewMetrics creates a Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// MetricsSnapshot is a point-in-time view of all counters.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveStreamConns int64 `json:"active_stream_conns"`
	TotalStreamConns  int64 `json:"total_stream_conns"`
	StreamDisconnects int64 `json:"stream_disconnects"`

	PacketsIn             int64 `json:"packets_in"`
	DatagramRegistrations int64 `json:"datagram_registrations"`
	Rebinds               int64 `json:"rebinds"`
	DatagramEvictions     int64 `json:"datagram_evictions"`

	PublicMessages   int64 `json:"public_messages"`
	PrivateMessages  int64 `json:"private_messages"`
	PrivateFailures  int64 `json:"private_failures"`
	MalformedDropped int64 `json:"malformed_dropped"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:                uptime.Truncate(time.Second).String(),
		UptimeSeconds:         int64(uptime.Seconds()),
		ActiveStreamConns:     m.ActiveStreamConns.Load(),
		TotalStreamConns:      m.TotalStreamConns.Load(),
		StreamDisconnects:     m.StreamDisconnects.Load(),
		PacketsIn:             m.PacketsIn.Load(),
		DatagramRegistrations: m.DatagramRegistrations.Load(),
		Rebinds:               m.Rebinds.Load(),
		DatagramEvictions:     m.DatagramEvictions.Load(),
		PublicMessages:        m.PublicMessages.Load(),
		PrivateMessages:       m.PrivateMessages.Load(),
		PrivateFailures:       m.PrivateFailures.Load(),
		MalformedDropped:      m.MalformedDropped.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"stream_conns", s.ActiveStreamConns,
		"total_stream_conns", s.TotalStreamConns,
		"packets_in", s.PacketsIn,
		"public_msgs", s.PublicMessages,
		"private_msgs", s.PrivateMessages,
		"malformed", s.MalformedDropped,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval
// until the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
