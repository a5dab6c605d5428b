package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/medovanx/chatter-wave/pkg/protocol"
)

// startMetricsHTTP starts a lightweight HTTP server exposing /metrics
// in Prometheus text exposition format, /healthz, and the /status
// WebSocket feed. It runs in the background and shuts down when the
// server context is cancelled.
func (s *Server) startMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		s.status.serve(w, r, protocol.UserList(s.registry.Snapshot().Users))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all counters in Prometheus text exposition
// format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics.Snapshot()
	uptime := time.Since(s.metrics.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}

	_, _ = fmt.Fprintf(w, "# HELP chatterwave_uptime_seconds Server uptime in seconds.\n")
	_, _ = fmt.Fprintf(w, "# TYPE chatterwave_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "chatterwave_uptime_seconds %f\n", uptime)

	write("chatterwave_online_users", "Usernames currently in the online set.", "gauge",
		int64(s.registry.OnlineCount()))

	write("chatterwave_stream_conns_active", "Current active stream connections.", "gauge",
		m.ActiveStreamConns)
	write("chatterwave_stream_conns_total", "Lifetime stream connections accepted.", "counter",
		m.TotalStreamConns)
	write("chatterwave_stream_disconnects_total", "Stream bindings torn down.", "counter",
		m.StreamDisconnects)

	write("chatterwave_datagram_packets_in_total", "Total datagram packets received.", "counter",
		m.PacketsIn)
	write("chatterwave_datagram_registrations_total", "Datagram register envelopes honored.", "counter",
		m.DatagramRegistrations)
	write("chatterwave_datagram_rebinds_total", "Heartbeat identity rebinds.", "counter",
		m.Rebinds)
	write("chatterwave_datagram_evictions_total", "Idle-sweep datagram evictions.", "counter",
		m.DatagramEvictions)

	write("chatterwave_public_messages_total", "Public messages relayed.", "counter",
		m.PublicMessages)
	write("chatterwave_private_messages_total", "Private messages routed.", "counter",
		m.PrivateMessages)
	write("chatterwave_private_failures_total", "Private messages with no reachable recipient.", "counter",
		m.PrivateFailures)
	write("chatterwave_malformed_dropped_total", "Unparseable inbound payloads dropped.", "counter",
		m.MalformedDropped)
}
