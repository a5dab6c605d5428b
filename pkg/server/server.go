// Package server implements the chatter-wave relay: a dual-protocol
// chat server that accepts clients over TCP streams and UDP datagrams,
// tracks their online identity in one registry, and routes public and
// private messages between them regardless of transport.
package server

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medovanx/chatter-wave/pkg/registry"
	"github.com/medovanx/chatter-wave/pkg/version"
)

// Server is the chat relay. One goroutine serves each accepted stream
// connection, one goroutine serves the entire datagram socket, and all
// of them share the registry.
type Server struct {
	cfg      Config
	registry *registry.Registry
	metrics  *Metrics
	status   *statusHub
	streamLn net.Listener
	udpConn  *net.UDPConn
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		registry: registry.New(),
		metrics:  NewMetrics(),
		status:   newStatusHub(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the identity registry.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// StreamAddr returns the bound TCP address. Valid after Start.
func (s *Server) StreamAddr() net.Addr { return s.streamLn.Addr() }

// DatagramAddr returns the bound UDP address. Valid after Start.
func (s *Server) DatagramAddr() net.Addr { return s.udpConn.LocalAddr() }

// Start binds both transports and the metrics endpoint and begins
// serving. A port that cannot be bound is fatal: the error is returned
// and nothing is left half-started.
func (s *Server) Start() error {
	if err := s.startStream(); err != nil {
		return err
	}
	if err := s.startDatagram(); err != nil {
		s.Shutdown()
		return err
	}
	s.startMetricsHTTP()

	if s.cfg.IdleTimeout > 0 {
		go s.idleSweep()
	}
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	slog.Info("chatter-wave relay running",
		"stream", s.streamLn.Addr(),
		"datagram", s.udpConn.LocalAddr(),
		"version", version.String(),
	)
	return nil
}

// Run starts the server and blocks until a shutdown signal.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown stops the listeners and disconnects status subscribers.
// In-flight connection goroutines exit as their sockets fail.
func (s *Server) Shutdown() {
	s.cancel()
	if s.streamLn != nil {
		_ = s.streamLn.Close()
	}
	if s.udpConn != nil {
		_ = s.udpConn.Close()
	}
	s.status.closeAll()
}

// idleSweep periodically evicts datagram bindings that have gone
// quiet. The wire protocol never expires bindings on its own; this
// sweep only runs when an idle timeout is configured.
func (s *Server) idleSweep() {
	interval := s.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.cfg.IdleTimeout)
			for _, username := range s.registry.IdleDatagrams(cutoff) {
				slog.Info("evicting idle datagram client", "user", username)
				s.metrics.DatagramEvictions.Add(1)
				s.dropDatagram(username)
			}
		}
	}
}
