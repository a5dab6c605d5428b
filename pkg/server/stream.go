package server

import (
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"github.com/medovanx/chatter-wave/pkg/protocol"
)

// startStream starts the TCP listener and the accept loop.
func (s *Server) startStream() error {
	ln, err := net.Listen("tcp", s.cfg.StreamAddr())
	if err != nil {
		return fmt.Errorf("server: listen stream: %w", err)
	}
	s.streamLn = ln
	slog.Info("stream transport listening", "addr", ln.Addr())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					slog.Error("accept error", "err", err)
					continue
				}
			}
			go s.handleStreamConn(conn)
		}
	}()
	return nil
}

// handleStreamConn owns one client connection from registration to
// teardown. The first chunk read must be the registration envelope
// carrying the chosen username; after that the loop relays messages
// until the peer disconnects or the read errors.
func (s *Server) handleStreamConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	connID := uuid.NewString()
	remote := conn.RemoteAddr().String()
	s.metrics.TotalStreamConns.Add(1)
	s.metrics.ActiveStreamConns.Add(1)
	defer s.metrics.ActiveStreamConns.Add(-1)
	slog.Debug("new stream connection", "conn", connID, "remote", remote)

	buf := make([]byte, protocol.ReadBufferSize)

	n, err := conn.Read(buf)
	if err != nil {
		slog.Debug("registration read failed", "conn", connID, "err", err)
		return
	}
	env, err := protocol.Decode(buf[:n])
	if err != nil || env.Username == "" {
		s.metrics.MalformedDropped.Add(1)
		slog.Warn("invalid stream registration", "conn", connID, "remote", remote)
		return
	}
	username := env.Username

	snap := s.registry.RegisterStream(username, conn)
	slog.Info("stream client registered", "user", username, "conn", connID, "remote", remote)

	s.fanout(protocol.ServerNotice(username+" joined via TCP!"), snap, conn, nil)
	s.sendStream(conn, protocol.ServerNotice(fmt.Sprintf("Welcome %s! You are connected via TCP.", username)))
	s.broadcastUserList(snap)

	defer s.dropStream(username, conn)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				slog.Debug("stream read error", "user", username, "err", err)
			}
			return
		}
		env, err := protocol.Decode(buf[:n])
		if err != nil {
			// Malformed chunks are skipped, never surfaced to others.
			s.metrics.MalformedDropped.Add(1)
			continue
		}
		switch env.Kind() {
		case protocol.KindPrivate:
			s.handlePrivate(username, env, func(data []byte) { s.sendStream(conn, data) })
		default:
			// Anything that is not a private message is public.
			s.broadcastPublic(username, env.Message, conn, nil)
		}
	}
}

// sendStream writes one envelope to a stream client. A failed write is
// logged only; the connection's own read loop notices broken peers.
func (s *Server) sendStream(conn net.Conn, data []byte) {
	if _, err := conn.Write(data); err != nil {
		slog.Debug("stream send error", "remote", conn.RemoteAddr(), "err", err)
	}
}
