package server

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/medovanx/chatter-wave/pkg/protocol"
)

// startDatagram binds the shared UDP socket and starts the receive
// loop. All datagram clients are multiplexed over this one socket,
// distinguished only by source address.
func (s *Server) startDatagram() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.DatagramAddr())
	if err != nil {
		return fmt.Errorf("server: resolve datagram addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: listen datagram: %w", err)
	}
	s.udpConn = conn
	slog.Info("datagram transport listening", "addr", conn.LocalAddr())

	go s.datagramLoop()
	return nil
}

// datagramLoop services every datagram client. A single receive or
// parse error never terminates the loop; the socket carries no read
// timeout so it is always ready to receive.
func (s *Server) datagramLoop() {
	buf := make([]byte, protocol.ReadBufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, remote, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Error("datagram read error", "err", err)
				continue
			}
		}
		s.metrics.PacketsIn.Add(1)

		env, err := protocol.Decode(buf[:n])
		if err != nil {
			s.metrics.MalformedDropped.Add(1)
			slog.Warn("invalid JSON from datagram client", "remote", remote)
			continue
		}
		s.handleDatagram(remote, env)
	}
}

// handleDatagram dispatches one parsed datagram by envelope kind.
// Message and private envelopes are only honored when the source
// address has an active binding; unknown types are ignored.
func (s *Server) handleDatagram(remote *net.UDPAddr, env *protocol.Envelope) {
	switch env.Kind() {
	case protocol.KindRegister:
		if env.Username == "" {
			s.metrics.MalformedDropped.Add(1)
			return
		}
		snap := s.registry.RegisterDatagram(env.Username, remote)
		s.metrics.DatagramRegistrations.Add(1)
		slog.Info("datagram client registered", "user", env.Username, "remote", remote)

		s.fanout(protocol.ServerNotice(env.Username+" joined via UDP!"), snap, nil, remote)
		s.sendDatagram(remote, protocol.ServerNotice(fmt.Sprintf("Welcome %s! You are connected via UDP.", env.Username)))
		s.broadcastUserList(snap)

	case protocol.KindHeartbeat:
		// A heartbeat declaring a different username is a rebind: the
		// client changed identity without re-registering.
		old, changed, snap := s.registry.RebindDatagram(remote, env.Username)
		if changed {
			s.metrics.Rebinds.Add(1)
			slog.Info("datagram client rebound", "old", old, "new", env.Username, "remote", remote)
			s.broadcastUserList(snap)
		}

	case protocol.KindPublic:
		from, ok := s.registry.DatagramUser(remote)
		if !ok {
			return
		}
		s.broadcastPublic(from, env.Message, nil, remote)

	case protocol.KindPrivate:
		from, ok := s.registry.DatagramUser(remote)
		if !ok {
			return
		}
		s.handlePrivate(from, env, func(data []byte) { s.sendDatagram(remote, data) })
	}
}

// sendDatagram writes one envelope to a datagram client, fire and
// forget.
func (s *Server) sendDatagram(addr *net.UDPAddr, data []byte) {
	if _, err := s.udpConn.WriteToUDP(data, addr); err != nil {
		slog.Debug("datagram send error", "addr", addr, "err", err)
	}
}
