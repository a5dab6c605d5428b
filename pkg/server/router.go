package server

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/medovanx/chatter-wave/pkg/protocol"
	"github.com/medovanx/chatter-wave/pkg/registry"
)

// fanout delivers one marshaled envelope to every target in the
// snapshot, skipping the excluded stream connection and datagram
// address. The snapshot was captured under the registry lock; the
// socket writes here happen outside it. Stream writes that fail feed
// the unregister path after the loop completes, so one broken peer
// never aborts delivery to the rest. Datagram sends are fire and
// forget.
func (s *Server) fanout(data []byte, snap registry.Snapshot, excludeConn net.Conn, excludeAddr *net.UDPAddr) {
	var failed []registry.StreamTarget
	for _, t := range snap.Streams {
		if t.Conn == excludeConn {
			continue
		}
		if _, err := t.Conn.Write(data); err != nil {
			failed = append(failed, t)
		}
	}

	exclude := ""
	if excludeAddr != nil {
		exclude = excludeAddr.String()
	}
	for _, addr := range snap.Datagrams {
		if exclude != "" && addr.String() == exclude {
			continue
		}
		if _, err := s.udpConn.WriteToUDP(data, addr); err != nil {
			slog.Debug("datagram send error", "addr", addr, "err", err)
		}
	}

	for _, t := range failed {
		slog.Debug("stream send failed, dropping binding", "user", t.Username)
		s.dropStream(t.Username, t.Conn)
	}
}

// broadcastPublic relays a public message from username to every other
// bound client on both transports.
func (s *Server) broadcastPublic(from, text string, excludeConn net.Conn, excludeAddr *net.UDPAddr) {
	s.metrics.PublicMessages.Add(1)
	slog.Debug("public message", "from", from)
	s.fanout(protocol.Public(from, text), s.registry.Snapshot(), excludeConn, excludeAddr)
}

// routePrivate attempts delivery of a private message, stream binding
// first, datagram fallback. It reports whether any attempt succeeded;
// the caller owes the sender exactly one confirmation or one error.
func (s *Server) routePrivate(from, to, text string) bool {
	conn, addr, ok := s.registry.Resolve(to)
	if !ok {
		return false
	}
	data := protocol.Private(from, text)
	if conn != nil {
		if _, err := conn.Write(data); err == nil {
			return true
		}
		slog.Debug("private stream delivery failed", "to", to)
	}
	if addr != nil {
		if _, err := s.udpConn.WriteToUDP(data, addr); err == nil {
			return true
		}
		slog.Debug("private datagram delivery failed", "to", to)
	}
	return false
}

// handlePrivate routes one private envelope and replies to the sender
// over its own transport: a private_sent confirmation on success, a
// typed error naming the recipient otherwise.
func (s *Server) handlePrivate(from string, env *protocol.Envelope, reply func([]byte)) {
	s.metrics.PrivateMessages.Add(1)
	slog.Debug("private message", "from", from, "to", env.To)

	if s.routePrivate(from, env.To, env.Message) {
		reply(protocol.PrivateSent(env.To, env.Message))
		return
	}
	s.metrics.PrivateFailures.Add(1)
	reply(protocol.ErrorNotice(fmt.Sprintf("User %s is not online.", env.To)))
}

// broadcastUserList fans the snapshot's online set out to every client
// and to the operator status feed. No client is excluded.
func (s *Server) broadcastUserList(snap registry.Snapshot) {
	data := protocol.UserList(snap.Users)
	s.fanout(data, snap, nil, nil)
	s.status.publish(data)
}
