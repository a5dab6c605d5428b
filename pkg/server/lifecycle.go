package server

import (
	"log/slog"
	"net"

	"github.com/medovanx/chatter-wave/pkg/protocol"
)

// Session teardown for both transports. Each drop wraps the registry
// mutation, the "left the chat" notice, and the user-list broadcast
// around the one snapshot the mutation returned, so the online-set
// change and the list the other clients see can never be separated by
// an unrelated registry mutation.

// dropStream tears down a stream binding. A no-op when the binding has
// already been replaced by a newer connection under the same name, or
// already dropped by a concurrent broadcast failure.
func (s *Server) dropStream(username string, conn net.Conn) {
	removed, offline, snap := s.registry.UnregisterStream(username, conn)
	if !removed {
		return
	}
	s.metrics.StreamDisconnects.Add(1)
	slog.Info("stream client disconnected", "user", username)

	s.fanout(protocol.ServerNotice(username+" left the chat!"), snap, nil, nil)
	if offline {
		s.broadcastUserList(snap)
	}
}

// dropDatagram tears down a datagram binding (idle sweep eviction).
func (s *Server) dropDatagram(username string) {
	removed, offline, snap := s.registry.UnregisterDatagram(username)
	if !removed {
		return
	}
	slog.Info("datagram client removed", "user", username)

	s.fanout(protocol.ServerNotice(username+" left the chat!"), snap, nil, nil)
	if offline {
		s.broadcastUserList(snap)
	}
}
