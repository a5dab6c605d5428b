package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/medovanx/chatter-wave/pkg/protocol"
)

// fakeConn records every envelope written to it; fail makes writes
// error to exercise the broken-peer paths.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	fail   bool
}

func (c *fakeConn) Read(_ []byte) (int, error) { return 0, io.EOF }
func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return 0, errors.New("broken pipe")
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}
func (c *fakeConn) Close() error                       { return nil }
func (c *fakeConn) LocalAddr() net.Addr                { return &net.IPAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr               { return &net.IPAddr{} }
func (c *fakeConn) SetDeadline(_ time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(_ time.Time) error { return nil }

func (c *fakeConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	envs := make([]protocol.Envelope, 0, len(c.writes))
	for _, w := range c.writes {
		var e protocol.Envelope
		if err := json.Unmarshal(w, &e); err != nil {
			t.Fatalf("recorded write is not an envelope: %s", w)
		}
		envs = append(envs, e)
	}
	return envs
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.writes = nil
	c.mu.Unlock()
}

func countType(envs []protocol.Envelope, typ string) int {
	n := 0
	for _, e := range envs {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MetricsAddr = ""
	srv := New(cfg)

	// Real UDP socket so datagram fan-out has somewhere to write from.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	srv.udpConn = conn
	t.Cleanup(func() { _ = conn.Close() })
	return srv
}

func TestBroadcastPublicExcludesSender(t *testing.T) {
	srv := newTestServer(t)
	alice := &fakeConn{}
	bob := &fakeConn{}
	srv.registry.RegisterStream("alice", alice)
	srv.registry.RegisterStream("bob", bob)
	alice.reset()
	bob.reset()

	srv.broadcastPublic("alice", "hi", alice, nil)

	bobEnvs := bob.envelopes(t)
	if countType(bobEnvs, protocol.TypePublic) != 1 {
		t.Fatalf("bob: want exactly one public message, got %+v", bobEnvs)
	}
	if bobEnvs[0].From != "alice" || bobEnvs[0].Message != "hi" {
		t.Fatalf("bob: got %+v", bobEnvs[0])
	}
	if countType(alice.envelopes(t), protocol.TypePublic) != 0 {
		t.Fatal("alice received her own public message")
	}
}

func TestRoutePrivatePrefersStream(t *testing.T) {
	srv := newTestServer(t)
	bobStream := &fakeConn{}
	srv.registry.RegisterStream("bob", bobStream)
	srv.registry.RegisterDatagram("bob", udpSink(t))

	if !srv.routePrivate("alice", "bob", "psst") {
		t.Fatal("routePrivate: delivery failed")
	}
	envs := bobStream.envelopes(t)
	if countType(envs, protocol.TypePrivate) != 1 {
		t.Fatalf("bob stream: want one private, got %+v", envs)
	}
}

func TestRoutePrivateFallsBackToDatagram(t *testing.T) {
	srv := newTestServer(t)
	bobStream := &fakeConn{fail: true}
	bobUDP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer func() { _ = bobUDP.Close() }()

	srv.registry.RegisterStream("bob", bobStream)
	srv.registry.RegisterDatagram("bob", bobUDP.LocalAddr().(*net.UDPAddr))

	if !srv.routePrivate("alice", "bob", "psst") {
		t.Fatal("routePrivate: datagram fallback failed")
	}

	_ = bobUDP.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, protocol.ReadBufferSize)
	n, _, err := bobUDP.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("bob datagram read: %v", err)
	}
	env, err := protocol.Decode(buf[:n])
	if err != nil || env.Type != protocol.TypePrivate || env.From != "alice" || env.Message != "psst" {
		t.Fatalf("bob datagram: got %s (err %v)", buf[:n], err)
	}
}

func TestPrivateToOfflineRecipient(t *testing.T) {
	srv := newTestServer(t)
	alice := &fakeConn{}
	srv.registry.RegisterStream("alice", alice)
	alice.reset()

	env := &protocol.Envelope{Type: protocol.TypePrivate, To: "carol", Message: "hello?"}
	srv.handlePrivate("alice", env, func(data []byte) { _, _ = alice.Write(data) })

	envs := alice.envelopes(t)
	if len(envs) != 1 || envs[0].Type != protocol.TypeError {
		t.Fatalf("alice: want exactly one error envelope, got %+v", envs)
	}
	if envs[0].Message != "User carol is not online." {
		t.Fatalf("alice: error message %q", envs[0].Message)
	}
}

func TestPrivateConfirmationIsExclusiveWithError(t *testing.T) {
	srv := newTestServer(t)
	alice := &fakeConn{}
	bob := &fakeConn{}
	srv.registry.RegisterStream("alice", alice)
	srv.registry.RegisterStream("bob", bob)
	alice.reset()

	env := &protocol.Envelope{Type: protocol.TypePrivate, To: "bob", Message: "psst"}
	srv.handlePrivate("alice", env, func(data []byte) { _, _ = alice.Write(data) })

	envs := alice.envelopes(t)
	if countType(envs, protocol.TypePrivateSent) != 1 || countType(envs, protocol.TypeError) != 0 {
		t.Fatalf("alice: want one confirmation and no error, got %+v", envs)
	}
	if countType(bob.envelopes(t), protocol.TypePrivate) != 1 {
		t.Fatal("bob: private not delivered exactly once")
	}
}

func TestDropStreamBroadcastsLeaveAndUserList(t *testing.T) {
	srv := newTestServer(t)
	alice := &fakeConn{}
	bob := &fakeConn{}
	srv.registry.RegisterStream("alice", alice)
	srv.registry.RegisterStream("bob", bob)
	bob.reset()

	srv.dropStream("alice", alice)

	users := srv.registry.Snapshot().Users
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("online set after drop: %v", users)
	}

	envs := bob.envelopes(t)
	if countType(envs, protocol.TypeServer) != 1 {
		t.Fatalf("bob: want one leave notice, got %+v", envs)
	}
	if envs[0].Message != "alice left the chat!" {
		t.Fatalf("bob: leave notice %q", envs[0].Message)
	}
	if countType(envs, protocol.TypeUserList) != 1 {
		t.Fatalf("bob: want exactly one user_list, got %+v", envs)
	}

	// A second teardown of the same binding is a no-op.
	bob.reset()
	srv.dropStream("alice", alice)
	if len(bob.envelopes(t)) != 0 {
		t.Fatal("duplicate drop broadcast something")
	}
}

func TestDropStreamKeepsUserWithDatagramBinding(t *testing.T) {
	srv := newTestServer(t)
	alice := &fakeConn{}
	bob := &fakeConn{}
	srv.registry.RegisterStream("alice", alice)
	srv.registry.RegisterDatagram("alice", udpSink(t))
	srv.registry.RegisterStream("bob", bob)
	bob.reset()

	srv.dropStream("alice", alice)

	users := srv.registry.Snapshot().Users
	if len(users) != 2 {
		t.Fatalf("alice must stay online via datagram: %v", users)
	}
	// Leave notice still goes out, but the online set did not change,
	// so no user_list follows.
	envs := bob.envelopes(t)
	if countType(envs, protocol.TypeServer) != 1 || countType(envs, protocol.TypeUserList) != 0 {
		t.Fatalf("bob: got %+v", envs)
	}
}

func TestBroadcastFailureRemovesBinding(t *testing.T) {
	srv := newTestServer(t)
	alice := &fakeConn{}
	broken := &fakeConn{fail: true}
	srv.registry.RegisterStream("alice", alice)
	srv.registry.RegisterStream("bob", broken)
	alice.reset()

	srv.broadcastPublic("carol", "hi", nil, nil)

	users := srv.registry.Snapshot().Users
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf("broken binding not removed: %v", users)
	}

	envs := alice.envelopes(t)
	if countType(envs, protocol.TypePublic) != 1 {
		t.Fatalf("alice: public message lost in cleanup, got %+v", envs)
	}
	if countType(envs, protocol.TypeServer) != 1 || countType(envs, protocol.TypeUserList) != 1 {
		t.Fatalf("alice: want leave notice and user_list after cleanup, got %+v", envs)
	}
}

func TestHeartbeatRebindBroadcastsOneUserList(t *testing.T) {
	srv := newTestServer(t)
	watcher := &fakeConn{}
	srv.registry.RegisterStream("watcher", watcher)

	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40101}
	srv.handleDatagram(remote, &protocol.Envelope{Type: protocol.TypeRegister, Username: "old"})
	watcher.reset()

	srv.handleDatagram(remote, &protocol.Envelope{Type: protocol.TypeHeartbeat, Username: "new"})

	users := srv.registry.Snapshot().Users
	if len(users) != 2 || users[0] != "new" || users[1] != "watcher" {
		t.Fatalf("online set after rebind: %v", users)
	}
	envs := watcher.envelopes(t)
	if countType(envs, protocol.TypeUserList) != 1 {
		t.Fatalf("watcher: want exactly one user_list, got %+v", envs)
	}

	// Heartbeats from unbound addresses are ignored.
	watcher.reset()
	ghost := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40102}
	srv.handleDatagram(ghost, &protocol.Envelope{Type: protocol.TypeHeartbeat, Username: "ghost"})
	if len(watcher.envelopes(t)) != 0 {
		t.Fatal("unbound heartbeat broadcast something")
	}
}

func TestDatagramMessageRequiresBinding(t *testing.T) {
	srv := newTestServer(t)
	watcher := &fakeConn{}
	srv.registry.RegisterStream("watcher", watcher)
	watcher.reset()

	ghost := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40103}
	srv.handleDatagram(ghost, &protocol.Envelope{Type: protocol.TypeMessage, Message: "spoof"})
	srv.handleDatagram(ghost, &protocol.Envelope{Type: protocol.TypePrivate, To: "watcher", Message: "spoof"})

	if len(watcher.envelopes(t)) != 0 {
		t.Fatalf("unbound datagram source reached clients: %+v", watcher.envelopes(t))
	}
}

// udpSink returns a throwaway loopback address for datagram bindings
// whose traffic the test does not read.
func udpSink(t *testing.T) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn.LocalAddr().(*net.UDPAddr)
}
