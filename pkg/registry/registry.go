// Package registry owns the relay's shared identity state: which
// usernames are online and how each one is reachable over the stream
// and datagram transports.
//
// All maps live behind a single mutex. Mutating operations return a
// Snapshot captured under that same lock, so a registration change and
// the fan-out it triggers can never be interleaved with a conflicting
// mutation from another connection's goroutine.
package registry

import (
	"net"
	"sort"
	"sync"
	"time"
)

// StreamTarget pairs a username with its live stream connection.
type StreamTarget struct {
	Username string
	Conn     net.Conn
}

// Snapshot is a consistent view of every delivery target and the
// online-user set, taken at a single point in time.
type Snapshot struct {
	Streams   []StreamTarget
	Datagrams []*net.UDPAddr
	Users     []string
}

// Registry maps usernames to transport bindings and maintains the
// canonical online-user set. A username is online exactly while it has
// at least one binding of either kind.
type Registry struct {
	mu        sync.Mutex
	streams   map[string]net.Conn     // username -> stream connection
	datagrams map[string]*net.UDPAddr // username -> datagram address
	byAddr    map[string]string       // datagram address -> username
	lastSeen  map[string]time.Time    // username -> last datagram arrival
	online    map[string]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		streams:   make(map[string]net.Conn),
		datagrams: make(map[string]*net.UDPAddr),
		byAddr:    make(map[string]string),
		lastSeen:  make(map[string]time.Time),
		online:    make(map[string]struct{}),
	}
}

// snapshotLocked captures the current state. Callers hold mu.
func (r *Registry) snapshotLocked() Snapshot {
	snap := Snapshot{
		Streams:   make([]StreamTarget, 0, len(r.streams)),
		Datagrams: make([]*net.UDPAddr, 0, len(r.datagrams)),
		Users:     make([]string, 0, len(r.online)),
	}
	for username, conn := range r.streams {
		snap.Streams = append(snap.Streams, StreamTarget{Username: username, Conn: conn})
	}
	for _, addr := range r.datagrams {
		snap.Datagrams = append(snap.Datagrams, addr)
	}
	for username := range r.online {
		snap.Users = append(snap.Users, username)
	}
	sort.Strings(snap.Users)
	return snap
}

// Snapshot returns a consistent view of all targets and the online set.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// RegisterStream binds username to conn and marks it online. A previous
// stream binding under the same name is replaced, last writer wins; the
// protocol performs no name-conflict rejection.
func (r *Registry) RegisterStream(username string, conn net.Conn) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[username] = conn
	r.online[username] = struct{}{}
	return r.snapshotLocked()
}

// UnregisterStream removes the stream binding, but only while it still
// belongs to conn, so the teardown of a superseded connection cannot
// drop the binding a newer connection owns. removed reports whether the
// binding was dropped, offline whether the username also left the
// online set.
func (r *Registry) UnregisterStream(username string, conn net.Conn) (removed, offline bool, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.streams[username]
	if !ok || cur != conn {
		return false, false, r.snapshotLocked()
	}
	delete(r.streams, username)
	if _, viaDatagram := r.datagrams[username]; !viaDatagram {
		delete(r.online, username)
		offline = true
	}
	return true, offline, r.snapshotLocked()
}

// bindDatagramLocked installs addr as username's datagram endpoint. Any
// other username previously bound to addr loses its binding, and any
// previous address for username is released, keeping the address and
// username maps in lockstep. Callers hold mu.
func (r *Registry) bindDatagramLocked(username string, addr *net.UDPAddr) {
	key := addr.String()
	if owner, ok := r.byAddr[key]; ok && owner != username {
		r.dropDatagramLocked(owner)
	}
	if prev, ok := r.datagrams[username]; ok {
		delete(r.byAddr, prev.String())
	}
	r.datagrams[username] = addr
	r.byAddr[key] = username
	r.lastSeen[username] = time.Now()
	r.online[username] = struct{}{}
}

// dropDatagramLocked removes username's datagram binding and reports
// whether the username left the online set. Callers hold mu.
func (r *Registry) dropDatagramLocked(username string) (offline bool) {
	addr, ok := r.datagrams[username]
	if !ok {
		return false
	}
	delete(r.datagrams, username)
	delete(r.byAddr, addr.String())
	delete(r.lastSeen, username)
	if _, viaStream := r.streams[username]; !viaStream {
		delete(r.online, username)
		return true
	}
	return false
}

// RegisterDatagram binds username to addr and marks it online.
func (r *Registry) RegisterDatagram(username string, addr *net.UDPAddr) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindDatagramLocked(username, addr)
	return r.snapshotLocked()
}

// UnregisterDatagram removes username's datagram binding.
func (r *Registry) UnregisterDatagram(username string) (removed, offline bool, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.datagrams[username]; !ok {
		return false, false, r.snapshotLocked()
	}
	offline = r.dropDatagramLocked(username)
	return true, offline, r.snapshotLocked()
}

// RebindDatagram handles a heartbeat whose declared username differs
// from the address's current binding: the old identity's datagram
// binding is dropped and the new one installed. When addr is unbound or
// the name already matches, the heartbeat only refreshes liveness and
// changed is false; the returned snapshot is then meaningless.
func (r *Registry) RebindDatagram(addr *net.UDPAddr, username string) (old string, changed bool, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byAddr[addr.String()]
	if !ok {
		return "", false, Snapshot{}
	}
	r.lastSeen[cur] = time.Now()
	if username == "" || cur == username {
		return "", false, Snapshot{}
	}
	r.bindDatagramLocked(username, addr)
	return cur, true, r.snapshotLocked()
}

// DatagramUser returns the username bound to addr, refreshing its
// liveness timestamp; any packet from a bound address counts as proof
// of life.
func (r *Registry) DatagramUser(addr *net.UDPAddr) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	username, ok := r.byAddr[addr.String()]
	if ok {
		r.lastSeen[username] = time.Now()
	}
	return username, ok
}

// Resolve looks up delivery targets for a username. ok is false when
// the identity is fully offline; either handle may be nil otherwise.
func (r *Registry) Resolve(username string) (conn net.Conn, addr *net.UDPAddr, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn = r.streams[username]
	addr = r.datagrams[username]
	return conn, addr, conn != nil || addr != nil
}

// OnlineCount returns the size of the online set.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.online)
}

// IdleDatagrams returns usernames whose last datagram arrived before
// cutoff. Used only by the optional idle sweep; the wire protocol
// itself never expires bindings.
func (r *Registry) IdleDatagrams(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var idle []string
	for username, seen := range r.lastSeen {
		if seen.Before(cutoff) {
			idle = append(idle, username)
		}
	}
	sort.Strings(idle)
	return idle
}
