package topology

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/description"
	"github.com/clusterdb/godriver/event"
)

// Server binds one member's Monitor (C5) and Pool (C4) together and
// classifies application-reported errors back into SDAM updates, grounded
// on the teacher's x/mongo/driver/topology/server.go Server type.
type Server struct {
	addr address.Address

	monitor *monitor
	pool    *pool

	mu   sync.Mutex
	desc description.Server

	subMu sync.Mutex
	subs  []func(description.Server)

	onTopologyEvent func(event.ServerDescriptionChangedEvent)
}

// NewServer constructs a Server, wiring its Monitor's probe results both
// into the Pool's ready/clear lifecycle and out to any Topology listening
// via Subscribe.
func NewServer(addr address.Address, prober Prober, factory connFactory, heartbeatInterval time.Duration, maxPoolSize, minPoolSize int, maxConnecting int64, onPoolEvent func(event.PoolEvent)) *Server {
	s := &Server{addr: addr, desc: description.NewDefaultServer(addr)}
	s.pool = newPool(addr, factory, maxPoolSize, minPoolSize, maxConnecting, onPoolEvent)
	s.monitor = newMonitor(addr, prober, heartbeatInterval, s.onHeartbeat)
	return s
}

func (s *Server) onHeartbeat(desc description.Server) {
	s.mu.Lock()
	s.desc = desc
	s.mu.Unlock()

	if desc.Kind == description.Unknown {
		s.pool.clear("heartbeat failure: "+errString(desc.LastError), nil)
	} else {
		s.pool.ready()
	}

	s.subMu.Lock()
	subs := append([]func(description.Server){}, s.subs...)
	s.subMu.Unlock()
	for _, cb := range subs {
		cb(desc)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Subscribe registers a callback invoked with every new description this
// server's monitor produces. Descriptions that ProcessError synthesizes are
// returned to its caller and are not passed to subscribers.
func (s *Server) Subscribe(cb func(description.Server)) {
	s.subMu.Lock()
	s.subs = append(s.subs, cb)
	s.subMu.Unlock()
}

// Description returns the last-observed description.
func (s *Server) Description() description.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

// RequestImmediateCheck asks the monitor to probe now (rate-limited by
// minHeartbeatInterval).
func (s *Server) RequestImmediateCheck() { s.monitor.requestImmediateCheck() }

// ConnectionHandle is a checked-out connection together with its release
// back to the owning pool, handed to the executor for the duration of one
// round trip (spec.md §3 "A Connection is exclusively owned by either the
// Pool ... or a single in-flight operation").
type ConnectionHandle struct {
	Conn Connection
	pool *pool
	raw  *pooledConn
}

// Release returns the connection to its pool. Safe to call exactly once.
func (h *ConnectionHandle) Release() { h.pool.checkIn(h.raw) }

// CheckOut obtains a connection from the pool for an in-flight operation.
func (s *Server) CheckOut(ctx context.Context) (*ConnectionHandle, error) {
	c, err := s.pool.checkOut(ctx)
	if err != nil {
		return nil, err
	}
	return &ConnectionHandle{Conn: c.underlying, pool: s.pool, raw: c}, nil
}

// Close stops the monitor and drains the pool.
func (s *Server) Close() {
	s.monitor.stop()
	s.pool.close()
}

// notPrimaryOrRecoveringSubstrings classify command error messages that signal
// the server can no longer serve as it claimed, per spec.md §4.1 "Server
// error classification" and grounded on the teacher's
// x/mongo/driver/topology/server.go ProcessError notPrimary/nodeIsRecovering
// substring table.
var notPrimaryOrRecoveringSubstrings = []string{
	"not master", "not primary", "node is recovering", "not writable primary",
}

func isNotPrimaryOrRecovering(errmsg string) bool {
	lower := strings.ToLower(errmsg)
	for _, s := range notPrimaryOrRecoveringSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// ProcessError classifies an application-reported error (distinct from a
// monitor probe failure) and returns the synthesized description to feed
// into Topology.Apply, plus whether the associated connection's pool
// generation should be cleared synchronously (wire version < 8, meaning the
// server predates streaming SDAM and cannot self-report via its own next
// heartbeat in time) versus left for the next heartbeat to discover,
// grounded on the teacher's Server.ProcessError.
func (s *Server) ProcessError(err error, errmsg string, topologyVersion *description.TopologyVersion, wireVersion int32) (desc description.Server, clearSync bool) {
	if err == nil && !isNotPrimaryOrRecovering(errmsg) {
		return s.Description(), false
	}
	stale := s.Description()
	if cmp, ok := description.CompareTopologyVersion(topologyVersion, stale.TopologyVersion); ok && cmp <= 0 {
		// A topology version no newer than what we already have: the error
		// tells us nothing the last heartbeat didn't already know.
		return stale, false
	}
	next := description.NewServerFromError(s.addr, err, topologyVersion)
	s.mu.Lock()
	s.desc = next
	s.mu.Unlock()
	clearSync = wireVersion < 8
	if clearSync {
		s.pool.clear("notPrimary/nodeIsRecovering", nil)
	}
	s.RequestImmediateCheck()
	return next, clearSync
}
