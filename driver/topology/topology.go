// Package topology implements C6 (the SDAM single-writer state machine) and
// C7 (the blocking server-selection loop) on top of the pure snapshot types
// in package description. The select-loop and apply-diff plumbing is
// delegated to package cluster (cluster/cluster.go), the generalized form
// of the teacher's flat Cluster type; this package supplies the SDAM merge
// rules (fsm.go) and the per-member Server bookkeeping cluster.Waiter has
// no opinion on.
package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/cluster"
	"github.com/clusterdb/godriver/description"
)

// ErrServerSelectionTimeout is returned by Select when no suitable server
// was found before the deadline (spec.md §4.3 step 10).
var ErrServerSelectionTimeout = errors.New("topology: server selection timed out")

// Config carries the fixed parameters of a Topology, set once at
// construction from connection-string/options parsing (an external
// collaborator; spec.md §7 "Configuration").
type Config struct {
	Kind                   description.TopologyKind
	SetName                string
	Seeds                  []address.Address
	HeartbeatInterval      time.Duration
	LocalThreshold         time.Duration
	ServerSelectionTimeout time.Duration
	SRVMaxHosts            int

	// NewServer constructs the stateful per-member monitor+pool when a
	// server is added to membership. Nil in tests that only exercise the
	// fsm/selection loop against synthetic descriptions.
	NewServer func(addr address.Address) *Server
}

// Topology is the mutable, single-writer-guarded home of the current
// description.Topology snapshot, plus the stateful per-member Servers it
// drives into existence and tears down as membership changes.
type Topology struct {
	cfg Config

	mu   sync.Mutex
	desc description.Topology

	serversMu sync.Mutex
	servers   map[address.Address]*Server

	waiter *cluster.Waiter

	closeOnce sync.Once
	done      chan struct{}
}

// New constructs a Topology in its Initial state (spec.md §4.1 "Initial-type
// rules") and starts monitoring every seed.
func New(cfg Config) *Topology {
	kind := cfg.Kind
	if kind == description.TopologyUnknown && len(cfg.Seeds) == 1 && cfg.SetName == "" {
		kind = description.TopologyUnknown // resolved to Single only once the lone seed's first hello kind is known
	}

	initial := description.NewTopology(kind, cfg.SetName)
	initial.HeartbeatInterval = cfg.HeartbeatInterval
	initial.LocalThreshold = cfg.LocalThreshold
	initial.ServerSelectionTimeout = cfg.ServerSelectionTimeout
	initial.SRVMaxHosts = cfg.SRVMaxHosts
	if kind == description.LoadBalanced {
		initial.TransactionSupport = true
	}
	for _, addr := range cfg.Seeds {
		initial.Servers[addr] = description.NewDefaultServer(addr)
	}

	t := &Topology{
		cfg:     cfg,
		desc:    initial,
		servers: map[address.Address]*Server{},
		waiter:  cluster.NewWaiter(),
		done:    make(chan struct{}),
	}
	for _, addr := range cfg.Seeds {
		t.startServer(addr)
	}
	return t
}

// Description returns the current topology snapshot.
func (t *Topology) Description() description.Topology {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.desc
}

// Apply feeds a newly observed server description into the state machine,
// updates membership, and wakes any blocked selectors. Called by each
// member's Monitor on every heartbeat and by the operation executor on
// SDAM-relevant errors (spec.md §4.1, §6 "ProcessError").
func (t *Topology) Apply(new description.Server) {
	t.mu.Lock()
	old := t.desc
	update := cluster.ApplyUpdate(old, new, apply)
	t.desc = update.Desc
	t.mu.Unlock()

	for _, addr := range update.Added {
		t.startServer(addr)
	}
	for _, addr := range update.Removed {
		t.stopServer(addr)
	}

	t.waiter.Wake()
}

func (t *Topology) startServer(addr address.Address) {
	if t.cfg.NewServer == nil {
		return
	}
	t.serversMu.Lock()
	defer t.serversMu.Unlock()
	if _, ok := t.servers[addr]; ok {
		return
	}
	s := t.cfg.NewServer(addr)
	t.servers[addr] = s
	s.Subscribe(t.Apply)
}

func (t *Topology) stopServer(addr address.Address) {
	t.serversMu.Lock()
	s, ok := t.servers[addr]
	if ok {
		delete(t.servers, addr)
	}
	t.serversMu.Unlock()
	if ok {
		s.Close()
	}
}

// Server returns the stateful per-member Server for addr, if it is
// currently a member.
func (t *Topology) Server(addr address.Address) (*Server, bool) {
	t.serversMu.Lock()
	defer t.serversMu.Unlock()
	s, ok := t.servers[addr]
	return s, ok
}

// RequestImmediateCheck asks every member's monitor to probe now instead of
// waiting out its heartbeat interval (spec.md §4.2 "application error
// triggers an immediate re-check").
func (t *Topology) RequestImmediateCheck() {
	t.serversMu.Lock()
	defer t.serversMu.Unlock()
	for _, s := range t.servers {
		s.RequestImmediateCheck()
	}
}

// Select runs sel against successive topology snapshots until it yields a
// non-empty candidate set, the context is cancelled, or
// ServerSelectionTimeout elapses — spec.md §4.3 steps 8-10. The loop itself
// is cluster.Waiter.SelectServer; this method only supplies the
// describe/resolve/requestCheck callbacks over its own server map.
func (t *Topology) Select(ctx context.Context, sel description.ServerSelector) (*Server, error) {
	var resolved *Server
	_, err := t.waiter.SelectServer(
		ctx,
		t.cfg.ServerSelectionTimeout,
		t.Description,
		sel,
		func(addr address.Address) bool {
			s, ok := t.Server(addr)
			if !ok {
				return false
			}
			resolved = s
			return true
		},
		t.RequestImmediateCheck,
	)
	if err != nil {
		if err == cluster.ErrSelectionTimeout {
			return nil, ErrServerSelectionTimeout
		}
		return nil, fmt.Errorf("topology: %w: %s", ErrServerSelectionTimeout, err)
	}
	return resolved, nil
}

// Close stops every member's monitor and drains every pool concurrently,
// grounded on the teacher's use of golang.org/x/sync/errgroup for
// coordinated multi-server shutdown.
func (t *Topology) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.serversMu.Lock()
		servers := t.servers
		t.servers = map[address.Address]*Server{}
		t.serversMu.Unlock()

		var g errgroup.Group
		for _, s := range servers {
			s := s
			g.Go(func() error {
				s.Close()
				return nil
			})
		}
		_ = g.Wait()
	})
}
