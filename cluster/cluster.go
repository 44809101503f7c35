// Package cluster generalizes the teacher's flat Cluster type
// (_examples/10gen-mongo-go-driver/cluster/cluster.go: one struct owning a
// monitor, a stateDesc, a stateServers map, and a waiters set) into two
// pieces driver/topology.Topology delegates to instead of reimplementing:
// a subscribe/broadcast Waiter for the blocking SelectServer loop, and an
// ApplyUpdate helper for the merge-then-diff step every Apply performs.
// The original Cluster owned both the snapshot and the per-member server
// map itself; here the caller owns both, since SDAM needs a Topology/Server
// split rather than one shared struct (spec.md names both as separate
// components), and this package has no opinion on how servers are stored.
package cluster

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/description"
)

// ErrSelectionTimeout is returned by Waiter.SelectServer when no suitable
// server appeared before the deadline, mirroring the teacher's own
// "server selection timed out" sentinel in Cluster.SelectServer.
var ErrSelectionTimeout = errors.New("cluster: server selection timed out")

// Waiter is the subscribe/broadcast half of the teacher's Cluster: a set of
// channels woken on every Wake, and the random source the teacher's
// SelectServer used to pick among equally-eligible candidates
// (`suitable[c.rand.Intn(len(suitable))]`).
type Waiter struct {
	mu           sync.Mutex
	lastWaiterID int64
	waiters      map[int64]chan struct{}
	rnd          *rand.Rand
}

// NewWaiter constructs an empty Waiter.
func NewWaiter() *Waiter {
	return &Waiter{
		waiters: make(map[int64]chan struct{}),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wake signals every blocked SelectServer call, the same best-effort
// non-blocking send the teacher's subscribeToMonitor goroutine performed
// over c.waiters on each incoming description.
func (w *Waiter) Wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (w *Waiter) addWaiter() (<-chan struct{}, int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.lastWaiterID
	w.lastWaiterID++
	ch := make(chan struct{}, 1)
	w.waiters[id] = ch
	return ch, id
}

func (w *Waiter) removeWaiter(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.waiters, id)
}

// SelectServer is the teacher's Cluster.SelectServer loop, generalized to
// take the pieces a flat Cluster used to own as its own fields:
// describe reads the current snapshot (was c.Desc()), resolve checks
// whether a candidate address is still a live member and reports it (was
// the stateServers lookup), and requestCheck nudges monitors to probe
// immediately when no candidate is found yet (was c.monitor.RequestImmediateCheck).
func (w *Waiter) SelectServer(
	ctx context.Context,
	timeout time.Duration,
	describe func() description.Topology,
	sel description.ServerSelector,
	resolve func(address.Address) bool,
	requestCheck func(),
) (address.Address, error) {
	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	updated, id := w.addWaiter()
	defer w.removeWaiter(id)

	for {
		candidates, err := sel.SelectServer(describe())
		if err != nil {
			return "", err
		}

		if len(candidates) > 0 {
			addr := candidates[w.rnd.Intn(len(candidates))]
			if resolve(addr) {
				return addr, nil
			}
			// Selected an address that has since been removed from
			// membership; loop and re-select against the fresh snapshot,
			// exactly as the teacher's own "this is unfortunate... start
			// this process over" branch does.
			continue
		}

		requestCheck()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-updated:
			// topology has changed
		case <-timerC:
			return "", ErrSelectionTimeout
		}
	}
}

// Update is the result of folding a newly observed server description into
// a topology snapshot: the merged description plus the membership delta
// the caller must react to by starting or stopping per-member servers.
type Update struct {
	Desc    description.Topology
	Added   []address.Address
	Removed []address.Address
}

// ApplyUpdate is the teacher's Cluster.applyUpdate generalized: the
// original computed Diff(currentDesc, desc) under c.stateLock and used it
// to add/remove entries from c.stateServers directly. Here merge owns the
// SDAM-specific per-kind merge rules (driver/topology/fsm.go's apply,
// mergePrimary, mergeMember — logic the teacher's single-struct Cluster
// never needed because it had no replica-set state machine of its own),
// and ApplyUpdate only performs the diff half, leaving the caller to own
// its own lock and server map.
func ApplyUpdate(old description.Topology, sd description.Server, merge func(description.Topology, description.Server) description.Topology) Update {
	next := merge(old, sd)
	diff := description.DiffTopology(old, next)
	return Update{Desc: next, Added: diff.Added, Removed: diff.Removed}
}
