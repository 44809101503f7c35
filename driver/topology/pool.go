package topology

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/event"
)

// poolState mirrors CMAP's pool lifecycle (spec.md §4.4).
type poolState int

const (
	poolPaused poolState = iota
	poolReady
	poolClosed
)

// ErrPoolClosed is returned by checkOut once the pool has been torn down.
var ErrPoolClosed = errors.New("topology: connection pool closed")

// ErrPoolPaused is returned by checkOut while the pool is paused pending a
// clear/ready cycle.
var ErrPoolPaused = errors.New("topology: connection pool paused")

// ServiceID identifies a mongos behind a load balancer that a pooled
// connection is pinned to (spec.md §4.4 "per-serviceId generation").
type ServiceID [12]byte

// connFactory opens one new pooled connection. The wire-protocol handshake
// (C3) is an external collaborator; pool only sequences *when* to call it.
type connFactory func(ctx context.Context) (*pooledConn, error)

type pooledConn struct {
	id         uint64
	generation uint64
	serviceID  *ServiceID
	underlying Connection
}

// pool implements C4 (Connection Monitoring and Pooling), grounded on the
// teacher's topology/server.go use of golang.org/x/sync/semaphore.Weighted
// to gate in-flight connection creation (x/mongo/driverlegacy/topology's
// connectionSemaphoreSize pattern, generalized to a configurable
// max_connecting).
type pool struct {
	addr    address.Address
	factory connFactory
	onEvent func(event.PoolEvent)

	maxPoolSize    int
	minPoolSize    int
	maxConnecting  int64
	connecting     *semaphore.Weighted

	mu         sync.Mutex
	state      poolState
	generation uint64
	// perService tracks generation numbers for load-balanced mode, where a
	// clear scopes to one serviceId's connections rather than the whole
	// pool (spec.md §4.4 "load-balanced per-serviceId pool clear").
	perService map[ServiceID]uint64

	idle    []*pooledConn
	total   int
	nextID  uint64

	waiters chan struct{}
}

func newPool(addr address.Address, factory connFactory, maxPoolSize, minPoolSize int, maxConnecting int64, onEvent func(event.PoolEvent)) *pool {
	if maxConnecting <= 0 {
		maxConnecting = 2
	}
	p := &pool{
		addr:          addr,
		factory:       factory,
		onEvent:       onEvent,
		maxPoolSize:   maxPoolSize,
		minPoolSize:   minPoolSize,
		maxConnecting: maxConnecting,
		connecting:    semaphore.NewWeighted(maxConnecting),
		state:         poolPaused,
		perService:    map[ServiceID]uint64{},
	}
	if onEvent != nil {
		onEvent(event.PoolEvent{Type: event.PoolCreated, Address: addr})
	}
	return p
}

// ready transitions the pool to Ready, allowing checkouts (called once the
// server's first successful heartbeat lands, per spec.md §4.4).
func (p *pool) ready() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == poolClosed {
		return
	}
	p.state = poolReady
	if p.onEvent != nil {
		p.onEvent(event.PoolEvent{Type: event.PoolReady, Address: p.addr})
	}
}

// clear invalidates every connection (or, with serviceID, every connection
// pinned to that service) by bumping the relevant generation counter, per
// spec.md §4.4 "generation-based invalidation". A pool-wide clear also
// pauses new checkouts; a service-scoped clear leaves the pool's state as is.
func (p *pool) clear(reason string, serviceID *ServiceID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == poolClosed {
		return
	}
	if serviceID != nil {
		p.perService[*serviceID]++
	} else {
		p.generation++
		p.state = poolPaused
	}
	if p.onEvent != nil {
		p.onEvent(event.PoolEvent{Type: event.PoolCleared, Address: p.addr, Reason: reason})
	}
}

func (p *pool) currentGeneration(serviceID *ServiceID) uint64 {
	if serviceID != nil {
		return p.perService[*serviceID]
	}
	return p.generation
}

func (p *pool) stale(c *pooledConn) bool {
	if c.serviceID != nil {
		return c.generation != p.perService[*c.serviceID]
	}
	return c.generation != p.generation
}

// checkOut hands the caller an open, non-stale connection, reusing an idle
// one when available and otherwise creating one under the max-connecting
// semaphore (spec.md §4.4 checkOut algorithm).
func (p *pool) checkOut(ctx context.Context) (*pooledConn, error) {
	for {
		c, err := p.tryCheckOut(ctx)
		if err == errRetryCheckout {
			continue
		}
		return c, err
	}
}

func (p *pool) tryCheckOut(ctx context.Context) (*pooledConn, error) {
	p.mu.Lock()
	if p.state == poolClosed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.state == poolPaused {
		p.mu.Unlock()
		return nil, ErrPoolPaused
	}
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.stale(c) {
			p.total--
			if p.onEvent != nil {
				p.onEvent(event.PoolEvent{Type: event.ConnectionClosed, Address: p.addr, ConnectionID: c.id, Reason: "stale"})
			}
			continue
		}
		p.mu.Unlock()
		if p.onEvent != nil {
			p.onEvent(event.PoolEvent{Type: event.ConnectionCheckedOut, Address: p.addr, ConnectionID: c.id})
		}
		return c, nil
	}
	if p.maxPoolSize > 0 && p.total >= p.maxPoolSize {
		p.mu.Unlock()
		return nil, p.waitForRelease(ctx)
	}
	p.total++
	gen := p.generation
	p.mu.Unlock()

	if err := p.connecting.Acquire(ctx, 1); err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}
	defer p.connecting.Release(1)

	if p.onEvent != nil {
		p.onEvent(event.PoolEvent{Type: event.ConnectionCreated, Address: p.addr})
	}
	c, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		if p.onEvent != nil {
			p.onEvent(event.PoolEvent{Type: event.ConnectionCheckOutFailed, Address: p.addr, Error: err})
		}
		return nil, err
	}
	p.mu.Lock()
	p.nextID++
	c.id = p.nextID
	c.generation = gen
	p.mu.Unlock()

	if p.onEvent != nil {
		p.onEvent(event.PoolEvent{Type: event.ConnectionReady, Address: p.addr, ConnectionID: c.id})
		p.onEvent(event.PoolEvent{Type: event.ConnectionCheckedOut, Address: p.addr, ConnectionID: c.id})
	}
	return c, nil
}

// waitForRelease blocks until a connection is returned or ctx is done, a
// simplification of CMAP's waitQueue that favors a condition-style channel
// over an explicit FIFO (acceptable since spec.md's invariant is eventual
// fairness, not strict FIFO order).
func (p *pool) waitForRelease(ctx context.Context) error {
	p.mu.Lock()
	if p.waiters == nil {
		p.waiters = make(chan struct{}, 1)
	}
	ch := p.waiters
	p.mu.Unlock()

	select {
	case <-ch:
		return errRetryCheckout
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errRetryCheckout = errors.New("topology: retry checkout after release")

// checkIn returns a connection to the idle list, or discards it if the pool
// has since been cleared or closed.
func (p *pool) checkIn(c *pooledConn) {
	p.mu.Lock()
	closed := p.state == poolClosed
	stale := p.stale(c)
	if !closed && !stale {
		p.idle = append(p.idle, c)
	} else {
		p.total--
	}
	if p.waiters != nil {
		select {
		case p.waiters <- struct{}{}:
		default:
		}
	}
	p.mu.Unlock()

	if p.onEvent != nil {
		if closed || stale {
			p.onEvent(event.PoolEvent{Type: event.ConnectionClosed, Address: p.addr, ConnectionID: c.id})
		} else {
			p.onEvent(event.PoolEvent{Type: event.ConnectionCheckedIn, Address: p.addr, ConnectionID: c.id})
		}
	}
}

// close drains the pool: existing checkouts may complete and check back in
// (where they are discarded), but no new checkouts succeed.
func (p *pool) close() {
	p.mu.Lock()
	p.state = poolClosed
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	if p.onEvent != nil {
		for _, c := range idle {
			p.onEvent(event.PoolEvent{Type: event.ConnectionClosed, Address: p.addr, ConnectionID: c.id})
		}
		p.onEvent(event.PoolEvent{Type: event.PoolClosedEvent, Address: p.addr})
	}
}
