package topology

import (
	"context"
	"time"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/description"
	"github.com/clusterdb/godriver/internal/cancellation"
)

// minHeartbeatInterval bounds how often a server may be re-probed even under
// a storm of RequestImmediateCheck calls, per spec.md §4.2.
const minHeartbeatInterval = 500 * time.Millisecond

const rttAlpha = 0.2

// Prober performs one hello-style probe against a server, grounded on the
// teacher's Server.heartbeat(conn) (x/mongo/driver/topology/server.go). The
// wire-protocol connection (C3) and auth handshake are external
// collaborators; Prober is the seam the CORE exposes for them.
type Prober interface {
	// Probe sends a single hello/isMaster and returns the resulting
	// description. awaitable is true when the previous successful probe
	// reported topologyVersion support, in which case the implementation
	// should send an awaitable ("streaming") hello that blocks server-side
	// until the deployment's state changes or maxAwaitTimeMS elapses.
	Probe(ctx context.Context, previous description.Server, awaitable bool) (description.Server, error)

	// Close tears down the dedicated monitoring connection, if one is open.
	Close()
}

// monitor runs one server's probe loop, grounded on the teacher's
// Server.update() goroutine (heartbeatTicker + checkNow channel +
// minHeartbeatInterval rate limiter).
type monitor struct {
	addr    address.Address
	prober  Prober
	freq    time.Duration
	onEvent func(description.Server)

	checkNow chan struct{}
	done     chan struct{}

	// lifetime is cancelled by stop() and, via listener, aborts an in-flight
	// streaming probe immediately instead of leaving it to block out the
	// full probeTimeout (spec.md §4.2 "monitor shutdown must not wait on a
	// blocked awaitable hello").
	lifetime       context.Context
	lifetimeCancel context.CancelFunc
	listener       *cancellation.Listener
}

func newMonitor(addr address.Address, prober Prober, freq time.Duration, onEvent func(description.Server)) *monitor {
	if freq <= 0 {
		freq = 10 * time.Second
	}
	lifetime, cancel := context.WithCancel(context.Background())
	m := &monitor{
		addr:           addr,
		prober:         prober,
		freq:           freq,
		onEvent:        onEvent,
		checkNow:       make(chan struct{}, 1),
		done:           make(chan struct{}),
		lifetime:       lifetime,
		lifetimeCancel: cancel,
		listener:       cancellation.NewListener(),
	}
	go m.run()
	return m
}

// requestImmediateCheck wakes the monitor before its next scheduled tick,
// subject to minHeartbeatInterval (spec.md §4.2).
func (m *monitor) requestImmediateCheck() {
	select {
	case m.checkNow <- struct{}{}:
	default:
	}
}

func (m *monitor) stop() {
	close(m.done)
	m.lifetimeCancel()
	m.prober.Close()
}

func (m *monitor) run() {
	var previous description.Server
	var lastRTT time.Duration
	var haveRTT bool
	var awaitable bool

	ticker := time.NewTicker(m.freq)
	defer ticker.Stop()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout(awaitable))
		go m.listener.Listen(m.lifetime, cancel)
		start := time.Now()
		result, err := m.prober.Probe(ctx, previous, awaitable)
		cancel()
		m.listener.StopListening()
		rtt := time.Since(start)

		if err != nil {
			result = description.NewServerFromError(m.addr, err, previous.TopologyVersion)
			awaitable = false
			haveRTT = false
		} else {
			if !awaitable {
				// RTT is only meaningful for the non-blocking probe; an
				// awaitable hello's latency is dominated by server-side
				// wait time and would poison the EWMA.
				if !haveRTT {
					lastRTT = rtt
					haveRTT = true
				} else {
					lastRTT = time.Duration(rttAlpha*float64(rtt) + (1-rttAlpha)*float64(lastRTT))
				}
			}
			result = result.SetAverageRTT(lastRTT)
			awaitable = result.HasWireVersion && result.TopologyVersion != nil
		}
		previous = result

		m.onEvent(result)

		select {
		case <-m.done:
			return
		default:
		}

		if awaitable {
			// Streaming mode: the prober already blocked server-side for up
			// to maxAwaitTimeMS; loop straight back into another probe
			// rather than waiting out the heartbeat ticker (spec.md §4.2
			// "keep the connection open in an awaitable-hello loop").
			continue
		}

		select {
		case <-m.done:
			return
		case <-ticker.C:
		case <-m.checkNow:
			time.Sleep(minHeartbeatInterval)
		}
	}
}

func (m *monitor) probeTimeout(awaitable bool) time.Duration {
	if awaitable {
		return m.freq + 5*time.Second
	}
	return m.freq
}
