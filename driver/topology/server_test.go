package topology

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/description"
)

// quietProber never resolves, so a Server under test keeps its constructor
// default description (Unknown) until the test feeds it an update directly.
type quietProber struct{ addr address.Address }

func (p *quietProber) Probe(ctx context.Context, previous description.Server, awaitable bool) (description.Server, error) {
	<-ctx.Done()
	return description.Server{}, ctx.Err()
}
func (p *quietProber) Close() {}

func newTestServer(addr address.Address) *Server {
	return NewServer(addr, &quietProber{addr: addr}, testConnFactory(), time.Hour, 2, 0, 2, nil)
}

func TestServerCheckOutAndRelease(t *testing.T) {
	addr := address.Address("a:27017")
	s := newTestServer(addr)
	defer s.Close()
	s.pool.ready()

	handle, err := s.CheckOut(context.Background())
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if handle.Conn == nil {
		t.Fatal("expected a non-nil connection")
	}
	handle.Release()

	handle2, err := s.CheckOut(context.Background())
	if err != nil {
		t.Fatalf("CheckOut after release: %v", err)
	}
	if handle2.Conn.(*fakeConn).ID() != handle.Conn.(*fakeConn).ID() {
		t.Errorf("expected the released connection to be reused")
	}
}

func TestServerSubscribeReceivesHeartbeatUpdates(t *testing.T) {
	addr := address.Address("a:27017")
	s := newTestServer(addr)
	defer s.Close()

	got := make(chan description.Server, 1)
	s.Subscribe(func(d description.Server) { got <- d })

	next := description.NewDefaultServer(addr)
	next.Kind = description.Standalone
	s.onHeartbeat(next)

	select {
	case d := <-got:
		if d.Kind != description.Standalone {
			t.Errorf("expected the subscriber to observe Standalone, got %s", d.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the subscriber callback")
	}
	if s.Description().Kind != description.Standalone {
		t.Errorf("expected Description() to reflect the latest heartbeat")
	}
}

func TestServerOnHeartbeatClearsPoolOnUnknown(t *testing.T) {
	addr := address.Address("a:27017")
	s := newTestServer(addr)
	defer s.Close()
	s.pool.ready()

	unknown := description.NewServerFromError(addr, errors.New("refused"), nil)
	s.onHeartbeat(unknown)

	if _, err := s.pool.checkOut(context.Background()); err != ErrPoolPaused {
		t.Fatalf("expected the pool to be paused after an Unknown heartbeat, got %v", err)
	}
}

func TestIsNotPrimaryOrRecovering(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"not master", true},
		{"not master or secondary", true},
		{"node is recovering", true},
		{"not writable primary", true},
		{"duplicate key error", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isNotPrimaryOrRecovering(c.msg); got != c.want {
			t.Errorf("isNotPrimaryOrRecovering(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestProcessErrorIgnoresUnrelatedError(t *testing.T) {
	addr := address.Address("a:27017")
	s := newTestServer(addr)
	defer s.Close()

	before := s.Description()
	desc, clearSync := s.ProcessError(nil, "duplicate key error", nil, 17)
	if clearSync {
		t.Errorf("expected no synchronous clear for an unrelated error")
	}
	if desc.Kind != before.Kind {
		t.Errorf("expected the description to be unchanged")
	}
}

func TestProcessErrorSynthesizesUnknownAndClearsOldWireVersion(t *testing.T) {
	addr := address.Address("a:27017")
	s := newTestServer(addr)
	defer s.Close()
	s.pool.ready()

	desc, clearSync := s.ProcessError(errors.New("not master"), "not master", nil, 6)
	if desc.Kind != description.Unknown {
		t.Errorf("expected the synthesized description to be Unknown, got %s", desc.Kind)
	}
	if !clearSync {
		t.Errorf("expected a synchronous clear for a pre-streaming-SDAM wire version")
	}
	if _, err := s.pool.checkOut(context.Background()); err != ErrPoolPaused {
		t.Fatalf("expected the pool to be paused after a synchronous clear, got %v", err)
	}
}

func TestProcessErrorSkipsClearForModernWireVersion(t *testing.T) {
	addr := address.Address("a:27017")
	s := newTestServer(addr)
	defer s.Close()
	s.pool.ready()

	_, clearSync := s.ProcessError(errors.New("not master"), "not master", nil, 13)
	if clearSync {
		t.Errorf("expected no synchronous clear for a streaming-SDAM-capable wire version")
	}
	if _, err := s.pool.checkOut(context.Background()); err == ErrPoolPaused {
		t.Fatalf("expected the pool to remain ready, deferring to the next heartbeat")
	}
}

func TestProcessErrorDropsStaleTopologyVersion(t *testing.T) {
	addr := address.Address("a:27017")
	s := newTestServer(addr)
	defer s.Close()

	s.mu.Lock()
	s.desc.TopologyVersion = &description.TopologyVersion{Counter: 5}
	s.mu.Unlock()

	older := &description.TopologyVersion{Counter: 2}
	desc, clearSync := s.ProcessError(errors.New("node is recovering"), "node is recovering", older, 13)
	if clearSync {
		t.Errorf("expected no clear for a stale topology version")
	}
	if desc.TopologyVersion.Counter != 5 {
		t.Errorf("expected the stale update to be discarded, counter stayed at 5, got %d", desc.TopologyVersion.Counter)
	}
}
