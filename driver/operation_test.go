package driver

import (
	"testing"

	"github.com/clusterdb/godriver/driver/topology"
	"github.com/clusterdb/godriver/readpref"
)

func TestBaseOperationDefaults(t *testing.T) {
	var b BaseOperation
	if b.Database() != "" {
		t.Errorf("expected an empty default database")
	}
	if b.IsRetryableRead() || b.IsRetryableWrite() || b.RequiresPrimary() {
		t.Errorf("expected all retry/primary flags to default false")
	}
	if b.ReadPreference().Mode() != readpref.PrimaryMode {
		t.Errorf("expected the default read preference to be Primary when RP is unset")
	}
	if _, ok := b.PinnedConnection(); ok {
		t.Errorf("expected no pinned connection by default")
	}
}

type stubConn struct{ topology.Connection }

func TestBaseOperationOverrides(t *testing.T) {
	rp := readpref.Secondary()
	b := BaseOperation{
		DB:             "mydb",
		RetryableRead:  true,
		RetryableWrite: true,
		NeedsPrimary:   true,
		RP:             rp,
		Pinned:         stubConn{},
		HasPinned:      true,
	}
	if b.Database() != "mydb" {
		t.Errorf("Database() = %q, want mydb", b.Database())
	}
	if !b.IsRetryableRead() || !b.IsRetryableWrite() || !b.RequiresPrimary() {
		t.Errorf("expected the configured flags to be reported back")
	}
	if b.ReadPreference() != rp {
		t.Errorf("expected the configured read preference to be returned as-is")
	}
	conn, ok := b.PinnedConnection()
	if !ok || conn == nil {
		t.Errorf("expected the configured pin to be reported, got %v (ok=%v)", conn, ok)
	}
}
