package topology

import (
	"testing"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/description"
)

func seedTopology(kind description.TopologyKind, setName string, addrs ...address.Address) description.Topology {
	t := description.NewTopology(kind, setName)
	for _, a := range addrs {
		t = t.WithServer(a, description.NewDefaultServer(a))
	}
	return t
}

func TestApplyLoneStandaloneBecomesSingle(t *testing.T) {
	addr := address.Address("a:27017")
	topo := seedTopology(description.TopologyUnknown, "", addr)

	new := description.NewDefaultServer(addr)
	new.Kind = description.Standalone

	next := apply(topo, new)
	if next.Kind != description.Single {
		t.Errorf("expected Single, got %s", next.Kind)
	}
}

func TestApplyStandaloneAmongMultipleSeedsIsDropped(t *testing.T) {
	a, b := address.Address("a:27017"), address.Address("b:27017")
	topo := seedTopology(description.TopologyUnknown, "", a, b)

	new := description.NewDefaultServer(a)
	new.Kind = description.Standalone

	next := apply(topo, new)
	if next.Kind != description.TopologyUnknown {
		t.Errorf("expected the topology kind to remain Unknown, got %s", next.Kind)
	}
	if _, ok := next.Servers[a]; ok {
		t.Errorf("expected the standalone-among-many server to be dropped from membership")
	}
}

func TestApplyMongosBecomesSharded(t *testing.T) {
	addr := address.Address("a:27017")
	topo := seedTopology(description.TopologyUnknown, "", addr)

	new := description.NewDefaultServer(addr)
	new.Kind = description.Mongos

	next := apply(topo, new)
	if next.Kind != description.Sharded {
		t.Errorf("expected Sharded, got %s", next.Kind)
	}
}

func TestApplyPrimaryReconcilesMembership(t *testing.T) {
	primaryAddr := address.Address("p:27017")
	secondaryAddr := address.Address("s:27017")
	topo := seedTopology(description.TopologyUnknown, "rs0", primaryAddr)

	new := description.NewDefaultServer(primaryAddr)
	new.Kind = description.RSPrimary
	new.SetName = "rs0"
	new.SetVersion = 1
	new.HasSetVersion = true
	new.Hosts = []address.Address{primaryAddr, secondaryAddr}

	next := apply(topo, new)
	if next.Kind != description.ReplicaSetWithPrimary {
		t.Fatalf("expected ReplicaSetWithPrimary, got %s", next.Kind)
	}
	if _, ok := next.Servers[secondaryAddr]; !ok {
		t.Errorf("expected the primary's hosts list to add the missing secondary to membership")
	}
}

func TestApplyDropsStaleTopologyVersion(t *testing.T) {
	addr := address.Address("a:27017")
	topo := seedTopology(description.TopologyUnknown, "", addr)

	fresh := description.NewDefaultServer(addr)
	fresh.Kind = description.Mongos
	fresh.TopologyVersion = &description.TopologyVersion{Counter: 5}
	topo = topo.WithServer(addr, fresh)
	topo.Kind = description.Sharded

	stale := description.NewDefaultServer(addr)
	stale.Kind = description.Unknown
	stale.TopologyVersion = &description.TopologyVersion{Counter: 2}
	stale.LastError = boomErr{}

	next := apply(topo, stale)
	if next.Servers[addr].Kind != description.Mongos {
		t.Errorf("expected the stale, out-of-order update to be dropped, got kind %s", next.Servers[addr].Kind)
	}
}

func TestApplyIncomparableTopologyVersionIsNotDropped(t *testing.T) {
	addr := address.Address("a:27017")
	topo := seedTopology(description.TopologyUnknown, "", addr)

	fresh := description.NewDefaultServer(addr)
	fresh.Kind = description.Mongos
	fresh.TopologyVersion = &description.TopologyVersion{ProcessID: description.ProcessID{1}, Counter: 5}
	topo = topo.WithServer(addr, fresh)
	topo.Kind = description.Sharded

	restarted := description.NewDefaultServer(addr)
	restarted.Kind = description.Mongos
	restarted.TopologyVersion = &description.TopologyVersion{ProcessID: description.ProcessID{2}, Counter: 0}

	next := apply(topo, restarted)
	if next.Servers[addr].TopologyVersion.ProcessID != (description.ProcessID{2}) {
		t.Errorf("expected an incomparable (different process id) update to be applied, not dropped")
	}
}

func TestApplyWrongSetNameSynthesizesError(t *testing.T) {
	addr := address.Address("a:27017")
	topo := seedTopology(description.ReplicaSetNoPrimary, "rs0", addr)

	new := description.NewDefaultServer(addr)
	new.Kind = description.RSSecondary
	new.SetName = "rsOther"

	next := apply(topo, new)
	if next.Servers[addr].Kind != description.Unknown {
		t.Errorf("expected a set-name mismatch to synthesize an Unknown description, got %s", next.Servers[addr].Kind)
	}
}

func TestRecordPrimaryStateFlipsBackToNoPrimary(t *testing.T) {
	primaryAddr := address.Address("p:27017")
	topo := seedTopology(description.ReplicaSetWithPrimary, "rs0", primaryAddr)
	primaryDesc := description.NewDefaultServer(primaryAddr)
	primaryDesc.Kind = description.RSPrimary
	topo = topo.WithServer(primaryAddr, primaryDesc)

	unreachable := description.NewDefaultServer(primaryAddr)
	unreachable.Kind = description.Unknown

	next := apply(topo, unreachable)
	if next.Kind != description.ReplicaSetNoPrimary {
		t.Errorf("expected ReplicaSetNoPrimary once the primary is lost, got %s", next.Kind)
	}
}

func TestMergePrimaryRejectsStalePrimary(t *testing.T) {
	addr := address.Address("p:27017")
	topo := seedTopology(description.ReplicaSetNoPrimary, "rs0", addr)
	topo.MaxSetVersion = 5
	topo.HasMaxSetVersion = true
	topo.MaxElectionID = description.ElectionID{9}
	topo.HasMaxElectionID = true

	stalePrimary := description.NewDefaultServer(addr)
	stalePrimary.Kind = description.RSPrimary
	stalePrimary.SetVersion = 3
	stalePrimary.HasSetVersion = true
	stalePrimary.ElectionID = description.ElectionID{1}

	next := apply(topo, stalePrimary)
	if next.Servers[addr].Kind != description.Unknown {
		t.Errorf("expected a stale primary observation to be downgraded to Unknown, got %s", next.Servers[addr].Kind)
	}
}

func TestCapToSRVMaxHostsRespectsLimit(t *testing.T) {
	candidates := []address.Address{"a", "b", "c", "d"}
	got := capToSRVMaxHosts(candidates, 2, 0)
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 candidates, got %d", len(got))
	}
}

func TestCapToSRVMaxHostsUnlimitedWhenZero(t *testing.T) {
	candidates := []address.Address{"a", "b", "c"}
	got := capToSRVMaxHosts(candidates, 0, 0)
	if len(got) != len(candidates) {
		t.Errorf("expected no capping when max is 0, got %d", len(got))
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }
