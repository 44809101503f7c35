package topology

import (
	"math/rand"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/description"
)

// apply is the single-writer SDAM state transition, grounded on the
// teacher's cluster.Cluster.applyUpdate (cluster/cluster.go) and generalized
// to the full dispatch table of spec.md §4.1. It is a pure function: given
// the current topology snapshot and a newly observed server description, it
// returns the next snapshot. The caller (Topology.Apply) is responsible for
// taking the resulting membership Diff and starting/stopping monitors.
func apply(t description.Topology, new description.Server) description.Topology {
	if _, member := t.Servers[new.Addr]; !member {
		// A stale monitor for a server that has since been removed from
		// membership; its observation is discarded (spec.md §4.1 step 1).
		return t
	}

	if old := t.Servers[new.Addr]; old.TopologyVersion != nil && new.TopologyVersion != nil {
		if cmp, ok := description.CompareTopologyVersion(new.TopologyVersion, old.TopologyVersion); ok && cmp < 0 {
			// I6: an out-of-order update with a comparable, strictly-older
			// topology version is dropped; incomparable updates fall through.
			return t
		}
	}

	if t.SetName != "" && new.SetName != "" && t.SetName != new.SetName {
		new = description.NewServerFromError(new.Addr, errWrongSetName(t.SetName, new.SetName, new.Addr), new.TopologyVersion)
	}

	t = t.WithServer(new.Addr, new)

	if t.Kind == description.LoadBalanced {
		// Step 5: LoadBalanced topologies never run SDAM dispatch; the one
		// member's description is just recorded as-is.
		return t.UpdateCompatibility()
	}

	t = t.UpdateSessionSupport()

	if new.ClusterTime.IsSet() {
		t.ClusterTime = description.Max(t.ClusterTime, new.ClusterTime)
	}

	t = dispatch(t, new)

	return t.UpdateCompatibility()
}

// dispatch implements spec.md §4.1's (topology kind, server kind) table.
func dispatch(t description.Topology, new description.Server) description.Topology {
	switch t.Kind {
	case description.TopologyUnknown:
		switch new.Kind {
		case description.Unknown, description.RSGhost:
			// no-op
		case description.Standalone:
			if len(t.Servers) == 1 {
				t.Kind = description.Single
			} else {
				t = t.WithoutServer(new.Addr)
			}
		case description.Mongos:
			t.Kind = description.Sharded
		case description.RSPrimary:
			t.Kind = description.ReplicaSetWithPrimary
			t = mergePrimary(t, new)
		default: // RSSecondary, RSArbiter, RSOther
			t.Kind = description.ReplicaSetNoPrimary
			t = mergeMember(t, new)
		}

	case description.Sharded:
		switch new.Kind {
		case description.Unknown, description.RSGhost, description.Mongos:
			// no-op
		default:
			t = t.WithoutServer(new.Addr)
		}

	case description.ReplicaSetNoPrimary:
		switch new.Kind {
		case description.Unknown, description.RSGhost:
			// no-op
		case description.Standalone, description.Mongos:
			t = t.WithoutServer(new.Addr)
		case description.RSPrimary:
			t = mergePrimary(t, new)
			t = recordPrimaryState(t)
		default:
			t = mergeMember(t, new)
			t = recordPrimaryState(t)
		}

	case description.ReplicaSetWithPrimary:
		switch new.Kind {
		case description.Unknown, description.RSGhost:
			t = recordPrimaryState(t)
		case description.Standalone, description.Mongos:
			t = t.WithoutServer(new.Addr)
			t = recordPrimaryState(t)
		case description.RSPrimary:
			t = mergePrimary(t, new)
			t = recordPrimaryState(t)
		default:
			t = mergeMember(t, new)
			t = recordPrimaryState(t)
		}

	case description.Single:
		// A Single topology's kind and sole member never change shape in
		// response to dispatch; only the stored description (already
		// replaced above) tracks the server's health.
	}
	return t
}

// mergePrimary absorbs a newly-observed primary's view of the replica set
// into the topology: stale-election detection, primary demotion, and
// membership reconciliation from the primary's hosts/passives/arbiters
// lists, per spec.md §4.1 "merge-primary rules".
func mergePrimary(t description.Topology, new description.Server) description.Topology {
	if description.IsStalePrimary(new.SetVersion, new.HasSetVersion, new.ElectionID,
		t.MaxSetVersion, t.HasMaxSetVersion, t.MaxElectionID) {
		return t.WithServer(new.Addr, description.NewServerFromError(new.Addr,
			errStalePrimary(new.Addr), new.TopologyVersion))
	}

	if new.HasSetVersion && (!t.HasMaxSetVersion || new.SetVersion > t.MaxSetVersion ||
		(new.SetVersion == t.MaxSetVersion && new.ElectionID.Compare(t.MaxElectionID) > 0)) {
		t.MaxSetVersion = new.SetVersion
		t.HasMaxSetVersion = true
		t.MaxElectionID = new.ElectionID
		t.HasMaxElectionID = true
	}

	// Demote any other member this topology still believes is primary; a
	// new primary observation always wins over a stale one (dueling
	// primaries during an election).
	for addr, s := range t.Servers {
		if addr != new.Addr && s.Kind == description.RSPrimary {
			t = t.WithServer(addr, description.NewDefaultServer(addr))
		}
	}

	members := map[address.Address]struct{}{new.Addr: {}}
	for _, h := range new.Hosts {
		members[h] = struct{}{}
	}
	for _, h := range new.Passives {
		members[h] = struct{}{}
	}
	for _, h := range new.Arbiters {
		members[h] = struct{}{}
	}

	toAdd := capToSRVMaxHosts(missingMembers(t, members), t.SRVMaxHosts, len(t.Servers))
	for _, addr := range toAdd {
		t = t.WithServer(addr, description.NewDefaultServer(addr))
	}

	for addr := range t.Servers {
		if _, ok := members[addr]; !ok {
			t = t.WithoutServer(addr)
		}
	}

	return t
}

// mergeMember absorbs a newly-observed secondary/arbiter/other member's
// description, per spec.md §4.1 "merge-member rules".
func mergeMember(t description.Topology, new description.Server) description.Topology {
	if t.SetName == "" {
		t.SetName = new.SetName
	} else if new.SetName != "" && t.SetName != new.SetName {
		return t.WithoutServer(new.Addr)
	}

	if new.Me != "" && new.Me != new.Addr {
		return t.WithoutServer(new.Addr)
	}

	for _, h := range new.Hosts {
		if _, known := t.Servers[h]; !known {
			t = t.WithServer(h, description.NewDefaultServer(h))
		}
	}

	return t
}

// recordPrimaryState sets the topology kind to ReplicaSetWithPrimary or
// ReplicaSetNoPrimary depending on current membership, after any mutation
// to a replica-set topology (spec.md §4.1 "record-primary-state").
func recordPrimaryState(t description.Topology) description.Topology {
	if !t.Kind.ReplicaSet() {
		return t
	}
	if _, ok := t.HasPrimary(); ok {
		t.Kind = description.ReplicaSetWithPrimary
	} else {
		t.Kind = description.ReplicaSetNoPrimary
	}
	return t
}

func missingMembers(t description.Topology, members map[address.Address]struct{}) []address.Address {
	var out []address.Address
	for addr := range members {
		if _, known := t.Servers[addr]; !known {
			out = append(out, addr)
		}
	}
	return out
}

// capToSRVMaxHosts randomly samples candidates down to the srv_max_hosts
// cap, per spec.md §4.1's reconciliation note. A zero cap means unlimited.
func capToSRVMaxHosts(candidates []address.Address, max int, alreadyHave int) []address.Address {
	if max <= 0 || alreadyHave+len(candidates) <= max {
		return candidates
	}
	room := max - alreadyHave
	if room <= 0 {
		return nil
	}
	shuffled := append([]address.Address(nil), candidates...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:room]
}
