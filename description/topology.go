package description

import (
	"fmt"
	"time"

	"github.com/clusterdb/godriver/address"
)

// Topology is an immutable snapshot of the whole deployment as last observed
// by SDAM, per spec.md §3.
type Topology struct {
	Kind TopologyKind

	SetName string

	MaxSetVersion    int64
	HasMaxSetVersion bool
	MaxElectionID    ElectionID
	HasMaxElectionID bool

	Servers map[address.Address]Server

	CompatibilityError string

	SessionTimeoutMinutes    int64
	HasSessionTimeoutMinutes bool

	// TransactionSupport is set directly to Supported for LoadBalanced
	// topologies (spec.md §4.1 "Initial-type rules"). For Sharded and
	// ReplicaSetWithPrimary topologies UpdateSessionSupport sets it when a
	// data-bearing member reports a session timeout; for every other kind it
	// is false.
	TransactionSupport bool

	ClusterTime ClusterTime

	HeartbeatInterval      time.Duration
	LocalThreshold         time.Duration
	ServerSelectionTimeout time.Duration
	SRVMaxHosts            int
}

// ClusterTime is the logical clock value gossiped on every command
// (spec.md §4.5, C9). It is treated as opaque except for its comparison key.
type ClusterTime struct {
	// Seconds/Increment form the `$clusterTime.clusterTime` BSON Timestamp;
	// Signature is left opaque (the CORE never validates it; that's an
	// external collaborator's job once cryptographic signing is wired in).
	Seconds   uint32
	Increment uint32
	Signature []byte

	set bool
}

// IsSet reports whether a cluster time has ever been observed.
func (c ClusterTime) IsSet() bool { return c.set }

// Less reports whether c happened before other, comparing (Seconds,
// Increment) lexicographically, per spec.md §4.5 "Cluster clock".
func (c ClusterTime) Less(other ClusterTime) bool {
	if !c.set {
		return other.set
	}
	if !other.set {
		return false
	}
	if c.Seconds != other.Seconds {
		return c.Seconds < other.Seconds
	}
	return c.Increment < other.Increment
}

// Max returns the later of two cluster times (compare-and-swap-max
// semantics, spec.md §5).
func Max(a, b ClusterTime) ClusterTime {
	if a.Less(b) {
		return b
	}
	return a
}

// NewClusterTime constructs a set ClusterTime value.
func NewClusterTime(seconds, increment uint32, signature []byte) ClusterTime {
	return ClusterTime{Seconds: seconds, Increment: increment, Signature: signature, set: true}
}

// NewTopology returns an empty topology of the given kind with the given
// configuration; member servers are added via WithServer/apply.
func NewTopology(kind TopologyKind, setName string) Topology {
	return Topology{
		Kind:    kind,
		SetName: setName,
		Servers: map[address.Address]Server{},
	}
}

// WithServer returns a copy of t with addr's description replaced by s. The
// original t is left untouched (descriptions are copy-on-write, spec.md §9
// "Re-architect as ... readers take an atomically-swapped snapshot").
func (t Topology) WithServer(addr address.Address, s Server) Topology {
	next := t.shallowCopyServers()
	next.Servers[addr] = s
	return next
}

// WithoutServer returns a copy of t with addr removed from membership.
func (t Topology) WithoutServer(addr address.Address) Topology {
	next := t.shallowCopyServers()
	delete(next.Servers, addr)
	return next
}

func (t Topology) shallowCopyServers() Topology {
	next := t
	servers := make(map[address.Address]Server, len(t.Servers))
	for k, v := range t.Servers {
		servers[k] = v
	}
	next.Servers = servers
	return next
}

// HasPrimary reports whether any member is currently RSPrimary.
func (t Topology) HasPrimary() (address.Address, bool) {
	for addr, s := range t.Servers {
		if s.Kind == RSPrimary {
			return addr, true
		}
	}
	return "", false
}

// Members returns the current membership set.
func (t Topology) Members() map[address.Address]struct{} {
	m := make(map[address.Address]struct{}, len(t.Servers))
	for addr := range t.Servers {
		m[addr] = struct{}{}
	}
	return m
}

// Diff describes the membership delta between two Topology snapshots, used
// to reconcile Monitors and Pools (spec.md §4.1 "Membership reconciliation
// side effects"), grounded on the teacher's cluster.Diff/cluster.go usage.
type Diff struct {
	Added   []address.Address
	Removed []address.Address
}

// DiffTopology computes the membership delta from old to new.
func DiffTopology(old, new Topology) Diff {
	var d Diff
	for addr := range new.Servers {
		if _, ok := old.Servers[addr]; !ok {
			d.Added = append(d.Added, addr)
		}
	}
	for addr := range old.Servers {
		if _, ok := new.Servers[addr]; !ok {
			d.Removed = append(d.Removed, addr)
		}
	}
	return d
}

// UpdateCompatibility recomputes CompatibilityError by checking every
// member's reported wire version range against SupportedWireVersions
// (spec.md §4.1 step 9).
func (t Topology) UpdateCompatibility() Topology {
	t.CompatibilityError = ""
	for addr, s := range t.Servers {
		if !s.HasWireVersion {
			continue
		}
		if s.WireVersion.Max < SupportedWireVersions.Min {
			t.CompatibilityError = fmt.Sprintf(
				"server at %s reports wire version max %d, but this client requires at least %d (server too old)",
				addr, s.WireVersion.Max, SupportedWireVersions.Min)
			return t
		}
		if s.WireVersion.Min > SupportedWireVersions.Max {
			t.CompatibilityError = fmt.Sprintf(
				"server at %s reports wire version min %d, but this client supports up to %d (server too new)",
				addr, s.WireVersion.Min, SupportedWireVersions.Max)
			return t
		}
	}
	return t
}

// UpdateSessionSupport recomputes the session-support timeout summary from
// data-bearing members only: the minimum reported SessionTimeoutMinutes
// (spec.md §4.1 step 6).
func (t Topology) UpdateSessionSupport() Topology {
	var min int64
	has := false
	for _, s := range t.Servers {
		if !s.DataBearing() || !s.HasSessionTimeoutMinutes {
			continue
		}
		if !has || s.SessionTimeoutMinutes < min {
			min = s.SessionTimeoutMinutes
			has = true
		}
	}
	t.SessionTimeoutMinutes = min
	t.HasSessionTimeoutMinutes = has

	switch t.Kind {
	case LoadBalanced:
		t.TransactionSupport = true
	case Sharded, ReplicaSetWithPrimary:
		t.TransactionSupport = has
	default:
		t.TransactionSupport = false
	}
	return t
}
