package description

import (
	"errors"
	"fmt"
	"time"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/readpref"
)

// SelectedServer pairs a Server snapshot with the TopologyKind it was
// selected from, since some encoding decisions (e.g. $readPreference
// attachment) depend on both.
type SelectedServer struct {
	Server
	TopologyKind TopologyKind
}

// ErrIncompatible is returned by Select when the topology carries a
// compatibility error (spec.md §4.3 step 1).
type ErrIncompatible struct {
	Reason string
}

func (e ErrIncompatible) Error() string {
	return fmt.Sprintf("client is incompatible with this deployment: %s", e.Reason)
}

// ErrInvalidReadPreference is returned when max-staleness validation fails
// during selection (spec.md §4.3 step 6).
var ErrInvalidReadPreference = errors.New("description: invalid read preference for this topology")

// ServerSelector is a pure function over a Topology snapshot that narrows
// the member set down to the eligible candidates (spec.md §4.3 steps 1-7).
// It never blocks; the retry-until-timeout loop lives in driver/topology.
type ServerSelector interface {
	SelectServer(Topology) ([]address.Address, error)
}

// ServerSelectorFunc adapts a function to a ServerSelector.
type ServerSelectorFunc func(Topology) ([]address.Address, error)

// SelectServer implements ServerSelector.
func (f ServerSelectorFunc) SelectServer(t Topology) ([]address.Address, error) { return f(t) }

// CompositeSelector runs each selector in order, narrowing the candidate
// pool to the intersection (a ReadPrefSelector followed by a
// LatencySelector, per the teacher's description.CompositeSelector usage in
// x/mongo/driverx/driver.go's createReadPrefSelector).
func CompositeSelector(selectors []ServerSelector) ServerSelector {
	return ServerSelectorFunc(func(t Topology) ([]address.Address, error) {
		candidates := t
		for _, sel := range selectors {
			addrs, err := sel.SelectServer(candidates)
			if err != nil {
				return nil, err
			}
			candidates = restrictTo(t, addrs)
			if len(addrs) == 0 {
				return addrs, nil
			}
		}
		addrs := make([]address.Address, 0, len(candidates.Servers))
		for addr := range candidates.Servers {
			addrs = append(addrs, addr)
		}
		return addrs, nil
	})
}

func restrictTo(t Topology, addrs []address.Address) Topology {
	next := NewTopology(t.Kind, t.SetName)
	next.HeartbeatInterval = t.HeartbeatInterval
	for _, a := range addrs {
		if s, ok := t.Servers[a]; ok {
			next.Servers[a] = s
		}
	}
	return next
}

// WriteSelector selects servers eligible to accept writes: the primary, a
// mongos, a standalone, or (for Single topologies) the sole member —
// spec.md §4.3's "arbitrary predicate ... 'primary or mongos or standalone'".
func WriteSelector() ServerSelector {
	return ServerSelectorFunc(func(t Topology) ([]address.Address, error) {
		if t.CompatibilityError != "" {
			return nil, ErrIncompatible{Reason: t.CompatibilityError}
		}
		if t.Kind == LoadBalanced {
			for addr := range t.Servers {
				return []address.Address{addr}, nil
			}
			return nil, nil
		}
		var out []address.Address
		for addr, s := range t.Servers {
			switch {
			case t.Kind == Single && s.Kind != Unknown:
				out = append(out, addr)
			case s.Kind == RSPrimary, s.Kind == Mongos, s.Kind == Standalone:
				out = append(out, addr)
			}
		}
		return out, nil
	})
}

// ReadPrefSelector selects servers matching rp's mode, tag sets, and max
// staleness, per spec.md §4.3 steps 1-6.
func ReadPrefSelector(rp *readpref.ReadPref) ServerSelector {
	return ServerSelectorFunc(func(t Topology) ([]address.Address, error) {
		if t.CompatibilityError != "" {
			return nil, ErrIncompatible{Reason: t.CompatibilityError}
		}

		if t.Kind == LoadBalanced {
			for addr := range t.Servers {
				return []address.Address{addr}, nil
			}
			return nil, nil
		}

		if err := rp.Validate(t.HeartbeatInterval); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidReadPreference, err)
		}

		if (t.Kind == TopologyUnknown || t.Kind == ReplicaSetNoPrimary) && rp.Mode() == readpref.PrimaryMode {
			return nil, nil
		}

		candidates := modeCandidates(t, rp)
		candidates = filterByTags(candidates, rp)
		candidates = filterByStaleness(t, candidates, rp)
		candidates = filterByLocalThreshold(candidates, t.LocalThreshold)

		out := make([]address.Address, 0, len(candidates))
		for addr := range candidates {
			out = append(out, addr)
		}
		return out, nil
	})
}

// LatencySelector narrows the input to servers within window of the
// fastest candidate's RTT (spec.md §4.3 step 7), usable standalone when a
// caller already has a role-filtered candidate set.
func LatencySelector(window time.Duration) ServerSelector {
	return ServerSelectorFunc(func(t Topology) ([]address.Address, error) {
		candidates := make(map[address.Address]Server, len(t.Servers))
		for addr, s := range t.Servers {
			candidates[addr] = s
		}
		candidates = filterByLocalThreshold(candidates, window)
		out := make([]address.Address, 0, len(candidates))
		for addr := range candidates {
			out = append(out, addr)
		}
		return out, nil
	})
}

func modeCandidates(t Topology, rp *readpref.ReadPref) map[address.Address]Server {
	out := map[address.Address]Server{}
	for addr, s := range t.Servers {
		if t.Kind == Sharded {
			if s.Kind == Mongos {
				out[addr] = s
			}
			continue
		}
		if t.Kind == Single {
			// P2 forbids ever selecting an Unknown server; wait for the
			// sole member's first successful probe like any other kind.
			if s.Kind != Unknown {
				out[addr] = s
			}
			continue
		}
		switch rp.Mode() {
		case readpref.PrimaryMode:
			if s.Kind == RSPrimary {
				out[addr] = s
			}
		case readpref.SecondaryMode:
			if s.Kind == RSSecondary {
				out[addr] = s
			}
		case readpref.PrimaryPreferredMode:
			if s.Kind == RSPrimary {
				return map[address.Address]Server{addr: s}
			}
			if s.Kind == RSSecondary {
				out[addr] = s
			}
		case readpref.SecondaryPreferredMode:
			if s.Kind == RSSecondary {
				out[addr] = s
			}
		case readpref.NearestMode:
			if s.DataBearing() {
				out[addr] = s
			}
		}
	}
	if rp.Mode() == readpref.SecondaryPreferredMode && len(out) == 0 {
		if addr, ok := t.HasPrimary(); ok {
			return map[address.Address]Server{addr: t.Servers[addr]}
		}
	}
	return out
}

func filterByTags(candidates map[address.Address]Server, rp *readpref.ReadPref) map[address.Address]Server {
	sets := rp.TagSets()
	if len(sets) == 0 {
		return candidates
	}
	for _, set := range sets {
		matched := map[address.Address]Server{}
		for addr, s := range candidates {
			if s.Tags.ContainsAll(set) {
				matched[addr] = s
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return map[address.Address]Server{}
}

func filterByStaleness(t Topology, candidates map[address.Address]Server, rp *readpref.ReadPref) map[address.Address]Server {
	maxStaleness, ok := rp.MaxStaleness()
	if !ok || rp.Mode() == readpref.PrimaryMode {
		return candidates
	}

	primaryAddr, hasPrimary := t.HasPrimary()
	out := map[address.Address]Server{}
	for addr, s := range candidates {
		if s.Kind != RSSecondary {
			out[addr] = s
			continue
		}
		var staleness time.Duration
		if hasPrimary {
			primary := t.Servers[primaryAddr]
			staleness = primary.LastWriteDate.Sub(s.LastWriteDate) + s.HeartbeatInterval
		} else {
			staleness = maxSecondaryStaleness(candidates, s) + s.HeartbeatInterval
		}
		if staleness <= maxStaleness {
			out[addr] = s
		}
	}
	return out
}

func maxSecondaryStaleness(candidates map[address.Address]Server, s Server) time.Duration {
	var max time.Time
	for _, c := range candidates {
		if c.Kind == RSSecondary && c.LastWriteDate.After(max) {
			max = c.LastWriteDate
		}
	}
	return max.Sub(s.LastWriteDate)
}

func filterByLocalThreshold(candidates map[address.Address]Server, window time.Duration) map[address.Address]Server {
	if len(candidates) == 0 {
		return candidates
	}
	var min time.Duration
	first := true
	for _, s := range candidates {
		if !s.AverageRTTSet {
			continue
		}
		if first || s.AverageRTT < min {
			min = s.AverageRTT
			first = false
		}
	}
	if first {
		// No server has an RTT sample yet (e.g. a just-added Unknown);
		// keep all candidates so selection can proceed on first contact.
		return candidates
	}
	out := map[address.Address]Server{}
	for addr, s := range candidates {
		if !s.AverageRTTSet || s.AverageRTT <= min+window {
			out[addr] = s
		}
	}
	return out
}
