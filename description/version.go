package description

import "bytes"

// VersionRange represents an inclusive range of wire protocol versions that
// a server or driver supports. Mirrors the teacher's core/desc.Range.
type VersionRange struct {
	Min int32
	Max int32
}

// Includes reports whether v is within this range, inclusive.
func (r VersionRange) Includes(v int32) bool {
	return r.Min <= v && v <= r.Max
}

// SupportedWireVersions is the range of wire protocol versions this module
// understands.
var SupportedWireVersions = VersionRange{Min: 6, Max: 21}

// ElectionID is an opaque, totally-ordered identifier minted by a replica
// set primary on election. The CORE treats it as 12 opaque bytes (the shape
// of a server-minted object id) and compares it byte-wise; it never
// constructs one itself.
type ElectionID [12]byte

// Compare returns -1, 0, or 1 if e is less than, equal to, or greater than
// other.
func (e ElectionID) Compare(other ElectionID) int {
	return bytes.Compare(e[:], other[:])
}

// IsZero reports whether this is the zero-value ElectionID (i.e. never set).
func (e ElectionID) IsZero() bool {
	return e == ElectionID{}
}

// ProcessID identifies the server process that minted a TopologyVersion.
type ProcessID [12]byte

// TopologyVersion orders successive descriptions of the same server,
// independent of wall-clock time. Only the counter is meaningful when the
// process id matches; across process ids the ordering is undefined (the
// server restarted).
type TopologyVersion struct {
	ProcessID ProcessID
	Counter   int64
}

// CompareTopologyVersion compares two topology versions. It returns
// (0, true) if equal, (-1, true) if a < b, (1, true) if a > b, and
// (0, false) if the two are incomparable (nil, or different process ids) —
// per I6, an incomparable update must never be dropped on that basis alone.
func CompareTopologyVersion(a, b *TopologyVersion) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if a.ProcessID != b.ProcessID {
		return 0, false
	}
	switch {
	case a.Counter < b.Counter:
		return -1, true
	case a.Counter > b.Counter:
		return 1, true
	default:
		return 0, true
	}
}
