package description

import (
	"time"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/tag"
)

// Server is an immutable snapshot of one server's last-observed state, per
// spec.md §3. A new observation never mutates an existing Server value; it
// produces a replacement.
type Server struct {
	Addr address.Address
	Kind ServerKind

	SetName   string
	SetVersion int64
	HasSetVersion bool
	ElectionID ElectionID
	Primary    address.Address // the server's hint about who the primary is

	WireVersion VersionRange
	HasWireVersion bool

	Hosts    []address.Address
	Passives []address.Address
	Arbiters []address.Address
	Me       address.Address

	Tags tag.Set

	AverageRTT    time.Duration
	AverageRTTSet bool

	LastWriteDate time.Time
	HasLastWrite  bool

	TopologyVersion *TopologyVersion

	HeartbeatInterval time.Duration

	SessionTimeoutMinutes    int64
	HasSessionTimeoutMinutes bool

	// ClusterTime is the $clusterTime this server's handshake or heartbeat
	// reply carried, gossiped into the topology's clock by fsm.go's apply step 7
	// (spec.md §4.1) independent of whether the reply changed this server's
	// own Kind.
	ClusterTime ClusterTime

	LastError error
}

// NewDefaultServer returns the zero-value Unknown description a server
// starts in before its first successful probe.
func NewDefaultServer(addr address.Address) Server {
	return Server{Addr: addr, Kind: Unknown}
}

// NewServerFromError synthesizes an Unknown description carrying err, used
// whenever a handshake or monitor probe fails (spec.md §3, "A description is
// produced by a handshake or monitor probe, or synthesized as Unknown on
// error").
func NewServerFromError(addr address.Address, err error, tv *TopologyVersion) Server {
	return Server{
		Addr:            addr,
		Kind:            Unknown,
		LastError:       err,
		TopologyVersion: tv,
	}
}

// SetAverageRTT returns a copy of s with the average RTT set.
func (s Server) SetAverageRTT(d time.Duration) Server {
	s.AverageRTT = d
	s.AverageRTTSet = true
	return s
}

// DataBearing reports whether this server can hold data.
func (s Server) DataBearing() bool {
	return s.Kind.DataBearing()
}

// IsStalePrimary reports whether a candidate primary's (setVersion,
// electionId) pair is strictly less than the topology's recorded maximum,
// per spec.md §4.1 "merge-primary rules". Equal pairs are NOT stale — only
// strictly-less pairs are (SPEC_FULL.md §7.1).
func IsStalePrimary(candSetVersion int64, candHasSetVersion bool, candElectionID ElectionID, maxSetVersion int64, maxHasSetVersion bool, maxElectionID ElectionID) bool {
	if !maxHasSetVersion || !candHasSetVersion {
		return false
	}
	if candSetVersion != maxSetVersion {
		return candSetVersion < maxSetVersion
	}
	return candElectionID.Compare(maxElectionID) < 0
}
