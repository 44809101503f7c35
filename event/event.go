// Package event defines the monitoring event types emitted by SDAM and CMAP.
// The teacher's own event package source was never retrieved into the
// pack; these types are reconstructed from real usage sites —
// x/mongo/driver/topology/server.go constructs an event.PoolEvent directly
// (Type/Address/ConnectionID/Reason fields, "ConnectionCheckOutStarted" as
// a Type value) and references event.CommandMonitor. Events are delivered
// through plain callbacks: the pool's onEvent function and Executor.OnCommand.
// The heartbeat and description-changed event types are defined here, but no
// component of this module emits them.
package event

import (
	"time"

	"github.com/clusterdb/godriver/address"
)

// ServerHeartbeatStartedEvent describes the start of a monitor's
// hello/isMaster probe.
type ServerHeartbeatStartedEvent struct {
	ConnectionID string
	Awaited      bool
}

// ServerHeartbeatSucceededEvent describes a probe that returned a reply.
type ServerHeartbeatSucceededEvent struct {
	DurationNanos int64
	Awaited       bool
	ConnectionID  string
}

// ServerHeartbeatFailedEvent describes a probe that errored out.
type ServerHeartbeatFailedEvent struct {
	DurationNanos int64
	Awaited       bool
	ConnectionID  string
	Failure       error
}

// ServerDescriptionChangedEvent describes Topology.Apply replacing a
// member's stored description with a different one.
type ServerDescriptionChangedEvent struct {
	Address         address.Address
	PreviousKind    string
	NewKind         string
}

// TopologyDescriptionChangedEvent describes a change of the topology-level
// Kind as a result of SDAM dispatch.
type TopologyDescriptionChangedEvent struct {
	PreviousKind string
	NewKind      string
}

// PoolEvent is the CMAP event shape, grounded on the real
// &event.PoolEvent{Type: "ConnectionCheckOutStarted", ...} construction in
// x/mongo/driver/topology/server.go, reproduced to the subset CMAP
// actually emits.
type PoolEvent struct {
	Type         string
	Address      address.Address
	ConnectionID uint64
	ServiceID    *[12]byte
	Reason       string
	Error        error
}

// CMAP pool event type constants.
const (
	PoolCreated              = "PoolCreated"
	PoolReady                = "PoolReady"
	PoolCleared              = "PoolCleared"
	PoolClosedEvent          = "PoolClosed"
	ConnectionCreated        = "ConnectionCreated"
	ConnectionReady          = "ConnectionReady"
	ConnectionClosed         = "ConnectionClosed"
	ConnectionCheckOutStarted = "ConnectionCheckOutStarted"
	ConnectionCheckedOut     = "ConnectionCheckedOut"
	ConnectionCheckOutFailed = "ConnectionCheckOutFailed"
	ConnectionCheckedIn      = "ConnectionCheckedIn"
)

// CommandStartedEvent, CommandSucceededEvent, and CommandFailedEvent mirror
// the teacher's command-monitoring trio; the CORE emits them around every
// operation round trip (spec.md §6 "Operation Dispatch").
type CommandStartedEvent struct {
	CommandName  string
	RequestID    int64
	ConnectionID string
	DatabaseName string
}

type CommandSucceededEvent struct {
	CommandName   string
	RequestID     int64
	ConnectionID  string
	DurationNanos int64
}

type CommandFailedEvent struct {
	CommandName   string
	RequestID     int64
	ConnectionID  string
	DurationNanos int64
	Failure       error
}

// Now is kept as a var rather than a direct time.Now call so it can be
// replaced; no code in this module calls it.
var Now = time.Now
