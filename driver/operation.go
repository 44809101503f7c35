package driver

import (
	"github.com/clusterdb/godriver/description"
	"github.com/clusterdb/godriver/driver/topology"
	"github.com/clusterdb/godriver/readpref"
)

// Operation is the seam between the CORE and the command-shape/BSON layer
// that is out of scope for this module (spec.md §1, §4.5). Higher layers
// (find, insert, aggregate, ...) implement this; the Executor only ever
// calls through it.
type Operation interface {
	// Name identifies the operation for telemetry (event.CommandStartedEvent
	// and friends).
	Name() string

	// Database is the command's $db field.
	Database() string

	// BuildCommand returns the operation-specific portion of the command
	// document for the given server. The Executor attaches lsid,
	// $clusterTime, txnNumber, and $readPreference on top of whatever this
	// returns (spec.md §4.5 step 5).
	BuildCommand(sd description.Server) (Doc, error)

	// DecodeReply turns a successfully-executed reply Doc into the caller's
	// result shape. Returning an error here is a decode/shape error, not a
	// server-reported command failure (the Executor already checked `ok`
	// before calling this).
	DecodeReply(reply Doc) (interface{}, error)

	IsRetryableRead() bool
	IsRetryableWrite() bool
	RequiresPrimary() bool
	ReadPreference() *readpref.ReadPref

	// PinnedConnection returns a connection the Executor must use instead of
	// selecting a fresh server (cursors and pinned sharded transactions),
	// per spec.md §4.5 step 3.
	PinnedConnection() (topology.Connection, bool)
}

// BaseOperation is an embeddable struct satisfying the non-command-building
// parts of Operation, so higher layers only need to implement Name,
// BuildCommand, and DecodeReply — grounded on the teacher's fluent
// operation builders (x/mongo/driver/operation/hello.go) that expose the
// same flags as struct fields with chainable setters.
type BaseOperation struct {
	DB             string
	RetryableRead  bool
	RetryableWrite bool
	NeedsPrimary   bool
	RP             *readpref.ReadPref
	Pinned         topology.Connection
	HasPinned      bool
}

func (b BaseOperation) Database() string       { return b.DB }
func (b BaseOperation) IsRetryableRead() bool  { return b.RetryableRead }
func (b BaseOperation) IsRetryableWrite() bool { return b.RetryableWrite }
func (b BaseOperation) RequiresPrimary() bool  { return b.NeedsPrimary }
func (b BaseOperation) ReadPreference() *readpref.ReadPref {
	if b.RP == nil {
		return readpref.Primary()
	}
	return b.RP
}
func (b BaseOperation) PinnedConnection() (topology.Connection, bool) { return b.Pinned, b.HasPinned }
