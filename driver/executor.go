// Package driver implements C10 (the Operation Executor), C11 (Cursor), and
// the OP_MSG wire framing they share, grounded on the teacher's
// x/mongo/driverx/driver.go round trip/retry logic.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/description"
	"github.com/clusterdb/godriver/driver/topology"
	"github.com/clusterdb/godriver/event"
	"github.com/clusterdb/godriver/readpref"
	"github.com/clusterdb/godriver/session"
)

// Executor runs Operations to completion, binding them to a selected
// server, a logical session, and the shared cluster clock (spec.md §4.5).
type Executor struct {
	Topo      *topology.Topology
	Sessions  *session.Registry
	Clock     *session.ClusterTime
	Enc       Encoder
	Dec       Decoder
	OnCommand func(interface{}) // event.CommandStartedEvent / Succeeded / Failed

	requestID int32
}

func (e *Executor) nextRequestID() int32 { return atomic.AddInt32(&e.requestID, 1) }

// Execute runs op to completion, including the one-shot retry for
// retryable reads/writes, per spec.md §4.5's numbered loop.
func (e *Executor) Execute(ctx context.Context, op Operation, sess *session.Session) (interface{}, error) {
	implicit := sess == nil
	if implicit {
		sess = e.Sessions.CheckOut()
		defer e.Sessions.CheckIn(sess)
	}

	inTxn := sess.TxnState() == session.TxnStarting || sess.TxnState() == session.TxnInProgress
	rp := op.ReadPreference()
	if inTxn {
		rp = readpref.Primary()
	}

	var txnNumber int64
	attachTxnNumber := false
	if op.IsRetryableWrite() && !inTxn {
		txnNumber = sess.NextTxnNumber()
		attachTxnNumber = true
	} else if inTxn {
		txnNumber = sess.TxnNumber()
		attachTxnNumber = true
	}

	srv, pinned, err := e.selectServer(ctx, op, rp, sess)
	if err != nil {
		return nil, err
	}

	result, execErr := e.roundTripAndDecode(ctx, op, srv, pinned, sess, rp, txnNumber, attachTxnNumber, inTxn)
	if execErr == nil {
		return result, nil
	}

	derr, ok := execErr.(*Error)
	if ok && inTxn && derr.Kind == KindNetwork {
		return nil, derr.AddLabel(LabelTransientTransactionError)
	}
	if !ok || !e.retryable(op, derr, inTxn) {
		return nil, execErr
	}

	// Per spec.md §4.5 step 9: reselect a fresh server for the retry rather
	// than reusing the one that just failed, so a newly-elected primary (or
	// a freshly-discovered secondary) is honoured.
	srv2, pinned2, selErr := e.selectServer(ctx, op, rp, sess)
	if selErr != nil {
		return nil, execErr
	}
	result, retryErr := e.roundTripAndDecode(ctx, op, srv2, pinned2, sess, rp, txnNumber, attachTxnNumber, inTxn)
	if retryErr != nil {
		if derr2, ok := retryErr.(*Error); ok && op.IsRetryableWrite() {
			return nil, derr2.AddLabel(LabelRetryableWriteError)
		}
		return nil, retryErr
	}
	return result, nil
}

func (e *Executor) retryable(op Operation, derr *Error, inTxn bool) bool {
	if inTxn {
		return false // transient transaction errors surface via label, not an internal retry
	}
	switch derr.Kind {
	case KindNetwork, KindStateChange:
		if op.IsRetryableRead() && IsRetryableRead(derr.Code) {
			return true
		}
		if op.IsRetryableWrite() && IsRetryableWrite(derr.Code) {
			return true
		}
		// A bare network error carries no server code but is still
		// retryable for a flagged operation. The failure may come after the
		// command was sent; a retried write reuses the same txnNumber, so the
		// server can recognise a write it already performed.
		if derr.Code == 0 {
			return op.IsRetryableRead() || op.IsRetryableWrite()
		}
	}
	return false
}

// selectServer picks the Server the operation runs against. It returns the
// operation's pinned connection (with a nil Server) when one is set, the
// session's pinned server when that is still a member, and otherwise the
// result of a blocking topology selection.
func (e *Executor) selectServer(ctx context.Context, op Operation, rp *readpref.ReadPref, sess *session.Session) (*topology.Server, topology.Connection, error) {
	if conn, ok := op.PinnedConnection(); ok {
		return nil, conn, nil
	}
	if addr, ok := sess.PinnedServer(); ok {
		if s, ok := e.Topo.Server(addr); ok {
			return s, nil, nil
		}
	}

	var sel description.ServerSelector
	if op.RequiresPrimary() {
		sel = description.WriteSelector()
	} else {
		sel = description.CompositeSelector([]description.ServerSelector{
			description.ReadPrefSelector(rp),
			description.LatencySelector(e.Topo.Description().LocalThreshold),
		})
	}

	srv, err := e.Topo.Select(ctx, sel)
	if err != nil {
		return nil, nil, &Error{Kind: KindServerSelectionTimeout, Message: err.Error(), Source: err}
	}
	return srv, nil, nil
}

func (e *Executor) roundTripAndDecode(ctx context.Context, op Operation, srv *topology.Server, pinned topology.Connection,
	sess *session.Session, rp *readpref.ReadPref, txnNumber int64, attachTxnNumber, inTxn bool) (interface{}, error) {

	conn := pinned
	var handle *topology.ConnectionHandle
	if conn == nil {
		var err error
		handle, err = srv.CheckOut(ctx)
		if err != nil {
			return nil, &Error{Kind: KindNetwork, Address: describeAddr(srv), Message: err.Error(), Source: err}
		}
		defer handle.Release()
		conn = handle.Conn
	}

	sd := serverDesc(srv)

	var topoKind description.TopologyKind
	var serverKind description.ServerKind
	if srv != nil {
		topoKind = e.Topo.Description().Kind
		serverKind = sd.Kind
	} else {
		topoKind = description.Single
		serverKind = description.Standalone
	}

	cmd, err := op.BuildCommand(sd)
	if err != nil {
		return nil, &Error{Kind: KindInvalidArgument, Message: err.Error(), Source: err}
	}

	cmd = cmd.Append("$db", op.Database())
	cmd = cmd.Append("lsid", sessionIDDoc(sess.ID()))
	if ct := e.Clock.Get(); ct.IsSet() {
		cmd = cmd.Append("$clusterTime", clusterTimeDoc(ct))
	}
	if attachTxnNumber {
		cmd = cmd.Append("txnNumber", txnNumber)
		if inTxn {
			cmd = cmd.Append("autocommit", false)
			pinAddr := pinnedAddrFor(srv, topoKind)
			if attachStart := sess.AdvanceToInProgress(pinAddr); attachStart {
				cmd = cmd.Append("startTransaction", true)
			}
		}
	}

	cmd = attachReadPreference(cmd, rp, topoKind, serverKind)

	reqID := e.nextRequestID()
	wire, err := encodeMsg(reqID, 0, []section{{kind: sectionKindSingleDocument, doc: cmd}}, e.Enc)
	if err != nil {
		return nil, &Error{Kind: KindInvalidArgument, Message: err.Error(), Source: err}
	}

	if e.OnCommand != nil {
		e.OnCommand(event.CommandStartedEvent{CommandName: op.Name(), RequestID: int64(reqID), DatabaseName: op.Database()})
	}

	if err := conn.WriteWireMessage(ctx, wire); err != nil {
		e.onNetworkError(srv, err, sd)
		return nil, &Error{Kind: KindNetwork, Message: err.Error(), Source: err}
	}
	replyWire, err := conn.ReadWireMessage(ctx)
	if err != nil {
		e.onNetworkError(srv, err, sd)
		return nil, &Error{Kind: KindNetwork, Message: err.Error(), Source: err}
	}

	_, _, docs, err := decodeMsg(replyWire, e.Dec)
	if err != nil {
		return nil, &Error{Kind: KindCommandFailure, Message: err.Error(), Source: err}
	}
	if len(docs) == 0 {
		return nil, &Error{Kind: KindCommandFailure, Message: "empty OP_MSG reply"}
	}
	reply := extractReply(docs[0])

	if reply.HasClusterTime {
		e.Clock.Advance(reply.ClusterTime)
	}

	if !reply.OK {
		derr := e.classifyCommandError(srv, reply, sd)
		if e.OnCommand != nil {
			e.OnCommand(event.CommandFailedEvent{CommandName: op.Name(), RequestID: int64(reqID)})
		}
		return nil, derr
	}

	if e.OnCommand != nil {
		e.OnCommand(event.CommandSucceededEvent{CommandName: op.Name(), RequestID: int64(reqID)})
	}

	result, err := op.DecodeReply(docs[0])
	if err != nil {
		return nil, &Error{Kind: KindCommandFailure, Message: err.Error(), Source: err}
	}
	return result, nil
}

// classifyCommandError turns a not-ok reply into a driver.Error, submitting
// an SDAM update when the code signals a state change or recovering node
// (spec.md §4.5 step 9, §7).
func (e *Executor) classifyCommandError(srv *topology.Server, reply Reply, sd description.Server) *Error {
	kind := KindCommandFailure
	if IsStateChange(reply.Code) || IsNodeRecovering(reply.Code) {
		kind = KindStateChange
		if srv != nil {
			next, _ := srv.ProcessError(errors.New(reply.ErrMsg), reply.ErrMsg, reply.TopologyVersion, int32(sd.WireVersion.Max))
			e.Topo.Apply(next)
		}
	}
	derr := &Error{Kind: kind, Code: reply.Code, Message: reply.ErrMsg, Raw: reply.Raw, Labels: reply.ErrorLabels}
	if srv != nil {
		derr.Address = string(sd.Addr)
	}
	return derr
}

func (e *Executor) onNetworkError(srv *topology.Server, err error, sd description.Server) {
	if srv == nil {
		return
	}
	next, _ := srv.ProcessError(err, err.Error(), sd.TopologyVersion, int32(sd.WireVersion.Max))
	e.Topo.Apply(next)
}

func serverDesc(srv *topology.Server) description.Server {
	if srv == nil {
		return description.Server{}
	}
	return srv.Description()
}

// pinnedAddrFor returns the address a transaction's first statement should
// pin to: only meaningful for Sharded deployments (spec.md §4.5.1 "record
// the server as pinned (sharded only)").
func pinnedAddrFor(srv *topology.Server, topoKind description.TopologyKind) address.Address {
	if srv == nil || topoKind != description.Sharded {
		return ""
	}
	return srv.Description().Addr
}

func sessionIDDoc(id session.ID) Doc {
	return Doc{{Key: "id", Value: id}}
}

func clusterTimeDoc(ct description.ClusterTime) Doc {
	return Doc{{Key: "clusterTime", Value: Doc{
		{Key: "t", Value: ct.Seconds},
		{Key: "i", Value: ct.Increment},
	}}}
}

func describeAddr(srv *topology.Server) string {
	if srv == nil {
		return ""
	}
	return fmt.Sprintf("%s", srv.Description().Addr)
}
