// Package session implements C8 (the Session Registry) and C9 (the cluster
// clock), grounded on the teacher's x/mongo/driverx/driver.go addSession/
// addClusterTime helpers and the session lifecycle those helpers assume.
package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/description"
)

// ID is the opaque session identifier attached to every command as `lsid`
// (spec.md §3 "LogicalSession"). The CORE treats it as 16 opaque bytes (the
// shape of a UUID) and never interprets its contents.
type ID [16]byte

func newID() ID {
	var id ID
	// crypto/rand, not math/rand: session ids must not collide across
	// concurrent clients, and this is not a hot path (one mint per implicit
	// session checkout from an empty pool).
	_, _ = rand.Read(id[:])
	return id
}

// TxnState is the transaction state machine's current state, per spec.md
// §4.5.1.
type TxnState int

// Transaction states.
const (
	TxnNone TxnState = iota
	TxnStarting
	TxnInProgress
	TxnCommitted
	TxnAborted
)

// Session is a LogicalSession: an opaque id, its last-use timestamp, a
// monotone transaction number, optional pin (sharded transactions), and
// transaction bookkeeping.
type Session struct {
	mu sync.Mutex

	id         ID
	lastUsed   time.Time
	txnNumber  int64

	txnState      TxnState
	pinnedServer  address.Address
	hasPinned     bool
	recoveryToken []byte

	// explicit is true for sessions the caller created directly (via
	// StartSession); the Executor never returns these to the Registry pool.
	explicit bool
}

// ID returns the session's opaque identifier.
func (s *Session) ID() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// TxnNumber returns the most recently assigned transaction/retry number
// (the open transaction's number, while one is in progress), without
// advancing it.
func (s *Session) TxnNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txnNumber
}

// NextTxnNumber advances and returns the txnNumber for a new retryable
// write attempt (spec.md §4.5 "txnNumber-based de-duplication"); unlike
// StartTransaction this does not touch transaction state.
func (s *Session) NextTxnNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txnNumber++
	return s.txnNumber
}

// TxnState returns the current transaction state.
func (s *Session) TxnState() TxnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txnState
}

// PinnedServer returns the server a sharded transaction is pinned to, if
// any.
func (s *Session) PinnedServer() (address.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinnedServer, s.hasPinned
}

// StartTransaction implements the `start_transaction` transition: any state
// except InProgress/Starting moves to Starting, txnNumber increments, and
// any prior pin is cleared (spec.md §4.5.1).
func (s *Session) StartTransaction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txnState == TxnStarting || s.txnState == TxnInProgress {
		return ErrTransactionInProgress
	}
	s.txnState = TxnStarting
	s.txnNumber++
	s.hasPinned = false
	s.pinnedServer = ""
	s.recoveryToken = nil
	return nil
}

// AdvanceToInProgress implements the "first operation under Starting"
// transition: the caller attaches startTransaction:true to this command,
// and the state becomes InProgress. addr is recorded as the pin for sharded
// deployments; callers pass "" for non-sharded ones.
func (s *Session) AdvanceToInProgress(addr address.Address) (attachStart bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txnState != TxnStarting {
		return false
	}
	s.txnState = TxnInProgress
	if addr != "" {
		s.pinnedServer = addr
		s.hasPinned = true
	}
	return true
}

// RecordRecoveryToken stashes the recovery token a commitTransaction reply
// (or its predecessor op) carried, to resend on a retried commit.
func (s *Session) RecordRecoveryToken(token []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveryToken = token
}

// RecoveryToken returns the last recorded recovery token.
func (s *Session) RecoveryToken() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoveryToken
}

// CommitTransaction implements the `commit_transaction` transition: state
// becomes Committed regardless of the send outcome (retries are the
// caller's responsibility per spec.md §4.5.1, "retry unconditionally on a
// fresh primary").
func (s *Session) CommitTransaction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txnState = TxnCommitted
}

// AbortTransaction implements the `abort_transaction` transition: best
// effort, always succeeds locally.
func (s *Session) AbortTransaction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txnState = TxnAborted
	s.hasPinned = false
	s.pinnedServer = ""
}

// ErrTransactionInProgress is returned by StartTransaction when a
// transaction is already Starting or InProgress on this session.
var ErrTransactionInProgress = sessionError("a transaction is already in progress on this session")

type sessionError string

func (e sessionError) Error() string { return string(e) }

// touch updates the session's last-use timestamp, called by the Registry on
// every checkout.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUsed)
}

// ClusterTime is a thread-safe holder for the highest $clusterTime any
// command reply has reported, implementing the "single shared atomic cell,
// compare-and-swap-max semantics" of spec.md §5 (C9).
type ClusterTime struct {
	mu    sync.Mutex
	value description.ClusterTime
}

// Advance promotes the stored value to new if new is strictly greater
// (spec.md §4.5 "atomically promote if the reply's value is greater").
func (c *ClusterTime) Advance(new description.ClusterTime) {
	c.mu.Lock()
	c.value = description.Max(c.value, new)
	c.mu.Unlock()
}

// Get returns the current highest observed cluster time.
func (c *ClusterTime) Get() description.ClusterTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
