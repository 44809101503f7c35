package session

import (
	"testing"

	"github.com/clusterdb/godriver/description"
)

func newClusterTimeForTest(seconds, increment uint32) description.ClusterTime {
	return description.NewClusterTime(seconds, increment, nil)
}

func TestTxnStateMachineHappyPath(t *testing.T) {
	s := &Session{}

	if err := s.StartTransaction(); err != nil {
		t.Fatalf("unexpected error starting a fresh transaction: %v", err)
	}
	if s.TxnState() != TxnStarting {
		t.Fatalf("expected TxnStarting, got %v", s.TxnState())
	}

	if attach := s.AdvanceToInProgress("shard1:27017"); !attach {
		t.Fatalf("expected the first statement to attach startTransaction")
	}
	if s.TxnState() != TxnInProgress {
		t.Fatalf("expected TxnInProgress, got %v", s.TxnState())
	}
	if addr, ok := s.PinnedServer(); !ok || addr != "shard1:27017" {
		t.Fatalf("expected pin to shard1:27017, got %q (ok=%v)", addr, ok)
	}

	if attach := s.AdvanceToInProgress("shard1:27017"); attach {
		t.Fatalf("expected subsequent statements not to re-attach startTransaction")
	}

	s.CommitTransaction()
	if s.TxnState() != TxnCommitted {
		t.Fatalf("expected TxnCommitted, got %v", s.TxnState())
	}
}

func TestStartTransactionRejectsWhileInProgress(t *testing.T) {
	s := &Session{}
	_ = s.StartTransaction()
	s.AdvanceToInProgress("")

	if err := s.StartTransaction(); err != ErrTransactionInProgress {
		t.Fatalf("expected ErrTransactionInProgress, got %v", err)
	}
}

func TestAbortClearsPin(t *testing.T) {
	s := &Session{}
	_ = s.StartTransaction()
	s.AdvanceToInProgress("shard1:27017")

	s.AbortTransaction()
	if s.TxnState() != TxnAborted {
		t.Fatalf("expected TxnAborted, got %v", s.TxnState())
	}
	if _, ok := s.PinnedServer(); ok {
		t.Fatalf("expected the pin to be cleared on abort")
	}
}

func TestStartTransactionClearsPriorPin(t *testing.T) {
	s := &Session{}
	_ = s.StartTransaction()
	s.AdvanceToInProgress("shard1:27017")
	s.CommitTransaction()

	firstTxnNumber := s.TxnNumber()
	if err := s.StartTransaction(); err != nil {
		t.Fatalf("unexpected error starting a second transaction: %v", err)
	}
	if s.TxnNumber() != firstTxnNumber+1 {
		t.Fatalf("expected txnNumber to advance across transactions, got %d then %d", firstTxnNumber, s.TxnNumber())
	}
	if _, ok := s.PinnedServer(); ok {
		t.Fatalf("expected starting a new transaction to clear the previous pin")
	}
}

func TestNextTxnNumberIsMonotonic(t *testing.T) {
	s := &Session{}
	first := s.NextTxnNumber()
	second := s.NextTxnNumber()
	if second != first+1 {
		t.Fatalf("expected monotonically increasing txn numbers, got %d then %d", first, second)
	}
}

func TestClusterTimeAdvanceKeepsMax(t *testing.T) {
	var c ClusterTime
	early := newClusterTimeForTest(10, 1)
	late := newClusterTimeForTest(10, 2)

	c.Advance(late)
	c.Advance(early)

	if got := c.Get(); got.Seconds != 10 || got.Increment != 2 {
		t.Fatalf("expected the later value to stick, got %+v", got)
	}
}
