package driver

import (
	"context"
	"strings"
	"sync"

	"github.com/clusterdb/godriver/address"
	"github.com/clusterdb/godriver/description"
	"github.com/clusterdb/godriver/driver/topology"
)

// Cursor is C11: a lazy, possibly multi-batch stream of documents, grounded
// on the teacher's x/mongo/driver/batch_cursor_test.go field shape, kept
// here as batchSize, limit and maxAwait, and generalized to the
// getMore/killCursors protocol of spec.md §4.6.
type Cursor struct {
	exec *Executor

	id        int64
	ns        string
	addr      address.Address
	pinned    topology.Connection
	hasPinned bool

	batchSize int32
	limit     int32
	maxAwait  int64 // milliseconds, 0 means unset

	mu        sync.Mutex
	batch     []Doc
	pos       int
	exhausted bool

	postBatchResumeToken Doc
}

// newCursor wraps an operation's first reply into a live Cursor.
func newCursor(exec *Executor, cr CursorReply, addr address.Address, pinned topology.Connection, hasPinned bool) *Cursor {
	c := &Cursor{
		exec:      exec,
		id:        cr.ID,
		ns:        cr.NS,
		addr:      addr,
		pinned:    pinned,
		hasPinned: hasPinned,
		batch:     cr.FirstBatch,
		postBatchResumeToken: cr.PostBatchResumeToken,
	}
	if c.id == 0 {
		c.exhausted = true
	}
	return c
}

// ID returns the server-assigned cursor id (0 once the server reports the
// cursor exhausted; Close leaves the id unchanged).
func (c *Cursor) ID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Address returns the server this cursor was created on.
func (c *Cursor) Address() address.Address { return c.addr }

// Next blocks until a document is available, a getMore fetches the next
// batch, or the cursor is exhausted (spec.md §4.6).
func (c *Cursor) Next(ctx context.Context) (Doc, bool, error) {
	c.mu.Lock()
	if c.pos < len(c.batch) {
		d := c.batch[c.pos]
		c.pos++
		c.mu.Unlock()
		return d, true, nil
	}
	if c.exhausted {
		c.mu.Unlock()
		return nil, false, nil
	}
	c.mu.Unlock()

	if err := c.fetchMore(ctx); err != nil {
		return nil, false, err
	}
	return c.Next(ctx)
}

// TryNext is Next's non-blocking counterpart for tailable cursors: an empty
// batch with a live id is "no document yet", not exhaustion (spec.md §4.6
// "tailable-await semantics").
func (c *Cursor) TryNext(ctx context.Context) (Doc, bool, error) {
	c.mu.Lock()
	if c.pos < len(c.batch) {
		d := c.batch[c.pos]
		c.pos++
		c.mu.Unlock()
		return d, true, nil
	}
	exhausted := c.exhausted
	c.mu.Unlock()
	if exhausted {
		return nil, false, nil
	}

	if err := c.fetchMore(ctx); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos < len(c.batch) {
		d := c.batch[c.pos]
		c.pos++
		return d, true, nil
	}
	return nil, false, nil
}

func (c *Cursor) fetchMore(ctx context.Context) error {
	c.mu.Lock()
	id := c.id
	ns := c.ns
	maxAwait := c.maxAwait
	c.mu.Unlock()

	if id == 0 {
		c.mu.Lock()
		c.exhausted = true
		c.mu.Unlock()
		return nil
	}

	op := &getMoreOperation{
		BaseOperation: BaseOperation{Pinned: c.pinned, HasPinned: c.hasPinned},
		cursorID:      id,
		ns:            ns,
		batchSize:     c.batchSize,
		maxAwaitMS:    maxAwait,
	}

	result, err := c.exec.Execute(ctx, op, nil)
	if err != nil {
		if derr, ok := err.(*Error); ok && (IsCursorNotFound(derr.Code) || IsCursorKilled(derr.Code)) {
			c.mu.Lock()
			c.exhausted = true
			c.id = 0
			c.mu.Unlock()
			return nil
		}
		return err
	}

	cr := result.(CursorReply)
	c.mu.Lock()
	c.batch = cr.NextBatch
	c.pos = 0
	c.id = cr.ID
	c.postBatchResumeToken = cr.PostBatchResumeToken
	if c.id == 0 {
		c.exhausted = true
	}
	c.mu.Unlock()
	return nil
}

// Close implements the drop/close path of spec.md §4.6: if the cursor isn't
// already exhausted, best-effort killCursors is issued asynchronously and
// its outcome is never surfaced to the caller.
func (c *Cursor) Close(ctx context.Context) error {
	c.mu.Lock()
	id := c.id
	ns := c.ns
	exhausted := c.exhausted
	c.exhausted = true
	c.mu.Unlock()

	if exhausted || id == 0 {
		return nil
	}

	go func() {
		op := &killCursorsOperation{
			BaseOperation: BaseOperation{Pinned: c.pinned, HasPinned: c.hasPinned},
			ns:            ns,
			cursorIDs:     []int64{id},
		}
		_, _ = c.exec.Execute(context.Background(), op, nil)
	}()
	return nil
}

// splitNamespace splits "db.collection" into its two parts, grounded on the
// teacher's mongo/private/roots/command/get_more.go NS handling.
func splitNamespace(ns string) (db, coll string) {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[:i], ns[i+1:]
	}
	return ns, ""
}

// getMoreOperation and killCursorsOperation are the CORE's own Operation
// implementations for the two commands the Cursor protocol needs directly,
// grounded on the teacher's mongo/private/roots/command/get_more.go and
// x/mongo/driverlegacy/kill_cursors.go.
type getMoreOperation struct {
	BaseOperation
	cursorID   int64
	ns         string
	batchSize  int32
	maxAwaitMS int64
}

func (op *getMoreOperation) Name() string { _, coll := splitNamespace(op.ns); return "getMore:" + coll }

func (op *getMoreOperation) Database() string { db, _ := splitNamespace(op.ns); return db }

func (op *getMoreOperation) BuildCommand(sd description.Server) (Doc, error) {
	_, coll := splitNamespace(op.ns)
	cmd := Doc{
		{Key: "getMore", Value: op.cursorID},
		{Key: "collection", Value: coll},
	}
	if op.batchSize > 0 {
		cmd = cmd.Append("batchSize", op.batchSize)
	}
	if op.maxAwaitMS > 0 {
		cmd = cmd.Append("maxTimeMS", op.maxAwaitMS)
	}
	return cmd, nil
}

func (op *getMoreOperation) DecodeReply(reply Doc) (interface{}, error) {
	r := extractReply(reply)
	return r.Cursor, nil
}

type killCursorsOperation struct {
	BaseOperation
	ns        string
	cursorIDs []int64
}

func (op *killCursorsOperation) Name() string { _, coll := splitNamespace(op.ns); return "killCursors:" + coll }

func (op *killCursorsOperation) Database() string { db, _ := splitNamespace(op.ns); return db }

func (op *killCursorsOperation) BuildCommand(sd description.Server) (Doc, error) {
	_, coll := splitNamespace(op.ns)
	ids := make([]interface{}, len(op.cursorIDs))
	for i, id := range op.cursorIDs {
		ids[i] = id
	}
	return Doc{
		{Key: "killCursors", Value: coll},
		{Key: "cursors", Value: ids},
	}, nil
}

func (op *killCursorsOperation) DecodeReply(reply Doc) (interface{}, error) { return nil, nil }
