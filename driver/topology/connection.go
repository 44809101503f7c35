package topology

import "context"

// Connection is the minimal surface the pool and executor need from one
// established wire-protocol connection. Framing (OP_MSG/OP_COMPRESSED)
// lives in package driver; TLS and the auth handshake are not part of this
// module and are external collaborators (spec.md §7).
type Connection interface {
	WriteWireMessage(ctx context.Context, msg []byte) error
	ReadWireMessage(ctx context.Context) ([]byte, error)
	Close() error
	Alive() bool
	ID() uint64
}
