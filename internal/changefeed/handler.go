package changefeed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/remitflow/remitflow/internal/types"
)

// Handler processes change records for the tables it subscribes to.
//
// Delivery is at-least-once: a batch that fails to checkpoint is replayed on
// the next poll. Handlers must therefore be idempotent; ChangeKey gives the
// identity to deduplicate on.
type Handler interface {
	// ID returns a unique identifier for this handler.
	ID() string

	// Tables returns the table names this handler processes.
	Tables() []string

	// Handle processes a single change record. An error flags the record
	// but does not stop the batch.
	Handle(ctx context.Context, change *types.DataChange) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	HandlerID     string
	HandlerTables []string
	Fn            func(ctx context.Context, change *types.DataChange) error
}

func (h *HandlerFunc) ID() string       { return h.HandlerID }
func (h *HandlerFunc) Tables() []string { return h.HandlerTables }

func (h *HandlerFunc) Handle(ctx context.Context, change *types.DataChange) error {
	return h.Fn(ctx, change)
}

// ChangeKey is the idempotence identity of a change record: the hash of
// (tableName, rowId, newValues). Replayed records carry the same key.
func ChangeKey(change *types.DataChange) string {
	sum := sha256.Sum256([]byte(change.TableName + "\x00" + change.RowID + "\x00" + change.NewValues))
	return hex.EncodeToString(sum[:])
}
