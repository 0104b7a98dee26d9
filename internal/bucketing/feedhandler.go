package bucketing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/remitflow/remitflow/internal/changefeed"
	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/types"
)

// FeedHandler subscribes the aggregator to claim inserts on the change feed.
// Ingestion writes claims rows; this handler picks them up and routes them
// into buckets. Delivery is at-least-once, and Route is idempotent per claim
// id, so replays are harmless.
type FeedHandler struct {
	store      storage.Store
	aggregator *Aggregator
	logger     *log.Logger
}

// NewFeedHandler creates the claims-table feed subscriber.
func NewFeedHandler(store storage.Store, aggregator *Aggregator, logger *log.Logger) *FeedHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &FeedHandler{store: store, aggregator: aggregator, logger: logger}
}

func (h *FeedHandler) ID() string { return "bucket-aggregator" }

func (h *FeedHandler) Tables() []string { return []string{"claims"} }

// Handle routes a newly inserted claim into its bucket. The claim is re-read
// from the store rather than decoded from the snapshot, so the routed data is
// always the committed row.
func (h *FeedHandler) Handle(ctx context.Context, change *types.DataChange) error {
	if change.Operation != types.OpInsert {
		return nil
	}
	claim, err := h.store.GetClaim(ctx, change.RowID)
	if errors.Is(err, storage.ErrNotFound) {
		// Row deleted since the change was recorded. Nothing to route.
		h.logger.Printf("bucketing: feed change %s: claim %s no longer exists", change.ChangeID, change.RowID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("bucketing: load claim %s: %w", change.RowID, err)
	}
	return h.aggregator.Route(ctx, claim)
}

var _ changefeed.Handler = (*FeedHandler)(nil)
