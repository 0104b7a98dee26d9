// Package changefeed consumes the durable log of row-level data changes.
//
// The feed is an append-only sequence totally ordered by
// (feedVersion, sequenceNumber). Each consumer tracks its own checkpoint and
// receives records strictly after it, in order. Delivery is at-least-once;
// replay rewinds the checkpoint and never mutates feed data.
package changefeed

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/types"
)

// DefaultBatchSize caps the records fetched per poll cycle.
const DefaultBatchSize = 100

// Stats is a point-in-time snapshot of consumer counters.
type Stats struct {
	ConsumerID    string
	Polls         int64
	RecordsSeen   int64
	RecordsOK     int64
	RecordsFailed int64
	LastPollTime  time.Time
	IsPolling     bool
}

// Consumer polls the change feed on behalf of one named consumer and fans
// records out to registered handlers.
type Consumer struct {
	consumerID string
	store      storage.Store
	handlers   []Handler
	batchSize  int
	logger     *log.Logger

	polling      atomic.Bool
	polls        atomic.Int64
	seen         atomic.Int64
	ok           atomic.Int64
	failed       atomic.Int64
	lastPollUnix atomic.Int64
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithBatchSize overrides the per-poll record cap.
func WithBatchSize(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithLogger sets the consumer logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Consumer) { c.logger = l }
}

// New creates a consumer identified by consumerID. The id keys the stored
// checkpoint, so it must be stable across restarts.
func New(consumerID string, store storage.Store, opts ...Option) *Consumer {
	c := &Consumer{
		consumerID: consumerID,
		store:      store,
		batchSize:  DefaultBatchSize,
		logger:     log.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Register adds a handler. Must be called before polling starts.
func (c *Consumer) Register(h Handler) {
	c.handlers = append(c.handlers, h)
}

// Poll runs one polling cycle: fetch a batch after the checkpoint, hand each
// record to its handlers, then atomically mark the records and advance the
// checkpoint. A cycle already in flight makes Poll a no-op; it fits the
// scheduler's TaskFunc shape.
func (c *Consumer) Poll(ctx context.Context) error {
	if !c.polling.CompareAndSwap(false, true) {
		return nil
	}
	defer c.polling.Store(false)

	c.polls.Add(1)
	c.lastPollUnix.Store(time.Now().Unix())

	cp, err := c.store.GetCheckpoint(ctx, c.consumerID)
	if err != nil {
		return fmt.Errorf("changefeed: checkpoint for %s: %w", c.consumerID, err)
	}

	batch, err := c.store.ChangesAfter(ctx, cp, c.batchSize)
	if err != nil {
		return fmt.Errorf("changefeed: fetch batch for %s: %w", c.consumerID, err)
	}
	if len(batch) == 0 {
		return nil
	}

	type result struct {
		changeID string
		errMsg   string
	}
	results := make([]result, 0, len(batch))
	for _, change := range batch {
		if !cp.Before(change.FeedVersion, change.SequenceNumber) {
			// Out-of-order record: wait rather than advance past it.
			return fmt.Errorf("changefeed: record (%d,%d) not after checkpoint (%d,%d)",
				change.FeedVersion, change.SequenceNumber, cp.FeedVersion, cp.SequenceNumber)
		}
		errMsg := ""
		if err := c.deliver(ctx, change); err != nil {
			errMsg = err.Error()
			c.failed.Add(1)
			c.logger.Printf("changefeed: consumer %s: record %s (%s/%s): %v",
				c.consumerID, change.ChangeID, change.TableName, change.RowID, err)
		} else {
			c.ok.Add(1)
		}
		c.seen.Add(1)
		results = append(results, result{changeID: change.ChangeID, errMsg: errMsg})
	}

	// Per-record failures are isolated; the batch checkpoint still advances.
	// Only a storage failure here leaves the checkpoint behind, and the next
	// poll replays the batch.
	last := batch[len(batch)-1]
	now := time.Now().UTC()
	err = c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for _, r := range results {
			if err := tx.MarkChangeProcessed(ctx, r.changeID, r.errMsg, now); err != nil {
				return err
			}
		}
		return tx.SaveCheckpoint(ctx, types.Checkpoint{
			ConsumerID:     c.consumerID,
			FeedVersion:    last.FeedVersion,
			SequenceNumber: last.SequenceNumber,
		})
	})
	if err != nil {
		return fmt.Errorf("changefeed: advance %s past (%d,%d): %w",
			c.consumerID, last.FeedVersion, last.SequenceNumber, err)
	}
	return nil
}

func (c *Consumer) deliver(ctx context.Context, change *types.DataChange) error {
	for _, h := range c.handlers {
		if !handles(h, change.TableName) {
			continue
		}
		if err := c.safeHandle(ctx, h, change); err != nil {
			return fmt.Errorf("handler %s: %w", h.ID(), err)
		}
	}
	return nil
}

func (c *Consumer) safeHandle(ctx context.Context, h Handler, change *types.DataChange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, change)
}

func handles(h Handler, table string) bool {
	for _, t := range h.Tables() {
		if t == table {
			return true
		}
	}
	return false
}

// Advance persists the checkpoint at the given record without processing
// anything. Used when a caller has consumed records out of band.
func (c *Consumer) Advance(ctx context.Context, last *types.DataChange) error {
	return c.store.SaveCheckpoint(ctx, types.Checkpoint{
		ConsumerID:     c.consumerID,
		FeedVersion:    last.FeedVersion,
		SequenceNumber: last.SequenceNumber,
	})
}

// ReplayFrom rewinds the checkpoint so subsequent polls return records
// strictly after (feedVersion, sequenceNumber). Feed data is never mutated.
func (c *Consumer) ReplayFrom(ctx context.Context, feedVersion, sequenceNumber int64) error {
	c.logger.Printf("changefeed: consumer %s replaying from (%d,%d)", c.consumerID, feedVersion, sequenceNumber)
	return c.store.SaveCheckpoint(ctx, types.Checkpoint{
		ConsumerID:     c.consumerID,
		FeedVersion:    feedVersion,
		SequenceNumber: sequenceNumber,
	})
}

// Stats returns a snapshot of the consumer's counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		ConsumerID:    c.consumerID,
		Polls:         c.polls.Load(),
		RecordsSeen:   c.seen.Load(),
		RecordsOK:     c.ok.Load(),
		RecordsFailed: c.failed.Load(),
		LastPollTime:  time.Unix(c.lastPollUnix.Load(), 0),
		IsPolling:     c.polling.Load(),
	}
}
