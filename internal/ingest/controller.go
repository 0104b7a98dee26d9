// Package ingest drives raw NCPDP rows through parse, map, and claim
// creation.
//
// The controller owns three fixed-delay tasks: processing PENDING rows in
// FIFO order, returning retryable FAILED rows to PENDING, and resetting rows
// stuck in PROCESSING. Claim rows it creates reach the bucket aggregator
// through the change feed, not by direct call.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/remitflow/remitflow/internal/ncpdp"
	"github.com/remitflow/remitflow/internal/scheduler"
	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/types"
)

const (
	// DefaultBatchSize caps rows per processing cycle.
	DefaultBatchSize = 50
	// DefaultMaxRetries caps FAILED -> PENDING resets per row.
	DefaultMaxRetries = 3
	// DefaultStuckAfter is the PROCESSING age that marks a row stuck.
	DefaultStuckAfter = 30 * time.Minute

	// RetryInterval is the cadence of the failed-row sweep.
	RetryInterval = 5 * time.Minute
	// StuckSweepInterval is the cadence of the stuck-row sweep.
	StuckSweepInterval = 10 * time.Minute

	// StuckResetMessage is stamped on rows reclaimed from PROCESSING.
	StuckResetMessage = "Reset from stuck PROCESSING state"
)

// Stats is a point-in-time snapshot of the controller's counters.
type Stats struct {
	TotalProcessed     int64
	SuccessCount       int64
	FailureCount       int64
	LastProcessingTime time.Time
	IsProcessing       bool
}

// Controller is the NCPDP ingestion pipeline.
type Controller struct {
	store      storage.Store
	logger     *log.Logger
	batchSize  int
	maxRetries int
	stuckAfter time.Duration

	processing    atomic.Bool
	total         atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	lastRun       atomic.Int64
	successMetric metric.Int64Counter
	failureMetric metric.Int64Counter
}

// Option configures a Controller.
type Option func(*Controller)

// WithBatchSize overrides the per-cycle row cap.
func WithBatchSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithMaxRetries overrides the per-row retry cap.
func WithMaxRetries(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithStuckThreshold overrides the PROCESSING age that marks a row stuck.
func WithStuckThreshold(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.stuckAfter = d
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates an ingestion controller.
func New(store storage.Store, opts ...Option) *Controller {
	c := &Controller{
		store:      store,
		logger:     log.Default(),
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
		stuckAfter: DefaultStuckAfter,
	}
	for _, o := range opts {
		o(c)
	}

	meter := otel.Meter("github.com/remitflow/remitflow/internal/ingest")
	c.successMetric, _ = meter.Int64Counter("ncpdp.rows.processed")
	c.failureMetric, _ = meter.Int64Counter("ncpdp.rows.failed")
	return c
}

// Register adds the controller's three tasks to the scheduler. Each task is
// fixed-delay: a run begins its interval after the previous run completes.
func (c *Controller) Register(s *scheduler.Scheduler, pollInterval time.Duration) {
	s.Add("ncpdp-process-pending", pollInterval, c.ProcessPending)
	s.Add("ncpdp-retry-failed", RetryInterval, c.RetryFailed)
	s.Add("ncpdp-reset-stuck", StuckSweepInterval, c.ResetStuck)
}

// ProcessPending runs one processing cycle over PENDING rows, oldest first.
// Per-row failures are recorded on the row; the cycle continues.
func (c *Controller) ProcessPending(ctx context.Context) error {
	if !c.processing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.processing.Store(false)
	c.lastRun.Store(time.Now().Unix())

	pending, err := c.store.PendingRawClaims(ctx, c.batchSize)
	if err != nil {
		return fmt.Errorf("ingest: list pending: %w", err)
	}

	for _, raw := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.processOne(ctx, raw)
	}
	return nil
}

func (c *Controller) processOne(ctx context.Context, raw *types.RawNcpdpClaim) {
	now := time.Now().UTC()
	claimed, err := c.store.ClaimRawForProcessing(ctx, raw.ID, now)
	if err != nil {
		c.logger.Printf("ingest: claim row %s: %v", raw.ID, err)
		return
	}
	if !claimed {
		// Another replica won the row.
		return
	}
	c.audit(ctx, raw.ID, types.RawPending, types.RawProcessing, "")
	c.total.Add(1)

	claim, err := c.parseAndMap(raw)
	if err != nil {
		c.fail(ctx, raw.ID, classify(err))
		return
	}

	err = c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateClaim(ctx, claim); err != nil {
			return err
		}
		return tx.MarkRawProcessed(ctx, raw.ID, claim.ID, time.Now().UTC())
	})
	if err != nil {
		c.fail(ctx, raw.ID, classify(err))
		return
	}

	c.successes.Add(1)
	c.successMetric.Add(ctx, 1)
	c.audit(ctx, raw.ID, types.RawProcessing, types.RawProcessed, "claim "+claim.ID)
}

func (c *Controller) parseAndMap(raw *types.RawNcpdpClaim) (*types.Claim, error) {
	tx, err := ncpdp.Parse(raw.RawContent)
	if err != nil {
		return nil, err
	}
	claim, err := ncpdp.MapClaim(tx)
	if err != nil {
		return nil, err
	}
	// Ingest metadata wins over parsed values when both are present.
	if raw.PayerID != "" {
		claim.PayerID = raw.PayerID
	}
	return claim, nil
}

func (c *Controller) fail(ctx context.Context, rawID, message string) {
	c.failures.Add(1)
	c.failureMetric.Add(ctx, 1)
	if err := c.store.MarkRawFailed(ctx, rawID, message); err != nil {
		c.logger.Printf("ingest: mark %s failed: %v", rawID, err)
		return
	}
	c.audit(ctx, rawID, types.RawProcessing, types.RawFailed, message)
}

func (c *Controller) audit(ctx context.Context, rawID string, from, to types.RawClaimStatus, message string) {
	entry := &types.NcpdpProcessingEntry{
		RawClaimID: rawID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Message:    message,
	}
	if err := c.store.AppendNcpdpLog(ctx, entry); err != nil {
		c.logger.Printf("ingest: audit %s: %v", rawID, err)
	}
}

// classify turns pipeline errors into the message stored on the raw row.
func classify(err error) string {
	var perr *ncpdp.ParseError
	if errors.As(err, &perr) {
		return fmt.Sprintf("parse error: segment %s line %d: %s", perr.SegmentID, perr.LineNumber, perr.Message)
	}
	var verr *ncpdp.ValidationError
	if errors.As(err, &verr) {
		return fmt.Sprintf("validation error: %s: %s", verr.Field, verr.Message)
	}
	return fmt.Sprintf("processing error: %v", err)
}

// RetryFailed returns FAILED rows under the retry cap to PENDING.
func (c *Controller) RetryFailed(ctx context.Context) error {
	n, err := c.store.ResetFailedRawClaims(ctx, c.maxRetries)
	if err != nil {
		return fmt.Errorf("ingest: retry failed rows: %w", err)
	}
	if n > 0 {
		c.logger.Printf("ingest: returned %d failed rows to PENDING", n)
	}
	return nil
}

// ResetStuck reclaims rows left in PROCESSING past the stuck threshold.
func (c *Controller) ResetStuck(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-c.stuckAfter)
	n, err := c.store.ResetStuckRawClaims(ctx, cutoff, StuckResetMessage)
	if err != nil {
		return fmt.Errorf("ingest: reset stuck rows: %w", err)
	}
	if n > 0 {
		c.logger.Printf("ingest: reset %d stuck rows to PENDING", n)
	}
	return nil
}

// Stats returns a snapshot of the controller's counters.
func (c *Controller) Stats() Stats {
	return Stats{
		TotalProcessed:     c.total.Load(),
		SuccessCount:       c.successes.Load(),
		FailureCount:       c.failures.Load(),
		LastProcessingTime: time.Unix(c.lastRun.Load(), 0),
		IsProcessing:       c.processing.Load(),
	}
}
