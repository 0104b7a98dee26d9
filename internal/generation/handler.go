package generation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/remitflow/remitflow/internal/eventbus"
	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/telemetry"
	"github.com/remitflow/remitflow/internal/types"
)

// Handler generates a remittance file whenever a bucket reaches GENERATING.
// It runs on the event bus worker pool.
type Handler struct {
	store      storage.Store
	serializer Serializer
	bus        *eventbus.Bus
	outputDir  string
	logger     *log.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewHandler creates the file generation subscriber. Generated files land in
// outputDir.
func NewHandler(store storage.Store, serializer Serializer, bus *eventbus.Bus, outputDir string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		store:      store,
		serializer: serializer,
		bus:        bus,
		outputDir:  outputDir,
		logger:     logger,
		tracer:     telemetry.Tracer("github.com/remitflow/remitflow/generation"),
		now:        time.Now,
	}
}

func (h *Handler) ID() string { return "file-generation" }

func (h *Handler) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventBucketStatusChanged}
}

func (h *Handler) Priority() int { return 10 }

// Handle generates the file for a bucket entering GENERATING. The bucket is
// re-read first; the event payload may be stale by the time the worker pool
// gets to it.
func (h *Handler) Handle(ctx context.Context, event *eventbus.Event) error {
	if event.NewStatus != types.BucketGenerating || event.Bucket == nil {
		return nil
	}
	return h.Generate(ctx, event.Bucket.BucketID)
}

// Generate produces the remittance file for one GENERATING bucket, records
// its history row, and completes the bucket. Missing payer/payee
// configuration parks the bucket; serializer errors fail it.
func (h *Handler) Generate(ctx context.Context, bucketID string) error {
	ctx, span := h.tracer.Start(ctx, "generation.Generate",
		trace.WithAttributes(attribute.String("bucket.id", bucketID)))
	defer span.End()

	bucket, err := h.store.GetBucket(ctx, bucketID)
	if err != nil {
		return fmt.Errorf("generation: load bucket %s: %w", bucketID, err)
	}
	if bucket.Status != types.BucketGenerating {
		return nil
	}

	payer, payee, err := h.loadConfig(ctx, bucket)
	if err != nil {
		var missing *MissingConfigurationError
		if errors.As(err, &missing) {
			h.logger.Printf("generation: bucket %s: %v", bucketID, missing)
			return h.park(ctx, bucket)
		}
		return err
	}

	claims, err := h.store.ClaimsOfBucket(ctx, bucketID)
	if err != nil {
		return fmt.Errorf("generation: claims of bucket %s: %w", bucketID, err)
	}

	data, err := h.serializer.Serialize(bucket, claims, payer, payee)
	if err != nil {
		h.logger.Printf("generation: serialize bucket %s: %v", bucketID, err)
		return h.failBucket(ctx, bucket)
	}

	fileName, err := h.fileName(ctx, bucket)
	if err != nil {
		return err
	}
	filePath := filepath.Join(h.outputDir, fileName)
	if err := os.MkdirAll(h.outputDir, 0o755); err != nil {
		return fmt.Errorf("generation: create output dir: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("generation: write %s: %w", filePath, err)
	}

	history := &types.FileGenerationHistory{
		BucketID:       bucketID,
		FileName:       fileName,
		FilePath:       filePath,
		FileSizeBytes:  int64(len(data)),
		ClaimCount:     bucket.ClaimCount,
		TotalAmount:    bucket.TotalAmount,
		DeliveryStatus: types.DeliveryPending,
	}
	now := h.now().UTC()
	err = h.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateFileHistory(ctx, history); err != nil {
			return err
		}
		stamp := &storage.BucketStamp{GenerationCompletedAt: &now}
		return tx.TransitionBucket(ctx, bucketID, types.BucketGenerating, types.BucketCompleted, stamp)
	})
	if err != nil {
		return fmt.Errorf("generation: finalize bucket %s: %w", bucketID, err)
	}

	h.logger.Printf("generation: bucket %s -> %s (%d claims, %s)",
		bucketID, fileName, bucket.ClaimCount, bucket.TotalAmount.StringFixed(2))
	if h.bus != nil {
		h.bus.Publish(&eventbus.Event{
			Type:       eventbus.EventFileGenerated,
			OccurredAt: now,
			FileID:     history.FileID,
		})
	}
	return nil
}

func (h *Handler) loadConfig(ctx context.Context, bucket *types.Bucket) (*types.Payer, *types.Payee, error) {
	payer, err := h.store.GetPayer(ctx, bucket.PayerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, &MissingConfigurationError{Kind: "payer", ID: bucket.PayerID}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("generation: get payer %s: %w", bucket.PayerID, err)
	}
	payee, err := h.store.GetPayee(ctx, bucket.PayeeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, &MissingConfigurationError{Kind: "payee", ID: bucket.PayeeID}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("generation: get payee %s: %w", bucket.PayeeID, err)
	}
	return payer, payee, nil
}

func (h *Handler) fileName(ctx context.Context, bucket *types.Bucket) (string, error) {
	template := DefaultTemplate
	templateID := "default"
	t, err := h.store.NamingTemplateForPayer(ctx, bucket.PayerID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return "", fmt.Errorf("generation: naming template for %s: %w", bucket.PayerID, err)
	default:
		template = t.Template
		templateID = t.ID
	}

	day := h.now().UTC()
	seq, err := h.store.NextFileSequence(ctx, templateID, bucket.PayerID, day)
	if err != nil {
		return "", fmt.Errorf("generation: file sequence for %s: %w", bucket.PayerID, err)
	}
	return RenderFileName(template, bucket.PayerID, bucket.PayeeID, day, seq), nil
}

func (h *Handler) park(ctx context.Context, bucket *types.Bucket) error {
	if err := h.store.TransitionBucket(ctx, bucket.BucketID, types.BucketGenerating, types.BucketMissingConfig, nil); err != nil {
		return fmt.Errorf("generation: park bucket %s: %w", bucket.BucketID, err)
	}
	h.publishStatus(bucket, types.BucketGenerating, types.BucketMissingConfig)
	return nil
}

func (h *Handler) failBucket(ctx context.Context, bucket *types.Bucket) error {
	if err := h.store.TransitionBucket(ctx, bucket.BucketID, types.BucketGenerating, types.BucketFailed, nil); err != nil {
		return fmt.Errorf("generation: fail bucket %s: %w", bucket.BucketID, err)
	}
	h.publishStatus(bucket, types.BucketGenerating, types.BucketFailed)
	return nil
}

func (h *Handler) publishStatus(bucket *types.Bucket, from, to types.BucketStatus) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(&eventbus.Event{
		Type:           eventbus.EventBucketStatusChanged,
		OccurredAt:     h.now().UTC(),
		Bucket:         bucket,
		PreviousStatus: from,
		NewStatus:      to,
	})
}

var _ eventbus.Handler = (*Handler)(nil)
