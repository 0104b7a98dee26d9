package generation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"sync/atomic"
	"time"

	"github.com/remitflow/remitflow/internal/scheduler"
	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/types"
)

// DefaultDeliveryRetries caps delivery attempts per file.
const DefaultDeliveryRetries = 3

// DeliveryError describes one failed delivery attempt.
type DeliveryError struct {
	FileID  string
	PayerID string
	Cause   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver file %s to payer %s: %v", e.FileID, e.PayerID, e.Cause)
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// Deliverer pushes generated files to payer SFTP endpoints. Retry backoff is
// the polling cadence itself: a failed file waits for the next cycle.
type Deliverer struct {
	store      storage.Store
	factory    *CachingSessionFactory
	maxRetries int
	logger     *log.Logger

	polling   atomic.Bool
	delivered atomic.Int64
	failed    atomic.Int64
}

// NewDeliverer creates the SFTP delivery poller.
func NewDeliverer(store storage.Store, factory *CachingSessionFactory, maxRetries int, logger *log.Logger) *Deliverer {
	if maxRetries <= 0 {
		maxRetries = DefaultDeliveryRetries
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Deliverer{store: store, factory: factory, maxRetries: maxRetries, logger: logger}
}

// Register adds the delivery task to the scheduler.
func (d *Deliverer) Register(s *scheduler.Scheduler, interval time.Duration) {
	s.Add("sftp-delivery", interval, d.DeliverPending)
}

// DeliverPending runs one delivery cycle over PENDING and RETRY files.
// Per-file failures are recorded on the history row; the cycle continues.
func (d *Deliverer) DeliverPending(ctx context.Context) error {
	if !d.polling.CompareAndSwap(false, true) {
		return nil
	}
	defer d.polling.Store(false)

	files, err := d.store.DeliverableFiles(ctx, d.maxRetries)
	if err != nil {
		return fmt.Errorf("delivery: list deliverable: %w", err)
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.deliverOne(ctx, file); err != nil {
			d.failed.Add(1)
			d.logger.Printf("delivery: %v", err)
			if markErr := d.store.MarkFileDeliveryFailed(ctx, file.FileID, err.Error(), d.maxRetries); markErr != nil {
				d.logger.Printf("delivery: mark %s failed: %v", file.FileID, markErr)
			}
			continue
		}
		d.delivered.Add(1)
		if err := d.store.MarkFileDelivered(ctx, file.FileID, time.Now().UTC()); err != nil {
			d.logger.Printf("delivery: mark %s delivered: %v", file.FileID, err)
		}
	}
	return nil
}

func (d *Deliverer) deliverOne(ctx context.Context, file *types.FileGenerationHistory) error {
	fail := func(payerID string, cause error) error {
		return &DeliveryError{FileID: file.FileID, PayerID: payerID, Cause: cause}
	}

	bucket, err := d.store.GetBucket(ctx, file.BucketID)
	if err != nil {
		return fail("", fmt.Errorf("load bucket %s: %w", file.BucketID, err))
	}
	payer, err := d.store.GetPayer(ctx, bucket.PayerID)
	if errors.Is(err, storage.ErrNotFound) {
		return fail(bucket.PayerID, fmt.Errorf("payer not configured"))
	}
	if err != nil {
		return fail(bucket.PayerID, err)
	}

	data, err := os.ReadFile(file.FilePath)
	if err != nil {
		return fail(payer.ID, fmt.Errorf("read %s: %w", file.FilePath, err))
	}

	sess, err := d.factory.Acquire(ctx, payer)
	if err != nil {
		return fail(payer.ID, err)
	}
	remotePath := path.Join(payer.SftpRemotePath, file.FileName)
	if err := sess.Upload(remotePath, data); err != nil {
		_ = sess.Close()
		return fail(payer.ID, err)
	}
	d.factory.Release(payer, sess)

	d.logger.Printf("delivery: %s -> %s:%s", file.FileName, payer.SftpHost, remotePath)
	return nil
}

// Delivered returns the count of successful deliveries this process.
func (d *Deliverer) Delivered() int64 { return d.delivered.Load() }

// Failed returns the count of failed delivery attempts this process.
func (d *Deliverer) Failed() int64 { return d.failed.Load() }
