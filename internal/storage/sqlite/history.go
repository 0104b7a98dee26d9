package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/types"
)

const historyColumns = `file_id, bucket_id, file_name, file_path, file_size_bytes,
	claim_count, total_amount, generated_at, delivery_status, delivered_at,
	retry_count, error_message`

// CreateFileHistory records a generated artifact awaiting delivery.
func (q *queries) CreateFileHistory(ctx context.Context, h *types.FileGenerationHistory) error {
	if h.FileID == "" {
		h.FileID = newID()
	}
	if h.DeliveryStatus == "" {
		h.DeliveryStatus = types.DeliveryPending
	}
	if h.GeneratedAt.IsZero() {
		h.GeneratedAt = time.Now().UTC()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO file_generation_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.FileID, h.BucketID, h.FileName, h.FilePath, h.FileSizeBytes,
		h.ClaimCount, decToDB(h.TotalAmount), h.GeneratedAt,
		string(h.DeliveryStatus), nullTime(h.DeliveredAt), h.RetryCount,
		h.ErrorMessage)
	return wrapDBErrorf(err, "create file history %s", h.FileName)
}

func scanHistory(row interface {
	Scan(dest ...interface{}) error
}) (*types.FileGenerationHistory, error) {
	var h types.FileGenerationHistory
	var status, total string
	var delivered sql.NullTime
	err := row.Scan(&h.FileID, &h.BucketID, &h.FileName, &h.FilePath,
		&h.FileSizeBytes, &h.ClaimCount, &total, &h.GeneratedAt, &status,
		&delivered, &h.RetryCount, &h.ErrorMessage)
	if err != nil {
		return nil, err
	}
	h.DeliveryStatus = types.DeliveryStatus(status)
	h.TotalAmount = decFromDB(total)
	h.DeliveredAt = timePtr(delivered)
	return &h, nil
}

// GetFileHistory fetches one history row by id.
func (q *queries) GetFileHistory(ctx context.Context, fileID string) (*types.FileGenerationHistory, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+historyColumns+` FROM file_generation_history WHERE file_id = ?`, fileID)
	h, err := scanHistory(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get file history %s", fileID)
	}
	return h, nil
}

// DeliverableFiles returns PENDING/RETRY rows under the retry cap, oldest
// first.
func (q *queries) DeliverableFiles(ctx context.Context, maxRetries int) ([]*types.FileGenerationHistory, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM file_generation_history
		WHERE delivery_status IN ('PENDING','RETRY') AND retry_count < ?
		ORDER BY generated_at ASC`, maxRetries)
	if err != nil {
		return nil, wrapDBError("list deliverable files", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.FileGenerationHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, wrapDBError("scan file history", err)
		}
		out = append(out, h)
	}
	return out, wrapDBError("iterate file history", rows.Err())
}

// MarkFileDelivered finalizes a successful delivery.
func (q *queries) MarkFileDelivered(ctx context.Context, fileID string, at time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE file_generation_history
		SET delivery_status = 'DELIVERED', delivered_at = ?, error_message = ''
		WHERE file_id = ? AND delivery_status IN ('PENDING','RETRY')`, at, fileID)
	if err != nil {
		return wrapDBErrorf(err, "mark file %s delivered", fileID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s not deliverable: %w", fileID, storage.ErrConflict)
	}
	return nil
}

// MarkFileDeliveryFailed increments the retry count and moves the row to
// RETRY, or FAILED once the cap is reached.
func (q *queries) MarkFileDeliveryFailed(ctx context.Context, fileID, errorMessage string, maxRetries int) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE file_generation_history
		SET retry_count = retry_count + 1,
		    error_message = ?,
		    delivery_status = CASE WHEN retry_count + 1 >= ? THEN 'FAILED' ELSE 'RETRY' END
		WHERE file_id = ? AND delivery_status IN ('PENDING','RETRY')`,
		errorMessage, maxRetries, fileID)
	if err != nil {
		return wrapDBErrorf(err, "mark file %s delivery failed", fileID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s not deliverable: %w", fileID, storage.ErrConflict)
	}
	return nil
}
