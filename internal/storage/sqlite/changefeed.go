package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/remitflow/remitflow/internal/types"
)

// NextFeedVersion starts a new feed version. Called once per processor run;
// the triggers stamp subsequent changes with the latest version.
func (q *queries) NextFeedVersion(ctx context.Context) (int64, error) {
	res, err := q.q.ExecContext(ctx, `INSERT INTO feed_versions (started_at) VALUES (CURRENT_TIMESTAMP)`)
	if err != nil {
		return 0, wrapDBError("insert feed version", err)
	}
	v, err := res.LastInsertId()
	return v, wrapDBError("feed version id", err)
}

const changeColumns = `change_id, feed_version, sequence_number, table_name,
	operation, row_id, old_values, new_values, changed_at, processed,
	processed_at, error_message`

// ChangesAfter returns up to limit change records strictly after the
// checkpoint, in (feed_version, sequence_number) order.
func (q *queries) ChangesAfter(ctx context.Context, cp types.Checkpoint, limit int) ([]*types.DataChange, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+changeColumns+` FROM data_changes
		WHERE (feed_version > ?) OR (feed_version = ? AND sequence_number > ?)
		ORDER BY feed_version ASC, sequence_number ASC
		LIMIT ?`,
		cp.FeedVersion, cp.FeedVersion, cp.SequenceNumber, limit)
	if err != nil {
		return nil, wrapDBError("list changes after checkpoint", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.DataChange
	for rows.Next() {
		var c types.DataChange
		var op string
		var oldVals, newVals sql.NullString
		var processedAt sql.NullTime
		if err := rows.Scan(&c.ChangeID, &c.FeedVersion, &c.SequenceNumber,
			&c.TableName, &op, &c.RowID, &oldVals, &newVals, &c.ChangedAt,
			&c.Processed, &processedAt, &c.ErrorMessage); err != nil {
			return nil, wrapDBError("scan data change", err)
		}
		c.Operation = types.FeedOperation(op)
		c.OldValues = oldVals.String
		c.NewValues = newVals.String
		c.ProcessedAt = timePtr(processedAt)
		out = append(out, &c)
	}
	return out, wrapDBError("iterate data changes", rows.Err())
}

// MarkChangeProcessed flags one change record. An empty errorMessage marks
// success; otherwise the error is recorded and processed stays false so the
// row remains visible to diagnostics.
func (q *queries) MarkChangeProcessed(ctx context.Context, changeID, errorMessage string, at time.Time) error {
	processed := errorMessage == ""
	_, err := q.q.ExecContext(ctx, `
		UPDATE data_changes SET processed = ?, processed_at = ?, error_message = ?
		WHERE change_id = ?`, processed, at, errorMessage, changeID)
	return wrapDBErrorf(err, "mark change %s processed", changeID)
}

// GetCheckpoint returns a consumer's checkpoint; a consumer with no stored
// checkpoint starts at the zero position.
func (q *queries) GetCheckpoint(ctx context.Context, consumerID string) (types.Checkpoint, error) {
	cp := types.Checkpoint{ConsumerID: consumerID}
	err := q.q.QueryRowContext(ctx, `
		SELECT feed_version, sequence_number, updated_at
		FROM changefeed_checkpoint WHERE consumer_id = ?`, consumerID).
		Scan(&cp.FeedVersion, &cp.SequenceNumber, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return cp, nil
	}
	if err != nil {
		return cp, wrapDBErrorf(err, "get checkpoint %s", consumerID)
	}
	return cp, nil
}

// SaveCheckpoint persists a consumer's checkpoint.
func (q *queries) SaveCheckpoint(ctx context.Context, cp types.Checkpoint) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO changefeed_checkpoint (consumer_id, feed_version, sequence_number, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (consumer_id) DO UPDATE SET
			feed_version = excluded.feed_version,
			sequence_number = excluded.sequence_number,
			updated_at = excluded.updated_at`,
		cp.ConsumerID, cp.FeedVersion, cp.SequenceNumber, time.Now().UTC())
	return wrapDBErrorf(err, "save checkpoint %s", cp.ConsumerID)
}
