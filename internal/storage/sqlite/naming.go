package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/remitflow/remitflow/internal/types"
)

// CreateNamingTemplate inserts a file naming template. An empty payer id
// marks the default template.
func (q *queries) CreateNamingTemplate(ctx context.Context, t *types.FileNamingTemplate) error {
	if t.ID == "" {
		t.ID = newID()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO file_naming_templates (id, name, template, payer_id, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Template, t.PayerID, t.IsActive)
	return wrapDBErrorf(err, "create naming template %s", t.Name)
}

// NamingTemplateForPayer returns the payer-specific active template, falling
// back to the default (payer_id = ''), or storage.ErrNotFound when neither
// exists.
func (q *queries) NamingTemplateForPayer(ctx context.Context, payerID string) (*types.FileNamingTemplate, error) {
	scan := func(row *sql.Row) (*types.FileNamingTemplate, error) {
		var t types.FileNamingTemplate
		err := row.Scan(&t.ID, &t.Name, &t.Template, &t.PayerID, &t.IsActive)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}

	t, err := scan(q.q.QueryRowContext(ctx, `
		SELECT id, name, template, payer_id, is_active
		FROM file_naming_templates
		WHERE payer_id = ? AND is_active = 1 LIMIT 1`, payerID))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapDBErrorf(err, "naming template for payer %s", payerID)
	}

	t, err = scan(q.q.QueryRowContext(ctx, `
		SELECT id, name, template, payer_id, is_active
		FROM file_naming_templates
		WHERE payer_id = '' AND is_active = 1 LIMIT 1`))
	if err != nil {
		return nil, wrapDBError("default naming template", err)
	}
	return t, nil
}

// NextFileSequence atomically allocates the next per-day sequence number for
// a (template, payer) pair, starting at 1.
func (q *queries) NextFileSequence(ctx context.Context, templateID, payerID string, day time.Time) (int64, error) {
	dayKey := day.UTC().Format("2006-01-02")
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO file_naming_sequence (template_id, payer_id, day, next_seq)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (template_id, payer_id, day) DO UPDATE SET next_seq = next_seq + 1`,
		templateID, payerID, dayKey)
	if err != nil {
		return 0, wrapDBErrorf(err, "advance file sequence %s/%s", templateID, payerID)
	}

	var seq int64
	err = q.q.QueryRowContext(ctx, `
		SELECT next_seq FROM file_naming_sequence
		WHERE template_id = ? AND payer_id = ? AND day = ?`,
		templateID, payerID, dayKey).Scan(&seq)
	if err != nil {
		return 0, wrapDBErrorf(err, "read file sequence %s/%s", templateID, payerID)
	}
	return seq, nil
}
