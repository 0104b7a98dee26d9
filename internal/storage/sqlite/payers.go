package sqlite

import (
	"context"

	"github.com/remitflow/remitflow/internal/types"
)

// UpsertPayer creates or replaces a payer configuration row.
func (q *queries) UpsertPayer(ctx context.Context, p *types.Payer) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO payers (id, name, sftp_host, sftp_port, sftp_username,
			sftp_password_enc, sftp_remote_path, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			sftp_host = excluded.sftp_host,
			sftp_port = excluded.sftp_port,
			sftp_username = excluded.sftp_username,
			sftp_password_enc = excluded.sftp_password_enc,
			sftp_remote_path = excluded.sftp_remote_path,
			is_active = excluded.is_active`,
		p.ID, p.Name, p.SftpHost, p.SftpPort, p.SftpUsername,
		p.SftpPasswordEnc, p.SftpRemotePath, p.IsActive)
	return wrapDBErrorf(err, "upsert payer %s", p.ID)
}

// GetPayer fetches a payer by id, or storage.ErrNotFound.
func (q *queries) GetPayer(ctx context.Context, id string) (*types.Payer, error) {
	var p types.Payer
	err := q.q.QueryRowContext(ctx, `
		SELECT id, name, sftp_host, sftp_port, sftp_username,
		       sftp_password_enc, sftp_remote_path, is_active
		FROM payers WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.SftpHost, &p.SftpPort, &p.SftpUsername,
			&p.SftpPasswordEnc, &p.SftpRemotePath, &p.IsActive)
	if err != nil {
		return nil, wrapDBErrorf(err, "get payer %s", id)
	}
	return &p, nil
}

// UpsertPayee creates or replaces a payee configuration row.
func (q *queries) UpsertPayee(ctx context.Context, p *types.Payee) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO payees (id, name, npi, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			npi = excluded.npi,
			is_active = excluded.is_active`,
		p.ID, p.Name, p.Npi, p.IsActive)
	return wrapDBErrorf(err, "upsert payee %s", p.ID)
}

// GetPayee fetches a payee by id, or storage.ErrNotFound.
func (q *queries) GetPayee(ctx context.Context, id string) (*types.Payee, error) {
	var p types.Payee
	err := q.q.QueryRowContext(ctx, `
		SELECT id, name, npi, is_active FROM payees WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Npi, &p.IsActive)
	if err != nil {
		return nil, wrapDBErrorf(err, "get payee %s", id)
	}
	return &p, nil
}
