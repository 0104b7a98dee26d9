package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryStatus is the SFTP delivery state of a generated file.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
	DeliveryRetry     DeliveryStatus = "RETRY"
)

// FileGenerationHistory records one produced remittance artifact and its
// delivery state.
type FileGenerationHistory struct {
	FileID         string          `json:"file_id"`
	BucketID       string          `json:"bucket_id"`
	FileName       string          `json:"file_name"`
	FilePath       string          `json:"file_path"`
	FileSizeBytes  int64           `json:"file_size_bytes"`
	ClaimCount     int64           `json:"claim_count"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	GeneratedAt    time.Time       `json:"generated_at"`
	DeliveryStatus DeliveryStatus  `json:"delivery_status"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	RetryCount     int             `json:"retry_count"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// Payer is the remittance source configuration, including the SFTP endpoint
// files are delivered to.
type Payer struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	SftpHost          string `json:"sftp_host" yaml:"sftp_host"`
	SftpPort          int    `json:"sftp_port" yaml:"sftp_port"`
	SftpUsername      string `json:"sftp_username" yaml:"sftp_username"`
	SftpPasswordEnc   string `json:"-" yaml:"sftp_password_enc"`
	SftpRemotePath    string `json:"sftp_remote_path" yaml:"sftp_remote_path"`
	IsActive          bool   `json:"is_active" yaml:"is_active"`
}

// Payee is the remittance destination configuration (the pharmacy).
type Payee struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Npi      string `json:"npi,omitempty" yaml:"npi"`
	IsActive bool   `json:"is_active" yaml:"is_active"`
}

// FileNamingTemplate renders output file names. Tokens: {payerId},
// {payeeId}, {date:yyyyMMdd}, {seq}.
type FileNamingTemplate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Template string `json:"template"`
	PayerID  string `json:"payer_id,omitempty"` // empty = default template
	IsActive bool   `json:"is_active"`
}

// ClaimProcessingEntry links a claim to the bucket that accumulated it. The
// (bucket_id, claim_id) pair is the aggregator's idempotence key.
type ClaimProcessingEntry struct {
	ID         string          `json:"id"`
	ClaimID    string          `json:"claim_id"`
	BucketID   string          `json:"bucket_id"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Rejected   bool            `json:"rejected"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NcpdpProcessingEntry is one audit row for a raw claim status transition.
type NcpdpProcessingEntry struct {
	ID         string    `json:"id"`
	RawClaimID string    `json:"raw_claim_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
