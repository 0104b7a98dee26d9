package types

import "time"

// FeedOperation is the row-level change kind carried by the change feed.
type FeedOperation string

const (
	OpInsert FeedOperation = "INSERT"
	OpUpdate FeedOperation = "UPDATE"
	OpDelete FeedOperation = "DELETE"
)

// DataChange is one immutable record in the append-only change feed.
// Records are totally ordered by (FeedVersion, SequenceNumber).
type DataChange struct {
	ChangeID       string        `json:"change_id"`
	FeedVersion    int64         `json:"feed_version"`
	SequenceNumber int64         `json:"sequence_number"`
	TableName      string        `json:"table_name"`
	Operation      FeedOperation `json:"operation"`
	RowID          string        `json:"row_id"`
	OldValues      string        `json:"old_values,omitempty"` // canonical JSON snapshot
	NewValues      string        `json:"new_values,omitempty"`
	ChangedAt      time.Time     `json:"changed_at"`
	Processed      bool          `json:"processed"`
	ProcessedAt    *time.Time    `json:"processed_at,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}

// Checkpoint is a consumer's position in the feed. Poll returns records
// strictly after this point.
type Checkpoint struct {
	ConsumerID     string    `json:"consumer_id"`
	FeedVersion    int64     `json:"feed_version"`
	SequenceNumber int64     `json:"sequence_number"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Before reports whether the checkpoint precedes (feedVersion, seq).
func (c Checkpoint) Before(feedVersion, seq int64) bool {
	if c.FeedVersion != feedVersion {
		return c.FeedVersion < feedVersion
	}
	return c.SequenceNumber < seq
}
