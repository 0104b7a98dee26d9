// Package eventbus provides the in-process event bus connecting the bucket
// state machine to its subscribers.
package eventbus

import (
	"time"

	"github.com/remitflow/remitflow/internal/types"
)

// EventType identifies an event flowing through the bus.
type EventType string

const (
	// EventBucketStatusChanged fires on every bucket state transition.
	EventBucketStatusChanged EventType = "BucketStatusChanged"

	// EventFileGenerated fires after a remittance artifact is persisted.
	EventFileGenerated EventType = "FileGenerated"

	// EventPayerConfigChanged fires when payer configuration is reloaded;
	// the SFTP session cache evicts on it.
	EventPayerConfigChanged EventType = "PayerConfigChanged"
)

// Event is a single event flowing through the bus.
type Event struct {
	Type       EventType
	OccurredAt time.Time

	// Populated for EventBucketStatusChanged.
	Bucket         *types.Bucket
	PreviousStatus types.BucketStatus
	NewStatus      types.BucketStatus

	// Populated for EventFileGenerated.
	FileID string

	// Populated for EventPayerConfigChanged.
	PayerID string
}
