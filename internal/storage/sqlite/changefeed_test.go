package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remitflow/remitflow/internal/types"
)

func TestTriggersCaptureRawClaimChanges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	raw := &types.RawNcpdpClaim{PayerID: "P1", TransactionID: "T1", RawContent: "x"}
	require.NoError(t, store.CreateRawClaim(ctx, raw))

	claimed, err := store.ClaimRawForProcessing(ctx, raw.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, claimed)

	changes, err := store.ChangesAfter(ctx, types.Checkpoint{}, 100)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	ins, upd := changes[0], changes[1]
	assert.Equal(t, "raw_ncpdp_claims", ins.TableName)
	assert.Equal(t, types.OpInsert, ins.Operation)
	assert.Equal(t, raw.ID, ins.RowID)
	assert.Empty(t, ins.OldValues)
	assert.Contains(t, ins.NewValues, `"status":"PENDING"`)

	assert.Equal(t, types.OpUpdate, upd.Operation)
	assert.Contains(t, upd.OldValues, `"status":"PENDING"`)
	assert.Contains(t, upd.NewValues, `"status":"PROCESSING"`)
	assert.Greater(t, upd.SequenceNumber, ins.SequenceNumber)
}

func TestChangesAfterRespectsCheckpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"raw-1", "raw-2", "raw-3"} {
		raw := &types.RawNcpdpClaim{ID: id, PayerID: "P1", TransactionID: id, RawContent: "x"}
		require.NoError(t, store.CreateRawClaim(ctx, raw))
	}

	all, err := store.ChangesAfter(ctx, types.Checkpoint{}, 100)
	require.NoError(t, err)
	require.Len(t, all, 3)

	cp := types.Checkpoint{
		ConsumerID:     "test",
		FeedVersion:    all[0].FeedVersion,
		SequenceNumber: all[0].SequenceNumber,
	}
	rest, err := store.ChangesAfter(ctx, cp, 100)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, all[1].ChangeID, rest[0].ChangeID)
	assert.Equal(t, all[2].ChangeID, rest[1].ChangeID)

	// Limit bounds the batch.
	one, err := store.ChangesAfter(ctx, cp, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
}

func TestSequenceNumbersStrictlyIncreasePerTable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Interleave writes across feed tables.
	require.NoError(t, store.CreateRawClaim(ctx,
		&types.RawNcpdpClaim{ID: "raw-1", PayerID: "P1", TransactionID: "T1", RawContent: "x"}))
	require.NoError(t, store.CreateBucket(ctx, newTestBucket("rule-1", "P1", "PY1")))
	require.NoError(t, store.CreateRawClaim(ctx,
		&types.RawNcpdpClaim{ID: "raw-2", PayerID: "P1", TransactionID: "T2", RawContent: "x"}))

	changes, err := store.ChangesAfter(ctx, types.Checkpoint{}, 100)
	require.NoError(t, err)
	require.Len(t, changes, 3)

	last := map[string]int64{}
	for _, c := range changes {
		if prev, ok := last[c.TableName]; ok {
			assert.Greater(t, c.SequenceNumber, prev,
				"sequence for %s must strictly increase", c.TableName)
		}
		last[c.TableName] = c.SequenceNumber
	}
}

func TestNewFeedVersionOrdersAfterOldChanges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRawClaim(ctx,
		&types.RawNcpdpClaim{ID: "raw-old", PayerID: "P1", TransactionID: "T1", RawContent: "x"}))

	v2, err := store.NextFeedVersion(ctx)
	require.NoError(t, err)

	require.NoError(t, store.CreateRawClaim(ctx,
		&types.RawNcpdpClaim{ID: "raw-new", PayerID: "P1", TransactionID: "T2", RawContent: "x"}))

	changes, err := store.ChangesAfter(ctx, types.Checkpoint{}, 100)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "raw-old", changes[0].RowID)
	assert.Equal(t, "raw-new", changes[1].RowID)
	assert.Equal(t, v2, changes[1].FeedVersion)
	assert.Less(t, changes[0].FeedVersion, changes[1].FeedVersion)
}

func TestMarkChangeProcessed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRawClaim(ctx,
		&types.RawNcpdpClaim{ID: "raw-1", PayerID: "P1", TransactionID: "T1", RawContent: "x"}))

	changes, err := store.ChangesAfter(ctx, types.Checkpoint{}, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	now := time.Now().UTC()
	require.NoError(t, store.MarkChangeProcessed(ctx, changes[0].ChangeID, "", now))

	after, err := store.ChangesAfter(ctx, types.Checkpoint{}, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.True(t, after[0].Processed)
	require.NotNil(t, after[0].ProcessedAt)

	// A recorded error leaves the row unprocessed for diagnostics.
	require.NoError(t, store.MarkChangeProcessed(ctx, changes[0].ChangeID, "handler failed", now))
	after, err = store.ChangesAfter(ctx, types.Checkpoint{}, 10)
	require.NoError(t, err)
	assert.False(t, after[0].Processed)
	assert.Equal(t, "handler failed", after[0].ErrorMessage)
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp, err := store.GetCheckpoint(ctx, "bucketing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cp.FeedVersion)
	assert.Equal(t, int64(0), cp.SequenceNumber)

	cp.FeedVersion = 3
	cp.SequenceNumber = 42
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	got, err := store.GetCheckpoint(ctx, "bucketing")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.FeedVersion)
	assert.Equal(t, int64(42), got.SequenceNumber)

	// Advancing overwrites in place.
	got.SequenceNumber = 43
	require.NoError(t, store.SaveCheckpoint(ctx, got))
	got, err = store.GetCheckpoint(ctx, "bucketing")
	require.NoError(t, err)
	assert.Equal(t, int64(43), got.SequenceNumber)
}
