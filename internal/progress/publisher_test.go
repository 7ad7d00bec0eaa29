package progress

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale-labs/streamrelay/internal/constants"
	"github.com/rescale-labs/streamrelay/internal/models"
)

const testTransferID = "11111111-1111-1111-1111-111111111111"

func newTestPublisher() (*Publisher, *MemoryStore) {
	store := NewMemoryStore()
	return NewPublisher(store, testTransferID, zerolog.Nop()), store
}

// P2 — the sequence of bytesTransferred and percentage values written to
// the store is monotonically non-decreasing.
func TestPublisher_MonotonicWrites(t *testing.T) {
	pub, store := newTestPublisher()
	ctx := t.Context()

	const total = 1000 * constants.MiB
	pub.Initialize(ctx, total)

	for b := int64(0); b <= total; b += 7 * constants.MiB {
		pub.Publish(ctx, b)
	}
	// A regression must be dropped, not written.
	pub.Publish(ctx, 5*constants.MiB)
	pub.Complete(ctx, "s3://bucket/key", total)

	history := store.History(testTransferID)
	require.NotEmpty(t, history)
	var lastBytes int64
	lastPct := 0
	for _, rec := range history {
		assert.GreaterOrEqual(t, rec.BytesTransferred, lastBytes)
		assert.GreaterOrEqual(t, rec.Percentage, lastPct)
		lastBytes = rec.BytesTransferred
		lastPct = rec.Percentage
	}
	assert.Equal(t, 100, history[len(history)-1].Percentage)
}

// P3 — totalBytes, once written positive, is never overwritten.
func TestPublisher_TotalBytesPreserved(t *testing.T) {
	pub, store := newTestPublisher()
	ctx := t.Context()

	const total = 500 * constants.MiB
	pub.Initialize(ctx, total)
	for b := int64(0); b <= total; b += 50 * constants.MiB {
		pub.Publish(ctx, b)
	}
	pub.Complete(ctx, "s3://bucket/key", total)

	for _, rec := range store.History(testTransferID) {
		assert.EqualValues(t, total, rec.TotalBytes)
	}
}

// P6 — throttling keeps write volume near 100 per transfer regardless of
// how often Publish is called.
func TestPublisher_ThrottlesWrites(t *testing.T) {
	pub, store := newTestPublisher()
	ctx := t.Context()

	const total = 10 * constants.GiB
	pub.Initialize(ctx, total)

	// Simulate per-chunk publication: 1 MiB chunks, 10240 calls.
	for b := int64(constants.MiB); b <= total; b += constants.MiB {
		pub.Publish(ctx, b)
	}
	pub.Complete(ctx, "s3://bucket/key", total)

	writes := len(store.History(testTransferID))
	assert.GreaterOrEqual(t, writes, 100)
	assert.LessOrEqual(t, writes, 200)
}

func TestPublisher_UnknownTotalUsesByteStep(t *testing.T) {
	pub, store := newTestPublisher()
	ctx := t.Context()

	pub.Initialize(ctx, -1)
	for b := int64(constants.MiB); b <= constants.GiB; b += constants.MiB {
		pub.Publish(ctx, b)
	}

	// 1 GiB at one write per 100 MiB, plus the initialize write.
	writes := len(store.History(testTransferID))
	assert.GreaterOrEqual(t, writes, 10)
	assert.LessOrEqual(t, writes, 12)

	latest, ok := store.Latest(testTransferID)
	require.True(t, ok)
	assert.Zero(t, latest.Percentage)
}

func TestPublisher_TerminalStatesAreFinal(t *testing.T) {
	pub, store := newTestPublisher()
	ctx := t.Context()

	pub.Initialize(ctx, 100)
	pub.Fail(ctx, models.NewTransferError(models.KindURLFetch, "connection refused", false, nil))

	// A cancel (or any further write) after a terminal state is a no-op.
	pub.Cancel(ctx)
	pub.Publish(ctx, 50)
	pub.Complete(ctx, "s3://bucket/key", 100)

	latest, ok := store.Latest(testTransferID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, latest.Status)
	assert.Contains(t, latest.Error, "Source unreachable")
}

func TestPublisher_ErrorMessageTruncated(t *testing.T) {
	pub, store := newTestPublisher()

	pub.Fail(t.Context(), errors.New(strings.Repeat("x", 5000)))

	latest, ok := store.Latest(testTransferID)
	require.True(t, ok)
	assert.Len(t, latest.Error, constants.ErrorMessageMaxBytes)
}

func TestPublisher_CompleteFillsTotalWhenUnknown(t *testing.T) {
	pub, store := newTestPublisher()
	ctx := t.Context()

	pub.Initialize(ctx, -1)
	pub.Publish(ctx, 200*constants.MiB)
	pub.Complete(ctx, "s3://bucket/key", 250*constants.MiB)

	latest, ok := store.Latest(testTransferID)
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, latest.Status)
	assert.EqualValues(t, 250*constants.MiB, latest.TotalBytes)
	assert.EqualValues(t, 250*constants.MiB, latest.BytesTransferred)
	assert.Equal(t, 100, latest.Percentage)
	assert.Equal(t, "s3://bucket/key", latest.S3Location)
	require.NotNil(t, latest.EndTime)
}
