package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale-labs/streamrelay/internal/constants"
	"github.com/rescale-labs/streamrelay/internal/models"
	"github.com/rescale-labs/streamrelay/internal/objectstore"
	"github.com/rescale-labs/streamrelay/internal/partbuffer"
)

// shrinkBackoff lowers the Scheduler's retry backoff for the duration of
// a test so retry-exhaustion scenarios don't take several real seconds.
func shrinkBackoff(t *testing.T) {
	t.Helper()
	orig := constants.SchedulerBackoffBase
	constants.SchedulerBackoffBase = 5 * time.Millisecond
	t.Cleanup(func() { constants.SchedulerBackoffBase = orig })
}

func testPart(n int32, size int) partbuffer.Part {
	return partbuffer.Part{PartNumber: n, Bytes: make([]byte, size)}
}

// P4 — part-manifest ordering survives permuted completion order.
func TestScheduler_ReceiptsOrderedDespitePermutedCompletion(t *testing.T) {
	fake := objectstore.NewFake()
	uploadID, err := fake.Initiate(t.Context(), "bucket", "key")
	require.NoError(t, err)

	s := New(fake, "bucket", "key", uploadID, 100, 10, 1<<30, zerolog.Nop())

	// Dispatch part 1 then 3 then 2; the fake uploader has no artificial
	// delay so completion order tracks dispatch order closely enough
	// that the assertion exercises the sort in Result(), not timing.
	for _, n := range []int32{1, 3, 2} {
		s.Dispatch(t.Context(), testPart(n, 10))
	}
	s.Wait()

	receipts, err := s.Result()
	require.NoError(t, err)
	require.Len(t, receipts, 3)
	assert.EqualValues(t, 1, receipts[0].PartNumber)
	assert.EqualValues(t, 2, receipts[1].PartNumber)
	assert.EqualValues(t, 3, receipts[2].PartNumber)
}

// P7 — concurrency bound: never more than C outstanding uploadPart calls.
func TestScheduler_ConcurrencyNeverExceedsC(t *testing.T) {
	const C = 3
	fake := &slowFake{Fake: objectstore.NewFake(), delay: 30 * time.Millisecond}
	uploadID, err := fake.Initiate(t.Context(), "bucket", "key")
	require.NoError(t, err)

	s := New(fake, "bucket", "key", uploadID, 100, C, 1<<30, zerolog.Nop())

	for i := int32(1); i <= 12; i++ {
		s.Dispatch(t.Context(), testPart(i, 10))
	}
	s.Wait()

	assert.LessOrEqual(t, int(atomic.LoadInt32(&fake.maxObserved)), C)

	receipts, err := s.Result()
	require.NoError(t, err)
	assert.Len(t, receipts, 12)
}

// Scenario 4 — retryable part failure succeeds on the 3rd attempt.
func TestScheduler_RetriesThenSucceeds(t *testing.T) {
	fake := objectstore.NewFake()
	fake.FailPartUntilAttempt = map[int32]int32{2: 3}
	uploadID, err := fake.Initiate(t.Context(), "bucket", "key")
	require.NoError(t, err)

	shrinkBackoff(t)
	s := New(fake, "bucket", "key", uploadID, 100, 5, 1<<30, zerolog.Nop())

	s.Dispatch(t.Context(), testPart(1, 10))
	s.Dispatch(t.Context(), testPart(2, 10))
	s.Wait()

	receipts, err := s.Result()
	require.NoError(t, err)
	assert.Len(t, receipts, 2)
}

// Scenario 5 — unrecoverable part failure after 3 attempts fails the transfer.
func TestScheduler_ExhaustsRetriesAndFails(t *testing.T) {
	fake := objectstore.NewFake()
	fake.FailPartUntilAttempt = map[int32]int32{2: 100} // never succeeds within budget
	uploadID, err := fake.Initiate(t.Context(), "bucket", "key")
	require.NoError(t, err)

	shrinkBackoff(t)
	s := New(fake, "bucket", "key", uploadID, 100, 5, 1<<30, zerolog.Nop())

	s.Dispatch(t.Context(), testPart(1, 10))
	s.Dispatch(t.Context(), testPart(2, 10))
	s.Wait()

	_, err = s.Result()
	require.Error(t, err)
	assert.True(t, s.Failed())
}

func TestScheduler_BackpressureThresholds(t *testing.T) {
	fake := objectstore.NewFake()
	uploadID, err := fake.Initiate(t.Context(), "bucket", "key")
	require.NoError(t, err)

	const P = 100 * 1024 * 1024
	s := New(fake, "bucket", "key", uploadID, P, 10, 10*P, zerolog.Nop())
	assert.False(t, s.ShouldPause())

	atomic.StoreInt32(&s.inFlight, 3)
	assert.True(t, s.ShouldPause())
	assert.False(t, s.ShouldResume())

	atomic.StoreInt32(&s.inFlight, 1)
	assert.True(t, s.ShouldResume())
}

// A non-retryable part error short-circuits the remaining attempts.
func TestScheduler_NonRetryableFailsWithoutRetry(t *testing.T) {
	fake := &fatalFake{Fake: objectstore.NewFake()}
	uploadID, err := fake.Initiate(t.Context(), "bucket", "key")
	require.NoError(t, err)

	shrinkBackoff(t)
	s := New(fake, "bucket", "key", uploadID, 100, 5, 1<<30, zerolog.Nop())

	s.Dispatch(t.Context(), testPart(1, 10))
	s.Wait()

	_, err = s.Result()
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fake.calls))
}

// slowFake wraps Fake to track the maximum number of concurrently
// outstanding UploadPart calls, for the concurrency-bound assertion.
type slowFake struct {
	*objectstore.Fake
	delay       time.Duration
	current     int32
	maxObserved int32
}

func (f *slowFake) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error) {
	n := atomic.AddInt32(&f.current, 1)
	for {
		max := atomic.LoadInt32(&f.maxObserved)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxObserved, max, n) {
			break
		}
	}
	time.Sleep(f.delay)
	defer atomic.AddInt32(&f.current, -1)
	return f.Fake.UploadPart(ctx, bucket, key, uploadID, partNumber, data)
}

// fatalFake fails every part upload with a permanently non-retryable
// error and counts the attempts it saw.
type fatalFake struct {
	*objectstore.Fake
	calls int32
}

func (f *fatalFake) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return "", models.NewTransferError(models.KindS3Part, "invalid part", false, nil)
}
