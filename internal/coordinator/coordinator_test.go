package coordinator

import (
	"bytes"
	"context"
	"crypto/md5"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale-labs/streamrelay/internal/constants"
	"github.com/rescale-labs/streamrelay/internal/httpx"
	"github.com/rescale-labs/streamrelay/internal/models"
	"github.com/rescale-labs/streamrelay/internal/objectstore"
	"github.com/rescale-labs/streamrelay/internal/progress"
	"github.com/rescale-labs/streamrelay/internal/sourcereader"
)

const (
	testID = "22222222-2222-2222-2222-222222222222"
	// Test part size: far below production tiers so multi-part transfers
	// stay cheap, but no smaller than the splitter's read chunk.
	testPartSize = 1 << 20
)

func deterministicSource(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 31 % 256)
	}
	return b
}

func sourceServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "archive.zip", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func shrinkBackoff(t *testing.T) {
	t.Helper()
	orig := constants.SchedulerBackoffBase
	constants.SchedulerBackoffBase = 5 * time.Millisecond
	t.Cleanup(func() { constants.SchedulerBackoffBase = orig })
}

func newCoordinator(client objectstore.Client, url string, store progress.Store, concurrency int) (*Coordinator, *progress.Publisher) {
	job := models.TransferJob{
		TransferID: testID,
		SourceURL:  url,
		Bucket:     "bucket",
		ObjectKey:  "incoming/archive.zip",
		Region:     "us-east-1",
	}
	pub := progress.NewPublisher(store, testID, zerolog.Nop())
	reader := sourcereader.New(httpx.NewSourceClient(), zerolog.Nop())
	coord := New(job, client, reader, pub, Options{
		Concurrency: concurrency,
		PartSize:    testPartSize,
	}, zerolog.Nop())
	return coord, pub
}

// Scenario 1/2 — single part, exact and sub-boundary sizes; destination
// bytes match the source exactly (P1).
func TestRun_SinglePart(t *testing.T) {
	for _, n := range []int{testPartSize / 2, testPartSize} {
		src := deterministicSource(n)
		srv := sourceServer(t, src)
		fake := objectstore.NewFake()
		store := progress.NewMemoryStore()

		coord, _ := newCoordinator(fake, srv.URL+"/archive.zip", store, 10)
		result, err := coord.Run(t.Context())
		require.NoError(t, err)

		assert.Equal(t, 1, result.Parts)
		assert.EqualValues(t, n, result.BytesTransferred)

		obj := fake.Object("fake-upload-1")
		assert.Equal(t, md5.Sum(src), md5.Sum(obj))

		latest, ok := store.Latest(testID)
		require.True(t, ok)
		assert.Equal(t, models.StatusCompleted, latest.Status)
		assert.Equal(t, 100, latest.Percentage)
		assert.EqualValues(t, n, latest.TotalBytes)
	}
}

// Scenario 3 / P1 / P4 — multi-part transfer reassembles to the source
// MD5 with an ascending manifest, regardless of wire completion order.
func TestRun_MultiPart(t *testing.T) {
	const n = 2*testPartSize + testPartSize/2
	src := deterministicSource(n)
	srv := sourceServer(t, src)
	fake := objectstore.NewFake()
	store := progress.NewMemoryStore()

	coord, _ := newCoordinator(fake, srv.URL+"/archive.zip", store, 10)
	result, err := coord.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Parts)
	obj := fake.Object("fake-upload-1")
	require.Len(t, obj, n)
	assert.Equal(t, md5.Sum(src), md5.Sum(obj))
}

// Scenario 4 — a part that fails on attempts 1 and 2 succeeds on the 3rd
// and the transfer completes.
func TestRun_RetryablePartFailure(t *testing.T) {
	shrinkBackoff(t)

	const n = 2 * testPartSize
	src := deterministicSource(n)
	srv := sourceServer(t, src)
	fake := objectstore.NewFake()
	fake.FailPartUntilAttempt = map[int32]int32{2: 3}
	store := progress.NewMemoryStore()

	coord, _ := newCoordinator(fake, srv.URL+"/archive.zip", store, 10)
	_, err := coord.Run(t.Context())
	require.NoError(t, err)

	obj := fake.Object("fake-upload-1")
	assert.Equal(t, md5.Sum(src), md5.Sum(obj))
	assert.Zero(t, fake.AbortCount)
}

// Scenario 5 / P5 — a part exhausting its retry budget fails the
// transfer with exactly one abort and no complete.
func TestRun_UnrecoverablePartFailure(t *testing.T) {
	shrinkBackoff(t)

	src := deterministicSource(3 * testPartSize)
	srv := sourceServer(t, src)
	fake := objectstore.NewFake()
	fake.FailPartUntilAttempt = map[int32]int32{2: 100}
	store := progress.NewMemoryStore()

	coord, _ := newCoordinator(fake, srv.URL+"/archive.zip", store, 10)
	_, err := coord.Run(t.Context())
	require.Error(t, err)

	var terr *models.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.KindS3Part, terr.Kind)

	assert.Equal(t, 1, fake.AbortCount)
	latest, ok := store.Latest(testID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, latest.Status)
	assert.NotEmpty(t, latest.Error)
}

// P5 — a failed complete call also aborts exactly once.
func TestRun_CompleteFailureAborts(t *testing.T) {
	src := deterministicSource(testPartSize)
	srv := sourceServer(t, src)
	fake := objectstore.NewFake()
	fake.CompleteErr = models.NewTransferError(models.KindS3Complete, "injected", false, nil)
	store := progress.NewMemoryStore()

	coord, _ := newCoordinator(fake, srv.URL+"/archive.zip", store, 10)
	_, err := coord.Run(t.Context())
	require.Error(t, err)

	assert.Equal(t, 1, fake.AbortCount)
	latest, _ := store.Latest(testID)
	assert.Equal(t, models.StatusFailed, latest.Status)
}

func TestRun_BucketValidationFailsFast(t *testing.T) {
	srv := sourceServer(t, deterministicSource(10))
	fake := objectstore.NewFake()
	fake.ValidateBucketErr = models.NewTransferError(models.KindS3Access, "access denied to bucket", false, nil)
	store := progress.NewMemoryStore()

	coord, _ := newCoordinator(fake, srv.URL+"/archive.zip", store, 10)
	_, err := coord.Run(t.Context())
	require.Error(t, err)

	// Nothing was initiated, so nothing to abort.
	assert.Zero(t, fake.AbortCount)
	latest, _ := store.Latest(testID)
	assert.Equal(t, models.StatusFailed, latest.Status)
}

func TestRun_EmptySourceFails(t *testing.T) {
	srv := sourceServer(t, nil)
	fake := objectstore.NewFake()
	store := progress.NewMemoryStore()

	coord, _ := newCoordinator(fake, srv.URL+"/archive.zip", store, 10)
	_, err := coord.Run(t.Context())
	require.Error(t, err)

	var terr *models.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.KindSourceEmpty, terr.Kind)
	// The multipart upload was already initiated, so the empty stream
	// aborts it on close.
	assert.Equal(t, 1, fake.AbortCount)
}

// Scenario 6 / P7 — a slow destination pauses the reader at least once
// and the destination bytes still match.
func TestRun_SlowDestinationBackpressure(t *testing.T) {
	const n = 8 * testPartSize
	src := deterministicSource(n)
	srv := sourceServer(t, src)
	fake := &slowStore{Fake: objectstore.NewFake(), delay: 50 * time.Millisecond}
	store := progress.NewMemoryStore()

	coord, _ := newCoordinator(fake, srv.URL+"/archive.zip", store, 10)
	result, err := coord.Run(t.Context())
	require.NoError(t, err)

	assert.Greater(t, result.PausedTotal, time.Duration(0))
	obj := fake.Object("fake-upload-1")
	require.Len(t, obj, n)
	assert.Equal(t, md5.Sum(src), md5.Sum(obj))
}

func TestRun_CancellationMarksCancelled(t *testing.T) {
	const n = 8 * testPartSize
	src := deterministicSource(n)
	srv := sourceServer(t, src)
	fake := &slowStore{Fake: objectstore.NewFake(), delay: 100 * time.Millisecond}
	store := progress.NewMemoryStore()

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(80 * time.Millisecond)
		cancel()
	}()

	coord, _ := newCoordinator(fake, srv.URL+"/archive.zip", store, 10)
	_, err := coord.Run(ctx)
	require.Error(t, err)

	assert.Equal(t, 1, fake.AbortCount)
	latest, ok := store.Latest(testID)
	require.True(t, ok)
	assert.Equal(t, models.StatusCancelled, latest.Status)
}

// P2 over the full pipeline: every store write advances monotonically.
func TestRun_ProgressWritesMonotonic(t *testing.T) {
	const n = 5 * testPartSize
	src := deterministicSource(n)
	srv := sourceServer(t, src)
	fake := objectstore.NewFake()
	store := progress.NewMemoryStore()

	coord, _ := newCoordinator(fake, srv.URL+"/archive.zip", store, 10)
	_, err := coord.Run(t.Context())
	require.NoError(t, err)

	history := store.History(testID)
	require.NotEmpty(t, history)
	var lastBytes int64
	lastPct := 0
	for _, rec := range history {
		assert.GreaterOrEqual(t, rec.BytesTransferred, lastBytes)
		assert.GreaterOrEqual(t, rec.Percentage, lastPct)
		assert.EqualValues(t, n, rec.TotalBytes, "totalBytes must never regress")
		lastBytes = rec.BytesTransferred
		lastPct = rec.Percentage
	}
}

// slowStore delays each part upload to force the in-flight count up
// against the high-water mark.
type slowStore struct {
	*objectstore.Fake
	delay time.Duration
}

func (s *slowStore) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error) {
	time.Sleep(s.delay)
	return s.Fake.UploadPart(ctx, bucket, key, uploadID, partNumber, data)
}
