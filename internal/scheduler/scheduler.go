// Package scheduler implements the Upload Scheduler (§4.D): it keeps the
// upload pipe full without exceeding a configured concurrency limit,
// retries transient per-part failures, applies backpressure on the
// reader, and preserves part-number ordering in the receipts it hands
// to the Object-Store Client's complete call.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rescale-labs/streamrelay/internal/constants"
	"github.com/rescale-labs/streamrelay/internal/httpx"
	"github.com/rescale-labs/streamrelay/internal/models"
	"github.com/rescale-labs/streamrelay/internal/objectstore"
	"github.com/rescale-labs/streamrelay/internal/partbuffer"
)

// Scheduler dispatches part uploads with bounded concurrency. Its
// mutable state beyond the atomic inFlight counter is limited to an
// append-only receipts slice guarded by a mutex (§5): appends are the
// only mutation, and iteration (sorting, at completion) happens only
// after every uploader has finished.
type Scheduler struct {
	client   objectstore.Client
	bucket   string
	key      string
	uploadID string
	partSize int64
	memCeil  int64
	log      zerolog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	inFlight int32

	cond   *sync.Cond
	condMu sync.Mutex

	mu       sync.Mutex
	receipts []objectstore.Receipt
	failErr  error

	pausedTotal time.Duration
	pauseStart  time.Time
	paused      bool
	pauseMu     sync.Mutex
}

// New constructs a Scheduler bound to one multipart upload. concurrency
// is the caller's already-validated C (§4.D: clamped to [1,20]).
func New(client objectstore.Client, bucket, key, uploadID string, partSize int64, concurrency int, memCeil int64, log zerolog.Logger) *Scheduler {
	s := &Scheduler{
		client:   client,
		bucket:   bucket,
		key:      key,
		uploadID: uploadID,
		partSize: partSize,
		memCeil:  memCeil,
		log:      log,
		sem:      make(chan struct{}, concurrency),
	}
	s.cond = sync.NewCond(&s.condMu)
	return s
}

// Dispatch hands a part to an uploader goroutine. It blocks only long
// enough to acquire a concurrency slot (never more than the configured
// C uploads run simultaneously -- P7); it does not wait for the upload
// itself to finish. Once the Scheduler has recorded a permanent failure,
// Dispatch is a no-op (no further parts are dispatched, per §4.D's
// termination condition (b)) and returns immediately.
func (s *Scheduler) Dispatch(ctx context.Context, part partbuffer.Part) {
	if s.Failed() {
		part.Release()
		return
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		part.Release()
		return
	}

	atomic.AddInt32(&s.inFlight, 1)
	s.signalBackpressure()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			<-s.sem
			atomic.AddInt32(&s.inFlight, -1)
			s.signalBackpressure()
			part.Release()
		}()

		etag, err := s.uploadWithRetry(ctx, part)
		if err != nil {
			s.mu.Lock()
			if s.failErr == nil {
				s.failErr = err
			}
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		s.receipts = append(s.receipts, objectstore.Receipt{PartNumber: part.PartNumber, ETag: etag})
		s.mu.Unlock()
	}()
}

// uploadWithRetry retries uploadPart up to constants.SchedulerMaxAttempts
// times with base-2s exponential backoff (2s before the second attempt,
// 4s before the third), per §4.D. This is
// layered on top of, not a replacement for, the Object-Store Client's
// own SDK-level retries (§4.B). A non-retryable failure short-circuits
// the remaining attempts.
func (s *Scheduler) uploadWithRetry(ctx context.Context, part partbuffer.Part) (string, error) {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= constants.SchedulerMaxAttempts; attempt++ {
		attempts = attempt
		start := time.Now()
		etag, err := s.client.UploadPart(ctx, s.bucket, s.key, s.uploadID, part.PartNumber, part.Bytes)
		if err == nil {
			if attempt > 1 {
				s.log.Info().Int32("partNumber", part.PartNumber).Int("attempt", attempt).
					Dur("latency", time.Since(start)).Msg("part upload succeeded after retry")
			}
			return etag, nil
		}
		lastErr = err
		s.log.Debug().Int32("partNumber", part.PartNumber).Int("attempt", attempt).
			Dur("latency", time.Since(start)).Err(err).Msg("part upload attempt failed")

		if !httpx.Retryable(err) {
			break
		}

		if attempt < constants.SchedulerMaxAttempts {
			backoff := constants.SchedulerBackoffBase * time.Duration(1<<uint(attempt-1))
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			}
		}
	}
	return "", models.NewTransferError(models.KindS3Part, fmt.Sprintf("part %d failed after %d attempts", part.PartNumber, attempts), false, lastErr)
}

// Failed reports whether any part upload has failed permanently:
// retries exhausted, a non-retryable error, or cancellation.
func (s *Scheduler) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failErr != nil
}

// InFlight returns the current number of outstanding uploadPart calls.
func (s *Scheduler) InFlight() int32 {
	return atomic.LoadInt32(&s.inFlight)
}

// ShouldPause reports the high-water condition of §4.D: inFlight >= 3,
// or bufferedBytes (inFlight * P) exceeds the memory ceiling.
func (s *Scheduler) ShouldPause() bool {
	inFlight := s.InFlight()
	if inFlight >= constants.HighWaterInFlight {
		return true
	}
	return int64(inFlight)*s.partSize > s.memCeil
}

// ShouldResume reports the low-water condition: inFlight <= 1 and the
// memory ceiling is not exceeded.
func (s *Scheduler) ShouldResume() bool {
	inFlight := s.InFlight()
	if inFlight > constants.LowWaterInFlight {
		return false
	}
	return int64(inFlight)*s.partSize <= s.memCeil
}

// WaitUntilResumable blocks the caller (the Coordinator's read loop)
// while ShouldPause holds, recording the pause as a logged event and
// accumulating paused time, per §4.D. It returns promptly once
// ShouldResume holds or the Scheduler has failed.
func (s *Scheduler) WaitUntilResumable(ctx context.Context) {
	if !s.ShouldPause() {
		return
	}

	s.pauseMu.Lock()
	if !s.paused {
		s.paused = true
		s.pauseStart = time.Now()
		s.log.Info().Int32("inFlight", s.InFlight()).Msg("reader paused: backpressure high-water mark")
	}
	s.pauseMu.Unlock()

	s.condMu.Lock()
	for !s.ShouldResume() && !s.Failed() {
		s.cond.Wait()
	}
	s.condMu.Unlock()

	s.pauseMu.Lock()
	if s.paused {
		s.paused = false
		elapsed := time.Since(s.pauseStart)
		s.pausedTotal += elapsed
		s.log.Info().Dur("pausedFor", elapsed).Msg("reader resumed: backpressure low-water mark")
	}
	s.pauseMu.Unlock()
}

// PausedTotal returns cumulative paused time, the observable metric
// named in §4.D.
func (s *Scheduler) PausedTotal() time.Duration {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	return s.pausedTotal
}

func (s *Scheduler) signalBackpressure() {
	s.condMu.Lock()
	s.cond.Broadcast()
	s.condMu.Unlock()
}

// Wait blocks until every dispatched upload has completed (success or
// final failure), per the termination condition of §4.D.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Result returns the first permanent failure observed, if any, and -- on
// success -- the receipts sorted strictly ascending by partNumber, ready
// for Object-Store Client.Complete (§4.D / P4). Call only after Wait.
func (s *Scheduler) Result() ([]objectstore.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return nil, s.failErr
	}

	sort.Slice(s.receipts, func(i, j int) bool { return s.receipts[i].PartNumber < s.receipts[j].PartNumber })
	out := make([]objectstore.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}
