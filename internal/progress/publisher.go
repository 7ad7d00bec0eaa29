package progress

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rescale-labs/streamrelay/internal/constants"
	"github.com/rescale-labs/streamrelay/internal/models"
)

// Publisher translates the Part Buffer's fine-grained byte-counter
// updates into coarse-grained store writes, enforcing the §3 invariants:
// bytesTransferred and percentage are monotonic, totalBytes is never
// overwritten with 0 once positive, and no write leaves a terminal
// state.
type Publisher struct {
	store Store
	log   zerolog.Logger

	mu     sync.Mutex
	record models.TransferProgress

	lastBytes int64
	lastPct   int

	// pctStepBytes is 1% of totalBytes, precomputed at Initialize so the
	// per-chunk Publish path compares byte counters without dividing.
	// The percentage itself is computed only after a threshold passes.
	pctStepBytes int64
}

// NewPublisher returns a Publisher for one transfer. The record starts
// in StatusStarting: pending is the submission collaborator's state, and
// by the time the worker constructs a Publisher it has started.
func NewPublisher(store Store, transferID string, log zerolog.Logger) *Publisher {
	now := time.Now()
	return &Publisher{
		store: store,
		log:   log,
		record: models.TransferProgress{
			TransferID:     transferID,
			Status:         models.StatusStarting,
			StartTime:      now,
			LastUpdateTime: now,
		},
		pctStepBytes: math.MaxInt64,
	}
}

// Initialize writes totalBytes as soon as it is known, bypassing
// throttling so external observers immediately see the file size
// (§4.E). It is the only non-terminal path by which totalBytes changes.
func (p *Publisher) Initialize(ctx context.Context, totalBytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.record.Status.Terminal() {
		return
	}

	if totalBytes > 0 {
		p.record.TotalBytes = totalBytes
		p.pctStepBytes = totalBytes / 100
		if p.pctStepBytes < 1 {
			p.pctStepBytes = 1
		}
	}
	p.record.LastUpdateTime = time.Now()
	p.write(ctx)
}

// Publish folds a new byte count into the record and issues a store
// write iff the count has advanced by at least 1% of totalBytes or by
// constants.ProgressByteStep since the last write. Regressions (which
// would violate monotonicity) and updates after a terminal state are
// dropped.
func (p *Publisher) Publish(ctx context.Context, bytesTransferred int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.record.Status.Terminal() {
		return
	}
	if bytesTransferred <= p.lastBytes {
		return
	}

	delta := bytesTransferred - p.lastBytes
	if delta < p.pctStepBytes && delta < constants.ProgressByteStep {
		return
	}

	pct := models.Percentage(bytesTransferred, p.record.TotalBytes)
	p.record.BytesTransferred = bytesTransferred
	p.record.Percentage = pct
	p.record.Status = models.StatusInProgress
	p.record.LastUpdateTime = time.Now()
	p.lastBytes = bytesTransferred
	p.lastPct = pct
	p.write(ctx)
}

// Complete issues the terminal completed write with the destination
// location. bytesTransferred is the final byte count, which also
// becomes totalBytes when the source never supplied a Content-Length.
func (p *Publisher) Complete(ctx context.Context, location string, bytesTransferred int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.record.Status.Terminal() {
		return
	}

	if bytesTransferred > p.record.BytesTransferred {
		p.record.BytesTransferred = bytesTransferred
	}
	if p.record.TotalBytes <= 0 {
		p.record.TotalBytes = p.record.BytesTransferred
	}
	p.record.Percentage = 100
	p.record.Status = models.StatusCompleted
	p.record.S3Location = location
	p.terminalStamp()
	p.write(ctx)
}

// Fail issues the terminal failed write, recording err's user-visible
// message truncated to the store's limit.
func (p *Publisher) Fail(ctx context.Context, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.record.Status.Terminal() {
		return
	}

	msg := err.Error()
	var terr *models.TransferError
	if errors.As(err, &terr) {
		msg = terr.UserMessage()
	}
	p.record.Status = models.StatusFailed
	p.record.Error = models.Truncate(msg, constants.ErrorMessageMaxBytes)
	p.terminalStamp()
	p.write(ctx)
}

// Cancel issues the terminal cancelled write. A cancel arriving after
// another terminal state is a no-op (§5: cancellation is idempotent).
func (p *Publisher) Cancel(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.record.Status.Terminal() {
		return
	}

	p.record.Status = models.StatusCancelled
	p.terminalStamp()
	p.write(ctx)
}

// Snapshot returns a copy of the current record.
func (p *Publisher) Snapshot() models.TransferProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record
}

func (p *Publisher) terminalStamp() {
	now := time.Now()
	p.record.LastUpdateTime = now
	p.record.EndTime = &now
}

// write pushes the current record to the store. A store write failure
// is logged, never propagated: progress is observability, and failing a
// multi-hour transfer over a dropped status write would be worse than
// a stale record.
func (p *Publisher) write(ctx context.Context) {
	if err := p.store.Write(ctx, p.record); err != nil {
		p.log.Error().Err(err).Str("status", string(p.record.Status)).Msg("progress store write failed")
	}
}
