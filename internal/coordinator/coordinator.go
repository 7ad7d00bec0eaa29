// Package coordinator wires the streaming transfer engine together
// (§4.F): pre-flight checks, the reader → part buffer → scheduler
// pipeline, progress publication, and guaranteed cleanup of the
// server-side multipart upload on every exit path.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rescale-labs/streamrelay/internal/events"
	"github.com/rescale-labs/streamrelay/internal/models"
	"github.com/rescale-labs/streamrelay/internal/objectstore"
	"github.com/rescale-labs/streamrelay/internal/partbuffer"
	"github.com/rescale-labs/streamrelay/internal/progress"
	"github.com/rescale-labs/streamrelay/internal/resourcemon"
	"github.com/rescale-labs/streamrelay/internal/scheduler"
	"github.com/rescale-labs/streamrelay/internal/sourcereader"
)

// Options tune a Coordinator beyond its required collaborators.
type Options struct {
	// Concurrency is the Upload Scheduler's cap C, already validated to
	// [1,20] by config.Load.
	Concurrency int

	// MemoryCeiling bounds bufferedBytes (inFlight * P) for backpressure.
	// Zero selects resourcemon.Ceiling().
	MemoryCeiling int64

	// PartSize overrides the adaptive part-size choice. Zero selects per
	// the probed total size.
	PartSize int64

	// LocalUI renders a live progress bar on stderr when it is a
	// terminal. Write-only: the Coordinator never reads it back.
	LocalUI bool
}

// Coordinator executes one TransferJob to a terminal state.
type Coordinator struct {
	job       models.TransferJob
	store     objectstore.Client
	reader    *sourcereader.Reader
	publisher *progress.Publisher
	opts      Options
	log       zerolog.Logger
}

// New builds a Coordinator for one job.
func New(job models.TransferJob, store objectstore.Client, reader *sourcereader.Reader, publisher *progress.Publisher, opts Options, log zerolog.Logger) *Coordinator {
	if opts.MemoryCeiling == 0 {
		opts.MemoryCeiling = resourcemon.Ceiling()
	}
	return &Coordinator{
		job:       job,
		store:     store,
		reader:    reader,
		publisher: publisher,
		opts:      opts,
		log:       log,
	}
}

// Result summarizes a successful transfer.
type Result struct {
	Location         string
	BytesTransferred int64
	Parts            int
	PausedTotal      time.Duration
}

// Run executes the choreography of §4.F. On any failure after the
// multipart upload is initiated -- stream errors, exhausted part
// retries, a failed complete call, cancellation, even a panic in the
// pipeline -- the upload is aborted server-side and a single terminal
// progress write is issued.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	if err := c.store.ValidateBucket(ctx, c.job.Bucket); err != nil {
		return Result{}, c.fail(ctx, err)
	}
	c.log.Info().Str("bucket", c.job.Bucket).Msg("destination bucket validated")

	probe, err := c.reader.Probe(ctx, c.job.SourceURL)
	if err != nil {
		return Result{}, c.fail(ctx, err)
	}
	totalBytes := probe.TotalBytes
	c.log.Info().Int64("totalBytes", totalBytes).Str("contentType", probe.ContentType).Msg("source probed")

	if totalBytes > 0 {
		c.publisher.Initialize(ctx, totalBytes)
	}

	partSize := c.opts.PartSize
	if partSize == 0 {
		partSize, err = partbuffer.PartSize(totalBytes)
		if err != nil {
			return Result{}, c.fail(ctx, err)
		}
	}
	c.log.Info().Int64("partSize", partSize).Int("concurrency", c.opts.Concurrency).Msg("part size selected")

	uploadID, err := c.store.Initiate(ctx, c.job.Bucket, c.job.ObjectKey)
	if err != nil {
		return Result{}, c.fail(ctx, err)
	}
	c.log.Info().Str("uploadId", uploadID).Str("key", c.job.ObjectKey).Msg("multipart upload initiated")

	var ui *progress.LocalUI
	if c.opts.LocalUI {
		ui = progress.NewLocalUI(c.job.ObjectKey, totalBytes)
	}

	var succeeded bool
	defer func() {
		if succeeded {
			return
		}
		// Guaranteed release: every exit path from here on, including a
		// panic in the pipeline, aborts the server-side upload. Abort is
		// idempotent and never throws (§4.B).
		c.store.Abort(context.WithoutCancel(ctx), c.job.Bucket, c.job.ObjectKey, uploadID)
		if r := recover(); r != nil {
			c.publisher.Fail(context.WithoutCancel(ctx),
				models.NewTransferError(models.KindInternal, fmt.Sprintf("panic: %v", r), false, nil))
			panic(r)
		}
	}()

	result, err := c.stream(ctx, uploadID, partSize, totalBytes, ui)
	if err != nil {
		if ui != nil {
			ui.Abandon()
		}
		return Result{}, c.fail(ctx, err)
	}

	succeeded = true
	c.publisher.Complete(context.WithoutCancel(ctx), result.Location, result.BytesTransferred)
	if ui != nil {
		ui.Done(result.BytesTransferred)
	}
	c.log.Info().Str("location", result.Location).Int64("bytes", result.BytesTransferred).
		Int("parts", result.Parts).Dur("pausedTotal", result.PausedTotal).Msg("transfer completed")
	return result, nil
}

// stream drives the reader → part buffer → scheduler pipeline until
// end-of-stream or failure, then completes the multipart upload with the
// sorted receipts.
func (c *Coordinator) stream(ctx context.Context, uploadID string, partSize, totalBytes int64, ui *progress.LocalUI) (Result, error) {
	byteStream, err := c.reader.Open(ctx, c.job.SourceURL)
	if err != nil {
		return Result{}, err
	}
	defer byteStream.Close()

	// The hot path only ever sends on this channel; external store
	// writes happen on the draining goroutine, off the reader's path.
	progressCh := make(chan events.Progress, 64)
	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		pctx := context.WithoutCancel(ctx)
		for ev := range progressCh {
			c.publisher.Publish(pctx, ev.BytesTransferred)
			if ui != nil {
				ui.Update(ev.BytesTransferred)
			}
		}
	}()

	splitter := partbuffer.NewSplitter(byteStream, partSize, totalBytes, progressCh)
	sched := scheduler.New(c.store, c.job.Bucket, c.job.ObjectKey, uploadID, partSize, c.opts.Concurrency, c.opts.MemoryCeiling, c.log)

	var streamErr error
	parts := 0
	for {
		if ctx.Err() != nil {
			streamErr = ctx.Err()
			break
		}
		sched.WaitUntilResumable(ctx)
		if sched.Failed() {
			break
		}

		part, done, err := splitter.Next()
		if err != nil {
			streamErr = err
			break
		}
		if done {
			break
		}
		parts++
		sched.Dispatch(ctx, part)
	}

	// In-flight parts are left to finish or fail on their own deadlines;
	// no new parts are dispatched past this point (§5).
	sched.Wait()
	close(progressCh)
	drained.Wait()

	if streamErr != nil {
		return Result{}, streamErr
	}
	receipts, err := sched.Result()
	if err != nil {
		return Result{}, err
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	location, err := c.store.Complete(ctx, c.job.Bucket, c.job.ObjectKey, uploadID, receipts)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Location:         location,
		BytesTransferred: splitter.BytesTransferred(),
		Parts:            parts,
		PausedTotal:      sched.PausedTotal(),
	}, nil
}

// fail classifies err, writes the single terminal progress record, and
// returns the classified error. External cancellation lands in
// cancelled, everything else in failed (§5).
func (c *Coordinator) fail(ctx context.Context, err error) error {
	bg := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		c.log.Warn().Err(err).Msg("transfer cancelled")
		c.publisher.Cancel(bg)
		return err
	}

	var terr *models.TransferError
	if !errors.As(err, &terr) {
		terr = models.NewTransferError(models.KindInternal, err.Error(), false, err)
	}
	c.log.Error().Err(terr).Str("kind", string(terr.Kind)).Msg("transfer failed")
	c.publisher.Fail(bg, terr)
	return terr
}
