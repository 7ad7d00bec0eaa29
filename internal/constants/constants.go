// Package constants holds the fixed numeric parameters of the streaming
// transfer engine: part-size tiers, timeouts, retry budgets, and the
// backpressure/progress thresholds. Values are grounded in the reference
// system's internal/constants/app.go but re-scoped to this core's
// single-transfer-per-process model.
package constants

import "time"

const (
	MiB = 1 << 20
	GiB = 1 << 30
)

// Adaptive part-size tiers (§4.C). PartSize chooses among these based on
// totalBytes, then enforces MinPartSize/MaxPartSize/MaxPartCount below.
const (
	SmallFilePartSize  = 100 * MiB // N < SmallFileThreshold (or N unknown)
	MediumFilePartSize = 250 * MiB // SmallFileThreshold <= N < LargeFileThreshold
	LargeFilePartSize  = 500 * MiB // N >= LargeFileThreshold

	SmallFileThreshold = 10 * GiB
	LargeFileThreshold = 100 * GiB

	MinPartSize  = 5 * MiB
	MaxPartSize  = 5 * GiB
	MaxPartCount = 10000
	FirstPartNum = 1
)

// Source Reader timeouts (§4.A).
const (
	HTTPConnectTimeout  = 60 * time.Second
	HTTPReadIdleTimeout = 60 * time.Second
	MaxRedirects        = 5
)

// Object-Store Client timeouts/retries (§4.B).
const (
	S3CallTimeout    = 5 * time.Minute
	S3ConnectTimeout = 60 * time.Second
	S3MaxSDKRetries  = 5
)

// Upload Scheduler concurrency and retry (§4.D).
const (
	DefaultConcurrency = 10
	MinConcurrency     = 1
	MaxConcurrency     = 20

	SchedulerMaxAttempts = 3

	// Backpressure water marks on in-flight part uploads.
	HighWaterInFlight = 3
	LowWaterInFlight  = 1

	// DefaultMemoryCeilingBytes bounds bufferedBytes (inFlight * P) absent
	// an operator override; sized for a worker container with headroom
	// above the dominant part-buffer footprint.
	DefaultMemoryCeilingBytes = 4 * GiB
)

// Progress Publisher throttling (§4.E).
const (
	ProgressPercentStep  = 1
	ProgressByteStep     = 100 * MiB
	ErrorMessageMaxBytes = 1000
)

// DefaultRegion is used when no region is configured (§6.5).
const DefaultRegion = "us-east-1"

// SchedulerBackoffBase is the base of the Scheduler's 2s*2^n per-part
// retry backoff (§4.D). A var, not a const, so tests can shrink it
// rather than waiting out real multi-second sleeps.
var SchedulerBackoffBase = 2 * time.Second
