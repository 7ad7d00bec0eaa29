// Package httpx adapts the reference transport tuning and error
// classification to this worker: NewSourceClient builds the Source
// Reader's long-lived streaming client, and ClassifyError decides
// whether a wire failure is worth retrying at all. The fixed retry
// counts and backoff bases live with their callers (the Object-Store
// Client's SDK config and the Upload Scheduler's per-part loop), not
// here.
package httpx

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rescale-labs/streamrelay/internal/models"
)

// ErrorType buckets wire failures by retry strategy.
type ErrorType int

const (
	// ErrorTypeSuccess indicates the operation succeeded.
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeCredential indicates authentication/authorization failure.
	ErrorTypeCredential
	// ErrorTypeNetwork indicates connection-level trouble (timeouts,
	// resets, refused connections).
	ErrorTypeNetwork
	// ErrorTypeRetryable indicates server-side trouble that clears on
	// its own (5xx, throttling).
	ErrorTypeRetryable
	// ErrorTypeFatal indicates client errors retrying cannot fix.
	ErrorTypeFatal
)

// ClassifyError determines the error type for retry strategy. The
// string matching covers what the S3 and source-fetch paths actually
// surface; type-based checks run first because they are more robust.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}

	// User cancellation is never worth a backoff delay.
	if errors.Is(err, context.Canceled) {
		return ErrorTypeFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())

	// Proxy authentication must be checked before generic network
	// matching, and cannot be fixed by retrying.
	if strings.Contains(errStr, "407") ||
		strings.Contains(errStr, "proxy authentication required") {
		return ErrorTypeFatal
	}

	if strings.Contains(errStr, "expired") ||
		strings.Contains(errStr, "expiredtoken") ||
		strings.Contains(errStr, "invalid token") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "access denied") {
		return ErrorTypeCredential
	}

	if strings.Contains(errStr, "tls handshake timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "server closed idle connection") ||
		strings.Contains(errStr, "stream error") ||
		strings.Contains(errStr, "http2: server sent goaway") {
		return ErrorTypeNetwork
	}

	if strings.Contains(errStr, "requesttimeout") ||
		strings.Contains(errStr, "internalerror") ||
		strings.Contains(errStr, "serviceunavailable") ||
		strings.Contains(errStr, "slowdown") ||
		strings.Contains(errStr, "throttl") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return ErrorTypeRetryable
	}

	if strings.Contains(errStr, "400") ||
		strings.Contains(errStr, "404") ||
		strings.Contains(errStr, "invalid") {
		return ErrorTypeFatal
	}

	// Unknown errors are fatal: an unexpected failure shape retried in a
	// loop hides bugs behind backoff delay.
	return ErrorTypeFatal
}

// Retryable reports whether err is worth another attempt. An error
// already classified at a component boundary keeps its verdict;
// everything else goes through ClassifyError. Credential errors count
// as retryable here because the SDK refreshes the credential chain
// between attempts.
func Retryable(err error) bool {
	var terr *models.TransferError
	if errors.As(err, &terr) {
		return terr.Retryable
	}
	switch ClassifyError(err) {
	case ErrorTypeNetwork, ErrorTypeRetryable, ErrorTypeCredential:
		return true
	default:
		return false
	}
}

// ErrorTypeName returns a human-readable name for an ErrorType, for
// log fields.
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeCredential:
		return "credential"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
