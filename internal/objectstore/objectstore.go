// Package objectstore is the Object-Store Client (§4.B): a strict, typed
// façade over the destination's S3-compatible multipart-upload protocol.
package objectstore

import "context"

// Client is the façade the Transfer Coordinator and Upload Scheduler
// consume. The real implementation wraps aws-sdk-go-v2/service/s3; a
// fake implementation (fake.go) backs the package's own tests and is
// reusable by callers higher up the stack for their own tests, mirroring
// kelindar/s3's in-memory mock multipart-upload server.
type Client interface {
	// ValidateBucket reports whether bucket is reachable and writable.
	// A missing bucket and an access-denied bucket are both classified
	// S3_ACCESS, with distinguishing detail text.
	ValidateBucket(ctx context.Context, bucket string) error

	// Initiate starts a multipart upload and returns its uploadId.
	Initiate(ctx context.Context, bucket, key string) (uploadID string, err error)

	// UploadPart uploads one part and returns its ETag. partNumber must
	// be in [1,10000]; len(data) must be in [5MiB,5GiB], except for the
	// final part of a transfer, which may be smaller.
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (etag string, err error)

	// Complete finishes the multipart upload. receipts must already be
	// sorted strictly ascending by PartNumber; an unsorted manifest is a
	// permanent S3_COMPLETE failure.
	Complete(ctx context.Context, bucket, key, uploadID string, receipts []Receipt) (location string, err error)

	// Abort is idempotent cleanup; it never returns an error to the
	// caller (failures are logged by the implementation), per §4.B.
	Abort(ctx context.Context, bucket, key, uploadID string)
}

// Receipt mirrors models.PartReceipt at the objectstore boundary so this
// package has no dependency on the models package's lifecycle semantics.
type Receipt struct {
	PartNumber int32
	ETag       string
}

var (
	_ Client = (*S3Client)(nil)
	_ Client = (*Fake)(nil)
)
