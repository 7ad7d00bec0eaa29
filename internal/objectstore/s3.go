package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog"

	"github.com/rescale-labs/streamrelay/internal/constants"
	"github.com/rescale-labs/streamrelay/internal/httpx"
	"github.com/rescale-labs/streamrelay/internal/models"
)

// S3Client is the real Client implementation, wrapping
// aws-sdk-go-v2/service/s3, adapted from the reference system's
// internal/cloud/upload/s3.go NewS3Uploader/uploadMultipart shape, with
// the resume-state and encryption-streaming concerns stripped (this core
// has no resume Non-goal to serve, §1).
type S3Client struct {
	api *s3.Client
	log zerolog.Logger
}

// NewS3Client builds an S3Client for region using the default AWS
// credential chain, and configures up to constants.S3MaxSDKRetries
// SDK-layer retries with the provider's standard exponential backoff
// (§4.B).
func NewS3Client(ctx context.Context, region string, log zerolog.Logger) (*S3Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
		awsconfig.WithRetryMaxAttempts(constants.S3MaxSDKRetries),
	)
	if err != nil {
		return nil, models.NewTransferError(models.KindInternal, "loading AWS config", false, err)
	}

	api := s3.NewFromConfig(cfg)
	return &S3Client{api: api, log: log}, nil
}

func callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, constants.S3CallTimeout)
}

// ValidateBucket issues a HeadBucket call, distinguishing a missing
// bucket from an access-denied one in the returned error's detail.
func (c *S3Client) ValidateBucket(ctx context.Context, bucket string) error {
	cctx, cancel := callCtx(ctx)
	defer cancel()

	_, err := c.api.HeadBucket(cctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}

	detail := "bucket unreachable"
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 404:
			detail = fmt.Sprintf("bucket %q does not exist", bucket)
		case 403:
			detail = fmt.Sprintf("access denied to bucket %q", bucket)
		}
	}
	return models.NewTransferError(models.KindS3Access, detail, false, err)
}

// Initiate starts a multipart upload.
func (c *S3Client) Initiate(ctx context.Context, bucket, key string) (string, error) {
	cctx, cancel := callCtx(ctx)
	defer cancel()

	out, err := c.api.CreateMultipartUpload(cctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", models.NewTransferError(models.KindS3Init, err.Error(), httpx.Retryable(err), err)
	}
	return aws.ToString(out.UploadId), nil
}

// UploadPart uploads a single part and returns its ETag.
func (c *S3Client) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error) {
	cctx, cancel := callCtx(ctx)
	defer cancel()

	out, err := c.api.UploadPart(cctx, &s3.UploadPartInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return "", models.NewTransferError(models.KindS3Part,
			fmt.Sprintf("part %d: %v", partNumber, err), httpx.Retryable(err), err)
	}
	return aws.ToString(out.ETag), nil
}

// Complete finishes the multipart upload. receipts must already be
// sorted ascending by PartNumber; Complete re-validates that invariant
// and fails permanently (non-retryable) if it doesn't hold, matching
// §4.B's "complete rejects unsorted manifests".
func (c *S3Client) Complete(ctx context.Context, bucket, key, uploadID string, receipts []Receipt) (string, error) {
	if !sort.SliceIsSorted(receipts, func(i, j int) bool { return receipts[i].PartNumber < receipts[j].PartNumber }) {
		return "", models.NewTransferError(models.KindS3Complete, "receipts not sorted ascending by partNumber", false, nil)
	}

	parts := make([]types.CompletedPart, len(receipts))
	for i, r := range receipts {
		parts[i] = types.CompletedPart{
			PartNumber: aws.Int32(r.PartNumber),
			ETag:       aws.String(r.ETag),
		}
	}

	cctx, cancel := callCtx(ctx)
	defer cancel()

	out, err := c.api.CompleteMultipartUpload(cctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		return "", models.NewTransferError(models.KindS3Complete, err.Error(), false, err)
	}
	return aws.ToString(out.Location), nil
}

// Abort is idempotent cleanup; it never returns an error. Failures are
// logged (they're a cost leak but not one that should mask the original
// failure that triggered the abort).
func (c *S3Client) Abort(ctx context.Context, bucket, key, uploadID string) {
	cctx, cancel := context.WithTimeout(context.Background(), constants.S3CallTimeout)
	defer cancel()
	_ = ctx

	_, err := c.api.AbortMultipartUpload(cctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		c.log.Error().Err(err).Str("uploadId", uploadID).Msg("abort multipart upload failed")
	}
}
