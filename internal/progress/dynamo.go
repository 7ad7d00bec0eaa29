package progress

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"

	"github.com/rescale-labs/streamrelay/internal/models"
)

// writeTimeout bounds a single progress-store write. Progress writes are
// off the hot path but still must not hang a terminal transition behind
// an unresponsive store.
const writeTimeout = 10 * time.Second

// dynamoItem is the table schema for one transfer's progress record,
// keyed by transferId.
type dynamoItem struct {
	TransferID       string  `dynamodbav:"transferId"`
	BytesTransferred int64   `dynamodbav:"bytesTransferred"`
	TotalBytes       int64   `dynamodbav:"totalBytes"`
	Percentage       int     `dynamodbav:"percentage"`
	Status           string  `dynamodbav:"status"`
	StartTime        string  `dynamodbav:"startTime"`
	LastUpdateTime   string  `dynamodbav:"lastUpdateTime"`
	EndTime          *string `dynamodbav:"endTime,omitempty"`
	Error            string  `dynamodbav:"error,omitempty"`
	S3Location       string  `dynamodbav:"s3Location,omitempty"`
}

// DynamoStore writes progress records as single-item puts to a DynamoDB
// table. One item per transferId; writes are idempotent by key, so a
// retried put is harmless.
type DynamoStore struct {
	api   *dynamodb.Client
	table string
	log   zerolog.Logger
}

// NewDynamoStore builds a DynamoStore for the given region and table
// using the default AWS credential chain.
func NewDynamoStore(ctx context.Context, region, table string, log zerolog.Logger) (*DynamoStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, models.NewTransferError(models.KindInternal, "loading AWS config for progress store", false, err)
	}
	return &DynamoStore{api: dynamodb.NewFromConfig(cfg), table: table, log: log}, nil
}

func (s *DynamoStore) Write(ctx context.Context, record models.TransferProgress) error {
	item := dynamoItem{
		TransferID:       record.TransferID,
		BytesTransferred: record.BytesTransferred,
		TotalBytes:       record.TotalBytes,
		Percentage:       record.Percentage,
		Status:           string(record.Status),
		StartTime:        record.StartTime.UTC().Format(time.RFC3339),
		LastUpdateTime:   record.LastUpdateTime.UTC().Format(time.RFC3339),
		Error:            record.Error,
		S3Location:       record.S3Location,
	}
	if record.EndTime != nil {
		end := record.EndTime.UTC().Format(time.RFC3339)
		item.EndTime = &end
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err = s.api.PutItem(cctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	return err
}
