package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/rescale-labs/streamrelay/internal/models"
)

// HTTPStore writes progress records to a REST progress API:
// PUT {base}/transfers/{transferId}/progress with a JSON body. It is
// the env-selectable alternative to the DynamoDB backend for deployments
// whose progress record lives behind the submission API rather than in
// a table the worker can reach directly.
type HTTPStore struct {
	client  *retryablehttp.Client
	baseURL string
}

// retryLogger adapts zerolog to retryablehttp's LeveledLogger. Retry
// chatter lands at debug; only terminal client errors surface higher.
type retryLogger struct {
	log zerolog.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

// NewHTTPStore builds an HTTPStore for the given API base URL.
func NewHTTPStore(baseURL string, log zerolog.Logger) *HTTPStore {
	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.HTTPClient.Timeout = writeTimeout
	client.Logger = &retryLogger{log: log}

	return &HTTPStore{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// progressBody is the wire shape of one record.
type progressBody struct {
	TransferID       string     `json:"transferId"`
	BytesTransferred int64      `json:"bytesTransferred"`
	TotalBytes       int64      `json:"totalBytes"`
	Percentage       int        `json:"percentage"`
	Status           string     `json:"status"`
	StartTime        time.Time  `json:"startTime"`
	LastUpdateTime   time.Time  `json:"lastUpdateTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	Error            string     `json:"error,omitempty"`
	S3Location       string     `json:"s3Location,omitempty"`
}

func (s *HTTPStore) Write(ctx context.Context, record models.TransferProgress) error {
	body, err := json.Marshal(progressBody{
		TransferID:       record.TransferID,
		BytesTransferred: record.BytesTransferred,
		TotalBytes:       record.TotalBytes,
		Percentage:       record.Percentage,
		Status:           string(record.Status),
		StartTime:        record.StartTime,
		LastUpdateTime:   record.LastUpdateTime,
		EndTime:          record.EndTime,
		Error:            record.Error,
		S3Location:       record.S3Location,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/transfers/%s/progress", s.baseURL, record.TransferID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("progress API returned status %d", resp.StatusCode)
	}
	return nil
}
