// Package models holds the data-model entities shared across the
// streaming transfer engine's components (§3 of the design).
package models

import "time"

// TransferJob is the immutable input to the core. It is created by the
// submission collaborator, consumed once, and never mutated.
type TransferJob struct {
	TransferID string
	SourceURL  string
	Bucket     string
	ObjectKey  string
	Region     string
}

// PartReceipt is emitted by the Object-Store Client on successful part
// upload and retained until the manifest is submitted to complete.
type PartReceipt struct {
	PartNumber int32
	ETag       string
}

// Status is a TransferProgress lifecycle state. Transitions form a DAG:
// Pending -> Starting -> InProgress -> {Completed, Failed, Cancelled}.
// No transition leaves a terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusStarting   Status = "starting"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is one of the states no transition leaves.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TransferProgress is the externally observable record for one transfer.
// totalBytes, once written positive, is never overwritten with 0;
// bytesTransferred is monotonically non-decreasing for a given TransferID.
type TransferProgress struct {
	TransferID       string     `json:"transferId"`
	BytesTransferred int64      `json:"bytesTransferred"`
	TotalBytes       int64      `json:"totalBytes"`
	Percentage       int        `json:"percentage"`
	Status           Status     `json:"status"`
	StartTime        time.Time  `json:"startTime"`
	LastUpdateTime   time.Time  `json:"lastUpdateTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	Error            string     `json:"error,omitempty"`
	S3Location       string     `json:"s3Location,omitempty"`
}

// Percentage computes floor(100*bytesTransferred/totalBytes) capped at
// 100, per §3. Returns 0 when totalBytes is unknown or non-positive.
func Percentage(bytesTransferred, totalBytes int64) int {
	if totalBytes <= 0 {
		return 0
	}
	pct := int(100 * bytesTransferred / totalBytes)
	if pct > 100 {
		pct = 100
	}
	return pct
}
