package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/rescale-labs/streamrelay/internal/models"
)

// Fake is an in-memory Client, grounded on kelindar/s3's mock
// multipart-upload server: it lets the Upload Scheduler and Transfer
// Coordinator's tests exercise the full §4.B contract (ordering
// validation, abort bookkeeping, per-part failure injection) without a
// network dependency.
type Fake struct {
	mu sync.Mutex

	ValidateBucketErr error
	InitiateErr       error
	CompleteErr       error

	// FailPartUntilAttempt, keyed by partNumber, makes UploadPart fail
	// on attempts < the given count (1-based) for that part, then
	// succeed. Used to simulate scenarios 4 and 5 of §8.
	FailPartUntilAttempt map[int32]int32
	partAttempts         map[int32]int32

	uploads    map[string]*fakeUpload
	AbortCount int
	nextID     int
}

type fakeUpload struct {
	bucket, key string
	parts       map[int32][]byte
	completed   bool
	aborted     bool
}

// NewFake returns a ready Fake.
func NewFake() *Fake {
	return &Fake{
		partAttempts: make(map[int32]int32),
		uploads:      make(map[string]*fakeUpload),
	}
}

func (f *Fake) ValidateBucket(ctx context.Context, bucket string) error {
	return f.ValidateBucketErr
}

func (f *Fake) Initiate(ctx context.Context, bucket, key string) (string, error) {
	if f.InitiateErr != nil {
		return "", f.InitiateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake-upload-%d", f.nextID)
	f.uploads[id] = &fakeUpload{bucket: bucket, key: key, parts: make(map[int32][]byte)}
	return id, nil
}

func (f *Fake) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error) {
	f.mu.Lock()
	f.partAttempts[partNumber]++
	attempt := f.partAttempts[partNumber]
	threshold, injected := f.FailPartUntilAttempt[partNumber]
	f.mu.Unlock()

	if injected && attempt < threshold {
		return "", models.NewTransferError(models.KindS3Part, fmt.Sprintf("injected failure attempt %d", attempt), true, nil)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	up, ok := f.uploads[uploadID]
	if !ok {
		return "", models.NewTransferError(models.KindS3Part, "unknown uploadId", false, nil)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	up.parts[partNumber] = cp

	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

func (f *Fake) Complete(ctx context.Context, bucket, key, uploadID string, receipts []Receipt) (string, error) {
	if f.CompleteErr != nil {
		return "", f.CompleteErr
	}
	if !sort.SliceIsSorted(receipts, func(i, j int) bool { return receipts[i].PartNumber < receipts[j].PartNumber }) {
		return "", models.NewTransferError(models.KindS3Complete, "receipts not sorted", false, nil)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	up, ok := f.uploads[uploadID]
	if !ok {
		return "", models.NewTransferError(models.KindS3Complete, "unknown uploadId", false, nil)
	}
	for _, r := range receipts {
		if _, ok := up.parts[r.PartNumber]; !ok {
			return "", models.NewTransferError(models.KindS3Complete, fmt.Sprintf("missing part %d", r.PartNumber), false, nil)
		}
	}
	up.completed = true
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

func (f *Fake) Abort(ctx context.Context, bucket, key, uploadID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AbortCount++
	if up, ok := f.uploads[uploadID]; ok {
		up.aborted = true
	}
}

// Object reassembles the bytes of a completed upload, ordered by part
// number, for test assertions against the source's MD5/length.
func (f *Fake) Object(uploadID string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	up, ok := f.uploads[uploadID]
	if !ok {
		return nil
	}
	nums := make([]int32, 0, len(up.parts))
	for n := range up.parts {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	var out []byte
	for _, n := range nums {
		out = append(out, up.parts[n]...)
	}
	return out
}
