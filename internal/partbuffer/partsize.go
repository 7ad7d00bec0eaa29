// Package partbuffer implements the Part Buffer component (§4.C): it
// chooses the adaptive part size for a transfer and slices the inbound
// byte stream into part-sized chunks using a single pre-allocated
// buffer per in-flight part.
package partbuffer

import (
	"fmt"

	"github.com/rescale-labs/streamrelay/internal/constants"
	"github.com/rescale-labs/streamrelay/internal/models"
)

// PartSize chooses P once for a transfer given its total size, per the
// adaptive-sizing table of §4.C, then enforces the [5MiB,5GiB] bounds
// and the <=10000-part constraint, doubling P as needed. A file so
// large that even P=5GiB would exceed 10000 parts fails with CONFIG.
//
// totalBytes < 0 means unknown, which selects the small-file tier.
func PartSize(totalBytes int64) (int64, error) {
	var p int64
	switch {
	case totalBytes < 0 || totalBytes < constants.SmallFileThreshold:
		p = constants.SmallFilePartSize
	case totalBytes < constants.LargeFileThreshold:
		p = constants.MediumFilePartSize
	default:
		p = constants.LargeFilePartSize
	}

	if p < constants.MinPartSize {
		p = constants.MinPartSize
	}
	if p > constants.MaxPartSize {
		p = constants.MaxPartSize
	}

	if totalBytes <= 0 {
		return p, nil
	}

	for partCount(totalBytes, p) > constants.MaxPartCount {
		if p >= constants.MaxPartSize {
			return 0, models.NewTransferError(models.KindConfig,
				fmt.Sprintf("file of %d bytes needs more than %d parts even at max part size", totalBytes, constants.MaxPartCount),
				false, nil)
		}
		p *= 2
		if p > constants.MaxPartSize {
			p = constants.MaxPartSize
		}
	}

	return p, nil
}

func partCount(totalBytes, partSize int64) int64 {
	return (totalBytes + partSize - 1) / partSize
}
