// Package config loads the worker's per-invocation job input and tunables
// from the process environment (§6.1/§6.5), following the reference
// system's tolerant os.Getenv-based convention rather than an INI file:
// this worker is a single-invocation process, not a long-lived service
// with reloadable config.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rescale-labs/streamrelay/internal/constants"
	"github.com/rescale-labs/streamrelay/internal/models"
)

// Config is the worker's fully-resolved configuration: one TransferJob
// plus the scheduler's concurrency cap and the progress store's table
// name.
type Config struct {
	Job                  models.TransferJob
	MaxConcurrentUploads int
	ProgressTableName    string
	ProgressAPIURL       string
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9!_.*'()/-]+$`)

// Load reads TRANSFER_ID, SOURCE_URL, BUCKET, KEY_PREFIX (or OBJECT_KEY),
// region, MAX_CONCURRENT_UPLOADS, and PROGRESS_TABLE_NAME from the
// process environment and returns a validated Config, or a
// models.TransferError classified CONFIG / INVALID_KEY.
func Load(log zerolog.Logger) (Config, error) {
	transferID := strings.TrimSpace(os.Getenv("TRANSFER_ID"))
	sourceURL := strings.TrimSpace(os.Getenv("SOURCE_URL"))
	bucket := strings.TrimSpace(os.Getenv("BUCKET"))

	if transferID == "" {
		return Config{}, models.NewTransferError(models.KindConfig, "TRANSFER_ID is required", false, nil)
	}
	if sourceURL == "" {
		return Config{}, models.NewTransferError(models.KindConfig, "SOURCE_URL is required", false, nil)
	}
	if bucket == "" {
		return Config{}, models.NewTransferError(models.KindConfig, "BUCKET is required", false, nil)
	}

	objectKey, err := resolveObjectKey(sourceURL)
	if err != nil {
		return Config{}, err
	}

	region := strings.TrimSpace(os.Getenv("AWS_REGION"))
	if region == "" {
		region = constants.DefaultRegion
	}

	concurrency := parseConcurrency(os.Getenv("MAX_CONCURRENT_UPLOADS"), log)

	table := strings.TrimSpace(os.Getenv("PROGRESS_TABLE_NAME"))
	apiURL := strings.TrimSpace(os.Getenv("PROGRESS_API_URL"))

	return Config{
		Job: models.TransferJob{
			TransferID: transferID,
			SourceURL:  sourceURL,
			Bucket:     bucket,
			ObjectKey:  objectKey,
			Region:     region,
		},
		MaxConcurrentUploads: concurrency,
		ProgressTableName:    table,
		ProgressAPIURL:       apiURL,
	}, nil
}

// resolveObjectKey implements §6.1's key construction: OBJECT_KEY wins if
// set; otherwise KEY_PREFIX + filename(sourceURL), validated against the
// allowed charset and length.
func resolveObjectKey(sourceURL string) (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("OBJECT_KEY")); explicit != "" {
		return validateKey(explicit)
	}

	prefix := strings.TrimRight(strings.TrimSpace(os.Getenv("KEY_PREFIX")), " \t")
	prefix = strings.TrimPrefix(prefix, "/")

	filename := filenameFromURL(sourceURL)

	var key string
	switch {
	case prefix == "":
		key = filename
	case strings.HasSuffix(prefix, "/"):
		key = prefix + filename
	default:
		key = prefix + "/" + filename
	}

	return validateKey(key)
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download.bin"
	}
	last := path.Base(u.Path)
	if last == "" || last == "." || last == "/" {
		return "download.bin"
	}
	decoded, err := url.PathUnescape(last)
	if err != nil || decoded == "" {
		return "download.bin"
	}
	return decoded
}

func validateKey(key string) (string, error) {
	if len(key) < 1 || len(key) > 1024 {
		return "", models.NewTransferError(models.KindInvalidKey,
			fmt.Sprintf("object key length %d out of range [1,1024]", len(key)), false, nil)
	}
	if !keyPattern.MatchString(key) {
		return "", models.NewTransferError(models.KindInvalidKey,
			fmt.Sprintf("object key %q contains disallowed characters", key), false, nil)
	}
	return key, nil
}

// parseConcurrency clamps to [MinConcurrency, MaxConcurrency]; an
// unparseable or out-of-range value falls back to the default with a
// warning log, per §4.D.
func parseConcurrency(raw string, log zerolog.Logger) int {
	if raw == "" {
		return constants.DefaultConcurrency
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("MAX_CONCURRENT_UPLOADS", raw).Msg("non-integer concurrency, using default")
		return constants.DefaultConcurrency
	}
	if n < constants.MinConcurrency || n > constants.MaxConcurrency {
		log.Warn().Int("value", n).Msg("concurrency out of range [1,20], using default")
		return constants.DefaultConcurrency
	}
	return n
}
