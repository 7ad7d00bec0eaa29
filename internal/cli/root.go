// Package cli provides the transfer worker's command-line surface: the
// binary the workflow orchestrator launches, with flags overriding the
// environment for local runs.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale-labs/streamrelay/internal/config"
	"github.com/rescale-labs/streamrelay/internal/coordinator"
	"github.com/rescale-labs/streamrelay/internal/httpx"
	"github.com/rescale-labs/streamrelay/internal/logging"
	"github.com/rescale-labs/streamrelay/internal/objectstore"
	"github.com/rescale-labs/streamrelay/internal/progress"
	"github.com/rescale-labs/streamrelay/internal/sourcereader"
)

var (
	flagTransferID  string
	flagSourceURL   string
	flagBucket      string
	flagKeyPrefix   string
	flagObjectKey   string
	flagRegion      string
	flagConcurrency string
	flagTable       string
	flagAPIURL      string

	verbose bool
	noBar   bool
)

// Version is injected by the build; the fallback marks a local build.
var Version = "v0.0.0-dev"

// NewRootCmd creates the worker's root command. The worker executes
// exactly one TransferJob per invocation and exits; long-lived behavior
// (retrying whole transfers, scheduling) belongs to the orchestrator
// that launches it.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "transferworker",
		Short: "Stream a large HTTPS artifact into an S3 bucket",
		Long: `transferworker ` + Version + ` - bulk file relay worker.

Streams a single artifact from an HTTPS source into an S3-compatible
bucket via multipart upload, without buffering the object to disk or
memory. Job input comes from the environment (TRANSFER_ID, SOURCE_URL,
BUCKET, KEY_PREFIX, ...); flags override it for local runs. The terminal
progress record is printed to stdout as JSON.`,
		SilenceUsage: true,
		RunE:         runTransfer,
	}

	f := rootCmd.Flags()
	f.StringVar(&flagTransferID, "transfer-id", "", "transfer identifier (default: TRANSFER_ID, or generated)")
	f.StringVar(&flagSourceURL, "source-url", "", "HTTPS source URL (default: SOURCE_URL)")
	f.StringVar(&flagBucket, "bucket", "", "destination bucket (default: BUCKET)")
	f.StringVar(&flagKeyPrefix, "key-prefix", "", "destination key prefix (default: KEY_PREFIX)")
	f.StringVar(&flagObjectKey, "object-key", "", "explicit destination key (default: KEY_PREFIX + source filename)")
	f.StringVar(&flagRegion, "region", "", "destination region (default: AWS_REGION, or us-east-1)")
	f.StringVar(&flagConcurrency, "concurrency", "", "max concurrent part uploads, 1-20 (default: MAX_CONCURRENT_UPLOADS, or 10)")
	f.StringVar(&flagTable, "progress-table", "", "DynamoDB progress table (default: PROGRESS_TABLE_NAME)")
	f.StringVar(&flagAPIURL, "progress-api", "", "HTTP progress API base URL (default: PROGRESS_API_URL)")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging (per-attempt retry detail)")
	f.BoolVar(&noBar, "no-progress-bar", false, "disable the local terminal progress bar")

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// applyFlagOverrides pushes set flags into the environment so
// config.Load sees a single source of truth.
func applyFlagOverrides() {
	overrides := map[string]string{
		"TRANSFER_ID":            flagTransferID,
		"SOURCE_URL":             flagSourceURL,
		"BUCKET":                 flagBucket,
		"KEY_PREFIX":             flagKeyPrefix,
		"OBJECT_KEY":             flagObjectKey,
		"AWS_REGION":             flagRegion,
		"MAX_CONCURRENT_UPLOADS": flagConcurrency,
		"PROGRESS_TABLE_NAME":    flagTable,
		"PROGRESS_API_URL":       flagAPIURL,
	}
	for name, value := range overrides {
		if value != "" {
			os.Setenv(name, value)
		}
	}
}

func runTransfer(cmd *cobra.Command, args []string) error {
	applyFlagOverrides()
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	bootLog := logging.New("")
	if os.Getenv("TRANSFER_ID") == "" {
		id := uuid.NewString()
		os.Setenv("TRANSFER_ID", id)
		bootLog.Warn().Str("transferId", id).Msg("no TRANSFER_ID supplied, generated one for this run")
	}

	cfg, err := config.Load(bootLog)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Job.TransferID)

	// SIGINT/SIGTERM is the orchestrator's (or a human's) cancellation
	// signal: the reader stops, in-flight parts drain, the upload is
	// aborted and the record marked cancelled.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := progress.NewStore(ctx, cfg.Job.Region, cfg.ProgressTableName, cfg.ProgressAPIURL, log)
	if err != nil {
		return err
	}
	publisher := progress.NewPublisher(store, cfg.Job.TransferID, log)

	client, err := objectstore.NewS3Client(ctx, cfg.Job.Region, log)
	if err != nil {
		return err
	}
	reader := sourcereader.New(httpx.NewSourceClient(), log)

	coord := coordinator.New(cfg.Job, client, reader, publisher, coordinator.Options{
		Concurrency: cfg.MaxConcurrentUploads,
		LocalUI:     !noBar,
	}, log)

	_, runErr := coord.Run(ctx)

	// The terminal record goes to stdout for whatever launched us;
	// logs stay on stderr.
	record, err := json.MarshalIndent(publisher.Snapshot(), "", "  ")
	if err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(record))
	}

	return runErr
}
