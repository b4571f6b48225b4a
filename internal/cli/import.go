package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cytomig/cytomig/internal/converge"
	"github.com/cytomig/cytomig/internal/importer"
	"github.com/cytomig/cytomig/internal/journal"
	"github.com/cytomig/cytomig/internal/parallel"
	"github.com/cytomig/cytomig/internal/snapshot"
)

var importCmd = &cobra.Command{
	Use:   "import --from <snapshot>",
	Short: "Import a snapshot into the target instance",
	Long: `Replays a snapshot against the target instance: users and the ontology
are deduplicated against what the target already holds, everything else
is created fresh with rewritten identifiers. The snapshot can be a
directory, a .tar/.tar.gz archive, or an http(s) URL to one. The run
needs super-admin keys on the target because it impersonates the
original authors.`,
	RunE: runImport,
}

var importFlags struct {
	from              string
	uploadHost        string
	withOriginalDates bool
	workers           int
	uploadPause       time.Duration
	pollInterval      time.Duration
	pollAttempts      int
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importFlags.from, "from", "", "Snapshot directory, archive, or URL (required)")
	importCmd.MarkFlagRequired("from")
	importCmd.Flags().StringVar(&importFlags.uploadHost, "upload-host", "", "Image upload host (overrides CYTOMIG_UPLOAD_HOST)")
	importCmd.Flags().BoolVar(&importFlags.withOriginalDates, "with-original-dates", false, "Keep original creation dates instead of fresh ones")
	importCmd.Flags().IntVar(&importFlags.workers, "workers", parallel.DefaultWorkers, "Parallel annotation imports")
	importCmd.Flags().DurationVar(&importFlags.uploadPause, "upload-pause", 800*time.Millisecond, "Pause between image upload submissions")
	importCmd.Flags().DurationVar(&importFlags.pollInterval, "poll-interval", 5*time.Second, "Delay between image deployment polls")
	importCmd.Flags().IntVar(&importFlags.pollAttempts, "poll-attempts-per-image", 5, "Poll budget per expected image")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if importFlags.uploadHost != "" {
		cfg.UploadHost = importFlags.uploadHost
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()
	if cfg.UploadHost == "" {
		return fmt.Errorf("no upload host configured (set CYTOMIG_UPLOAD_HOST or use --upload-host)")
	}

	ctx := cmd.Context()
	dir, err := snapshot.Resolve(ctx, importFlags.from, log)
	if err != nil {
		return err
	}
	snap, err := snapshot.Load(dir)
	if err != nil {
		return err
	}
	if err := snap.Verify(); err != nil {
		return fmt.Errorf("snapshot %s: %w", dir, err)
	}

	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}

	jr, err := journal.Open(cfg.JournalPath, "import", dir)
	if err != nil {
		return err
	}
	defer jr.Close()

	imp := importer.New(client, snap, jr, log, importer.Options{
		UploadHost:        cfg.UploadHost,
		WithOriginalDates: importFlags.withOriginalDates,
		Workers:           importFlags.workers,
		UploadPause:       importFlags.uploadPause,
		Poller: converge.Poller{
			Interval:        importFlags.pollInterval,
			AttemptsPerItem: importFlags.pollAttempts,
			Log:             log,
		},
	})
	result, err := imp.Run(ctx)
	if err != nil {
		return err
	}
	if err := client.CloseAdminSession(ctx); err != nil {
		log.Warn("close admin session", zap.Error(err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported project %q (id %d): %d/%d images, %d annotations, %d skipped (%d warnings)\n",
		result.ProjectName, result.ProjectID,
		result.ImagesArrived, result.ImagesExpected,
		result.Annotations, result.Skipped, result.Warnings)
	return nil
}
