package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cytomig/cytomig/internal/exporter"
	"github.com/cytomig/cytomig/internal/journal"
	"github.com/cytomig/cytomig/internal/parallel"
	"github.com/cytomig/cytomig/internal/snapshot"
)

var exportCmd = &cobra.Command{
	Use:   "export <project-id>",
	Short: "Export a project graph into a snapshot directory",
	Long: `Walks the project's entity graph on the source instance in dependency
order and writes one JSON document per entity plus the raw image and
attachment bytes under the working path. The run needs keys of a user
allowed to read the whole project.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var exportFlags struct {
	withImages             bool
	withImageGroups        bool
	withAnnotations        bool
	withMetadata           bool
	withAnnotationMetadata bool
	anonymize              bool
	noArchive              bool
	workers                int
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().BoolVar(&exportFlags.withImages, "with-images", true, "Download original image files")
	exportCmd.Flags().BoolVar(&exportFlags.withImageGroups, "with-image-groups", false, "Export image groups and their archives")
	exportCmd.Flags().BoolVar(&exportFlags.withAnnotations, "with-annotations", true, "Export user annotations")
	exportCmd.Flags().BoolVar(&exportFlags.withMetadata, "with-metadata", true, "Export properties, attached files, and descriptions")
	exportCmd.Flags().BoolVar(&exportFlags.withAnnotationMetadata, "with-annotation-metadata", false, "Also export per-annotation metadata")
	exportCmd.Flags().BoolVar(&exportFlags.anonymize, "anonymize", false, "Replace user identities with ordinals in the snapshot")
	exportCmd.Flags().BoolVar(&exportFlags.noArchive, "no-archive", false, "Keep the snapshot as a directory instead of packing a .tar.gz")
	exportCmd.Flags().IntVar(&exportFlags.workers, "workers", parallel.DefaultWorkers, "Parallel downloads and metadata fetches")
}

func runExport(cmd *cobra.Command, args []string) error {
	projectID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid project id %q", args[0])
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}

	jr, err := journal.Open(cfg.JournalPath, "export", fmt.Sprintf("%s project %d", cfg.Host, projectID))
	if err != nil {
		return err
	}
	defer jr.Close()

	exp := exporter.New(client, jr, log, exporter.Options{
		ProjectID:   projectID,
		WorkingPath: cfg.WorkingPath,

		WithImages:             exportFlags.withImages,
		WithImageGroups:        exportFlags.withImageGroups,
		WithUserAnnotations:    exportFlags.withAnnotations,
		WithMetadata:           exportFlags.withMetadata,
		WithAnnotationMetadata: exportFlags.withAnnotationMetadata,
		Anonymize:              exportFlags.anonymize,

		Workers: exportFlags.workers,
	})
	result, err := exp.Run(cmd.Context())
	if err != nil {
		return err
	}

	out := result.Dir
	if !exportFlags.noArchive {
		out, err = snapshot.MakeArchive(result.Dir)
		if err != nil {
			return err
		}
		log.Info("snapshot archived", zap.String("archive", out))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "exported %d users, %d terms, %d images, %d annotations (%d warnings)\n",
		result.Users, result.Terms, result.Images, result.Annotations, result.Warnings)
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
