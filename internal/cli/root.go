package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cytomig",
	Short: "Migrate Cytomine projects between server instances",
	Long: `cytomig exports a project's full entity graph (ontology, terms, users,
images, annotations, metadata) from one Cytomine instance into a
self-contained snapshot directory, and imports such a snapshot into
another instance, rewriting every identifier on the way.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("host", "", "Cytomine core host (overrides CYTOMIG_HOST)")
	rootCmd.PersistentFlags().String("public-key", "", "API public key (overrides CYTOMIG_PUBLIC_KEY)")
	rootCmd.PersistentFlags().String("private-key", "", "API private key (overrides CYTOMIG_PRIVATE_KEY)")
	rootCmd.PersistentFlags().String("working-path", "", "Directory for snapshots and downloads (overrides CYTOMIG_WORKING_PATH)")
	rootCmd.PersistentFlags().String("journal-path", "", "Run journal database path (overrides CYTOMIG_JOURNAL_PATH)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
}
