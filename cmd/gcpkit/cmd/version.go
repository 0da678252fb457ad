package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gcpkit/gcpkit/internal/output"
	"github.com/gcpkit/gcpkit/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	// The root PersistentPreRunE requires a project; version does not.
	PersistentPreRun: func(_ *cobra.Command, _ []string) {},
	Run: func(_ *cobra.Command, _ []string) {
		output.Println(version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
