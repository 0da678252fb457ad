package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gcpkit/gcpkit/cloudbuild"
	"github.com/gcpkit/gcpkit/internal/output"
	"github.com/gcpkit/gcpkit/storage"
)

var (
	buildConfigPath string
	buildSourceDir  string
	buildBucket     string
	buildNoWait     bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Cloud Build jobs",
}

var buildSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a build from a cloudbuild.yaml and a source directory",
	Long: `Reads the build definition from --config, zips --dir, stages the
archive in --bucket, and submits the build.`,
	Example: `  - gcpkit build submit --bucket my-build-staging
  - gcpkit build submit --config build/cloudbuild.yaml --dir ./svc --bucket my-build-staging --no-wait`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := commandContext(cmd)

		req, err := cloudbuild.LoadBuildFile(buildConfigPath)
		if err != nil {
			return err
		}

		buildClient, err := cloudbuild.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		storageClient, err := storage.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		defer storageClient.Close()

		output.Info("Submitting build from %s (%d steps)", buildSourceDir, len(req.Steps))
		spin := output.NewSpinner("Waiting for build to finish")
		if !buildNoWait {
			spin.Start()
		}
		build, err := buildClient.SubmitFromDirectory(ctx, storageClient,
			buildSourceDir, buildBucket, *req, !buildNoWait)
		if !buildNoWait {
			spin.Stop()
			output.Blank()
		}
		if err != nil {
			return err
		}

		if build.Terminal() && build.Status != cloudbuild.StatusSuccess {
			output.Error("Build %s finished with status %s", build.ID, build.Status)
			output.KeyValue("Logs", build.LogURL)
			return fmt.Errorf("build %s: %s", build.ID, build.Status)
		}

		output.Success("Build %s: %s", build.ID, build.Status)
		if build.LogURL != "" {
			output.KeyValue("Logs", build.LogURL)
		}
		return nil
	},
}

func init() {
	buildSubmitCmd.Flags().StringVar(&buildConfigPath, "config", "cloudbuild.yaml", "build definition file")
	buildSubmitCmd.Flags().StringVar(&buildSourceDir, "dir", ".", "source directory to upload")
	buildSubmitCmd.Flags().StringVar(&buildBucket, "bucket", "", "staging bucket for the zipped source (required)")
	buildSubmitCmd.Flags().BoolVar(&buildNoWait, "no-wait", false, "return once the build is queued")
	_ = buildSubmitCmd.MarkFlagRequired("bucket")
	buildCmd.AddCommand(buildSubmitCmd)
	rootCmd.AddCommand(buildCmd)
}
