package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gcpkit/gcpkit/hosting"
	"github.com/gcpkit/gcpkit/internal/output"
)

var (
	hostingDeploySite       string
	hostingDeployMessage    string
	hostingSitesDeleteForce bool
)

var hostingCmd = &cobra.Command{
	Use:   "hosting",
	Short: "Firebase Hosting sites and deploys",
}

var hostingDeployCmd = &cobra.Command{
	Use:   "deploy <dir>",
	Short: "Deploy a directory to a hosting site",
	Long: `Hashes every file under <dir>, uploads only the content the site does
not already have, and releases the new version.`,
	Example: `  - gcpkit hosting deploy ./public --site my-app
  - gcpkit hosting deploy ./dist --site my-app --message "v1.4.0"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)

		siteID := hostingDeploySite
		if siteID == "" {
			siteID = settings.FirebaseHostingDefaultSite
		}

		client, err := hosting.NewClient(ctx, settings)
		if err != nil {
			return err
		}

		files, err := hosting.CollectFiles(args[0])
		if err != nil {
			return err
		}
		output.Header("Deploying to Firebase Hosting")
		output.Info("Deploying %d files to site %s", len(files), output.Bold(siteID))

		var opts []hosting.DeployOption
		if hostingDeployMessage != "" {
			opts = append(opts, hosting.WithMessage(hostingDeployMessage))
		}
		result, err := client.Deploy(ctx, siteID, files, opts...)
		if err != nil {
			return err
		}

		output.Success("Deployed %d files (%d uploaded, %d already cached)",
			result.TotalFiles, result.UploadedFiles, result.CachedFiles)
		output.KeyValue("Site URL", result.SiteURL)
		output.KeyValue("Version", result.VersionName)
		return nil
	},
}

var hostingSitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage hosting sites",
}

var hostingSitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the project's hosting sites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := commandContext(cmd)
		client, err := hosting.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		sites, err := client.ListSites(ctx)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(sites))
		for _, s := range sites {
			rows = append(rows, []string{s.SiteID, s.Type, s.DefaultURL})
		}
		output.Table([]string{"SITE", "TYPE", "URL"}, rows)
		return nil
	},
}

var hostingSitesCreateCmd = &cobra.Command{
	Use:   "create <site-id>",
	Short: "Create a hosting site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		client, err := hosting.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		site, err := client.CreateSite(ctx, args[0], "")
		if err != nil {
			return err
		}
		output.Success("Created site %s", output.Bold(site.SiteID))
		output.KeyValue("URL", site.DefaultURL)
		return nil
	},
}

var hostingSitesDeleteCmd = &cobra.Command{
	Use:   "delete <site-id>",
	Short: "Delete a hosting site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		if !hostingSitesDeleteForce && !output.Confirm("Delete site "+args[0]+" and all its releases?") {
			output.Info("Aborted")
			return nil
		}
		client, err := hosting.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		if err := client.DeleteSite(ctx, args[0]); err != nil {
			return err
		}
		output.Success("Deleted site %s", args[0])
		return nil
	},
}

func init() {
	hostingDeployCmd.Flags().StringVar(&hostingDeploySite, "site", "", "hosting site ID (defaults to GCP_FIREBASE_HOSTING_DEFAULT_SITE)")
	hostingDeployCmd.Flags().StringVar(&hostingDeployMessage, "message", "", "release message")
	hostingCmd.AddCommand(hostingDeployCmd)

	hostingSitesDeleteCmd.Flags().BoolVar(&hostingSitesDeleteForce, "force", false, "delete without confirmation")
	hostingSitesCmd.AddCommand(hostingSitesListCmd)
	hostingSitesCmd.AddCommand(hostingSitesCreateCmd)
	hostingSitesCmd.AddCommand(hostingSitesDeleteCmd)
	hostingCmd.AddCommand(hostingSitesCmd)

	rootCmd.AddCommand(hostingCmd)
}
