package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gcpkit/gcpkit/cloudrun"
	"github.com/gcpkit/gcpkit/gcperr"
	"github.com/gcpkit/gcpkit/internal/output"
)

var (
	runDeployImage       string
	runDeployEnvVars     map[string]string
	runDeployAllowUnauth bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Cloud Run services",
}

var runServicesCmd = &cobra.Command{
	Use:   "services",
	Short: "Inspect Cloud Run services",
}

var runServicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the services in the configured region",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := commandContext(cmd)
		client, err := cloudrun.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		services, err := client.ListServices(ctx)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(services))
		for _, s := range services {
			rows = append(rows, []string{s.Name, s.Image, s.URL, fmtTime(s.UpdateTime)})
		}
		output.Table([]string{"SERVICE", "IMAGE", "URL", "UPDATED"}, rows)
		return nil
	},
}

var runDeployCmd = &cobra.Command{
	Use:   "deploy <name> --image <image>",
	Short: "Create or update a service from a container image",
	Example: `  - gcpkit run deploy api --image us-central1-docker.pkg.dev/p/containers/api:v1
  - gcpkit run deploy api --image gcr.io/p/api --env LOG_LEVEL=debug --allow-unauthenticated`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		name := args[0]

		client, err := cloudrun.NewClient(ctx, settings)
		if err != nil {
			return err
		}

		spec := cloudrun.ServiceSpec{
			Image:                runDeployImage,
			EnvVars:              runDeployEnvVars,
			AllowUnauthenticated: runDeployAllowUnauth,
		}

		var service *cloudrun.ServiceInfo
		if _, err := client.GetService(ctx, name); err != nil {
			if !gcperr.IsNotFound(err) {
				return err
			}
			output.Info("Creating service %s", output.Bold(name))
			service, err = client.CreateService(ctx, name, spec)
			if err != nil {
				return err
			}
		} else {
			output.Info("Updating service %s", output.Bold(name))
			service, err = client.UpdateService(ctx, name, spec)
			if err != nil {
				return err
			}
		}

		output.Success("Deployed %s (revision %s)", service.Name, service.LatestRevision)
		output.KeyValueBold("URL", service.URL)
		return nil
	},
}

func init() {
	runServicesCmd.AddCommand(runServicesListCmd)
	runCmd.AddCommand(runServicesCmd)

	runDeployCmd.Flags().StringVar(&runDeployImage, "image", "", "container image to deploy (required)")
	runDeployCmd.Flags().StringToStringVar(&runDeployEnvVars, "env", nil, "environment variables (KEY=VALUE, repeatable)")
	runDeployCmd.Flags().BoolVar(&runDeployAllowUnauth, "allow-unauthenticated", false, "grant public invoke access")
	_ = runDeployCmd.MarkFlagRequired("image")
	runCmd.AddCommand(runDeployCmd)

	rootCmd.AddCommand(runCmd)
}
