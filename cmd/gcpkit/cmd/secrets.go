package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gcpkit/gcpkit/gcperr"
	"github.com/gcpkit/gcpkit/internal/output"
	"github.com/gcpkit/gcpkit/secretmanager"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Secret Manager secrets",
}

var secretsGetCmd = &cobra.Command{
	Use:     "get <name>",
	Short:   "Print the latest version of a secret",
	Example: `  - gcpkit secrets get db-password`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		client, err := secretmanager.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		value, err := client.AccessSecretVersion(ctx, args[0], "latest")
		if err != nil {
			return err
		}
		// Raw value on stdout so it can be piped.
		output.Println(value)
		return nil
	},
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Set a secret, creating it if needed",
	Long:  `Adds a new version holding <value>, creating the secret first if it does not exist.`,
	Example: `  - gcpkit secrets set db-password "s3cret"
  - gcpkit secrets set api-key "$(cat key.txt)"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		name, value := args[0], args[1]

		client, err := secretmanager.NewClient(ctx, settings)
		if err != nil {
			return err
		}

		if _, err := client.GetSecret(ctx, name); err != nil {
			if !gcperr.IsNotFound(err) {
				return err
			}
			if _, err := client.CreateSecret(ctx, name, nil); err != nil {
				return err
			}
			output.Info("Created secret %s", output.Bold(name))
		}

		version, err := client.AddSecretVersion(ctx, name, []byte(value))
		if err != nil {
			return err
		}
		output.Success("Set %s (version %s)", name, version.Version)
		return nil
	},
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the project's secrets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := commandContext(cmd)
		client, err := secretmanager.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		secrets, err := client.ListSecrets(ctx)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(secrets))
		for _, s := range secrets {
			rows = append(rows, []string{s.Name, fmtTime(s.CreateTime)})
		}
		output.Table([]string{"SECRET", "CREATED"}, rows)
		return nil
	},
}

func init() {
	secretsCmd.AddCommand(secretsGetCmd)
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsListCmd)
	rootCmd.AddCommand(secretsCmd)
}
