// Package cmd implements the gcpkit command line interface.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/internal/logkit"
	"github.com/gcpkit/gcpkit/internal/output"
)

var (
	flagProject   string
	flagLocation  string
	flagTimeout   time.Duration
	flagLogLevel  string
	flagLogFormat string
	flagEnvFile   string

	// settings is populated by PersistentPreRunE and read by every
	// subcommand.
	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:           "gcpkit",
	Short:         "Typed Google Cloud clients and a Firebase Hosting deploy pipeline",
	Long: `gcpkit wraps the Google Cloud services used by small teams behind
typed clients with uniform configuration and error handling. The CLI
surfaces the common operations: deploying to Firebase Hosting, moving
objects in Cloud Storage, reading secrets, publishing messages, and
submitting builds.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var (
			s   *config.Settings
			err error
		)
		if flagEnvFile != "" {
			s, err = config.LoadFrom(flagEnvFile)
		} else {
			s, err = config.Load()
		}
		if err != nil {
			// Flags may still supply what the environment lacks.
			if flagProject == "" {
				return err
			}
			s = config.New(flagProject)
		}

		if flagProject != "" {
			s.ProjectID = flagProject
		}
		if flagLocation != "" {
			s.Location = flagLocation
		}
		if flagTimeout > 0 {
			s.OperationTimeout = int(flagTimeout.Seconds())
		}
		if flagLogLevel != "" {
			s.LogLevel = flagLogLevel
		}
		if err := s.Validate(); err != nil {
			return err
		}

		logkit.Initialize(logkit.ParseLevel(s.LogLevel), logkit.Format(flagLogFormat))
		settings = s
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		output.Fatal("%v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProject, "project", "", "GCP project ID (overrides GCP_PROJECT_ID)")
	rootCmd.PersistentFlags().StringVar(&flagLocation, "location", "", "default region for regional resources")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 0, "per-operation timeout (e.g. 30s, 5m)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", string(logkit.FormatAuto), "log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "explicit .env file (skips upward discovery)")
}

// commandContext returns the context every subcommand should run under.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

var errUsage = fmt.Errorf("invalid arguments")
