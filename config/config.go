// Package config manages settings for gcpkit clients.
// It uses Viper for unified loading from environment variables and an
// optional .env file, with go-playground/validator enforcing the
// constraints every client relies on. There is no process-wide
// singleton: Load returns a fresh *Settings and every client
// constructor receives one explicitly.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gcpkit/gcpkit/gcperr"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"google.golang.org/api/option"
)

const (
	// EnvPrefix is the prefix of every environment variable read by Load.
	EnvPrefix = "GCP"

	defaultLocation           = "us-central1"
	defaultFirestoreDatabase  = "(default)"
	defaultBigQueryLocation   = "US"
	defaultCloudBuildRegion   = "global"
	defaultSchedulerTimezone  = "America/Los_Angeles"
	defaultOperationTimeout   = 300
	defaultLogLevel           = "INFO"
	minOperationTimeoutSec    = 1
	maxOperationTimeoutSec    = 3600
)

// Settings holds every knob shared by the service clients. Fields map
// 1:1 to GCP_* environment variables (e.g. ProjectID <- GCP_PROJECT_ID).
type Settings struct {
	// ProjectID is the target project. Required.
	ProjectID string `mapstructure:"project_id" validate:"required,project_id"`
	// Location is the default region for regional resources.
	Location string `mapstructure:"location"`
	// CredentialsPath optionally points at a service account JSON file.
	// When empty, application default credentials are used.
	CredentialsPath string `mapstructure:"credentials_path"`
	// OperationTimeout bounds each individual API call, in seconds.
	OperationTimeout int `mapstructure:"operation_timeout" validate:"min=1,max=3600"`

	FirestoreDatabase          string `mapstructure:"firestore_database"`
	BigQueryLocation           string `mapstructure:"bigquery_location"`
	CloudBuildRegion           string `mapstructure:"cloud_build_region"`
	CloudSchedulerTimezone     string `mapstructure:"cloud_scheduler_timezone"`
	PubsubTopicPrefix          string `mapstructure:"pubsub_topic_prefix"`
	FirebaseHostingDefaultSite string `mapstructure:"firebase_hosting_default_site"`

	// EnableRequestLogging emits one debug log line per API call.
	EnableRequestLogging bool `mapstructure:"enable_request_logging"`
	// LogLevel is the slog level name used by the CLI ("DEBUG", "INFO", ...).
	LogLevel string `mapstructure:"log_level"`
}

var (
	validate         = validator.New()
	projectIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)
)

func init() {
	_ = validate.RegisterValidation("project_id", func(fl validator.FieldLevel) bool {
		return projectIDPattern.MatchString(fl.Field().String())
	})
}

// New returns Settings for projectID with every other field at its
// default. Handy for tests and for callers that configure in code.
func New(projectID string) *Settings {
	return &Settings{
		ProjectID:              projectID,
		Location:               defaultLocation,
		OperationTimeout:       defaultOperationTimeout,
		FirestoreDatabase:      defaultFirestoreDatabase,
		BigQueryLocation:       defaultBigQueryLocation,
		CloudBuildRegion:       defaultCloudBuildRegion,
		CloudSchedulerTimezone: defaultSchedulerTimezone,
		LogLevel:               defaultLogLevel,
	}
}

// Load builds Settings from GCP_* environment variables, layered over a
// .env file discovered by walking upward from the working directory.
// Environment variables win over .env values, which win over defaults.
func Load() (*Settings, error) {
	return LoadFrom(DiscoverEnvFile())
}

// LoadFrom is Load with an explicit .env path. An empty path skips the
// file layer entirely.
func LoadFrom(envFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if envFile != "" {
		if err := mergeEnvFile(v, envFile); err != nil {
			return nil, gcperr.Configuration(fmt.Sprintf("failed to read env file %s", envFile), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, gcperr.Configuration("failed to unmarshal settings", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings against the constraints the clients
// assume. It is called by Load and should also be called by code that
// builds Settings directly.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return gcperr.Configuration(describeValidationError(err), err)
	}

	if s.CredentialsPath != "" {
		info, err := os.Stat(s.CredentialsPath)
		if err != nil {
			return gcperr.Configuration(
				fmt.Sprintf("credentials file not found: %s", s.CredentialsPath), err)
		}
		if !info.Mode().IsRegular() {
			return gcperr.Configuration(
				fmt.Sprintf("credentials path is not a regular file: %s", s.CredentialsPath), nil)
		}
	}
	return nil
}

// ClientOptions returns the option set every client constructor passes
// to its underlying Google client.
func (s *Settings) ClientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if s.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(s.CredentialsPath))
	}
	return opts
}

// Timeout returns OperationTimeout as a duration.
func (s *Settings) Timeout() time.Duration {
	if s.OperationTimeout <= 0 {
		return defaultOperationTimeout * time.Second
	}
	return time.Duration(s.OperationTimeout) * time.Second
}

// OperationContext derives the per-call context used around every API
// call.
func (s *Settings) OperationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.Timeout())
}

// GetLogLevel parses LogLevel into a slog.Level, defaulting to INFO.
func (s *Settings) GetLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// DiscoverEnvFile walks upward from the working directory looking for a
// .env file, stopping at the first directory that carries a project
// marker (go.mod or .git) or at the filesystem root. Returns "" when no
// .env exists along the walk.
func DiscoverEnvFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if info, statErr := os.Stat(candidate); statErr == nil && info.Mode().IsRegular() {
			return candidate
		}
		if isProjectRoot(dir) {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	for _, marker := range []string{"go.mod", ".git"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("location", defaultLocation)
	v.SetDefault("operation_timeout", defaultOperationTimeout)
	v.SetDefault("firestore_database", defaultFirestoreDatabase)
	v.SetDefault("bigquery_location", defaultBigQueryLocation)
	v.SetDefault("cloud_build_region", defaultCloudBuildRegion)
	v.SetDefault("cloud_scheduler_timezone", defaultSchedulerTimezone)
	v.SetDefault("pubsub_topic_prefix", "")
	v.SetDefault("firebase_hosting_default_site", "")
	v.SetDefault("enable_request_logging", false)
	v.SetDefault("log_level", defaultLogLevel)
}

// mergeEnvFile layers a dotenv file under the environment. Keys in the
// file carry the GCP_ prefix ("GCP_PROJECT_ID=..."); they are mapped to
// config keys and applied as defaults so real environment variables
// still take precedence.
func mergeEnvFile(v *viper.Viper, path string) error {
	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("env")
	if err := file.ReadInConfig(); err != nil {
		return err
	}
	prefix := strings.ToLower(EnvPrefix) + "_"
	for _, key := range file.AllKeys() {
		if strings.HasPrefix(key, prefix) {
			v.SetDefault(strings.TrimPrefix(key, prefix), file.Get(key))
		}
	}
	return nil
}

func bindEnvVars(v *viper.Viper) {
	envVars := []string{
		"PROJECT_ID",
		"LOCATION",
		"CREDENTIALS_PATH",
		"OPERATION_TIMEOUT",
		"FIRESTORE_DATABASE",
		"BIGQUERY_LOCATION",
		"CLOUD_BUILD_REGION",
		"CLOUD_SCHEDULER_TIMEZONE",
		"PUBSUB_TOPIC_PREFIX",
		"FIREBASE_HOSTING_DEFAULT_SITE",
		"ENABLE_REQUEST_LOGGING",
		"LOG_LEVEL",
	}
	for _, envVar := range envVars {
		_ = v.BindEnv(strings.ToLower(envVar), EnvPrefix+"_"+envVar)
	}
}

func describeValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch {
		case fe.Field() == "ProjectID" && fe.Tag() == "required":
			return "project_id is required"
		case fe.Field() == "ProjectID":
			return "project_id must contain only lowercase letters, digits, and hyphens"
		case fe.Field() == "OperationTimeout":
			return fmt.Sprintf("operation_timeout must be between %d and %d seconds",
				minOperationTimeoutSec, maxOperationTimeoutSec)
		default:
			return fmt.Sprintf("invalid setting %s", fe.Field())
		}
	}
	return "settings validation failed"
}
