// Package config loads runtime configuration from the environment and the
// optional per-project settings file. Precedence is command-line flags, then
// environment variables, then the project file, then defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envDockerHost      = "CONVOY_DOCKER_HOST"
	envStopTimeout     = "CONVOY_STOP_TIMEOUT"
	envCallTimeout     = "CONVOY_CALL_TIMEOUT"
	envConcurrency     = "CONVOY_CONCURRENCY"
	envStateDir        = "CONVOY_STATE_DIR"
	envWebhookURL      = "CONVOY_WEBHOOK_URL"
	envSlackWebhookURL = "CONVOY_SLACK_WEBHOOK_URL"
	envMetricsAddr     = "CONVOY_METRICS_ADDR"
	envLogLevel        = "CONVOY_LOG_LEVEL"
)

const (
	defaultStopTimeout = 10 * time.Second
	defaultCallTimeout = 2 * time.Minute
	defaultConcurrency = 4
	defaultLogLevel    = "info"
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	DockerHost      string
	StopTimeout     time.Duration
	CallTimeout     time.Duration
	Concurrency     int
	StateDir        string
	WebhookURL      string
	SlackWebhookURL string
	MetricsAddr     string
	LogLevel        string
}

// Load reads configuration from environment variables and a local .env file
// if present. Existing environment variables take precedence over .env.
func Load() (Config, error) {
	return LoadWithProject(ProjectSettings{})
}

// LoadWithProject reads configuration with project settings as the base
// layer: defaults first, then the project file, then the environment.
func LoadWithProject(settings ProjectSettings) (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		StopTimeout: defaultStopTimeout,
		CallTimeout: defaultCallTimeout,
		Concurrency: defaultConcurrency,
		LogLevel:    defaultLogLevel,
	}
	if settings.StopTimeout > 0 {
		cfg.StopTimeout = settings.StopTimeout
	}
	if settings.Concurrency > 0 {
		cfg.Concurrency = settings.Concurrency
	}

	if value, ok := lookupTrimmed(envDockerHost); ok {
		cfg.DockerHost = value
	}

	if value, ok := lookupTrimmed(envStopTimeout); ok {
		timeout, err := parsePositiveDuration(value, envStopTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.StopTimeout = timeout
	}

	if value, ok := lookupTrimmed(envCallTimeout); ok {
		timeout, err := parsePositiveDuration(value, envCallTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.CallTimeout = timeout
	}

	if value, ok := lookupTrimmed(envConcurrency); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envConcurrency, err)
		}
		if n <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envConcurrency)
		}
		cfg.Concurrency = n
	}

	if value, ok := lookupTrimmed(envStateDir); ok {
		cfg.StateDir = value
	}

	if value, ok := lookupTrimmed(envWebhookURL); ok {
		if err := validateURL(value, envWebhookURL); err != nil {
			return Config{}, err
		}
		cfg.WebhookURL = value
	}

	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		if err := validateURL(value, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
		cfg.SlackWebhookURL = value
	}

	if value, ok := lookupTrimmed(envMetricsAddr); ok {
		cfg.MetricsAddr = value
	}

	if value, ok := lookupTrimmed(envLogLevel); ok {
		cfg.LogLevel = value
	}

	return cfg, nil
}

// StatePath resolves the state file location: an explicit state dir wins,
// otherwise the file lives under the user's home directory.
func (c Config) StatePath() (string, error) {
	dir := c.StateDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".convoy")
	}
	return filepath.Join(dir, "state.json"), nil
}

func parsePositiveDuration(value, name string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", name)
	}
	return d, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
