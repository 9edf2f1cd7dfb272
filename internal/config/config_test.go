package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidationAndDefaults(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		want    Config
	}{
		{
			name: "defaults applied",
			env:  map[string]string{},
			want: Config{
				StopTimeout: defaultStopTimeout,
				CallTimeout: defaultCallTimeout,
				Concurrency: defaultConcurrency,
				LogLevel:    defaultLogLevel,
			},
		},
		{
			name: "invalid stop timeout",
			env: map[string]string{
				envStopTimeout: "nope",
			},
			wantErr: true,
		},
		{
			name: "zero stop timeout",
			env: map[string]string{
				envStopTimeout: "0s",
			},
			wantErr: true,
		},
		{
			name: "negative call timeout",
			env: map[string]string{
				envCallTimeout: "-5s",
			},
			wantErr: true,
		},
		{
			name: "invalid concurrency",
			env: map[string]string{
				envConcurrency: "many",
			},
			wantErr: true,
		},
		{
			name: "zero concurrency",
			env: map[string]string{
				envConcurrency: "0",
			},
			wantErr: true,
		},
		{
			name: "invalid webhook url",
			env: map[string]string{
				envWebhookURL: "not-a-url",
			},
			wantErr: true,
		},
		{
			name: "invalid slack webhook url",
			env: map[string]string{
				envSlackWebhookURL: "not-a-url",
			},
			wantErr: true,
		},
		{
			name: "full custom environment",
			env: map[string]string{
				envDockerHost:      "unix:///run/docker.sock",
				envStopTimeout:     "20s",
				envCallTimeout:     "90s",
				envConcurrency:     "8",
				envStateDir:        "/var/lib/convoy",
				envWebhookURL:      "https://ops.example.com/hook",
				envSlackWebhookURL: "https://hooks.slack.com/services/T00/B00/XXX",
				envMetricsAddr:     ":9443",
				envLogLevel:        "debug",
			},
			want: Config{
				DockerHost:      "unix:///run/docker.sock",
				StopTimeout:     20 * time.Second,
				CallTimeout:     90 * time.Second,
				Concurrency:     8,
				StateDir:        "/var/lib/convoy",
				WebhookURL:      "https://ops.example.com/hook",
				SlackWebhookURL: "https://hooks.slack.com/services/T00/B00/XXX",
				MetricsAddr:     ":9443",
				LogLevel:        "debug",
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			restoreDir := mustChdir(t, tmpDir)
			defer restoreDir()

			for key, value := range tc.env {
				t.Setenv(key, value)
			}

			got, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got config %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected config: %+v", got)
			}
		})
	}
}

func TestLoad_DotEnvAndEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	restoreDir := mustChdir(t, tmpDir)
	defer restoreDir()

	dotenv := []byte(`
# example .env
CONVOY_DOCKER_HOST=tcp://dotenv:2375
CONVOY_STOP_TIMEOUT=25s
CONVOY_SLACK_WEBHOOK_URL=https://hooks.slack.com/services/test
`)

	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), dotenv, 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv(envDockerHost, "tcp://env:2375")

	got, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.DockerHost != "tcp://env:2375" {
		t.Fatalf("docker host did not prefer env: %s", got.DockerHost)
	}
	if got.StopTimeout != 25*time.Second {
		t.Fatalf("stop timeout not loaded from .env: %s", got.StopTimeout)
	}
	if got.SlackWebhookURL != "https://hooks.slack.com/services/test" {
		t.Fatalf("slack webhook url not loaded from .env: %s", got.SlackWebhookURL)
	}
	if got.CallTimeout != defaultCallTimeout {
		t.Fatalf("unexpected call timeout: %s", got.CallTimeout)
	}
}

func TestLoadWithProject_Precedence(t *testing.T) {
	tmpDir := t.TempDir()
	restoreDir := mustChdir(t, tmpDir)
	defer restoreDir()

	settings := ProjectSettings{
		Project:     "shop",
		StopTimeout: 30 * time.Second,
		Concurrency: 2,
	}

	got, err := LoadWithProject(settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.StopTimeout != 30*time.Second || got.Concurrency != 2 {
		t.Fatalf("project settings not applied: %+v", got)
	}

	t.Setenv(envStopTimeout, "5s")
	got, err = LoadWithProject(settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.StopTimeout != 5*time.Second {
		t.Fatalf("environment must override project file: %s", got.StopTimeout)
	}
	if got.Concurrency != 2 {
		t.Fatalf("untouched project value must survive: %d", got.Concurrency)
	}
}

func TestStatePath(t *testing.T) {
	cfg := Config{StateDir: "/var/lib/convoy"}
	path, err := cfg.StatePath()
	if err != nil {
		t.Fatalf("StatePath: %v", err)
	}
	if path != filepath.Join("/var/lib/convoy", "state.json") {
		t.Fatalf("unexpected path: %s", path)
	}
}

func mustChdir(t *testing.T, dir string) func() {
	t.Helper()
	original, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	return func() {
		if err := os.Chdir(original); err != nil {
			t.Fatalf("restore dir: %v", err)
		}
	}
}
