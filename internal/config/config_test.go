package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
schema_version: 1
midea:
  app_key: key
  email: user@example.com
  password_file: /run/secrets/midea
mqtt:
  broker: tcp://mqtt:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Core.GRPCAddr != DefaultGRPCAddr || cfg.Core.HTTPAddr != DefaultHTTPAddr {
		t.Fatalf("unexpected core defaults: %+v", cfg.Core)
	}
	if cfg.Midea.BaseURL != DefaultBaseURL {
		t.Fatalf("unexpected base url: %s", cfg.Midea.BaseURL)
	}
	if cfg.Midea.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Fatalf("unexpected timeout: %d", cfg.Midea.TimeoutSeconds)
	}
	if cfg.Midea.PollIntervalSeconds != DefaultPollIntervalSeconds {
		t.Fatalf("unexpected poll interval: %d", cfg.Midea.PollIntervalSeconds)
	}
	if cfg.Midea.RequestsPerMinute != DefaultRequestsPerMinute {
		t.Fatalf("unexpected rate: %d", cfg.Midea.RequestsPerMinute)
	}
	if cfg.MQTT == nil || cfg.MQTT.TopicPrefix != DefaultMQTTTopicPrefix {
		t.Fatalf("unexpected mqtt config: %+v", cfg.MQTT)
	}
	if cfg.Blob != nil {
		t.Fatalf("blob should stay disabled: %+v", cfg.Blob)
	}
	if !EnabledPlugins(cfg)["midea"] {
		t.Fatalf("expected midea plugin enabled")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
schema_version: 1
midea:
  app_key: key
  email: user@example.com
  password_file: /run/secrets/midea
`)
	t.Setenv("MIDEA_MIDEA_EMAIL", "other@example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Midea.Email != "other@example.com" {
		t.Fatalf("expected env override, got %s", cfg.Midea.Email)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "schema",
			body: "schema_version: 2\nmidea:\n  app_key: k\n  email: e\n  password_file: p\n",
			want: "schema_version",
		},
		{
			name: "missing midea",
			body: "schema_version: 1\n",
			want: "midea config is required",
		},
		{
			name: "missing password",
			body: "schema_version: 1\nmidea:\n  app_key: k\n  email: e\n",
			want: "midea.password_file",
		},
		{
			name: "blob bucket",
			body: "schema_version: 1\nmidea:\n  app_key: k\n  email: e\n  password_file: p\nblob:\n  endpoint: https://s3\n",
			want: "blob.bucket",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}
