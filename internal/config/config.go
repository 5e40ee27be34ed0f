package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	SchemaVersion              = 1
	DefaultPath                = "/etc/midea/config.yaml"
	DefaultGRPCAddr            = "0.0.0.0:9000"
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultBaseURL             = "https://mapp.appsmb.com/v1/"
	DefaultTimeoutSeconds      = 15
	DefaultPollIntervalSeconds = 60
	DefaultRequestsPerMinute   = 120
	DefaultMQTTTopicPrefix     = "midea"
	DefaultBlobPrefix          = "midea/inventory"
	envPrefix                  = "MIDEA"
)

// Config is the on-disk daemon and CLI configuration.
type Config struct {
	SchemaVersion int          `mapstructure:"schema_version"`
	Core          *CoreConfig  `mapstructure:"core"`
	Midea         *MideaConfig `mapstructure:"midea"`
	MQTT          *MQTTConfig  `mapstructure:"mqtt"`
	Blob          *BlobConfig  `mapstructure:"blob"`
}

type CoreConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type MideaConfig struct {
	AppKey              string `mapstructure:"app_key"`
	Email               string `mapstructure:"email"`
	PasswordFile        string `mapstructure:"password_file"`
	BaseURL             string `mapstructure:"base_url"`
	HomeGroupID         string `mapstructure:"home_group_id"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	RequestsPerMinute   int    `mapstructure:"requests_per_minute"`
}

type MQTTConfig struct {
	Broker       string `mapstructure:"broker"`
	Username     string `mapstructure:"username"`
	PasswordFile string `mapstructure:"password_file"`
	TopicPrefix  string `mapstructure:"topic_prefix"`
}

type BlobConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	Region        string `mapstructure:"region"`
	AccessKeyFile string `mapstructure:"access_key_file"`
	SecretKeyFile string `mapstructure:"secret_key_file"`
}

// Load parses the config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}

	if cfg.Midea != nil {
		if cfg.Midea.BaseURL == "" {
			cfg.Midea.BaseURL = DefaultBaseURL
		}
		if cfg.Midea.TimeoutSeconds == 0 {
			cfg.Midea.TimeoutSeconds = DefaultTimeoutSeconds
		}
		if cfg.Midea.PollIntervalSeconds == 0 {
			cfg.Midea.PollIntervalSeconds = DefaultPollIntervalSeconds
		}
		if cfg.Midea.RequestsPerMinute == 0 {
			cfg.Midea.RequestsPerMinute = DefaultRequestsPerMinute
		}
	}

	if cfg.MQTT != nil && cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
	if cfg.Blob != nil && cfg.Blob.Prefix == "" {
		cfg.Blob.Prefix = DefaultBlobPrefix
	}
}

// Validate enforces required invariants beyond field typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core == nil {
		return fmt.Errorf("core config is required")
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if cfg.Midea == nil {
		return fmt.Errorf("midea config is required")
	}
	if strings.TrimSpace(cfg.Midea.AppKey) == "" {
		return fmt.Errorf("midea.app_key is required")
	}
	if strings.TrimSpace(cfg.Midea.Email) == "" {
		return fmt.Errorf("midea.email is required")
	}
	if strings.TrimSpace(cfg.Midea.PasswordFile) == "" {
		return fmt.Errorf("midea.password_file is required")
	}
	if cfg.Midea.TimeoutSeconds < 0 {
		return fmt.Errorf("midea.timeout_seconds must be positive")
	}
	if cfg.Midea.PollIntervalSeconds < 0 {
		return fmt.Errorf("midea.poll_interval_seconds must be positive")
	}
	if cfg.Midea.RequestsPerMinute < 0 {
		return fmt.Errorf("midea.requests_per_minute must be positive")
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	if cfg.Blob != nil {
		if cfg.Blob.Endpoint == "" {
			return fmt.Errorf("blob.endpoint is required")
		}
		if cfg.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required")
		}
		if cfg.Blob.AccessKeyFile == "" {
			return fmt.Errorf("blob.access_key_file is required")
		}
		if cfg.Blob.SecretKeyFile == "" {
			return fmt.Errorf("blob.secret_key_file is required")
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Midea != nil {
		enabled["midea"] = true
	}
	return enabled
}
