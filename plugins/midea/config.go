package midea

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joshp123/midea/internal/config"
)

const (
	defaultBaseURL           = "https://mapp.appsmb.com/v1/"
	defaultTimeout           = 15 * time.Second
	defaultPollInterval      = time.Minute
	defaultRequestsPerMinute = 120
)

// Config defines runtime configuration for the Midea cloud client.
type Config struct {
	AppKey            string
	Email             string
	Password          string
	BaseURL           string
	HomeGroupID       string
	Timeout           time.Duration
	PollInterval      time.Duration
	RequestsPerMinute int

	// Security overrides the signing/cipher implementation. Nil uses Signer.
	Security Security
	// Classifier overrides the error policy table. Nil uses DefaultClassifier.
	Classifier *Classifier
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if !strings.HasSuffix(c.BaseURL, "/") {
		c.BaseURL += "/"
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = defaultRequestsPerMinute
	}
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.AppKey) == "" {
		return fmt.Errorf("midea app_key is required")
	}
	if strings.TrimSpace(c.Email) == "" {
		return fmt.Errorf("midea email is required")
	}
	if c.Password == "" {
		return fmt.Errorf("midea password is empty")
	}
	return nil
}

// ConfigFromFile resolves the file config, reading the password secret.
func ConfigFromFile(cfg *config.MideaConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("midea config is required")
	}
	if strings.TrimSpace(cfg.PasswordFile) == "" {
		return Config{}, fmt.Errorf("midea password_file is required")
	}
	password, err := readSecretFile(cfg.PasswordFile)
	if err != nil {
		return Config{}, fmt.Errorf("read midea password file: %w", err)
	}

	out := Config{
		AppKey:            strings.TrimSpace(cfg.AppKey),
		Email:             strings.TrimSpace(cfg.Email),
		Password:          password,
		BaseURL:           cfg.BaseURL,
		HomeGroupID:       strings.TrimSpace(cfg.HomeGroupID),
		Timeout:           time.Duration(cfg.TimeoutSeconds) * time.Second,
		PollInterval:      time.Duration(cfg.PollIntervalSeconds) * time.Second,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}
	if err := out.validate(); err != nil {
		return Config{}, err
	}
	return out.withDefaults(), nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
