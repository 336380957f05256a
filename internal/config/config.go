package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingAPIKey is returned by RequireLLM when no OpenRouter key is set.
var ErrMissingAPIKey = errors.New("missing required config: OpenRouter API key")

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Reminders RemindersConfig
	LLM       LLMConfig
	API       APIConfig
	Notify    NotifyConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type RemindersConfig struct {
	Interval        time.Duration
	DeliveryTimeout time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	Watch           bool
}

type LLMConfig struct {
	BaseURL            string
	Model              string
	ConsolidationModel string
	Timeout            time.Duration
	APIKey             string
}

type APIConfig struct {
	Token string
}

type NotifyConfig struct {
	WebhookURL string
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Reminders: RemindersConfig{
			Interval:        60 * time.Second,
			DeliveryTimeout: 30 * time.Second,
			MaxAttempts:     5,
			RetryBackoff:    time.Minute,
			Watch:           true,
		},
		LLM: LLMConfig{
			BaseURL:            "https://openrouter.ai/api/v1",
			Model:              "google/gemini-2.0-flash-001",
			ConsolidationModel: "google/gemini-2.0-flash-001",
			Timeout:            60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the TOML file at
// $XDG_CONFIG_HOME/aide/config.toml, then applies AIDE_* environment
// overrides, then fills secrets that are still empty from the platform
// secret store (macOS Keychain, or a secrets.json file elsewhere).
//
// Load does not require an API key; commands that talk to the model call
// RequireLLM.
func Load() (Config, error) {
	return loadFromPath(ConfigFilePath(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadFromPath(path string, kc keychain) (Config, error) {
	b, err := openTOMLBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b, kc)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.Reminders.Interval <= 0 {
		return Config{}, fmt.Errorf("reminders.interval must be positive, got %s", cfg.Reminders.Interval)
	}
	if cfg.Reminders.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("reminders.max_attempts must be at least 1, got %d", cfg.Reminders.MaxAttempts)
	}
	return cfg, nil
}

// RequireLLM reports whether the config can reach the model.
func (c Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("%w. Set it via environment variable AIDE_OPENROUTER_API_KEY%s", ErrMissingAPIKey, apiKeyHint())
	}
	return nil
}

const keychainService = "aide"

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
