package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "AIDE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AIDE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "reminders.interval", typ: kDuration, env: "AIDE_REMINDERS_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Reminders.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reminders.Interval },
	},
	{
		key: "reminders.delivery_timeout", typ: kDuration, env: "AIDE_REMINDERS_DELIVERY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reminders.DeliveryTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reminders.DeliveryTimeout },
	},
	{
		key: "reminders.max_attempts", typ: kInt, env: "AIDE_REMINDERS_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Reminders.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Reminders.MaxAttempts },
	},
	{
		key: "reminders.retry_backoff", typ: kDuration, env: "AIDE_REMINDERS_RETRY_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Reminders.RetryBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reminders.RetryBackoff },
	},
	{
		key: "reminders.watch", typ: kBool, env: "AIDE_REMINDERS_WATCH",
		apply:   func(cfg *Config, v any) { cfg.Reminders.Watch = v.(bool) },
		extract: func(cfg Config) any { return cfg.Reminders.Watch },
	},
	{
		key: "llm.base_url", typ: kString, env: "AIDE_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "AIDE_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.consolidation_model", typ: kString, env: "AIDE_LLM_CONSOLIDATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ConsolidationModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ConsolidationModel },
	},
	{
		key: "llm.timeout", typ: kDuration, env: "AIDE_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "llm.api_key", typ: kString, env: "AIDE_OPENROUTER_API_KEY",
		secret: true, account: "openrouter_api_key",
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "api.token", typ: kString, env: "AIDE_API_TOKEN",
		secret: true, account: "api_token",
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "notify.webhook_url", typ: kString, env: "AIDE_NOTIFY_WEBHOOK_URL",
		apply:   func(cfg *Config, v any) { cfg.Notify.WebhookURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.WebhookURL },
	},
	{
		key: "log.level", typ: kString, env: "AIDE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "AIDE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw into the Go type of s.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer value for %s: %w", s.key, err)
		}
		return i, nil
	case kBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bool value for %s: %w", s.key, err)
		}
		return b, nil
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration value for %s: %w", s.key, err)
		}
		return d, nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			raw, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || raw == "" {
				continue
			}
			v, err := parseValue(s, raw)
			if err != nil {
				slog.Warn("ignoring config file value", "key", s.key, "value", raw, "error", err)
				continue
			}
			s.apply(cfg, v)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			slog.Warn("ignoring environment override", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
