package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// fileConfig is the YAML overlay. Unset fields keep the built-in defaults.
type fileConfig struct {
	Server struct {
		Port           string   `yaml:"port"`
		Environment    string   `yaml:"environment"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Upstream struct {
		Provider      string `yaml:"provider"`
		Timeout       string `yaml:"timeout"`
		StreamTimeout string `yaml:"stream_timeout"`
		MaxAttempts   *int   `yaml:"max_attempts"`
		RetryBackoff  string `yaml:"retry_backoff"`

		DeepSeek struct {
			APIKey           string   `yaml:"api_key"`
			BaseURL          string   `yaml:"base_url"`
			Model            string   `yaml:"model"`
			PresencePenalty  *float64 `yaml:"presence_penalty"`
			FrequencyPenalty *float64 `yaml:"frequency_penalty"`
		} `yaml:"deepseek"`

		Ark struct {
			APIKey    string `yaml:"api_key"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Model     string `yaml:"model"`
			BaseURL   string `yaml:"base_url"`
			Region    string `yaml:"region"`
		} `yaml:"ark"`
	} `yaml:"upstream"`

	Generation struct {
		ChatMaxTokens   *int `yaml:"chat_max_tokens"`
		StreamMaxTokens *int `yaml:"stream_max_tokens"`
		HistoryWindow   *int `yaml:"history_window"`
	} `yaml:"generation"`

	Store struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"store"`

	Poll struct {
		BufferTTL     string `yaml:"buffer_ttl"`
		SweepSchedule string `yaml:"sweep_schedule"`
	} `yaml:"poll"`
}

// applyFile overlays the YAML file at path onto cfg.
func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(expanded, &fc); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return fc.apply(cfg)
}

func (fc fileConfig) apply(cfg *Config) error {
	if port := strings.TrimSpace(fc.Server.Port); port != "" {
		addr, err := parseAddr(port)
		if err != nil {
			return err
		}
		cfg.Server.Addr = addr
	}
	setString(&cfg.Server.Environment, fc.Server.Environment)
	if len(fc.Server.AllowedOrigins) > 0 {
		cfg.Server.AllowedOrigins = append([]string(nil), fc.Server.AllowedOrigins...)
	}

	up := &cfg.Upstream
	setString(&up.Provider, strings.ToLower(fc.Upstream.Provider))
	if err := setDuration(&up.Timeout, "upstream.timeout", fc.Upstream.Timeout); err != nil {
		return err
	}
	if err := setDuration(&up.StreamTimeout, "upstream.stream_timeout", fc.Upstream.StreamTimeout); err != nil {
		return err
	}
	if err := setDuration(&up.RetryBackoff, "upstream.retry_backoff", fc.Upstream.RetryBackoff); err != nil {
		return err
	}
	if fc.Upstream.MaxAttempts != nil {
		up.MaxAttempts = *fc.Upstream.MaxAttempts
	}

	ds := fc.Upstream.DeepSeek
	setString(&up.DeepSeek.APIKey, ds.APIKey)
	setString(&up.DeepSeek.BaseURL, ds.BaseURL)
	setString(&up.DeepSeek.Model, ds.Model)
	if ds.PresencePenalty != nil {
		up.DeepSeek.PresencePenalty = *ds.PresencePenalty
	}
	if ds.FrequencyPenalty != nil {
		up.DeepSeek.FrequencyPenalty = *ds.FrequencyPenalty
	}

	ak := fc.Upstream.Ark
	setString(&up.Ark.APIKey, ak.APIKey)
	setString(&up.Ark.AccessKey, ak.AccessKey)
	setString(&up.Ark.SecretKey, ak.SecretKey)
	setString(&up.Ark.Model, ak.Model)
	setString(&up.Ark.BaseURL, ak.BaseURL)
	setString(&up.Ark.Region, ak.Region)

	if v := fc.Generation.ChatMaxTokens; v != nil {
		cfg.Generation.ChatMaxTokens = *v
	}
	if v := fc.Generation.StreamMaxTokens; v != nil {
		cfg.Generation.StreamMaxTokens = *v
	}
	if v := fc.Generation.HistoryWindow; v != nil {
		cfg.Generation.HistoryWindow = *v
	}

	setString(&cfg.Store.Backend, strings.ToLower(fc.Store.Backend))
	setString(&cfg.Store.Path, fc.Store.Path)

	if err := setDuration(&cfg.Poll.BufferTTL, "poll.buffer_ttl", fc.Poll.BufferTTL); err != nil {
		return err
	}
	setString(&cfg.Poll.SweepSchedule, fc.Poll.SweepSchedule)
	return nil
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, key, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	d, err := parseDuration(key, value)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if hasDefault {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
