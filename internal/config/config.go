package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/zhouzirui/mood-coach/backend/internal/service/upstream"
)

const (
	ProviderDeepSeek = "deepseek"
	ProviderArk      = "ark"

	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// defaultProductionOrigins mirrors the deployed front end.
var defaultProductionOrigins = []string{
	"https://my-life-coach-with-ds-2.vercel.app",
	"*.vercel.app",
}

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Upstream   UpstreamConfig
	Generation GenerationConfig
	Store      StoreConfig
	Poll       PollConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	Environment    string
	AllowedOrigins []string
}

// Production reports whether the origin allow-list applies.
func (c ServerConfig) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// UpstreamConfig 描述大模型调用配置。
type UpstreamConfig struct {
	Provider      string
	DeepSeek      DeepSeekConfig
	Ark           ArkConfig
	Timeout       time.Duration
	StreamTimeout time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
}

// DeepSeekConfig 描述 DeepSeek 接口。
type DeepSeekConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	PresencePenalty  float64
	FrequencyPenalty float64
}

// ArkConfig 描述方舟备用模型。
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

// GenerationConfig 控制每次请求的生成参数。
type GenerationConfig struct {
	ChatMaxTokens   int
	StreamMaxTokens int
	HistoryWindow   int
}

// StoreConfig selects the conversation store backend.
type StoreConfig struct {
	Backend string
	Path    string
}

// PollConfig controls poll buffer expiry.
type PollConfig struct {
	BufferTTL     time.Duration
	SweepSchedule string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":3000",
			Environment: "development",
		},
		Upstream: UpstreamConfig{
			Provider: ProviderDeepSeek,
			DeepSeek: DeepSeekConfig{
				BaseURL:          "https://api.deepseek.com/v1",
				Model:            "deepseek-chat",
				PresencePenalty:  0.6,
				FrequencyPenalty: 0.6,
			},
			Ark: ArkConfig{
				BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
				Region:  "cn-beijing",
			},
			Timeout:       9 * time.Second,
			StreamTimeout: 60 * time.Second,
			MaxAttempts:   3,
			RetryBackoff:  500 * time.Millisecond,
		},
		Generation: GenerationConfig{
			ChatMaxTokens:   300,
			StreamMaxTokens: 500,
			HistoryWindow:   3,
		},
		Store: StoreConfig{
			Backend: StoreMemory,
		},
		Poll: PollConfig{
			BufferTTL:     5 * time.Minute,
			SweepSchedule: "@every 1m",
		},
	}
}

// Load 从内置默认值、可选的 YAML 文件与环境变量依次加载配置。
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("RELAY_CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		addr, err := parseAddr(port)
		if err != nil {
			return err
		}
		cfg.Server.Addr = addr
	}

	cfg.Server.Environment = getEnvOrDefault("APP_ENV", getEnvOrDefault("NODE_ENV", cfg.Server.Environment))
	if raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); raw != "" {
		cfg.Server.AllowedOrigins = splitList(raw)
	}
	if len(cfg.Server.AllowedOrigins) == 0 && cfg.Server.Production() {
		cfg.Server.AllowedOrigins = append([]string(nil), defaultProductionOrigins...)
	}

	up := &cfg.Upstream
	up.Provider = strings.ToLower(getEnvOrDefault("UPSTREAM_PROVIDER", up.Provider))
	up.DeepSeek.APIKey = getEnvOrDefault("DEEPSEEK_API_KEY", up.DeepSeek.APIKey)
	up.DeepSeek.BaseURL = getEnvOrDefault("DEEPSEEK_BASE_URL", up.DeepSeek.BaseURL)
	up.DeepSeek.Model = getEnvOrDefault("DEEPSEEK_MODEL", up.DeepSeek.Model)

	up.Ark.APIKey = getEnvOrDefault("ARK_API_KEY", up.Ark.APIKey)
	up.Ark.AccessKey = getEnvOrDefault("ARK_ACCESS_KEY", up.Ark.AccessKey)
	up.Ark.SecretKey = getEnvOrDefault("ARK_SECRET_KEY", up.Ark.SecretKey)
	up.Ark.Model = getEnvOrDefault("ARK_MODEL", up.Ark.Model)
	up.Ark.BaseURL = getEnvOrDefault("ARK_BASE_URL", up.Ark.BaseURL)
	up.Ark.Region = getEnvOrDefault("ARK_REGION", up.Ark.Region)

	var err error
	if up.Timeout, err = parseDurationEnv("UPSTREAM_TIMEOUT", up.Timeout); err != nil {
		return err
	}
	if up.StreamTimeout, err = parseDurationEnv("UPSTREAM_STREAM_TIMEOUT", up.StreamTimeout); err != nil {
		return err
	}
	if up.RetryBackoff, err = parseDurationEnv("UPSTREAM_RETRY_BACKOFF", up.RetryBackoff); err != nil {
		return err
	}
	if up.MaxAttempts, err = parseIntEnv("UPSTREAM_MAX_ATTEMPTS", up.MaxAttempts); err != nil {
		return err
	}
	if up.DeepSeek.PresencePenalty, err = parseFloatEnv("UPSTREAM_PRESENCE_PENALTY", up.DeepSeek.PresencePenalty); err != nil {
		return err
	}
	if up.DeepSeek.FrequencyPenalty, err = parseFloatEnv("UPSTREAM_FREQUENCY_PENALTY", up.DeepSeek.FrequencyPenalty); err != nil {
		return err
	}

	gen := &cfg.Generation
	if gen.ChatMaxTokens, err = parseIntEnv("CHAT_MAX_TOKENS", gen.ChatMaxTokens); err != nil {
		return err
	}
	if gen.StreamMaxTokens, err = parseIntEnv("STREAM_MAX_TOKENS", gen.StreamMaxTokens); err != nil {
		return err
	}
	if gen.HistoryWindow, err = parseIntEnv("CHAT_HISTORY_WINDOW", gen.HistoryWindow); err != nil {
		return err
	}

	cfg.Store.Backend = strings.ToLower(getEnvOrDefault("STORE_BACKEND", cfg.Store.Backend))
	cfg.Store.Path = getEnvOrDefault("STORE_PATH", cfg.Store.Path)
	if cfg.Store.Path == "" {
		switch cfg.Store.Backend {
		case StoreFile:
			cfg.Store.Path = "conversations.json"
		case StoreSQLite:
			cfg.Store.Path = "conversations.db"
		}
	}

	if cfg.Poll.BufferTTL, err = parseDurationEnv("POLL_BUFFER_TTL", cfg.Poll.BufferTTL); err != nil {
		return err
	}
	cfg.Poll.SweepSchedule = getEnvOrDefault("POLL_SWEEP_SCHEDULE", cfg.Poll.SweepSchedule)
	return nil
}

func (c Config) validate() error {
	switch c.Upstream.Provider {
	case ProviderDeepSeek, ProviderArk:
	default:
		return fmt.Errorf("invalid UPSTREAM_PROVIDER value: %q", c.Upstream.Provider)
	}
	switch c.Store.Backend {
	case StoreMemory, StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("invalid STORE_BACKEND value: %q", c.Store.Backend)
	}
	if c.Upstream.Timeout <= 0 || c.Upstream.StreamTimeout <= 0 {
		return fmt.Errorf("upstream timeouts must be positive")
	}
	if c.Upstream.MaxAttempts < 1 {
		return fmt.Errorf("UPSTREAM_MAX_ATTEMPTS must be at least 1")
	}
	if c.Generation.HistoryWindow < 1 {
		return fmt.Errorf("CHAT_HISTORY_WINDOW must be at least 1")
	}
	return nil
}

// DeepSeekClient returns the upstream client configuration.
func (c UpstreamConfig) DeepSeekClient() upstream.Config {
	return upstream.Config{
		BaseURL:          c.DeepSeek.BaseURL,
		APIKey:           c.DeepSeek.APIKey,
		Model:            c.DeepSeek.Model,
		MaxAttempts:      c.MaxAttempts,
		Backoff:          c.RetryBackoff,
		PresencePenalty:  c.DeepSeek.PresencePenalty,
		FrequencyPenalty: c.DeepSeek.FrequencyPenalty,
	}
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewArkChatModel 使用方舟配置创建一个模型实例。
func (c UpstreamConfig) NewArkChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Ark.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:   c.Ark.BaseURL,
		Region:    c.Ark.Region,
		APIKey:    c.Ark.APIKey,
		AccessKey: c.Ark.AccessKey,
		SecretKey: c.Ark.SecretKey,
		Model:     c.Ark.Model,
	})
	if err != nil {
		return nil, err
	}
	return chatModel, nil
}

// parseAddr 允许用户直接传入 ":3000" 或 "127.0.0.1:3000"。
func parseAddr(port string) (string, error) {
	if strings.Contains(port, ":") {
		return port, nil
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	return ":" + port, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv accepts Go durations ("9s") or plain milliseconds ("9000").
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	return parseDuration(key, raw)
}

func parseDuration(key, raw string) (time.Duration, error) {
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
