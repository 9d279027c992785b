package ai

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/mood-coach/backend/internal/config"
	"github.com/zhouzirui/mood-coach/backend/internal/errs"
	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
	"github.com/zhouzirui/mood-coach/backend/internal/service/upstream"
)

// Options 控制提示组装与生成参数。
type Options struct {
	HistoryWindow   int
	ChatMaxTokens   int
	StreamMaxTokens int
}

// configuredModel is implemented by chat models that can report missing credentials.
type configuredModel interface {
	Configured() bool
}

// Service encapsulates mood-aware prompt assembly and the chat model call.
type Service struct {
	chatModel model.BaseChatModel
	template  prompt.ChatTemplate
	opts      Options
	provider  string
}

// NewService creates the AI service for the configured provider. Missing credentials
// are not a startup error; requests fail with a configuration error instead.
func NewService(ctx context.Context, cfg config.UpstreamConfig, gen config.GenerationConfig) (*Service, error) {
	opts := Options{
		HistoryWindow:   gen.HistoryWindow,
		ChatMaxTokens:   gen.ChatMaxTokens,
		StreamMaxTokens: gen.StreamMaxTokens,
	}

	switch cfg.Provider {
	case config.ProviderArk:
		if !cfg.Ark.Enabled() {
			log.Printf("[ai] ark credentials missing, chat requests will fail until configured")
			svc := NewServiceWithModel(nil, opts)
			svc.provider = config.ProviderArk
			return svc, nil
		}
		chatModel, err := cfg.NewArkChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		svc := NewServiceWithModel(chatModel, opts)
		svc.provider = config.ProviderArk
		return svc, nil
	default:
		client := upstream.New(cfg.DeepSeekClient(), nil)
		if !client.Configured() {
			log.Printf("[ai] DEEPSEEK_API_KEY missing, chat requests will fail until configured")
		}
		return NewServiceWithModel(NewDeepSeekChatModel(client), opts), nil
	}
}

// NewServiceWithModel wires an arbitrary chat model, used by tests and alternate providers.
func NewServiceWithModel(chatModel model.BaseChatModel, opts Options) *Service {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 3
	}
	return &Service{
		chatModel: chatModel,
		template:  newPromptTemplate(),
		opts:      opts,
		provider:  config.ProviderDeepSeek,
	}
}

// Provider returns the active upstream provider name.
func (s *Service) Provider() string {
	return s.provider
}

// Configured reports whether the active provider has its secret.
func (s *Service) Configured() bool {
	if s.chatModel == nil {
		return false
	}
	if cm, ok := s.chatModel.(configuredModel); ok {
		return cm.Configured()
	}
	return true
}

// RequireConfigured returns a configuration error when the provider secret is missing.
func (s *Service) RequireConfigured() error {
	if s.Configured() {
		return nil
	}
	if s.provider == config.ProviderArk {
		return errs.Configuration("ARK credentials are not configured")
	}
	return errs.Configuration("DEEPSEEK_API_KEY is not configured")
}

// Generate 生成一次完整回复（非流式）。
func (s *Service) Generate(ctx context.Context, conv chat.Conversation) (string, error) {
	if err := s.RequireConfigured(); err != nil {
		return "", err
	}

	messages, err := s.formatMessages(ctx, conv)
	if err != nil {
		return "", err
	}

	resp, err := s.chatModel.Generate(ctx, messages,
		model.WithTemperature(float32(mood.Temperature(string(conv.Mood)))),
		model.WithMaxTokens(s.opts.ChatMaxTokens),
	)
	if err != nil {
		return "", ClassifyError(ctx, err)
	}
	if resp == nil {
		return "", errs.UpstreamFormat("upstream returned no message", nil)
	}

	log.Printf("[ai] generated response for conversation=%s, mood=%s, length=%d", conv.ID, conv.Mood, len(resp.Content))
	return resp.Content, nil
}

// Stream 以流式方式生成回复，调用方负责关闭返回的 StreamReader。
func (s *Service) Stream(ctx context.Context, conv chat.Conversation) (*schema.StreamReader[*schema.Message], error) {
	if err := s.RequireConfigured(); err != nil {
		return nil, err
	}

	messages, err := s.formatMessages(ctx, conv)
	if err != nil {
		return nil, err
	}

	stream, err := s.chatModel.Stream(ctx, messages,
		model.WithTemperature(float32(mood.Temperature(string(conv.Mood)))),
		model.WithMaxTokens(s.opts.StreamMaxTokens),
	)
	if err != nil {
		return nil, ClassifyError(ctx, err)
	}
	return stream, nil
}

// ClassifyError maps errors from any provider into the relay taxonomy. Typed errors
// pass through; caller cancellation is returned unchanged.
func ClassifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var typed *errs.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.UpstreamTimeout(err)
	}
	return errs.UpstreamUnavailable(err)
}
