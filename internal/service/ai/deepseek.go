package ai

import (
	"context"
	"errors"
	"math"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/mood-coach/backend/internal/service/upstream"
)

var errReaderClosed = errors.New("stream reader closed")

// DeepSeekChatModel adapts the upstream client to eino's BaseChatModel.
type DeepSeekChatModel struct {
	client *upstream.Client
}

var _ model.BaseChatModel = (*DeepSeekChatModel)(nil)

// NewDeepSeekChatModel wraps client.
func NewDeepSeekChatModel(client *upstream.Client) *DeepSeekChatModel {
	return &DeepSeekChatModel{client: client}
}

// Configured reports whether the API key is present.
func (m *DeepSeekChatModel) Configured() bool {
	return m.client.Configured()
}

// Generate 执行一次非流式调用。
func (m *DeepSeekChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	content, err := m.client.Complete(ctx, buildRequest(input, opts))
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

// Stream 启动流式调用，增量内容通过 schema.Pipe 逐条写出。
// Upstream errors are sent through the pipe unchanged.
func (m *DeepSeekChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := m.client.RequireKey(); err != nil {
		return nil, err
	}

	req := buildRequest(input, opts)
	sr, sw := schema.Pipe[*schema.Message](16)

	go func() {
		defer sw.Close()
		_, err := m.client.Stream(ctx, req, func(delta string) error {
			if closed := sw.Send(schema.AssistantMessage(delta, nil), nil); closed {
				return errReaderClosed
			}
			return nil
		})
		if err != nil && !errors.Is(err, errReaderClosed) {
			sw.Send(nil, err)
		}
	}()

	return sr, nil
}

func buildRequest(input []*schema.Message, opts []model.Option) upstream.Request {
	options := model.GetCommonOptions(&model.Options{}, opts...)

	req := upstream.Request{Messages: make([]upstream.Message, 0, len(input))}
	for _, msg := range input {
		if msg == nil {
			continue
		}
		req.Messages = append(req.Messages, upstream.Message{Role: string(msg.Role), Content: msg.Content})
	}
	if options.Temperature != nil {
		// float32 options carry noise such as 0.30000001; keep two decimals.
		req.Temperature = math.Round(float64(*options.Temperature)*100) / 100
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	return req
}
