package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
)

// newPromptTemplate 构造系统提示 + 历史消息的模板。
func newPromptTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", false),
	)
}

// buildSystemPrompt combines the coach preamble with the mood prompt.
func buildSystemPrompt(m mood.Mood) string {
	return mood.SystemPrompt(string(m))
}

// buildHistoryMessages keeps the trailing window of stored user/assistant turns.
func buildHistoryMessages(messages []chat.Message, window int) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if window > 0 && len(messages) > window {
		startIdx = len(messages) - window
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}

func (s *Service) formatMessages(ctx context.Context, conv chat.Conversation) ([]*schema.Message, error) {
	messages, err := s.template.Format(ctx, map[string]any{
		"system":  buildSystemPrompt(conv.Mood),
		"history": buildHistoryMessages(conv.Messages, s.opts.HistoryWindow),
	})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	return messages, nil
}
