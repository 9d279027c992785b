package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/mood-coach/backend/internal/errs"
	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
	"github.com/zhouzirui/mood-coach/backend/internal/service/upstream"
)

type captureModel struct {
	input []*schema.Message
	opts  *model.Options
	reply string
	err   error
}

func (m *captureModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.input = input
	m.opts = model.GetCommonOptions(&model.Options{}, opts...)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *captureModel) Stream(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	m.opts = model.GetCommonOptions(&model.Options{}, opts...)
	if m.err != nil {
		return nil, m.err
	}
	sr, sw := schema.Pipe[*schema.Message](4)
	go func() {
		defer sw.Close()
		for _, part := range strings.SplitAfter(m.reply, " ") {
			sw.Send(schema.AssistantMessage(part, nil), nil)
		}
	}()
	return sr, nil
}

func conversationWith(m mood.Mood, contents ...string) chat.Conversation {
	conv := chat.New("c1", m, contents[0], time.Now())
	for i, content := range contents {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		conv.Messages = append(conv.Messages, chat.Message{Role: role, Content: content})
	}
	return conv
}

func TestGenerateBuildsMoodPrompt(t *testing.T) {
	fake := &captureModel{reply: "Take a breath."}
	svc := NewServiceWithModel(fake, Options{HistoryWindow: 3, ChatMaxTokens: 300, StreamMaxTokens: 500})

	conv := conversationWith(mood.Anxious, "one", "two", "three", "four", "I feel stressed")
	got, err := svc.Generate(context.Background(), conv)
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if got != "Take a breath." {
		t.Fatalf("unexpected reply %q", got)
	}

	if len(fake.input) != 4 {
		t.Fatalf("expected system + 3 history messages, got %d", len(fake.input))
	}
	system := fake.input[0]
	if system.Role != schema.System || system.Content != mood.SystemPrompt("anxious") {
		t.Fatalf("unexpected system message %+v", system)
	}
	if !strings.HasPrefix(system.Content, mood.CoachPreamble) {
		t.Fatalf("system prompt missing preamble: %q", system.Content)
	}
	if fake.input[1].Content != "three" || fake.input[3].Content != "I feel stressed" {
		t.Fatalf("unexpected history window: %q .. %q", fake.input[1].Content, fake.input[3].Content)
	}
	if fake.input[3].Role != schema.User || fake.input[2].Role != schema.Assistant {
		t.Fatalf("unexpected roles %s %s", fake.input[2].Role, fake.input[3].Role)
	}

	if fake.opts.Temperature == nil || *fake.opts.Temperature != float32(0.3) {
		t.Fatalf("unexpected temperature %v", fake.opts.Temperature)
	}
	if fake.opts.MaxTokens == nil || *fake.opts.MaxTokens != 300 {
		t.Fatalf("unexpected max tokens %v", fake.opts.MaxTokens)
	}
}

func TestPromptKeepsBracesInUserContent(t *testing.T) {
	fake := &captureModel{reply: "ok"}
	svc := NewServiceWithModel(fake, Options{HistoryWindow: 3})

	conv := conversationWith(mood.Mood("unknown"), "what is {system}?")
	if _, err := svc.Generate(context.Background(), conv); err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if fake.input[1].Content != "what is {system}?" {
		t.Fatalf("history content was templated: %q", fake.input[1].Content)
	}
	if fake.input[0].Content != mood.SystemPrompt("peaceful") {
		t.Fatal("unknown mood should fall back to peaceful prompt")
	}
}

func TestStreamUsesStreamBudget(t *testing.T) {
	fake := &captureModel{reply: "Take a breath."}
	svc := NewServiceWithModel(fake, Options{HistoryWindow: 3, ChatMaxTokens: 300, StreamMaxTokens: 500})

	reader, err := svc.Stream(context.Background(), conversationWith(mood.Happy, "hi"))
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer reader.Close()

	var full strings.Builder
	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv err: %v", err)
		}
		full.WriteString(msg.Content)
	}
	if full.String() != "Take a breath." {
		t.Fatalf("unexpected stream content %q", full.String())
	}
	if *fake.opts.MaxTokens != 500 || *fake.opts.Temperature != float32(1.0) {
		t.Fatalf("unexpected stream options %+v", fake.opts)
	}
}

func TestUnconfiguredServiceFailsFast(t *testing.T) {
	client := upstream.New(upstream.Config{}, nil)
	svc := NewServiceWithModel(NewDeepSeekChatModel(client), Options{})

	if svc.Configured() {
		t.Fatal("service without key should not be configured")
	}
	_, err := svc.Generate(context.Background(), conversationWith(mood.Happy, "hi"))
	if errs.KindOf(err) != errs.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	_, err = svc.Stream(context.Background(), conversationWith(mood.Happy, "hi"))
	if errs.KindOf(err) != errs.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}

	if NewServiceWithModel(nil, Options{}).Configured() {
		t.Fatal("nil model should not be configured")
	}
}

func TestDeepSeekModelStreamsThroughPipe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Take", " a", " breath."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := upstream.New(upstream.Config{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	chatModel := NewDeepSeekChatModel(client)

	reader, err := chatModel.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")}, model.WithTemperature(0.3))
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer reader.Close()

	var parts []string
	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv err: %v", err)
		}
		parts = append(parts, msg.Content)
	}
	if strings.Join(parts, "") != "Take a breath." || len(parts) != 3 {
		t.Fatalf("unexpected parts %q", parts)
	}
}

func TestDeepSeekModelStreamErrorKeepsType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer srv.Close()

	client := upstream.New(upstream.Config{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	reader, err := NewDeepSeekChatModel(client).Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer reader.Close()

	var lastErr error
	for {
		_, err := reader.Recv()
		if err != nil {
			lastErr = err
			break
		}
	}
	if errs.KindOf(lastErr) != errs.KindUpstreamFormat {
		t.Fatalf("expected format error through the pipe, got %v", lastErr)
	}
}

func TestBuildRequestRoundsTemperature(t *testing.T) {
	req := buildRequest([]*schema.Message{schema.SystemMessage("s"), nil, schema.UserMessage("u")},
		[]model.Option{model.WithTemperature(0.3), model.WithMaxTokens(500)})
	if req.Temperature != 0.3 {
		t.Fatalf("unexpected temperature %v", req.Temperature)
	}
	if req.MaxTokens != 500 || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestClassifyError(t *testing.T) {
	typed := errs.UpstreamFormat("bad", nil)
	if ClassifyError(context.Background(), typed) != error(typed) {
		t.Fatal("typed errors should pass through")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	if errs.KindOf(ClassifyError(ctx, errors.New("boom"))) != errs.KindUpstreamTimeout {
		t.Fatal("deadline should classify as timeout")
	}

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if !errors.Is(ClassifyError(canceled, context.Canceled), context.Canceled) {
		t.Fatal("cancellation should pass through")
	}

	if errs.KindOf(ClassifyError(context.Background(), errors.New("ark down"))) != errs.KindUpstreamHTTP {
		t.Fatal("unknown provider errors should be upstream_http")
	}
}
