package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
)

func TestDeriveTitleShortText(t *testing.T) {
	if got := DeriveTitle("I feel stressed"); got != "I feel stressed" {
		t.Fatalf("unexpected title %q", got)
	}
	exact := strings.Repeat("a", 20)
	if got := DeriveTitle(exact); got != exact {
		t.Fatalf("20-char text should not be truncated, got %q", got)
	}
}

func TestDeriveTitleTruncatesByRune(t *testing.T) {
	text := strings.Repeat("心", 25)
	got := DeriveTitle(text)
	want := strings.Repeat("心", 20) + "..."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNewNormalizesMood(t *testing.T) {
	conv := New("c1", mood.Mood("weird"), "hi", time.Now())
	if conv.Mood != mood.Peaceful {
		t.Fatalf("expected peaceful fallback, got %s", conv.Mood)
	}
}

func TestCloneDoesNotShareMessages(t *testing.T) {
	conv := New("c1", mood.Happy, "hi", time.Now())
	conv.Messages = append(conv.Messages, Message{Role: RoleUser, Content: "hi"})

	clone := conv.Clone()
	clone.Messages[0].Content = "changed"

	if conv.Messages[0].Content != "hi" {
		t.Fatal("clone mutated original message")
	}
}

func TestLastWindow(t *testing.T) {
	conv := Conversation{Messages: []Message{{Content: "1"}, {Content: "2"}, {Content: "3"}, {Content: "4"}}}
	last := conv.Last(3)
	if len(last) != 3 || last[0].Content != "2" {
		t.Fatalf("unexpected window %+v", last)
	}
	if len(conv.Last(0)) != 4 {
		t.Fatal("non-positive window should return all messages")
	}
}
