package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
)

func TestReadEventsCollectsDeltas(t *testing.T) {
	body := "data: {\"content\":\"Take\"}\n\n: keep-alive\n\ndata: {\"content\":\" a breath.\"}\n\ndata: [DONE]\n\n"

	var deltas []string
	full, err := readEvents(strings.NewReader(body), func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("readEvents err: %v", err)
	}
	if full != "Take a breath." || len(deltas) != 2 {
		t.Fatalf("unexpected result %q %q", full, deltas)
	}
}

func TestReadEventsErrorFrame(t *testing.T) {
	body := "data: {\"error\":\"conversation not found\",\"code\":\"not_found\"}\n\n"

	_, err := readEvents(strings.NewReader(body), func(string) {})
	if err == nil || !strings.Contains(err.Error(), "not_found") {
		t.Fatalf("expected not_found error, got %v", err)
	}
}

func TestReadEventsWithoutDone(t *testing.T) {
	_, err := readEvents(strings.NewReader("data: {\"content\":\"x\"}\n\n"), func(string) {})
	if err == nil {
		t.Fatal("expected error when stream closes early")
	}
}

func TestChatDecodesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"missing required fields","code":"validation"}`)
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, http: &http.Client{Timeout: time.Second}}
	_, err := client.chat(context.Background(), "c1", "", "")
	if err == nil || !strings.Contains(err.Error(), "HTTP 400") || !strings.Contains(err.Error(), "validation") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestPollUntilDone(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{"status":"accepted"}`)
			return
		}
		polls++
		switch polls {
		case 1:
			fmt.Fprint(w, `{"status":"waiting"}`)
		case 2:
			fmt.Fprint(w, `{"status":"content","content":"hi"}`)
		default:
			fmt.Fprint(w, `{"status":"done","content":"hi"}`)
		}
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, http: &http.Client{Timeout: time.Second}}
	var streamed strings.Builder
	full, err := client.poll(context.Background(), "p1", "hello", "", time.Millisecond, func(d string) { streamed.WriteString(d) })
	if err != nil {
		t.Fatalf("poll err: %v", err)
	}
	if full != "hi" || streamed.String() != "hi" {
		t.Fatalf("unexpected result %q %q", full, streamed.String())
	}
}

func TestRenderConversations(t *testing.T) {
	var buf bytes.Buffer
	renderConversations(&buf, []chat.Conversation{{
		ID:       "c1",
		Mood:     mood.Anxious,
		Title:    "I feel stressed",
		Messages: make([]chat.Message, 2),
	}})

	out := buf.String()
	for _, want := range []string{"c1", "anxious", "2 msgs", "I feel stressed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output %q", want, out)
		}
	}
}
