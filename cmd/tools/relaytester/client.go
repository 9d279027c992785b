package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	analysis "github.com/zhouzirui/mood-coach/backend/internal/analysis/mood"
	chathandler "github.com/zhouzirui/mood-coach/backend/internal/handler/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
	"github.com/zhouzirui/mood-coach/backend/internal/service/relay"
	"github.com/zhouzirui/mood-coach/backend/pkg/utils"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

func (c *apiClient) chat(ctx context.Context, id, content, moodName string) (chathandler.ChatResponse, error) {
	var reply chathandler.ChatResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/chat", map[string]string{
		"conversationId": id,
		"content":        content,
		"mood":           moodName,
	}, http.StatusOK, &reply)
	return reply, err
}

func (c *apiClient) conversations(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, http.StatusOK, &out)
	return out, err
}

func (c *apiClient) moodAnalysis(ctx context.Context, id, rangeName string) (analysis.Result, error) {
	path := "/api/mood-analysis"
	if id != "" {
		path += "/" + url.PathEscape(id)
	}
	if rangeName != "" {
		path += "?range=" + url.QueryEscape(rangeName)
	}
	var out analysis.Result
	err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &out)
	return out, err
}

func (c *apiClient) stream(ctx context.Context, id, message, moodName string, onDelta func(string)) (string, error) {
	query := url.Values{}
	if message != "" {
		query.Set("message", message)
	}
	if moodName != "" {
		query.Set("mood", moodName)
	}
	endpoint := c.baseURL + "/api/chat/" + url.PathEscape(id) + "/stream"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	return readEvents(resp.Body, onDelta)
}

func (c *apiClient) poll(ctx context.Context, id, content, moodName string, interval time.Duration, onDelta func(string)) (string, error) {
	err := c.doJSON(ctx, http.MethodPost, "/api/chat/"+url.PathEscape(id)+"/poll", map[string]string{
		"content": content,
		"mood":    moodName,
	}, http.StatusAccepted, nil)
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var result relay.PollResult
		if err := c.doJSON(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(id)+"/poll", nil, http.StatusOK, &result); err != nil {
			return "", err
		}
		switch result.Status {
		case relay.PollContent:
			onDelta(result.Content)
			continue
		case relay.PollDone:
			return result.Content, nil
		case relay.PollError:
			return "", fmt.Errorf("%s (%s)", result.Error, result.Code)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body utils.ErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if body.Code != "" {
		return fmt.Errorf("HTTP %d: %s (%s)", resp.StatusCode, body.Error, body.Code)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body.Error)
}

// readEvents consumes relay SSE frames until [DONE] or an error frame.
func readEvents(r io.Reader, onDelta func(string)) (string, error) {
	var full strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return full.String(), nil
		}

		var frame struct {
			Content string `json:"content"`
			Error   string `json:"error"`
			Code    string `json:"code"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return full.String(), fmt.Errorf("无法解析事件 %q: %w", data, err)
		}
		if frame.Error != "" {
			return full.String(), fmt.Errorf("%s (%s)", frame.Error, frame.Code)
		}
		full.WriteString(frame.Content)
		onDelta(frame.Content)
	}
	if err := scanner.Err(); err != nil {
		return full.String(), err
	}
	return full.String(), errors.New("stream closed before [DONE]")
}

func renderConversations(w io.Writer, conversations []chat.Conversation) {
	if len(conversations) == 0 {
		fmt.Fprintln(w, idStyle.Render("no conversations"))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Conversations (%d)", len(conversations))))
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	for _, conv := range conversations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n",
			idStyle.Render(conv.ID),
			moodStyle.Render(string(conv.Mood)),
			countStyle.Render(fmt.Sprintf("%d msgs", len(conv.Messages))),
			conv.Title,
		)
	}
	_ = tw.Flush()
}

func renderMoodStats(w io.Writer, result analysis.Result) {
	stats := result.MoodStats
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Mood samples (%d)", stats.Count)))
	if stats.Average == nil {
		fmt.Fprintln(w, idStyle.Render("no data"))
		return
	}

	fmt.Fprintf(w, "average: %s\n", countStyle.Render(fmt.Sprintf("%.2f", *stats.Average)))
	if stats.MostFrequent != nil {
		fmt.Fprintf(w, "most frequent: %s\n", moodStyle.Render(string(*stats.MostFrequent)))
	}

	moods := make([]mood.Mood, 0, len(stats.MoodDistribution))
	for m := range stats.MoodDistribution {
		moods = append(moods, m)
	}
	sort.Slice(moods, func(i, j int) bool { return moods[i] < moods[j] })
	for _, m := range moods {
		fmt.Fprintf(w, "  %-10s %s\n", m, strings.Repeat("■", stats.MoodDistribution[m]))
	}
}
