package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"

	"github.com/zhouzirui/mood-coach/backend/internal/errs"
)

// scannerBufferSize is the max size of a single SSE line.
const scannerBufferSize = 1 * 1024 * 1024

const doneSentinel = "[DONE]"

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// readStream consumes an upstream event stream until [DONE].
func readStream(ctx context.Context, body io.Reader, onDelta func(string) error) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerBufferSize)

	var full strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == doneSentinel {
			return full.String(), nil
		}
		if payload == "" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			log.Printf("[upstream] skipping malformed stream fragment: %v", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return full.String(), err
			}
		}
	}

	if ctxErr := contextError(ctx); ctxErr != nil {
		return full.String(), ctxErr
	}
	if err := scanner.Err(); err != nil {
		return full.String(), errs.UpstreamUnavailable(err)
	}
	return full.String(), errs.UpstreamFormat("upstream stream ended without [DONE]", nil)
}
