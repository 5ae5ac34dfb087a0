package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Wire types for the OpenAI-compatible streaming body.

type sseChunk struct {
	Choices []sseChoice `json:"choices"`
	Usage   *sseUsage   `json:"usage"`
}

type sseChoice struct {
	Delta        sseDelta `json:"delta"`
	FinishReason *string  `json:"finish_reason"`
}

type sseDelta struct {
	Content string `json:"content"`
}

type sseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// parseSSE reads a text/event-stream body and forwards chunks. Termination is
// layered: break on finish_reason (some APIs never send [DONE]), break on
// [DONE], and give up when no bytes arrive for idleTimeout.
func parseSSE(ctx context.Context, body io.Reader, out chan<- Chunk, idleTimeout time.Duration) {
	tr := &timedReader{r: body, timeout: idleTimeout}
	scanner := bufio.NewScanner(tr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line

	var usage *UsageChunk

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			emit(ctx, out, &ErrorChunk{Message: ctx.Err().Error()})
			return
		default:
		}

		line := scanner.Text()
		// Blank lines, "event:" lines and comments are all skipped.
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			slog.Debug("Skipping unparseable stream chunk", "error", err)
			continue
		}

		if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
			usage = &UsageChunk{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(ctx, out, &TokenDelta{Text: choice.Delta.Content}) {
				return
			}
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			if !emit(ctx, out, &FinishChunk{Reason: *choice.FinishReason}) {
				return
			}
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, errIdleTimeout) {
			emit(ctx, out, &ErrorChunk{
				Message:   "stream stalled: no data for " + idleTimeout.String(),
				Retryable: true,
			})
		} else {
			emit(ctx, out, &ErrorChunk{Message: "stream read error: " + err.Error()})
		}
		return
	}

	if usage != nil {
		emit(ctx, out, usage)
	}
}

// emit sends a chunk unless the context is already cancelled. Returns false
// when the caller should stop producing.
func emit(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

var errIdleTimeout = errors.New("stream read idle timeout")

// timedReader applies a per-Read deadline to detect stalled upstreams that
// keep the connection open without sending bytes.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-timer.C:
		return 0, errIdleTimeout
	}
}
