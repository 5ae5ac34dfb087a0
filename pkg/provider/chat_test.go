package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
)

// sseBody writes chat-completion SSE lines for the given deltas, then a
// finish_reason chunk and [DONE].
func sseBody(w io.Writer, deltas ...string) {
	for _, d := range deltas {
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": map[string]any{"content": d}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
	}
	fmt.Fprint(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n\n")
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func collect(t *testing.T, ch <-chan Chunk) (text string, finish string, usage *UsageChunk, errs []string) {
	t.Helper()
	for c := range ch {
		switch v := c.(type) {
		case *TokenDelta:
			text += v.Text
		case *FinishChunk:
			finish = v.Reason
		case *UsageChunk:
			usage = v
		case *ErrorChunk:
			errs = append(errs, v.Message)
		}
	}
	return
}

func simpleRequest() Request {
	return Request{
		Model:       "gpt-5",
		Messages:    []Message{{Role: models.RoleUser, Content: "hello"}},
		Temperature: 0.7,
		MaxTokens:   256,
		TopP:        1.0,
	}
}

func TestStream_TokenDeltasInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseBody(w, "Hello", ", ", "world")
	}))
	defer srv.Close()

	ch, err := OpenAI().Stream(context.Background(), Config{Endpoint: srv.URL, APIKey: "k"}, simpleRequest())
	require.NoError(t, err)

	text, finish, _, errs := collect(t, ch)
	assert.Equal(t, "Hello, world", text)
	assert.Equal(t, "stop", finish)
	assert.Empty(t, errs)
}

func TestStream_SkipsNonDataLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ": keep-alive comment\n")
		fmt.Fprint(w, "event: message\n")
		fmt.Fprint(w, "\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"ok"}}]}`+"\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	ch, err := OpenAI().Stream(context.Background(), Config{Endpoint: srv.URL, APIKey: "k"}, simpleRequest())
	require.NoError(t, err)

	text, _, _, errs := collect(t, ch)
	assert.Equal(t, "ok", text)
	assert.Empty(t, errs)
}

func TestStream_DoneWithoutFinishReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"partial"}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	ch, err := OpenAI().Stream(context.Background(), Config{Endpoint: srv.URL, APIKey: "k"}, simpleRequest())
	require.NoError(t, err)

	text, finish, _, errs := collect(t, ch)
	assert.Equal(t, "partial", text)
	assert.Empty(t, finish)
	assert.Empty(t, errs)
}

func TestStream_UsageReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"x"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	ch, err := OpenAI().Stream(context.Background(), Config{Endpoint: srv.URL, APIKey: "k"}, simpleRequest())
	require.NoError(t, err)

	_, _, usage, _ := collect(t, ch)
	require.NotNil(t, usage)
	assert.Equal(t, 10, usage.PromptTokens)
	assert.Equal(t, 5, usage.CompletionTokens)
	assert.Equal(t, 15, usage.TotalTokens)
}

func TestStream_ClientErrorFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	_, err := OpenAI().Stream(context.Background(), Config{Endpoint: srv.URL, APIKey: "bad"}, simpleRequest())
	require.Error(t, err)

	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, http.StatusUnauthorized, pErr.StatusCode)
	assert.Contains(t, pErr.Body, "bad key")
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestStream_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		sseBody(w, "recovered")
	}))
	defer srv.Close()

	ch, err := OpenAI().Stream(context.Background(), Config{Endpoint: srv.URL, APIKey: "k"}, simpleRequest())
	require.NoError(t, err)

	text, _, _, errs := collect(t, ch)
	assert.Equal(t, "recovered", text)
	assert.Empty(t, errs)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStream_IdleTimeoutEmitsRetryableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"stall"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	cfg := Config{Endpoint: srv.URL, APIKey: "k", IdleTimeout: 100 * time.Millisecond}
	ch, err := OpenAI().Stream(context.Background(), cfg, simpleRequest())
	require.NoError(t, err)

	text, _, _, errs := collect(t, ch)
	assert.Equal(t, "stall", text)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "stalled")
}

func TestStream_AuthHeaders(t *testing.T) {
	var gotAuth, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("api-key")
		sseBody(w, "ok")
	}))
	defer srv.Close()

	cfg := Config{Endpoint: srv.URL, APIKey: "secret"}

	ch, err := OpenAI().Stream(context.Background(), cfg, simpleRequest())
	require.NoError(t, err)
	collect(t, ch)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Empty(t, gotAPIKey)

	ch, err = Azure().Stream(context.Background(), cfg, simpleRequest())
	require.NoError(t, err)
	collect(t, ch)
	assert.Equal(t, "secret", gotAPIKey)

	ch, err = XAI().Stream(context.Background(), cfg, simpleRequest())
	require.NoError(t, err)
	collect(t, ch)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestStream_PenaltyFieldsPerDialect(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = nil
		require.NoError(t, json.Unmarshal(raw, &body))
		sseBody(w, "ok")
	}))
	defer srv.Close()

	req := simpleRequest()
	req.PresencePenalty = 0.5
	req.FrequencyPenalty = 0.25
	cfg := Config{Endpoint: srv.URL, APIKey: "k"}

	ch, err := OpenAI().Stream(context.Background(), cfg, req)
	require.NoError(t, err)
	collect(t, ch)
	assert.Equal(t, 0.5, body["presence_penalty"])
	assert.Equal(t, 0.25, body["frequency_penalty"])
	assert.Equal(t, true, body["stream"])

	ch, err = XAI().Stream(context.Background(), cfg, req)
	require.NoError(t, err)
	collect(t, ch)
	_, hasPresence := body["presence_penalty"]
	_, hasFrequency := body["frequency_penalty"]
	assert.False(t, hasPresence, "xai must omit presence_penalty")
	assert.False(t, hasFrequency, "xai must omit frequency_penalty")
}

func TestStream_XAIDefaultEndpoint(t *testing.T) {
	d := XAI().(*chatDialect)
	assert.Equal(t, "https://api.x.ai/v1/chat/completions", d.defaultEndpoint)
	assert.Equal(t, 60*time.Minute, d.idleTimeout)
}

func TestStream_NoEndpointFails(t *testing.T) {
	_, err := OpenAI().Stream(context.Background(), Config{APIKey: "k"}, simpleRequest())
	assert.Error(t, err)
}

func TestStream_ContextCancelStopsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"first"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{Endpoint: srv.URL, APIKey: "k", IdleTimeout: 5 * time.Second}
	ch, err := OpenAI().Stream(ctx, cfg, simpleRequest())
	require.NoError(t, err)

	first := <-ch
	delta, ok := first.(*TokenDelta)
	require.True(t, ok)
	assert.Equal(t, "first", delta.Text)

	cancel()

	// The channel must close promptly once the context is gone.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("stream channel did not close after cancellation")
		}
	}
}
