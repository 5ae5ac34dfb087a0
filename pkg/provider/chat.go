package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultIdleTimeout = 5 * time.Minute
	defaultMaxRetries  = 3
	maxErrorBodyBytes  = 4 * 1024
)

// chatRequest is the OpenAI-compatible request body. Penalty fields are
// pointers so dialects that reject them can leave them out entirely.
type chatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Stream           bool      `json:"stream"`
	Temperature      float64   `json:"temperature"`
	MaxTokens        int       `json:"max_tokens,omitempty"`
	TopP             float64   `json:"top_p"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
}

// chatDialect captures how one provider family deviates from the shared
// OpenAI-compatible wire format.
type chatDialect struct {
	name            string
	setAuth         func(h http.Header, key string)
	defaultEndpoint string
	sendPenalties   bool
	idleTimeout     time.Duration
}

// Stream implements Streamer for a dialect: it POSTs the request with
// retries, then parses the SSE body on a goroutine feeding the returned
// channel.
func (d *chatDialect) Stream(ctx context.Context, cfg Config, req Request) (<-chan Chunk, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = d.defaultEndpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("%s: no endpoint configured", d.name)
	}

	body := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}
	if d.sendPenalties {
		body.PresencePenalty = &req.PresencePenalty
		body.FrequencyPenalty = &req.FrequencyPenalty
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := d.connect(ctx, endpoint, cfg.APIKey, payload, cfg.MaxRetries)
	if err != nil {
		return nil, err
	}

	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = d.idleTimeout
	}
	if idle == 0 {
		idle = defaultIdleTimeout
	}

	out := make(chan Chunk, 100)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		parseSSE(ctx, resp.Body, out, idle)
	}()
	return out, nil
}

// connect POSTs the request, retrying rate limits, server errors, and
// transport failures with exponential backoff. Client errors fail
// immediately.
func (d *chatDialect) connect(ctx context.Context, endpoint, apiKey string, payload []byte, maxRetries int) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries)), ctx)

	var resp *http.Response
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		d.setAuth(req.Header, apiKey)

		r, err := streamingClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s request failed: %w", d.name, err)
		}

		if r.StatusCode < 200 || r.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(r.Body, maxErrorBodyBytes))
			r.Body.Close()
			pErr := &ProviderError{StatusCode: r.StatusCode, Body: string(raw)}
			if !pErr.Retryable() {
				return backoff.Permanent(pErr)
			}
			return pErr
		}

		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("Provider request failed, retrying",
			"dialect", d.name, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

// streamingClient has no overall timeout: streams are bounded by the per-read
// idle timeout and the caller's context instead.
var streamingClient = &http.Client{}

func bearerAuth(h http.Header, key string) {
	h.Set("Authorization", "Bearer "+key)
}

// OpenAI speaks the reference chat-completions dialect against a per-model
// configured endpoint.
func OpenAI() Streamer {
	return &chatDialect{
		name:          "openai",
		setAuth:       bearerAuth,
		sendPenalties: true,
	}
}

// Azure targets Azure AI Foundry deployments: same body, but the key travels
// in an api-key header and the endpoint is already deployment-specific.
func Azure() Streamer {
	return &chatDialect{
		name: "azure",
		setAuth: func(h http.Header, key string) {
			h.Set("api-key", key)
		},
		sendPenalties: true,
	}
}

// XAI targets the xAI API. Grok models reject the penalty fields, and long
// reasoning streams can stay quiet for a while, so the idle window is wide.
func XAI() Streamer {
	return &chatDialect{
		name:            "xai",
		setAuth:         bearerAuth,
		defaultEndpoint: "https://api.x.ai/v1/chat/completions",
		sendPenalties:   false,
		idleTimeout:     60 * time.Minute,
	}
}
