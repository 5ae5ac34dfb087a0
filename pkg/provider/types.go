// Package provider streams chat completions from heterogeneous LLM APIs
// behind one channel-based contract. All supported dialects speak
// OpenAI-compatible JSON over server-sent events; they differ only in auth
// headers, default endpoints, and which sampling fields they accept.
package provider

import (
	"context"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// Request carries the model name, the ordered conversation, and sampling
// parameters for a single streaming completion.
type Request struct {
	Model            string
	Messages         []Message
	Temperature      float64
	MaxTokens        int
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
}

// Config is the resolved per-call endpoint configuration. IdleTimeout bounds
// the gap between consecutive reads of the response body; zero means the
// dialect default.
type Config struct {
	Endpoint    string
	APIKey      string
	IdleTimeout time.Duration
	// MaxRetries bounds connection attempts; zero means the dialect default.
	MaxRetries int
}

// Streamer starts a streaming completion. The returned channel is closed when
// the stream completes; mid-stream failures are delivered as ErrorChunk
// values. The error return covers failures before any chunk is produced.
type Streamer interface {
	Stream(ctx context.Context, cfg Config, req Request) (<-chan Chunk, error)
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeToken  ChunkType = "token"
	ChunkTypeFinish ChunkType = "finish"
	ChunkTypeUsage  ChunkType = "usage"
	ChunkTypeError  ChunkType = "error"
)

// TokenDelta is an incremental piece of the model's text response.
type TokenDelta struct{ Text string }

// FinishChunk reports why the model stopped ("stop", "length", ...).
type FinishChunk struct{ Reason string }

// UsageChunk reports token consumption for this completion.
type UsageChunk struct{ PromptTokens, CompletionTokens, TotalTokens int }

// ErrorChunk signals a failure after streaming has begun.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (c *TokenDelta) chunkType() ChunkType  { return ChunkTypeToken }
func (c *FinishChunk) chunkType() ChunkType { return ChunkTypeFinish }
func (c *UsageChunk) chunkType() ChunkType  { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType  { return ChunkTypeError }
