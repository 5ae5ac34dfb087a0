package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parleyhq/parley/pkg/credentials"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/services"
)

// Limits tunes per-call streaming behavior for every adapter. Zero values
// fall back to dialect defaults.
type Limits struct {
	IdleTimeout time.Duration
	MaxRetries  int
}

// Router resolves a user's model configuration and dispatches to the adapter
// for its provider kind.
type Router struct {
	store    *credentials.Store
	limits   Limits
	adapters map[models.ProviderKind]Streamer
}

func NewRouter(store *credentials.Store, limits Limits) *Router {
	return &Router{
		store:  store,
		limits: limits,
		adapters: map[models.ProviderKind]Streamer{
			models.ProviderOpenAI: OpenAI(),
			models.ProviderAzure:  Azure(),
			models.ProviderXAI:    XAI(),
		},
	}
}

// Stream resolves (user, modelName) and starts a streaming completion.
// Missing entries and entries without a stored key fail with
// ErrNotConfigured; provider kinds without an adapter fail with
// ErrNotImplemented.
func (r *Router) Stream(ctx context.Context, userEmail, modelName string, req Request) (<-chan Chunk, error) {
	resolved, err := r.store.Resolve(ctx, userEmail, modelName)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotConfigured, modelName)
		}
		return nil, err
	}
	if resolved.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key stored for %s", ErrNotConfigured, modelName)
	}

	adapter, ok := r.adapters[resolved.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, resolved.Provider)
	}

	req.Model = resolved.ModelName
	cfg := Config{
		Endpoint:    resolved.Endpoint,
		APIKey:      resolved.APIKey,
		IdleTimeout: r.limits.IdleTimeout,
		MaxRetries:  r.limits.MaxRetries,
	}
	return adapter.Stream(ctx, cfg, req)
}
