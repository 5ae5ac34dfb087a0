package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/credentials"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/orchestrator"
	"github.com/parleyhq/parley/pkg/provider"
	"github.com/parleyhq/parley/pkg/services"
)

const testUser = "user@example.com"

// scriptedRouter satisfies orchestrator.StreamRouter with canned responses
// per model name, consumed in order. Unscripted calls produce a fixed reply.
type scriptedRouter struct {
	mu      sync.Mutex
	replies map[string][]string
}

func newScriptedRouter() *scriptedRouter {
	return &scriptedRouter{replies: make(map[string][]string)}
}

func (r *scriptedRouter) script(model string, replies ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies[model] = append(r.replies[model], replies...)
}

func (r *scriptedRouter) Stream(_ context.Context, _ string, model string, _ provider.Request) (<-chan provider.Chunk, error) {
	r.mu.Lock()
	reply := "canned reply"
	if queued := r.replies[model]; len(queued) > 0 {
		reply = queued[0]
		r.replies[model] = queued[1:]
	}
	r.mu.Unlock()

	ch := make(chan provider.Chunk, 2)
	ch <- &provider.TokenDelta{Text: reply}
	ch <- &provider.FinishChunk{Reason: "stop"}
	close(ch)
	return ch, nil
}

// apiHarness is a fully wired server over in-memory sqlite, backed by the
// scripted router instead of real provider endpoints.
type apiHarness struct {
	ts       *httptest.Server
	srv      *Server
	router   *scriptedRouter
	hub      *events.Hub
	sessions *services.SessionService
	messages *services.MessageService
	runner   *orchestrator.Runner
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.Config{ConnectionString: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	protector, err := credentials.NewAgeProtector(t.TempDir() + "/identity.txt")
	require.NoError(t, err)

	db := client.Gorm()
	sessions := services.NewSessionService(db)
	messages := services.NewMessageService(db)
	feedback := services.NewFeedbackService(db)
	store := credentials.NewStore(db, protector)
	hub := events.NewHub(256)
	publisher := events.NewPublisher(hub)
	connManager := events.NewConnectionManager(hub, 10*time.Second)
	router := newScriptedRouter()
	runner := orchestrator.NewRunner(sessions, messages, feedback, router, publisher, nil)
	t.Cleanup(runner.Shutdown)

	srv := NewServer(client, sessions, messages, feedback, store, runner, publisher, connManager, Config{
		SessionDefaults: services.SessionDefaults{
			MaxIterations:          4,
			StopMarker:             "@@FINAL@@",
			StopOnReviewerApproved: true,
		},
	})
	srv.SetSettingsService(services.NewSettingsService(db))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &apiHarness{
		ts:       ts,
		srv:      srv,
		router:   router,
		hub:      hub,
		sessions: sessions,
		messages: messages,
		runner:   runner,
	}
}

// do issues a request as testUser and decodes the JSON response into out
// (when out is non-nil).
func (h *apiHarness) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-User", testUser)

	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// addModel registers a roster entry with a key so the start gate passes.
func (h *apiHarness) addModel(t *testing.T, name string) {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/v1/models", map[string]any{
		"model_name": name,
		"endpoint":   "https://api.openai.com/v1/chat/completions",
		"provider":   "openai",
		"api_key":    "sk-test-" + name,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func validCreateBody() map[string]any {
	persona := func(model string) map[string]any {
		return map[string]any{
			"root_prompt":       "You are a test persona.",
			"model_name":        model,
			"temperature":       0.7,
			"max_output_tokens": 512,
			"top_p":             1,
		}
	}
	reviewer := persona("reviewer-model")
	reviewer["id"] = "rev-1"
	reviewer["display_name"] = "Reviewer One"
	return map[string]any{
		"name":    "api test session",
		"topic":   "test topic",
		"creator": persona("creator-model"),
		"reviewers": []map[string]any{
			reviewer,
		},
	}
}

// createSession creates a session through the API and returns its id.
func (h *apiHarness) createSession(t *testing.T) string {
	t.Helper()
	var sess models.Session
	resp := h.do(t, http.MethodPost, "/api/v1/sessions", validCreateBody(), &sess)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, sess.ID)
	return sess.ID
}

// waitForStatus polls the session endpoint until the wanted status.
func (h *apiHarness) waitForStatus(t *testing.T, sessionID string, want models.SessionStatus) *models.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var sess models.Session
		resp := h.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil, &sess)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		if sess.Status == want {
			return &sess
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached status %s", sessionID, want)
	return nil
}
