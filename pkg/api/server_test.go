package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conclave-ai/conclave/pkg/council"
	"github.com/conclave-ai/conclave/pkg/models"
	"github.com/conclave-ai/conclave/pkg/provider"
	"github.com/conclave-ai/conclave/pkg/services"
	"github.com/conclave-ai/conclave/pkg/store"
)

// fakeProvider answers by prompt inspection: ranking prompts get a
// parseable ranking, synthesis prompts get a final answer, everything
// else gets a per-model stage-1 answer.
type fakeProvider struct {
	name      string
	models    []string
	streamErr error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) reply(model string, messages []provider.Message) string {
	prompt := messages[len(messages)-1].Content
	switch {
	case strings.Contains(prompt, "FINAL RANKING"):
		return "Both fine.\n\nFINAL RANKING:\n1. Response A\n2. Response B"
	case strings.Contains(prompt, "Chairman of an LLM Council"):
		return "synthesized answer"
	case strings.Contains(prompt, "Generate a very short title"):
		return "Test Council Chat"
	case strings.Contains(prompt, "Summarize the following previous final answers"):
		return "compact summary"
	default:
		return "answer from " + model
	}
}

func (f *fakeProvider) Complete(ctx context.Context, model string, messages []provider.Message, timeout time.Duration) (*provider.Completion, error) {
	return &provider.Completion{Content: f.reply(model, messages)}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, model string, messages []provider.Message, timeout time.Duration) (<-chan provider.Chunk, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	text := f.reply(model, messages)
	ch := make(chan provider.Chunk, 3)
	ch <- provider.Chunk{Type: provider.ChunkStart}
	ch <- provider.Chunk{Type: provider.ChunkDelta, Content: text}
	ch <- provider.Chunk{Type: provider.ChunkDone, Response: text}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]string, error) {
	return f.models, nil
}

type testEnv struct {
	server *Server
	svc    *services.ConversationService
	fake   *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	fileStore, err := store.NewFileStore(dir)
	require.NoError(t, err)

	convSvc := services.NewConversationService(fileStore)

	councilCfg, err := services.NewConfigStore(filepath.Join(dir, "config.json"), services.CouncilConfig{
		Provider:      "openrouter",
		CouncilModels: []string{"m1", "m2"},
		ChairmanModel: "m3",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = councilCfg.Close() })

	fake := &fakeProvider{name: "openrouter", models: []string{"m1", "m2", "m3"}}
	registry := provider.NewRegistry(fake, fake, "openrouter")
	orch := council.New(registry, councilCfg, council.Options{})
	contexts := services.NewContextService(convSvc, orch, 3, 3)

	server := NewServer(Options{
		Conversations: convSvc,
		Contexts:      contexts,
		CouncilConfig: councilCfg,
		Orchestrator:  orch,
		Registry:      registry,
		Ollama:        provider.NewOllama(provider.OllamaOptions{BaseURL: "http://127.0.0.1:1"}),
	})

	return &testEnv{server: server, svc: convSvc, fake: fake}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) createConversation(t *testing.T) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var convo models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convo))
	require.NotEmpty(t, convo.ID)
	return convo.ID
}

// sseTypes extracts the event type sequence from an SSE response body.
func sseTypes(t *testing.T, body string) []string {
	t.Helper()
	var types []string
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		types = append(types, frame["type"].(string))
	}
	return types
}

var errStreamDown = errors.New("stream transport down")
