package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Complete(ctx context.Context, model string, messages []Message, timeout time.Duration) (*Completion, error) {
	return &Completion{Content: s.name + ":" + model}, nil
}
func (s *stubProvider) Stream(ctx context.Context, model string, messages []Message, timeout time.Duration) (<-chan Chunk, error) {
	ch := make(chan Chunk, 3)
	ch <- Chunk{Type: ChunkStart}
	ch <- Chunk{Type: ChunkDone, Response: s.name + ":" + model}
	close(ch)
	return ch, nil
}
func (s *stubProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{s.name + "-model"}, nil
}

func TestRegistryResolve(t *testing.T) {
	remote := &stubProvider{name: "openrouter"}
	local := &stubProvider{name: "ollama"}
	reg := NewRegistry(remote, local, "openrouter")

	tests := []struct {
		hint     string
		expected string
	}{
		{"", "openrouter"},
		{"openrouter", "openrouter"},
		{"ollama", "ollama"},
		{"local", "ollama"},
		{"OLLAMA", "ollama"},
		{"hybrid", "hybrid"},
	}
	for _, tt := range tests {
		t.Run("hint "+tt.hint, func(t *testing.T) {
			p, err := reg.Resolve(tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p.Name())
		})
	}

	_, err := reg.Resolve("bedrock")
	assert.Error(t, err)
}

func TestRegistryIsLocal(t *testing.T) {
	reg := NewRegistry(&stubProvider{name: "openrouter"}, &stubProvider{name: "ollama"}, "ollama")
	assert.True(t, reg.IsLocal("ollama"))
	assert.True(t, reg.IsLocal("local"))
	assert.True(t, reg.IsLocal(""))
	assert.False(t, reg.IsLocal("openrouter"))
}

func TestHybridRoutesByModelName(t *testing.T) {
	remote := &stubProvider{name: "openrouter"}
	local := &stubProvider{name: "ollama"}
	reg := NewRegistry(remote, local, "openrouter")

	p, err := reg.Resolve("hybrid")
	require.NoError(t, err)

	got, err := p.Complete(context.Background(), "openai/gpt-5.2", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "openrouter:openai/gpt-5.2", got.Content)

	got, err = p.Complete(context.Background(), "gemma3", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ollama:gemma3", got.Content)
}
