package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Registry resolves a provider hint from a request or the council
// config to a concrete backend.
type Registry struct {
	remote      Provider // openrouter
	local       Provider // ollama
	defaultName string
}

// NewRegistry wires the remote and local backends. defaultName is used
// when a request carries no provider hint.
func NewRegistry(remote, local Provider, defaultName string) *Registry {
	if defaultName == "" {
		defaultName = "openrouter"
	}
	return &Registry{remote: remote, local: local, defaultName: defaultName}
}

// Resolve maps a provider hint to a backend. "local" is accepted as an
// alias for "ollama". The hybrid mode routes per model.
func (r *Registry) Resolve(hint string) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(hint))
	if name == "" {
		name = r.defaultName
	}
	switch name {
	case "openrouter":
		return r.remote, nil
	case "ollama", "local":
		return r.local, nil
	case "hybrid":
		return &hybrid{remote: r.remote, local: r.local}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", hint)
	}
}

// IsLocal reports whether a hint selects the local backend, which is
// the mode where council membership is filtered by installed models.
func (r *Registry) IsLocal(hint string) bool {
	name := strings.ToLower(strings.TrimSpace(hint))
	if name == "" {
		name = r.defaultName
	}
	return name == "ollama" || name == "local"
}

// DefaultName returns the configured fallback provider name.
func (r *Registry) DefaultName() string { return r.defaultName }

// hybrid routes each model by name shape: slash-qualified names like
// "openai/gpt-5.2" go to the remote backend, bare tags to the local one.
type hybrid struct {
	remote Provider
	local  Provider
}

func (h *hybrid) Name() string { return "hybrid" }

func (h *hybrid) pick(model string) Provider {
	if strings.Contains(model, "/") {
		return h.remote
	}
	return h.local
}

func (h *hybrid) Complete(ctx context.Context, model string, messages []Message, timeout time.Duration) (*Completion, error) {
	return h.pick(model).Complete(ctx, model, messages, timeout)
}

func (h *hybrid) Stream(ctx context.Context, model string, messages []Message, timeout time.Duration) (<-chan Chunk, error) {
	return h.pick(model).Stream(ctx, model, messages, timeout)
}

// ListModels merges both backends; the local list is best-effort since
// the daemon may be down while remote models still work.
func (h *hybrid) ListModels(ctx context.Context) ([]string, error) {
	remote, err := h.remote.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	local, err := h.local.ListModels(ctx)
	if err != nil {
		return remote, nil
	}
	return append(remote, local...), nil
}
