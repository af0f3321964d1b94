package council

import (
	"context"
	"log/slog"
	"strings"

	"github.com/conclave-ai/conclave/pkg/provider"
)

const (
	defaultTitle      = "New Conversation"
	remoteTitleModel  = "google/gemini-2.5-flash"
	maxTitleLength    = 50
	titleTruncateMark = "..."
)

// GenerateTitle produces a short conversation title from the first
// user message. Failures fall back to the default title; a title is
// never worth failing a turn over.
func (o *Orchestrator) GenerateTitle(ctx context.Context, providerName, query string) string {
	p, err := o.registry.Resolve(providerName)
	if err != nil {
		return defaultTitle
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.TitleTimeout)
	defer cancel()

	model := remoteTitleModel
	if o.registry.IsLocal(providerName) {
		if installed, err := p.ListModels(ctx); err == nil && len(installed) > 0 {
			model = installed[0]
		}
	}

	messages := []provider.Message{{Role: provider.RoleUser, Content: buildTitlePrompt(query)}}
	completion, err := p.Complete(ctx, model, messages, o.opts.TitleTimeout)
	if err != nil || completion == nil {
		slog.Warn("Title generation failed", "model", model, "error", err)
		return defaultTitle
	}

	title := strings.TrimSpace(completion.Content)
	title = strings.Trim(title, `"'`)
	if title == "" {
		return defaultTitle
	}
	if runes := []rune(title); len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength-len(titleTruncateMark)]) + titleTruncateMark
	}
	return title
}
