// Package provider abstracts LLM backends behind a uniform completion
// and streaming interface so the council pipeline never depends on a
// concrete vendor API.
package provider

import (
	"context"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the result of a non-streaming request.
type Completion struct {
	Content   string
	Reasoning string
}

// ChunkType discriminates streaming events emitted by a backend.
type ChunkType string

const (
	// ChunkStart is emitted once when the model begins responding.
	ChunkStart ChunkType = "start"
	// ChunkDelta carries an incremental text fragment.
	ChunkDelta ChunkType = "chunk"
	// ChunkDone carries the full accumulated text and ends the stream.
	ChunkDone ChunkType = "done"
	// ChunkError ends the stream with a failure description.
	ChunkError ChunkType = "error"
)

// Chunk is one streaming event. Content is set for ChunkDelta,
// Response for ChunkDone and Message for ChunkError.
type Chunk struct {
	Type     ChunkType
	Content  string
	Response string
	Message  string
}

// Provider is the backend port. Complete returns (nil, nil) when the
// backend cannot serve the requested model, so callers can distinguish
// "model not found" from a transport failure.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, messages []Message, timeout time.Duration) (*Completion, error)
	// Stream returns a channel that yields exactly one ChunkStart,
	// zero or more ChunkDelta and exactly one terminal chunk, then
	// closes. A setup failure is reported on the channel, not as an
	// error return, unless the request itself cannot be built.
	Stream(ctx context.Context, model string, messages []Message, timeout time.Duration) (<-chan Chunk, error)
	ListModels(ctx context.Context) ([]string, error)
}

// emit delivers c on ch, or gives up when ctx ends first. It returns
// false when the consumer is gone so the producer can unwind instead
// of blocking on an abandoned channel.
func emit(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// promote converts a blocking completion call into the canonical
// start/delta/done chunk sequence. Backends without native streaming
// use it so consumers see one uniform shape.
func promote(ctx context.Context, ch chan<- Chunk, run func() (string, error)) {
	defer close(ch)
	text, err := run()
	if err != nil {
		emit(ctx, ch, Chunk{Type: ChunkError, Message: err.Error()})
		return
	}
	if !emit(ctx, ch, Chunk{Type: ChunkStart}) {
		return
	}
	if !emit(ctx, ch, Chunk{Type: ChunkDelta, Content: text}) {
		return
	}
	emit(ctx, ch, Chunk{Type: ChunkDone, Response: text})
}

// HasModel reports whether model is present in installed, treating a
// bare name and its ":latest" tag as the same model.
func HasModel(installed []string, model string) bool {
	for _, have := range installed {
		if have == model {
			return true
		}
		if strings.TrimSuffix(have, ":latest") == model {
			return true
		}
		if strings.TrimSuffix(model, ":latest") == have {
			return true
		}
	}
	return false
}
