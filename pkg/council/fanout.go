package council

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/pkg/provider"
)

// mergedBufferSize bounds the merged stream so a slow consumer applies
// backpressure to every worker instead of growing memory.
const mergedBufferSize = 64

// sourceEvent is one chunk from one member's stream, tagged with the
// model that produced it.
type sourceEvent struct {
	Model string
	Chunk provider.Chunk
}

// fanOut starts one streaming worker per model and merges their chunks
// into a single channel. Chunks from the same model keep their order;
// chunks from different models interleave by arrival. The channel
// closes once every worker has delivered its terminal chunk or the
// context is cancelled.
func fanOut(ctx context.Context, p provider.Provider, modelNames []string, messages []provider.Message, timeout time.Duration) <-chan sourceEvent {
	out := make(chan sourceEvent, mergedBufferSize)

	var wg sync.WaitGroup
	for _, model := range modelNames {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			streamWorker(ctx, p, model, messages, timeout, out)
		}(model)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// streamWorker forwards one model's stream into the merged channel.
// Every worker ends with exactly one terminal chunk: a stream that
// closes without one is reported as an error so the pipeline never
// waits on a source that silently vanished.
func streamWorker(ctx context.Context, p provider.Provider, model string, messages []provider.Message, timeout time.Duration, out chan<- sourceEvent) {
	send := func(c provider.Chunk) bool {
		select {
		case out <- sourceEvent{Model: model, Chunk: c}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	ch, err := p.Stream(ctx, model, messages, timeout)
	if err != nil {
		send(provider.Chunk{Type: provider.ChunkError, Message: err.Error()})
		return
	}

	terminal := false
	for chunk := range ch {
		if !send(chunk) {
			return
		}
		if chunk.Type == provider.ChunkDone || chunk.Type == provider.ChunkError {
			terminal = true
			// Drain so the producer goroutine can exit.
			for range ch {
			}
			return
		}
	}
	if !terminal {
		send(provider.Chunk{Type: provider.ChunkError, Message: "stream ended without completion"})
	}
}

// stageCollector accumulates per-model stream state for one stage.
type stageCollector struct {
	order    []string
	partial  map[string]*strings.Builder
	finished map[string]string
	failed   map[string]bool
}

func newStageCollector(modelNames []string) *stageCollector {
	c := &stageCollector{
		order:    modelNames,
		partial:  make(map[string]*strings.Builder, len(modelNames)),
		finished: make(map[string]string, len(modelNames)),
		failed:   make(map[string]bool),
	}
	for _, m := range modelNames {
		c.partial[m] = &strings.Builder{}
	}
	return c
}

func (c *stageCollector) addDelta(model, content string) {
	if b := c.partial[model]; b != nil {
		b.WriteString(content)
	}
}

// finish records a member's final text, preferring the full text from
// the terminal chunk over locally accumulated deltas.
func (c *stageCollector) finish(model, response string) {
	if response == "" {
		if b := c.partial[model]; b != nil {
			response = b.String()
		}
	}
	c.finished[model] = response
}

func (c *stageCollector) fail(model string) {
	c.failed[model] = true
}

// successes returns the finished (model, text) pairs in council order,
// dropping failed members. Partial text from a worker that errored
// after streaming some chunks is discarded.
func (c *stageCollector) successes() []stageResult {
	var results []stageResult
	for _, m := range c.order {
		if c.failed[m] {
			continue
		}
		text, ok := c.finished[m]
		if !ok {
			continue
		}
		results = append(results, stageResult{Model: m, Text: text})
	}
	return results
}

type stageResult struct {
	Model string
	Text  string
}
