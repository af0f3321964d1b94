package council

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/pkg/models"
	"github.com/conclave-ai/conclave/pkg/provider"
)

// Config supplies the council composition. Implementations may change
// values between runs; a run reads each value once.
type Config interface {
	Provider() string
	CouncilModels() []string
	ChairmanModel() string
}

// Options carries orchestrator tunables.
type Options struct {
	// RequestTimeout bounds each individual model call.
	RequestTimeout time.Duration
	// TitleTimeout bounds conversation title generation.
	TitleTimeout time.Duration
}

const (
	defaultRequestTimeout = 120 * time.Second
	defaultTitleTimeout   = 30 * time.Second
)

// ErrNoMembers is returned when no council member can serve a run,
// for example when the local daemon has none of the configured models
// installed.
var ErrNoMembers = errors.New("no council members available")

const (
	synthesisFailureText = "Error: Unable to generate final synthesis."
	allFailedText        = "All models failed to respond. Please try again."
)

// RunInput describes one deliberation request.
type RunInput struct {
	// Query is the user's message.
	Query string
	// PriorContext is flattened earlier-conversation context. Ignored
	// when PriorMessages is set.
	PriorContext string
	// PriorMessages is the structured chat history to replay to the
	// members before the query.
	PriorMessages []provider.Message
	// ReplyToResponse is the earlier response text the user is
	// replying to. It takes priority over PriorContext framing.
	ReplyToResponse string
	// Provider selects the backend; empty uses the configured default.
	Provider string
	// SkipStages sends the query straight to the chairman.
	SkipStages bool
}

// Result is the outcome of a full run.
type Result struct {
	Stage1       []models.ModelResponse
	Stage2       []models.ModelRanking
	Stage3       models.ChairmanAnswer
	LabelToModel map[string]string
	Aggregate    []AggregateRanking
}

// Orchestrator drives the three deliberation stages over a provider
// registry.
type Orchestrator struct {
	registry *provider.Registry
	config   Config
	opts     Options
}

func New(registry *provider.Registry, config Config, opts Options) *Orchestrator {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.TitleTimeout <= 0 {
		opts.TitleTimeout = defaultTitleTimeout
	}
	return &Orchestrator{registry: registry, config: config, opts: opts}
}

// queries holds the two prompt views of one request: the stage-1 view
// keeps structured history intact, while the combined view flattens
// everything into a single question for stages 2 and 3.
type queries struct {
	stage1Query   string
	stage1Context string
	stage1History []provider.Message
	combined      string
}

func resolveQueries(in RunInput) queries {
	if in.ReplyToResponse != "" {
		combined := fmt.Sprintf("The user is replying to this previous response:\n\n%q\n\nUser's reply: %s",
			in.ReplyToResponse, in.Query)
		if in.PriorContext != "" {
			combined += "\n\nAdditional context from earlier in the conversation:\n" + in.PriorContext
		}
		return queries{stage1Query: combined, combined: combined}
	}

	q := queries{stage1Query: in.Query, stage1History: in.PriorMessages, combined: in.Query}
	if len(in.PriorMessages) == 0 && in.PriorContext != "" {
		q.stage1Context = in.PriorContext
		q.combined = in.Query + "\n\nFor context, here are previous responses:\n" + in.PriorContext
	}
	return q
}

// resolveMembers returns the council membership for this run. With a
// local provider the configured list is filtered down to installed
// models.
func (o *Orchestrator) resolveMembers(ctx context.Context, p provider.Provider, providerName string) ([]string, error) {
	members := o.config.CouncilModels()
	if o.registry.IsLocal(providerName) {
		installed, err := p.ListModels(ctx)
		if err != nil {
			slog.Warn("Could not list installed models, keeping configured council", "error", err)
		} else {
			var available []string
			for _, m := range members {
				if provider.HasModel(installed, m) {
					available = append(available, m)
				}
			}
			members = available
		}
	}
	if len(members) == 0 {
		return nil, ErrNoMembers
	}
	return members, nil
}

// resolveChairman picks the chairman, substituting the first stage-1
// respondent when the configured chairman is not installed locally.
func (o *Orchestrator) resolveChairman(ctx context.Context, p provider.Provider, providerName string, stage1 []models.ModelResponse) string {
	chairman := o.config.ChairmanModel()
	if !o.registry.IsLocal(providerName) {
		return chairman
	}
	installed, err := p.ListModels(ctx)
	if err != nil {
		return chairman
	}
	if provider.HasModel(installed, chairman) {
		return chairman
	}
	if len(stage1) > 0 {
		return stage1[0].Model
	}
	return chairman
}

// Run executes the pipeline without streaming. Member failures are
// absorbed: a run only fails when the context is cancelled or no
// member produces a stage-1 answer, and even the latter returns a
// sentinel result rather than an error so callers can persist it.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (*Result, error) {
	return o.run(ctx, in, nil)
}

// RunStream executes the pipeline and reports progress through emit.
// Events arrive in stage order; chunks from one model stay ordered
// while different models interleave.
func (o *Orchestrator) RunStream(ctx context.Context, in RunInput, emit EmitFunc) (*Result, error) {
	return o.run(ctx, in, emit)
}

func (o *Orchestrator) run(ctx context.Context, in RunInput, emit EmitFunc) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	p, err := o.registry.Resolve(in.Provider)
	if err != nil {
		return nil, err
	}
	q := resolveQueries(in)

	if in.SkipStages {
		return o.runDirect(ctx, p, in.Provider, q, emit)
	}

	members, err := o.resolveMembers(ctx, p, in.Provider)
	if err != nil {
		return nil, err
	}

	// Stage 1: independent answers from every member.
	emit(Event{Type: EventStage1Start})
	stage1Messages := buildStage1Messages(q.stage1Query, q.stage1Context, q.stage1History)
	stage1Raw, err := o.runStage(ctx, p, members, stage1Messages, emit, stage1Events)
	if err != nil {
		return nil, err
	}
	stage1 := make([]models.ModelResponse, 0, len(stage1Raw))
	for _, r := range stage1Raw {
		stage1 = append(stage1, models.ModelResponse{Model: r.Model, Response: r.Text})
	}
	if len(stage1) == 0 {
		slog.Warn("All council members failed in stage 1", "members", members)
		result := &Result{
			Stage1:       []models.ModelResponse{},
			Stage2:       []models.ModelRanking{},
			Stage3:       models.ChairmanAnswer{Model: "error", Response: allFailedText},
			LabelToModel: map[string]string{},
		}
		emit(Event{Type: EventError, Message: allFailedText})
		return result, nil
	}
	emit(Event{Type: EventStage1Complete, Data: stage1})

	// Stage 2: members rank the anonymized stage-1 answers. The same
	// members answer again even if some failed stage 1; only stage-1
	// respondents are ranked.
	emit(Event{Type: EventStage2Start})
	labelToModel := BuildLabelMap(stage1)
	emit(Event{Type: EventStage2Metadata, Data: map[string]any{"label_to_model": labelToModel}})

	rankingMessages := []provider.Message{{Role: provider.RoleUser, Content: buildRankingPrompt(q.combined, stage1)}}
	stage2Raw, err := o.runStage(ctx, p, members, rankingMessages, emit, stage2Events)
	if err != nil {
		return nil, err
	}
	stage2 := make([]models.ModelRanking, 0, len(stage2Raw))
	for _, r := range stage2Raw {
		stage2 = append(stage2, models.ModelRanking{
			Model:         r.Model,
			Ranking:       r.Text,
			ParsedRanking: ParseRanking(r.Text),
		})
	}
	aggregate := AggregateRankings(stage2, labelToModel)
	emit(Event{
		Type: EventStage2Complete,
		Data: stage2,
		Metadata: map[string]any{
			"label_to_model":     labelToModel,
			"aggregate_rankings": aggregate,
		},
	})

	// Stage 3: chairman synthesis over the full transcript.
	emit(Event{Type: EventStage3Start})
	chairman := o.resolveChairman(ctx, p, in.Provider, stage1)
	chairmanMessages := []provider.Message{{Role: provider.RoleUser, Content: buildChairmanPrompt(q.combined, stage1, stage2)}}
	stage3 := o.runChairman(ctx, p, chairman, chairmanMessages, emit)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emit(Event{Type: EventStage3Complete, Data: stage3})

	return &Result{
		Stage1:       stage1,
		Stage2:       stage2,
		Stage3:       stage3,
		LabelToModel: labelToModel,
		Aggregate:    aggregate,
	}, nil
}

// runDirect skips deliberation and streams the chairman's answer to
// the combined query.
func (o *Orchestrator) runDirect(ctx context.Context, p provider.Provider, providerName string, q queries, emit EmitFunc) (*Result, error) {
	emit(Event{Type: EventStage3Start})
	chairman := o.resolveChairman(ctx, p, providerName, nil)
	messages := []provider.Message{{Role: provider.RoleUser, Content: q.combined}}
	stage3 := o.runChairman(ctx, p, chairman, messages, emit)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emit(Event{Type: EventStage3Complete, Data: stage3})
	return &Result{
		Stage1:       []models.ModelResponse{},
		Stage2:       []models.ModelRanking{},
		Stage3:       stage3,
		LabelToModel: map[string]string{},
	}, nil
}

// stageEvents maps generic worker progress onto stage-specific event
// types.
type stageEvents struct {
	modelStart EventType
	chunk      EventType
}

var (
	stage1Events = stageEvents{modelStart: EventStage1ModelStart, chunk: EventStage1Chunk}
	stage2Events = stageEvents{modelStart: EventStage2ModelStart, chunk: EventStage2Chunk}
)

// runStage fans the same messages out to every member and collects the
// successful results in council order. Worker failures are dropped
// from the result rather than failing the stage.
func (o *Orchestrator) runStage(ctx context.Context, p provider.Provider, members []string, messages []provider.Message, emit EmitFunc, ev stageEvents) ([]stageResult, error) {
	collector := newStageCollector(members)
	for event := range fanOut(ctx, p, members, messages, o.opts.RequestTimeout) {
		switch event.Chunk.Type {
		case provider.ChunkStart:
			emit(Event{Type: ev.modelStart, Model: event.Model})
		case provider.ChunkDelta:
			collector.addDelta(event.Model, event.Chunk.Content)
			emit(Event{Type: ev.chunk, Model: event.Model, Content: event.Chunk.Content})
		case provider.ChunkDone:
			collector.finish(event.Model, event.Chunk.Response)
		case provider.ChunkError:
			slog.Warn("Council member failed", "model", event.Model, "error", event.Chunk.Message)
			collector.fail(event.Model)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return collector.successes(), nil
}

// runChairman streams the chairman's synthesis, converting failures
// into an error-text answer instead of an error return so a partial
// council run still yields a persistable result.
func (o *Orchestrator) runChairman(ctx context.Context, p provider.Provider, chairman string, messages []provider.Message, emit EmitFunc) models.ChairmanAnswer {
	ch, err := p.Stream(ctx, chairman, messages, o.opts.RequestTimeout)
	if err != nil {
		slog.Error("Chairman stream failed to open", "model", chairman, "error", err)
		return models.ChairmanAnswer{Model: chairman, Response: synthesisFailureText}
	}

	var accumulated strings.Builder
	for chunk := range ch {
		switch chunk.Type {
		case provider.ChunkDelta:
			accumulated.WriteString(chunk.Content)
			emit(Event{Type: EventStage3Chunk, Model: chairman, Content: chunk.Content})
		case provider.ChunkDone:
			response := chunk.Response
			if response == "" {
				response = accumulated.String()
			}
			return models.ChairmanAnswer{Model: chairman, Response: response}
		case provider.ChunkError:
			slog.Error("Chairman synthesis failed", "model", chairman, "error", chunk.Message)
			return models.ChairmanAnswer{Model: chairman, Response: synthesisFailureText}
		}
	}
	if accumulated.Len() > 0 {
		return models.ChairmanAnswer{Model: chairman, Response: accumulated.String()}
	}
	return models.ChairmanAnswer{Model: chairman, Response: synthesisFailureText}
}

// Summarize compacts earlier final answers into one paragraph using
// the chairman. It returns the summary text and the model that wrote
// it.
func (o *Orchestrator) Summarize(ctx context.Context, providerName string, finals []string) (string, string, error) {
	p, err := o.registry.Resolve(providerName)
	if err != nil {
		return "", "", err
	}
	chairman := o.resolveChairman(ctx, p, providerName, nil)
	messages := []provider.Message{{Role: provider.RoleUser, Content: buildSummaryPrompt(finals)}}

	completion, err := p.Complete(ctx, chairman, messages, o.opts.RequestTimeout)
	if err != nil {
		return "", "", fmt.Errorf("summary generation failed: %w", err)
	}
	if completion == nil {
		return "", "", fmt.Errorf("summary model %s unavailable", chairman)
	}
	text := strings.TrimSpace(completion.Content)
	if text == "" {
		return "", "", errors.New("summary generation returned empty text")
	}
	return text, chairman, nil
}
