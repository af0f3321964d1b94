// Package council runs the three-stage deliberation pipeline: fan the
// query out to every member, have the members rank each other's
// anonymized answers, then let the chairman synthesize a final answer.
package council

// EventType identifies a streaming pipeline event.
type EventType string

const (
	EventStage1Start      EventType = "stage1_start"
	EventStage1ModelStart EventType = "stage1_model_start"
	EventStage1Chunk      EventType = "stage1_chunk"
	EventStage1Complete   EventType = "stage1_complete"

	EventStage2Start      EventType = "stage2_start"
	EventStage2ModelStart EventType = "stage2_model_start"
	EventStage2Metadata   EventType = "stage2_metadata"
	EventStage2Chunk      EventType = "stage2_chunk"
	EventStage2Complete   EventType = "stage2_complete"

	EventStage3Start    EventType = "stage3_start"
	EventStage3Chunk    EventType = "stage3_chunk"
	EventStage3Complete EventType = "stage3_complete"

	EventTitleComplete EventType = "title_complete"
	EventComplete      EventType = "complete"
	EventError         EventType = "error"
)

// Event is one streaming update. Model and Content accompany chunk
// events, Data carries stage results on completion events, Metadata
// carries the label mapping and aggregate rankings, and Message
// describes failures.
type Event struct {
	Type     EventType `json:"type"`
	Model    string    `json:"model,omitempty"`
	Content  string    `json:"content,omitempty"`
	Data     any       `json:"data,omitempty"`
	Metadata any       `json:"metadata,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// EmitFunc receives pipeline events in order. Implementations own
// delivery; a slow consumer slows the pipeline rather than losing
// events.
type EmitFunc func(Event)
