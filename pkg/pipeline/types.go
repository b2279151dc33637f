package pipeline

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventRunStarted          EventType = "run.started"
	EventRunCompleted        EventType = "run.completed"
	EventRunFailed           EventType = "run.failed"
	EventStageStarted        EventType = "stage.started"
	EventStageCompleted      EventType = "stage.completed"
	EventStageFailed         EventType = "stage.failed"
	EventToolStarted         EventType = "tool.started"
	EventToolCompleted       EventType = "tool.completed"
	EventQualityScored       EventType = "quality.scored"
	EventRefinementStarted   EventType = "refinement.started"
	EventRefinementCompleted EventType = "refinement.completed"
)

// KnownEventTypes lists the closed event-type set in a stable order.
var KnownEventTypes = []EventType{
	EventRunStarted,
	EventRunCompleted,
	EventRunFailed,
	EventStageStarted,
	EventStageCompleted,
	EventStageFailed,
	EventToolStarted,
	EventToolCompleted,
	EventQualityScored,
	EventRefinementStarted,
	EventRefinementCompleted,
}

func (t EventType) Known() bool {
	for _, k := range KnownEventTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Terminal reports whether this event type ends a run.
func (t EventType) Terminal() bool {
	return t == EventRunCompleted || t == EventRunFailed
}

type Stage string

const (
	StagePlanning   Stage = "planning"
	StageValidation Stage = "validation"
	StageRefinement Stage = "refinement"
	StageExecution  Stage = "execution"
	StageDone       Stage = "done"
)

// StageOrder is the canonical pipeline phase ordering. Refinement may be
// entered and left multiple times between validation and execution.
var StageOrder = []Stage{
	StagePlanning,
	StageValidation,
	StageRefinement,
	StageExecution,
	StageDone,
}

type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// Event is a single frame from the generation stream. Events are append-only;
// Payload is kept raw and decoded on demand by the typed accessors in parse.go.
type Event struct {
	RunID   string          `json:"run_id"`
	Seq     int64           `json:"seq"`
	Ts      string          `json:"ts"`
	Type    EventType       `json:"type"`
	Stage   Stage           `json:"stage,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// receivedAt is filled by ParseEvent from Ts (best effort).
	receivedAt time.Time
}

// Time returns the event timestamp parsed from Ts, or the zero time when the
// server sent something unparseable.
func (e Event) Time() time.Time {
	return e.receivedAt
}

// Plan is the generated content attached to run.completed.
type Plan struct {
	ID       string          `json:"id"`
	Title    string          `json:"title,omitempty"`
	Content  string          `json:"content,omitempty"`
	Sections json.RawMessage `json:"sections,omitempty"`
}

// QualityCheck is a single structural check inside a quality report.
type QualityCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

type QualityDecision string

const (
	DecisionAccept QualityDecision = "accept"
	DecisionRefine QualityDecision = "refine"
)

// QualityReport is carried by quality.scored events.
type QualityReport struct {
	Score    float64         `json:"score"`
	Checks   []QualityCheck  `json:"checks,omitempty"`
	Decision QualityDecision `json:"decision,omitempty"`
}

// Scorecard aggregates pipeline-wide metrics attached to a completed run.
type Scorecard map[string]any

// ToolPayload is carried by tool.started / tool.completed events.
type ToolPayload struct {
	Name string `json:"name"`
}

// FailurePayload is carried by run.failed events.
type FailurePayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// CompletionPayload is carried by run.completed events. Plan and Scorecard
// are optional; absence means the server did not attach the artifact.
type CompletionPayload struct {
	Plan      *Plan     `json:"plan,omitempty"`
	Scorecard Scorecard `json:"scorecard,omitempty"`
}

// StartPayload is carried by run.started events.
type StartPayload struct {
	RunID string `json:"run_id,omitempty"`
}
