package models

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// TaskPhase is the position in the plan → work → review progression.
type TaskPhase string

const (
	PhasePlan   TaskPhase = "plan"
	PhaseWork   TaskPhase = "work"
	PhaseReview TaskPhase = "review"
)

// PlanStep is one normalized step of a structured plan.
type PlanStep struct {
	Action      string   `json:"action"`
	Files       []string `json:"files,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Plan is the structured plan parsed from the planning-phase response.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// TaskState is the full durable state of a running task. It is mutated only
// by the processor instance that owns the user and serialized wholesale into
// the checkpoint store at iteration boundaries.
type TaskState struct {
	TaskID     string     `json:"taskId"`
	UserID     string     `json:"userId"`
	ChatID     string     `json:"chatId"`
	ModelAlias string     `json:"modelAlias"`
	Messages   []Message  `json:"messages"`
	Status     TaskStatus `json:"status"`
	Phase      TaskPhase  `json:"phase"`

	Iterations              int `json:"iterations"`
	WorkPhaseStartIteration int `json:"workPhaseStartIteration"`

	ToolsUsed      []string `json:"toolsUsed"`
	ToolSignatures []string `json:"toolSignatures,omitempty"`

	StartTime  time.Time `json:"startTime"`
	LastUpdate time.Time `json:"lastUpdate"`

	StatusMessageID string `json:"statusMessageId,omitempty"`
	Result          string `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`

	StructuredPlan *Plan    `json:"structuredPlan,omitempty"`
	SteeringQueue  []string `json:"steeringQueue,omitempty"`

	// ReasoningLevel and ResponseFormat are the request's model-call options,
	// applied to every call of the task.
	ReasoningLevel string `json:"reasoningLevel,omitempty"`
	ResponseFormat string `json:"responseFormat,omitempty"`

	AutoResume  bool `json:"autoResume,omitempty"`
	ResumeCount int  `json:"resumeCount,omitempty"`

	// TriedModels records aliases already attempted during rotation so the
	// same model is never retried within one task.
	TriedModels []string `json:"triedModels,omitempty"`

	// Unknown preserves fields written by newer builds so a checkpoint
	// survives a round-trip through an older one.
	Unknown map[string]json.RawMessage `json:"-"`
}

// HasSignature reports whether the (tool, normalized args) fingerprint was
// already recorded for this task.
func (t *TaskState) HasSignature(sig string) bool {
	for _, s := range t.ToolSignatures {
		if s == sig {
			return true
		}
	}
	return false
}

// RecordToolCall appends the tool name and its dedup fingerprint.
func (t *TaskState) RecordToolCall(call ToolCall) {
	t.ToolsUsed = append(t.ToolsUsed, call.Name)
	sig := call.Signature()
	if !t.HasSignature(sig) {
		t.ToolSignatures = append(t.ToolSignatures, sig)
	}
}

// Terminal reports whether the task reached a final status.
func (t *TaskState) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// taskStateAlias breaks the MarshalJSON recursion.
type taskStateAlias TaskState

// MarshalJSON merges preserved unknown fields back into the serialized
// object. Known fields always win.
func (t TaskState) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(taskStateAlias(t))
	if err != nil {
		return nil, err
	}
	if len(t.Unknown) == 0 {
		return known, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Unknown {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known fields and stashes everything else in Unknown.
func (t *TaskState) UnmarshalJSON(data []byte) error {
	var a taskStateAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	knownJSON, err := json.Marshal(a)
	if err != nil {
		return err
	}
	var knownKeys map[string]json.RawMessage
	if err := json.Unmarshal(knownJSON, &knownKeys); err != nil {
		return err
	}
	for k := range raw {
		if _, ok := knownKeys[k]; ok {
			delete(raw, k)
		}
	}
	*t = TaskState(a)
	if len(raw) > 0 {
		t.Unknown = raw
	}
	return nil
}

// CheckpointInfo summarizes a saved checkpoint slot for listings.
type CheckpointInfo struct {
	Slot       string    `json:"slot"`
	SavedAt    time.Time `json:"savedAt"`
	Iterations int       `json:"iterations"`
	ToolsUsed  []string  `json:"toolsUsed,omitempty"`
	Completed  bool      `json:"completed"`
	TaskPrompt string    `json:"taskPrompt,omitempty"`
	ModelAlias string    `json:"modelAlias,omitempty"`
}
