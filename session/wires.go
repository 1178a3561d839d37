package session

import (
	"github.com/dialogmesh/brain/registry"
)

// AnswerOption is one selectable answer with its accepted aliases.
type AnswerOption struct {
	Key     string   `json:"key"`
	Label   string   `json:"label,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

// AnswerSheet describes the expected user response for the next turn.
// The Type field selects which of the variant fields apply.
type AnswerSheet struct {
	Type  registry.AnswerSheetType `json:"type"`
	Param string                   `json:"param"`

	// confirmation / single_choice / multiple_choice
	Options       []AnswerOption `json:"options,omitempty"`
	MinSelections int            `json:"min_selections,omitempty"`
	MaxSelections int            `json:"max_selections,omitempty"`

	// entity
	Pattern string `json:"pattern,omitempty"`
	Format  string `json:"format,omitempty"`

	// text
	MinLength int `json:"min_length,omitempty"`
	MaxLength int `json:"max_length,omitempty"`

	Prompt string `json:"prompt,omitempty"`
}

// Signals returns the union of option keys and aliases; it feeds the
// available_signals wire so the intent detector can bias next-turn
// matching.
func (a *AnswerSheet) Signals() []string {
	if a == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, opt := range a.Options {
		add(opt.Key)
		for _, alias := range opt.Aliases {
			add(alias)
		}
	}
	return out
}

// Wires is the fixed-shape record of the seven brain-owned fields the
// intent detector reads on the next turn.
type Wires struct {
	ExpectingResponse   bool                   `json:"expecting_response"`
	AnswerSheet         *AnswerSheet           `json:"answer_sheet,omitempty"`
	ActiveTask          *ActiveTask            `json:"active_task,omitempty"`
	PreviousIntents     []IntentSummary        `json:"previous_intents"`
	AvailableSignals    []string               `json:"available_signals,omitempty"`
	ConversationContext map[string]interface{} `json:"conversation_context,omitempty"`
	PopularActions      []string               `json:"popular_actions,omitempty"`
}

// State aggregates everything the brain owns for one session. The
// pipeline mutates it only while holding the session's turn lock.
type State struct {
	SessionID  string
	BrandID    string
	InstanceID string
	TurnNumber int

	Ledger *Ledger
	Task   *ActiveTask
	Wires  Wires
	Stream *StreamBus
}

// NewState creates empty session state.
func NewState(sessionID, brandID, instanceID string) *State {
	return &State{
		SessionID:  sessionID,
		BrandID:    brandID,
		InstanceID: instanceID,
		Ledger:     NewLedger(),
		Stream:     NewStreamBus(0),
	}
}

// ActiveTask returns the current non-terminal task, nil otherwise.
func (s *State) ActiveTask() *ActiveTask {
	if s.Task != nil && !s.Task.Status.Terminal() {
		return s.Task
	}
	return nil
}

// SetActiveTask installs the session's single active task, replacing
// any terminal leftover.
func (s *State) SetActiveTask(task *ActiveTask) {
	s.Task = task
}

// ClearActiveTask drops the task reference after completion or
// cancellation.
func (s *State) ClearActiveTask() {
	s.Task = nil
}
