// Package brain wires the turn pipeline together: action resolution,
// ledger writes, schema fetches, eligibility, parameter collection,
// enqueueing, workflow binding, and the queue pass, finishing each
// turn with a narrative, refreshed wires, and a persistence
// checkpoint.
package brain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dialogmesh/brain/registry"
	"github.com/dialogmesh/brain/session"
)

// InstructionType names the narrative directive handed to the response
// generator.
type InstructionType string

const (
	InstructAskForParams     InstructionType = "ask_for_params"
	InstructHandleBlocker    InstructionType = "handle_blocker"
	InstructReportProgress   InstructionType = "report_progress"
	InstructReportCompletion InstructionType = "report_completion"
	InstructReportError      InstructionType = "report_error"
)

// GenerationInstruction tells the response generator what to say.
type GenerationInstruction struct {
	InstructionType    InstructionType        `json:"instruction_type"`
	PrimaryInstruction string                 `json:"primary_instruction"`
	OptionalContext    map[string]interface{} `json:"optional_context,omitempty"`
	Tone               string                 `json:"tone,omitempty"`
}

// DetectionContext primes the intent detector for the next turn.
type DetectionContext struct {
	ExpectingResponse bool                 `json:"expecting_response"`
	AnswerSheet       *session.AnswerSheet `json:"answer_sheet,omitempty"`
	ActiveTask        *session.ActiveTask  `json:"active_task,omitempty"`
}

// Narrative is the per-intent (and batch-final) output directive.
type Narrative struct {
	IntentID              string                `json:"intent_id,omitempty"`
	GenerationInstruction GenerationInstruction `json:"generation_instruction"`
	DetectionContext      DetectionContext      `json:"detection_context"`
}

// SynthesizeAnswerSheet builds the expected-response description for
// one missing parameter from the action's declared validation. A
// parameter without validation falls back to free text.
func SynthesizeAnswerSheet(def *registry.ActionDefinition, param string) *session.AnswerSheet {
	validation, ok := def.ParamValidation[param]
	if !ok {
		return &session.AnswerSheet{
			Type:   registry.AnswerText,
			Param:  param,
			Prompt: fmt.Sprintf("Please provide %s.", humanizeParam(param)),
		}
	}

	sheet := &session.AnswerSheet{
		Type:   validation.Type,
		Param:  param,
		Prompt: validation.Prompt,
	}
	if sheet.Prompt == "" {
		sheet.Prompt = fmt.Sprintf("Please provide %s.", humanizeParam(param))
	}

	switch validation.Type {
	case registry.AnswerConfirmation:
		sheet.Options = []session.AnswerOption{
			{Key: "yes", Label: "Yes", Aliases: []string{"y", "yes", "yeah", "confirm", "ok"}},
			{Key: "no", Label: "No", Aliases: []string{"n", "no", "nope", "cancel"}},
		}
	case registry.AnswerSingleChoice, registry.AnswerMultipleChoice:
		for i, opt := range validation.Options {
			label := opt.Label
			if label == "" {
				label = opt.Value
			}
			// Numbered aliases let the user answer "2" instead of the
			// option value.
			aliases := append([]string{strconv.Itoa(i + 1)}, opt.Aliases...)
			sheet.Options = append(sheet.Options, session.AnswerOption{
				Key:     opt.Value,
				Label:   label,
				Aliases: aliases,
			})
		}
		if validation.Type == registry.AnswerMultipleChoice {
			sheet.MinSelections = validation.MinSelections
			sheet.MaxSelections = validation.MaxSelections
		}
	case registry.AnswerEntity:
		sheet.Pattern = validation.Pattern
		sheet.Format = validation.Format
	case registry.AnswerText:
		sheet.MinLength = validation.MinLength
		sheet.MaxLength = validation.MaxLength
	}
	return sheet
}

func humanizeParam(param string) string {
	return strings.ReplaceAll(param, "_", " ")
}

// askForParams builds the E3 narrative: request the first missing
// parameter with a synthesized answer sheet.
func askForParams(intentID string, def *registry.ActionDefinition, task *session.ActiveTask) *Narrative {
	first := task.ParamsMissing[0]
	sheet := SynthesizeAnswerSheet(def, first)
	return &Narrative{
		IntentID: intentID,
		GenerationInstruction: GenerationInstruction{
			InstructionType:    InstructAskForParams,
			PrimaryInstruction: fmt.Sprintf("Ask the user for %s to continue with %s.", humanizeParam(first), def.CanonicalName),
			OptionalContext: map[string]interface{}{
				"action":         def.CanonicalName,
				"params_missing": task.ParamsMissing,
			},
		},
		DetectionContext: DetectionContext{
			ExpectingResponse: true,
			AnswerSheet:       sheet,
			ActiveTask:        task,
		},
	}
}

// blockerNeedsUserInput reports whether any accumulated reason can be
// resolved by something the user says or does right now: missing auth,
// incomplete schema data, or a named blocker. Tier restrictions and
// dependency ordering cannot.
func blockerNeedsUserInput(reasons []string) bool {
	for _, r := range reasons {
		if r == "auth_required" ||
			strings.HasPrefix(r, "schema_dependency_failed:") ||
			strings.HasPrefix(r, "blocker:") {
			return true
		}
	}
	return false
}

// handleBlocker builds the E2 narrative from the accumulated reasons.
func handleBlocker(intentID string, def *registry.ActionDefinition, reasons []string) *Narrative {
	expecting := blockerNeedsUserInput(reasons)
	return &Narrative{
		IntentID: intentID,
		GenerationInstruction: GenerationInstruction{
			InstructionType:    InstructHandleBlocker,
			PrimaryInstruction: fmt.Sprintf("Explain why %s cannot run right now and how to resolve it.", def.CanonicalName),
			OptionalContext: map[string]interface{}{
				"action":  def.CanonicalName,
				"reasons": reasons,
			},
		},
		DetectionContext: DetectionContext{ExpectingResponse: expecting},
	}
}

// reportCompletion builds the terminal success narrative.
func reportCompletion(intentID, canonicalName string) *Narrative {
	return &Narrative{
		IntentID: intentID,
		GenerationInstruction: GenerationInstruction{
			InstructionType:    InstructReportCompletion,
			PrimaryInstruction: fmt.Sprintf("Confirm that %s completed successfully.", canonicalName),
		},
	}
}

// reportProgress covers the long-running response path: the action is
// still executing when the turn returns.
func reportProgress(intentID, canonicalName string) *Narrative {
	return &Narrative{
		IntentID: intentID,
		GenerationInstruction: GenerationInstruction{
			InstructionType:    InstructReportProgress,
			PrimaryInstruction: fmt.Sprintf("Tell the user %s is in progress and they will be updated.", canonicalName),
		},
	}
}

// reportError covers action_not_found and terminal failures.
func reportError(intentID, detail string) *Narrative {
	return &Narrative{
		IntentID: intentID,
		GenerationInstruction: GenerationInstruction{
			InstructionType:    InstructReportError,
			PrimaryInstruction: "Apologize and explain the request could not be completed.",
			OptionalContext:    map[string]interface{}{"detail": detail},
		},
	}
}
