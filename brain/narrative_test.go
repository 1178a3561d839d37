package brain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/brain/registry"
	"github.com/dialogmesh/brain/session"
)

func validationAction(param string, v registry.ParamValidation) *registry.ActionDefinition {
	return &registry.ActionDefinition{
		ID:              "act",
		CanonicalName:   "act",
		ParamsRequired:  []string{param},
		ParamValidation: map[string]registry.ParamValidation{param: v},
	}
}

func TestSynthesizeConfirmationSheet(t *testing.T) {
	def := validationAction("confirm", registry.ParamValidation{
		Type:   registry.AnswerConfirmation,
		Prompt: "Shall I proceed?",
	})
	sheet := SynthesizeAnswerSheet(def, "confirm")

	assert.Equal(t, registry.AnswerConfirmation, sheet.Type)
	require.Len(t, sheet.Options, 2)
	assert.Equal(t, "yes", sheet.Options[0].Key)
	assert.Contains(t, sheet.Options[0].Aliases, "yeah")
	assert.Equal(t, "no", sheet.Options[1].Key)
	assert.Contains(t, sheet.Options[1].Aliases, "nope")
}

func TestSynthesizeSingleChoiceNumbersOptions(t *testing.T) {
	def := validationAction("shipping", registry.ParamValidation{
		Type: registry.AnswerSingleChoice,
		Options: []registry.ParamOption{
			{Value: "standard", Aliases: []string{"normal", "regular"}},
			{Value: "express", Label: "Express", Aliases: []string{"fast"}},
		},
	})
	sheet := SynthesizeAnswerSheet(def, "shipping")

	require.Len(t, sheet.Options, 2)
	assert.Equal(t, []string{"1", "normal", "regular"}, sheet.Options[0].Aliases)
	assert.Equal(t, []string{"2", "fast"}, sheet.Options[1].Aliases)
	// Label falls back to the value.
	assert.Equal(t, "standard", sheet.Options[0].Label)
	assert.Equal(t, "Express", sheet.Options[1].Label)
}

func TestSynthesizeMultipleChoiceBounds(t *testing.T) {
	def := validationAction("toppings", registry.ParamValidation{
		Type:          registry.AnswerMultipleChoice,
		Options:       []registry.ParamOption{{Value: "a"}, {Value: "b"}, {Value: "c"}},
		MinSelections: 1,
		MaxSelections: 2,
	})
	sheet := SynthesizeAnswerSheet(def, "toppings")

	assert.Equal(t, 1, sheet.MinSelections)
	assert.Equal(t, 2, sheet.MaxSelections)
	assert.Len(t, sheet.Options, 3)
}

func TestSynthesizeEntityAndTextSheets(t *testing.T) {
	entity := SynthesizeAnswerSheet(validationAction("email", registry.ParamValidation{
		Type:    registry.AnswerEntity,
		Pattern: `.+@.+`,
		Format:  "email",
	}), "email")
	assert.Equal(t, `.+@.+`, entity.Pattern)
	assert.Equal(t, "email", entity.Format)

	text := SynthesizeAnswerSheet(validationAction("bio", registry.ParamValidation{
		Type:      registry.AnswerText,
		MinLength: 10,
		MaxLength: 500,
	}), "bio")
	assert.Equal(t, 10, text.MinLength)
	assert.Equal(t, 500, text.MaxLength)
}

func TestSynthesizeWithoutValidationFallsBackToText(t *testing.T) {
	def := &registry.ActionDefinition{ID: "act", CanonicalName: "act", ParamsRequired: []string{"notes"}}
	sheet := SynthesizeAnswerSheet(def, "notes")

	assert.Equal(t, registry.AnswerText, sheet.Type)
	assert.Equal(t, "Please provide notes.", sheet.Prompt)
}

func TestBlockerNeedsUserInput(t *testing.T) {
	assert.True(t, blockerNeedsUserInput([]string{"auth_required"}))
	assert.True(t, blockerNeedsUserInput([]string{"schema_dependency_failed:profile.phone"}))
	assert.True(t, blockerNeedsUserInput([]string{"blocker:kyc_pending"}))
	assert.False(t, blockerNeedsUserInput([]string{"tier_not_allowed:standard"}))
	assert.False(t, blockerNeedsUserInput([]string{"dependency_not_met:create_account"}))
	assert.False(t, blockerNeedsUserInput(nil))
}

func TestPickNarrativePrefersExpectingResponse(t *testing.T) {
	done := reportCompletion("i1", "apply_job")
	ask := askForParams("i2", validationAction("email", registry.ParamValidation{Type: registry.AnswerEntity}),
		session.NewActiveTask("s", "act", []string{"email"}, nil, []string{"email"}))
	errFrag := reportError("i3", "boom")

	assert.Equal(t, ask, pickNarrative([]*Narrative{done, ask, errFrag}))
	assert.Equal(t, errFrag, pickNarrative([]*Narrative{done, errFrag}))
	assert.Nil(t, pickNarrative(nil))
}

func TestSplitReasonsRoundTrip(t *testing.T) {
	reasons := []string{"auth_required", "tier_not_allowed:standard"}
	assert.Equal(t, reasons, splitReasons(joinReasons(reasons)))
	assert.Nil(t, splitReasons(""))
}
