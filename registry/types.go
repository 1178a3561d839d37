// Package registry holds the per-tenant catalogs of action, schema and
// workflow definitions. Definitions are read-only snapshots: a reload
// builds a fresh snapshot and swaps it atomically, so readers hold a
// consistent view for the duration of a turn.
package registry

import "time"

// Priority orders queue processing. Higher priorities drain first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the numeric ordering of a priority. Unknown values rank
// as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// KeyStatus is the completion state of a single schema key.
type KeyStatus string

const (
	KeyStatusNone       KeyStatus = "none"
	KeyStatusIncomplete KeyStatus = "incomplete"
	KeyStatusComplete   KeyStatus = "complete"
)

// ErrorClass names a class of execution failure for retry matching.
type ErrorClass string

const (
	ErrorClassTimeout     ErrorClass = "timeout"
	ErrorClassNetwork     ErrorClass = "network"
	ErrorClassServerError ErrorClass = "server_error"
	ErrorClassClientError ErrorClass = "client_error"
)

// Endpoint describes an outbound HTTP call to a brand API.
type Endpoint struct {
	Method  string            `yaml:"method" json:"method"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	// AuthToken is sent as a bearer token when set. Tenant secrets are
	// resolved by the loader before the definition reaches the brain.
	AuthToken string `yaml:"auth_token,omitempty" json:"auth_token,omitempty"`
}

// SuccessCriteria classifies an action response as success. Both checks
// must pass; zero values disable a check.
type SuccessCriteria struct {
	StatusCode   int    `yaml:"status_code,omitempty" json:"status_code,omitempty"`
	BodyContains string `yaml:"body_contains,omitempty" json:"body_contains,omitempty"`
}

// RetryPolicy controls retry scheduling for a failed execution.
type RetryPolicy struct {
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
	RetryOnErrors []ErrorClass  `yaml:"retry_on_errors" json:"retry_on_errors"`
}

// Retryable reports whether the policy retries the given error class.
func (p RetryPolicy) Retryable(class ErrorClass) bool {
	for _, c := range p.RetryOnErrors {
		if c == class {
			return true
		}
	}
	return false
}

// SchemaDependency requires listed keys of one schema to be in the
// AllMustBe status before the action is eligible.
type SchemaDependency struct {
	RequiredKeys []string  `yaml:"required_keys" json:"required_keys"`
	AllMustBe    KeyStatus `yaml:"all_must_be" json:"all_must_be"`
}

// Eligibility gates whether an action may run for a user right now.
type Eligibility struct {
	UserTiers          []string                    `yaml:"user_tiers,omitempty" json:"user_tiers,omitempty"`
	RequiresAuth       bool                        `yaml:"requires_auth" json:"requires_auth"`
	SchemaDependencies map[string]SchemaDependency `yaml:"schema_dependencies,omitempty" json:"schema_dependencies,omitempty"`
}

// AnswerSheetType selects the expected-response variant for a parameter.
type AnswerSheetType string

const (
	AnswerConfirmation   AnswerSheetType = "confirmation"
	AnswerSingleChoice   AnswerSheetType = "single_choice"
	AnswerMultipleChoice AnswerSheetType = "multiple_choice"
	AnswerEntity         AnswerSheetType = "entity"
	AnswerText           AnswerSheetType = "text"
)

// ParamValidation describes how a collected parameter is validated and
// which answer-sheet variant to synthesize when asking for it.
type ParamValidation struct {
	Type AnswerSheetType `yaml:"type" json:"type"`

	// single_choice / multiple_choice
	Options       []ParamOption `yaml:"options,omitempty" json:"options,omitempty"`
	MinSelections int           `yaml:"min_selections,omitempty" json:"min_selections,omitempty"`
	MaxSelections int           `yaml:"max_selections,omitempty" json:"max_selections,omitempty"`

	// entity
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Format  string `yaml:"format,omitempty" json:"format,omitempty"`

	// text
	MinLength int `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength int `yaml:"max_length,omitempty" json:"max_length,omitempty"`

	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

// ParamOption is one selectable value with its spoken aliases.
type ParamOption struct {
	Value   string   `yaml:"value" json:"value"`
	Label   string   `yaml:"label,omitempty" json:"label,omitempty"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// ActionDefinition is the registry entry for one executable action.
type ActionDefinition struct {
	ID            string   `yaml:"id" json:"id"`
	CanonicalName string   `yaml:"canonical_name" json:"canonical_name"`
	Synonyms      []string `yaml:"synonyms,omitempty" json:"synonyms,omitempty"`

	ParamsRequired  []string                   `yaml:"params_required,omitempty" json:"params_required,omitempty"`
	ParamsOptional  []string                   `yaml:"params_optional,omitempty" json:"params_optional,omitempty"`
	ParamValidation map[string]ParamValidation `yaml:"param_validation,omitempty" json:"param_validation,omitempty"`

	Eligibility  Eligibility `yaml:"eligibility" json:"eligibility"`
	Blockers     []string    `yaml:"blockers,omitempty" json:"blockers,omitempty"`
	Dependencies []string    `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Opposites    []string    `yaml:"opposites,omitempty" json:"opposites,omitempty"`

	Endpoint        Endpoint        `yaml:"endpoint" json:"endpoint"`
	SuccessCriteria SuccessCriteria `yaml:"success_criteria" json:"success_criteria"`
	RetryPolicy     RetryPolicy     `yaml:"retry_policy" json:"retry_policy"`
	Timeout         time.Duration   `yaml:"timeout" json:"timeout"`

	WorkflowID       string `yaml:"workflow_id,omitempty" json:"workflow_id,omitempty"`
	SequenceID       string `yaml:"sequence_id,omitempty" json:"sequence_id,omitempty"`
	TriggersWorkflow bool   `yaml:"triggers_workflow" json:"triggers_workflow"`

	Priority         Priority `yaml:"priority,omitempty" json:"priority,omitempty"`
	RollbackActionID string   `yaml:"rollback_action_id,omitempty" json:"rollback_action_id,omitempty"`
	RollbackPossible bool     `yaml:"rollback_possible" json:"rollback_possible"`
	RequiresUserAck  bool     `yaml:"requires_user_ack" json:"requires_user_ack"`
	Critical         bool     `yaml:"critical" json:"critical"`
	IsActive         bool     `yaml:"is_active" json:"is_active"`
}

// CompletionLogicType selects how a schema key's status is derived from
// the fetched value.
type CompletionLogicType string

const (
	CompletionNonEmpty      CompletionLogicType = "non_empty"
	CompletionNestedObject  CompletionLogicType = "nested_object"
	CompletionArrayNonEmpty CompletionLogicType = "array_non_empty"
	CompletionEnumValue     CompletionLogicType = "enum_value"
)

// CompletionLogic holds the per-key status derivation rule.
type CompletionLogic struct {
	Type            CompletionLogicType `yaml:"type" json:"type"`
	RequiredSubkeys []string            `yaml:"required_subkeys,omitempty" json:"required_subkeys,omitempty"`
	AllowedValues   []string            `yaml:"allowed_values,omitempty" json:"allowed_values,omitempty"`
	// Pattern optionally tightens non_empty: a present value that fails
	// the pattern is incomplete rather than complete.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// SchemaKey is one field of a user-data schema.
type SchemaKey struct {
	KeyName         string          `yaml:"key_name" json:"key_name"`
	Required        bool            `yaml:"required" json:"required"`
	APIFieldPath    string          `yaml:"api_field_path" json:"api_field_path"`
	CompletionLogic CompletionLogic `yaml:"completion_logic" json:"completion_logic"`
}

// SchemaDefinition describes a fetchable user-data domain for a brand.
type SchemaDefinition struct {
	ID             string        `yaml:"id" json:"id"`
	Endpoint       Endpoint      `yaml:"endpoint" json:"endpoint"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	StaleTolerance time.Duration `yaml:"stale_tolerance" json:"stale_tolerance"`
	Keys           []SchemaKey   `yaml:"keys" json:"keys"`
}

// OnFailure selects how a workflow reacts to a step failure.
type OnFailure string

const (
	OnFailureAbort    OnFailure = "abort"
	OnFailureContinue OnFailure = "continue"
)

// WorkflowStep is one ordered entry of a workflow definition.
type WorkflowStep struct {
	SequenceID                string    `yaml:"sequence_id" json:"sequence_id"`
	ActionID                  string    `yaml:"action_id" json:"action_id"`
	Required                  bool      `yaml:"required" json:"required"`
	OnFailure                 OnFailure `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
	DependsOn                 []string  `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	RollbackOnWorkflowFailure bool      `yaml:"rollback_on_workflow_failure" json:"rollback_on_workflow_failure"`
}

// WorkflowDefinition is an ordered, dependency-aware action sequence.
type WorkflowDefinition struct {
	ID      string         `yaml:"id" json:"id"`
	Name    string         `yaml:"name,omitempty" json:"name,omitempty"`
	Timeout time.Duration  `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Steps   []WorkflowStep `yaml:"steps" json:"steps"`
}

// InstanceConfig carries per-instance configuration the brain consumes
// but does not maintain.
type InstanceConfig struct {
	BrandID        string   `yaml:"brand_id" json:"brand_id"`
	InstanceID     string   `yaml:"instance_id" json:"instance_id"`
	PopularActions []string `yaml:"popular_actions,omitempty" json:"popular_actions,omitempty"`
}
