// Package eligibility decides whether an action may execute for a user
// at this moment. The evaluator never short-circuits: every failing
// check contributes a stable reason identifier so the narrative layer
// can enumerate all causes at once.
package eligibility

import (
	"fmt"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/registry"
	"github.com/dialogmesh/brain/schemacache"
)

// UserContext carries the caller-supplied user attributes consulted by
// eligibility checks. The brain does not authenticate; it trusts these
// flags.
type UserContext struct {
	Tier          string
	Authenticated bool
}

// SessionView exposes the per-session execution history the evaluator
// needs: completed executions for dependency checks and non-terminal
// queue entries for opposite-action conflicts.
type SessionView interface {
	HasCompletedExecution(actionID string) bool
	HasNonTerminalEntry(actionID string) bool
}

// Result is the outcome of an eligibility evaluation. Reasons are
// stable identifiers (e.g. "schema_dependency_failed:profile.phone");
// human phrasing is the narrative builder's job.
type Result struct {
	Eligible bool
	Reasons  []string
}

// Evaluator runs the six eligibility checks over injected state.
type Evaluator struct {
	predicates map[string]Predicate
	logger     core.Logger
}

// NewEvaluator creates an evaluator with the default blocker predicate
// table. Extra predicates may be registered before first use.
func NewEvaluator(logger core.Logger) *Evaluator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Evaluator{
		predicates: defaultPredicates(),
		logger:     logger,
	}
}

// RegisterPredicate adds or replaces a named blocker predicate. Not
// safe for concurrent use with Evaluate; register during setup.
func (e *Evaluator) RegisterPredicate(name string, p Predicate) {
	e.predicates[name] = p
}

// Evaluate checks, in order: user tier, auth requirement, schema
// dependencies, named blockers, action dependencies, and opposite
// actions in flight. All failures accumulate.
func (e *Evaluator) Evaluate(def *registry.ActionDefinition, user UserContext, schemas map[string]*schemacache.State, session SessionView) Result {
	var reasons []string

	// 1. Tier restriction.
	if len(def.Eligibility.UserTiers) > 0 {
		allowed := false
		for _, tier := range def.Eligibility.UserTiers {
			if tier == user.Tier {
				allowed = true
				break
			}
		}
		if !allowed {
			reasons = append(reasons, fmt.Sprintf("tier_not_allowed:%s", user.Tier))
		}
	}

	// 2. Authentication.
	if def.Eligibility.RequiresAuth && !user.Authenticated {
		reasons = append(reasons, "auth_required")
	}

	// 3. Schema dependencies. A stale or error state fails every
	// required key of that schema.
	for schemaID, dep := range def.Eligibility.SchemaDependencies {
		state := schemas[schemaID]
		for _, key := range dep.RequiredKeys {
			if state == nil || !state.Usable() || state.KeyStatus(key) != dep.AllMustBe {
				reasons = append(reasons, fmt.Sprintf("schema_dependency_failed:%s.%s", schemaID, key))
			}
		}
	}

	// 4. Named blockers. An unknown predicate name blocks: failing
	// open on a missing table entry would skip a gate the definition
	// asked for.
	pctx := &PredicateContext{User: user, Schemas: schemas}
	for _, name := range def.Blockers {
		predicate, ok := e.predicates[name]
		if !ok {
			e.logger.Warn("Unknown blocker predicate", map[string]interface{}{
				"action_id": def.ID,
				"blocker":   name,
			})
			reasons = append(reasons, fmt.Sprintf("blocker:%s", name))
			continue
		}
		if predicate(pctx) {
			reasons = append(reasons, fmt.Sprintf("blocker:%s", name))
		}
	}

	// 5. Action dependencies require a completed execution this session.
	for _, dep := range def.Dependencies {
		if session == nil || !session.HasCompletedExecution(dep) {
			reasons = append(reasons, fmt.Sprintf("dependency_not_met:%s", dep))
		}
	}

	// 6. Opposite actions must not be in flight.
	for _, opp := range def.Opposites {
		if session != nil && session.HasNonTerminalEntry(opp) {
			reasons = append(reasons, fmt.Sprintf("opposite_in_flight:%s", opp))
		}
	}

	return Result{Eligible: len(reasons) == 0, Reasons: reasons}
}
