package eligibility

import (
	"github.com/dialogmesh/brain/registry"
	"github.com/dialogmesh/brain/schemacache"
)

// PredicateContext is the read-only state a blocker predicate may
// consult.
type PredicateContext struct {
	User    UserContext
	Schemas map[string]*schemacache.State
}

// Predicate reports whether the named blocker applies. True blocks the
// action.
type Predicate func(ctx *PredicateContext) bool

// defaultPredicates is the fixed blocker table. Action definitions
// reference these by name; tenants needing custom gates register them
// on the evaluator at setup.
func defaultPredicates() map[string]Predicate {
	return map[string]Predicate{
		"insufficient_balance": insufficientBalance,
		"cart_empty":           cartEmpty,
		"kyc_pending":          kycPending,
	}
}

// insufficientBalance blocks when the wallet schema reports a balance
// of zero or less, or when no usable wallet state exists.
func insufficientBalance(ctx *PredicateContext) bool {
	state := ctx.Schemas["wallet"]
	if state == nil || !state.Usable() {
		return true
	}
	ks, ok := state.Keys["balance"]
	if !ok || ks.Status != registry.KeyStatusComplete {
		return true
	}
	if balance, ok := ks.Value.(float64); ok {
		return balance <= 0
	}
	return true
}

// cartEmpty blocks when the cart schema has no items.
func cartEmpty(ctx *PredicateContext) bool {
	state := ctx.Schemas["cart"]
	if state == nil || !state.Usable() {
		return true
	}
	return state.KeyStatus("items") != registry.KeyStatusComplete
}

// kycPending blocks until the profile schema reports a verified KYC
// status.
func kycPending(ctx *PredicateContext) bool {
	state := ctx.Schemas["profile"]
	if state == nil || !state.Usable() {
		return true
	}
	return state.KeyStatus("kyc_status") != registry.KeyStatusComplete
}
