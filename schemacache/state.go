// Package schemacache maintains per-session snapshots of user-data
// schemas fetched from brand APIs. States carry per-key completion
// statuses derived from the schema definition's completion logic and
// are cached with a TTL; upstream failures fall back to a stale entry
// within the definition's tolerance, then to a synthetic all-none
// state that fails every dependency check.
package schemacache

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/dialogmesh/brain/registry"
)

// APIStatus reports how the state was obtained.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusStale APIStatus = "stale"
	APIStatusError APIStatus = "error"
)

// KeyState is the derived status of one schema key plus the extracted
// value.
type KeyState struct {
	Status registry.KeyStatus `json:"status"`
	Value  interface{}        `json:"value,omitempty"`
}

// State is the cached, derived view of one schema for one session.
type State struct {
	SessionID string    `json:"session_id"`
	SchemaID  string    `json:"schema_id"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
	APIStatus APIStatus `json:"api_status"`

	Keys              map[string]KeyState `json:"keys"`
	SchemaStatus      registry.KeyStatus  `json:"schema_status"`
	CompletionPercent int                 `json:"completion_percent"`
}

// Usable reports whether the state may satisfy dependency checks. A
// stale or error state fails every required-key check.
func (s *State) Usable() bool {
	return s.APIStatus == APIStatusOK
}

// KeyStatus returns the status of a named key, none if absent.
func (s *State) KeyStatus(key string) registry.KeyStatus {
	if ks, ok := s.Keys[key]; ok {
		return ks.Status
	}
	return registry.KeyStatusNone
}

// Derive computes a schema state from a fetched API payload. Key values
// are extracted via each key's dotted api_field_path, statuses follow
// the key's completion logic, and the schema status is complete iff
// every required key is complete. A schema with zero required keys is
// complete at 100 percent by convention.
func Derive(sessionID string, def *registry.SchemaDefinition, payload map[string]interface{}, now time.Time) *State {
	state := &State{
		SessionID: sessionID,
		SchemaID:  def.ID,
		FetchedAt: now,
		ExpiresAt: now.Add(cacheTTL(def)),
		APIStatus: APIStatusOK,
		Keys:      make(map[string]KeyState, len(def.Keys)),
	}

	requiredTotal := 0
	requiredComplete := 0
	for _, key := range def.Keys {
		value, found := extractPath(payload, key.APIFieldPath)
		status := deriveKeyStatus(key.CompletionLogic, value, found)
		state.Keys[key.KeyName] = KeyState{Status: status, Value: value}
		if key.Required {
			requiredTotal++
			if status == registry.KeyStatusComplete {
				requiredComplete++
			}
		}
	}

	if requiredTotal == 0 {
		state.SchemaStatus = registry.KeyStatusComplete
		state.CompletionPercent = 100
	} else {
		if requiredComplete == requiredTotal {
			state.SchemaStatus = registry.KeyStatusComplete
		} else {
			state.SchemaStatus = registry.KeyStatusIncomplete
		}
		state.CompletionPercent = int(math.Round(float64(requiredComplete) / float64(requiredTotal) * 100))
	}
	return state
}

// ErrorState builds the synthetic all-none state returned when no
// fetch succeeded and no stale entry is tolerable.
func ErrorState(sessionID string, def *registry.SchemaDefinition, now time.Time) *State {
	state := &State{
		SessionID:    sessionID,
		SchemaID:     def.ID,
		FetchedAt:    now,
		ExpiresAt:    now, // immediately refetchable
		APIStatus:    APIStatusError,
		Keys:         make(map[string]KeyState, len(def.Keys)),
		SchemaStatus: registry.KeyStatusIncomplete,
	}
	for _, key := range def.Keys {
		state.Keys[key.KeyName] = KeyState{Status: registry.KeyStatusNone}
	}
	return state
}

func deriveKeyStatus(logic registry.CompletionLogic, value interface{}, found bool) registry.KeyStatus {
	if !found || value == nil {
		return registry.KeyStatusNone
	}

	switch logic.Type {
	case registry.CompletionNestedObject:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return registry.KeyStatusNone
		}
		for _, sub := range logic.RequiredSubkeys {
			v, present := obj[sub]
			if !present || v == nil || isEmptyValue(v) {
				return registry.KeyStatusIncomplete
			}
		}
		return registry.KeyStatusComplete

	case registry.CompletionArrayNonEmpty:
		arr, ok := value.([]interface{})
		if !ok {
			return registry.KeyStatusIncomplete
		}
		if len(arr) >= 1 {
			return registry.KeyStatusComplete
		}
		return registry.KeyStatusIncomplete

	case registry.CompletionEnumValue:
		str := fmt.Sprintf("%v", value)
		for _, allowed := range logic.AllowedValues {
			if str == allowed {
				return registry.KeyStatusComplete
			}
		}
		return registry.KeyStatusIncomplete

	default: // non_empty
		if isEmptyValue(value) {
			return registry.KeyStatusNone
		}
		if logic.Pattern != "" {
			re, err := regexp.Compile(logic.Pattern)
			if err != nil || !re.MatchString(fmt.Sprintf("%v", value)) {
				return registry.KeyStatusIncomplete
			}
		}
		return registry.KeyStatusComplete
	}
}

func isEmptyValue(value interface{}) bool {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}

// extractPath walks a dotted field path through nested JSON objects.
func extractPath(payload map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current interface{} = payload
	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
