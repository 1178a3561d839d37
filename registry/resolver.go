package registry

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/dialogmesh/brain/core"
)

// MatchType records how a candidate name resolved to a definition.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchFuzzy    MatchType = "fuzzy"
	MatchSynonym  MatchType = "synonym"
	MatchNotFound MatchType = "not_found"
)

// Resolve maps candidate names (ordered by detector preference) to a
// registry entry. For each candidate, in order: exact case-insensitive
// canonical-name match, then fuzzy canonical-name match at the 0.80
// ratio threshold, then case-insensitive synonym membership. The first
// hit wins; fuzzy ties break on higher ratio, then registry insertion
// order. Inactive definitions never resolve.
//
// Resolve is pure over the snapshot and emits no side effects.
func Resolve(snap *ActionSnapshot, candidates []string) (*ActionDefinition, MatchType) {
	for _, candidate := range candidates {
		name := strings.ToLower(strings.TrimSpace(candidate))
		if name == "" {
			continue
		}

		if def, ok := snap.ByName(name); ok && def.IsActive {
			return def, MatchExact
		}

		if def := bestFuzzyMatch(snap, name); def != nil {
			return def, MatchFuzzy
		}

		for _, def := range snap.Definitions() {
			if !def.IsActive {
				continue
			}
			for _, syn := range def.Synonyms {
				if strings.EqualFold(syn, name) {
					return def, MatchSynonym
				}
			}
		}
	}
	return nil, MatchNotFound
}

// bestFuzzyMatch returns the active definition whose canonical name is
// closest to the candidate, provided the ratio reaches the threshold.
func bestFuzzyMatch(snap *ActionSnapshot, candidate string) *ActionDefinition {
	var best *ActionDefinition
	bestRatio := 0.0
	for _, def := range snap.Definitions() {
		if !def.IsActive {
			continue
		}
		ratio := MatchRatio(candidate, strings.ToLower(def.CanonicalName))
		if ratio < core.FuzzyMatchThreshold {
			continue
		}
		// Strict > keeps insertion order as the tie-break.
		if ratio > bestRatio {
			bestRatio = ratio
			best = def
		}
	}
	return best
}

// MatchRatio computes the normalized Levenshtein ratio between two
// strings: 1 - distance/max(len). Identical strings score 1.0.
func MatchRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}
