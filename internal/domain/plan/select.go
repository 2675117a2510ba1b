package plan

// Fallback candidate placeholders. Deterministic so that a step with zero
// live candidates still yields stable estimates.
const (
	fallbackProvider    = "internal-estimate"
	fallbackFeesUSD     = 5.0
	fallbackTimeMinutes = 15.0
	fallbackSecurity    = 50.0
)

// SelectCandidate picks the winning candidate under the given objective.
// Returns false when no candidates are available.
func SelectCandidate(candidates []Candidate, objective Objective) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best, objective) {
			best = c
		}
	}
	return best, true
}

// better reports whether a beats b under the objective.
// Unknown objectives fall back to cheapest.
func better(a, b Candidate, objective Objective) bool {
	switch objective {
	case ObjectiveFastest:
		return a.TimeMinutes < b.TimeMinutes
	case ObjectiveMostSecure:
		return a.SecurityScore > b.SecurityScore
	default:
		return a.FeesUSD < b.FeesUSD
	}
}

// FallbackCandidate synthesizes a placeholder candidate so step processing
// never produces zero candidates.
func FallbackCandidate() Candidate {
	return Candidate{
		Provider:      fallbackProvider,
		FeesUSD:       fallbackFeesUSD,
		TimeMinutes:   fallbackTimeMinutes,
		SecurityScore: fallbackSecurity,
		Fallback:      true,
	}
}
