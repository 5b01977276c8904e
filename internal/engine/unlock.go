package engine

import (
	"downtrack/internal/config"
	"downtrack/internal/domain"
)

// IsUnlocked reports whether a check is currently eligible to be attempted.
// Complete checks, and checks holding a recorded narrative outcome, are
// terminal and never unlock again.
func IsUnlocked(cfg *config.Config, phase *config.Phase, check *config.Check, pp *domain.PhaseProgress) bool {
	if checkComplete(check, pp) {
		return false
	}
	if resolvedOutcome(pp, check.ID) != "" {
		return false
	}

	var blocks, narrative []config.Edge
	for _, e := range check.Deps {
		switch e.Type {
		case config.EdgeBlock:
			blocks = append(blocks, e)
		case config.EdgeTriumph, config.EdgeSuccess, config.EdgeFailure, config.EdgeDespair:
			narrative = append(narrative, e)
		case config.EdgePrevents:
			// A satisfied prevents edge locks the check outright.
			if edgeSatisfied(cfg, phase, e, pp) {
				return false
			}
		}
		// harder/advantage/disadvantage/override only modify the roll.
	}

	// Block edges are conjunctive: every one must be satisfied.
	for _, e := range blocks {
		if !edgeSatisfied(cfg, phase, e, pp) {
			return false
		}
	}
	// Narrative edges are disjunctive: one satisfied edge unlocks.
	if len(narrative) > 0 {
		for _, e := range narrative {
			if edgeSatisfied(cfg, phase, e, pp) {
				return true
			}
		}
		return false
	}
	return true
}

// AvailableChecks returns every incomplete, unlocked check of the phase in
// group and check declaration order.
func AvailableChecks(cfg *config.Config, phase *config.Phase, pp *domain.PhaseProgress) []config.Check {
	var out []config.Check
	for gi := range phase.Groups {
		g := &phase.Groups[gi]
		for ci := range g.Checks {
			ch := &g.Checks[ci]
			if IsUnlocked(cfg, phase, ch, pp) {
				out = append(out, *ch)
			}
		}
	}
	return out
}
