package engine

import (
	"downtrack/internal/config"
	"downtrack/internal/domain"
)

// UnresolvedPolicy controls how a dependency edge whose source id matches
// nothing in the phase is treated.
type UnresolvedPolicy int

const (
	// SatisfiedByDefault treats dangling references as satisfied. Blocking
	// gameplay over a configuration typo is worse than a permissive default.
	SatisfiedByDefault UnresolvedPolicy = iota
	UnsatisfiedByDefault
)

// UnresolvedDependencyPolicy is the active policy for dangling edge sources.
var UnresolvedDependencyPolicy = SatisfiedByDefault

// edgeSatisfied evaluates whether a single dependency edge is currently
// satisfied given phase progress.
func edgeSatisfied(cfg *config.Config, phase *config.Phase, edge config.Edge, pp *domain.PhaseProgress) bool {
	required := narrativeRequirement(edge.Type)

	if edge.Kind == config.SourceGroup {
		g := phase.FindGroup(edge.Source)
		if g == nil {
			return UnresolvedDependencyPolicy == SatisfiedByDefault
		}
		if required != "" {
			return groupOutcomeMatches(cfg, g, required, pp)
		}
		return groupComplete(g, pp)
	}

	ch, _ := phase.FindCheck(edge.Source)
	if ch == nil {
		// A check-kind id that actually names a group falls back to the
		// group-completion rule.
		if g := phase.FindGroup(edge.Source); g != nil {
			if required != "" {
				return groupOutcomeMatches(cfg, g, required, pp)
			}
			return groupComplete(g, pp)
		}
		return UnresolvedDependencyPolicy == SatisfiedByDefault
	}
	if required != "" {
		return outcomeMatches(cfg, required, resolvedOutcome(pp, ch.ID))
	}
	return checkComplete(ch, pp)
}

// narrativeRequirement maps narrative-outcome edge types to the outcome they
// gate on. Other edge types return "".
func narrativeRequirement(edgeType string) string {
	switch edgeType {
	case config.EdgeTriumph:
		return domain.OutcomeTriumph
	case config.EdgeSuccess:
		return domain.OutcomeSuccess
	case config.EdgeFailure:
		return domain.OutcomeFailure
	case config.EdgeDespair:
		return domain.OutcomeDespair
	}
	return ""
}

// outcomeMatches reports whether a recorded outcome satisfies a required
// outcome class. Exact tier matches always satisfy. Binary requirements
// (success/failure) accept any recorded outcome of the same class. Tier
// requirements (triumph/despair) collapse to their binary class only outside
// narrative mode, where a recorded outcome can only be a replayed remnant of
// earlier narrative play.
func outcomeMatches(cfg *config.Config, required, recorded string) bool {
	if recorded == "" {
		return false
	}
	if required == recorded {
		return true
	}
	switch required {
	case domain.OutcomeSuccess, domain.OutcomeFailure:
		return domain.OutcomeClassSuccess(recorded) == domain.OutcomeClassSuccess(required)
	}
	if cfg.Tracker.RollMode == config.RollModeNarrative {
		return false
	}
	return domain.OutcomeClassSuccess(recorded) == domain.OutcomeClassSuccess(required)
}

func groupOutcomeMatches(cfg *config.Config, g *config.Group, required string, pp *domain.PhaseProgress) bool {
	for i := range g.Checks {
		if outcomeMatches(cfg, required, resolvedOutcome(pp, g.Checks[i].ID)) {
			return true
		}
	}
	return false
}

func checkComplete(ch *config.Check, pp *domain.PhaseProgress) bool {
	return checkProgress(pp, ch.ID) >= ch.Target
}

// groupComplete reports group completion: with maxChecks > 0, at least that
// many contained checks complete; otherwise all of them.
func groupComplete(g *config.Group, pp *domain.PhaseProgress) bool {
	done := 0
	for i := range g.Checks {
		if checkComplete(&g.Checks[i], pp) {
			done++
		}
	}
	if g.MaxChecks > 0 {
		return done >= g.MaxChecks
	}
	return done == len(g.Checks)
}

func checkProgress(pp *domain.PhaseProgress, checkID string) int {
	if pp == nil || pp.CheckProgress == nil {
		return 0
	}
	return pp.CheckProgress[checkID]
}

func resolvedOutcome(pp *domain.PhaseProgress, checkID string) string {
	if pp == nil || pp.ResolvedChecks == nil {
		return ""
	}
	return pp.ResolvedChecks[checkID]
}
