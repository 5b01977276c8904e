package engine

import (
	"fmt"

	"downtrack/internal/config"
	"downtrack/internal/domain"
)

// RollParams are the effective roll parameters for a check after dependency
// edges have been applied.
type RollParams struct {
	Skill        string
	DC           *int
	Tier         string
	Advantage    bool
	Disadvantage bool
}

// RollParameters computes the effective skill, difficulty, and
// advantage/disadvantage state for an attempt on a check.
//
// Unsatisfied "harder" edges stack additively. Override edges replace the
// skill and/or difficulty when satisfied; the last satisfied override in
// declaration order wins. Simultaneous advantage and disadvantage cancel to
// neutral.
func RollParameters(cfg *config.Config, phase *config.Phase, check *config.Check, pp *domain.PhaseProgress) RollParams {
	params := RollParams{
		Skill: check.Skill,
		Tier:  check.Tier,
	}
	if check.DC != nil {
		dc := *check.DC
		params.DC = &dc
	}
	if params.Tier == "" && cfg.Tracker.RollMode == config.RollModeTiered {
		params.Tier = "regular"
	}

	penalty := 0
	for _, e := range check.Deps {
		switch e.Type {
		case config.EdgeHarder:
			if !edgeSatisfied(cfg, phase, e, pp) {
				penalty += e.DCPenalty
			}
		case config.EdgeAdvantage:
			if edgeSatisfied(cfg, phase, e, pp) {
				params.Advantage = true
			}
		case config.EdgeDisadvantage:
			if !edgeSatisfied(cfg, phase, e, pp) {
				params.Disadvantage = true
			}
		case config.EdgeOverride:
			if edgeSatisfied(cfg, phase, e, pp) {
				if e.OverrideSkill != "" {
					params.Skill = e.OverrideSkill
				}
				if e.OverrideDC != nil {
					dc := *e.OverrideDC
					params.DC = &dc
				}
				if e.OverrideTier != "" {
					params.Tier = e.OverrideTier
				}
			}
		}
	}

	if penalty > 0 {
		if params.DC != nil {
			*params.DC += penalty
		}
		if params.Tier != "" {
			params.Tier = config.StepTier(params.Tier, penalty)
		}
	}
	if params.Advantage && params.Disadvantage {
		params.Advantage = false
		params.Disadvantage = false
	}
	return params
}

// EffectiveDC resolves the numeric target for the params under the tracker's
// roll mode: the explicit DC when present, otherwise the tier's ladder value.
func (p RollParams) EffectiveDC(cfg *config.Config) int {
	if cfg.Tracker.RollMode == config.RollModeTiered && p.Tier != "" {
		return cfg.TierDC(p.Tier)
	}
	if p.DC != nil {
		return *p.DC
	}
	if p.Tier != "" {
		return cfg.TierDC(p.Tier)
	}
	return cfg.TierDC("regular")
}

// DifficultyLabel is the display form of the difficulty for log entries.
func (p RollParams) DifficultyLabel(cfg *config.Config) string {
	if cfg.Tracker.RollMode == config.RollModeTiered && p.Tier != "" {
		return p.Tier
	}
	if cfg.Tracker.RollMode == config.RollModeNarrative {
		return "narrative"
	}
	return fmt.Sprintf("DC %d", p.EffectiveDC(cfg))
}
