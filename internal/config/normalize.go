package config

import "sort"

// Normalize rewrites the parsed document into the canonical group/check
// model. It is a one-time pass: after it runs, no consumer ever branches on
// the legacy shape again.
func (c *Config) Normalize() {
	if c.Tracker.RollMode == "" {
		c.Tracker.RollMode = RollModeDC
	}
	for i := range c.Phases {
		normalizePhase(&c.Phases[i])
	}
	for name, entries := range c.Tables {
		for i := range entries {
			if entries[i].Weight <= 0 {
				entries[i].Weight = 1
			}
		}
		c.Tables[name] = entries
	}
}

func normalizePhase(p *Phase) {
	if len(p.Groups) == 0 && p.Skill != "" {
		p.Groups = legacyGroups(p)
	}
	p.Skill = ""
	p.DC = nil
	for gi := range p.Groups {
		g := &p.Groups[gi]
		for ci := range g.Checks {
			normalizeCheck(&g.Checks[ci])
		}
		// Step is an ordering hint within the group; zero keeps declaration
		// order.
		sort.SliceStable(g.Checks, func(a, b int) bool {
			sa, sb := g.Checks[a].Step, g.Checks[b].Step
			if sa == 0 || sb == 0 {
				return false
			}
			return sa < sb
		})
	}
}

// legacyGroups converts the old single-skill-per-phase shape into one group
// holding one check whose target carries the phase total, so the same skill
// is rolled until the phase target is met.
func legacyGroups(p *Phase) []Group {
	target := p.Target
	if target <= 0 {
		target = 1
	}
	check := Check{
		ID:     p.ID + "-check",
		Name:   p.Name,
		Skill:  p.Skill,
		DC:     p.DC,
		Target: target,
	}
	return []Group{{
		ID:     p.ID + "-work",
		Name:   p.Name,
		Checks: []Check{check},
	}}
}

func normalizeCheck(ch *Check) {
	if ch.Target <= 0 {
		ch.Target = 1
	}
	for i := range ch.Deps {
		normalizeEdge(&ch.Deps[i])
	}
}

func normalizeEdge(e *Edge) {
	if e.Kind != SourceGroup {
		e.Kind = SourceCheck
	}
	switch e.Type {
	case EdgeBlock, EdgePrevents, EdgeHarder, EdgeAdvantage, EdgeDisadvantage,
		EdgeOverride, EdgeTriumph, EdgeSuccess, EdgeFailure, EdgeDespair:
	default:
		// Closed type set: anything unrecognized gates like a block.
		e.Type = EdgeBlock
	}
	if e.Type == EdgeHarder && e.DCPenalty <= 0 {
		e.DCPenalty = 1
	}
}
