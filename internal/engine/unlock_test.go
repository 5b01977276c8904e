package engine

import (
	"strings"
	"testing"

	"downtrack/internal/config"
	"downtrack/internal/domain"
)

func mustConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.FromYAML([]byte(yaml))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

const chainYAML = `
tracker:
  id: heist
  name: The Heist
  roll_mode: dc
phases:
  - id: casing
    name: Casing the Joint
    groups:
      - id: legwork
        name: Legwork
        checks:
          - id: insight-1
            name: Watch the guards
            skill: insight
            dc: 12
          - id: insight-2
            name: Learn the rotation
            skill: insight
            dc: 14
            deps:
              - source: insight-1
                type: block
          - id: insight-3
            name: Predict the gap
            skill: insight
            dc: 16
            deps:
              - source: insight-2
                type: block
`

func TestBlockChainUnlocksInOrder(t *testing.T) {
	cfg := mustConfig(t, chainYAML)
	phase := &cfg.Phases[0]
	state := NewState(cfg)
	pp := state.Phases["casing"]

	avail := AvailableChecks(cfg, phase, pp)
	if len(avail) != 1 || avail[0].ID != "insight-1" {
		t.Fatalf("fresh phase: want only insight-1 available, got %v", ids(avail))
	}

	pp.CheckProgress["insight-1"] = 1
	avail = AvailableChecks(cfg, phase, pp)
	if len(avail) != 1 || avail[0].ID != "insight-2" {
		t.Fatalf("after insight-1: want insight-2, got %v", ids(avail))
	}

	pp.CheckProgress["insight-2"] = 1
	avail = AvailableChecks(cfg, phase, pp)
	if len(avail) != 1 || avail[0].ID != "insight-3" {
		t.Fatalf("after insight-2: want insight-3, got %v", ids(avail))
	}
}

func TestBlocksAreConjunctive(t *testing.T) {
	cfg := mustConfig(t, `
tracker: {id: t, name: T, roll_mode: dc}
phases:
  - id: p
    name: P
    groups:
      - id: g
        name: G
        checks:
          - {id: a, name: A, skill: lore, dc: 10}
          - {id: b, name: B, skill: lore, dc: 10}
          - id: c
            name: C
            skill: lore
            dc: 10
            deps:
              - {source: a, type: block}
              - {source: b, type: block}
`)
	phase := &cfg.Phases[0]
	pp := freshProgress()
	c, _ := phase.FindCheck("c")

	pp.CheckProgress["a"] = 1
	if IsUnlocked(cfg, phase, c, pp) {
		t.Fatal("one of two blocks satisfied should still lock")
	}
	pp.CheckProgress["b"] = 1
	if !IsUnlocked(cfg, phase, c, pp) {
		t.Fatal("both blocks satisfied should unlock")
	}
}

func TestNarrativeEdgesAreDisjunctive(t *testing.T) {
	cfg := mustConfig(t, `
tracker: {id: t, name: T, roll_mode: narrative}
phases:
  - id: p
    name: P
    groups:
      - id: g
        name: G
        checks:
          - {id: a, name: A, skill: lore, dc: 10}
          - {id: b, name: B, skill: lore, dc: 10}
          - id: c
            name: C
            skill: lore
            dc: 10
            deps:
              - {source: a, type: triumph}
              - {source: b, type: failure}
`)
	phase := &cfg.Phases[0]
	pp := freshProgress()
	c, _ := phase.FindCheck("c")

	if IsUnlocked(cfg, phase, c, pp) {
		t.Fatal("no narrative edge satisfied should lock")
	}
	pp.ResolvedChecks["b"] = domain.OutcomeFailure
	if !IsUnlocked(cfg, phase, c, pp) {
		t.Fatal("one satisfied narrative edge should unlock")
	}
	// In narrative mode a plain success does not satisfy a triumph edge.
	delete(pp.ResolvedChecks, "b")
	pp.ResolvedChecks["a"] = domain.OutcomeSuccess
	if IsUnlocked(cfg, phase, c, pp) {
		t.Fatal("success must not satisfy a triumph edge in narrative mode")
	}
	pp.ResolvedChecks["a"] = domain.OutcomeTriumph
	if !IsUnlocked(cfg, phase, c, pp) {
		t.Fatal("triumph should satisfy the triumph edge")
	}
}

func TestPreventsLocksWhenSourceComplete(t *testing.T) {
	cfg := mustConfig(t, `
tracker: {id: t, name: T, roll_mode: dc}
phases:
  - id: p
    name: P
    groups:
      - id: g
        name: G
        checks:
          - {id: loud, name: Loud way, skill: might, dc: 10}
          - id: quiet
            name: Quiet way
            skill: stealth
            dc: 12
            deps:
              - {source: loud, type: prevents}
`)
	phase := &cfg.Phases[0]
	pp := freshProgress()
	quiet, _ := phase.FindCheck("quiet")

	if !IsUnlocked(cfg, phase, quiet, pp) {
		t.Fatal("quiet should start unlocked")
	}
	pp.CheckProgress["loud"] = 1
	if IsUnlocked(cfg, phase, quiet, pp) {
		t.Fatal("completing loud should lock quiet")
	}
}

func TestResolvedNarrativeCheckIsTerminal(t *testing.T) {
	cfg := mustConfig(t, `
tracker: {id: t, name: T, roll_mode: narrative}
phases:
  - id: p
    name: P
    groups:
      - id: g
        name: G
        checks:
          - {id: a, name: A, skill: lore, dc: 10, target: 3}
`)
	phase := &cfg.Phases[0]
	pp := freshProgress()
	a, _ := phase.FindCheck("a")

	// Failed but resolved: the outcome is recorded, the check never reopens.
	pp.ResolvedChecks["a"] = domain.OutcomeFailure
	if IsUnlocked(cfg, phase, a, pp) {
		t.Fatal("check with a recorded outcome must not unlock again")
	}
}

func TestDanglingEdgeFailsOpen(t *testing.T) {
	cfg := mustConfig(t, `
tracker: {id: t, name: T, roll_mode: dc}
phases:
  - id: p
    name: P
    groups:
      - id: g
        name: G
        checks:
          - id: a
            name: A
            skill: lore
            dc: 10
            deps:
              - {source: no-such-check, type: block}
`)
	phase := &cfg.Phases[0]
	pp := freshProgress()
	a, _ := phase.FindCheck("a")
	if !IsUnlocked(cfg, phase, a, pp) {
		t.Fatal("dangling block source should be treated as satisfied")
	}
}

func TestGroupEdgeWithMaxChecks(t *testing.T) {
	cfg := mustConfig(t, `
tracker: {id: t, name: T, roll_mode: dc}
phases:
  - id: p
    name: P
    groups:
      - id: prep
        name: Prep
        max_checks: 2
        checks:
          - {id: a, name: A, skill: lore, dc: 10}
          - {id: b, name: B, skill: lore, dc: 10}
          - {id: c, name: C, skill: lore, dc: 10}
      - id: exec
        name: Exec
        checks:
          - id: go
            name: Go
            skill: might
            dc: 10
            deps:
              - {source: prep, kind: group, type: block}
`)
	phase := &cfg.Phases[0]
	pp := freshProgress()
	goCheck, _ := phase.FindCheck("go")

	pp.CheckProgress["a"] = 1
	if IsUnlocked(cfg, phase, goCheck, pp) {
		t.Fatal("1 of 2 required group checks should not satisfy")
	}
	pp.CheckProgress["c"] = 1
	if !IsUnlocked(cfg, phase, goCheck, pp) {
		t.Fatal("any 2 of 3 checks should satisfy max_checks: 2")
	}
}

const tierEdgeYAML = `
tracker:
  id: heist
  name: The Heist
  roll_mode: dc
phases:
  - id: casing
    name: Casing the Joint
    groups:
      - id: legwork
        name: Legwork
        checks:
          - id: bribe
            name: Bribe the clerk
            skill: charm
            dc: 12
          - id: blackmail
            name: Press the advantage
            skill: cunning
            dc: 14
            deps:
              - {source: bribe, type: triumph}
`

// A tracker that played under narrative dice and later switched to dc keeps
// its declared outcomes in the replayed log. Tier requirements on those
// outcomes relax to their binary class under dc, but stay strict while the
// tracker is still narrative.
func TestTierEdgeAfterModeSwitch(t *testing.T) {
	entry := attemptEntry(1, "casing", "bribe", true)
	entry.Success = nil
	entry.Outcome = domain.OutcomeSuccess

	cfg := mustConfig(t, tierEdgeYAML)
	state := Rebuild(cfg, []domain.LogEntry{entry})
	phase := &cfg.Phases[0]
	pp := state.Phases["casing"]
	blackmail, _ := phase.FindCheck("blackmail")
	if !IsUnlocked(cfg, phase, blackmail, pp) {
		t.Fatal("under dc a recorded success should satisfy a triumph edge")
	}

	narrative := strings.Replace(tierEdgeYAML, "roll_mode: dc", "roll_mode: narrative", 1)
	cfg = mustConfig(t, narrative)
	state = Rebuild(cfg, []domain.LogEntry{entry})
	phase = &cfg.Phases[0]
	pp = state.Phases["casing"]
	blackmail, _ = phase.FindCheck("blackmail")
	if IsUnlocked(cfg, phase, blackmail, pp) {
		t.Fatal("under narrative a plain success must not satisfy a triumph edge")
	}
}

func ids(checks []config.Check) []string {
	out := make([]string, len(checks))
	for i, c := range checks {
		out[i] = c.ID
	}
	return out
}
