package config

import (
	"strings"
	"testing"
)

func TestDefaultTemplateParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("demo")))
	if err != nil {
		t.Fatalf("default template should parse: %v", err)
	}
	if cfg.Tracker.ID != "demo" {
		t.Fatalf("tracker id not substituted: %q", cfg.Tracker.ID)
	}
	if len(cfg.Phases) == 0 {
		t.Fatal("default template should define phases")
	}
}

func TestLegacySingleSkillPhaseNormalizes(t *testing.T) {
	cfg, err := FromYAML([]byte(`
tracker: {id: t, name: T, roll_mode: dc}
phases:
  - id: research
    name: Research
    skill: lore
    dc: 15
    target: 3
`))
	if err != nil {
		t.Fatalf("legacy shape should parse: %v", err)
	}
	p := &cfg.Phases[0]
	if len(p.Groups) != 1 || len(p.Groups[0].Checks) != 1 {
		t.Fatalf("legacy phase should normalize to one group with one check: %+v", p.Groups)
	}
	ch := p.Groups[0].Checks[0]
	if ch.Skill != "lore" || ch.DC == nil || *ch.DC != 15 || ch.Target != 3 {
		t.Fatalf("check fields not carried over: %+v", ch)
	}
}

func TestValidateRejectsBadRollMode(t *testing.T) {
	_, err := FromYAML([]byte(`
tracker: {id: t, name: T, roll_mode: coinflip}
phases:
  - id: p
    name: P
    skill: lore
    dc: 10
`))
	if err == nil || !strings.Contains(err.Error(), "roll_mode") {
		t.Fatalf("want roll_mode error, got %v", err)
	}
}

func TestValidateRejectsDuplicateCheckIDs(t *testing.T) {
	_, err := FromYAML([]byte(`
tracker: {id: t, name: T, roll_mode: dc}
phases:
  - id: p
    name: P
    groups:
      - id: g
        name: G
        checks:
          - {id: a, name: A, skill: lore, dc: 10}
          - {id: a, name: A again, skill: lore, dc: 10}
`))
	if err == nil {
		t.Fatal("duplicate check ids should be rejected")
	}
}

func TestDanglingDepSourceIsNotAnError(t *testing.T) {
	_, err := FromYAML([]byte(`
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
              - {source: missing, type: block}
`))
	if err != nil {
		t.Fatalf("dangling dep sources fail open at resolve time, not load time: %v", err)
	}
}

func TestStepTierClamps(t *testing.T) {
	if got := StepTier("regular", 1); got != "hard" {
		t.Fatalf("regular+1: %s", got)
	}
	if got := StepTier("hard", 5); got != "extreme" {
		t.Fatalf("hard+5 should clamp: %s", got)
	}
	if got := StepTier("easy", -2); got != "easy" {
		t.Fatalf("easy-2 should clamp: %s", got)
	}
}

func TestTierDCHonorsOverrides(t *testing.T) {
	cfg, err := FromYAML([]byte(`
tracker: {id: t, name: T, roll_mode: tiered}
tiers: {hard: 22}
phases:
  - id: p
    name: P
    groups:
      - id: g
        name: G
        checks:
          - {id: a, name: A, skill: lore, tier: hard}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TierDC("hard") != 22 {
		t.Fatalf("override ignored: %d", cfg.TierDC("hard"))
	}
	if cfg.TierDC("regular") != 15 {
		t.Fatalf("ladder default lost: %d", cfg.TierDC("regular"))
	}
}

func TestRoundTripPreservesStructure(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("demo")))
	if err != nil {
		t.Fatal(err)
	}
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatal(err)
	}
	again, err := FromYAML(data)
	if err != nil {
		t.Fatalf("serialized config should load: %v", err)
	}
	if len(again.Phases) != len(cfg.Phases) {
		t.Fatalf("phase count changed: %d != %d", len(again.Phases), len(cfg.Phases))
	}
}
