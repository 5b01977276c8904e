package dice

import (
	"strings"
	"testing"
)

func TestRollIsDeterministicPerSeed(t *testing.T) {
	r := SeededRoller{}
	in := RollInput{Skill: "stealth", Modifier: 3, Seed: 42}
	a, err := r.Roll(in)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Roll(in)
	if a != b {
		t.Fatalf("same seed should reproduce the roll: %+v vs %+v", a, b)
	}
	if a.Face < 1 || a.Face > MaxFace {
		t.Fatalf("face out of range: %d", a.Face)
	}
	if a.Total != a.Face+3 {
		t.Fatalf("total should be face+modifier: %+v", a)
	}
}

func TestAdvantageKeepsHigher(t *testing.T) {
	r := SeededRoller{}
	for seed := int64(1); seed <= 50; seed++ {
		adv, _ := r.Roll(RollInput{Skill: "lore", Advantage: true, Seed: seed})
		dis, _ := r.Roll(RollInput{Skill: "lore", Disadvantage: true, Seed: seed})
		if adv.Face < dis.Face {
			t.Fatalf("seed %d: advantage face %d below disadvantage face %d", seed, adv.Face, dis.Face)
		}
		if !strings.HasPrefix(adv.Formula, "2d20kh") {
			t.Fatalf("advantage formula: %s", adv.Formula)
		}
		if !strings.HasPrefix(dis.Formula, "2d20kl") {
			t.Fatalf("disadvantage formula: %s", dis.Formula)
		}
	}
}

func TestMissingSkillRejected(t *testing.T) {
	if _, err := (SeededRoller{}).Roll(RollInput{Seed: 1}); err != ErrMissingSkill {
		t.Fatalf("want ErrMissingSkill, got %v", err)
	}
}
