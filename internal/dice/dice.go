// Package dice implements skill roll resolution for downtime checks.
package dice

import (
	"errors"
	"fmt"
	"math/rand"
)

// MaxFace is the highest face of the check die; rolling it is a critical.
const MaxFace = 20

// ErrMissingSkill indicates a roll request had no skill reference.
var ErrMissingSkill = errors.New("skill is required")

// RollInput describes one skill check roll.
type RollInput struct {
	Skill        string
	Modifier     int
	Advantage    bool
	Disadvantage bool
	Seed         int64
}

// RollOutput captures the resolved roll.
type RollOutput struct {
	Total   int
	Face    int
	Formula string
}

// SkillRollProvider resolves a skill check into a numeric total. Hosts bind a
// concrete adapter once at startup; the engine never probes for one.
type SkillRollProvider interface {
	Roll(input RollInput) (RollOutput, error)
}

// SeededRoller is the default provider: a d20 plus modifier, deterministic
// with respect to the input Seed. Advantage rolls two dice and keeps the
// higher; disadvantage keeps the lower. Callers are expected to have already
// cancelled simultaneous advantage and disadvantage.
type SeededRoller struct{}

func (SeededRoller) Roll(input RollInput) (RollOutput, error) {
	if input.Skill == "" {
		return RollOutput{}, ErrMissingSkill
	}
	rng := rand.New(rand.NewSource(input.Seed))
	first := rng.Intn(MaxFace) + 1
	face := first
	formula := fmt.Sprintf("d20(%d)", first)
	if input.Advantage || input.Disadvantage {
		second := rng.Intn(MaxFace) + 1
		if input.Advantage {
			face = max(first, second)
			formula = fmt.Sprintf("2d20kh(%d,%d)", first, second)
		} else {
			face = min(first, second)
			formula = fmt.Sprintf("2d20kl(%d,%d)", first, second)
		}
	}
	total := face + input.Modifier
	if input.Modifier != 0 {
		formula = fmt.Sprintf("%s%+d", formula, input.Modifier)
	}
	return RollOutput{Total: total, Face: face, Formula: formula}, nil
}
