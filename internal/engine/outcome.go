package engine

import (
	"math/rand"

	"downtrack/internal/config"
	"downtrack/internal/dice"
	"downtrack/internal/domain"
)

// LogCapacity bounds the retained log; the oldest entries are silently
// dropped past this point. The full history lives in the event table.
const LogCapacity = 50

// NewState returns the initial progress state for a configuration.
func NewState(cfg *config.Config) domain.TrackerState {
	state := domain.TrackerState{
		Phases: map[string]*domain.PhaseProgress{},
	}
	for i := range cfg.Phases {
		state.Phases[cfg.Phases[i].ID] = freshProgress()
	}
	if len(cfg.Phases) > 0 {
		state.ActivePhaseID = cfg.Phases[0].ID
	}
	return state
}

func freshProgress() *domain.PhaseProgress {
	return &domain.PhaseProgress{
		CheckProgress:  map[string]int{},
		ResolvedChecks: map[string]string{},
	}
}

func ensurePhase(state *domain.TrackerState, phaseID string) *domain.PhaseProgress {
	if state.Phases == nil {
		state.Phases = map[string]*domain.PhaseProgress{}
	}
	pp, ok := state.Phases[phaseID]
	if !ok || pp == nil {
		pp = freshProgress()
		state.Phases[phaseID] = pp
	}
	if pp.CheckProgress == nil {
		pp.CheckProgress = map[string]int{}
	}
	if pp.ResolvedChecks == nil {
		pp.ResolvedChecks = map[string]string{}
	}
	return pp
}

type applyResult struct {
	applied            bool
	phaseCompleted     bool
	justCompletedGroup string
}

// applyEntry replays one attempt entry against the state. This is the single
// set of mutation rules shared by live attempts and log replay; it performs
// no external side effects. Entries that reference unknown phases or checks
// contribute nothing.
//
// The entry's progress-gained and critical fields are recomputed so that log
// edits flow through to derived state.
func applyEntry(cfg *config.Config, state *domain.TrackerState, entry *domain.LogEntry) applyResult {
	if entry.Kind != domain.EntryAttempt {
		return applyResult{}
	}
	phase := cfg.FindPhase(entry.PhaseID)
	if phase == nil {
		return applyResult{}
	}
	check, group := phase.FindCheck(entry.CheckID)
	if check == nil {
		return applyResult{}
	}

	pp := ensurePhase(state, phase.ID)
	target := cfg.PhaseTarget(phase)
	aggBefore := pp.Progress
	groupWasComplete := groupComplete(group, pp)

	if entry.Succeeded() {
		critical := phase.AllowCritical &&
			cfg.Tracker.RollMode == config.RollModeDC &&
			entry.DieFace != nil && *entry.DieFace == dice.MaxFace
		gain := 1
		if critical {
			gain = 2
		}
		before := pp.CheckProgress[check.ID]
		after := before + gain
		if after > check.Target {
			after = check.Target
		}
		pp.CheckProgress[check.ID] = after
		pp.FailuresInRow = 0
		entry.Critical = critical

		// Declared outcomes are recorded in any roll mode so a narrative
		// history keeps satisfying outcome edges after a config switch to
		// dc or tiered.
		if entry.Outcome != "" {
			pp.ResolvedChecks[check.ID] = entry.Outcome
		}
		if check.CompletesGroup {
			fillGroup(group, pp)
		}
		if check.CompletesPhase {
			for gi := range phase.Groups {
				fillGroup(&phase.Groups[gi], pp)
			}
		}
	} else {
		pp.FailuresInRow++
		entry.Critical = false
		if entry.Outcome != "" {
			pp.ResolvedChecks[check.ID] = entry.Outcome
		}
	}

	sum := 0
	for gi := range phase.Groups {
		g := &phase.Groups[gi]
		for ci := range g.Checks {
			sum += pp.CheckProgress[g.Checks[ci].ID]
		}
	}
	if sum > target {
		sum = target
	}
	pp.Progress = sum
	entry.Progress = pp.Progress - aggBefore

	wasCompleted := pp.Completed
	pp.Completed = target > 0 && pp.Progress >= target

	res := applyResult{
		applied:        true,
		phaseCompleted: pp.Completed && !wasCompleted,
	}
	if entry.Succeeded() && !groupWasComplete && groupComplete(group, pp) {
		res.justCompletedGroup = group.ID
	}
	return res
}

// fillGroup raises every check in the group to its target. Idempotent:
// already-complete checks are untouched and no target is exceeded.
func fillGroup(g *config.Group, pp *domain.PhaseProgress) {
	for i := range g.Checks {
		ch := &g.Checks[i]
		if pp.CheckProgress[ch.ID] < ch.Target {
			pp.CheckProgress[ch.ID] = ch.Target
		}
	}
}

// selectLine picks a narrative line for an attempt. Specificity order: lines
// tied to the exact check, then (successes only, the instant the check's
// group just completed) lines tied to that group, then unconstrained lines.
// Ties within a tier break by uniform random choice.
func selectLine(rng *rand.Rand, phase *config.Phase, checkID, justCompletedGroup string, success bool) string {
	lines := phase.FailureLines
	if success {
		lines = phase.SuccessLines
	}
	var checkTied, groupTied, free []string
	for _, l := range lines {
		switch {
		case l.Check != "":
			if l.Check == checkID {
				checkTied = append(checkTied, l.Text)
			}
		case l.Group != "":
			if success && justCompletedGroup != "" && l.Group == justCompletedGroup {
				groupTied = append(groupTied, l.Text)
			}
		default:
			free = append(free, l.Text)
		}
	}
	for _, tier := range [][]string{checkTied, groupTied, free} {
		if len(tier) == 0 {
			continue
		}
		if len(tier) == 1 {
			return tier[0]
		}
		return tier[rng.Intn(len(tier))]
	}
	return ""
}

// prependLog inserts the newest entry at the front and enforces the
// capacity bound.
func prependLog(state *domain.TrackerState, entry domain.LogEntry) {
	state.Log = append([]domain.LogEntry{entry}, state.Log...)
	if len(state.Log) > LogCapacity {
		state.Log = state.Log[:LogCapacity]
	}
}
