package engine

import (
	"downtrack/internal/config"
	"downtrack/internal/domain"
)

// completePhase records a phase-complete log entry and activates the next
// incomplete phase. It is pure state mutation; live side effects (rewards,
// macros, events) are the caller's concern. The trigger entry supplies the
// timestamp and ordering key so replay regenerates an identical entry.
func completePhase(cfg *config.Config, state *domain.TrackerState, phase *config.Phase, trigger domain.LogEntry) domain.LogEntry {
	next := nextIncompletePhase(cfg, state)

	entry := domain.LogEntry{
		ID:        "phase-complete-" + phase.ID,
		Number:    trigger.Number,
		Kind:      domain.EntryPhaseComplete,
		PhaseID:   phase.ID,
		PhaseName: phase.Name,
		ActorID:   trigger.ActorID,
		TS:        trigger.TS,
	}
	if next != nil {
		entry.NextPhaseID = next.ID
	}

	if next == nil {
		state.ActivePhaseID = ""
	} else if next.ID != phase.ID {
		state.Phases[next.ID] = freshProgress()
		state.ActivePhaseID = next.ID
	}

	prependLog(state, entry)
	return entry
}

// nextIncompletePhase returns the first phase, in configured order, not yet
// complete. Order independence is intentional: a later phase completed out of
// order through manual edits is skipped.
func nextIncompletePhase(cfg *config.Config, state *domain.TrackerState) *config.Phase {
	for i := range cfg.Phases {
		p := &cfg.Phases[i]
		pp := state.Phases[p.ID]
		if pp == nil || !pp.Completed {
			return p
		}
	}
	return nil
}
