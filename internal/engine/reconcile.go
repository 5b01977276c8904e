package engine

import (
	"sort"

	"downtrack/internal/config"
	"downtrack/internal/domain"
)

// Rebuild deterministically recomputes a tracker's state by replaying its
// log oldest-first through the same mutation rules as live attempts, without
// re-invoking external side effects. Phase-complete entries are regenerated
// from the replay rather than trusted from the input.
//
// Rebuild is idempotent: rebuilding an already-consistent state changes
// nothing. Malformed entries (unknown phase or check) are kept in the log but
// contribute no progress.
func Rebuild(cfg *config.Config, log []domain.LogEntry) domain.TrackerState {
	attempts := make([]domain.LogEntry, 0, len(log))
	for _, e := range log {
		if e.Kind == domain.EntryAttempt {
			attempts = append(attempts, e)
		}
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].Number < attempts[j].Number
	})

	state := NewState(cfg)
	maxNumber := 0
	for i := range attempts {
		entry := attempts[i]
		if entry.Number > maxNumber {
			maxNumber = entry.Number
		}
		phase := cfg.FindPhase(entry.PhaseID)
		res := applyEntry(cfg, &state, &entry)
		prependLog(&state, entry)
		if res.phaseCompleted && phase != nil {
			completePhase(cfg, &state, phase, entry)
		}
	}

	if maxNumber > 0 {
		state.CheckCount = maxNumber
	} else {
		state.CheckCount = len(attempts)
	}
	return state
}
