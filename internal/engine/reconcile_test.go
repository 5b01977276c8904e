package engine

import (
	"reflect"
	"testing"

	"downtrack/internal/domain"
)

func TestRebuildReplaysToSameState(t *testing.T) {
	cfg := mustConfig(t, workshopYAML)

	log := []domain.LogEntry{
		attemptEntry(1, "build", "frame", true),
		attemptEntry(2, "build", "frame", false),
		attemptEntry(3, "build", "frame", true),
	}
	state := Rebuild(cfg, log)

	pp := state.Phases["build"]
	if pp.CheckProgress["frame"] != 2 {
		t.Fatalf("want frame progress 2, got %d", pp.CheckProgress["frame"])
	}
	if pp.Progress != 2 {
		t.Fatalf("want aggregate 2, got %d", pp.Progress)
	}
	if state.CheckCount != 3 {
		t.Fatalf("want check count 3, got %d", state.CheckCount)
	}
	if state.ActivePhaseID != "build" {
		t.Fatalf("build incomplete, active should stay build, got %q", state.ActivePhaseID)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	cfg := mustConfig(t, workshopYAML)

	log := []domain.LogEntry{
		attemptEntry(1, "build", "frame", true),
		attemptEntry(2, "build", "frame", true),
		attemptEntry(3, "build", "frame", true),
		attemptEntry(4, "build", "finish", true),
		attemptEntry(5, "sell", "pitch", false),
	}
	once := Rebuild(cfg, log)
	twice := Rebuild(cfg, once.Log)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("rebuild not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestRebuildRegeneratesPhaseCompletion(t *testing.T) {
	cfg := mustConfig(t, workshopYAML)

	log := []domain.LogEntry{
		attemptEntry(1, "build", "frame", true),
		attemptEntry(2, "build", "frame", true),
		attemptEntry(3, "build", "frame", true),
		attemptEntry(4, "build", "finish", true),
	}
	state := Rebuild(cfg, log)

	if !state.Phases["build"].Completed {
		t.Fatal("build should be complete")
	}
	if state.ActivePhaseID != "sell" {
		t.Fatalf("active phase should advance to sell, got %q", state.ActivePhaseID)
	}
	var pcs []domain.LogEntry
	for _, e := range state.Log {
		if e.Kind == domain.EntryPhaseComplete {
			pcs = append(pcs, e)
		}
	}
	if len(pcs) != 1 {
		t.Fatalf("want exactly one phase-complete entry, got %d", len(pcs))
	}
	if pcs[0].ID != "phase-complete-build" || pcs[0].NextPhaseID != "sell" {
		t.Fatalf("unexpected phase-complete entry: %+v", pcs[0])
	}
}

func TestRebuildAfterTogglingSuccessFlag(t *testing.T) {
	cfg := mustConfig(t, workshopYAML)

	log := []domain.LogEntry{
		attemptEntry(1, "build", "frame", true),
		attemptEntry(2, "build", "frame", true),
	}
	state := Rebuild(cfg, log)
	if state.Phases["build"].CheckProgress["frame"] != 2 {
		t.Fatalf("want 2, got %d", state.Phases["build"].CheckProgress["frame"])
	}

	// Flip the first attempt to a failure: progress and streak both change.
	edited := make([]domain.LogEntry, len(state.Log))
	copy(edited, state.Log)
	for i := range edited {
		if edited[i].Number == 1 {
			f := false
			edited[i].Success = &f
		}
	}
	state = Rebuild(cfg, edited)
	pp := state.Phases["build"]
	if pp.CheckProgress["frame"] != 1 {
		t.Fatalf("after edit want 1, got %d", pp.CheckProgress["frame"])
	}
	if pp.FailuresInRow != 0 {
		t.Fatalf("later success resets the streak, got %d", pp.FailuresInRow)
	}
}

func TestRebuildKeepsMalformedEntriesInLog(t *testing.T) {
	cfg := mustConfig(t, workshopYAML)

	log := []domain.LogEntry{
		attemptEntry(1, "build", "frame", true),
		attemptEntry(2, "build", "ghost-check", true),
	}
	state := Rebuild(cfg, log)
	if len(state.Log) != 2 {
		t.Fatalf("malformed entry should survive in the log, got %d entries", len(state.Log))
	}
	if state.Phases["build"].Progress != 1 {
		t.Fatalf("malformed entry contributes nothing, want 1 got %d", state.Phases["build"].Progress)
	}
}

func TestRebuildOrdersByNumberNotPosition(t *testing.T) {
	cfg := mustConfig(t, workshopYAML)

	// Shuffled input: numbers carry the ordering.
	log := []domain.LogEntry{
		attemptEntry(3, "build", "frame", true),
		attemptEntry(1, "build", "frame", false),
		attemptEntry(2, "build", "frame", false),
	}
	state := Rebuild(cfg, log)
	pp := state.Phases["build"]
	if pp.FailuresInRow != 0 {
		t.Fatalf("attempt 3 succeeded last, streak should be 0, got %d", pp.FailuresInRow)
	}
	if state.Log[0].Number != 3 {
		t.Fatalf("log should come out newest first, got %d", state.Log[0].Number)
	}
}

func TestCompletedTrackerHasNoActivePhase(t *testing.T) {
	cfg := mustConfig(t, workshopYAML)

	log := []domain.LogEntry{
		attemptEntry(1, "build", "frame", true),
		attemptEntry(2, "build", "frame", true),
		attemptEntry(3, "build", "frame", true),
		attemptEntry(4, "build", "finish", true),
		attemptEntry(5, "sell", "pitch", true),
	}
	state := Rebuild(cfg, log)
	if state.ActivePhaseID != "" {
		t.Fatalf("all phases done, active should be empty, got %q", state.ActivePhaseID)
	}
	if !state.Phases["sell"].Completed {
		t.Fatal("sell should be complete")
	}
}
