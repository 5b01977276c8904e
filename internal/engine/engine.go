// Package engine implements the downtime tracker core: check unlocking,
// roll resolution, phase transitions, and log replay, serialized behind a
// single writer.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"downtrack/internal/config"
	"downtrack/internal/dice"
	"downtrack/internal/domain"
	"downtrack/internal/engine/auth"
	"downtrack/internal/events"
	"downtrack/internal/hooks"
	"downtrack/internal/repo"
	"downtrack/internal/rewards"
	"downtrack/internal/tables"
)

var (
	ErrCheckLocked     = errors.New("check is locked by its dependencies")
	ErrTrackerComplete = errors.New("all phases are complete")
	ErrRequestExpired  = errors.New("roll request has expired")
)

// requestTTL is how long a player's roll request stays pending.
const requestTTL = 24 * time.Hour

// Engine executes tracker operations. All state mutations take mu, making
// the GM the single writer: concurrent attempts are serialized, never
// interleaved.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    auth.Service
	Roller  dice.SkillRollProvider
	Tables  tables.Drawer
	Rewards rewards.Granter
	Hooks   hooks.Invoker
	Now     func() time.Time
	Rand    *rand.Rand

	mu sync.Mutex
}

func New(db *sql.DB) *Engine {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Auth:    auth.Service{DB: db},
		Roller:  dice.SeededRoller{},
		Tables:  tables.ConfigDrawer{Rand: rng},
		Rewards: rewards.SQLGranter{DB: db},
		Hooks:   hooks.Noop{},
		Now:     time.Now,
		Rand:    rng,
	}
}

func (e *Engine) now() string {
	return e.Now().UTC().Format(time.RFC3339)
}

// InitTracker creates a tracker with its configuration and fresh state.
func (e *Engine) InitTracker(ctx context.Context, t domain.Tracker, cfg *config.Config, actorID string) (domain.Tracker, error) {
	if t.ID == "" {
		return t, errors.New("tracker id required")
	}
	if err := cfg.Validate(); err != nil {
		return t, err
	}
	if t.Name == "" {
		t.Name = cfg.Tracker.Name
	}
	if t.Status == "" {
		t.Status = "active"
	}
	t.CreatedAt = e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTracker(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Repo.UpsertTrackerConfigTx(ctx, tx, t.ID, cfg); err != nil {
		return t, err
	}
	state := NewState(cfg)
	if err := e.Repo.SaveState(ctx, tx, t.ID, state); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "tracker.created", t.ID, "tracker", t.ID, actorID, events.EventPayload{
		"name": t.Name,
	}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// ImportConfig replaces a tracker's configuration and rebuilds state by
// replaying the existing log against the new config.
func (e *Engine) ImportConfig(ctx context.Context, trackerID string, cfg *config.Config, actorID string) (domain.TrackerState, error) {
	if err := cfg.Validate(); err != nil {
		return domain.TrackerState{}, err
	}
	if err := e.Auth.RequireGM(ctx, trackerID, actorID); err != nil {
		return domain.TrackerState{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev, err := e.Repo.GetState(ctx, trackerID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.TrackerState{}, err
	}
	state := Rebuild(cfg, prev.Log)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TrackerState{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertTrackerConfigTx(ctx, tx, trackerID, cfg); err != nil {
		return domain.TrackerState{}, err
	}
	if err := e.Repo.SaveState(ctx, tx, trackerID, state); err != nil {
		return domain.TrackerState{}, err
	}
	if err := e.Events.Append(ctx, tx, "config.imported", trackerID, "tracker", trackerID, actorID, nil); err != nil {
		return domain.TrackerState{}, err
	}
	return state, tx.Commit()
}

// CheckView is one attemptable check with its effective roll parameters.
type CheckView struct {
	PhaseID   string
	GroupID   string
	GroupName string
	Check     config.Check
	Params    RollParams
	Progress  int
}

// Available lists the active phase's unlocked, incomplete checks in
// declaration order, with effective roll parameters resolved.
func (e *Engine) Available(ctx context.Context, trackerID string) ([]CheckView, error) {
	cfg, err := e.Repo.GetTrackerConfig(ctx, trackerID)
	if err != nil {
		return nil, err
	}
	state, err := e.Repo.GetState(ctx, trackerID)
	if err != nil {
		return nil, err
	}
	if state.ActivePhaseID == "" {
		return nil, nil
	}
	phase := cfg.FindPhase(state.ActivePhaseID)
	if phase == nil {
		return nil, fmt.Errorf("active phase %s not in config", state.ActivePhaseID)
	}
	pp := state.Phases[phase.ID]
	var out []CheckView
	for _, ch := range AvailableChecks(cfg, phase, pp) {
		ch := ch
		_, group := phase.FindCheck(ch.ID)
		view := CheckView{
			PhaseID:  phase.ID,
			Check:    ch,
			Params:   RollParameters(cfg, phase, &ch, pp),
			Progress: checkProgress(pp, ch.ID),
		}
		if group != nil {
			view.GroupID = group.ID
			view.GroupName = group.Name
		}
		out = append(out, view)
	}
	return out, nil
}

// AttemptOptions describes one check attempt.
type AttemptOptions struct {
	TrackerID string
	CheckID   string
	// ActorID is the character making the attempt.
	ActorID string
	// By is the authority submitting the attempt; empty means ActorID.
	By       string
	Modifier int
	// Manual resolves the attempt without rolling: success|failure in dc and
	// tiered modes, any narrative tier in narrative mode (where it is
	// required).
	Manual string
	// Seed pins the roll for reproducibility; zero draws a fresh seed.
	Seed int64
	// Force bypasses the dependency lock. GM escape hatch.
	Force bool
}

// Attempt resolves one check attempt end to end: lock verification, modifier
// computation, roll, state mutation, line selection, failure complication,
// phase transition, and persistence. Rewards and hooks fire after commit and
// never fail the attempt.
func (e *Engine) Attempt(ctx context.Context, opts AttemptOptions) (domain.LogEntry, error) {
	by := opts.By
	if by == "" {
		by = opts.ActorID
	}
	if err := e.Auth.RequireGM(ctx, opts.TrackerID, by); err != nil {
		return domain.LogEntry{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.Repo.GetTrackerConfig(ctx, opts.TrackerID)
	if err != nil {
		return domain.LogEntry{}, err
	}
	state, err := e.Repo.GetState(ctx, opts.TrackerID)
	if err != nil {
		return domain.LogEntry{}, err
	}
	if state.ActivePhaseID == "" {
		return domain.LogEntry{}, ErrTrackerComplete
	}
	phase := cfg.FindPhase(state.ActivePhaseID)
	if phase == nil {
		return domain.LogEntry{}, fmt.Errorf("active phase %s not in config", state.ActivePhaseID)
	}
	check, group := phase.FindCheck(opts.CheckID)
	if check == nil {
		return domain.LogEntry{}, fmt.Errorf("check %s not in active phase %s: %w", opts.CheckID, phase.ID, repo.ErrNotFound)
	}
	pp := ensurePhase(&state, phase.ID)
	if !opts.Force && !IsUnlocked(cfg, phase, check, pp) {
		return domain.LogEntry{}, ErrCheckLocked
	}

	params := RollParameters(cfg, phase, check, pp)

	entry := domain.LogEntry{
		ID:        uuid.NewString(),
		Number:    state.CheckCount + 1,
		Kind:      domain.EntryAttempt,
		PhaseID:   phase.ID,
		PhaseName: phase.Name,
		CheckID:   check.ID,
		CheckName: check.Name,
		ActorID:   opts.ActorID,
		Skill:     params.Skill,
		TS:        e.now(),
	}
	if group != nil {
		entry.GroupID = group.ID
		entry.GroupName = group.Name
	}
	entry.Difficulty = params.DifficultyLabel(cfg)

	if err := e.resolveAttempt(cfg, params, opts, &entry); err != nil {
		return domain.LogEntry{}, err
	}

	res := applyEntry(cfg, &state, &entry)
	if !res.applied {
		return domain.LogEntry{}, fmt.Errorf("attempt on %s did not apply", check.ID)
	}
	entry.Line = selectLine(e.Rand, phase, check.ID, res.justCompletedGroup, entry.Succeeded())
	if !entry.Succeeded() && phase.FailureEvents && phase.FailureTable != "" {
		text, err := e.Tables.Draw(cfg, phase.FailureTable)
		if err != nil {
			log.Printf("failure table %s: %v", phase.FailureTable, err)
		} else {
			entry.FailureEvent = text
		}
	}
	prependLog(&state, entry)
	state.CheckCount++

	var phaseEntry *domain.LogEntry
	if res.phaseCompleted {
		pe := completePhase(cfg, &state, phase, entry)
		phaseEntry = &pe
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LogEntry{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveState(ctx, tx, opts.TrackerID, state); err != nil {
		return domain.LogEntry{}, err
	}
	if err := e.Events.Append(ctx, tx, "check.attempted", opts.TrackerID, "check", check.ID, opts.ActorID, events.EventPayload{
		"entry_id": entry.ID,
		"number":   entry.Number,
		"success":  entry.Succeeded(),
		"outcome":  entry.Outcome,
		"progress": entry.Progress,
	}); err != nil {
		return domain.LogEntry{}, err
	}
	if phaseEntry != nil {
		if err := e.Events.Append(ctx, tx, "phase.completed", opts.TrackerID, "phase", phase.ID, opts.ActorID, events.EventPayload{
			"next_phase_id": phaseEntry.NextPhaseID,
		}); err != nil {
			return domain.LogEntry{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.LogEntry{}, err
	}

	e.fireSideEffects(ctx, phase, check, entry, res, opts)
	return entry, nil
}

// resolveAttempt fills the entry's roll fields, either from a manual decree
// or a live roll. Roll provider errors abort before any state mutation.
func (e *Engine) resolveAttempt(cfg *config.Config, params RollParams, opts AttemptOptions, entry *domain.LogEntry) error {
	if cfg.Tracker.RollMode == config.RollModeNarrative {
		if !domain.ValidOutcome(opts.Manual) {
			return fmt.Errorf("narrative mode requires a declared outcome (success, failure, triumph, despair)")
		}
		entry.Outcome = opts.Manual
		return nil
	}
	switch opts.Manual {
	case "":
	case domain.OutcomeSuccess, domain.OutcomeFailure:
		success := opts.Manual == domain.OutcomeSuccess
		entry.Success = &success
		return nil
	default:
		return fmt.Errorf("manual result %q must be success or failure", opts.Manual)
	}

	seed := opts.Seed
	if seed == 0 {
		seed = e.Rand.Int63()
	}
	out, err := e.Roller.Roll(dice.RollInput{
		Skill:        params.Skill,
		Modifier:     opts.Modifier,
		Advantage:    params.Advantage,
		Disadvantage: params.Disadvantage,
		Seed:         seed,
	})
	if err != nil {
		return err
	}
	dc := params.EffectiveDC(cfg)
	success := out.Total >= dc
	entry.Roll = out.Formula
	entry.RollTotal = &out.Total
	entry.DieFace = &out.Face
	entry.Success = &success
	return nil
}

// fireSideEffects applies rewards and hooks after the attempt is committed.
// Failures are logged, never propagated: tracker state is already safe.
func (e *Engine) fireSideEffects(ctx context.Context, phase *config.Phase, check *config.Check, entry domain.LogEntry, res applyResult, opts AttemptOptions) {
	if entry.Succeeded() {
		if check.Rewards != nil {
			grantID := opts.TrackerID + ":" + check.ID
			if err := e.Rewards.Apply(ctx, grantID, opts.ActorID, check.Rewards); err != nil {
				log.Printf("reward grant %s: %v", grantID, err)
			}
		}
		if check.Hook != "" {
			e.invokeHook(ctx, check.Hook, phase.ID, check.ID, opts, entry)
		}
	}
	if res.phaseCompleted {
		if phase.Rewards != nil {
			grantID := opts.TrackerID + ":" + phase.ID
			if err := e.Rewards.Apply(ctx, grantID, opts.ActorID, phase.Rewards); err != nil {
				log.Printf("reward grant %s: %v", grantID, err)
			}
		}
		if phase.Macro != "" {
			e.invokeHook(ctx, phase.Macro, phase.ID, "", opts, entry)
		}
	}
}

func (e *Engine) invokeHook(ctx context.Context, hook, phaseID, checkID string, opts AttemptOptions, entry domain.LogEntry) {
	err := e.Hooks.Invoke(ctx, hooks.Payload{
		Hook:      hook,
		TrackerID: opts.TrackerID,
		PhaseID:   phaseID,
		CheckID:   checkID,
		ActorID:   opts.ActorID,
		Success:   entry.Succeeded(),
		Outcome:   entry.Outcome,
		TS:        entry.TS,
	})
	if err != nil {
		log.Printf("hook %s: %v", hook, err)
	}
}

// SubmitRequest records a player's intent to attempt a check. The GM resolves
// it later; the request itself never touches tracker state.
func (e *Engine) SubmitRequest(ctx context.Context, trackerID, checkID, actorID, manual string, modifier int, note string) (domain.RollRequest, error) {
	if err := e.Auth.RequireMember(ctx, trackerID, actorID); err != nil {
		return domain.RollRequest{}, err
	}
	cfg, err := e.Repo.GetTrackerConfig(ctx, trackerID)
	if err != nil {
		return domain.RollRequest{}, err
	}
	found := false
	for pi := range cfg.Phases {
		if ch, _ := cfg.Phases[pi].FindCheck(checkID); ch != nil {
			found = true
			break
		}
	}
	if !found {
		return domain.RollRequest{}, fmt.Errorf("check %s: %w", checkID, repo.ErrNotFound)
	}

	now := e.Now().UTC()
	req := domain.RollRequest{
		ID:        uuid.NewString(),
		TrackerID: trackerID,
		CheckID:   checkID,
		ActorID:   actorID,
		Manual:    manual,
		Modifier:  modifier,
		Note:      note,
		Status:    domain.RequestPending,
		CreatedAt: now.Format(time.RFC3339),
		ExpiresAt: now.Add(requestTTL).Format(time.RFC3339),
	}
	if err := e.Repo.InsertRollRequest(ctx, req); err != nil {
		return domain.RollRequest{}, err
	}
	if err := e.appendEvent(ctx, "request.submitted", trackerID, "request", req.ID, actorID, events.EventPayload{
		"check_id": checkID,
	}); err != nil {
		return domain.RollRequest{}, err
	}
	return req, nil
}

// ApplyRequest resolves a pending roll request as the GM: the attempt is
// executed on behalf of the requesting player, then the request is marked
// applied.
func (e *Engine) ApplyRequest(ctx context.Context, trackerID, requestID, gmActorID string) (domain.LogEntry, error) {
	req, err := e.Repo.GetRollRequest(ctx, requestID)
	if err != nil {
		return domain.LogEntry{}, err
	}
	if req.TrackerID != trackerID {
		return domain.LogEntry{}, repo.ErrNotFound
	}
	if req.Status != domain.RequestPending {
		return domain.LogEntry{}, fmt.Errorf("request %s already %s", requestID, req.Status)
	}
	if req.ExpiresAt < e.now() {
		return domain.LogEntry{}, ErrRequestExpired
	}
	entry, err := e.Attempt(ctx, AttemptOptions{
		TrackerID: trackerID,
		CheckID:   req.CheckID,
		ActorID:   req.ActorID,
		By:        gmActorID,
		Modifier:  req.Modifier,
		Manual:    req.Manual,
	})
	if err != nil {
		return domain.LogEntry{}, err
	}
	if err := e.Repo.ResolveRollRequest(ctx, nil, requestID, domain.RequestApplied, gmActorID); err != nil {
		return entry, err
	}
	return entry, e.appendEvent(ctx, "request.applied", trackerID, "request", requestID, gmActorID, events.EventPayload{
		"entry_id": entry.ID,
	})
}

// RejectRequest declines a pending request without touching state.
func (e *Engine) RejectRequest(ctx context.Context, trackerID, requestID, gmActorID string) error {
	if err := e.Auth.RequireGM(ctx, trackerID, gmActorID); err != nil {
		return err
	}
	req, err := e.Repo.GetRollRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.TrackerID != trackerID {
		return repo.ErrNotFound
	}
	if err := e.Repo.ResolveRollRequest(ctx, nil, requestID, domain.RequestRejected, gmActorID); err != nil {
		return err
	}
	return e.appendEvent(ctx, "request.rejected", trackerID, "request", requestID, gmActorID, nil)
}

// RebuildState replays the log and persists the reconciled result.
func (e *Engine) RebuildState(ctx context.Context, trackerID, actorID string) (domain.TrackerState, error) {
	if err := e.Auth.RequireGM(ctx, trackerID, actorID); err != nil {
		return domain.TrackerState{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.Repo.GetTrackerConfig(ctx, trackerID)
	if err != nil {
		return domain.TrackerState{}, err
	}
	prev, err := e.Repo.GetState(ctx, trackerID)
	if err != nil {
		return domain.TrackerState{}, err
	}
	state := Rebuild(cfg, prev.Log)
	if err := e.saveAndRecord(ctx, trackerID, state, "state.rebuilt", actorID); err != nil {
		return domain.TrackerState{}, err
	}
	return state, nil
}

// LogEdit describes one correction to a log entry. A nil SetSuccess with an
// empty SetOutcome and Delete false is a no-op.
type LogEdit struct {
	SetSuccess *bool
	SetOutcome string
	Delete     bool
}

// EditLogEntry corrects or removes one attempt entry, then rebuilds state
// from the remaining log so every derived value reflects the edit.
func (e *Engine) EditLogEntry(ctx context.Context, trackerID, entryID string, edit LogEdit, actorID string) (domain.TrackerState, error) {
	if err := e.Auth.RequireGM(ctx, trackerID, actorID); err != nil {
		return domain.TrackerState{}, err
	}
	if edit.SetOutcome != "" && !domain.ValidOutcome(edit.SetOutcome) {
		return domain.TrackerState{}, fmt.Errorf("outcome %q is not a known tier", edit.SetOutcome)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.Repo.GetTrackerConfig(ctx, trackerID)
	if err != nil {
		return domain.TrackerState{}, err
	}
	prev, err := e.Repo.GetState(ctx, trackerID)
	if err != nil {
		return domain.TrackerState{}, err
	}

	edited := make([]domain.LogEntry, 0, len(prev.Log))
	found := false
	for _, entry := range prev.Log {
		if entry.ID != entryID {
			edited = append(edited, entry)
			continue
		}
		found = true
		if edit.Delete {
			continue
		}
		if edit.SetSuccess != nil {
			v := *edit.SetSuccess
			entry.Success = &v
			if entry.Outcome != "" {
				entry.Outcome = ""
			}
		}
		if edit.SetOutcome != "" {
			entry.Outcome = edit.SetOutcome
			entry.Success = nil
		}
		edited = append(edited, entry)
	}
	if !found {
		return domain.TrackerState{}, fmt.Errorf("log entry %s: %w", entryID, repo.ErrNotFound)
	}

	state := Rebuild(cfg, edited)
	if err := e.saveAndRecord(ctx, trackerID, state, "log.edited", actorID); err != nil {
		return domain.TrackerState{}, err
	}
	return state, nil
}

// ImportState replaces a tracker's state with an exported blob. The imported
// log is replayed rather than trusted, so derived fields are recomputed.
func (e *Engine) ImportState(ctx context.Context, trackerID string, imported domain.TrackerState, actorID string) (domain.TrackerState, error) {
	if err := e.Auth.RequireGM(ctx, trackerID, actorID); err != nil {
		return domain.TrackerState{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.Repo.GetTrackerConfig(ctx, trackerID)
	if err != nil {
		return domain.TrackerState{}, err
	}
	state := Rebuild(cfg, imported.Log)
	if err := e.saveAndRecord(ctx, trackerID, state, "state.imported", actorID); err != nil {
		return domain.TrackerState{}, err
	}
	return state, nil
}

func (e *Engine) saveAndRecord(ctx context.Context, trackerID string, state domain.TrackerState, evtType, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveState(ctx, tx, trackerID, state); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, trackerID, "tracker", trackerID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) appendEvent(ctx context.Context, evtType, trackerID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, trackerID, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
