package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"downtrack/internal/config"
	"downtrack/internal/db"
	"downtrack/internal/dice"
	"downtrack/internal/domain"
	"downtrack/internal/engine"
	"downtrack/internal/engine/auth"
	"downtrack/internal/hooks"
	"downtrack/internal/migrate"
)

const testYAML = `
tracker: {id: tr-1, name: Smugglers Den, roll_mode: dc}
tables:
  setbacks:
    - {text: "A rival crew shows up"}
phases:
  - id: dig
    name: Dig the Tunnel
    allow_critical: true
    failure_events: true
    failure_table: setbacks
    macro: announce-breakthrough
    groups:
      - id: labor
        name: Labor
        checks:
          - {id: shovel, name: Shovel, skill: might, dc: 12, target: 2, hook: notify-guild}
          - id: shore
            name: Shore it up
            skill: craft
            dc: 14
            rewards:
              items:
                - {ref: sturdy-beam, qty: 1}
            deps:
              - {source: shovel, type: block}
  - id: stock
    name: Stock the Den
    groups:
      - id: supply
        name: Supply
        checks:
          - {id: barter, name: Barter, skill: charm, dc: 13}
`

// fixedRoller always lands the same face, making outcomes predictable.
type fixedRoller struct {
	face int
}

func (r fixedRoller) Roll(in dice.RollInput) (dice.RollOutput, error) {
	if in.Skill == "" {
		return dice.RollOutput{}, dice.ErrMissingSkill
	}
	return dice.RollOutput{Total: r.face + in.Modifier, Face: r.face, Formula: "fixed"}, nil
}

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg, err := config.FromYAML([]byte(testYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitTracker(ctx, domain.Tracker{ID: "tr-1"}, cfg, "gm"); err != nil {
		t.Fatalf("init tracker: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func TestAttemptPersistsStateAndLog(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roller = fixedRoller{face: 15}

	entry, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
		TrackerID: "tr-1", CheckID: "shovel", ActorID: "gm",
	})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if entry.Success == nil || !*entry.Success {
		t.Fatalf("15 vs DC 12 should succeed: %+v", entry)
	}
	if entry.Number != 1 || entry.Progress != 1 {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	state, err := env.Engine.Repo.GetState(env.Ctx, "tr-1")
	if err != nil {
		t.Fatal(err)
	}
	if state.CheckCount != 1 || len(state.Log) != 1 {
		t.Fatalf("state not persisted: count=%d log=%d", state.CheckCount, len(state.Log))
	}
	if state.Phases["dig"].CheckProgress["shovel"] != 1 {
		t.Fatalf("progress not persisted: %+v", state.Phases["dig"])
	}
}

func TestAttemptOnLockedCheck(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roller = fixedRoller{face: 15}

	_, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
		TrackerID: "tr-1", CheckID: "shore", ActorID: "gm",
	})
	if !errors.Is(err, engine.ErrCheckLocked) {
		t.Fatalf("want ErrCheckLocked, got %v", err)
	}
	// Force is the GM escape hatch.
	if _, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
		TrackerID: "tr-1", CheckID: "shore", ActorID: "gm", Force: true,
	}); err != nil {
		t.Fatalf("forced attempt: %v", err)
	}
}

func TestFailureDrawsComplication(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roller = fixedRoller{face: 3}

	entry, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
		TrackerID: "tr-1", CheckID: "shovel", ActorID: "gm",
	})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Succeeded() {
		t.Fatalf("3 vs DC 12 should fail")
	}
	if entry.FailureEvent != "A rival crew shows up" {
		t.Fatalf("failure table not drawn: %+v", entry)
	}
}

func TestPhaseCompletionAdvancesTracker(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roller = fixedRoller{face: 19}

	for _, checkID := range []string{"shovel", "shovel", "shore"} {
		if _, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
			TrackerID: "tr-1", CheckID: checkID, ActorID: "gm",
		}); err != nil {
			t.Fatalf("attempt %s: %v", checkID, err)
		}
	}
	state, _ := env.Engine.Repo.GetState(env.Ctx, "tr-1")
	if !state.Phases["dig"].Completed {
		t.Fatal("dig should be complete")
	}
	if state.ActivePhaseID != "stock" {
		t.Fatalf("active phase should advance, got %q", state.ActivePhaseID)
	}
	if state.Log[0].Kind != domain.EntryPhaseComplete {
		t.Fatalf("newest entry should be the phase completion, got %+v", state.Log[0])
	}

	avail, err := env.Engine.Available(env.Ctx, "tr-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(avail) != 1 || avail[0].Check.ID != "barter" {
		t.Fatalf("stock phase should offer barter, got %+v", avail)
	}
}

// captureInvoker records hook invocations instead of making HTTP calls.
type captureInvoker struct {
	payloads []hooks.Payload
}

func (c *captureInvoker) Invoke(_ context.Context, p hooks.Payload) error {
	c.payloads = append(c.payloads, p)
	return nil
}

func TestHooksFireOnSuccessAndPhaseCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roller = fixedRoller{face: 19}
	inv := &captureInvoker{}
	env.Engine.Hooks = inv

	for _, checkID := range []string{"shovel", "shovel", "shore"} {
		if _, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
			TrackerID: "tr-1", CheckID: checkID, ActorID: "gm",
		}); err != nil {
			t.Fatalf("attempt %s: %v", checkID, err)
		}
	}

	if len(inv.payloads) != 3 {
		t.Fatalf("want 2 check hooks + 1 phase macro, got %+v", inv.payloads)
	}
	for _, p := range inv.payloads[:2] {
		if p.Hook != "notify-guild" || p.CheckID != "shovel" || !p.Success {
			t.Fatalf("check hook payload: %+v", p)
		}
	}
	macro := inv.payloads[2]
	if macro.Hook != "announce-breakthrough" || macro.PhaseID != "dig" || macro.CheckID != "" {
		t.Fatalf("phase macro payload: %+v", macro)
	}
}

func TestFailedAttemptFiresNoCheckHook(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roller = fixedRoller{face: 3}
	inv := &captureInvoker{}
	env.Engine.Hooks = inv

	if _, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
		TrackerID: "tr-1", CheckID: "shovel", ActorID: "gm",
	}); err != nil {
		t.Fatal(err)
	}
	if len(inv.payloads) != 0 {
		t.Fatalf("failed attempt must not fire the check hook: %+v", inv.payloads)
	}
}

func TestRewardGrantedOnceAcrossRebuilds(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roller = fixedRoller{face: 19}

	for _, checkID := range []string{"shovel", "shovel", "shore"} {
		if _, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
			TrackerID: "tr-1", CheckID: checkID, ActorID: "hero",
		}); err != nil {
			t.Fatal(err)
		}
	}
	items, err := env.Engine.Repo.ListInventory(env.Ctx, "hero")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ItemRef != "sturdy-beam" || items[0].Quantity != 1 {
		t.Fatalf("want one sturdy-beam, got %+v", items)
	}

	if _, err := env.Engine.RebuildState(env.Ctx, "tr-1", "gm"); err != nil {
		t.Fatal(err)
	}
	items, _ = env.Engine.Repo.ListInventory(env.Ctx, "hero")
	if len(items) != 1 || items[0].Quantity != 1 {
		t.Fatalf("rebuild must not re-grant rewards: %+v", items)
	}
}

func TestSingleWriterRoleEnforcement(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roller = fixedRoller{face: 15}

	seedMembers(t, env)

	_, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
		TrackerID: "tr-1", CheckID: "shovel", ActorID: "alice",
	})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("player attempt should be forbidden, got %v", err)
	}

	// The GM resolving on the player's behalf is the supported path.
	if _, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
		TrackerID: "tr-1", CheckID: "shovel", ActorID: "alice", By: "gm",
	}); err != nil {
		t.Fatalf("gm-resolved attempt: %v", err)
	}
}

func TestRollRequestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roller = fixedRoller{face: 15}
	seedMembers(t, env)

	req, err := env.Engine.SubmitRequest(env.Ctx, "tr-1", "shovel", "alice", "", 2, "digging all night")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != domain.RequestPending {
		t.Fatalf("want pending, got %s", req.Status)
	}

	entry, err := env.Engine.ApplyRequest(env.Ctx, "tr-1", req.ID, "gm")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if entry.ActorID != "alice" {
		t.Fatalf("attempt should be attributed to the requester, got %q", entry.ActorID)
	}
	if entry.RollTotal == nil || *entry.RollTotal != 17 {
		t.Fatalf("modifier should carry into the roll: %+v", entry)
	}

	// A resolved request cannot be applied twice.
	if _, err := env.Engine.ApplyRequest(env.Ctx, "tr-1", req.ID, "gm"); err == nil {
		t.Fatal("second apply should fail")
	}

	req2, err := env.Engine.SubmitRequest(env.Ctx, "tr-1", "shovel", "alice", "", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RejectRequest(env.Ctx, "tr-1", req2.ID, "gm"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, _ := env.Engine.Repo.GetRollRequest(env.Ctx, req2.ID)
	if got.Status != domain.RequestRejected {
		t.Fatalf("want rejected, got %s", got.Status)
	}
}

func TestEditLogEntryRebuildsState(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roller = fixedRoller{face: 15}

	entry, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
		TrackerID: "tr-1", CheckID: "shovel", ActorID: "gm",
	})
	if err != nil {
		t.Fatal(err)
	}

	f := false
	state, err := env.Engine.EditLogEntry(env.Ctx, "tr-1", entry.ID, engine.LogEdit{SetSuccess: &f}, "gm")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if state.Phases["dig"].CheckProgress["shovel"] != 0 {
		t.Fatalf("flipping to failure should revoke progress: %+v", state.Phases["dig"])
	}
	if state.Phases["dig"].FailuresInRow != 1 {
		t.Fatalf("streak should reflect the edit, got %d", state.Phases["dig"].FailuresInRow)
	}

	state, err = env.Engine.EditLogEntry(env.Ctx, "tr-1", entry.ID, engine.LogEdit{Delete: true}, "gm")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Log) != 0 {
		t.Fatalf("deleted entry should leave an empty log, got %d", len(state.Log))
	}
}

func TestStateExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roller = fixedRoller{face: 15}

	for i := 0; i < 2; i++ {
		if _, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
			TrackerID: "tr-1", CheckID: "shovel", ActorID: "gm",
		}); err != nil {
			t.Fatal(err)
		}
	}
	exported, err := env.Engine.Repo.GetState(env.Ctx, "tr-1")
	if err != nil {
		t.Fatal(err)
	}

	imported, err := env.Engine.ImportState(env.Ctx, "tr-1", exported, "gm")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.CheckCount != exported.CheckCount {
		t.Fatalf("check count changed: %d != %d", imported.CheckCount, exported.CheckCount)
	}
	if imported.Phases["dig"].CheckProgress["shovel"] != 2 {
		t.Fatalf("progress lost on import: %+v", imported.Phases["dig"])
	}
}

func TestNarrativeModeRequiresDeclaredOutcome(t *testing.T) {
	env := newTestEnv(t)
	narrative, err := config.FromYAML([]byte(`
tracker: {id: tr-1, name: Smugglers Den, roll_mode: narrative}
phases:
  - id: parley
    name: Parley
    groups:
      - id: talk
        name: Talk
        checks:
          - {id: bluff, name: Bluff, skill: deception, dc: 10}
`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ImportConfig(env.Ctx, "tr-1", narrative, "gm"); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
		TrackerID: "tr-1", CheckID: "bluff", ActorID: "gm",
	}); err == nil {
		t.Fatal("narrative attempt without an outcome should fail")
	}
	entry, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
		TrackerID: "tr-1", CheckID: "bluff", ActorID: "gm", Manual: domain.OutcomeTriumph,
	})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Outcome != domain.OutcomeTriumph {
		t.Fatalf("outcome not recorded: %+v", entry)
	}

	// The resolved check is terminal even though triumph granted progress.
	if _, err := env.Engine.Attempt(env.Ctx, engine.AttemptOptions{
		TrackerID: "tr-1", CheckID: "bluff", ActorID: "gm",
	}); !errors.Is(err, engine.ErrCheckLocked) && !errors.Is(err, engine.ErrTrackerComplete) {
		t.Fatalf("resolved narrative check should be terminal, got %v", err)
	}
}

func seedMembers(t *testing.T, env testEnv) {
	t.Helper()
	for _, m := range []domain.Member{
		{TrackerID: "tr-1", ActorID: "gm", Role: domain.RoleGM},
		{TrackerID: "tr-1", ActorID: "alice", Role: domain.RolePlayer},
	} {
		if err := env.Engine.Repo.UpsertMember(env.Ctx, m); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
}
