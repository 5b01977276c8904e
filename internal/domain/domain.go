package domain

// Tracker is one downtime project: a character's long-running endeavour
// tracked across ordered phases.
type Tracker struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status" enum:"active,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// PhaseProgress is the mutable per-phase record of check progress.
type PhaseProgress struct {
	Progress       int               `json:"progress"`
	Completed      bool              `json:"completed"`
	FailuresInRow  int               `json:"failuresInRow"`
	CheckProgress  map[string]int    `json:"checkProgress"`
	ResolvedChecks map[string]string `json:"resolvedChecks"`
}

// TrackerState is the persisted progress blob for one tracker. It is always
// read and written whole; the engine serializes mutations behind one lock.
type TrackerState struct {
	ActivePhaseID string                    `json:"activePhaseId"`
	Phases        map[string]*PhaseProgress `json:"phases"`
	CheckCount    int                       `json:"checkCount"`
	Log           []LogEntry                `json:"log"`
}

// Log entry kinds.
const (
	EntryAttempt       = "attempt"
	EntryPhaseComplete = "phase-complete"
)

// LogEntry records one resolved check attempt or one phase-completion event.
// The log is the append-only source of truth: TrackerState is re-derivable
// from replaying entries oldest first.
type LogEntry struct {
	ID           string `json:"id"`
	Number       int    `json:"number"`
	Kind         string `json:"kind" enum:"attempt,phase-complete"`
	PhaseID      string `json:"phase_id"`
	PhaseName    string `json:"phase_name,omitempty"`
	GroupID      string `json:"group_id,omitempty"`
	GroupName    string `json:"group_name,omitempty"`
	CheckID      string `json:"check_id,omitempty"`
	CheckName    string `json:"check_name,omitempty"`
	ActorID      string `json:"actor_id,omitempty"`
	Skill        string `json:"skill,omitempty"`
	Difficulty   string `json:"difficulty,omitempty"`
	Roll         string `json:"roll,omitempty"`
	RollTotal    *int   `json:"roll_total,omitempty"`
	DieFace      *int   `json:"die_face,omitempty"`
	Success      *bool  `json:"success,omitempty"`
	Outcome      string `json:"outcome,omitempty" enum:",success,failure,triumph,despair"`
	Progress     int    `json:"progress_gained"`
	Critical     bool   `json:"critical_bonus,omitempty"`
	Line         string `json:"line,omitempty"`
	FailureEvent string `json:"failure_event,omitempty"`
	NextPhaseID  string `json:"next_phase_id,omitempty"`
	TS           string `json:"ts" format:"date-time"`
}

// Succeeded reports whether the entry resolved as a success-class result.
func (e LogEntry) Succeeded() bool {
	if e.Success != nil {
		return *e.Success
	}
	return OutcomeClassSuccess(e.Outcome)
}

// Narrative outcome tiers.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTriumph = "triumph"
	OutcomeDespair = "despair"
)

// OutcomeClassSuccess collapses the four narrative tiers into a binary class.
func OutcomeClassSuccess(outcome string) bool {
	return outcome == OutcomeSuccess || outcome == OutcomeTriumph
}

// ValidOutcome reports whether s names a known narrative tier.
func ValidOutcome(s string) bool {
	switch s {
	case OutcomeSuccess, OutcomeFailure, OutcomeTriumph, OutcomeDespair:
		return true
	}
	return false
}

// Roll request statuses.
const (
	RequestPending  = "pending"
	RequestApplied  = "applied"
	RequestRejected = "rejected"
)

// RollRequest is a player's pending attempt, forwarded to the GM for
// resolution. Expired or rejected requests have no persisted effect on
// tracker state.
type RollRequest struct {
	ID         string `json:"id"`
	TrackerID  string `json:"tracker_id"`
	CheckID    string `json:"check_id"`
	ActorID    string `json:"actor_id"`
	Manual     string `json:"manual,omitempty" enum:",success,failure,triumph,despair"`
	Modifier   int    `json:"modifier,omitempty"`
	Note       string `json:"note,omitempty"`
	Status     string `json:"status" enum:"pending,applied,rejected"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	ExpiresAt  string `json:"expires_at" format:"date-time"`
	ResolvedAt string `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// Member roles.
const (
	RoleGM     = "gm"
	RolePlayer = "player"
)

// Member links an actor to a tracker with a role. The gm role is the single
// authoritative writer of tracker state.
type Member struct {
	TrackerID string `json:"tracker_id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role" enum:"gm,player"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TrackerID  string `json:"tracker_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// InventoryItem is one stack of an item granted to an actor.
type InventoryItem struct {
	ActorID  string `json:"actor_id"`
	ItemRef  string `json:"item_ref"`
	Quantity int    `json:"quantity"`
}
