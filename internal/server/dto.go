package server

import (
	"downtrack/internal/domain"
	"downtrack/internal/engine"
)

type CreateTrackerRequest struct {
	ID          string  `json:"id" example:"smugglers-den"`
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	// ConfigYAML seeds the tracker's configuration; empty uses the default
	// template.
	ConfigYAML string `json:"config_yaml,omitempty"`
}

type TrackerResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func trackerResponse(t domain.Tracker) TrackerResponse {
	return TrackerResponse{
		ID:          t.ID,
		Name:        t.Name,
		Status:      t.Status,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}
}

func mapTrackers(items []domain.Tracker) []TrackerResponse {
	out := make([]TrackerResponse, 0, len(items))
	for _, t := range items {
		out = append(out, trackerResponse(t))
	}
	return out
}

type ConfigImportRequest struct {
	YAML string `json:"yaml"`
}

type ConfigResponse struct {
	YAML string `json:"yaml"`
}

type PhaseStatusResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Target        int    `json:"target"`
	Progress      int    `json:"progress"`
	Completed     bool   `json:"completed"`
	FailuresInRow int    `json:"failures_in_row"`
	Active        bool   `json:"active"`
}

type StatusResponse struct {
	TrackerID     string                `json:"tracker_id"`
	ActivePhaseID string                `json:"active_phase_id,omitempty"`
	CheckCount    int                   `json:"check_count"`
	Phases        []PhaseStatusResponse `json:"phases"`
}

type AvailableCheckResponse struct {
	PhaseID      string `json:"phase_id"`
	GroupID      string `json:"group_id,omitempty"`
	GroupName    string `json:"group_name,omitempty"`
	CheckID      string `json:"check_id"`
	CheckName    string `json:"check_name"`
	Skill        string `json:"skill"`
	Difficulty   string `json:"difficulty"`
	Advantage    bool   `json:"advantage,omitempty"`
	Disadvantage bool   `json:"disadvantage,omitempty"`
	Progress     int    `json:"progress"`
	Target       int    `json:"target"`
}

func availableCheckResponse(v engine.CheckView, difficulty string) AvailableCheckResponse {
	return AvailableCheckResponse{
		PhaseID:      v.PhaseID,
		GroupID:      v.GroupID,
		GroupName:    v.GroupName,
		CheckID:      v.Check.ID,
		CheckName:    v.Check.Name,
		Skill:        v.Params.Skill,
		Difficulty:   difficulty,
		Advantage:    v.Params.Advantage,
		Disadvantage: v.Params.Disadvantage,
		Progress:     v.Progress,
		Target:       v.Check.Target,
	}
}

type AttemptRequest struct {
	CheckID  string `json:"check_id"`
	ActorID  string `json:"actor_id,omitempty"`
	Modifier int    `json:"modifier,omitempty"`
	Manual   string `json:"manual,omitempty" enum:",success,failure,triumph,despair"`
	Seed     int64  `json:"seed,omitempty"`
}

type LogEntryResponse struct {
	ID           string `json:"id"`
	Number       int    `json:"number"`
	Kind         string `json:"kind"`
	PhaseID      string `json:"phase_id"`
	PhaseName    string `json:"phase_name,omitempty"`
	GroupName    string `json:"group_name,omitempty"`
	CheckID      string `json:"check_id,omitempty"`
	CheckName    string `json:"check_name,omitempty"`
	ActorID      string `json:"actor_id,omitempty"`
	Skill        string `json:"skill,omitempty"`
	Difficulty   string `json:"difficulty,omitempty"`
	Roll         string `json:"roll,omitempty"`
	RollTotal    *int   `json:"roll_total,omitempty"`
	Success      *bool  `json:"success,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	Progress     int    `json:"progress_gained"`
	Critical     bool   `json:"critical,omitempty"`
	Line         string `json:"line,omitempty"`
	FailureEvent string `json:"failure_event,omitempty"`
	NextPhaseID  string `json:"next_phase_id,omitempty"`
	TS           string `json:"ts"`
}

func logEntryResponse(e domain.LogEntry) LogEntryResponse {
	return LogEntryResponse{
		ID:           e.ID,
		Number:       e.Number,
		Kind:         e.Kind,
		PhaseID:      e.PhaseID,
		PhaseName:    e.PhaseName,
		GroupName:    e.GroupName,
		CheckID:      e.CheckID,
		CheckName:    e.CheckName,
		ActorID:      e.ActorID,
		Skill:        e.Skill,
		Difficulty:   e.Difficulty,
		Roll:         e.Roll,
		RollTotal:    e.RollTotal,
		Success:      e.Success,
		Outcome:      e.Outcome,
		Progress:     e.Progress,
		Critical:     e.Critical,
		Line:         e.Line,
		FailureEvent: e.FailureEvent,
		NextPhaseID:  e.NextPhaseID,
		TS:           e.TS,
	}
}

func mapLogEntries(items []domain.LogEntry) []LogEntryResponse {
	out := make([]LogEntryResponse, 0, len(items))
	for _, e := range items {
		out = append(out, logEntryResponse(e))
	}
	return out
}

type EditLogEntryRequest struct {
	SetSuccess *bool  `json:"set_success,omitempty"`
	SetOutcome string `json:"set_outcome,omitempty" enum:",success,failure,triumph,despair"`
	Delete     bool   `json:"delete,omitempty"`
}

type SubmitRequestRequest struct {
	CheckID  string `json:"check_id"`
	Modifier int    `json:"modifier,omitempty"`
	Manual   string `json:"manual,omitempty"`
	Note     string `json:"note,omitempty"`
}

type RollRequestResponse struct {
	ID         string `json:"id"`
	TrackerID  string `json:"tracker_id"`
	CheckID    string `json:"check_id"`
	ActorID    string `json:"actor_id"`
	Manual     string `json:"manual,omitempty"`
	Modifier   int    `json:"modifier,omitempty"`
	Note       string `json:"note,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

func rollRequestResponse(r domain.RollRequest) RollRequestResponse {
	return RollRequestResponse{
		ID:         r.ID,
		TrackerID:  r.TrackerID,
		CheckID:    r.CheckID,
		ActorID:    r.ActorID,
		Manual:     r.Manual,
		Modifier:   r.Modifier,
		Note:       r.Note,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		ResolvedAt: r.ResolvedAt,
		ResolvedBy: r.ResolvedBy,
	}
}

type MemberRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"gm,player"`
}

type MemberResponse struct {
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	// Key is the raw secret, returned exactly once at creation.
	Key string `json:"key,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}
