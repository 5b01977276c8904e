package downtracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Downtrack HTTP API client.
type Client struct {
	BaseURL     string
	TrackerID   string
	APIKey      string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, trackerID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		TrackerID: trackerID,
		Timeout:   10 * time.Second,
	}
}

// Tracker represents the API tracker model (partial).
type Tracker struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// PhaseStatus is one phase's progress inside a status response.
type PhaseStatus struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Progress      int    `json:"progress"`
	Target        int    `json:"target"`
	Completed     bool   `json:"completed"`
	FailuresInRow int    `json:"failures_in_row"`
	Active        bool   `json:"active"`
}

// Status is the tracker status response.
type Status struct {
	TrackerID     string        `json:"tracker_id"`
	ActivePhaseID string        `json:"active_phase_id"`
	CheckCount    int           `json:"check_count"`
	Phases        []PhaseStatus `json:"phases"`
}

// AvailableCheck is an unlocked check in the active phase.
type AvailableCheck struct {
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

// LogEntry is one recorded attempt or phase completion.
type LogEntry struct {
	ID           string `json:"id"`
	Number       int    `json:"number"`
	Kind         string `json:"kind"`
	PhaseID      string `json:"phase_id"`
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

// RollRequest is a pending player attempt awaiting GM resolution.
type RollRequest struct {
	ID        string `json:"id"`
	TrackerID string `json:"tracker_id"`
	CheckID   string `json:"check_id"`
	ActorID   string `json:"actor_id"`
	Manual    string `json:"manual,omitempty"`
	Modifier  int    `json:"modifier,omitempty"`
	Note      string `json:"note,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
}

// Event represents a feed entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	TrackerID  string         `json:"tracker_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// AttemptInput is the body of an attempt call.
type AttemptInput struct {
	CheckID  string `json:"check_id"`
	ActorID  string `json:"actor_id,omitempty"`
	Modifier int    `json:"modifier,omitempty"`
	Manual   string `json:"manual,omitempty"`
	Seed     int64  `json:"seed,omitempty"`
}

// CreateTracker creates a tracker, optionally seeded with a YAML config.
func (c *Client) CreateTracker(ctx context.Context, id, name, configYAML string) (Tracker, error) {
	body := map[string]any{
		"id":   id,
		"name": name,
	}
	if configYAML != "" {
		body["config_yaml"] = configYAML
	}
	var resp Tracker
	err := c.do(ctx, http.MethodPost, "v0/trackers", body, &resp)
	return resp, err
}

// Status returns the tracker's phase progress.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, c.trackerPath("status"), nil, &resp)
	return resp, err
}

// AvailableChecks lists the unlocked checks in the active phase.
func (c *Client) AvailableChecks(ctx context.Context) ([]AvailableCheck, error) {
	var resp []AvailableCheck
	err := c.do(ctx, http.MethodGet, c.trackerPath("checks"), nil, &resp)
	return resp, err
}

// Attempt rolls a check and returns the recorded log entry.
func (c *Client) Attempt(ctx context.Context, in AttemptInput) (LogEntry, error) {
	var resp LogEntry
	err := c.do(ctx, http.MethodPost, c.trackerPath("attempts"), in, &resp)
	return resp, err
}

// Log returns recent log entries, newest first.
func (c *Client) Log(ctx context.Context, limit int) ([]LogEntry, error) {
	endpoint := c.trackerPath("log")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []LogEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitRequest files a roll request for the GM to resolve.
func (c *Client) SubmitRequest(ctx context.Context, checkID, manual string, modifier int, note string) (RollRequest, error) {
	body := map[string]any{
		"check_id": checkID,
		"manual":   manual,
		"modifier": modifier,
		"note":     note,
	}
	var resp RollRequest
	err := c.do(ctx, http.MethodPost, c.trackerPath("requests"), body, &resp)
	return resp, err
}

// ListRequests lists roll requests, optionally filtered by status.
func (c *Client) ListRequests(ctx context.Context, status string) ([]RollRequest, error) {
	endpoint := c.trackerPath("requests")
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []RollRequest
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ApplyRequest resolves a pending roll request and returns the log entry.
func (c *Client) ApplyRequest(ctx context.Context, requestID string) (LogEntry, error) {
	var resp LogEntry
	endpoint := c.trackerPath(fmt.Sprintf("requests/%s/apply", url.PathEscape(requestID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RejectRequest rejects a pending roll request.
func (c *Client) RejectRequest(ctx context.Context, requestID string) error {
	endpoint := c.trackerPath(fmt.Sprintf("requests/%s/reject", url.PathEscape(requestID)))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.trackerPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Rebuild replays the log and returns the resulting status.
func (c *Client) Rebuild(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodPost, c.trackerPath("rebuild"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) trackerPath(p string) string {
	tracker := url.PathEscape(c.TrackerID)
	return fmt.Sprintf("v0/trackers/%s/%s", tracker, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
