package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"downtrack/internal/db"
	"downtrack/internal/engine"
	"downtrack/internal/migrate"
)

const trackerYAML = `
tracker: {id: den, name: Smugglers Den, roll_mode: dc}
phases:
  - id: dig
    name: Dig the Tunnel
    groups:
      - id: labor
        name: Labor
        checks:
          - {id: shovel, name: Shovel, skill: might, dc: 12, target: 2}
          - id: shore
            name: Shore it up
            skill: craft
            dc: 14
            deps:
              - {source: shovel, type: block}
`

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asGM() map[string]string { return map[string]string{"X-Actor-Id": "gm"} }

func createTracker(t *testing.T, srv *testServer) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/trackers", map[string]any{
		"id":          "den",
		"name":        "Smugglers Den",
		"config_yaml": trackerYAML,
	}, asGM())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create tracker: %d %s", res.StatusCode, string(data))
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/trackers", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", envelope.Error.Code)
	}
}

func TestAttemptFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createTracker(t, srv)

	checksRes, checksBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/trackers/den/checks", nil, asGM())
	if checksRes.StatusCode != http.StatusOK {
		t.Fatalf("checks: %d %s", checksRes.StatusCode, string(checksBody))
	}
	var available []AvailableCheckResponse
	if err := json.Unmarshal(checksBody, &available); err != nil {
		t.Fatalf("unmarshal checks: %v", err)
	}
	if len(available) != 1 || available[0].CheckID != "shovel" {
		t.Fatalf("expected only shovel to be unlocked, got %+v", available)
	}

	attemptRes, attemptBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/trackers/den/attempts", map[string]any{
		"check_id": "shovel",
		"manual":   "success",
	}, asGM())
	if attemptRes.StatusCode != http.StatusCreated {
		t.Fatalf("attempt: %d %s", attemptRes.StatusCode, string(attemptBody))
	}
	var entry LogEntryResponse
	if err := json.Unmarshal(attemptBody, &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry.CheckID != "shovel" || entry.Success == nil || !*entry.Success {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	logRes, logBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/trackers/den/log", nil, asGM())
	if logRes.StatusCode != http.StatusOK {
		t.Fatalf("log: %d %s", logRes.StatusCode, string(logBody))
	}
	var log []LogEntryResponse
	if err := json.Unmarshal(logBody, &log); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	if len(log) != 1 || log[0].ID != entry.ID {
		t.Fatalf("expected the attempt at the head of the log, got %+v", log)
	}
}

func TestLockedCheckReturnsConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createTracker(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/trackers/den/attempts", map[string]any{
		"check_id": "shore",
		"manual":   "success",
	}, asGM())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "check_locked" {
		t.Fatalf("expected check_locked, got %q", envelope.Error.Code)
	}
}

func TestMissingTrackerReturnsNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/trackers/ghost/status", nil, asGM())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestRollRequestOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createTracker(t, srv)

	// Claim the GM seat, then register a player who submits the request.
	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/trackers/den/members", map[string]any{
		"actor_id": "gm", "role": "gm",
	}, asGM())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add gm: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/trackers/den/members", map[string]any{
		"actor_id": "alice", "role": "player",
	}, asGM())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add player: %d %s", res.StatusCode, string(data))
	}

	submitRes, submitBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/trackers/den/requests", map[string]any{
		"check_id": "shovel",
		"manual":   "success",
	}, map[string]string{"X-Actor-Id": "alice"})
	if submitRes.StatusCode != http.StatusCreated {
		t.Fatalf("submit request: %d %s", submitRes.StatusCode, string(submitBody))
	}
	var req RollRequestResponse
	if err := json.Unmarshal(submitBody, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}

	// A player cannot apply their own request.
	denyRes, denyBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/trackers/den/requests/"+req.ID+"/apply", nil, map[string]string{"X-Actor-Id": "alice"})
	if denyRes.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", denyRes.StatusCode, string(denyBody))
	}

	applyRes, applyBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/trackers/den/requests/"+req.ID+"/apply", nil, asGM())
	if applyRes.StatusCode != http.StatusOK {
		t.Fatalf("apply request: %d %s", applyRes.StatusCode, string(applyBody))
	}
	var entry LogEntryResponse
	if err := json.Unmarshal(applyBody, &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry.ActorID != "alice" {
		t.Fatalf("expected the entry to credit the requester, got %q", entry.ActorID)
	}
}
