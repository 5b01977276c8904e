package hooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPInvokerPostsPayload(t *testing.T) {
	var gotHook, gotContentType string
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotHook = r.Header.Get("X-Downtrack-Hook")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("body: %v", err)
		}
	}))
	defer srv.Close()

	inv := HTTPInvoker{URL: srv.URL}
	err := inv.Invoke(context.Background(), Payload{
		Hook:      "notify-guild",
		TrackerID: "tr-1",
		PhaseID:   "dig",
		CheckID:   "shovel",
		ActorID:   "ranna",
		Success:   true,
		TS:        "2026-03-01T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if gotHook != "notify-guild" {
		t.Errorf("X-Downtrack-Hook = %q, want notify-guild", gotHook)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if got.TrackerID != "tr-1" || got.CheckID != "shovel" || !got.Success {
		t.Errorf("payload = %+v", got)
	}
}

func TestHTTPInvokerRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	inv := HTTPInvoker{URL: srv.URL}
	if err := inv.Invoke(context.Background(), Payload{Hook: "notify-guild"}); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestHTTPInvokerEmptyURLIsNoop(t *testing.T) {
	if err := (HTTPInvoker{}).Invoke(context.Background(), Payload{Hook: "x"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
}
