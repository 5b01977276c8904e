// Package hooks invokes per-check macros: named side effects fired after a
// check resolves. The engine treats hook failures as non-fatal.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Payload describes the resolved check handed to a hook.
type Payload struct {
	Hook      string `json:"hook"`
	TrackerID string `json:"tracker_id"`
	PhaseID   string `json:"phase_id"`
	CheckID   string `json:"check_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Success   bool   `json:"success"`
	Outcome   string `json:"outcome,omitempty"`
	TS        string `json:"ts"`
}

type Invoker interface {
	Invoke(ctx context.Context, p Payload) error
}

// HTTPInvoker POSTs the payload to a fixed endpoint, one hook name per call.
type HTTPInvoker struct {
	URL    string
	Client *http.Client
}

func (h HTTPInvoker) Invoke(ctx context.Context, p Payload) error {
	if h.URL == "" {
		return nil
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Downtrack-Hook", p.Hook)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("hook %s: status %d", p.Hook, resp.StatusCode)
	}
	return nil
}

// Noop discards hook invocations. Used when no hook endpoint is configured.
type Noop struct{}

func (Noop) Invoke(context.Context, Payload) error { return nil }
