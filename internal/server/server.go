// Package server exposes the downtime tracker over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"downtrack/internal/config"
	"downtrack/internal/domain"
	"downtrack/internal/engine"
	"downtrack/internal/engine/auth"
	"downtrack/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"check_locked"`
	Message string         `json:"message" example:"check is locked by its dependencies"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Downtrack API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Downtrack API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTrackers(group, cfg.Engine)
	registerStatus(group, cfg.Engine)
	registerChecks(group, cfg.Engine)
	registerAttempts(group, cfg.Engine)
	registerRequests(group, cfg.Engine)
	registerLog(group, cfg.Engine)
	registerState(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMembers(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": fe.Role})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	switch {
	case errors.Is(err, engine.ErrCheckLocked):
		return newAPIError(http.StatusConflict, "check_locked", err.Error(), nil)
	case errors.Is(err, engine.ErrTrackerComplete):
		return newAPIError(http.StatusConflict, "tracker_complete", err.Error(), nil)
	case errors.Is(err, engine.ErrRequestExpired):
		return newAPIError(http.StatusConflict, "request_expired", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Downtrack API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTrackers(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-tracker",
		Method:        http.MethodPost,
		Path:          "/trackers",
		Summary:       "Create tracker",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTrackerRequest `json:"body"`
	}) (*struct {
		Body TrackerResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cfg := config.Default(input.Body.ID)
		if input.Body.ConfigYAML != "" {
			parsed, err := config.FromYAML([]byte(input.Body.ConfigYAML))
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			cfg = parsed
			cfg.Tracker.ID = input.Body.ID
		}
		t := domain.Tracker{ID: input.Body.ID, Name: input.Body.Name}
		if input.Body.Description != nil {
			t.Description = *input.Body.Description
		}
		created, err := e.InitTracker(ctx, t, cfg, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TrackerResponse `json:"body"`
		}{Body: trackerResponse(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-trackers",
		Method:      http.MethodGet,
		Path:        "/trackers",
		Summary:     "List trackers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TrackerResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTrackers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TrackerResponse `json:"body"`
		}{Body: mapTrackers(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tracker",
		Method:      http.MethodGet,
		Path:        "/trackers/{tracker_id}",
		Summary:     "Get tracker",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
	}) (*struct {
		Body TrackerResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTracker(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TrackerResponse `json:"body"`
		}{Body: trackerResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-tracker",
		Method:      http.MethodPatch,
		Path:        "/trackers/{tracker_id}",
		Summary:     "Update tracker",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		Body      struct {
			Status      string  `json:"status,omitempty" enum:",active,archived"`
			Description *string `json:"description,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body TrackerResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.RequireGM(ctx, input.TrackerID, actorID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.UpdateTracker(ctx, input.TrackerID, input.Body.Status, input.Body.Description); err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTracker(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TrackerResponse `json:"body"`
		}{Body: trackerResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-tracker",
		Method:      http.MethodDelete,
		Path:        "/trackers/{tracker_id}",
		Summary:     "Delete tracker",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.RequireGM(ctx, input.TrackerID, actorID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteTracker(ctx, input.TrackerID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tracker-config",
		Method:      http.MethodGet,
		Path:        "/trackers/{tracker_id}/config",
		Summary:     "Export tracker config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
	}) (*struct {
		Body ConfigResponse `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetTrackerConfig(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		data, err := cfg.ToYAML()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfigResponse `json:"body"`
		}{Body: ConfigResponse{YAML: string(data)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-tracker-config",
		Method:      http.MethodPut,
		Path:        "/trackers/{tracker_id}/config",
		Summary:     "Import tracker config",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		Body      ConfigImportRequest `json:"body"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		cfg.Tracker.ID = input.TrackerID
		state, err := e.ImportConfig(ctx, input.TrackerID, cfg, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(input.TrackerID, cfg, state)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-tracker-config",
		Method:      http.MethodPost,
		Path:        "/trackers/{tracker_id}/config/validate",
		Summary:     "Validate a config document without applying it",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		Body      ConfigImportRequest `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, err := config.FromYAML([]byte(input.Body.YAML)); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"valid": true}}, nil
	})
}

func statusResponse(trackerID string, cfg *config.Config, state domain.TrackerState) StatusResponse {
	resp := StatusResponse{
		TrackerID:     trackerID,
		ActivePhaseID: state.ActivePhaseID,
		CheckCount:    state.CheckCount,
	}
	for i := range cfg.Phases {
		p := &cfg.Phases[i]
		ps := PhaseStatusResponse{
			ID:     p.ID,
			Name:   p.Name,
			Target: cfg.PhaseTarget(p),
			Active: p.ID == state.ActivePhaseID,
		}
		if pp := state.Phases[p.ID]; pp != nil {
			ps.Progress = pp.Progress
			ps.Completed = pp.Completed
			ps.FailuresInRow = pp.FailuresInRow
		}
		resp.Phases = append(resp.Phases, ps)
	}
	return resp
}

func registerStatus(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "tracker-status",
		Method:      http.MethodGet,
		Path:        "/trackers/{tracker_id}/status",
		Summary:     "Tracker status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetTrackerConfig(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		state, err := e.Repo.GetState(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(input.TrackerID, cfg, state)}, nil
	})
}

func registerChecks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "available-checks",
		Method:      http.MethodGet,
		Path:        "/trackers/{tracker_id}/checks",
		Summary:     "List unlocked checks in the active phase",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
	}) (*struct {
		Body []AvailableCheckResponse `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetTrackerConfig(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		views, err := e.Available(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AvailableCheckResponse, 0, len(views))
		for _, v := range views {
			out = append(out, availableCheckResponse(v, v.Params.DifficultyLabel(cfg)))
		}
		return &struct {
			Body []AvailableCheckResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerAttempts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "attempt-check",
		Method:        http.MethodPost,
		Path:          "/trackers/{tracker_id}/attempts",
		Summary:       "Attempt a check",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		Force     bool   `query:"force"`
		Body      AttemptRequest `json:"body"`
	}) (*struct {
		Body LogEntryResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.CheckID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "check_id is required", nil)
		}
		callerID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actorID := input.Body.ActorID
		if actorID == "" {
			actorID = callerID
		}
		entry, err := e.Attempt(ctx, engine.AttemptOptions{
			TrackerID: input.TrackerID,
			CheckID:   input.Body.CheckID,
			ActorID:   actorID,
			By:        callerID,
			Modifier:  input.Body.Modifier,
			Manual:    input.Body.Manual,
			Seed:      input.Body.Seed,
			Force:     input.Force,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LogEntryResponse `json:"body"`
		}{Body: logEntryResponse(entry)}, nil
	})
}

func registerRequests(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-roll-request",
		Method:        http.MethodPost,
		Path:          "/trackers/{tracker_id}/requests",
		Summary:       "Submit a roll request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		Body      SubmitRequestRequest `json:"body"`
	}) (*struct {
		Body RollRequestResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.CheckID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "check_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.SubmitRequest(ctx, input.TrackerID, input.Body.CheckID, actorID, input.Body.Manual, input.Body.Modifier, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RollRequestResponse `json:"body"`
		}{Body: rollRequestResponse(req)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roll-requests",
		Method:      http.MethodGet,
		Path:        "/trackers/{tracker_id}/requests",
		Summary:     "List roll requests",
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		Status    string `query:"status" enum:",pending,applied,rejected"`
	}) (*struct {
		Body []RollRequestResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListRollRequests(ctx, input.TrackerID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]RollRequestResponse, 0, len(items))
		for _, r := range items {
			out = append(out, rollRequestResponse(r))
		}
		return &struct {
			Body []RollRequestResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-roll-request",
		Method:      http.MethodPost,
		Path:        "/trackers/{tracker_id}/requests/{id}/apply",
		Summary:     "Apply a roll request",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body LogEntryResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.ApplyRequest(ctx, input.TrackerID, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LogEntryResponse `json:"body"`
		}{Body: logEntryResponse(entry)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-roll-request",
		Method:      http.MethodPost,
		Path:        "/trackers/{tracker_id}/requests/{id}/reject",
		Summary:     "Reject a roll request",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RejectRequest(ctx, input.TrackerID, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerLog(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-log",
		Method:      http.MethodGet,
		Path:        "/trackers/{tracker_id}/log",
		Summary:     "Recent log entries, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		Limit     int    `query:"limit" default:"20"`
	}) (*struct {
		Body []LogEntryResponse `json:"body"`
	}, error) {
		state, err := e.Repo.GetState(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		log := state.Log
		if input.Limit > 0 && len(log) > input.Limit {
			log = log[:input.Limit]
		}
		return &struct {
			Body []LogEntryResponse `json:"body"`
		}{Body: mapLogEntries(log)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-log-entry",
		Method:      http.MethodPatch,
		Path:        "/trackers/{tracker_id}/log/{entry_id}",
		Summary:     "Edit or delete a log entry",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		EntryID   string `path:"entry_id"`
		Body      EditLogEntryRequest `json:"body"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := e.EditLogEntry(ctx, input.TrackerID, input.EntryID, engine.LogEdit{
			SetSuccess: input.Body.SetSuccess,
			SetOutcome: input.Body.SetOutcome,
			Delete:     input.Body.Delete,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetTrackerConfig(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(input.TrackerID, cfg, state)}, nil
	})
}

func registerState(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-state",
		Method:      http.MethodGet,
		Path:        "/trackers/{tracker_id}/state",
		Summary:     "Export tracker state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
	}) (*struct {
		Body domain.TrackerState `json:"body"`
	}, error) {
		state, err := e.Repo.GetState(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TrackerState `json:"body"`
		}{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-state",
		Method:      http.MethodPut,
		Path:        "/trackers/{tracker_id}/state",
		Summary:     "Import tracker state",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		Body      domain.TrackerState `json:"body"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := e.ImportState(ctx, input.TrackerID, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetTrackerConfig(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(input.TrackerID, cfg, state)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rebuild-state",
		Method:      http.MethodPost,
		Path:        "/trackers/{tracker_id}/rebuild",
		Summary:     "Rebuild state from the log",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := e.RebuildState(ctx, input.TrackerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetTrackerConfig(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(input.TrackerID, cfg, state)}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/trackers/{tracker_id}/events",
		Summary:     "List events, newest first",
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		Before    int64  `query:"before"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListEvents(ctx, input.TrackerID, input.Before, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerMembers(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-member",
		Method:      http.MethodPut,
		Path:        "/trackers/{tracker_id}/members",
		Summary:     "Add or update a member",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		Body      MemberRequest `json:"body"`
	}) (*struct {
		Body MemberResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if input.Body.Role != domain.RoleGM && input.Body.Role != domain.RolePlayer {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role must be gm or player", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.RequireGM(ctx, input.TrackerID, actorID); err != nil {
			return nil, handleError(err)
		}
		m := domain.Member{TrackerID: input.TrackerID, ActorID: input.Body.ActorID, Role: input.Body.Role}
		if err := e.Repo.UpsertMember(ctx, m); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemberResponse `json:"body"`
		}{Body: MemberResponse{ActorID: m.ActorID, Role: m.Role}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/trackers/{tracker_id}/members",
		Summary:     "List members",
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
	}) (*struct {
		Body []MemberResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListMembers(ctx, input.TrackerID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]MemberResponse, 0, len(items))
		for _, m := range items {
			out = append(out, MemberResponse{ActorID: m.ActorID, Role: m.Role, CreatedAt: m.CreatedAt})
		}
		return &struct {
			Body []MemberResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-member",
		Method:      http.MethodDelete,
		Path:        "/trackers/{tracker_id}/members/{actor_id}",
		Summary:     "Remove a member",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackerID string `path:"tracker_id"`
		ActorID   string `path:"actor_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.RequireGM(ctx, input.TrackerID, actorID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteMember(ctx, input.TrackerID, input.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAPIKeys(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		raw := uuid.NewString() + uuid.NewString()
		k := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(raw),
		}
		if err := e.Repo.InsertAPIKey(ctx, k); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, Key: raw}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAPIKeys(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			out = append(out, APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
