package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vedtaksync/internal/engine"
	"vedtaksync/internal/repo"
	"vedtaksync/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Health   *scheduler.Health
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"decision is already closed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns the HTTP handler exposing the decision API plus the health
// probes.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope format.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors surface as 400 bad_request.
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Vedtaksync API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerProbes(router, cfg.Health)
	registerDecisions(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error())
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error())
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error())
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error")
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// registerProbes exposes the liveness and readiness flags outside the
// authenticated base path.
func registerProbes(r chi.Router, health *scheduler.Health) {
	r.Get("/internal/alive", func(w http.ResponseWriter, _ *http.Request) {
		if health != nil && !health.Alive() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/internal/ready", func(w http.ResponseWriter, _ *http.Request) {
		if health != nil && !health.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	type DecisionPath struct {
		ID string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "create-decision",
		Method:      http.MethodPost,
		Path:        "/decisions",
		Summary:     "Create a decision",
	}, func(ctx context.Context, input *struct {
		Body CreateDecisionRequest
	}) (*DecisionResponse, error) {
		validFrom, err := parseDate(input.Body.ValidFrom)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "valid_from must be a date (YYYY-MM-DD)")
		}
		validTo, err := parseDate(input.Body.ValidTo)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "valid_to must be a date (YYYY-MM-DD)")
		}
		caseWorkerID := input.Body.CaseWorkerID
		if caseWorkerID == "" {
			if p, ok := principalFromContext(ctx); ok {
				caseWorkerID = p.ActorID
			}
		}
		d, err := e.Create(ctx, engine.CreateOptions{
			SubjectID:    input.Body.SubjectID,
			CaseWorkerID: caseWorkerID,
			Reasoning:    input.Body.Reasoning,
			ValidFrom:    validFrom,
			ValidTo:      validTo,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &DecisionResponse{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decision",
		Method:      http.MethodGet,
		Path:        "/decisions/{id}",
		Summary:     "Get a decision",
	}, func(ctx context.Context, input *DecisionPath) (*DecisionResponse, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid decision id")
		}
		d, err := e.Get(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &DecisionResponse{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "List decisions for a subject",
	}, func(ctx context.Context, input *struct {
		SubjectID string `query:"subject_id" required:"true"`
	}) (*DecisionListResponse, error) {
		decisions, err := e.ListBySubject(ctx, input.SubjectID)
		if err != nil {
			return nil, handleError(err)
		}
		res := &DecisionListResponse{}
		res.Body.Decisions = decisions
		return res, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-decision",
		Method:      http.MethodPost,
		Path:        "/decisions/{id}/close",
		Summary:     "Close a decision",
	}, func(ctx context.Context, input *struct {
		DecisionPath
		Body CloseDecisionRequest
	}) (*DecisionResponse, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid decision id")
		}
		closedBy := ""
		if input.Body.ClosedBy != nil {
			closedBy = *input.Body.ClosedBy
		}
		if closedBy == "" {
			if p, ok := principalFromContext(ctx); ok {
				closedBy = p.ActorID
			}
		}
		d, err := e.Close(ctx, id, closedBy)
		if err != nil {
			return nil, handleError(err)
		}
		return &DecisionResponse{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decision-sync",
		Method:      http.MethodGet,
		Path:        "/decisions/{id}/sync",
		Summary:     "Per-destination convergence state",
	}, func(ctx context.Context, input *DecisionPath) (*SyncResponse, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid decision id")
		}
		state, err := e.Sync(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &SyncResponse{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decision-events",
		Method:      http.MethodGet,
		Path:        "/decisions/{id}/events",
		Summary:     "Audit trail for a decision",
	}, func(ctx context.Context, input *struct {
		DecisionPath
		Limit int `query:"limit" default:"100"`
	}) (*EventsResponse, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid decision id")
		}
		evts, err := e.Repo.LatestEvents(ctx, id, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		res := &EventsResponse{}
		res.Body.Events = evts
		return res, nil
	})
}
