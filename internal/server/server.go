package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"leadline/internal/agent"
	"leadline/internal/bridge"
	"leadline/internal/dispatch"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	Dispatcher  *dispatch.Dispatcher
	BasePath    string
	Auth        AuthConfig
	CORSOrigins []string
	Logger      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the leadline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("server: dispatcher required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
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
	router.Use(middleware.RequestID)
	router.Use(requestLogger(cfg.Logger))
	router.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Origin", "Content-Type", "Authorization", "X-Actor-Id"},
			AllowCredentials: true,
		}).Handler)
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	hcfg := huma.DefaultConfig("Leadline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAgents(group, cfg.Dispatcher)
	registerLeads(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerWebhooks(group, cfg.Engine, cfg.Dispatcher)
	if err := registerOpenAPI(router, api, basePath); err != nil {
		return nil, err
	}
	return router, nil
}

// requestLogger logs one line per request once the response is written.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", "lead was modified concurrently", nil)
	}
	if errors.Is(err, agent.ErrUnknownAgent) {
		available := make([]string, 0, len(agent.Kinds()))
		for _, k := range agent.Kinds() {
			available = append(available, string(k))
		}
		return newAPIError(http.StatusNotFound, "unknown_agent", err.Error(), map[string]any{"available": available})
	}
	if errors.Is(err, dispatch.ErrClosed) {
		return newAPIError(http.StatusServiceUnavailable, "shutting_down", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrNoTriggers) {
		return newAPIError(http.StatusServiceUnavailable, "workflow_unavailable", err.Error(), nil)
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		details := make(map[string]any, len(ve.Fields))
		for k, v := range ve.Fields {
			details[k] = v
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	if code, ok := bridge.IsStatus(err); ok {
		return newAPIError(http.StatusBadGateway, "workflow_error", err.Error(), map[string]any{"upstream_status": code})
	}
	var te *bridge.TransportError
	if errors.As(err, &te) {
		return newAPIError(http.StatusBadGateway, "workflow_unreachable", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// actorOrDefault reads the optional X-Actor-Id header used to attribute
// manual lead edits.
func actorOrDefault(header string) string {
	if a := strings.TrimSpace(header); a != "" {
		return a
	}
	return "api"
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

// registerOpenAPI serves the document as built once every route is
// registered.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) error {
	oas := api.OpenAPI()
	ensureDefaultErrorResponses(oas)
	applyCallbackSecurity(oas, basePath)
	spec, err := json.Marshal(oas)
	if err != nil {
		return fmt.Errorf("server: encode openapi: %w", err)
	}
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
	return nil
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	var ref *huma.Schema
	if oas.Components != nil && oas.Components.Schemas != nil {
		ref = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: ref},
				},
			}
		}
	}
}

// applyCallbackSecurity marks the webhook routes as bearer-protected.
func applyCallbackSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["callbackAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	prefix := path.Join(basePath, "webhooks") + "/"
	for route, item := range oas.Paths {
		if !strings.HasPrefix(route, prefix) {
			continue
		}
		for _, op := range operations(item) {
			if op != nil {
				op.Security = []map[string][]string{{"callbackAuth": {}}}
			}
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
    <title>Leadline API Docs</title>
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

func registerAgents(api huma.API, d *dispatch.Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List registered agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AgentResponse `json:"body"`
	}, error) {
		return &struct {
			Body []AgentResponse `json:"body"`
		}{Body: agentResponses(d.Agents())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-agent",
		Method:      http.MethodPost,
		Path:        "/agents/execute",
		Summary:     "Schedule an agent run",
		Description: "Returns as soon as the run is scheduled. Poll /agents/logs for the outcome.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body ExecuteAgentRequest
	}) (*struct {
		Body ScheduledResponse `json:"body"`
	}, error) {
		payload, err := json.Marshal(input.Body.Context)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid context", nil)
		}
		if _, err := d.Schedule(ctx, input.Body.AgentName, payload); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScheduledResponse `json:"body"`
		}{Body: ScheduledResponse{
			Status:    "scheduled",
			AgentName: input.Body.AgentName,
			Message:   fmt.Sprintf("Agent %s scheduled for execution", input.Body.AgentName),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agent-logs",
		Method:      http.MethodGet,
		Path:        "/agents/logs",
		Summary:     "List agent execution logs",
	}, func(ctx context.Context, input *struct {
		Skip      int    `query:"skip" minimum:"0"`
		Limit     int    `query:"limit" default:"50" minimum:"0"`
		AgentName string `query:"agent_name"`
	}) (*struct {
		Body []domain.AgentExecutionLog `json:"body"`
	}, error) {
		logs, err := d.ReadLogs(ctx, dispatch.LogQuery{Skip: input.Skip, Limit: input.Limit, AgentName: input.AgentName})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AgentExecutionLog `json:"body"`
		}{Body: logs}, nil
	})
}

type leadPath struct {
	ID string `path:"id"`
}

func registerLeads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-lead",
		Method:        http.MethodPost,
		Path:          "/leads",
		Summary:       "Create lead",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ActorID string `header:"X-Actor-Id"`
		Body    CreateLeadRequest
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		lead, err := e.CreateLead(ctx, engine.LeadCreateOptions{
			CompanyName: input.Body.CompanyName,
			Website:     input.Body.Website,
			Region:      input.Body.Region,
			ActorID:     actorOrDefault(input.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: lead}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/leads",
		Summary:     "List leads",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status        string `query:"status" enum:"new,vetted,rejected,enriching,enriched,contacted,closed"`
		VettingStatus string `query:"vetting_status" enum:"pending,approved,rejected"`
		Skip          int    `query:"skip" minimum:"0"`
		Limit         int    `query:"limit" default:"100" minimum:"0"`
	}) (*struct {
		Body []domain.Lead `json:"body"`
	}, error) {
		leads, err := e.ListLeads(ctx, engine.LeadListOptions{
			Status:        input.Status,
			VettingStatus: input.VettingStatus,
			Skip:          input.Skip,
			Limit:         input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Lead `json:"body"`
		}{Body: leads}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "discover-leads",
		Method:      http.MethodPost,
		Path:        "/leads/discover",
		Summary:     "Start the workflow engine's lead discovery",
		Errors:      []int{http.StatusBadGateway, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TriggerResponse `json:"body"`
	}, error) {
		data, err := e.TriggerDiscovery(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TriggerResponse `json:"body"`
		}{Body: TriggerResponse{Status: "success", Message: "Lead discovery triggered", Data: data}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lead",
		Method:      http.MethodGet,
		Path:        "/leads/{id}",
		Summary:     "Get lead",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *leadPath) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		lead, err := e.GetLead(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: lead}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-lead",
		Method:      http.MethodPatch,
		Path:        "/leads/{id}",
		Summary:     "Update lead",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
		Body    UpdateLeadRequest
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		opts := engine.LeadUpdateOptions{
			ID:            input.ID,
			CompanyName:   input.Body.CompanyName,
			Website:       input.Body.Website,
			Region:        input.Body.Region,
			Status:        input.Body.Status,
			VettingStatus: input.Body.VettingStatus,
			PainPoints:    input.Body.PainPoints,
			Score:         input.Body.Score,
			ActorID:       actorOrDefault(input.ActorID),
		}
		if input.Body.Version != nil {
			opts.ExpectVersion = *input.Body.Version
		}
		lead, err := e.UpdateLead(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: lead}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-lead",
		Method:        http.MethodDelete,
		Path:          "/leads/{id}",
		Summary:       "Delete lead",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct{}, error) {
		if err := e.DeleteLead(ctx, input.ID, actorOrDefault(input.ActorID)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mine-lead-reviews",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/reviews",
		Summary:     "Start review mining for a lead",
		Errors:      []int{http.StatusNotFound, http.StatusBadGateway, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *leadPath) (*struct {
		Body TriggerResponse `json:"body"`
	}, error) {
		if err := e.TriggerReviews(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TriggerResponse `json:"body"`
		}{Body: TriggerResponse{Status: "success", Message: "Review mining triggered"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-lead-events",
		Method:      http.MethodGet,
		Path:        "/leads/{id}/events",
		Summary:     "List a lead's audit events, newest first",
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"100" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.LeadEvent `json:"body"`
	}, error) {
		evts, err := e.LeadEvents(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.LeadEvent `json:"body"`
		}{Body: evts}, nil
	})
}

func registerWebhooks(api huma.API, e engine.Engine, d *dispatch.Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "discovery-webhook",
		Method:      http.MethodPost,
		Path:        "/webhooks/discovery",
		Summary:     "Ingest discovered leads",
		Description: "Queues a discovery run over the posted leads.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body DiscoveryWebhookRequest
	}) (*struct {
		Body DiscoveryWebhookResponse `json:"body"`
	}, error) {
		payload, err := json.Marshal(map[string]any{"leads": input.Body.Leads})
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid leads", nil)
		}
		if _, err := d.Schedule(ctx, string(agent.KindDiscovery), payload); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DiscoveryWebhookResponse `json:"body"`
		}{Body: DiscoveryWebhookResponse{
			Received: len(input.Body.Leads),
			Message:  "Leads queued for processing",
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "enrichment-webhook",
		Method:      http.MethodPatch,
		Path:        "/webhooks/enrichment/{id}",
		Summary:     "Apply enrichment results to a lead",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body EnrichmentWebhookRequest
	}) (*struct {
		Body EnrichmentWebhookResponse `json:"body"`
	}, error) {
		lead, err := e.ApplyEnrichment(ctx, input.ID, engine.EnrichmentResult{
			PainPoints: input.Body.PainPoints,
			Score:      input.Body.Score,
			Status:     input.Body.Status,
			ActorID:    callbackActor(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EnrichmentWebhookResponse `json:"body"`
		}{Body: EnrichmentWebhookResponse{
			LeadID:  lead.ID,
			Message: "Enrichment data applied",
			Lead:    lead,
		}}, nil
	})
}
