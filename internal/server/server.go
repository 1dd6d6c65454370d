package server

import (
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

	"fiotrack/internal/domain"
	"fiotrack/internal/engine"
	"fiotrack/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"order o1 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the FioTrack API.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("FioTrack API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSectors(group, cfg.Engine)
	registerOrders(group, cfg.Engine)
	registerRules(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unknown sector"):
		return newAPIError(http.StatusBadRequest, "unknown_sector", msg, nil)
	case strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "must be"):
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
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
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>FioTrack API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' });
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

func registerSectors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sectors",
		Method:      http.MethodGet,
		Path:        "/sectors",
		Summary:     "List pipeline sectors",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SectorResponse `json:"body"`
	}, error) {
		var out []SectorResponse
		for _, s := range domain.Sectors() {
			name := s.Name
			if e.Config != nil {
				name = e.Config.SectorName(s.ID)
			}
			out = append(out, sectorResponse(s, name))
		}
		return &struct {
			Body []SectorResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-orders",
		Method:        http.MethodPost,
		Path:          "/orders/import",
		Summary:       "Import orders",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body ImportOrdersRequest `json:"body"`
	}) (*struct {
		Body struct {
			Imported int `json:"imported"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(input.Body.Orders) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "orders are required", nil)
		}
		orders := make([]domain.Order, 0, len(input.Body.Orders))
		for _, req := range input.Body.Orders {
			o, err := importOrder(req)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			orders = append(orders, o)
		}
		n, err := e.ImportOrders(ctx, orders, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Imported int `json:"imported"`
			} `json:"body"`
		}{}
		resp.Body.Imported = n
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List orders",
	}, func(ctx context.Context, input *struct {
		DocNr           string `query:"doc_nr"`
		ClientCode      string `query:"client_code"`
		IncludeArchived bool   `query:"include_archived"`
		Limit           int    `query:"limit"`
	}) (*struct {
		Body []domain.Order `json:"body"`
	}, error) {
		orders, err := e.Repo.ListOrders(ctx, repo.OrderFilters{
			DocNr:           input.DocNr,
			ClientCode:      input.ClientCode,
			IncludeArchived: input.IncludeArchived,
			Limit:           input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Order `json:"body"`
		}{Body: orders}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}",
		Summary:     "Get order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		o, err := e.Repo.GetOrder(ctx, input.OrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order-capacity",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}/sectors/{sector_id}/capacity",
		Summary:     "Capacity info for an order at a sector",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID  string `path:"order_id"`
		SectorID string `path:"sector_id"`
	}) (*struct {
		Body domain.OrderCapacityInfo `json:"body"`
	}, error) {
		info, err := e.OrderCapacity(ctx, input.OrderID, domain.SectorID(input.SectorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OrderCapacityInfo `json:"body"`
		}{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-predicted-date",
		Method:      http.MethodPut,
		Path:        "/orders/{order_id}/sectors/{sector_id}/predicted-date",
		Summary:     "Set or clear a predicted date, cascading downstream",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID  string                  `path:"order_id"`
		SectorID string                  `path:"sector_id"`
		Body     SetPredictedDateRequest `json:"body"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		date, err := parseDate("date", input.Body.Date)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		o, err := e.SetPredictedDate(ctx, input.OrderID, domain.SectorID(input.SectorID), date, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-predicted-date",
		Method:      http.MethodPost,
		Path:        "/orders/{order_id}/sectors/{sector_id}/predicted-date/validate",
		Summary:     "Confirm an auto-shifted predicted date",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID  string `path:"order_id"`
		SectorID string `path:"sector_id"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.ValidatePredictedDate(ctx, input.OrderID, domain.SectorID(input.SectorID), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-order-sector",
		Method:      http.MethodPatch,
		Path:        "/orders/{order_id}/sectors/{sector_id}",
		Summary:     "Update sector observation or stop reason",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID  string            `path:"order_id"`
		SectorID string            `path:"sector_id"`
		Body     SectorEditRequest `json:"body"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.UpdateSector(ctx, engine.SectorEditOptions{
			OrderID:     input.OrderID,
			SectorID:    domain.SectorID(input.SectorID),
			Observation: input.Body.Observation,
			StopReason:  input.Body.StopReason,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-doc-priority",
		Method:      http.MethodPut,
		Path:        "/docs/{doc_nr}/priority",
		Summary:     "Set priority for every item of a document",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocNr string             `path:"doc_nr"`
		Body  SetPriorityRequest `json:"body"`
	}) (*struct {
		Body struct {
			Updated int64 `json:"updated"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.SetPriority(ctx, input.DocNr, input.Body.Priority, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Updated int64 `json:"updated"`
			} `json:"body"`
		}{}
		resp.Body.Updated = n
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-order-archived",
		Method:      http.MethodPut,
		Path:        "/orders/{order_id}/archived",
		Summary:     "Archive or unarchive an order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string             `path:"order_id"`
		Body    SetArchivedRequest `json:"body"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.SetArchived(ctx, input.OrderID, input.Body.Archived, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-orders",
		Method:      http.MethodDelete,
		Path:        "/orders",
		Summary:     "Delete all orders",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Deleted int64 `json:"deleted"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.ResetOrders(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Deleted int64 `json:"deleted"`
			} `json:"body"`
		}{}
		resp.Body.Deleted = n
		return resp, nil
	})
}

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/rules",
		Summary:       "Create capacity rule",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body RuleRequest `json:"body"`
	}) (*struct {
		Body domain.CapacityRule `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rule, err := e.CreateRule(ctx, ruleOptions("", input.Body, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CapacityRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List capacity rules",
	}, func(ctx context.Context, input *struct {
		SectorID string `query:"sector_id"`
	}) (*struct {
		Body []domain.CapacityRule `json:"body"`
	}, error) {
		rules, err := e.Repo.ListRules(ctx, domain.SectorID(input.SectorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CapacityRule `json:"body"`
		}{Body: rules}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPut,
		Path:        "/rules/{rule_id}",
		Summary:     "Update capacity rule",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RuleID string      `path:"rule_id"`
		Body   RuleRequest `json:"body"`
	}) (*struct {
		Body domain.CapacityRule `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rule, err := e.UpdateRule(ctx, ruleOptions(input.RuleID, input.Body, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CapacityRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-rule",
		Method:      http.MethodDelete,
		Path:        "/rules/{rule_id}",
		Summary:     "Delete capacity rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RuleID string `path:"rule_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRule(ctx, input.RuleID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func ruleOptions(id string, req RuleRequest, actorID string) engine.RuleOptions {
	return engine.RuleOptions{
		ID:            id,
		SectorID:      domain.SectorID(req.SectorID),
		Label:         req.Label,
		ArticleCode:   req.ArticleCode,
		Reference:     req.Reference,
		Family:        req.Family,
		ColorCode:     req.ColorCode,
		Size:          req.Size,
		PiecesPerHour: req.PiecesPerHour,
		HoursPerDay:   req.HoursPerDay,
		ActorID:       actorID,
	}
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sector-queue",
		Method:      http.MethodGet,
		Path:        "/reports/queue/{sector_id}",
		Summary:     "Orders with remaining work at a sector",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SectorID string `path:"sector_id"`
	}) (*struct {
		Body []QueueEntryResponse `json:"body"`
	}, error) {
		queue, err := e.SectorQueue(ctx, domain.SectorID(input.SectorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []QueueEntryResponse `json:"body"`
		}{Body: queueResponses(queue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "at-risk-orders",
		Method:      http.MethodGet,
		Path:        "/reports/at-risk",
		Summary:     "Orders estimated to miss their requested date",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []RiskEntryResponse `json:"body"`
	}, error) {
		risks, err := e.AtRiskOrders(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RiskEntryResponse `json:"body"`
		}{Body: riskResponses(risks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard-kpis",
		Method:      http.MethodGet,
		Path:        "/reports/kpis",
		Summary:     "Dashboard headline numbers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.KPIs `json:"body"`
	}, error) {
		kpis, err := e.DashboardKPIs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.KPIs `json:"body"`
		}{Body: kpis}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		events, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: eventResponses(events)}, nil
	})
}
