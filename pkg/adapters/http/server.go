package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/internal/presentation/graph"
	"github.com/aretw0/waypoint/pkg/actionlist"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Engine defines the routing operations the API exposes.
type Engine interface {
	Route(ctx context.Context, doc domain.Document) (*domain.Graph, error)
	Complete(ctx context.Context, documentID, instanceID string) ([]*domain.NodeInstance, error)
	Act(ctx context.Context, itemID string) (*domain.ActionItem, error)
	Withdraw(ctx context.Context, documentID string) error
	Reresolve(ctx context.Context, documentID string) ([]*domain.ActionItem, error)
	Retitle(ctx context.Context, documentID, title string) error
	Graph(ctx context.Context, documentID string) (*domain.Graph, error)
	Template(ctx context.Context, documentID string) (*domain.Template, error)
	ActionList() *actionlist.Service
}

// errBadRequest marks malformed requests.
var errBadRequest = errors.New("bad request")

// Server serves the routing and action list API.
type Server struct {
	Engine Engine
	logger *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{Engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", s.RouteDocument)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/graph", s.GetGraph)
			r.Post("/instances/{instanceID}/complete", s.Complete)
			r.Post("/withdraw", s.Withdraw)
			r.Post("/reresolve", s.Reresolve)
			r.Post("/title", s.Retitle)
			r.Get("/action-items", s.DocumentItems)
		})
	})
	r.Route("/principals/{id}", func(r chi.Router) {
		r.Get("/action-list", s.ActionList)
		r.Get("/outbox", s.Outbox)
		r.Get("/count", s.Count)
		r.Post("/refresh", s.Refresh)
	})
	r.Route("/action-items/{id}", func(r chi.Router) {
		r.Get("/", s.GetItem)
		r.Post("/act", s.Act)
		r.Delete("/", s.DeleteItem)
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RouteDocument handles POST /documents.
func (s *Server) RouteDocument(w http.ResponseWriter, r *http.Request) {
	var doc domain.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid request body: %v", errBadRequest, err))
		return
	}
	g, err := s.Engine.Route(r.Context(), doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, g)
}

// GetGraph handles GET /documents/{id}/graph. With format=mermaid it renders the template
// with the document's progress as a Mermaid flowchart.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "id")
	g, err := s.Engine.Graph(r.Context(), documentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		s.respond(w, r, http.StatusOK, g)
	case "mermaid":
		tpl, err := s.Engine.Template(r.Context(), documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(graph.GenerateMermaid(tpl, graph.OverlayFromGraph(g))))
	default:
		s.fail(w, r, fmt.Errorf("%w: unknown format '%s'", errBadRequest, format))
	}
}

// Complete handles POST /documents/{id}/instances/{instanceID}/complete.
func (s *Server) Complete(w http.ResponseWriter, r *http.Request) {
	activated, err := s.Engine.Complete(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "instanceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if activated == nil {
		activated = []*domain.NodeInstance{}
	}
	s.respond(w, r, http.StatusOK, map[string]any{"activated": activated})
}

// Withdraw handles POST /documents/{id}/withdraw.
func (s *Server) Withdraw(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Withdraw(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reresolve handles POST /documents/{id}/reresolve.
func (s *Server) Reresolve(w http.ResponseWriter, r *http.Request) {
	published, err := s.Engine.Reresolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, items(published))
}

// Retitle handles POST /documents/{id}/title.
func (s *Server) Retitle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid request body: %v", errBadRequest, err))
		return
	}
	if err := s.Engine.Retitle(r.Context(), chi.URLParam(r, "id"), body.Title); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DocumentItems handles GET /documents/{id}/action-items.
func (s *Server) DocumentItems(w http.ResponseWriter, r *http.Request) {
	found, err := s.Engine.ActionList().FindByDocumentID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, items(found))
}

// ActionList handles GET /principals/{id}/action-list.
func (s *Server) ActionList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	found, err := s.Engine.ActionList().GetActionList(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, items(found))
}

// Outbox handles GET /principals/{id}/outbox.
func (s *Server) Outbox(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	found, err := s.Engine.ActionList().GetOutbox(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, items(found))
}

// Count handles GET /principals/{id}/count.
func (s *Server) Count(w http.ResponseWriter, r *http.Request) {
	count, err := s.Engine.ActionList().GetCount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]int{"count": count})
}

// Refresh handles POST /principals/{id}/refresh.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	changed, err := s.Engine.ActionList().RefreshActionList(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]bool{"changed": changed})
}

// GetItem handles GET /action-items/{id}.
func (s *Server) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.Engine.ActionList().FindByActionItemID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, item)
}

// Act handles POST /action-items/{id}/act.
func (s *Server) Act(w http.ResponseWriter, r *http.Request) {
	item, err := s.Engine.Act(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, item)
}

// DeleteItem handles DELETE /action-items/{id}. The item moves to the outbox unless
// outbox=false asks for a hard erase.
func (s *Server) DeleteItem(w http.ResponseWriter, r *http.Request) {
	forceIntoOutbox := true
	if raw := r.URL.Query().Get("outbox"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.fail(w, r, fmt.Errorf("%w: outbox must be a boolean", errBadRequest))
			return
		}
		forceIntoOutbox = v
	}

	list := s.Engine.ActionList()
	item, err := list.FindByActionItemID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := list.DeleteActionItem(r.Context(), item, forceIntoOutbox); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseFilter reads the action list filter from the query string.
func parseFilter(r *http.Request) (domain.ActionListFilter, error) {
	q := r.URL.Query()
	filter := domain.ActionListFilter{
		DocumentType:    q.Get("document_type"),
		ActionRequested: domain.ActionType(q.Get("action")),
		DelegatorID:     q.Get("delegator_id"),
		Expression:      q.Get("expr"),
	}

	switch d := domain.DelegationFilter(q.Get("delegation")); d {
	case domain.DelegationFilterAny, domain.DelegationFilterNone, domain.DelegationFilterPrimary, domain.DelegationFilterSecondary:
		filter.Delegation = d
	default:
		return filter, fmt.Errorf("%w: unknown delegation '%s'", errBadRequest, d)
	}

	for key, dst := range map[string]*time.Time{
		"created_after":  &filter.CreatedAfter,
		"created_before": &filter.CreatedBefore,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%w: %s must be RFC 3339", errBadRequest, key)
		}
		*dst = t
	}
	return filter, nil
}

// items keeps empty lists encoded as [] rather than null.
func items(list []*domain.ActionItem) []*domain.ActionItem {
	if list == nil {
		return []*domain.ActionItem{}
	}
	return list
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, actionlist.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDocumentNotFound),
		errors.Is(err, domain.ErrTemplateNotFound),
		errors.Is(err, domain.ErrActionItemNotFound),
		errors.Is(err, domain.ErrNodeInstanceNotFound),
		errors.Is(err, domain.ErrNodeStateNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStaleState), errors.Is(err, domain.ErrIllegalState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTemplate), errors.Is(err, domain.ErrInvalidActionItem):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	s.respond(w, r, status, map[string]string{"error": err.Error()})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Response encode failed", "path", r.URL.Path, "err", err)
	}
}
