package reputation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"agoraeconomy/internal/clients"
	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
)

type Server struct {
	engine   *Engine
	db       *gorm.DB
	obs      *httpx.Observability
	identity *clients.IdentityClient
	router   chi.Router
}

type Config struct {
	DB       *gorm.DB
	Events   *eventlog.Store
	Obs      *httpx.Observability
	Board    *clients.BoardClient
	Identity *clients.IdentityClient
}

func NewServer(cfg Config) *Server {
	s := &Server{
		engine:   NewEngine(cfg.DB, cfg.Events, cfg.Board),
		db:       cfg.DB,
		obs:      cfg.Obs,
		identity: cfg.Identity,
	}
	s.router = s.buildRouter(cfg.Events)
	return s
}

func (s *Server) Router() http.Handler { return s.router }
func (s *Server) Engine() *Engine      { return s.engine }

func (s *Server) buildRouter(events *eventlog.Store) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(httpx.AuditMiddleware(s.db, "reputation_audit_log"))
	r.Use(func(next http.Handler) http.Handler {
		return httpx.WithIdempotency(s.db, "reputation_idempotency_keys", next)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	eventHandler := eventlog.NewHandler(events)
	r.Get("/events", eventHandler.CatchUp)
	r.Get("/events/stream", eventHandler.Stream)

	r.With(s.obs.Middleware("POST /feedback")).Post("/feedback", s.handleSubmitFeedback)
	r.With(s.obs.Middleware("GET /feedback/task/{id}")).Get("/feedback/task/{id}", s.handleGetFeedbackForTask)
	r.With(s.obs.Middleware("GET /agents/{id}/scores")).Get("/agents/{id}/scores", s.handleGetScores)
	r.With(s.obs.Middleware("GET /agents/{id}/aggregates")).Get("/agents/{id}/aggregates", s.handleGetAggregates)

	return r
}

// handleSubmitFeedback requires a signature from the submitting agent,
// matching the Task Board's verified-write convention, since feedback is an
// agent-initiated claim about a counterparty rather than an internal effect.
func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID  string  `json:"task_id"`
		From    string  `json:"from_agent"`
		Rating  Rating  `json:"rating"`
		Comment *string `json:"comment"`
	}
	fields, err := httpx.VerifySigned(r.Context(), s.identity, r, signerID(r))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := httpx.DecodeFields(fields, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	fb, err := s.engine.SubmitFeedback(r.Context(), req.TaskID, req.From, req.Rating, req.Comment)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, feedbackResponse(fb, true))
}

func (s *Server) handleGetFeedbackForTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	views, err := s.engine.GetFeedbackForTask(taskID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(views))
	for _, v := range views {
		out = append(out, feedbackViewResponse(v))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetScores(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	scores, err := s.engine.AgentScores(agentID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"agent_id": agentID,
		"scores":   scores,
	})
}

// handleGetAggregates exposes the same per-category scores plus the count
// of revealed feedback rows backing each, an addition beyond the
// representative endpoint list so a caller can tell a freshly-initialized
// 100 apart from an earned one.
func (s *Server) handleGetAggregates(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	scores, err := s.engine.AgentScores(agentID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	counts, err := s.engine.FeedbackCounts(agentID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	aggregates := make(map[string]any, len(scores))
	for category, value := range scores {
		aggregates[string(category)] = map[string]any{
			"score": value,
			"count": counts[category],
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"agent_id":   agentID,
		"aggregates": aggregates,
	})
}

func signerID(r *http.Request) string {
	return r.Header.Get("X-Agent-Id")
}

func feedbackResponse(fb *Feedback, includeSealed bool) map[string]any {
	out := map[string]any{
		"feedback_id":  fb.FeedbackID,
		"task_id":      fb.TaskID,
		"from_agent":   fb.FromAgent,
		"to_agent":     fb.ToAgent,
		"role":         fb.Role,
		"category":     fb.Category,
		"visible":      fb.Visible,
		"submitted_at": fb.SubmittedAt,
	}
	if includeSealed || fb.Visible {
		out["rating"] = fb.Rating
		out["comment"] = fb.Comment
	}
	return out
}

func feedbackViewResponse(v FeedbackView) map[string]any {
	out := map[string]any{
		"feedback_id":  v.FeedbackID,
		"from_agent":   v.FromAgent,
		"to_agent":     v.ToAgent,
		"role":         v.Role,
		"category":     v.Category,
		"visible":      v.Visible,
		"submitted_at": v.SubmittedAt,
	}
	if v.Visible {
		out["rating"] = v.Rating
		out["comment"] = v.Comment
	}
	return out
}
