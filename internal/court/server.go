package court

import (
	"net/http"
	"time"

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
	DB             *gorm.DB
	Events         *eventlog.Store
	Obs            *httpx.Observability
	Board          *clients.BoardClient
	Bank           *clients.BankClient
	Identity       *clients.IdentityClient
	Panel          Panel
	PanelSize      int
	JudgeTimeout   int
	RebuttalWindow int
}

func NewServer(cfg Config) *Server {
	s := &Server{
		engine: NewEngine(cfg.DB, cfg.Events, cfg.Board, cfg.Bank, cfg.Panel, cfg.PanelSize,
			secondsToDuration(cfg.JudgeTimeout), secondsToDuration(cfg.RebuttalWindow)),
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
	r.Use(httpx.AuditMiddleware(s.db, "court_audit_log"))
	r.Use(func(next http.Handler) http.Handler {
		return httpx.WithIdempotency(s.db, "court_idempotency_keys", next)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	eventHandler := eventlog.NewHandler(events)
	r.Get("/events", eventHandler.CatchUp)
	r.Get("/events/stream", eventHandler.Stream)

	r.With(s.obs.Middleware("POST /claims")).Post("/claims", s.handleFileClaim)
	r.With(s.obs.Middleware("POST /claims/{id}/rebuttal")).Post("/claims/{id}/rebuttal", s.handleSubmitRebuttal)
	r.With(s.obs.Middleware("GET /claims/{id}")).Get("/claims/{id}", s.handleGetClaim)

	return r
}

func (s *Server) handleFileClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID     string `json:"task_id"`
		Claimant   string `json:"claimant"`
		Respondent string `json:"respondent"`
		Reason     string `json:"reason"`
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
	claim, err := s.engine.FileClaim(r.Context(), req.TaskID, req.Claimant, req.Respondent, req.Reason)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, claimResponse(claim))
}

func (s *Server) handleSubmitRebuttal(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "id")
	var req struct {
		Respondent string `json:"respondent"`
		Content    string `json:"content"`
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
	claim, err := s.engine.SubmitRebuttal(r.Context(), claimID, req.Respondent, req.Content)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, claimResponse(claim))
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "id")
	claim, err := s.engine.GetClaim(claimID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	out := claimResponse(claim)
	if claim.Status == StatusRuled {
		if ruling, err := s.engine.GetRuling(claimID); err == nil {
			out["ruling"] = rulingResponse(ruling)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func signerID(r *http.Request) string {
	return r.Header.Get("X-Agent-Id")
}

func claimResponse(c *Claim) map[string]any {
	return map[string]any{
		"claim_id":          c.ClaimID,
		"task_id":           c.TaskID,
		"claimant":          c.Claimant,
		"respondent":        c.Respondent,
		"reason":            c.Reason,
		"status":            c.Status,
		"rebuttal_deadline": c.RebuttalDeadline,
		"ruling_id":         c.RulingID,
		"filed_at":          c.FiledAt,
		"ruled_at":          c.RuledAt,
	}
}

func rulingResponse(r *Ruling) map[string]any {
	return map[string]any{
		"ruling_id":  r.RulingID,
		"claim_id":   r.ClaimID,
		"task_id":    r.TaskID,
		"worker_pct": r.WorkerPct,
		"summary":    r.Summary,
		"votes":      r.VotesJSON,
		"ruled_at":   r.RuledAt,
	}
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
