package identity

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
)

// Server builds the Identity service's chi router, adapted from
// services/otc-gateway/server/server.go's Server/buildRouter shape.
type Server struct {
	svc   *Service
	db    *gorm.DB
	obs   *httpx.Observability
	router chi.Router
}

type Config struct {
	DB     *gorm.DB
	Events *eventlog.Store
	Obs    *httpx.Observability
}

func NewServer(cfg Config) *Server {
	s := &Server{
		svc: NewService(cfg.DB, cfg.Events),
		db:  cfg.DB,
		obs: cfg.Obs,
	}
	s.router = s.buildRouter(cfg.Events)
	return s
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) buildRouter(events *eventlog.Store) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(httpx.AuditMiddleware(s.db, "identity_audit_log"))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	eventHandler := eventlog.NewHandler(events)
	r.Get("/events", eventHandler.CatchUp)
	r.Get("/events/stream", eventHandler.Stream)

	r.With(s.obs.Middleware("POST /agents")).Post("/agents", s.handleRegister)
	r.With(s.obs.Middleware("GET /agents/{id}")).Get("/agents/{id}", s.handleLookup)
	r.With(s.obs.Middleware("POST /verify")).Post("/verify", s.handleVerify)

	return r
}

type registerRequest struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	agent, err := s.svc.Register(req.Name, req.PublicKey)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, agentResponse(agent))
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	agent, err := s.svc.Lookup(id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, agentResponse(agent))
}

type verifyRequest struct {
	AgentID   string `json:"agent_id"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	valid, err := s.svc.Verify(req.AgentID, req.Message, req.Signature)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func agentResponse(a *Agent) map[string]any {
	return map[string]any{
		"agent_id":      a.AgentID,
		"name":          a.Name,
		"public_key":    a.PublicKey,
		"registered_at": a.RegisteredAt,
	}
}
