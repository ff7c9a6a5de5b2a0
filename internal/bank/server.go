package bank

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
)

type Server struct {
	ledger *Ledger
	db     *gorm.DB
	obs    *httpx.Observability
	router chi.Router
}

type Config struct {
	DB     *gorm.DB
	Events *eventlog.Store
	Obs    *httpx.Observability
}

func NewServer(cfg Config) *Server {
	s := &Server{ledger: NewLedger(cfg.DB, cfg.Events), db: cfg.DB, obs: cfg.Obs}
	s.router = s.buildRouter(cfg.Events)
	return s
}

func (s *Server) Router() http.Handler { return s.router }
func (s *Server) Ledger() *Ledger      { return s.ledger }

func (s *Server) buildRouter(events *eventlog.Store) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(httpx.AuditMiddleware(s.db, "bank_audit_log"))
	r.Use(func(next http.Handler) http.Handler {
		return httpx.WithIdempotency(s.db, "bank_idempotency_keys", next)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	eventHandler := eventlog.NewHandler(events)
	r.Get("/events", eventHandler.CatchUp)
	r.Get("/events/stream", eventHandler.Stream)

	r.With(s.obs.Middleware("POST /accounts")).Post("/accounts", s.handleOpenAccount)
	r.With(s.obs.Middleware("POST /credits")).Post("/credits", s.handleCredit)
	r.With(s.obs.Middleware("POST /escrow")).Post("/escrow", s.handleLockEscrow)
	r.With(s.obs.Middleware("POST /escrow/{id}/release")).Post("/escrow/{id}/release", s.handleReleaseEscrow)
	r.With(s.obs.Middleware("POST /escrow/{id}/split")).Post("/escrow/{id}/split", s.handleSplitEscrow)
	r.With(s.obs.Middleware("GET /accounts/{id}")).Get("/accounts/{id}", s.handleGetAccount)
	r.With(s.obs.Middleware("GET /accounts/{id}/transactions")).Get("/accounts/{id}/transactions", s.handleListTransactions)

	return r
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	acct, err := s.ledger.OpenAccount(req.AgentID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, accountResponse(acct))
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	tx, err := s.ledger.Credit(req.AccountID, req.Amount, req.Reference)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, txResponse(tx))
}

func (s *Server) handleLockEscrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payer  string `json:"payer"`
		Amount int64  `json:"amount"`
		TaskID string `json:"task_id"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	escrow, err := s.ledger.LockEscrow(req.Payer, req.Amount, req.TaskID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, escrowResponse(escrow))
}

func (s *Server) handleReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Recipient string `json:"recipient"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := s.ledger.ReleaseEscrow(id, req.Recipient); err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"escrow_id": id, "status": "released"})
}

func (s *Server) handleSplitEscrow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		WorkerPct int    `json:"worker_pct"`
		Worker    string `json:"worker"`
		Poster    string `json:"poster"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := s.ledger.SplitEscrow(id, req.WorkerPct, req.Worker, req.Poster); err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"escrow_id": id, "status": "split"})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := s.ledger.GetAccount(id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountResponse(acct))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	txs, err := s.ledger.ListTransactions(id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		out = append(out, txResponse(&tx))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func accountResponse(a *Account) map[string]any {
	return map[string]any{"account_id": a.AccountID, "balance": a.Balance, "created_at": a.CreatedAt}
}

func txResponse(t *Transaction) map[string]any {
	return map[string]any{
		"transaction_id": t.TransactionID,
		"account_id":     t.AccountID,
		"kind":           t.Kind,
		"amount":         t.Amount,
		"balance":        t.Balance,
		"reference":      t.Reference,
		"created_at":     t.CreatedAt,
	}
}

func escrowResponse(e *Escrow) map[string]any {
	return map[string]any{
		"escrow_id": e.EscrowID,
		"payer":     e.Payer,
		"amount":    e.Amount,
		"task_id":   e.TaskID,
		"status":    e.Status,
	}
}
