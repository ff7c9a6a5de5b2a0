package board

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"agoraeconomy/internal/clients"
	"agoraeconomy/internal/config"
	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
)

type Server struct {
	engine   *Engine
	db       *gorm.DB
	obs      *httpx.Observability
	identity *clients.IdentityClient
	cfg      *config.Config
	router   chi.Router
}

type Config struct {
	DB       *gorm.DB
	Events   *eventlog.Store
	Obs      *httpx.Observability
	Bank     *clients.BankClient
	Identity *clients.IdentityClient
	App      *config.Config
}

func NewServer(cfg Config) *Server {
	s := &Server{
		engine:   NewEngine(cfg.DB, cfg.Events, cfg.Bank),
		db:       cfg.DB,
		obs:      cfg.Obs,
		identity: cfg.Identity,
		cfg:      cfg.App,
	}
	s.router = s.buildRouter(cfg.Events)
	return s
}

func (s *Server) Router() http.Handler { return s.router }
func (s *Server) Engine() *Engine      { return s.engine }

func (s *Server) buildRouter(events *eventlog.Store) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(httpx.AuditMiddleware(s.db, "board_audit_log"))
	r.Use(func(next http.Handler) http.Handler {
		return httpx.WithIdempotency(s.db, "board_idempotency_keys", next)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	eventHandler := eventlog.NewHandler(events)
	r.Get("/events", eventHandler.CatchUp)
	r.Get("/events/stream", eventHandler.Stream)

	r.With(s.obs.Middleware("POST /tasks")).Post("/tasks", s.handleCreateTask)
	r.With(s.obs.Middleware("POST /tasks/{id}/bids")).Post("/tasks/{id}/bids", s.handleSubmitBid)
	r.With(s.obs.Middleware("POST /tasks/{id}/accept")).Post("/tasks/{id}/accept", s.handleAcceptBid)
	r.With(s.obs.Middleware("POST /tasks/{id}/assets")).Post("/tasks/{id}/assets", s.handleUploadAsset)
	r.With(s.obs.Middleware("POST /tasks/{id}/submit")).Post("/tasks/{id}/submit", s.handleSubmit)
	r.With(s.obs.Middleware("POST /tasks/{id}/approve")).Post("/tasks/{id}/approve", s.handleApprove)
	r.With(s.obs.Middleware("POST /tasks/{id}/dispute")).Post("/tasks/{id}/dispute", s.handleDispute)
	r.With(s.obs.Middleware("POST /tasks/{id}/cancel")).Post("/tasks/{id}/cancel", s.handleCancel)
	r.With(s.obs.Middleware("POST /tasks/{id}/rule")).Post("/tasks/{id}/rule", s.handleRuleTask)
	r.With(s.obs.Middleware("GET /tasks")).Get("/tasks", s.handleListTasks)
	r.With(s.obs.Middleware("GET /tasks/{id}")).Get("/tasks/{id}", s.handleGetTask)
	r.With(s.obs.Middleware("GET /tasks/{id}/bids")).Get("/tasks/{id}/bids", s.handleListBids)
	r.With(s.obs.Middleware("GET /tasks/{id}/assets")).Get("/tasks/{id}/assets", s.handleListAssets)

	return r
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Poster                   string `json:"poster"`
		Title                    string `json:"title"`
		Specification            string `json:"specification"`
		Reward                   int64  `json:"reward"`
		BiddingDeadlineSeconds   int    `json:"bidding_deadline_seconds"`
		ExecutionDeadlineSeconds int    `json:"execution_deadline_seconds"`
		ReviewDeadlineSeconds    int    `json:"review_deadline_seconds"`
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
	if req.BiddingDeadlineSeconds == 0 {
		req.BiddingDeadlineSeconds = s.cfg.DefaultBiddingSeconds
	}
	if req.ExecutionDeadlineSeconds == 0 {
		req.ExecutionDeadlineSeconds = s.cfg.DefaultExecutionSeconds
	}
	if req.ReviewDeadlineSeconds == 0 {
		req.ReviewDeadlineSeconds = s.cfg.DefaultReviewSeconds
	}
	task, err := s.engine.CreateTask(r.Context(), req.Poster, req.Title, req.Specification, req.Reward,
		req.BiddingDeadlineSeconds, req.ExecutionDeadlineSeconds, req.ReviewDeadlineSeconds)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, taskResponse(task))
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	var req struct {
		Bidder   string `json:"bidder"`
		Proposal string `json:"proposal"`
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
	bid, err := s.engine.SubmitBid(req.Bidder, taskID, req.Proposal)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, bidResponse(bid))
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	var req struct {
		Poster string `json:"poster"`
		BidID  string `json:"bid_id"`
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
	task, err := s.engine.AcceptBid(req.Poster, taskID, req.BidID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, taskResponse(task))
}

func (s *Server) handleUploadAsset(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	var req struct {
		Uploader    string `json:"uploader"`
		Filename    string `json:"filename"`
		MimeType    string `json:"mime_type"`
		Size        int64  `json:"size"`
		StoragePath string `json:"storage_path"`
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
	if s.cfg != nil && s.cfg.MaxAssetSizeBytes > 0 && req.Size > s.cfg.MaxAssetSizeBytes {
		httpx.WriteError(w, httpx.Validation("asset exceeds the configured size limit"))
		return
	}
	asset, err := s.engine.UploadAsset(req.Uploader, taskID, req.Filename, req.MimeType, req.Size, req.StoragePath)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, assetResponse(asset))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	var req struct {
		Worker string `json:"worker"`
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
	task, err := s.engine.Submit(req.Worker, taskID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, taskResponse(task))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	var req struct {
		Poster string `json:"poster"`
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
	task, err := s.engine.Approve(r.Context(), req.Poster, taskID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, taskResponse(task))
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	var req struct {
		Poster string `json:"poster"`
		Reason string `json:"reason"`
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
	task, err := s.engine.Dispute(req.Poster, taskID, req.Reason)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, taskResponse(task))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	var req struct {
		Poster string `json:"poster"`
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
	task, err := s.engine.Cancel(r.Context(), req.Poster, taskID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, taskResponse(task))
}

// handleRuleTask is the internal extension Court calls after computing a
// ruling; it is not signature-gated like agent-initiated endpoints since
// the caller is a sibling service, not an agent.
func (s *Server) handleRuleTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	var req struct {
		RulingID  string `json:"ruling_id"`
		WorkerPct int    `json:"worker_pct"`
		Summary   string `json:"summary"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	task, err := s.engine.RuleTask(taskID, req.RulingID, req.WorkerPct, req.Summary)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, taskResponse(task))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, taskResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	poster := r.URL.Query().Get("poster")
	tasks, err := s.engine.ListTasks(status, poster)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(&t))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := s.engine.ListBids(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(bids))
	for _, b := range bids {
		out = append(out, bidResponse(&b))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.engine.ListAssets(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(assets))
	for _, a := range assets {
		out = append(out, assetResponse(&a))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// signerID extracts the X-Agent-Id header identifying the signer. The
// signature covers the request body; which agent key it must verify
// against is asserted out-of-band in a header, the same way the teacher's
// gateway reads bearer identity from a header rather than the body.
func signerID(r *http.Request) string {
	return r.Header.Get("X-Agent-Id")
}

func taskResponse(t *Task) map[string]any {
	return map[string]any{
		"task_id":             t.TaskID,
		"poster":              t.Poster,
		"title":               t.Title,
		"specification":       t.Specification,
		"reward":              t.Reward,
		"status":              t.Status,
		"escrow_id":           t.EscrowID,
		"worker_id":           t.WorkerID,
		"worker":              t.WorkerID,
		"accepted_bid_id":     t.AcceptedBidID,
		"dispute_reason":      t.DisputeReason,
		"ruling_id":           t.RulingID,
		"worker_pct":          t.WorkerPct,
		"ruling_summary":      t.RulingSummary,
		"bidding_deadline":    t.BiddingDeadline,
		"execution_deadline":  t.ExecutionDeadline,
		"review_deadline":     t.ReviewDeadline,
		"created_at":          t.CreatedAt,
		"accepted_at":         t.AcceptedAt,
		"submitted_at":        t.SubmittedAt,
		"approved_at":         t.ApprovedAt,
		"cancelled_at":        t.CancelledAt,
		"disputed_at":         t.DisputedAt,
		"ruled_at":            t.RuledAt,
		"expired_at":          t.ExpiredAt,
	}
}

func bidResponse(b *Bid) map[string]any {
	return map[string]any{
		"bid_id":       b.BidID,
		"task_id":      b.TaskID,
		"bidder":       b.Bidder,
		"proposal":     b.Proposal,
		"submitted_at": b.SubmittedAt,
	}
}

func assetResponse(a *Asset) map[string]any {
	return map[string]any{
		"asset_id":     a.AssetID,
		"task_id":      a.TaskID,
		"uploader":     a.Uploader,
		"filename":     a.Filename,
		"mime_type":    a.MimeType,
		"size":         a.Size,
		"storage_path": a.StoragePath,
		"uploaded_at":  a.UploadedAt,
	}
}
