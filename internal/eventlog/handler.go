package eventlog

import (
	"encoding/json"
	"net/http"
	"strconv"

	"agoraeconomy/internal/httpx"
)

// Handler mounts GET /events (catch-up) and GET /events/stream (live push)
// against a Store. Every service mounts the same handler against the one
// shared events table, since the log is written by all and owned by none.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) CatchUp(w http.ResponseWriter, r *http.Request) {
	cursor := int64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.WriteError(w, httpx.Validation("after must be an integer"))
			return
		}
		cursor = parsed
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(w, httpx.Validation("limit must be an integer"))
			return
		}
		limit = parsed
	}
	records, err := h.store.After(cursor, limit)
	if err != nil {
		httpx.WriteError(w, httpx.Fatal(err.Error()))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, records)
}

// Stream serves a live push of economy_event messages, one event per line
// of newline-delimited JSON, until the client disconnects.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(w, httpx.Fatal("streaming unsupported"))
		return
	}
	ch, cancel := h.store.broker.Subscribe(256)
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case rec, open := <-ch:
			if !open {
				return
			}
			if err := enc.Encode(economyEvent{Type: "economy_event", Event: rec}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type economyEvent struct {
	Type  string `json:"type"`
	Event Record `json:"event"`
}
