package httpx

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IdempotencyRecord is the shape persisted per replayed request, grounded on
// services/otc-gateway/models.IdempotencyKey and middleware/idempotency.go.
// Each service stores its own copy under a service-prefixed table name
// (e.g. board_idempotency_keys) so ownership stays exclusive per §7.
type IdempotencyRecord struct {
	Key       string `gorm:"primaryKey"`
	RequestID string
	Method    string
	Path      string
	Status    int
	Response  string
	CreatedAt time.Time
}

type contextKey string

const idempotencyContextKey contextKey = "idempotency-key"

// MigrateIdempotency creates the per-service idempotency table under the
// given name.
func MigrateIdempotency(db *gorm.DB, table string) error {
	return db.Table(table).AutoMigrate(&IdempotencyRecord{})
}

// WithIdempotency replays a previously recorded response when the
// Idempotency-Key header matches an earlier request, and records the
// response of a fresh request otherwise. Adapted from
// services/otc-gateway/middleware/idempotency.go, generalized to a
// caller-supplied table per service.
func WithIdempotency(db *gorm.DB, table string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		var record IdempotencyRecord
		if err := db.Table(table).First(&record, "key = ?", key).Error; err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(record.Status)
			_, _ = io.WriteString(w, record.Response)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w}
		ctx := context.WithValue(r.Context(), idempotencyContextKey, key)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		record = IdempotencyRecord{
			Key:       key,
			RequestID: uuid.NewString(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    status,
			Response:  recorder.buf,
			CreatedAt: time.Now().UTC(),
		}
		_ = db.Table(table).Create(&record).Error
	})
}

type responseRecorder struct {
	http.ResponseWriter
	buf    string
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.buf += string(b)
	return rr.ResponseWriter.Write(b)
}
