package httpx

import (
	"net/http"
	"time"

	"gorm.io/gorm"
)

// AuditRecord is one logged mutating request, grounded on
// services/escrow-gateway/storage.go's audit_log table.
type AuditRecord struct {
	ID             uint `gorm:"primaryKey"`
	OccurredAt     time.Time
	Principal      string
	Method         string
	Path           string
	ResponseStatus int
}

func MigrateAudit(db *gorm.DB, table string) error {
	return db.Table(table).AutoMigrate(&AuditRecord{})
}

// WithAudit records every request's principal, method, path, and resulting
// status after the handler completes.
func WithAudit(db *gorm.DB, table string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		record := AuditRecord{
			OccurredAt:     time.Now().UTC(),
			Principal:      r.Header.Get("X-Agent-Id"),
			Method:         r.Method,
			Path:           r.URL.Path,
			ResponseStatus: recorder.status,
		}
		_ = db.Table(table).Create(&record).Error
	})
}

// AuditMiddleware adapts WithAudit to the chi middleware signature
// (func(http.Handler) http.Handler) for use with router.Use.
func AuditMiddleware(db *gorm.DB, table string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return WithAudit(db, table, next)
	}
}
