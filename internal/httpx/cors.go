package httpx

import (
	"net/http"
	"strings"
)

// CORS returns middleware that sets permissive cross-origin headers, adapted
// from gateway/middleware/cors.go. None of the service routers in this
// module mount it.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := []string{"GET", "POST", "OPTIONS"}
	headers := []string{"Content-Type", "Idempotency-Key", "X-Agent-Id"}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origins[0])
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
