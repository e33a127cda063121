package middleware

import (
	"log"
	"net/http"
	"time"

	"kioskd/internal/audit"
)

func BasicAuth(user, pass string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || u != user || p != pass {
				w.Header().Set("WWW-Authenticate", `Basic realm="staff"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger writes one line per request and mirrors it into the audit
// pool so staff activity shows up in the trail.
func RequestLogger(auditPool *audit.WorkerPool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("[%s] %s", r.Method, r.URL.Path)
			auditPool.Log(audit.Entry{
				Timestamp: time.Now().UTC(),
				Endpoint:  r.URL.Path,
				Request:   r.Method + " " + r.URL.String(),
				Message:   "Request received",
			})
			next.ServeHTTP(w, r)
		})
	}
}
