package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// requestLogger logs one line per request through the shared logger,
// including the chi request id when present.
func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now().UTC()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Printf("%s %s status=%d from=%s reqid=%s dur=%s",
				r.Method, r.URL.Path, ww.Status(), r.RemoteAddr,
				middleware.GetReqID(r.Context()), time.Since(start))
		})
	}
}
