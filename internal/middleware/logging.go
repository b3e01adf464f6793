package middleware

import (
	"log"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Logging logs every HTTP request in key=value form. A nil logger uses log.Default().
func Logging(logger *log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				// hijacked (websocket) atau handler tidak menulis apa-apa
				status = http.StatusOK
			}
			logger.Printf(
				"request_id=%s method=%s path=%s status=%d duration=%s bytes=%d ip=%s user_agent=%q",
				chimw.GetReqID(r.Context()),
				r.Method,
				r.URL.Path,
				status,
				time.Since(start),
				ww.BytesWritten(),
				r.RemoteAddr,
				r.UserAgent(),
			)
		})
	}
}
