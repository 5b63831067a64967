package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ComUnity/voiceid-service/internal/util/logger"
)

// RequestObserver receives one sample per finished request.
type RequestObserver func(method, route string, status int, d time.Duration)

// RequestLog writes one structured access line per request and feeds observe.
// Query strings are never logged because callback URLs carry tokens.
func RequestLog(observe RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := routePattern(r)

			logger.Infow("request",
				"method", r.Method,
				"route", route,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"latency_ms", elapsed.Milliseconds(),
				"ip", ClientIP(r),
				"request_id", chimw.GetReqID(r.Context()),
			)
			if observe != nil {
				observe(r.Method, route, status, elapsed)
			}
		})
	}
}

// routePattern keeps metric cardinality bounded by labelling with the matched
// chi pattern rather than the raw path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
