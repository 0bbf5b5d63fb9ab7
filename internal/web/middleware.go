package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// instrument logs each request and records it on the metrics manager,
// labelled by route pattern so path parameters do not explode cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		duration := time.Since(start)

		s.metrics.HTTPRequest(endpoint, r.Method, strconv.Itoa(status), float64(duration.Milliseconds()))

		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"endpoint":    endpoint,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("Request served")
	})
}
