package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// mountMetrics exposes the Prometheus endpoint. Collector registration
// happens once in main, not here, so test routers stay side-effect free.
func (s *Server) mountMetrics(r chi.Router) {
	r.Method("GET", "/metrics", promhttp.Handler())
}
