package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.withRequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/phys", func(r chi.Router) {
			r.Get("/", s.handleListPhys)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPhy)
				r.Put("/properties/{name}", s.handleSetPhyProperty)
			})
		})

		r.Route("/interfaces", func(r chi.Router) {
			r.Get("/", s.handleListInterfaces)
			r.Get("/{id}", s.handleGetInterface)
		})

		r.Get("/history", s.handleRecentHistory)
		r.Get("/history/{kind}/{id}", s.handleGetHistory)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports engine state and the result of every health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	status := "ok"
	httpStatus := http.StatusOK
	body := map[string]any{"version": s.version}

	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		status = "unavailable"
		httpStatus = http.StatusServiceUnavailable
		body["engine"] = err.Error()
	} else {
		body["discovered"] = snap.Discovered
		body["phys"] = len(snap.Phys)
		body["interfaces"] = len(snap.Interfaces)
		body["in_flight"] = snap.InFlight
	}

	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			if status == "ok" {
				status = "degraded"
			}
			continue
		}
		components[name] = "ok"
	}
	body["components"] = components
	body["status"] = status

	writeJSON(w, httpStatus, body)
}
