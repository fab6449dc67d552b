package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter assembles the fixed route table.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, msgNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/control", http.StatusFound)
	})
	r.Get("/control", s.servePage("control.html"))
	r.Get("/config", s.servePage("config.html"))
	r.Get("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		// The configuration UI runs on a protected LAN; these two
		// routes are the only /api ones outside the token gate.
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handlePostConfig)

		r.Group(func(r chi.Router) {
			r.Use(s.tokenMiddleware)

			r.Get("/status", s.handleStatus)
			r.Get("/audit", s.handleAudit)

			r.Route("/cmd", func(r chi.Router) {
				r.Get("/light", s.handleLight)
				r.Get("/shutter", s.handleShutter)
				r.Get("/thermostat", s.handleThermostat)
				r.Get("/poll", s.handlePoll)
				r.Get("/apply-inputs", s.handleApplyInputs)
				r.Get("/program-address", s.handleProgramAddress)
			})
		})
	})

	return r
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": s.version,
	})
}
