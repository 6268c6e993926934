package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/connect", s.handleConnectAll)
			r.Post("/wink-all", s.handleWinkAll)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleRemoveDevice)
				r.Put("/setpoint", s.handleSetSetpoint)
				r.Post("/close", s.handleCloseDevice)
				r.Post("/wink", s.handleWinkDevice)
			})
		})

		r.Get("/flows", s.handleFlows)
		r.Get("/deviations", s.handleDeviations)
		r.Get("/telemetry/latest", s.handleLatestSample)

		r.Route("/safety", func(r chi.Router) {
			r.Post("/emergency-stop", s.handleEmergencyStop)
			r.Post("/purge", s.handlePurge)
			r.Get("/purge", s.handlePurgeStatus)
			r.Get("/zero", s.handleZeroCheck)
		})

		r.Route("/calibrations", func(r chi.Router) {
			r.Get("/", s.handleListCalibrations)
			r.Get("/{gas}", s.handleGetCalibration)
			r.Put("/{gas}", s.handlePutCalibration)
			r.Delete("/{gas}", s.handleDeleteCalibration)
		})

		r.Get("/audit", s.handleListAuditLogs)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health and a registry summary without
// touching the instruments.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected, total := 0, 0
	for _, d := range s.ctrl.Devices() {
		total++
		if d.Connected() {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
		"devices_connected": connected,
		"devices_total":     total,
		"controllers":       s.ctrl.MFCNames(),
		"meters":            s.ctrl.MeterNames(),
		"safety_phase":      s.safety.Phase().String(),
		"ws_clients":        s.hub.ClientCount(),
	})
}

// handleLatestSample returns the sampler's most recent snapshot.
func (s *Server) handleLatestSample(w http.ResponseWriter, _ *http.Request) {
	if s.sampler == nil {
		writeUnavailable(w, "telemetry sampler not running")
		return
	}
	sample, ok := s.sampler.Latest()
	if !ok {
		writeNotFound(w, "no sample taken yet")
		return
	}
	writeJSON(w, http.StatusOK, sample)
}
