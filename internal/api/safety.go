package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nerrad567/mfc-control/internal/safety"
)

// PurgeRequest is the optional body of POST /safety/purge.
type PurgeRequest struct {
	// Medium overrides the configured purge device.
	Medium string `json:"medium,omitempty"`

	// Wait runs the purge inside the request and returns its report.
	// Cancelling the request then aborts the purge into an emergency stop.
	Wait bool `json:"wait,omitempty"`
}

// handleEmergencyStop closes every valve. It never fails as a whole;
// per-device failures are listed in the response.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	// A client hanging up must not cut the audit write short.
	ctx := context.WithoutCancel(r.Context())
	failures := s.safety.EmergencyStop(ctx)
	s.hub.Broadcast(ChannelSafety, map[string]any{
		"action":     safety.ActionEmergencyStop,
		"failures":   nonNil(failures),
		"request_id": requestID(r),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped":  true,
		"failures": nonNil(failures),
	})
}

// handlePurge starts a purge. By default it runs in the background and the
// response is 202; with "wait": true the report is returned when done.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Wait {
		report, err := s.safety.Purge(r.Context(), req.Medium)
		if errors.Is(err, safety.ErrPurgeInProgress) {
			writeDomainError(w, err)
			return
		}
		s.broadcastPurge(report)
		writeJSON(w, http.StatusOK, report)
		return
	}

	if s.safety.Busy() {
		writeDomainError(w, safety.ErrPurgeInProgress)
		return
	}
	go func() {
		report, err := s.safety.Purge(s.bgCtx, req.Medium)
		if err != nil {
			s.logger.Warn("background purge did not complete", "error", err)
		}
		s.broadcastPurge(report)
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"started": true,
		"medium":  mediumOr(req.Medium, s.safety.Config().PurgeDevice),
	})
}

// handlePurgeStatus reports the current phase and the last finished purge.
func (s *Server) handlePurgeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"phase":       s.safety.Phase().String(),
		"busy":        s.safety.Busy(),
		"last_report": s.safety.LastReport(),
	})
}

// handleZeroCheck reports whether every connected controller reads zero.
//
// Query parameters:
//   - threshold: native-unit tolerance (default from safety config)
func (s *Server) handleZeroCheck(w http.ResponseWriter, r *http.Request) {
	threshold := s.thresholds.ZeroThreshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 {
			writeBadRequest(w, "threshold must be a non-negative number")
			return
		}
		threshold = t
	}
	writeJSON(w, http.StatusOK, s.safety.CheckAllFlowsZero(threshold))
}

func (s *Server) broadcastPurge(report *safety.PurgeReport) {
	if report == nil {
		return
	}
	s.hub.Broadcast(ChannelSafety, map[string]any{
		"action": safety.ActionPurge,
		"report": report,
	})
}

func mediumOr(medium, fallback string) string {
	if medium != "" {
		return medium
	}
	return fallback
}
