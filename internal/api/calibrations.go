package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mfc-control/internal/calibration"
)

// CalibrationRequest is the body of PUT /calibrations/{gas}. Device and
// real values are paired by index.
type CalibrationRequest struct {
	Device []float64 `json:"device"`
	Real   []float64 `json:"real"`
}

// CalibrationView is one entry of GET /calibrations.
type CalibrationView struct {
	Gas    string              `json:"gas"`
	Points []calibration.Point `json:"points"`
	Stored bool                `json:"stored"`
}

// handleListCalibrations returns the active calibration table, marking the
// gases that come from the store.
func (s *Server) handleListCalibrations(w http.ResponseWriter, r *http.Request) {
	stored := map[string]bool{}
	if s.calibrations != nil {
		recs, err := s.calibrations.List(r.Context())
		if err != nil {
			s.logger.Error("failed to list stored calibrations", "error", err)
			writeInternalError(w, "failed to list calibrations")
			return
		}
		for _, rec := range recs {
			stored[rec.Gas] = true
		}
	}

	table := s.ctrl.Calibrations()
	gases := table.Gases()

	out := make([]CalibrationView, 0, len(gases))
	for _, gas := range gases {
		cal, err := table.Get(gas)
		if err != nil {
			continue
		}
		out = append(out, CalibrationView{Gas: cal.Gas(), Points: cal.Points(), Stored: stored[cal.Gas()]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"calibrations": out, "count": len(out)})
}

// handlePutCalibration validates, stores and activates a calibration.
// Controllers registered before the change keep their calibration.
func (s *Server) handlePutCalibration(w http.ResponseWriter, r *http.Request) {
	gas := chi.URLParam(r, "gas")

	var (
		cal *calibration.Calibration
		err error
	)
	if isCSV(r.Header.Get("Content-Type")) {
		cal, err = calibration.ReadCSV(gas, r.Body)
	} else {
		var req CalibrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		cal, err = calibration.New(gas, req.Device, req.Real)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if s.calibrations != nil {
		if err := s.calibrations.Save(r.Context(), cal, SourceAPI); err != nil {
			s.logger.Error("failed to save calibration", "gas", gas, "error", err)
			writeInternalError(w, "failed to save calibration")
			return
		}
	}
	if err := s.ctrl.RegisterCalibration(cal); err != nil {
		writeDomainError(w, err)
		return
	}

	if s.recorder != nil {
		if err := s.recorder.RecordCalibrationEvent(r.Context(), "update", gas, map[string]any{
			"points":     cal.Len(),
			"persisted":  s.calibrations != nil,
			"request_id": requestID(r),
		}); err != nil {
			s.logger.Warn("failed to record calibration change", "gas", gas, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, CalibrationView{Gas: cal.Gas(), Points: cal.Points(), Stored: s.calibrations != nil})
}

// handleGetCalibration returns one active calibration as JSON, or as a
// device_value,real_value table when the client accepts text/csv.
func (s *Server) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	cal, err := s.ctrl.Calibrations().Get(chi.URLParam(r, "gas"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), csvMediaType) {
		w.Header().Set("Content-Type", csvMediaType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+cal.Gas()+`.csv"`)
		if err := calibration.WriteCSV(w, cal); err != nil {
			s.logger.Warn("failed to write calibration csv", "gas", cal.Gas(), "error", err)
		}
		return
	}

	stored := false
	if s.calibrations != nil {
		_, err := s.calibrations.Get(r.Context(), cal.Gas())
		stored = err == nil
	}
	writeJSON(w, http.StatusOK, CalibrationView{Gas: cal.Gas(), Points: cal.Points(), Stored: stored})
}

// handleDeleteCalibration removes a stored calibration. The gas falls back
// to its built-in default when there is one and is dropped otherwise.
func (s *Server) handleDeleteCalibration(w http.ResponseWriter, r *http.Request) {
	gas := chi.URLParam(r, "gas")
	if s.calibrations == nil {
		writeUnavailable(w, "calibration store not configured")
		return
	}

	if err := s.calibrations.Delete(r.Context(), gas); err != nil {
		if errors.Is(err, calibration.ErrNotFound) {
			writeDomainError(w, err)
			return
		}
		s.logger.Error("failed to delete calibration", "gas", gas, "error", err)
		writeInternalError(w, "failed to delete calibration")
		return
	}

	reverted := false
	if def := calibration.Defaults().Lookup(gas); def != nil {
		if err := s.ctrl.RegisterCalibration(def); err != nil {
			writeDomainError(w, err)
			return
		}
		reverted = true
	} else {
		s.ctrl.Calibrations().Delete(gas)
	}

	if s.recorder != nil {
		if err := s.recorder.RecordCalibrationEvent(r.Context(), "delete", gas, map[string]any{
			"reverted_to_default": reverted,
			"request_id":          requestID(r),
		}); err != nil {
			s.logger.Warn("failed to record calibration change", "gas", gas, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"gas": gas, "reverted_to_default": reverted})
}

const csvMediaType = "text/csv"

func isCSV(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == csvMediaType
}
