package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mfc-control/internal/controller"
	"github.com/nerrad567/mfc-control/internal/device"
)

// Setpoint units accepted by PUT /devices/{name}/setpoint.
const (
	unitsReal   = "real"
	unitsNative = "native"
)

// SetpointRequest is the body of PUT /devices/{name}/setpoint.
type SetpointRequest struct {
	Value *float64 `json:"value"`
	Units string   `json:"units,omitempty"`
}

// WinkRequest is the optional body of POST /devices/{name}/wink.
type WinkRequest struct {
	Mode string `json:"mode"`
}

// DeviceDetail is a single device with live readings.
type DeviceDetail struct {
	device.Info
	FlowNative     *float64 `json:"flow_native,omitempty"`
	FlowReal       *float64 `json:"flow_real,omitempty"`
	SetpointNative *float64 `json:"setpoint_native,omitempty"`
	SetpointReal   *float64 `json:"setpoint_real,omitempty"`
	Capacity       *float64 `json:"capacity,omitempty"`
	Tag            string   `json:"tag,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// handleListDevices returns every registered device with its current flow.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// handleGetDevice returns one device. Connected devices are read; a failed
// read is reported in errors without failing the request.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.ctrl.Device(chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	detail := DeviceDetail{Info: d.Info()}
	if detail.Connected {
		read := func(f func() (float64, error)) *float64 {
			v, err := f()
			if err != nil {
				detail.Errors = append(detail.Errors, err.Error())
				return nil
			}
			return &v
		}
		detail.FlowNative = read(d.ReadNativeFlow)
		detail.FlowReal = read(d.ReadRealFlow)
		detail.Capacity = read(d.ReadCapacity)
		if m, ok := d.(*device.MFC); ok {
			detail.SetpointNative = read(m.ReadNativeSetpoint)
			detail.SetpointReal = read(m.ReadRealSetpoint)
		}
		if tag, err := d.ReadDeviceTag(); err == nil {
			detail.Tag = tag
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleSetSetpoint commands a controller's flow in real (default) or
// native units.
func (s *Server) handleSetSetpoint(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m, ok := s.lookupMFC(w, name)
	if !ok {
		return
	}

	var req SetpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	units := strings.ToLower(req.Units)
	switch units {
	case "", unitsReal:
		units = unitsReal
		if err := m.SetRealFlow(*req.Value); err != nil {
			writeDomainError(w, err)
			return
		}
	case unitsNative:
		if err := m.SetNativeFlow(*req.Value); err != nil {
			writeDomainError(w, err)
			return
		}
	default:
		writeBadRequest(w, fmt.Sprintf("units must be %q or %q", unitsReal, unitsNative))
		return
	}

	s.recordDevice(r, "set_flow", name, map[string]any{"value": *req.Value, "units": units})
	writeJSON(w, http.StatusOK, map[string]any{
		"device":        name,
		"value":         *req.Value,
		"units":         units,
		"last_setpoint": m.LastSetpoint(),
	})
}

// handleCloseDevice commands zero flow on one controller.
func (s *Server) handleCloseDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m, ok := s.lookupMFC(w, name)
	if !ok {
		return
	}
	if err := m.Close(); err != nil {
		writeDomainError(w, err)
		return
	}
	s.recordDevice(r, "close", name, nil)
	writeJSON(w, http.StatusOK, map[string]any{"device": name, "closed": true})
}

// handleWinkDevice blinks a device's LED. The body is optional.
func (s *Server) handleWinkDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d, err := s.ctrl.Device(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req WinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	mode, err := device.ParseWinkMode(req.Mode)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := d.Wink(mode); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": name, "mode": string(mode)})
}

// handleWinkAll blinks every connected device, e.g. to locate a bench.
func (s *Server) handleWinkAll(w http.ResponseWriter, r *http.Request) {
	var req WinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	mode, err := device.ParseWinkMode(req.Mode)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	failures := s.ctrl.WinkAll(mode)
	writeJSON(w, http.StatusOK, map[string]any{"mode": string(mode), "failures": nonNil(failures)})
}

// handleConnectAll retries every device that is not connected yet.
func (s *Server) handleConnectAll(w http.ResponseWriter, r *http.Request) {
	failures := s.ctrl.ConnectAll()
	s.recordDevice(r, "connect", "*", map[string]any{"failures": len(failures)})
	writeJSON(w, http.StatusOK, map[string]any{"failures": nonNil(failures)})
}

// handleRemoveDevice unregisters a device. Controllers are closed first.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d, err := s.ctrl.Device(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if d.Kind() == device.KindController {
		err = s.ctrl.RemoveMFC(name)
	} else {
		err = s.ctrl.RemoveMeter(name)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.recordDevice(r, "remove", name, map[string]any{"kind": string(d.Kind())})
	w.WriteHeader(http.StatusNoContent)
}

// handleFlows reads every connected device's real flow.
func (s *Server) handleFlows(w http.ResponseWriter, _ *http.Request) {
	flows, failures := s.ctrl.ReadAllFlows()
	writeJSON(w, http.StatusOK, map[string]any{
		"flows":    flows,
		"failures": nonNil(failures),
	})
}

// handleDeviations checks every connected controller against a threshold.
//
// Query parameters:
//   - threshold: native-unit tolerance (default from safety config)
func (s *Server) handleDeviations(w http.ResponseWriter, r *http.Request) {
	threshold := s.thresholds.DeviationThreshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 {
			writeBadRequest(w, "threshold must be a non-negative number")
			return
		}
		threshold = t
	}

	results, failures := s.ctrl.CheckAllDeviations(threshold)
	writeJSON(w, http.StatusOK, map[string]any{
		"threshold":  threshold,
		"deviations": results,
		"failures":   nonNil(failures),
	})
}

// lookupMFC resolves a controller, writing 404 for unknown names and 400
// for meters.
func (s *Server) lookupMFC(w http.ResponseWriter, name string) (*device.MFC, bool) {
	m, err := s.ctrl.MFC(name)
	if err == nil {
		return m, true
	}
	if _, merr := s.ctrl.Meter(name); merr == nil {
		writeBadRequest(w, fmt.Sprintf("%s is a meter and has no setpoint", name))
		return nil, false
	}
	writeDomainError(w, err)
	return nil, false
}

func (s *Server) recordDevice(r *http.Request, action, name string, details map[string]any) {
	if s.recorder == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["request_id"] = requestID(r)
	if err := s.recorder.RecordDeviceEvent(r.Context(), action, name, details); err != nil {
		s.logger.Warn("failed to record device command", "device", name, "error", err)
	}
}

func nonNil(failures []controller.DeviceError) []controller.DeviceError {
	if failures == nil {
		return []controller.DeviceError{}
	}
	return failures
}
