package safety

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mfc-control/internal/controller"
)

// Defaults for the purge sequence.
const (
	DefaultPurgeDevice        = "Air"
	DefaultPurgeFlow          = 30.0
	DefaultPurgeDuration      = 10 * time.Second
	DefaultZeroThreshold      = 0.01
	DefaultDeviationThreshold = 0.05
)

// Logger defines the logging interface used by the safety manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder persists safety events, e.g. to the audit log.
type Recorder interface {
	RecordSafetyEvent(ctx context.Context, action string, details map[string]any) error
}

// Observer is told about safety actions, e.g. to count them.
type Observer interface {
	EmergencyStopped()
	PurgeFinished(outcome string)
}

// Safety event actions passed to the Recorder.
const (
	ActionEmergencyStop = "emergency_stop"
	ActionPurge         = "purge"
	ActionShutdown      = "safe_shutdown"
)

// Config holds the purge parameters.
type Config struct {
	// PurgeDevice is the controller carrying the purge medium.
	PurgeDevice string

	// PurgeFlow is the purge setpoint in native units. It bypasses the
	// calibration because it is defined in device terms.
	PurgeFlow float64

	// PurgeDuration is how long the purge medium flows.
	PurgeDuration time.Duration

	// PurgeOnShutdown makes SafeShutdown purge before disconnecting.
	PurgeOnShutdown bool
}

// DefaultConfig returns the lab defaults: Air at 30 native units for 10s.
func DefaultConfig() Config {
	return Config{
		PurgeDevice:     DefaultPurgeDevice,
		PurgeFlow:       DefaultPurgeFlow,
		PurgeDuration:   DefaultPurgeDuration,
		PurgeOnShutdown: true,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	var errs []error
	if c.PurgeDevice == "" {
		errs = append(errs, fmt.Errorf("%w: purge device is required", ErrInvalidConfig))
	}
	if c.PurgeFlow <= 0 || math.IsNaN(c.PurgeFlow) {
		errs = append(errs, fmt.Errorf("%w: purge flow must be positive", ErrInvalidConfig))
	}
	if c.PurgeDuration < 0 {
		errs = append(errs, fmt.Errorf("%w: purge duration cannot be negative", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// Manager sequences emergency stops and purges for one Controller.
//
// EmergencyStop may be called at any time, including during a purge, and
// interrupts a purge that is dwelling. Only one purge runs at a time.
type Manager struct {
	ctrl *controller.Controller
	cfg  Config

	logger   Logger
	recorder Recorder
	observer Observer

	busy  atomic.Bool
	phase atomic.Int32

	mu          sync.Mutex
	cancelDwell context.CancelFunc
	lastReport  *PurgeReport
}

// NewManager binds a manager to ctrl.
func NewManager(ctrl *controller.Controller, cfg Config) *Manager {
	return &Manager{
		ctrl:   ctrl,
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) { m.logger = logger }

// SetRecorder sets where safety events are recorded.
func (m *Manager) SetRecorder(r Recorder) { m.recorder = r }

// SetObserver sets the observer notified of safety actions.
func (m *Manager) SetObserver(o Observer) { m.observer = o }

// Config returns the manager's settings.
func (m *Manager) Config() Config { return m.cfg }

// Phase returns the phase of the running purge, or PhaseIdle.
func (m *Manager) Phase() Phase { return Phase(m.phase.Load()) }

// Busy reports whether a purge is running.
func (m *Manager) Busy() bool { return m.busy.Load() }

// LastReport returns the most recent purge report, or nil.
func (m *Manager) LastReport() *PurgeReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}

// EmergencyStop closes every valve immediately and interrupts a dwelling
// purge. Per-device failures are logged and returned; the stop itself never
// fails.
func (m *Manager) EmergencyStop(ctx context.Context) []controller.DeviceError {
	m.mu.Lock()
	if m.cancelDwell != nil {
		m.cancelDwell()
	}
	m.mu.Unlock()

	failures := m.closeEverything()
	m.record(ctx, ActionEmergencyStop, map[string]any{
		"failures": deviceNames(failures),
	})
	return failures
}

// closeEverything is the emergency path shared by EmergencyStop and the
// purge fallbacks.
func (m *Manager) closeEverything() []controller.DeviceError {
	m.logger.Error("EMERGENCY STOP ACTIVATED", "severity", "critical")
	failures := m.ctrl.CloseAll()
	m.logger.Error("all valves closed", "severity", "critical", "failures", len(failures))
	if m.observer != nil {
		m.observer.EmergencyStopped()
	}
	return failures
}

// Purge closes every fuel controller, flows the purge medium at the purge
// setpoint for the configured duration, then closes it.
//
// mediumOverride selects another purge device for this call. If the medium
// is not registered or its setpoint write fails, Purge falls back to an
// emergency stop and reports it in the returned report with a nil error.
// Cancelling ctx or an EmergencyStop during the dwell aborts into the
// emergency path and returns ErrPurgeAborted. A concurrent call returns
// ErrPurgeInProgress without touching any device.
func (m *Manager) Purge(ctx context.Context, mediumOverride string) (*PurgeReport, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return nil, ErrPurgeInProgress
	}
	defer m.busy.Store(false)

	medium := m.cfg.PurgeDevice
	if mediumOverride != "" {
		medium = mediumOverride
	}
	report := &PurgeReport{
		Medium:    medium,
		PurgeFlow: m.cfg.PurgeFlow,
		Dwell:     m.cfg.PurgeDuration,
		StartedAt: time.Now(),
	}
	m.logger.Warn("starting purge sequence", "medium", medium, "flow", m.cfg.PurgeFlow, "duration", m.cfg.PurgeDuration)

	err := m.runPurge(ctx, medium, report)

	m.setPhase(report, PhaseIdle)
	report.FinishedAt = time.Now()
	if report.Reason != nil {
		report.ReasonMessage = report.Reason.Error()
	}

	m.mu.Lock()
	m.lastReport = report
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.PurgeFinished(report.Outcome)
	}
	m.record(context.WithoutCancel(ctx), ActionPurge, map[string]any{
		"medium":   medium,
		"outcome":  report.Outcome,
		"reason":   report.ReasonMessage,
		"phases":   phaseNames(report.Phases()),
		"failures": deviceNames(report.Failures),
	})
	m.logger.Warn("purge sequence finished", "outcome", report.Outcome)
	return report, err
}

func (m *Manager) runPurge(ctx context.Context, medium string, report *PurgeReport) error {
	// Closing fuel: every controller except the medium.
	m.setPhase(report, PhaseClosingFuel)
	for _, mfc := range m.ctrl.MFCs() {
		if mfc.Name() == medium || !mfc.Connected() {
			continue
		}
		if err := mfc.Close(); err != nil {
			m.logger.Error("failed to close fuel valve", "device", mfc.Name(), "error", err)
			report.Failures = append(report.Failures, controller.DeviceError{
				Device: mfc.Name(), Operation: controller.OpClose, Err: err,
			})
			continue
		}
		m.logger.Info("fuel valve closed", "device", mfc.Name())
	}

	// Purging: medium to full purge flow in native units.
	m.setPhase(report, PhasePurgingAir)
	air, err := m.ctrl.MFC(medium)
	if err != nil {
		m.logger.Error("purge medium not found, cannot purge", "severity", "critical", "medium", medium)
		m.emergency(report, fmt.Errorf("%w: %w", ErrMediumMissing, err))
		return nil
	}
	if err := air.SetNativeFlow(m.cfg.PurgeFlow); err != nil {
		m.logger.Error("failed to start purge flow", "severity", "critical", "medium", medium, "error", err)
		report.Failures = append(report.Failures, controller.DeviceError{
			Device: medium, Operation: "purge", Err: err,
		})
		m.emergency(report, err)
		return nil
	}
	m.logger.Info("purge flow started", "medium", medium, "native", m.cfg.PurgeFlow)

	if err := m.dwell(ctx); err != nil {
		m.logger.Error("purge interrupted during dwell", "severity", "critical", "error", err)
		m.emergency(report, fmt.Errorf("%w: %w", ErrPurgeAborted, err))
		report.Outcome = OutcomeAborted
		return report.Reason
	}

	// Closing the medium. Failures are logged, not escalated.
	m.setPhase(report, PhaseClosingAir)
	if err := air.Close(); err != nil {
		m.logger.Error("failed to close purge valve", "medium", medium, "error", err)
		report.Failures = append(report.Failures, controller.DeviceError{
			Device: medium, Operation: controller.OpClose, Err: err,
		})
	}
	report.Outcome = OutcomeCompleted
	return nil
}

// dwell waits for the purge duration, returning early with an error if ctx
// is cancelled or an emergency stop interrupts it.
func (m *Manager) dwell(ctx context.Context) error {
	dctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancelDwell = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.cancelDwell = nil
		m.mu.Unlock()
		cancel()
	}()

	m.logger.Info("purging", "duration", m.cfg.PurgeDuration)
	timer := time.NewTimer(m.cfg.PurgeDuration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-dctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New("emergency stop requested")
	}
}

func (m *Manager) emergency(report *PurgeReport, reason error) {
	m.setPhase(report, PhaseEmergencyClose)
	report.Reason = reason
	report.Outcome = OutcomeEmergency
	report.Failures = append(report.Failures, m.closeEverything()...)
}

func (m *Manager) setPhase(report *PurgeReport, p Phase) {
	m.phase.Store(int32(p))
	report.enter(p)
}

// ZeroCheck is the result of CheckAllFlowsZero.
type ZeroCheck struct {
	AllZero   bool                     `json:"all_zero"`
	Threshold float64                  `json:"threshold"`
	Flows     map[string]float64       `json:"flows"`
	Failures  []controller.DeviceError `json:"failures,omitempty"`
}

// CheckAllFlowsZero reads every connected controller's native flow and
// reports whether all are within threshold of zero. A failed read counts as
// not zero. It only reports; it never commands a device.
func (m *Manager) CheckAllFlowsZero(threshold float64) ZeroCheck {
	res := ZeroCheck{AllZero: true, Threshold: threshold, Flows: make(map[string]float64)}
	for _, mfc := range m.ctrl.MFCs() {
		if !mfc.Connected() {
			continue
		}
		flow, err := mfc.ReadNativeFlow()
		if err != nil {
			m.logger.Error("failed to read flow", "device", mfc.Name(), "error", err)
			res.Failures = append(res.Failures, controller.DeviceError{
				Device: mfc.Name(), Operation: controller.OpReadFlow, Err: err,
			})
			res.AllZero = false
			continue
		}
		res.Flows[mfc.Name()] = flow
		if math.Abs(flow) > threshold {
			m.logger.Warn("flow is not zero", "device", mfc.Name(), "flow", flow, "threshold", threshold)
			res.AllZero = false
		}
	}
	return res
}

// SafeShutdown brings the bench to a safe state and detaches every device:
// a purge when PurgeOnShutdown is set (an emergency stop if a purge is
// already running), then DisconnectAll, which closes every valve again.
func (m *Manager) SafeShutdown(ctx context.Context) (*PurgeReport, []controller.DeviceError) {
	m.logger.Info("starting safe shutdown")

	var report *PurgeReport
	if m.cfg.PurgeOnShutdown {
		r, err := m.Purge(ctx, "")
		switch {
		case errors.Is(err, ErrPurgeInProgress):
			m.EmergencyStop(ctx)
		case err != nil:
			m.logger.Warn("purge during shutdown did not complete", "error", err)
		}
		report = r
	}

	failures := m.ctrl.DisconnectAll()
	m.record(context.WithoutCancel(ctx), ActionShutdown, map[string]any{
		"purged":   report != nil,
		"failures": deviceNames(failures),
	})
	m.logger.Info("safe shutdown complete", "failures", len(failures))
	return report, failures
}

func (m *Manager) record(ctx context.Context, action string, details map[string]any) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordSafetyEvent(ctx, action, details); err != nil {
		m.logger.Warn("failed to record safety event", "action", action, "error", err)
	}
}

func deviceNames(failures []controller.DeviceError) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.Device)
	}
	return out
}

func phaseNames(phases []Phase) []string {
	out := make([]string, len(phases))
	for i, p := range phases {
		out[i] = p.String()
	}
	return out
}
