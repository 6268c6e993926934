package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mfc-control/internal/controller"
	"github.com/nerrad567/mfc-control/internal/device"
	"github.com/nerrad567/mfc-control/internal/infrastructure/mqtt"
	"github.com/nerrad567/mfc-control/internal/safety"
	"github.com/nerrad567/mfc-control/internal/telemetry"
)

// SourceMQTT tags audit records written by the bridge.
const SourceMQTT = "mqtt"

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the subset of *mqtt.Client the bridge needs.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	PublishJSON(topic string, v any, retained bool) error
	Topics() mqtt.Topics
}

// DeviceRecorder writes device commands to the audit trail.
type DeviceRecorder interface {
	RecordDeviceEvent(ctx context.Context, action, device string, details map[string]any) error
}

// Options configures a Bridge.
type Options struct {
	MQTT       MQTTClient
	Controller *controller.Controller
	Safety     *safety.Manager

	// Recorder is optional.
	Recorder DeviceRecorder
	Logger   Logger

	// QoS for subscriptions. Defaults to 1.
	QoS byte
}

// Bridge routes MQTT commands to the controller and safety manager.
//
// Thread Safety: handlers may run concurrently; device I/O is serialised by
// the devices themselves.
type Bridge struct {
	mqtt     MQTTClient
	ctrl     *controller.Controller
	safety   *safety.Manager
	recorder DeviceRecorder
	logger   Logger
	topics   mqtt.Topics
	qos      byte
	now      func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a bridge. Call Start to subscribe.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.Safety == nil {
		return nil, fmt.Errorf("safety manager is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:     opts.MQTT,
		ctrl:     opts.Controller,
		safety:   opts.Safety,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		topics:   opts.MQTT.Topics(),
		qos:      opts.QoS,
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	if b.qos == 0 {
		b.qos = 1
	}
	return b, nil
}

// Start subscribes to the command and safety topics.
func (b *Bridge) Start() error {
	if err := b.mqtt.Subscribe(b.topics.AllDeviceCommands(), b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	if err := b.mqtt.Subscribe(b.topics.AllSafety(), b.qos, b.handleSafety); err != nil {
		return fmt.Errorf("subscribe to safety: %w", err)
	}
	b.logger.Info("mqtt bridge started",
		"commands", b.topics.AllDeviceCommands(),
		"safety", b.topics.AllSafety())
	return nil
}

// Stop cancels background purges and waits for them to finish. A cancelled
// purge ends in an emergency stop.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cancel()
		b.wg.Wait()
		b.logger.Info("mqtt bridge stopped")
	})
}

// ===== Device commands =====

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	name := mqtt.LastSegment(topic)

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("malformed command", "device", name, "error", err)
		b.publishAck(Ack{CommandID: uuid.NewString(), Device: name, Status: AckFailed,
			Error: fmt.Sprintf("invalid JSON: %v", err)})
		return nil
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logger.Info("received command", "command_id", cmd.ID, "device", name, "command", cmd.Command)

	ack := Ack{CommandID: cmd.ID, Device: name, Command: cmd.Command, Status: AckAccepted}
	if err := b.execute(name, cmd); err != nil {
		ack.Status = AckFailed
		ack.Error = err.Error()
		b.logger.Warn("command failed", "command_id", cmd.ID, "device", name, "error", err)
	} else {
		b.recordCommand(name, cmd)
	}
	b.publishAck(ack)
	return nil
}

func (b *Bridge) execute(name string, cmd Command) error {
	switch cmd.Command {
	case CommandSetFlow, CommandSetNativeFlow:
		if cmd.Value == nil {
			return ErrMissingValue
		}
		m, err := b.mfc(name)
		if err != nil {
			return err
		}
		native := cmd.Command == CommandSetNativeFlow || strings.EqualFold(cmd.Units, UnitsNative)
		if native {
			return m.SetNativeFlow(*cmd.Value)
		}
		return m.SetRealFlow(*cmd.Value)

	case CommandClose:
		m, err := b.mfc(name)
		if err != nil {
			return err
		}
		return m.Close()

	case CommandWink:
		mode, err := device.ParseWinkMode(cmd.Mode)
		if err != nil {
			return err
		}
		d, err := b.ctrl.Device(name)
		if err != nil {
			return err
		}
		return d.Wink(mode)
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
}

func (b *Bridge) mfc(name string) (*device.MFC, error) {
	m, err := b.ctrl.MFC(name)
	if err == nil {
		return m, nil
	}
	if _, merr := b.ctrl.Meter(name); merr == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotController, name)
	}
	return nil, err
}

func (b *Bridge) publishAck(ack Ack) {
	ack.Timestamp = b.now()
	if err := b.mqtt.PublishJSON(b.topics.DeviceAck(ack.Device), ack, false); err != nil {
		b.logger.Error("failed to publish ack", "device", ack.Device, "error", err)
	}
}

func (b *Bridge) recordCommand(name string, cmd Command) {
	if b.recorder == nil {
		return
	}
	details := map[string]any{"command_id": cmd.ID, "source": SourceMQTT}
	if cmd.Value != nil {
		details["value"] = *cmd.Value
	}
	if cmd.Units != "" {
		details["units"] = cmd.Units
	}
	if cmd.Source != "" {
		details["requested_by"] = cmd.Source
	}
	if err := b.recorder.RecordDeviceEvent(b.ctx, cmd.Command, name, details); err != nil {
		b.logger.Warn("failed to record command", "device", name, "error", err)
	}
}

// ===== Safety requests =====

func (b *Bridge) handleSafety(topic string, payload []byte) error {
	action := mqtt.LastSegment(topic)

	var req SafetyRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			// A malformed body must not block a stop.
			b.logger.Warn("malformed safety request", "action", action, "error", err)
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	b.logger.Warn("safety request received", "action", action, "request_id", req.ID)

	switch action {
	case ActionEmergencyStop:
		failures := b.safety.EmergencyStop(b.ctx)
		b.publishEvent(Event{RequestID: req.ID, Action: action, Status: statusFor(failures), Failures: failures})

	case ActionCloseAll:
		failures := b.ctrl.CloseAll()
		b.publishEvent(Event{RequestID: req.ID, Action: action, Status: statusFor(failures), Failures: failures})

	case ActionPurge:
		b.startPurge(req)

	default:
		b.publishEvent(Event{RequestID: req.ID, Action: action, Status: EventRejected,
			Error: fmt.Sprintf("%v: %q", ErrUnknownAction, action)})
	}
	return nil
}

func (b *Bridge) startPurge(req SafetyRequest) {
	if b.safety.Busy() {
		b.publishEvent(Event{RequestID: req.ID, Action: ActionPurge, Status: EventRejected,
			Error: safety.ErrPurgeInProgress.Error()})
		return
	}

	b.publishEvent(Event{RequestID: req.ID, Action: ActionPurge, Status: EventStarted})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		report, err := b.safety.Purge(b.ctx, req.Medium)
		ev := Event{RequestID: req.ID, Action: ActionPurge, Status: EventCompleted, Report: report}
		switch {
		case errors.Is(err, safety.ErrPurgeInProgress):
			// Lost the race with another request between Busy and Purge.
			ev.Status = EventRejected
			ev.Error = err.Error()
		case err != nil || (report != nil && report.EmergencyStopped()):
			ev.Status = EventFailed
			if err != nil {
				ev.Error = err.Error()
			} else if report.ReasonMessage != "" {
				ev.Error = report.ReasonMessage
			}
		}
		b.publishEvent(ev)
	}()
}

func statusFor(failures []controller.DeviceError) string {
	if len(failures) > 0 {
		return EventFailed
	}
	return EventCompleted
}

func (b *Bridge) publishEvent(ev Event) {
	ev.Timestamp = b.now()
	if err := b.mqtt.PublishJSON(b.topics.Event(ev.Action), ev, false); err != nil {
		b.logger.Error("failed to publish safety event", "action", ev.Action, "error", err)
	}
}

// ===== State publishing =====

// HandleSample implements telemetry.Sink by publishing each reading as
// retained device state.
func (b *Bridge) HandleSample(_ context.Context, s telemetry.Sample) error {
	var errs []error
	for _, r := range s.Readings {
		msg := StateMessage{Reading: r, Timestamp: s.Time}
		if err := b.mqtt.PublishJSON(b.topics.DeviceState(r.Device), msg, true); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Device, err))
		}
	}
	return errors.Join(errs...)
}
