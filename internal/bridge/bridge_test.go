package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mfc-control/internal/controller"
	"github.com/nerrad567/mfc-control/internal/infrastructure/mqtt"
	"github.com/nerrad567/mfc-control/internal/instrument"
	"github.com/nerrad567/mfc-control/internal/safety"
	"github.com/nerrad567/mfc-control/internal/telemetry"
)

// ===== Mocks =====

type published struct {
	topic    string
	payload  []byte
	retained bool
}

// MockMQTTClient records subscriptions and publishes.
type MockMQTTClient struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []published
	failPub   error
}

func newMockMQTT() *MockMQTTClient {
	return &MockMQTTClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = h
	return nil
}

func (m *MockMQTTClient) PublishJSON(topic string, v any, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPub != nil {
		return m.failPub
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.published = append(m.published, published{topic: topic, payload: data, retained: retained})
	return nil
}

func (m *MockMQTTClient) Topics() mqtt.Topics { return mqtt.NewTopics("mfc") }

// deliver invokes the handler registered for pattern as if topic arrived.
func (m *MockMQTTClient) deliver(t *testing.T, pattern, topic string, payload string) {
	t.Helper()
	m.mu.Lock()
	h, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no handler for %s", pattern)
	}
	if err := h(topic, []byte(payload)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

func (m *MockMQTTClient) on(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type mockRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *mockRecorder) RecordDeviceEvent(_ context.Context, action, device string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action+":"+device)
	return nil
}

type fakeInstrument struct {
	mu     sync.Mutex
	params map[instrument.Parameter]any
}

func (f *fakeInstrument) ReadParameter(p instrument.Parameter) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[p], nil
}

func (f *fakeInstrument) WriteParameter(p instrument.Parameter, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[p] = v
	return nil
}

func (f *fakeInstrument) get(p instrument.Parameter) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[p]
}

type fakeDialer struct {
	mu    sync.Mutex
	byLoc map[string]*fakeInstrument
}

func (d *fakeDialer) Dial(loc instrument.Locator) (instrument.Instrument, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.byLoc[loc.String()]
	if !ok {
		inst = &fakeInstrument{params: map[instrument.Parameter]any{
			instrument.ParamMeasure:  0.0,
			instrument.ParamSetpoint: 0.0,
		}}
		d.byLoc[loc.String()] = inst
	}
	return inst, nil
}

type rig struct {
	bridge *Bridge
	mqtt   *MockMQTTClient
	ctrl   *controller.Controller
	dialer *fakeDialer
	rec    *mockRecorder
}

func newRig(t *testing.T, dwell time.Duration) *rig {
	t.Helper()
	d := &fakeDialer{byLoc: make(map[string]*fakeInstrument)}
	ctrl, err := controller.NewStandard(controller.Options{Dialer: d}, "/dev/ttyTEST")
	if err != nil {
		t.Fatalf("NewStandard: %v", err)
	}
	if failures := ctrl.ConnectAll(); len(failures) != 0 {
		t.Fatalf("ConnectAll: %v", failures)
	}
	cfg := safety.DefaultConfig()
	cfg.PurgeDuration = dwell

	r := &rig{mqtt: newMockMQTT(), ctrl: ctrl, dialer: d, rec: &mockRecorder{}}
	r.bridge, err = New(Options{
		MQTT:       r.mqtt,
		Controller: ctrl,
		Safety:     safety.NewManager(ctrl, cfg),
		Recorder:   r.rec,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.bridge.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(r.bridge.Stop)
	return r
}

func (r *rig) setpoint(t *testing.T, name string) float64 {
	t.Helper()
	dev, err := r.ctrl.Device(name)
	if err != nil {
		t.Fatal(err)
	}
	r.dialer.mu.Lock()
	inst := r.dialer.byLoc[dev.Locator().String()]
	r.dialer.mu.Unlock()
	v, _ := instrument.AsFloat(inst.get(instrument.ParamSetpoint))
	return v
}

func lastAck(t *testing.T, m *MockMQTTClient, device string) Ack {
	t.Helper()
	acks := m.on("mfc/ack/" + device)
	if len(acks) == 0 {
		t.Fatalf("no ack for %s", device)
	}
	var ack Ack
	if err := json.Unmarshal(acks[len(acks)-1].payload, &ack); err != nil {
		t.Fatal(err)
	}
	return ack
}

func events(t *testing.T, m *MockMQTTClient, action string) []Event {
	t.Helper()
	var out []Event
	for _, p := range m.on("mfc/event/" + action) {
		var ev Event
		if err := json.Unmarshal(p.payload, &ev); err != nil {
			t.Fatal(err)
		}
		out = append(out, ev)
	}
	return out
}

// ===== Construction =====

func TestNewRequiresDependencies(t *testing.T) {
	ctrl := controller.New(controller.Options{})
	mgr := safety.NewManager(ctrl, safety.DefaultConfig())

	tests := []struct {
		name string
		opts Options
	}{
		{"no mqtt", Options{Controller: ctrl, Safety: mgr}},
		{"no controller", Options{MQTT: newMockMQTT(), Safety: mgr}},
		{"no safety", Options{MQTT: newMockMQTT(), Controller: ctrl}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestStartSubscribes(t *testing.T) {
	r := newRig(t, time.Millisecond)
	for _, topic := range []string{"mfc/command/+", "mfc/safety/+"} {
		if _, ok := r.mqtt.handlers[topic]; !ok {
			t.Errorf("not subscribed to %s", topic)
		}
	}
}

// ===== Device commands =====

func TestCommands(t *testing.T) {
	tests := []struct {
		name    string
		device  string
		payload string
		status  AckStatus
		want    float64
	}{
		{"native flow", "CH4", `{"id":"c1","command":"set_native_flow","value":0.5}`, AckAccepted, 0.5},
		{"real flow", "H2", `{"id":"c2","command":"set_flow","value":1.005}`, AckAccepted, 1.0},
		{"real flow in native units", "Air", `{"id":"c3","command":"set_flow","value":0.3,"units":"native"}`, AckAccepted, 0.3},
		{"negative", "CH4", `{"id":"c4","command":"set_flow","value":-1}`, AckFailed, 0},
		{"missing value", "CH4", `{"id":"c5","command":"set_flow"}`, AckFailed, 0},
		{"unknown device", "N2", `{"id":"c6","command":"close"}`, AckFailed, 0},
		{"meter", controller.StandardMeterName, `{"id":"c7","command":"set_flow","value":1}`, AckFailed, 0},
		{"unknown command", "CH4", `{"id":"c8","command":"explode"}`, AckFailed, 0},
		{"bad json", "CH4", `{nope`, AckFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, time.Millisecond)
			r.mqtt.deliver(t, "mfc/command/+", "mfc/command/"+tt.device, tt.payload)

			ack := lastAck(t, r.mqtt, tt.device)
			if ack.Status != tt.status {
				t.Fatalf("ack status = %s (%s), want %s", ack.Status, ack.Error, tt.status)
			}
			if ack.CommandID == "" {
				t.Error("ack has no command id")
			}
			if tt.status == AckAccepted {
				if got := r.setpoint(t, tt.device); math.Abs(got-tt.want) > 1e-9 {
					t.Errorf("setpoint = %v, want %v", got, tt.want)
				}
				if len(r.rec.actions) != 1 {
					t.Errorf("recorded %v, want one entry", r.rec.actions)
				}
			}
		})
	}
}

func TestCloseAndWink(t *testing.T) {
	r := newRig(t, time.Millisecond)
	r.mqtt.deliver(t, "mfc/command/+", "mfc/command/CH4", `{"command":"set_native_flow","value":0.8}`)
	r.mqtt.deliver(t, "mfc/command/+", "mfc/command/CH4", `{"command":"close"}`)

	if got := r.setpoint(t, "CH4"); got != 0 {
		t.Errorf("setpoint after close = %v, want 0", got)
	}

	r.mqtt.deliver(t, "mfc/command/+", "mfc/command/CoriFlow", `{"command":"wink","mode":"slow"}`)
	if ack := lastAck(t, r.mqtt, "CoriFlow"); ack.Status != AckAccepted {
		t.Errorf("wink ack = %+v", ack)
	}
}

// ===== Safety =====

func TestEmergencyStopTopic(t *testing.T) {
	r := newRig(t, time.Millisecond)
	r.mqtt.deliver(t, "mfc/command/+", "mfc/command/CH4", `{"command":"set_native_flow","value":0.8}`)

	r.mqtt.deliver(t, "mfc/safety/+", "mfc/safety/emergency_stop", ``)

	evs := events(t, r.mqtt, ActionEmergencyStop)
	if len(evs) != 1 || evs[0].Status != EventCompleted {
		t.Fatalf("events = %+v", evs)
	}
	if got := r.setpoint(t, "CH4"); got != 0 {
		t.Errorf("CH4 setpoint = %v, want 0", got)
	}
}

func TestCloseAllTopic(t *testing.T) {
	r := newRig(t, time.Millisecond)
	r.mqtt.deliver(t, "mfc/command/+", "mfc/command/H2", `{"command":"set_native_flow","value":1}`)
	r.mqtt.deliver(t, "mfc/safety/+", "mfc/safety/close_all", `{"id":"s1"}`)

	evs := events(t, r.mqtt, ActionCloseAll)
	if len(evs) != 1 || evs[0].RequestID != "s1" {
		t.Fatalf("events = %+v", evs)
	}
	if got := r.setpoint(t, "H2"); got != 0 {
		t.Errorf("H2 setpoint = %v, want 0", got)
	}
}

func TestPurgeTopic(t *testing.T) {
	r := newRig(t, 5*time.Millisecond)
	r.mqtt.deliver(t, "mfc/safety/+", "mfc/safety/purge", `{"id":"p1"}`)

	deadline := time.After(2 * time.Second)
	for {
		evs := events(t, r.mqtt, ActionPurge)
		if len(evs) == 2 {
			if evs[0].Status != EventStarted {
				t.Errorf("first event = %s, want started", evs[0].Status)
			}
			if evs[1].Status != EventCompleted || evs[1].Report == nil {
				t.Errorf("second event = %+v", evs[1])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("purge events = %+v", evs)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := r.setpoint(t, "Air"); got != 0 {
		t.Errorf("Air setpoint after purge = %v, want 0", got)
	}
}

func TestPurgeRejectedWhileRunning(t *testing.T) {
	r := newRig(t, time.Minute)
	r.mqtt.deliver(t, "mfc/safety/+", "mfc/safety/purge", ``)

	deadline := time.After(2 * time.Second)
	for !r.bridge.safety.Busy() {
		select {
		case <-deadline:
			t.Fatal("purge never started")
		case <-time.After(time.Millisecond):
		}
	}

	r.mqtt.deliver(t, "mfc/safety/+", "mfc/safety/purge", ``)
	evs := events(t, r.mqtt, ActionPurge)
	if last := evs[len(evs)-1]; last.Status != EventRejected {
		t.Errorf("second request status = %s, want rejected", last.Status)
	}

	// Stop cancels the dwell; the purge ends in an emergency stop.
	r.bridge.Stop()
	evs = events(t, r.mqtt, ActionPurge)
	if last := evs[len(evs)-1]; last.Status != EventFailed {
		t.Errorf("aborted purge status = %s, want failed", last.Status)
	}
}

func TestUnknownSafetyAction(t *testing.T) {
	r := newRig(t, time.Millisecond)
	r.mqtt.deliver(t, "mfc/safety/+", "mfc/safety/self_destruct", ``)
	evs := events(t, r.mqtt, "self_destruct")
	if len(evs) != 1 || evs[0].Status != EventRejected {
		t.Errorf("events = %+v", evs)
	}
}

// ===== State =====

func TestHandleSamplePublishesRetainedState(t *testing.T) {
	r := newRig(t, time.Millisecond)
	sample := telemetry.NewSampler(r.ctrl, telemetry.Options{}).Sample()

	if err := r.bridge.HandleSample(context.Background(), sample); err != nil {
		t.Fatalf("HandleSample() error = %v", err)
	}
	states := r.mqtt.on("mfc/state/CH4")
	if len(states) != 1 || !states[0].retained {
		t.Fatalf("state publishes = %+v", states)
	}
	var msg map[string]any
	if err := json.Unmarshal(states[0].payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg["device"] != "CH4" || msg["connected"] != true {
		t.Errorf("state payload = %v", msg)
	}

	r.mqtt.failPub = errors.New("offline")
	if err := r.bridge.HandleSample(context.Background(), sample); err == nil {
		t.Error("HandleSample() expected error when publishing fails")
	}
}
