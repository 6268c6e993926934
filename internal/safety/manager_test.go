package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mfc-control/internal/controller"
	"github.com/nerrad567/mfc-control/internal/instrument"
)

// fakeInstrument records setpoint writes and can fail them.
type fakeInstrument struct {
	mu       sync.Mutex
	params   map[instrument.Parameter]any
	history  []float64
	writeErr error
}

func newFakeInstrument() *fakeInstrument {
	return &fakeInstrument{params: map[instrument.Parameter]any{
		instrument.ParamMeasure:  0.0,
		instrument.ParamSetpoint: 0.0,
	}}
}

func (f *fakeInstrument) ReadParameter(p instrument.Parameter) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[p], nil
}

func (f *fakeInstrument) WriteParameter(p instrument.Parameter, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.params[p] = v
	if p == instrument.ParamSetpoint {
		if fv, ok := instrument.AsFloat(v); ok {
			f.history = append(f.history, fv)
			f.params[instrument.ParamMeasure] = fv
		}
	}
	return nil
}

func (f *fakeInstrument) setpoints() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.history...)
}

func (f *fakeInstrument) lastSetpoint() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, _ := instrument.AsFloat(f.params[instrument.ParamSetpoint])
	return v
}

func (f *fakeInstrument) failWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

type fakeDialer struct {
	mu   sync.Mutex
	byID map[string]*fakeInstrument
}

func (d *fakeDialer) Dial(loc instrument.Locator) (instrument.Instrument, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.byID[loc.String()]
	if !ok {
		inst = newFakeInstrument()
		d.byID[loc.String()] = inst
	}
	return inst, nil
}

type mockRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *mockRecorder) RecordSafetyEvent(_ context.Context, action string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return nil
}

func (r *mockRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actions...)
}

type mockObserver struct {
	mu       sync.Mutex
	stops    int
	outcomes []string
}

func (o *mockObserver) EmergencyStopped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
}

func (o *mockObserver) PurgeFinished(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

type bench struct {
	ctrl   *controller.Controller
	dialer *fakeDialer
	mgr    *Manager
	rec    *mockRecorder
	obs    *mockObserver
}

// newBench registers the standard set on a fake bus, connects it, and
// leaves every valve open at 5 native units.
func newBench(t *testing.T, dwell time.Duration) *bench {
	t.Helper()
	d := &fakeDialer{byID: make(map[string]*fakeInstrument)}
	ctrl, err := controller.NewStandard(controller.Options{Dialer: d}, "/dev/ttyTEST")
	if err != nil {
		t.Fatalf("NewStandard: %v", err)
	}
	if failures := ctrl.ConnectAll(); len(failures) != 0 {
		t.Fatalf("ConnectAll: %v", failures)
	}
	for _, m := range ctrl.MFCs() {
		if err := m.SetNativeFlow(5); err != nil {
			t.Fatalf("SetNativeFlow(%s): %v", m.Name(), err)
		}
	}

	cfg := DefaultConfig()
	cfg.PurgeDuration = dwell
	mgr := NewManager(ctrl, cfg)
	rec := &mockRecorder{}
	obs := &mockObserver{}
	mgr.SetRecorder(rec)
	mgr.SetObserver(obs)
	return &bench{ctrl: ctrl, dialer: d, mgr: mgr, rec: rec, obs: obs}
}

func (b *bench) inst(t *testing.T, name string) *fakeInstrument {
	t.Helper()
	m, err := b.ctrl.MFC(name)
	if err != nil {
		t.Fatalf("MFC(%s): %v", name, err)
	}
	b.dialer.mu.Lock()
	defer b.dialer.mu.Unlock()
	return b.dialer.byID[m.Locator().String()]
}

func (b *bench) assertAllClosed(t *testing.T) {
	t.Helper()
	for _, name := range b.ctrl.MFCNames() {
		if sp := b.inst(t, name).lastSetpoint(); sp != 0 {
			t.Errorf("%s setpoint = %v, want 0", name, sp)
		}
	}
}

func samePhases(got []Phase, want ...Phase) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ===== Config =====

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}

	cfg := DefaultConfig()
	cfg.PurgeDevice = ""
	cfg.PurgeFlow = 0
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
	}
}

// ===== Emergency stop =====

func TestEmergencyStopClosesEverything(t *testing.T) {
	b := newBench(t, time.Millisecond)

	failures := b.mgr.EmergencyStop(context.Background())
	if len(failures) != 0 {
		t.Fatalf("failures = %v, want none", failures)
	}
	b.assertAllClosed(t)

	if got := b.rec.recorded(); len(got) != 1 || got[0] != ActionEmergencyStop {
		t.Errorf("recorded = %v, want [%s]", got, ActionEmergencyStop)
	}
	if b.obs.stops != 1 {
		t.Errorf("observer stops = %d, want 1", b.obs.stops)
	}
}

func TestEmergencyStopContinuesPastFailure(t *testing.T) {
	b := newBench(t, time.Millisecond)
	b.inst(t, "H2").failWrites(errors.New("bus timeout"))

	failures := b.mgr.EmergencyStop(context.Background())
	if len(failures) != 1 || failures[0].Device != "H2" {
		t.Fatalf("failures = %v, want only H2", failures)
	}
	for _, name := range []string{"CH4", "Air"} {
		if sp := b.inst(t, name).lastSetpoint(); sp != 0 {
			t.Errorf("%s setpoint = %v, want 0", name, sp)
		}
	}
}

// ===== Purge =====

func TestPurgeNormalSequence(t *testing.T) {
	b := newBench(t, 5*time.Millisecond)

	report, err := b.mgr.Purge(context.Background(), "")
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if report.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %q, want %q (reason %v)", report.Outcome, OutcomeCompleted, report.Reason)
	}
	if !samePhases(report.Phases(), PhaseClosingFuel, PhasePurgingAir, PhaseClosingAir, PhaseIdle) {
		t.Errorf("phases = %v", report.Phases())
	}

	// Air went 5 -> 30 -> 0; fuels went 5 -> 0 and never saw the purge flow.
	air := b.inst(t, "Air").setpoints()
	if len(air) != 3 || air[1] != DefaultPurgeFlow || air[2] != 0 {
		t.Errorf("Air setpoints = %v, want [5 %v 0]", air, DefaultPurgeFlow)
	}
	for _, fuel := range []string{"CH4", "H2"} {
		sps := b.inst(t, fuel).setpoints()
		if len(sps) != 2 || sps[1] != 0 {
			t.Errorf("%s setpoints = %v, want [5 0]", fuel, sps)
		}
	}
	if b.mgr.Phase() != PhaseIdle {
		t.Errorf("Phase() = %v after purge, want idle", b.mgr.Phase())
	}
	if b.mgr.LastReport() != report {
		t.Error("LastReport() did not return the finished report")
	}
}

func TestPurgeMissingMediumFallsBackToEmergencyStop(t *testing.T) {
	b := newBench(t, time.Hour)

	start := time.Now()
	report, err := b.mgr.Purge(context.Background(), "Nitrogen")
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("purge dwelled despite missing medium")
	}
	if !report.EmergencyStopped() {
		t.Fatalf("Outcome = %q, want emergency stop", report.Outcome)
	}
	if !errors.Is(report.Reason, ErrMediumMissing) {
		t.Errorf("Reason = %v, want ErrMediumMissing", report.Reason)
	}
	if !samePhases(report.Phases(), PhaseClosingFuel, PhasePurgingAir, PhaseEmergencyClose, PhaseIdle) {
		t.Errorf("phases = %v", report.Phases())
	}
	b.assertAllClosed(t)
}

func TestPurgeWriteFailureFallsBackToEmergencyStop(t *testing.T) {
	b := newBench(t, time.Hour)
	b.inst(t, "Air").failWrites(errors.New("nak"))

	report, err := b.mgr.Purge(context.Background(), "")
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if !report.EmergencyStopped() {
		t.Fatalf("Outcome = %q, want emergency stop", report.Outcome)
	}
	if len(report.Failures) == 0 {
		t.Error("expected the failed Air write in Failures")
	}
	for _, fuel := range []string{"CH4", "H2"} {
		if sp := b.inst(t, fuel).lastSetpoint(); sp != 0 {
			t.Errorf("%s setpoint = %v, want 0", fuel, sp)
		}
	}
}

func TestPurgeAbortedByContext(t *testing.T) {
	b := newBench(t, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report, err := b.mgr.Purge(ctx, "")
	if !errors.Is(err, ErrPurgeAborted) {
		t.Fatalf("Purge() error = %v, want ErrPurgeAborted", err)
	}
	if report.Outcome != OutcomeAborted {
		t.Errorf("Outcome = %q, want %q", report.Outcome, OutcomeAborted)
	}
	b.assertAllClosed(t)
}

func TestEmergencyStopInterruptsPurge(t *testing.T) {
	b := newBench(t, time.Hour)

	done := make(chan error, 1)
	go func() {
		_, err := b.mgr.Purge(context.Background(), "")
		done <- err
	}()

	// Keep stopping until the purge notices; the first stop may land before
	// the dwell has started.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case err := <-done:
			if !errors.Is(err, ErrPurgeAborted) {
				t.Fatalf("Purge() error = %v, want ErrPurgeAborted", err)
			}
			b.assertAllClosed(t)
			return
		case <-ticker.C:
			if b.mgr.Phase() == PhasePurgingAir {
				b.mgr.EmergencyStop(context.Background())
			}
		case <-timeout:
			t.Fatal("purge did not stop after EmergencyStop")
		}
	}
}

func TestPurgeRejectsConcurrentCall(t *testing.T) {
	b := newBench(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = b.mgr.Purge(ctx, "")
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !b.mgr.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("first purge never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := b.mgr.Purge(context.Background(), ""); !errors.Is(err, ErrPurgeInProgress) {
		t.Errorf("second Purge() error = %v, want ErrPurgeInProgress", err)
	}

	cancel()
	<-done
	if b.mgr.Busy() {
		t.Error("Busy() still true after purge returned")
	}
}

// ===== Zero check =====

func TestCheckAllFlowsZero(t *testing.T) {
	b := newBench(t, time.Millisecond)

	res := b.mgr.CheckAllFlowsZero(DefaultZeroThreshold)
	if res.AllZero {
		t.Fatal("AllZero = true with open valves")
	}

	b.mgr.EmergencyStop(context.Background())
	res = b.mgr.CheckAllFlowsZero(DefaultZeroThreshold)
	if !res.AllZero {
		t.Errorf("AllZero = false after stop, flows = %v", res.Flows)
	}
	if len(res.Flows) != 3 {
		t.Errorf("len(Flows) = %d, want 3", len(res.Flows))
	}
}

// ===== Shutdown =====

func TestSafeShutdownPurgesAndDisconnects(t *testing.T) {
	b := newBench(t, time.Millisecond)

	report, failures := b.mgr.SafeShutdown(context.Background())
	if len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}
	if report == nil || report.Outcome != OutcomeCompleted {
		t.Fatalf("report = %+v, want completed purge", report)
	}
	for _, d := range b.ctrl.Devices() {
		if d.Connected() {
			t.Errorf("%s still connected", d.Name())
		}
	}
	got := b.rec.recorded()
	if len(got) != 2 || got[0] != ActionPurge || got[1] != ActionShutdown {
		t.Errorf("recorded = %v, want [purge safe_shutdown]", got)
	}
}

func TestSafeShutdownWithoutPurge(t *testing.T) {
	b := newBench(t, time.Millisecond)
	b.mgr.cfg.PurgeOnShutdown = false

	report, _ := b.mgr.SafeShutdown(context.Background())
	if report != nil {
		t.Errorf("report = %+v, want nil without purge", report)
	}
	if sps := b.inst(t, "Air").setpoints(); len(sps) != 2 || sps[1] != 0 {
		t.Errorf("Air setpoints = %v, want [5 0]", sps)
	}
}

func TestPhaseTextRoundTrip(t *testing.T) {
	for p := PhaseIdle; p <= PhaseEmergencyClose; p++ {
		text, _ := p.MarshalText()
		var got Phase
		if err := got.UnmarshalText(text); err != nil || got != p {
			t.Errorf("round trip %v = %v, %v", p, got, err)
		}
	}
	var p Phase
	if err := p.UnmarshalText([]byte("exploding")); err == nil {
		t.Error("UnmarshalText(exploding) expected error")
	}
}
