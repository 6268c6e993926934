package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/mfc-control/internal/controller"
	"github.com/nerrad567/mfc-control/internal/device"
	"github.com/nerrad567/mfc-control/internal/infrastructure/influxdb"
)

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = time.Second

// Logger defines the logging interface used by the sampler.
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

// Reading is one device's state at a sample.
type Reading struct {
	Device    string      `json:"device"`
	Kind      device.Kind `json:"kind"`
	Gas       string      `json:"gas"`
	Connected bool        `json:"connected"`

	NativeFlow float64 `json:"native_flow"`
	RealFlow   float64 `json:"real_flow"`

	// Controller-only fields.
	SetpointNative *float64 `json:"setpoint_native,omitempty"`
	SetpointReal   *float64 `json:"setpoint_real,omitempty"`
	Deviation      *float64 `json:"deviation,omitempty"`
	DeviationOK    *bool    `json:"deviation_ok,omitempty"`

	Error string `json:"error,omitempty"`
}

// OK reports whether the device was connected and read cleanly.
func (r Reading) OK() bool {
	return r.Connected && r.Error == ""
}

// Sample is one sweep over the registry.
type Sample struct {
	Time     time.Time `json:"time"`
	Readings []Reading `json:"readings"`
}

// Failures counts connected devices whose reads failed.
func (s Sample) Failures() int {
	n := 0
	for _, r := range s.Readings {
		if r.Connected && r.Error != "" {
			n++
		}
	}
	return n
}

// Sink consumes samples.
type Sink interface {
	HandleSample(ctx context.Context, s Sample) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, s Sample) error

// HandleSample calls f.
func (f SinkFunc) HandleSample(ctx context.Context, s Sample) error { return f(ctx, s) }

// Options configures a Sampler.
type Options struct {
	Interval           time.Duration
	DeviationThreshold float64
	Logger             Logger
	Now                func() time.Time
}

type namedSink struct {
	name string
	sink Sink
}

// Sampler periodically reads all devices and distributes the results.
type Sampler struct {
	ctrl      *controller.Controller
	interval  time.Duration
	threshold float64
	logger    Logger
	now       func() time.Time

	mu     sync.RWMutex
	sinks  []namedSink
	latest *Sample
}

// NewSampler creates a sampler over ctrl.
func NewSampler(ctrl *controller.Controller, opts Options) *Sampler {
	s := &Sampler{
		ctrl:      ctrl,
		interval:  opts.Interval,
		threshold: opts.DeviationThreshold,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// AddSink registers a sink. The name appears in failure logs.
func (s *Sampler) AddSink(name string, sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, namedSink{name: name, sink: sink})
}

// Latest returns the most recent sample, if any.
func (s *Sampler) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Sample{}, false
	}
	return *s.latest, true
}

// Run samples every interval until ctx is cancelled. The first sample is
// taken immediately.
func (s *Sampler) Run(ctx context.Context) {
	s.logger.Info("telemetry sampler started", "interval", s.interval)
	defer s.logger.Info("telemetry sampler stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick takes one sample and delivers it to every sink.
func (s *Sampler) Tick(ctx context.Context) Sample {
	sample := s.Sample()

	s.mu.Lock()
	s.latest = &sample
	sinks := make([]namedSink, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.Unlock()

	for _, ns := range sinks {
		if err := ns.sink.HandleSample(ctx, sample); err != nil {
			s.logger.Warn("telemetry sink failed", "sink", ns.name, "error", err)
		}
	}
	return sample
}

// Sample reads every device once without notifying sinks.
func (s *Sampler) Sample() Sample {
	sample := Sample{Time: s.now()}
	for _, m := range s.ctrl.MFCs() {
		sample.Readings = append(sample.Readings, s.readMFC(m))
	}
	for _, m := range s.ctrl.Meters() {
		sample.Readings = append(sample.Readings, s.readMeter(m))
	}
	return sample
}

func (s *Sampler) readMFC(m *device.MFC) Reading {
	r := Reading{Device: m.Name(), Kind: m.Kind(), Gas: m.Gas(), Connected: m.Connected()}
	if !r.Connected {
		return r
	}

	native, err := m.ReadNativeFlow()
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.NativeFlow = native
	r.RealFlow = forward(m, native)

	sp, err := m.ReadNativeSetpoint()
	if err != nil {
		r.Error = err.Error()
		return r
	}
	spReal := forward(m, sp)
	dev := math.Abs(sp - native)
	ok := dev <= s.threshold
	r.SetpointNative = &sp
	r.SetpointReal = &spReal
	r.Deviation = &dev
	r.DeviationOK = &ok
	return r
}

func (s *Sampler) readMeter(m *device.Meter) Reading {
	r := Reading{Device: m.Name(), Kind: m.Kind(), Gas: m.Gas(), Connected: m.Connected()}
	if !r.Connected {
		return r
	}
	v, err := m.ReadNativeFlow()
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.NativeFlow = v
	r.RealFlow = v
	return r
}

func forward(m *device.MFC, native float64) float64 {
	if cal := m.Calibration(); cal != nil {
		return cal.Forward(native)
	}
	return native
}

// FlowWriter is the InfluxDB side of InfluxSink.
type FlowWriter interface {
	WriteFlow(p influxdb.FlowPoint)
}

// InfluxSink writes every cleanly read device as an mfc_flow point.
func InfluxSink(w FlowWriter) Sink {
	return SinkFunc(func(_ context.Context, s Sample) error {
		for _, r := range s.Readings {
			if !r.OK() {
				continue
			}
			p := influxdb.FlowPoint{
				Device: r.Device,
				Kind:   string(r.Kind),
				Gas:    r.Gas,
				Real:   r.RealFlow,
				Native: r.NativeFlow,
				Time:   s.Time,
			}
			if r.SetpointNative != nil {
				p.HasSetpoint = true
				p.Setpoint = *r.SetpointNative
				p.SetpointReal = *r.SetpointReal
				p.Deviation = *r.Deviation
			}
			w.WriteFlow(p)
		}
		return nil
	})
}
