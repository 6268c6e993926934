package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/mfc-control/internal/telemetry"
)

const namespace = "mfc"

// Collector holds every mfcd series.
type Collector struct {
	registry *prometheus.Registry

	flowReal        *prometheus.GaugeVec
	flowNative      *prometheus.GaugeVec
	setpointNative  *prometheus.GaugeVec
	deviceConnected *prometheus.GaugeVec

	emergencyStops prometheus.Counter
	purges         *prometheus.CounterVec
	deviceErrors   *prometheus.CounterVec
}

// New creates a Collector with a fresh registry. When withRuntime is true
// the Go runtime and process collectors are registered too.
func New(withRuntime bool) *Collector {
	deviceLabels := []string{"device", "gas"}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		flowReal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_real",
			Help:      "Measured flow in calibrated units.",
		}, deviceLabels),
		flowNative: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_native",
			Help:      "Measured flow in device units.",
		}, deviceLabels),
		setpointNative: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "setpoint_native",
			Help:      "Active controller setpoint in device units.",
		}, deviceLabels),
		deviceConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_connected",
			Help:      "1 when the device has a live instrument binding.",
		}, []string{"device", "kind"}),
		emergencyStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_stops_total",
			Help:      "Emergency stops executed.",
		}),
		purges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purges_total",
			Help:      "Purge sequences by outcome.",
		}, []string{"result"}),
		deviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Device operation failures by operation.",
		}, []string{"operation"}),
	}

	c.registry.MustRegister(
		c.flowReal,
		c.flowNative,
		c.setpointNative,
		c.deviceConnected,
		c.emergencyStops,
		c.purges,
		c.deviceErrors,
	)
	if withRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// HandleSample implements telemetry.Sink.
func (c *Collector) HandleSample(_ context.Context, s telemetry.Sample) error {
	for _, r := range s.Readings {
		connected := 0.0
		if r.Connected {
			connected = 1
		}
		c.deviceConnected.WithLabelValues(r.Device, string(r.Kind)).Set(connected)

		if !r.OK() {
			// Stale values would look like live flow.
			c.flowReal.DeleteLabelValues(r.Device, r.Gas)
			c.flowNative.DeleteLabelValues(r.Device, r.Gas)
			c.setpointNative.DeleteLabelValues(r.Device, r.Gas)
			continue
		}
		c.flowReal.WithLabelValues(r.Device, r.Gas).Set(r.RealFlow)
		c.flowNative.WithLabelValues(r.Device, r.Gas).Set(r.NativeFlow)
		if r.SetpointNative != nil {
			c.setpointNative.WithLabelValues(r.Device, r.Gas).Set(*r.SetpointNative)
		}
	}
	return nil
}

// OperationFailed implements controller.Observer.
func (c *Collector) OperationFailed(operation, _ string, _ error) {
	c.deviceErrors.WithLabelValues(operation).Inc()
}

// EmergencyStopped implements safety.Observer.
func (c *Collector) EmergencyStopped() {
	c.emergencyStops.Inc()
}

// PurgeFinished implements safety.Observer.
func (c *Collector) PurgeFinished(outcome string) {
	c.purges.WithLabelValues(outcome).Inc()
}
