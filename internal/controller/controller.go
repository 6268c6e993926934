package controller

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/mfc-control/internal/calibration"
	"github.com/nerrad567/mfc-control/internal/device"
	"github.com/nerrad567/mfc-control/internal/instrument"
)

// DefaultMeterGas is the gas label for meters measuring the combined stream.
const DefaultMeterGas = "mixture"

// Logger defines the logging interface used by the controller.
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

// Dialer returns the instrument for a locator. *instrument.Pool implements it.
type Dialer interface {
	Dial(loc instrument.Locator) (instrument.Instrument, error)
}

// Observer is notified of per-device failures, e.g. to count them.
type Observer interface {
	OperationFailed(operation, device string, err error)
}

// Options configures a Controller.
type Options struct {
	// Dialer reaches instruments on Connect. Required for connecting.
	Dialer Dialer

	// Calibrations supplies per-gas defaults for new controllers. When nil
	// the built-in CH4/H2/Air table is used.
	Calibrations *calibration.Table

	Logger   Logger
	Observer Observer
}

// DeviceSpec describes a device to register.
type DeviceSpec struct {
	Name    string
	Locator instrument.Locator
	Gas     string

	// Calibration overrides the gas default. Ignored for meters.
	Calibration *calibration.Calibration

	// AutoConnect dials the instrument immediately after registering.
	AutoConnect bool
}

// Controller owns the registered flow devices: controllers that accept a
// setpoint and read-only meters, each in its own namespace.
//
// All methods are safe for concurrent use. Bulk operations work on a
// snapshot of the registry and never hold the registry lock during I/O.
type Controller struct {
	dialer   Dialer
	cals     *calibration.Table
	logger   Logger
	observer Observer

	mu     sync.RWMutex
	mfcs   map[string]*device.MFC
	meters map[string]*device.Meter
}

// New creates an empty controller.
func New(opts Options) *Controller {
	c := &Controller{
		dialer:   opts.Dialer,
		cals:     opts.Calibrations,
		logger:   opts.Logger,
		observer: opts.Observer,
		mfcs:     make(map[string]*device.MFC),
		meters:   make(map[string]*device.Meter),
	}
	if c.cals == nil {
		c.cals = calibration.Defaults()
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c
}

// SetLogger sets the logger for the controller. Devices added afterwards
// log through it too.
func (c *Controller) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// Calibrations returns the controller's calibration table.
func (c *Controller) Calibrations() *calibration.Table {
	return c.cals
}

// RegisterCalibration makes cal the default for its gas on devices added
// later. Already registered devices keep the calibration they were built
// with.
func (c *Controller) RegisterCalibration(cal *calibration.Calibration) error {
	if cal == nil {
		return fmt.Errorf("%w: nil calibration", calibration.ErrInvalid)
	}
	c.cals.Set(cal)
	c.log().Info("calibration registered", "gas", cal.Gas(), "points", cal.Len())
	return nil
}

// AddMFC registers a mass-flow controller. Without an explicit calibration
// the gas default is used, falling back to identity when the gas has none.
//
// With AutoConnect, a failed connect still leaves the device registered; the
// device is returned together with the connect error.
func (c *Controller) AddMFC(spec DeviceSpec) (*device.MFC, error) {
	cal := spec.Calibration
	if cal == nil {
		cal = c.cals.Lookup(spec.Gas)
		if cal != nil {
			c.log().Info("using default calibration", "device", spec.Name, "gas", spec.Gas)
		} else {
			c.log().Warn("no calibration for gas, using identity", "device", spec.Name, "gas", spec.Gas)
			cal = calibration.Identity(spec.Gas)
		}
	}

	m, err := device.NewMFC(spec.Name, spec.Locator, spec.Gas, cal)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, exists := c.mfcs[spec.Name]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: controller %q", ErrDuplicate, spec.Name)
	}
	m.SetLogger(c.logger)
	c.mfcs[spec.Name] = m
	logger := c.logger
	c.mu.Unlock()

	logger.Info("controller added",
		"device", spec.Name,
		"gas", spec.Gas,
		"locator", spec.Locator.String(),
	)

	if spec.AutoConnect {
		if err := c.connect(m); err != nil {
			return m, err
		}
	}
	return m, nil
}

// AddMeter registers a read-only meter. An empty gas is labelled
// DefaultMeterGas.
func (c *Controller) AddMeter(spec DeviceSpec) (*device.Meter, error) {
	gas := spec.Gas
	if gas == "" {
		gas = DefaultMeterGas
	}
	m, err := device.NewMeter(spec.Name, spec.Locator, gas)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, exists := c.meters[spec.Name]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: meter %q", ErrDuplicate, spec.Name)
	}
	m.SetLogger(c.logger)
	c.meters[spec.Name] = m
	logger := c.logger
	c.mu.Unlock()

	logger.Info("meter added", "device", spec.Name, "locator", spec.Locator.String())

	if spec.AutoConnect {
		if err := c.connect(m); err != nil {
			return m, err
		}
	}
	return m, nil
}

// RemoveMFC commands the controller to zero flow, disconnects it, then
// unregisters it. A failed zero command is logged and does not stop the
// removal.
func (c *Controller) RemoveMFC(name string) error {
	m, err := c.MFC(name)
	if err != nil {
		return err
	}

	if m.Connected() {
		if err := m.Close(); err != nil {
			c.log().Error("failed to close valve before removal", "device", name, "error", err)
			c.observe("close", name, err)
		}
	}
	m.Disconnect()

	c.mu.Lock()
	if c.mfcs[name] == m {
		delete(c.mfcs, name)
	}
	c.mu.Unlock()

	c.log().Info("controller removed", "device", name)
	return nil
}

// RemoveMeter disconnects and unregisters a meter.
func (c *Controller) RemoveMeter(name string) error {
	m, err := c.Meter(name)
	if err != nil {
		return err
	}
	m.Disconnect()

	c.mu.Lock()
	if c.meters[name] == m {
		delete(c.meters, name)
	}
	c.mu.Unlock()

	c.log().Info("meter removed", "device", name)
	return nil
}

// MFC returns the controller registered as name.
func (c *Controller) MFC(name string) (*device.MFC, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.mfcs[name]
	if !ok {
		return nil, notFound("controller", name, sortedKeys(c.mfcs))
	}
	return m, nil
}

// Meter returns the meter registered as name.
func (c *Controller) Meter(name string) (*device.Meter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.meters[name]
	if !ok {
		return nil, notFound("meter", name, sortedKeys(c.meters))
	}
	return m, nil
}

// Device looks a name up among controllers first, then meters.
func (c *Controller) Device(name string) (device.FlowDevice, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.mfcs[name]; ok {
		return m, nil
	}
	if m, ok := c.meters[name]; ok {
		return m, nil
	}
	all := append(sortedKeys(c.mfcs), sortedKeys(c.meters)...)
	sort.Strings(all)
	return nil, notFound("device", name, all)
}

// MFCNames returns the registered controller names, sorted.
func (c *Controller) MFCNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.mfcs)
}

// MeterNames returns the registered meter names, sorted.
func (c *Controller) MeterNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.meters)
}

// MFCs returns the registered controllers ordered by name.
func (c *Controller) MFCs() []*device.MFC {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*device.MFC, 0, len(c.mfcs))
	for _, name := range sortedKeys(c.mfcs) {
		out = append(out, c.mfcs[name])
	}
	return out
}

// Meters returns the registered meters ordered by name.
func (c *Controller) Meters() []*device.Meter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*device.Meter, 0, len(c.meters))
	for _, name := range sortedKeys(c.meters) {
		out = append(out, c.meters[name])
	}
	return out
}

// Devices returns every device, controllers first, each group ordered by
// name.
func (c *Controller) Devices() []device.FlowDevice {
	mfcs := c.MFCs()
	meters := c.Meters()
	out := make([]device.FlowDevice, 0, len(mfcs)+len(meters))
	for _, m := range mfcs {
		out = append(out, m)
	}
	for _, m := range meters {
		out = append(out, m)
	}
	return out
}

// Connect dials and attaches one device by name.
func (c *Controller) Connect(name string) error {
	d, err := c.Device(name)
	if err != nil {
		return err
	}
	return c.connect(d)
}

func (c *Controller) connect(d device.FlowDevice) error {
	if c.dialer == nil {
		return fmt.Errorf("connecting %s: %w", d.Name(), ErrNoDialer)
	}
	inst, err := c.dialer.Dial(d.Locator())
	if err != nil {
		c.observe("connect", d.Name(), err)
		return fmt.Errorf("connecting %s: %w", d.Name(), err)
	}
	return d.Connect(inst)
}

func (c *Controller) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

func (c *Controller) observe(operation, name string, err error) {
	if c.observer != nil {
		c.observer.OperationFailed(operation, name, err)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
