package device

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/mfc-control/internal/instrument"
)

// maxNameLength bounds device names; they appear in MQTT topics and URLs.
const maxNameLength = 64

// Logger defines the logging interface used by devices.
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

// Kind distinguishes controllers from read-only meters.
type Kind string

// Device kinds.
const (
	KindController Kind = "controller"
	KindMeter      Kind = "meter"
)

// WinkMode is the value written to the wink parameter.
type WinkMode string

// Wink modes supported by the instruments.
const (
	// WinkSlow blinks the status LED gently.
	WinkSlow WinkMode = "2"
	// WinkLong blinks the LED for several seconds.
	WinkLong WinkMode = "9"
)

// ParseWinkMode maps "slow"/"long" (or the raw "2"/"9") to a mode. An empty
// string selects WinkLong.
func ParseWinkMode(s string) (WinkMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "long", string(WinkLong):
		return WinkLong, nil
	case "slow", string(WinkSlow):
		return WinkSlow, nil
	}
	return "", fmt.Errorf("unknown wink mode %q", s)
}

// FlowDevice is the behaviour shared by controllers and meters.
type FlowDevice interface {
	Name() string
	Kind() Kind
	Locator() instrument.Locator
	Gas() string

	Connected() bool
	Connect(inst instrument.Instrument) error
	Disconnect()

	ReadNativeFlow() (float64, error)
	ReadRealFlow() (float64, error)
	ReadCapacity() (float64, error)
	ReadDeviceTag() (string, error)
	Wink(mode WinkMode) error

	Info() Info
	SetLogger(logger Logger)
}

// Info is a point-in-time description of a device.
type Info struct {
	Name         string   `json:"name"`
	Kind         Kind     `json:"kind"`
	Port         string   `json:"port"`
	Address      int      `json:"address"`
	Gas          string   `json:"gas"`
	Connected    bool     `json:"connected"`
	Calibrated   bool     `json:"calibrated"`
	LastSetpoint *float64 `json:"last_setpoint,omitempty"`
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if strings.ContainsAny(name, "/#+") {
		return fmt.Errorf("%w: name cannot contain '/', '#' or '+'", ErrInvalidName)
	}
	return nil
}

// base holds identity and the connection shared by both device kinds.
type base struct {
	name    string
	kind    Kind
	locator instrument.Locator
	gas     string

	// mu guards inst/connected and serialises instrument I/O.
	mu        sync.Mutex
	inst      instrument.Instrument
	connected bool
	logger    Logger
}

func (b *base) init(name string, kind Kind, loc instrument.Locator, gas string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("device %s: %w", name, err)
	}
	b.name = name
	b.kind = kind
	b.locator = loc
	b.gas = gas
	b.logger = noopLogger{}
	return nil
}

// Name returns the device name.
func (b *base) Name() string { return b.name }

// Kind returns the device kind.
func (b *base) Kind() Kind { return b.kind }

// Locator returns where the device lives on the bus.
func (b *base) Locator() instrument.Locator { return b.locator }

// Gas returns the gas flowing through the device.
func (b *base) Gas() string { return b.gas }

// SetLogger sets the logger for the device.
func (b *base) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

func (b *base) log() Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logger
}

// Connected reports whether an instrument is attached.
func (b *base) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Connect attaches inst, replacing any previous instrument.
func (b *base) Connect(inst instrument.Instrument) error {
	if inst == nil {
		return fmt.Errorf("%s: %w", b.name, ErrNilInstrument)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inst = inst
	b.connected = true
	b.logger.Info("device connected", "device", b.name, "locator", b.locator.String())
	return nil
}

// Disconnect detaches the instrument. It is safe to call when already
// disconnected.
func (b *base) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasConnected := b.connected
	b.inst = nil
	b.connected = false
	if wasConnected {
		b.logger.Info("device disconnected", "device", b.name)
	}
}

// ReadCapacity reads the instrument's full-scale flow in native units.
func (b *base) ReadCapacity() (float64, error) {
	return b.readFloat(instrument.ParamCapacity)
}

// ReadDeviceTag reads the user tag stored in the instrument. A missing tag
// reads as "".
func (b *base) ReadDeviceTag() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, err := b.instrumentLocked()
	if err != nil {
		return "", err
	}
	v, err := inst.ReadParameter(instrument.ParamDeviceTag)
	if err != nil {
		return "", b.transportErr("reading", instrument.ParamDeviceTag, err)
	}
	if v == nil {
		return "", nil
	}
	return strings.TrimSpace(fmt.Sprint(v)), nil
}

// Wink blinks the device LED for identification.
func (b *base) Wink(mode WinkMode) error {
	if mode == "" {
		mode = WinkLong
	}
	if err := b.write(instrument.ParamWink, string(mode)); err != nil {
		return err
	}
	b.log().Info("device winking", "device", b.name, "mode", string(mode))
	return nil
}

// info fills the fields common to both kinds.
func (b *base) info() Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Info{
		Name:      b.name,
		Kind:      b.kind,
		Port:      b.locator.Port,
		Address:   b.locator.Address,
		Gas:       b.gas,
		Connected: b.connected,
	}
}

// instrumentLocked returns the attached instrument. Caller holds mu.
func (b *base) instrumentLocked() (instrument.Instrument, error) {
	if !b.connected || b.inst == nil {
		return nil, fmt.Errorf("%s: %w", b.name, ErrNotConnected)
	}
	return b.inst, nil
}

// readFloat reads a numeric parameter, mapping a nil answer to ErrNoData.
func (b *base) readFloat(p instrument.Parameter) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, err := b.instrumentLocked()
	if err != nil {
		return 0, err
	}
	v, err := inst.ReadParameter(p)
	if err != nil {
		return 0, b.transportErr("reading", p, err)
	}
	if v == nil {
		return 0, fmt.Errorf("%w: %s returned no %s (check communication)", ErrNoData, b.name, p)
	}
	f, ok := instrument.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s returned %T for %s", ErrNoData, b.name, v, p)
	}
	return f, nil
}

// write sends one parameter to the instrument.
func (b *base) write(p instrument.Parameter, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, err := b.instrumentLocked()
	if err != nil {
		return err
	}
	if err := inst.WriteParameter(p, value); err != nil {
		return b.transportErr("writing", p, err)
	}
	return nil
}

func (b *base) transportErr(op string, p instrument.Parameter, err error) error {
	return fmt.Errorf("%w: %s %s %s: %w", ErrTransport, b.name, op, p, err)
}
