package propar

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/mfc-control/internal/instrument"
)

// Serial defaults for FLOW-BUS RS232 interfaces.
const (
	DefaultBaudRate    = 38400
	DefaultReadTimeout = 500 * time.Millisecond
)

// Config holds serial settings shared by every port on the bus.
type Config struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// PortOpener opens a serial port by name.
type PortOpener func(name string, cfg Config) (Port, error)

// Bus opens one Master per serial port and hands out Node instruments. It
// implements instrument.Opener.
type Bus struct {
	cfg  Config
	open PortOpener

	mu      sync.Mutex
	masters map[string]*Master
	closed  bool
}

// NewBus creates a bus that opens real serial ports.
func NewBus(cfg Config) *Bus {
	return NewBusWithOpener(cfg, OpenSerial)
}

// NewBusWithOpener creates a bus with a custom port opener.
func NewBusWithOpener(cfg Config, open PortOpener) *Bus {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Bus{
		cfg:     cfg,
		open:    open,
		masters: make(map[string]*Master),
	}
}

// Open implements instrument.Opener.
func (b *Bus) Open(loc instrument.Locator) (instrument.Instrument, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	m, ok := b.masters[loc.Port]
	if !ok {
		port, err := b.open(loc.Port, b.cfg)
		if err != nil {
			return nil, fmt.Errorf("opening %s at %d baud: %w", loc.Port, b.cfg.BaudRate, err)
		}
		m = NewMaster(loc.Port, port)
		b.masters[loc.Port] = m
	}
	return NewNode(m, loc.Address), nil
}

// Ports returns the names of the ports currently open.
func (b *Bus) Ports() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.masters))
	for name := range b.masters {
		out = append(out, name)
	}
	return out
}

// Close closes every open port.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for name, m := range b.masters {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	clear(b.masters)
	return errors.Join(errs...)
}

// OpenSerial opens a real serial port in 8N1 mode.
func OpenSerial(name string, cfg Config) (Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}
	return port, nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}
