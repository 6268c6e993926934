package instrument

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Logger defines the logging interface used by the pool.
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

// Pool hands out instruments and reuses them per locator.
//
// Multiple devices on the same port share the opener's port connection; the
// pool only caches node handles. Pool is safe for concurrent use.
type Pool struct {
	opener Opener
	logger Logger

	mu          sync.Mutex
	instruments map[string]Instrument
	closed      bool
}

// NewPool creates a pool that opens instruments with opener.
func NewPool(opener Opener) *Pool {
	return &Pool{
		opener:      opener,
		logger:      noopLogger{},
		instruments: make(map[string]Instrument),
	}
}

// SetLogger sets the logger for the pool.
func (p *Pool) SetLogger(logger Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// Dial returns the instrument for loc, opening it on first use.
func (p *Pool) Dial(loc Locator) (Instrument, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	key := loc.String()
	if inst, ok := p.instruments[key]; ok {
		return inst, nil
	}

	p.logger.Debug("opening instrument", "locator", key)
	inst, err := p.opener.Open(loc)
	if err != nil {
		return nil, fmt.Errorf("opening instrument %s: %w", key, err)
	}
	p.instruments[key] = inst
	return inst, nil
}

// Len returns the number of cached instruments.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instruments)
}

// Close drops every cached instrument and closes the opener if it holds
// resources. Dial fails after Close.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for key, inst := range p.instruments {
		if c, ok := inst.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing instrument %s: %w", key, err))
			}
		}
	}
	clear(p.instruments)

	if c, ok := p.opener.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing transport: %w", err))
		}
	}

	if len(errs) > 0 {
		p.logger.Error("errors closing instrument pool", "error", errors.Join(errs...))
		return errors.Join(errs...)
	}
	p.logger.Info("instrument pool closed")
	return nil
}
