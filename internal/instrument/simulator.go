package instrument

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Simulator defaults.
const (
	DefaultResponseTime = 500 * time.Millisecond
	DefaultNoiseLevel   = 0.01
	DefaultCapacity     = 5.0

	// minNoiseBase keeps some noise on a zero flow reading.
	minNoiseBase = 0.01
)

// SimulatorOptions configures a Simulator.
type SimulatorOptions struct {
	// ResponseTime is the half-life of the measured flow approaching the
	// setpoint. Zero means the flow jumps to the setpoint immediately.
	ResponseTime time.Duration

	// NoiseLevel is the standard deviation of measurement noise as a fraction
	// of the current flow.
	NoiseLevel float64

	// Capacity is the value reported for ParamCapacity.
	Capacity float64

	// Tag overrides the reported device tag.
	Tag string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultSimulatorOptions returns options matching a 5 l/min controller.
func DefaultSimulatorOptions() SimulatorOptions {
	return SimulatorOptions{
		ResponseTime: DefaultResponseTime,
		NoiseLevel:   DefaultNoiseLevel,
		Capacity:     DefaultCapacity,
	}
}

// Simulator is an in-memory instrument that behaves like a mass-flow
// controller: the measured flow follows the setpoint with a first-order lag
// and small gaussian noise. It is safe for concurrent use.
type Simulator struct {
	address      int
	responseTime time.Duration
	noiseLevel   float64
	now          func() time.Time

	mu         sync.Mutex
	params     map[Parameter]any
	setpoint   float64
	flow       float64
	lastUpdate time.Time
	writes     int
}

// NewSimulator creates a simulator for the node at address.
func NewSimulator(address int, opts SimulatorOptions) *Simulator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	tag := opts.Tag
	if tag == "" {
		tag = fmt.Sprintf("MOCK_MFC_%d", address)
	}

	return &Simulator{
		address:      address,
		responseTime: opts.ResponseTime,
		noiseLevel:   opts.NoiseLevel,
		now:          opts.Now,
		lastUpdate:   opts.Now(),
		params: map[Parameter]any{
			ParamDeviceTag: tag,
			ParamCapacity:  opts.Capacity,
			ParamSetpoint:  0.0,
			ParamMeasure:   0.0,
			ParamWink:      "0",
		},
	}
}

// ReadParameter implements Instrument. Unknown parameters read as zero.
func (s *Simulator) ReadParameter(p Parameter) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance()

	switch p {
	case ParamMeasure:
		return s.measure(), nil
	case ParamSetpoint:
		return s.setpoint, nil
	}
	if v, ok := s.params[p]; ok {
		return v, nil
	}
	return 0.0, nil
}

// WriteParameter implements Instrument.
func (s *Simulator) WriteParameter(p Parameter, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance()
	s.writes++

	if p == ParamSetpoint {
		v, ok := AsFloat(value)
		if !ok {
			return fmt.Errorf("%w: setpoint %T", ErrUnsupportedValue, value)
		}
		s.setpoint = v
	}
	s.params[p] = value
	return nil
}

// SetFlow forces the simulated actual flow, as if gas were flowing through a
// meter independently of its setpoint.
func (s *Simulator) SetFlow(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.flow = v
}

// Flow returns the simulated actual flow without noise.
func (s *Simulator) Flow() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.flow
}

// Setpoint returns the last written setpoint.
func (s *Simulator) Setpoint() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setpoint
}

// Writes returns the number of parameter writes received.
func (s *Simulator) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Address returns the simulated node address.
func (s *Simulator) Address() int {
	return s.address
}

// advance moves the actual flow toward the setpoint. Caller holds mu.
func (s *Simulator) advance() {
	now := s.now()
	dt := now.Sub(s.lastUpdate)
	s.lastUpdate = now
	if dt < 0 {
		return
	}

	alpha := 1.0
	if s.responseTime > 0 {
		alpha = 1 - math.Pow(0.5, dt.Seconds()/s.responseTime.Seconds())
	}
	s.flow += alpha * (s.setpoint - s.flow)
}

// measure returns the noisy measured flow, never negative. Caller holds mu.
func (s *Simulator) measure() float64 {
	v := s.flow
	if s.noiseLevel > 0 {
		sd := s.noiseLevel * math.Max(minNoiseBase, math.Abs(s.flow))
		v += rand.NormFloat64() * sd
	}
	return math.Max(0, v)
}

// SimulatedOpener opens a Simulator per locator and remembers them so tests
// and the simulated daemon can reach the backing state.
type SimulatedOpener struct {
	opts SimulatorOptions

	mu   sync.Mutex
	sims map[string]*Simulator
}

// NewSimulatedOpener creates an opener producing simulators with opts.
func NewSimulatedOpener(opts SimulatorOptions) *SimulatedOpener {
	return &SimulatedOpener{
		opts: opts,
		sims: make(map[string]*Simulator),
	}
}

// Open implements Opener.
func (o *SimulatedOpener) Open(loc Locator) (Instrument, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := loc.String()
	if s, ok := o.sims[key]; ok {
		return s, nil
	}
	s := NewSimulator(loc.Address, o.opts)
	o.sims[key] = s
	return s, nil
}

// Simulator returns the simulator opened for loc, if any.
func (o *SimulatedOpener) Simulator(loc Locator) (*Simulator, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sims[loc.String()]
	return s, ok
}
