package safety

import (
	"fmt"
	"time"

	"github.com/nerrad567/mfc-control/internal/controller"
)

// Phase is a step of the purge sequence.
type Phase int32

// Purge phases. A normal purge runs ClosingFuel, PurgingAir, ClosingAir and
// returns to Idle; any failure that cannot be contained jumps to
// EmergencyClose.
const (
	PhaseIdle Phase = iota
	PhaseClosingFuel
	PhasePurgingAir
	PhaseClosingAir
	PhaseEmergencyClose
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseClosingFuel:
		return "closing_fuel"
	case PhasePurgingAir:
		return "purging_air"
	case PhaseClosingAir:
		return "closing_air"
	case PhaseEmergencyClose:
		return "emergency_close"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name written by MarshalText.
func (p *Phase) UnmarshalText(b []byte) error {
	for q := PhaseIdle; q <= PhaseEmergencyClose; q++ {
		if q.String() == string(b) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("safety: unknown phase %q", b)
}

// Purge outcomes, also used as metric labels.
const (
	OutcomeCompleted = "completed"
	OutcomeEmergency = "emergency_stop"
	OutcomeAborted   = "aborted"
)

// Transition is one entry in a purge's phase log.
type Transition struct {
	Phase Phase     `json:"phase"`
	At    time.Time `json:"at"`
}

// PurgeReport describes one purge invocation.
type PurgeReport struct {
	Medium      string                   `json:"medium"`
	PurgeFlow   float64                  `json:"purge_flow"`
	Dwell       time.Duration            `json:"dwell_ns"`
	StartedAt   time.Time                `json:"started_at"`
	FinishedAt  time.Time                `json:"finished_at"`
	Transitions []Transition             `json:"transitions"`
	Failures    []controller.DeviceError `json:"failures,omitempty"`
	Outcome     string                   `json:"outcome"`

	// Reason explains an emergency or aborted outcome.
	Reason        error  `json:"-"`
	ReasonMessage string `json:"reason,omitempty"`
}

// Phases returns the visited phases in order.
func (r *PurgeReport) Phases() []Phase {
	out := make([]Phase, len(r.Transitions))
	for i, t := range r.Transitions {
		out[i] = t.Phase
	}
	return out
}

// EmergencyStopped reports whether the purge fell back to closing everything.
func (r *PurgeReport) EmergencyStopped() bool {
	return r.Outcome != OutcomeCompleted
}

func (r *PurgeReport) enter(p Phase) {
	r.Transitions = append(r.Transitions, Transition{Phase: p, At: time.Now()})
}
