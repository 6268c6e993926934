package calibration

import (
	"errors"
	"math"
	"testing"
)

const epsilon = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		device []float64
		real   []float64
	}{
		{"length mismatch", []float64{0, 1}, []float64{0}},
		{"too few points", []float64{1}, []float64{1}},
		{"empty", nil, nil},
		{"duplicate device value", []float64{0, 1, 1}, []float64{0, 1, 2}},
		{"non-monotonic real", []float64{0, 1, 2}, []float64{0, 2, 1}},
		{"flat real", []float64{0, 1, 2}, []float64{0, 1, 1}},
		{"NaN", []float64{0, math.NaN()}, []float64{0, 1}},
		{"Inf", []float64{0, 1}, []float64{0, math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("X", tt.device, tt.real)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("New() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestNew_SortsUnorderedInput(t *testing.T) {
	c, err := New("X", []float64{1, 0, 0.5}, []float64{0.5, 0, 0.25})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	pts := c.Points()
	for i := 1; i < len(pts); i++ {
		if pts[i].Device <= pts[i-1].Device {
			t.Fatalf("Points() not sorted by device: %v", pts)
		}
	}
	if c.MinDevice() != 0 || c.MaxDevice() != 1 {
		t.Errorf("device range = [%g, %g], want [0, 1]", c.MinDevice(), c.MaxDevice())
	}
	if c.MinReal() != 0 || c.MaxReal() != 0.5 {
		t.Errorf("real range = [%g, %g], want [0, 0.5]", c.MinReal(), c.MaxReal())
	}
}

func TestNew_CopiesInput(t *testing.T) {
	device := []float64{0, 1}
	real := []float64{0, 0.5}
	c, err := New("X", device, real)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	device[1] = 100
	real[1] = 100
	if got := c.Forward(1); !approx(got, 0.5) {
		t.Errorf("Forward(1) after mutating input = %g, want 0.5", got)
	}
}

func TestForwardReverse_TwoPoint(t *testing.T) {
	c, err := New("X", []float64{0, 1}, []float64{0, 0.5})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := c.Forward(0.5); !approx(got, 0.25) {
		t.Errorf("Forward(0.5) = %g, want 0.25", got)
	}
	if got := c.Reverse(0.25); !approx(got, 0.5) {
		t.Errorf("Reverse(0.25) = %g, want 0.5", got)
	}
}

func TestForwardReverse_Extrapolation(t *testing.T) {
	c, err := New("X", []float64{0, 1, 2}, []float64{0, 0.5, 2.5})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name string
		fn   func(float64) float64
		in   float64
		want float64
	}{
		{"forward above uses last segment", c.Forward, 3, 4.5},
		{"forward below uses first segment", c.Forward, -1, -0.5},
		{"reverse above uses last segment", c.Reverse, 4.5, 3},
		{"reverse below uses first segment", c.Reverse, -0.5, -1},
		{"forward exact knot", c.Forward, 1, 0.5},
		{"reverse exact knot", c.Reverse, 2.5, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); !approx(got, tt.want) {
				t.Errorf("got %g, want %g", got, tt.want)
			}
		})
	}
}

func TestRoundTrip_Defaults(t *testing.T) {
	table := Defaults()

	for _, gas := range table.Gases() {
		c, err := table.Get(gas)
		if err != nil {
			t.Fatalf("Get(%q) error = %v", gas, err)
		}

		steps := 50
		span := c.MaxDevice() - c.MinDevice()
		for i := 0; i <= steps; i++ {
			x := c.MinDevice() + span*float64(i)/float64(steps)
			back := c.Reverse(c.Forward(x))
			if math.Abs(back-x) > 1e-6 {
				t.Errorf("%s: Reverse(Forward(%g)) = %g", gas, x, back)
			}
		}
	}
}

func TestForward_Monotonic(t *testing.T) {
	c := Defaults().Lookup(GasH2)
	if c == nil {
		t.Fatal("H2 calibration missing")
	}

	prev := c.Forward(c.MinDevice())
	for x := c.MinDevice() + 0.01; x <= c.MaxDevice(); x += 0.01 {
		got := c.Forward(x)
		if got < prev {
			t.Fatalf("Forward(%g) = %g < previous %g", x, got, prev)
		}
		prev = got
	}
}

func TestDefaults_KnownPoints(t *testing.T) {
	table := Defaults()

	tests := []struct {
		gas    string
		device float64
		real   float64
	}{
		{GasCH4, 1.0, 0.325},
		{GasCH4, 0.55, 0.1665},
		{GasH2, 2.0, 2.019},
		{GasAir, 1.4, 1.826},
		{GasAir, 0.0, 0.0},
	}

	for _, tt := range tests {
		c := table.Lookup(tt.gas)
		if c == nil {
			t.Fatalf("Lookup(%q) = nil", tt.gas)
		}
		if got := c.Forward(tt.device); math.Abs(got-tt.real) > 1e-6 {
			t.Errorf("%s Forward(%g) = %g, want %g", tt.gas, tt.device, got, tt.real)
		}
	}
}

func TestRangeQueries(t *testing.T) {
	c := Defaults().Lookup(GasCH4)

	if !c.DeviceInRange(0.5) {
		t.Error("DeviceInRange(0.5) = false, want true")
	}
	if c.DeviceInRange(1.01) {
		t.Error("DeviceInRange(1.01) = true, want false")
	}
	if !c.RealInRange(0.325) {
		t.Error("RealInRange(0.325) = false, want true")
	}
	if c.RealInRange(-0.001) {
		t.Error("RealInRange(-0.001) = true, want false")
	}
}

func TestIdentity(t *testing.T) {
	c := Identity("N2")

	if c.Len() != 11 {
		t.Errorf("Len() = %d, want 11", c.Len())
	}
	if c.MinDevice() != 0 || c.MaxDevice() != 10 {
		t.Errorf("device range = [%g, %g], want [0, 10]", c.MinDevice(), c.MaxDevice())
	}
	for _, v := range []float64{0, 2.5, 7.25, 10} {
		if got := c.Forward(v); !approx(got, v) {
			t.Errorf("Forward(%g) = %g", v, got)
		}
		if got := c.Reverse(v); !approx(got, v) {
			t.Errorf("Reverse(%g) = %g", v, got)
		}
	}
}

func TestTable(t *testing.T) {
	table := NewTable(Identity("N2"))

	if _, err := table.Get("n2"); err != nil {
		t.Errorf("Get(n2) error = %v, want case-insensitive match", err)
	}
	if _, err := table.Get("Ar"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(Ar) error = %v, want ErrNotFound", err)
	}

	replacement, err := New("N2", []float64{0, 1}, []float64{0, 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	table.Set(replacement)
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after replace", table.Len())
	}
	if got := table.Lookup("N2").Forward(1); !approx(got, 2) {
		t.Errorf("Forward(1) after replace = %g, want 2", got)
	}

	table.Delete("N2")
	if table.Lookup("N2") != nil {
		t.Error("Lookup after Delete returned calibration")
	}
}

func TestDefaults_FreshTablePerCall(t *testing.T) {
	a := Defaults()
	b := Defaults()
	a.Delete(GasCH4)

	if b.Lookup(GasCH4) == nil {
		t.Error("deleting from one defaults table affected another")
	}
}
