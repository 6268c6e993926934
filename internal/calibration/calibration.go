package calibration

import (
	"fmt"
	"math"
	"sort"
)

// minPoints is the minimum number of points needed to interpolate.
const minPoints = 2

// Point is one measured correspondence between a device reading and the
// real flow of the calibrated gas.
type Point struct {
	Device float64 `json:"device" yaml:"device"`
	Real   float64 `json:"real" yaml:"real"`
}

// Calibration maps device-native flow values to real flow values for one
// gas, and back.
//
// Values outside the calibrated range are extrapolated along the nearest
// edge segment; callers that care should check DeviceInRange/RealInRange.
type Calibration struct {
	gas string

	// byDevice is sorted ascending by Device.
	byDevice []Point
	// byReal is sorted ascending by Real.
	byReal []Point
}

// New builds a calibration from matched device and real value slices.
//
// The slices are copied, so the caller may reuse them. Points may be given in
// any order. New returns ErrInvalid when the slices differ in length, hold
// fewer than two points, contain NaN/Inf, or do not increase strictly on both
// axes once sorted.
func New(gas string, device, real []float64) (*Calibration, error) {
	if len(device) != len(real) {
		return nil, fmt.Errorf("%w: device values (%d) and real values (%d) must have the same length",
			ErrInvalid, len(device), len(real))
	}
	if len(device) < minPoints {
		return nil, fmt.Errorf("%w: need at least %d points, got %d", ErrInvalid, minPoints, len(device))
	}

	points := make([]Point, len(device))
	for i := range device {
		if !isFinite(device[i]) || !isFinite(real[i]) {
			return nil, fmt.Errorf("%w: point %d is not finite", ErrInvalid, i)
		}
		points[i] = Point{Device: device[i], Real: real[i]}
	}

	return fromPoints(gas, points)
}

// FromPoints builds a calibration from point pairs. See New for validation.
func FromPoints(gas string, points []Point) (*Calibration, error) {
	device := make([]float64, len(points))
	real := make([]float64, len(points))
	for i, p := range points {
		device[i] = p.Device
		real[i] = p.Real
	}
	return New(gas, device, real)
}

func fromPoints(gas string, points []Point) (*Calibration, error) {
	byDevice := make([]Point, len(points))
	copy(byDevice, points)
	sort.SliceStable(byDevice, func(i, j int) bool { return byDevice[i].Device < byDevice[j].Device })

	byReal := make([]Point, len(points))
	copy(byReal, points)
	sort.SliceStable(byReal, func(i, j int) bool { return byReal[i].Real < byReal[j].Real })

	for i := 1; i < len(byDevice); i++ {
		if byDevice[i].Device <= byDevice[i-1].Device {
			return nil, fmt.Errorf("%w: duplicate device value %g", ErrInvalid, byDevice[i].Device)
		}
		// Both orderings must agree, otherwise Reverse is not the inverse of Forward.
		if byDevice[i].Real <= byDevice[i-1].Real {
			return nil, fmt.Errorf("%w: real values are not strictly increasing with device values (at device %g)",
				ErrInvalid, byDevice[i].Device)
		}
	}

	return &Calibration{
		gas:      gas,
		byDevice: byDevice,
		byReal:   byReal,
	}, nil
}

// Identity returns a calibration where device values equal real values,
// spanning 0 to 10 in steps of 1.
func Identity(gas string) *Calibration {
	points := make([]Point, 11)
	for i := range points {
		points[i] = Point{Device: float64(i), Real: float64(i)}
	}
	cal, err := fromPoints(gas, points)
	if err != nil {
		panic(err) // unreachable: points are strictly increasing
	}
	return cal
}

// Gas returns the gas identifier this calibration applies to.
func (c *Calibration) Gas() string {
	return c.gas
}

// Points returns a copy of the calibration points ordered by device value.
func (c *Calibration) Points() []Point {
	out := make([]Point, len(c.byDevice))
	copy(out, c.byDevice)
	return out
}

// Len returns the number of calibration points.
func (c *Calibration) Len() int {
	return len(c.byDevice)
}

// Forward converts a device-native value to real flow.
func (c *Calibration) Forward(device float64) float64 {
	return interpolate(c.byDevice, device,
		func(p Point) float64 { return p.Device },
		func(p Point) float64 { return p.Real },
	)
}

// Reverse converts a real flow to the device-native value that produces it.
func (c *Calibration) Reverse(real float64) float64 {
	return interpolate(c.byReal, real,
		func(p Point) float64 { return p.Real },
		func(p Point) float64 { return p.Device },
	)
}

// MinDevice returns the smallest calibrated device value.
func (c *Calibration) MinDevice() float64 { return c.byDevice[0].Device }

// MaxDevice returns the largest calibrated device value.
func (c *Calibration) MaxDevice() float64 { return c.byDevice[len(c.byDevice)-1].Device }

// MinReal returns the smallest calibrated real value.
func (c *Calibration) MinReal() float64 { return c.byReal[0].Real }

// MaxReal returns the largest calibrated real value.
func (c *Calibration) MaxReal() float64 { return c.byReal[len(c.byReal)-1].Real }

// DeviceInRange reports whether v lies within the calibrated device range.
func (c *Calibration) DeviceInRange(v float64) bool {
	return v >= c.MinDevice() && v <= c.MaxDevice()
}

// RealInRange reports whether v lies within the calibrated real range.
func (c *Calibration) RealInRange(v float64) bool {
	return v >= c.MinReal() && v <= c.MaxReal()
}

// String implements fmt.Stringer.
func (c *Calibration) String() string {
	return fmt.Sprintf("Calibration{gas=%q, points=%d, real=[%.3f, %.3f]}",
		c.gas, len(c.byDevice), c.MinReal(), c.MaxReal())
}

// interpolate evaluates the piecewise-linear function through points (sorted
// ascending by x) at v, extrapolating along the first or last segment.
func interpolate(points []Point, v float64, x, y func(Point) float64) float64 {
	n := len(points)

	// i is the index of the first point with x > v, clamped so that
	// [i-1, i] is always a valid segment.
	i := sort.Search(n, func(k int) bool { return x(points[k]) > v })
	switch {
	case i == 0:
		i = 1
	case i == n:
		i = n - 1
	}

	x0, y0 := x(points[i-1]), y(points[i-1])
	x1, y1 := x(points[i]), y(points[i])
	return y0 + (v-x0)*(y1-y0)/(x1-x0)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
