// Package fixedpoint provides the small newtype step-count representation
// shared by the motion planner and the stepper command generator.
//
// The teacher's core.Stepper already expresses a step move as an
// overflow-safe, division-free interval/count/add triple; this package is
// the bridge that turns a (steps, ticks, accel-param) stepper command into
// that triple without reintroducing float error into the hot path.
package fixedpoint

// StepFixed is an unsigned step/distance value bounded to Bits bits, the
// same role as StepFixed<B> in the original planner: callers must clamp any
// accumulated value to Max() before it is split across multiple queued
// commands.
type StepFixed struct {
	Bits uint
}

// NewStepFixed returns a StepFixed descriptor for the given bit width.
func NewStepFixed(bits uint) StepFixed {
	if bits == 0 || bits > 32 {
		bits = 32
	}
	return StepFixed{Bits: bits}
}

// Max returns the largest representable value for this bit width.
func (f StepFixed) Max() uint32 {
	if f.Bits >= 32 {
		return 0xFFFFFFFF
	}
	return (uint32(1) << f.Bits) - 1
}

// Clamp saturates v to this width instead of wrapping it, per the "avoid
// reliance on undefined integer overflow" design note.
func (f StepFixed) Clamp(v uint32) uint32 {
	if m := f.Max(); v > m {
		return m
	}
	return v
}

// QuadraticStepTiming converts a stepper command expressed as (count steps,
// duration t in timer ticks, signed accel parameter a) into the
// interval/add pair core.Stepper.QueueMove consumes.
//
// The command describes a displacement of count steps over t ticks, whose
// per-step timing follows the quadratic tau(k) = A*k^2 + B*k with
// tau(count) == t and initial rate v0 = (count - a)/t, matching the
// incremental scheme described for the axis stepper driver. interval is the
// first step's duration; add is the constant per-step increment applied by
// the ISR loop (second difference of tau).
func QuadraticStepTiming(count uint32, t uint32, a int32) (interval uint32, add int16) {
	if count == 0 {
		return 0, 0
	}
	if t == 0 {
		return 0, 0
	}

	cf := float64(count)
	tf := float64(t)
	af := float64(a)

	denom := cf - af
	if denom <= 0 {
		// Degenerate: would imply infinite or negative initial rate.
		// Fall back to uniform spacing (a == 0 behavior).
		denom = cf
		af = 0
	}

	b := tf / denom
	aCoef := -tf * af / (cf * cf * denom)

	tau1 := aCoef + b
	addF := 2 * aCoef

	interval = clampToUint32(tau1)
	add = clampToInt16(addF)
	return interval, add
}

func clampToUint32(v float64) uint32 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(v + 0.5)
}

func clampToInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	if v >= 0 {
		return int16(v + 0.5)
	}
	return int16(v - 0.5)
}
