package stepgen

import (
	"math"

	"apcore/core"
	"apcore/standalone/fixedpoint"
)

// TicksPerSecond is the conversion scale shared with core.Stepper's clock.
const TicksPerSecond = core.TimerFreq

// StepperCommand is one core.Stepper.QueueMove-ready command: a
// constant-acceleration run of Count steps in a fixed direction.
type StepperCommand struct {
	Dir      bool
	Interval uint32
	Count    uint16
	Add      int16
}

type phaseSpec struct {
	count  uint32
	ticks  uint32
	vStart float64
	vEnd   float64
}

// GenerateAxisCommands turns one axis's share of a planned segment into the
// ordered stepper commands reproducing its trapezoidal velocity profile.
//
// dir/totalSteps describe this axis's displacement; length is the
// segment's traversal distance; vIn/vOut/vConst are the physical entry,
// exit and cruise velocities the look-ahead passes computed for the
// segment; constStart/constEnd are the fractions of length consumed
// accelerating to vConst and decelerating from it.
func GenerateAxisCommands(dir bool, totalSteps uint32, length, vIn, vOut, vConst, constStart, constEnd float64) []StepperCommand {
	if totalSteps == 0 {
		return nil
	}

	accelSteps := clampRound(constStart*float64(totalSteps), totalSteps)
	decelSteps := clampRound(constEnd*float64(totalSteps), totalSteps-accelSteps)
	cruiseSteps := totalSteps - accelSteps - decelSteps

	dAcc := length * constStart
	dDec := length * constEnd
	cruiseFrac := 1 - constStart - constEnd
	if cruiseFrac < 0 {
		cruiseFrac = 0
	}
	dCruise := length * cruiseFrac

	accelTicks := secondsToTicks(phaseDuration(dAcc, vIn, vConst))
	decelTicks := secondsToTicks(phaseDuration(dDec, vConst, vOut))
	cruiseTicks := secondsToTicks(phaseDuration(dCruise, vConst, vConst))

	raw := []phaseSpec{
		{count: accelSteps, ticks: accelTicks, vStart: vIn, vEnd: vConst},
		{count: cruiseSteps, ticks: cruiseTicks, vStart: vConst, vEnd: vConst},
		{count: decelSteps, ticks: decelTicks, vStart: vConst, vEnd: vOut},
	}

	merged := mergeZeroCountPhases(raw)

	commands := make([]StepperCommand, 0, len(merged))
	for _, p := range merged {
		if p.count == 0 {
			continue
		}
		a := accelParam(p)
		interval, add := fixedpoint.QuadraticStepTiming(p.count, p.ticks, a)
		commands = append(commands, StepperCommand{
			Dir:      dir,
			Interval: interval,
			Count:    clampCount(p.count),
			Add:      add,
		})
	}
	return commands
}

// phaseDuration returns a constant-acceleration phase's duration in
// seconds from its distance and endpoint velocities, using the
// average-velocity identity duration = distance / ((vStart+vEnd)/2).
func phaseDuration(distance, vStart, vEnd float64) float64 {
	avg := (vStart + vEnd) / 2
	if avg <= 0 || distance <= 0 {
		return 0
	}
	return distance / avg
}

func secondsToTicks(seconds float64) uint32 {
	if seconds <= 0 {
		return 0
	}
	return uint32(seconds*TicksPerSecond + 0.5)
}

// mergeZeroCountPhases drops phases with a zero step count, folding their
// duration and velocity boundary into the neighboring phase so total
// duration is preserved, per the "absorb into the adjacent phase" rule.
func mergeZeroCountPhases(raw []phaseSpec) []phaseSpec {
	merged := make([]phaseSpec, 0, len(raw))
	var pendingTicks uint32
	havePending := false
	var pendingVStart float64

	for _, p := range raw {
		if p.count == 0 {
			pendingTicks += p.ticks
			if !havePending {
				pendingVStart = p.vStart
				havePending = true
			}
			if len(merged) > 0 {
				merged[len(merged)-1].ticks += p.ticks
				merged[len(merged)-1].vEnd = p.vEnd
				pendingTicks = 0
				havePending = false
			}
			continue
		}
		if havePending {
			p.ticks += pendingTicks
			p.vStart = pendingVStart
			pendingTicks = 0
			havePending = false
		}
		merged = append(merged, p)
	}
	return merged
}

// accelParam derives the signed quadratic coefficient a such that
// v0 = (count-a)/ticks reproduces vStart at phase start, using the
// constant-acceleration identity vStart = avgRate * 2*vStart/(vStart+vEnd).
func accelParam(p phaseSpec) int32 {
	denom := p.vStart + p.vEnd
	if denom <= 0 {
		return 0
	}
	a := float64(p.count) * (p.vEnd - p.vStart) / denom
	if a > float64(p.count) {
		a = float64(p.count)
	}
	if a < -float64(p.count) {
		a = -float64(p.count)
	}
	if a >= 0 {
		return int32(a + 0.5)
	}
	return int32(a - 0.5)
}

func clampRound(v float64, max uint32) uint32 {
	if v < 0 {
		v = 0
	}
	r := uint32(math.Round(v))
	if r > max {
		r = max
	}
	return r
}

func clampCount(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
