package planner

import (
	"math"

	"apcore/standalone"
)

// ChannelKind identifies a non-axis event carried inline with the move
// stream (heater target changes, fan duty changes) so it stays ordered
// with respect to the motion it was issued alongside.
type ChannelKind uint8

const (
	ChannelHeaterTarget ChannelKind = iota
	ChannelFanDuty
)

// ChannelEvent is the payload of a channel (non-axis) segment.
type ChannelEvent struct {
	Kind    ChannelKind
	Name    string
	Value   float64
}

// AxisMove is one axis's contribution to a segment: direction and step
// count, derived from the segment's physical displacement.
type AxisMove struct {
	Dir   bool // true = positive direction
	Steps uint32
}

// Segment is one planner ring entry: either an axis move with its
// look-ahead parameters (LPSeg fields inlined below) or a channel event.
type Segment struct {
	IsChannel bool
	Channel   ChannelEvent

	Axes map[string]AxisMove

	// Physical displacement, used for junction-limit computation against
	// the adjacent segment.
	DX, DY, DZ float64
	L          float64 // traversal length used for velocity limiting

	// Look-ahead parameters (the "LPSeg" of the spec).
	MaxV2              float64 // (segment max velocity)^2
	AX                 float64 // 2 * accel * L, full-distance kinetic term
	Accel              float64 // segment acceleration limit
	JunctionMaxStartV2 float64 // cap on entry velocity^2 from cornering
}

// SegmentState is the per-segment scratch value computed by the backward
// pass and consumed by the forward pass.
type SegmentState struct {
	Cap float64 // v_in^2 cap coming out of the backward pass
}

// BuildAxisSegment computes a Segment's look-ahead parameters from a
// physical displacement, the requested feed rate/acceleration, and the
// per-axis limits in the machine configuration. prev is the previous axis
// segment in the same batch (nil if this is the first), used to compute
// the cornering (junction) velocity cap.
func BuildAxisSegment(deltas map[string]float64, feedRate, accel float64, cfg *standalone.MachineConfig, prev *Segment) *Segment {
	dx := deltas["x"]
	dy := deltas["y"]
	dz := deltas["z"]
	de := deltas["e"]

	l := math.Sqrt(dx*dx + dy*dy + dz*dz)
	if l == 0 && de != 0 {
		l = math.Abs(de)
	}
	if l == 0 {
		return nil
	}

	maxV := feedRate
	maxAccel := accel

	axes := make(map[string]AxisMove, len(deltas))
	for name, d := range deltas {
		if d == 0 {
			continue
		}
		axCfg, ok := cfg.Axes[name]
		if !ok {
			continue
		}
		ratio := math.Abs(d) / l
		if ratio > 0 {
			if v := axCfg.MaxVelocity / ratio; v < maxV {
				maxV = v
			}
			if a := axCfg.MaxAccel / ratio; a < maxAccel {
				maxAccel = a
			}
		}
		steps := uint32(math.Round(math.Abs(d) * axCfg.StepsPerMM))
		if steps == 0 {
			continue
		}
		axes[name] = AxisMove{Dir: d >= 0, Steps: steps}
	}

	if len(axes) == 0 {
		return nil
	}

	seg := &Segment{
		Axes:  axes,
		DX:    dx,
		DY:    dy,
		DZ:    dz,
		L:     l,
		MaxV2: maxV * maxV,
		AX:    2 * maxAccel * l,
		Accel: maxAccel,
	}
	seg.JunctionMaxStartV2 = junctionMaxStartV2(seg, prev, cfg)
	return seg
}

// junctionMaxStartV2 bounds the entry velocity^2 of seg at the corner with
// prev, following do_junction_limit: for every configured axis, compare
// this segment's per-distance step rate m_i = x_i/L against the previous
// segment's m_i. A reversed axis direction adds the two rates (m_i+prev_m_i)
// since the axis must decelerate through zero and back up; an unchanged
// direction takes their absolute difference. The largest
// dm_i * corneringSpeedComputationFactor_i across axes sets the corner's
// velocity ceiling via its reciprocal.
//
// An axis missing from one of the two segments contributes nothing to the
// direction comparison (there's no direction to compare), only to the
// magnitude term via its own m_i.
func junctionMaxStartV2(seg, prev *Segment, cfg *standalone.MachineConfig) float64 {
	if prev == nil || prev.IsChannel || prev.L == 0 || seg.L == 0 {
		return math.Inf(1)
	}

	var junctionMaxVRec float64
	for name, axCfg := range cfg.Axes {
		if axCfg.MaxAccel <= 0 {
			continue
		}

		var m1, m2 float64
		if mv, ok := seg.Axes[name]; ok {
			m1 = float64(mv.Steps) / seg.L
		}
		if pv, ok := prev.Axes[name]; ok {
			m2 = float64(pv.Steps) / prev.L
		}

		dirChanged := false
		if sv, ok1 := seg.Axes[name]; ok1 {
			if pv, ok2 := prev.Axes[name]; ok2 {
				dirChanged = sv.Dir != pv.Dir
			}
		}

		var dm float64
		if dirChanged {
			dm = m1 + m2
		} else {
			dm = math.Abs(m1 - m2)
		}

		corneringSpeedComputationFactor := 1.0 / (axCfg.MaxAccel * cfg.JunctionDeviation)
		if v := dm * corneringSpeedComputationFactor; v > junctionMaxVRec {
			junctionMaxVRec = v
		}
	}

	if junctionMaxVRec <= 0 {
		// No axis constrains this corner (a straight-line continuation):
		// unbounded entry velocity.
		return math.Inf(1)
	}

	v := 1.0 / junctionMaxVRec
	return v * v
}

// NewChannelSegment wraps a non-axis event as a segment carrying no motion.
func NewChannelSegment(evt ChannelEvent) *Segment {
	return &Segment{IsChannel: true, Channel: evt}
}
