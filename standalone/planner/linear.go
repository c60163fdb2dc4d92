package planner

import "math"

// ForwardResult carries the velocities and phase split computed for one
// segment by the forward pass.
type ForwardResult struct {
	VIn, VOut, VConst float64 // physical velocities, not squared
	ConstStart        float64 // fraction of L consumed accelerating to VConst
	ConstEnd          float64 // fraction of L consumed decelerating from VConst
}

// backwardPass walks the uncommitted suffix tail-to-head, computing for
// each segment the maximum entry velocity^2 that still allows the rest of
// the batch to decelerate to a stop (or to the caller-supplied exit cap) in
// time, capped by that segment's own cornering limit.
func backwardPass(segs []*Segment, exitV2 float64) []SegmentState {
	states := make([]SegmentState, len(segs))
	vOut2 := exitV2
	for i := len(segs) - 1; i >= 0; i-- {
		seg := segs[i]
		if seg.IsChannel {
			states[i].Cap = vOut2
			continue
		}
		vIn2 := math.Min(seg.MaxV2, vOut2+seg.AX)
		if vIn2 > seg.JunctionMaxStartV2 {
			vIn2 = seg.JunctionMaxStartV2
		}
		states[i].Cap = vIn2
		vOut2 = vIn2
	}
	return states
}

// forwardPass walks the same suffix head-to-tail, starting from startV2,
// producing the realized entry/exit/cruise velocities and the trapezoid's
// phase split for each axis segment. Channel (non-axis) segments pass
// velocity through unchanged and get a zero-value ForwardResult.
func forwardPass(segs []*Segment, states []SegmentState, startV2 float64) []ForwardResult {
	results := make([]ForwardResult, len(segs))
	vIn2 := startV2
	for i, seg := range segs {
		if seg.IsChannel {
			results[i] = ForwardResult{}
			continue
		}

		cap := states[i].Cap
		vOut2 := math.Min(cap, math.Min(vIn2+seg.AX, seg.MaxV2))
		vConst2 := math.Min(seg.MaxV2, vIn2+0.5*seg.AX)
		// vConst2 must also not fall below either endpoint (rounding can
		// otherwise produce a "cruise" slower than the exit velocity).
		if vConst2 < vIn2 {
			vConst2 = vIn2
		}
		if vConst2 < vOut2 {
			vConst2 = vOut2
		}

		vIn := math.Sqrt(vIn2)
		vOut := math.Sqrt(vOut2)
		vConst := math.Sqrt(vConst2)

		var dAcc, dDec float64
		if seg.Accel > 0 {
			dAcc = (vConst2 - vIn2) / (2 * seg.Accel)
			dDec = (vConst2 - vOut2) / (2 * seg.Accel)
		}
		if dAcc < 0 {
			dAcc = 0
		}
		if dDec < 0 {
			dDec = 0
		}
		if seg.L > 0 && dAcc+dDec > seg.L {
			// The peak vIn2 + AX/2 overruns L whenever the exit is slower
			// than the entry and MaxV2 does not cap it (and by rounding
			// otherwise): shrink both phases proportionally to fit within L.
			scale := seg.L / (dAcc + dDec)
			dAcc *= scale
			dDec *= scale
		}

		constStart, constEnd := 0.0, 0.0
		if seg.L > 0 {
			constStart = dAcc / seg.L
			constEnd = dDec / seg.L
		}

		results[i] = ForwardResult{
			VIn:        vIn,
			VOut:       vOut,
			VConst:     vConst,
			ConstStart: constStart,
			ConstEnd:   constEnd,
		}

		vIn2 = vOut2
	}
	return results
}
