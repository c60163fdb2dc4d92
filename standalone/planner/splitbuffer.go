package planner

import (
	"math"

	"apcore/standalone/fixedpoint"
)

// splitSafetyFactor matches the original planner's 1.0001 headroom so a
// chunk's step count never rounds up past the representable maximum.
const splitSafetyFactor = 1.0001

// SplitMove breaks a single requested displacement into the minimum number
// of equal sub-moves such that every axis's step count in each sub-move
// fits within maxSteps, mirroring Axis.write_splitbuf/compute_split_count:
// split_count = ceil(max_i(x_i) / (maxSteps/1.0001)).
func SplitMove(deltas map[string]float64, stepsPerMM map[string]float64, maxSteps uint32) []map[string]float64 {
	var maxAbsSteps float64
	for name, d := range deltas {
		spmm, ok := stepsPerMM[name]
		if !ok || d == 0 {
			continue
		}
		steps := math.Abs(d) * spmm
		if steps > maxAbsSteps {
			maxAbsSteps = steps
		}
	}

	splitCount := 1
	if maxAbsSteps > 0 {
		limit := float64(maxSteps) / splitSafetyFactor
		if limit <= 0 {
			limit = 1
		}
		splitCount = int(math.Ceil(maxAbsSteps / limit))
		if splitCount < 1 {
			splitCount = 1
		}
	}

	if splitCount == 1 {
		return []map[string]float64{deltas}
	}

	chunks := make([]map[string]float64, splitCount)
	for i := 0; i < splitCount; i++ {
		chunk := make(map[string]float64, len(deltas))
		for name, d := range deltas {
			chunk[name] = d / float64(splitCount)
		}
		chunks[i] = chunk
	}
	return chunks
}

// DefaultMaxSteps returns the split ceiling for a given fixed-point bit
// width, i.e. StepFixed<bits>.Max().
func DefaultMaxSteps(bits uint) uint32 {
	return fixedpoint.NewStepFixed(bits).Max()
}
