package planner

import (
	"math"
	"testing"

	"apcore/standalone"
)

func baseConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Axes: map[string]standalone.AxisConfig{
			"x": {StepsPerMM: 80, MaxVelocity: 300, MaxAccel: 3000},
			"y": {StepsPerMM: 80, MaxVelocity: 300, MaxAccel: 3000},
		},
		JunctionDeviation: 0.05,
	}
}

func TestBuildAxisSegmentZeroLengthIsNil(t *testing.T) {
	seg := BuildAxisSegment(map[string]float64{"x": 0, "y": 0}, 100, 1000, baseConfig(), nil)
	if seg != nil {
		t.Errorf("expected a zero-displacement chunk to produce no segment, got %+v", seg)
	}
}

func TestBuildAxisSegmentStepCounts(t *testing.T) {
	seg := BuildAxisSegment(map[string]float64{"x": 10, "y": 0}, 100, 1000, baseConfig(), nil)
	if seg == nil {
		t.Fatalf("expected a segment for a 10mm X move")
	}
	move, ok := seg.Axes["x"]
	if !ok {
		t.Fatalf("expected an X axis move")
	}
	if move.Steps != 800 {
		t.Errorf("expected 800 steps for 10mm at 80 steps/mm, got %d", move.Steps)
	}
	if !move.Dir {
		t.Errorf("expected positive direction for a +10mm move")
	}
	if _, ok := seg.Axes["y"]; ok {
		t.Errorf("zero-delta Y axis should not appear in Axes")
	}
}

func TestJunctionMaxStartV2StraightLine(t *testing.T) {
	cfg := baseConfig()
	first := BuildAxisSegment(map[string]float64{"x": 10, "y": 0}, 100, 1000, cfg, nil)
	second := BuildAxisSegment(map[string]float64{"x": 10, "y": 0}, 100, 1000, cfg, first)

	if !math.IsInf(second.JunctionMaxStartV2, 1) {
		t.Errorf("expected an unbounded junction cap for a straight continuation, got %v", second.JunctionMaxStartV2)
	}
}

func TestJunctionMaxStartV2RightAngleIsFinite(t *testing.T) {
	cfg := baseConfig()
	first := BuildAxisSegment(map[string]float64{"x": 10, "y": 0}, 100, 1000, cfg, nil)
	second := BuildAxisSegment(map[string]float64{"x": 0, "y": 10}, 100, 1000, cfg, first)

	if math.IsInf(second.JunctionMaxStartV2, 1) || second.JunctionMaxStartV2 <= 0 {
		t.Errorf("expected a finite positive cornering cap for a 90-degree turn, got %v", second.JunctionMaxStartV2)
	}
}

func TestJunctionMaxStartV2Reversal(t *testing.T) {
	cfg := baseConfig()
	first := BuildAxisSegment(map[string]float64{"x": 10, "y": 0}, 100, 1000, cfg, nil)
	second := BuildAxisSegment(map[string]float64{"x": -10, "y": 0}, 100, 1000, cfg, first)

	// A reversed axis direction sums rather than subtracts the two
	// segments' per-distance step rates (m_i+prev_m_i instead of their
	// difference), so it is always more restrictive than a straight
	// continuation of the same magnitude, without collapsing to exactly 0.
	if math.IsInf(second.JunctionMaxStartV2, 1) {
		t.Errorf("expected a bounded junction cap at a direction reversal, got +Inf")
	}
	if second.JunctionMaxStartV2 <= 0 {
		t.Errorf("expected a positive junction cap, got %v", second.JunctionMaxStartV2)
	}

	straight := BuildAxisSegment(map[string]float64{"x": 10, "y": 0}, 100, 1000, cfg, first)
	if second.JunctionMaxStartV2 >= straight.JunctionMaxStartV2 {
		t.Errorf("expected a reversal to cap velocity more tightly than a straight continuation")
	}
}
