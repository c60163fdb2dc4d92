package planner

import "testing"

func TestSplitMoveNoSplitNeeded(t *testing.T) {
	deltas := map[string]float64{"x": 10}
	stepsPerMM := map[string]float64{"x": 80}

	chunks := SplitMove(deltas, stepsPerMM, 8191)
	if len(chunks) != 1 {
		t.Fatalf("expected no split for an 800-step move under an 8191 ceiling, got %d chunks", len(chunks))
	}
	if chunks[0]["x"] != 10 {
		t.Errorf("expected the single chunk to carry the full delta, got %v", chunks[0]["x"])
	}
}

func TestSplitMoveLongMoveSplits(t *testing.T) {
	// 20000 steps against an 8191 ceiling (with the 1.0001 safety factor)
	// must split into at least 3 chunks, each within the ceiling.
	deltas := map[string]float64{"x": 250} // 250mm * 80 steps/mm = 20000 steps
	stepsPerMM := map[string]float64{"x": 80}

	chunks := SplitMove(deltas, stepsPerMM, 8191)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks for a 20000-step move, got %d", len(chunks))
	}

	var total float64
	for _, c := range chunks {
		steps := c["x"] * 80
		if steps > 8191 {
			t.Errorf("chunk exceeds the step ceiling: %v steps", steps)
		}
		total += c["x"]
	}
	if total != 250 {
		t.Errorf("expected chunk deltas to sum back to 250mm, got %v", total)
	}
}

func TestSplitMoveZeroDelta(t *testing.T) {
	deltas := map[string]float64{"x": 0, "y": 0}
	stepsPerMM := map[string]float64{"x": 80, "y": 80}

	chunks := SplitMove(deltas, stepsPerMM, 8191)
	if len(chunks) != 1 {
		t.Errorf("expected a no-op move to produce a single (zero) chunk, got %d", len(chunks))
	}
}

func TestDefaultMaxStepsMatchesBitWidth(t *testing.T) {
	if got := DefaultMaxSteps(13); got != 8191 {
		t.Errorf("expected StepFixed<13>.Max() == 8191, got %d", got)
	}
}
