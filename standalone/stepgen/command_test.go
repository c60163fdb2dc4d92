package stepgen

import "testing"

func TestGenerateAxisCommandsZeroSteps(t *testing.T) {
	cmds := GenerateAxisCommands(true, 0, 10, 0, 0, 50, 0.2, 0.2)
	if cmds != nil {
		t.Errorf("expected nil commands for zero steps, got %v", cmds)
	}
}

func TestGenerateAxisCommandsSingleStep(t *testing.T) {
	cmds := GenerateAxisCommands(true, 1, 0.0125, 0, 0, 50, 0, 0)
	if len(cmds) != 1 {
		t.Fatalf("expected exactly one command for a single-step move, got %d", len(cmds))
	}
	if cmds[0].Add != 0 {
		t.Errorf("single-step cruise command should have zero acceleration, got add=%d", cmds[0].Add)
	}
	if cmds[0].Count != 1 {
		t.Errorf("expected count=1, got %d", cmds[0].Count)
	}
}

func TestGenerateAxisCommandsStepsConserved(t *testing.T) {
	total := uint32(20000)
	cmds := GenerateAxisCommands(false, total, 250, 0, 0, 200, 0.2, 0.2)

	var sum uint32
	for _, c := range cmds {
		sum += uint32(c.Count)
		if c.Dir {
			t.Errorf("direction should be false throughout, command carried true")
		}
	}
	if sum != total {
		t.Errorf("expected total stepped count %d, got %d", total, sum)
	}
}

func TestGenerateAxisCommandsTrapezoidPhases(t *testing.T) {
	// constStart/constEnd both nonzero and below 1 should produce three
	// distinct phases: accel, cruise, decel.
	cmds := GenerateAxisCommands(true, 3000, 30, 0, 0, 100, 0.2, 0.2)
	if len(cmds) != 3 {
		t.Fatalf("expected 3 phases (accel/cruise/decel), got %d: %+v", len(cmds), cmds)
	}
}

func TestGenerateAxisCommandsPureCruise(t *testing.T) {
	// constStart=constEnd=0 degenerates to a single constant-velocity phase,
	// the shape used by the planner's homing moves.
	cmds := GenerateAxisCommands(false, 1000, 12.5, 0, 0, 25, 0, 0)
	if len(cmds) != 1 {
		t.Fatalf("expected exactly one cruise-only command, got %d", len(cmds))
	}
	if cmds[0].Add != 0 {
		t.Errorf("cruise-only move should carry zero acceleration, got %d", cmds[0].Add)
	}
}
