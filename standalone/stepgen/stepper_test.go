package stepgen

import (
	"testing"

	"apcore/core"
	"apcore/standalone"
)

type mockGPIO struct {
	outputs map[core.GPIOPin]bool
	inputs  map[core.GPIOPin]bool
}

func newMockGPIO() *mockGPIO {
	return &mockGPIO{outputs: make(map[core.GPIOPin]bool), inputs: make(map[core.GPIOPin]bool)}
}

func (m *mockGPIO) ConfigureOutput(pin core.GPIOPin) error        { m.outputs[pin] = false; return nil }
func (m *mockGPIO) ConfigureInputPullUp(pin core.GPIOPin) error   { m.inputs[pin] = true; return nil }
func (m *mockGPIO) ConfigureInputPullDown(pin core.GPIOPin) error { m.inputs[pin] = false; return nil }
func (m *mockGPIO) SetPin(pin core.GPIOPin, value bool) error     { m.outputs[pin] = value; return nil }
func (m *mockGPIO) GetPin(pin core.GPIOPin) (bool, error)         { return m.inputs[pin], nil }
func (m *mockGPIO) ReadPin(pin core.GPIOPin) bool                 { return m.inputs[pin] }

type mockBackend struct {
	steps int
	dir   bool
}

func (b *mockBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error { return nil }
func (b *mockBackend) Step()                                                       { b.steps++ }
func (b *mockBackend) SetDirection(dir bool)                                       { b.dir = dir }
func (b *mockBackend) Stop()                                                       {}
func (b *mockBackend) GetName() string                                             { return "mock" }

func init() {
	core.SetStepperBackendFactory(func() core.StepperBackend { return &mockBackend{} })
}

func testAxisConfig() standalone.AxisConfig {
	return standalone.AxisConfig{
		StepPin:    "gpio0",
		DirPin:     "gpio1",
		EnablePin:  "gpio8",
		StepsPerMM: 80,
	}
}

func newTestStepper(t *testing.T, name string) (*Stepper, *mockGPIO) {
	t.Helper()
	s, err := NewStepper(name, testAxisConfig())
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}
	gpio := newMockGPIO()
	if err := s.InitPins(gpio); err != nil {
		t.Fatalf("InitPins: %v", err)
	}
	return s, gpio
}

func TestEnqueueCommandsTracksRemainingSteps(t *testing.T) {
	s, _ := newTestStepper(t, "x")

	cmds := []StepperCommand{
		{Dir: true, Interval: 1000, Count: 100, Add: 0},
		{Dir: true, Interval: 900, Count: 50, Add: -2},
	}
	if err := s.EnqueueCommands(cmds); err != nil {
		t.Fatalf("EnqueueCommands: %v", err)
	}

	if !s.IsActive() {
		t.Errorf("expected stepper to be active after enqueueing commands")
	}
	if rem := s.RemainingSteps(); rem != 150 {
		t.Errorf("expected 150 remaining steps across both commands, got %d", rem)
	}
}

func TestEnqueueCommandsRejectedAfterAbort(t *testing.T) {
	s, _ := newTestStepper(t, "y")

	var aborted *Stepper
	s.SetAbortHandler(func(st *Stepper) { aborted = st })
	s.PrestepCallback = func(*Stepper) bool { return true }

	// Simulate one ISR tick deciding to veto the step.
	if !s.checkPrestep(nil) {
		t.Fatalf("expected checkPrestep to report a veto")
	}
	if !s.IsAborted() {
		t.Errorf("expected stepper to be latched aborted")
	}
	if aborted != s {
		t.Errorf("expected abort handler to be invoked with this stepper")
	}

	if err := s.EnqueueCommands([]StepperCommand{{Dir: true, Interval: 1000, Count: 10}}); err == nil {
		t.Errorf("expected EnqueueCommands to reject work while aborted")
	}

	s.ClearAbort()
	if s.IsAborted() {
		t.Errorf("expected ClearAbort to release the latch")
	}
}

func TestArmHomingTriggersOnEndstopHit(t *testing.T) {
	s, gpio := newTestStepper(t, "z")

	endstopCfg := standalone.EndstopConfig{Pin: "gpio22", Invert: false}
	if err := s.InitEndstop(gpio, endstopCfg); err != nil {
		t.Fatalf("InitEndstop: %v", err)
	}

	var triggered bool
	s.ArmHoming(&triggered)
	defer s.DisarmHoming()

	if s.checkPrestep(nil) {
		t.Fatalf("expected no trigger before the endstop pin goes high")
	}
	if triggered {
		t.Fatalf("triggered flag should still be false")
	}

	gpio.inputs[22] = true
	if !s.checkPrestep(nil) {
		t.Fatalf("expected checkPrestep to veto the step once the endstop trips")
	}
	if !triggered {
		t.Errorf("expected triggered flag to be set")
	}
}

func TestArmHomingRespectsInvert(t *testing.T) {
	s, gpio := newTestStepper(t, "z")

	endstopCfg := standalone.EndstopConfig{Pin: "gpio22", Invert: true}
	if err := s.InitEndstop(gpio, endstopCfg); err != nil {
		t.Fatalf("InitEndstop: %v", err)
	}

	var triggered bool
	s.ArmHoming(&triggered)
	defer s.DisarmHoming()

	// Pin high means "not triggered" when inverted.
	gpio.inputs[22] = true
	if s.checkPrestep(nil) {
		t.Fatalf("inverted endstop should not trigger while its pin is high")
	}

	gpio.inputs[22] = false
	if !s.checkPrestep(nil) {
		t.Fatalf("inverted endstop should trigger once its pin goes low")
	}
}
