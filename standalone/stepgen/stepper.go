// Package stepgen bridges the look-ahead motion planner's per-axis
// trapezoidal commands into the Klipper-style interval/count/add stepper
// engine in core.Stepper.
package stepgen

import (
	"errors"
	"strconv"
	"strings"

	"apcore/core"
	"apcore/standalone"
)

// Stepper drives one axis: it owns the GPIO pins (enable, and step/dir via
// the core.Stepper it wraps) and forwards planner-generated commands into
// the core engine that actually paces the ISR-driven step pulses.
type Stepper struct {
	name   string
	config standalone.AxisConfig

	core *core.Stepper

	enablePin    core.GPIOPin
	hasEnablePin bool

	// aborted latches when the planner detects a fault (queue overflow,
	// physical-error taxonomy); PrestepCallback lets a caller (e.g. a
	// locally wired endstop) veto further stepping without a host round
	// trip, since standalone mode has no command-source MCU to arbitrate
	// homing the way Klipper-mode's trsync does.
	aborted         bool
	PrestepCallback func(s *Stepper) bool
	onAbort         func(s *Stepper)

	gpio          core.GPIODriver
	endstopPin    core.GPIOPin
	hasEndstop    bool
	endstopInvert bool
}

// SetAbortHandler registers the callback invoked the instant PrestepCallback
// vetoes a step, mirroring the physical-error taxonomy's AbortedHandler.
func (s *Stepper) SetAbortHandler(fn func(s *Stepper)) {
	s.onAbort = fn
}

// InitEndstop configures this axis's endstop input pin, if one is
// configured for it. Axes without a homing endstop (e.g. the extruder)
// simply have nothing armed by ArmHoming.
func (s *Stepper) InitEndstop(gpioDriver core.GPIODriver, cfg standalone.EndstopConfig) error {
	if cfg.Pin == "" {
		return nil
	}
	pin, err := parsePin(cfg.Pin)
	if err != nil {
		return err
	}
	s.gpio = gpioDriver
	s.endstopPin = core.GPIOPin(pin)
	s.endstopInvert = cfg.Invert
	s.hasEndstop = true
	return gpioDriver.ConfigureInputPullUp(s.endstopPin)
}

// ArmHoming installs the built-in endstop-polling PrestepCallback, setting
// *triggered the instant the configured endstop reports a hit. It is a
// no-op (never triggers) for an axis with no configured endstop.
func (s *Stepper) ArmHoming(triggered *bool) {
	s.PrestepCallback = func(st *Stepper) bool {
		if !st.hasEndstop {
			return false
		}
		hit := st.gpio.ReadPin(st.endstopPin)
		if st.endstopInvert {
			hit = !hit
		}
		if hit {
			*triggered = true
		}
		return hit
	}
}

// DisarmHoming removes the homing prestep callback installed by ArmHoming.
func (s *Stepper) DisarmHoming() {
	s.PrestepCallback = nil
}

// NewStepper creates a new stepper motor controller for the named axis.
func NewStepper(name string, config standalone.AxisConfig) (*Stepper, error) {
	s := &Stepper{name: name, config: config}
	return s, nil
}

// InitPins initializes the GPIO pins for this stepper and the underlying
// core.Stepper's step/dir backend.
func (s *Stepper) InitPins(gpioDriver core.GPIODriver) error {
	stepPin, err := parsePin(s.config.StepPin)
	if err != nil {
		return err
	}
	dirPin, err := parsePin(s.config.DirPin)
	if err != nil {
		return err
	}

	c, err := core.NewStepper(stepperOID(s.name), uint8(stepPin), uint8(dirPin), s.config.InvertDir, 0)
	if err != nil {
		return err
	}
	s.core = c
	s.core.PrestepHook = s.checkPrestep

	if s.config.EnablePin != "" {
		enPin, err := parsePin(s.config.EnablePin)
		if err != nil {
			return err
		}
		s.enablePin = core.GPIOPin(enPin)
		s.hasEnablePin = true

		if err := gpioDriver.ConfigureOutput(s.enablePin); err != nil {
			return err
		}
		// Disabled initially.
		if err := gpioDriver.SetPin(s.enablePin, s.config.InvertEnable); err != nil {
			return err
		}
	}

	return nil
}

// stepperOID assigns a stable small OID per axis name; the axis count in
// any one machine is far below the 16-stepper ceiling core.Stepper enforces.
func stepperOID(name string) uint8 {
	switch name {
	case "x":
		return 0
	case "y":
		return 1
	case "z":
		return 2
	case "e":
		return 3
	default:
		return 4
	}
}

func parsePin(name string) (int, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "gpio")
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, errors.New("invalid pin name: " + name)
	}
	return v, nil
}

// Enable enables the stepper motor driver.
func (s *Stepper) Enable() error {
	if !s.hasEnablePin {
		return nil
	}
	return core.MustGPIO().SetPin(s.enablePin, !s.config.InvertEnable)
}

// Disable disables the stepper motor driver.
func (s *Stepper) Disable() error {
	if !s.hasEnablePin {
		return nil
	}
	return core.MustGPIO().SetPin(s.enablePin, s.config.InvertEnable)
}

// EnqueueCommands dispatches a batch of stepper commands (one trapezoid's
// accel/cruise/decel phases) produced by the planner. Direction is set
// once per command since core.Stepper.QueueMove applies the stepper's
// currently-set NextDir to the command it is about to enqueue.
func (s *Stepper) EnqueueCommands(cmds []StepperCommand) error {
	if s.aborted {
		return errors.New("stepper is aborted")
	}
	if len(cmds) == 0 {
		return nil
	}
	if err := s.Enable(); err != nil {
		return err
	}
	for _, c := range cmds {
		dir := uint8(0)
		if !c.Dir {
			dir = 1
		}
		s.core.SetNextDir(dir)
		if err := s.core.QueueMove(c.Interval, c.Count, c.Add); err != nil {
			s.aborted = true
			return err
		}
	}
	return nil
}

// GetPosition returns the current position in millimeters.
func (s *Stepper) GetPosition() float64 {
	return float64(s.core.GetPosition()) / s.config.StepsPerMM
}

// SetPosition sets the current position (for homing, G92, etc.) without
// generating motion.
func (s *Stepper) SetPosition(posMM float64) {
	s.core.Position = int64(posMM * s.config.StepsPerMM)
}

// IsActive returns whether the stepper is currently moving or has queued
// commands.
func (s *Stepper) IsActive() bool {
	return s.core.IsActive()
}

// QueueFreeSlots reports how many more commands can be queued before the
// underlying command ring is full, reserving the one slot the ring always
// leaves empty to distinguish full from empty.
func (s *Stepper) QueueFreeSlots() int {
	used := int(s.core.GetQueueCount())
	free := core.StepperQueueSize - 1 - used
	if free < 0 {
		return 0
	}
	return free
}

// Stop immediately stops the stepper and clears its queue.
func (s *Stepper) Stop() {
	s.core.Stop()
}

// RemainingSteps sums the steps left in the in-flight command plus every
// command still queued, for abort-time accounting.
func (s *Stepper) RemainingSteps() uint32 {
	total := uint32(s.core.CurrentCount)
	head := s.core.QueueHead
	for head != s.core.QueueTail {
		total += uint32(s.core.Queue[head].Count)
		head = (head + 1) % core.StepperQueueSize
	}
	return total
}

// IsAborted reports whether a fault latched this stepper.
func (s *Stepper) IsAborted() bool {
	return s.aborted
}

// ClearAbort releases the abort latch (called after the planner's own
// ResetAfterAbort succeeds).
func (s *Stepper) ClearAbort() {
	s.aborted = false
}

// checkPrestep is installed as the underlying core.Stepper's PrestepHook: it
// runs in the step ISR immediately before the pulse that would be step N+1,
// vetoing it (and latching aborted) the instant PrestepCallback says to.
func (s *Stepper) checkPrestep(*core.Stepper) bool {
	if s.PrestepCallback == nil {
		return false
	}
	if !s.PrestepCallback(s) {
		return false
	}
	s.aborted = true
	if s.onAbort != nil {
		s.onAbort(s)
	}
	return true
}
