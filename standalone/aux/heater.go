// Package aux implements the standalone-mode auxiliary control loop:
// per-heater PID regulation, thermal-runaway latching, and the
// cold-extrusion interlock. It is self-ticked on each heater's
// ControlInterval rather than driven by a host issuing Klipper's
// query_analog_in/queue_pwm_out commands, since standalone mode has no
// host on the other end of the wire.
package aux

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"apcore/core"
	"apcore/standalone"
)

// HeaterState is a heater's coarse operating state.
type HeaterState uint8

const (
	HeaterIdle HeaterState = iota
	HeaterHeating
	HeaterStable
	HeaterFault
)

const (
	// runawayWindow bounds how long a heater may command full power
	// without the temperature climbing by runawayMinRiseC, mirroring
	// AuxControlModule's heater-not-heating detection.
	runawayWindow   = core.TimerFreq * 30
	runawayMinRiseC = 2.0
	tempTolerance   = 1.5
)

// Heater drives one PID-controlled heater from a thermistor ADC reading to
// a software-PWM GPIO duty cycle.
type Heater struct {
	name   string
	config standalone.HeaterConfig

	gpio      core.GPIODriver
	heaterPin core.GPIOPin
	sensorPin uint32

	target  float64
	current float64

	integral    float64
	lastError   float64
	lastSampleT uint32
	haveSample  bool

	duty float64

	heating       bool
	heatStartTime uint32
	heatStartTemp float64

	state HeaterState
}

// NewHeater creates a heater controller for the named channel (e.g.
// "extruder", "bed").
func NewHeater(name string, config standalone.HeaterConfig) *Heater {
	return &Heater{name: name, config: config, state: HeaterIdle}
}

// InitPins configures the heater's GPIO output and ADC sensor input.
func (h *Heater) InitPins(gpioDriver core.GPIODriver) error {
	pin, err := parsePin(h.config.HeaterPin)
	if err != nil {
		return err
	}
	h.gpio = gpioDriver
	h.heaterPin = core.GPIOPin(pin)
	if err := gpioDriver.ConfigureOutput(h.heaterPin); err != nil {
		return err
	}
	if err := gpioDriver.SetPin(h.heaterPin, false); err != nil {
		return err
	}

	sensorPin, err := parseADCPin(h.config.SensorPin)
	if err != nil {
		return err
	}
	h.sensorPin = sensorPin
	return core.ADCSetup(h.sensorPin)
}

func parsePin(name string) (int, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "gpio")
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, errors.New("invalid heater pin name: " + name)
	}
	return v, nil
}

func parseADCPin(name string) (uint32, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "adc")
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, errors.New("invalid ADC pin name: " + name)
	}
	return uint32(v), nil
}

// SetTarget commands a new target temperature, arming the thermal-runaway
// window when heating begins.
func (h *Heater) SetTarget(target float64) {
	if h.state == HeaterFault {
		return
	}
	if target > h.config.MaxTemp {
		target = h.config.MaxTemp
	}
	h.target = target

	if target > h.current+tempTolerance {
		h.heating = true
		h.heatStartTime = core.GetTime()
		h.heatStartTemp = h.current
		h.state = HeaterHeating
	} else if target == 0 {
		h.heating = false
		h.state = HeaterIdle
	}
}

// Target returns the heater's commanded target temperature.
func (h *Heater) Target() float64 { return h.target }

// Current returns the heater's most recently sampled temperature.
func (h *Heater) Current() float64 { return h.current }

// IsFaulted reports whether the thermal-runaway latch has tripped.
func (h *Heater) IsFaulted() bool { return h.state == HeaterFault }

// ClearFault releases the runaway latch after an operator acknowledgement
// (M922).
func (h *Heater) ClearFault() {
	if h.state != HeaterFault {
		return
	}
	h.state = HeaterIdle
	h.target = 0
	h.duty = 0
	h.integral = 0
	h.heating = false
}

// AtTarget reports whether the heater is within tolerance of its target (or
// the target is off).
func (h *Heater) AtTarget() bool {
	if h.target == 0 {
		return true
	}
	return h.current >= h.target-tempTolerance
}

// Tick samples the thermistor and runs one PID iteration, at most once per
// ControlInterval ticks; cheaper to call often than to gate externally.
func (h *Heater) Tick() {
	if h.state == HeaterFault {
		return
	}

	now := core.GetTime()
	if h.haveSample && int32(now-h.lastSampleT) < int32(h.config.ControlInterval) {
		return
	}

	value, ready := core.ADCSample(h.sensorPin)
	if !ready {
		return
	}
	h.current = adcToCelsius(value)

	// A NaN reading (a sensor backend gone bad) must never reach the PID
	// loop or the AtTarget comparisons below, both of which would silently
	// treat it as "not at target" forever rather than as the fault it is.
	if math.IsNaN(h.current) {
		h.latchFault("invalid sensor reading")
		return
	}

	if h.current >= h.config.MaxTemp+5 {
		h.latchFault("overtemperature")
		return
	}

	if h.current < h.config.MinTemp {
		h.latchFault("below minimum safe temperature")
		return
	}

	if h.heating && int32(now-h.heatStartTime) >= int32(runawayWindow) {
		if h.current-h.heatStartTemp < runawayMinRiseC {
			h.latchFault("thermal runaway: no rise detected")
			return
		}
		h.heatStartTime = now
		h.heatStartTemp = h.current
	}

	dt := 1.0 / float64(core.TimerFreq)
	if h.haveSample {
		if d := float64(now-h.lastSampleT) / float64(core.TimerFreq); d > 0 {
			dt = d
		}
	}
	h.lastSampleT = now
	h.haveSample = true

	errC := h.target - h.current
	h.integral += errC * dt
	if ki := h.config.PID[1]; ki > 1e-9 {
		maxIntegral := h.config.MaxPower / ki
		h.integral = clampFloat(h.integral, -maxIntegral, maxIntegral)
	}
	derivative := (errC - h.lastError) / dt
	h.lastError = errC

	output := h.config.PID[0]*errC + h.config.PID[1]*h.integral + h.config.PID[2]*derivative
	h.duty = clampFloat(output, 0, h.config.MaxPower)
	if h.target == 0 {
		h.duty = 0
	}

	if h.heating && h.current >= h.target-tempTolerance {
		h.state = HeaterStable
	}

	h.writeDuty()
}

// writeDuty quantizes the PID output to an on/off GPIO write, guarded by a
// critical section the same way the teacher guards PWM/stepper state
// shared with timer-handler code.
func (h *Heater) writeDuty() {
	on := h.duty >= 0.5
	core.WithCriticalSection(func() {
		_ = h.gpio.SetPin(h.heaterPin, on)
	})
}

func (h *Heater) latchFault(reason string) {
	h.state = HeaterFault
	h.target = 0
	h.duty = 0
	core.WithCriticalSection(func() {
		_ = h.gpio.SetPin(h.heaterPin, false)
	})
	core.DebugPrintln("[AUX] heater " + h.name + " fault: " + reason)
}

// WaitUntilReached busy-polls Tick until the heater reaches its target
// within tolerance, calling report every WaitReportPeriod ticks, and
// returns an error after WaitTimeout ticks or on a runaway fault. This
// blocks the calling goroutine by design: standalone mode has no scheduler
// to yield to while a G-code stream waits on M109/M190.
func (h *Heater) WaitUntilReached(report func(current, target float64)) error {
	start := core.GetTime()
	lastReport := start
	for {
		if h.state == HeaterFault {
			return errors.New("heater " + h.name + " faulted while waiting")
		}
		h.Tick()
		if h.AtTarget() {
			return nil
		}

		now := core.GetTime()
		if int32(now-start) >= int32(h.config.WaitTimeout) {
			return errors.New("timed out waiting for heater " + h.name + " to reach target")
		}
		if int32(now-lastReport) >= int32(h.config.WaitReportPeriod) {
			if report != nil {
				report(h.current, h.target)
			}
			lastReport = now
		}
	}
}

// adcToCelsius approximates a thermistor reading linearly over the ADC's
// full range. A real thermistor needs a Steinhart-Hart lookup table; that
// table is out of scope here (see DESIGN.md).
func adcToCelsius(value uint16) float64 {
	return float64(value) / 65535.0 * 300.0
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
