package aux

import "apcore/core"

// Fan drives a cooling fan output. Without a hardware PWM channel wired for
// fans in standalone mode, duty is quantized to on/off at the 0.5
// threshold, the same software-PWM approach the heater uses.
type Fan struct {
	name string
	gpio core.GPIODriver
	pin  core.GPIOPin
	duty float64
}

// NewFan creates a fan controller for the named channel.
func NewFan(name string) *Fan {
	return &Fan{name: name}
}

// InitPin configures the fan's GPIO output.
func (f *Fan) InitPin(gpioDriver core.GPIODriver, pinName string) error {
	pin, err := parsePin(pinName)
	if err != nil {
		return err
	}
	f.gpio = gpioDriver
	f.pin = core.GPIOPin(pin)
	if err := gpioDriver.ConfigureOutput(f.pin); err != nil {
		return err
	}
	return gpioDriver.SetPin(f.pin, false)
}

// SetDuty sets the fan's commanded duty cycle (0..1).
func (f *Fan) SetDuty(duty float64) error {
	f.duty = clampFloat(duty, 0, 1)
	return f.gpio.SetPin(f.pin, f.duty >= 0.5)
}

// Duty returns the fan's last commanded duty cycle.
func (f *Fan) Duty() float64 { return f.duty }
