package aux

import (
	"errors"

	"apcore/core"
	"apcore/standalone"
)

// Controller owns every configured heater and fan and is the single point
// the G-code aux surface (M104/M109/M140/M190/M141/M191/M105/M106/M107/
// M116/M302/M921/M922) dispatches into.
type Controller struct {
	config  *standalone.MachineConfig
	heaters map[string]*Heater
	fans    map[string]*Fan

	extrusionOverride bool
}

// NewController creates an aux controller for the given machine config.
func NewController(config *standalone.MachineConfig) *Controller {
	return &Controller{
		config:  config,
		heaters: make(map[string]*Heater, len(config.Heaters)),
		fans:    make(map[string]*Fan, len(config.Fans)),
	}
}

// Init configures every heater and fan's GPIO/ADC pins.
func (c *Controller) Init(gpioDriver core.GPIODriver) error {
	for name, hc := range c.config.Heaters {
		h := NewHeater(name, hc)
		if err := h.InitPins(gpioDriver); err != nil {
			return err
		}
		c.heaters[name] = h
	}
	for name, fc := range c.config.Fans {
		f := NewFan(name)
		if err := f.InitPin(gpioDriver, fc.Pin); err != nil {
			return err
		}
		c.fans[name] = f
	}
	return nil
}

// Tick runs one control-loop iteration for every heater. Call this from the
// manager's main loop at roughly the heaters' ControlInterval granularity.
func (c *Controller) Tick() {
	for _, h := range c.heaters {
		h.Tick()
	}
}

// SetHeaterTarget implements M104/M140/M141's non-waiting target set.
func (c *Controller) SetHeaterTarget(name string, target float64) error {
	h, ok := c.heaters[name]
	if !ok {
		return errors.New("unknown heater: " + name)
	}
	h.SetTarget(target)
	return nil
}

// WaitHeater implements M109/M190/M191's blocking wait, reporting progress
// via report as it goes.
func (c *Controller) WaitHeater(name string, report func(current, target float64)) error {
	h, ok := c.heaters[name]
	if !ok {
		return errors.New("unknown heater: " + name)
	}
	return h.WaitUntilReached(report)
}

// HeaterNames returns the configured heater channel names.
func (c *Controller) HeaterNames() []string {
	names := make([]string, 0, len(c.heaters))
	for name := range c.heaters {
		names = append(names, name)
	}
	return names
}

// HeaterCurrent returns a heater's most recently sampled temperature.
func (c *Controller) HeaterCurrent(name string) (float64, bool) {
	h, ok := c.heaters[name]
	if !ok {
		return 0, false
	}
	return h.Current(), true
}

// HeaterTarget returns a heater's commanded target temperature.
func (c *Controller) HeaterTarget(name string) (float64, bool) {
	h, ok := c.heaters[name]
	if !ok {
		return 0, false
	}
	return h.Target(), true
}

// SetFanDuty implements M106/M107.
func (c *Controller) SetFanDuty(name string, duty float64) error {
	f, ok := c.fans[name]
	if !ok {
		return errors.New("unknown fan: " + name)
	}
	return f.SetDuty(duty)
}

// ExtrusionAllowed implements the M302 cold-extrusion interlock: extruder
// moves are rejected below MinExtrusionTemp unless overridden.
func (c *Controller) ExtrusionAllowed() bool {
	if c.extrusionOverride {
		return true
	}
	h, ok := c.heaters["extruder"]
	if !ok {
		return true
	}
	return h.Current() >= c.config.MinExtrusionTemp
}

// SetExtrusionOverride implements M302's interlock override toggle.
func (c *Controller) SetExtrusionOverride(allow bool) {
	c.extrusionOverride = allow
}

// DisableAll forces every heater and fan off immediately, for the
// emergency-stop path.
func (c *Controller) DisableAll() {
	for _, h := range c.heaters {
		h.SetTarget(0)
		h.writeDuty()
	}
	for _, f := range c.fans {
		_ = f.SetDuty(0)
	}
}

// AnyFault reports whether any heater has latched a thermal-runaway fault.
func (c *Controller) AnyFault() bool {
	for _, h := range c.heaters {
		if h.IsFaulted() {
			return true
		}
	}
	return false
}

// ClearFaults clears every heater's runaway latch (M922).
func (c *Controller) ClearFaults() {
	for _, h := range c.heaters {
		h.ClearFault()
	}
}

// DumpDebug implements M921: dump each heater's state via the shared debug
// channel.
func (c *Controller) DumpDebug() {
	for name, h := range c.heaters {
		core.DebugPrintln("[AUX] heater " + name +
			" current=" + standalone.FormatFloat(h.Current(), 1) +
			" target=" + standalone.FormatFloat(h.Target(), 1))
	}
}
