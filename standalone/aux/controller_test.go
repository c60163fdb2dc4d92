package aux

import (
	"testing"

	"apcore/standalone"
)

func testMachineConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Heaters: map[string]standalone.HeaterConfig{
			"extruder": testHeaterConfig(),
			"bed": {
				SensorPin:        "adc1",
				HeaterPin:        "gpio5",
				PID:              [3]float64{0.3, 0.02, 0},
				MaxTemp:          120,
				MaxPower:         1.0,
				WaitTimeout:      0,
				WaitReportPeriod: 1,
			},
		},
		Fans: map[string]standalone.FanConfig{
			"fan0": {Pin: "gpio9"},
		},
		MinExtrusionTemp: 170,
	}
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	installFakeADC(t)
	c := NewController(testMachineConfig())
	gpio := newMockGPIO()
	if err := c.Init(gpio); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return c
}

func TestControllerSetHeaterTargetUnknownHeater(t *testing.T) {
	c := newTestController(t)
	if err := c.SetHeaterTarget("chamber", 50); err == nil {
		t.Errorf("expected an error for an unconfigured heater channel")
	}
}

func TestControllerSetAndReadHeaterTarget(t *testing.T) {
	c := newTestController(t)
	if err := c.SetHeaterTarget("extruder", 200); err != nil {
		t.Fatalf("SetHeaterTarget: %v", err)
	}
	target, ok := c.HeaterTarget("extruder")
	if !ok || target != 200 {
		t.Errorf("expected extruder target 200, got %v (ok=%v)", target, ok)
	}
}

func TestControllerExtrusionInterlock(t *testing.T) {
	c := newTestController(t)
	if c.ExtrusionAllowed() {
		t.Errorf("expected cold extrusion blocked below MinExtrusionTemp")
	}

	c.SetExtrusionOverride(true)
	if !c.ExtrusionAllowed() {
		t.Errorf("expected the M302 override to allow extrusion")
	}
}

func TestControllerFanDutyUnknownFan(t *testing.T) {
	c := newTestController(t)
	if err := c.SetFanDuty("fan9", 1); err == nil {
		t.Errorf("expected an error for an unconfigured fan channel")
	}
	if err := c.SetFanDuty("fan0", 1); err != nil {
		t.Errorf("SetFanDuty: %v", err)
	}
}

func TestControllerDisableAllZeroesOutputs(t *testing.T) {
	c := newTestController(t)
	_ = c.SetHeaterTarget("extruder", 200)
	_ = c.SetFanDuty("fan0", 1)

	c.DisableAll()

	target, _ := c.HeaterTarget("extruder")
	if target != 0 {
		t.Errorf("expected DisableAll to zero the heater target, got %v", target)
	}
	if c.fans["fan0"].Duty() != 0 {
		t.Errorf("expected DisableAll to zero the fan duty")
	}
}

func TestControllerAnyFaultAndClearFaults(t *testing.T) {
	c := newTestController(t)
	// Drive the extruder into an overtemperature fault directly.
	c.heaters["extruder"].state = HeaterFault

	if !c.AnyFault() {
		t.Fatalf("expected AnyFault to report the latched heater fault")
	}

	c.ClearFaults()
	if c.AnyFault() {
		t.Errorf("expected ClearFaults to release every heater's latch")
	}
}
