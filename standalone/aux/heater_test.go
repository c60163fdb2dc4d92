package aux

import (
	"testing"

	"apcore/core"
	"apcore/standalone"
)

type mockGPIO struct {
	outputs map[core.GPIOPin]bool
}

func newMockGPIO() *mockGPIO {
	return &mockGPIO{outputs: make(map[core.GPIOPin]bool)}
}

func (m *mockGPIO) ConfigureOutput(pin core.GPIOPin) error        { m.outputs[pin] = false; return nil }
func (m *mockGPIO) ConfigureInputPullUp(pin core.GPIOPin) error   { return nil }
func (m *mockGPIO) ConfigureInputPullDown(pin core.GPIOPin) error { return nil }
func (m *mockGPIO) SetPin(pin core.GPIOPin, value bool) error     { m.outputs[pin] = value; return nil }
func (m *mockGPIO) GetPin(pin core.GPIOPin) (bool, error)         { return m.outputs[pin], nil }
func (m *mockGPIO) ReadPin(pin core.GPIOPin) bool                 { return m.outputs[pin] }

// fakeThermistor lets tests drive ADCSample's reading directly instead of
// modeling real thermistor curves.
type fakeThermistor struct {
	celsius float64
	ready   bool
}

func installFakeADC(t *testing.T) *fakeThermistor {
	t.Helper()
	therm := &fakeThermistor{ready: true}
	prevSetup, prevSample, prevCancel := core.ADCSetup, core.ADCSample, core.ADCCancel
	core.ADCSetup = func(pin uint32) error { return nil }
	core.ADCSample = func(pin uint32) (uint16, bool) {
		return uint16(therm.celsius / 300.0 * 65535.0), therm.ready
	}
	core.ADCCancel = func(pin uint32) {}
	t.Cleanup(func() {
		core.ADCSetup, core.ADCSample, core.ADCCancel = prevSetup, prevSample, prevCancel
	})
	return therm
}

func testHeaterConfig() standalone.HeaterConfig {
	return standalone.HeaterConfig{
		SensorPin:        "adc0",
		HeaterPin:        "gpio4",
		PID:              [3]float64{0.5, 0.05, 0},
		MinTemp:          0,
		MaxTemp:          260,
		MaxPower:         1.0,
		ControlInterval:  0,
		WaitTimeout:      core.TimerFreq * 5,
		WaitReportPeriod: core.TimerFreq,
	}
}

func newTestHeater(t *testing.T) (*Heater, *mockGPIO, *fakeThermistor) {
	t.Helper()
	therm := installFakeADC(t)
	h := NewHeater("extruder", testHeaterConfig())
	gpio := newMockGPIO()
	if err := h.InitPins(gpio); err != nil {
		t.Fatalf("InitPins: %v", err)
	}
	return h, gpio, therm
}

func TestHeaterSetTargetEntersHeating(t *testing.T) {
	h, _, _ := newTestHeater(t)
	h.SetTarget(200)
	if h.Target() != 200 {
		t.Errorf("expected target 200, got %v", h.Target())
	}
	if h.AtTarget() {
		t.Errorf("a cold heater should not report at-target immediately")
	}
}

func TestHeaterSetTargetClampsToMaxTemp(t *testing.T) {
	h, _, _ := newTestHeater(t)
	h.SetTarget(9000)
	if h.Target() != 260 {
		t.Errorf("expected target clamped to MaxTemp 260, got %v", h.Target())
	}
}

func TestHeaterTickTracksTemperatureAndReachesTarget(t *testing.T) {
	h, _, therm := newTestHeater(t)
	therm.celsius = 20
	h.SetTarget(20)

	h.Tick()
	if !h.AtTarget() {
		t.Errorf("expected a heater already at its target to report AtTarget")
	}
}

func TestHeaterOvertemperatureLatchesFault(t *testing.T) {
	h, gpio, therm := newTestHeater(t)
	therm.celsius = 20
	h.SetTarget(200)

	therm.celsius = 270 // MaxTemp(260) + 5 trips the overtemp guard
	h.Tick()

	if !h.IsFaulted() {
		t.Fatalf("expected overtemperature to latch a fault")
	}
	if gpio.outputs[h.heaterPin] {
		t.Errorf("expected the heater output forced off on fault")
	}
}

func TestHeaterBelowMinSafeTempLatchesFault(t *testing.T) {
	h, gpio, therm := newTestHeater(t)
	h.config.MinTemp = 10
	therm.celsius = 20
	h.SetTarget(20)
	h.Tick()
	if h.IsFaulted() {
		t.Fatalf("expected no fault while the reading is above MinTemp")
	}

	therm.celsius = 5 // below MinTemp(10): a disconnected or shorted sensor
	h.Tick()

	if !h.IsFaulted() {
		t.Fatalf("expected a reading below MinSafeTemp to latch a fault")
	}
	if gpio.outputs[h.heaterPin] {
		t.Errorf("expected the heater output forced off on fault")
	}
}

func TestHeaterClearFaultResetsState(t *testing.T) {
	h, _, therm := newTestHeater(t)
	therm.celsius = 270
	h.SetTarget(200)
	h.Tick()
	if !h.IsFaulted() {
		t.Fatalf("expected fault before ClearFault")
	}

	h.ClearFault()
	if h.IsFaulted() {
		t.Errorf("expected ClearFault to release the latch")
	}
	if h.Target() != 0 {
		t.Errorf("expected ClearFault to zero the target")
	}
}

func TestHeaterSetTargetIgnoredWhileFaulted(t *testing.T) {
	h, _, therm := newTestHeater(t)
	therm.celsius = 270
	h.SetTarget(200)
	h.Tick()

	h.SetTarget(150)
	if h.Target() != 0 {
		t.Errorf("expected SetTarget to be a no-op while faulted, got target=%v", h.Target())
	}
}

func TestWaitUntilReachedReturnsOnceAtTarget(t *testing.T) {
	h, _, therm := newTestHeater(t)
	therm.celsius = 200
	h.SetTarget(200)

	if err := h.WaitUntilReached(nil); err != nil {
		t.Fatalf("WaitUntilReached: %v", err)
	}
}

func TestWaitUntilReachedTimesOut(t *testing.T) {
	// The host build's clock never free-runs on its own, so a nonzero
	// timeout would spin forever here; a zero timeout guarantees the
	// very first loop iteration trips it instead.
	h, _, therm := newTestHeater(t)
	therm.celsius = 20
	h.config.WaitTimeout = 0
	h.SetTarget(200)

	if err := h.WaitUntilReached(nil); err == nil {
		t.Errorf("expected WaitUntilReached to time out for a heater that never reaches target")
	}
}

func TestAdcToCelsiusLinearRange(t *testing.T) {
	if got := adcToCelsius(0); got != 0 {
		t.Errorf("expected 0 ADC counts to map to 0C, got %v", got)
	}
	if got := adcToCelsius(65535); got < 299.99 || got > 300.01 {
		t.Errorf("expected full-scale ADC counts to map to ~300C, got %v", got)
	}
}
