package aux

import "testing"

func TestFanSetDutyQuantizesToOnOff(t *testing.T) {
	f := NewFan("fan0")
	gpio := newMockGPIO()
	if err := f.InitPin(gpio, "gpio9"); err != nil {
		t.Fatalf("InitPin: %v", err)
	}

	if err := f.SetDuty(0.75); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if !gpio.outputs[f.pin] {
		t.Errorf("expected duty >= 0.5 to drive the pin high")
	}

	if err := f.SetDuty(0.2); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if gpio.outputs[f.pin] {
		t.Errorf("expected duty < 0.5 to drive the pin low")
	}
}

func TestFanSetDutyClamps(t *testing.T) {
	f := NewFan("fan0")
	gpio := newMockGPIO()
	if err := f.InitPin(gpio, "gpio9"); err != nil {
		t.Fatalf("InitPin: %v", err)
	}

	if err := f.SetDuty(5); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if f.Duty() != 1 {
		t.Errorf("expected duty clamped to 1, got %v", f.Duty())
	}

	if err := f.SetDuty(-3); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if f.Duty() != 0 {
		t.Errorf("expected duty clamped to 0, got %v", f.Duty())
	}
}
