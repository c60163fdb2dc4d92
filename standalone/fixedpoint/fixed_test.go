package fixedpoint

import "testing"

func TestStepFixedMax(t *testing.T) {
	cases := []struct {
		bits uint
		want uint32
	}{
		{bits: 8, want: 255},
		{bits: 16, want: 65535},
		{bits: 32, want: 0xFFFFFFFF},
	}
	for _, c := range cases {
		got := NewStepFixed(c.bits).Max()
		if got != c.want {
			t.Errorf("bits=%d: Max()=%d want %d", c.bits, got, c.want)
		}
	}
}

func TestStepFixedClampSaturates(t *testing.T) {
	f := NewStepFixed(8)
	if got := f.Clamp(1000); got != 255 {
		t.Errorf("Clamp(1000) = %d, want 255", got)
	}
	if got := f.Clamp(10); got != 10 {
		t.Errorf("Clamp(10) = %d, want 10", got)
	}
}

func TestQuadraticStepTimingUniform(t *testing.T) {
	// a == 0 must yield a flat interval with zero add, and count*interval == t.
	interval, add := QuadraticStepTiming(100, 10000, 0)
	if add != 0 {
		t.Errorf("expected zero add for uniform rate, got %d", add)
	}
	if interval != 100 {
		t.Errorf("expected interval=100, got %d", interval)
	}
}

func TestQuadraticStepTimingAccelerating(t *testing.T) {
	// Positive a means the move ends faster than it started: the first
	// interval should be noticeably longer than the uniform-rate interval.
	interval, add := QuadraticStepTiming(100, 10000, 50)
	if add >= 0 {
		t.Errorf("expected negative add (shrinking interval) for accelerating move, got %d", add)
	}
	if interval <= 100 {
		t.Errorf("expected first interval > uniform interval (100), got %d", interval)
	}
}

func TestQuadraticStepTimingZeroCount(t *testing.T) {
	interval, add := QuadraticStepTiming(0, 1000, 0)
	if interval != 0 || add != 0 {
		t.Errorf("expected zeroes for zero-count command, got interval=%d add=%d", interval, add)
	}
}
