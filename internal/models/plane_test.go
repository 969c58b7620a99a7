package models

import "testing"

// TestDimensions verifies the plane and volume size helpers
func TestDimensions(t *testing.T) {
	d := Dimensions{Width: 4, Height: 3, Depth: 5}

	if d.PlaneLen() != 12 {
		t.Errorf("Expected plane length 12, got %d", d.PlaneLen())
	}
	if d.PlaneBytes() != 24 {
		t.Errorf("Expected plane bytes 24, got %d", d.PlaneBytes())
	}
	if d.VolumeBytes() != 120 {
		t.Errorf("Expected volume bytes 120, got %d", d.VolumeBytes())
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Expected valid dimensions, got %v", err)
	}

	if err := (Dimensions{Width: 4, Height: 0, Depth: 5}).Validate(); err == nil {
		t.Error("Expected zero height to be rejected")
	}
}

// TestParseKernelMode checks that every mode name parses back to its value
func TestParseKernelMode(t *testing.T) {
	for _, mode := range []KernelMode{Independent, EfficientBayesian, Optimization1, Optimization2} {
		parsed, err := ParseKernelMode(mode.String())
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", mode, err)
		}
		if parsed != mode {
			t.Errorf("Expected %s, got %s", mode, parsed)
		}
	}

	parsed, err := ParseKernelMode(" efficient_bayesian ")
	if err != nil || parsed != EfficientBayesian {
		t.Errorf("Expected case-insensitive parse to yield EFFICIENT_BAYESIAN, got %s (%v)", parsed, err)
	}

	if _, err := ParseKernelMode("OPTIMIZATION_3"); err == nil {
		t.Error("Expected unknown mode to be rejected")
	}
}

func TestWorkerStateString(t *testing.T) {
	if Idle.String() != "idle" || Computing.String() != "computing" || ShuttingDown.String() != "shutting-down" {
		t.Errorf("Unexpected state names: %s %s %s", Idle, Computing, ShuttingDown)
	}
}
