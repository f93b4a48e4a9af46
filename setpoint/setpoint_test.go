package setpoint

import (
	"math"
	"testing"
)

func TestVehicleTrackingCapsAtUserLimit(t *testing.T) {
	sp, stop := VehicleTracking(16, 32, 50, nil)
	if stop {
		t.Fatal("unexpected stop")
	}
	if sp != 16 {
		t.Errorf("sp = %v, want 16", sp)
	}
}

func TestVehicleTrackingSoCLimit(t *testing.T) {
	limit := 80
	sp, stop := VehicleTracking(16, 32, 80, &limit)
	if !stop {
		t.Fatal("expected stop at soc == limit")
	}
	if sp != 0 {
		t.Errorf("sp = %v, want 0", sp)
	}

	sp, stop = VehicleTracking(16, 32, 79, &limit)
	if stop || sp != 16 {
		t.Errorf("below limit: sp=%v stop=%v, want 16,false", sp, stop)
	}
}

func TestDischargeMirrorsAndNegates(t *testing.T) {
	sp, stop := Discharge(16, 32, 50, nil)
	if stop || sp != -16 {
		t.Errorf("sp=%v stop=%v, want -16,false", sp, stop)
	}
}

func TestMeterFollowFirstTickSeedsFromLast(t *testing.T) {
	var s MeterFollowState
	got := s.MeterFollow(2.0, 390, 32, 16, 60, false)
	// last starts at zero, so new = 0 - (2/390)*0.45, clamped into bounds.
	want := 0 - (2.0/390)*convergenceGain
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestMeterFollowHysteresisOnUnchangedMeter(t *testing.T) {
	var s MeterFollowState
	first := s.MeterFollow(2.0, 390, 32, 16, 60, false)
	second := s.MeterFollow(2.0, 390, 32, 16, 60, false)
	if first != second {
		t.Errorf("unchanged meter should hold: first=%v second=%v", first, second)
	}
}

func TestMeterFollowNonFiniteHolds(t *testing.T) {
	var s MeterFollowState
	first := s.MeterFollow(1.0, 390, 32, 16, 60, false)
	second := s.MeterFollow(math.NaN(), 390, 32, 16, 60, false)
	if first != second {
		t.Errorf("non-finite meter should hold: first=%v second=%v", first, second)
	}
}

func TestMeterFollowSoCSafetyOverrides(t *testing.T) {
	s := &MeterFollowState{last: -5}
	got := s.MeterFollow(10.0, 390, 32, 16, MinSOC, false)
	if got != 0 {
		t.Errorf("at MinSOC with negative result, want 0, got %v", got)
	}

	s2 := &MeterFollowState{last: 5}
	got2 := s2.MeterFollow(-10.0, 390, 32, 16, MaxSOC, false)
	if got2 != 0 {
		t.Errorf("at MaxSOC with positive result, want 0, got %v", got2)
	}
}

func TestMeterFollowEcoClampsNegativeToZero(t *testing.T) {
	s := &MeterFollowState{last: 5, lastMeter: 0, haveLast: true}
	got := s.MeterFollow(10.0, 390, 32, 16, 60, true)
	if got < 0 {
		t.Errorf("eco must not go negative, got %v", got)
	}
}

func TestSoCToVoltageMonotoneAndBounded(t *testing.T) {
	prev := -1.0
	for soc := 0; soc <= 98; soc++ {
		v := SoCToVoltage(soc, 0, 0)
		if v < curveMinV || v > curveMaxV {
			t.Fatalf("soc=%d v=%v out of [%v,%v]", soc, v, curveMinV, curveMaxV)
		}
		if v < prev {
			t.Fatalf("not monotone at soc=%d: prev=%v v=%v", soc, prev, v)
		}
		prev = v
	}
}

func TestSoCToVoltageEVClamp(t *testing.T) {
	v := SoCToVoltage(98, 350, 380)
	if v != 380 {
		t.Errorf("v = %v, want clamped to EV max 380", v)
	}
}
