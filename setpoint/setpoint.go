// Package setpoint implements the three current-setpoint control laws (spec
// §4.6): vehicle-tracking charge, its discharge mirror, and the V2H/Eco
// meter-follow controller, plus the SoC-to-voltage curve used to drive
// PreCharge. Grounded on the original's chademo/chademo.rs setpoint
// functions, reshaped into small pure functions in the teacher's
// x/mathx style (clamp.go) rather than the original's inline arithmetic.
package setpoint

import (
	"math"

	"github.com/rand12345/beaglebone-v2h/x/mathx"
)

// MinSOC and MaxSOC bound the safety overrides shared by every controller
// (spec I6, §4.6.3).
const (
	MinSOC = 0
	MaxSOC = 100
)

// VehicleTracking implements 4.6.1: setpoint := min(user_cap,
// charging_current_request), gated to zero once soc_limit is reached.
// stopRequested reports whether the SoC limit was hit this tick, which the
// caller (session Active state) uses to set charger_stop_control.
func VehicleTracking(userCapA, chargingCurrentRequestA float64, soc int, socLimit *int) (setpointA float64, stopRequested bool) {
	if socLimit != nil && soc >= *socLimit {
		return 0, true
	}
	if soc >= MaxSOC {
		return 0, false
	}
	return math.Min(userCapA, chargingCurrentRequestA), false
}

// Discharge implements 4.6.2: the mirror of VehicleTracking with a negated
// sign and the vehicle's own discharge current bound. Its soc_limit is a
// floor: discharge stops once SoC <= soc_limit.
func Discharge(userCapA, maximumDischargeCurrentA float64, soc int, socLimit *int) (setpointA float64, stopRequested bool) {
	if socLimit != nil && soc <= *socLimit {
		return 0, true
	}
	if soc <= MinSOC {
		return 0, false
	}
	return -math.Min(userCapA, maximumDischargeCurrentA), false
}

// MeterFollowState carries the V2H/Eco controller's memory across ticks:
// the last commanded setpoint and the last meter reading seen, needed for
// the hysteresis rule (§4.6.3: unchanged or non-finite meter ⇒ hold).
type MeterFollowState struct {
	last      float64
	lastMeter float64
	haveLast  bool
}

// convergenceGain is the fixed empirical rate factor from §4.6.3.
const convergenceGain = 0.45

// MeterFollow implements 4.6.3. vOut must be the converter's current DC
// output voltage (the divisor); eco clamps the result to charge-only
// (negative values become 0).
func (s *MeterFollowState) MeterFollow(meterKW, vOut float64, maxDischargeA, chargingCurrentRequestA float64, soc int, eco bool) float64 {
	if s.haveLast && (meterKW == s.lastMeter || !isFiniteNormal(meterKW)) {
		return s.last
	}

	next := s.last
	if vOut > 0 {
		next = s.last - (meterKW/vOut)*convergenceGain
	}
	next = mathx.Clamp(next, -maxDischargeA, chargingCurrentRequestA)

	if soc <= MinSOC && next < 0 {
		next = 0
	}
	if soc >= MaxSOC && next > 0 {
		next = 0
	}
	if eco && next < 0 {
		next = 0
	}

	s.last = next
	s.lastMeter = meterKW
	s.haveLast = true
	return next
}

func isFiniteNormal(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// curveMinV, curveMaxV are the curve's nominal rail bounds (§4.6.4);
// the EV-reported min/max further clamp the result per vehicle.
const (
	curveMinV  = 330.0
	curveMaxV  = 394.0
	curveMaxSOC = 98.0
)

// SoCToVoltage implements 4.6.4, clamped to the EV-reported battery voltage
// range. P2 requires the result be non-decreasing in soc and stay within
// [330, 394] before the EV clamp is applied.
func SoCToVoltage(soc int, evMinV, evMaxV float64) float64 {
	v := curveMinV + (curveMaxV-curveMinV)*float64(soc)/curveMaxSOC
	v = mathx.Clamp(v, curveMinV, curveMaxV)
	if evMinV > 0 && evMaxV > 0 {
		v = mathx.Clamp(v, evMinV, evMaxV)
	}
	return v
}
