// Package thermal implements the station's fan-duty controller (spec §4.4):
// a temperature-to-PWM-duty curve with falling-edge dwell to prevent
// thermal oscillation, grounded on the original's pre_charger/fans.rs
// Fan.update() shape and the teacher's services/hal/timerutil.go timer
// helpers.
package thermal

import (
	"math"
	"time"
)

const (
	Fan0  = 50.0 // °C, duty 0
	Fan100 = 70.0 // °C, duty 100

	dwell      = 20 * time.Second
	jitterBand = 20 // duties below this clamp to 0
)

// Controller holds the falling-edge dwell state across ticks.
type Controller struct {
	lastDuty   int
	lastChange time.Time
}

// NewController returns a Controller with no prior commanded duty.
func NewController() *Controller {
	return &Controller{}
}

// duty computes the raw (pre-dwell) duty for a given temperature, per
// spec §4.4: duty(t) = clamp(round((t-FAN0)*100/(FAN100-FAN0)), 0, 100).
func duty(tempC float64) int {
	raw := math.Round((tempC - Fan0) * 100 / (Fan100 - Fan0))
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	d := int(raw)
	if d < jitterBand {
		d = 0
	}
	return d
}

// Update advances the controller for the current tick and returns the duty
// to command. A decrease from the previously commanded duty is held for
// `dwell` (20s) since the last commanded change (P7).
func (c *Controller) Update(now time.Time, tempC float64) int {
	want := duty(tempC)

	if c.lastChange.IsZero() {
		c.lastDuty = want
		c.lastChange = now
		return want
	}

	if want >= c.lastDuty {
		if want != c.lastDuty {
			c.lastDuty = want
			c.lastChange = now
		}
		return c.lastDuty
	}

	// want < lastDuty: a decrease. Hold until dwell elapses.
	if now.Sub(c.lastChange) < dwell {
		return c.lastDuty
	}
	c.lastDuty = want
	c.lastChange = now
	return c.lastDuty
}
