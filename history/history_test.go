package history

import "testing"

func TestInactiveGatesIdleAndTeardown(t *testing.T) {
	cases := map[string]bool{
		"":           true,
		"Idle":       true,
		"Teardown":   true,
		"PreEnergize": false,
		"LockPlug":    false,
		"KLineWait":   false,
		"PreCharge":   false,
		"Active":      false,
	}
	for state, want := range cases {
		if got := inactive(state); got != want {
			t.Errorf("inactive(%q) = %v, want %v", state, got, want)
		}
	}
}
