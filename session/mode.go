package session

import (
	"encoding/json"
	"fmt"
)

// Mode is the tagged OperationMode variant from spec §3.
type Mode int

const (
	ModeUninitialised Mode = iota
	ModeIdle
	ModeV2h
	ModeCharge
	ModeDischarge
	ModeQuit
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "Idle"
	case ModeV2h:
		return "V2h"
	case ModeCharge:
		return "Charge"
	case ModeDischarge:
		return "Discharge"
	case ModeQuit:
		return "Quit"
	default:
		return "Uninitialised"
	}
}

// MarshalJSON renders the mode as its spec-§6.3 tag string ("Idle", "V2h",
// "Charge", "Discharge", "Quit") rather than its underlying int.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON parses a spec-§6.3 tag string back into a Mode.
func (m *Mode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "Idle":
		*m = ModeIdle
	case "V2h":
		*m = ModeV2h
	case "Charge":
		*m = ModeCharge
	case "Discharge":
		*m = ModeDischarge
	case "Quit":
		*m = ModeQuit
	default:
		*m = ModeUninitialised
	}
	return nil
}

// ChargeParameters carries the recognized options for Charge/Discharge
// modes (spec §3): a user amps cap, an eco (meter-follow, charge-only)
// flag, and an optional SoC upper bound.
type ChargeParameters struct {
	AmpsCap  float64
	Eco      bool
	SocLimit *int
}

// chargeParamsWire is ChargeParameters' wire shape, matching the original's
// api/mod.rs struct-variant payload: {"amps":15,"eco":false,"soc_limit":100}.
type chargeParamsWire struct {
	Amps     float64 `json:"amps"`
	Eco      bool    `json:"eco"`
	SocLimit *int    `json:"soc_limit,omitempty"`
}

// OperationMode pairs a Mode with its parameters; Params is only
// meaningful for ModeCharge/ModeDischarge.
type OperationMode struct {
	Kind   Mode
	Params ChargeParameters
}

// MarshalJSON renders OperationMode as a serde-style externally-tagged
// enum (spec §6.3, resolved against the original's api/mod.rs): unit
// variants (Idle, V2h, Quit, Uninitialised) encode as a bare tag string;
// the Charge/Discharge struct variants encode as a single-key object
// mapping the tag to their parameters, e.g.
// {"Charge":{"amps":15,"eco":false,"soc_limit":100}}.
func (o OperationMode) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case ModeCharge, ModeDischarge:
		wire := chargeParamsWire{Amps: o.Params.AmpsCap, Eco: o.Params.Eco, SocLimit: o.Params.SocLimit}
		return json.Marshal(map[string]chargeParamsWire{o.Kind.String(): wire})
	default:
		return json.Marshal(o.Kind.String())
	}
}

// UnmarshalJSON parses either wire shape back into an OperationMode.
func (o *OperationMode) UnmarshalJSON(b []byte) error {
	var tag string
	if err := json.Unmarshal(b, &tag); err == nil {
		var m Mode
		if err := m.UnmarshalJSON(b); err != nil {
			return err
		}
		*o = OperationMode{Kind: m}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if len(obj) != 1 {
		return fmt.Errorf("operation mode: expected a single-key tagged object, got %d keys", len(obj))
	}
	for tagName, raw := range obj {
		var m Mode
		tagBytes, err := json.Marshal(tagName)
		if err != nil {
			return err
		}
		if err := m.UnmarshalJSON(tagBytes); err != nil {
			return err
		}
		var wire chargeParamsWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return err
		}
		*o = OperationMode{Kind: m, Params: ChargeParameters{AmpsCap: wire.Amps, Eco: wire.Eco, SocLimit: wire.SocLimit}}
	}
	return nil
}
