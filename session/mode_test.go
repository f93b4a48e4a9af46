package session

import (
	"encoding/json"
	"testing"
)

func TestOperationModeMarshalUnitVariant(t *testing.T) {
	b, err := json.Marshal(OperationMode{Kind: ModeV2h})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"V2h"` {
		t.Errorf("got %s, want \"V2h\"", b)
	}
}

func TestOperationModeMarshalStructVariant(t *testing.T) {
	limit := 100
	om := OperationMode{Kind: ModeCharge, Params: ChargeParameters{AmpsCap: 15, Eco: false, SocLimit: &limit}}
	b, err := json.Marshal(om)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"Charge":{"amps":15,"eco":false,"soc_limit":100}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestOperationModeUnmarshalUnitVariant(t *testing.T) {
	var om OperationMode
	if err := json.Unmarshal([]byte(`"V2h"`), &om); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if om.Kind != ModeV2h {
		t.Errorf("Kind = %v, want ModeV2h", om.Kind)
	}
}

func TestOperationModeUnmarshalStructVariant(t *testing.T) {
	raw := `{"Charge":{"amps":15,"eco":false,"soc_limit":100}}`
	var om OperationMode
	if err := json.Unmarshal([]byte(raw), &om); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if om.Kind != ModeCharge {
		t.Errorf("Kind = %v, want ModeCharge", om.Kind)
	}
	if om.Params.AmpsCap != 15 || om.Params.Eco != false {
		t.Errorf("Params = %+v", om.Params)
	}
	if om.Params.SocLimit == nil || *om.Params.SocLimit != 100 {
		t.Errorf("SocLimit = %v, want 100", om.Params.SocLimit)
	}
}

func TestOperationModeRoundTrip(t *testing.T) {
	in := OperationMode{Kind: ModeDischarge, Params: ChargeParameters{AmpsCap: 10, Eco: true}}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out OperationMode
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Kind != in.Kind || out.Params.AmpsCap != in.Params.AmpsCap || out.Params.Eco != in.Params.Eco {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}
