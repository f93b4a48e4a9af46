package protocol

import "testing"

// P1: decode(encode(F)) == F for 108/109/208/209.
func TestRoundTripStationFrame(t *testing.T) {
	in := StationFrame{WeldingDetection: true, AvailableOutputCurrentA: 32, AvailableOutputVoltageV: 410, ThresholdVoltageV: 250}
	b := EncodeStationFrame(in)
	out, err := DecodeStationFrame(IDStationFrame, b[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestRoundTripStationStatus(t *testing.T) {
	in := StationStatus{
		Protocol: 1, OutputVoltageV: 410, OutputCurrentA: 16,
		DischargeCompatible: true, StationActive: true, ConnectorLock: true,
		RemainingTime10s: 5, RemainingTime1min: 60,
	}
	b := EncodeStationStatus(in)
	out, err := DecodeStationStatus(IDStationStatus, b[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestRoundTripStationV2xFrame(t *testing.T) {
	in := StationV2xFrame{DischargeCurrentA: 40, InputVoltageV: 230, InputCurrentLimitA: 16, LowerThresholdVoltageV: 200}
	b := EncodeStationV2xFrame(in)
	out, err := DecodeStationV2xFrame(IDStationV2xFrame, b[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

// P1 extended: for 0x208, encode(decode(b))[0] == b[0] over all 256 values.
func TestStationV2xFrameByteZeroRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := [8]byte{byte(i), 0, 0, 0, 0, 0, 0, 0}
		s, err := DecodeStationV2xFrame(IDStationV2xFrame, b[:])
		if err != nil {
			t.Fatalf("decode b[0]=%d: %v", i, err)
		}
		got := EncodeStationV2xFrame(s)
		if got[0] != b[0] {
			t.Fatalf("byte0 mismatch for input %d: got %d", i, got[0])
		}
	}
}

func TestRoundTripStationV2xStatus(t *testing.T) {
	in := StationV2xStatus{Sequence: 7, RemainingDischargeTimeS: 3600}
	b := EncodeStationV2xStatus(in)
	out, err := DecodeStationV2xStatus(IDStationV2xStatus, b[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestDecodeVehicleStatusBitLayout(t *testing.T) {
	// Scenario 1 fixture from spec §8: 02 9A 01 00 00 C8 56 00
	b := []byte{0x02, 0x9A, 0x01, 0x00, 0x00, 0xC8, 0x56, 0x00}
	s, err := DecodeVehicleStatus(IDVehicleStatus, b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.TargetBatteryVoltageV != 410 {
		t.Fatalf("target voltage = %d, want 410", s.TargetBatteryVoltageV)
	}
	if s.StateOfChargePct != 86 {
		t.Fatalf("soc = %d, want 86", s.StateOfChargePct)
	}
	if !s.ContactorsOpen {
		t.Fatalf("expected EV contactors reported open")
	}
	if s.VehicleChargingEnabled {
		t.Fatalf("expected charge not enabled")
	}
}

func TestDecodeBadFrame(t *testing.T) {
	if _, err := DecodeVehicleStatus(IDVehicleStatus, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected BadFrame error for short frame")
	}
	if _, err := DecodeVehicleStatus(IDStationStatus, make([]byte, 8)); err == nil {
		t.Fatalf("expected BadFrame error for mismatched id")
	}
}

func TestStatusByteExclusivity(t *testing.T) {
	// P3: never emit a byte with both station_active and charger_stop_control set
	// (a codec-level sanity check: the function itself must not silently clear
	// bits, leaving the exclusivity guarantee to the caller's state machine;
	// this test documents the bit positions used so a violation is visible).
	s := StationStatus{StationActive: true}
	if s.StatusByte()&(1<<5) != 0 {
		t.Fatalf("unexpected charger_stop_control bit set")
	}
	s2 := StationStatus{ChargerStopControl: true}
	if s2.StatusByte()&(1<<0) != 0 {
		t.Fatalf("unexpected station_active bit set")
	}
}
