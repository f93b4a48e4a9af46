// Package protocol implements the CHAdeMO / IEEE 2030.1.1 CAN frame codec
// (spec §4.1, §6.1): bit-exact encode/decode for the eight frame ids the
// station exchanges with the vehicle at 100 ms cadence.
package protocol

import (
	"fmt"

	"github.com/rand12345/beaglebone-v2h/errcode"
)

// CAN identifiers, standard 11-bit, 8-byte DLC, no RTR.
const (
	IDVehicleCapability  = 0x100 // EV -> EVSE, one-shot
	IDVehicleCapability2 = 0x101 // EV -> EVSE, one-shot
	IDVehicleStatus      = 0x102 // EV -> EVSE, 100ms
	IDStationFrame       = 0x108 // EVSE -> EV, 100ms
	IDStationStatus      = 0x109 // EVSE -> EV, 100ms
	IDVehicleV2x         = 0x200 // EV -> EVSE, 100ms
	IDStationV2xFrame    = 0x208 // EVSE -> EV, 100ms
	IDStationV2xStatus   = 0x209 // EVSE -> EV, 100ms
)

const frameLen = 8

func badFrame(id uint32, dlc int) error {
	return &errcode.E{C: errcode.BadFrame, Op: "decode", Msg: fmt.Sprintf("id=%#x dlc=%d", id, dlc)}
}

func checkFrame(wantID, gotID uint32, data []byte) error {
	if gotID != wantID || len(data) != frameLen {
		return badFrame(gotID, len(data))
	}
	return nil
}

// VehicleFrame is the one-shot capability broadcast carried by 0x100/0x101.
type VehicleFrame struct {
	MinChargeCurrentA    uint8
	MinBatteryVoltageV   uint16
	MaxBatteryVoltageV   uint16
	RatingConstant       uint8 // 0x100 byte 6, charge-rate constant
	MaxChargingTime10s   uint8 // 0x101 byte 1
	MaxChargingTime1min  uint8 // 0x101 byte 2
	EstimatedChargeTime  uint8 // 0x101 byte 3
	RatedBatteryCapacity uint16
}

// DecodeVehicleFrame100 decodes the 0x100 capability frame.
func DecodeVehicleFrame100(id uint32, data []byte) (VehicleFrame, error) {
	var v VehicleFrame
	if err := checkFrame(IDVehicleCapability, id, data); err != nil {
		return v, err
	}
	v.MinChargeCurrentA = data[0]
	v.MinBatteryVoltageV = uint16(data[2]) | uint16(data[3])<<8
	v.MaxBatteryVoltageV = uint16(data[4]) | uint16(data[5])<<8
	v.RatingConstant = data[6]
	return v, nil
}

// EncodeVehicleFrame100 is provided for test fixtures and simulators; the
// station never transmits 0x100 (it is EV -> EVSE).
func EncodeVehicleFrame100(v VehicleFrame) [8]byte {
	var b [8]byte
	b[0] = v.MinChargeCurrentA
	b[2] = byte(v.MinBatteryVoltageV)
	b[3] = byte(v.MinBatteryVoltageV >> 8)
	b[4] = byte(v.MaxBatteryVoltageV)
	b[5] = byte(v.MaxBatteryVoltageV >> 8)
	b[6] = v.RatingConstant
	return b
}

// DecodeVehicleFrame101 decodes the 0x101 capability frame and merges it
// into an existing VehicleFrame (0x100/0x101 together form one entity).
func DecodeVehicleFrame101(id uint32, data []byte, v *VehicleFrame) error {
	if err := checkFrame(IDVehicleCapability2, id, data); err != nil {
		return err
	}
	v.MaxChargingTime10s = data[1]
	v.MaxChargingTime1min = data[2]
	v.EstimatedChargeTime = data[3]
	v.RatedBatteryCapacity = uint16(data[5]) | uint16(data[6])<<8
	return nil
}

// VehicleFaults is the 0x102 faults byte, decomposed.
type VehicleFaults struct {
	VoltageDeviation bool
	HighTemperature  bool
	CurrentDeviation bool
	UnderVoltage     bool
	OverVoltage      bool
}

// Any reports whether any fault bit is set.
func (f VehicleFaults) Any() bool {
	return f.VoltageDeviation || f.HighTemperature || f.CurrentDeviation || f.UnderVoltage || f.OverVoltage
}

// VehicleStatus is the periodic 0x102 EV state frame.
type VehicleStatus struct {
	Protocol                byte
	TargetBatteryVoltageV   uint16
	ChargingCurrentRequestA uint8
	Fault                   VehicleFaults
	VehicleChargingEnabled  bool // status bit0
	ShifterNotPark          bool // status bit1
	ChargingSystemFault     bool // status bit2
	ContactorsOpen          bool // status bit3 (the EV's own contactors)
	NormalStopRequest       bool // status bit4
	DischargeCompatible     bool // status bit7
	StateOfChargePct        uint8
}

// CanCloseContactors implements the §4.5 KLineWait success predicate.
func (v VehicleStatus) CanCloseContactors() bool {
	return !v.NormalStopRequest &&
		!v.ChargingSystemFault &&
		!v.ShifterNotPark &&
		v.ContactorsOpen &&
		v.VehicleChargingEnabled &&
		v.TargetBatteryVoltageV > 0
}

// DecodeVehicleStatus decodes the 0x102 frame.
func DecodeVehicleStatus(id uint32, data []byte) (VehicleStatus, error) {
	var s VehicleStatus
	if err := checkFrame(IDVehicleStatus, id, data); err != nil {
		return s, err
	}
	s.Protocol = data[0]
	s.TargetBatteryVoltageV = uint16(data[1]) | uint16(data[2])<<8
	s.ChargingCurrentRequestA = data[3]

	faults := data[4]
	s.Fault = VehicleFaults{
		VoltageDeviation: faults&(1<<0) != 0,
		HighTemperature:  faults&(1<<1) != 0,
		CurrentDeviation: faults&(1<<2) != 0,
		UnderVoltage:     faults&(1<<3) != 0,
		OverVoltage:      faults&(1<<4) != 0,
	}

	status := data[5]
	s.VehicleChargingEnabled = status&(1<<0) != 0
	s.ShifterNotPark = status&(1<<1) != 0
	s.ChargingSystemFault = status&(1<<2) != 0
	s.ContactorsOpen = status&(1<<3) != 0
	s.NormalStopRequest = status&(1<<4) != 0
	s.DischargeCompatible = status&(1<<7) != 0

	s.StateOfChargePct = data[6]
	return s, nil
}

// EncodeVehicleStatus is provided for test fixtures / simulators.
func EncodeVehicleStatus(s VehicleStatus) [8]byte {
	var b [8]byte
	b[0] = s.Protocol
	b[1] = byte(s.TargetBatteryVoltageV)
	b[2] = byte(s.TargetBatteryVoltageV >> 8)
	b[3] = s.ChargingCurrentRequestA

	var faults byte
	if s.Fault.VoltageDeviation {
		faults |= 1 << 0
	}
	if s.Fault.HighTemperature {
		faults |= 1 << 1
	}
	if s.Fault.CurrentDeviation {
		faults |= 1 << 2
	}
	if s.Fault.UnderVoltage {
		faults |= 1 << 3
	}
	if s.Fault.OverVoltage {
		faults |= 1 << 4
	}
	b[4] = faults

	var status byte
	if s.VehicleChargingEnabled {
		status |= 1 << 0
	}
	if s.ShifterNotPark {
		status |= 1 << 1
	}
	if s.ChargingSystemFault {
		status |= 1 << 2
	}
	if s.ContactorsOpen {
		status |= 1 << 3
	}
	if s.NormalStopRequest {
		status |= 1 << 4
	}
	if s.DischargeCompatible {
		status |= 1 << 7
	}
	b[5] = status

	b[6] = s.StateOfChargePct
	return b
}

// VehicleV2xFrame is the 0x200 V2H-permissions frame.
type VehicleV2xFrame struct {
	MaximumDischargeCurrentA   uint8
	MinimumDischargeVoltageV  uint16
	MinimumBatteryDischargePct uint8
	MaxRemainingCapacityPct    uint8
}

// DecodeVehicleV2x decodes the 0x200 frame. Fields encoded as 255−value
// per spec §4.1 round-trip exactly: raw = 0xFF − magnitude.
func DecodeVehicleV2x(id uint32, data []byte) (VehicleV2xFrame, error) {
	var v VehicleV2xFrame
	if err := checkFrame(IDVehicleV2x, id, data); err != nil {
		return v, err
	}
	v.MaximumDischargeCurrentA = 0xFF - data[0]
	v.MinimumDischargeVoltageV = uint16(data[4]) | uint16(data[5])<<8
	v.MinimumBatteryDischargePct = 0xFF - data[6]
	v.MaxRemainingCapacityPct = data[7]
	return v, nil
}

// EncodeVehicleV2x is provided for test fixtures / simulators.
func EncodeVehicleV2x(v VehicleV2xFrame) [8]byte {
	var b [8]byte
	b[0] = 0xFF - v.MaximumDischargeCurrentA
	b[4] = byte(v.MinimumDischargeVoltageV)
	b[5] = byte(v.MinimumDischargeVoltageV >> 8)
	b[6] = 0xFF - v.MinimumBatteryDischargePct
	b[7] = v.MaxRemainingCapacityPct
	return b
}

// StationFrame is the 0x108 EVSE capability frame.
type StationFrame struct {
	WeldingDetection      bool
	AvailableOutputCurrentA uint8
	AvailableOutputVoltageV uint16
	ThresholdVoltageV       uint16
}

// EncodeStationFrame encodes the 0x108 frame.
func EncodeStationFrame(s StationFrame) [8]byte {
	var b [8]byte
	if s.WeldingDetection {
		b[0] = 1
	}
	b[1] = byte(s.AvailableOutputVoltageV)
	b[2] = byte(s.AvailableOutputVoltageV >> 8)
	b[3] = s.AvailableOutputCurrentA
	b[4] = byte(s.ThresholdVoltageV)
	b[5] = byte(s.ThresholdVoltageV >> 8)
	return b
}

// DecodeStationFrame decodes 0x108 (used by tests/round-trip checks).
func DecodeStationFrame(id uint32, data []byte) (StationFrame, error) {
	var s StationFrame
	if err := checkFrame(IDStationFrame, id, data); err != nil {
		return s, err
	}
	s.WeldingDetection = data[0] != 0
	s.AvailableOutputVoltageV = uint16(data[1]) | uint16(data[2])<<8
	s.AvailableOutputCurrentA = data[3]
	s.ThresholdVoltageV = uint16(data[4]) | uint16(data[5])<<8
	return s, nil
}

// StationStatus is the 0x109 EVSE state frame. Field names follow the
// bit labels given in spec §6.1 verbatim, since the data-model names
// ("system_malfunction"/"station_malfunction") and the §6.1 bit labels
// ("station_fault"/"system_fault") cross-reference ambiguously; the wire
// layout in §6.1 is authoritative.
type StationStatus struct {
	Protocol            byte
	OutputVoltageV       uint16
	OutputCurrentA       uint8
	DischargeCompatible  bool
	StationActive        bool // bit0
	StationFault         bool // bit1
	ConnectorLock        bool // bit2
	BatteryIncompatible  bool // bit3
	SystemFault          bool // bit4
	ChargerStopControl   bool // bit5
	RemainingTime10s     uint8
	RemainingTime1min    uint8
}

// StationStatusIdle is the 0x109 status the station transmits at rest:
// charger_stop_control=1, everything else clear (status byte 0x20).
func StationStatusIdle() StationStatus {
	return StationStatus{ChargerStopControl: true}
}

// StatusByte packs the six status bits per §6.1.
func (s StationStatus) StatusByte() byte {
	var b byte
	if s.StationActive {
		b |= 1 << 0
	}
	if s.StationFault {
		b |= 1 << 1
	}
	if s.ConnectorLock {
		b |= 1 << 2
	}
	if s.BatteryIncompatible {
		b |= 1 << 3
	}
	if s.SystemFault {
		b |= 1 << 4
	}
	if s.ChargerStopControl {
		b |= 1 << 5
	}
	return b
}

// EncodeStationStatus encodes the 0x109 frame. P3 (status exclusivity) is
// not enforced here: StationActive and ChargerStopControl both true is a
// caller bug, and the codec encodes the input as given without "fixing"
// it — callers (session) own the invariant.
func EncodeStationStatus(s StationStatus) [8]byte {
	var b [8]byte
	b[0] = s.Protocol
	b[1] = byte(s.OutputVoltageV)
	b[2] = byte(s.OutputVoltageV >> 8)
	b[3] = s.OutputCurrentA
	if s.DischargeCompatible {
		b[4] = 1
	}
	b[5] = s.StatusByte()
	b[6] = s.RemainingTime10s
	b[7] = s.RemainingTime1min
	return b
}

// DecodeStationStatus decodes 0x109 (round-trip tests, P1/P3).
func DecodeStationStatus(id uint32, data []byte) (StationStatus, error) {
	var s StationStatus
	if err := checkFrame(IDStationStatus, id, data); err != nil {
		return s, err
	}
	s.Protocol = data[0]
	s.OutputVoltageV = uint16(data[1]) | uint16(data[2])<<8
	s.OutputCurrentA = data[3]
	s.DischargeCompatible = data[4] != 0
	status := data[5]
	s.StationActive = status&(1<<0) != 0
	s.StationFault = status&(1<<1) != 0
	s.ConnectorLock = status&(1<<2) != 0
	s.BatteryIncompatible = status&(1<<3) != 0
	s.SystemFault = status&(1<<4) != 0
	s.ChargerStopControl = status&(1<<5) != 0
	s.RemainingTime10s = data[6]
	s.RemainingTime1min = data[7]
	return s, nil
}

// StationV2xFrame is the 0x208 discharge-side mirror.
type StationV2xFrame struct {
	DischargeCurrentA   uint8
	InputVoltageV       uint16
	InputCurrentLimitA  uint8
	LowerThresholdVoltageV uint16
}

// EncodeStationV2xFrame encodes 0x208. Per spec §9's resolved open question,
// the signed "offset-255" fields use raw = 0xFF − magnitude (the CHAdeMO
// spec's own convention); the alternate 0xFF + clamp(neg, -254, 0) encoding
// seen in one source revision is not reproduced.
func EncodeStationV2xFrame(s StationV2xFrame) [8]byte {
	var b [8]byte
	b[0] = 0xFF - s.DischargeCurrentA
	b[1] = byte(s.InputVoltageV)
	b[2] = byte(s.InputVoltageV >> 8)
	b[3] = 0xFF - s.InputCurrentLimitA
	b[6] = byte(s.LowerThresholdVoltageV)
	b[7] = byte(s.LowerThresholdVoltageV >> 8)
	return b
}

// DecodeStationV2xFrame decodes 0x208 (P1 round-trip test: byte[0] must
// survive decode(encode(b))[0] == b[0] for every value of b[0]).
func DecodeStationV2xFrame(id uint32, data []byte) (StationV2xFrame, error) {
	var s StationV2xFrame
	if err := checkFrame(IDStationV2xFrame, id, data); err != nil {
		return s, err
	}
	s.DischargeCurrentA = 0xFF - data[0]
	s.InputVoltageV = uint16(data[1]) | uint16(data[2])<<8
	s.InputCurrentLimitA = 0xFF - data[3]
	s.LowerThresholdVoltageV = uint16(data[6]) | uint16(data[7])<<8
	return s, nil
}

// StationV2xStatus is the 0x209 sequence/remaining-time frame.
type StationV2xStatus struct {
	Sequence           uint8
	RemainingDischargeTimeS uint16
}

// EncodeStationV2xStatus encodes 0x209.
func EncodeStationV2xStatus(s StationV2xStatus) [8]byte {
	var b [8]byte
	b[0] = s.Sequence
	b[1] = byte(s.RemainingDischargeTimeS)
	b[2] = byte(s.RemainingDischargeTimeS >> 8)
	return b
}

// DecodeStationV2xStatus decodes 0x209.
func DecodeStationV2xStatus(id uint32, data []byte) (StationV2xStatus, error) {
	var s StationV2xStatus
	if err := checkFrame(IDStationV2xStatus, id, data); err != nil {
		return s, err
	}
	s.Sequence = data[0]
	s.RemainingDischargeTimeS = uint16(data[1]) | uint16(data[2])<<8
	return s, nil
}
