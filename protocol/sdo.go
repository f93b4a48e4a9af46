package protocol

import "github.com/rand12345/beaglebone-v2h/errcode"

// Converter SDO-style protocol (spec §4.3, §6.2): a CANopen-SDO-shaped
// request/response dialect, not full CANopen — writes go out on cob-id
// 0x630, responses arrive on cob-id 0x5D0, and the register map below is
// the converter vendor's own, not an object dictionary.
const (
	SDOCobIDOut = 0x630
	SDOCobIDIn  = 0x5D0
)

// SDO command bytes.
const (
	SDOCmdRead       = 0x40
	SDOCmdWrite      = 0x2B
	SDOCmdStringAck  = 0x43
	SDOCmdTwoByteAck = 0x4B
	SDOCmdWriteAck   = 0x60
	SDOCmdError      = 0x80
)

// Converter register map (spec §4.3). Setpoint registers resolved from
// original source where spec.md is silent on the exact hex values:
// DcBusMaxVsetpoint/DcBusMaxAsetpoint in
// indra_beaglebone/src/pre_charger/mod.rs and src/pre_charger/pre_commands.rs.
const (
	RegIdentVendor  = 0x1008
	RegIdentProduct = 0x1009
	RegIdentVersion = 0x100A

	RegEnable        = 0x2100
	RegStatus        = 0x2101
	RegTemp          = 0x2104
	RegACOutputV     = 0x2105
	RegACOutputA     = 0x2106
	RegDCOutputV     = 0x2107
	RegDCOutputA     = 0x2108
	RegVoltsSetpoint = 0x2109
	RegAmpsSetpoint  = 0x210A
	RegDCBusV        = 0x210D
	RegPing          = 0x2150
)

// registers carrying deci-unit scaled physical values (register value x0.1
// = physical unit), resolved from original source where spec.md is silent.
func isDeciScaled(reg uint16) bool {
	switch reg {
	case RegVoltsSetpoint, RegAmpsSetpoint, RegTemp, RegACOutputV, RegACOutputA, RegDCOutputV, RegDCOutputA, RegDCBusV:
		return true
	default:
		return false
	}
}

// SDOFrame is the 8-byte payload shape shared by requests and responses:
// [cmd, reg_L, reg_H, 0, val_L, val_H, sign_L, sign_H].
type SDOFrame struct {
	Cmd     byte
	Reg     uint16
	RawVal  uint16
	RawSign uint16
}

// EncodeSDO packs an SDOFrame to wire bytes.
func EncodeSDO(f SDOFrame) [8]byte {
	var b [8]byte
	b[0] = f.Cmd
	b[1] = byte(f.Reg)
	b[2] = byte(f.Reg >> 8)
	b[4] = byte(f.RawVal)
	b[5] = byte(f.RawVal >> 8)
	b[6] = byte(f.RawSign)
	b[7] = byte(f.RawSign >> 8)
	return b
}

// DecodeSDO unpacks wire bytes to an SDOFrame. The cob-id passed must be
// SDOCobIDOut or SDOCobIDIn; anything else is a BadFrame.
func DecodeSDO(cobID uint32, data []byte) (SDOFrame, error) {
	var f SDOFrame
	if (cobID != SDOCobIDOut && cobID != SDOCobIDIn) || len(data) != frameLen {
		return f, badFrame(cobID, len(data))
	}
	f.Cmd = data[0]
	f.Reg = uint16(data[1]) | uint16(data[2])<<8
	f.RawVal = uint16(data[4]) | uint16(data[5])<<8
	f.RawSign = uint16(data[6]) | uint16(data[7])<<8
	return f, nil
}

// ReadRequest builds a register-read SDO request.
func ReadRequest(reg uint16) SDOFrame {
	return SDOFrame{Cmd: SDOCmdRead, Reg: reg}
}

// WriteRequest builds a register-write SDO request for an integer value
// (identity/status/enable registers, not deci-scaled).
func WriteRequest(reg uint16, value uint16) SDOFrame {
	return SDOFrame{Cmd: SDOCmdWrite, Reg: reg, RawVal: value}
}

// WriteRequestPhysical builds a register-write request for a deci-unit
// scaled physical quantity (e.g. a volts or amps setpoint).
func WriteRequestPhysical(reg uint16, physical float64) SDOFrame {
	return SDOFrame{Cmd: SDOCmdWrite, Reg: reg, RawVal: uint16(physical * 10)}
}

// PhysicalValue converts a decoded response's RawVal to physical units,
// applying the ×0.1 deci-unit scale where the register calls for it.
func (f SDOFrame) PhysicalValue() float64 {
	if isDeciScaled(f.Reg) {
		return float64(f.RawVal) / 10.0
	}
	return float64(f.RawVal)
}

// IsError reports whether the response carries the converter's error ack.
func (f SDOFrame) IsError() bool { return f.Cmd == SDOCmdError }

// AckCode maps an SDO response command byte to an error taxonomy code;
// OK for any acknowledging command, Error for SDOCmdError.
func (f SDOFrame) AckCode() errcode.Code {
	if f.IsError() {
		return errcode.Error
	}
	return errcode.OK
}
