package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable). This is the station's error taxonomy
// (spec §7): each tagged kind names a source and carries its own recovery
// policy, enforced by the callers that check it, not by this package.
const (
	OK Code = "ok"

	BadFrame      Code = "bad_frame"       // codec: reject, count, next tick
	CanTxTimeout  Code = "can_tx_timeout"  // buses: count; 1s cumulative -> Teardown
	CanRxTimeout  Code = "can_rx_timeout"  // buses: count; 1s cumulative -> Teardown
	PreInitFailed Code = "pre_init_failed" // converter driver: surface to session -> Idle
	PinAccess     Code = "pin_access"      // GPIO: fatal in Active, non-fatal in Idle
	VehicleFault  Code = "vehicle_fault"   // 0x102 decode: immediate Teardown
	MeterOffline  Code = "meter_offline"   // poller: retry; V2H controller freezes setpoint
	ConfigParse   Code = "config_parse"    // API, scheduler: reject with {ack:err}
	FileAccess    Code = "file_access"     // API, scheduler: reject with {ack:err}
	StateTimeout  Code = "state_timeout"   // session: Teardown with reason
	MqttPublish   Code = "mqtt_publish"    // telemetry publisher: log, drop sample
	DbWrite       Code = "db_write"        // history writer: log, skip row
	PanelI2C      Code = "panel_i2c"       // panel driver: log, mark unavailable

	InvalidParams Code = "invalid_params"
	Timeout       Code = "timeout"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// MapDriverErr maps low-level driver errors to a Code.
// Extend the heuristics per platform/driver.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	return Error
}
