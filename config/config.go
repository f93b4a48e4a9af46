// Package config loads the station's process configuration (spec SPEC_FULL
// §9.3): CAN interface names, GPIO pin assignments, control API address,
// MQTT/Modbus/SQLite endpoints, and the safety limits (MAX_AMPS, MAX_SOC,
// MIN_SOC). Grounded on the original's main.rs config struct and built with
// github.com/spf13/viper + github.com/spf13/pflag for layered flag/file/env
// configuration, in place of the teacher's compiled-in JSON config.
package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rand12345/beaglebone-v2h/errcode"
	"github.com/rand12345/beaglebone-v2h/gpioio"
)

// Config is the fully resolved process configuration.
type Config struct {
	ChademoCAN   string `mapstructure:"chademo_can"`
	ConverterCAN string `mapstructure:"converter_can"`

	Pins gpioio.PinConfig `mapstructure:"pins"`

	ControlAPIAddr string `mapstructure:"control_api_addr"`

	MQTTBroker string `mapstructure:"mqtt_broker"`
	MQTTTopic  string `mapstructure:"mqtt_topic"`

	ModbusAddr string `mapstructure:"modbus_addr"`
	ModbusUnit byte   `mapstructure:"modbus_unit"`

	SQLitePath string `mapstructure:"sqlite_path"`
	EventsPath string `mapstructure:"events_path"`

	PanelI2CBus    string `mapstructure:"panel_i2c_bus"`
	PanelI2CAddr   uint16 `mapstructure:"panel_i2c_addr"`
	PanelButtonPin string `mapstructure:"panel_button_pin"`

	MaxAmps float64 `mapstructure:"max_amps"`
	MaxSOC  int     `mapstructure:"max_soc"`
	MinSOC  int     `mapstructure:"min_soc"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("chademo_can", "can1")
	v.SetDefault("converter_can", "can0")
	v.SetDefault("pins.d1", "GPIO17")
	v.SetDefault("pins.d2", "GPIO27")
	v.SetDefault("pins.c1", "GPIO22")
	v.SetDefault("pins.c2", "GPIO23")
	v.SetDefault("pins.plug_lock", "GPIO24")
	v.SetDefault("pins.pre_ac", "GPIO25")
	v.SetDefault("pins.master", "GPIO4")
	v.SetDefault("pins.k", "GPIO5")
	v.SetDefault("control_api_addr", "0.0.0.0:5555")
	v.SetDefault("mqtt_broker", "tcp://127.0.0.1:1883")
	v.SetDefault("mqtt_topic", "beaglebone-v2h/telemetry")
	v.SetDefault("modbus_addr", "127.0.0.1:502")
	v.SetDefault("modbus_unit", 1)
	v.SetDefault("sqlite_path", "./station.db")
	v.SetDefault("events_path", "./events.json")
	v.SetDefault("panel_i2c_bus", "/dev/i2c-1")
	v.SetDefault("panel_i2c_addr", 0x60)
	v.SetDefault("panel_button_pin", "GPIO6")
	v.SetDefault("max_amps", 32.0)
	v.SetDefault("max_soc", 100)
	v.SetDefault("min_soc", 0)
}

// Load resolves config from (lowest to highest precedence) defaults, a
// config file at path (if non-empty), environment variables prefixed
// BBV2H_, and CLI flags already parsed into fs.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("BBV2H")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &errcode.E{C: errcode.ConfigParse, Op: "read:" + path, Err: err}
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, &errcode.E{C: errcode.ConfigParse, Op: "bind_flags", Err: err}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, &errcode.E{C: errcode.ConfigParse, Op: "unmarshal", Err: err}
	}
	return c, nil
}

// Flags registers the CLI flags Load can bind, in the teacher's
// flag-per-field style.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("beaglebone-v2h", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (TOML/YAML/JSON)")
	fs.String("chademo_can", "can1", "CHAdeMO CAN interface")
	fs.String("converter_can", "can0", "converter CAN interface")
	fs.String("control_api_addr", "0.0.0.0:5555", "control API listen address")
	return fs
}
