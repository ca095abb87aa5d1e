// Package daqconfig holds the configuration for an acquisition run.
//
// Configuration is built up in layers, each overriding the last:
// built-in defaults, an optional YAML file, environment variables
// (optionally read from a .env file) and finally command line flags.
// Every configuration key can be set in each layer. The environment
// variable for a key is the key in upper case, with dots and hyphens
// replaced by underscores, prefixed with DAQLOG_; for example
// device.dial-attempts is set with DAQLOG_DEVICE_DIAL_ATTEMPTS.
package daqconfig

import (
	"io/ioutil"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
	"gopkg.in/yaml.v2"
)

var logger = loggo.GetLogger("daqlog.daqconfig")

// ErrInvalidConfig is the cause of errors returned when
// a configuration value is not valid.
var ErrInvalidConfig = errgo.New("invalid configuration")

// EnvPrefix holds the prefix of environment variables
// that hold configuration values.
const EnvPrefix = "DAQLOG_"

// Device kinds.
const (
	KindSim     = "sim"
	KindModbus  = "modbus"
	KindADS1115 = "ads1115"
	KindSerial  = "serial"
)

// Config holds the configuration of an acquisition run.
type Config struct {
	// Channel holds the device channel to read.
	Channel string `yaml:"channel"`
	// Count holds the number of samples to acquire.
	Count int `yaml:"count"`
	// Period holds the interval between samples.
	Period time.Duration `yaml:"period"`
	// OutputDir holds the directory that record files are written to.
	OutputDir string `yaml:"output-dir"`
	// LogLevel holds a loggo configuration string.
	LogLevel string `yaml:"log-level"`
	// NTPHost holds an NTP server to take time stamps from.
	// If it's empty, the system clock is used.
	NTPHost string `yaml:"ntp-host"`
	// Device holds the device configuration.
	Device Device `yaml:"device"`
}

// Device describes the device to read from.
type Device struct {
	// Kind holds the kind of device: one of KindSim, KindModbus,
	// KindADS1115 or KindSerial.
	Kind string `yaml:"kind"`

	// Addr, Port, Unit and DialAttempts are used by Modbus devices.
	Addr         string `yaml:"addr"`
	Port         int    `yaml:"port"`
	Unit         int    `yaml:"unit"`
	DialAttempts int    `yaml:"dial-attempts"`

	// I2CBus and I2CAddr are used by ADS1115 devices.
	I2CBus  string `yaml:"i2c-bus"`
	I2CAddr int    `yaml:"i2c-addr"`

	// SerialPort and BaudRate are used by serial devices.
	SerialPort string `yaml:"serial-port"`
	BaudRate   int    `yaml:"baud-rate"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Channel:   "AIN0",
		Count:     10,
		Period:    100 * time.Millisecond,
		OutputDir: ".",
		LogLevel:  "<root>=WARNING",
		Device: Device{
			Kind:         KindSim,
			DialAttempts: 3,
		},
	}
}

type key struct {
	name string
	set  func(cfg *Config, val string) error
}

func stringKey(name string, f func(cfg *Config) *string) key {
	return key{name, func(cfg *Config, val string) error {
		*f(cfg) = val
		return nil
	}}
}

func intKey(name string, f func(cfg *Config) *int) key {
	return key{name, func(cfg *Config, val string) error {
		n, err := strconv.ParseInt(val, 0, 64)
		if err != nil {
			return errgo.Newf("invalid integer %q", val)
		}
		*f(cfg) = int(n)
		return nil
	}}
}

var keys = []key{
	stringKey("channel", func(cfg *Config) *string { return &cfg.Channel }),
	intKey("count", func(cfg *Config) *int { return &cfg.Count }),
	{"period", func(cfg *Config, val string) error {
		d, err := time.ParseDuration(val)
		if err != nil {
			return errgo.Newf("invalid duration %q", val)
		}
		cfg.Period = d
		return nil
	}},
	stringKey("output-dir", func(cfg *Config) *string { return &cfg.OutputDir }),
	stringKey("log-level", func(cfg *Config) *string { return &cfg.LogLevel }),
	stringKey("ntp-host", func(cfg *Config) *string { return &cfg.NTPHost }),
	stringKey("device.kind", func(cfg *Config) *string { return &cfg.Device.Kind }),
	stringKey("device.addr", func(cfg *Config) *string { return &cfg.Device.Addr }),
	intKey("device.port", func(cfg *Config) *int { return &cfg.Device.Port }),
	intKey("device.unit", func(cfg *Config) *int { return &cfg.Device.Unit }),
	intKey("device.dial-attempts", func(cfg *Config) *int { return &cfg.Device.DialAttempts }),
	stringKey("device.i2c-bus", func(cfg *Config) *string { return &cfg.Device.I2CBus }),
	intKey("device.i2c-addr", func(cfg *Config) *int { return &cfg.Device.I2CAddr }),
	stringKey("device.serial-port", func(cfg *Config) *string { return &cfg.Device.SerialPort }),
	intKey("device.baud-rate", func(cfg *Config) *int { return &cfg.Device.BaudRate }),
}

func findKey(name string) (key, bool) {
	for _, k := range keys {
		if k.name == name {
			return k, true
		}
	}
	return key{}, false
}

// Keys returns the names of all the configuration keys.
func Keys() []string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.name
	}
	return names
}

// IsKey reports whether name is a configuration key.
func IsKey(name string) bool {
	_, ok := findKey(name)
	return ok
}

// EnvVar returns the name of the environment variable for
// the given key.
func EnvVar(key string) string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Set sets the value of the given key from its string representation.
func (cfg *Config) Set(name, val string) error {
	k, ok := findKey(name)
	if !ok {
		return errgo.WithCausef(nil, ErrInvalidConfig, "unknown configuration key %q", name)
	}
	if err := k.set(cfg, val); err != nil {
		return errgo.WithCausef(err, ErrInvalidConfig, "bad value for %s", name)
	}
	return nil
}

// ReadFile reads a YAML configuration file from the given path
// and merges it into cfg. Keys not mentioned in the file are left
// unchanged. Unknown keys are an error.
func (cfg *Config) ReadFile(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return errgo.Mask(err, os.IsNotExist)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return errgo.WithCausef(err, ErrInvalidConfig, "cannot parse %q", path)
	}
	return nil
}

// ApplyEnv sets configuration values from env, which maps
// environment variable names to values. Variables without
// the DAQLOG_ prefix are ignored.
func (cfg *Config) ApplyEnv(env map[string]string) error {
	for _, k := range keys {
		v, ok := env[EnvVar(k.name)]
		if !ok {
			continue
		}
		if err := k.set(cfg, v); err != nil {
			return errgo.WithCausef(err, ErrInvalidConfig, "bad value for $%s", EnvVar(k.name))
		}
	}
	var unknown []string
	for name := range env {
		if strings.HasPrefix(name, EnvPrefix) && !isEnvVar(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		logger.Warningf("ignoring unknown environment variables %s", strings.Join(unknown, ", "))
	}
	return nil
}

func isEnvVar(name string) bool {
	for _, k := range keys {
		if EnvVar(k.name) == name {
			return true
		}
	}
	return false
}

// Environ returns the process environment as a map, with any variables
// from the given .env files added where they're not already set.
// Files that don't exist are ignored.
func Environ(envFiles ...string) (map[string]string, error) {
	env := make(map[string]string)
	for _, f := range envFiles {
		m, err := godotenv.Read(f)
		if err != nil {
			if os.IsNotExist(errgo.Cause(err)) {
				continue
			}
			return nil, errgo.Notef(err, "cannot read %q", f)
		}
		for k, v := range m {
			if _, ok := env[k]; !ok {
				env[k] = v
			}
		}
	}
	for _, kv := range os.Environ() {
		if i := strings.Index(kv, "="); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env, nil
}

// Validate checks that the configuration is valid.
// The cause of any returned error is ErrInvalidConfig.
func (cfg *Config) Validate() error {
	fail := func(f string, a ...interface{}) error {
		return errgo.WithCausef(nil, ErrInvalidConfig, f, a...)
	}
	switch {
	case cfg.Channel == "":
		return fail("no channel specified")
	case cfg.Count < 1:
		return fail("invalid sample count %d", cfg.Count)
	case cfg.Period < time.Microsecond || cfg.Period%time.Microsecond != 0:
		return fail("invalid period %v (must be a positive whole number of microseconds)", cfg.Period)
	case cfg.OutputDir == "":
		return fail("no output directory specified")
	}
	if _, err := loggo.ParseConfigString(cfg.LogLevel); err != nil {
		return fail("invalid log level %q: %v", cfg.LogLevel, err)
	}
	d := cfg.Device
	switch d.Kind {
	case KindSim:
	case KindModbus:
		if d.Addr == "" {
			return fail("no address specified for modbus device")
		}
		if d.Port < 0 || d.Port > 65535 {
			return fail("invalid port %d", d.Port)
		}
		if d.Unit < 0 || d.Unit > 255 {
			return fail("invalid modbus unit %d", d.Unit)
		}
		if d.DialAttempts < 1 {
			return fail("invalid dial attempt count %d", d.DialAttempts)
		}
	case KindADS1115:
		if d.I2CAddr < 0 || d.I2CAddr > 0x7f {
			return fail("invalid I²C address %#x", d.I2CAddr)
		}
	case KindSerial:
		if d.SerialPort == "" {
			return fail("no serial port specified")
		}
		if d.BaudRate < 0 {
			return fail("invalid baud rate %d", d.BaudRate)
		}
	default:
		return fail("unknown device kind %q", d.Kind)
	}
	return nil
}
