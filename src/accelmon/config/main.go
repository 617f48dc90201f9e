package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dividat/accelmon/src/accelmon/frame"
	"github.com/dividat/accelmon/src/accelmon/monitor"
	"github.com/dividat/accelmon/src/accelmon/reader"
	"github.com/dividat/accelmon/src/accelmon/session"
)

// PathEnv names the environment variable holding the config file path.
const PathEnv = "ACCELMON_CONFIG"

const DefaultPath = "accelmon.json"

// Config is the root configuration. Fields omitted from the JSON file keep
// their defaults.
type Config struct {
	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`

	Serial      Serial      `json:"serial"`
	Calibration Calibration `json:"calibration"`
	Server      Server      `json:"server"`
	Simulate    Simulate    `json:"simulate"`
}

type Serial struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits string `json:"stop_bits"` // "1", "1.5" or "2"
	Parity   string `json:"parity"`    // none, odd, even, mark or space
	Encoding string `json:"encoding"`  // raw or decimal

	// duration strings like "10ms"
	ReadTimeout      string `json:"read_timeout"`
	OpenRetry        string `json:"open_retry"`
	OpenCheckTimeout string `json:"open_check_timeout"`
	StopTimeout      string `json:"stop_timeout"`
}

type Calibration struct {
	Scale  float64 `json:"scale"`
	GForce bool    `json:"g_force"`
}

type Server struct {
	Address string  `json:"address"`
	PollHz  float64 `json:"poll_hz"`
	YMin    float64 `json:"y_min"`
	YMax    float64 `json:"y_max"`
	// register the service with zeroconf
	Advertise bool `json:"advertise"`
	// hex USB vendor id to connect to automatically, empty disables
	AutoConnectVendor string `json:"auto_connect_vendor"`
}

type Simulate struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
	Encoding string `json:"encoding"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		Serial: Serial{
			BaudRate:         reader.DefaultBaudRate,
			DataBits:         reader.DefaultDataBits,
			StopBits:         "1",
			Parity:           "none",
			Encoding:         frame.EncodingRaw.String(),
			ReadTimeout:      reader.DefaultReadTimeout.String(),
			OpenRetry:        "0s",
			OpenCheckTimeout: session.DefaultOpenCheckTimeout.String(),
			StopTimeout:      session.DefaultStopTimeout.String(),
		},
		Calibration: Calibration{
			Scale:  frame.DefaultScale,
			GForce: true,
		},
		Server: Server{
			Address: "127.0.0.1:8384",
			PollHz:  monitor.DefaultPollHz,
			YMin:    -4,
			YMax:    4,
		},
		Simulate: Simulate{
			Interval: "20ms",
			Encoding: frame.EncodingRaw.String(),
		},
	}
}

// Path returns the config file path from the environment or the default.
func Path() string {
	if path := os.Getenv(PathEnv); path != "" {
		return path
	}
	return DefaultPath
}

// Load reads the JSON file at path over the defaults. A missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := c.SessionConfig(); err != nil {
		return err
	}
	if c.Server.PollHz < 0 {
		return fmt.Errorf("poll_hz must not be negative, got %v", c.Server.PollHz)
	}
	if c.Server.YMin >= c.Server.YMax {
		return fmt.Errorf("y_min must be below y_max, got %v and %v", c.Server.YMin, c.Server.YMax)
	}
	if _, err := c.autoConnectVendor(); err != nil {
		return err
	}
	if _, err := parseDuration("simulate.interval", c.Simulate.Interval); err != nil {
		return err
	}
	if _, err := frame.ParseEncoding(c.Simulate.Encoding); err != nil {
		return fmt.Errorf("simulate.encoding: %w", err)
	}
	return nil
}

// SessionConfig converts the serial and calibration sections.
func (c Config) SessionConfig() (session.Config, error) {
	cfg := session.DefaultConfig(c.Serial.Port)

	if c.Serial.BaudRate <= 0 {
		return cfg, fmt.Errorf("baud_rate must be positive, got %d", c.Serial.BaudRate)
	}
	cfg.BaudRate = c.Serial.BaudRate

	if c.Serial.DataBits < 5 || c.Serial.DataBits > 8 {
		return cfg, fmt.Errorf("data_bits must be between 5 and 8, got %d", c.Serial.DataBits)
	}
	cfg.DataBits = c.Serial.DataBits

	var err error
	if cfg.StopBits, err = reader.ParseStopBits(c.Serial.StopBits); err != nil {
		return cfg, fmt.Errorf("stop_bits: %w", err)
	}
	if cfg.Parity, err = reader.ParseParity(c.Serial.Parity); err != nil {
		return cfg, fmt.Errorf("parity: %w", err)
	}
	if cfg.Encoding, err = frame.ParseEncoding(c.Serial.Encoding); err != nil {
		return cfg, fmt.Errorf("encoding: %w", err)
	}

	if cfg.ReadTimeout, err = parseDuration("read_timeout", c.Serial.ReadTimeout); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout <= 0 {
		return cfg, fmt.Errorf("read_timeout must be positive, got %s", c.Serial.ReadTimeout)
	}
	if cfg.OpenRetry, err = parseDuration("open_retry", c.Serial.OpenRetry); err != nil {
		return cfg, err
	}
	if cfg.OpenCheckTimeout, err = parseDuration("open_check_timeout", c.Serial.OpenCheckTimeout); err != nil {
		return cfg, err
	}
	if cfg.StopTimeout, err = parseDuration("stop_timeout", c.Serial.StopTimeout); err != nil {
		return cfg, err
	}

	if c.Calibration.Scale <= 0 {
		return cfg, fmt.Errorf("scale must be positive, got %v", c.Calibration.Scale)
	}
	cfg.Calibration = frame.Calibration{Scale: c.Calibration.Scale, GForce: c.Calibration.GForce}

	return cfg, nil
}

// MonitorSettings converts the serial, calibration and server sections.
func (c Config) MonitorSettings() (monitor.Settings, error) {
	settings := monitor.DefaultSettings()

	sessionConfig, err := c.SessionConfig()
	if err != nil {
		return settings, err
	}
	vendor, err := c.autoConnectVendor()
	if err != nil {
		return settings, err
	}

	settings.Session = sessionConfig
	settings.PollHz = c.Server.PollHz
	settings.YMin = c.Server.YMin
	settings.YMax = c.Server.YMax
	settings.AutoConnectVendor = vendor
	return settings, nil
}

// SimulatorInterval is the parsed simulate.interval.
func (c Config) SimulatorInterval() time.Duration {
	interval, _ := parseDuration("simulate.interval", c.Simulate.Interval)
	return interval
}

func (c Config) SimulatorEncoding() frame.Encoding {
	encoding, _ := frame.ParseEncoding(c.Simulate.Encoding)
	return encoding
}

// ApplyLogging sets level and format of logger.
func (c Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	logger.SetLevel(level)
	if c.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}

func (c Config) autoConnectVendor() (*uint16, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Server.AutoConnectVendor)), "0x")
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return nil, fmt.Errorf("auto_connect_vendor must be a hex USB vendor id, got %q: %w", c.Server.AutoConnectVendor, err)
	}
	vendor := uint16(v)
	return &vendor, nil
}

func parseDuration(name string, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", name, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", name, s)
	}
	return d, nil
}
