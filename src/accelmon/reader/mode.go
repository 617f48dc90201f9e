package reader

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/dividat/accelmon/src/accelmon/frame"
)

// Parity defines serial port parity options.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
	MarkParity
	SpaceParity
)

// StopBits defines serial port stop bit options.
type StopBits int

const (
	OneStopBit StopBits = iota
	OnePointFiveStopBits
	TwoStopBits
)

const (
	DefaultBaudRate    = 9600
	DefaultDataBits    = 8
	DefaultReadTimeout = 10 * time.Millisecond
)

// Config describes the serial line and how frames read from it are decoded.
type Config struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits StopBits
	Parity   Parity

	// Bound on every single read. Shorter timeouts give finer grained
	// timestamps and a quicker stop, at the cost of more wake-ups.
	ReadTimeout time.Duration

	// Keep retrying to open the port for this long. Zero means one attempt.
	OpenRetry time.Duration

	Encoding    frame.Encoding
	Calibration frame.Calibration
}

// DefaultConfig returns the line settings of the accelerometer firmware for
// the given port.
func DefaultConfig(port string) Config {
	return Config{
		Port:        port,
		BaudRate:    DefaultBaudRate,
		DataBits:    DefaultDataBits,
		StopBits:    OneStopBit,
		Parity:      NoParity,
		ReadTimeout: DefaultReadTimeout,
		Encoding:    frame.EncodingRaw,
		Calibration: frame.DefaultCalibration(),
	}
}

// SerialMode converts the config into the mode used by go.bug.st/serial.
func (c Config) SerialMode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
	}
	if mode.DataBits == 0 {
		mode.DataBits = DefaultDataBits
	}

	switch c.Parity {
	case NoParity:
		mode.Parity = serial.NoParity
	case OddParity:
		mode.Parity = serial.OddParity
	case EvenParity:
		mode.Parity = serial.EvenParity
	case MarkParity:
		mode.Parity = serial.MarkParity
	case SpaceParity:
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("unsupported parity %d", c.Parity)
	}

	switch c.StopBits {
	case OneStopBit:
		mode.StopBits = serial.OneStopBit
	case OnePointFiveStopBits:
		mode.StopBits = serial.OnePointFiveStopBits
	case TwoStopBits:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", c.StopBits)
	}

	return mode, nil
}

func ParseParity(s string) (Parity, error) {
	switch strings.TrimSpace(strings.ToUpper(s)) {
	case "", "N", "NONE":
		return NoParity, nil
	case "O", "ODD":
		return OddParity, nil
	case "E", "EVEN":
		return EvenParity, nil
	case "M", "MARK":
		return MarkParity, nil
	case "S", "SPACE":
		return SpaceParity, nil
	}
	return NoParity, fmt.Errorf("unsupported parity %q: expected N, O, E, M or S", s)
}

func ParseStopBits(s string) (StopBits, error) {
	switch strings.TrimSpace(s) {
	case "", "1":
		return OneStopBit, nil
	case "1.5":
		return OnePointFiveStopBits, nil
	case "2":
		return TwoStopBits, nil
	}
	return OneStopBit, fmt.Errorf("unsupported stop bits %q: expected 1, 1.5 or 2", s)
}
