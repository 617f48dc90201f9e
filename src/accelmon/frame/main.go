package frame

/* Decodes accelerometer frames received over the serial line.

A frame is one newline-terminated line carrying exactly 6 whitespace separated
tokens. Each token stands for one byte; the bytes form three little-endian,
two's-complement 16 bit values for the X, Y and Z axes.

*/

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// ADXL345 sensitivity in full resolution mode, g per LSB
	DefaultScale = 0.0078

	StandardGravity = 9.80665

	FRAME_SIZE = 6
)

// Calibration turns raw axis counts into physical units.
type Calibration struct {
	// g per LSB
	Scale float64
	// report g-force if set, m/s² otherwise
	GForce bool
}

func DefaultCalibration() Calibration {
	return Calibration{Scale: DefaultScale, GForce: true}
}

func (c Calibration) Unit() string {
	if c.GForce {
		return "g"
	}
	return "m/s²"
}

// Sample is one calibrated 3-axis acceleration reading.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Reading is a Sample stamped with the time elapsed since the reader started.
type Reading struct {
	Sample
	Elapsed time.Duration `json:"-"`
}

// Seconds returns the elapsed time as fractional seconds.
func (r Reading) Seconds() float64 {
	return r.Elapsed.Seconds()
}

// Decode converts a raw frame into a calibrated sample. It is total over its
// input and has no side effects.
func Decode(raw [FRAME_SIZE]byte, cal Calibration) Sample {
	return Sample{
		X: calibrate(axis(raw[0:2]), cal),
		Y: calibrate(axis(raw[2:4]), cal),
		Z: calibrate(axis(raw[4:6]), cal),
	}
}

// little-endian pair to signed value
func axis(pair []byte) int {
	v := int(binary.LittleEndian.Uint16(pair))
	if v&(1<<15) != 0 {
		v -= 1 << 16
	}
	return v
}

func calibrate(raw int, cal Calibration) float64 {
	v := float64(raw) * cal.Scale
	if !cal.GForce {
		v = v * StandardGravity
	}
	return Round3(v)
}

// Round3 rounds to 3 decimal places, halves away from zero.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
