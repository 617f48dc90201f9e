package simulator

/* Simulated accelerometer.

Writes a frame every interval: X, Y and Z low bytes oscillate with a slow sine
and some jitter, the high bytes are fixed at 0, 1 and 0. Serve exposes the
stream on a pseudo terminal so the monitor can open it like a real device.

*/

import (
	"context"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dividat/accelmon/src/accelmon/frame"
)

const DefaultInterval = 20 * time.Millisecond

// phase advanced per frame, wraps at 2π
const phaseStep = 0.01

type Simulator struct {
	log      *logrus.Entry
	interval time.Duration
	encoding frame.Encoding

	rand  *rand.Rand
	phase float64
}

func New(log *logrus.Entry, interval time.Duration, encoding frame.Encoding) *Simulator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Simulator{
		log:      log,
		interval: interval,
		encoding: encoding,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the following frame.
func (s *Simulator) Next() [frame.FRAME_SIZE]byte {
	raw := [frame.FRAME_SIZE]byte{
		s.value(), 0,
		s.value(), 1,
		s.value(), 0,
	}

	s.phase += phaseStep
	if s.phase >= 2*math.Pi {
		s.phase = 0
	}
	return raw
}

// value between 0 and 160
func (s *Simulator) value() byte {
	v := byte(float64(60+s.rand.Intn(21)) * (1 + math.Sin(s.phase)))
	if s.encoding == frame.EncodingRaw {
		// separators can not be sent raw
		for frame.IsSeparator(v) {
			v++
		}
	}
	return v
}

// Run writes frames to w until ctx is done or a write fails.
func (s *Simulator) Run(ctx context.Context, w io.Writer) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval).WithField("encoding", s.encoding).Info("Simulator started.")

	var line []byte
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Simulator stopped.")
			return nil

		case <-ticker.C:
			line = frame.AppendLine(line[:0], s.Next(), s.encoding)
			if _, err := w.Write(line); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.WithError(err).Error("Simulator write failed.")
				return err
			}
		}
	}
}
