package reader

/* Background acquisition of accelerometer frames from a serial port.

The reader goroutine exclusively owns the open port:

- Open the port, reporting a failure once on the error queue
- Read newline terminated lines, each read bounded by the read timeout
- Decode lines of exactly 6 tokens and queue them with the elapsed time
- Check for cancellation after every read and close the port on exit

*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/dividat/accelmon/src/accelmon/frame"
	"github.com/dividat/accelmon/src/accelmon/queue"
)

type State int32

const (
	Idle State = iota
	Opening
	Running
	Stopping
	Stopped
	FailedToOpen
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case FailedToOpen:
		return "failed-to-open"
	}
	return "unknown"
}

var ErrStopTimeout = errors.New("serial reader did not stop in time")

// OpenError reports that the serial port could not be opened.
type OpenError struct {
	Port string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("could not open serial port %s: %v", e.Port, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Port is the part of serial.Port the reader needs.
type Port interface {
	io.Reader
	io.Closer
	SetReadTimeout(t time.Duration) error
}

// Opener opens the port described by a Config. Replaced in tests.
type Opener func(config Config) (Port, error)

// OpenSerial opens a real serial port with go.bug.st/serial.
func OpenSerial(config Config) (Port, error) {
	mode, err := config.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(config.ReadTimeout); err != nil {
		port.Close()
		return nil, err
	}

	port.ResetInputBuffer() // flush any unread data buffered by the OS

	return port, nil
}

type Reader struct {
	log    *logrus.Entry
	config Config
	open   Opener

	samples *queue.Queue[frame.Reading]
	errors  *queue.Queue[error]

	ctx    context.Context
	cancel context.CancelFunc

	state   atomic.Int32
	started atomic.Bool

	// closed when the reader goroutine has exited
	done chan struct{}

	received atomic.Uint64
	dropped  atomic.Uint64
}

func New(
	ctx context.Context,
	log *logrus.Entry,
	config Config,
	open Opener,
	samples *queue.Queue[frame.Reading],
	errs *queue.Queue[error],
) *Reader {
	if open == nil {
		open = OpenSerial
	}
	readerCtx, cancel := context.WithCancel(ctx)

	return &Reader{
		log:     log.WithField("port", config.Port),
		config:  config,
		open:    open,
		samples: samples,
		errors:  errs,
		ctx:     readerCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (r *Reader) State() State {
	return State(r.state.Load())
}

func (r *Reader) Config() Config {
	return r.config
}

// Received counts decoded frames.
func (r *Reader) Received() uint64 {
	return r.received.Load()
}

// Dropped counts lines that did not form a frame.
func (r *Reader) Dropped() uint64 {
	return r.dropped.Load()
}

// Done is closed once the reader goroutine has exited.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Start launches the reader goroutine. Only the first call has an effect.
func (r *Reader) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.setState(Opening)
	go r.run()
}

// StopAndJoin asks the reader to stop and waits up to timeout for it to close
// the port. A read in progress is allowed to complete or time out first.
func (r *Reader) StopAndJoin(timeout time.Duration) error {
	r.state.CompareAndSwap(int32(Running), int32(Stopping))
	r.cancel()

	if !r.started.Load() {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return nil
	case <-timer.C:
		r.log.WithField("timeout", timeout).Warn("Serial reader did not stop in time.")
		return ErrStopTimeout
	}
}

func (r *Reader) setState(state State) {
	r.state.Store(int32(state))
}

func (r *Reader) run() {
	defer close(r.done)

	r.log.WithFields(logrus.Fields{
		"baudRate":    r.config.BaudRate,
		"readTimeout": r.config.ReadTimeout,
	}).Info("Attempting to open serial port.")

	port, err := r.openPort()
	if err != nil {
		if r.ctx.Err() != nil {
			r.log.Info("Stopped while opening serial port.")
			r.setState(Stopped)
			return
		}
		r.log.WithField("error", err).Error("Failed to open connection to serial port.")
		r.setState(FailedToOpen)
		r.errors.Push(&OpenError{Port: r.config.Port, Err: err})
		return
	}

	defer func() {
		r.log.WithFields(logrus.Fields{
			"received": r.Received(),
			"dropped":  r.Dropped(),
		}).Info("Disconnecting from serial port.")
		if err := port.Close(); err != nil {
			r.log.WithField("error", err).Warn("Failed to close serial port.")
		}
		r.setState(Stopped)
	}()

	if r.ctx.Err() != nil {
		return
	}
	r.setState(Running)
	r.readLoop(port)
}

func (r *Reader) openPort() (Port, error) {
	var port Port
	operation := func() error {
		p, err := r.open(r.config)
		if err != nil {
			r.log.WithField("error", err).Debug("Open attempt failed.")
			return err
		}
		port = p
		return nil
	}

	if r.config.OpenRetry <= 0 {
		return port, operation()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = r.config.OpenRetry

	err := backoff.Retry(operation, backoff.WithContext(policy, r.ctx))
	return port, err
}

// Loop reading lines until cancelled or the port fails.
func (r *Reader) readLoop(port Port) {
	lines := newLineReader(port)

	// elapsed time origin, kept across dropped lines
	start := time.Now()

	for {
		// Terminate if we were cancelled
		if r.ctx.Err() != nil {
			r.state.CompareAndSwap(int32(Running), int32(Stopping))
			r.log.Debug("Stopping reader: context cancelled")
			return
		}

		line, err := lines.readLine()
		if err != nil {
			r.log.WithField("error", err).Error("Error reading from serial port")
			r.state.CompareAndSwap(int32(Running), int32(Stopping))
			return
		}

		if len(line) == 0 {
			// read timed out without data
			continue
		}

		raw, ok := frame.ParseLine(line, r.config.Encoding)
		if !ok {
			r.dropped.Add(1)
			r.log.WithField("line", line).Debug("Dropping malformed frame.")
			continue
		}

		reading := frame.Reading{
			Sample:  frame.Decode(raw, r.config.Calibration),
			Elapsed: time.Since(start),
		}
		r.received.Add(1)
		r.samples.Push(reading)
	}
}
