package session

/* Acquisition session: the facade a consumer uses to run a serial reader.

The consumer starts the session with a serial configuration, then calls Poll
on its own timer. Poll drains everything the reader queued since the last
call, keeps only the newest reading in the live feed and returns it if it was
not seen before.

*/

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dividat/accelmon/src/accelmon/feed"
	"github.com/dividat/accelmon/src/accelmon/frame"
	"github.com/dividat/accelmon/src/accelmon/queue"
	"github.com/dividat/accelmon/src/accelmon/reader"
)

const (
	DefaultOpenCheckTimeout = 10 * time.Millisecond
	DefaultStopTimeout      = time.Second
)

type Config struct {
	reader.Config

	// How long Start waits for an open failure to be reported. The reader's
	// open retry window is added on top.
	OpenCheckTimeout time.Duration
	// Bound for waiting on the reader in Stop
	StopTimeout time.Duration
}

func DefaultConfig(port string) Config {
	return Config{
		Config:           reader.DefaultConfig(port),
		OpenCheckTimeout: DefaultOpenCheckTimeout,
		StopTimeout:      DefaultStopTimeout,
	}
}

func (c Config) openCheckTimeout() time.Duration {
	timeout := c.OpenCheckTimeout
	if timeout <= 0 {
		timeout = DefaultOpenCheckTimeout
	}
	if c.OpenRetry > 0 {
		timeout += c.OpenRetry
	}
	return timeout
}

func (c Config) stopTimeout() time.Duration {
	if c.StopTimeout <= 0 {
		return DefaultStopTimeout
	}
	return c.StopTimeout
}

type Status struct {
	Port     string
	State    reader.State
	Received uint64
	Dropped  uint64
}

type Session struct {
	ctx  context.Context
	log  *logrus.Entry
	open reader.Opener

	feed *feed.Feed

	// Only allow one Start/Stop at a time
	connectionChangeMutex sync.Mutex

	// guards the fields of the current connection, read by Poll
	mutex   sync.Mutex
	config  Config
	reader  *reader.Reader
	samples *queue.Queue[frame.Reading]
	errors  *queue.Queue[error]
}

// New returns an idle session opening real serial ports.
func New(ctx context.Context, log *logrus.Entry) *Session {
	return NewWithOpener(ctx, log, reader.OpenSerial)
}

func NewWithOpener(ctx context.Context, log *logrus.Entry, open reader.Opener) *Session {
	return &Session{
		ctx:  ctx,
		log:  log,
		open: open,
		feed: feed.New(),
	}
}

// Start opens the configured port on a new reader. Open failures reported
// within the open check timeout are returned as *reader.OpenError; later ones
// are available from Err.
func (s *Session) Start(config Config) error {
	s.connectionChangeMutex.Lock()
	defer s.connectionChangeMutex.Unlock()

	// disconnect current connection first
	s.stopCurrent()

	samples := queue.New[frame.Reading]()
	errs := queue.New[error]()
	r := reader.New(s.ctx, s.log, config.Config, s.open, samples, errs)

	s.mutex.Lock()
	s.config = config
	s.reader = r
	s.samples = samples
	s.mutex.Unlock()

	r.Start()

	if err, ok := errs.TryPop(config.openCheckTimeout()); ok {
		return err
	}

	// later failures go to Err
	s.mutex.Lock()
	s.errors = errs
	s.mutex.Unlock()

	s.log.WithField("port", config.Port).Info("Monitor running.")
	return nil
}

// Poll moves the newest queued reading into the live feed and returns it, or
// nil if there is nothing new. It never blocks.
func (s *Session) Poll() *frame.Reading {
	s.mutex.Lock()
	samples := s.samples
	s.mutex.Unlock()

	if samples != nil {
		// get just the most recent reading, others are lost
		if readings := samples.DrainAll(); len(readings) > 0 {
			s.feed.AddData(readings[len(readings)-1])
		}
	}

	return s.feed.ReadNew()
}

// Err returns an open failure reported after Start returned, if any.
func (s *Session) Err() error {
	s.mutex.Lock()
	errs := s.errors
	s.mutex.Unlock()

	if errs == nil {
		return nil
	}
	err, _ := errs.TryPop(0)
	return err
}

// Stop stops the reader and waits for it to close the port.
func (s *Session) Stop() error {
	s.connectionChangeMutex.Lock()
	defer s.connectionChangeMutex.Unlock()

	return s.stopCurrent()
}

func (s *Session) stopCurrent() error {
	s.mutex.Lock()
	r := s.reader
	timeout := s.config.stopTimeout()
	s.reader = nil
	s.samples = nil
	s.errors = nil
	s.mutex.Unlock()

	if r == nil {
		return nil
	}

	err := r.StopAndJoin(timeout)
	s.log.WithField("port", r.Config().Port).Info("Monitor idle.")
	return err
}

// Running reports whether a reader is opening or reading the port.
func (s *Session) Running() bool {
	state := s.Status().State
	return state == reader.Opening || state == reader.Running
}

func (s *Session) Status() Status {
	s.mutex.Lock()
	r := s.reader
	s.mutex.Unlock()

	if r == nil {
		return Status{State: reader.Idle}
	}
	return Status{
		Port:     r.Config().Port,
		State:    r.State(),
		Received: r.Received(),
		Dropped:  r.Dropped(),
	}
}

// Port is the device of the current reader, empty when idle.
func (s *Session) Port() string {
	return s.Status().Port
}

// Feed exposes the live feed to consumers that prefer to check for new data
// themselves.
func (s *Session) Feed() *feed.Feed {
	return s.feed
}
