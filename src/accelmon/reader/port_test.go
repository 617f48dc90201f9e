package reader

import (
	"errors"
	"sync"
	"time"
)

// fakePort is a Port whose reads are fed from a channel. A read with no data
// waits for the read timeout and then returns (0, nil), like go.bug.st/serial.
type fakePort struct {
	mu sync.Mutex

	chunks  chan []byte
	pending []byte

	readTimeout time.Duration
	readErr     error

	// receives a value every time a read starts waiting, never blocks
	readEntered chan struct{}

	closed         bool
	closedAt       time.Time
	lastReturnedAt time.Time
}

func newFakePort(readTimeout time.Duration) *fakePort {
	return &fakePort{
		chunks:      make(chan []byte, 64),
		readTimeout: readTimeout,
		readEntered: make(chan struct{}, 1),
	}
}

func (p *fakePort) send(data string) {
	p.chunks <- []byte(data)
}

func (p *fakePort) failReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.lastReturnedAt = time.Now()
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	select {
	case p.readEntered <- struct{}{}:
	default:
	}

	timer := time.NewTimer(p.readTimeout)
	defer timer.Stop()

	var n int
	select {
	case chunk := <-p.chunks:
		n = copy(b, chunk)
		p.mu.Lock()
		p.pending = append(p.pending, chunk[n:]...)
		p.mu.Unlock()
	case <-timer.C:
	}

	p.mu.Lock()
	p.lastReturnedAt = time.Now()
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closedAt = time.Now()
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePort) times() (closedAt, lastReturnedAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closedAt, p.lastReturnedAt
}

func openerFor(port *fakePort) Opener {
	return func(config Config) (Port, error) {
		return port, nil
	}
}

// chatterPort keeps returning bytes without ever sending a newline, like a
// device read at the wrong baud rate.
type chatterPort struct {
	mu     sync.Mutex
	closed bool
}

func (p *chatterPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, errors.New("port closed")
	}
	time.Sleep(time.Millisecond)
	return copy(b, "xxxxxxxx"), nil
}

func (p *chatterPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *chatterPort) SetReadTimeout(t time.Duration) error {
	return nil
}

func (p *chatterPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
