package reader

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dividat/accelmon/src/accelmon/frame"
	"github.com/dividat/accelmon/src/accelmon/queue"
)

type fixture struct {
	reader  *Reader
	samples *queue.Queue[frame.Reading]
	errors  *queue.Queue[error]
	hook    *test.Hook
}

func newFixture(t *testing.T, config Config, open Opener) *fixture {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	samples := queue.New[frame.Reading]()
	errs := queue.New[error]()
	r := New(context.Background(), logrus.NewEntry(logger), config, open, samples, errs)
	t.Cleanup(func() { r.StopAndJoin(2 * time.Second) })

	return &fixture{reader: r, samples: samples, errors: errs, hook: hook}
}

func decimalConfig() Config {
	config := DefaultConfig("/dev/ttyFAKE0")
	config.Encoding = frame.EncodingDecimal
	return config
}

func waitForState(t *testing.T, r *Reader, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return r.State() == state }, 2*time.Second, time.Millisecond,
		"reader state is %s, want %s", r.State(), state)
}

func TestReaderDecodesFramesInOrder(t *testing.T) {
	port := newFakePort(10 * time.Millisecond)
	f := newFixture(t, decimalConfig(), openerFor(port))

	port.send("80 0 200 0 10 0\n")
	port.send("0 255 0 0 0 0\n")
	port.send("1 0 1 0 1 0\n")

	f.reader.Start()
	require.Eventually(t, func() bool { return f.samples.Len() == 3 }, 2*time.Second, time.Millisecond)

	readings := f.samples.DrainAll()
	assert.Equal(t, frame.Sample{X: 0.624, Y: 1.56, Z: 0.078}, readings[0].Sample)
	assert.Equal(t, frame.Sample{X: -1.997, Y: 0, Z: 0}, readings[1].Sample)
	assert.Equal(t, frame.Sample{X: 0.008, Y: 0.008, Z: 0.008}, readings[2].Sample)

	for i := 1; i < len(readings); i++ {
		assert.GreaterOrEqual(t, readings[i].Elapsed, readings[i-1].Elapsed)
	}
	assert.Equal(t, uint64(3), f.reader.Received())
	assert.Equal(t, Running, f.reader.State())
}

func TestReaderDropsMalformedLines(t *testing.T) {
	port := newFakePort(10 * time.Millisecond)
	f := newFixture(t, decimalConfig(), openerFor(port))

	port.send("1 2 3 4 5\n")
	port.send("1 2 3 4 5 6 7\n")
	port.send("garbage\n")
	port.send("2 0 2 0 2 0\n")

	f.reader.Start()
	require.Eventually(t, func() bool { return f.samples.Len() == 1 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.reader.Dropped() == 3 }, 2*time.Second, time.Millisecond)

	readings := f.samples.DrainAll()
	assert.Equal(t, frame.Sample{X: 0.016, Y: 0.016, Z: 0.016}, readings[0].Sample)
	assert.Empty(t, f.errors.DrainAll(), "malformed lines are not errors")
}

func TestReaderJoinsLineSplitAcrossReads(t *testing.T) {
	port := newFakePort(50 * time.Millisecond)
	f := newFixture(t, decimalConfig(), openerFor(port))

	port.send("80 0 20")
	port.send("0 0 10 0\n")

	f.reader.Start()
	require.Eventually(t, func() bool { return f.samples.Len() == 1 }, 2*time.Second, time.Millisecond)

	reading, _ := f.samples.TryPop(0)
	assert.Equal(t, frame.Sample{X: 0.624, Y: 1.56, Z: 0.078}, reading.Sample)
}

func TestReaderDiscardsPartialLineAfterTimeout(t *testing.T) {
	port := newFakePort(5 * time.Millisecond)
	f := newFixture(t, decimalConfig(), openerFor(port))

	f.reader.Start()
	waitForState(t, f.reader, Running)

	port.send("80 0 200")
	// let the following read time out so the partial line is handed out
	time.Sleep(50 * time.Millisecond)
	port.send(" 0 10 0\n")
	port.send("1 0 1 0 1 0\n")

	require.Eventually(t, func() bool { return f.samples.Len() == 1 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.reader.Dropped() == 2 }, 2*time.Second, time.Millisecond)

	reading, _ := f.samples.TryPop(0)
	assert.Equal(t, frame.Sample{X: 0.008, Y: 0.008, Z: 0.008}, reading.Sample)
}

func TestStopAndJoinWaitsForBlockedRead(t *testing.T) {
	port := newFakePort(100 * time.Millisecond)
	f := newFixture(t, decimalConfig(), openerFor(port))

	f.reader.Start()
	waitForState(t, f.reader, Running)
	<-port.readEntered

	stopCalledAt := time.Now()
	err := f.reader.StopAndJoin(time.Second)
	stopReturnedAt := time.Now()

	require.NoError(t, err)
	assert.True(t, port.isClosed())
	assert.Equal(t, Stopped, f.reader.State())

	closedAt, lastReturnedAt := port.times()
	assert.True(t, lastReturnedAt.After(stopCalledAt), "the in-flight read was not interrupted")
	assert.False(t, closedAt.Before(lastReturnedAt))
	assert.False(t, stopReturnedAt.Before(closedAt))
}

func TestStopAndJoinTimesOut(t *testing.T) {
	port := newFakePort(300 * time.Millisecond)
	f := newFixture(t, decimalConfig(), openerFor(port))

	f.reader.Start()
	waitForState(t, f.reader, Running)
	<-port.readEntered

	err := f.reader.StopAndJoin(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Equal(t, Stopping, f.reader.State())

	select {
	case <-f.reader.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit after its read timed out")
	}
	assert.True(t, port.isClosed())
	assert.Equal(t, Stopped, f.reader.State())
}

func TestStopWhileDeviceSendsNoNewline(t *testing.T) {
	port := &chatterPort{}
	f := newFixture(t, decimalConfig(), func(config Config) (Port, error) { return port, nil })

	f.reader.Start()
	waitForState(t, f.reader, Running)
	require.Eventually(t, func() bool { return f.reader.Dropped() > 0 }, 2*time.Second, time.Millisecond)

	require.NoError(t, f.reader.StopAndJoin(500*time.Millisecond))
	assert.True(t, port.isClosed())
	assert.Equal(t, Stopped, f.reader.State())
	assert.Equal(t, 0, f.samples.Len())
}

func TestDroppedLinesKeepElapsedOrigin(t *testing.T) {
	port := newFakePort(5 * time.Millisecond)
	f := newFixture(t, decimalConfig(), openerFor(port))

	f.reader.Start()
	// the origin is taken before the first read
	<-port.readEntered
	time.Sleep(100 * time.Millisecond)

	port.send("garbage\n")
	port.send("1 2 3\n")
	require.Eventually(t, func() bool { return f.reader.Dropped() == 2 }, 2*time.Second, time.Millisecond)
	port.send("1 0 1 0 1 0\n")

	reading, ok := f.samples.TryPop(2 * time.Second)
	require.True(t, ok)
	assert.GreaterOrEqual(t, reading.Elapsed, 100*time.Millisecond)
}

func TestStopBeforeStart(t *testing.T) {
	f := newFixture(t, decimalConfig(), openerFor(newFakePort(time.Millisecond)))

	assert.NoError(t, f.reader.StopAndJoin(time.Millisecond))
	assert.Equal(t, Idle, f.reader.State())
}

func TestReaderReportsOpenFailureOnce(t *testing.T) {
	failure := errors.New("permission denied")
	attempts := 0
	open := func(config Config) (Port, error) {
		attempts++
		return nil, failure
	}
	f := newFixture(t, decimalConfig(), open)

	f.reader.Start()

	item, ok := f.errors.TryPop(time.Second)
	require.True(t, ok)
	var openErr *OpenError
	require.ErrorAs(t, item, &openErr)
	assert.Equal(t, "/dev/ttyFAKE0", openErr.Port)
	assert.ErrorIs(t, item, failure)

	<-f.reader.Done()
	assert.Equal(t, FailedToOpen, f.reader.State())
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, f.errors.Len())
	assert.Equal(t, 0, f.samples.Len())
	assert.NoError(t, f.reader.StopAndJoin(time.Millisecond))

	assert.Equal(t, "Failed to open connection to serial port.", f.hook.LastEntry().Message)
}

func TestReaderOpenFailureOnMissingDevice(t *testing.T) {
	config := DefaultConfig("/dev/accelmon-does-not-exist")
	f := newFixture(t, config, OpenSerial)

	f.reader.Start()

	item, ok := f.errors.TryPop(2 * time.Second)
	require.True(t, ok)
	var openErr *OpenError
	assert.ErrorAs(t, item, &openErr)

	<-f.reader.Done()
	assert.Equal(t, FailedToOpen, f.reader.State())
	assert.Equal(t, 0, f.samples.Len())
}

func TestReaderRetriesOpen(t *testing.T) {
	port := newFakePort(10 * time.Millisecond)
	attempts := 0
	open := func(config Config) (Port, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("device busy")
		}
		return port, nil
	}
	config := decimalConfig()
	config.OpenRetry = 5 * time.Second
	f := newFixture(t, config, open)

	f.reader.Start()
	waitForState(t, f.reader, Running)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 0, f.errors.Len())
}

func TestStopWhileRetryingOpen(t *testing.T) {
	open := func(config Config) (Port, error) {
		return nil, errors.New("no such device")
	}
	config := decimalConfig()
	config.OpenRetry = time.Minute
	f := newFixture(t, config, open)

	f.reader.Start()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, f.reader.StopAndJoin(2*time.Second))
	assert.Equal(t, Stopped, f.reader.State())
	assert.Equal(t, 0, f.errors.Len(), "a requested stop is not an open failure")
}

func TestReaderStopsOnReadError(t *testing.T) {
	port := newFakePort(5 * time.Millisecond)
	f := newFixture(t, decimalConfig(), openerFor(port))

	f.reader.Start()
	waitForState(t, f.reader, Running)
	port.failReads(io.ErrUnexpectedEOF)

	select {
	case <-f.reader.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit after a read error")
	}
	assert.Equal(t, Stopped, f.reader.State())
	assert.True(t, port.isClosed())
	assert.Equal(t, 0, f.errors.Len())
}

func TestReaderStopsWithParentContext(t *testing.T) {
	port := newFakePort(5 * time.Millisecond)
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	r := New(ctx, logrus.NewEntry(logger), decimalConfig(), openerFor(port), queue.New[frame.Reading](), queue.New[error]())

	r.Start()
	waitForState(t, r, Running)
	cancel()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit after the parent context was cancelled")
	}
	assert.True(t, port.isClosed())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "failed-to-open", FailedToOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
