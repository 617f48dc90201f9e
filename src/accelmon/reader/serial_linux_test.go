//go:build linux

package reader

import (
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dividat/accelmon/src/accelmon/frame"
)

func TestReaderOverPseudoTerminal(t *testing.T) {
	master, slave, err := pty.Open()
	if err != nil {
		t.Skipf("pseudo terminals unavailable: %v", err)
	}
	t.Cleanup(func() { master.Close(); slave.Close() })

	config := DefaultConfig(slave.Name())
	config.Encoding = frame.EncodingDecimal
	config.ReadTimeout = 10 * time.Millisecond

	port, err := OpenSerial(config)
	if err != nil {
		t.Skipf("pseudo terminal can not be configured as a serial port: %v", err)
	}
	port.Close()

	f := newFixture(t, config, OpenSerial)
	f.reader.Start()
	waitForState(t, f.reader, Running)

	_, err = master.Write([]byte("1 2 3 4 5\n80 0 200 0 10 0\n"))
	require.NoError(t, err)

	reading, ok := f.samples.TryPop(2 * time.Second)
	require.True(t, ok, "timeout waiting for frame")
	assert.Equal(t, frame.Sample{X: 0.624, Y: 1.56, Z: 0.078}, reading.Sample)
	assert.Equal(t, uint64(1), f.reader.Dropped())

	start := time.Now()
	require.NoError(t, f.reader.StopAndJoin(time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "stop is bounded by the read timeout")
	assert.Equal(t, Stopped, f.reader.State())
}
