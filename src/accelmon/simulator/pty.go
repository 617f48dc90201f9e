//go:build !windows

package simulator

import (
	"context"

	"github.com/creack/pty"
)

// Serve runs the simulator on a new pseudo terminal and returns the name of
// its device. The terminal is closed when ctx is done.
func (s *Simulator) Serve(ctx context.Context) (string, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return "", err
	}
	name := slave.Name()

	// keep the slave open so the terminal survives readers coming and going
	go func() {
		<-ctx.Done()
		master.Close()
		slave.Close()
	}()

	go s.Run(ctx, master)

	s.log.WithField("port", name).Info("Simulated device ready.")
	return name, nil
}
