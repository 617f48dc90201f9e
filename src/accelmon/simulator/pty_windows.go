package simulator

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("simulated devices need pseudo terminals, which Windows does not have")

func (s *Simulator) Serve(ctx context.Context) (string, error) {
	return "", ErrUnsupported
}
