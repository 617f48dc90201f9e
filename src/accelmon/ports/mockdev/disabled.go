//go:build !debug

package mockdev

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	serialenum "go.bug.st/serial/enumerator"
)

type MockPortId int

var ErrPortNotFound = errors.New("mock port id not found")

type Registry struct {
	log *logrus.Entry
}

func New(log *logrus.Entry) *Registry {
	return &Registry{log: log}
}

func (h *Registry) List() []*serialenum.PortDetails {
	return nil
}

func (h *Registry) Register(portDetails serialenum.PortDetails) MockPortId {
	h.log.WithField("name", portDetails.Name).Warn("Mock ports are only listed in debug builds.")
	return -1
}

func (h *Registry) Unregister(id MockPortId) error {
	return ErrPortNotFound
}

// Mock port registration is only available in debug builds.
func (h *Registry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Mock port registration is not available in production builds", http.StatusForbidden)
}
