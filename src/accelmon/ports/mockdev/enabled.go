//go:build debug

package mockdev

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	serialenum "go.bug.st/serial/enumerator"
)

type MockPortId int

var ErrPortNotFound = errors.New("mock port id not found")

// Registry holds ports that are listed next to the real ones, for example the
// pseudo terminal of a simulated accelerometer.
type Registry struct {
	log *logrus.Entry

	mutex      sync.Mutex
	registered map[MockPortId]*serialenum.PortDetails
}

func New(log *logrus.Entry) *Registry {
	log.Info("Mock port registry enabled (debug build)")
	return &Registry{
		log:        log,
		registered: make(map[MockPortId]*serialenum.PortDetails),
	}
}

func (h *Registry) handlePost(w http.ResponseWriter, r *http.Request) {
	var portDetails serialenum.PortDetails
	if err := json.NewDecoder(r.Body).Decode(&portDetails); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if portDetails.Name == "" {
		http.Error(w, "Missing port name", http.StatusBadRequest)
		return
	}
	id := h.Register(portDetails)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"id": int(id)})
}

func (h *Registry) handleDelete(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	if err := h.Unregister(MockPortId(id)); err != nil {
		if errors.Is(err, ErrPortNotFound) {
			http.Error(w, "Port not found", http.StatusNotFound)
		} else {
			http.Error(w, "Internal error", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ServeHTTP registers ports with POST and removes them with DELETE /<id>.
// Mount with http.StripPrefix.
func (h *Registry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
		return
	case http.MethodDelete:
		h.handleDelete(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// List returns the registered ports ordered by registration.
func (h *Registry) List() []*serialenum.PortDetails {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ids := make([]int, 0, len(h.registered))
	for id := range h.registered {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	ports := make([]*serialenum.PortDetails, 0, len(ids))
	for _, id := range ids {
		ports = append(ports, h.registered[MockPortId(id)])
	}
	return ports
}

func (h *Registry) Register(portDetails serialenum.PortDetails) MockPortId {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	id := MockPortId(-1)
	for existing := range h.registered {
		if existing > id {
			id = existing
		}
	}
	id = id + 1
	h.registered[id] = &portDetails

	h.log.WithField("name", portDetails.Name).WithField("id", id).Info("Registered mock port.")
	return id
}

func (h *Registry) Unregister(id MockPortId) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.registered[id]; !ok {
		return ErrPortNotFound
	}
	delete(h.registered, id)
	return nil
}
