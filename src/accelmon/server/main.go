package server

/* HTTP server of the monitor.

Routes:

- /ws          WebSocket stream of readings and commands
- /status      current status as JSON
- /metrics     Prometheus metrics
- /mock-ports/ register simulated serial ports (debug builds)

*/

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/denisbrodbeck/machineid"
	"github.com/libp2p/zeroconf/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	serialenum "go.bug.st/serial/enumerator"

	"github.com/dividat/accelmon/src/accelmon/config"
	"github.com/dividat/accelmon/src/accelmon/monitor"
	"github.com/dividat/accelmon/src/accelmon/ports"
	"github.com/dividat/accelmon/src/accelmon/ports/mockdev"
	"github.com/dividat/accelmon/src/accelmon/protocol"
	"github.com/dividat/accelmon/src/accelmon/simulator"
)

const ServiceType = "_accelmon._tcp"

// app id for deriving the advertised machine id
const appID = "accelmon"

type Server struct {
	log *logrus.Entry

	http     *http.Server
	listener net.Listener
	monitor  *monitor.Handle
	zeroconf *zeroconf.Server
}

// Start sets up the monitor and serves it on the configured address until
// Shutdown. Devices and the simulator are released when ctx is done.
func Start(ctx context.Context, log *logrus.Entry, cfg config.Config) (*Server, error) {
	settings, err := cfg.MonitorSettings()
	if err != nil {
		return nil, err
	}

	mockPorts := mockdev.New(log.WithField("package", "mockdev"))
	enumerator := ports.New(log.WithField("package", "ports"), mockPorts)

	if cfg.Simulate.Enabled {
		sim := simulator.New(log.WithField("package", "simulator"), cfg.SimulatorInterval(), cfg.SimulatorEncoding())
		name, err := sim.Serve(ctx)
		if err != nil {
			return nil, err
		}
		mockPorts.Register(serialenum.PortDetails{Name: name, Product: "accelmon simulator"})
		settings.Session.Port = name
		settings.Session.Encoding = cfg.SimulatorEncoding()
	}

	handle := monitor.New(ctx, log.WithField("package", "monitor"), settings, enumerator, nil)

	registry := prometheus.NewRegistry()
	if err := handle.Backend.RegisterMetrics(registry); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", handle)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/mock-ports/", http.StripPrefix("/mock-ports", mockPorts))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := handle.Backend.GetStatus()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&protocol.Message{Status: &status})
	})

	listener, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return nil, err
	}

	server := &Server{
		log:      log,
		http:     &http.Server{Handler: localOriginsOnly(log, mux)},
		listener: listener,
		monitor:  handle,
	}

	go func() {
		if err := server.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server stopped.")
		}
	}()
	log.WithField("address", listener.Addr().String()).Info("Serving monitor.")

	if cfg.Server.Advertise {
		if err := server.advertise(); err != nil {
			log.WithError(err).Warn("Could not advertise service.")
		}
	}

	return server, nil
}

// advertise registers the service with zeroconf
func (s *Server) advertise() error {
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}

	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return err
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = appID
	}

	s.zeroconf, err = zeroconf.Register(hostname, ServiceType, "local.", port, []string{"id=" + id, "path=/ws"}, nil)
	if err != nil {
		return err
	}
	s.log.WithField("service", ServiceType).WithField("port", port).Info("Advertising service.")
	return nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Monitor() *monitor.Handle {
	return s.monitor
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.zeroconf != nil {
		s.zeroconf.Shutdown()
	}
	return s.http.Shutdown(ctx)
}

// localOriginsOnly rejects browser requests from pages not served by this host
func localOriginsOnly(log *logrus.Entry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !isLocalOrigin(origin) {
			log.WithField("origin", origin).Warn("Rejecting request from foreign origin.")
			http.Error(w, "Forbidden origin", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLocalOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
