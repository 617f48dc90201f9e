package monitor

/* Streams accelerometer readings to WebSocket clients.

The functionality of this module is as follows:

- Open the serial port a client asks for, or while clients are connected keep
  trying the configured port and devices with a known USB vendor id
- Poll the acquisition session at the configured rate and publish each new
  reading to all clients
- Broadcast status changes (connected, device lost, open failures)

*/

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dividat/accelmon/src/accelmon/protocol"
	"github.com/dividat/accelmon/src/accelmon/reader"
	"github.com/dividat/accelmon/src/accelmon/session"
	"github.com/dividat/accelmon/src/accelmon/util"
	"github.com/dividat/accelmon/src/accelmon/websocket"
)

// how often to look for devices while there are clients and no device is
// connected
const backgroundScanInterval = 2 * time.Second

const (
	MinPollHz     = 0.01
	MaxPollHz     = 1000.0
	DefaultPollHz = 20.0
)

// pubsub topic names, must be unique
const brokerTopicRx = "accelmon-rx"
const brokerTopicRxBroadcast = "accelmon-rx-broadcast"

var ErrNoAddress = errors.New("no serial port address given")

// Enumerator lists candidate serial ports, see package ports.
type Enumerator interface {
	List() []string
	ListDetailed() []protocol.UsbDeviceInfo
	Matching(vendorId uint16) []protocol.UsbDeviceInfo
}

type Settings struct {
	// serial and calibration settings. A non-empty Port is connected to
	// while clients are subscribed, connect commands override it.
	Session session.Config

	PollHz float64
	// plotting range reported to clients
	YMin float64
	YMax float64

	// scan for a device with this USB vendor id while clients are connected,
	// nil disables auto-connect
	AutoConnectVendor *uint16
}

func DefaultSettings() Settings {
	return Settings{
		Session: session.DefaultConfig(""),
		PollHz:  DefaultPollHz,
		YMin:    -4,
		YMax:    4,
	}
}

// Handle for managing the monitor
type Handle struct {
	websocket.Handle

	Backend *DeviceBackend
}

type DeviceBackend struct {
	ctx context.Context
	log *logrus.Entry

	session   *session.Session
	enumerate Enumerator

	broker *broker

	// Only allow one connection change at a time
	connectionChangeMutex sync.Mutex

	mutex                sync.Mutex
	settings             Settings
	subscriberCount      int
	backgroundScanCancel context.CancelFunc

	pollRateChanged chan struct{}

	metrics *metrics
}

// New returns an initialized handler. The poll loop runs until ctx is done.
func New(ctx context.Context, log *logrus.Entry, settings Settings, enumerator Enumerator, open reader.Opener) *Handle {
	if open == nil {
		open = reader.OpenSerial
	}
	settings.PollHz = clampPollHz(settings.PollHz)

	backend := &DeviceBackend{
		ctx: ctx,
		log: log,

		session:   session.NewWithOpener(ctx, log, open),
		enumerate: enumerator,

		broker: newBroker(32),

		settings: settings,

		pollRateChanged: make(chan struct{}, 1),
	}
	backend.metrics = newMetrics(backend)

	handle := Handle{
		Handle: websocket.Handle{
			DeviceBackend:     backend,
			Broker:            backend.broker,
			BrokerRx:          brokerTopicRx,
			BrokerRxBroadcast: brokerTopicRxBroadcast,
			Log:               log,
		},
		Backend: backend,
	}

	go backend.pollLoop()

	return &handle
}

func clampPollHz(hz float64) float64 {
	if hz == 0 {
		return DefaultPollHz
	}
	return util.Clamp(hz, MinPollHz, MaxPollHz)
}

func pollInterval(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}

func (backend *DeviceBackend) broadcastMessage(msg protocol.Message) {
	backend.broker.TryPub(msg, brokerTopicRxBroadcast)
}

func (backend *DeviceBackend) broadcastStatusUpdate() {
	status := backend.GetStatus()
	backend.broadcastMessage(protocol.Message{Status: &status})
}

func (backend *DeviceBackend) broadcastError(err error) {
	reason := err.Error()
	backend.broadcastMessage(protocol.Message{Error: &reason})
}

// pollLoop publishes the newest reading on every tick
func (backend *DeviceBackend) pollLoop() {
	backend.mutex.Lock()
	interval := pollInterval(backend.settings.PollHz)
	backend.mutex.Unlock()

	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		backend.session.Stop()
		backend.broker.Shutdown()
		backend.log.Info("Monitor shut down.")
	}()

	lastState := reader.Idle

	for {
		select {
		case <-backend.ctx.Done():
			return

		case <-backend.pollRateChanged:
			backend.mutex.Lock()
			interval = pollInterval(backend.settings.PollHz)
			backend.mutex.Unlock()
			ticker.Reset(interval)

		case <-ticker.C:
			backend.mutex.Lock()
			unit := backend.settings.Session.Calibration.Unit()
			backend.mutex.Unlock()

			if reading := backend.session.Poll(); reading != nil {
				backend.broker.TryPub(protocol.Message{Reading: &protocol.Reading{Reading: *reading, Unit: unit}}, brokerTopicRx)
				backend.metrics.published.Inc()
			}

			if err := backend.session.Err(); err != nil {
				backend.metrics.openFailures.Inc()
				backend.broadcastError(err)
			}

			if state := backend.session.Status().State; state != lastState {
				lastState = state
				backend.log.WithField("state", state).Debug("Reader state changed.")
				backend.broadcastStatusUpdate()
			}
		}
	}
}

// connect to the device at address, replacing the current connection
func (backend *DeviceBackend) Connect(address string, baudRate int) error {
	if address == "" {
		return ErrNoAddress
	}

	backend.connectionChangeMutex.Lock()
	defer backend.connectionChangeMutex.Unlock()

	backend.mutex.Lock()
	config := backend.settings.Session
	backend.mutex.Unlock()

	config.Port = address
	if baudRate > 0 {
		config.BaudRate = baudRate
	}

	backend.log.WithField("path", address).WithField("baudRate", config.BaudRate).Info("Attempting to connect with device.")

	err := backend.session.Start(config)
	if err != nil {
		backend.metrics.openFailures.Inc()
	}
	backend.broadcastStatusUpdate()
	return err
}

func (backend *DeviceBackend) Disconnect() {
	backend.connectionChangeMutex.Lock()
	defer backend.connectionChangeMutex.Unlock()

	if err := backend.session.Stop(); err != nil {
		backend.log.WithError(err).Warn("Reader did not stop in time.")
	}
	backend.broadcastStatusUpdate()
}

func (backend *DeviceBackend) connectToFirstIfNotConnected() {
	if backend.session.Running() {
		// already connected, nothing to do
		return
	}

	// try devices until the first success
	for _, path := range backend.autoConnectCandidates() {
		if err := backend.Connect(path, 0); err == nil {
			return
		}
	}
}

// autoConnectCandidates lists the configured port followed by the ports
// matching the auto-connect vendor id.
func (backend *DeviceBackend) autoConnectCandidates() []string {
	backend.mutex.Lock()
	port := backend.settings.Session.Port
	vendor := backend.settings.AutoConnectVendor
	backend.mutex.Unlock()

	var paths []string
	if port != "" {
		paths = append(paths, port)
	}
	if vendor != nil {
		for _, device := range backend.enumerate.Matching(*vendor) {
			if device.Path != port {
				paths = append(paths, device.Path)
			}
		}
	}
	return paths
}

func (backend *DeviceBackend) disableAutoConnect() {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	if backend.backgroundScanCancel != nil {
		backend.backgroundScanCancel()
		backend.backgroundScanCancel = nil
	}
}

func (backend *DeviceBackend) enableAutoConnect() {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	autoConnect := backend.settings.Session.Port != "" || backend.settings.AutoConnectVendor != nil
	if autoConnect && backend.backgroundScanCancel == nil {
		ctx, cancel := context.WithCancel(backend.ctx)
		go backend.backgroundScan(ctx)
		backend.backgroundScanCancel = cancel
	}
}

func (backend *DeviceBackend) backgroundScan(ctx context.Context) {
	ticker := time.NewTicker(backgroundScanInterval)
	defer func() {
		backend.log.Info("Stopping background scan and auto-connect")
		ticker.Stop()
	}()

	backend.log.Info("Background scan and auto-connect started")

	for {
		select {
		case <-ticker.C:
			backend.connectToFirstIfNotConnected()

		case <-ctx.Done():
			return
		}
	}
}

func (backend *DeviceBackend) RegisterSubscriber(req *http.Request) {
	backend.mutex.Lock()
	backend.subscriberCount++
	backend.mutex.Unlock()

	// clients managing the connection themselves disable the scan
	if req.Header.Get("manual-connect") == "1" {
		backend.disableAutoConnect()
	} else {
		backend.connectToFirstIfNotConnected()
		backend.enableAutoConnect()
	}
}

// Deregister subscribers and disconnect when none left
func (backend *DeviceBackend) DeregisterSubscriber() {
	backend.mutex.Lock()
	backend.subscriberCount--
	remaining := backend.subscriberCount
	backend.mutex.Unlock()

	if remaining == 0 {
		backend.disableAutoConnect()
		if backend.session.Running() {
			backend.Disconnect()
		}
	}
}

func (backend *DeviceBackend) GetStatus() protocol.Status {
	status := backend.session.Status()

	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	result := protocol.Status{
		State:    status.State.String(),
		Received: status.Received,
		Dropped:  status.Dropped,
		PollHz:   backend.settings.PollHz,
		Unit:     backend.settings.Session.Calibration.Unit(),
		YMin:     backend.settings.YMin,
		YMax:     backend.settings.YMax,
	}
	if status.Port != "" {
		result.Address = util.PointerTo(status.Port)
	}
	return result
}

func (backend *DeviceBackend) Discover() protocol.Discovered {
	return protocol.Discovered{
		Ports:   backend.enumerate.List(),
		Devices: backend.enumerate.ListDetailed(),
	}
}

// SetPollRate changes how often readings are published, limited to
// MinPollHz..MaxPollHz.
func (backend *DeviceBackend) SetPollRate(hz float64) {
	backend.mutex.Lock()
	backend.settings.PollHz = util.Clamp(hz, MinPollHz, MaxPollHz)
	backend.mutex.Unlock()

	select {
	case backend.pollRateChanged <- struct{}{}:
	default:
	}
	backend.broadcastStatusUpdate()
}

func (backend *DeviceBackend) Session() *session.Session {
	return backend.session
}
