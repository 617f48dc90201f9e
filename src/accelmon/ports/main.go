package ports

/* Lists serial ports an accelerometer may be attached to.

List gives plain port names, probed by opening each COM port on Windows and
globbing device nodes elsewhere. ListDetailed adds USB metadata where the
platform reports it. Ports registered with the mock port registry (debug
builds only) are listed after the real ones.

*/

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	serialenum "go.bug.st/serial/enumerator"

	"github.com/dividat/accelmon/src/accelmon/ports/mockdev"
	"github.com/dividat/accelmon/src/accelmon/protocol"
)

// number of COM ports probed on Windows
const comPortCount = 256

type Enumerator struct {
	log       *logrus.Entry
	mockPorts *mockdev.Registry

	// glob for device nodes, unused on Windows
	pattern string
	// opens and closes a port, nil error when the port exists
	probe func(name string) error
	// detailed listing of the platform
	detailed func() ([]*serialenum.PortDetails, error)
}

func New(log *logrus.Entry, mockPorts *mockdev.Registry) *Enumerator {
	return &Enumerator{
		log:       log,
		mockPorts: mockPorts,
		pattern:   defaultPattern,
		probe:     openAndClose,
		detailed:  serialenum.GetDetailedPortsList,
	}
}

// List returns the names of available serial ports. It never fails, an empty
// list means nothing was found.
func (e *Enumerator) List() []string {
	names := e.list()

	for _, port := range e.mocks() {
		if !contains(names, port.Name) {
			names = append(names, port.Name)
		}
	}

	e.log.WithField("count", len(names)).Debug("Listed serial ports.")
	return names
}

// ListDetailed returns the ports the platform enumerator knows about with
// their USB metadata. Non-USB ports are listed with their path only.
func (e *Enumerator) ListDetailed() []protocol.UsbDeviceInfo {
	ports, err := e.detailed()
	if err != nil {
		e.log.WithField("error", err).Info("Could not list serial devices.")
		ports = nil
	}
	ports = append(ports, e.mocks()...)

	devices := make([]protocol.UsbDeviceInfo, 0, len(ports))
	for _, port := range ports {
		e.log.WithField("name", port.Name).WithField("vendor", port.VID).Debug("Considering serial port.")

		device, err := portDetailsToDeviceInfo(*port)
		if err != nil {
			e.log.WithField("name", port.Name).WithField("error", err).Warn("Ignoring malformed USB ids of serial port.")
			device = protocol.UsbDeviceInfo{Path: port.Name}
		}
		devices = append(devices, device)
	}
	return devices
}

// Matching returns the detailed ports with the given USB vendor id.
func (e *Enumerator) Matching(vendorId uint16) []protocol.UsbDeviceInfo {
	var matching []protocol.UsbDeviceInfo
	for _, device := range e.ListDetailed() {
		if device.IdVendor == vendorId {
			e.log.WithField("name", device.Path).Debug("Serial port matches vendor id.")
			matching = append(matching, device)
		}
	}
	return matching
}

func (e *Enumerator) mocks() []*serialenum.PortDetails {
	if e.mockPorts == nil {
		return nil
	}
	return e.mockPorts.List()
}

func portDetailsToDeviceInfo(port serialenum.PortDetails) (protocol.UsbDeviceInfo, error) {
	deviceInfo := protocol.UsbDeviceInfo{
		Path:         port.Name,
		SerialNumber: port.SerialNumber,
		Manufacturer: port.Manufacturer,
		Product:      port.Product,
	}
	if !port.IsUSB {
		return deviceInfo, nil
	}

	idVendor, err := strconv.ParseUint(port.VID, 16, 16) // hex, uint16
	if err != nil {
		return deviceInfo, fmt.Errorf("vendor id: %w", err)
	}
	idProduct, err := strconv.ParseUint(port.PID, 16, 16) // hex, uint16
	if err != nil {
		return deviceInfo, fmt.Errorf("product id: %w", err)
	}
	deviceInfo.IdVendor = uint16(idVendor)
	deviceInfo.IdProduct = uint16(idProduct)
	return deviceInfo, nil
}

// probeNames keeps the names that open succeeds on, in order.
func probeNames(names []string, open func(string) error) []string {
	var available []string
	for _, name := range names {
		if err := open(name); err == nil {
			available = append(available, name)
		}
	}
	return available
}

// comNames returns COM1 up to COM<count>.
func comNames(count int) []string {
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		names = append(names, "COM"+strconv.Itoa(i+1))
	}
	return names
}

func openAndClose(name string) error {
	port, err := serial.Open(name, &serial.Mode{BaudRate: 9600})
	if err != nil {
		return err
	}
	return port.Close()
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
