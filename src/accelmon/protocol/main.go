package protocol

import (
	"encoding/json"
	"errors"

	"github.com/dividat/accelmon/src/accelmon/frame"
)

// MONITOR COMMAND PROTOCOL

// Command sent by a client
type Command struct {
	*GetStatus

	*Connect
	*Disconnect

	*Discover
	*SetPollRate
}

func PrettyPrintCommand(command Command) string {
	if command.GetStatus != nil {
		return "GetStatus"
	} else if command.Connect != nil {
		return "Connect"
	} else if command.Disconnect != nil {
		return "Disconnect"
	} else if command.Discover != nil {
		return "Discover"
	} else if command.SetPollRate != nil {
		return "SetPollRate"
	}
	return "Unknown"
}

// GetStatus command
type GetStatus struct{}

// Connect command, a zero BaudRate keeps the configured one
type Connect struct {
	Address  string `json:"address"`
	BaudRate int    `json:"baudRate,omitempty"`
}

// Disconnect command
type Disconnect struct{}

// Discover command
type Discover struct{}

// SetPollRate changes how often readings are sent, in Hz
type SetPollRate struct {
	Hz float64 `json:"hz"`
}

// UnmarshalJSON implements encoding/json Unmarshaler interface
func (command *Command) UnmarshalJSON(data []byte) error {

	// Helper struct to get type
	temp := struct {
		Type string `json:"type"`
	}{}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	switch temp.Type {
	case "GetStatus":
		command.GetStatus = &GetStatus{}
	case "Connect":
		return json.Unmarshal(data, &command.Connect)
	case "Disconnect":
		command.Disconnect = &Disconnect{}
	case "Discover":
		command.Discover = &Discover{}
	case "SetPollRate":
		return json.Unmarshal(data, &command.SetPollRate)
	default:
		return errors.New("can not decode unknown command")
	}

	return nil
}

// Message sent to clients, either in response to a Command or broadcast
type Message struct {
	*Status
	Discovered *Discovered
	Reading    *Reading
	Error      *string
}

type UsbDeviceInfo struct {
	Path string `json:"path"`

	IdVendor  uint16 `json:"idVendor"`
	IdProduct uint16 `json:"idProduct"`

	SerialNumber string `json:"serialNumber"`
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
}

// Status is a message containing status information
type Status struct {
	// /dev/* or COM* path, nil when idle
	Address *string
	State   string

	Received uint64
	Dropped  uint64

	PollHz float64
	Unit   string
	// plotting range for clients
	YMin float64
	YMax float64
}

// Discovered lists candidate serial ports
type Discovered struct {
	Ports   []string
	Devices []UsbDeviceInfo
}

// Reading is one sample as sent to clients
type Reading struct {
	frame.Reading
	Unit string
}

// MarshalJSON implements JSON encoder for messages
func (message *Message) MarshalJSON() ([]byte, error) {
	if message.Status != nil {
		status := struct {
			Type     string  `json:"type"`
			Address  *string `json:"address"`
			State    string  `json:"state"`
			Received uint64  `json:"received"`
			Dropped  uint64  `json:"dropped"`
			PollHz   float64 `json:"pollHz"`
			Unit     string  `json:"unit"`
			YMin     float64 `json:"yMin"`
			YMax     float64 `json:"yMax"`
		}{
			Type:     "Status",
			Address:  message.Status.Address,
			State:    message.Status.State,
			Received: message.Status.Received,
			Dropped:  message.Status.Dropped,
			PollHz:   message.Status.PollHz,
			Unit:     message.Status.Unit,
			YMin:     message.Status.YMin,
			YMax:     message.Status.YMax,
		}
		return json.Marshal(&status)

	} else if message.Discovered != nil {
		discovered := struct {
			Type    string          `json:"type"`
			Ports   []string        `json:"ports"`
			Devices []UsbDeviceInfo `json:"devices"`
		}{
			Type:    "Discovered",
			Ports:   message.Discovered.Ports,
			Devices: message.Discovered.Devices,
		}
		if discovered.Ports == nil {
			discovered.Ports = []string{}
		}
		if discovered.Devices == nil {
			discovered.Devices = []UsbDeviceInfo{}
		}
		return json.Marshal(&discovered)

	} else if message.Reading != nil {
		reading := struct {
			Type      string  `json:"type"`
			Timestamp float64 `json:"timestamp"`
			X         float64 `json:"x"`
			Y         float64 `json:"y"`
			Z         float64 `json:"z"`
			Unit      string  `json:"unit"`
		}{
			Type:      "Reading",
			Timestamp: message.Reading.Seconds(),
			X:         message.Reading.X,
			Y:         message.Reading.Y,
			Z:         message.Reading.Z,
			Unit:      message.Reading.Unit,
		}
		return json.Marshal(&reading)

	} else if message.Error != nil {
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{
			Type:    "Error",
			Message: *message.Error,
		})
	}

	return nil, errors.New("could not marshal message")
}
