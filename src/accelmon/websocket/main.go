// WebSocket stream of readings, shared by every monitor backend
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dividat/accelmon/src/accelmon/protocol"
)

// bound for a single write to a client
const writeTimeout = 50 * time.Millisecond

type DeviceBackend interface {
	GetStatus() protocol.Status
	Discover() protocol.Discovered
	Connect(address string, baudRate int) error
	Disconnect()
	SetPollRate(hz float64)
	RegisterSubscriber(req *http.Request)
	DeregisterSubscriber()
}

// Broker is the part of a *pubsub.PubSub a connection uses.
type Broker interface {
	Sub(topics ...string) chan interface{}
	Unsub(ch chan interface{}, topics ...string)
}

type Handle struct {
	Broker Broker
	// readings, sent to every client
	BrokerRx string
	// status updates and errors, sent to every client
	BrokerRxBroadcast string

	Log *logrus.Entry

	DeviceBackend DeviceBackend
}

func (handle *Handle) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	// Set up logger
	var log = handle.Log.WithFields(logrus.Fields{
		"connection":    uuid.NewString(),
		"clientAddress": r.RemoteAddr,
		"userAgent":     r.UserAgent(),
	})

	// Update to WebSocket
	conn, err := webSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("Could not upgrade connection to WebSocket.")
		return
	}

	log.Info("WebSocket connection opened")

	// Connection supports only one concurrent reader and one concurrent writer (https://godoc.org/github.com/gorilla/websocket#hdr-Concurrency)
	writeMutex := sync.Mutex{}

	ctx, cancel := context.WithCancel(context.Background())

	// send message up the WebSocket
	sendMessage := func(message protocol.Message) error {
		writeMutex.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteJSON(&message)
		writeMutex.Unlock()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Error("WebSocket error")
			}
			return err
		}
		return nil
	}

	rx := handle.Broker.Sub(handle.BrokerRx, handle.BrokerRxBroadcast)

	handle.DeviceBackend.RegisterSubscriber(r)

	go rx_data_loop(ctx, rx, sendMessage)

	// Helper function to close the connection
	close := func() {
		// Unsubscribe from broker, in the background as Unsub blocks until
		// the broker is ready
		go handle.Broker.Unsub(rx)

		handle.DeviceBackend.DeregisterSubscriber()

		cancel()

		conn.Close()

		log.Info("WebSocket connection closed")
	}

	// Main loop for the WebSocket connection
	go func() {
		defer close()
		for {

			messageType, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Error("WebSocket error")
				}
				return
			}

			if messageType != websocket.TextMessage {
				log.Debug("Ignoring binary message.")
				continue
			}

			var command protocol.Command
			decodeErr := json.Unmarshal(msg, &command)
			if decodeErr != nil {
				log.WithField("rawCommand", string(msg)).WithError(decodeErr).Warning("Can not decode command.")
				continue
			}
			log.WithField("command", protocol.PrettyPrintCommand(command)).Debug("Received command.")

			err = handle.dispatchCommand(log, command, sendMessage)
			if err != nil {
				return
			}
		}
	}()

}

// HELPERS

// dispatchCommand handles incoming commands and sends responses back up the WebSocket
func (handle *Handle) dispatchCommand(log *logrus.Entry, command protocol.Command, sendMessage func(protocol.Message) error) error {

	if command.GetStatus != nil {
		status := handle.DeviceBackend.GetStatus()
		return sendMessage(protocol.Message{Status: &status})

	} else if command.Connect != nil {
		err := handle.DeviceBackend.Connect(command.Connect.Address, command.Connect.BaudRate)
		if err != nil {
			log.WithField("address", command.Connect.Address).WithError(err).Info("Connect failed.")
			reason := err.Error()
			return sendMessage(protocol.Message{Error: &reason})
		}

	} else if command.Disconnect != nil {
		handle.DeviceBackend.Disconnect()

	} else if command.Discover != nil {
		discovered := handle.DeviceBackend.Discover()
		log.WithField("ports", len(discovered.Ports)).Debug("Discovery finished.")
		return sendMessage(protocol.Message{Discovered: &discovered})

	} else if command.SetPollRate != nil {
		handle.DeviceBackend.SetPollRate(command.SetPollRate.Hz)
	}
	return nil
}

// rx_data_loop forwards broker messages up the WebSocket
func rx_data_loop(ctx context.Context, rx chan interface{}, send func(protocol.Message) error) {
	var err error
	for {
		select {
		case <-ctx.Done():
			return

		case i, ok := <-rx:
			if !ok {
				return
			}
			message, isMessage := i.(protocol.Message)
			if isMessage {
				err = send(message)
			}
		}

		if err != nil {
			return
		}
	}
}

// Helper to upgrade http to WebSocket
var webSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Check is performed by top-level HTTP middleware, and not repeated here.
		return true
	},
}
