package monitor

import (
	"sync"

	"github.com/cskr/pubsub"
)

// broker is a pubsub broker that stays usable after Shutdown. Operations on a
// shut down pubsub.PubSub block forever, here they do nothing instead.
type broker struct {
	ps *pubsub.PubSub

	mutex sync.RWMutex
	// set once Shutdown has been called
	closed bool
}

func newBroker(capacity int) *broker {
	return &broker{ps: pubsub.New(capacity)}
}

// Sub returns a closed channel once the broker is shut down.
func (b *broker) Sub(topics ...string) chan interface{} {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.closed {
		ch := make(chan interface{})
		close(ch)
		return ch
	}
	return b.ps.Sub(topics...)
}

func (b *broker) Unsub(ch chan interface{}, topics ...string) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.closed {
		// Shutdown has closed ch already
		return
	}
	b.ps.Unsub(ch, topics...)
}

func (b *broker) TryPub(msg interface{}, topics ...string) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.closed {
		return
	}
	b.ps.TryPub(msg, topics...)
}

// Shutdown closes all subscribed channels. Only the first call has an effect.
func (b *broker) Shutdown() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}
