package feed

/* A single-slot "live data feed" between the acquisition session and a
polling consumer.

Only the most recent reading is kept. When the consumer polls slower than
readings arrive, intermediate readings are dropped on purpose.

*/

import (
	"sync"

	"github.com/dividat/accelmon/src/accelmon/frame"
)

type Feed struct {
	mutex      sync.Mutex
	latest     *frame.Reading
	hasNewData bool
}

func New() *Feed {
	return &Feed{}
}

// AddData replaces the current reading and marks the feed as updated.
func (f *Feed) AddData(reading frame.Reading) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.latest = &reading
	f.hasNewData = true
}

// ReadData returns the most recent reading, nil if there never was one, and
// clears the new data flag.
func (f *Feed) ReadData() *frame.Reading {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.hasNewData = false
	if f.latest == nil {
		return nil
	}
	reading := *f.latest
	return &reading
}

func (f *Feed) HasNewData() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.hasNewData
}

// ReadNew returns the most recent reading only if it was not read before.
func (f *Feed) ReadNew() *frame.Reading {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if !f.hasNewData {
		return nil
	}
	f.hasNewData = false
	reading := *f.latest
	return &reading
}
