// Package event carries detector and capture events to observers.
package event

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names an event
type Kind string

const (
	// DetectorConnected is sent when a detector is opened and ready
	DetectorConnected Kind = "detectorConnected"

	// DetectorStatus is sent on every detector status transition
	DetectorStatus Kind = "detectorStatus"

	// CaptureProgress carries a capture report snapshot
	CaptureProgress Kind = "captureProgress"

	// CaptureFinished carries the terminal report and the result
	CaptureFinished Kind = "captureFinished"

	// Log carries a server log line
	Log Kind = "log"
)

// Event is one message on the Bus
type Event struct {
	Kind     Kind        `json:"kind"`
	Detector uuid.UUID   `json:"detector"`
	Time     time.Time   `json:"time"`
	Payload  interface{} `json:"payload"`
}

// New stamps an event with the current time
func New(kind Kind, detector uuid.UUID, payload interface{}) Event {
	return Event{Kind: kind, Detector: detector, Time: time.Now(), Payload: payload}
}

// Publisher accepts events
type Publisher interface {
	Publish(Event)
}

// Bus distributes events to subscribers.  Publish never blocks; a
// subscriber whose buffer is full misses events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
}

// NewBus creates a bus whose subscriptions buffer up to buffer events
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{subs: make(map[chan Event]struct{}), buffer: buffer}
}

// Subscribe returns a channel of events and the function that ends the
// subscription and closes the channel
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish sends e to every subscriber with room for it
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers is the number of live subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Writer is an io.Writer that publishes each write as a Log event, for use
// with log.SetOutput
type Writer struct {
	Bus *Bus
}

func (w Writer) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.Bus.Publish(New(Log, uuid.Nil, msg))
	}
	return len(p), nil
}
