package capture

import "sync"

// UpdateKind distinguishes progress updates
type UpdateKind int

const (
	UpdateTaskCount UpdateKind = iota
	UpdateCompletedTaskCount
	UpdateMessage
)

// Update is one progress event produced by a running capture
type Update struct {
	Kind UpdateKind
	N    int
	Text string
}

// TaskCount announces the number of steps in the capture
func TaskCount(n int) Update {
	return Update{Kind: UpdateTaskCount, N: n}
}

// CompletedTaskCount announces how many steps have finished
func CompletedTaskCount(n int) Update {
	return Update{Kind: UpdateCompletedTaskCount, N: n}
}

// Message sets the human readable message of the report
func Message(s string) Update {
	return Update{Kind: UpdateMessage, Text: s}
}

// Updates is an unbounded FIFO of progress updates with any number of
// producers and one consumer.  Send never blocks.
type Updates struct {
	mu     sync.Mutex
	queue  []Update
	closed bool
	signal chan struct{}
}

// NewUpdates returns an empty queue
func NewUpdates() *Updates {
	return &Updates{signal: make(chan struct{}, 1)}
}

func (u *Updates) wake() {
	select {
	case u.signal <- struct{}{}:
	default:
	}
}

// Send enqueues an update.  It returns false if the queue is closed.
func (u *Updates) Send(up Update) bool {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return false
	}
	u.queue = append(u.queue, up)
	u.mu.Unlock()
	u.wake()
	return true
}

// Close stops accepting updates.  Queued updates are still delivered.
func (u *Updates) Close() {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	u.wake()
}

// Recv blocks until an update is available.  ok is false once the queue is
// closed and empty.
func (u *Updates) Recv() (up Update, ok bool) {
	for {
		u.mu.Lock()
		if len(u.queue) > 0 {
			up = u.queue[0]
			u.queue[0] = Update{}
			u.queue = u.queue[1:]
			u.mu.Unlock()
			return up, true
		}
		if u.closed {
			u.mu.Unlock()
			return Update{}, false
		}
		u.mu.Unlock()
		<-u.signal
	}
}

// Drain calls f for every update in order until the queue is closed and
// empty
func (u *Updates) Drain(f func(Update)) {
	for {
		up, ok := u.Recv()
		if !ok {
			return
		}
		f(up)
	}
}
