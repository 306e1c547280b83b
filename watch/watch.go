/*Package watch provides a single-value channel that only keeps the latest value.

A Sender publishes values and any number of Receivers observe them.  A
receiver that falls behind sees only the newest value; intermediate values
are overwritten.  Changed returns a channel suitable for use in a select
statement.

*/
package watch

import "sync"

type state[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	closed  bool
	notify  chan struct{}
}

// Sender publishes values
type Sender[T any] struct {
	s *state[T]
}

// Receiver observes values published by a Sender
type Receiver[T any] struct {
	s    *state[T]
	seen uint64
}

// New returns a connected sender and receiver holding initial.  The initial
// value is already marked as seen by the receiver.
func New[T any](initial T) (*Sender[T], *Receiver[T]) {
	s := &state[T]{value: initial, notify: make(chan struct{})}
	return &Sender[T]{s: s}, &Receiver[T]{s: s}
}

// Send replaces the value and wakes all receivers.  Send on a closed Sender
// is a no-op.
func (tx *Sender[T]) Send(v T) {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.value = v
	s.version++
	close(s.notify)
	s.notify = make(chan struct{})
}

// Close marks the sender as gone.  Receivers keep the last value.
func (tx *Sender[T]) Close() {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}

// Subscribe returns a new receiver which has seen the current value
func (tx *Sender[T]) Subscribe() *Receiver[T] {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Receiver[T]{s: s, seen: s.version}
}

// Borrow returns the current value without marking it seen
func (rx *Receiver[T]) Borrow() T {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// BorrowAndUpdate returns the current value and marks it seen
func (rx *Receiver[T]) BorrowAndUpdate() T {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rx.seen = s.version
	return s.value
}

// HasChanged reports if a value was sent that this receiver has not seen
func (rx *Receiver[T]) HasChanged() bool {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version != rx.seen
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Changed returns a channel that is ready when a value this receiver has not
// seen is available.  If one is pending it is ready immediately.  Once the
// sender is closed and every value has been seen, Changed returns a nil
// channel, which never becomes ready.
//
// Changed does not mark anything seen; call BorrowAndUpdate after it fires.
func (rx *Receiver[T]) Changed() <-chan struct{} {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != rx.seen {
		return closedChan
	}
	if s.closed {
		return nil
	}
	return s.notify
}
