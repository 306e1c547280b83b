package detector

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/nasa-jpl/detctl/sdk"
)

// DefaultMailboxSize is the number of commands that may queue for the actor
const DefaultMailboxSize = 8

// Actor owns an sdk.Device and executes commands on it one at a time.  No
// other code touches the device.
type Actor struct {
	dev     sdk.Device
	mailbox chan Command
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	logger  *log.Logger
}

// NewActor creates an actor for dev.  Run must be called to start it.
func NewActor(dev sdk.Device, mailboxSize int, logger *log.Logger) *Actor {
	if mailboxSize < 1 {
		mailboxSize = DefaultMailboxSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Actor{
		dev:     dev,
		mailbox: make(chan Command, mailboxSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger}
}

// Run processes commands until Stop is called.  Commands still queued when
// the actor stops are answered with ErrActorStopped.
func (a *Actor) Run() {
	defer close(a.done)
	for {
		select {
		case cmd := <-a.mailbox:
			a.exec(cmd)
		case <-a.stop:
			for {
				select {
				case cmd := <-a.mailbox:
					cmd.fail(ErrActorStopped)
				default:
					return
				}
			}
		}
	}
}

func (a *Actor) exec(cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Printf("detector SDK panic on %T: %v", cmd, r)
			cmd.fail(fmt.Errorf("%w: panic: %v", sdk.ErrInternal, r))
		}
	}()
	cmd.apply(a.dev)
}

// Stop asks the actor to exit after the command in progress
func (a *Actor) Stop() {
	a.once.Do(func() { close(a.stop) })
}

// Done is closed when Run has returned
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// Handle returns a bring-up handle to the actor
func (a *Actor) Handle() *Handle {
	return &Handle{mailbox: a.mailbox, done: a.done}
}

// Handle sends commands to an actor.  It is safe for concurrent use; the
// actor orders the commands.
type Handle struct {
	mailbox chan<- Command
	done    <-chan struct{}
}

// call sends cmd and waits for its reply
func call[T any](ctx context.Context, h *Handle, cmd Command, reply replyTo[T]) (T, error) {
	var zero T
	select {
	case h.mailbox <- cmd:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.done:
		return zero, ErrActorStopped
	}
	select {
	case r := <-reply:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.done:
		select {
		case r := <-reply:
			return r.v, r.err
		default:
			return zero, ErrActorStopped
		}
	}
}

func exec(ctx context.Context, h *Handle, build func(replyTo[none]) Command) error {
	reply := newReply[none]()
	_, err := call(ctx, h, build(reply), reply)
	return err
}

// OpenCamera opens the detector
func (h *Handle) OpenCamera(ctx context.Context) error {
	return exec(ctx, h, func(r replyTo[none]) Command { return openCamera{r} })
}

// CloseCamera closes the detector
func (h *Handle) CloseCamera(ctx context.Context) error {
	return exec(ctx, h, func(r replyTo[none]) Command { return closeCamera{r} })
}

// IsConnected asks the detector if it is still reachable
func (h *Handle) IsConnected(ctx context.Context) (bool, error) {
	reply := newReply[bool]()
	return call(ctx, h, isConnected{reply}, reply)
}

// ImageDims returns the size of the frames the detector will produce
func (h *Handle) ImageDims(ctx context.Context) (sdk.Dims, error) {
	reply := newReply[sdk.Dims]()
	return call(ctx, h, imageDims{reply}, reply)
}

// Capture returns the capture scoped view of the same actor
func (h *Handle) Capture() *CaptureHandle {
	return &CaptureHandle{h: h}
}
