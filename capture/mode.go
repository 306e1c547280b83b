package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nasa-jpl/detctl/sdk"
	"github.com/nasa-jpl/detctl/watch"
)

// Kind names a capture mode
type Kind string

const (
	KindSequence           Kind = "sequence"
	KindStream             Kind = "stream"
	KindSignalAccumulation Kind = "signalAccumulation"
)

// ErrBadMode is returned for a Mode whose Kind and body disagree
var ErrBadMode = errors.New("invalid capture mode")

// Mode is a capture request.  Exactly one of the bodies matching Kind is set.
type Mode struct {
	Kind               Kind                `json:"kind"`
	Sequence           *Sequence           `json:"sequence,omitempty"`
	Stream             *Stream             `json:"stream,omitempty"`
	SignalAccumulation *SignalAccumulation `json:"signalAccumulation,omitempty"`
}

// Validate checks the mode is well formed
func (m Mode) Validate() error {
	var err error
	switch {
	case m.Kind == KindSequence && m.Sequence != nil:
		err = m.Sequence.Validate()
	case m.Kind == KindStream && m.Stream != nil:
		err = m.Stream.Validate()
	case m.Kind == KindSignalAccumulation && m.SignalAccumulation != nil:
		err = m.SignalAccumulation.Validate()
	default:
		return fmt.Errorf("%w: kind %q without a matching body", ErrBadMode, m.Kind)
	}
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadMode, err)
	}
	return nil
}

// Name is the display name of the capture
func (m Mode) Name() string {
	switch m.Kind {
	case KindSequence:
		return (*Sequence)(nil).Name()
	case KindStream:
		return (*Stream)(nil).Name()
	case KindSignalAccumulation:
		return (*SignalAccumulation)(nil).Name()
	}
	return string(m.Kind)
}

// Run runs the capture with the engine instantiated for its mode
func (m Mode) Run(ctx context.Context, cc *Context, cmds *watch.Receiver[Command]) ([]sdk.Frame, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	switch m.Kind {
	case KindSequence:
		return Run[int, sequenceData, []sdk.Frame](ctx, m.Sequence, cc, cmds)
	case KindStream:
		return Run[int, streamData, []sdk.Frame](ctx, m.Stream, cc, cmds)
	case KindSignalAccumulation:
		return Run[time.Duration, accumulationData, []sdk.Frame](ctx, m.SignalAccumulation, cc, cmds)
	}
	return nil, ErrBadMode
}
