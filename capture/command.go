package capture

import "github.com/nasa-jpl/detctl/watch"

// Command is sent to a running capture through a watch channel
type Command int

const (
	// CommandRun is the initial command; the capture proceeds
	CommandRun Command = iota

	// CommandCancel asks the capture to stop at the next phase boundary
	CommandCancel
)

func (c Command) String() string {
	switch c {
	case CommandRun:
		return "run"
	case CommandCancel:
		return "cancel"
	}
	return "unknown"
}

// NewCommands returns the sender and receiver used to steer one capture
func NewCommands() (*watch.Sender[Command], *watch.Receiver[Command]) {
	return watch.New(CommandRun)
}
