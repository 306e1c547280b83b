package capture

import (
	"errors"
	"fmt"
)

// ErrCanceled is returned by Run when a cancel command was observed at a
// phase boundary, or the surrounding context ended
var ErrCanceled = errors.New("capture canceled")

// CriticalError is an unexpected failure inside the capture machinery, such
// as a job panicking
type CriticalError struct {
	Reason string
}

func (e *CriticalError) Error() string {
	return "critical capture error: " + e.Reason
}

// Critical returns a CriticalError with a formatted reason
func Critical(format string, a ...interface{}) error {
	return &CriticalError{Reason: fmt.Sprintf(format, a...)}
}
