package detector

import "errors"

var (
	// ErrDetectorDisconnected is returned when a capture is requested from a
	// detector that is not connected
	ErrDetectorDisconnected = errors.New("detector disconnected")

	// ErrCaptureInProgress is returned when a capture is requested while one
	// is running
	ErrCaptureInProgress = errors.New("capture in progress")

	// ErrNoCaptureInProgress is returned when cancelling with nothing running
	ErrNoCaptureInProgress = errors.New("no capture in progress")

	// ErrDetectorNotFound is returned for an unknown detector id
	ErrDetectorNotFound = errors.New("detector not found")

	// ErrActorStopped is returned by handles once the actor has exited
	ErrActorStopped = errors.New("detector actor stopped")
)
