package detector

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nasa-jpl/detctl/capture"
	"github.com/nasa-jpl/detctl/sdk"
)

// Status is the state of one detector
type Status int

const (
	StatusDisconnected Status = iota
	StatusIdle
	StatusCapturing
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusIdle:
		return "Idle"
	case StatusCapturing:
		return "Capturing"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalJSON encodes the status by name
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Specification describes the detector's frames, learned at bring-up
type Specification struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Summary is the externally visible state of one detector
type Summary struct {
	ID            uuid.UUID       `json:"id"`
	Info          sdk.DeviceInfo  `json:"info"`
	Specification Specification   `json:"specification"`
	Status        Status          `json:"status"`
	Report        *capture.Report `json:"report,omitempty"`
}

// StatusChange is the payload of an event.DetectorStatus event
type StatusChange struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

// Finished is the payload of an event.CaptureFinished event.  The frames
// themselves go only to the ResultSink.
type Finished struct {
	Report     capture.Report `json:"report"`
	FrameCount int            `json:"frameCount"`
}
