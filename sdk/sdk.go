/*Package sdk describes the boundary to the vendor detector SDK.

Device is the full set of calls the detector exposes.  An implementation is
not safe for concurrent use; callers serialize access to it, see the detector
package.  Mock is an in-process detector used for development and tests, and
Driver enumerates and opens devices.

*/
package sdk

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExposureMode is the detector's exposure/readout mode
type ExposureMode int

const (
	// ExposureSequence exposes a fixed number of frames after a software trigger
	ExposureSequence ExposureMode = iota

	// ExposureXFPS free runs at the fastest rate the exposure time permits
	ExposureXFPS

	// ExposureTrigger exposes one frame per trigger pulse
	ExposureTrigger
)

// FullWellMode selects the pixel gain
type FullWellMode int

const (
	// FullWellHigh is the high full well (low gain) mode
	FullWellHigh FullWellMode = iota

	// FullWellLow is the low full well (high gain) mode
	FullWellLow
)

// Enum maps names to SDK values
type Enum map[string]int

var (
	// ErrBadEnumIndex is generated when an unknown enum name or value is used
	ErrBadEnumIndex = errors.New("index not found in enum")

	// ExposureModes maps names to ExposureMode values
	ExposureModes = Enum{
		"sequence": int(ExposureSequence),
		"xfps":     int(ExposureXFPS),
		"trigger":  int(ExposureTrigger),
	}

	// FullWellModes maps names to FullWellMode values
	FullWellModes = Enum{
		"high": int(FullWellHigh),
		"low":  int(FullWellLow),
	}
)

// Lookup returns the value for a case-insensitive name
func (e Enum) Lookup(name string) (int, error) {
	v, ok := e[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadEnumIndex, name)
	}
	return v, nil
}

// Name returns the name of a value
func (e Enum) Name(v int) (string, error) {
	for k, val := range e {
		if val == v {
			return k, nil
		}
	}
	return "", ErrBadEnumIndex
}

func (m ExposureMode) String() string {
	s, err := ExposureModes.Name(int(m))
	if err != nil {
		return fmt.Sprintf("ExposureMode(%d)", int(m))
	}
	return s
}

func (m FullWellMode) String() string {
	s, err := FullWellModes.Name(int(m))
	if err != nil {
		return fmt.Sprintf("FullWellMode(%d)", int(m))
	}
	return s
}

// Interface is the physical link a detector is attached by
type Interface int

const (
	// InterfaceUSB is a USB 3 link
	InterfaceUSB Interface = iota

	// InterfaceCameraLink is a CameraLink frame grabber
	InterfaceCameraLink

	// InterfaceGigE is a GigE Vision link
	InterfaceGigE
)

func (i Interface) String() string {
	switch i {
	case InterfaceUSB:
		return "USB"
	case InterfaceCameraLink:
		return "CameraLink"
	case InterfaceGigE:
		return "GigE"
	}
	return fmt.Sprintf("Interface(%d)", int(i))
}

// DeviceInfo identifies a detector found by a Driver scan
type DeviceInfo struct {
	Interface Interface `json:"interface"`
	Model     string    `json:"model"`
	Serial    string    `json:"serial"`
	Bus       int       `json:"bus"`
	Address   int       `json:"address"`
}

// Dims is the size of a frame in pixels
type Dims struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Pixels is Width*Height
func (d Dims) Pixels() int {
	return d.Width * d.Height
}

// ROI is a region of interest on the sensor.  The zero value means full frame.
type ROI struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero is true if the ROI is unset
func (r ROI) IsZero() bool {
	return r == ROI{}
}

// BufferInfo describes a frame written by AcquireImage
type BufferInfo struct {
	Dims
	// FrameNumber is the detector's running frame counter
	FrameNumber int
	// Dropped is the number of frames the link lost before this one
	Dropped   int
	Timestamp time.Time
}

// Device is the detector SDK surface.  Implementations need not be
// goroutine safe.
type Device interface {
	// OpenCamera opens the link to the detector and readies it for use
	OpenCamera() error

	// CloseCamera releases the detector
	CloseCamera() error

	// IsConnected reports if the detector is still reachable
	IsConnected() bool

	// ImageDims returns the size of frames produced with the current settings
	ImageDims() (Dims, error)

	SetExposureMode(ExposureMode) error
	SetExposureTime(time.Duration) error
	SetROI(ROI) error
	SetDDS(bool) error
	SetFullWellMode(FullWellMode) error
	SetTestMode(bool) error

	// SetNumberOfFrames sets the number of frames produced per trigger in
	// sequence mode
	SetNumberOfFrames(int) error

	StartStream() error
	StopStream() error
	SoftwareTrigger() error

	// AcquireImage blocks until a frame is available, copies it into buf and
	// returns its description.  buf must hold at least ImageDims().Pixels()
	// values.  A timeout of zero uses the SDK default.
	AcquireImage(buf []uint16, timeout time.Duration) (BufferInfo, error)
}

// Driver finds and opens detectors
type Driver interface {
	Scan() ([]DeviceInfo, error)
	Open(DeviceInfo) (Device, error)
}

// MarshalText encodes the mode by name
func (m ExposureMode) MarshalText() ([]byte, error) {
	s, err := ExposureModes.Name(int(m))
	return []byte(s), err
}

// UnmarshalText decodes a mode name
func (m *ExposureMode) UnmarshalText(b []byte) error {
	v, err := ExposureModes.Lookup(string(b))
	if err != nil {
		return err
	}
	*m = ExposureMode(v)
	return nil
}

// MarshalText encodes the mode by name
func (f FullWellMode) MarshalText() ([]byte, error) {
	s, err := FullWellModes.Name(int(f))
	return []byte(s), err
}

// UnmarshalText decodes a mode name
func (f *FullWellMode) UnmarshalText(b []byte) error {
	v, err := FullWellModes.Lookup(string(b))
	if err != nil {
		return err
	}
	*f = FullWellMode(v)
	return nil
}

// Frame is one image read from the detector
type Frame struct {
	BufferInfo
	// Exposure is the exposure time the frame was taken with
	Exposure time.Duration
	// Data is strided by Width
	Data []uint16
}
