package sdk

import (
	"errors"
	"fmt"
)

// Error is a status code returned by the detector SDK.  The zero value is
// success and is never returned as an error.
type Error int

const (
	// ErrInvalidParam is returned when an argument is out of range for the detector
	ErrInvalidParam Error = iota + 1

	// ErrNoDevice is returned when no device answers on the interface
	ErrNoDevice

	// ErrNotFound is returned when a requested item does not exist
	ErrNotFound

	// ErrBusy is returned when the device or resource is busy
	ErrBusy

	// ErrTimeout is returned when an operation, typically a frame read, timed out
	ErrTimeout

	// ErrCorrection is returned when an image correction failed
	ErrCorrection

	// ErrNotSupported is returned when the detector does not support the operation
	ErrNotSupported

	// ErrAlreadyExists is returned when an item already exists
	ErrAlreadyExists

	// ErrInternal is an internal SDK failure
	ErrInternal

	// ErrOther is an unclassified failure
	ErrOther

	// ErrDeviceClosed is returned when the camera has not been opened
	ErrDeviceClosed

	// ErrDeviceStreaming is returned when a setting cannot change while streaming
	ErrDeviceStreaming

	// ErrConfigFailed is returned when the detector rejected its configuration
	ErrConfigFailed

	// ErrConfigFileNotFound is returned when the SDK configuration file is missing
	ErrConfigFileNotFound

	// ErrNotEnoughMemory is returned when the SDK could not allocate
	ErrNotEnoughMemory

	// ErrOverflow is returned on a buffer overflow
	ErrOverflow

	// ErrPipe is a broken transport pipe
	ErrPipe

	// ErrInterrupted is returned when an operation was interrupted
	ErrInterrupted

	// ErrIO is a transport I/O failure
	ErrIO

	// ErrAccess is returned on insufficient access rights to the device
	ErrAccess

	// ErrRequiresAdmin is returned when the operation needs administrative privileges
	ErrRequiresAdmin

	// ErrCritical is a critical SDK failure
	ErrCritical

	// ErrUnknown is any code the SDK documents no meaning for
	ErrUnknown
)

// ErrCodes maps SDK status codes to their descriptions
var ErrCodes = map[Error]string{
	ErrInvalidParam:       "invalid parameter",
	ErrNoDevice:           "no device found",
	ErrNotFound:           "item not found",
	ErrBusy:               "device or resource busy",
	ErrTimeout:            "operation timed out",
	ErrCorrection:         "correction error",
	ErrNotSupported:       "operation not supported",
	ErrAlreadyExists:      "item already exists",
	ErrInternal:           "internal error",
	ErrOther:              "other error",
	ErrDeviceClosed:       "device is closed",
	ErrDeviceStreaming:    "device is currently streaming",
	ErrConfigFailed:       "configuration failed",
	ErrConfigFileNotFound: "configuration file not found",
	ErrNotEnoughMemory:    "not enough memory available",
	ErrOverflow:           "overflow error",
	ErrPipe:               "pipe error",
	ErrInterrupted:        "operation interrupted",
	ErrIO:                 "I/O error",
	ErrAccess:             "access error",
	ErrRequiresAdmin:      "operation requires administrative privileges",
	ErrCritical:           "critical error occurred",
	ErrUnknown:            "unknown error",
}

// Error satisfies the error interface
func (e Error) Error() string {
	if s, ok := ErrCodes[e]; ok {
		return "sdk: " + s
	}
	return fmt.Sprintf("sdk: undocumented status code %d", int(e))
}

// FromCode converts a raw SDK status code to an error.  0 is success and
// yields nil; codes the SDK does not document become ErrUnknown.
func FromCode(code int) error {
	if code == 0 {
		return nil
	}
	e := Error(code)
	if _, ok := ErrCodes[e]; !ok {
		return ErrUnknown
	}
	return e
}

// IsConnectionLoss reports whether err indicates the detector is no longer
// reachable, as opposed to having rejected a single request.
func IsConnectionLoss(err error) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}
	switch e {
	case ErrNoDevice, ErrDeviceClosed, ErrPipe, ErrIO:
		return true
	}
	return false
}
