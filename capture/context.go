package capture

import (
	"context"
	"sync"
	"time"

	"github.com/nasa-jpl/detctl/sdk"
)

// Device is the detector command subset available to capture jobs.  Every
// call is routed through the detector's command actor.
type Device interface {
	ImageDims(ctx context.Context) (sdk.Dims, error)
	SetExposureMode(ctx context.Context, mode sdk.ExposureMode) error
	SetExposureTime(ctx context.Context, d time.Duration) error
	SetROI(ctx context.Context, roi sdk.ROI) error
	SetDDS(ctx context.Context, on bool) error
	SetFullWellMode(ctx context.Context, mode sdk.FullWellMode) error
	SetTestMode(ctx context.Context, on bool) error
	SetNumberOfFrames(ctx context.Context, n int) error
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error
	SoftwareTrigger(ctx context.Context) error

	// AcquireImage fills buf and hands it back with its description
	AcquireImage(ctx context.Context, buf []uint16, timeout time.Duration) ([]uint16, sdk.BufferInfo, error)
}

// Context is passed to every phase of a job
type Context struct {
	Device Device

	updates *Updates

	mu       sync.Mutex
	warnings []error
}

// NewContext binds a device and an optional progress queue
func NewContext(dev Device, updates *Updates) *Context {
	return &Context{Device: dev, updates: updates}
}

// Publish sends a progress update if the context has a queue
func (c *Context) Publish(u Update) {
	if c.updates != nil {
		c.updates.Send(u)
	}
}

// Warn records a non-fatal error.  A capture that completes with warnings
// ends CompletedWithErrors.
func (c *Context) Warn(err error) {
	c.mu.Lock()
	c.warnings = append(c.warnings, err)
	c.mu.Unlock()
	c.Publish(Message(err.Error()))
}

// Warnings returns the errors recorded by Warn
func (c *Context) Warnings() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.warnings))
	copy(out, c.warnings)
	return out
}
