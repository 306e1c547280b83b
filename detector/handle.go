package detector

import (
	"context"
	"time"

	"github.com/nasa-jpl/detctl/sdk"
)

// CaptureHandle exposes the acquisition commands to capture jobs.  It
// satisfies capture.Device.
type CaptureHandle struct {
	h *Handle
}

func (c *CaptureHandle) ImageDims(ctx context.Context) (sdk.Dims, error) {
	return c.h.ImageDims(ctx)
}

func (c *CaptureHandle) SetExposureMode(ctx context.Context, mode sdk.ExposureMode) error {
	return exec(ctx, c.h, func(r replyTo[none]) Command { return setExposureMode{mode, r} })
}

func (c *CaptureHandle) SetExposureTime(ctx context.Context, d time.Duration) error {
	return exec(ctx, c.h, func(r replyTo[none]) Command { return setExposureTime{d, r} })
}

func (c *CaptureHandle) SetROI(ctx context.Context, roi sdk.ROI) error {
	return exec(ctx, c.h, func(r replyTo[none]) Command { return setROI{roi, r} })
}

func (c *CaptureHandle) SetDDS(ctx context.Context, on bool) error {
	return exec(ctx, c.h, func(r replyTo[none]) Command { return setDDS{on, r} })
}

func (c *CaptureHandle) SetFullWellMode(ctx context.Context, mode sdk.FullWellMode) error {
	return exec(ctx, c.h, func(r replyTo[none]) Command { return setFullWellMode{mode, r} })
}

func (c *CaptureHandle) SetTestMode(ctx context.Context, on bool) error {
	return exec(ctx, c.h, func(r replyTo[none]) Command { return setTestMode{on, r} })
}

func (c *CaptureHandle) SetNumberOfFrames(ctx context.Context, n int) error {
	return exec(ctx, c.h, func(r replyTo[none]) Command { return setNumberOfFrames{n, r} })
}

func (c *CaptureHandle) StartStream(ctx context.Context) error {
	return exec(ctx, c.h, func(r replyTo[none]) Command { return startStream{r} })
}

func (c *CaptureHandle) StopStream(ctx context.Context) error {
	return exec(ctx, c.h, func(r replyTo[none]) Command { return stopStream{r} })
}

func (c *CaptureHandle) SoftwareTrigger(ctx context.Context) error {
	return exec(ctx, c.h, func(r replyTo[none]) Command { return softwareTrigger{r} })
}

// AcquireImage lends buf to the actor for one frame read and returns it.
// On error the returned slice is still buf.
func (c *CaptureHandle) AcquireImage(ctx context.Context, buf []uint16, timeout time.Duration) ([]uint16, sdk.BufferInfo, error) {
	reply := newReply[acquired]()
	res, err := call(ctx, c.h, acquireImage{buf, timeout, reply}, reply)
	if res.buf == nil {
		res.buf = buf
	}
	return res.buf, res.info, err
}
