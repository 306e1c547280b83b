package detector

import (
	"time"

	"github.com/nasa-jpl/detctl/sdk"
)

// Command is a request to the actor.  The set of commands is closed; they
// are built by Handle and CaptureHandle and carry their own reply channel.
type Command interface {
	apply(sdk.Device)
	fail(error)
}

type result[T any] struct {
	v   T
	err error
}

// replyTo is buffered(1) and answered exactly once, so the actor never
// blocks on a caller that stopped waiting
type replyTo[T any] chan result[T]

func newReply[T any]() replyTo[T] {
	return make(replyTo[T], 1)
}

func (r replyTo[T]) send(v T, err error) {
	select {
	case r <- result[T]{v: v, err: err}:
	default:
	}
}

func (r replyTo[T]) fail(err error) {
	var zero T
	r.send(zero, err)
}

type none = struct{}

type openCamera struct{ replyTo[none] }

func (c openCamera) apply(d sdk.Device) { c.send(none{}, d.OpenCamera()) }

type closeCamera struct{ replyTo[none] }

func (c closeCamera) apply(d sdk.Device) { c.send(none{}, d.CloseCamera()) }

type isConnected struct{ replyTo[bool] }

func (c isConnected) apply(d sdk.Device) { c.send(d.IsConnected(), nil) }

type imageDims struct{ replyTo[sdk.Dims] }

func (c imageDims) apply(d sdk.Device) { c.send(d.ImageDims()) }

type setExposureMode struct {
	mode sdk.ExposureMode
	replyTo[none]
}

func (c setExposureMode) apply(d sdk.Device) { c.send(none{}, d.SetExposureMode(c.mode)) }

type setExposureTime struct {
	d time.Duration
	replyTo[none]
}

func (c setExposureTime) apply(d sdk.Device) { c.send(none{}, d.SetExposureTime(c.d)) }

type setROI struct {
	roi sdk.ROI
	replyTo[none]
}

func (c setROI) apply(d sdk.Device) { c.send(none{}, d.SetROI(c.roi)) }

type setDDS struct {
	on bool
	replyTo[none]
}

func (c setDDS) apply(d sdk.Device) { c.send(none{}, d.SetDDS(c.on)) }

type setFullWellMode struct {
	mode sdk.FullWellMode
	replyTo[none]
}

func (c setFullWellMode) apply(d sdk.Device) { c.send(none{}, d.SetFullWellMode(c.mode)) }

type setTestMode struct {
	on bool
	replyTo[none]
}

func (c setTestMode) apply(d sdk.Device) { c.send(none{}, d.SetTestMode(c.on)) }

type setNumberOfFrames struct {
	n int
	replyTo[none]
}

func (c setNumberOfFrames) apply(d sdk.Device) { c.send(none{}, d.SetNumberOfFrames(c.n)) }

type startStream struct{ replyTo[none] }

func (c startStream) apply(d sdk.Device) { c.send(none{}, d.StartStream()) }

type stopStream struct{ replyTo[none] }

func (c stopStream) apply(d sdk.Device) { c.send(none{}, d.StopStream()) }

type softwareTrigger struct{ replyTo[none] }

func (c softwareTrigger) apply(d sdk.Device) { c.send(none{}, d.SoftwareTrigger()) }

// acquired hands the buffer back to the caller along with the frame info
type acquired struct {
	buf  []uint16
	info sdk.BufferInfo
}

type acquireImage struct {
	buf     []uint16
	timeout time.Duration
	replyTo[acquired]
}

func (c acquireImage) apply(d sdk.Device) {
	info, err := d.AcquireImage(c.buf, c.timeout)
	c.send(acquired{buf: c.buf, info: info}, err)
}
