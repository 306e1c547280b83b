package capture

import (
	"context"
	"errors"
	"time"

	"github.com/nasa-jpl/detctl/sdk"
	"github.com/nasa-jpl/detctl/util"
)

// Sequence exposes FrameCount frames in sequence mode from one software
// trigger
type Sequence struct {
	Settings     Settings      `json:"settings"`
	ExposureTime util.Duration `json:"exposureTime"`
	FrameCount   int           `json:"frameCount"`
}

type sequenceData struct {
	dims   sdk.Dims
	frames []sdk.Frame
}

// Validate checks the request before the detector is touched
func (s *Sequence) Validate() error {
	if s.FrameCount < 1 {
		return errors.New("frameCount must be at least 1")
	}
	if s.ExposureTime.Duration <= 0 {
		return errors.New("exposureTime must be positive")
	}
	return nil
}

func (s *Sequence) Name() string { return "Sequence Capture" }

func (s *Sequence) Init(ctx context.Context, cc *Context) (InitOutput[int, sequenceData], error) {
	var out InitOutput[int, sequenceData]
	dev := cc.Device
	if err := s.Settings.Configure(ctx, dev); err != nil {
		return out, err
	}
	if err := dev.SetExposureMode(ctx, sdk.ExposureSequence); err != nil {
		return out, err
	}
	if err := dev.SetExposureTime(ctx, s.ExposureTime.Duration); err != nil {
		return out, err
	}
	if err := dev.SetNumberOfFrames(ctx, s.FrameCount); err != nil {
		return out, err
	}
	dims, err := dev.ImageDims(ctx)
	if err != nil {
		return out, err
	}
	if err := startAndTrigger(ctx, dev); err != nil {
		return out, err
	}
	out.Data = sequenceData{dims: dims, frames: make([]sdk.Frame, 0, s.FrameCount)}
	out.Steps = make([]int, s.FrameCount)
	for i := range out.Steps {
		out.Steps[i] = i
	}
	return out, nil
}

func (s *Sequence) ExecuteStep(ctx context.Context, step int, data *sequenceData, cc *Context) error {
	frame, err := acquire(ctx, cc.Device, data.dims, s.ExposureTime.Duration, s.Settings.FrameTimeout(s.ExposureTime.Duration))
	if err != nil {
		return err
	}
	data.frames = append(data.frames, frame)
	return nil
}

func (s *Sequence) Finalize(ctx context.Context, data sequenceData, cc *Context) ([]sdk.Frame, error) {
	if err := cc.Device.StopStream(ctx); err != nil {
		cc.Warn(err)
	}
	return data.frames, nil
}

func (s *Sequence) Cleanup(ctx context.Context, cc *Context) error {
	return cc.Device.StopStream(ctx)
}

// startStream starts the stream.  If the start fails or ctx ends while it
// is queued, a stop is queued behind it so the detector is never left
// streaming by a capture that did not get past Init.
func startStream(ctx context.Context, dev Device) error {
	if err := dev.StartStream(ctx); err != nil {
		stopStream(ctx, dev)
		return err
	}
	return nil
}

// stopStream stops the stream regardless of ctx's cancellation
func stopStream(ctx context.Context, dev Device) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	return dev.StopStream(sctx)
}

// startAndTrigger starts the stream and fires a software trigger, stopping
// the stream again if the trigger fails
func startAndTrigger(ctx context.Context, dev Device) error {
	if err := startStream(ctx, dev); err != nil {
		return err
	}
	if err := dev.SoftwareTrigger(ctx); err != nil {
		stopStream(ctx, dev)
		return err
	}
	return nil
}

func acquire(ctx context.Context, dev Device, dims sdk.Dims, exposure, timeout time.Duration) (sdk.Frame, error) {
	buf, info, err := dev.AcquireImage(ctx, make([]uint16, dims.Pixels()), timeout)
	if err != nil {
		return sdk.Frame{}, err
	}
	return sdk.Frame{BufferInfo: info, Exposure: exposure, Data: buf}, nil
}
