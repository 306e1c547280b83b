package capture

import (
	"context"
	"errors"
	"time"

	"github.com/nasa-jpl/detctl/sdk"
	"github.com/nasa-jpl/detctl/util"
)

// SignalAccumulation walks an exposure ladder, taking FramesPerExposure
// frames in sequence mode at each exposure time.  Each rung is one step.
type SignalAccumulation struct {
	Settings          Settings        `json:"settings"`
	ExposureTimes     []util.Duration `json:"exposureTimes"`
	FramesPerExposure int             `json:"framesPerExposure"`
}

type accumulationData struct {
	dims   sdk.Dims
	frames []sdk.Frame
}

// Validate checks the request before the detector is touched
func (a *SignalAccumulation) Validate() error {
	if len(a.ExposureTimes) == 0 {
		return errors.New("exposureTimes must not be empty")
	}
	for _, d := range a.ExposureTimes {
		if d.Duration <= 0 {
			return errors.New("exposureTimes must be positive")
		}
	}
	if a.FramesPerExposure < 1 {
		return errors.New("framesPerExposure must be at least 1")
	}
	return nil
}

func (a *SignalAccumulation) Name() string { return "Signal Accumulation Capture" }

func (a *SignalAccumulation) Init(ctx context.Context, cc *Context) (InitOutput[time.Duration, accumulationData], error) {
	var out InitOutput[time.Duration, accumulationData]
	dev := cc.Device
	if err := a.Settings.Configure(ctx, dev); err != nil {
		return out, err
	}
	if err := dev.SetExposureMode(ctx, sdk.ExposureSequence); err != nil {
		return out, err
	}
	if err := dev.SetNumberOfFrames(ctx, a.FramesPerExposure); err != nil {
		return out, err
	}
	dims, err := dev.ImageDims(ctx)
	if err != nil {
		return out, err
	}
	if err := startStream(ctx, dev); err != nil {
		return out, err
	}
	out.Data = accumulationData{dims: dims, frames: make([]sdk.Frame, 0, len(a.ExposureTimes)*a.FramesPerExposure)}
	for _, d := range a.ExposureTimes {
		out.Steps = append(out.Steps, d.Duration)
	}
	return out, nil
}

func (a *SignalAccumulation) ExecuteStep(ctx context.Context, exposure time.Duration, data *accumulationData, cc *Context) error {
	dev := cc.Device
	if err := dev.SetExposureTime(ctx, exposure); err != nil {
		return err
	}
	if err := dev.SoftwareTrigger(ctx); err != nil {
		return err
	}
	timeout := a.Settings.FrameTimeout(exposure)
	for i := 0; i < a.FramesPerExposure; i++ {
		frame, err := acquire(ctx, dev, data.dims, exposure, timeout)
		if err != nil {
			return err
		}
		data.frames = append(data.frames, frame)
	}
	return nil
}

func (a *SignalAccumulation) Finalize(ctx context.Context, data accumulationData, cc *Context) ([]sdk.Frame, error) {
	if err := cc.Device.StopStream(ctx); err != nil {
		cc.Warn(err)
	}
	return data.frames, nil
}

func (a *SignalAccumulation) Cleanup(ctx context.Context, cc *Context) error {
	return cc.Device.StopStream(ctx)
}
