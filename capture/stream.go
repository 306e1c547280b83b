package capture

import (
	"context"
	"errors"

	"github.com/nasa-jpl/detctl/sdk"
	"github.com/nasa-jpl/detctl/util"
)

// Stream free runs the detector for FrameCount frames and keeps the latest.
// Frame timeouts are recorded as warnings rather than failing the capture.
type Stream struct {
	Settings     Settings      `json:"settings"`
	ExposureTime util.Duration `json:"exposureTime"`
	FrameCount   int           `json:"frameCount"`
}

type streamData struct {
	dims   sdk.Dims
	buf    []uint16
	latest *sdk.Frame
}

// Validate checks the request before the detector is touched
func (s *Stream) Validate() error {
	if s.FrameCount < 1 {
		return errors.New("frameCount must be at least 1")
	}
	if s.ExposureTime.Duration <= 0 {
		return errors.New("exposureTime must be positive")
	}
	return nil
}

func (s *Stream) Name() string { return "Stream Capture" }

func (s *Stream) Init(ctx context.Context, cc *Context) (InitOutput[int, streamData], error) {
	var out InitOutput[int, streamData]
	dev := cc.Device
	if err := s.Settings.Configure(ctx, dev); err != nil {
		return out, err
	}
	if err := dev.SetExposureMode(ctx, sdk.ExposureXFPS); err != nil {
		return out, err
	}
	if err := dev.SetExposureTime(ctx, s.ExposureTime.Duration); err != nil {
		return out, err
	}
	dims, err := dev.ImageDims(ctx)
	if err != nil {
		return out, err
	}
	if err := startStream(ctx, dev); err != nil {
		return out, err
	}
	out.Data = streamData{dims: dims, buf: make([]uint16, dims.Pixels())}
	out.Steps = make([]int, s.FrameCount)
	for i := range out.Steps {
		out.Steps[i] = i
	}
	return out, nil
}

// ExecuteStep reads into one reused buffer; the buffer is handed to the
// actor and back for every frame
func (s *Stream) ExecuteStep(ctx context.Context, step int, data *streamData, cc *Context) error {
	timeout := s.Settings.FrameTimeout(s.ExposureTime.Duration)
	buf, info, err := cc.Device.AcquireImage(ctx, data.buf, timeout)
	if buf != nil {
		data.buf = buf
	}
	if errors.Is(err, sdk.ErrTimeout) {
		cc.Warn(err)
		return nil
	}
	if err != nil {
		return err
	}
	data.latest = &sdk.Frame{BufferInfo: info, Exposure: s.ExposureTime.Duration, Data: data.buf}
	return nil
}

func (s *Stream) Finalize(ctx context.Context, data streamData, cc *Context) ([]sdk.Frame, error) {
	if err := cc.Device.StopStream(ctx); err != nil {
		cc.Warn(err)
	}
	if data.latest == nil {
		return nil, nil
	}
	return []sdk.Frame{*data.latest}, nil
}

func (s *Stream) Cleanup(ctx context.Context, cc *Context) error {
	return cc.Device.StopStream(ctx)
}
