package capture

import (
	"context"
	"time"

	"github.com/nasa-jpl/detctl/sdk"
	"github.com/nasa-jpl/detctl/util"
)

// minFrameTimeout is added to the exposure time when no timeout is set
const minFrameTimeout = time.Second

// Settings are the detector settings common to every capture mode
type Settings struct {
	DDS          bool             `json:"dds"`
	FullWellMode sdk.FullWellMode `json:"fullWellMode"`
	ROI          sdk.ROI          `json:"roi"`
	TestMode     bool             `json:"testMode"`

	// Timeout bounds each frame read.  Zero derives it from the exposure time.
	Timeout util.Duration `json:"timeout"`
}

// Configure applies the settings to the detector
func (s Settings) Configure(ctx context.Context, dev Device) error {
	if err := dev.SetDDS(ctx, s.DDS); err != nil {
		return err
	}
	if err := dev.SetFullWellMode(ctx, s.FullWellMode); err != nil {
		return err
	}
	if err := dev.SetROI(ctx, s.ROI); err != nil {
		return err
	}
	return dev.SetTestMode(ctx, s.TestMode)
}

// FrameTimeout is the timeout for reading one frame exposed for exposure
func (s Settings) FrameTimeout(exposure time.Duration) time.Duration {
	if s.Timeout.Duration > 0 {
		return s.Timeout.Duration
	}
	return 2*exposure + minFrameTimeout
}
