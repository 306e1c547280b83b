package sdk

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

const (
	mockDefaultTimeout = time.Second
	mockDarkLevel      = 100   // ADU with zero exposure
	mockFullScale      = 65535 // 16 bit ADC
	mockNoise          = 8     // peak to peak read noise, ADU
)

// Mock is an in-process detector.  It produces synthetic frames, keeps a log
// of the calls made on it and records how many calls were ever in flight at
// once, so tests can check callers serialize access.
type Mock struct {
	sync.Mutex

	// Sensor is the full frame size
	Sensor Dims

	// Latency is added to every frame read on top of the exposure time
	Latency time.Duration

	info      DeviceInfo
	open      bool
	connected bool
	streaming bool

	mode     ExposureMode
	exposure time.Duration
	roi      ROI
	dds      bool
	test     bool
	fullWell FullWellMode
	frames   int

	pending     int
	frameNumber int

	calls    []string
	failures map[string]error

	inflight int32
	peak     int32
}

// NewMock returns a connected, closed mock detector with a 128x128 sensor
func NewMock(info DeviceInfo) *Mock {
	return &Mock{
		Sensor:    Dims{Width: 128, Height: 128},
		info:      info,
		connected: true,
		exposure:  time.Millisecond,
		frames:    1,
		failures:  make(map[string]error)}
}

// FailOn makes every subsequent call to op return err.  A nil err clears it.
func (m *Mock) FailOn(op string, err error) {
	m.Lock()
	defer m.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Unplug simulates losing the link to the detector
func (m *Mock) Unplug() {
	m.Lock()
	defer m.Unlock()
	m.connected = false
	m.open = false
	m.streaming = false
}

// Plug restores the link after Unplug; the camera must be opened again
func (m *Mock) Plug() {
	m.Lock()
	defer m.Unlock()
	m.connected = true
}

// Calls returns the names of the calls made so far, in order
func (m *Mock) Calls() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Count returns how many times op was called
func (m *Mock) Count(op string) int {
	m.Lock()
	defer m.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}

// PeakConcurrency is the largest number of calls ever in flight at once
func (m *Mock) PeakConcurrency() int {
	return int(atomic.LoadInt32(&m.peak))
}

// Streaming reports if the stream is running
func (m *Mock) Streaming() bool {
	m.Lock()
	defer m.Unlock()
	return m.streaming
}

// enter records a call and returns the function that ends it.  A short sleep
// while in flight widens the window in which overlapping callers are seen.
func (m *Mock) enter(op string) func() {
	n := atomic.AddInt32(&m.inflight, 1)
	for {
		p := atomic.LoadInt32(&m.peak)
		if n <= p || atomic.CompareAndSwapInt32(&m.peak, p, n) {
			break
		}
	}
	m.Lock()
	m.calls = append(m.calls, op)
	m.Unlock()
	time.Sleep(50 * time.Microsecond)
	return func() { atomic.AddInt32(&m.inflight, -1) }
}

// check must be called with the lock held
func (m *Mock) check(op string, needOpen bool) error {
	if err, ok := m.failures[op]; ok {
		return err
	}
	if !m.connected {
		return ErrNoDevice
	}
	if needOpen && !m.open {
		return ErrDeviceClosed
	}
	return nil
}

// OpenCamera opens the mock
func (m *Mock) OpenCamera() error {
	defer m.enter("OpenCamera")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("OpenCamera", false); err != nil {
		return err
	}
	m.open = true
	return nil
}

// CloseCamera closes the mock, stopping any stream
func (m *Mock) CloseCamera() error {
	defer m.enter("CloseCamera")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("CloseCamera", true); err != nil {
		return err
	}
	m.open = false
	m.streaming = false
	return nil
}

// IsConnected is true while the mock is plugged in and open
func (m *Mock) IsConnected() bool {
	defer m.enter("IsConnected")()
	m.Lock()
	defer m.Unlock()
	return m.connected && m.open
}

func (m *Mock) dims() Dims {
	if m.roi.IsZero() {
		return m.Sensor
	}
	return Dims{Width: m.roi.Width, Height: m.roi.Height}
}

// ImageDims returns the ROI size, or the sensor size if no ROI is set
func (m *Mock) ImageDims() (Dims, error) {
	defer m.enter("ImageDims")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("ImageDims", true); err != nil {
		return Dims{}, err
	}
	return m.dims(), nil
}

// SetExposureMode sets the exposure mode
func (m *Mock) SetExposureMode(mode ExposureMode) error {
	defer m.enter("SetExposureMode")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("SetExposureMode", true); err != nil {
		return err
	}
	if m.streaming {
		return ErrDeviceStreaming
	}
	if _, err := ExposureModes.Name(int(mode)); err != nil {
		return ErrInvalidParam
	}
	m.mode = mode
	return nil
}

// SetExposureTime sets the exposure time
func (m *Mock) SetExposureTime(d time.Duration) error {
	defer m.enter("SetExposureTime")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("SetExposureTime", true); err != nil {
		return err
	}
	if d <= 0 {
		return ErrInvalidParam
	}
	m.exposure = d
	return nil
}

// SetROI sets the region of interest
func (m *Mock) SetROI(r ROI) error {
	defer m.enter("SetROI")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("SetROI", true); err != nil {
		return err
	}
	if m.streaming {
		return ErrDeviceStreaming
	}
	if !r.IsZero() {
		if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 ||
			r.X+r.Width > m.Sensor.Width || r.Y+r.Height > m.Sensor.Height {
			return ErrInvalidParam
		}
	}
	m.roi = r
	return nil
}

// SetDDS turns double delta sampling on or off
func (m *Mock) SetDDS(on bool) error {
	defer m.enter("SetDDS")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("SetDDS", true); err != nil {
		return err
	}
	m.dds = on
	return nil
}

// SetFullWellMode sets the full well mode
func (m *Mock) SetFullWellMode(f FullWellMode) error {
	defer m.enter("SetFullWellMode")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("SetFullWellMode", true); err != nil {
		return err
	}
	if _, err := FullWellModes.Name(int(f)); err != nil {
		return ErrInvalidParam
	}
	m.fullWell = f
	return nil
}

// SetTestMode swaps the synthetic image for a ramp pattern
func (m *Mock) SetTestMode(on bool) error {
	defer m.enter("SetTestMode")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("SetTestMode", true); err != nil {
		return err
	}
	m.test = on
	return nil
}

// SetNumberOfFrames sets the frames produced per trigger in sequence mode
func (m *Mock) SetNumberOfFrames(n int) error {
	defer m.enter("SetNumberOfFrames")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("SetNumberOfFrames", true); err != nil {
		return err
	}
	if n < 1 {
		return ErrInvalidParam
	}
	m.frames = n
	return nil
}

// StartStream starts the stream.  Starting a running stream is a no-op.
func (m *Mock) StartStream() error {
	defer m.enter("StartStream")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("StartStream", true); err != nil {
		return err
	}
	if !m.streaming {
		m.streaming = true
		m.pending = 0
	}
	return nil
}

// StopStream stops the stream.  Stopping a stopped stream is a no-op.
func (m *Mock) StopStream() error {
	defer m.enter("StopStream")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("StopStream", true); err != nil {
		return err
	}
	m.streaming = false
	m.pending = 0
	return nil
}

// SoftwareTrigger releases the configured number of frames in sequence mode
// or one frame in trigger mode
func (m *Mock) SoftwareTrigger() error {
	defer m.enter("SoftwareTrigger")()
	m.Lock()
	defer m.Unlock()
	if err := m.check("SoftwareTrigger", true); err != nil {
		return err
	}
	if !m.streaming {
		return ErrDeviceClosed
	}
	switch m.mode {
	case ExposureSequence:
		m.pending += m.frames
	case ExposureTrigger:
		m.pending++
	}
	return nil
}

// AcquireImage waits the exposure time plus Latency and fills buf
func (m *Mock) AcquireImage(buf []uint16, timeout time.Duration) (BufferInfo, error) {
	defer m.enter("AcquireImage")()
	if timeout <= 0 {
		timeout = mockDefaultTimeout
	}
	m.Lock()
	if err := m.check("AcquireImage", true); err != nil {
		m.Unlock()
		return BufferInfo{}, err
	}
	dims := m.dims()
	if len(buf) < dims.Pixels() {
		m.Unlock()
		return BufferInfo{}, ErrInvalidParam
	}
	ready := m.streaming && (m.mode == ExposureXFPS || m.pending > 0)
	wait := m.exposure + m.Latency
	m.Unlock()

	if !ready || wait > timeout {
		time.Sleep(timeout)
		return BufferInfo{}, ErrTimeout
	}
	time.Sleep(wait)

	m.Lock()
	defer m.Unlock()
	// the link may have dropped or the stream stopped during the exposure
	if err := m.check("AcquireImage", true); err != nil {
		return BufferInfo{}, err
	}
	if !m.streaming {
		return BufferInfo{}, ErrInterrupted
	}
	if m.pending > 0 {
		m.pending--
	}
	m.frameNumber++
	m.fill(buf[:dims.Pixels()], dims)
	return BufferInfo{Dims: dims, FrameNumber: m.frameNumber, Timestamp: time.Now()}, nil
}

// fill must be called with the lock held
func (m *Mock) fill(buf []uint16, dims Dims) {
	if m.test {
		for y := 0; y < dims.Height; y++ {
			for x := 0; x < dims.Width; x++ {
				buf[y*dims.Width+x] = uint16(x + y + m.frameNumber)
			}
		}
		return
	}
	// signal grows by 1 ADU per 10 us, halved in the high full well mode
	signal := int(m.exposure / (10 * time.Microsecond))
	if m.fullWell == FullWellHigh {
		signal /= 2
	}
	level := mockDarkLevel + signal
	for i := range buf {
		v := level + rand.Intn(mockNoise)
		if v > mockFullScale {
			v = mockFullScale
		}
		buf[i] = uint16(v)
	}
}

// MockDriver is a Driver over a fixed set of mock detectors
type MockDriver struct {
	Mocks []*Mock
}

// NewMockDriver creates a driver with n mock detectors
func NewMockDriver(n int) *MockDriver {
	d := &MockDriver{}
	for i := 0; i < n; i++ {
		d.Mocks = append(d.Mocks, NewMock(DeviceInfo{
			Interface: InterfaceUSB,
			Model:     "MOCK-1412",
			Serial:    fmt.Sprintf("MOCK%04d", i+1),
			Bus:       1,
			Address:   i + 1}))
	}
	return d
}

// Scan lists the mocks
func (d *MockDriver) Scan() ([]DeviceInfo, error) {
	out := make([]DeviceInfo, 0, len(d.Mocks))
	for _, m := range d.Mocks {
		out = append(out, m.info)
	}
	return out, nil
}

// Open returns the mock with a matching serial number
func (d *MockDriver) Open(info DeviceInfo) (Device, error) {
	for _, m := range d.Mocks {
		if m.info.Serial == info.Serial {
			return m, nil
		}
	}
	return nil, ErrNotFound
}
