package detector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/detctl/capture"
	"github.com/nasa-jpl/detctl/event"
	"github.com/nasa-jpl/detctl/sdk"
	"github.com/nasa-jpl/detctl/watch"
)

const (
	// DefaultHeartbeatPeriod is how often a detector is probed
	DefaultHeartbeatPeriod = 500 * time.Millisecond

	closeTimeout = 5 * time.Second
)

// ResultSink stores the frames of a completed capture
type ResultSink interface {
	Save(detector uuid.UUID, report capture.Report, frames []sdk.Frame) error
}

// Config holds the tunables of a Service.  The zero value is usable.
type Config struct {
	HeartbeatPeriod time.Duration

	MailboxSize int

	// OpenRetry bounds the time spent retrying the first open.  Zero makes
	// one attempt.
	OpenRetry time.Duration

	Logger *log.Logger

	// Events receives status, progress and result events.  May be nil.
	Events event.Publisher

	// Sink receives the frames of completed captures.  May be nil.
	Sink ResultSink
}

// Service is the state machine of one detector.  It owns the detector's
// actor and heartbeat and admits at most one capture at a time.
type Service struct {
	ID   uuid.UUID
	Info sdk.DeviceInfo

	cfg     Config
	actor   *Actor
	handle  *Handle
	logger  *log.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	status      Status
	spec        Specification
	report      *capture.Report
	commands    *watch.Sender[capture.Command]
	lost        bool
	captureDone chan struct{}
	heartbeat   bool
	closed      bool
}

// NewService starts an actor for dev.  The service begins Disconnected;
// call Connect or StartHeartbeat to bring it up.
func NewService(id uuid.UUID, info sdk.DeviceInfo, dev sdk.Device, cfg Config) *Service {
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = DefaultHeartbeatPeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		ID:     id,
		Info:   info,
		cfg:    cfg,
		actor:  NewActor(dev, cfg.MailboxSize, cfg.Logger),
		logger: cfg.Logger,
		// at most one reconnect failure line every 10 s
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
		ctx:     ctx,
		cancel:  cancel}
	s.handle = s.actor.Handle()
	go s.actor.Run()
	return s
}

func (s *Service) publish(kind event.Kind, payload interface{}) {
	if s.cfg.Events != nil {
		s.cfg.Events.Publish(event.New(kind, s.ID, payload))
	}
}

func (s *Service) logf(format string, a ...interface{}) {
	s.logger.Printf("detector %s: "+format, append([]interface{}{s.Info.Serial}, a...)...)
}

// transition must be called with the lock held.  It returns a function that
// publishes the change once the lock is released.
func (s *Service) transition(to Status) func() {
	from := s.status
	s.status = to
	if from == to {
		return func() {}
	}
	return func() { s.publish(event.DetectorStatus, StatusChange{From: from, To: to}) }
}

// open opens the camera and reads its frame size
func (s *Service) open(ctx context.Context) (Specification, error) {
	if err := s.handle.OpenCamera(ctx); err != nil {
		return Specification{}, err
	}
	dims, err := s.handle.ImageDims(ctx)
	if err != nil {
		return Specification{}, err
	}
	return Specification{Width: dims.Width, Height: dims.Height}, nil
}

// Connect opens the detector, retrying with exponential backoff for up to
// OpenRetry while the failures look like a missing link, and moves the
// service to Idle
func (s *Service) Connect(ctx context.Context) error {
	var (
		spec      Specification
		permanent error
	)
	op := func() error {
		var err error
		spec, err = s.open(ctx)
		if err != nil && !sdk.IsConnectionLoss(err) && !errors.Is(err, sdk.ErrBusy) {
			permanent = err
			return nil
		}
		return err
	}
	var err error
	if s.cfg.OpenRetry > 0 {
		b := &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         time.Second,
			MaxElapsedTime:      s.cfg.OpenRetry,
			Clock:               backoff.SystemClock}
		err = backoff.Retry(op, backoff.WithContext(b, ctx))
	} else {
		err = op()
	}
	if err == nil {
		err = permanent
	}
	if err != nil {
		return fmt.Errorf("opening detector %s: %w", s.Info.Serial, err)
	}
	s.becameConnected(spec)
	return nil
}

func (s *Service) becameConnected(spec Specification) {
	s.mu.Lock()
	if s.status != StatusDisconnected {
		s.mu.Unlock()
		return
	}
	s.spec = spec
	notify := s.transition(StatusIdle)
	s.mu.Unlock()
	notify()
	s.logf("connected, %dx%d", spec.Width, spec.Height)
	s.publish(event.DetectorConnected, s.Summary())
}

// StartHeartbeat starts probing the detector every HeartbeatPeriod.  A
// Disconnected detector is reopened; a connected one that stops answering
// becomes Disconnected.
func (s *Service) StartHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeat || s.closed {
		return
	}
	s.heartbeat = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.HeartbeatPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.beat()
			}
		}
	}()
}

// beat is one heartbeat tick.  No lock is held across device calls.
func (s *Service) beat() {
	if s.Status() == StatusDisconnected {
		spec, err := s.open(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && s.limiter.Allow() {
				s.logf("reconnect failed: %v", err)
			}
			return
		}
		s.becameConnected(spec)
		return
	}

	ok, err := s.handle.IsConnected(s.ctx)
	if err != nil || ok {
		return
	}
	s.mu.Lock()
	notify := func() {}
	changed := false
	switch s.status {
	case StatusIdle:
		notify = s.transition(StatusDisconnected)
		changed = true
	case StatusCapturing:
		changed = !s.lost
		s.lost = true
	}
	s.mu.Unlock()
	notify()
	if changed {
		s.logf("connection lost")
	}
}

// Status returns the current status
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Report returns the report of the current or last capture
func (s *Service) Report() (capture.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		return capture.Report{}, false
	}
	return *s.report, true
}

// Summary describes the detector
func (s *Service) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{ID: s.ID, Info: s.Info, Specification: s.spec, Status: s.status}
	if s.report != nil {
		r := *s.report
		sum.Report = &r
	}
	return sum
}

// RunCapture admits a capture and starts it in the background.  The
// capture is refused unless the detector is Idle; a refused request does
// not change any state.
func (s *Service) RunCapture(mode capture.Mode) (capture.Report, error) {
	if err := mode.Validate(); err != nil {
		return capture.Report{}, err
	}
	s.mu.Lock()
	switch {
	case s.closed || s.status == StatusDisconnected:
		s.mu.Unlock()
		return capture.Report{}, ErrDetectorDisconnected
	case s.status == StatusCapturing:
		s.mu.Unlock()
		return capture.Report{}, ErrCaptureInProgress
	}
	notify := s.transition(StatusCapturing)
	tx, rx := capture.NewCommands()
	report := capture.NewReport(mode.Name())
	done := make(chan struct{})
	s.commands = tx
	s.report = &report
	s.lost = false
	s.captureDone = done
	s.wg.Add(1)
	s.mu.Unlock()

	notify()
	s.publish(event.CaptureProgress, report)
	s.logf("capture %s (%s) accepted", report.ID, report.Name)
	go s.runCapture(mode, rx, done)
	return report, nil
}

func (s *Service) updateReport(f func(*capture.Report)) capture.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s.report)
	return *s.report
}

func (s *Service) runCapture(mode capture.Mode, rx *watch.Receiver[capture.Command], done chan struct{}) {
	defer s.wg.Done()
	defer close(done)

	updates := capture.NewUpdates()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		updates.Drain(func(u capture.Update) {
			s.publish(event.CaptureProgress, s.updateReport(func(r *capture.Report) { r.Apply(u) }))
		})
	}()
	s.publish(event.CaptureProgress, s.updateReport(func(r *capture.Report) {
		r.Status = capture.StatusRunning
	}))

	cc := capture.NewContext(s.handle.Capture(), updates)
	frames, err := mode.Run(s.ctx, cc, rx)
	updates.Close()
	<-drained

	warnings := cc.Warnings()
	final := s.updateReport(func(r *capture.Report) { r.Finish(err, warnings) })
	if err == nil && s.cfg.Sink != nil {
		if serr := s.cfg.Sink.Save(s.ID, final, frames); serr != nil {
			warnings = append(warnings, fmt.Errorf("saving result: %w", serr))
			final = s.updateReport(func(r *capture.Report) { r.Finish(err, warnings) })
		}
	}
	s.logf("capture %s %s: %s", final.ID, final.Status, final.Message)
	s.publish(event.CaptureFinished, Finished{Report: final, FrameCount: len(frames)})

	s.mu.Lock()
	next := StatusIdle
	if s.lost || sdk.IsConnectionLoss(err) || errors.Is(err, ErrActorStopped) {
		next = StatusDisconnected
	}
	s.commands.Close()
	s.commands = nil
	s.lost = false
	notify := s.transition(next)
	s.mu.Unlock()
	notify()
}

// CancelCapture asks the running capture to stop at its next phase
// boundary.  It returns without waiting; repeated cancels are harmless.
func (s *Service) CancelCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusCapturing || s.commands == nil {
		return ErrNoCaptureInProgress
	}
	s.commands.Send(capture.CommandCancel)
	return nil
}

// Wait blocks until the current capture, if any, has finished and the
// status has left Capturing
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.captureDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any capture, stops the heartbeat, closes the camera and
// stops the actor
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.commands != nil {
		s.commands.Send(capture.CommandCancel)
	}
	wasOpen := s.status != StatusDisconnected
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	var err error
	if wasOpen {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		err = s.handle.CloseCamera(ctx)
		cancel()
	}
	s.actor.Stop()
	<-s.actor.Done()

	s.mu.Lock()
	notify := s.transition(StatusDisconnected)
	s.mu.Unlock()
	notify()
	return err
}
