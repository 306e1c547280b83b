package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var errStep = errors.New("step exploded")

// gateJob is a job whose phases can be held open by the test
type gateJob struct {
	steps    int
	initGate chan struct{}
	gates    map[int]chan struct{}
	failAt   int
	panicAt  int

	started chan int // receives -1 when Init starts, then each step index

	mu       sync.Mutex
	executed []int
	inits    int
	unwound  int
	cleaned  int
	final    []int
}

func newGateJob(steps int) *gateJob {
	return &gateJob{
		steps:   steps,
		gates:   make(map[int]chan struct{}),
		failAt:  -1,
		panicAt: -1,
		started: make(chan int, steps+1)}
}

func (j *gateJob) Name() string { return "gate" }

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *gateJob) Init(ctx context.Context, cc *Context) (InitOutput[int, []int], error) {
	j.mu.Lock()
	j.inits++
	j.mu.Unlock()
	j.started <- -1
	if err := wait(ctx, j.initGate); err != nil {
		j.mu.Lock()
		j.unwound++
		j.mu.Unlock()
		return InitOutput[int, []int]{}, err
	}
	steps := make([]int, j.steps)
	for i := range steps {
		steps[i] = i
	}
	return InitOutput[int, []int]{Steps: steps}, nil
}

func (j *gateJob) ExecuteStep(ctx context.Context, step int, data *[]int, cc *Context) error {
	j.started <- step
	if err := wait(ctx, j.gates[step]); err != nil {
		return err
	}
	if step == j.failAt {
		return errStep
	}
	if step == j.panicAt {
		panic("bad step")
	}
	*data = append(*data, step)
	j.mu.Lock()
	j.executed = append(j.executed, step)
	j.mu.Unlock()
	return nil
}

func (j *gateJob) Finalize(ctx context.Context, data []int, cc *Context) ([]int, error) {
	j.mu.Lock()
	j.final = append([]int(nil), data...)
	j.mu.Unlock()
	return data, nil
}

func (j *gateJob) Cleanup(ctx context.Context, cc *Context) error {
	j.mu.Lock()
	j.cleaned++
	j.mu.Unlock()
	return nil
}

func (j *gateJob) snapshot() (executed []int, inits, cleaned int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]int(nil), j.executed...), j.inits, j.cleaned
}

// awaitStart blocks until the phase want has started, or a second passes
func awaitStart(j *gateJob, want int) bool {
	for {
		select {
		case got := <-j.started:
			if got == want {
				return true
			}
		case <-time.After(time.Second):
			return false
		}
	}
}

// fold drains the queue into a report, recording every completed count seen
func fold(u *Updates) (Report, []int) {
	r := NewReport("gate")
	var counts []int
	u.Drain(func(up Update) {
		r.Apply(up)
		if up.Kind == UpdateCompletedTaskCount {
			counts = append(counts, r.CompletedTaskCount)
		}
	})
	return r, counts
}

func TestRunCompletesAllStepsInOrder(t *testing.T) {
	job := newGateJob(3)
	updates := NewUpdates()
	cc := NewContext(nil, updates)
	_, rx := NewCommands()

	res, err := Run[int, []int, []int](context.Background(), job, cc, rx)
	if err != nil {
		t.Fatal(err)
	}
	updates.Close()
	report, counts := fold(updates)
	report.Finish(err, cc.Warnings())

	if diff := cmp.Diff([]int{0, 1, 2}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, job.final); diff != "" {
		t.Errorf("finalize did not see every step (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, counts); diff != "" {
		t.Errorf("completed counts (-want +got):\n%s", diff)
	}
	if report.Status != StatusCompleted || report.TaskCount != 3 || report.CompletedTaskCount != 3 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestCancelBeforeRunSkipsInit(t *testing.T) {
	job := newGateJob(2)
	tx, rx := NewCommands()
	tx.Send(CommandCancel)
	_, err := Run[int, []int, []int](context.Background(), job, NewContext(nil, nil), rx)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if _, inits, _ := job.snapshot(); inits != 0 {
		t.Errorf("init ran %d times", inits)
	}
}

func TestCancelDuringInitRunsNoSteps(t *testing.T) {
	job := newGateJob(3)
	job.initGate = make(chan struct{})
	updates := NewUpdates()
	cc := NewContext(nil, updates)
	tx, rx := NewCommands()

	go func() {
		if !awaitStart(job, -1) {
			t.Error("init never started")
		}
		tx.Send(CommandCancel)
	}()
	_, err := Run[int, []int, []int](context.Background(), job, cc, rx)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	updates.Close()
	report, _ := fold(updates)
	report.Finish(err, nil)

	executed, _, cleaned := job.snapshot()
	if len(executed) != 0 {
		t.Errorf("steps executed after a cancel during init: %v", executed)
	}
	if cleaned != 0 {
		t.Error("cleanup should not run when init did not finish")
	}
	if report.Status != StatusCanceled || report.CompletedTaskCount != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestCanceledInitHasUnwoundWhenRunReturns(t *testing.T) {
	job := newGateJob(1)
	job.initGate = make(chan struct{})
	tx, rx := NewCommands()
	go func() {
		if awaitStart(job, -1) {
			tx.Send(CommandCancel)
		}
	}()
	_, err := Run[int, []int, []int](context.Background(), job, NewContext(nil, nil), rx)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	job.mu.Lock()
	unwound := job.unwound
	job.mu.Unlock()
	if unwound != 1 {
		t.Errorf("init had not returned when Run did (unwound=%d)", unwound)
	}
}

func TestCancelAfterStepK(t *testing.T) {
	const k = 2
	job := newGateJob(5)
	job.gates[k] = make(chan struct{})
	updates := NewUpdates()
	cc := NewContext(nil, updates)
	tx, rx := NewCommands()

	go func() {
		if !awaitStart(job, k) {
			t.Errorf("step %d never started", k)
		}
		tx.Send(CommandCancel)
		tx.Send(CommandCancel)
	}()
	_, err := Run[int, []int, []int](context.Background(), job, cc, rx)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	updates.Close()
	report, _ := fold(updates)
	report.Finish(err, nil)

	if report.Status != StatusCanceled {
		t.Errorf("status %v, want Canceled", report.Status)
	}
	if report.CompletedTaskCount != k {
		t.Errorf("completed %d, want %d", report.CompletedTaskCount, k)
	}
	executed, _, cleaned := job.snapshot()
	if diff := cmp.Diff([]int{0, 1}, executed); diff != "" {
		t.Errorf("executed steps (-want +got):\n%s", diff)
	}
	if cleaned != 1 {
		t.Errorf("cleanup ran %d times, want 1", cleaned)
	}
}

func TestStepFailureStopsCapture(t *testing.T) {
	job := newGateJob(4)
	job.failAt = 1
	cc := NewContext(nil, nil)
	_, rx := NewCommands()

	_, err := Run[int, []int, []int](context.Background(), job, cc, rx)
	if !errors.Is(err, errStep) {
		t.Fatalf("expected the step error to propagate, got %v", err)
	}
	r := NewReport("gate")
	r.Finish(err, nil)
	if r.Status != StatusFailed {
		t.Errorf("status %v, want Failed", r.Status)
	}
	executed, _, cleaned := job.snapshot()
	if diff := cmp.Diff([]int{0}, executed); diff != "" {
		t.Errorf("executed steps (-want +got):\n%s", diff)
	}
	if cleaned != 1 {
		t.Errorf("cleanup ran %d times, want 1", cleaned)
	}
	var started []int
	for len(job.started) > 0 {
		started = append(started, <-job.started)
	}
	if diff := cmp.Diff([]int{-1, 0, 1}, started); diff != "" {
		t.Errorf("phases started (-want +got):\n%s", diff)
	}
}

func TestPanicInStepIsCritical(t *testing.T) {
	job := newGateJob(2)
	job.panicAt = 0
	_, rx := NewCommands()
	_, err := Run[int, []int, []int](context.Background(), job, NewContext(nil, nil), rx)
	var crit *CriticalError
	if !errors.As(err, &crit) {
		t.Fatalf("expected a CriticalError, got %v", err)
	}
}

func TestContextCancelIsCanceled(t *testing.T) {
	job := newGateJob(3)
	job.gates[0] = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	_, rx := NewCommands()
	go func() {
		if !awaitStart(job, 0) {
			t.Error("step 0 never started")
		}
		cancel()
	}()
	_, err := Run[int, []int, []int](ctx, job, NewContext(nil, nil), rx)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

type warnJob struct{ *gateJob }

func (j warnJob) ExecuteStep(ctx context.Context, step int, data *[]int, cc *Context) error {
	if step == 0 {
		cc.Warn(errors.New("frame dropped"))
	}
	return j.gateJob.ExecuteStep(ctx, step, data, cc)
}

func TestWarningsCompleteWithErrors(t *testing.T) {
	job := warnJob{newGateJob(2)}
	cc := NewContext(nil, nil)
	_, rx := NewCommands()
	_, err := Run[int, []int, []int](context.Background(), job, cc, rx)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReport("warn")
	r.Finish(err, cc.Warnings())
	if r.Status != StatusCompletedWithErrors {
		t.Errorf("status %v, want CompletedWithErrors", r.Status)
	}
}
