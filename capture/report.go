package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Status is the state of a capture
type Status int

const (
	StatusInitialised Status = iota
	StatusRunning
	StatusCompleted
	StatusCanceled
	StatusFailed
	StatusCompletedWithErrors
)

var statusNames = map[Status]string{
	StatusInitialised:         "Initialised",
	StatusRunning:             "Running",
	StatusCompleted:           "Completed",
	StatusCanceled:            "Canceled",
	StatusFailed:              "Failed",
	StatusCompletedWithErrors: "CompletedWithErrors",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal is true once the capture has ended
func (s Status) Terminal() bool {
	return s >= StatusCompleted
}

// MarshalJSON encodes the status by name
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name
func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for k, v := range statusNames {
		if v == name {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown capture status %q", name)
}

// Report is the externally visible progress of one capture
type Report struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Status             Status    `json:"status"`
	TaskCount          int       `json:"taskCount"`
	CompletedTaskCount int       `json:"completedTaskCount"`
	Message            string    `json:"message"`
}

// NewReport returns a report in the Initialised state with a fresh id
func NewReport(name string) Report {
	return Report{ID: uuid.New(), Name: name, Status: StatusInitialised}
}

// Apply folds a progress update into the report.  Updates arriving after
// the report reached a terminal status only touch the message.  The
// completed count never goes backwards.
func (r *Report) Apply(u Update) {
	switch u.Kind {
	case UpdateMessage:
		r.Message = u.Text
		return
	}
	if r.Status.Terminal() {
		return
	}
	if r.Status == StatusInitialised {
		r.Status = StatusRunning
	}
	switch u.Kind {
	case UpdateTaskCount:
		r.TaskCount = u.N
	case UpdateCompletedTaskCount:
		if u.N > r.CompletedTaskCount {
			r.CompletedTaskCount = u.N
		}
	}
}

// Finish sets the terminal status from the engine's result and the
// warnings recorded during the capture
func (r *Report) Finish(err error, warnings []error) {
	switch {
	case err == nil && len(warnings) == 0:
		r.Status = StatusCompleted
		r.Message = "capture completed"
	case err == nil:
		r.Status = StatusCompletedWithErrors
		msgs := make([]string, len(warnings))
		for i, w := range warnings {
			msgs[i] = w.Error()
		}
		r.Message = fmt.Sprintf("capture completed with %d error(s): %s", len(warnings), strings.Join(msgs, "; "))
	case errors.Is(err, ErrCanceled):
		r.Status = StatusCanceled
		r.Message = "capture canceled"
	default:
		r.Status = StatusFailed
		r.Message = err.Error()
	}
}
