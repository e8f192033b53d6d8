package scheduler

import (
	"fmt"
	"time"

	"github.com/nergy-se/smartheater/pkg/planner"
)

// SchedulingError is returned when the backend could not be reached or
// rejected an operation after all retries.
type SchedulingError struct {
	Key      planner.JobKey
	Op       string
	Attempts int
	Err      error
}

func (e *SchedulingError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("scheduler %s failed after %d attempts: %s", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("scheduler %s of %s failed after %d attempts: %s", e.Op, e.Key, e.Attempts, e.Err)
}

func (e *SchedulingError) Unwrap() error {
	return e.Err
}

// MissedEventError is reported for events whose time had already passed when
// they were about to be submitted. They are never retried.
type MissedEventError struct {
	Key planner.JobKey
	At  time.Time
	Now time.Time
}

func (e *MissedEventError) Error() string {
	return fmt.Sprintf("event %s at %s missed, now %s", e.Key, e.At.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}
