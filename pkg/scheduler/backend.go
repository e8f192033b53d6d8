package scheduler

import (
	"context"
	"time"

	"github.com/nergy-se/smartheater/pkg/ledger"
	"github.com/nergy-se/smartheater/pkg/planner"
	"github.com/nergy-se/smartheater/pkg/state"
)

// JobHandle is the backend's own identifier of a submitted job.
type JobHandle string

// Backend is a one-shot job scheduler. Implementations must find jobs by key
// across process restarts; the key is the only identity shared with the
// planner.
type Backend interface {
	HasJob(ctx context.Context, key planner.JobKey) (bool, error)
	// SubmitJob registers a job that sets the switch to s at the given time.
	SubmitJob(ctx context.Context, key planner.JobKey, at time.Time, s state.State) (JobHandle, error)
	// CancelJob removes a pending job. Unknown keys are not an error.
	CancelJob(ctx context.Context, key planner.JobKey) error
	ListPending(ctx context.Context) (map[planner.JobKey]JobHandle, error)
}

// Ledger is the persistent job bookkeeping the scheduler relies on instead
// of process memory.
type Ledger interface {
	Get(ctx context.Context, key string) (*ledger.Job, error)
	Claim(ctx context.Context, j ledger.Job) (bool, error)
	Reclaim(ctx context.Context, key string, attempts int, from ledger.Status) (bool, error)
	Record(ctx context.Context, j ledger.Job) error
	SetStatus(ctx context.Context, key string, status ledger.Status, handle, errMsg string) error
	JobsForDay(ctx context.Context, day string) ([]ledger.Job, error)
	MarkDay(ctx context.Context, day string, status ledger.DayStatus, detail string) error
	Day(ctx context.Context, day string) (*ledger.DayRecord, error)
}
