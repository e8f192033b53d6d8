package inprocess

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nergy-se/smartheater/pkg/planner"
	"github.com/nergy-se/smartheater/pkg/scheduler"
	"github.com/nergy-se/smartheater/pkg/state"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// once fires a single time at at.
type once time.Time

func (o once) Next(t time.Time) time.Time {
	at := time.Time(o)
	if t.Before(at) {
		return at
	}
	return time.Time{}
}

type SwitchFunc func(ctx context.Context, s state.State) error

// Backend keeps jobs in a cron runner inside the daemon process. Jobs do not
// survive a restart; the daemon reconciles on start to put them back.
type Backend struct {
	cron  *cron.Cron
	apply SwitchFunc
	mu    sync.Mutex
	jobs  map[planner.JobKey]cron.EntryID
}

func New(apply SwitchFunc) *Backend {
	return &Backend{
		cron:  cron.New(),
		apply: apply,
		jobs:  make(map[planner.JobKey]cron.EntryID),
	}
}

// Run executes jobs until ctx is done and waits for running jobs to finish.
func (b *Backend) Run(ctx context.Context) error {
	b.cron.Start()
	<-ctx.Done()
	<-b.cron.Stop().Done()
	return nil
}

func (b *Backend) HasJob(ctx context.Context, key planner.JobKey) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.jobs[key]
	return ok, nil
}

func (b *Backend) SubmitJob(ctx context.Context, key planner.JobKey, at time.Time, s state.State) (scheduler.JobHandle, error) {
	if !at.After(time.Now()) {
		return "", fmt.Errorf("job %s at %s is in the past", key, at.Format(time.RFC3339))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.jobs[key]; ok {
		return handle(id), nil
	}
	id := b.cron.Schedule(once(at), cron.FuncJob(func() {
		b.fire(key, s)
	}))
	b.jobs[key] = id
	return handle(id), nil
}

func (b *Backend) fire(key planner.JobKey, s state.State) {
	b.mu.Lock()
	id, ok := b.jobs[key]
	delete(b.jobs, key)
	b.mu.Unlock()
	if !ok {
		return
	}
	b.cron.Remove(id)

	log := logrus.WithFields(logrus.Fields{"key": key, "state": s})
	if err := b.apply(context.Background(), s); err != nil {
		log.Errorf("inprocess: error switching: %s", err)
		return
	}
	log.Info("inprocess: switched")
}

func (b *Backend) CancelJob(ctx context.Context, key planner.JobKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.jobs[key]; ok {
		b.cron.Remove(id)
		delete(b.jobs, key)
	}
	return nil
}

func (b *Backend) ListPending(ctx context.Context) (map[planner.JobKey]scheduler.JobHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[planner.JobKey]scheduler.JobHandle, len(b.jobs))
	for k, id := range b.jobs {
		out[k] = handle(id)
	}
	return out, nil
}

func handle(id cron.EntryID) scheduler.JobHandle {
	return scheduler.JobHandle(fmt.Sprint(int(id)))
}
