package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nergy-se/smartheater/pkg/alarm"
	"github.com/nergy-se/smartheater/pkg/api/v1/config"
	"github.com/nergy-se/smartheater/pkg/api/v1/types"
	"github.com/nergy-se/smartheater/pkg/controller"
	"github.com/nergy-se/smartheater/pkg/ledger"
	"github.com/nergy-se/smartheater/pkg/metrics"
	"github.com/nergy-se/smartheater/pkg/optimizer"
	"github.com/nergy-se/smartheater/pkg/planner"
	"github.com/nergy-se/smartheater/pkg/prices"
	"github.com/nergy-se/smartheater/pkg/pricetable"
	"github.com/nergy-se/smartheater/pkg/scheduler"
	"github.com/nergy-se/smartheater/pkg/scheduler/at"
	"github.com/nergy-se/smartheater/pkg/scheduler/inprocess"
	"github.com/nergy-se/smartheater/pkg/switchdriver"
	"github.com/sirupsen/logrus"
)

type App struct {
	wg     *sync.WaitGroup
	config *config.Config

	source    prices.Source
	sw        switchdriver.Driver
	backend   scheduler.Backend
	ledger    *ledger.Ledger
	prices    *prices.Cached
	scheduler *scheduler.Scheduler
	alarms    *alarm.ActiveAlarms
	metrics   *metrics.Metrics

	closers []func() error
	now     func() time.Time
}

type Option func(*App)

// WithSource replaces the Nordpool price source.
func WithSource(s prices.Source) Option {
	return func(a *App) { a.source = s }
}

// WithBackend replaces the backend selected in the config.
func WithBackend(b scheduler.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithSwitch replaces the hardware driver used by the inprocess backend.
func WithSwitch(d switchdriver.Driver) Option {
	return func(a *App) { a.sw = d }
}

func New(c *config.Config, opts ...Option) *App {
	a := &App{
		wg:      &sync.WaitGroup{},
		config:  c,
		alarms:  &alarm.ActiveAlarms{},
		metrics: metrics.New(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Open sets up the ledger, price source and scheduler backend.
func (a *App) Open(ctx context.Context) error {
	if a.ledger != nil {
		return nil
	}
	if dir := filepath.Dir(a.config.Ledger.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating ledger dir: %w", err)
		}
	}
	l, err := ledger.Open(a.config.Ledger.Path)
	if err != nil {
		return err
	}
	a.ledger = l
	a.closers = append(a.closers, l.Close)

	if a.source == nil {
		n, err := prices.NewNordpool(a.config.Market.URL, a.config.Market.RegionCode, a.config.Granularity())
		if err != nil {
			return err
		}
		a.source = n
	}
	a.prices = prices.NewCached(a.source, a.ledger, a.config.Granularity())

	if a.backend == nil {
		b, err := a.openBackend()
		if err != nil {
			return err
		}
		a.backend = b
	}
	a.scheduler = scheduler.New(a.backend, a.ledger, a.config.SchedulerOptions())
	return nil
}

func (a *App) openBackend() (scheduler.Backend, error) {
	switch a.config.BackendType() {
	case types.BackendTypeAt:
		return at.New(a.config.Scheduler.Queue, a.config.Scheduler.SwitchCommand), nil
	case types.BackendTypeInProcess:
		if a.sw == nil {
			sw, err := controller.New(a.config)
			if err != nil {
				return nil, err
			}
			a.sw = sw
			a.closers = append(a.closers, sw.Close)
		}
		return inprocess.New(a.sw.SetState), nil
	}
	return nil, fmt.Errorf("unknown backend %q", a.config.Scheduler.Backend)
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Events derives the toggle events for day from its price table and the
// weekday target. With refresh the prices are fetched again even if stored.
func (a *App) Events(ctx context.Context, day pricetable.Day, refresh bool) ([]planner.ToggleEvent, error) {
	var pt *pricetable.PriceTable
	var err error
	if refresh {
		pt, err = a.prices.Refresh(ctx, day)
	} else {
		pt, err = a.prices.PriceTable(ctx, day)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting prices for %s: %w", day, err)
	}

	target := a.config.TargetMinutes(day.Weekday())
	sel, err := optimizer.Select(pt, target)
	if err != nil {
		return nil, err
	}

	prevOn, err := a.scheduler.PreviousEndsOn(ctx, day)
	if err != nil {
		return nil, err
	}
	events, err := planner.Plan(sel, planner.Options{PreviousEndsOn: prevOn})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"day":     day,
		"minutes": sel.TotalMinutes(),
		"cost":    sel.Cost().StringFixed(2),
		"average": sel.Average().StringFixed(2),
	}).Info("app: selected intervals")
	for _, row := range planner.Table(events, a.config.Location(), time.Local) {
		logrus.Info(row)
	}
	return events, nil
}

// Plan submits the schedule for day. Running it again only submits what is
// missing.
func (a *App) Plan(ctx context.Context, day pricetable.Day) (scheduler.Result, error) {
	events, err := a.Events(ctx, day, false)
	if err != nil {
		return scheduler.Result{Day: day.String()}, a.skip(day, err)
	}
	res, err := a.scheduler.Submit(ctx, day, events)
	return res, a.done(ctx, "plan", res, err)
}

// Reconcile repairs the schedule for day from the ledger and the backend
// after a crash or restart.
func (a *App) Reconcile(ctx context.Context, day pricetable.Day) (scheduler.Result, error) {
	events, err := a.Events(ctx, day, false)
	if err != nil {
		return scheduler.Result{Day: day.String()}, a.skip(day, err)
	}
	res, err := a.scheduler.Reconcile(ctx, day, events)
	return res, a.done(ctx, "reconcile", res, err)
}

// Replan fetches the prices for day again and moves the schedule over to
// the new plan.
func (a *App) Replan(ctx context.Context, day pricetable.Day) (scheduler.Result, error) {
	events, err := a.Events(ctx, day, true)
	if err != nil {
		return scheduler.Result{Day: day.String()}, a.skip(day, err)
	}
	res, err := a.scheduler.Replan(ctx, day, events)
	return res, a.done(ctx, "replan", res, err)
}

// Assert re-applies the state intended for the current moment of day.
func (a *App) Assert(ctx context.Context, day pricetable.Day) (scheduler.Result, error) {
	events, err := a.Events(ctx, day, false)
	if err != nil {
		return scheduler.Result{Day: day.String()}, a.skip(day, err)
	}
	res, err := a.scheduler.Assert(ctx, day, events)
	return res, a.done(ctx, "assert", res, err)
}

func (a *App) Status(ctx context.Context, day pricetable.Day) (scheduler.DayReport, error) {
	report, err := a.scheduler.Status(ctx, day)
	if err != nil {
		return report, err
	}
	status := report.Status
	if status == "" {
		status = "unplanned"
	}
	logrus.WithFields(logrus.Fields{"day": report.Day, "status": status, "detail": report.Detail}).Info("app: day status")
	for _, j := range report.Jobs {
		fields := logrus.Fields{
			"at":       j.At.In(a.config.Location()).Format(time.RFC3339),
			"state":    j.State,
			"status":   j.Status,
			"attempts": j.Attempts,
		}
		if j.Error != "" {
			fields["error"] = j.Error
		}
		logrus.WithFields(fields).Info(j.Key)
	}
	return report, nil
}

// Prune removes ledger records older than the retention window.
func (a *App) Prune(ctx context.Context) error {
	today := pricetable.DayOf(a.now(), a.config.Location())
	t := today.Start().AddDate(0, 0, -a.config.Ledger.RetentionDays)
	cutoff := pricetable.DayOf(t, a.config.Location())
	return a.ledger.Prune(ctx, cutoff.String())
}

// skip logs a day that could not be planned. Invalid targets only affect
// that day.
func (a *App) skip(day pricetable.Day, err error) error {
	var target *optimizer.InvalidTargetError
	if errors.As(err, &target) {
		logrus.WithFields(logrus.Fields{"day": day}).Errorf("app: skipping day: %s", err)
	}
	return err
}

func (a *App) done(ctx context.Context, op string, res scheduler.Result, err error) error {
	log := logrus.WithFields(logrus.Fields{"op": op, "day": res.Day})
	if len(res.Missed) > 0 {
		log.Warnf("app: %d events already passed and were not scheduled", len(res.Missed))
	}
	if err != nil {
		log.Errorf("app: %s", res)
	} else {
		log.Infof("app: %s", res)
	}

	a.metrics.Ran(op)
	a.metrics.Jobs(op, "submitted", len(res.Submitted))
	a.metrics.Jobs(op, "skipped", len(res.Skipped))
	a.metrics.Jobs(op, "missed", len(res.Missed))
	a.metrics.Jobs(op, "failed", len(res.Failed))
	a.metrics.Jobs(op, "cancelled", len(res.Cancelled))
	a.metrics.Jobs(op, "fired", len(res.Fired))
	a.metrics.Jobs(op, "inflight", len(res.InFlight))

	days, derr := a.ledger.DegradedDays(ctx)
	if derr != nil {
		return errors.Join(err, derr)
	}
	a.alarms.Sync(days)
	a.metrics.DegradedDays(len(days))
	return err
}
