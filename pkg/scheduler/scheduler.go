package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nergy-se/smartheater/pkg/ledger"
	"github.com/nergy-se/smartheater/pkg/planner"
	"github.com/nergy-se/smartheater/pkg/pricetable"
	"github.com/nergy-se/smartheater/pkg/state"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const DefaultRetries = 3

// handoverNote marks a previous day's midnight OFF cancelled because the next
// day took over the transition.
const handoverNote = "handed over to "

type Options struct {
	// Retries after the first failed backend call.
	Retries int
	// Timeout bounds every single backend call.
	Timeout time.Duration
	// Backoff is the initial wait between retries.
	Backoff time.Duration
	// ClaimLease is how long a claimed but unconfirmed job is considered in
	// flight by another run.
	ClaimLease time.Duration
}

func (o Options) withDefaults() Options {
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	if o.ClaimLease <= 0 {
		o.ClaimLease = 2 * time.Duration(o.Retries+1) * o.Timeout
	}
	return o
}

// Result lists what happened to every key touched by one operation.
type Result struct {
	Day       string
	Submitted []planner.JobKey
	Skipped   []planner.JobKey
	Missed    []planner.JobKey
	Failed    []planner.JobKey
	Cancelled []planner.JobKey
	Fired     []planner.JobKey
	// InFlight holds keys claimed by another run whose lease has not run out.
	// Nothing confirms they reach the backend, so they keep the day degraded.
	InFlight []planner.JobKey
}

func (r Result) Degraded() bool {
	return len(r.Failed) > 0 || len(r.InFlight) > 0
}

func (r Result) String() string {
	return fmt.Sprintf("%s: submitted=%d skipped=%d missed=%d failed=%d cancelled=%d fired=%d inflight=%d",
		r.Day, len(r.Submitted), len(r.Skipped), len(r.Missed), len(r.Failed), len(r.Cancelled), len(r.Fired), len(r.InFlight))
}

type DayReport struct {
	Day    string
	Status ledger.DayStatus
	Detail string
	Jobs   []ledger.Job
}

type lookup func(ctx context.Context, key planner.JobKey) (bool, error)

// Scheduler hands toggle events to a Backend exactly once per job key. All
// state needed to resume after a crash lives in the ledger and the backend.
type Scheduler struct {
	backend Backend
	ledger  Ledger
	opts    Options
	now     func() time.Time
}

func New(backend Backend, l Ledger, opts Options) *Scheduler {
	return &Scheduler{
		backend: backend,
		ledger:  l,
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

// Submit registers every future event with the backend. Events already known
// to the backend are skipped, past events are recorded as missed. A failing
// event does not stop the remaining ones; the day is then marked degraded and
// the returned error joins every SchedulingError.
func (s *Scheduler) Submit(ctx context.Context, day pricetable.Day, events []planner.ToggleEvent) (Result, error) {
	res := Result{Day: day.String()}
	var errs []error
	for _, e := range events {
		if err := s.submitEvent(ctx, e, s.hasJob, &res); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.takeMidnight(ctx, day, events, &res); err != nil {
		errs = append(errs, err)
	}
	return res, s.finish(ctx, day, &res, errs)
}

// Reconcile brings the backend in line with events after a restart. Jobs the
// backend no longer lists are taken as fired, pending jobs of the day that
// are not part of events are cancelled and missing future jobs are submitted.
func (s *Scheduler) Reconcile(ctx context.Context, day pricetable.Day, events []planner.ToggleEvent) (Result, error) {
	res := Result{Day: day.String()}

	var pending map[planner.JobKey]JobHandle
	attempts, err := s.retry(ctx, "list", "", func(ctx context.Context) error {
		var err error
		pending, err = s.backend.ListPending(ctx)
		return err
	})
	if err != nil {
		serr := &SchedulingError{Op: "list", Attempts: attempts, Err: err}
		logrus.WithFields(logrus.Fields{"day": day}).Error(serr)
		return res, s.finish(ctx, day, &res, []error{serr})
	}

	jobs, err := s.ledger.JobsForDay(ctx, day.String())
	if err != nil {
		return res, err
	}

	now := s.now()
	planned := keySet(events)
	var errs []error
	for _, j := range jobs {
		key := planner.JobKey(j.Key)
		if j.Status != ledger.StatusSubmitted {
			continue
		}
		if _, ok := pending[key]; ok {
			continue
		}
		status := ledger.StatusFired
		if j.At.After(now) {
			if _, ok := planned[key]; ok {
				// lost by the backend, resubmitted below
				continue
			}
			status = ledger.StatusCancelled
		} else {
			res.Fired = append(res.Fired, key)
		}
		if err := s.ledger.SetStatus(ctx, j.Key, status, "", ""); err != nil {
			errs = append(errs, err)
		}
	}

	stale := lo.Filter(lo.Keys(pending), func(k planner.JobKey, _ int) bool {
		_, ok := planned[k]
		return !ok && !k.IsAssert() && k.Day() == day.String()
	})
	slices.Sort(stale)
	for _, k := range stale {
		if err := s.cancel(ctx, k, "", &res); err != nil {
			errs = append(errs, err)
		}
	}

	has := func(ctx context.Context, key planner.JobKey) (bool, error) {
		if _, ok := pending[key]; ok {
			return true, nil
		}
		// another run may have submitted since the list was taken
		return s.hasJob(ctx, key)
	}
	for _, e := range events {
		if err := s.submitEvent(ctx, e, has, &res); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.takeMidnight(ctx, day, events, &res); err != nil {
		errs = append(errs, err)
	}
	return res, s.finish(ctx, day, &res, errs)
}

// Replan switches the day over to a corrected set of events. New jobs are
// submitted before obsolete future ones are cancelled and the state intended
// for the current moment is re-asserted, so the switch is never left in a
// state that neither plan wants. Jobs that already fired are left alone.
func (s *Scheduler) Replan(ctx context.Context, day pricetable.Day, events []planner.ToggleEvent) (Result, error) {
	res := Result{Day: day.String()}
	now := s.now()

	old, err := s.ledger.JobsForDay(ctx, day.String())
	if err != nil {
		return res, err
	}

	var errs []error
	for _, e := range events {
		if err := s.submitEvent(ctx, e, s.hasJob, &res); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.takeMidnight(ctx, day, events, &res); err != nil {
		errs = append(errs, err)
	}

	planned := keySet(events)
	for _, j := range old {
		key := planner.JobKey(j.Key)
		if _, ok := planned[key]; ok || key.IsAssert() || j.Status.Terminal() || !j.At.After(now) {
			continue
		}
		if err := s.cancel(ctx, key, "", &res); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.assert(ctx, day, events, now, &res); err != nil {
		errs = append(errs, err)
	}
	return res, s.finish(ctx, day, &res, errs)
}

// Assert submits a job for the next minute that re-applies the state events
// intend for now. Backends that lose their jobs on restart need it after
// Reconcile, since toggles due while the process was down never happened.
// A failure degrades the day; success leaves the day status untouched.
func (s *Scheduler) Assert(ctx context.Context, day pricetable.Day, events []planner.ToggleEvent) (Result, error) {
	res := Result{Day: day.String()}
	err := s.assert(ctx, day, events, s.now(), &res)
	if err != nil {
		if merr := s.ledger.MarkDay(ctx, day.String(), ledger.DayDegraded, err.Error()); merr != nil {
			err = errors.Join(err, merr)
		}
	}
	return res, err
}

func (s *Scheduler) assert(ctx context.Context, day pricetable.Day, events []planner.ToggleEvent, now time.Time, res *Result) error {
	e, ok := assertion(day, events, now)
	if !ok {
		return nil
	}
	logrus.WithFields(logrus.Fields{"day": day, "state": e.State, "at": e.At.Format(time.RFC3339)}).Info("scheduler: re-asserting intended state")
	return s.submitEvent(ctx, e, s.hasJob, res)
}

func (s *Scheduler) Status(ctx context.Context, day pricetable.Day) (DayReport, error) {
	report := DayReport{Day: day.String()}
	rec, err := s.ledger.Day(ctx, day.String())
	if err != nil {
		return report, err
	}
	if rec != nil {
		report.Status = rec.Status
		report.Detail = rec.Detail
	}
	report.Jobs, err = s.ledger.JobsForDay(ctx, day.String())
	return report, err
}

// PreviousEndsOn reports whether the day before day keeps the heater on until
// day's midnight, that is, it still intends an OFF exactly at day.Start().
// An OFF the previous day dropped itself or missed does not count; one handed
// over to day does.
func (s *Scheduler) PreviousEndsOn(ctx context.Context, day pricetable.Day) (bool, error) {
	key := planner.NewJobKey(day.Prev(), day.Start(), state.Off)
	j, err := s.ledger.Get(ctx, key.String())
	if err != nil || j == nil {
		return false, err
	}
	switch j.Status {
	case ledger.StatusPlanned, ledger.StatusSubmitted, ledger.StatusFired, ledger.StatusFailed:
		return true, nil
	case ledger.StatusCancelled:
		return strings.HasPrefix(j.Error, handoverNote), nil
	}
	return false, nil
}

// assertion returns an immediate job re-asserting the state events intend
// for now. It is only needed while day is running and skipped when a planned
// event falls on the same minute.
func assertion(day pricetable.Day, events []planner.ToggleEvent, now time.Time) (planner.ToggleEvent, bool) {
	if now.Before(day.Start()) || !now.Before(day.End()) {
		return planner.ToggleEvent{}, false
	}
	e := planner.AssertEvent(day, now.Add(time.Minute), state.Off)
	if !e.At.Before(day.End()) {
		return planner.ToggleEvent{}, false
	}
	if lo.ContainsBy(events, func(ev planner.ToggleEvent) bool { return ev.At.Equal(e.At) }) {
		return planner.ToggleEvent{}, false
	}
	return planner.AssertEvent(day, e.At, planner.StateAt(events, e.At, state.Off)), true
}

// takeMidnight cancels the previous day's OFF at midnight when events start
// there too. The day being planned owns the transition so two toggles never
// race at the same instant. It runs after events were submitted and leaves
// the old OFF in place unless the new midnight event is known to the backend.
func (s *Scheduler) takeMidnight(ctx context.Context, day pricetable.Day, events []planner.ToggleEvent, res *Result) error {
	if len(events) == 0 || !events[0].At.Equal(day.Start()) || !day.Start().After(s.now()) {
		return nil
	}
	first := events[0].Key
	if !slices.Contains(res.Submitted, first) && !slices.Contains(res.Skipped, first) {
		logrus.WithFields(logrus.Fields{"day": day, "key": first}).Warn("scheduler: midnight event not scheduled, keeping previous day's OFF")
		return nil
	}
	key := planner.NewJobKey(day.Prev(), day.Start(), state.Off)
	j, err := s.ledger.Get(ctx, key.String())
	if err != nil {
		return err
	}
	if j != nil && j.Status.Terminal() {
		return nil
	}
	return s.cancel(ctx, key, handoverNote+day.String(), res)
}

func (s *Scheduler) submitEvent(ctx context.Context, e planner.ToggleEvent, has lookup, res *Result) error {
	key := e.Key
	log := logrus.WithFields(logrus.Fields{
		"key":   key,
		"at":    e.At.Format(time.RFC3339),
		"state": e.State,
	})

	existing, err := s.ledger.Get(ctx, key.String())
	if err != nil {
		res.Failed = append(res.Failed, key)
		return err
	}
	if existing != nil && existing.Status == ledger.StatusCancelled && strings.HasPrefix(existing.Error, handoverNote) {
		res.Skipped = append(res.Skipped, key)
		log.Debug("scheduler: midnight owned by the next day")
		return nil
	}

	now := s.now()
	if !e.At.After(now) {
		if existing != nil && (existing.Status == ledger.StatusSubmitted || existing.Status.Terminal()) {
			res.Skipped = append(res.Skipped, key)
			return nil
		}
		missed := &MissedEventError{Key: key, At: e.At, Now: now}
		log.Warn(missed)
		res.Missed = append(res.Missed, key)
		return s.ledger.Record(ctx, s.job(e, ledger.StatusMissed, missed.Error()))
	}

	found, err := has(ctx, key)
	if err != nil {
		res.Failed = append(res.Failed, key)
		log.Error(err)
		return err
	}
	if found {
		res.Skipped = append(res.Skipped, key)
		log.Debug("scheduler: already scheduled")
		if existing == nil {
			// submitted by a run that died before recording it
			return s.ledger.Record(ctx, s.job(e, ledger.StatusSubmitted, ""))
		}
		if existing.Status != ledger.StatusSubmitted {
			return s.ledger.SetStatus(ctx, key.String(), ledger.StatusSubmitted, "", "")
		}
		return nil
	}

	claimed, err := s.claim(ctx, e, existing)
	if err != nil {
		res.Failed = append(res.Failed, key)
		return err
	}
	if !claimed {
		if existing != nil && existing.Status == ledger.StatusFired {
			res.Skipped = append(res.Skipped, key)
			return nil
		}
		// the other run may have died, a later reconcile reclaims it once the
		// lease runs out
		res.InFlight = append(res.InFlight, key)
		log.Warn("scheduler: claimed by another run")
		return nil
	}

	var handle JobHandle
	tries := 0
	attempts, err := s.retry(ctx, "submit", key, func(ctx context.Context) error {
		if tries > 0 {
			// an earlier attempt may have reached the backend before timing out
			found, err := s.backend.HasJob(ctx, key)
			if err != nil {
				return err
			}
			if found {
				return nil
			}
		}
		tries++
		var err error
		handle, err = s.backend.SubmitJob(ctx, key, e.At, e.State)
		return err
	})
	if err != nil {
		serr := &SchedulingError{Key: key, Op: "submit", Attempts: attempts, Err: err}
		log.Error(serr)
		res.Failed = append(res.Failed, key)
		if lerr := s.ledger.SetStatus(ctx, key.String(), ledger.StatusFailed, "", err.Error()); lerr != nil {
			return errors.Join(serr, lerr)
		}
		return serr
	}

	res.Submitted = append(res.Submitted, key)
	log.WithField("handle", handle).Info("scheduler: submitted")
	return s.ledger.SetStatus(ctx, key.String(), ledger.StatusSubmitted, string(handle), "")
}

func (s *Scheduler) claim(ctx context.Context, e planner.ToggleEvent, existing *ledger.Job) (bool, error) {
	if existing == nil {
		return s.ledger.Claim(ctx, s.job(e, ledger.StatusPlanned, ""))
	}
	switch existing.Status {
	case ledger.StatusFired:
		return false, nil
	case ledger.StatusPlanned:
		if time.Since(existing.UpdatedAt) < s.opts.ClaimLease {
			return false, nil
		}
	}
	return s.ledger.Reclaim(ctx, existing.Key, existing.Attempts, existing.Status)
}

func (s *Scheduler) cancel(ctx context.Context, key planner.JobKey, note string, res *Result) error {
	attempts, err := s.retry(ctx, "cancel", key, func(ctx context.Context) error {
		return s.backend.CancelJob(ctx, key)
	})
	if err != nil {
		serr := &SchedulingError{Key: key, Op: "cancel", Attempts: attempts, Err: err}
		logrus.Error(serr)
		res.Failed = append(res.Failed, key)
		return serr
	}
	res.Cancelled = append(res.Cancelled, key)
	logrus.WithFields(logrus.Fields{"key": key}).Info("scheduler: cancelled")
	return s.ledger.SetStatus(ctx, key.String(), ledger.StatusCancelled, "", note)
}

func (s *Scheduler) hasJob(ctx context.Context, key planner.JobKey) (bool, error) {
	var found bool
	attempts, err := s.retry(ctx, "lookup", key, func(ctx context.Context) error {
		var err error
		found, err = s.backend.HasJob(ctx, key)
		return err
	})
	if err != nil {
		return false, &SchedulingError{Key: key, Op: "lookup", Attempts: attempts, Err: err}
	}
	return found, nil
}

// retry runs fn with a per call timeout until it succeeds, the retries are
// used up or ctx is done. It returns the number of calls made.
func (s *Scheduler) retry(ctx context.Context, op string, key planner.JobKey, fn func(ctx context.Context) error) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.Backoff
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
		return fn(cctx)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.Retries)), ctx), func(err error, d time.Duration) {
		logrus.WithFields(logrus.Fields{
			"op":      op,
			"key":     key,
			"attempt": attempts,
		}).Warnf("scheduler: %s, retrying in %s", err, d)
	})
	return attempts, err
}

func (s *Scheduler) finish(ctx context.Context, day pricetable.Day, res *Result, errs []error) error {
	status, detail := ledger.DayOK, ""
	if len(errs) > 0 || res.Degraded() {
		status = ledger.DayDegraded
		var parts []string
		if len(res.Failed) > 0 || len(errs) > 0 {
			failed := lo.Map(res.Failed, func(k planner.JobKey, _ int) string { return k.String() })
			parts = append(parts, fmt.Sprintf("%d jobs failed: %s", len(failed), strings.Join(failed, ", ")))
		}
		if len(res.InFlight) > 0 {
			inflight := lo.Map(res.InFlight, func(k planner.JobKey, _ int) string { return k.String() })
			parts = append(parts, fmt.Sprintf("%d jobs in flight: %s", len(inflight), strings.Join(inflight, ", ")))
		}
		detail = strings.Join(parts, "; ")
		logrus.WithFields(logrus.Fields{"day": day, "failed": len(res.Failed), "inflight": len(res.InFlight)}).Error("scheduler: day degraded, run reconcile once the backend is reachable")
	}
	if err := s.ledger.MarkDay(ctx, day.String(), status, detail); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) job(e planner.ToggleEvent, status ledger.Status, errMsg string) ledger.Job {
	return ledger.Job{
		Key:    e.Key.String(),
		Day:    e.Day.String(),
		At:     e.At,
		State:  e.State.String(),
		Kind:   string(e.Kind),
		Status: status,
		Error:  errMsg,
	}
}

func keySet(events []planner.ToggleEvent) map[planner.JobKey]struct{} {
	return lo.Associate(events, func(e planner.ToggleEvent) (planner.JobKey, struct{}) {
		return e.Key, struct{}{}
	})
}
