package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nergy-se/smartheater/pkg/api/v1/types"
	"github.com/nergy-se/smartheater/pkg/ledger"
	"github.com/nergy-se/smartheater/pkg/mqtt"
	"github.com/nergy-se/smartheater/pkg/pricetable"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type runner interface {
	Run(ctx context.Context) error
}

// Run is the long running mode. It repairs today's and tomorrow's schedule
// on start, plans tomorrow every day at the configured fetch time and
// re-checks degraded or missing days every quarter of an hour.
func (a *App) Run(ctx context.Context) error {
	if addr := a.config.Hardware.EmbeddedBroker; addr != "" {
		server, err := mqtt.Start(ctx, a.wg, addr)
		if err != nil {
			return fmt.Errorf("error starting mqtt broker: %w", err)
		}
		if a.config.DriverType() == types.DriverTypeMQTT {
			if err := mqtt.Watch(server, a.config.Hardware.MQTTTopic); err != nil {
				return err
			}
		}
	}

	if err := a.Open(ctx); err != nil {
		return err
	}
	defer a.Close()

	a.recover(ctx)

	g, ctx := errgroup.WithContext(ctx)
	if r, ok := a.backend.(runner); ok {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	g.Go(func() error {
		return a.planLoop(ctx)
	})
	g.Go(func() error {
		a.checkLoop(ctx)
		return nil
	})
	if addr := a.config.Daemon.MetricsAddress; addr != "" {
		g.Go(func() error {
			return a.serveMetrics(ctx, addr)
		})
	}

	err := g.Wait()
	a.Wait()
	return err
}

func (a *App) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logrus.Infof("app: serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error serving metrics: %w", err)
	}
	return nil
}

func (a *App) Wait() {
	a.wg.Wait()
}

// recover brings the backend in line with the ledger after a start. A day
// seen before is reconciled; today is planned if it never was. Toggles due
// while the daemon was down may never have happened, so the current state is
// asserted as well.
func (a *App) recover(ctx context.Context) {
	loc := a.config.Location()
	today := pricetable.DayOf(a.now(), loc)

	if err := a.ensure(ctx, today, true); err != nil {
		logrus.WithFields(logrus.Fields{"day": today}).Errorf("app: %s", err)
	}
	if _, err := a.Assert(ctx, today); err != nil {
		logrus.WithFields(logrus.Fields{"day": today}).Errorf("app: error asserting state: %s", err)
	}
	a.checkTomorrow(ctx)
}

// ensure plans day when the ledger has never seen it and reconciles it when
// it was seen before and always is set or it is degraded.
func (a *App) ensure(ctx context.Context, day pricetable.Day, always bool) error {
	rec, err := a.ledger.Day(ctx, day.String())
	if err != nil {
		return err
	}
	switch {
	case rec == nil:
		_, err = a.Plan(ctx, day)
	case always || rec.Status == ledger.DayDegraded:
		_, err = a.Reconcile(ctx, day)
	}
	return err
}

func (a *App) checkTomorrow(ctx context.Context) {
	h, m, err := a.config.FetchTime()
	if err != nil {
		logrus.Error(err)
		return
	}
	now := a.now()
	loc := a.config.Location()
	tomorrow := pricetable.DayOf(now, loc).Next()
	rec, err := a.ledger.Day(ctx, tomorrow.String())
	if err != nil {
		logrus.Error(err)
		return
	}
	// prices for tomorrow are published in the afternoon
	if rec == nil && !afterFetchTime(now, loc, h, m) {
		return
	}
	if err := a.ensure(ctx, tomorrow, false); err != nil {
		logrus.WithFields(logrus.Fields{"day": tomorrow}).Errorf("app: %s", err)
	}
}

func (a *App) planLoop(ctx context.Context) error {
	h, m, err := a.config.FetchTime()
	if err != nil {
		return err
	}
	c := cron.New(cron.WithLocation(a.config.Location()))
	_, err = c.AddFunc(fmt.Sprintf("%d %d * * *", m, h), func() {
		a.planTomorrow(ctx)
	})
	if err != nil {
		return fmt.Errorf("error adding planning job: %w", err)
	}
	logrus.Infof("app: planning tomorrow every day at %02d:%02d %s", h, m, a.config.Location())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (a *App) planTomorrow(ctx context.Context) {
	tomorrow := pricetable.DayOf(a.now(), a.config.Location()).Next()
	if _, err := a.Plan(ctx, tomorrow); err != nil {
		logrus.WithFields(logrus.Fields{"day": tomorrow}).Errorf("app: %s", err)
	}
	if err := a.Prune(ctx); err != nil {
		logrus.Errorf("app: error pruning ledger: %s", err)
	}
}

func (a *App) checkLoop(ctx context.Context) {
	delay := calculateNextDelay(a.now())
	timer := time.NewTimer(delay)
	logrus.Debug("app: scheduling first check in ", delay)
	for {
		select {
		case <-timer.C:
			a.check(ctx)
			timer.Reset(calculateNextDelay(a.now()))
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (a *App) check(ctx context.Context) {
	today := pricetable.DayOf(a.now(), a.config.Location())
	if err := a.ensure(ctx, today, false); err != nil {
		logrus.WithFields(logrus.Fields{"day": today}).Errorf("app: %s", err)
	}
	a.checkTomorrow(ctx)
}
