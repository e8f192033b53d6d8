package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nergy-se/smartheater/pkg/api/v1/config"
	"github.com/nergy-se/smartheater/pkg/app"
	"github.com/nergy-se/smartheater/pkg/ledger"
	"github.com/nergy-se/smartheater/pkg/version"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()
	err := Run(ctx)
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func Run(ctx context.Context) error {
	cli := &config.CliConfig{}
	err := config.LoadCli(cli, nil)
	if err != nil {
		return err
	}
	if err := cli.Validate(); err != nil {
		return err
	}

	conf, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	level := conf.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("error setting logrus loglevel: %w", err)
	}
	logrus.SetLevel(lvl)
	logrus.WithFields(logrus.Fields{"version": version.Version, "action": cli.Action}).Debug("starting smartheater")

	a := app.New(conf)
	if cli.Action == config.ActionDaemon {
		return a.Run(ctx)
	}

	if err := a.Open(ctx); err != nil {
		return err
	}
	defer a.Close()

	day, err := cli.Day(conf.Location(), time.Now())
	if err != nil {
		return err
	}

	switch cli.Action {
	case config.ActionPlan:
		_, err = a.Plan(ctx, day)
	case config.ActionReconcile:
		_, err = a.Reconcile(ctx, day)
	case config.ActionReplan:
		_, err = a.Replan(ctx, day)
	case config.ActionStatus:
		report, serr := a.Status(ctx, day)
		if serr != nil {
			return serr
		}
		if report.Status == ledger.DayDegraded {
			return fmt.Errorf("%s is degraded: %s", report.Day, report.Detail)
		}
	}
	return err
}
