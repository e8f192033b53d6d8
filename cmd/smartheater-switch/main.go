package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nergy-se/smartheater/pkg/api/v1/config"
	"github.com/nergy-se/smartheater/pkg/controller"
	"github.com/nergy-se/smartheater/pkg/state"
	"github.com/sirupsen/logrus"
)

const switchTimeout = 30 * time.Second

// Scheduled jobs run this to set the heater to one state.
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
	cli := &config.SwitchCliConfig{}
	err := config.LoadCli(cli, nil)
	if err != nil {
		return err
	}
	s, err := state.Parse(cli.State)
	if err != nil {
		return err
	}

	conf, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	lvl, err := logrus.ParseLevel(conf.Logging.Level)
	if err != nil {
		return fmt.Errorf("error setting logrus loglevel: %w", err)
	}
	logrus.SetLevel(lvl)

	if path := conf.Logging.SwitchLogfile; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("error opening switch logfile: %w", err)
		}
		defer f.Close()
		logrus.SetOutput(f)
	}

	sw, err := controller.New(conf)
	if err != nil {
		return err
	}
	defer sw.Close()

	ctx, cancel := context.WithTimeout(ctx, switchTimeout)
	defer cancel()
	if err := sw.SetState(ctx, s); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"state": s, "driver": conf.Hardware.Driver}).Info("switch: heater switched")
	return nil
}
