package config

import (
	"fmt"
	"os"
	"time"

	"github.com/koding/multiconfig"
	"github.com/nergy-se/smartheater/pkg/pricetable"
)

const EnvPrefix = "SMARTHEATER"

const (
	ActionPlan      = "plan"
	ActionReconcile = "reconcile"
	ActionReplan    = "replan"
	ActionStatus    = "status"
	ActionDaemon    = "daemon"
)

// CliConfig is what the smartheater binary reads from flags and environment.
type CliConfig struct {
	Action string `default:"plan"`
	Config string `default:"/etc/smartheater.toml"`

	// Date selects the day to act on as YYYY-MM-DD in the market timezone.
	// Empty means tomorrow for plan and today for the other actions.
	Date string

	// LogLevel overrides the level from the config file.
	LogLevel string
}

// SwitchCliConfig is what the switch binary reads. The scheduler puts
// "-state ON" or "-state OFF" after the configured switch command.
type SwitchCliConfig struct {
	Config string `default:"/etc/smartheater.toml"`
	State  string `required:"true"`
}

func newCliLoader(args []string) *multiconfig.DefaultLoader {
	if args == nil {
		args = os.Args[1:]
	}
	return &multiconfig.DefaultLoader{
		Loader: multiconfig.MultiLoader(
			&multiconfig.TagLoader{},
			&multiconfig.EnvironmentLoader{Prefix: EnvPrefix},
			&multiconfig.FlagLoader{EnvPrefix: EnvPrefix, Args: args},
		),
		Validator: multiconfig.MultiValidator(&multiconfig.RequiredValidator{}),
	}
}

// LoadCli fills c from defaults, environment and args. Nil args means os.Args.
func LoadCli(c interface{}, args []string) error {
	return newCliLoader(args).Load(c)
}

func (c *CliConfig) Validate() error {
	switch c.Action {
	case ActionPlan, ActionReconcile, ActionReplan, ActionStatus, ActionDaemon:
	default:
		return fmt.Errorf("unknown action %q", c.Action)
	}
	if c.Date != "" {
		if _, err := time.Parse(time.DateOnly, c.Date); err != nil {
			return fmt.Errorf("error parsing date: %w", err)
		}
	}
	return nil
}

// Day resolves the day to act on at now.
func (c *CliConfig) Day(loc *time.Location, now time.Time) (pricetable.Day, error) {
	if c.Date != "" {
		return pricetable.ParseDay(c.Date, loc)
	}
	today := pricetable.DayOf(now, loc)
	if c.Action == ActionPlan {
		return today.Next(), nil
	}
	return today, nil
}
