package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/koding/multiconfig"
	"github.com/nergy-se/smartheater/pkg/api/v1/types"
	"github.com/nergy-se/smartheater/pkg/prices"
	"github.com/nergy-se/smartheater/pkg/scheduler"
)

// HeatingSchedule holds the minutes the heater has to be on for each weekday.
type HeatingSchedule struct {
	Monday    int `toml:"monday"`
	Tuesday   int `toml:"tuesday"`
	Wednesday int `toml:"wednesday"`
	Thursday  int `toml:"thursday"`
	Friday    int `toml:"friday"`
	Saturday  int `toml:"saturday"`
	Sunday    int `toml:"sunday"`
}

type Market struct {
	Timezone string `toml:"timezone" default:"Europe/Stockholm"`
	// Granularity of the price intervals in minutes.
	Granularity int    `toml:"granularity" default:"60"`
	RegionCode  string `toml:"region_code" required:"true"`
	URL         string `toml:"url"`
}

type Scheduler struct {
	Backend string `toml:"backend" default:"at"`
	Queue   string `toml:"queue" default:"h"`
	Retries int    `toml:"retries" default:"3"`
	Timeout string `toml:"timeout" default:"30s"`
	// SwitchCommand runs when a job fires, with "-state ON|OFF" appended.
	SwitchCommand string `toml:"switch_command" default:"/usr/local/bin/smartheater-switch -config /etc/smartheater.toml"`
}

type Hardware struct {
	Driver          string `toml:"driver" default:"gpio"`
	SwitchPin       int    `toml:"switch_pin"`
	ReversePolarity bool   `toml:"reverse_polarity"`

	ModbusAddress string `toml:"modbus_address"`
	Coil          int    `toml:"coil"`
	SlaveID       int    `toml:"slave_id" default:"1"`

	MQTTBroker     string `toml:"mqtt_broker"`
	MQTTTopic      string `toml:"mqtt_topic" default:"smartheater/switch"`
	EmbeddedBroker string `toml:"embedded_broker"`
}

type Ledger struct {
	Path          string `toml:"path" default:"/var/lib/smartheater/ledger.db"`
	RetentionDays int    `toml:"retention_days" default:"14"`
}

type Logging struct {
	Level         string `toml:"level" default:"info"`
	SwitchLogfile string `toml:"switch_logfile"`
}

type Daemon struct {
	// FetchTime is the HH:MM in the market timezone when tomorrow is planned.
	FetchTime string `toml:"fetch_time" default:"21:30"`
	// MetricsAddress serves prometheus metrics when set, e.g. ":9100".
	MetricsAddress string `toml:"metrics_address"`
}

type Config struct {
	HeatingSchedule HeatingSchedule `toml:"heating-schedule"`
	Market          Market          `toml:"market"`
	Scheduler       Scheduler       `toml:"scheduler"`
	Hardware        Hardware        `toml:"hardware"`
	Ledger          Ledger          `toml:"ledger"`
	Logging         Logging         `toml:"logging"`
	Daemon          Daemon          `toml:"daemon"`

	location *time.Location
}

// Load reads the TOML file at path. Values from SMARTHEATER_* environment
// variables take precedence over the file.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	c := &Config{}
	l := &multiconfig.DefaultLoader{
		Loader: multiconfig.MultiLoader(
			&multiconfig.TagLoader{},
			&multiconfig.TOMLLoader{Path: path},
			&multiconfig.EnvironmentLoader{Prefix: EnvPrefix},
		),
		Validator: multiconfig.MultiValidator(&multiconfig.RequiredValidator{}),
	}
	if err := l.Load(c); err != nil {
		return nil, fmt.Errorf("error loading config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the values and resolves the market timezone. It must be
// called before Location is used.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	c.location = loc

	g := c.Market.Granularity
	if g <= 0 || (24*60)%g != 0 {
		return fmt.Errorf("market.granularity: %d minutes does not divide a day", g)
	}
	if !prices.ValidRegion(c.Market.RegionCode) {
		return fmt.Errorf("market.region_code: unknown region %q", c.Market.RegionCode)
	}
	for _, wd := range weekdays {
		m := c.TargetMinutes(wd)
		if m < 0 || m%g != 0 {
			return fmt.Errorf("heating-schedule.%s: %d minutes is not a non-negative multiple of %d",
				strings.ToLower(wd.String()), m, g)
		}
	}

	switch c.BackendType() {
	case types.BackendTypeAt:
		if c.Scheduler.Queue == "" || c.Scheduler.SwitchCommand == "" {
			return fmt.Errorf("scheduler: queue and switch_command are required for the at backend")
		}
	case types.BackendTypeInProcess:
	default:
		return fmt.Errorf("scheduler.backend: unknown backend %q", c.Scheduler.Backend)
	}
	if c.Scheduler.Retries < 0 {
		return fmt.Errorf("scheduler.retries: must not be negative")
	}
	if _, err := c.SchedulerTimeout(); err != nil {
		return err
	}

	switch c.DriverType() {
	case types.DriverTypeGPIO:
		if c.Hardware.SwitchPin <= 0 {
			return fmt.Errorf("hardware.switch_pin: required for the gpio driver")
		}
	case types.DriverTypeModbus:
		if c.Hardware.ModbusAddress == "" {
			return fmt.Errorf("hardware.modbus_address: required for the modbus driver")
		}
		if c.Hardware.Coil < 0 || c.Hardware.Coil > 0xffff {
			return fmt.Errorf("hardware.coil: %d out of range", c.Hardware.Coil)
		}
		if c.Hardware.SlaveID < 0 || c.Hardware.SlaveID > 247 {
			return fmt.Errorf("hardware.slave_id: %d out of range", c.Hardware.SlaveID)
		}
	case types.DriverTypeMQTT:
		if c.Hardware.MQTTBroker == "" && c.Hardware.EmbeddedBroker == "" {
			return fmt.Errorf("hardware.mqtt_broker: required for the mqtt driver")
		}
	case types.DriverTypeDummy:
	default:
		return fmt.Errorf("hardware.driver: unknown driver %q", c.Hardware.Driver)
	}

	if _, _, err := c.FetchTime(); err != nil {
		return err
	}
	if c.Ledger.RetentionDays < 1 {
		return fmt.Errorf("ledger.retention_days: must be at least 1")
	}
	return nil
}

func (c *Config) BackendType() types.BackendType {
	return types.BackendType(strings.ToLower(c.Scheduler.Backend))
}

func (c *Config) DriverType() types.DriverType {
	return types.DriverType(strings.ToLower(c.Hardware.Driver))
}

var weekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

func (c *Config) TargetMinutes(wd time.Weekday) int {
	switch wd {
	case time.Monday:
		return c.HeatingSchedule.Monday
	case time.Tuesday:
		return c.HeatingSchedule.Tuesday
	case time.Wednesday:
		return c.HeatingSchedule.Wednesday
	case time.Thursday:
		return c.HeatingSchedule.Thursday
	case time.Friday:
		return c.HeatingSchedule.Friday
	case time.Saturday:
		return c.HeatingSchedule.Saturday
	}
	return c.HeatingSchedule.Sunday
}

// Location is the market timezone. Days are always anchored here, never in
// the host timezone.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func (c *Config) Granularity() time.Duration {
	return time.Duration(c.Market.Granularity) * time.Minute
}

func (c *Config) SchedulerTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Scheduler.Timeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("scheduler.timeout: invalid duration %q", c.Scheduler.Timeout)
	}
	return d, nil
}

func (c *Config) SchedulerOptions() scheduler.Options {
	timeout, _ := c.SchedulerTimeout()
	return scheduler.Options{
		Retries: c.Scheduler.Retries,
		Timeout: timeout,
	}
}

// FetchTime returns the hour and minute of the daily planning run.
func (c *Config) FetchTime() (hour, minute int, err error) {
	t, err := time.Parse("15:04", c.Daemon.FetchTime)
	if err != nil {
		return 0, 0, fmt.Errorf("daemon.fetch_time: %w", err)
	}
	return t.Hour(), t.Minute(), nil
}
