package gpio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultBase = "/sys/class/gpio"

// Pin drives a GPIO line through the sysfs interface.
type Pin struct {
	base string
	pin  int
}

func New(base string, pin int) *Pin {
	if base == "" {
		base = DefaultBase
	}
	return &Pin{base: base, pin: pin}
}

func (p *Pin) dir() string {
	return filepath.Join(p.base, "gpio"+strconv.Itoa(p.pin))
}

// export makes the pin available and sets it to output. udev may need a
// moment to fix permissions of a freshly exported pin.
func (p *Pin) export(ctx context.Context) error {
	if _, err := os.Stat(p.dir()); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(filepath.Join(p.base, "export"), []byte(strconv.Itoa(p.pin)), 0644); err != nil {
			return fmt.Errorf("error exporting gpio %d: %w", p.pin, err)
		}
		logrus.Debugf("gpio: exported pin %d", p.pin)
	}

	var err error
	for i := 0; i < 10; i++ {
		err = os.WriteFile(filepath.Join(p.dir(), "direction"), []byte("out"), 0644)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return fmt.Errorf("error setting gpio %d direction: %w", p.pin, err)
}

func (p *Pin) Write(ctx context.Context, high bool) error {
	if err := p.export(ctx); err != nil {
		return err
	}
	value := "0"
	if high {
		value = "1"
	}
	if err := os.WriteFile(filepath.Join(p.dir(), "value"), []byte(value), 0644); err != nil {
		return fmt.Errorf("error writing gpio %d: %w", p.pin, err)
	}
	return nil
}

// Close leaves the pin exported so the level is kept after exit.
func (p *Pin) Close() error {
	return nil
}
