package dummy

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Dummy only logs. It remembers the writes for inspection.
type Dummy struct {
	writes []bool
	sync.Mutex
}

func New() *Dummy {
	return &Dummy{}
}

func (d *Dummy) Write(ctx context.Context, high bool) error {
	logrus.Info("dummy: Write: ", high)
	d.Lock()
	d.writes = append(d.writes, high)
	d.Unlock()
	return nil
}

func (d *Dummy) Writes() []bool {
	d.Lock()
	defer d.Unlock()
	return append([]bool(nil), d.writes...)
}

func (d *Dummy) Close() error {
	return nil
}
