package prices

import (
	"context"
	"time"

	"github.com/nergy-se/smartheater/pkg/pricetable"
	"github.com/sirupsen/logrus"
)

type Store interface {
	SavePriceTable(ctx context.Context, pt *pricetable.PriceTable) error
	LoadPriceTable(ctx context.Context, day pricetable.Day, granularity time.Duration) (*pricetable.PriceTable, error)
}

// Cached serves tables from store and only asks source for days it has not
// seen, so a reconcile after a restart derives the same plan as the first run.
type Cached struct {
	source      Source
	store       Store
	granularity time.Duration
}

func NewCached(source Source, store Store, granularity time.Duration) *Cached {
	return &Cached{
		source:      source,
		store:       store,
		granularity: granularity,
	}
}

func (c *Cached) PriceTable(ctx context.Context, day pricetable.Day) (*pricetable.PriceTable, error) {
	pt, err := c.store.LoadPriceTable(ctx, day, c.granularity)
	if err != nil {
		return nil, err
	}
	if pt != nil {
		logrus.WithFields(logrus.Fields{"day": day}).Debug("prices: using stored price table")
		return pt, nil
	}
	return c.Refresh(ctx, day)
}

// Refresh fetches day from the source and replaces the stored table. Used
// when prices were corrected after the first fetch.
func (c *Cached) Refresh(ctx context.Context, day pricetable.Day) (*pricetable.PriceTable, error) {
	pt, err := c.source.PriceTable(ctx, day)
	if err != nil {
		return nil, err
	}
	if err := c.store.SavePriceTable(ctx, pt); err != nil {
		return nil, err
	}
	return pt, nil
}
