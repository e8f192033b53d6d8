package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nergy-se/smartheater/pkg/pricetable"
)

// SavePriceTable stores pt so a later run for the same day can skip the fetch.
func (l *Ledger) SavePriceTable(ctx context.Context, pt *pricetable.PriceTable) error {
	data, err := json.Marshal(pt.Intervals())
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
	INSERT INTO price_tables (day, granularity_minutes, intervals, updated_unix) VALUES (?, ?, ?, ?)
	ON CONFLICT(day) DO UPDATE SET
		granularity_minutes = excluded.granularity_minutes,
		intervals = excluded.intervals,
		updated_unix = excluded.updated_unix`,
		pt.Day().String(), pt.GranularityMinutes(), string(data), l.now().Unix())
	if err != nil {
		return fmt.Errorf("error saving price table %s: %w", pt.Day(), err)
	}
	return nil
}

// LoadPriceTable returns the stored table for day or nil if there is none.
// Tables stored with a different granularity are ignored.
func (l *Ledger) LoadPriceTable(ctx context.Context, day pricetable.Day, granularity time.Duration) (*pricetable.PriceTable, error) {
	var row struct {
		Granularity int    `db:"granularity_minutes"`
		Intervals   string `db:"intervals"`
	}
	err := l.db.GetContext(ctx, &row, `SELECT granularity_minutes, intervals FROM price_tables WHERE day = ?`, day.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading price table %s: %w", day, err)
	}
	if time.Duration(row.Granularity)*time.Minute != granularity {
		return nil, nil
	}

	var intervals []pricetable.PriceInterval
	if err := json.Unmarshal([]byte(row.Intervals), &intervals); err != nil {
		return nil, fmt.Errorf("error decoding price table %s: %w", day, err)
	}
	return pricetable.New(day, granularity, intervals)
}
