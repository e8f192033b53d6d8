package pricetable

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTable = errors.New("invalid price table")
	ErrCoverage     = errors.New("price table does not cover the day")
)

type PriceInterval struct {
	Start    time.Time       `json:"start"`
	Duration time.Duration   `json:"duration"`
	Price    decimal.Decimal `json:"price"`
}

func (p PriceInterval) End() time.Time {
	return p.Start.Add(p.Duration)
}

// PriceTable holds the prices for one Day. It is immutable after New.
type PriceTable struct {
	day         Day
	granularity time.Duration
	intervals   []PriceInterval
}

// New validates intervals and returns a table owning a copy of them.
func New(day Day, granularity time.Duration, intervals []PriceInterval) (*PriceTable, error) {
	pt := &PriceTable{
		day:         day,
		granularity: granularity,
		intervals:   slices.Clone(intervals),
	}
	if err := pt.Validate(); err != nil {
		return nil, err
	}
	return pt, nil
}

// FromPrices builds a table from consecutive prices starting at day start.
func FromPrices(day Day, granularity time.Duration, prices []decimal.Decimal) (*PriceTable, error) {
	intervals := make([]PriceInterval, 0, len(prices))
	start := day.Start()
	for i, p := range prices {
		intervals = append(intervals, PriceInterval{
			Start:    start.Add(time.Duration(i) * granularity),
			Duration: granularity,
			Price:    p,
		})
	}
	return New(day, granularity, intervals)
}

func (pt *PriceTable) Day() Day                   { return pt.day }
func (pt *PriceTable) Granularity() time.Duration { return pt.granularity }
func (pt *PriceTable) Len() int                   { return len(pt.intervals) }

// Intervals returns a copy of the intervals sorted by start.
func (pt *PriceTable) Intervals() []PriceInterval {
	return slices.Clone(pt.intervals)
}

// CapacityMinutes is the total number of minutes covered by the table.
func (pt *PriceTable) CapacityMinutes() int {
	return len(pt.intervals) * int(pt.granularity/time.Minute)
}

func (pt *PriceTable) GranularityMinutes() int {
	return int(pt.granularity / time.Minute)
}

func (pt *PriceTable) Validate() error {
	if pt.granularity <= 0 || pt.granularity%time.Minute != 0 {
		return fmt.Errorf("%w: granularity %s must be a positive number of whole minutes", ErrInvalidTable, pt.granularity)
	}
	if (24*time.Hour)%pt.granularity != 0 {
		return fmt.Errorf("%w: granularity %s does not divide a day", ErrInvalidTable, pt.granularity)
	}
	if len(pt.intervals) == 0 {
		return fmt.Errorf("%w: no intervals for %s", ErrCoverage, pt.day)
	}

	for i, iv := range pt.intervals {
		if iv.Duration != pt.granularity {
			return fmt.Errorf("%w: interval %d has duration %s, expected %s", ErrInvalidTable, i, iv.Duration, pt.granularity)
		}
		if i > 0 && iv.Start.Before(pt.intervals[i-1].End()) {
			return fmt.Errorf("%w: interval %d at %s overlaps or is out of order", ErrInvalidTable, i, iv.Start.Format(time.RFC3339))
		}
	}

	expected := pt.day.Start()
	for i, iv := range pt.intervals {
		if !iv.Start.Equal(expected) {
			return fmt.Errorf("%w: expected interval %d to start at %s, got %s", ErrCoverage, i, expected.Format(time.RFC3339), iv.Start.Format(time.RFC3339))
		}
		expected = iv.End()
	}
	if !expected.Equal(pt.day.End()) {
		return fmt.Errorf("%w: intervals end at %s, day ends at %s", ErrCoverage, expected.Format(time.RFC3339), pt.day.End().Format(time.RFC3339))
	}
	return nil
}

// PriceAt returns the interval containing t.
func (pt *PriceTable) PriceAt(t time.Time) (PriceInterval, bool) {
	idx, found := slices.BinarySearchFunc(pt.intervals, t, func(iv PriceInterval, t time.Time) int {
		return iv.Start.Compare(t)
	})
	if found {
		return pt.intervals[idx], true
	}
	if idx == 0 {
		return PriceInterval{}, false
	}
	iv := pt.intervals[idx-1]
	if t.Before(iv.End()) {
		return iv, true
	}
	return PriceInterval{}, false
}
