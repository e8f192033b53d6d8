package optimizer

import (
	"fmt"
	"slices"
	"time"

	"github.com/nergy-se/smartheater/pkg/pricetable"
	"github.com/shopspring/decimal"
)

// InvalidTargetError is returned when the heating target cannot be met exactly
// with whole intervals of the day.
type InvalidTargetError struct {
	Day           pricetable.Day
	TargetMinutes int
	Granularity   int
	Capacity      int
	Reason        string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid heating target %d minutes for %s (granularity %d, capacity %d): %s",
		e.TargetMinutes, e.Day, e.Granularity, e.Capacity, e.Reason)
}

// Selection is the set of intervals chosen to be ON for one day, sorted by start.
type Selection struct {
	Day         pricetable.Day
	Granularity time.Duration
	Intervals   []pricetable.PriceInterval
}

func (s Selection) TotalDuration() time.Duration {
	return time.Duration(len(s.Intervals)) * s.Granularity
}

func (s Selection) TotalMinutes() int {
	return int(s.TotalDuration() / time.Minute)
}

func (s Selection) Empty() bool {
	return len(s.Intervals) == 0
}

// Cost is the sum of the selected interval prices.
func (s Selection) Cost() decimal.Decimal {
	sum := decimal.Zero
	for _, iv := range s.Intervals {
		sum = sum.Add(iv.Price)
	}
	return sum
}

func (s Selection) Average() decimal.Decimal {
	if len(s.Intervals) == 0 {
		return decimal.Zero
	}
	return s.Cost().Div(decimal.NewFromInt(int64(len(s.Intervals))))
}

// ValidateTarget checks that targetMinutes can be covered by whole intervals of pt.
func ValidateTarget(pt *pricetable.PriceTable, targetMinutes int) error {
	gran := pt.GranularityMinutes()
	capacity := pt.CapacityMinutes()
	invalid := func(reason string) error {
		return &InvalidTargetError{
			Day:           pt.Day(),
			TargetMinutes: targetMinutes,
			Granularity:   gran,
			Capacity:      capacity,
			Reason:        reason,
		}
	}
	switch {
	case targetMinutes < 0:
		return invalid("target is negative")
	case targetMinutes%gran != 0:
		return invalid("target is not a multiple of the interval granularity")
	case targetMinutes > capacity:
		return invalid("target exceeds the day's capacity")
	}
	return nil
}

// Select picks the cheapest intervals whose total duration is exactly
// targetMinutes. Equal prices are broken by earliest start so identical input
// always yields the identical selection.
//
// All intervals share one length, so taking the n cheapest is optimal.
func Select(pt *pricetable.PriceTable, targetMinutes int) (Selection, error) {
	if err := pt.Validate(); err != nil {
		return Selection{}, err
	}
	if err := ValidateTarget(pt, targetMinutes); err != nil {
		return Selection{}, err
	}

	sel := Selection{
		Day:         pt.Day(),
		Granularity: pt.Granularity(),
	}
	n := targetMinutes / pt.GranularityMinutes()
	if n == 0 {
		return sel, nil
	}

	byPrice := pt.Intervals()
	slices.SortStableFunc(byPrice, func(a, b pricetable.PriceInterval) int {
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c
		}
		return a.Start.Compare(b.Start)
	})

	chosen := byPrice[:n]
	slices.SortFunc(chosen, func(a, b pricetable.PriceInterval) int {
		return a.Start.Compare(b.Start)
	})
	sel.Intervals = slices.Clone(chosen)
	return sel, nil
}
