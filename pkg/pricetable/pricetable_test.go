package pricetable

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oslo(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	return loc
}

func prices(n int) []decimal.Decimal {
	p := make([]decimal.Decimal, n)
	for i := range p {
		p[i] = decimal.NewFromInt(int64(i))
	}
	return p
}

func TestDayBoundaries(t *testing.T) {
	loc := oslo(t)
	var tests = []struct {
		name   string
		day    string
		length time.Duration
	}{
		{name: "normal day", day: "2024-01-10", length: 24 * time.Hour},
		{name: "spring forward", day: "2024-03-31", length: 23 * time.Hour},
		{name: "fall back", day: "2024-10-27", length: 25 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDay(tt.day, loc)
			assert.NoError(t, err)
			assert.Equal(t, tt.length, d.Length())
			assert.Equal(t, 0, d.Start().In(loc).Hour())
			assert.Equal(t, tt.day, d.String())
			assert.True(t, d.Contains(d.Start()))
			assert.False(t, d.Contains(d.End()))
		})
	}
}

func TestDayOfIgnoresHostTimezone(t *testing.T) {
	loc := oslo(t)
	// 23:30 UTC on Jan 9 is already Jan 10 in Oslo.
	ts := time.Date(2024, 1, 9, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-10", DayOf(ts, loc).String())
	assert.Equal(t, "2024-01-09", DayOf(ts, time.UTC).String())
}

func TestDayNextPrev(t *testing.T) {
	d := NewDay(2024, 12, 31, time.UTC)
	assert.Equal(t, "2025-01-01", d.Next().String())
	assert.Equal(t, "2024-12-30", d.Prev().String())
	assert.True(t, d.Before(d.Next()))
	assert.True(t, d.Equal(d.Next().Prev()))
	assert.Equal(t, time.Tuesday, d.Weekday())
}

func TestFromPricesCoversDay(t *testing.T) {
	loc := oslo(t)
	var tests = []struct {
		name        string
		day         string
		granularity time.Duration
		count       int
		err         error
	}{
		{name: "hourly", day: "2024-01-10", granularity: time.Hour, count: 24},
		{name: "quarterly", day: "2024-01-10", granularity: 15 * time.Minute, count: 96},
		{name: "spring forward hourly", day: "2024-03-31", granularity: time.Hour, count: 23},
		{name: "fall back hourly", day: "2024-10-27", granularity: time.Hour, count: 25},
		{name: "missing hour", day: "2024-01-10", granularity: time.Hour, count: 23, err: ErrCoverage},
		{name: "extra hour", day: "2024-01-10", granularity: time.Hour, count: 25, err: ErrCoverage},
		{name: "empty", day: "2024-01-10", granularity: time.Hour, count: 0, err: ErrCoverage},
		{name: "odd granularity", day: "2024-01-10", granularity: 7 * time.Minute, count: 3, err: ErrInvalidTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDay(tt.day, loc)
			require.NoError(t, err)
			pt, err := FromPrices(d, tt.granularity, prices(tt.count))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.count, pt.Len())
			assert.Equal(t, int(d.Length()/time.Minute), pt.CapacityMinutes())
		})
	}
}

func TestNewRejectsUnsortedAndOverlapping(t *testing.T) {
	d := NewDay(2024, 1, 10, time.UTC)
	pt, err := FromPrices(d, time.Hour, prices(24))
	require.NoError(t, err)

	swapped := pt.Intervals()
	swapped[3], swapped[4] = swapped[4], swapped[3]
	_, err = New(d, time.Hour, swapped)
	assert.ErrorIs(t, err, ErrInvalidTable)

	wrongDuration := pt.Intervals()
	wrongDuration[5].Duration = 30 * time.Minute
	_, err = New(d, time.Hour, wrongDuration)
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestTableIsImmutable(t *testing.T) {
	d := NewDay(2024, 1, 10, time.UTC)
	in := make([]PriceInterval, 0, 24)
	for i := 0; i < 24; i++ {
		in = append(in, PriceInterval{Start: d.Start().Add(time.Duration(i) * time.Hour), Duration: time.Hour, Price: decimal.NewFromInt(1)})
	}
	pt, err := New(d, time.Hour, in)
	require.NoError(t, err)

	in[0].Price = decimal.NewFromInt(100)
	out := pt.Intervals()
	out[1].Price = decimal.NewFromInt(100)

	assert.True(t, pt.Intervals()[0].Price.Equal(decimal.NewFromInt(1)))
	assert.True(t, pt.Intervals()[1].Price.Equal(decimal.NewFromInt(1)))
}

func TestPriceAt(t *testing.T) {
	d := NewDay(2024, 1, 10, time.UTC)
	pt, err := FromPrices(d, time.Hour, prices(24))
	require.NoError(t, err)

	iv, ok := pt.PriceAt(d.Start().Add(2*time.Hour + 59*time.Minute))
	assert.True(t, ok)
	assert.True(t, iv.Price.Equal(decimal.NewFromInt(2)))

	iv, ok = pt.PriceAt(d.Start().Add(5 * time.Hour))
	assert.True(t, ok)
	assert.True(t, iv.Price.Equal(decimal.NewFromInt(5)))

	_, ok = pt.PriceAt(d.End())
	assert.False(t, ok)
	_, ok = pt.PriceAt(d.Start().Add(-time.Second))
	assert.False(t, ok)
}
