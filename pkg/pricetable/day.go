package pricetable

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a calendar day anchored to a timezone. It is converted to absolute
// time only through Start and End.
type Day struct {
	Year     int
	Month    time.Month
	Day      int
	Location *time.Location
}

func NewDay(year int, month time.Month, day int, loc *time.Location) Day {
	// normalise overflowing dates like 2024-01-32
	t := time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
	return Day{Year: t.Year(), Month: t.Month(), Day: t.Day(), Location: loc}
}

// DayOf returns the day in loc that contains t.
func DayOf(t time.Time, loc *time.Location) Day {
	lt := t.In(loc)
	return Day{Year: lt.Year(), Month: lt.Month(), Day: lt.Day(), Location: loc}
}

func ParseDay(s string, loc *time.Location) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("error parsing day %q: %w", s, err)
	}
	return NewDay(t.Year(), t.Month(), t.Day(), loc), nil
}

func (d Day) loc() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}

// Start is wall clock midnight in the day's timezone.
func (d Day) Start() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, d.loc())
}

// End is the start of the following day.
func (d Day) End() time.Time {
	return d.Next().Start()
}

// Length is 24h except on DST transition days.
func (d Day) Length() time.Duration {
	return d.End().Sub(d.Start())
}

func (d Day) Next() Day {
	return NewDay(d.Year, d.Month, d.Day+1, d.Location)
}

func (d Day) Prev() Day {
	return NewDay(d.Year, d.Month, d.Day-1, d.Location)
}

func (d Day) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

// Contains reports whether t is within [Start, End).
func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start()) && t.Before(d.End())
}

func (d Day) Before(o Day) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Day) Equal(o Day) bool {
	return d.Year == o.Year && d.Month == o.Month && d.Day == o.Day
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}
