package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/nergy-se/smartheater/pkg/optimizer"
	"github.com/nergy-se/smartheater/pkg/pricetable"
	"github.com/nergy-se/smartheater/pkg/state"
)

type Options struct {
	// PreviousEndsOn is set when the previous day left the heater on until
	// midnight. Unless the first span starts at midnight an OFF safeguard is
	// emitted at day start, so this day owns the midnight transition.
	PreviousEndsOn bool
}

type span struct {
	start, end time.Time
}

// Plan turns a selection into alternating ON/OFF events in chronological
// order. Adjacent intervals are merged into one span so the relay is not
// flapped at interval boundaries.
func Plan(sel optimizer.Selection, opts Options) ([]ToggleEvent, error) {
	var spans []span
	for i, iv := range sel.Intervals {
		if i > 0 && !iv.Start.After(sel.Intervals[i-1].Start) {
			return nil, fmt.Errorf("selection for %s is not sorted at interval %d", sel.Day, i)
		}
		if n := len(spans); n > 0 && spans[n-1].end.Equal(iv.Start) {
			spans[n-1].end = iv.End()
			continue
		}
		spans = append(spans, span{start: iv.Start, end: iv.End()})
	}

	events := make([]ToggleEvent, 0, len(spans)*2+1)
	if opts.PreviousEndsOn && (len(spans) == 0 || !spans[0].start.Equal(sel.Day.Start())) {
		events = append(events, NewEvent(sel.Day, sel.Day.Start(), state.Off, KindSafeguard))
	}
	for _, sp := range spans {
		events = append(events,
			NewEvent(sel.Day, sp.start, state.On, KindSpan),
			NewEvent(sel.Day, sp.end, state.Off, KindSpan),
		)
	}
	return events, nil
}

// StateAt returns the intended state at t according to events. Before the
// first event the state is fallback.
func StateAt(events []ToggleEvent, t time.Time, fallback state.State) state.State {
	s := fallback
	for _, e := range events {
		if e.At.After(t) {
			break
		}
		s = e.State
	}
	return s
}

// EndsAtMidnight reports whether the heater is on until the end of day, i.e.
// the last event is the OFF at the following midnight.
func EndsAtMidnight(events []ToggleEvent, day pricetable.Day) bool {
	if len(events) == 0 {
		return false
	}
	last := events[len(events)-1]
	return last.State == state.Off && last.At.Equal(day.End())
}

// Table renders events with market, UTC and system time columns for logging.
func Table(events []ToggleEvent, market, system *time.Location) []string {
	const layout = "15:04:05 02/01/06"
	sep := strings.Repeat("-", 69)
	rows := []string{
		sep,
		"| EVENT |    MARKET TIME    |     UTC TIME      |    SYSTEM TIME    |",
	}
	for _, e := range events {
		rows = append(rows, fmt.Sprintf("|  %-3s  | %s | %s | %s |",
			e.State,
			e.At.In(market).Format(layout),
			e.At.UTC().Format(layout),
			e.At.In(system).Format(layout),
		))
	}
	return append(rows, sep)
}
