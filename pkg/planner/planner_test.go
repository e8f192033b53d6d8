package planner

import (
	"math/rand"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/nergy-se/smartheater/pkg/optimizer"
	"github.com/nergy-se/smartheater/pkg/pricetable"
	"github.com/nergy-se/smartheater/pkg/state"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selection(t *testing.T, day pricetable.Day, prices []int64, target int) optimizer.Selection {
	dp := make([]decimal.Decimal, len(prices))
	for i, p := range prices {
		dp[i] = decimal.NewFromInt(p)
	}
	pt, err := pricetable.FromPrices(day, time.Hour, dp)
	require.NoError(t, err)
	sel, err := optimizer.Select(pt, target)
	require.NoError(t, err)
	return sel
}

func flat(n int, v int64) []int64 {
	p := make([]int64, n)
	for i := range p {
		p[i] = v
	}
	return p
}

func TestPlanMorningAndEvening(t *testing.T) {
	day := pricetable.NewDay(2024, 1, 10, time.UTC)
	p := flat(24, 5)
	p[2], p[3] = 1, 1

	events, err := Plan(selection(t, day, p, 120), Options{})
	assert.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, state.On, events[0].State)
	assert.Equal(t, day.Start().Add(2*time.Hour), events[0].At)
	assert.Equal(t, state.Off, events[1].State)
	assert.Equal(t, day.Start().Add(4*time.Hour), events[1].At)
	assert.Equal(t, JobKey("2024-01-10/20240110T0200Z/ON"), events[0].Key)
	assert.Equal(t, JobKey("2024-01-10/20240110T0400Z/OFF"), events[1].Key)
	assert.Equal(t, "2024-01-10", events[0].Key.Day())
}

func TestPlanEmpty(t *testing.T) {
	day := pricetable.NewDay(2024, 1, 10, time.UTC)
	events, err := Plan(selection(t, day, flat(24, 1), 0), Options{})
	assert.NoError(t, err)
	assert.Empty(t, events)

	events, err = Plan(selection(t, day, flat(24, 1), 0), Options{PreviousEndsOn: true})
	assert.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, state.Off, events[0].State)
	assert.Equal(t, day.Start(), events[0].At)
	assert.Equal(t, KindSafeguard, events[0].Kind)
}

func TestPlanSafeguardWithSpans(t *testing.T) {
	day := pricetable.NewDay(2024, 1, 10, time.UTC)
	p := flat(24, 5)
	p[5] = 1
	events, err := Plan(selection(t, day, p, 60), Options{PreviousEndsOn: true})
	assert.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, KindSafeguard, events[0].Kind)
	assert.Equal(t, day.Start(), events[0].At)
	assert.Equal(t, state.On, events[1].State)
	assert.False(t, EndsAtMidnight(events, day))

	// heater keeps running through midnight, no safeguard needed
	p[0] = 0
	events, err = Plan(selection(t, day, p, 60), Options{PreviousEndsOn: true})
	assert.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, state.On, events[0].State)
	assert.Equal(t, day.Start(), events[0].At)
}

func TestPlanFullDay(t *testing.T) {
	day := pricetable.NewDay(2024, 1, 10, time.UTC)
	events, err := Plan(selection(t, day, flat(24, 1), 24*60), Options{})
	assert.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, day.Start(), events[0].At)
	assert.Equal(t, day.Next().Start(), events[1].At)
	assert.True(t, EndsAtMidnight(events, day))
}

func TestPlanMergesAcrossFallBack(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	day := pricetable.NewDay(2024, 10, 27, loc)
	p := flat(25, 9)
	// 01:00 CEST, 02:00 CEST, 02:00 CET
	p[1], p[2], p[3] = 1, 1, 1

	events, err := Plan(selection(t, day, p, 180), Options{})
	assert.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 3*time.Hour, events[1].At.Sub(events[0].At))
	assert.Equal(t, "01:00", events[0].At.In(loc).Format("15:04"))
	assert.Equal(t, "03:00", events[1].At.In(loc).Format("15:04"))
}

func TestPlanAlternates(t *testing.T) {
	day := pricetable.NewDay(2024, 1, 10, time.UTC)
	rnd := rand.New(rand.NewSource(7))
	for round := 0; round < 100; round++ {
		p := make([]int64, 24)
		for i := range p {
			p[i] = rnd.Int63n(10)
		}
		target := rnd.Intn(25) * 60
		sel := selection(t, day, p, target)
		events, err := Plan(sel, Options{})
		require.NoError(t, err)

		var on time.Duration
		for i, e := range events {
			if i%2 == 0 {
				assert.Equal(t, state.On, e.State)
			} else {
				assert.Equal(t, state.Off, e.State)
				on += e.At.Sub(events[i-1].At)
			}
			if i > 0 {
				assert.True(t, e.At.After(events[i-1].At))
			}
		}
		assert.Equal(t, sel.TotalDuration(), on)

		again, err := Plan(sel, Options{})
		require.NoError(t, err)
		assert.Equal(t, events, again)
	}
}

func TestStateAt(t *testing.T) {
	day := pricetable.NewDay(2024, 1, 10, time.UTC)
	p := flat(24, 5)
	p[2], p[3] = 1, 1
	events, err := Plan(selection(t, day, p, 120), Options{})
	require.NoError(t, err)

	assert.Equal(t, state.Off, StateAt(events, day.Start().Add(time.Hour), state.Off))
	assert.Equal(t, state.On, StateAt(events, day.Start().Add(time.Hour), state.On))
	assert.Equal(t, state.On, StateAt(events, day.Start().Add(2*time.Hour), state.Off))
	assert.Equal(t, state.On, StateAt(events, day.Start().Add(3*time.Hour+59*time.Minute), state.Off))
	assert.Equal(t, state.Off, StateAt(events, day.Start().Add(4*time.Hour), state.Off))
}

func TestAssertEventKey(t *testing.T) {
	day := pricetable.NewDay(2024, 1, 10, time.UTC)
	at := day.Start().Add(10*time.Hour + 7*time.Minute + 30*time.Second)
	e := AssertEvent(day, at, state.On)
	assert.Equal(t, JobKey("2024-01-10/assert-20240110T1007Z/ON"), e.Key)
	assert.Equal(t, KindAssert, e.Kind)
	assert.NotEqual(t, NewJobKey(day, e.At, state.On), e.Key)
	assert.True(t, e.Key.IsAssert())
	assert.False(t, NewJobKey(day, e.At, state.On).IsAssert())
	assert.Equal(t, "2024-01-10", e.Key.Day())
}

func TestTable(t *testing.T) {
	day := pricetable.NewDay(2024, 1, 10, time.UTC)
	events := []ToggleEvent{NewEvent(day, day.Start().Add(2*time.Hour), state.On, KindSpan)}
	rows := Table(events, time.UTC, time.UTC)
	require.Len(t, rows, 4)
	assert.Contains(t, rows[2], "ON")
	assert.Contains(t, rows[2], "02:00:00 10/01/24")
}
