package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/nergy-se/smartheater/pkg/api/v1/config"
	"github.com/nergy-se/smartheater/pkg/ledger"
	"github.com/nergy-se/smartheater/pkg/optimizer"
	"github.com/nergy-se/smartheater/pkg/pricetable"
	"github.com/nergy-se/smartheater/pkg/switchdriver"
	"github.com/nergy-se/smartheater/pkg/switchdriver/dummy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource makes the given hours of every day the cheapest ones.
type fakeSource struct {
	cheap []int
	calls int
}

func (f *fakeSource) PriceTable(ctx context.Context, day pricetable.Day) (*pricetable.PriceTable, error) {
	f.calls++
	n := int(day.Length() / time.Hour)
	prices := make([]decimal.Decimal, n)
	for i := range prices {
		prices[i] = decimal.NewFromInt(int64(100 + i))
	}
	for _, h := range f.cheap {
		prices[h] = decimal.NewFromInt(int64(h))
	}
	return pricetable.FromPrices(day, time.Hour, prices)
}

func testConfig(t *testing.T, minutes int) *config.Config {
	c := &config.Config{
		HeatingSchedule: config.HeatingSchedule{
			Monday: minutes, Tuesday: minutes, Wednesday: minutes, Thursday: minutes,
			Friday: minutes, Saturday: minutes, Sunday: minutes,
		},
		Market:    config.Market{Timezone: "Europe/Stockholm", Granularity: 60, RegionCode: "SE3"},
		Scheduler: config.Scheduler{Backend: "inprocess", Retries: 1, Timeout: "1s"},
		Hardware:  config.Hardware{Driver: "dummy"},
		Ledger:    config.Ledger{Path: filepath.Join(t.TempDir(), "state", "ledger.db"), RetentionDays: 14},
		Daemon:    config.Daemon{FetchTime: "00:00"},
	}
	require.NoError(t, c.Validate())
	return c
}

func setup(t *testing.T, c *config.Config, src *fakeSource) *App {
	out := dummy.New()
	a := New(c, WithSource(src), WithSwitch(switchdriver.New(out, false)))
	require.NoError(t, a.Open(context.Background()))
	t.Cleanup(func() { a.Close() })
	return a
}

func tomorrow(c *config.Config) pricetable.Day {
	return pricetable.DayOf(time.Now(), c.Location()).Next()
}

func TestPlan(t *testing.T) {
	c := testConfig(t, 120)
	src := &fakeSource{cheap: []int{2, 3}}
	a := setup(t, c, src)
	ctx := context.Background()
	day := tomorrow(c)

	res, err := a.Plan(ctx, day)
	require.NoError(t, err)
	require.Len(t, res.Submitted, 2)
	assert.Equal(t, day.Start().Add(2*time.Hour), mustJob(t, a, res.Submitted[0].String()).At)

	res, err = a.Plan(ctx, day)
	require.NoError(t, err)
	assert.Empty(t, res.Submitted)
	assert.Len(t, res.Skipped, 2)
	assert.Equal(t, 1, src.calls, "prices are read from the ledger the second time")

	report, err := a.Status(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledger.DayOK, report.Status)
	assert.Len(t, report.Jobs, 2)
}

func mustJob(t *testing.T, a *App, key string) *ledger.Job {
	j, err := a.ledger.Get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, j)
	return j
}

func TestPlanInvalidTarget(t *testing.T) {
	c := testConfig(t, 120)
	c.HeatingSchedule = config.HeatingSchedule{Monday: 90, Tuesday: 90, Wednesday: 90, Thursday: 90, Friday: 90, Saturday: 90, Sunday: 90}
	a := setup(t, c, &fakeSource{})

	_, err := a.Plan(context.Background(), tomorrow(c))
	var target *optimizer.InvalidTargetError
	assert.True(t, errors.As(err, &target))
}

func TestReplan(t *testing.T) {
	c := testConfig(t, 120)
	src := &fakeSource{cheap: []int{2, 3}}
	a := setup(t, c, src)
	ctx := context.Background()
	day := tomorrow(c)

	_, err := a.Plan(ctx, day)
	require.NoError(t, err)

	src.cheap = []int{5, 6}
	res, err := a.Replan(ctx, day)
	require.NoError(t, err)
	assert.Len(t, res.Submitted, 2)
	assert.Len(t, res.Cancelled, 2)
	assert.Equal(t, 2, src.calls)

	pending, err := a.backend.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	for k := range pending {
		assert.Contains(t, res.Submitted, k)
	}
}

func TestReconcile(t *testing.T) {
	c := testConfig(t, 60)
	src := &fakeSource{cheap: []int{10}}
	a := setup(t, c, src)
	ctx := context.Background()
	day := tomorrow(c)

	res, err := a.Plan(ctx, day)
	require.NoError(t, err)
	for _, k := range res.Submitted {
		require.NoError(t, a.backend.CancelJob(ctx, k))
	}

	res, err = a.Reconcile(ctx, day)
	require.NoError(t, err)
	assert.Len(t, res.Submitted, 2)
}

func TestRecover(t *testing.T) {
	c := testConfig(t, 60)
	a := setup(t, c, &fakeSource{cheap: []int{0}})
	ctx := context.Background()

	a.recover(ctx)

	today := pricetable.DayOf(time.Now(), c.Location())
	rec, err := a.ledger.Day(ctx, today.String())
	require.NoError(t, err)
	require.NotNil(t, rec)

	// fetch time 00:00 has always passed
	rec, err = a.ledger.Day(ctx, today.Next().String())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.DayOK, rec.Status)
}

func TestPrune(t *testing.T) {
	c := testConfig(t, 60)
	a := setup(t, c, &fakeSource{cheap: []int{0}})
	ctx := context.Background()

	old := pricetable.DayOf(time.Now().AddDate(0, 0, -30), c.Location())
	require.NoError(t, a.ledger.MarkDay(ctx, old.String(), ledger.DayDegraded, "x"))
	require.NoError(t, a.Prune(ctx))

	rec, err := a.ledger.Day(ctx, old.String())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestOpenUnknownBackend(t *testing.T) {
	c := testConfig(t, 60)
	c.Scheduler.Backend = "cron"
	a := New(c, WithSource(&fakeSource{}))
	defer a.Close()
	assert.Error(t, a.Open(context.Background()))
}
