package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/nergy-se/smartheater/pkg/pricetable"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultURL = "https://www.nordpoolgroup.com/api/marketdata/page/10?currency=,,,EUR&endDate={date}"

	rowTimeLayout = "2006-01-02T15:04:05"
	urlDateLayout = "02-01-2006"
)

// Regions lists the market areas the price page reports.
var Regions = []string{
	"SYS", "SE1", "SE2", "SE3", "SE4", "FI", "DK1", "DK2", "OSLO", "KR.SAND",
	"BERGEN", "MOLDE", "TR.HEIM", "TROMSE", "EE", "LV", "LT", "AT", "BE",
	"DE-LU", "FR", "NL",
}

func ValidRegion(region string) bool {
	return slices.Contains(Regions, strings.ToUpper(region))
}

var httpClient = &http.Client{
	Timeout: time.Second * 30,
}

type Source interface {
	PriceTable(ctx context.Context, day pricetable.Day) (*pricetable.PriceTable, error)
}

type column struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type row struct {
	StartTime  string   `json:"StartTime"`
	IsExtraRow bool     `json:"IsExtraRow"`
	Columns    []column `json:"Columns"`
}

type response struct {
	Data struct {
		Rows []row `json:"Rows"`
	} `json:"data"`
}

type Nordpool struct {
	url         string
	region      string
	granularity time.Duration
	client      *http.Client
}

// NewNordpool returns a source reading region from the price page at url. A
// {date} placeholder in url is replaced with the requested day.
func NewNordpool(url, region string, granularity time.Duration) (*Nordpool, error) {
	if !ValidRegion(region) {
		return nil, fmt.Errorf("unknown region %q", region)
	}
	if url == "" {
		url = DefaultURL
	}
	return &Nordpool{
		url:         url,
		region:      strings.ToUpper(region),
		granularity: granularity,
		client:      httpClient,
	}, nil
}

func (n *Nordpool) PriceTable(ctx context.Context, day pricetable.Day) (*pricetable.PriceTable, error) {
	u := strings.ReplaceAll(n.url, "{date}", day.Start().Format(urlDateLayout))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("error fetching prices StatusCode: %d", resp.StatusCode)
	}

	response := &response{}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return nil, fmt.Errorf("error decoding prices: %w", err)
	}

	pt, err := n.parse(day, response.Data.Rows)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"day": day, "region": n.region, "intervals": pt.Len()}).Info("prices: fetched price table")
	return pt, nil
}

// parse maps rows onto day. Row start times are wall clock times in the
// market timezone, which repeat on the autumn DST change, so each row is
// matched against the expected position instead of being parsed on its own.
func (n *Nordpool) parse(day pricetable.Day, rows []row) (*pricetable.PriceTable, error) {
	var intervals []pricetable.PriceInterval
	expected := day.Start()
	for _, r := range rows {
		if r.IsExtraRow {
			continue
		}
		value, ok := n.value(r)
		if !ok {
			continue
		}
		wall := expected.In(day.Location).Format(rowTimeLayout)
		if r.StartTime != wall {
			return nil, fmt.Errorf("%w: row starts at %s, expected %s", pricetable.ErrCoverage, r.StartTime, wall)
		}
		price, err := parsePrice(value)
		if err != nil {
			return nil, fmt.Errorf("%w: price at %s: %s", pricetable.ErrInvalidTable, r.StartTime, err)
		}
		intervals = append(intervals, pricetable.PriceInterval{
			Start:    expected,
			Duration: n.granularity,
			Price:    price,
		})
		expected = expected.Add(n.granularity)
	}
	return pricetable.New(day, n.granularity, intervals)
}

func (n *Nordpool) value(r row) (string, bool) {
	for _, c := range r.Columns {
		if c.Name == n.region {
			return c.Value, true
		}
	}
	return "", false
}

// parsePrice reads numbers like "1 234,56".
func parsePrice(s string) (decimal.Decimal, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	return decimal.NewFromString(s)
}
