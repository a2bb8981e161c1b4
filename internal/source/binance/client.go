package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/wonny/settle/internal/source"
	"github.com/wonny/settle/pkg/httputil"
	"github.com/wonny/settle/pkg/logger"
)

// Client adapts the Binance spot klines API to the gateway contract.
// The sourceID is a trading symbol such as BTCUSDT; the observation
// value is the kline close price.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	interval   string
}

// NewClient creates a new Binance klines client
func NewClient(httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log,
		interval:   "1m",
	}
}

// WithInterval overrides the kline interval (default 1m)
func (c *Client) WithInterval(interval string) *Client {
	c.interval = interval
	return c
}

// Name implements source.Provider
func (c *Client) Name() string { return "binance" }

// Fetch requests one page of klines for [startMillis, endMillis).
// Binance treats endTime as inclusive, so the open range is mapped to
// endTime = endMillis-1.
func (c *Client) Fetch(ctx context.Context, baseURL, sourceID string, startMillis, endMillis int64, pageLimit int) (source.Page, error) {
	params := url.Values{}
	params.Set("symbol", sourceID)
	params.Set("interval", c.interval)
	params.Set("startTime", strconv.FormatInt(startMillis, 10))
	params.Set("endTime", strconv.FormatInt(endMillis-1, 10))
	params.Set("limit", strconv.Itoa(pageLimit))

	fullURL := fmt.Sprintf("%s/api/v3/klines?%s", baseURL, params.Encode())

	resp, err := c.httpClient.Get(ctx, fullURL)
	if err != nil {
		return source.Page{}, source.MarkTransient(fmt.Errorf("klines request failed: %w", err))
	}
	defer resp.Body.Close()

	if httputil.IsRetryableStatus(resp.StatusCode) {
		return source.Page{}, source.Transientf("klines status %d from %s", resp.StatusCode, baseURL)
	}
	if resp.StatusCode != http.StatusOK {
		return source.Page{}, fmt.Errorf("klines status %d from %s", resp.StatusCode, baseURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return source.Page{}, source.MarkTransient(fmt.Errorf("read klines body failed: %w", err))
	}

	points, err := c.ParsePage(body)
	if err != nil {
		return source.Page{}, source.MarkTransient(err)
	}

	return source.Page{Points: points, Raw: body}, nil
}

// ParsePage implements source.PageParser over a klines payload
func (c *Client) ParsePage(raw json.RawMessage) ([]source.RawPoint, error) {
	var rawKlines [][]interface{}
	if err := json.Unmarshal(raw, &rawKlines); err != nil {
		return nil, fmt.Errorf("parse klines body failed: %w", err)
	}

	points := make([]source.RawPoint, 0, len(rawKlines))
	for _, k := range rawKlines {
		p, ok := parseKline(k)
		if !ok {
			// Malformed observations are dropped, never fatal
			c.logger.WithField("kline", k).Warn("Discarding malformed kline")
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// FetchSeed implements source.SeedFetcher: the close of the kline
// immediately preceding the window's first slot.
func (c *Client) FetchSeed(ctx context.Context, baseURL, sourceID string, firstSlotMillis, stepMillis int64) (decimal.Decimal, bool, error) {
	page, err := c.Fetch(ctx, baseURL, sourceID, firstSlotMillis-stepMillis, firstSlotMillis, 1)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	if len(page.Points) == 0 {
		return decimal.Decimal{}, false, nil
	}
	return page.Points[len(page.Points)-1].Value, true, nil
}

// parseKline extracts {openTime, close} from one kline array.
// Layout: [openTime, open, high, low, close, volume, ...]
func parseKline(k []interface{}) (source.RawPoint, bool) {
	if len(k) < 5 {
		return source.RawPoint{}, false
	}

	openTime, ok := source.ToMillis(k[0])
	if !ok {
		return source.RawPoint{}, false
	}

	closeVal, ok := source.ToDecimal(k[4])
	if !ok {
		return source.RawPoint{}, false
	}

	return source.RawPoint{SlotStartMillis: openTime, Value: closeVal}, true
}
