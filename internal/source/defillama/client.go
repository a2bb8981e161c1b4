package defillama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wonny/settle/internal/source"
	"github.com/wonny/settle/pkg/httputil"
	"github.com/wonny/settle/pkg/logger"
)

// Client adapts the DefiLlama yields chart API to the gateway contract.
// The sourceID is a pool UUID; the observation value is the pool APY at
// the daily sample timestamp. The chart endpoint returns the full
// history in one response, so the range filter is applied client side.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	field      string
}

// NewClient creates a new DefiLlama yields client
func NewClient(httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log,
		field:      "apy",
	}
}

// WithField overrides the sampled value field (default apy).
// Known alternatives: apyBase, apyReward, tvlUsd.
func (c *Client) WithField(field string) *Client {
	c.field = field
	return c
}

// Name implements source.Provider
func (c *Client) Name() string { return "defillama" }

type chartResponse struct {
	Status string                   `json:"status"`
	Data   []map[string]interface{} `json:"data"`
}

// Fetch requests the pool chart and keeps samples in [startMillis, endMillis)
func (c *Client) Fetch(ctx context.Context, baseURL, sourceID string, startMillis, endMillis int64, pageLimit int) (source.Page, error) {
	fullURL := fmt.Sprintf("%s/chart/%s", baseURL, sourceID)

	resp, err := c.httpClient.Get(ctx, fullURL)
	if err != nil {
		return source.Page{}, source.MarkTransient(fmt.Errorf("chart request failed: %w", err))
	}
	defer resp.Body.Close()

	if httputil.IsRetryableStatus(resp.StatusCode) {
		return source.Page{}, source.Transientf("chart status %d from %s", resp.StatusCode, baseURL)
	}
	if resp.StatusCode != http.StatusOK {
		return source.Page{}, fmt.Errorf("chart status %d from %s", resp.StatusCode, baseURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return source.Page{}, source.MarkTransient(fmt.Errorf("read chart body failed: %w", err))
	}

	all, err := c.ParsePage(body)
	if err != nil {
		return source.Page{}, source.MarkTransient(err)
	}

	points := make([]source.RawPoint, 0, len(all))
	for _, p := range all {
		if p.SlotStartMillis < startMillis || p.SlotStartMillis >= endMillis {
			continue
		}
		points = append(points, p)
	}

	return source.Page{Points: points, Raw: body}, nil
}

// ParsePage implements source.PageParser over a chart payload. No
// range filter is applied here; the grid discards out-of-window
// samples.
func (c *Client) ParsePage(raw json.RawMessage) ([]source.RawPoint, error) {
	var chart chartResponse
	if err := json.Unmarshal(raw, &chart); err != nil {
		return nil, fmt.Errorf("parse chart body failed: %w", err)
	}
	if chart.Status != "" && chart.Status != "success" {
		return nil, fmt.Errorf("chart status field %q", chart.Status)
	}

	points := make([]source.RawPoint, 0, len(chart.Data))
	for _, sample := range chart.Data {
		ts, okT := sampleTimestamp(sample)
		val, okV := source.ToDecimal(sample[c.field])
		if !okT || !okV {
			c.logger.WithField("sample", sample).Warn("Discarding malformed chart sample")
			continue
		}
		points = append(points, source.RawPoint{SlotStartMillis: ts, Value: val})
	}
	return points, nil
}

// sampleTimestamp reads the sample instant from whichever field name
// this API version serves
func sampleTimestamp(sample map[string]interface{}) (int64, bool) {
	for _, key := range []string{"timestamp", "datetime", "time"} {
		if v, ok := sample[key]; ok {
			return ParseTimestamp(v)
		}
	}
	return 0, false
}

// ParseTimestamp coerces a chart timestamp to epoch milliseconds.
// The API has served RFC3339 strings, epoch seconds, and epoch millis
// across versions; all three are accepted.
func ParseTimestamp(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t.UnixMilli(), true
			}
		}
		if n, ok := source.ToMillis(val); ok {
			return normalizeEpoch(n), true
		}
		return 0, false
	default:
		n, ok := source.ToMillis(v)
		if !ok {
			return 0, false
		}
		return normalizeEpoch(n), true
	}
}

// normalizeEpoch promotes epoch seconds to milliseconds. Anything past
// year 2286 in seconds reads as millis already.
func normalizeEpoch(n int64) int64 {
	if n < 10_000_000_000 {
		return n * 1000
	}
	return n
}
