package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wonny/settle/internal/source"
	"github.com/wonny/settle/pkg/httputil"
	"github.com/wonny/settle/pkg/logger"
)

// Client adapts the Hyperliquid Info API to the gateway contract.
// The sourceID is either a resolved coin identifier such as "@107" or a
// spot pair name such as "HYPE/USDC"; pair names are resolved through
// the spot metadata universe before candles are requested.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	interval   string
}

// NewClient creates a new Hyperliquid Info API client
func NewClient(httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log,
		interval:   "1m",
	}
}

// WithInterval overrides the candle interval (default 1m)
func (c *Client) WithInterval(interval string) *Client {
	c.interval = interval
	return c
}

// Name implements source.Provider
func (c *Client) Name() string { return "hyperliquid" }

type candleRequest struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

type infoRequest struct {
	Type string         `json:"type"`
	Req  *candleRequest `json:"req,omitempty"`
}

// Fetch requests one page of candles for [startMillis, endMillis).
// The Info endpoint pages time-ranged responses itself (~500 items per
// page); pageLimit is not part of its contract.
func (c *Client) Fetch(ctx context.Context, baseURL, sourceID string, startMillis, endMillis int64, pageLimit int) (source.Page, error) {
	coin, err := c.resolveSourceID(ctx, baseURL, sourceID)
	if err != nil {
		return source.Page{}, err
	}

	body, err := c.postInfo(ctx, baseURL, infoRequest{
		Type: "candleSnapshot",
		Req: &candleRequest{
			Coin:      coin,
			Interval:  c.interval,
			StartTime: startMillis,
			EndTime:   endMillis,
		},
	})
	if err != nil {
		return source.Page{}, err
	}

	points, err := c.ParsePage(body)
	if err != nil {
		return source.Page{}, source.MarkTransient(err)
	}

	return source.Page{Points: points, Raw: body}, nil
}

// ParsePage implements source.PageParser over a candleSnapshot payload
func (c *Client) ParsePage(raw json.RawMessage) ([]source.RawPoint, error) {
	var candles []map[string]interface{}
	if err := json.Unmarshal(raw, &candles); err != nil {
		return nil, fmt.Errorf("parse candleSnapshot body failed: %w", err)
	}

	points := make([]source.RawPoint, 0, len(candles))
	for _, candle := range candles {
		// Only keep the requested interval; off-interval items are
		// dropped like any other malformed observation
		if iv, _ := candle["i"].(string); iv != c.interval {
			continue
		}
		t, okT := source.ToMillis(candle["t"])
		closeVal, okC := source.ToDecimal(candle["c"])
		if !okT || !okC {
			c.logger.WithField("candle", candle).Warn("Discarding malformed candle")
			continue
		}
		points = append(points, source.RawPoint{SlotStartMillis: t, Value: closeVal})
	}
	return points, nil
}

// FetchSeed implements source.SeedFetcher: the close of the candle
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

// resolveSourceID maps a spot pair name to its "@index" coin
// identifier. Already-resolved identifiers pass through untouched.
func (c *Client) resolveSourceID(ctx context.Context, baseURL, sourceID string) (string, error) {
	if !strings.Contains(sourceID, "/") {
		return sourceID, nil
	}
	return c.ResolveSpotPair(ctx, baseURL, sourceID)
}

type spotMeta struct {
	Tokens []struct {
		Name  string `json:"name"`
		Index int    `json:"index"`
	} `json:"tokens"`
	Universe []struct {
		Name   string `json:"name"`
		Tokens []int  `json:"tokens"`
		Index  int    `json:"index"`
	} `json:"universe"`
}

// ResolveSpotPair finds the "@index" coin identifier for a pair name
// such as "HYPE/USDC" by scanning the spot metadata universe. The
// linear scan is a provider quirk and stays inside this adapter.
func (c *Client) ResolveSpotPair(ctx context.Context, baseURL, pair string) (string, error) {
	body, err := c.postInfo(ctx, baseURL, infoRequest{Type: "spotMeta"})
	if err != nil {
		return "", err
	}

	var meta spotMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", source.MarkTransient(fmt.Errorf("parse spotMeta failed: %w", err))
	}

	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid pair name %q", pair)
	}

	baseIdx, baseOK := -1, false
	quoteIdx, quoteOK := -1, false
	for _, tok := range meta.Tokens {
		if tok.Name == parts[0] {
			baseIdx, baseOK = tok.Index, true
		}
		if tok.Name == parts[1] {
			quoteIdx, quoteOK = tok.Index, true
		}
	}

	if baseOK && quoteOK {
		for _, entry := range meta.Universe {
			if len(entry.Tokens) == 2 && entry.Tokens[0] == baseIdx && entry.Tokens[1] == quoteIdx {
				coin := fmt.Sprintf("@%d", entry.Index)
				c.logger.WithFields(map[string]interface{}{
					"pair": pair,
					"coin": coin,
				}).Debug("Resolved spot pair via token indices")
				return coin, nil
			}
		}
	}

	// Fallback: match by pair name when token indices are unavailable
	for _, entry := range meta.Universe {
		if entry.Name == pair {
			return fmt.Sprintf("@%d", entry.Index), nil
		}
	}

	return "", fmt.Errorf("spot pair %q not found in metadata universe", pair)
}

// postInfo posts one Info API request and classifies failures
func (c *Client) postInfo(ctx context.Context, baseURL string, req infoRequest) ([]byte, error) {
	resp, err := c.httpClient.PostJSON(ctx, baseURL+"/info", req)
	if err != nil {
		return nil, source.MarkTransient(fmt.Errorf("info request failed: %w", err))
	}
	defer resp.Body.Close()

	if httputil.IsRetryableStatus(resp.StatusCode) {
		return nil, source.Transientf("info status %d from %s", resp.StatusCode, baseURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("info status %d from %s", resp.StatusCode, baseURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, source.MarkTransient(fmt.Errorf("read info body failed: %w", err))
	}

	return body, nil
}
