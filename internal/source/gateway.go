package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/settle/pkg/config"
	"github.com/wonny/settle/pkg/logger"
)

// Gateway imposes the reliability policy on top of a Provider: retries
// with increasing backoff on one endpoint, rotation through the mirror
// list, and cursor pagination until the requested range is covered.
type Gateway struct {
	provider  Provider
	endpoints []string
	cfg       config.GatewayConfig
	logger    *logger.Logger
}

// FetchResult is the gateway's output for one range: every point in
// receipt order (unsorted, possibly overlapping), the unmodified raw
// pages for audit, and provenance of the endpoint that answered.
type FetchResult struct {
	Points   []RawPoint
	RawPages []json.RawMessage
	Endpoint string
	Requests int
	Pages    int
}

// NewGateway creates a gateway over an ordered endpoint list
// (primary first, mirrors after).
func NewGateway(provider Provider, endpoints []string, cfg config.GatewayConfig, log *logger.Logger) *Gateway {
	return &Gateway{
		provider:  provider,
		endpoints: endpoints,
		cfg:       cfg,
		logger:    log.WithField("provider", provider.Name()),
	}
}

// Provider returns the name of the wrapped provider
func (g *Gateway) Provider() string {
	return g.provider.Name()
}

// ParseRawPages re-parses archived raw pages through the provider's
// codec. Fails when the provider cannot parse offline pages.
func (g *Gateway) ParseRawPages(pages []json.RawMessage) ([]RawPoint, error) {
	parser, ok := g.provider.(PageParser)
	if !ok {
		return nil, fmt.Errorf("provider %s cannot re-parse archived pages", g.provider.Name())
	}

	var points []RawPoint
	for i, raw := range pages {
		parsed, err := parser.ParsePage(raw)
		if err != nil {
			return nil, fmt.Errorf("re-parse archived page %d failed: %w", i, err)
		}
		points = append(points, parsed...)
	}
	return points, nil
}

// FetchRange pages through [startMillis, endMillis) and concatenates
// every page in receipt order. No ordering is assumed from the source;
// downstream layers sort. Pagination stops when the cursor reaches the
// end, a page comes back empty, or the cursor fails to advance (treated
// as end-of-data, not an error).
func (g *Gateway) FetchRange(ctx context.Context, sourceID string, startMillis, endMillis, stepMillis int64) (*FetchResult, error) {
	result := &FetchResult{}
	cursor := startMillis

	for cursor < endMillis {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch cancelled at cursor %d: %w", cursor, err)
		}

		page, endpoint, err := g.fetchPage(ctx, sourceID, cursor, endMillis)
		if err != nil {
			return nil, err
		}

		result.Requests++
		result.Endpoint = endpoint

		if len(page.Points) == 0 {
			// No more data upstream
			break
		}

		result.Pages++
		result.Points = append(result.Points, page.Points...)
		if len(page.Raw) > 0 {
			result.RawPages = append(result.RawPages, page.Raw)
		}

		next := lastSlot(page.Points) + stepMillis
		if next <= cursor {
			// Defensive anti-stall guard: treat as end-of-data
			g.logger.WithFields(map[string]interface{}{
				"cursor": cursor,
				"next":   next,
			}).Warn("Pagination cursor failed to advance, stopping")
			break
		}
		cursor = next
	}

	g.logger.WithFields(map[string]interface{}{
		"source_id": sourceID,
		"points":    len(result.Points),
		"pages":     result.Pages,
		"requests":  result.Requests,
		"endpoint":  result.Endpoint,
	}).Debug("Range fetch complete")

	return result, nil
}

// FetchSeed retrieves the last known value preceding the window's first
// slot, for carry-forward into a missing leading gap. Absence of a seed
// is not an error; the gap filler decides whether it matters.
func (g *Gateway) FetchSeed(ctx context.Context, sourceID string, firstSlotMillis, stepMillis int64) (decimal.Decimal, bool) {
	sf, ok := g.provider.(SeedFetcher)
	if !ok {
		return decimal.Decimal{}, false
	}

	for _, endpoint := range g.endpoints {
		seed, found, err := sf.FetchSeed(ctx, endpoint, sourceID, firstSlotMillis, stepMillis)
		if err != nil {
			g.logger.WithError(err).WithField("endpoint", endpoint).Warn("Seed fetch failed")
			continue
		}
		if found {
			return seed, true
		}
	}
	return decimal.Decimal{}, false
}

// fetchPage requests one page, retrying transient failures on each
// endpoint before rotating to the next. Exhausting all endpoints
// surfaces ErrSourceUnavailable; fatal failures propagate immediately.
func (g *Gateway) fetchPage(ctx context.Context, sourceID string, cursor, endMillis int64) (Page, string, error) {
	var lastErr error

	for _, endpoint := range g.endpoints {
		delay := g.cfg.InitialBackoff

		for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
			page, err := g.provider.Fetch(ctx, endpoint, sourceID, cursor, endMillis, g.cfg.PageLimit)
			if err == nil {
				return page, endpoint, nil
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return Page{}, "", fmt.Errorf("fetch cancelled: %w", ctxErr)
			}

			if !IsTransient(err) {
				return Page{}, "", fmt.Errorf("fatal fetch error from %s: %w", endpoint, err)
			}

			lastErr = err
			g.logger.WithFields(map[string]interface{}{
				"endpoint": endpoint,
				"attempt":  attempt + 1,
				"error":    err.Error(),
			}).Warn("Transient fetch failure")

			if attempt == g.cfg.MaxRetries {
				break
			}

			select {
			case <-ctx.Done():
				return Page{}, "", fmt.Errorf("fetch cancelled during backoff: %w", ctx.Err())
			case <-time.After(delay):
			}

			delay *= 2
			if delay > g.cfg.MaxBackoff {
				delay = g.cfg.MaxBackoff
			}
		}

		g.logger.WithField("endpoint", endpoint).Warn("Endpoint exhausted, rotating to next candidate")
	}

	return Page{}, "", fmt.Errorf("%w: all %d endpoints exhausted for range starting %d: %v",
		ErrSourceUnavailable, len(g.endpoints), cursor, lastErr)
}

// lastSlot returns the greatest slot start in a page. Pages are not
// guaranteed to be ordered.
func lastSlot(points []RawPoint) int64 {
	last := points[0].SlotStartMillis
	for _, p := range points[1:] {
		if p.SlotStartMillis > last {
			last = p.SlotStartMillis
		}
	}
	return last
}
