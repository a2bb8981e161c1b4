package source

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// RawPoint is one upstream observation normalized to the gateway's
// shape: a slot-aligned start instant and an exact decimal value.
// Provider quirks (field naming, second-vs-millisecond epochs, string
// numbers) are resolved inside the adapter that produced it.
type RawPoint struct {
	SlotStartMillis int64
	Value           decimal.Decimal
}

// Page is one provider response: the parsed points plus the unmodified
// payload, kept so callers can persist the exact bytes consumed.
type Page struct {
	Points []RawPoint
	Raw    json.RawMessage
}

// Provider adapts one upstream quote API to the gateway contract.
// Fetch requests observations for the half-open range
// [startMillis, endMillis) from a single endpoint, one page at most.
// Transient failures (rate limiting, 5xx, connection errors, malformed
// bodies) must be marked with MarkTransient so the gateway's retry
// policy can discriminate them from fatal conditions.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, baseURL, sourceID string, startMillis, endMillis int64, pageLimit int) (Page, error)
}

// SeedFetcher is implemented by providers that can supply the last
// known value preceding a window, used to carry-forward into a missing
// first slot.
type SeedFetcher interface {
	FetchSeed(ctx context.Context, baseURL, sourceID string, firstSlotMillis, stepMillis int64) (decimal.Decimal, bool, error)
}

// PageParser is implemented by providers whose archived raw pages can
// be re-parsed without a network round trip, enabling the cached-raw
// fallback when every endpoint is down.
type PageParser interface {
	ParsePage(raw json.RawMessage) ([]RawPoint, error)
}
