package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/settle/pkg/config"
	"github.com/wonny/settle/pkg/logger"
)

const stepMs = int64(60_000)

func gatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		PageLimit:      500,
	}
}

// fakeProvider replays a scripted sequence of responses keyed by call order
type fakeProvider struct {
	responses []fakeResponse
	calls     []fakeCall
	seed      *decimal.Decimal
}

type fakeResponse struct {
	page Page
	err  error
}

type fakeCall struct {
	baseURL string
	cursor  int64
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Fetch(ctx context.Context, baseURL, sourceID string, startMillis, endMillis int64, pageLimit int) (Page, error) {
	f.calls = append(f.calls, fakeCall{baseURL: baseURL, cursor: startMillis})
	if len(f.responses) == 0 {
		return Page{}, nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.page, r.err
}

func (f *fakeProvider) FetchSeed(ctx context.Context, baseURL, sourceID string, firstSlotMillis, stepMillis int64) (decimal.Decimal, bool, error) {
	if f.seed == nil {
		return decimal.Decimal{}, false, nil
	}
	return *f.seed, true, nil
}

func points(slots ...int64) []RawPoint {
	pts := make([]RawPoint, 0, len(slots))
	for _, s := range slots {
		pts = append(pts, RawPoint{SlotStartMillis: s, Value: decimal.NewFromInt(s / stepMs)})
	}
	return pts
}

func TestFetchRangePaginates(t *testing.T) {
	start := int64(0)
	end := 6 * stepMs

	fake := &fakeProvider{responses: []fakeResponse{
		{page: Page{Points: points(0, stepMs, 2*stepMs), Raw: json.RawMessage(`[1]`)}},
		{page: Page{Points: points(3*stepMs, 4*stepMs, 5*stepMs), Raw: json.RawMessage(`[2]`)}},
	}}

	g := NewGateway(fake, []string{"https://primary"}, gatewayConfig(), logger.NewNop())

	res, err := g.FetchRange(context.Background(), "BTCUSDT", start, end, stepMs)
	require.NoError(t, err)

	assert.Len(t, res.Points, 6)
	assert.Equal(t, 2, res.Pages)
	assert.Len(t, res.RawPages, 2)
	assert.Equal(t, "https://primary", res.Endpoint)

	// Cursor must advance to lastSlot+step after each page
	require.Len(t, fake.calls, 2)
	assert.Equal(t, int64(0), fake.calls[0].cursor)
	assert.Equal(t, 3*stepMs, fake.calls[1].cursor)
}

func TestFetchRangeStopsOnEmptyPage(t *testing.T) {
	fake := &fakeProvider{responses: []fakeResponse{
		{page: Page{Points: points(0, stepMs)}},
		{page: Page{}},
	}}

	g := NewGateway(fake, []string{"https://primary"}, gatewayConfig(), logger.NewNop())

	res, err := g.FetchRange(context.Background(), "BTCUSDT", 0, 10*stepMs, stepMs)
	require.NoError(t, err)
	assert.Len(t, res.Points, 2)
	assert.Len(t, fake.calls, 2)
}

func TestFetchRangeAntiStallGuard(t *testing.T) {
	// Second page repeats the first page's slots: cursor cannot advance
	fake := &fakeProvider{responses: []fakeResponse{
		{page: Page{Points: points(0, stepMs)}},
		{page: Page{Points: points(0, stepMs)}},
	}}

	g := NewGateway(fake, []string{"https://primary"}, gatewayConfig(), logger.NewNop())

	res, err := g.FetchRange(context.Background(), "BTCUSDT", 0, 10*stepMs, stepMs)
	require.NoError(t, err)
	// End-of-data, not an error; both pages concatenated in receipt order
	assert.Len(t, res.Points, 4)
}

func TestFetchRangeFailover(t *testing.T) {
	// Primary fails transiently on every attempt; secondary answers
	transient := Transientf("status 503")
	fake := &fakeProvider{responses: []fakeResponse{
		{err: transient},
		{err: transient},
		{err: transient}, // primary exhausted (MaxRetries=2 -> 3 attempts)
		{page: Page{Points: points(0, stepMs, 2*stepMs)}},
	}}

	g := NewGateway(fake, []string{"https://primary", "https://mirror"}, gatewayConfig(), logger.NewNop())

	res, err := g.FetchRange(context.Background(), "BTCUSDT", 0, 3*stepMs, stepMs)
	require.NoError(t, err)

	assert.Len(t, res.Points, 3)
	assert.Equal(t, "https://mirror", res.Endpoint, "answering endpoint must be recorded")

	// First three attempts hit the primary, the fourth the mirror
	require.Len(t, fake.calls, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, "https://primary", fake.calls[i].baseURL)
	}
	assert.Equal(t, "https://mirror", fake.calls[3].baseURL)
}

func TestFetchRangeSourceUnavailable(t *testing.T) {
	fake := &fakeProvider{}
	for i := 0; i < 6; i++ {
		fake.responses = append(fake.responses, fakeResponse{err: Transientf("connection refused")})
	}

	g := NewGateway(fake, []string{"https://primary", "https://mirror"}, gatewayConfig(), logger.NewNop())

	_, err := g.FetchRange(context.Background(), "BTCUSDT", 0, 3*stepMs, stepMs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.Len(t, fake.calls, 6, "3 attempts per endpoint across 2 endpoints")
}

func TestFetchRangeFatalErrorPropagates(t *testing.T) {
	fatal := fmt.Errorf("unknown symbol")
	fake := &fakeProvider{responses: []fakeResponse{{err: fatal}}}

	g := NewGateway(fake, []string{"https://primary", "https://mirror"}, gatewayConfig(), logger.NewNop())

	_, err := g.FetchRange(context.Background(), "NOPE", 0, 3*stepMs, stepMs)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSourceUnavailable))
	assert.Len(t, fake.calls, 1, "fatal errors must not be retried")
}

func TestFetchRangeCancellation(t *testing.T) {
	fake := &fakeProvider{responses: []fakeResponse{
		{err: Transientf("status 503")},
		{err: Transientf("status 503")},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewGateway(fake, []string{"https://primary"}, gatewayConfig(), logger.NewNop())

	_, err := g.FetchRange(ctx, "BTCUSDT", 0, 3*stepMs, stepMs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFetchSeed(t *testing.T) {
	seed := decimal.RequireFromString("101.25")
	fake := &fakeProvider{seed: &seed}

	g := NewGateway(fake, []string{"https://primary"}, gatewayConfig(), logger.NewNop())

	got, ok := g.FetchSeed(context.Background(), "BTCUSDT", 10*stepMs, stepMs)
	require.True(t, ok)
	assert.True(t, got.Equal(seed))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.True(t, IsTransient(Transientf("rate limited")))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", MarkTransient(errors.New("inner")))))
}
