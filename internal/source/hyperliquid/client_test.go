package hyperliquid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/settle/internal/source"
	"github.com/wonny/settle/pkg/config"
	"github.com/wonny/settle/pkg/httputil"
	"github.com/wonny/settle/pkg/logger"
)

func testHTTPClient() *httputil.Client {
	cfg := &config.Config{
		Env: "development",
		Gateway: config.GatewayConfig{
			RequestTimeout: 5 * time.Second,
		},
	}
	return httputil.New(cfg, logger.NewNop()).DisableRetry()
}

const spotMetaPayload = `{
	"tokens": [
		{"name": "USDC", "index": 0},
		{"name": "HYPE", "index": 150}
	],
	"universe": [
		{"name": "PURR/USDC", "tokens": [1, 0], "index": 0},
		{"name": "HYPE/USDC", "tokens": [150, 0], "index": 107}
	]
}`

func infoServer(t *testing.T, candles string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type string `json:"type"`
			Req  *struct {
				Coin      string `json:"coin"`
				Interval  string `json:"interval"`
				StartTime int64  `json:"startTime"`
			} `json:"req"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode info request: %v", err)
		}

		switch req.Type {
		case "spotMeta":
			w.Write([]byte(spotMetaPayload))
		case "candleSnapshot":
			if req.Req.Coin != "@107" {
				t.Errorf("coin = %q, want @107", req.Req.Coin)
			}
			w.Write([]byte(candles))
		default:
			t.Errorf("unexpected info type %q", req.Type)
		}
	}))
}

func TestFetchResolvesPairAndParsesCandles(t *testing.T) {
	candles := `[
		{"t": 1757685600000, "T": 1757685659999, "s": "@107", "i": "1m", "o": "47.1", "c": "47.25", "h": "47.3", "l": "47.0", "v": "120.5", "n": 13},
		{"t": 1757685660000, "T": 1757685719999, "s": "@107", "i": "1m", "o": "47.25", "c": "47.40", "h": "47.5", "l": "47.2", "v": "98.1", "n": 9},
		{"t": 1757685600000, "T": 1757689199999, "s": "@107", "i": "1h", "o": "47.1", "c": "48.0", "h": "48.1", "l": "47.0", "v": "5000", "n": 800}
	]`
	srv := infoServer(t, candles)
	defer srv.Close()

	c := NewClient(testHTTPClient(), logger.NewNop())

	page, err := c.Fetch(context.Background(), srv.URL, "HYPE/USDC", 1757685600000, 1757685720000, 500)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}

	// The off-interval 1h candle is dropped
	if len(page.Points) != 2 {
		t.Fatalf("got %d points, want 2", len(page.Points))
	}
	if page.Points[0].SlotStartMillis != 1757685600000 {
		t.Errorf("slot start = %d", page.Points[0].SlotStartMillis)
	}
	if !page.Points[1].Value.Equal(decimal.RequireFromString("47.40")) {
		t.Errorf("close = %s, want 47.40", page.Points[1].Value)
	}
}

func TestResolveSpotPair(t *testing.T) {
	srv := infoServer(t, `[]`)
	defer srv.Close()

	c := NewClient(testHTTPClient(), logger.NewNop())

	coin, err := c.ResolveSpotPair(context.Background(), srv.URL, "HYPE/USDC")
	if err != nil {
		t.Fatalf("ResolveSpotPair() failed: %v", err)
	}
	if coin != "@107" {
		t.Errorf("coin = %q, want @107", coin)
	}

	// Unknown pairs fail without a transient marker: retrying will
	// not make the pair exist
	_, err = c.ResolveSpotPair(context.Background(), srv.URL, "NOPE/USDC")
	if err == nil {
		t.Fatal("expected error for unknown pair")
	}
	if source.IsTransient(err) {
		t.Errorf("unknown pair error should not be transient: %v", err)
	}
}

func TestResolveSourceIDPassthrough(t *testing.T) {
	// An already-resolved coin id must not trigger a spotMeta request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type string `json:"type"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Type == "spotMeta" {
			t.Error("unexpected spotMeta request for resolved coin id")
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(testHTTPClient(), logger.NewNop())

	page, err := c.Fetch(context.Background(), srv.URL, "@107", 0, 60000, 500)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if len(page.Points) != 0 {
		t.Errorf("got %d points, want 0", len(page.Points))
	}
}

func TestFetchSeed(t *testing.T) {
	srv := infoServer(t, `[{"t": 1757685540000, "T": 1757685599999, "s": "@107", "i": "1m", "o": "47", "c": "47.05", "h": "47", "l": "47", "v": "1", "n": 1}]`)
	defer srv.Close()

	c := NewClient(testHTTPClient(), logger.NewNop())

	seed, found, err := c.FetchSeed(context.Background(), srv.URL, "HYPE/USDC", 1757685600000, 60000)
	if err != nil {
		t.Fatalf("FetchSeed() failed: %v", err)
	}
	if !found {
		t.Fatal("seed not found")
	}
	if !seed.Equal(decimal.RequireFromString("47.05")) {
		t.Errorf("seed = %s, want 47.05", seed)
	}
}
