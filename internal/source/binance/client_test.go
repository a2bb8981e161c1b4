package binance

import (
	"context"
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

func TestFetchParsesKlines(t *testing.T) {
	payload := `[
		[1761760800000, "100.1", "101.0", "99.5", "100.10", "12.5", 1761760859999, "0", 10, "0", "0", "0"],
		[1761760860000, "100.2", "101.2", "99.9", "101.10", "13.1", 1761760919999, "0", 11, "0", "0", "0"]
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "1m" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if q.Get("startTime") != "1761760800000" {
			t.Errorf("startTime = %s", q.Get("startTime"))
		}
		// Half-open range maps to an inclusive endTime
		if q.Get("endTime") != "1761760919999" {
			t.Errorf("endTime = %s", q.Get("endTime"))
		}
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := NewClient(testHTTPClient(), logger.NewNop())

	page, err := c.Fetch(context.Background(), srv.URL, "BTCUSDT", 1761760800000, 1761760920000, 1000)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}

	if len(page.Points) != 2 {
		t.Fatalf("got %d points, want 2", len(page.Points))
	}
	if page.Points[0].SlotStartMillis != 1761760800000 {
		t.Errorf("slot start = %d", page.Points[0].SlotStartMillis)
	}
	if !page.Points[1].Value.Equal(decimal.RequireFromString("101.1")) {
		t.Errorf("close = %s, want 101.1", page.Points[1].Value)
	}
	if len(page.Raw) == 0 {
		t.Error("raw payload echo is empty")
	}
}

func TestFetchDiscardsMalformedKlines(t *testing.T) {
	payload := `[
		[1761760800000, "100.1", "101.0", "99.5", "100.10", "12.5"],
		["not-a-time", "1", "1", "1", "1", "1"],
		[1761760860000, "1", "1", "1", "abc", "1"],
		[1761760920000]
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := NewClient(testHTTPClient(), logger.NewNop())

	page, err := c.Fetch(context.Background(), srv.URL, "BTCUSDT", 1761760800000, 1761760980000, 1000)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}

	// Only the first entry survives; malformed rows are discarded
	if len(page.Points) != 1 {
		t.Fatalf("got %d points, want 1", len(page.Points))
	}
}

func TestFetchErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
	}{
		{"rate limited", http.StatusTooManyRequests, "", true},
		{"server error", http.StatusBadGateway, "", true},
		{"malformed body", http.StatusOK, `{"not":"a list"}`, true},
		{"bad symbol", http.StatusBadRequest, `{"code":-1121}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(testHTTPClient(), logger.NewNop())

			_, err := c.Fetch(context.Background(), srv.URL, "BTCUSDT", 0, 60000, 1000)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := source.IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient = %v, want %v (err: %v)", got, tt.wantTransient, err)
			}
		})
	}
}

func TestFetchSeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("startTime") != "1761760740000" {
			t.Errorf("seed startTime = %s", r.URL.Query().Get("startTime"))
		}
		w.Write([]byte(`[[1761760740000, "1", "1", "1", "99.95", "1"]]`))
	}))
	defer srv.Close()

	c := NewClient(testHTTPClient(), logger.NewNop())

	seed, found, err := c.FetchSeed(context.Background(), srv.URL, "BTCUSDT", 1761760800000, 60000)
	if err != nil {
		t.Fatalf("FetchSeed() failed: %v", err)
	}
	if !found {
		t.Fatal("seed not found")
	}
	if !seed.Equal(decimal.RequireFromString("99.95")) {
		t.Errorf("seed = %s, want 99.95", seed)
	}
}

func TestFetchSeedEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(testHTTPClient(), logger.NewNop())

	_, found, err := c.FetchSeed(context.Background(), srv.URL, "BTCUSDT", 1761760800000, 60000)
	if err != nil {
		t.Fatalf("FetchSeed() failed: %v", err)
	}
	if found {
		t.Error("expected no seed")
	}
}
