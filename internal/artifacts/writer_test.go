package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/settle/internal/aggregate"
	"github.com/wonny/settle/internal/grid"
	"github.com/wonny/settle/internal/settlement"
	"github.com/wonny/settle/internal/window"
	"github.com/wonny/settle/pkg/logger"
)

func sampleResult() *settlement.Result {
	return &settlement.Result{
		Window: window.Spec{
			Start:             1_761_760_800_000,
			End:               1_761_760_980_000,
			StepMillis:        60_000,
			ExpectedSlotCount: 3,
		},
		EffectiveEndMillis: 1_761_760_920_000,
		Aggregation: aggregate.Result{
			Scalar:         decimal.RequireFromString("101.1"),
			RoundedInteger: 10110,
			Method:         aggregate.MethodMean,
			RoundingRule:   aggregate.RoundHalfUp,
			MinorUnitScale: 100,
			ObservedCount:  3,
			ExpectedCount:  3,
			Contiguous:     true,
			Complete:       true,
		},
		Source: settlement.Provenance{
			Provider: "binance",
			SourceID: "BTC/USDT",
			Endpoint: "https://api.binance.com",
		},
		Slots: []grid.Slot{
			{StartMillis: 1_761_760_800_000, Value: decimal.RequireFromString("100.10"), Provenance: grid.ProvenanceObserved, Contributions: 1},
			{StartMillis: 1_761_760_860_000, Value: decimal.RequireFromString("101.10"), Provenance: grid.ProvenanceObserved, Contributions: 1},
			{StartMillis: 1_761_760_920_000, Value: decimal.RequireFromString("102.10"), Provenance: grid.ProvenanceFilled},
		},
		RawPages:         []json.RawMessage{json.RawMessage(`[[1,"2"]]`)},
		ComputedAtMillis: 1_761_761_000_000,
	}
}

func TestWriteAll(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, logger.NewNop())

	paths, err := w.WriteAll(sampleResult())
	require.NoError(t, err)
	require.Len(t, paths, 3)

	for _, p := range paths {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
		// The slash in the source id must not leak into paths
		assert.Equal(t, dir, filepath.Dir(p))
		assert.Contains(t, filepath.Base(p), "binance_BTC-USDT_1761760800000")
	}
}

func TestWriteSlotsCSV(t *testing.T) {
	w := NewWriter(t.TempDir(), logger.NewNop())

	path, err := w.WriteSlots(sampleResult())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "slot_start_ms,slot_start_iso,value,provenance,contributions", lines[0])
	assert.Equal(t, "1761760800000,2025-10-29T18:00:00Z,100.10,observed,1", lines[1])
	assert.Equal(t, "1761760920000,2025-10-29T18:02:00Z,102.10,filled,0", lines[3])
}

func TestWriteRawPagesPassthrough(t *testing.T) {
	w := NewWriter(t.TempDir(), logger.NewNop())

	path, err := w.WriteRawPages(sampleResult())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[[[1,"2"]]]`, string(data))

	// No pages, no artifact
	empty := sampleResult()
	empty.RawPages = nil
	path, err = w.WriteRawPages(empty)
	require.NoError(t, err)
	assert.Empty(t, path)
}
