package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wonny/settle/internal/settlement"
	"github.com/wonny/settle/internal/window"
	"github.com/wonny/settle/pkg/logger"
)

// Writer persists audit artifacts for one settlement run: the result
// object, the per-slot grid and the unmodified raw upstream pages.
type Writer struct {
	dir    string
	logger *logger.Logger
}

// NewWriter creates an artifact writer rooted at dir
func NewWriter(dir string, log *logger.Logger) *Writer {
	return &Writer{dir: dir, logger: log}
}

// WriteAll persists every artifact for a run and returns the written
// paths
func (w *Writer) WriteAll(result *settlement.Result) ([]string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir failed: %w", err)
	}

	var paths []string
	writers := []func(*settlement.Result) (string, error){
		w.WriteResult,
		w.WriteSlots,
		w.WriteRawPages,
	}
	for _, write := range writers {
		path, err := write(result)
		if err != nil {
			return paths, err
		}
		if path != "" {
			paths = append(paths, path)
		}
	}

	w.logger.WithField("paths", paths).Info("Artifacts written")
	return paths, nil
}

// WriteResult persists the full result object as indented JSON
func (w *Writer) WriteResult(result *settlement.Result) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result failed: %w", err)
	}

	path := filepath.Join(w.dir, w.baseName(result)+"_result.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write result artifact failed: %w", err)
	}
	return path, nil
}

// WriteSlots persists the dense grid as CSV for spreadsheet review
func (w *Writer) WriteSlots(result *settlement.Result) (string, error) {
	path := filepath.Join(w.dir, w.baseName(result)+"_slots.csv")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create slots artifact failed: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"slot_start_ms", "slot_start_iso", "value", "provenance", "contributions"}); err != nil {
		return "", err
	}
	for _, slot := range result.Slots {
		record := []string{
			strconv.FormatInt(slot.StartMillis, 10),
			window.FormatISO(slot.StartMillis),
			slot.Value.String(),
			string(slot.Provenance),
			strconv.Itoa(slot.Contributions),
		}
		if err := cw.Write(record); err != nil {
			return "", err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("write slots artifact failed: %w", err)
	}
	return path, nil
}

// WriteRawPages persists the unmodified upstream pages exactly as
// received, one JSON array element per page
func (w *Writer) WriteRawPages(result *settlement.Result) (string, error) {
	if len(result.RawPages) == 0 {
		return "", nil
	}

	data, err := json.Marshal(result.RawPages)
	if err != nil {
		return "", fmt.Errorf("marshal raw pages failed: %w", err)
	}

	path := filepath.Join(w.dir, w.baseName(result)+"_raw.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write raw artifact failed: %w", err)
	}
	return path, nil
}

// baseName derives a filesystem-safe artifact prefix from the run
func (w *Writer) baseName(result *settlement.Result) string {
	sourceID := strings.NewReplacer("/", "-", "@", "", ":", "-").Replace(result.Source.SourceID)
	return fmt.Sprintf("%s_%s_%d", result.Source.Provider, sourceID, result.Window.Start)
}
