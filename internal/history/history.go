// Package history persists per-run summaries and derives the score trend
// against the previous recorded run.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"replwatch/internal/model"
)

// IndexEntry is one recorded run in the history index.
type IndexEntry struct {
	TimestampUTC string           `json:"timestampUtc"`
	RunID        string           `json:"runId"`
	Mode         model.Mode       `json:"mode"`
	Scope        string           `json:"scope,omitempty"`
	Score        int              `json:"score"`
	Grade        string           `json:"grade"`
	Outcome      model.RunOutcome `json:"outcome"`
	JSONFile     string           `json:"jsonFile"`
}

// Index is the persisted run history.
type Index struct {
	Entries []IndexEntry `json:"entries"`
}

// Trend compares the current run's score against the previous one.
type Trend struct {
	Previous int
	Current  int
	Delta    int
	Label    string // IMPROVING / DECLINING / SAME / FIRST_RUN
}

const maxEntries = 200

// Record appends the run to outDir/history and returns the trend.
func Record(outDir string, s *model.RunSummary) (Trend, error) {
	historyDir := filepath.Join(outDir, "history")
	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return Trend{}, err
	}

	indexPath := filepath.Join(historyDir, "index.json")
	var idx Index
	if raw, err := os.ReadFile(indexPath); err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &idx)
	}

	prev := -1
	if len(idx.Entries) > 0 {
		prev = idx.Entries[len(idx.Entries)-1].Score
	}

	ts := time.Now().UTC().Format("20060102-150405")
	jsonName := fmt.Sprintf("replwatch-run-%s.json", ts)
	if err := writeJSON(filepath.Join(historyDir, jsonName), s); err != nil {
		return Trend{}, err
	}

	idx.Entries = append(idx.Entries, IndexEntry{
		TimestampUTC: time.Now().UTC().Format(time.RFC3339),
		RunID:        s.RunID,
		Mode:         s.Mode,
		Scope:        s.Scope,
		Score:        s.Score.Value,
		Grade:        s.Score.Grade,
		Outcome:      s.Outcome,
		JSONFile:     filepath.ToSlash(filepath.Join("history", jsonName)),
	})
	if len(idx.Entries) > maxEntries {
		idx.Entries = idx.Entries[len(idx.Entries)-maxEntries:]
	}

	raw, _ := json.MarshalIndent(idx, "", "  ")
	if err := os.WriteFile(indexPath, raw, 0644); err != nil {
		return Trend{}, err
	}

	tr := Trend{Previous: prev, Current: s.Score.Value, Label: "FIRST_RUN"}
	if prev >= 0 {
		tr.Delta = tr.Current - tr.Previous
		switch {
		case tr.Delta > 0:
			tr.Label = "IMPROVING"
		case tr.Delta < 0:
			tr.Label = "DECLINING"
		default:
			tr.Label = "SAME"
		}
	}
	return tr, nil
}

// LoadLast returns the most recent recorded run summary, used by verify
// mode to find previously reported issues.
func LoadLast(outDir string) (*model.RunSummary, error) {
	indexPath := filepath.Join(outDir, "history", "index.json")
	raw, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, err
	}
	if len(idx.Entries) == 0 {
		return nil, fmt.Errorf("history: no recorded runs in %s", outDir)
	}
	last := idx.Entries[len(idx.Entries)-1]
	data, err := os.ReadFile(filepath.Join(outDir, last.JSONFile))
	if err != nil {
		return nil, err
	}
	var s model.RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func writeJSON(path string, s *model.RunSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
