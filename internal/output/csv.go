package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"replwatch/internal/model"
)

// WriteCSV writes one CSV file per summary section to outDir/csv/.
// Files are UTF-8 with BOM for clean Excel opening on Windows.
func WriteCSV(outDir string, s *model.RunSummary) error {
	dir := filepath.Join(outDir, "csv")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("csv: mkdir: %w", err)
	}
	writers := []func(string, *model.RunSummary) error{
		writeNodesCSV,
		writeIssuesCSV,
		writeActionsCSV,
	}
	for _, fn := range writers {
		if err := fn(dir, s); err != nil {
			return err
		}
	}
	return nil
}

func csvFile(dir, name string) (*os.File, *csv.Writer, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, nil, err
	}
	// UTF-8 BOM for Excel
	_, _ = f.Write([]byte{0xEF, 0xBB, 0xBF})
	return f, csv.NewWriter(f), nil
}

func writeNodesCSV(dir string, s *model.RunSummary) error {
	f, w, err := csvFile(dir, "nodes.csv")
	if err != nil {
		return err
	}
	defer f.Close()
	_ = w.Write([]string{"Name", "Site", "Status", "Issues", "Actions", "Error"})
	for _, nr := range s.Nodes {
		_ = w.Write([]string{
			nr.Node.Name,
			nr.Node.Site,
			string(nr.Status),
			strconv.Itoa(len(nr.Issues)),
			strconv.Itoa(len(nr.Actions)),
			nr.Error,
		})
	}
	w.Flush()
	return w.Error()
}

func writeIssuesCSV(dir string, s *model.RunSummary) error {
	f, w, err := csvFile(dir, "issues.csv")
	if err != nil {
		return err
	}
	defer f.Close()
	_ = w.Write([]string{"Node", "Category", "Severity", "Message", "Detail", "Detected At"})
	for _, i := range s.Issues {
		_ = w.Write([]string{
			i.Node,
			string(i.Category),
			string(i.Severity),
			i.Message,
			i.Detail,
			i.DetectedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
	return w.Error()
}

func writeActionsCSV(dir string, s *model.RunSummary) error {
	f, w, err := csvFile(dir, "actions.csv")
	if err != nil {
		return err
	}
	defer f.Close()
	_ = w.Write([]string{"Node", "Category", "Remedy", "Policy", "Outcome", "Reason", "Started", "Finished"})
	for _, a := range s.Actions {
		_ = w.Write([]string{
			a.Issue.Node,
			string(a.Issue.Category),
			string(a.Remedy),
			a.Policy,
			string(a.Outcome),
			a.Reason,
			a.StartedAt.Format(time.RFC3339),
			a.FinishedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
	return w.Error()
}
