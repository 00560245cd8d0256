// Package output writes run summaries to disk and console. These are the
// thin reporting boundary; the engine never depends on their success.
package output

import (
	"encoding/json"
	"os"

	"replwatch/internal/model"
)

// WriteJSON writes the full run summary as indented JSON.
func WriteJSON(path string, s *model.RunSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
