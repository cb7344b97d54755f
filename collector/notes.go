package collector

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fabfab/recollect/backend"
)

// LoadNotes reads an exported notes file: a JSON array of notes.
func LoadNotes(path string) ([]backend.Note, error) {
	if path == "" {
		return nil, fmt.Errorf("load notes: no notes file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}

	var notes []backend.Note
	if err := json.Unmarshal(data, &notes); err != nil {
		return nil, fmt.Errorf("decode notes %s: %w", path, err)
	}

	kept := notes[:0]
	for _, n := range notes {
		if n.ID == "" {
			continue
		}
		kept = append(kept, n)
	}
	return kept, nil
}
