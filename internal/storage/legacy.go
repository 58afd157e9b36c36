package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// ImportResult summarizes an anchor.json import.
type ImportResult struct {
	Imported []string
	Skipped  []string
}

// ImportLegacyJSON loads an anchor.json file, a JSON object mapping file
// names to lists of offsets in seconds, and stores every entry whose item has
// no anchors yet. A missing file is not an error.
func (s *Store) ImportLegacyJSON(ctx context.Context, path string) (ImportResult, error) {
	var result ImportResult

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return result, fmt.Errorf("storage: open legacy anchors: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return result, fmt.Errorf("storage: read legacy anchors: %w", err)
	}
	if len(data) == 0 {
		return result, nil
	}

	var legacy map[string][]float64
	if err := json.Unmarshal(data, &legacy); err != nil {
		return result, fmt.Errorf("storage: decode legacy anchors: %w", err)
	}

	names := make([]string, 0, len(legacy))
	for name := range legacy {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		existing, err := s.LoadOffsets(ctx, name)
		if err != nil {
			return result, err
		}
		if len(existing) > 0 {
			result.Skipped = append(result.Skipped, name)
			continue
		}

		offsets := make([]float64, 0, len(legacy[name]))
		for _, offset := range legacy[name] {
			if offset >= 0 {
				offsets = append(offsets, offset)
			}
		}
		if err := s.SaveOffsets(ctx, name, offsets); err != nil {
			return result, err
		}
		result.Imported = append(result.Imported, name)
	}
	return result, nil
}
