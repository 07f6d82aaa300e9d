package categorize

import (
	"encoding/json"
	"fmt"
	"os"
)

// Cache persistence across runs is an optimization to save external calls,
// never a correctness requirement: a missing or unreadable cache file is not
// an error.

// LoadCache seeds the engine's cache from a JSON file written by SaveCache.
func (e *Engine) LoadCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading category cache: %w", err)
	}

	var entries map[string]Assignment
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decoding category cache: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for desc, a := range entries {
		if _, ok := e.cache[desc]; !ok {
			e.cache[desc] = a
		}
	}
	return nil
}

// SaveCache writes the current cache to a JSON file.
func (e *Engine) SaveCache(path string) error {
	e.mu.Lock()
	snapshot := make(map[string]Assignment, len(e.cache))
	for desc, a := range e.cache {
		snapshot[desc] = a
	}
	e.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding category cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing category cache: %w", err)
	}
	return nil
}
