package devserver

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/TheMichaelB/clinicdesk/internal/store"
)

// Seed maps store paths to the values written there.
type Seed map[string]interface{}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses YAML seed data.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return seed, nil
}

// Apply writes every entry in path order.
func (s Seed) Apply(ctx context.Context, st store.Store) error {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := st.Set(ctx, p, s[p]); err != nil {
			return fmt.Errorf("seed %s: %w", p, err)
		}
	}
	return nil
}
