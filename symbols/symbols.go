// Package symbols loads the optional startup watchlist file naming
// which symbols the Scheduler tracks at boot, ahead of any runtime
// AddSymbol/RemoveSymbol call. YAML is used for the same reason a
// health-monitor schedule file is: a small hand-edited list of named
// entries, decoded with gopkg.in/yaml.v3.
package symbols

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kkhwan1/bloomberg-data/quote"
)

// Entry is one watchlist row.
type Entry struct {
	Symbol string           `yaml:"symbol"`
	Class  quote.AssetClass `yaml:"asset_class"`
}

// document is the on-disk shape of symbols.yaml.
type document struct {
	Symbols []Entry `yaml:"symbols"`
}

// Load parses path into a validated watchlist. A missing file is not
// an error: it returns an empty list, since the watchlist is entirely
// optional (symbols can also be added at runtime via the CLI or a
// future admin surface).
func Load(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbols: read %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("symbols: parse %s: %w", path, err)
	}

	for i, e := range doc.Symbols {
		if e.Symbol == "" {
			return nil, fmt.Errorf("symbols: entry %d missing symbol", i)
		}
		if !e.Class.Valid() {
			return nil, fmt.Errorf("symbols: entry %d (%s) has invalid asset_class %q", i, e.Symbol, e.Class)
		}
	}
	return doc.Symbols, nil
}
