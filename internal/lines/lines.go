// Package lines builds the list of line identifiers a pass probes.
package lines

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrEmptyCatalog = errors.New("line catalog is empty")

// Span is an inclusive identifier range.
type Span struct {
	From int `yaml:"from" validate:"min=1"`
	To   int `yaml:"to" validate:"gtefield=From"`
}

// Catalog is the YAML line file:
//
//	lines: [1, 2, 42]
//	ranges:
//	  - {from: 60, to: 80}
type Catalog struct {
	Lines  []int  `yaml:"lines" validate:"dive,min=1"`
	Ranges []Span `yaml:"ranges" validate:"dive"`
}

// Range returns lo..hi inclusive.
func Range(lo, hi int) []int {
	if hi < lo {
		return nil
	}
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

// Parse decodes and validates a catalog and returns its identifiers sorted
// without duplicates.
func Parse(data []byte) ([]int, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode line catalog: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return nil, fmt.Errorf("invalid line catalog: %w", err)
	}
	ids := slices.Clone(c.Lines)
	for _, s := range c.Ranges {
		ids = append(ids, Range(s.From, s.To)...)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) == 0 {
		return nil, ErrEmptyCatalog
	}
	return ids, nil
}

// Load reads the catalog at path.
func Load(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read line catalog: %w", err)
	}
	return Parse(data)
}
