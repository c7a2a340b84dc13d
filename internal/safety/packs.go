package safety

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// PatternPack is a user-supplied set of extra dangerous patterns, typically
// loaded from .qloop/patterns.yaml. Pack patterns are appended after the
// builtins of their category, so builtins always match first.
type PatternPack struct {
	Patterns []PackPattern `yaml:"patterns"`
}

// PackPattern is a single rule in a pattern pack.
type PackPattern struct {
	Category    Category `yaml:"category"`
	Pattern     string   `yaml:"pattern"`
	Description string   `yaml:"description"`
	Severity    int      `yaml:"severity"`
}

// LoadPatternPack parses a YAML pattern pack and compiles its rules.
func LoadPatternPack(data []byte) ([]Pattern, error) {
	var pack PatternPack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse pattern pack: %w", err)
	}

	valid := make(map[Category]bool, len(categoryOrder))
	for _, c := range categoryOrder {
		valid[c] = true
	}

	out := make([]Pattern, 0, len(pack.Patterns))
	for i, p := range pack.Patterns {
		if !valid[p.Category] {
			return nil, fmt.Errorf("pattern %d: unknown category %q", i, p.Category)
		}
		if p.Severity < 1 || p.Severity > 5 {
			return nil, fmt.Errorf("pattern %d: severity must be 1-5, got %d", i, p.Severity)
		}
		expr, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: compile %q: %w", i, p.Pattern, err)
		}
		out = append(out, Pattern{
			Category:    p.Category,
			Expr:        expr,
			Description: p.Description,
			Severity:    p.Severity,
		})
	}
	return out, nil
}

// LoadPatternPackFile reads and parses a pattern pack from disk. A missing
// file is not an error; it returns an empty slice.
func LoadPatternPackFile(path string) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pattern pack: %w", err)
	}
	return LoadPatternPack(data)
}
