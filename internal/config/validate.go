package config

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// schemaJSON is the closed schema for .qloop/config.json: unknown keys are
// rejected so a typo'd setting fails loudly instead of silently defaulting.
//
//go:embed schema.json
var schemaJSON string

// ValidateSettings checks the raw config document against the embedded
// schema before it is unmarshaled into typed settings.
func ValidateSettings(settings map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(settings),
	)
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		msgs = append(msgs, schemaErr.String())
	}
	slices.Sort(msgs)
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
