// Package validate checks manifest content and bundle payloads against
// their closed, versioned JSON Schemas before anything is hashed or
// persisted, so schema drift surfaces as a validation failure instead of a
// silent hash change.
package validate

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed manifest_content.schema.json
var manifestContentSchemaJSON []byte

//go:embed bundle_payload.schema.json
var bundlePayloadSchemaJSON []byte

var (
	compileOnce           sync.Once
	compileErr            error
	manifestContentSchema *jsonschema.Schema
	bundlePayloadSchema   *jsonschema.Schema
)

func compileSchemas() error {
	compileOnce.Do(func() {
		manifestContentSchema, compileErr = compile(manifestContentSchemaJSON)
		if compileErr != nil {
			return
		}
		bundlePayloadSchema, compileErr = compile(bundlePayloadSchemaJSON)
	})
	return compileErr
}

func compile(data []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateManifestContent validates the hashable manifest content bytes.
func ValidateManifestContent(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	return validateJSON(manifestContentSchema, data)
}

// ValidateBundlePayload validates bundle payload bytes.
func ValidateBundlePayload(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	return validateJSON(bundlePayloadSchema, data)
}

func validateJSON(schema *jsonschema.Schema, data []byte) error {
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}
