package identity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchema describes the canonical object: every field present and nullable, no extras.
func JSONSchema() map[string]any {
	props := make(map[string]any, len(FieldNames))
	for _, name := range FieldNames {
		props[name] = map[string]any{"type": []string{"string", "null"}, "minLength": 1}
	}
	props[FieldConfidenceEstimate] = map[string]any{
		"type":    []string{"number", "null"},
		"minimum": 0,
		"maximum": 1,
	}
	for _, name := range DateFields {
		props[name] = map[string]any{
			"type":    []string{"string", "null"},
			"pattern": `^\d{4}-\d{2}-\d{2}$`,
		}
	}
	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"title":                "IdentityDocument",
		"type":                 "object",
		"properties":           props,
		"required":             FieldNames,
		"additionalProperties": false,
	}
}

// ProviderSchema describes the object a provider is asked to return. Any key some field
// accepts is allowed, values are strings or null, and the confidence may also be a number.
func ProviderSchema() map[string]any {
	props := make(map[string]any, len(FieldNames)*2)
	for _, name := range FieldNames {
		for _, key := range KeysFor(name) {
			props[key] = map[string]any{"type": []string{"string", "null"}}
		}
	}
	for _, key := range KeysFor(FieldConfidenceEstimate) {
		props[key] = map[string]any{"type": []string{"number", "string", "null"}}
	}
	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"title":                "IdentityProviderOutput",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

var (
	canonicalSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
		return compileSchema("identity.json", JSONSchema())
	})
	providerSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
		return compileSchema("identity-provider.json", ProviderSchema())
	})
)

func compileSchema(url string, doc map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", url, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add %s: %w", url, err)
	}
	return compiler.Compile(url)
}

// ValidateFields checks f against the canonical schema. Records that did not come out of
// Normalize in this process go through it before they are trusted.
func ValidateFields(f *Fields) error {
	schema, err := canonicalSchema()
	if err != nil {
		return fmt.Errorf("compile identity schema: %w", err)
	}
	if err := schema.Validate(f.ToMap()); err != nil {
		return fmt.Errorf("fields do not match identity schema: %w", err)
	}
	return nil
}

// ContractViolations lists where a decoded provider object departs from ProviderSchema, as
// "<instance location>: <message>" sorted for stable output. Normalize still coerces or
// drops the offending values, so the list is advisory.
func ContractViolations(obj map[string]any) []string {
	schema, err := providerSchema()
	if err != nil {
		return []string{"provider schema unavailable: " + err.Error()}
	}
	var verr *jsonschema.ValidationError
	if err := schema.Validate(obj); !errors.As(err, &verr) {
		return nil
	}
	out := leafViolations(verr, nil)
	sort.Strings(out)
	return out
}

func leafViolations(e *jsonschema.ValidationError, out []string) []string {
	if len(e.Causes) == 0 {
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return append(out, loc+": "+e.Message)
	}
	for _, cause := range e.Causes {
		out = leafViolations(cause, out)
	}
	return out
}
