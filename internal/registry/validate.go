package registry

import (
	"encoding/json"
	"fmt"

	"github.com/go-openapi/jsonpointer"
)

// OperationTypes is the closed set of ~22 operation discriminators a tool's
// op.type may select, per §4.F.
var OperationTypes = map[string]bool{
	"search":             true,
	"search_read":        true,
	"read":               true,
	"create":             true,
	"write":              true,
	"unlink":             true,
	"search_count":       true,
	"execute":            true,
	"workflow_action":    true,
	"generate_report":    true,
	"get_model_metadata": true,
	"list_models":        true,
	"check_access":       true,
	"create_batch":       true,
	"read_group":         true,
	"name_search":        true,
	"name_get":           true,
	"default_get":        true,
	"copy":               true,
	"onchange":           true,
	"database_cleanup":   true,
	"deep_cleanup":       true,
}

// forbiddenSchemaKeys are JSON-schema fragment forms the registry rejects
// because downstream assistant clients cannot consume them (§4.E).
var forbiddenSchemaKeys = []string{"anyOf", "oneOf", "allOf", "$ref", "definitions"}

// ValidateTools checks every invariant from §3/§4.E: unique names, a
// closed-set op.type, syntactically valid RFC-6901 pointers in op.map, and
// schema fragments free of anyOf/oneOf/allOf/$ref/definitions/array-typed
// "type". It returns every violation found, naming the offending tool, not
// just the first.
func ValidateTools(tools []Tool) error {
	seen := make(map[string]bool, len(tools))
	var errs []error

	for _, t := range tools {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tool has empty name"))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("tool %q: duplicate name", t.Name))
			continue
		}
		seen[t.Name] = true

		if !OperationTypes[t.Op.Type] {
			errs = append(errs, fmt.Errorf("tool %q: unknown op.type %q", t.Name, t.Op.Type))
		}
		for arg, ptr := range t.Op.Map {
			if _, err := jsonpointer.New(ptr); err != nil {
				errs = append(errs, fmt.Errorf("tool %q: argument %q: invalid JSON pointer %q: %w", t.Name, arg, ptr, err))
			}
		}
		if err := validateSchemaFragment(t.Name, t.InputSchema); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

// validateSchemaFragment rejects the schema constructs the spec names as
// unsupported by downstream assistant clients.
func validateSchemaFragment(toolName string, schema json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return fmt.Errorf("tool %q: inputSchema is not valid JSON: %w", toolName, err)
	}
	return walkSchema(toolName, doc)
}

func walkSchema(toolName string, node interface{}) error {
	switch v := node.(type) {
	case map[string]interface{}:
		for _, key := range forbiddenSchemaKeys {
			if _, ok := v[key]; ok {
				return fmt.Errorf("tool %q: inputSchema uses unsupported keyword %q", toolName, key)
			}
		}
		if t, ok := v["type"]; ok {
			if _, isArray := t.([]interface{}); isArray {
				return fmt.Errorf("tool %q: inputSchema uses array-typed \"type\"", toolName)
			}
		}
		for _, child := range v {
			if err := walkSchema(toolName, child); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range v {
			if err := walkSchema(toolName, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidatePrompts rejects duplicate prompt names (§3 PromptDefinition).
func ValidatePrompts(prompts []Prompt) error {
	seen := make(map[string]bool, len(prompts))
	var errs []error
	for _, p := range prompts {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("prompt has empty name"))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("prompt %q: duplicate name", p.Name))
			continue
		}
		seen[p.Name] = true
	}
	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func joinErrors(errs []error) error {
	msg := ""
	for i, err := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return fmt.Errorf("%s", msg)
}
