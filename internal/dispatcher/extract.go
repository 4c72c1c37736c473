package dispatcher

import (
	"fmt"

	"github.com/go-openapi/jsonpointer"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/odoo"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/registry"
)

// extractor evaluates a tool's op.map JSON pointers against the incoming
// call arguments (§4.F step 2). Each lookup parses its pointer afresh;
// nothing is memoized between lookups.
type extractor struct {
	toolName string
	args     map[string]interface{}
	op       registry.OperationRef
}

func newExtractor(toolName string, args map[string]interface{}, op registry.OperationRef) *extractor {
	if args == nil {
		args = map[string]interface{}{}
	}
	return &extractor{toolName: toolName, args: args, op: op}
}

// raw evaluates the pointer registered for argName, returning (value, true)
// if present, or (nil, false) if the pointer is absent from op.map or
// doesn't resolve in args.
func (e *extractor) raw(argName string) (interface{}, bool) {
	ptrStr, ok := e.op.Map[argName]
	if !ok {
		return nil, false
	}
	ptr, err := jsonpointer.New(ptrStr)
	if err != nil {
		return nil, false
	}
	val, _, err := ptr.Get(e.args)
	if err != nil {
		return nil, false
	}
	return val, true
}

func (e *extractor) requiredString(argName string) (string, *Error) {
	v, ok := e.raw(argName)
	if !ok {
		return "", InvalidArguments(fmt.Sprintf("tool %q: missing required argument %q", e.toolName, argName))
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", InvalidArguments(fmt.Sprintf("tool %q: argument %q must be a non-empty string", e.toolName, argName))
	}
	return s, nil
}

func (e *extractor) optionalString(argName string) string {
	v, ok := e.raw(argName)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (e *extractor) requiredInt64(argName string) (int64, *Error) {
	v, ok := e.raw(argName)
	if !ok {
		return 0, InvalidArguments(fmt.Sprintf("tool %q: missing required argument %q", e.toolName, argName))
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, InvalidArguments(fmt.Sprintf("tool %q: argument %q must be a number", e.toolName, argName))
	}
	return n, nil
}

func (e *extractor) optionalInt(argName string) int {
	v, ok := e.raw(argName)
	if !ok {
		return 0
	}
	n, _ := toInt64(v)
	return int(n)
}

func (e *extractor) optionalBool(argName string, def bool) bool {
	v, ok := e.raw(argName)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func (e *extractor) requiredInt64Slice(argName string) ([]int64, *Error) {
	v, ok := e.raw(argName)
	if !ok {
		return nil, InvalidArguments(fmt.Sprintf("tool %q: missing required argument %q", e.toolName, argName))
	}
	ids, ok := toInt64Slice(v)
	if !ok {
		return nil, InvalidArguments(fmt.Sprintf("tool %q: argument %q must be an array of numbers", e.toolName, argName))
	}
	return ids, nil
}

func (e *extractor) optionalInt64Slice(argName string) []int64 {
	v, ok := e.raw(argName)
	if !ok {
		return nil
	}
	ids, _ := toInt64Slice(v)
	return ids
}

func (e *extractor) optionalStringSlice(argName string) []string {
	v, ok := e.raw(argName)
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e *extractor) requiredStringSlice(argName string) ([]string, *Error) {
	out := e.optionalStringSlice(argName)
	if len(out) == 0 {
		if _, ok := e.raw(argName); !ok {
			return nil, InvalidArguments(fmt.Sprintf("tool %q: missing required argument %q", e.toolName, argName))
		}
	}
	return out, nil
}

func (e *extractor) optionalDomain(argName string) odoo.Domain {
	v, ok := e.raw(argName)
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	return odoo.Domain(arr)
}

func (e *extractor) optionalMap(argName string) map[string]interface{} {
	v, ok := e.raw(argName)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]interface{})
	return m
}

func (e *extractor) requiredMap(argName string) (map[string]interface{}, *Error) {
	m := e.optionalMap(argName)
	if m == nil {
		return nil, InvalidArguments(fmt.Sprintf("tool %q: missing required argument %q", e.toolName, argName))
	}
	return m, nil
}

func (e *extractor) optionalArray(argName string) []interface{} {
	v, ok := e.raw(argName)
	if !ok {
		return nil
	}
	arr, _ := v.([]interface{})
	return arr
}

func (e *extractor) optionalStringMap(argName string) map[string]string {
	m := e.optionalMap(argName)
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func toInt64Slice(v interface{}) ([]int64, bool) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]int64, 0, len(arr))
	for _, item := range arr {
		n, ok := toInt64(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// buildOptions assembles the limit/offset/order/context keyword-argument
// bundle shared by most Odoo primitives (§3 Options).
func (e *extractor) buildOptions() *odoo.Options {
	return &odoo.Options{
		Limit:   e.optionalInt("limit"),
		Offset:  e.optionalInt("offset"),
		Order:   e.optionalString("order"),
		Context: e.optionalMap("context"),
	}
}
