package tools

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator checks tool arguments against their declared schemas.
// Compiled schemas are cached per tool name; re-registration under the
// same name invalidates nothing because schemas are compiled from the
// tool instance passed in, keyed by pointer identity.
type Validator struct {
	mu    sync.Mutex
	cache map[*Tool]*jsonschema.Schema
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{cache: make(map[*Tool]*jsonschema.Schema)}
}

// ValidateArgs checks args against the tool's schema. A nil schema
// accepts anything. Violations come back as invalid_arguments failures
// naming the offending fields.
func (v *Validator) ValidateArgs(tool *Tool, args map[string]any) error {
	if tool.Schema == nil {
		return nil
	}
	sch, err := v.compiled(tool)
	if err != nil {
		return Failf(ErrCodeInvalidArguments, "tool %q schema is invalid: %v", tool.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := sch.Validate(normalize(args)); err != nil {
		return Failf(ErrCodeInvalidArguments, "tool %q: %s", tool.Name, describeValidation(err))
	}
	return nil
}

func (v *Validator) compiled(tool *Tool) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sch, ok := v.cache[tool]; ok {
		return sch, nil
	}
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("tool:///%s.json", tool.Name)
	if err := c.AddResource(url, tool.Schema.ToJSONSchema()); err != nil {
		return nil, err
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	v.cache[tool] = sch
	return sch, nil
}

// normalize converts argument values to the shapes the validator expects.
// Model-produced arguments arrive JSON-decoded already; this covers ints
// handed in directly by tests and internal callers.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return v
	}
}

// describeValidation flattens a validation error into one line naming the
// failing locations.
func describeValidation(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var parts []string
	collectCauses(ve, &parts)
	if len(parts) == 0 {
		return ve.Error()
	}
	return strings.Join(parts, "; ")
}

func collectCauses(ve *jsonschema.ValidationError, parts *[]string) {
	if len(ve.Causes) == 0 {
		*parts = append(*parts, ve.Error())
		return
	}
	for _, c := range ve.Causes {
		collectCauses(c, parts)
	}
}
