package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-go-golems/docagent/pkg/docstore"
	"github.com/xeipuuv/gojsonschema"
)

// Binding is the executable behind a tool. It receives the store the
// executor picked for this call, which is a discardable scope for dry runs.
type Binding func(ctx context.Context, store docstore.Store, args map[string]interface{}) (interface{}, error)

// Tool is a catalog entry. Tools are built once by Build and not modified
// afterwards.
type Tool struct {
	Name          string
	Description   string
	Parameters    json.RawMessage
	RequiresWrite bool
	ExtraArgs     map[string]interface{}
	// Native tools are executed by the backend itself and have no binding.
	Native  bool
	Binding Binding

	schema *gojsonschema.Schema
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// NewTool compiles the parameter schema of a tool.
func NewTool(name, description string, parameters json.RawMessage, requiresWrite bool, binding Binding) (Tool, error) {
	t := Tool{
		Name:          name,
		Description:   description,
		Parameters:    parameters,
		RequiresWrite: requiresWrite,
		Binding:       binding,
	}
	if err := t.compile(); err != nil {
		return Tool{}, err
	}
	return t, nil
}

func (t *Tool) compile() error {
	if t.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if len(t.Parameters) == 0 {
		t.Parameters = emptyObjectSchema
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.Parameters))
	if err != nil {
		return fmt.Errorf("invalid parameter schema for %s: %w", t.Name, err)
	}
	t.schema = schema
	return nil
}

// ValidateArguments checks args against the parameter schema.
func (t Tool) ValidateArguments(args map[string]interface{}) error {
	if t.schema == nil {
		return nil
	}
	res, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid arguments for %s: %s", t.Name, strings.Join(msgs, "; "))
}

// ParametersMap decodes the schema, for backends that want a generic map.
func (t Tool) ParametersMap() map[string]interface{} {
	m := map[string]interface{}{}
	if err := json.Unmarshal(t.Parameters, &m); err != nil || len(m) == 0 {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return m
}

const (
	NativeCodeInterpreter = "code_interpreter"
	NativeFileSearch      = "file_search"
)

// NativeTool declares a backend-executed tool.
func NativeTool(name string) Tool {
	return Tool{Name: name, Native: true, Parameters: emptyObjectSchema}
}
