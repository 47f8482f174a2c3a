package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-go-golems/docagent/pkg/docstore"
	"github.com/stretchr/testify/require"
)

const specsYAML = `
tools:
  - kind: read
    handler: get
    record_type: Invoice
  - kind: read
    handler: list
    record_type: invoice
    name: search_invoices
    description: Search invoices
  - kind: write
    handler: create
    record_type: invoice
  - kind: custom
    name: send_reminder
    function: sendReminder
    requires_write: true
    description: Send a payment reminder
    parameters:
      type: object
      properties:
        invoice_id:
          type: string
      required: [invoice_id]
    extra_args:
      channel: email
  - kind: custom
    name: missing_symbol
    function: doesNotExist
  - kind: write
    handler: get
    record_type: invoice
  - kind: read
    handler: get
    record_type: Invoice
`

func noopBinding(context.Context, docstore.Store, map[string]interface{}) (interface{}, error) {
	return "ok", nil
}

func loadTestSpecs(t *testing.T) []FunctionSpec {
	t.Helper()
	specs, err := LoadSpecs(strings.NewReader(specsYAML))
	require.NoError(t, err)
	require.Len(t, specs, 7)
	return specs
}

func TestBuildRegistry(t *testing.T) {
	specs := loadTestSpecs(t)
	reg, report := Build(specs, WithSymbols(SymbolTable{"sendReminder": noopBinding}))

	require.Equal(t, []string{"get_invoice", "search_invoices", "create_invoice", "send_reminder"}, reg.Names())

	get, ok := reg.Lookup("get_invoice")
	require.True(t, ok)
	require.False(t, get.RequiresWrite)
	require.NotEmpty(t, get.Description)

	create, ok := reg.Lookup("create_invoice")
	require.True(t, ok)
	require.True(t, create.RequiresWrite)

	custom, ok := reg.Lookup("send_reminder")
	require.True(t, ok)
	require.True(t, custom.RequiresWrite)
	require.Equal(t, "email", custom.ExtraArgs["channel"])

	// missing symbol, wrong handler for kind, duplicate name
	require.Len(t, report.Skipped, 3)
	require.Equal(t, "missing_symbol", report.Skipped[0].Name)
	require.Contains(t, report.Skipped[0].Reason, "unresolved symbol")
	require.Contains(t, report.Skipped[1].Reason, "write tools use")
	require.Equal(t, "get_invoice", report.Skipped[2].Name)
	require.Contains(t, report.Skipped[2].Reason, "duplicate")
	require.Contains(t, report.String(), "missing_symbol")
}

func TestBuildFiltersEnabledTools(t *testing.T) {
	specs := loadTestSpecs(t)
	reg, _ := Build(specs,
		WithSymbols(SymbolTable{"sendReminder": noopBinding}),
		WithEnabled(func(name string) bool { return name == "get_invoice" }),
	)
	require.Equal(t, []string{"get_invoice"}, reg.Names())
}

func TestBuiltinSchemas(t *testing.T) {
	raw, ok := BuiltinSchema(HandlerUpdate)
	require.True(t, ok)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &schema))
	require.Equal(t, "object", schema["type"])
	require.NotContains(t, schema, "$schema")
	props := schema["properties"].(map[string]interface{})
	require.Contains(t, props, "id")
	require.Contains(t, props, "fields")
	require.ElementsMatch(t, []interface{}{"id", "fields"}, schema["required"])
}

func TestValidateArguments(t *testing.T) {
	specs := loadTestSpecs(t)
	reg, _ := Build(specs, WithSymbols(SymbolTable{"sendReminder": noopBinding}))

	tool, _ := reg.Lookup("send_reminder")
	require.NoError(t, tool.ValidateArguments(map[string]interface{}{"invoice_id": "1"}))
	require.Error(t, tool.ValidateArguments(map[string]interface{}{}))
	require.Error(t, tool.ValidateArguments(map[string]interface{}{"invoice_id": 3}))
}

func TestNativeAndExtraTools(t *testing.T) {
	extra, err := NewTool("list_attached_files", "List files", nil, false, noopBinding)
	require.NoError(t, err)

	reg, report := Build(nil,
		WithTools(extra),
		WithNativeTools(NativeCodeInterpreter, NativeFileSearch),
	)
	require.Empty(t, report.Skipped)
	require.Equal(t, 3, reg.Len())
	require.Len(t, reg.Callable(), 1)

	ci, ok := reg.Lookup(NativeCodeInterpreter)
	require.True(t, ok)
	require.True(t, ci.Native)
	require.Nil(t, ci.Binding)
}

func TestLoadSpecsEmpty(t *testing.T) {
	specs, err := LoadSpecs(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, specs)
}
