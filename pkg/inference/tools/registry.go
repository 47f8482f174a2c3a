package tools

import (
	"fmt"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/rs/zerolog/log"
)

// Registry is an immutable tool catalog. It is safe for concurrent use
// because nothing mutates it after Build returns.
type Registry struct {
	tools map[string]Tool
	order []string
}

// Lookup retrieves a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	if r == nil {
		return nil
	}
	out := make([]Tool, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tools[n])
	}
	return out
}

// Callable returns the tools with a local binding, leaving out native ones.
func (r *Registry) Callable() []Tool {
	var out []Tool
	for _, t := range r.List() {
		if !t.Native {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// SymbolTable resolves custom tool names to bindings.
type SymbolTable map[string]Binding

// Skipped records a spec that did not make it into the catalog.
type Skipped struct {
	Name   string
	Reason string
}

// Report lists the specs Build dropped.
type Report struct {
	Skipped []Skipped
}

func (r *Report) skip(name, reason string) {
	r.Skipped = append(r.Skipped, Skipped{Name: name, Reason: reason})
	log.Warn().Str("tool", name).Str("reason", reason).Msg("skipping tool")
}

func (r *Report) String() string {
	if r == nil || len(r.Skipped) == 0 {
		return "no tools skipped"
	}
	parts := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		parts = append(parts, fmt.Sprintf("%s: %s", s.Name, s.Reason))
	}
	return strings.Join(parts, "; ")
}

type buildConfig struct {
	symbols SymbolTable
	enabled func(string) bool
	extra   []Tool
	native  []string
}

type BuildOption func(*buildConfig)

func WithSymbols(symbols SymbolTable) BuildOption {
	return func(c *buildConfig) { c.symbols = symbols }
}

// WithEnabled filters the catalog by name.
func WithEnabled(enabled func(name string) bool) BuildOption {
	return func(c *buildConfig) { c.enabled = enabled }
}

// WithTools adds prebuilt tools, for example attachment readers.
func WithTools(tools ...Tool) BuildOption {
	return func(c *buildConfig) { c.extra = append(c.extra, tools...) }
}

// WithNativeTools declares backend-executed tools by name.
func WithNativeTools(names ...string) BuildOption {
	return func(c *buildConfig) { c.native = append(c.native, names...) }
}

// Build turns specs into a Registry. Problems with individual specs are
// collected in the report; the first tool registered under a name wins.
func Build(specs []FunctionSpec, opts ...BuildOption) (*Registry, *Report) {
	cfg := &buildConfig{}
	for _, o := range opts {
		o(cfg)
	}
	reg := &Registry{tools: map[string]Tool{}}
	report := &Report{}

	add := func(t Tool) {
		if cfg.enabled != nil && !cfg.enabled(t.Name) {
			log.Debug().Str("tool", t.Name).Msg("tool not enabled")
			return
		}
		if _, exists := reg.tools[t.Name]; exists {
			report.skip(t.Name, "duplicate tool name")
			return
		}
		reg.tools[t.Name] = t
		reg.order = append(reg.order, t.Name)
	}

	for i, spec := range specs {
		t, err := toolFromSpec(spec, cfg.symbols)
		if err != nil {
			name := spec.Name
			if name == "" {
				name = fmt.Sprintf("spec #%d", i)
			}
			report.skip(name, err.Error())
			continue
		}
		add(t)
	}
	for _, t := range cfg.extra {
		if err := t.compile(); err != nil {
			report.skip(t.Name, err.Error())
			continue
		}
		add(t)
	}
	for _, n := range cfg.native {
		add(NativeTool(n))
	}

	log.Debug().Int("tools", reg.Len()).Int("skipped", len(report.Skipped)).Msg("built tool registry")
	return reg, report
}

func toolFromSpec(spec FunctionSpec, symbols SymbolTable) (Tool, error) {
	var (
		t   Tool
		err error
	)
	switch spec.Kind {
	case KindRead, KindWrite:
		t, err = genericTool(spec)
	case KindCustom:
		t, err = customTool(spec, symbols)
	default:
		return Tool{}, fmt.Errorf("unknown kind %q", spec.Kind)
	}
	if err != nil {
		return Tool{}, err
	}
	t.ExtraArgs = spec.ExtraArgs
	if err := t.compile(); err != nil {
		return Tool{}, err
	}
	return t, nil
}

func genericTool(spec FunctionSpec) (Tool, error) {
	switch spec.Kind {
	case KindRead:
		if spec.Handler != HandlerGet && spec.Handler != HandlerList {
			return Tool{}, fmt.Errorf("read tools use get or list, not %q", spec.Handler)
		}
	case KindWrite:
		if spec.Handler != HandlerCreate && spec.Handler != HandlerUpdate && spec.Handler != HandlerDelete {
			return Tool{}, fmt.Errorf("write tools use create, update or delete, not %q", spec.Handler)
		}
	}
	binding, err := BuiltinBinding(spec.Handler, spec.RecordType)
	if err != nil {
		return Tool{}, err
	}

	name := spec.Name
	if name == "" {
		name = string(spec.Handler) + "_" + strcase.ToSnake(spec.RecordType)
	}
	desc := spec.Description
	if desc == "" {
		desc = fmt.Sprintf("%s %s records", strcase.ToCamel(string(spec.Handler)), spec.RecordType)
	}
	params, err := parametersOf(spec)
	if err != nil {
		return Tool{}, err
	}
	if params == nil {
		params, _ = BuiltinSchema(spec.Handler)
	}

	return Tool{
		Name:          name,
		Description:   desc,
		Parameters:    params,
		RequiresWrite: spec.Kind == KindWrite,
		Binding:       binding,
	}, nil
}

func customTool(spec FunctionSpec, symbols SymbolTable) (Tool, error) {
	symbol := spec.Function
	if symbol == "" {
		symbol = spec.Name
	}
	if symbol == "" {
		return Tool{}, fmt.Errorf("custom tool without name or function")
	}
	binding, ok := symbols[symbol]
	if !ok || binding == nil {
		return Tool{}, fmt.Errorf("unresolved symbol %q", symbol)
	}
	name := spec.Name
	if name == "" {
		name = strcase.ToSnake(symbol)
	}
	params, err := parametersOf(spec)
	if err != nil {
		return Tool{}, err
	}
	return Tool{
		Name:          name,
		Description:   spec.Description,
		Parameters:    params,
		RequiresWrite: spec.RequiresWrite,
		Binding:       binding,
	}, nil
}
