package tools

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindRead   Kind = "read"
	KindWrite  Kind = "write"
	KindCustom Kind = "custom"
)

type Handler string

const (
	HandlerGet    Handler = "get"
	HandlerList   Handler = "list"
	HandlerCreate Handler = "create"
	HandlerUpdate Handler = "update"
	HandlerDelete Handler = "delete"
)

// FunctionSpec is the declarative form of a tool, usually loaded from YAML.
//
//	- kind: write
//	  handler: create
//	  record_type: invoice
//	  description: Create an invoice
type FunctionSpec struct {
	Name        string                 `yaml:"name,omitempty"`
	Description string                 `yaml:"description,omitempty"`
	Kind        Kind                   `yaml:"kind"`
	Handler     Handler                `yaml:"handler,omitempty"`
	RecordType  string                 `yaml:"record_type,omitempty"`
	Parameters  map[string]interface{} `yaml:"parameters,omitempty"`
	// Function names the symbol table entry of a custom tool.
	Function string `yaml:"function,omitempty"`
	// RequiresWrite is only read for custom tools.
	RequiresWrite bool                   `yaml:"requires_write,omitempty"`
	ExtraArgs     map[string]interface{} `yaml:"extra_args,omitempty"`
}

type specFile struct {
	Tools []FunctionSpec `yaml:"tools"`
}

// LoadSpecs reads a YAML document with a top-level `tools` list.
func LoadSpecs(r io.Reader) ([]FunctionSpec, error) {
	var f specFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "could not parse tool specs")
	}
	return f.Tools, nil
}

func LoadSpecsFile(path string) ([]FunctionSpec, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	defer func() { _ = fd.Close() }()
	return LoadSpecs(fd)
}

func parametersOf(spec FunctionSpec) (json.RawMessage, error) {
	if len(spec.Parameters) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(spec.Parameters)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode parameter schema")
	}
	return b, nil
}
