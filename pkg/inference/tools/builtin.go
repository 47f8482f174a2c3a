package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/docagent/pkg/docstore"
	"github.com/invopop/jsonschema"
)

type getArgs struct {
	ID string `json:"id" jsonschema:"description=Id of the record"`
}

type listArgs struct {
	Filters map[string]interface{} `json:"filters,omitempty" jsonschema:"description=Field values the records must match"`
	Limit   int                    `json:"limit,omitempty" jsonschema:"minimum=0,maximum=200,description=Maximum number of records"`
	Offset  int                    `json:"offset,omitempty" jsonschema:"minimum=0"`
}

type createArgs struct {
	Fields map[string]interface{} `json:"fields" jsonschema:"description=Field values of the new record"`
}

type updateArgs struct {
	ID     string                 `json:"id" jsonschema:"description=Id of the record"`
	Fields map[string]interface{} `json:"fields" jsonschema:"description=Fields to change"`
}

type deleteArgs struct {
	ID string `json:"id" jsonschema:"description=Id of the record to delete"`
}

func reflectSchema(v interface{}) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		Anonymous:                 true,
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	if schema.Type == "" {
		schema.Type = "object"
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return emptyObjectSchema
	}
	return b
}

var builtinSchemas = map[Handler]json.RawMessage{
	HandlerGet:    reflectSchema(&getArgs{}),
	HandlerList:   reflectSchema(&listArgs{}),
	HandlerCreate: reflectSchema(&createArgs{}),
	HandlerUpdate: reflectSchema(&updateArgs{}),
	HandlerDelete: reflectSchema(&deleteArgs{}),
}

// BuiltinSchema returns the parameter schema of a builtin handler.
func BuiltinSchema(h Handler) (json.RawMessage, bool) {
	s, ok := builtinSchemas[h]
	return s, ok
}

// decodeArgs maps the generic argument map onto a handler struct.
func decodeArgs(args map[string]interface{}, out interface{}) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// BuiltinBinding returns the handler bound to recordType.
func BuiltinBinding(h Handler, recordType string) (Binding, error) {
	if recordType == "" {
		return nil, fmt.Errorf("builtin handler %s needs a record type", h)
	}
	switch h {
	case HandlerGet:
		return func(ctx context.Context, store docstore.Store, args map[string]interface{}) (interface{}, error) {
			var a getArgs
			if err := decodeArgs(args, &a); err != nil {
				return nil, err
			}
			if a.ID == "" {
				return nil, fmt.Errorf("id is required")
			}
			return store.Get(ctx, recordType, a.ID)
		}, nil

	case HandlerList:
		return func(ctx context.Context, store docstore.Store, args map[string]interface{}) (interface{}, error) {
			var a listArgs
			if err := decodeArgs(args, &a); err != nil {
				return nil, err
			}
			if a.Limit <= 0 {
				a.Limit = 50
			}
			recs, err := store.List(ctx, recordType, docstore.ListOptions{Filters: a.Filters, Limit: a.Limit, Offset: a.Offset})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"records": recs, "count": len(recs)}, nil
		}, nil

	case HandlerCreate:
		return func(ctx context.Context, store docstore.Store, args map[string]interface{}) (interface{}, error) {
			var a createArgs
			if err := decodeArgs(args, &a); err != nil {
				return nil, err
			}
			return store.Create(ctx, recordType, a.Fields)
		}, nil

	case HandlerUpdate:
		return func(ctx context.Context, store docstore.Store, args map[string]interface{}) (interface{}, error) {
			var a updateArgs
			if err := decodeArgs(args, &a); err != nil {
				return nil, err
			}
			if a.ID == "" {
				return nil, fmt.Errorf("id is required")
			}
			return store.Update(ctx, recordType, a.ID, a.Fields)
		}, nil

	case HandlerDelete:
		return func(ctx context.Context, store docstore.Store, args map[string]interface{}) (interface{}, error) {
			var a deleteArgs
			if err := decodeArgs(args, &a); err != nil {
				return nil, err
			}
			if a.ID == "" {
				return nil, fmt.Errorf("id is required")
			}
			if err := store.Delete(ctx, recordType, a.ID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": a.ID, "deleted": true}, nil
		}, nil
	}
	return nil, fmt.Errorf("unknown builtin handler %q", h)
}
