package rpcpipe

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Handler is a registered RPC method body. It receives the pre-validated,
// decoded params and returns a result or an error. Handlers may be
// synchronous or take their time; the server awaits them per connection
// without blocking other connections.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// HandlerDef pairs a Handler with the schema its params must satisfy.
type HandlerDef struct {
	Method  string
	Schema  *jsonschema.Schema
	Handler Handler
}

// Registry is the method-name -> Handler map described in spec section 3.
// Insertion order is irrelevant; re-registration replaces. system.ping is
// never stored here — it is dispatched specially by Server.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*HandlerDef
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*HandlerDef)}
}

// Register adds a typed handler under method, auto-generating a param
// schema from P unless the caller already has one. Re-registering the same
// method replaces the previous handler; there is no identity equality on
// functions to compare against.
func Register[P any](r *Registry, method string, fn func(ctx context.Context, params P) (any, error)) {
	schema := schemaFor[P]()
	r.RegisterRaw(method, schema, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, &paramsError{err}
			}
		}
		return fn(ctx, p)
	})
}

// paramsError marks a failure that must surface as -32602, not -32603.
type paramsError struct{ err error }

func (e *paramsError) Error() string { return e.err.Error() }
func (e *paramsError) Unwrap() error { return e.err }

// RegisterRaw registers a handler that does its own params decoding. Used
// for methods whose params aren't naturally expressed as a single Go
// struct (e.g. forwarding handlers).
func (r *Registry) RegisterRaw(method string, schema *jsonschema.Schema, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = &HandlerDef{Method: method, Schema: schema, Handler: h}
}

// Unregister removes method from the registry, if present.
func (r *Registry) Unregister(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, method)
}

// Lookup returns the handler for method, if registered.
func (r *Registry) Lookup(method string) (*HandlerDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.handlers[method]
	return def, ok
}

// Methods returns the registered method names. Order is not significant
// and is not guaranteed stable across calls.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// schemaFor builds a jsonschema.Schema from a Go struct type by reflection,
// the same field-by-field walk oubliette used for MCP tool schemas,
// generalized to actually validate instead of just describing.
func schemaFor[P any]() *jsonschema.Schema {
	var p P
	t := reflect.TypeOf(p)
	if t == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return &jsonschema.Schema{Type: "object"}
	}

	props := make(map[string]*jsonschema.Schema)
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := field.Name
		omitempty := false
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitempty = true
				}
			}
		}

		props[name] = fieldSchema(field.Type)
		if !omitempty {
			required = append(required, name)
		}
	}

	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func fieldSchema(t reflect.Type) *jsonschema.Schema {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return &jsonschema.Schema{Type: "string"}
	case reflect.Bool:
		return &jsonschema.Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &jsonschema.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &jsonschema.Schema{Type: "number"}
	case reflect.Slice, reflect.Array:
		return &jsonschema.Schema{Type: "array", Items: fieldSchema(t.Elem())}
	case reflect.Map:
		return &jsonschema.Schema{Type: "object"}
	case reflect.Struct:
		return schemaForStructType(t)
	default:
		return &jsonschema.Schema{}
	}
}

// schemaForStructType is the non-generic twin of schemaFor, used for
// nested struct fields discovered during reflection.
func schemaForStructType(t reflect.Type) *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema)
	var required []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := field.Name
		omitempty := false
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitempty = true
				}
			}
		}
		props[name] = fieldSchema(field.Type)
		if !omitempty {
			required = append(required, name)
		}
	}
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

// validateParams checks raw params against schema, returning a -32602-shaped
// error on mismatch. A nil schema (or one with no properties) always passes.
func validateParams(schema *jsonschema.Schema, raw json.RawMessage) error {
	if schema == nil {
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		// A schema that fails to resolve is a programming error in the
		// handler's param struct, not a caller mistake; don't reject the
		// call over it.
		return nil
	}
	var instance any
	if len(raw) == 0 {
		instance = map[string]any{}
	} else if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("params must be a JSON object: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return err
	}
	return nil
}
