// Package registry loads the action schemas that define the legal canvas actions.
//
// Each schema is a JSON document with a name, a description, a category and a
// JSON Schema "parameters" object. Parameters are validated with
// santhosh-tekuri/jsonschema before any action is dispatched.
package registry

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var builtinFS embed.FS

// Category groups actions that share one engine operation.
type Category string

const (
	CategoryCreate     Category = "create"
	CategoryDraw       Category = "draw"
	CategoryTransform  Category = "transform"
	CategoryGraph      Category = "graph"
	CategoryBackground Category = "background"
	CategoryClear      Category = "clear"
	CategoryRender     Category = "render"
	CategoryExport     Category = "export"
)

// Categories lists every known category.
func Categories() []Category {
	return []Category{
		CategoryCreate, CategoryDraw, CategoryTransform, CategoryGraph,
		CategoryBackground, CategoryClear, CategoryRender, CategoryExport,
	}
}

func (c Category) valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

var (
	// ErrUnknownAction is returned for names missing from the registry.
	ErrUnknownAction = errors.New("registry: unknown action")
)

// Schema describes one action.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    Category        `json:"category"`
	Parameters  json.RawMessage `json:"parameters"`

	raw      []byte
	compiled *jsonschema.Schema
}

// Module is the introspection view of a schema.
type Module struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ValidationError reports why params do not satisfy an action schema.
type ValidationError struct {
	Action     string
	Violations []string
	cause      error
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("invalid params for %s", e.Action)
	}
	return fmt.Sprintf("invalid params for %s: %s", e.Action, strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Unwrap() error { return e.cause }

// Registry is an immutable set of compiled action schemas.
type Registry struct {
	schemas map[string]*Schema
	names   []string
}

// Load returns the built-in action catalogue.
func Load() (*Registry, error) {
	return LoadFS(builtinFS, "schemas")
}

// LoadDir loads every *.json schema in dir.
func LoadDir(dir string) (*Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return Load()
	}
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS loads every *.json schema under root in fsys.
func LoadFS(fsys fs.FS, root string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}

	reg := &Registry{schemas: make(map[string]*Schema)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		schema, err := parseSchema(entry.Name(), data)
		if err != nil {
			return nil, err
		}
		if _, exists := reg.schemas[schema.Name]; exists {
			return nil, fmt.Errorf("schema %s: duplicate action name %q", entry.Name(), schema.Name)
		}
		reg.schemas[schema.Name] = schema
		reg.names = append(reg.names, schema.Name)
	}
	if len(reg.names) == 0 {
		return nil, fmt.Errorf("no schemas found in %s", root)
	}
	sort.Strings(reg.names)
	return reg, nil
}

func parseSchema(file string, data []byte) (*Schema, error) {
	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", file, err)
	}
	schema.Name = strings.TrimSpace(schema.Name)
	if schema.Name == "" {
		return nil, fmt.Errorf("schema %s: name is required", file)
	}
	if !schema.Category.valid() {
		return nil, fmt.Errorf("schema %s: unknown category %q", file, schema.Category)
	}
	if len(bytes.TrimSpace(schema.Parameters)) == 0 {
		schema.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
	}

	compiled, err := jsonschema.CompileString("action_"+schema.Name, string(schema.Parameters))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", file, err)
	}
	schema.compiled = compiled
	schema.raw = append([]byte(nil), data...)
	return &schema, nil
}

// Get returns the schema for name.
func (r *Registry) Get(name string) (*Schema, bool) {
	schema, ok := r.schemas[name]
	return schema, ok
}

// Names returns all action names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// List returns all schemas sorted by name.
func (r *Registry) List() []*Schema {
	out := make([]*Schema, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.schemas[name])
	}
	return out
}

// Modules returns the introspection listing.
func (r *Registry) Modules() []Module {
	out := make([]Module, 0, len(r.names))
	for _, schema := range r.List() {
		out = append(out, Module{
			Name:        schema.Name,
			Description: schema.Description,
			Parameters:  schema.Parameters,
		})
	}
	return out
}

// Raw returns the schema document exactly as loaded.
func (r *Registry) Raw(name string) ([]byte, bool) {
	schema, ok := r.schemas[name]
	if !ok {
		return nil, false
	}
	return schema.raw, true
}

// Validate checks params against the schema for name.
func (r *Registry) Validate(name string, params map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return schema.Validate(params)
}

// Validate checks params against this schema.
func (s *Schema) Validate(params map[string]any) error {
	doc, err := normalize(params)
	if err != nil {
		return &ValidationError{Action: s.Name, Violations: []string{err.Error()}, cause: err}
	}
	if err := s.compiled.Validate(doc); err != nil {
		return &ValidationError{Action: s.Name, Violations: violations(err), cause: err}
	}
	return nil
}

// normalize converts Go values into the JSON shapes the validator understands.
func normalize(params map[string]any) (any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("params are not JSON encodable: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func violations(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	for _, unit := range ve.BasicOutput().Errors {
		if unit.Error == "" || strings.HasPrefix(unit.Error, "doesn't validate with") {
			continue
		}
		location := unit.InstanceLocation
		if location == "" {
			location = "/"
		}
		out = append(out, location+": "+unit.Error)
	}
	if len(out) == 0 {
		out = append(out, ve.Error())
	}
	return out
}
