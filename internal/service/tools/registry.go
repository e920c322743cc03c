// Package tools holds the tool catalog and the invoker that dispatches
// validated, audited tool calls for the pipeline's tool loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Tool is one callable entry in the catalog. ParameterSchema is a JSON
// Schema document; parameters are validated against it before execution.
type Tool struct {
	ID              string
	Name            string
	Category        string
	Description     string
	ParameterSchema string
	Timeout         time.Duration
	Execute         func(ctx context.Context, params map[string]any) (any, error)

	schema *jsonschema.Schema
}

// ValidateParams checks params against the tool's compiled schema.
func (t *Tool) ValidateParams(params map[string]any) error {
	if t.schema == nil {
		return nil
	}
	// Round-trip through JSON so validation sees the same value shapes a
	// decoded request body would have.
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	v, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	return t.schema.Validate(v)
}

// Info is the catalog listing form of a tool.
type Info struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Description     string          `json:"description,omitempty"`
	ParameterSchema json.RawMessage `json:"parameter_schema,omitempty"`
}

// Registry is the concurrent tool catalog.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty catalog.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles the tool's parameter schema and adds it to the catalog.
// Re-registering an existing id replaces the entry.
func (r *Registry) Register(t *Tool) error {
	if t.ID == "" {
		return fmt.Errorf("tool id is required")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %s: execute function is required", t.ID)
	}
	if t.ParameterSchema != "" {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(t.ParameterSchema))
		if err != nil {
			return fmt.Errorf("tool %s: parse schema: %w", t.ID, err)
		}
		compiler := jsonschema.NewCompiler()
		resource := t.ID + ".json"
		if err := compiler.AddResource(resource, doc); err != nil {
			return fmt.Errorf("tool %s: add schema: %w", t.ID, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", t.ID, err)
		}
		t.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.ID] = t
	return nil
}

// Get looks up a tool by id.
func (r *Registry) Get(id string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

// List returns the catalog sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for _, t := range r.tools {
		info := Info{ID: t.ID, Name: t.Name, Category: t.Category, Description: t.Description}
		if t.ParameterSchema != "" {
			info.ParameterSchema = json.RawMessage(t.ParameterSchema)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Categories returns the distinct categories in sorted order.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, t := range r.tools {
		if t.Category != "" {
			seen[t.Category] = struct{}{}
		}
	}
	cats := make([]string, 0, len(seen))
	for c := range seen {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}
