package tool

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry is the tool set of one agent. Registering a name twice replaces
// the earlier tool but keeps its original position, so Names, Descriptions
// and Specs always follow first-registration order.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds t, replacing any tool already registered under its name.
// It fails when the name is empty or the parameter schema does not compile.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return sserr.Validation("tool: name must not be empty")
	}
	schema, err := compileSchema(t.Name(), t.Parameters())
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeValidation, "tool: invalid parameter schema for %q", t.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.entries[t.Name()] = entry{tool: t, schema: schema}
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.tool, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Descriptions returns "name: description" lines in registration order.
func (r *Registry) Descriptions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, name+": "+r.entries[name].tool.Description())
	}
	return out
}

// Specs returns the language-model advertisement of every tool.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		t := r.entries[name].tool
		out = append(out, Spec{
			Name:        name,
			Description: t.Description(),
			Parameters:  JSONSchema(t.Parameters()),
		})
	}
	return out
}

// Validate applies declared defaults to params and checks the result
// against the tool's schema. It returns [sserr.CodeToolNotFound] for an
// unknown tool and [sserr.CodeValidation] for invalid parameters.
func (r *Registry) Validate(name string, params map[string]any) (map[string]any, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, sserr.UnknownTool(name)
	}

	withDefaults := applyDefaults(e.tool.Parameters(), params)
	instance, err := jsonRoundTrip(withDefaults)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeValidationFormat,
			"tool %q: parameters are not JSON encodable", name)
	}
	if err := e.schema.Validate(instance); err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeValidation, "tool %q: invalid parameters", name)
	}
	return withDefaults, nil
}
