// Package toolrunner implements the Tool Runner (C5): single-tool
// invocation with schema validation, policy authorization, sandbox
// selection, timeout enforcement, and result shaping. It never writes to
// the event log, publishes to the bus, or mutates a session — those are
// the engine's responsibility, so the runner stays reusable outside an
// execution.
package toolrunner

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// Tool is one invocable tool: its definition plus the function that
// actually runs it. Handler receives already-validated, already
// policy-approved arguments.
type Tool struct {
	Definition models.ToolDefinition
	Handler    func(ctx *InvocationContext, arguments json.RawMessage) (output string, err error)
}

// Registry holds every tool the engine can call, keyed by name, with a
// compiled JSON schema per tool for argument validation.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles the tool's JSON schema and adds it to the registry.
// Replaces any existing tool of the same name.
func (r *Registry) Register(t Tool) error {
	compiled, err := compileSchema(t.Definition.Name, t.Definition.Parameters)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition.Name] = t
	r.schemas[t.Definition.Name] = compiled
	return nil
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Lookup finds a tool and its compiled schema by name.
func (r *Registry) Lookup(name string) (Tool, *jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, nil, false
	}
	return t, r.schemas[name], true
}

// Definitions returns every registered tool's definition, for passing to
// the planner.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	return out
}

func compileSchema(name string, schemaJSON json.RawMessage) (*jsonschema.Schema, error) {
	if len(schemaJSON) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	res := "tool://" + name
	if err := c.AddResource(res, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(res)
}
