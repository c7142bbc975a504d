package flow

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed definitions/*.yaml
var definitionFS embed.FS

// Registry holds every campaign flow, loaded once at process start and
// shared read-only across all sessions.
type Registry struct {
	flows map[string]*Definition
	order []string
}

// LoadBuiltin parses and validates the embedded flow definitions.
func LoadBuiltin() (*Registry, error) {
	entries, err := definitionFS.ReadDir("definitions")
	if err != nil {
		return nil, fmt.Errorf("read flow definitions: %w", err)
	}

	reg := &Registry{flows: make(map[string]*Definition)}
	type ordered struct {
		id    string
		order int
	}
	var menu []ordered

	for _, entry := range entries {
		raw, err := definitionFS.ReadFile("definitions/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		var def struct {
			Definition `yaml:",inline"`
			Order      int `yaml:"order"`
		}
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		d := def.Definition
		if d.ID == "" {
			return nil, fmt.Errorf("%s: missing flow id", entry.Name())
		}
		if _, dup := reg.flows[d.ID]; dup {
			return nil, fmt.Errorf("duplicate flow id %q", d.ID)
		}
		for id, node := range d.Nodes {
			node.ID = id
		}
		if err := d.validateGraph(); err != nil {
			return nil, fmt.Errorf("flow %s: %w", d.ID, err)
		}
		reg.flows[d.ID] = &d
		menu = append(menu, ordered{id: d.ID, order: def.Order})
	}

	sort.Slice(menu, func(i, j int) bool { return menu[i].order < menu[j].order })
	for _, m := range menu {
		reg.order = append(reg.order, m.id)
	}
	return reg, nil
}

// Get returns the flow with the given id.
func (r *Registry) Get(id string) (*Definition, bool) {
	d, ok := r.flows[id]
	return d, ok
}

// All returns every flow in menu order.
func (r *Registry) All() []*Definition {
	out := make([]*Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.flows[id])
	}
	return out
}

// ByIntent resolves a classified intent label to the flow it selects.
// A flow's own id always selects it.
func (r *Registry) ByIntent(label string) (*Definition, bool) {
	normalized := Normalize(label)
	if d, ok := r.flows[normalized]; ok {
		return d, true
	}
	for _, d := range r.flows {
		for _, intent := range d.Intents {
			if intent == normalized {
				return d, true
			}
		}
	}
	return nil, false
}

// validateGraph checks the closure property at load time: every edge of
// every node must point at a node that exists, and every referenced
// formula must be registered. A definition that fails here never
// reaches a session.
func (d *Definition) validateGraph() error {
	if _, ok := d.Nodes[d.Start]; !ok {
		return fmt.Errorf("start node %q not defined", d.Start)
	}
	hasTerminal := false
	for id, node := range d.Nodes {
		for value, target := range node.Edges {
			if _, ok := d.Nodes[target]; !ok {
				return fmt.Errorf("node %s: edge %q targets unknown node %q", id, value, target)
			}
		}
		for label, target := range node.Intents {
			if _, ok := d.Nodes[target]; !ok {
				return fmt.Errorf("node %s: intent %q targets unknown node %q", id, label, target)
			}
		}
		if node.Default != "" {
			if _, ok := d.Nodes[node.Default]; !ok {
				return fmt.Errorf("node %s: default targets unknown node %q", id, node.Default)
			}
		}
		if node.Underage != "" {
			if _, ok := d.Nodes[node.Underage]; !ok {
				return fmt.Errorf("node %s: underage targets unknown node %q", id, node.Underage)
			}
		}
		if node.Field != "" {
			if node.Next == "" {
				return fmt.Errorf("node %s: capture node without next", id)
			}
			if _, ok := d.Nodes[node.Next]; !ok {
				return fmt.Errorf("node %s: next targets unknown node %q", id, node.Next)
			}
		}
		if node.Compute != "" {
			if _, ok := formulas[node.Compute]; !ok {
				return fmt.Errorf("node %s: unknown formula %q", id, node.Compute)
			}
		}
		if node.Terminal {
			hasTerminal = true
		}
	}
	if !hasTerminal {
		return fmt.Errorf("no terminal node")
	}
	return nil
}
