// Package flow implements the campaign flow engine: immutable directed
// graphs of prompts loaded once at startup, and a pure evaluator that
// advances a session one node at a time.
package flow

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/kempenbot/internal/wire"
)

var (
	// ErrUnknownFlow is returned for a flow id not present in the registry.
	ErrUnknownFlow = errors.New("unknown flow")
	// ErrUnknownNode is returned for a node id not present in the flow.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNoMatchingEdge is returned when input maps to no outgoing edge.
	// The caller re-emits the current prompt; the turn is never dropped.
	ErrNoMatchingEdge = errors.New("no matching edge")
)

// Definition is one campaign's conversational graph. Definitions are
// loaded once at process start and never mutated; concurrent reads are
// safe without locking.
type Definition struct {
	ID          string           `yaml:"id"`
	Title       string           `yaml:"title"`
	Description string           `yaml:"description"`
	Intents     []string         `yaml:"intents"`
	Start       string           `yaml:"start"`
	Nodes       map[string]*Node `yaml:"nodes"`
}

// Node is a single step in a flow.
type Node struct {
	ID      string              `yaml:"-"`
	Prompt  string              `yaml:"prompt"`
	Buttons []wire.ButtonOption `yaml:"buttons"`

	// Edges maps discrete choice values to target nodes; Intents maps
	// classified intent labels; Default is the fallback edge.
	Edges   map[string]string `yaml:"edges"`
	Intents map[string]string `yaml:"intents"`
	Default string            `yaml:"default"`

	// Capture nodes store validated free input into a profile field and
	// then advance to Next. Underage is an optional reroute for an age
	// answer below 18.
	Field    string  `yaml:"field"`
	Rule     string  `yaml:"rule"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Next     string  `yaml:"next"`
	Underage string  `yaml:"underage"`

	// Set is applied to the profile when the node is entered; Compute
	// names a premium formula evaluated on entry.
	Set     map[string]string `yaml:"set"`
	Compute string            `yaml:"compute"`

	Terminal bool `yaml:"terminal"`
}

// Input is one turn of user input as seen by the evaluator.
type Input struct {
	// Choice is the echoed button value, empty for free text.
	Choice string
	// Text is the raw free-text message.
	Text string
	// Intent is the classified label for free text, if any.
	Intent string
}

// Result is the outcome of evaluating one turn.
type Result struct {
	Next           string
	Messages       []wire.Message
	ProfileUpdates map[string]string
	Terminal       bool
}

// ExpectsChoice reports whether a node's primary input is a discrete
// selection, meaning free text should be classified before stepping.
func (d *Definition) ExpectsChoice(nodeID string) bool {
	node, ok := d.Nodes[nodeID]
	if !ok {
		return false
	}
	return len(node.Buttons) > 0 && node.Field == ""
}

// Render re-emits a node's prompt against the given profile. Used when a
// turn resolves to no edge and the prompt must be repeated.
func (d *Definition) Render(nodeID string, profile map[string]string) ([]wire.Message, error) {
	node, ok := d.Nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownNode, d.ID, nodeID)
	}
	return renderNode(node, profile), nil
}

// Enter produces the messages for a flow's start node.
func (d *Definition) Enter(profile map[string]string) (Result, error) {
	return d.arrive(d.Start, nil, profile)
}

// Step advances the flow by one turn. It is a pure function of its
// arguments: no session state is touched and identical inputs always
// produce identical results.
//
// Edge resolution order: exact choice value, classified intent label,
// field capture, default edge; otherwise ErrNoMatchingEdge.
func (d *Definition) Step(nodeID string, in Input, profile map[string]string) (Result, error) {
	node, ok := d.Nodes[nodeID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s/%s", ErrUnknownNode, d.ID, nodeID)
	}

	value := in.Choice
	if value == "" {
		value = in.Text
	}
	normalized := Normalize(value)

	if target, ok := node.Edges[normalized]; ok {
		return d.arrive(target, nil, profile)
	}
	if in.Intent != "" {
		if target, ok := node.Intents[in.Intent]; ok {
			return d.arrive(target, nil, profile)
		}
	}

	if node.Field != "" {
		canonical, verdict := validate(node, value)
		switch verdict {
		case verdictOK:
			return d.arrive(node.Next, map[string]string{node.Field: canonical}, profile)
		case verdictUnderage:
			if node.Underage != "" {
				return d.arrive(node.Underage, nil, profile)
			}
			fallthrough
		default:
			msgs := []wire.Message{wire.Error{Content: ruleMessage(node)}}
			msgs = append(msgs, renderNode(node, profile)...)
			return Result{Next: nodeID, Messages: msgs}, nil
		}
	}

	if node.Default != "" {
		return d.arrive(node.Default, nil, profile)
	}

	return Result{}, fmt.Errorf("%w: %s/%s input %q", ErrNoMatchingEdge, d.ID, nodeID, value)
}

// arrive enters target, applying static sets and computed fields, and
// renders its prompt against the merged profile view.
func (d *Definition) arrive(target string, updates map[string]string, profile map[string]string) (Result, error) {
	node, ok := d.Nodes[target]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s/%s", ErrUnknownNode, d.ID, target)
	}

	if updates == nil {
		updates = make(map[string]string)
	}
	for k, v := range node.Set {
		updates[k] = v
	}

	merged := make(map[string]string, len(profile)+len(updates))
	for k, v := range profile {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}

	if node.Compute != "" {
		computed, err := evalFormula(node.Compute, merged)
		if err != nil {
			return Result{}, fmt.Errorf("flow %s node %s: %w", d.ID, target, err)
		}
		for k, v := range computed {
			updates[k] = v
			merged[k] = v
		}
	}

	return Result{
		Next:           target,
		Messages:       renderNode(node, merged),
		ProfileUpdates: updates,
		Terminal:       node.Terminal,
	}, nil
}

func renderNode(node *Node, profile map[string]string) []wire.Message {
	if node.Prompt == "" {
		return nil
	}
	content := os.Expand(node.Prompt, func(key string) string {
		return profile[key]
	})
	content = strings.TrimRight(content, "\n")
	if len(node.Buttons) > 0 {
		return []wire.Message{wire.Buttons{Content: content, Options: node.Buttons}}
	}
	return []wire.Message{wire.Text{Content: content}}
}

// Normalize lowercases and underscores input for edge matching, the same
// loose matching the original button values rely on.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
