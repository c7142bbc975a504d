// Package wire implements the JSON wire protocol spoken over the
// WebSocket channel: a small tagged union of message variants plus a
// codec that tolerates the field aliases used by older clients.
package wire

// Message is one protocol message. Variants are immutable value types;
// construct a new one instead of mutating.
type Message interface {
	isMessage()
}

// Text is a plain text message in either direction.
type Text struct {
	Content string
}

// Choice is a discrete selection echoed back by the client after a
// button prompt.
type Choice struct {
	Value string
	Label string
}

// ButtonOption is one selectable option in a button prompt.
type ButtonOption struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// Buttons is a prompt with selectable options.
type Buttons struct {
	Content string
	Options []ButtonOption
}

// Campaign is a campaign card describing one insurance plan.
type Campaign struct {
	Title       string
	Description string
}

// Error is a non-fatal error surfaced to the client. Reset tells the
// client to restart its local conversation view.
type Error struct {
	Content string
	Reset   bool
}

func (Text) isMessage()     {}
func (Choice) isMessage()   {}
func (Buttons) isMessage()  {}
func (Campaign) isMessage() {}
func (Error) isMessage()    {}
