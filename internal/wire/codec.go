package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedPayload is returned when an inbound frame has no
// recognizable structural shape. Unknown extra fields are not an error.
var ErrMalformedPayload = errors.New("malformed payload")

// inbound is the permissive shape accepted from the wire. Older clients
// send the text payload under "content", "message", or "text"; the first
// non-empty field wins, in that priority order.
type inbound struct {
	Type        string          `json:"type"`
	Content     string          `json:"content"`
	Message     string          `json:"message"`
	Text        string          `json:"text"`
	Value       json.RawMessage `json:"value"`
	Label       string          `json:"label"`
	Buttons     []ButtonOption  `json:"buttons"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Reset       bool            `json:"reset"`
}

// outbound is the canonical encoded shape. Field order is fixed so that
// equal Message values always encode to identical bytes.
type outbound struct {
	Content     string         `json:"content,omitempty"`
	Type        string         `json:"type,omitempty"`
	Value       string         `json:"value,omitempty"`
	Label       string         `json:"label,omitempty"`
	Buttons     []ButtonOption `json:"buttons,omitempty"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Reset       bool           `json:"reset,omitempty"`
}

// Decode normalizes a raw frame into a Message.
func Decode(raw []byte) (Message, error) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	text := firstNonEmpty(in.Content, in.Message, in.Text)

	switch in.Type {
	case "choice":
		value := rawToString(in.Value)
		if value == "" && in.Label == "" {
			return nil, fmt.Errorf("%w: choice without value or label", ErrMalformedPayload)
		}
		return Choice{Value: value, Label: in.Label}, nil
	case "buttons":
		if text == "" && len(in.Buttons) == 0 {
			return nil, fmt.Errorf("%w: buttons without content or options", ErrMalformedPayload)
		}
		return Buttons{Content: text, Options: in.Buttons}, nil
	case "campaign":
		if in.Title == "" && in.Description == "" {
			return nil, fmt.Errorf("%w: campaign without title", ErrMalformedPayload)
		}
		return Campaign{Title: in.Title, Description: in.Description}, nil
	case "error":
		if text == "" {
			return nil, fmt.Errorf("%w: error without content", ErrMalformedPayload)
		}
		return Error{Content: text, Reset: in.Reset}, nil
	}

	// Plain text, including frames with an unrecognized type tag.
	if text == "" {
		return nil, fmt.Errorf("%w: no text payload", ErrMalformedPayload)
	}
	return Text{Content: text}, nil
}

// Encode renders a Message into its canonical wire form. Encoding is
// deterministic: equal messages produce identical bytes.
func Encode(msg Message) ([]byte, error) {
	var out outbound
	switch m := msg.(type) {
	case Text:
		out.Content = m.Content
	case Choice:
		out.Type = "choice"
		out.Value = m.Value
		out.Label = m.Label
	case Buttons:
		out.Type = "buttons"
		out.Content = m.Content
		out.Buttons = m.Options
	case Campaign:
		out.Type = "campaign"
		out.Title = m.Title
		out.Description = m.Description
	case Error:
		out.Type = "error"
		out.Content = m.Content
		out.Reset = m.Reset
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", msg)
	}
	return json.Marshal(out)
}

// Kind returns the wire type tag of a message. Plain text has an empty
// kind, matching its omitted "type" field on the wire.
func Kind(msg Message) string {
	switch msg.(type) {
	case Choice:
		return "choice"
	case Buttons:
		return "buttons"
	case Campaign:
		return "campaign"
	case Error:
		return "error"
	default:
		return ""
	}
}

// Fingerprint identifies a message by content and type for duplicate
// suppression. Equal messages always fingerprint identically.
func Fingerprint(msg Message) string {
	var content string
	switch m := msg.(type) {
	case Text:
		content = m.Content
	case Choice:
		content = m.Value + "\x00" + m.Label
	case Buttons:
		content = m.Content
	case Campaign:
		content = m.Title + "\x00" + m.Description
	case Error:
		content = m.Content
	}
	return Kind(msg) + "\x1f" + content
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// rawToString accepts both string and numeric button values; some
// clients echo numeric values unquoted.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}
