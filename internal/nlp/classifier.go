// Package nlp defines the intent classifier contract and a client for
// the external classifier service. The model behind the service is not
// this server's concern; only the label/confidence contract is.
package nlp

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the classifier cannot be reached or
// does not answer within its deadline. Callers degrade to an explicit
// choice prompt; classification failures never corrupt session state.
var ErrUnavailable = errors.New("intent classifier unavailable")

// Result is a ranked intent label with its confidence in [0,1].
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// SessionContext tells the classifier where in the conversation the
// text was produced, including the choice values currently on offer.
type SessionContext struct {
	SessionID string   `json:"session_id"`
	Flow      string   `json:"flow,omitempty"`
	Node      string   `json:"node,omitempty"`
	Options   []string `json:"options,omitempty"`
}

// Classifier maps free text onto a discrete intent label.
type Classifier interface {
	Classify(ctx context.Context, text string, sctx SessionContext) (Result, error)
}
