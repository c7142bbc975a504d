// Package domain holds the core data model shared across the server.
package domain

import (
	"time"
)

// Phase identifies where a session is in the overall conversation.
type Phase string

const (
	// PhaseAwaitingAgent means the user has not yet picked an advisor.
	PhaseAwaitingAgent Phase = "awaiting_agent"
	// PhaseAwaitingProfile means profile fields are being collected.
	PhaseAwaitingProfile Phase = "awaiting_profile"
	// PhaseInFlow means the session is inside a campaign flow.
	PhaseInFlow Phase = "in_flow"
	// PhaseCompleted means a flow finished and the session is terminal.
	PhaseCompleted Phase = "completed"
)

// Agents is the fixed set of advisor identities a user can pick from.
var Agents = []string{"Erica", "Aisyah", "Daniel"}

// KnownAgent reports whether name is one of the fixed advisor identities.
func KnownAgent(name string) bool {
	for _, a := range Agents {
		if a == name {
			return true
		}
	}
	return false
}

// Session is the per-connection conversational state. It is owned and
// mutated exclusively by the dialog machine bound to its connection.
type Session struct {
	ID          string
	ResumeToken string

	Phase       Phase
	Agent       string
	Profile     *Profile
	ActiveFlow  string
	CurrentNode string

	Completed     bool
	PersistedOnce bool

	CreatedAt  time.Time
	LastSeenAt time.Time
}

// NewSession creates a fresh session in the agent-selection phase.
func NewSession(id, resumeToken string, now time.Time) *Session {
	return &Session{
		ID:          id,
		ResumeToken: resumeToken,
		Phase:       PhaseAwaitingAgent,
		Profile:     NewProfile(),
		CreatedAt:   now,
		LastSeenAt:  now,
	}
}

// Reset returns the session to agent selection, clearing collected state.
// Identity and persistence guards survive a reset: a session that already
// wrote its record must not write a second one after restarting.
func (s *Session) Reset() {
	s.Phase = PhaseAwaitingAgent
	s.Agent = ""
	s.Profile = NewProfile()
	s.ActiveFlow = ""
	s.CurrentNode = ""
	s.Completed = false
}
