// Package dialog implements the per-session dialogue state machine. One
// Machine owns one Session; no other component mutates session state.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/kempenbot/internal/domain"
	"github.com/ashureev/kempenbot/internal/flow"
	"github.com/ashureev/kempenbot/internal/nlp"
	"github.com/ashureev/kempenbot/internal/sheet"
	"github.com/ashureev/kempenbot/internal/wire"
)

// Config holds the tunables of a dialog machine.
type Config struct {
	// ConfidenceThreshold is the minimum classifier confidence accepted
	// as a match; below it the machine re-prompts instead of guessing.
	ConfidenceThreshold float64
	ClassifyTimeout     time.Duration
	PersistTimeout      time.Duration
	DedupWindow         time.Duration
	DedupSize           int
}

// DefaultConfig returns default dialog configuration.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.55,
		ClassifyTimeout:     5 * time.Second,
		PersistTimeout:      10 * time.Second,
		DedupWindow:         2 * time.Second,
		DedupSize:           10,
	}
}

// Machine drives one session through agent selection, profile intake,
// a campaign flow, and the terminal persistence hand-off.
type Machine struct {
	sess       *domain.Session
	flows      *flow.Registry
	classifier nlp.Classifier
	gateway    sheet.Gateway
	cfg        Config
	dedup      *suppressor
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a machine bound to sess. The machine assumes exclusive
// ownership of the session.
func New(sess *domain.Session, flows *flow.Registry, classifier nlp.Classifier, gateway sheet.Gateway, cfg Config, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		sess:       sess,
		flows:      flows,
		classifier: classifier,
		gateway:    gateway,
		cfg:        cfg,
		dedup:      newSuppressor(cfg.DedupSize, cfg.DedupWindow, nil),
		logger:     logger,
		now:        time.Now,
	}
}

// Session exposes the owned session for registry bookkeeping. Callers
// must not mutate it.
func (m *Machine) Session() *domain.Session {
	return m.sess
}

// Handle processes one inbound message and returns the outbound
// messages to emit. It is not safe for concurrent use; the connection
// worker calls it serially, in arrival order.
func (m *Machine) Handle(ctx context.Context, in wire.Message) []wire.Message {
	m.sess.LastSeenAt = m.now()
	return m.filter(m.dispatch(ctx, in))
}

// Prompt re-emits the prompt for the session's current state, used when
// a client reconnects and resumes.
func (m *Machine) Prompt() []wire.Message {
	return m.filter(m.currentPrompt())
}

func (m *Machine) dispatch(ctx context.Context, in wire.Message) []wire.Message {
	if isResetCommand(in) {
		m.sess.Reset()
		return append(
			[]wire.Message{wire.Error{Content: "Returning to main menu. Let's start again!", Reset: true}},
			m.greeting()...,
		)
	}

	switch m.sess.Phase {
	case domain.PhaseAwaitingAgent:
		return m.handleAgentSelection(in)
	case domain.PhaseAwaitingProfile:
		return m.handleProfile(ctx, in)
	case domain.PhaseInFlow:
		return m.handleInFlow(ctx, in)
	case domain.PhaseCompleted:
		return m.handleCompleted(ctx)
	default:
		m.logger.Error("session in unknown phase", "session_id", m.sess.ID, "phase", m.sess.Phase)
		m.sess.Reset()
		return m.greeting()
	}
}

func (m *Machine) handleAgentSelection(in wire.Message) []wire.Message {
	if choice, ok := in.(wire.Choice); ok {
		for _, agent := range domain.Agents {
			if flow.Normalize(choice.Value) == flow.Normalize(agent) {
				m.sess.Agent = agent
				m.sess.Phase = domain.PhaseAwaitingProfile
				return []wire.Message{wire.Text{
					Content: fmt.Sprintf("Nice to meet you! I'm %s, your virtual advisor. What's your name?", agent),
				}}
			}
		}
	}
	// Anything else re-prompts; no state change.
	return m.greeting()
}

func (m *Machine) handleProfile(ctx context.Context, in wire.Message) []wire.Message {
	text := inputText(in)

	if _, ok := m.sess.Profile.Get("name"); !ok {
		name := strings.TrimSpace(text)
		if name == "" {
			return []wire.Message{
				wire.Error{Content: "Sorry, I didn't catch that."},
				wire.Text{Content: "What's your name?"},
			}
		}
		m.sess.Profile.Set("name", name)
		return []wire.Message{wire.Text{
			Content: fmt.Sprintf("Thanks, %s! May I know your age? (18-70 years)", name),
		}}
	}

	if _, ok := m.sess.Profile.Get("age"); !ok {
		age, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil || age < 18 || age > 70 {
			return []wire.Message{
				wire.Error{Content: "Please enter a valid age between 18 and 70."},
				wire.Text{Content: "May I know your age? (18-70 years)"},
			}
		}
		m.sess.Profile.Set("age", strconv.Itoa(age))
		return m.campaignMenu()
	}

	return m.handleCampaignSelection(ctx, in)
}

// handleCampaignSelection resolves the user's plan choice, classifying
// free text when it names no plan directly.
func (m *Machine) handleCampaignSelection(ctx context.Context, in wire.Message) []wire.Message {
	if choice, ok := in.(wire.Choice); ok {
		if def, ok := m.flows.ByIntent(choice.Value); ok {
			return m.enterFlow(def)
		}
		return m.campaignMenu()
	}

	text := inputText(in)
	if def, ok := m.flows.ByIntent(text); ok {
		return m.enterFlow(def)
	}

	label, matched, err := m.classify(ctx, text, nlp.SessionContext{
		SessionID: m.sess.ID,
		Options:   m.campaignIDs(),
	})
	if err != nil {
		return append(
			[]wire.Message{wire.Text{Content: "Please choose one of the options below."}},
			m.campaignMenu()...,
		)
	}
	if matched {
		if def, ok := m.flows.ByIntent(label); ok {
			return m.enterFlow(def)
		}
	}
	return append(
		[]wire.Message{wire.Text{Content: "I'm not sure which plan you mean. Please pick one below."}},
		m.campaignMenu()...,
	)
}

func (m *Machine) handleInFlow(ctx context.Context, in wire.Message) []wire.Message {
	def, ok := m.flows.Get(m.sess.ActiveFlow)
	if !ok {
		m.logger.Error("session references unknown flow", "session_id", m.sess.ID, "flow", m.sess.ActiveFlow)
		m.sess.Reset()
		return m.greeting()
	}

	var input flow.Input
	switch v := in.(type) {
	case wire.Choice:
		input = flow.Input{Choice: v.Value}
	case wire.Text:
		input = flow.Input{Text: v.Content}
		// Free text at a choice-expecting node goes through the
		// classifier before any state is touched.
		if def.ExpectsChoice(m.sess.CurrentNode) {
			label, matched, err := m.classify(ctx, v.Content, nlp.SessionContext{
				SessionID: m.sess.ID,
				Flow:      m.sess.ActiveFlow,
				Node:      m.sess.CurrentNode,
				Options:   nodeOptions(def, m.sess.CurrentNode),
			})
			if err != nil {
				return m.rePrompt(def, wire.Error{Content: "Please choose one of the options below."})
			}
			if matched {
				input.Intent = label
			}
		}
	default:
		return m.rePrompt(def, wire.Error{Content: "Sorry, I didn't understand that."})
	}

	result, err := def.Step(m.sess.CurrentNode, input, m.sess.Profile.Map())
	if errors.Is(err, flow.ErrNoMatchingEdge) {
		return m.rePrompt(def, wire.Text{Content: "Sorry, I didn't quite get that."})
	}
	if err != nil {
		m.logger.Error("flow step failed", "session_id", m.sess.ID, "flow", def.ID, "node", m.sess.CurrentNode, "error", err)
		return m.rePrompt(def, wire.Error{Content: "I'm sorry, something went wrong. Let's try that again."})
	}

	m.sess.Profile.Merge(result.ProfileUpdates)
	m.sess.CurrentNode = result.Next

	out := result.Messages
	if result.Terminal {
		out = append(out, m.complete(ctx)...)
	}
	return out
}

func (m *Machine) handleCompleted(ctx context.Context) []wire.Message {
	if !m.sess.PersistedOnce {
		if out := m.complete(ctx); len(out) > 0 {
			return out
		}
		return []wire.Message{wire.Text{Content: "Your details have been saved. Thank you!"}}
	}
	return []wire.Message{wire.Text{
		Content: "This conversation is complete. Send \"main_menu\" to start again.",
	}}
}

// complete marks the session terminal and hands the record off for
// persistence. The PersistedOnce guard makes the write at most once:
// it flips only on a successful append, so a failed write stays
// retryable while a finished session can never write twice.
func (m *Machine) complete(ctx context.Context) []wire.Message {
	m.sess.Completed = true
	m.sess.Phase = domain.PhaseCompleted

	if m.sess.PersistedOnce {
		return nil
	}

	rec := domain.RecordFromSession(m.sess, m.now())
	pctx, cancel := context.WithTimeout(ctx, m.cfg.PersistTimeout)
	defer cancel()

	if err := m.gateway.Append(pctx, rec, m.sess.ID); err != nil {
		// Risk of silent data loss; this is the one failure that must
		// reach the operational log.
		m.logger.Error("lead persistence failed",
			"session_id", m.sess.ID,
			"campaign", m.sess.ActiveFlow,
			"error", err)
		return []wire.Message{wire.Error{
			Content: "We couldn't save your details just now. Send any message to retry.",
		}}
	}

	m.sess.PersistedOnce = true
	m.logger.Info("lead persisted",
		"session_id", m.sess.ID,
		"campaign", m.sess.ActiveFlow,
		"agent", m.sess.Agent)
	return nil
}

func (m *Machine) enterFlow(def *flow.Definition) []wire.Message {
	result, err := def.Enter(m.sess.Profile.Map())
	if err != nil {
		m.logger.Error("flow enter failed", "session_id", m.sess.ID, "flow", def.ID, "error", err)
		return m.campaignMenu()
	}
	m.sess.ActiveFlow = def.ID
	m.sess.Phase = domain.PhaseInFlow
	m.sess.CurrentNode = result.Next
	m.sess.Profile.Merge(result.ProfileUpdates)

	out := []wire.Message{wire.Campaign{Title: def.Title, Description: def.Description}}
	return append(out, result.Messages...)
}

// classify calls the external classifier with a bounded deadline.
// matched is false when confidence falls below the threshold.
func (m *Machine) classify(ctx context.Context, text string, sctx nlp.SessionContext) (label string, matched bool, err error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ClassifyTimeout)
	defer cancel()

	result, err := m.classifier.Classify(cctx, text, sctx)
	if err != nil {
		m.logger.Warn("classification failed", "session_id", m.sess.ID, "error", err)
		return "", false, err
	}
	if result.Confidence < m.cfg.ConfidenceThreshold {
		return result.Label, false, nil
	}
	return result.Label, true, nil
}

func (m *Machine) rePrompt(def *flow.Definition, lead wire.Message) []wire.Message {
	out := []wire.Message{lead}
	msgs, err := def.Render(m.sess.CurrentNode, m.sess.Profile.Map())
	if err != nil {
		m.logger.Error("render failed", "session_id", m.sess.ID, "flow", def.ID, "node", m.sess.CurrentNode, "error", err)
		return out
	}
	return append(out, msgs...)
}

func (m *Machine) currentPrompt() []wire.Message {
	switch m.sess.Phase {
	case domain.PhaseAwaitingAgent:
		return m.greeting()
	case domain.PhaseAwaitingProfile:
		if _, ok := m.sess.Profile.Get("name"); !ok {
			return []wire.Message{wire.Text{Content: "What's your name?"}}
		}
		if _, ok := m.sess.Profile.Get("age"); !ok {
			return []wire.Message{wire.Text{Content: "May I know your age? (18-70 years)"}}
		}
		return m.campaignMenu()
	case domain.PhaseInFlow:
		if def, ok := m.flows.Get(m.sess.ActiveFlow); ok {
			if msgs, err := def.Render(m.sess.CurrentNode, m.sess.Profile.Map()); err == nil {
				return msgs
			}
		}
		return m.greeting()
	default:
		return []wire.Message{wire.Text{
			Content: "This conversation is complete. Send \"main_menu\" to start again.",
		}}
	}
}

func (m *Machine) greeting() []wire.Message {
	options := make([]wire.ButtonOption, 0, len(domain.Agents))
	for _, agent := range domain.Agents {
		options = append(options, wire.ButtonOption{Label: agent, Value: flow.Normalize(agent)})
	}
	return []wire.Message{wire.Buttons{
		Content: "Hi there! 👋 I'm your virtual insurance advisor. Which of our advisors would you like to chat with?",
		Options: options,
	}}
}

func (m *Machine) campaignMenu() []wire.Message {
	defs := m.flows.All()
	out := make([]wire.Message, 0, len(defs)+1)
	options := make([]wire.ButtonOption, 0, len(defs))
	for _, def := range defs {
		out = append(out, wire.Campaign{Title: def.Title, Description: def.Description})
		options = append(options, wire.ButtonOption{Label: def.Title, Value: def.ID})
	}
	out = append(out, wire.Buttons{
		Content: "Which plan would you like to explore?",
		Options: options,
	})
	return out
}

func (m *Machine) campaignIDs() []string {
	defs := m.flows.All()
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		ids = append(ids, def.ID)
	}
	return ids
}

func (m *Machine) filter(msgs []wire.Message) []wire.Message {
	out := msgs[:0]
	for _, msg := range msgs {
		if m.dedup.allow(msg) {
			out = append(out, msg)
		}
	}
	return out
}

func isResetCommand(in wire.Message) bool {
	var value string
	switch v := in.(type) {
	case wire.Choice:
		value = v.Value
	case wire.Text:
		value = v.Content
	default:
		return false
	}
	switch flow.Normalize(value) {
	case "main_menu", "restart", "start":
		return true
	}
	return false
}

func inputText(in wire.Message) string {
	switch v := in.(type) {
	case wire.Text:
		return v.Content
	case wire.Choice:
		if v.Value != "" {
			return v.Value
		}
		return v.Label
	default:
		return ""
	}
}

func nodeOptions(def *flow.Definition, nodeID string) []string {
	node, ok := def.Nodes[nodeID]
	if !ok {
		return nil
	}
	options := make([]string, 0, len(node.Buttons))
	for _, b := range node.Buttons {
		options = append(options, b.Value)
	}
	return options
}
