package dialog

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/kempenbot/internal/domain"
	"github.com/ashureev/kempenbot/internal/flow"
	"github.com/ashureev/kempenbot/internal/nlp"
	"github.com/ashureev/kempenbot/internal/sheet"
	"github.com/ashureev/kempenbot/internal/wire"
)

type fakeClassifier struct {
	result nlp.Result
	err    error
	calls  []string
}

func (f *fakeClassifier) Classify(ctx context.Context, text string, sctx nlp.SessionContext) (nlp.Result, error) {
	f.calls = append(f.calls, text)
	if f.err != nil {
		return nlp.Result{}, f.err
	}
	return f.result, nil
}

type appendCall struct {
	rec *domain.LeadRecord
	key string
}

type fakeGateway struct {
	err     error
	appends []appendCall
}

func (f *fakeGateway) Append(ctx context.Context, rec *domain.LeadRecord, idempotencyKey string) error {
	if f.err != nil {
		return f.err
	}
	f.appends = append(f.appends, appendCall{rec: rec, key: idempotencyKey})
	return nil
}

func (f *fakeGateway) Ping(ctx context.Context) error { return nil }
func (f *fakeGateway) Close() error                   { return nil }

func newTestMachine(t *testing.T, classifier nlp.Classifier, gateway sheet.Gateway) *Machine {
	t.Helper()
	flows, err := flow.LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}
	sess := domain.NewSession("sess-1", "tok-1", time.Now())
	cfg := DefaultConfig()
	// Negative window disables duplicate suppression so each step's
	// output can be asserted in isolation.
	cfg.DedupWindow = -1
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(sess, flows, classifier, gateway, cfg, logger)
}

func textOf(msgs []wire.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		switch m := msg.(type) {
		case wire.Text:
			b.WriteString(m.Content)
		case wire.Buttons:
			b.WriteString(m.Content)
		case wire.Error:
			b.WriteString(m.Content)
		case wire.Campaign:
			b.WriteString(m.Title)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func hasError(msgs []wire.Message) bool {
	for _, msg := range msgs {
		if _, ok := msg.(wire.Error); ok {
			return true
		}
	}
	return false
}

// Drives a session from greeting to the campaign menu.
func advanceToMenu(t *testing.T, m *Machine) {
	t.Helper()
	ctx := context.Background()

	out := m.Handle(ctx, wire.Choice{Value: "erica"})
	if m.Session().Phase != domain.PhaseAwaitingProfile {
		t.Fatalf("phase after agent choice = %s, want %s", m.Session().Phase, domain.PhaseAwaitingProfile)
	}
	if !strings.Contains(textOf(out), "Erica") {
		t.Fatalf("agent ack missing name: %s", textOf(out))
	}

	m.Handle(ctx, wire.Text{Content: "Alice"})
	out = m.Handle(ctx, wire.Text{Content: "30"})
	if !strings.Contains(textOf(out), "Which plan") {
		t.Fatalf("campaign menu not shown: %s", textOf(out))
	}
}

func TestFullJourneyToPersistedLead(t *testing.T) {
	ctx := context.Background()
	classifier := &fakeClassifier{}
	gateway := &fakeGateway{}
	m := newTestMachine(t, classifier, gateway)

	advanceToMenu(t, m)

	out := m.Handle(ctx, wire.Choice{Value: "tabung_warisan"})
	if m.Session().Phase != domain.PhaseInFlow {
		t.Fatalf("phase = %s, want %s", m.Session().Phase, domain.PhaseInFlow)
	}
	if _, ok := out[0].(wire.Campaign); !ok {
		t.Errorf("first message on flow entry = %T, want wire.Campaign", out[0])
	}

	m.Handle(ctx, wire.Choice{Value: "yes_benefits"})
	m.Handle(ctx, wire.Choice{Value: "yes_coverage"})
	out = m.Handle(ctx, wire.Choice{Value: "500000"})
	if !strings.Contains(textOf(out), "RM 2,400.00") {
		t.Fatalf("estimate missing premium: %s", textOf(out))
	}

	out = m.Handle(ctx, wire.Choice{Value: "contact_agent"})
	if !strings.Contains(textOf(out), "agent will contact you") {
		t.Fatalf("terminal ack missing: %s", textOf(out))
	}

	sess := m.Session()
	if sess.Phase != domain.PhaseCompleted || !sess.Completed {
		t.Errorf("session not completed: phase=%s completed=%v", sess.Phase, sess.Completed)
	}
	if !sess.PersistedOnce {
		t.Error("PersistedOnce not set after successful append")
	}
	if len(gateway.appends) != 1 {
		t.Fatalf("appends = %d, want 1", len(gateway.appends))
	}
	call := gateway.appends[0]
	if call.key != sess.ID {
		t.Errorf("idempotency key = %q, want session id %q", call.key, sess.ID)
	}
	if call.rec.Agent != "Erica" || call.rec.Campaign != "tabung_warisan" {
		t.Errorf("record agent/campaign = %q/%q", call.rec.Agent, call.rec.Campaign)
	}
	if call.rec.Consent != "Yes, Contact Requested" {
		t.Errorf("record consent = %q", call.rec.Consent)
	}
	if call.rec.PremiumAnnual != "RM 2,400.00" {
		t.Errorf("record annual premium = %q", call.rec.PremiumAnnual)
	}
	if len(classifier.calls) != 0 {
		t.Errorf("button-only journey called classifier %d times", len(classifier.calls))
	}
}

// A completed session that receives more input acknowledges without
// writing a second row.
func TestCompletedSessionWritesOnlyOnce(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{}
	m := newTestMachine(t, &fakeClassifier{}, gateway)

	advanceToMenu(t, m)
	m.Handle(ctx, wire.Choice{Value: "tabung_warisan"})
	m.Handle(ctx, wire.Choice{Value: "yes_benefits"})
	m.Handle(ctx, wire.Choice{Value: "yes_coverage"})
	m.Handle(ctx, wire.Choice{Value: "500000"})
	m.Handle(ctx, wire.Choice{Value: "contact_agent"})

	for i := 0; i < 3; i++ {
		out := m.Handle(ctx, wire.Text{Content: "hello again"})
		if !strings.Contains(textOf(out), "complete") {
			t.Fatalf("replay %d: unexpected reply %s", i, textOf(out))
		}
	}
	if len(gateway.appends) != 1 {
		t.Errorf("appends = %d, want exactly 1", len(gateway.appends))
	}
}

func TestPersistenceFailureThenRetry(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{err: sheet.ErrAppendFailed}
	m := newTestMachine(t, &fakeClassifier{}, gateway)

	advanceToMenu(t, m)
	m.Handle(ctx, wire.Choice{Value: "satu_gaji"})
	m.Handle(ctx, wire.Choice{Value: "yes_estimate"})
	m.Handle(ctx, wire.Text{Content: "5000"})
	out := m.Handle(ctx, wire.Choice{Value: "contact_agent"})

	if !hasError(out) || !strings.Contains(textOf(out), "retry") {
		t.Fatalf("persistence failure not surfaced: %s", textOf(out))
	}
	sess := m.Session()
	if sess.Phase != domain.PhaseCompleted {
		t.Errorf("phase = %s, want %s", sess.Phase, domain.PhaseCompleted)
	}
	if sess.PersistedOnce {
		t.Error("PersistedOnce set despite failed append")
	}

	// Any message in the completed phase retries the write.
	gateway.err = nil
	out = m.Handle(ctx, wire.Text{Content: "anything"})
	if !strings.Contains(textOf(out), "saved") {
		t.Fatalf("retry ack missing: %s", textOf(out))
	}
	if !sess.PersistedOnce {
		t.Error("PersistedOnce not set after retry")
	}
	if len(gateway.appends) != 1 {
		t.Errorf("appends = %d, want 1", len(gateway.appends))
	}
}

func TestCampaignSelectionByClassifier(t *testing.T) {
	ctx := context.Background()
	classifier := &fakeClassifier{result: nlp.Result{Label: "legacy", Confidence: 0.9}}
	m := newTestMachine(t, classifier, &fakeGateway{})

	advanceToMenu(t, m)
	out := m.Handle(ctx, wire.Text{Content: "I want to leave something for my family"})
	if m.Session().ActiveFlow != "tabung_warisan" {
		t.Fatalf("active flow = %q, want tabung_warisan; reply: %s", m.Session().ActiveFlow, textOf(out))
	}
	if len(classifier.calls) != 1 {
		t.Errorf("classifier calls = %d, want 1", len(classifier.calls))
	}
}

func TestCampaignSelectionLowConfidence(t *testing.T) {
	ctx := context.Background()
	classifier := &fakeClassifier{result: nlp.Result{Label: "legacy", Confidence: 0.2}}
	m := newTestMachine(t, classifier, &fakeGateway{})

	advanceToMenu(t, m)
	out := m.Handle(ctx, wire.Text{Content: "mumble mumble"})
	if m.Session().Phase != domain.PhaseAwaitingProfile {
		t.Errorf("low confidence changed phase to %s", m.Session().Phase)
	}
	if !strings.Contains(textOf(out), "not sure which plan") {
		t.Errorf("fallback prompt missing: %s", textOf(out))
	}
}

// When the classifier is down the machine degrades to buttons instead
// of failing the turn.
func TestClassifierOutageDegradesToButtons(t *testing.T) {
	ctx := context.Background()
	classifier := &fakeClassifier{err: nlp.ErrUnavailable}
	m := newTestMachine(t, classifier, &fakeGateway{})

	advanceToMenu(t, m)
	out := m.Handle(ctx, wire.Text{Content: "protect my legacy"})
	if m.Session().Phase != domain.PhaseAwaitingProfile {
		t.Errorf("outage changed phase to %s", m.Session().Phase)
	}
	if !strings.Contains(textOf(out), "choose one of the options") {
		t.Errorf("degrade prompt missing: %s", textOf(out))
	}

	// Same degrade inside a flow, at a choice-expecting node.
	m.Handle(ctx, wire.Choice{Value: "tabung_warisan"})
	out = m.Handle(ctx, wire.Text{Content: "yes please"})
	if m.Session().CurrentNode != "welcome" {
		t.Errorf("outage advanced node to %s", m.Session().CurrentNode)
	}
	if !strings.Contains(textOf(out), "choose one of the options") {
		t.Errorf("in-flow degrade prompt missing: %s", textOf(out))
	}
}

func TestInFlowFreeTextClassified(t *testing.T) {
	ctx := context.Background()
	classifier := &fakeClassifier{result: nlp.Result{Label: "affirm", Confidence: 0.9}}
	m := newTestMachine(t, classifier, &fakeGateway{})

	advanceToMenu(t, m)
	m.Handle(ctx, wire.Choice{Value: "tabung_warisan"})
	m.Handle(ctx, wire.Text{Content: "yes please"})
	if m.Session().CurrentNode != "benefits" {
		t.Errorf("node = %s, want benefits", m.Session().CurrentNode)
	}
}

func TestInFlowNoMatchingEdgeReprompts(t *testing.T) {
	ctx := context.Background()
	classifier := &fakeClassifier{result: nlp.Result{Label: "weather", Confidence: 0.9}}
	m := newTestMachine(t, classifier, &fakeGateway{})

	advanceToMenu(t, m)
	m.Handle(ctx, wire.Choice{Value: "tabung_warisan"})
	out := m.Handle(ctx, wire.Text{Content: "what about the weather"})
	if m.Session().CurrentNode != "welcome" {
		t.Errorf("unmatched input advanced node to %s", m.Session().CurrentNode)
	}
	if !strings.Contains(textOf(out), "didn't quite get that") {
		t.Errorf("re-prompt missing: %s", textOf(out))
	}
}

func TestAgentSelectionRejectsUnknown(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, &fakeClassifier{}, &fakeGateway{})

	out := m.Handle(ctx, wire.Text{Content: "just help me"})
	if m.Session().Phase != domain.PhaseAwaitingAgent {
		t.Errorf("phase = %s, want %s", m.Session().Phase, domain.PhaseAwaitingAgent)
	}
	if !strings.Contains(textOf(out), "virtual insurance advisor") {
		t.Errorf("greeting not re-emitted: %s", textOf(out))
	}
}

func TestProfileAgeValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, &fakeClassifier{}, &fakeGateway{})

	m.Handle(ctx, wire.Choice{Value: "aisyah"})
	m.Handle(ctx, wire.Text{Content: "Bob"})

	for _, bad := range []string{"0", "-5", "seventeen", "71", "200"} {
		out := m.Handle(ctx, wire.Text{Content: bad})
		if !hasError(out) {
			t.Errorf("age %q accepted: %s", bad, textOf(out))
		}
		if _, ok := m.Session().Profile.Get("age"); ok {
			t.Fatalf("age %q stored", bad)
		}
	}

	out := m.Handle(ctx, wire.Text{Content: "45"})
	if !strings.Contains(textOf(out), "Which plan") {
		t.Errorf("valid age did not reach menu: %s", textOf(out))
	}
}

func TestResetCommandMidFlow(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, &fakeClassifier{}, &fakeGateway{})

	advanceToMenu(t, m)
	m.Handle(ctx, wire.Choice{Value: "tabung_warisan"})
	m.Session().PersistedOnce = true

	out := m.Handle(ctx, wire.Text{Content: "Main Menu"})
	first, ok := out[0].(wire.Error)
	if !ok || !first.Reset {
		t.Fatalf("first message = %+v, want reset error frame", out[0])
	}
	sess := m.Session()
	if sess.Phase != domain.PhaseAwaitingAgent {
		t.Errorf("phase after reset = %s", sess.Phase)
	}
	if sess.Agent != "" || sess.ActiveFlow != "" || sess.Profile.Len() != 0 {
		t.Errorf("reset left state: agent=%q flow=%q profile=%d", sess.Agent, sess.ActiveFlow, sess.Profile.Len())
	}
	// The write guard outlives the conversation it guarded.
	if !sess.PersistedOnce {
		t.Error("reset cleared PersistedOnce")
	}
}

func TestPromptResumesCurrentState(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, &fakeClassifier{}, &fakeGateway{})

	if !strings.Contains(textOf(m.Prompt()), "advisor") {
		t.Error("fresh session prompt is not the greeting")
	}

	advanceToMenu(t, m)
	m.Handle(ctx, wire.Choice{Value: "tabung_warisan"})
	m.Handle(ctx, wire.Choice{Value: "yes_benefits"})

	out := m.Prompt()
	if !strings.Contains(textOf(out), "LIFETIME PROTECTION") {
		t.Errorf("resume prompt is not the benefits node: %s", textOf(out))
	}
}

func TestComboUnderageRoutesAside(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, &fakeClassifier{}, &fakeGateway{})

	advanceToMenu(t, m)
	m.Handle(ctx, wire.Choice{Value: "perlindungan_combo"})
	m.Handle(ctx, wire.Choice{Value: "yes_estimate"})
	if m.Session().CurrentNode != "confirm_age" {
		t.Fatalf("node = %s, want confirm_age", m.Session().CurrentNode)
	}

	m.Handle(ctx, wire.Text{Content: "16"})
	if m.Session().CurrentNode != "underage" {
		t.Errorf("node = %s, want underage", m.Session().CurrentNode)
	}
}

func TestDuplicateOutboundSuppressed(t *testing.T) {
	ctx := context.Background()
	flows, err := flow.LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}
	sess := domain.NewSession("sess-2", "tok-2", time.Now())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(sess, flows, &fakeClassifier{}, &fakeGateway{}, DefaultConfig(), logger)

	// Same invalid name twice in quick succession: the error text repeats
	// but must only be delivered once inside the window.
	m.Handle(ctx, wire.Choice{Value: "erica"})
	m.Handle(ctx, wire.Text{Content: "Alice"})
	first := m.Handle(ctx, wire.Text{Content: "abc"})
	second := m.Handle(ctx, wire.Text{Content: "abc"})

	if !hasError(first) {
		t.Fatalf("first invalid age produced no error: %s", textOf(first))
	}
	if hasError(second) {
		t.Errorf("repeated error inside window not suppressed: %s", textOf(second))
	}
}
