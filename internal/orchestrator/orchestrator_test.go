package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/campusrelay/CampusRelay/internal/classifier"
	"github.com/campusrelay/CampusRelay/internal/models"
	"github.com/campusrelay/CampusRelay/internal/responders"
	"github.com/campusrelay/CampusRelay/internal/session"
	"github.com/campusrelay/CampusRelay/internal/store"
)

// recordingDeliverer captures delivered replies keyed by channel ref.
type recordingDeliverer struct {
	channels []string
	replies  []string
	err      error
}

func (d *recordingDeliverer) Deliver(_ context.Context, channelRef, text string) error {
	d.channels = append(d.channels, channelRef)
	d.replies = append(d.replies, text)
	return d.err
}

func (d *recordingDeliverer) last() string {
	if len(d.replies) == 0 {
		return ""
	}
	return d.replies[len(d.replies)-1]
}

// staticResponder answers every query with a fixed string or error.
type staticResponder struct {
	domain models.Domain
	answer string
	err    error
	calls  int
}

func (r *staticResponder) Handle(_ context.Context, _ string, _ models.Identity) (string, error) {
	r.calls++
	return r.answer, r.err
}

func (r *staticResponder) Domain() models.Domain { return r.domain }

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *store.MemoryStore, *recordingDeliverer) {
	t.Helper()
	st := store.NewMemoryStore()
	st.AddUser(models.User{ID: "u1", Credential: "12345678", DisplayName: "Ana García", Role: "student"})
	deliverer := &recordingDeliverer{}
	o := New(
		classifier.New(),
		session.NewMemoryStore(session.DefaultTTL),
		responders.NewDefaultRegistry(nil),
		st, st, deliverer,
		opts...,
	)
	return o, st, deliverer
}

func TestProcessBatch_PromptsForCredential(t *testing.T) {
	o, _, d := newTestOrchestrator(t)
	if err := o.ProcessBatch(context.Background(), "+549110001", "Hola, ¿cómo va?"); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if !strings.Contains(d.last(), "legajo") {
		t.Errorf("expected credential prompt, got %q", d.last())
	}
}

func TestProcessBatch_AuthenticatesAndTerminates(t *testing.T) {
	o, _, d := newTestOrchestrator(t)
	ctx := context.Background()

	// Credential plus a question in the same batch: authentication wins and
	// the question is not routed.
	if err := o.ProcessBatch(ctx, "+549110001", "Soy 12345678\n¿Cuándo tengo parcial?"); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if len(d.replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(d.replies))
	}
	if !strings.Contains(d.last(), "Ana García") {
		t.Errorf("expected welcome naming the user, got %q", d.last())
	}
}

func TestProcessBatch_RejectsUnknownCredential(t *testing.T) {
	o, _, d := newTestOrchestrator(t)
	if err := o.ProcessBatch(context.Background(), "+549110001", "99999999"); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if !strings.Contains(d.last(), "No encontré") {
		t.Errorf("expected rejection reply, got %q", d.last())
	}
}

func TestProcessBatch_RoutesAuthenticatedQuestion(t *testing.T) {
	o, _, d := newTestOrchestrator(t)
	ctx := context.Background()

	if err := o.ProcessBatch(ctx, "+549110001", "12345678"); err != nil {
		t.Fatalf("auth batch returned error: %v", err)
	}
	if err := o.ProcessBatch(ctx, "+549110001", "¿Cuánto debo de la cuota?"); err != nil {
		t.Fatalf("question batch returned error: %v", err)
	}
	// Financial static fallback mentions the administration contact.
	if !strings.Contains(d.last(), "administra") {
		t.Errorf("expected financial fallback reply, got %q", d.last())
	}
}

func TestProcessBatch_GreetingAfterAuth(t *testing.T) {
	o, _, d := newTestOrchestrator(t)
	ctx := context.Background()

	o.ProcessBatch(ctx, "+549110001", "12345678")
	o.ProcessBatch(ctx, "+549110001", "Hola")
	if !strings.Contains(d.last(), "Ana García") || !strings.Contains(d.last(), "Hola") {
		t.Errorf("expected personalized greeting, got %q", d.last())
	}
}

func TestProcessBatch_AutoReauthFromLink(t *testing.T) {
	o, _, d := newTestOrchestrator(t)
	ctx := context.Background()

	// First conversation authenticates and persists the link.
	o.ProcessBatch(ctx, "+549110001", "12345678")

	// Simulate session expiry by clearing session state; the link survives.
	o.sessions.Delete("+549110001")

	o.ProcessBatch(ctx, "+549110001", "¿Cuándo arranca el cuatrimestre?")
	if !strings.Contains(d.last(), "Hola de nuevo") {
		t.Errorf("expected welcome-back reply, got %q", d.last())
	}
	sess := o.sessions.Get("+549110001")
	if !sess.Authenticated {
		t.Error("expected session re-authenticated from link")
	}
}

func TestProcessBatch_StaleLinkIsDeleted(t *testing.T) {
	o, st, d := newTestOrchestrator(t)
	ctx := context.Background()

	// Link points at a user who no longer exists.
	if err := st.SaveIdentityLink(ctx, "+549110001", "gone"); err != nil {
		t.Fatalf("SaveIdentityLink: %v", err)
	}
	o.ProcessBatch(ctx, "+549110001", "Hola")
	if !strings.Contains(d.last(), "legajo") {
		t.Errorf("expected credential prompt after stale link, got %q", d.last())
	}
	if _, err := st.GetIdentityLink(ctx, "+549110001"); !errors.Is(err, models.ErrLinkNotFound) {
		t.Errorf("expected stale link deleted, got %v", err)
	}
}

func TestProcessBatch_LogoutClearsLinkAndSession(t *testing.T) {
	o, st, d := newTestOrchestrator(t)
	ctx := context.Background()

	o.ProcessBatch(ctx, "+549110001", "12345678")
	if _, err := st.GetIdentityLink(ctx, "+549110001"); err != nil {
		t.Fatalf("expected link saved after auth: %v", err)
	}

	o.ProcessBatch(ctx, "+549110001", "olvidar")
	if !strings.Contains(d.last(), "cerré tu sesión") {
		t.Errorf("expected logout confirmation, got %q", d.last())
	}
	if _, err := st.GetIdentityLink(ctx, "+549110001"); !errors.Is(err, models.ErrLinkNotFound) {
		t.Errorf("expected link deleted on logout, got %v", err)
	}

	// Next batch prompts for the credential again.
	o.ProcessBatch(ctx, "+549110001", "Hola")
	if !strings.Contains(d.last(), "legajo") {
		t.Errorf("expected credential prompt after logout, got %q", d.last())
	}
}

func TestProcessBatch_StepBudgetForcesEscalation(t *testing.T) {
	o, _, d := newTestOrchestrator(t, WithMaxSteps(2))
	ctx := context.Background()

	o.ProcessBatch(ctx, "+549110001", "12345678")
	// Authenticated question needs three transitions, one more than the budget.
	o.ProcessBatch(ctx, "+549110001", "quiero saber mi horario de cursada")
	if !strings.Contains(d.last(), "asesor") {
		t.Errorf("expected escalation reply when budget exhausted, got %q", d.last())
	}
	if !strings.Contains(d.last(), "Ana García") {
		t.Errorf("expected escalation reply to name the user, got %q", d.last())
	}
}

func TestProcessBatch_RepeatedCredentialKeepsSession(t *testing.T) {
	o, _, d := newTestOrchestrator(t)
	ctx := context.Background()

	o.ProcessBatch(ctx, "+549110001", "12345678")
	welcome := d.last()

	// Resending the credential must not restart authentication.
	o.ProcessBatch(ctx, "+549110001", "12345678")
	if d.last() == welcome {
		t.Errorf("expected routed reply on repeat credential, got welcome again: %q", d.last())
	}
	if sess := o.sessions.Get("+549110001"); !sess.Authenticated {
		t.Error("expected session to remain authenticated")
	}
}

func TestProcessBatch_ResponderErrorEscalates(t *testing.T) {
	st := store.NewMemoryStore()
	st.AddUser(models.User{ID: "u1", Credential: "12345678", DisplayName: "Ana García"})
	d := &recordingDeliverer{}
	failing := &staticResponder{domain: models.DomainAcademic, err: errors.New("backend down")}
	o := New(
		classifier.New(),
		session.NewMemoryStore(session.DefaultTTL),
		responders.NewRegistry(failing),
		st, st, d,
	)
	ctx := context.Background()

	o.ProcessBatch(ctx, "+549110001", "12345678")
	o.ProcessBatch(ctx, "+549110001", "quiero saber mi horario de cursada")
	if failing.calls != 1 {
		t.Fatalf("expected responder invoked once, got %d", failing.calls)
	}
	if !strings.Contains(d.last(), "asesor") {
		t.Errorf("expected escalation reply, got %q", d.last())
	}
	if !strings.Contains(d.last(), "Ana García") {
		t.Errorf("expected escalation naming the user, got %q", d.last())
	}
}

func TestProcessBatch_UnclassifiableUsesDefaultDomain(t *testing.T) {
	st := store.NewMemoryStore()
	st.AddUser(models.User{ID: "u1", Credential: "12345678", DisplayName: "Ana García"})
	d := &recordingDeliverer{}
	academic := &staticResponder{domain: models.DomainAcademic, answer: "respuesta académica"}
	financial := &staticResponder{domain: models.DomainFinancial, answer: "respuesta financiera"}
	o := New(
		classifier.New(),
		session.NewMemoryStore(session.DefaultTTL),
		responders.NewRegistry(academic, financial),
		st, st, d,
	)
	ctx := context.Background()

	o.ProcessBatch(ctx, "+549110001", "12345678")
	o.ProcessBatch(ctx, "+549110001", "zzz qqq")
	if academic.calls != 1 {
		t.Errorf("expected default academic responder, got academic=%d financial=%d", academic.calls, financial.calls)
	}
	if d.last() != "respuesta académica" {
		t.Errorf("unexpected reply %q", d.last())
	}
}

func TestProcessBatch_ConfigurableDefaultDomain(t *testing.T) {
	st := store.NewMemoryStore()
	st.AddUser(models.User{ID: "u1", Credential: "12345678"})
	d := &recordingDeliverer{}
	financial := &staticResponder{domain: models.DomainFinancial, answer: "respuesta financiera"}
	o := New(
		classifier.New(),
		session.NewMemoryStore(session.DefaultTTL),
		responders.NewRegistry(financial),
		st, st, d,
		WithDefaultDomain(models.DomainFinancial),
	)
	ctx := context.Background()

	o.ProcessBatch(ctx, "+549110001", "12345678")
	o.ProcessBatch(ctx, "+549110001", "zzz qqq")
	if financial.calls != 1 || d.last() != "respuesta financiera" {
		t.Errorf("expected configured default domain responder, calls=%d reply=%q", financial.calls, d.last())
	}
}

func TestProcessBatch_ResponderTimeout(t *testing.T) {
	st := store.NewMemoryStore()
	st.AddUser(models.User{ID: "u1", Credential: "12345678"})
	d := &recordingDeliverer{}
	slow := &timeoutResponder{domain: models.DomainAcademic}
	o := New(
		classifier.New(),
		session.NewMemoryStore(session.DefaultTTL),
		responders.NewRegistry(slow),
		st, st, d,
		WithResponderTimeout(20*time.Millisecond),
	)
	ctx := context.Background()

	o.ProcessBatch(ctx, "+549110001", "12345678")
	o.ProcessBatch(ctx, "+549110001", "quiero saber mi horario")
	if !strings.Contains(d.last(), "asesor") {
		t.Errorf("expected escalation after timeout, got %q", d.last())
	}
}

// timeoutResponder blocks until the context is cancelled.
type timeoutResponder struct {
	domain models.Domain
}

func (r *timeoutResponder) Handle(ctx context.Context, _ string, _ models.Identity) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (r *timeoutResponder) Domain() models.Domain { return r.domain }

func TestProcessBatch_DeliveryFailureIsSwallowed(t *testing.T) {
	o, _, d := newTestOrchestrator(t)
	d.err = errors.New("channel closed")
	if err := o.ProcessBatch(context.Background(), "+549110001", "Hola"); err != nil {
		t.Errorf("expected delivery failure swallowed, got %v", err)
	}
}

func TestProcessBatch_NilLinksDegradesToPrompting(t *testing.T) {
	st := store.NewMemoryStore()
	st.AddUser(models.User{ID: "u1", Credential: "12345678", DisplayName: "Ana García"})
	d := &recordingDeliverer{}
	o := New(
		classifier.New(),
		session.NewMemoryStore(session.DefaultTTL),
		responders.NewDefaultRegistry(nil),
		st, nil, d,
	)
	ctx := context.Background()

	o.ProcessBatch(ctx, "+549110001", "12345678")
	if !strings.Contains(d.last(), "Ana García") {
		t.Fatalf("expected auth to work without links, got %q", d.last())
	}

	// No link store: a fresh session always prompts again.
	o.sessions.Delete("+549110001")
	o.ProcessBatch(ctx, "+549110001", "¿Cuándo tengo parcial?")
	if !strings.Contains(d.last(), "legajo") {
		t.Errorf("expected credential prompt without link store, got %q", d.last())
	}
}

func TestProcessBatch_DeliversToChannelRef(t *testing.T) {
	o, _, d := newTestOrchestrator(t)
	o.sessions.Get("+549110001")
	o.sessions.SetChannelRef("+549110001", "chatwoot:7/42")
	o.ProcessBatch(context.Background(), "+549110001", "Hola")
	if len(d.channels) == 0 || d.channels[len(d.channels)-1] != "chatwoot:7/42" {
		t.Errorf("expected delivery to channel ref, got %v", d.channels)
	}
}

// Full conversation walkthrough: greeting, auth, question, escalation
// keywords, logout.
func TestProcessBatch_ConversationScenario(t *testing.T) {
	o, _, d := newTestOrchestrator(t)
	ctx := context.Background()
	id := "+5491122334455"

	steps := []struct {
		batch    string
		expected string
	}{
		{"Hola", "legajo"},
		{"Mi legajo es 12345678", "Bienvenido/a, Ana García"},
		{"Hola", "Ana García"},
		{"¿Cuánto sale la cuota?", "administra"},
		{"olvidar", "cerré tu sesión"},
		{"¿Cuándo tengo parcial?", "legajo"},
	}
	for i, s := range steps {
		if err := o.ProcessBatch(ctx, id, s.batch); err != nil {
			t.Fatalf("step %d returned error: %v", i, err)
		}
		if !strings.Contains(d.last(), s.expected) {
			t.Errorf("step %d: expected reply containing %q, got %q", i, s.expected, d.last())
		}
	}
	if len(d.replies) != len(steps) {
		t.Errorf("expected exactly one reply per batch, got %d replies for %d batches", len(d.replies), len(steps))
	}
}
