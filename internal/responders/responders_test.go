package responders

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/campusrelay/CampusRelay/internal/models"
)

// mockGenAI implements genai.ClientInterface for testing.
type mockGenAI struct {
	answer     string
	err        error
	lastSystem string
	lastUser   string
}

func (m *mockGenAI) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.lastSystem = systemPrompt
	m.lastUser = userPrompt
	return m.answer, m.err
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewDefaultRegistry(nil)
	for _, d := range []models.Domain{models.DomainAcademic, models.DomainCalendar, models.DomainFinancial, models.DomainPolicies} {
		r, err := reg.Lookup(d)
		if err != nil {
			t.Fatalf("Lookup(%s) returned error: %v", d, err)
		}
		if r.Domain() != d {
			t.Errorf("Lookup(%s) returned responder for %s", d, r.Domain())
		}
	}
	if _, err := reg.Lookup(models.DomainGreeting); err == nil {
		t.Error("expected error looking up unregistered domain")
	}
}

func TestHandle_StaticFallbackWithoutClient(t *testing.T) {
	r := NewAcademic(nil)
	out, err := r.Handle(context.Background(), "¿Cuándo abren las inscripciones?", models.Identity{})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if out == "" {
		t.Error("expected non-empty fallback answer")
	}
}

func TestHandle_UsesClientAndIdentity(t *testing.T) {
	mock := &mockGenAI{answer: "Tu próxima cuota vence el 10 de marzo."}
	r := NewFinancial(mock)
	identity := models.Identity{ID: "u1", DisplayName: "Ana García", Role: "student"}

	out, err := r.Handle(context.Background(), "¿Cuándo vence la cuota?", identity)
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if out != "Tu próxima cuota vence el 10 de marzo." {
		t.Errorf("unexpected answer: %q", out)
	}
	if !strings.Contains(mock.lastSystem, "Ana García") {
		t.Error("expected system prompt to mention the student's name")
	}
	if mock.lastUser != "¿Cuándo vence la cuota?" {
		t.Errorf("unexpected user prompt: %q", mock.lastUser)
	}
}

func TestHandle_ClientErrorPropagates(t *testing.T) {
	mock := &mockGenAI{err: errors.New("rate limited")}
	r := NewCalendar(mock)
	_, err := r.Handle(context.Background(), "¿Cuándo es el final?", models.Identity{})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected wrapped client error, got %v", err)
	}
}

func TestHandle_EmptyAnswerIsError(t *testing.T) {
	mock := &mockGenAI{answer: "   "}
	r := NewPolicies(mock)
	_, err := r.Handle(context.Background(), "¿Cuál es el régimen de asistencia?", models.Identity{})
	if err == nil {
		t.Error("expected error for empty answer")
	}
}
