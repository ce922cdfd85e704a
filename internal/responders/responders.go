// Package responders implements the per-domain answer generators invoked by
// the orchestrator once a message batch has been routed.
//
// Each responder answers questions for a single domain (academic, calendar,
// financial, policies). When a GenAI client is configured the responder
// drafts its answer with the model using a domain-specific system prompt;
// without one it falls back to a static guidance template so the service
// stays functional offline.
package responders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/campusrelay/CampusRelay/internal/genai"
	"github.com/campusrelay/CampusRelay/internal/models"
)

// Responder generates an answer for a routed message batch.
type Responder interface {
	// Handle produces a reply for the combined message text on behalf of
	// the authenticated identity. A non-nil error signals the orchestrator
	// to escalate.
	Handle(ctx context.Context, text string, identity models.Identity) (string, error)

	// Domain reports which domain this responder serves.
	Domain() models.Domain
}

// Registry maps domains to responders.
type Registry struct {
	responders map[models.Domain]Responder
}

// NewRegistry builds a registry from the given responders. Later entries
// for the same domain replace earlier ones.
func NewRegistry(rs ...Responder) *Registry {
	reg := &Registry{responders: make(map[models.Domain]Responder)}
	for _, r := range rs {
		reg.responders[r.Domain()] = r
	}
	return reg
}

// Lookup returns the responder for a domain, or an error when the domain
// has no registered responder.
func (r *Registry) Lookup(domain models.Domain) (Responder, error) {
	resp, ok := r.responders[domain]
	if !ok {
		return nil, fmt.Errorf("no responder registered for domain %s", domain)
	}
	return resp, nil
}

// Domains lists the domains with a registered responder.
func (r *Registry) Domains() []models.Domain {
	out := make([]models.Domain, 0, len(r.responders))
	for d := range r.responders {
		out = append(out, d)
	}
	return out
}

// domainResponder is the shared implementation behind the four domain
// constructors. It holds the domain's system prompt and static fallback.
type domainResponder struct {
	domain       models.Domain
	client       genai.ClientInterface
	systemPrompt string
	fallback     string
}

func (d *domainResponder) Domain() models.Domain { return d.domain }

func (d *domainResponder) Handle(ctx context.Context, text string, identity models.Identity) (string, error) {
	if d.client == nil {
		slog.Debug("Responder using static fallback", "domain", d.domain)
		return d.fallback, nil
	}
	prompt := d.systemPrompt
	if identity.DisplayName != "" {
		prompt += fmt.Sprintf("\nEl estudiante se llama %s (rol: %s). Dirigite a él o ella por su nombre.", identity.DisplayName, identity.Role)
	}
	answer, err := d.client.GeneratePrompt(ctx, prompt, text)
	if err != nil {
		slog.Error("Responder generation failed", "domain", d.domain, "error", err)
		return "", fmt.Errorf("responder %s failed: %w", d.domain, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("responder %s returned empty answer", d.domain)
	}
	return answer, nil
}

const promptPreamble = "Sos el asistente virtual de la universidad. Respondé en español, " +
	"de forma breve y cordial, únicamente sobre el área indicada. Si la consulta " +
	"excede tu área o requiere datos que no tenés, decilo claramente."

// NewAcademic creates the responder for course, schedule and enrollment
// questions. A nil client selects the static fallback.
func NewAcademic(client genai.ClientInterface) Responder {
	return &domainResponder{
		domain: models.DomainAcademic,
		client: client,
		systemPrompt: promptPreamble + "\nÁrea: consultas académicas (materias, horarios, " +
			"inscripciones, correlativas, notas, profesores).",
		fallback: "Recibimos tu consulta académica. Podés ver materias, horarios e " +
			"inscripciones en el portal de autogestión, o escribir a alumnos@universidad.edu.",
	}
}

// NewCalendar creates the responder for exam dates, deadlines and the
// academic calendar.
func NewCalendar(client genai.ClientInterface) Responder {
	return &domainResponder{
		domain: models.DomainCalendar,
		client: client,
		systemPrompt: promptPreamble + "\nÁrea: calendario académico (fechas de parciales y " +
			"finales, feriados, inicio y fin de cuatrimestre, vencimientos de inscripción).",
		fallback: "Recibimos tu consulta sobre fechas. El calendario académico completo " +
			"está publicado en el portal de autogestión, sección Calendario.",
	}
}

// NewFinancial creates the responder for payments, scholarships and fees.
func NewFinancial(client genai.ClientInterface) Responder {
	return &domainResponder{
		domain: models.DomainFinancial,
		client: client,
		systemPrompt: promptPreamble + "\nÁrea: consultas administrativas y financieras " +
			"(cuotas, pagos, becas, facturación, medios de pago).",
		fallback: "Recibimos tu consulta administrativa. Para cuotas, pagos y becas podés " +
			"escribir a administracion@universidad.edu o acercarte a la oficina de alumnos.",
	}
}

// NewPolicies creates the responder for regulations and institutional
// procedures.
func NewPolicies(client genai.ClientInterface) Responder {
	return &domainResponder{
		domain: models.DomainPolicies,
		client: client,
		systemPrompt: promptPreamble + "\nÁrea: reglamento y normativa institucional " +
			"(régimen de cursada, asistencia, equivalencias, trámites, certificados).",
		fallback: "Recibimos tu consulta sobre normativa. El reglamento institucional está " +
			"disponible en el portal, sección Normativa, o en la oficina de alumnos.",
	}
}

// NewDefaultRegistry wires the four standard domain responders with a shared
// GenAI client (which may be nil).
func NewDefaultRegistry(client genai.ClientInterface) *Registry {
	return NewRegistry(
		NewAcademic(client),
		NewCalendar(client),
		NewFinancial(client),
		NewPolicies(client),
	)
}
