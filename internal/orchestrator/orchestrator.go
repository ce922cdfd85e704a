// Package orchestrator drives the per-batch conversation state machine.
//
// A batch is the debounced, newline-joined text for one session. Every batch
// walks the same states: authentication first, then routing through the
// classifier, then the matching domain responder, with escalation as the
// failure path. Each state that emits a reply is terminal, so a batch
// produces exactly one outgoing reply.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/campusrelay/CampusRelay/internal/classifier"
	"github.com/campusrelay/CampusRelay/internal/models"
	"github.com/campusrelay/CampusRelay/internal/responders"
	"github.com/campusrelay/CampusRelay/internal/session"
)

// State identifies a step of the batch state machine.
type State string

const (
	StateAuthenticating State = "AUTHENTICATING"
	StateRouting        State = "ROUTING"
	StateResponding     State = "RESPONDING"
	StateEscalating     State = "ESCALATING"
	StateDone           State = "DONE"
)

// Constants for orchestrator configuration
const (
	// DefaultMaxSteps bounds state transitions per batch before forced escalation.
	DefaultMaxSteps = 10
	// DefaultResponderTimeout bounds a single responder call.
	DefaultResponderTimeout = 30 * time.Second
	// DefaultDomain receives batches the classifier could not place.
	DefaultDomain = models.DomainAcademic
)

// IdentityResolver resolves credentials and user ids to user records.
// store.Store satisfies it.
type IdentityResolver interface {
	GetUserByCredential(ctx context.Context, credential string) (models.User, error)
	GetUserByID(ctx context.Context, id string) (models.User, error)
}

// IdentityLinks persists long-lived session-to-user links so returning
// conversations skip credential entry. store.Store satisfies it. A nil
// IdentityLinks degrades to always prompting for the credential.
type IdentityLinks interface {
	SaveIdentityLink(ctx context.Context, sessionID, userID string) error
	GetIdentityLink(ctx context.Context, sessionID string) (string, error)
	DeleteIdentityLink(ctx context.Context, sessionID string) error
}

// Deliverer sends the batch reply back over the originating channel.
// Delivery is best-effort: failures are logged, never retried.
type Deliverer interface {
	Deliver(ctx context.Context, channelRef, text string) error
}

// Opts holds configuration options for the orchestrator.
type Opts struct {
	DefaultDomain    models.Domain
	ResponderTimeout time.Duration
	MaxSteps         int
}

// Option defines a configuration option for the orchestrator.
type Option func(*Opts)

// WithDefaultDomain sets the fallback domain for unclassifiable batches.
func WithDefaultDomain(d models.Domain) Option {
	return func(o *Opts) { o.DefaultDomain = d }
}

// WithResponderTimeout sets the per-responder-call timeout.
func WithResponderTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ResponderTimeout = d }
}

// WithMaxSteps sets the state-transition budget per batch.
func WithMaxSteps(n int) Option {
	return func(o *Opts) { o.MaxSteps = n }
}

// Orchestrator owns the batch state machine and its collaborators.
type Orchestrator struct {
	classifier *classifier.Classifier
	sessions   session.Store
	registry   *responders.Registry
	resolver   IdentityResolver
	links      IdentityLinks
	deliverer  Deliverer

	defaultDomain    models.Domain
	responderTimeout time.Duration
	maxSteps         int
}

// New creates an orchestrator. resolver is required; links and deliverer may
// be nil (links nil means no persistent re-authentication, deliverer nil
// means replies are only logged).
func New(cls *classifier.Classifier, sessions session.Store, registry *responders.Registry, resolver IdentityResolver, links IdentityLinks, deliverer Deliverer, opts ...Option) *Orchestrator {
	cfg := Opts{
		DefaultDomain:    DefaultDomain,
		ResponderTimeout: DefaultResponderTimeout,
		MaxSteps:         DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Orchestrator{
		classifier:       cls,
		sessions:         sessions,
		registry:         registry,
		resolver:         resolver,
		links:            links,
		deliverer:        deliverer,
		defaultDomain:    cfg.DefaultDomain,
		responderTimeout: cfg.ResponderTimeout,
		maxSteps:         cfg.MaxSteps,
	}
}

// batchState carries the per-batch working data between states.
type batchState struct {
	sessionID string
	text      string
	domain    models.Domain
	identity  models.Identity
	reply     string
}

// logoutKeywords end an authenticated conversation and clear the persistent
// identity link. Matched on normalized (lowercased, accent-folded) text.
var logoutKeywords = []string{"olvidar", "logout", "cerrar sesion"}

// ProcessBatch runs one batch through the state machine and delivers the
// resulting reply. It is the debounce queue's callback: it never panics and
// every internal failure ends as an escalation reply or a log line.
func (o *Orchestrator) ProcessBatch(ctx context.Context, sessionID, batchText string) error {
	b := &batchState{sessionID: sessionID, text: batchText}
	state := StateAuthenticating
	steps := 0
	for state != StateDone {
		steps++
		if steps > o.maxSteps {
			slog.Error("Orchestrator.ProcessBatch exceeded step budget", "session", sessionID, "steps", steps)
			b.reply = o.escalationReply(b)
			break
		}
		slog.Debug("Orchestrator.ProcessBatch state", "session", sessionID, "state", state, "step", steps)
		switch state {
		case StateAuthenticating:
			state = o.authenticate(ctx, b)
		case StateRouting:
			state = o.route(b)
		case StateResponding:
			state = o.respond(ctx, b)
		case StateEscalating:
			b.reply = o.escalationReply(b)
			state = StateDone
		default:
			slog.Error("Orchestrator.ProcessBatch unknown state", "session", sessionID, "state", state)
			b.reply = o.escalationReply(b)
			state = StateDone
		}
	}
	return o.deliver(ctx, b)
}

// authenticate is the entry state for every batch. It resolves the session's
// identity or produces a credential prompt/confirmation reply.
func (o *Orchestrator) authenticate(ctx context.Context, b *batchState) State {
	sess := o.sessions.Get(b.sessionID)

	// Logout is checked before anything else: a linked session would
	// otherwise auto-authenticate and the command would be routed as a
	// domain question instead.
	if containsLogoutKeyword(b.text) {
		if o.links != nil {
			if err := o.links.DeleteIdentityLink(ctx, b.sessionID); err != nil {
				slog.Error("Orchestrator.authenticate failed to delete identity link", "session", b.sessionID, "error", err)
			}
		}
		o.sessions.Delete(b.sessionID)
		slog.Info("Orchestrator.authenticate logged out", "session", b.sessionID)
		b.reply = "Listo, cerré tu sesión y olvidé este número. Cuando quieras volver, mandame tu número de legajo (8 dígitos)."
		return StateDone
	}

	if sess.Authenticated && sess.Identity != nil {
		b.identity = *sess.Identity
		return StateRouting
	}

	// Returning conversation: a persisted link lets the user skip the
	// credential. A stale link (user gone) is removed.
	if o.links != nil {
		userID, err := o.links.GetIdentityLink(ctx, b.sessionID)
		switch {
		case err == nil:
			user, rerr := o.resolver.GetUserByID(ctx, userID)
			if rerr == nil {
				identity := user.Identity()
				o.sessions.Authenticate(b.sessionID, &identity)
				b.identity = identity
				slog.Info("Orchestrator.authenticate restored from link", "session", b.sessionID, "user", userID)
				b.reply = fmt.Sprintf("¡Hola de nuevo, %s! ¿En qué te puedo ayudar?", identity.DisplayName)
				return StateDone
			}
			if errors.Is(rerr, models.ErrUserNotFound) {
				slog.Info("Orchestrator.authenticate removing stale link", "session", b.sessionID, "user", userID)
				if derr := o.links.DeleteIdentityLink(ctx, b.sessionID); derr != nil {
					slog.Error("Orchestrator.authenticate failed to delete stale link", "session", b.sessionID, "error", derr)
				}
			} else {
				slog.Error("Orchestrator.authenticate link resolution failed", "session", b.sessionID, "error", rerr)
				return StateEscalating
			}
		case errors.Is(err, models.ErrLinkNotFound):
			// No link, fall through to credential handling.
		default:
			slog.Error("Orchestrator.authenticate link lookup failed", "session", b.sessionID, "error", err)
			// Degrade to credential prompt rather than failing the batch.
		}
	}

	credential := models.ExtractCredential(b.text)
	if credential == "" {
		b.reply = "¡Hola! Para ayudarte necesito verificar tu identidad. Mandame tu número de legajo (8 dígitos)."
		return StateDone
	}

	user, err := o.resolver.GetUserByCredential(ctx, credential)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			slog.Info("Orchestrator.authenticate rejected credential", "session", b.sessionID)
			b.reply = "No encontré ese legajo en el sistema. Revisá el número e intentá de nuevo."
			return StateDone
		}
		slog.Error("Orchestrator.authenticate credential resolution failed", "session", b.sessionID, "error", err)
		return StateEscalating
	}

	identity := user.Identity()
	o.sessions.Authenticate(b.sessionID, &identity)
	b.identity = identity
	if o.links != nil {
		// Best-effort: a failed save only means re-prompting next time.
		if err := o.links.SaveIdentityLink(ctx, b.sessionID, user.ID); err != nil {
			slog.Error("Orchestrator.authenticate failed to save identity link", "session", b.sessionID, "error", err)
		}
	}
	slog.Info("Orchestrator.authenticate authenticated", "session", b.sessionID, "user", user.ID)
	// Authentication always terminates the batch, even when the message
	// carried a question alongside the credential.
	b.reply = fmt.Sprintf("¡Bienvenido/a, %s! Ya verifiqué tu identidad. ¿En qué te puedo ayudar?", identity.DisplayName)
	return StateDone
}

// route classifies the batch and picks the responding domain.
func (o *Orchestrator) route(b *batchState) State {
	c := o.classifier.Classify(b.text)
	slog.Info("Orchestrator.route classified", "session", b.sessionID, "domain", c.Domain, "confidence", c.Confidence, "method", c.Method)

	if c.Domain == models.DomainGreeting {
		b.reply = fmt.Sprintf("¡Hola, %s! ¿En qué te puedo ayudar hoy?", b.identity.DisplayName)
		return StateDone
	}
	if models.IsValidDomain(c.Domain) {
		b.domain = c.Domain
		return StateResponding
	}
	slog.Debug("Orchestrator.route falling back to default domain", "session", b.sessionID, "default", o.defaultDomain)
	b.domain = o.defaultDomain
	return StateResponding
}

// respond invokes the domain responder under the configured timeout.
func (o *Orchestrator) respond(ctx context.Context, b *batchState) State {
	r, err := o.registry.Lookup(b.domain)
	if err != nil {
		slog.Error("Orchestrator.respond no responder", "session", b.sessionID, "domain", b.domain, "error", err)
		return StateEscalating
	}

	rctx, cancel := context.WithTimeout(ctx, o.responderTimeout)
	defer cancel()
	answer, err := r.Handle(rctx, b.text, b.identity)
	if err != nil {
		slog.Error("Orchestrator.respond responder failed", "session", b.sessionID, "domain", b.domain, "error", err)
		return StateEscalating
	}
	b.reply = answer
	return StateDone
}

// escalationReply is the human-handoff reply used by the escalation state
// and by every forced-failure path.
func (o *Orchestrator) escalationReply(b *batchState) string {
	slog.Info("Orchestrator escalating to human", "session", b.sessionID, "domain", b.domain)
	if b.identity.DisplayName != "" {
		return fmt.Sprintf("%s, no pude resolver tu consulta automáticamente. La derivé a un asesor que te va a responder a la brevedad.", b.identity.DisplayName)
	}
	return "No pude resolver tu consulta automáticamente. La derivé a un asesor que te va a responder a la brevedad."
}

// deliver sends the batch reply over the session's channel. Failures are
// logged and swallowed.
func (o *Orchestrator) deliver(ctx context.Context, b *batchState) error {
	if b.reply == "" {
		slog.Error("Orchestrator.deliver empty reply", "session", b.sessionID)
		return nil
	}
	channelRef := o.sessions.Get(b.sessionID).ChannelRef
	if channelRef == "" {
		channelRef = b.sessionID
	}
	if o.deliverer == nil {
		slog.Info("Orchestrator.deliver no deliverer configured", "session", b.sessionID, "reply_len", len(b.reply))
		return nil
	}
	if err := o.deliverer.Deliver(ctx, channelRef, b.reply); err != nil {
		slog.Error("Orchestrator.deliver failed", "session", b.sessionID, "channel", channelRef, "error", err)
		return nil
	}
	slog.Debug("Orchestrator.deliver succeeded", "session", b.sessionID, "channel", channelRef)
	return nil
}

func containsLogoutKeyword(text string) bool {
	normalized := classifier.Normalize(text)
	for _, kw := range logoutKeywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}
