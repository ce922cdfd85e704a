// Package models defines the core data structures for CampusRelay.
//
// It includes the routing domains, classification results, user identity
// records, and the API response envelopes shared across modules.
package models

import (
	"errors"
	"regexp"
)

// Domain identifies a routing destination for an incoming message.
type Domain string

const (
	// DomainGreeting is a short-circuit destination for pure greetings.
	DomainGreeting Domain = "greeting"
	// DomainAcademic handles class schedules, rooms, professors and enrolment.
	DomainAcademic Domain = "academic"
	// DomainCalendar handles exam dates and the academic calendar.
	DomainCalendar Domain = "calendar"
	// DomainFinancial handles account balance, dues and billing.
	DomainFinancial Domain = "financial"
	// DomainPolicies handles regulations, syllabi and institutional FAQs.
	DomainPolicies Domain = "policies"
	// DomainNone signals that no destination could be determined.
	DomainNone Domain = "none"
)

// IsValidDomain checks if the given domain is a routable destination.
// DomainGreeting and DomainNone are classifier outcomes, not responder domains.
func IsValidDomain(d Domain) bool {
	switch d {
	case DomainAcademic, DomainCalendar, DomainFinancial, DomainPolicies:
		return true
	default:
		return false
	}
}

// ClassificationMethod records how a classification result was produced.
// It is informational, used for logging and telemetry only.
type ClassificationMethod string

const (
	// MethodPattern means a temporal/domain regex pattern matched.
	MethodPattern ClassificationMethod = "pattern"
	// MethodKeyword means weighted keyword scoring produced the result.
	MethodKeyword ClassificationMethod = "keyword"
	// MethodAmbiguous means scoring could not separate the candidates.
	MethodAmbiguous ClassificationMethod = "ambiguous"
	// MethodGreeting means the greeting heuristic short-circuited.
	MethodGreeting ClassificationMethod = "greeting"
)

// Classification is the outcome of classifying one message batch.
type Classification struct {
	Domain     Domain               `json:"domain"`
	Confidence float64              `json:"confidence"`
	Method     ClassificationMethod `json:"method"`
}

// Identity is the resolved record for an authenticated end user.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`                 // e.g. "student", "staff"
	ExternalRef string `json:"external_ref,omitempty"` // reference into the university's systems
}

// User is a stored user record keyed by credential.
type User struct {
	ID          string `json:"id"`
	Credential  string `json:"credential"` // 8-digit national ID the user authenticates with
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// Identity converts a stored user into the identity carried through a batch.
func (u User) Identity() Identity {
	return Identity{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		ExternalRef: u.ExternalRef,
	}
}

// credentialPattern matches the 8-digit credential token users authenticate with.
var credentialPattern = regexp.MustCompile(`\b\d{8}\b`)

// ExtractCredential returns the first credential-shaped token in text,
// or the empty string when none is present.
func ExtractCredential(text string) string {
	return credentialPattern.FindString(text)
}

// Response represents an incoming message from a channel participant.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// Reply is an outbound message produced by the orchestrator for delivery.
type Reply struct {
	ChannelRef string `json:"channel_ref,omitempty"`
	Body       string `json:"body"`
	Escalated  bool   `json:"escalated,omitempty"`
}

// SessionStats summarizes the session store for the ops endpoints.
type SessionStats struct {
	TotalSessions         int `json:"total_sessions"`
	ActiveSessions        int `json:"active_sessions"`
	AuthenticatedSessions int `json:"authenticated_sessions"`
	ExpiredSessions       int `json:"expired_sessions"`
	CleanedSessions       int `json:"cleaned_sessions,omitempty"`
}

// Error variables shared across modules.
var (
	// ErrUserNotFound is returned when a credential or user id resolves to nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrLinkNotFound is returned when a session has no persisted identity link.
	ErrLinkNotFound = errors.New("identity link not found")
)

// APIStatus represents the status field of an API response envelope.
type APIStatus string

const (
	// APIStatusOK indicates a successful request.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed request.
	APIStatusError APIStatus = "error"
	// APIStatusQueued indicates the message was accepted for debounced processing.
	APIStatusQueued APIStatus = "queued"
	// APIStatusIgnored indicates the request was valid but not actionable.
	APIStatusIgnored APIStatus = "ignored"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Queued creates a queued API response with optional result data.
func Queued(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusQueued), Result: result}
}

// Ignored creates an ignored API response with a reason message.
func Ignored(reason string) APIResponse {
	return APIResponse{Status: string(APIStatusIgnored), Message: reason}
}
