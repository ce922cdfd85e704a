package messaging

import (
	"context"
	"sync"

	"github.com/campusrelay/CampusRelay/internal/models"
)

// MockService implements Service in memory for tests.
type MockService struct {
	mu        sync.Mutex
	sent      []SentMessage
	sendErr   error
	responses chan models.Response
}

// SentMessage is one outbound message recorded by MockService.
type SentMessage struct {
	To   string
	Body string
}

// NewMockService creates a mock messaging service.
func NewMockService() *MockService {
	return &MockService{responses: make(chan models.Response, DefaultChannelBufferSize)}
}

// SetSendError makes subsequent SendMessage calls fail with err.
func (m *MockService) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (m *MockService) SendMessage(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockService) Start(context.Context) error { return nil }
func (m *MockService) Stop() error                 { return nil }

func (m *MockService) Responses() <-chan models.Response {
	return m.responses
}

// EmitResponse injects an incoming message, as if a student had written.
func (m *MockService) EmitResponse(r models.Response) {
	m.responses <- r
}

// Sent returns a copy of the recorded outbound messages.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
