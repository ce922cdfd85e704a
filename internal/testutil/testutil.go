// Package testutil provides common test utilities and helpers for CampusRelay tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campusrelay/CampusRelay/internal/api"
	"github.com/campusrelay/CampusRelay/internal/classifier"
	"github.com/campusrelay/CampusRelay/internal/messaging"
	"github.com/campusrelay/CampusRelay/internal/models"
	"github.com/campusrelay/CampusRelay/internal/orchestrator"
	"github.com/campusrelay/CampusRelay/internal/queue"
	"github.com/campusrelay/CampusRelay/internal/responders"
	"github.com/campusrelay/CampusRelay/internal/session"
	"github.com/campusrelay/CampusRelay/internal/store"
)

// TestDebounceInterval keeps debounce waits short in tests.
const TestDebounceInterval = 30 * time.Millisecond

// NewTestServer creates a test API server with in-memory dependencies and a
// mock messaging channel. The returned MockService records outbound replies.
func NewTestServer(t *testing.T, users ...models.User) (*api.Server, *messaging.MockService) {
	t.Helper()
	msgService := messaging.NewMockService()
	sessions := session.NewMemoryStore(session.DefaultTTL)
	st := store.NewMemoryStore()
	for _, u := range users {
		st.AddUser(u)
	}
	orch := orchestrator.New(
		classifier.New(),
		sessions,
		responders.NewDefaultRegistry(nil),
		st, st,
		messaging.NewDeliverer(msgService),
	)
	q := queue.NewQueue(orch.ProcessBatch, queue.WithInterval(TestDebounceInterval))
	t.Cleanup(q.Stop)
	return api.NewServer(msgService, sessions, q, orch, st, false, ""), msgService
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response envelope and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, url, reqBody)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WaitForReplies polls the mock messaging service until it has at least n
// outbound replies or the timeout elapses.
func WaitForReplies(t *testing.T, msgService *messaging.MockService, n int, timeout time.Duration) []messaging.SentMessage {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sent := msgService.Sent(); len(sent) >= n {
			return sent
		}
		time.Sleep(5 * time.Millisecond)
	}
	sent := msgService.Sent()
	t.Fatalf("timed out waiting for %d replies, got %d", n, len(sent))
	return sent
}
