package api_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campusrelay/CampusRelay/internal/models"
	"github.com/campusrelay/CampusRelay/internal/testutil"
)

// Drives a whole conversation through the HTTP surface: prompt, auth,
// question, logout.
func TestConversationOverWebhook(t *testing.T) {
	server, msgService := testutil.NewTestServer(t, models.User{
		ID: "u1", Credential: "12345678", DisplayName: "Ana García", Role: "student",
	})
	handler := server.Handler()

	post := func(mensaje string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := testutil.CreateHTTPRequest(t, http.MethodPost, "/webhook/chatwoot", map[string]interface{}{
			"mensaje":         mensaje,
			"account_id":      7,
			"conversation_id": 42,
			"telefono":        "+5491122334455",
		})
		handler.ServeHTTP(rr, req)
		return rr
	}

	steps := []struct {
		mensaje  string
		expected string
	}{
		{"Hola", "legajo"},
		{"Mi legajo es 12345678", "Ana García"},
		{"¿Cuánto sale la cuota?", "administra"},
		{"olvidar", "cerré tu sesión"},
	}
	for i, s := range steps {
		rr := post(s.mensaje)
		testutil.AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "webhook intake")
		testutil.AssertJSONResponse(t, rr, "queued")

		sent := testutil.WaitForReplies(t, msgService, i+1, time.Second)
		if !strings.Contains(sent[i].Body, s.expected) {
			t.Errorf("step %d: expected reply containing %q, got %q", i, s.expected, sent[i].Body)
		}
	}
}

func TestHealthOverHTTP(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	rr := httptest.NewRecorder()
	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil)
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health endpoint")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %T", resp["result"])
	}
	if result["store_configured"] != true {
		t.Errorf("expected store_configured true, got %v", result["store_configured"])
	}
}
