package models

import "testing"

func TestIsValidDomain(t *testing.T) {
	valid := []Domain{DomainAcademic, DomainCalendar, DomainFinancial, DomainPolicies}
	for _, d := range valid {
		if !IsValidDomain(d) {
			t.Errorf("expected %q to be a valid responder domain", d)
		}
	}
	invalid := []Domain{DomainGreeting, DomainNone, Domain("llm"), Domain("")}
	for _, d := range invalid {
		if IsValidDomain(d) {
			t.Errorf("expected %q to be rejected as a responder domain", d)
		}
	}
}

func TestExtractCredential(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"12345678", "12345678"},
		{"mi dni es 40123456 gracias", "40123456"},
		{"1234567", ""},          // too short
		{"123456789", ""},        // too long, no word boundary match
		{"dni: 40123456.", "40123456"},
		{"hola", ""},
	}
	for _, tc := range cases {
		if got := ExtractCredential(tc.text); got != tc.want {
			t.Errorf("ExtractCredential(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestUserIdentity(t *testing.T) {
	u := User{ID: "u1", Credential: "12345678", DisplayName: "Ana", Role: "student", ExternalRef: "LEG-100"}
	id := u.Identity()
	if id.ID != "u1" || id.DisplayName != "Ana" || id.Role != "student" || id.ExternalRef != "LEG-100" {
		t.Errorf("unexpected identity: %+v", id)
	}
}

func TestAPIResponseConstructors(t *testing.T) {
	if r := Success(nil); r.Status != string(APIStatusOK) {
		t.Errorf("expected ok status, got %q", r.Status)
	}
	if r := Error("boom"); r.Status != string(APIStatusError) || r.Message != "boom" {
		t.Errorf("unexpected error response: %+v", r)
	}
	if r := Queued(map[string]string{"session_id": "s1"}); r.Status != string(APIStatusQueued) {
		t.Errorf("expected queued status, got %q", r.Status)
	}
	if r := Ignored("empty_message"); r.Status != string(APIStatusIgnored) || r.Message != "empty_message" {
		t.Errorf("unexpected ignored response: %+v", r)
	}
}
