package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/callweave/relay/pkg/relay/config"
)

func TestTwiML_UsesPublicHost(t *testing.T) {
	t.Parallel()
	h := TwiMLHandler{Config: config.Config{
		PublicHost: "relay.example.com",
		Greeting:   "Hello! How can I help?",
		Voice:      "en-US-Journey-O",
		Language:   "en-US",
	}}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/twiml", nil))

	if rec.Code != 200 {
		t.Fatalf("status=%d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("content-type=%q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`url="wss://relay.example.com/relay"`,
		`welcomeGreeting="Hello! How can I help?"`,
		`voice="en-US-Journey-O"`,
		`language="en-US"`,
		"<Connect>",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestTwiML_FallsBackToRequestHost(t *testing.T) {
	t.Parallel()
	h := TwiMLHandler{Config: config.Config{}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/twiml", nil)
	req.Host = "gw.local:8080"
	h.ServeHTTP(rec, req)

	if body := rec.Body.String(); !strings.Contains(body, `url="ws://gw.local:8080/relay"`) {
		t.Fatalf("body=%s", body)
	}
}

func TestTwiML_OmitsUnsetAttributes(t *testing.T) {
	t.Parallel()
	h := TwiMLHandler{Config: config.Config{PublicHost: "relay.example.com"}}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/twiml", nil))

	body := rec.Body.String()
	for _, attr := range []string{"welcomeGreeting", "voice", "language"} {
		if strings.Contains(body, attr) {
			t.Fatalf("body carries unset %s:\n%s", attr, body)
		}
	}
}

func TestTwiML_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	h := TwiMLHandler{}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("DELETE", "/twiml", nil))

	if rec.Code != 405 {
		t.Fatalf("status=%d", rec.Code)
	}
}
