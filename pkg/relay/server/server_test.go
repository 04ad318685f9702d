package server

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/callweave/relay/pkg/relay/config"
)

func testConfig() config.Config {
	return config.Config{
		Addr:                ":8080",
		Provider:            config.ProviderAnthropic,
		Model:               "claude-3-5-haiku-latest",
		ResponseMode:        config.ResponseModeStreaming,
		MaxTokens:           1024,
		AnthropicAPIKey:     "sk-ant-test",
		SystemPrompt:        "You are a voice assistant.",
		PublicHost:          "relay.example.com",
		HandshakeTimeout:    5 * time.Second,
		WriteTimeout:        5 * time.Second,
		PingInterval:        20 * time.Second,
		MaxMessageBytes:     64 * 1024,
		ReadHeaderTimeout:   10 * time.Second,
		ShutdownGracePeriod: 30 * time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_RequiresProviderCredentials(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AnthropicAPIKey = ""
	if _, err := New(cfg, testLogger()); err == nil || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Fatalf("err=%v", err)
	}

	cfg = testConfig()
	cfg.Provider = config.ProviderOpenAI
	cfg.Model = "gpt-4o-mini"
	if _, err := New(cfg, testLogger()); err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("err=%v", err)
	}

	cfg = testConfig()
	cfg.Provider = "gemini"
	if _, err := New(cfg, testLogger()); err == nil || !strings.Contains(err.Error(), "unsupported provider") {
		t.Fatalf("err=%v", err)
	}
}

func TestNew_RejectsBadResponseMode(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.ResponseMode = "chunked"
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected error for bad response mode")
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()
	s, err := New(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("healthz status=%d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 200 {
		t.Fatalf("readyz status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/twiml", nil))
	if rec.Code != 200 {
		t.Fatalf("twiml status=%d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "ConversationRelay") {
		t.Fatalf("twiml body=%s", body)
	}
}

func TestSetDraining_FlipsReadiness(t *testing.T) {
	t.Parallel()
	s, err := New(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h := s.Handler()

	s.SetDraining()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 503 {
		t.Fatalf("readyz status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("healthz status=%d", rec.Code)
	}
}

func TestActiveCalls_StartsAtZero(t *testing.T) {
	t.Parallel()
	s, err := New(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.ActiveCalls() != 0 {
		t.Fatalf("active=%d", s.ActiveCalls())
	}
}
