package generate

import (
	"testing"

	"github.com/callweave/relay/pkg/relay/store"
)

func TestAnthropicBackend_RequiresClientAndModel(t *testing.T) {
	t.Parallel()
	if _, err := NewAnthropicBackend(nil, "claude-3-5-haiku-latest", 1024); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewAnthropicBackendFromAPIKey("", "claude-3-5-haiku-latest", 1024); err == nil {
		t.Fatal("expected error for empty api key")
	}
	if _, err := NewAnthropicBackendFromAPIKey("sk-ant-test", "", 1024); err == nil {
		t.Fatal("expected error for empty model")
	}
	if _, err := NewAnthropicBackendFromAPIKey("sk-ant-test", "claude-3-5-haiku-latest", 0); err == nil {
		t.Fatal("expected error for zero max tokens")
	}
}

func TestAnthropicBackend_EncodeHistorySplitsSystem(t *testing.T) {
	t.Parallel()
	b, err := NewAnthropicBackendFromAPIKey("sk-ant-test", "claude-3-5-haiku-latest", 512)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	params := b.encodeHistory([]store.Message{
		{Role: store.RoleSystem, Content: "sys"},
		{Role: store.RoleUser, Content: "u1"},
		{Role: store.RoleAssistant, Content: "a1"},
		{Role: store.RoleUser, Content: "u2"},
	})

	if len(params.System) != 1 || params.System[0].Text != "sys" {
		t.Fatalf("system=%+v", params.System)
	}
	// The system message rides in the dedicated field, not the turn list.
	if len(params.Messages) != 3 {
		t.Fatalf("messages=%d", len(params.Messages))
	}
	if params.MaxTokens != 512 {
		t.Fatalf("max_tokens=%d", params.MaxTokens)
	}
	if string(params.Model) != "claude-3-5-haiku-latest" {
		t.Fatalf("model=%q", params.Model)
	}
}
