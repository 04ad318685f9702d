package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientMessage_Setup(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"type":"setup","sessionId":"VX1","callSid":"CA123","from":"+15550100","to":"+15550101","direction":"inbound"}`)
	decoded, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	msg, ok := decoded.(SetupMessage)
	if !ok {
		t.Fatalf("decoded %T, want SetupMessage", decoded)
	}
	if msg.CallSid != "CA123" {
		t.Fatalf("callSid=%q", msg.CallSid)
	}
	if msg.From != "+15550100" {
		t.Fatalf("from=%q", msg.From)
	}
}

func TestDecodeClientMessage_SetupRequiresCallSid(t *testing.T) {
	t.Parallel()
	_, err := DecodeClientMessage([]byte(`{"type":"setup"}`))
	de, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err=%v, want DecodeError", err)
	}
	if de.Param != "callSid" {
		t.Fatalf("param=%q", de.Param)
	}
}

func TestDecodeClientMessage_Prompt(t *testing.T) {
	t.Parallel()
	decoded, err := DecodeClientMessage([]byte(`{"type":"prompt","voicePrompt":"hello","lang":"en-US","last":true}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	msg, ok := decoded.(PromptMessage)
	if !ok {
		t.Fatalf("decoded %T, want PromptMessage", decoded)
	}
	if msg.VoicePrompt != "hello" || !msg.Last {
		t.Fatalf("msg=%+v", msg)
	}
}

func TestDecodeClientMessage_PromptRequiresVoicePrompt(t *testing.T) {
	t.Parallel()
	if _, err := DecodeClientMessage([]byte(`{"type":"prompt"}`)); err == nil {
		t.Fatal("expected error for missing voicePrompt")
	}
}

func TestDecodeClientMessage_Interrupt(t *testing.T) {
	t.Parallel()
	decoded, err := DecodeClientMessage([]byte(`{"type":"interrupt","utteranceUntilInterrupt":"Once upon","durationUntilInterruptMs":820}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	msg, ok := decoded.(InterruptMessage)
	if !ok {
		t.Fatalf("decoded %T, want InterruptMessage", decoded)
	}
	if msg.DurationUntilInterruptMs != 820 {
		t.Fatalf("duration=%d", msg.DurationUntilInterruptMs)
	}
}

func TestDecodeClientMessage_UnknownTypeIsNotAnError(t *testing.T) {
	t.Parallel()
	decoded, err := DecodeClientMessage([]byte(`{"type":"media","payload":"zzz"}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	msg, ok := decoded.(UnknownMessage)
	if !ok {
		t.Fatalf("decoded %T, want UnknownMessage", decoded)
	}
	if msg.Type != "media" {
		t.Fatalf("type=%q", msg.Type)
	}
}

func TestDecodeClientMessage_BadFrames(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"not json", `{}`, `{"type":"  "}`} {
		if _, err := DecodeClientMessage([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestTextToken_WireShape(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(NewTextToken("Once", false))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(data), `{"type":"text","token":"Once","last":false}`; got != want {
		t.Fatalf("token json=%s, want %s", got, want)
	}

	data, err = json.Marshal(NewTextToken("", true))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(data), `{"type":"text","token":"","last":true}`; got != want {
		t.Fatalf("marker json=%s, want %s", got, want)
	}
}
