// Package protocol defines the ConversationRelay websocket message shapes:
// the structured events Twilio sends for a live call (setup, prompt,
// interrupt, dtmf, error) and the token frames the gateway sends back.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// SetupMessage is the first frame ConversationRelay sends on a new
// connection. CallSid correlates every later event on the connection.
type SetupMessage struct {
	Type            string `json:"type"`
	SessionID       string `json:"sessionId,omitempty"`
	CallSid         string `json:"callSid"`
	AccountSid      string `json:"accountSid,omitempty"`
	From            string `json:"from,omitempty"`
	To              string `json:"to,omitempty"`
	Direction       string `json:"direction,omitempty"`
	CallStatus      string `json:"callStatus,omitempty"`
	ForwardedFrom   string `json:"forwardedFrom,omitempty"`
	CallerName      string `json:"callerName,omitempty"`
	ParentCallSid   string `json:"parentCallSid,omitempty"`
	CustomParameter string `json:"customParameter,omitempty"`
}

// PromptMessage carries one transcribed user utterance.
type PromptMessage struct {
	Type        string `json:"type"`
	VoicePrompt string `json:"voicePrompt"`
	Lang        string `json:"lang,omitempty"`
	Last        bool   `json:"last,omitempty"`
}

// InterruptMessage signals user barge-in while assistant speech is playing.
type InterruptMessage struct {
	Type                     string `json:"type"`
	UtteranceUntilInterrupt  string `json:"utteranceUntilInterrupt,omitempty"`
	DurationUntilInterruptMs int64  `json:"durationUntilInterruptMs,omitempty"`
}

type DTMFMessage struct {
	Type  string `json:"type"`
	Digit string `json:"digit"`
}

type ErrorMessage struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// UnknownMessage is returned for message types this gateway does not
// recognize. Callers ignore it so newer transport message types do not
// break live calls.
type UnknownMessage struct {
	Type string
}

// DecodeClientMessage parses one inbound frame. Recognized types are
// validated strictly; unrecognized types decode to UnknownMessage.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "setup":
		var msg SetupMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid setup frame", "")
		}
		if strings.TrimSpace(msg.CallSid) == "" {
			return nil, badRequest("setup.callSid is required", "callSid")
		}
		return msg, nil
	case "prompt":
		var msg PromptMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid prompt frame", "")
		}
		if strings.TrimSpace(msg.VoicePrompt) == "" {
			return nil, badRequest("prompt.voicePrompt is required", "voicePrompt")
		}
		return msg, nil
	case "interrupt":
		var msg InterruptMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid interrupt frame", "")
		}
		return msg, nil
	case "dtmf":
		var msg DTMFMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid dtmf frame", "")
		}
		return msg, nil
	case "error":
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid error frame", "")
		}
		return msg, nil
	default:
		return UnknownMessage{Type: typ}, nil
	}
}

// TextToken is one outbound speech fragment. The end of a turn is an empty
// token with Last set; ConversationRelay synthesizes speech from the token
// stream in arrival order.
type TextToken struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	Last  bool   `json:"last"`
}

func NewTextToken(token string, last bool) TextToken {
	return TextToken{Type: "text", Token: token, Last: last}
}

// EndMessage asks ConversationRelay to end the call.
type EndMessage struct {
	Type        string `json:"type"`
	HandoffData string `json:"handoffData,omitempty"`
}

func NewEndMessage() EndMessage {
	return EndMessage{Type: "end"}
}
