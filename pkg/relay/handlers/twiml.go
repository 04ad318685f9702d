package handlers

import (
	"encoding/xml"
	"log/slog"
	"net/http"

	"github.com/callweave/relay/pkg/relay/config"
)

// TwiMLHandler serves the call-setup document that points Twilio's
// ConversationRelay at this gateway's websocket endpoint.
type TwiMLHandler struct {
	Config config.Config
	Logger *slog.Logger
}

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	ConversationRelay twimlConversationRelay `xml:"ConversationRelay"`
}

type twimlConversationRelay struct {
	URL             string `xml:"url,attr"`
	WelcomeGreeting string `xml:"welcomeGreeting,attr,omitempty"`
	Voice           string `xml:"voice,attr,omitempty"`
	Language        string `xml:"language,attr,omitempty"`
}

func (h TwiMLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doc := twimlResponse{
		Connect: twimlConnect{
			ConversationRelay: twimlConversationRelay{
				URL:             h.relayURL(r),
				WelcomeGreeting: h.Config.Greeting,
				Voice:           h.Config.Voice,
				Language:        h.Config.Language,
			},
		},
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("encode twiml", "error", err)
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func (h TwiMLHandler) relayURL(r *http.Request) string {
	host := h.Config.PublicHost
	scheme := "wss"
	if host == "" {
		host = r.Host
		if r.TLS == nil {
			scheme = "ws"
		}
	}
	return scheme + "://" + host + "/relay"
}
