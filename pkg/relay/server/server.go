// Package server wires the gateway's components behind one http.Handler.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/callweave/relay/pkg/relay/config"
	"github.com/callweave/relay/pkg/relay/generate"
	"github.com/callweave/relay/pkg/relay/handlers"
	"github.com/callweave/relay/pkg/relay/lifecycle"
	"github.com/callweave/relay/pkg/relay/mw"
	"github.com/callweave/relay/pkg/relay/sessions"
	"github.com/callweave/relay/pkg/relay/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store     *store.Store
	generator *generate.Generator
	lifecycle *lifecycle.Lifecycle
	sessions  *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}
	generator, err := generate.New(backend, generate.Mode(cfg.ResponseMode))
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		store:     store.New(),
		generator: generator,
		lifecycle: &lifecycle.Lifecycle{},
		sessions:  sessions.NewTracker(),
	}
	s.routes()
	return s, nil
}

func buildBackend(cfg config.Config) (generate.Backend, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY must be set when RELAY_PROVIDER=%s", cfg.Provider)
		}
		return generate.NewAnthropicBackendFromAPIKey(cfg.AnthropicAPIKey, cfg.Model, int64(cfg.MaxTokens))
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set when RELAY_PROVIDER=%s", cfg.Provider)
		}
		return generate.NewOpenAIBackendFromAPIKey(cfg.OpenAIAPIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Lifecycle: s.lifecycle})
	s.mux.Handle("/twiml", handlers.TwiMLHandler{Config: s.cfg, Logger: s.logger})
	s.mux.Handle("/relay", handlers.RelayHandler{
		Config:    s.cfg,
		Store:     s.store,
		Generator: s.generator,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness so load balancers stop routing new calls.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WaitCallSessions blocks until live calls finish or ctx ends.
func (s *Server) WaitCallSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

// CancelCallSessions force-terminates remaining live calls.
func (s *Server) CancelCallSessions() int {
	return s.sessions.CancelAll()
}

func (s *Server) ActiveCalls() int {
	return s.sessions.Count()
}
