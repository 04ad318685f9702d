// Package session runs the per-call event loop: it routes inbound
// ConversationRelay events for one phone call, drives response generation
// against the conversation store, streams tokens back to the transport and
// cancels in-flight output on barge-in.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/callweave/relay/pkg/relay/generate"
	"github.com/callweave/relay/pkg/relay/protocol"
	"github.com/callweave/relay/pkg/relay/store"
)

type Config struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	TurnTimeout     time.Duration // 0 disables the per-turn deadline
	MaxMessageBytes int64
}

type Dependencies struct {
	Conn      *websocket.Conn
	CallSid   string
	Store     *store.Store
	Generator *generate.Generator
	Logger    *slog.Logger
	Config    Config
}

// Session owns one call. Events for the call are handled strictly in
// arrival order by Run's loop; the only concurrent work is the generation
// pump, which hands its outcome back to the loop through turnDone.
type Session struct {
	conn      *websocket.Conn
	callSid   string
	store     *store.Store
	generator *generate.Generator
	logger    *slog.Logger
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan outboundFrame
	turnDone chan turnResult

	canceledMu    sync.Mutex
	canceledTurns map[string]struct{}
}

// activeTurn is the session's ownership handle on its single in-flight
// generation.
type activeTurn struct {
	id     string
	gen    *generate.Generation
	cancel context.CancelFunc
}

type turnResult struct {
	id  string
	gen *generate.Generation
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, errors.New("websocket connection is required")
	}
	if deps.CallSid == "" {
		return nil, errors.New("call sid is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:          deps.Conn,
		callSid:       deps.CallSid,
		store:         deps.Store,
		generator:     deps.Generator,
		logger:        logger.With("call_sid", deps.CallSid),
		cfg:           deps.Config,
		ctx:           ctx,
		cancel:        cancel,
		outbound:      make(chan outboundFrame, 64),
		turnDone:      make(chan turnResult, 4),
		canceledTurns: make(map[string]struct{}),
	}, nil
}

// Cancel tears the session down from outside, e.g. during process shutdown.
func (s *Session) Cancel() {
	s.cancel()
}

// Run processes the call until the transport disconnects or the session is
// cancelled. The call's history is removed on the way out, in-flight
// generation included.
func (s *Session) Run() error {
	defer s.cancel()
	defer s.store.Delete(s.callSid)

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	} else {
		// The handler arms a handshake deadline before handing the
		// connection over; it must not outlive setup.
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	readCh := make(chan []byte, 16)
	go s.readLoop(readCh)

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:         s.conn,
			ctx:        s.ctx,
			cfg:        s.cfg,
			frames:     s.outbound,
			isCanceled: s.isTurnCanceled,
		}
		writerErrCh <- w.Run()
	}()

	var active *activeTurn
	defer func() {
		if active != nil {
			s.cancelTurn(active)
		}
	}()

	s.logger.Info("call session started")

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			// A write failure is a transport failure; clean up like a
			// disconnect.
			if err != nil {
				s.logger.Warn("transport write failed", "error", err)
			}
			return err
		case data, ok := <-readCh:
			if !ok {
				s.logger.Info("call session ended")
				return nil
			}
			active = s.handleEvent(data, active)
		case res := <-s.turnDone:
			active = s.finishTurn(res, active)
		}
	}
}

func (s *Session) readLoop(out chan<- []byte) {
	defer close(out)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if s.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		select {
		case out <- data:
		case <-s.ctx.Done():
			return
		}
	}
}

// handleEvent classifies one inbound frame and applies the matching state
// transition. Errors never propagate past here: a bad or unexpected frame
// costs at most its own event.
func (s *Session) handleEvent(data []byte, active *activeTurn) *activeTurn {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		s.logger.Warn("dropping malformed frame", "error", err)
		return active
	}

	switch m := msg.(type) {
	case protocol.PromptMessage:
		return s.handlePrompt(m, active)
	case protocol.InterruptMessage:
		return s.handleInterrupt(m, active)
	case protocol.SetupMessage:
		s.logger.Warn("ignoring duplicate setup on established connection", "setup_call_sid", m.CallSid)
		return active
	case protocol.DTMFMessage:
		s.logger.Info("dtmf received", "digit", m.Digit)
		return active
	case protocol.ErrorMessage:
		s.logger.Warn("transport reported error", "description", m.Description)
		return active
	case protocol.UnknownMessage:
		s.logger.Debug("ignoring unrecognized message type", "type", m.Type)
		return active
	default:
		return active
	}
}

func (s *Session) handlePrompt(m protocol.PromptMessage, active *activeTurn) *activeTurn {
	// A turn that finished while this prompt was queued is not an
	// interruption; fold its result in first.
	select {
	case res := <-s.turnDone:
		active = s.finishTurn(res, active)
	default:
	}
	if active != nil {
		s.logger.Info("new utterance while generation in flight, cancelling", "turn_id", active.id)
		s.cancelTurn(active)
		active = nil
	}

	if err := s.store.Append(s.callSid, store.Message{Role: store.RoleUser, Content: m.VoicePrompt}); err != nil {
		s.logger.Warn("dropping prompt for unknown call", "error", err)
		return nil
	}
	history, err := s.store.Snapshot(s.callSid)
	if err != nil {
		s.logger.Warn("dropping prompt for unknown call", "error", err)
		return nil
	}

	turnID := uuid.NewString()
	var (
		turnCtx    context.Context
		turnCancel context.CancelFunc
	)
	if s.cfg.TurnTimeout > 0 {
		turnCtx, turnCancel = context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
	} else {
		turnCtx, turnCancel = context.WithCancel(s.ctx)
	}

	gen := s.generator.Generate(turnCtx, history)
	go s.pumpTurn(turnID, gen)

	s.logger.Debug("turn started", "turn_id", turnID, "mode", s.generator.Mode())
	return &activeTurn{id: turnID, gen: gen, cancel: turnCancel}
}

func (s *Session) handleInterrupt(m protocol.InterruptMessage, active *activeTurn) *activeTurn {
	// A turn that finished while the interrupt was queued was not
	// interrupted; fold its result in first.
	select {
	case res := <-s.turnDone:
		active = s.finishTurn(res, active)
	default:
	}
	if active == nil {
		// Barge-in over silence is a normal event, not an error.
		s.logger.Debug("interrupt with no generation in flight")
		return nil
	}
	s.logger.Info("barge-in, cancelling generation",
		"turn_id", active.id,
		"spoken_ms", m.DurationUntilInterruptMs,
	)
	s.cancelTurn(active)
	return nil
}

// pumpTurn drains one generation into the transport. It runs concurrently
// with the event loop so a later interrupt can cancel the generation while
// fragments are still arriving.
func (s *Session) pumpTurn(turnID string, gen *generate.Generation) {
	for frag := range gen.Fragments() {
		s.emit(turnID, protocol.NewTextToken(frag, false))
	}
	<-gen.Done()

	switch gen.Status() {
	case generate.StatusCompleted, generate.StatusFailed:
		// The terminal marker tells the transport the turn is over; a
		// failed turn still gets one so the caller is not left waiting.
		s.emit(turnID, protocol.NewTextToken("", true))
	}

	select {
	case s.turnDone <- turnResult{id: turnID, gen: gen}:
	case <-s.ctx.Done():
	}
}

// finishTurn records the outcome of the session's own in-flight turn.
// Results of superseded turns are discarded.
func (s *Session) finishTurn(res turnResult, active *activeTurn) *activeTurn {
	if active == nil || active.id != res.id {
		return active
	}
	active.cancel()

	switch res.gen.Status() {
	case generate.StatusCompleted:
		reply := res.gen.Text()
		if err := s.store.Append(s.callSid, store.Message{Role: store.RoleAssistant, Content: reply}); err != nil {
			s.logger.Warn("could not record assistant reply", "error", err)
		}
		s.logger.Debug("turn completed", "turn_id", res.id, "reply_chars", len(reply))
	case generate.StatusFailed:
		s.logger.Error("generation failed", "turn_id", res.id, "error", res.gen.Err())
	case generate.StatusCancelled:
		s.logger.Debug("turn cancelled", "turn_id", res.id)
	}
	return nil
}

func (s *Session) cancelTurn(t *activeTurn) {
	// Mark before cancelling so queued frames of this turn are dropped by
	// the writer rather than spoken after the barge-in.
	s.canceledMu.Lock()
	s.canceledTurns[t.id] = struct{}{}
	s.canceledMu.Unlock()

	t.gen.Cancel()
	t.cancel()
}

func (s *Session) isTurnCanceled(turnID string) bool {
	s.canceledMu.Lock()
	defer s.canceledMu.Unlock()
	_, ok := s.canceledTurns[turnID]
	return ok
}

func (s *Session) emit(turnID string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode outbound frame", "error", err)
		return
	}
	select {
	case s.outbound <- outboundFrame{turnID: turnID, payload: payload}:
	case <-s.ctx.Done():
	}
}
