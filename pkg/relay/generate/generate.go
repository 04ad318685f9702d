// Package generate turns a conversation history into an assistant reply.
// It is the single integration point with the model backend; Batch and
// Streaming are one code path producing an ordered fragment sequence
// (Batch is the degenerate one-fragment case).
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/callweave/relay/pkg/relay/store"
)

type Mode string

const (
	ModeStreaming Mode = "streaming"
	ModeBatch     Mode = "batch"
)

type Status int

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrEmptyResponse reports a backend that returned no content.
var ErrEmptyResponse = errors.New("backend returned an empty response")

// BackendError wraps any failure from the model backend.
type BackendError struct {
	Provider string
	Err      error
}

func (e *BackendError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s backend: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// FragmentStream is incremental backend output. Recv returns io.EOF when the
// response is complete; fragments concatenate to the full response text.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// Backend is implemented once per model provider.
type Backend interface {
	Name() string
	Complete(ctx context.Context, history []store.Message) (string, error)
	Stream(ctx context.Context, history []store.Message) (FragmentStream, error)
}

type Generator struct {
	backend Backend
	mode    Mode
}

func New(backend Backend, mode Mode) (*Generator, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	switch mode {
	case ModeStreaming, ModeBatch:
	default:
		return nil, fmt.Errorf("unsupported response mode %q", mode)
	}
	return &Generator{backend: backend, mode: mode}, nil
}

func (g *Generator) Mode() Mode { return g.mode }

// Generate starts producing a reply for the given history snapshot. The
// returned Generation is owned by the caller: read Fragments to drain it,
// Cancel to abandon it.
func (g *Generator) Generate(ctx context.Context, history []store.Message) *Generation {
	ctx, cancel := context.WithCancel(ctx)
	gen := &Generation{
		fragments: make(chan string, 16),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	go gen.run(ctx, g.backend, g.mode, history)
	return gen
}

// Generation is one unit of response work. At most one exists per call
// session at a time.
type Generation struct {
	fragments chan string
	done      chan struct{}
	cancel    context.CancelFunc

	mu     sync.Mutex
	status Status
	err    error
	text   strings.Builder
}

// Fragments yields ordered non-empty fragments and is closed when the
// generation reaches a terminal status.
func (gen *Generation) Fragments() <-chan string { return gen.fragments }

// Done is closed after the terminal status and assembled text are visible.
func (gen *Generation) Done() <-chan struct{} { return gen.done }

// Cancel requests that the backend stop producing output. Fragments already
// delivered are not retracted; no further fragments are delivered.
func (gen *Generation) Cancel() {
	gen.cancel()
}

func (gen *Generation) Status() Status {
	gen.mu.Lock()
	defer gen.mu.Unlock()
	return gen.status
}

func (gen *Generation) Err() error {
	gen.mu.Lock()
	defer gen.mu.Unlock()
	return gen.err
}

// Text is the concatenation of every delivered fragment. It is the value to
// append to the conversation once Status is StatusCompleted.
func (gen *Generation) Text() string {
	gen.mu.Lock()
	defer gen.mu.Unlock()
	return gen.text.String()
}

func (gen *Generation) run(ctx context.Context, backend Backend, mode Mode, history []store.Message) {
	defer close(gen.done)
	defer close(gen.fragments)
	defer gen.cancel()

	if err := validateHistory(history); err != nil {
		gen.finish(StatusFailed, err)
		return
	}

	switch mode {
	case ModeBatch:
		gen.runBatch(ctx, backend, history)
	default:
		gen.runStreaming(ctx, backend, history)
	}
}

func (gen *Generation) runBatch(ctx context.Context, backend Backend, history []store.Message) {
	text, err := backend.Complete(ctx, history)
	if err != nil {
		gen.finish(failureStatus(ctx, err), err)
		return
	}
	if text == "" {
		gen.finish(StatusFailed, &BackendError{Provider: backend.Name(), Err: ErrEmptyResponse})
		return
	}
	if !gen.deliver(ctx, text) {
		gen.finish(StatusCancelled, ctx.Err())
		return
	}
	gen.finish(StatusCompleted, nil)
}

func (gen *Generation) runStreaming(ctx context.Context, backend Backend, history []store.Message) {
	stream, err := backend.Stream(ctx, history)
	if err != nil {
		gen.finish(failureStatus(ctx, err), err)
		return
	}
	defer stream.Close()

	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if gen.Text() == "" {
				gen.finish(StatusFailed, &BackendError{Provider: backend.Name(), Err: ErrEmptyResponse})
				return
			}
			gen.finish(StatusCompleted, nil)
			return
		}
		if err != nil {
			// Fragments already delivered stand; emission just stops here.
			gen.finish(failureStatus(ctx, err), err)
			return
		}
		if frag == "" {
			continue
		}
		if !gen.deliver(ctx, frag) {
			gen.finish(StatusCancelled, ctx.Err())
			return
		}
	}
}

func (gen *Generation) deliver(ctx context.Context, frag string) bool {
	select {
	case <-ctx.Done():
		return false
	case gen.fragments <- frag:
	}
	gen.mu.Lock()
	gen.text.WriteString(frag)
	gen.mu.Unlock()
	return true
}

func (gen *Generation) finish(status Status, err error) {
	gen.mu.Lock()
	if gen.status == StatusRunning {
		gen.status = status
		gen.err = err
	}
	gen.mu.Unlock()
}

func failureStatus(ctx context.Context, err error) Status {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return StatusCancelled
	}
	return StatusFailed
}

func validateHistory(history []store.Message) error {
	if len(history) == 0 {
		return errors.New("history is empty")
	}
	if history[0].Role != store.RoleSystem {
		return fmt.Errorf("history must start with a system message, got %q", history[0].Role)
	}
	return nil
}
