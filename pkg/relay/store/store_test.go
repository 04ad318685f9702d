package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestCreate_SeedsSystemMessage(t *testing.T) {
	t.Parallel()
	s := New()
	if err := s.Create("CA1", "be helpful"); err != nil {
		t.Fatalf("create: %v", err)
	}
	history, err := s.Snapshot("CA1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len=%d", len(history))
	}
	if history[0].Role != RoleSystem || history[0].Content != "be helpful" {
		t.Fatalf("seed=%+v", history[0])
	}
}

func TestCreate_DuplicateKeepsExisting(t *testing.T) {
	t.Parallel()
	s := New()
	if err := s.Create("CA1", "first"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create("CA1", "second"); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("err=%v, want ErrDuplicateSession", err)
	}
	history, err := s.Snapshot("CA1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if history[0].Content != "first" {
		t.Fatalf("existing session was touched: %+v", history[0])
	}
}

func TestAppend_UnknownCall(t *testing.T) {
	t.Parallel()
	s := New()
	err := s.Append("CA9", Message{Role: RoleUser, Content: "hello"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestTurnShape_OneSystemThenAlternatingPairs(t *testing.T) {
	t.Parallel()
	s := New()
	if err := s.Create("CA1", "sys"); err != nil {
		t.Fatalf("create: %v", err)
	}
	const turns = 4
	for i := 0; i < turns; i++ {
		if err := s.Append("CA1", Message{Role: RoleUser, Content: fmt.Sprintf("u%d", i)}); err != nil {
			t.Fatalf("append user: %v", err)
		}
		if err := s.Append("CA1", Message{Role: RoleAssistant, Content: fmt.Sprintf("a%d", i)}); err != nil {
			t.Fatalf("append assistant: %v", err)
		}
	}
	history, err := s.Snapshot("CA1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(history) != 1+2*turns {
		t.Fatalf("len=%d, want %d", len(history), 1+2*turns)
	}
	for i := 0; i < turns; i++ {
		if history[1+2*i].Role != RoleUser || history[2+2*i].Role != RoleAssistant {
			t.Fatalf("turn %d roles: %q %q", i, history[1+2*i].Role, history[2+2*i].Role)
		}
	}
}

func TestSnapshot_IsolatedFromLaterAppends(t *testing.T) {
	t.Parallel()
	s := New()
	if err := s.Create("CA1", "sys"); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap, err := s.Snapshot("CA1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := s.Append("CA1", Message{Role: RoleUser, Content: "later"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(snap) != 1 {
		t.Fatalf("snapshot grew to %d", len(snap))
	}
}

func TestDelete_IsIdempotent(t *testing.T) {
	t.Parallel()
	s := New()
	if err := s.Create("CA1", "sys"); err != nil {
		t.Fatalf("create: %v", err)
	}
	s.Delete("CA1")
	s.Delete("CA1")
	if _, err := s.Snapshot("CA1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if s.Len() != 0 {
		t.Fatalf("len=%d", s.Len())
	}
}

func TestConcurrentCallsAreIndependent(t *testing.T) {
	t.Parallel()
	s := New()
	const calls = 8
	const appends = 50

	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		callSid := fmt.Sprintf("CA%d", i)
		if err := s.Create(callSid, "sys"); err != nil {
			t.Fatalf("create %s: %v", callSid, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < appends; j++ {
				if err := s.Append(callSid, Message{Role: RoleUser, Content: "x"}); err != nil {
					t.Errorf("append %s: %v", callSid, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < calls; i++ {
		history, err := s.Snapshot(fmt.Sprintf("CA%d", i))
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if len(history) != 1+appends {
			t.Fatalf("call %d len=%d, want %d", i, len(history), 1+appends)
		}
	}
}
