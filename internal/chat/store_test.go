package chat

import (
	"testing"
	"time"
)

func TestStoreGetOrCreateDefaults(t *testing.T) {
	s := NewStore(4)
	rec := s.GetOrCreate("s1")
	if rec.Key != "s1" {
		t.Fatalf("Key = %q, want %q", rec.Key, "s1")
	}
	if rec.Status != StatusIdle {
		t.Fatalf("Status = %q, want %q", rec.Status, StatusIdle)
	}
	if rec.ToolExecutions == nil || rec.Subagents == nil || rec.FoldedSubagents == nil {
		t.Fatal("maps not initialized on create")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestStoreUpdateIsNoOpForAbsentKey(t *testing.T) {
	s := NewStore(4)
	called := false
	s.Update("missing", func(r *SessionRecord) { called = true })
	if called {
		t.Fatal("update fn ran for absent key")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

func TestStoreUpdateDoesNotMutateSnapshots(t *testing.T) {
	s := NewStore(4)
	s.GetOrCreate("s1")
	s.Update("s1", func(r *SessionRecord) {
		r.Messages = append(r.Messages, Message{ID: "m1", Role: RoleUser, Text: "one"})
	})

	before, _ := s.Peek("s1")
	s.Update("s1", func(r *SessionRecord) {
		r.Messages[0].Text = "changed"
		r.ToolExecutions["t1"] = ToolExecution{ID: "t1"}
	})

	if before.Messages[0].Text != "one" {
		t.Fatalf("snapshot text = %q, want %q", before.Messages[0].Text, "one")
	}
	if len(before.ToolExecutions) != 0 {
		t.Fatal("snapshot gained a tool execution")
	}
	after, _ := s.Peek("s1")
	if after.Messages[0].Text != "changed" {
		t.Fatalf("current text = %q, want %q", after.Messages[0].Text, "changed")
	}
}

func TestStoreClearResetsButStaysResident(t *testing.T) {
	s := NewStore(4)
	s.GetOrCreate("s1")
	s.Update("s1", func(r *SessionRecord) {
		r.Messages = append(r.Messages, Message{ID: "m1"})
		r.Status = StatusStreaming
	})

	s.Clear("s1")

	rec, ok := s.Peek("s1")
	if !ok {
		t.Fatal("cleared record evicted")
	}
	if len(rec.Messages) != 0 || rec.Status != StatusIdle {
		t.Fatalf("record not reset: %d messages, status %q", len(rec.Messages), rec.Status)
	}
}

func TestStoreEvictLRULeavesMostRecent(t *testing.T) {
	s := NewStore(2)
	base := time.Now()
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	s.GetOrCreate("old")
	s.GetOrCreate("mid")
	s.GetOrCreate("new")
	s.Touch("mid")

	evicted := s.EvictLRU()
	if len(evicted) != 1 || evicted[0] != "old" {
		t.Fatalf("evicted = %v, want [old]", evicted)
	}
	for _, key := range []string{"mid", "new"} {
		if _, ok := s.Peek(key); !ok {
			t.Fatalf("session %q evicted, want resident", key)
		}
	}
}

func TestStoreEvictLRUUnderBoundIsNoOp(t *testing.T) {
	s := NewStore(4)
	s.GetOrCreate("s1")
	if evicted := s.EvictLRU(); evicted != nil {
		t.Fatalf("evicted = %v, want nil", evicted)
	}
}

func TestStoreChildIndexFollowsSubagents(t *testing.T) {
	s := NewStore(4)
	s.GetOrCreate("parent")

	s.Update("parent", func(r *SessionRecord) {
		r.Subagents["sub1"] = SubagentRecord{ID: "sub1", Status: SubagentRunning, ChildKey: "c1"}
	})
	ref, ok := s.ChildRef("c1")
	if !ok {
		t.Fatal("child index missing running subagent")
	}
	if ref.ParentKey != "parent" || ref.SubagentID != "sub1" {
		t.Fatalf("ref = %+v, want parent/sub1", ref)
	}

	s.Update("parent", func(r *SessionRecord) {
		sub := r.Subagents["sub1"]
		sub.Status = SubagentCompleted
		r.Subagents["sub1"] = sub
	})
	if _, ok := s.ChildRef("c1"); ok {
		t.Fatal("terminal subagent still indexed")
	}
}

func TestStoreEvictionDropsChildIndex(t *testing.T) {
	s := NewStore(1)
	base := time.Now()
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	s.GetOrCreate("parent")
	s.Update("parent", func(r *SessionRecord) {
		r.Subagents["sub1"] = SubagentRecord{ID: "sub1", Status: SubagentRunning, ChildKey: "c1"}
	})
	s.GetOrCreate("other")

	s.EvictLRU()
	if _, ok := s.ChildRef("c1"); ok {
		t.Fatal("evicted parent still indexed by child key")
	}
}
