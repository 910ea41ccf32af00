package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWorkingMemoryConcurrentMerge(t *testing.T) {
	wm := NewWorkingMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wm.Merge(map[string]string{fmt.Sprintf("s:1:tool:%d", i): "summary"})
		}(i)
	}
	wg.Wait()
	if wm.Len() != 50 {
		t.Fatalf("expected 50 entries, got %d", wm.Len())
	}
	wm.Clear()
	if wm.Len() != 0 {
		t.Fatalf("clear failed")
	}
}

func TestWorkingMemoryEntriesAreCopies(t *testing.T) {
	wm := NewWorkingMemory()
	wm.Merge(map[string]string{"b": "2", "a": "1"})
	entries := wm.Entries()
	entries["a"] = "changed"
	if wm.Entries()["a"] != "1" {
		t.Fatalf("entries should be a copy")
	}
	if diff := cmp.Diff([]string{"a", "b"}, wm.Pointers()); diff != "" {
		t.Fatalf("pointers mismatch:\n%s", diff)
	}
}

type recordingArchive struct {
	entries []ExecutionLogEntry
	err     error
}

func (r *recordingArchive) Archive(_ context.Context, e ExecutionLogEntry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func TestCycleHistoryAppendArchives(t *testing.T) {
	archive := &recordingArchive{err: errors.New("down")}
	h := NewCycleHistory(archive)

	entry := NewLogEntry("s1", 3, "sg_1", "collect prices", map[string]string{"s1:3:web_search:b": "two", "s1:3:web_search:a": "one"})
	if err := h.Append(context.Background(), entry); err == nil {
		t.Fatalf("archive error should surface")
	}
	if h.Len() != 1 || len(archive.entries) != 1 {
		t.Fatalf("entry should be kept in memory even when archive fails")
	}
	got := h.Entries()[0]
	if got.Summary != "one\ntwo" || got.Status != LogStatusSuccess || got.Cycle != 3 {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if diff := cmp.Diff([]string{"s1:3:web_search:a", "s1:3:web_search:b"}, got.Pointers); diff != "" {
		t.Fatalf("pointers mismatch:\n%s", diff)
	}
}

func TestExperienceRoutesByKind(t *testing.T) {
	journal := &MemoryJournal{}
	exp := NewExperience(journal)
	ctx := context.Background()

	if err := exp.Append(ctx, "s1", KindExecutionPolicy, "retry with narrower keywords"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := exp.Append(ctx, "s1", KindCognition, "goal needs primary sources"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(exp.ExecutionPolicy()) != 1 || len(exp.Cognition()) != 1 {
		t.Fatalf("unexpected sizes: %v %v", exp.ExecutionPolicy(), exp.Cognition())
	}

	restored, err := LoadExperience(ctx, journal)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(exp.Cognition(), restored.Cognition()); diff != "" {
		t.Fatalf("cognition mismatch:\n%s", diff)
	}
	if diff := cmp.Diff(exp.ExecutionPolicy(), restored.ExecutionPolicy()); diff != "" {
		t.Fatalf("policy mismatch:\n%s", diff)
	}
}

func TestExperienceRecent(t *testing.T) {
	exp := NewExperience(nil)
	for i := 0; i < 5; i++ {
		_ = exp.Append(context.Background(), "s", KindExecutionPolicy, fmt.Sprint(i))
	}
	if diff := cmp.Diff([]string{"3", "4"}, exp.Recent(KindExecutionPolicy, 2)); diff != "" {
		t.Fatalf("recent mismatch:\n%s", diff)
	}
	if len(exp.Recent(KindCognition, 2)) != 0 {
		t.Fatalf("cognition should be empty")
	}
}
