package history

import (
	"fmt"
	"testing"
	"time"
)

func rec(i int) Record {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	return Record{
		ExecutionID: fmt.Sprintf("exec-%d", i),
		StartTime:   start,
		EndTime:     start.Add(time.Second),
		Duration:    time.Second,
		Success:     i%2 == 0,
		ExitCode:    i % 2,
	}
}

func TestStoreEviction(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Append("t1", rec(i))
	}

	if got := s.Len("t1"); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	got := s.Tail("t1", 0, 0)
	if len(got) != 3 {
		t.Fatalf("Tail returned %d records, want 3", len(got))
	}
	// Newest first; oldest two evicted.
	for i, want := range []string{"exec-4", "exec-3", "exec-2"} {
		if got[i].ExecutionID != want {
			t.Fatalf("got[%d] = %s, want %s", i, got[i].ExecutionID, want)
		}
	}
}

func TestStoreTailLimitOffset(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 6; i++ {
		s.Append("t1", rec(i))
	}

	cases := []struct {
		name   string
		limit  int
		offset int
		want   []string
	}{
		{name: "all", limit: 0, offset: 0, want: []string{"exec-5", "exec-4", "exec-3", "exec-2", "exec-1", "exec-0"}},
		{name: "limit two", limit: 2, offset: 0, want: []string{"exec-5", "exec-4"}},
		{name: "second page", limit: 2, offset: 2, want: []string{"exec-3", "exec-2"}},
		{name: "offset past end", limit: 2, offset: 10, want: []string{}},
		{name: "negative offset treated as zero", limit: 2, offset: -3, want: []string{"exec-5", "exec-4"}},
		{name: "limit beyond size", limit: 50, offset: 0, want: []string{"exec-5", "exec-4", "exec-3", "exec-2", "exec-1", "exec-0"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Tail("t1", tc.limit, tc.offset)
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i].ExecutionID != tc.want[i] {
					t.Fatalf("got[%d] = %s, want %s", i, got[i].ExecutionID, tc.want[i])
				}
			}
		})
	}
}

func TestStoreIsolationAndDrop(t *testing.T) {
	s := NewStore(0) // default limit
	s.Append("a", rec(1))
	s.Append("b", rec(2))

	if s.Len("a") != 1 || s.Len("b") != 1 {
		t.Fatal("tasks must have independent histories")
	}
	s.Drop("a")
	if s.Len("a") != 0 {
		t.Fatal("Drop must clear the task's history")
	}
	if s.Len("b") != 1 {
		t.Fatal("Drop must not touch other tasks")
	}
	if got := s.Tail("missing", 5, 0); len(got) != 0 {
		t.Fatalf("Tail on unknown task = %v", got)
	}
}
