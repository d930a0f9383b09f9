package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memories.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndSearch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	entry, err := s.Store(ctx, "a1", "The deploy script lives in scripts/deploy.sh")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if entry.ID == "" || entry.CreatedAt == 0 {
		t.Errorf("entry not stamped: %+v", entry)
	}
	s.Store(ctx, "a1", "Deploy requires the STAGING env var")
	s.Store(ctx, "other", "Deploy notes for a different agent")

	// Every keyword must match, case-insensitively under SQLite LIKE.
	got, err := s.Search(ctx, "a1", "deploy staging", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || !strings.Contains(got[0].Content, "STAGING") {
		t.Fatalf("results = %+v", got)
	}

	// Newest first.
	got, _ = s.Search(ctx, "a1", "deploy", 10)
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if !strings.Contains(got[0].Content, "STAGING") {
		t.Errorf("first result = %q, want newest", got[0].Content)
	}

	// Other agents' notes stay invisible.
	if got, _ := s.Search(ctx, "a1", "different", 10); len(got) != 0 {
		t.Errorf("cross-agent leak: %+v", got)
	}
}

func TestSearchEmptyQueryReturnsNewest(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.Store(ctx, "a1", "first note")
	s.Store(ctx, "a1", "second note")

	got, err := s.Search(ctx, "a1", "", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].Content != "second note" {
		t.Errorf("results = %+v", got)
	}
}

func TestSearchLimit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		s.Store(ctx, "a1", "note about limits")
	}

	got, _ := s.Search(ctx, "a1", "limits", 2)
	if len(got) != 2 {
		t.Errorf("results = %d, want 2", len(got))
	}
	// Zero falls back to the default cap.
	got, _ = s.Search(ctx, "a1", "limits", 0)
	if len(got) != 5 {
		t.Errorf("default-limit results = %d, want 5", len(got))
	}
}
