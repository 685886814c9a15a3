package store

import (
	"errors"
	"testing"
	"time"
)

func TestSourceStoreAddAssignsMonotoneIDs(t *testing.T) {
	s, err := NewSourceStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	a, err := s.Add("first", "https://example.com/a", 1)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := s.Add("second", "https://example.com/b", 2)
	if a.ID != 1 || b.ID != 2 {
		t.Errorf("ids = %d, %d; want 1, 2", a.ID, b.ID)
	}
	if !a.Enabled {
		t.Error("new sources must start enabled")
	}

	// Deleting the highest id frees it for reuse.
	if err := s.Delete(b.ID); err != nil {
		t.Fatal(err)
	}
	c, _ := s.Add("third", "https://example.com/c", 1)
	if c.ID != 2 {
		t.Errorf("id after delete = %d, want 2", c.ID)
	}
}

func TestSourceStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSourceStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	src, _ := s.Add("feed", "https://example.com/sub", 3)
	if err := s.UpdateMetadata(src.ID, time.Now().UTC(), 42, 100); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSourceStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	got := reopened.List()
	if len(got) != 1 {
		t.Fatalf("got %d sources after reopen", len(got))
	}
	if got[0].Name != "feed" || got[0].ConfigCount != 42 || got[0].SuccessRate != 100 {
		t.Errorf("reloaded source = %+v", got[0])
	}
}

func TestSourceStoreToggleAndListEnabled(t *testing.T) {
	s, err := NewSourceStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a, _ := s.Add("a", "https://a", 1)
	s.Add("b", "https://b", 1)

	toggled, err := s.Toggle(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if toggled.Enabled {
		t.Error("toggle must disable an enabled source")
	}
	enabled := s.ListEnabled()
	if len(enabled) != 1 || enabled[0].Name != "b" {
		t.Errorf("ListEnabled = %+v", enabled)
	}
}

func TestSourceStoreNotFound(t *testing.T) {
	s, err := NewSourceStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Toggle(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Toggle missing = %v", err)
	}
	if err := s.Delete(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete missing = %v", err)
	}
	if err := s.UpdateMetadata(99, time.Now(), 0, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateMetadata missing = %v", err)
	}
}
