package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "history.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTemp(t)

	entry := Entry{
		URI:      "https://cdn.example.com/a/manifest.mpd",
		Title:    "Test Stream",
		Position: 1234,
		Duration: 5678,
	}
	if err := s.Save(entry); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := s.Get(entry.URI)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Title != entry.Title {
		t.Errorf("Title = %q, want %q", got.Title, entry.Title)
	}
	if got.Position != entry.Position {
		t.Errorf("Position = %f, want %f", got.Position, entry.Position)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be stamped")
	}
}

func TestSaveUpdatesExisting(t *testing.T) {
	s := openTemp(t)
	uri := "https://cdn.example.com/b.mpd"

	s.Save(Entry{URI: uri, Position: 100})
	s.Save(Entry{URI: uri, Position: 500})

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after update, got %d", len(entries))
	}
	if entries[0].Position != 500 {
		t.Errorf("Position = %f, want 500", entries[0].Position)
	}
}

func TestSaveRequiresURI(t *testing.T) {
	s := openTemp(t)
	if err := s.Save(Entry{Position: 3}); err == nil {
		t.Error("Save() without uri should fail")
	}
}

func TestListOrder(t *testing.T) {
	s := openTemp(t)
	base := time.Unix(1700000000, 0)

	s.Save(Entry{URI: "old", UpdatedAt: base})
	s.Save(Entry{URI: "new", UpdatedAt: base.Add(time.Hour)})
	s.Save(Entry{URI: "mid", UpdatedAt: base.Add(time.Minute)})

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"new", "mid", "old"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].URI != w {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].URI, w)
		}
	}
}

func TestRemove(t *testing.T) {
	s := openTemp(t)

	s.Save(Entry{URI: "a"})
	s.Save(Entry{URI: "b"})

	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := s.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after remove error = %v, want ErrNotFound", err)
	}
	if err := s.Remove("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get("b"); err != nil {
		t.Errorf("unrelated entry removed: %v", err)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Save(Entry{URI: "persist", Position: 42})
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get("persist")
	if err != nil {
		t.Fatalf("Get() after reopen: %v", err)
	}
	if got.Position != 42 {
		t.Errorf("Position = %f, want 42", got.Position)
	}
}

func TestFormatForDisplay(t *testing.T) {
	entries := []Entry{
		{URI: "https://x/a.mpd", Title: "Movie", Position: 2500, Duration: 5000},
		{URI: "https://x/b.mpd", Position: 125},
		{URI: "https://x/c.mpd"},
	}

	items := FormatForDisplay(entries)
	want := []string{
		"Movie  https://x/a.mpd [50%]",
		"https://x/b.mpd [2:05]",
		"https://x/c.mpd",
	}
	for i, w := range want {
		if items[i] != w {
			t.Errorf("items[%d] = %q, want %q", i, items[i], w)
		}
	}
}

func TestFormatPosition(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00"},
		{59.9, "0:59"},
		{125, "2:05"},
		{3725, "1:02:05"},
		{-4, "0:00"},
	}
	for _, tt := range tests {
		if got := FormatPosition(tt.in); got != tt.want {
			t.Errorf("FormatPosition(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
