package bookmark

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreReadMissingChannel(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bookmarks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	_, err = s.ReadBookmark("Application")
	if !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestSQLiteStoreWriteThenRead(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bookmarks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	if err := s.WriteBookmark("Security", "token-1"); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.ReadBookmark("Security")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "token-1" {
		t.Fatalf("expected token-1, got %q", got)
	}
}

func TestSQLiteStoreWriteOverwritesPriorToken(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bookmarks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	s.WriteBookmark("System", "token-1")
	s.WriteBookmark("System", "token-2")
	got, err := s.ReadBookmark("System")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "token-2" {
		t.Fatalf("expected overwritten token-2, got %q", got)
	}
}

func TestBoltStoreReadMissingChannel(t *testing.T) {
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "bookmarks.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	_, err = s.ReadBookmark("Application")
	if !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestBoltStoreWriteThenRead(t *testing.T) {
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "bookmarks.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	if err := s.WriteBookmark("Security", "token-a"); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.ReadBookmark("Security")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "token-a" {
		t.Fatalf("expected token-a, got %q", got)
	}
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookmarks.bolt")
	s1, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s1.WriteBookmark("Setup", "token-z")
	s1.Close()

	s2, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s2.Close()
	got, err := s2.ReadBookmark("Setup")
	if err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
	if got != "token-z" {
		t.Fatalf("expected token-z after reopen, got %q", got)
	}
}
