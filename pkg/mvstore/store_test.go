package mvstore

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
)

func tempConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FileName = filepath.Join(t.TempDir(), "test.mv")
	return cfg
}

func TestOpenRejectsEmptyFileName(t *testing.T) {
	_, err := Open(Config{})
	if err == nil {
		t.Fatal("expected error opening with empty FileName")
	}
}

func TestOpenCreatesFreshStore(t *testing.T) {
	s, err := Open(tempConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if s.CurrentVersion() != 0 {
		t.Errorf("fresh store CurrentVersion() = %d, want 0", s.CurrentVersion())
	}
	if len(s.MapNames()) != 0 {
		t.Errorf("fresh store MapNames() = %v, want empty", s.MapNames())
	}
}

func TestPutGetCommit(t *testing.T) {
	s, err := Open(tempConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	m, err := s.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if _, _, err := m.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if v != 1 {
		t.Errorf("Commit() = %d, want 1", v)
	}

	val, ok, err := m.Get([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("Get(a) = %q, %v, %v", val, ok, err)
	}
	if string(val) != "1" {
		t.Errorf("Get(a) = %q, want 1", val)
	}
}

func TestCommitWithNoChangesDoesNotAdvanceVersion(t *testing.T) {
	s, err := Open(tempConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.OpenMap("widgets"); err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	// The first Commit records the newly opened map.
	first, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	v, err := s.Commit()
	if err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if v != first {
		t.Errorf("Commit() with nothing changed since the last commit = %d, want %d", v, first)
	}
}

func TestReopenReconstructsMapDirectory(t *testing.T) {
	cfg := tempConfig(t)

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m, err := s.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		if _, _, err := m.Put(key, key); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if s2.CurrentVersion() != 1 {
		t.Errorf("reopened CurrentVersion() = %d, want 1", s2.CurrentVersion())
	}
	names := s2.MapNames()
	if len(names) != 1 || names[0] != "widgets" {
		t.Fatalf("reopened MapNames() = %v, want [widgets]", names)
	}

	m2, err := s2.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap after reopen: %v", err)
	}
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		val, ok, err := m2.Get(key)
		if err != nil || !ok {
			t.Fatalf("Get(%s) after reopen = %q, %v, %v", key, val, ok, err)
		}
		if string(val) != string(key) {
			t.Errorf("Get(%s) after reopen = %q, want %q", key, val, key)
		}
	}
}

func TestReopenAcrossMultipleCommitsPreservesLatestRoot(t *testing.T) {
	cfg := tempConfig(t)

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m, err := s.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if _, _, err := m.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, _, err := m.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if s2.CurrentVersion() != 2 {
		t.Errorf("reopened CurrentVersion() = %d, want 2", s2.CurrentVersion())
	}
	m2, err := s2.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}} {
		val, ok, err := m2.Get([]byte(kv[0]))
		if err != nil || !ok || string(val) != kv[1] {
			t.Errorf("Get(%s) = %q, %v, %v, want %q, true", kv[0], val, ok, err, kv[1])
		}
	}
}

func TestMultipleMapsCommitTogether(t *testing.T) {
	cfg := tempConfig(t)

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	a, err := s.OpenMap("a")
	if err != nil {
		t.Fatalf("OpenMap a: %v", err)
	}
	b, err := s.OpenMap("b")
	if err != nil {
		t.Fatalf("OpenMap b: %v", err)
	}
	if _, _, err := a.Put([]byte("x"), []byte("1")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if _, _, err := b.Put([]byte("y"), []byte("2")); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	names := s2.MapNames()
	if len(names) != 2 {
		t.Fatalf("reopened MapNames() = %v, want 2 entries", names)
	}
	a2, _ := s2.OpenMap("a")
	b2, _ := s2.OpenMap("b")
	if val, ok, _ := a2.Get([]byte("x")); !ok || string(val) != "1" {
		t.Errorf("a2.Get(x) = %q, %v, want 1, true", val, ok)
	}
	if val, ok, _ := b2.Get([]byte("y")); !ok || string(val) != "2" {
		t.Errorf("b2.Get(y) = %q, %v, want 2, true", val, ok)
	}
}

func TestReadOnlyStoreRejectsCommit(t *testing.T) {
	cfg := tempConfig(t)

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.OpenMap("widgets"); err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cfg.ReadOnly = true
	ro, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	defer ro.Close()

	if _, err := ro.OpenMap("new-map"); err == nil {
		t.Error("expected error opening a new map on a read-only store")
	}
	if _, err := ro.Commit(); err == nil {
		t.Error("expected error committing a read-only store")
	}
}

func TestCloseThenOperateReturnsClosedError(t *testing.T) {
	s, err := Open(tempConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.OpenMap("widgets"); err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := s.OpenMap("widgets"); err == nil {
		t.Error("expected error using OpenMap on a closed store")
	}
	if _, err := s.Commit(); err == nil {
		t.Error("expected error using Commit on a closed store")
	}
}

func TestDumpAndStats(t *testing.T) {
	s, err := Open(tempConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	m, err := s.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if _, _, err := m.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	stats := s.Stats()
	if stats.Version != 1 {
		t.Errorf("Stats().Version = %d, want 1", stats.Version)
	}
	if stats.MapCount != 1 {
		t.Errorf("Stats().MapCount = %d, want 1", stats.MapCount)
	}
	if stats.ChunkCount == 0 {
		t.Errorf("Stats().ChunkCount = 0, want at least 1 chunk after a commit")
	}

	var buf bytes.Buffer
	if err := s.Dump(&buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("Dump wrote nothing")
	}
}
