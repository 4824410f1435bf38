package mvstore

import (
	"path/filepath"
	"testing"
)

func TestRollbackRestoresPriorValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileName = filepath.Join(t.TempDir(), "test.mv")

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	m, err := s.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if _, _, err := m.Put([]byte("a"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v1, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, _, err := m.Put([]byte("a"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	val, _, _ := m.Get([]byte("a"))
	if string(val) != "v2" {
		t.Fatalf("Get(a) before rollback = %q, want v2", val)
	}

	back, err := s.Rollback(v1)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if back != v1+1 {
		t.Errorf("Rollback returned version %d, want %d (a new commit on top of %d)", back, v1+1, v1)
	}

	val, ok, err := m.Get([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("Get(a) after rollback = %q, %v, %v", val, ok, err)
	}
	if string(val) != "v1" {
		t.Errorf("Get(a) after rollback = %q, want v1", val)
	}
}

func TestRollbackIsDurableAcrossReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileName = filepath.Join(t.TempDir(), "test.mv")

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m, err := s.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if _, _, err := m.Put([]byte("a"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v1, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, _, err := m.Put([]byte("a"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := s.Rollback(v1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	m2, err := s2.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap after reopen: %v", err)
	}
	val, ok, err := m2.Get([]byte("a"))
	if err != nil || !ok || string(val) != "v1" {
		t.Errorf("Get(a) after reopen following rollback = %q, %v, %v, want v1, true", val, ok, err)
	}
}

func TestRollbackRejectsFutureOrNegativeVersion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileName = filepath.Join(t.TempDir(), "test.mv")

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.Rollback(-1); err == nil {
		t.Error("expected error rolling back to a negative version")
	}
	if _, err := s.Rollback(100); err == nil {
		t.Error("expected error rolling back past the current version")
	}
}

func TestOpenVersionFastPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileName = filepath.Join(t.TempDir(), "test.mv")

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	m, err := s.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if _, _, err := m.Put([]byte("a"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v1, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, _, err := m.Put([]byte("a"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	sn, err := s.OpenVersion(v1)
	if err != nil {
		t.Fatalf("OpenVersion: %v", err)
	}
	defer s.Release(sn)

	snM, ok := sn.Map("widgets")
	if !ok {
		t.Fatal("snapshot missing widgets map")
	}
	val, ok, err := snM.Get([]byte("a"))
	if err != nil || !ok || string(val) != "v1" {
		t.Errorf("snapshot Get(a) = %q, %v, %v, want v1, true", val, ok, err)
	}

	// the live map is unaffected by reading an older snapshot
	val, ok, err = m.Get([]byte("a"))
	if err != nil || !ok || string(val) != "v2" {
		t.Errorf("live Get(a) = %q, %v, %v, want v2, true", val, ok, err)
	}
}

func TestOpenVersionDiskFallbackAfterReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileName = filepath.Join(t.TempDir(), "test.mv")

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m, err := s.OpenMap("widgets")
	if err != nil {
		t.Fatalf("OpenMap: %v", err)
	}
	if _, _, err := m.Put([]byte("a"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v1, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, _, err := m.Put([]byte("a"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening loses every map's in-memory Previous chain, forcing
	// OpenVersion to take the versionRecord disk-fallback path.
	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if _, err := s2.OpenMap("widgets"); err != nil {
		t.Fatalf("OpenMap after reopen: %v", err)
	}

	sn, err := s2.OpenVersion(v1)
	if err != nil {
		t.Fatalf("OpenVersion: %v", err)
	}
	defer s2.Release(sn)

	snM, ok := sn.Map("widgets")
	if !ok {
		t.Fatal("snapshot missing widgets map")
	}
	val, ok, err := snM.Get([]byte("a"))
	if err != nil || !ok || string(val) != "v1" {
		t.Errorf("disk-fallback snapshot Get(a) = %q, %v, %v, want v1, true", val, ok, err)
	}
}

func TestOpenVersionRejectsOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileName = filepath.Join(t.TempDir(), "test.mv")

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.OpenVersion(-1); err == nil {
		t.Error("expected error for negative version")
	}
	if _, err := s.OpenVersion(5); err == nil {
		t.Error("expected error for a version ahead of current")
	}
}
