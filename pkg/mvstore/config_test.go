package mvstore

import "testing"

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.KeysPerPage != 48 {
		t.Errorf("KeysPerPage = %d, want 48", cfg.KeysPerPage)
	}
	if cfg.VersionsToKeep != 5 {
		t.Errorf("VersionsToKeep = %d, want 5", cfg.VersionsToKeep)
	}
	if cfg.AutoCommitDelay <= 0 {
		t.Error("AutoCommitDelay should default to a positive interval")
	}
}

func TestOpenRejectsTooFewKeysPerPage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileName = tempConfig(t).FileName
	cfg.KeysPerPage = 1
	if _, err := Open(cfg); err == nil {
		t.Error("expected error opening with KeysPerPage < 2")
	}
}

func TestOpenRejectsEncryptionKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileName = tempConfig(t).FileName
	cfg.EncryptionKey = []byte("secret")
	if _, err := Open(cfg); err == nil {
		t.Error("expected error opening with a non-empty EncryptionKey")
	}
}
