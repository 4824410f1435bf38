// ABOUTME: Store configuration, grounded on the teacher's flag-based cmd/treestore/main.go setup
// ABOUTME: Every key spec.md's configuration table names is a typed Config field here

package mvstore

import "time"

// Config holds every store-open option spec.md's configuration table names.
type Config struct {
	// FileName is the backing file path. Open rejects an empty FileName
	// with CodeIllegalArgument; there is no in-memory store.
	FileName string
	// ReadOnly opens the store shared read-only; Commit returns
	// CodeUnsupportedOperation.
	ReadOnly bool
	// EncryptionKey is not implemented in this build (see DESIGN.md); a
	// non-empty value is rejected with CodeUnsupportedOperation.
	EncryptionKey []byte

	// KeysPerPage bounds page fan-out; must be >= 2. Default 48.
	KeysPerPage int
	// Compress selects page compression: 0 none, 1 fast, 2 high.
	Compress int

	// AutoCommitBufferSize is a dirty-page budget in KB. The store does not
	// read it: no commit is triggered by the amount of unsaved page memory.
	AutoCommitBufferSize int
	// AutoCommitDelay is a commit interval. The store does not read it; no
	// periodic commit runs.
	AutoCommitDelay time.Duration
	// AutoCompactFillRate is a fill-rate percentage for compaction. The
	// store does not read it; pkg/housekeeping takes its thresholds from
	// its own housekeeping.Config.
	AutoCompactFillRate int

	// CacheSize and CacheConcurrency size the page cache Open puts in front
	// of pagefile.Store; zero selects the DefaultConfig value.
	CacheSize        int
	CacheConcurrency int

	// PageSplitSize is a page-memory bound. The store does not read it;
	// pages split on KeysPerPage alone.
	PageSplitSize int

	// RecoveryMode is not read by Open: recovery always uses the newest
	// chunk whose footer and Prev chain load, and Open fails when there is
	// none.
	RecoveryMode bool

	// BackgroundExceptionHandler is an error callback that the store never
	// calls; it starts no background goroutines of its own.
	BackgroundExceptionHandler func(error)

	// VersionsToKeep bounds how many committed versions keep a version
	// record in the layout map (the record OpenVersion falls back to when a
	// version is no longer in memory) and keeps chunks of those versions out
	// of compaction; 0 writes no version records. The in-memory Previous
	// chains that Rollback and OpenVersion walk first are not trimmed by it.
	VersionsToKeep int
}

// DefaultConfig returns the configuration spec.md's table lists as the
// engine's defaults.
func DefaultConfig() Config {
	return Config{
		KeysPerPage:          48,
		Compress:             0,
		AutoCommitBufferSize: 1024,
		AutoCommitDelay:      time.Second,
		AutoCompactFillRate:  50,
		CacheSize:            16 * 1024 * 1024,
		CacheConcurrency:     16,
		PageSplitSize:        16 * 1024,
		VersionsToKeep:       5,
	}
}
