// ABOUTME: Store ties one pagefile.Store to any number of mvmap.Map instances sharing its chunk file
// ABOUTME: A layout map (id 0) records every other map's id/config/root so Open can rebuild them without a side file

package mvstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arvindrathore/mvstore/internal/logger"
	"github.com/arvindrathore/mvstore/pkg/freelist"
	"github.com/arvindrathore/mvstore/pkg/mvmap"
	"github.com/arvindrathore/mvstore/pkg/page"
	"github.com/arvindrathore/mvstore/pkg/pagefile"
)

const layoutMapID = 0

// Store is the embedded engine's top-level handle: one chunk file, any
// number of named B-tree maps, and the version lifecycle tying commits to
// the RootReference snapshots spec.md's OpenVersion/Rollback operate on.
type Store struct {
	mu  sync.Mutex
	cfg Config
	pf  *pagefile.Store

	cache  PageCache
	source mvmap.PageSource // pf fronted by cache; every map reads pages through this

	layout *mvmap.Map
	maps   map[string]*mvmap.Map
	mapIDs map[uint32]string

	nextMapID      uint32
	currentVersion int64
	layoutRoots    map[string]page.Position // last root recorded in the layout map per map name

	panicked bool
	panicErr error
	closed   bool

	openVersions map[int64]int // refcount of outstanding OpenVersion snapshots, for retention

	log *logger.Logger
}

// Open opens (creating if absent) the store file named by cfg.FileName,
// reconstructing the layout map and every map it lists. An empty FileName
// is rejected; in-memory-only stores are a pagefile.Backend concern (see
// DESIGN.md), not one this constructor handles.
func Open(cfg Config) (*Store, error) {
	if cfg.FileName == "" {
		return nil, newError(CodeIllegalArgument, nil, "FileName must be set")
	}
	if cfg.KeysPerPage == 0 {
		cfg.KeysPerPage = DefaultConfig().KeysPerPage
	}
	if cfg.KeysPerPage < 2 {
		return nil, newError(CodeIllegalArgument, nil, "KeysPerPage must be >= 2, got %d", cfg.KeysPerPage)
	}
	if len(cfg.EncryptionKey) > 0 {
		return nil, newError(CodeUnsupportedOperation, nil, "encryption is not implemented in this build")
	}

	pf, err := pagefile.Open(cfg.FileName, cfg.ReadOnly)
	if err != nil {
		return nil, newError(CodeReadingFailed, err, "open %s", cfg.FileName)
	}

	cacheSize := cfg.CacheSize
	if cacheSize == 0 {
		cacheSize = DefaultConfig().CacheSize
	}
	cacheConcurrency := cfg.CacheConcurrency
	if cacheConcurrency == 0 {
		cacheConcurrency = DefaultConfig().CacheConcurrency
	}
	cache := newPageCache(cacheSize, cacheConcurrency)
	source := newCachingPageSource(pf, cache)

	s := &Store{
		cfg:          cfg,
		pf:           pf,
		cache:        cache,
		source:       source,
		maps:         make(map[string]*mvmap.Map),
		mapIDs:       make(map[uint32]string),
		nextMapID:    1,
		openVersions: make(map[int64]int),
		layoutRoots:  make(map[string]page.Position),
		log:          logger.GetGlobalLogger().StoreLogger(cfg.FileName),
	}

	root := pf.LayoutRoot()
	if root.IsWritten() {
		layout, err := mvmap.RootFromPosition("__layout", layoutMapID, s.source, mvmap.DefaultComparator, cfg.KeysPerPage, cfg.Compress, root, pf.Version())
		if err != nil {
			pf.Close()
			return nil, newError(CodeFileCorrupt, err, "reconstruct layout map")
		}
		s.layout = layout
		if err := s.loadMapDirectory(); err != nil {
			pf.Close()
			return nil, err
		}
	} else {
		s.layout = mvmap.New("__layout", layoutMapID, s.source, mvmap.DefaultComparator, cfg.KeysPerPage, cfg.Compress)
	}

	s.currentVersion = pf.Version()
	s.log.Info("store opened").Int64("version", s.currentVersion).Int("maps", len(s.maps)).Send()
	return s, nil
}

// loadMapDirectory scans every mapRecord in the layout map and reconstructs
// the corresponding mvmap.Map, advancing nextMapID past the highest id seen.
func (s *Store) loadMapDirectory() error {
	from := make([]byte, 4)
	from[0], from[1], from[2], from[3] = 0, 0, 0, byte(prefixMapRecord)
	cur, err := s.layout.Cursor(from)
	if err != nil {
		return newError(CodeFileCorrupt, err, "scan layout map directory")
	}

	var scanErr error
	cur.Scan(func(key, val []byte) bool {
		prefix, vals, err := extractKeyValues(key)
		if err != nil {
			scanErr = newError(CodeFileCorrupt, err, "decode layout key")
			return false
		}
		if prefix != prefixMapRecord {
			return false
		}
		if len(vals) != 1 {
			scanErr = newError(CodeFileCorrupt, nil, "malformed map record key")
			return false
		}
		name := string(vals[0].str)

		rec, err := decodeMapRecord(val)
		if err != nil {
			scanErr = newError(CodeFileCorrupt, err, "decode map record for %q", name)
			return false
		}

		m, err := mvmap.RootFromPosition(name, rec.ID, s.source, mvmap.DefaultComparator, rec.KeysPerPage, rec.Compress, rec.Root, rec.Version)
		if err != nil {
			scanErr = newError(CodeFileCorrupt, err, "reconstruct map %q", name)
			return false
		}
		s.maps[name] = m
		s.mapIDs[rec.ID] = name
		s.layoutRoots[name] = rec.Root
		if rec.ID >= s.nextMapID {
			s.nextMapID = rec.ID + 1
		}
		return true
	})
	return scanErr
}

// OpenMap returns the named map, creating a fresh empty one (assigned the
// next map id) if it has never been opened before. The map is not durable
// until the next successful Commit.
func (s *Store) OpenMap(name string) (*mvmap.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openMapLocked(name)
}

func (s *Store) openMapLocked(name string) (*mvmap.Map, error) {
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	if m, ok := s.maps[name]; ok {
		return m, nil
	}
	if s.cfg.ReadOnly {
		return nil, newError(CodeUnsupportedOperation, nil, "open new map %q on a read-only store", name)
	}

	id := s.nextMapID
	s.nextMapID++
	m := mvmap.New(name, id, s.source, mvmap.DefaultComparator, s.cfg.KeysPerPage, s.cfg.Compress)
	s.maps[name] = m
	s.mapIDs[id] = name
	return m, nil
}

func (s *Store) checkOpenLocked() error {
	if s.closed {
		return newError(CodeClosed, nil, "store is closed")
	}
	if s.panicked {
		return newError(CodeClosed, s.panicErr, "store is in panic mode after a prior write failure")
	}
	return nil
}

// Commit durably writes every map's dirty pages into one new chunk and
// atomically publishes the new root references, returning the version
// number assigned to the commit. A commit touching nothing returns the
// unchanged current version without writing a chunk.
func (s *Store) Commit() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked()
}

// commitLocked implements Commit; callers (Commit, Rollback) must already
// hold s.mu.
func (s *Store) commitLocked() (int64, error) {
	if err := s.checkOpenLocked(); err != nil {
		return 0, err
	}
	if s.cfg.ReadOnly {
		return 0, newError(CodeUnsupportedOperation, nil, "commit on a read-only store")
	}

	start := time.Now()
	chunkID := s.pf.ReserveChunkID()
	offset := uint32(0)

	var bodies [][]byte
	var kinds []page.Kind

	type pendingMap struct {
		name string
		m    *mvmap.Map
		rr   *mvmap.RootReference
	}
	var pending []pendingMap

	names := make([]string, 0, len(s.maps))
	for name := range s.maps {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic staging order across runs

	for _, name := range names {
		m := s.maps[name]
		staged, newRR, err := m.StageDirty(chunkID, &offset)
		if err != nil {
			return 0, s.panicOnWriteFailure(err, "stage map %q", name)
		}
		// A map can need a fresh layout record without fresh pages: Rollback
		// restores an already-written historical root, so StageDirty is a
		// no-op but the layout map still points at the old one.
		rootMoved := newRR.RootPosition() != s.layoutRoots[name]
		if staged == nil && !rootMoved {
			continue
		}
		if staged == nil {
			// newRR aliases the currently published RootReference (possibly
			// one restored by Rollback and still reachable from another
			// map's history); Publish must not mutate it in place.
			newRR = mvmap.CloneRootReference(newRR)
		}
		for _, p := range staged {
			bodies = append(bodies, p.Bytes)
			kinds = append(kinds, p.Kind)
		}
		pending = append(pending, pendingMap{name: name, m: m, rr: newRR})
	}

	if len(pending) == 0 {
		return s.currentVersion, nil
	}

	newVersion := s.currentVersion + 1

	var snaps []mapSnapshot
	for _, p := range pending {
		rec := mapRecord{
			ID:          p.m.ID,
			KeysPerPage: p.m.KeysPerPage,
			Compress:    p.m.Compress(),
			Root:        p.rr.RootPosition(),
			Version:     newVersion,
		}
		if _, _, err := s.layout.Put(mapRecordKey(p.name), encodeMapRecord(rec)); err != nil {
			return 0, s.panicOnWriteFailure(err, "update layout record for %q", p.name)
		}
		snaps = append(snaps, mapSnapshot{MapID: p.m.ID, Root: rec.Root})
	}

	if s.cfg.VersionsToKeep > 0 {
		if _, _, err := s.layout.Put(versionRecordKey(newVersion), encodeVersionRecord(snaps)); err != nil {
			return 0, s.panicOnWriteFailure(err, "write version record %d", newVersion)
		}
		s.pruneVersionsLocked(newVersion)
	}

	layoutStaged, layoutNewRR, err := s.layout.StageDirty(chunkID, &offset)
	if err != nil {
		return 0, s.panicOnWriteFailure(err, "stage layout map")
	}
	for _, p := range layoutStaged {
		bodies = append(bodies, p.Bytes)
		kinds = append(kinds, p.Kind)
	}
	layoutRoot := s.layout.RootPosition()
	if layoutStaged != nil {
		layoutRoot = layoutNewRR.RootPosition()
	}

	if _, err := s.pf.WriteReservedChunk(chunkID, bodies, kinds, newVersion, layoutRoot); err != nil {
		return 0, s.panicOnWriteFailure(err, "write chunk %d", chunkID)
	}

	for _, p := range pending {
		p.m.Publish(p.rr, newVersion)
		s.layoutRoots[p.name] = p.rr.RootPosition()
	}
	if layoutStaged != nil {
		s.layout.Publish(layoutNewRR, newVersion)
	}
	s.currentVersion = newVersion
	s.log.LogCommit(newVersion, chunkID, len(bodies), time.Since(start), nil)
	return newVersion, nil
}

// panicOnWriteFailure marks the store panicked (spec.md §7: I/O errors
// during commit degrade the store to Closed) and wraps cause as a
// WritingFailed StoreError.
func (s *Store) panicOnWriteFailure(cause error, format string, args ...any) error {
	wrapped := newError(CodeWritingFailed, cause, format, args...)
	s.panicked = true
	s.panicErr = wrapped
	s.log.Error("commit failed, store entering panic mode").Err(wrapped).Send()
	return wrapped
}

// pruneVersionsLocked removes version records older than the retention
// bound, unless an outstanding OpenVersion snapshot still pins them.
// oldestVersionToKeep is the minimum of the configured retention window and
// the lowest version any open snapshot still references.
func (s *Store) pruneVersionsLocked(newVersion int64) {
	oldest := newVersion - int64(s.cfg.VersionsToKeep)
	for v := range s.openVersions {
		if v < oldest {
			oldest = v
		}
	}
	for v := oldest - 1; v >= 0; v-- {
		found, _ := s.layout.ContainsKey(versionRecordKey(v))
		if !found {
			break
		}
		s.layout.Remove(versionRecordKey(v))
	}
}

// CurrentVersion returns the version number of the most recently completed
// commit.
func (s *Store) CurrentVersion() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentVersion
}

// MapNames returns every currently open map's name.
func (s *Store) MapNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.maps))
	for name := range s.maps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FreeList exposes the allocator for the housekeeping engine.
func (s *Store) FreeList() *freelist.FreeList { return s.pf.FreeList() }

// ChunkInfos exposes the chunk index for the housekeeping engine and the
// dump/inspection surface.
func (s *Store) ChunkInfos() []*pagefile.ChunkInfo { return s.pf.ChunkInfos() }

// Compressor returns the Compressor every map's pages are serialized
// through, for tooling that needs to decompress a raw chunk body outside
// the normal map read path (e.g. a dump command inspecting bytes directly).
func (s *Store) Compressor() Compressor { return page.DefaultCompressor }

// Close flushes no pending writes (call Commit first) and releases the
// backing file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.pf.Close(); err != nil {
		return newError(CodeWritingFailed, err, "close backing file")
	}
	return nil
}

func (s *Store) String() string {
	return fmt.Sprintf("mvstore.Store{file=%s, version=%d, maps=%d}", s.cfg.FileName, s.currentVersion, len(s.maps))
}
