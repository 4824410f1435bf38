// ABOUTME: Store-side primitives the housekeeping engine drives: pick compaction candidates, relocate their live pages, drop what's left
// ABOUTME: A chunk is only a drop candidate once it is both low-fill and older than every version Rollback/OpenVersion can still reach

package mvstore

import "sort"

// CompactionCandidates returns the ids of chunks whose fill rate is at or
// below fillRateThreshold (0-100) and whose version predates the retention
// window, so no outstanding Rollback/OpenVersion target can still reference
// a page inside them. Reclaiming a chunk still referenced by a retained
// version would corrupt that snapshot, so chunks within the window are
// never candidates regardless of fill rate.
func (s *Store) CompactionCandidates(fillRateThreshold int) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldest := s.currentVersion - int64(s.cfg.VersionsToKeep)
	for v := range s.openVersions {
		if v < oldest {
			oldest = v
		}
	}

	var out []uint32
	for _, c := range s.pf.ChunkInfos() {
		if c.Version >= oldest {
			continue
		}
		if int(c.FillRate()*100) > fillRateThreshold {
			continue
		}
		out = append(out, c.ID)
	}
	return out
}

// RewriteChunks relocates every live page still held in targetChunks into a
// fresh chunk by forcing the owning maps to re-stage them, then committing.
// It returns the commit's version and whether any page actually needed
// relocation (a candidate chunk can turn out to hold nothing live if the
// maps referencing it were already rewritten by an earlier cycle).
func (s *Store) RewriteChunks(targetChunks []uint32) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpenLocked(); err != nil {
		return 0, false, err
	}
	if s.cfg.ReadOnly {
		return 0, false, newError(CodeUnsupportedOperation, nil, "rewrite chunks on a read-only store")
	}

	set := make(map[uint32]bool, len(targetChunks))
	for _, id := range targetChunks {
		set[id] = true
	}

	anyChanged := false
	for _, m := range s.maps {
		newRR, changed, err := m.MarkChunksDirty(set)
		if err != nil {
			return 0, false, newError(CodeReadingFailed, err, "rewrite map %q", m.Name)
		}
		if !changed {
			continue
		}
		m.RestoreRoot(newRR)
		anyChanged = true
	}
	if !anyChanged {
		return s.currentVersion, false, nil
	}

	v, err := s.commitLocked()
	if err != nil {
		return 0, false, err
	}

	for _, id := range targetChunks {
		s.pf.MarkLive(id, 0)
	}
	return v, true, nil
}

// MoveCandidates returns every known chunk id, ordered by the free list's
// MovePriority (highest, most worthwhile to relocate, first), for the
// housekeeping engine's physical-move phase to spend its per-cycle budget on
// in priority order.
func (s *Store) MoveCandidates() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := s.pf.ChunkInfos()
	free := s.pf.FreeList()
	sort.Slice(infos, func(i, j int) bool {
		return free.MovePriority(uint(infos[i].Block), uint(infos[i].Blocks)) >
			free.MovePriority(uint(infos[j].Block), uint(infos[j].Blocks))
	})

	out := make([]uint32, len(infos))
	for i, c := range infos {
		out[i] = c.ID
	}
	return out
}

// MoveChunks physically relocates up to len(targetChunks) chunks toward the
// start of the file (see pagefile.Store.MoveChunk), then truncates the
// file's tail once the reclaimed space clears truncateThresholdPercent.
// Unlike RewriteChunks this never touches a map's tree or a page's
// contents: it is the "physical move" side of compaction, RewriteChunks is
// the "logical reclaim" side.
func (s *Store) MoveChunks(targetChunks []uint32, truncateThresholdPercent int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpenLocked(); err != nil {
		return 0, err
	}
	if s.cfg.ReadOnly {
		return 0, newError(CodeUnsupportedOperation, nil, "move chunks on a read-only store")
	}

	moved := 0
	for _, id := range targetChunks {
		ok, err := s.pf.MoveChunk(id)
		if err != nil {
			return moved, newError(CodeInternal, err, "move chunk %d", id)
		}
		if ok {
			moved++
		}
	}

	if moved > 0 {
		if _, err := s.pf.TruncateIfPossible(truncateThresholdPercent); err != nil {
			return moved, newError(CodeInternal, err, "truncate after moving %d chunks", moved)
		}
	}
	return moved, nil
}

// DropChunks reclaims every listed chunk's blocks. Callers must only pass
// chunks whose live count is already zero (RewriteChunks guarantees this
// for the chunks it touched).
func (s *Store) DropChunks(chunkIDs []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		if err := s.pf.DropChunk(id); err != nil {
			return newError(CodeInternal, err, "drop chunk %d", id)
		}
	}
	return nil
}
