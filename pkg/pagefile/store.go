// ABOUTME: Chunked append-only file store: ties the backend, free-space allocator and chunk index together
// ABOUTME: Open() takes the clean-shutdown fast path from the newest valid header block, else falls back to a backward scan

package pagefile

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/arvindrathore/mvstore/pkg/freelist"
	"github.com/arvindrathore/mvstore/pkg/page"
)

const lengthPrefixSize = 4

// Store owns the on-disk chunk layout: which chunks exist, where their
// blocks are, and how to read and write the pages inside them. It does not
// know about B-tree maps; pkg/mvstore builds the map/version layer on top
// of it.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	free     *freelist.FreeList
	path     string
	readOnly bool

	header      StoreHeader
	headerSlot  int // 0 or 1: which dual block to overwrite next
	chunks      map[uint32]*ChunkInfo
	nextChunkID uint32
}

// Open opens (creating if absent) the store file at path. On a clean prior
// shutdown this reads the two store-header blocks and the chunk chain they
// point to; otherwise it falls back to a backward scan for the last
// well-formed chunk footer.
func Open(path string, readOnly bool) (*Store, error) {
	backend, err := openBackend(path, readOnly)
	if err != nil {
		return nil, err
	}

	s := &Store{
		backend:     backend,
		free:        freelist.New(BlockSize),
		path:        path,
		readOnly:    readOnly,
		chunks:      make(map[uint32]*ChunkInfo),
		nextChunkID: 1,
	}

	size, err := backend.Size()
	if err != nil {
		backend.Close()
		return nil, err
	}

	if size == 0 {
		if readOnly {
			backend.Close()
			return nil, fmt.Errorf("pagefile: cannot create new store %s in read-only mode", path)
		}
		if err := s.initEmpty(); err != nil {
			backend.Close()
			return nil, err
		}
		return s, nil
	}

	if err := s.recover(size); err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initEmpty() error {
	s.header = StoreHeader{
		Format:    storeFormat,
		BlockSize: BlockSize,
	}
	block := s.header.encode()
	if err := s.backend.WriteAt(block, 0); err != nil {
		return err
	}
	if err := s.backend.WriteAt(block, HeaderBlockSize); err != nil {
		return err
	}
	return s.backend.Sync()
}

// recover loads the chunk chain, preferring the clean-shutdown fast path
// (the newest of the store-header blocks that decodes and checksums) and
// falling back to a backward block-by-block scan for the newest valid chunk
// footer.
func (s *Store) recover(fileSize int64) error {
	var candidates []*StoreHeader
	for _, off := range []int64{0, HeaderBlockSize} {
		buf := make([]byte, HeaderBlockSize)
		if err := s.backend.ReadAt(buf, off); err != nil {
			continue
		}
		if h, err := decodeStoreHeader(buf); err == nil {
			candidates = append(candidates, h)
		}
	}

	var best *StoreHeader
	for _, h := range candidates {
		if best == nil || h.Version > best.Version {
			best = h
		}
	}

	if best != nil && best.NewestChunk == 0 {
		// A store that never had a chunk written: nothing to load.
		s.header = *best
		s.headerSlot = int(best.Version % 2)
		return nil
	}
	if best != nil && best.NewestChunk != 0 {
		if err := s.loadChainFrom(best.NewestChunk, best.NewestBlock); err == nil {
			s.header = *best
			s.headerSlot = int(best.Version % 2)
			return nil
		}
		// Fast path header was readable but the chunk chain it points to
		// is not; fall through to the scan below rather than fail outright.
	}

	return s.scanForNewestChunk(fileSize)
}

func (s *Store) loadChainFrom(newestID uint32, newestBlock uint64) error {
	id, block := newestID, newestBlock
	maxChunkID := uint32(0)

	for id != 0 {
		hdrBuf := make([]byte, BlockSize)
		if err := s.backend.ReadAt(hdrBuf, int64(block)*BlockSize); err != nil {
			return fmt.Errorf("pagefile: read chunk %d header: %w", id, err)
		}
		info, err := decodeChunkRecord(hdrBuf)
		if err != nil {
			return fmt.Errorf("pagefile: decode chunk %d header: %w", id, err)
		}

		footerBuf := make([]byte, BlockSize)
		footerBlockOff := int64(info.Block+info.Blocks-1) * BlockSize
		if err := s.backend.ReadAt(footerBuf, footerBlockOff); err != nil {
			return fmt.Errorf("pagefile: read chunk %d footer: %w", id, err)
		}
		if _, err := decodeChunkRecord(footerBuf); err != nil {
			return fmt.Errorf("pagefile: chunk %d footer invalid: %w", id, err)
		}

		s.chunks[info.ID] = info
		s.free.MarkUsed(uint(info.Block), uint(info.Blocks))
		if info.ID > maxChunkID {
			maxChunkID = info.ID
		}

		id, block = info.Prev, info.PrevBlock
	}

	s.nextChunkID = maxChunkID + 1
	return nil
}

// scanForNewestChunk walks the file backward in block-sized steps looking
// for the first block that decodes as a valid chunk footer, then follows
// the Prev chain back through older chunks from there. This is the
// crash-recovery slow path, used when neither store-header copy decodes or
// when the chain the newest header points to cannot be loaded.
func (s *Store) scanForNewestChunk(fileSize int64) error {
	totalBlocks := uint64(fileSize) / BlockSize
	for b := totalBlocks; b > firstDataBlock; b-- {
		buf := make([]byte, BlockSize)
		if err := s.backend.ReadAt(buf, int64(b-1)*BlockSize); err != nil {
			continue
		}
		info, err := decodeChunkRecord(buf)
		if err != nil {
			continue
		}
		// A footer's own recorded extent must end exactly at this block.
		if info.Block+info.Blocks != b {
			continue
		}
		if err := s.loadChainFrom(info.ID, info.Block); err != nil {
			return fmt.Errorf("pagefile: file corrupt, recovered chunk %d chain broken: %w", info.ID, err)
		}
		s.header = StoreHeader{
			Format:      storeFormat,
			BlockSize:   BlockSize,
			Version:     1,
			NewestChunk: info.ID,
			NewestBlock: info.Block,
		}
		return nil
	}
	return fmt.Errorf("pagefile: file corrupt, no valid chunk footer found in %s", s.path)
}

const firstDataBlock = 2

// WriteChunk serializes pages (already encoded via page.Serialize) into a
// new chunk, places it in the lowest free run of blocks large enough to hold
// it (past the current end of file when no hole fits), and durably publishes
// it as the newest chunk via the two-phase store-header write (data+fsync,
// then header+fsync) the teacher's updateFile follows.
func (s *Store) WriteChunk(pages [][]byte, kinds []page.Kind, version int64, root page.Position) ([]page.Position, error) {
	s.mu.Lock()
	id := s.nextChunkID
	s.nextChunkID++
	s.mu.Unlock()
	return s.WriteReservedChunk(id, pages, kinds, version, root)
}

// ReserveChunkID hands out the next chunk id without writing anything,
// letting a caller that must compute page positions before the physical
// write (the map layer, so it can embed child positions in a parent page's
// bytes) know the chunk id those positions will land in.
func (s *Store) ReserveChunkID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextChunkID
	s.nextChunkID++
	return id
}

// WriteReservedChunk writes pages into a chunk under a previously reserved
// id (see ReserveChunkID). Positions returned must match what the caller
// already computed using the same length-prefix framing (lengthPrefixSize
// bytes per page) before calling this.
func (s *Store) WriteReservedChunk(id uint32, pages [][]byte, kinds []page.Kind, version int64, root page.Position) ([]page.Position, error) {
	if s.readOnly {
		return nil, fmt.Errorf("pagefile: store is read-only")
	}
	if len(pages) != len(kinds) {
		return nil, fmt.Errorf("pagefile: pages/kinds length mismatch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bodySize := 0
	for _, p := range pages {
		bodySize += lengthPrefixSize + len(p)
	}
	bodyBlocks := (bodySize + BlockSize - 1) / BlockSize
	totalBlocks := uint(headerBlocks + bodyBlocks + headerBlocks)

	startBlock := s.free.Allocate(totalBlocks, -1, -1)

	positions := make([]page.Position, len(pages))
	body := make([]byte, bodyBlocks*BlockSize)
	offset := 0
	for i, p := range pages {
		binary.LittleEndian.PutUint32(body[offset:], uint32(len(p)))
		copy(body[offset+lengthPrefixSize:], p)
		positions[i] = page.NewPosition(id, uint32(offset), page.LengthClassFor(len(p)), kinds[i])
		offset += lengthPrefixSize + len(p)
	}

	prevID, prevBlock := s.header.NewestChunk, s.header.NewestBlock

	info := &ChunkInfo{
		ID:        id,
		Block:     uint64(startBlock),
		Blocks:    uint64(totalBlocks),
		PageCount: len(pages),
		LiveCount: len(pages),
		Version:   version,
		Prev:      prevID,
		PrevBlock: prevBlock,
		Root:      uint64(root),
	}

	hdrBlock := encodeChunkRecord(info)
	if err := s.backend.WriteAt(hdrBlock, int64(startBlock)*BlockSize); err != nil {
		return nil, err
	}
	if err := s.backend.WriteAt(body, int64(startBlock+1)*BlockSize); err != nil {
		return nil, err
	}
	footerBlock := encodeChunkRecord(info)
	footerOff := int64(startBlock+1+uint(bodyBlocks)) * BlockSize
	if err := s.backend.WriteAt(footerBlock, footerOff); err != nil {
		return nil, err
	}
	if err := s.backend.Sync(); err != nil {
		return nil, fmt.Errorf("pagefile: fsync chunk %d data: %w", id, err)
	}

	s.chunks[id] = info

	s.header.Version++
	s.header.NewestChunk = id
	s.header.NewestBlock = uint64(startBlock)
	headerBlockBytes := s.header.encode()
	headerOff := int64(s.headerSlot) * HeaderBlockSize
	if err := s.backend.WriteAt(headerBlockBytes, headerOff); err != nil {
		return nil, err
	}
	if err := s.backend.Sync(); err != nil {
		return nil, fmt.Errorf("pagefile: fsync store header: %w", err)
	}
	s.headerSlot = (s.headerSlot + 1) % 2

	return positions, nil
}

// ReadPage reads the raw serialized bytes of the page at pos.
func (s *Store) ReadPage(pos page.Position) ([]byte, error) {
	if !pos.IsWritten() {
		return nil, fmt.Errorf("pagefile: position %d is not a written page", pos)
	}

	s.mu.Lock()
	info, ok := s.chunks[pos.ChunkID()]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pagefile: unknown chunk %d", pos.ChunkID())
	}

	base := int64(info.Block+1)*BlockSize + int64(pos.Offset())
	lenBuf := make([]byte, lengthPrefixSize)
	if err := s.backend.ReadAt(lenBuf, base); err != nil {
		return nil, fmt.Errorf("pagefile: read length prefix at chunk %d offset %d: %w", info.ID, pos.Offset(), err)
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	out := make([]byte, n)
	if err := s.backend.ReadAt(out, base+lengthPrefixSize); err != nil {
		return nil, fmt.Errorf("pagefile: read page body at chunk %d offset %d: %w", info.ID, pos.Offset(), err)
	}
	return out, nil
}

// ChunkInfos returns a snapshot of all known chunks, for the housekeeping
// engine's fragmentation scan and the dump/inspection surface.
func (s *Store) ChunkInfos() []*ChunkInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ChunkInfo, 0, len(s.chunks))
	for _, c := range s.chunks {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

// MarkLive updates a chunk's live-page accounting; called by the map layer
// whenever a chunk's pages are rewritten into a new chunk during compaction.
func (s *Store) MarkLive(chunkID uint32, live int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chunks[chunkID]; ok {
		c.LiveCount = live
	}
}

// DropChunk reclaims a chunk's blocks once nothing references its pages.
func (s *Store) DropChunk(chunkID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return fmt.Errorf("pagefile: drop unknown chunk %d", chunkID)
	}
	s.free.Free(uint(c.Block), uint(c.Blocks))
	delete(s.chunks, chunkID)
	return nil
}

// FreeList exposes the allocator for the housekeeping engine's
// fragmentation and fill-rate checks.
func (s *Store) FreeList() *freelist.FreeList {
	return s.free
}

// MoveChunk physically relocates chunk id's blocks to the lowest free run
// strictly below its current position, byte-for-byte, then frees its old
// blocks. It is a no-op (returns false, nil) if no such run exists, which is
// the common case once a compaction pass has moved everything movable.
//
// A move never touches page contents or any map's tree: page.Position
// addresses a page by chunk id and in-chunk byte offset, never by block, so
// relocating a chunk's blocks is invisible above this layer. Only the
// bookkeeping that points at a chunk by block number needs fixing up: the
// chunk chronologically after it (by Prev) and, if it is the newest chunk,
// the store header.
func (s *Store) MoveChunk(id uint32) (bool, error) {
	if s.readOnly {
		return false, fmt.Errorf("pagefile: store is read-only")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.chunks[id]
	if !ok {
		return false, fmt.Errorf("pagefile: move unknown chunk %d", id)
	}

	newBlock := s.free.Allocate(uint(info.Blocks), int64(info.Block), -1)
	if newBlock >= uint(info.Block) {
		// Allocate always marks its result used, even the fallback
		// past-end-of-file placement it returns when nothing fits; undo
		// that speculative reservation since there was nowhere better.
		s.free.Free(newBlock, uint(info.Blocks))
		return false, nil
	}

	buf := make([]byte, info.Blocks*BlockSize)
	if err := s.backend.ReadAt(buf, int64(info.Block)*BlockSize); err != nil {
		s.free.Free(newBlock, uint(info.Blocks))
		return false, fmt.Errorf("pagefile: read chunk %d for move: %w", id, err)
	}

	moved := *info
	moved.Block = uint64(newBlock)
	hdrBlock := encodeChunkRecord(&moved)
	bodyBlocks := uint(info.Blocks) - 2*headerBlocks
	body := buf[BlockSize : BlockSize+bodyBlocks*BlockSize]

	if err := s.backend.WriteAt(hdrBlock, int64(newBlock)*BlockSize); err != nil {
		return false, fmt.Errorf("pagefile: write moved chunk %d header: %w", id, err)
	}
	if err := s.backend.WriteAt(body, int64(newBlock+1)*BlockSize); err != nil {
		return false, fmt.Errorf("pagefile: write moved chunk %d body: %w", id, err)
	}
	footerOff := int64(newBlock+bodyBlocks+1) * BlockSize
	if err := s.backend.WriteAt(hdrBlock, footerOff); err != nil {
		return false, fmt.Errorf("pagefile: write moved chunk %d footer: %w", id, err)
	}
	if err := s.backend.Sync(); err != nil {
		return false, fmt.Errorf("pagefile: fsync moved chunk %d: %w", id, err)
	}

	s.free.Free(uint(info.Block), uint(info.Blocks))
	s.chunks[id] = &moved

	if s.header.NewestChunk == id {
		s.header.NewestBlock = moved.Block
		if err := s.persistHeaderLocked(); err != nil {
			return false, fmt.Errorf("pagefile: persist header after moving newest chunk %d: %w", id, err)
		}
	}
	for _, c := range s.chunks {
		if c.Prev == id {
			c.PrevBlock = moved.Block
		}
	}

	return true, nil
}

// persistHeaderLocked writes the store header to whichever of the two dual
// blocks is next in rotation, bumping its write sequence. Callers must hold
// s.mu.
func (s *Store) persistHeaderLocked() error {
	s.header.Version++
	block := s.header.encode()
	off := int64(s.headerSlot) * HeaderBlockSize
	if err := s.backend.WriteAt(block, off); err != nil {
		return err
	}
	if err := s.backend.Sync(); err != nil {
		return err
	}
	s.headerSlot = (s.headerSlot + 1) % 2
	return nil
}

// TruncateIfPossible shrinks the backing file down to just past the highest
// block still in use, provided the reclaimable tail is at least
// thresholdPercent of the file's current size. Returns whether it actually
// truncated. Callers should only invoke this after a round of MoveChunk has
// pushed everything live toward the front of the file, or the tail will
// usually still hold a live chunk.
func (s *Store) TruncateIfPossible(thresholdPercent int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastUsed := s.free.ShrinkToFit()
	size, err := s.backend.Size()
	if err != nil {
		return false, err
	}
	currentBlocks := uint64(size) / BlockSize
	if uint64(lastUsed) >= currentBlocks {
		return false, nil
	}

	reclaimable := currentBlocks - uint64(lastUsed)
	if thresholdPercent > 0 && int(reclaimable*100/currentBlocks) < thresholdPercent {
		return false, nil
	}

	if err := s.backend.Truncate(int64(lastUsed) * BlockSize); err != nil {
		return false, fmt.Errorf("pagefile: truncate to %d blocks: %w", lastUsed, err)
	}
	if err := s.backend.Sync(); err != nil {
		return false, fmt.Errorf("pagefile: fsync after truncate: %w", err)
	}
	return true, nil
}

// Version returns the current store-header write sequence.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.Version
}

// LayoutRoot returns the layout map's root position as of the newest chunk,
// or page.Unwritten for a freshly created store. pkg/mvstore uses this on
// open to reconstruct the layout map without a separate directory file.
func (s *Store) LayoutRoot() page.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[s.header.NewestChunk]
	if !ok {
		return page.Unwritten
	}
	return page.Position(c.Root)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

// Sync flushes any backend buffering without writing a new chunk. Used by
// the version layer when a rollback needs the file state pinned.
func (s *Store) Sync() error {
	return s.backend.Sync()
}
