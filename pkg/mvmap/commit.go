// ABOUTME: Staging of dirty (in-memory, unwritten) pages ahead of a store-wide chunk write
// ABOUTME: Positions are computed locally so a parent page can embed its children's positions before the physical write happens

package mvmap

import "github.com/arvindrathore/mvstore/pkg/page"

// pageLengthPrefixSize must match pagefile's on-disk framing (a 4-byte
// little-endian length ahead of every page's bytes) since the offsets
// computed here become the Position values pagefile.Store.WriteReservedChunk
// is asked to honor verbatim.
const pageLengthPrefixSize = 4

// StagedPage is one page queued to be written into the next chunk.
type StagedPage struct {
	Bytes []byte
	Kind  page.Kind
}

// StageDirty walks the map's currently published tree and serializes every
// page that has not yet been written to disk (page.Pos == Unwritten),
// children before parents so a parent's Children slice can be rewritten
// with its children's now-known positions before the parent itself is
// serialized. offset is the running byte offset within the chunk body
// across every map staged into this commit; it advances as pages are
// appended here. Returns the pages to append to the chunk and the
// in-progress root reference to publish once the chunk write succeeds.
func (m *Map) StageDirty(chunkID uint32, offset *uint32) ([]StagedPage, *RootReference, error) {
	// The on-disk chunk format has no concept of a pending append buffer;
	// drain it into the tree first so every staged page reflects it.
	rr, err := m.flushAppend()
	if err != nil {
		return nil, nil, err
	}
	if rr.root.pg.Pos.IsWritten() {
		// Nothing changed since the last commit.
		return nil, rr, nil
	}

	var staged []StagedPage
	if err := stageNode(rr.root, chunkID, offset, m.compress, &staged); err != nil {
		return nil, nil, err
	}

	newRR := &RootReference{root: rr.root, Version: rr.Version, Previous: rr.Previous, AppendMode: rr.AppendMode}
	return staged, newRR, nil
}

func stageNode(n *treeNode, chunkID uint32, offset *uint32, compress int, out *[]StagedPage) error {
	if n.pg.Pos.IsWritten() {
		return nil
	}

	if n.pg.Kind == page.KindNode {
		for i, kid := range n.kids {
			if kid == nil {
				continue // untouched child, its on-disk position is already correct
			}
			if err := stageNode(kid, chunkID, offset, compress, out); err != nil {
				return err
			}
			n.pg.Children[i] = kid.pg.Pos
		}
	}

	enc, err := n.pg.Serialize(compress)
	if err != nil {
		return err
	}

	pos := page.NewPosition(chunkID, *offset, page.LengthClassFor(len(enc)), n.pg.Kind)
	page.SetCheckValue(enc, chunkID, *offset)
	n.pg.Pos = pos
	*offset += pageLengthPrefixSize + uint32(len(enc))

	*out = append(*out, StagedPage{Bytes: enc, Kind: n.pg.Kind})
	return nil
}

// CloneRootReference wraps rr's tree in a fresh RootReference, for a caller
// that needs to Publish a root whose pages are already durable (so
// StageDirty is a no-op and returns rr itself) without mutating rr's own
// Version/Previous in place when it is also reachable from a history chain
// (e.g. the RootReference a Rollback just restored as current).
func CloneRootReference(rr *RootReference) *RootReference {
	return &RootReference{root: rr.root, Version: rr.Version, Previous: rr.Previous, AppendMode: rr.AppendMode}
}

// RootPosition returns the on-disk position of rr's tree root, or
// page.Unwritten if rr has never been flushed to a chunk.
func (rr *RootReference) RootPosition() page.Position {
	return rr.root.pg.Pos
}

// Publish installs newRR as the current root reference once its chunk has
// been durably written, linking the reference it replaces into Previous so
// OpenVersion/Rollback can still reach it.
func (m *Map) Publish(newRR *RootReference, version int64) {
	prev := m.rootRef.Load()
	newRR.Version = version
	newRR.Previous = prev
	m.rootRef.Store(newRR)
}

// RootPosition returns the position of the map's current root page, or
// page.Unwritten if the map has never been flushed.
func (m *Map) RootPosition() page.Position {
	return m.rootRef.Load().root.pg.Pos
}

// RootFromPosition reconstructs a Map's root from a previously written
// position, used when reopening a store or opening a historical version.
func RootFromPosition(name string, id uint32, source PageSource, cmp Comparator, keysPerPage, compress int, pos page.Position, version int64) (*Map, error) {
	m := New(name, id, source, cmp, keysPerPage, compress)
	if !pos.IsWritten() {
		m.rootRef.Store(&RootReference{root: newLeaf(), Version: version})
		return m, nil
	}
	root, err := m.readChild(pos)
	if err != nil {
		return nil, err
	}
	m.rootRef.Store(&RootReference{root: root, Version: version})
	return m, nil
}

// FromRootReference builds a Map view pinned to an already-resolved
// RootReference, used by the store layer to expose a historical snapshot
// (OpenVersion) without re-reading it from disk. Callers that mutate a map
// built this way fork a new, independent CAS chain from rr rather than
// affecting the map it was copied from.
func FromRootReference(name string, id uint32, source PageSource, cmp Comparator, keysPerPage, compress int, rr *RootReference) *Map {
	m := New(name, id, source, cmp, keysPerPage, compress)
	m.rootRef.Store(rr)
	return m
}
