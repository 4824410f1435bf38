// ABOUTME: Forces pages living in condemned chunks back into dirty (unwritten) state
// ABOUTME: Used by pkg/housekeeping's RewriteChunks phase to reclaim a chunk's live pages into a fresh one

package mvmap

import "github.com/arvindrathore/mvstore/pkg/page"

// MarkChunksDirty resolves and clones every path from the map's current root
// down to a page stored in one of targetChunks, marking that page (and every
// ancestor whose Children slice references it) unwritten so the next
// StageDirty call re-serializes it into a new chunk. It returns whether
// anything changed; when it did, the caller must Publish the returned
// RootReference (via a store commit) before the condemned chunks can be
// dropped.
func (m *Map) MarkChunksDirty(targetChunks map[uint32]bool) (*RootReference, bool, error) {
	if len(targetChunks) == 0 {
		return nil, false, nil
	}
	rr := m.rootRef.Load()
	clone, changed, err := cloneForRewrite(rr.root, targetChunks, m)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return nil, false, nil
	}
	return &RootReference{root: clone, Version: rr.Version, Previous: rr.Previous, AppendMode: rr.AppendMode}, true, nil
}

// cloneForRewrite walks n looking for any page (leaf or node) physically
// located in targetChunks. Every node on the path to such a page is cloned
// with its on-disk Pos reset to page.Unwritten, the same path-copy discipline
// put/deleteKey already use, so the unmodified parts of the tree are never
// touched and still share storage with whatever RootReference currently
// publishes them.
func cloneForRewrite(n *treeNode, targetChunks map[uint32]bool, r childResolver) (*treeNode, bool, error) {
	condemned := n.pg.Pos.IsWritten() && targetChunks[n.pg.Pos.ChunkID()]

	if n.isLeaf() {
		if !condemned {
			return n, false, nil
		}
		clone := &treeNode{pg: &page.Page{
			Kind:   page.KindLeaf,
			Keys:   n.pg.Keys,
			Values: n.pg.Values,
		}}
		return clone, true, nil
	}

	childChanged := false
	newKids := append([]*treeNode(nil), n.kids...)
	newChildren := append([]page.Position(nil), n.pg.Children...)

	for i := range n.pg.Children {
		kid := n.kids[i]
		if kid == nil {
			resolved, err := n.child(i, r)
			if err != nil {
				return nil, false, err
			}
			kid = resolved
		}
		clone, changed, err := cloneForRewrite(kid, targetChunks, r)
		if err != nil {
			return nil, false, err
		}
		if changed {
			newKids[i] = clone
			newChildren[i] = page.Unwritten
			childChanged = true
		} else {
			newKids[i] = kid
		}
	}

	if !condemned && !childChanged {
		return n, false, nil
	}

	clonePage := &page.Page{
		Kind:        page.KindNode,
		Keys:        n.pg.Keys,
		Children:    newChildren,
		ChildCounts: append([]int64(nil), n.pg.ChildCounts...),
	}
	return &treeNode{pg: clonePage, kids: newKids}, true, nil
}
