// ABOUTME: In-memory copy-on-write tree node: wraps a page.Page with lazily-resolved children
// ABOUTME: Split/merge thresholds are keyed off key count (keysPerPage), not byte size

package mvmap

import (
	"fmt"

	"github.com/arvindrathore/mvstore/pkg/page"
)

// DefaultKeysPerPage matches the store-wide "keysPerPage" configuration
// default: a node splits once it holds more than this many keys.
const DefaultKeysPerPage = 48

// minKeysForMerge is the point below which a node is a candidate to be
// merged into a sibling rather than left underfull, mirroring the teacher's
// quarter-page merge threshold but expressed in key count.
func minKeysForMerge(keysPerPage int) int {
	m := keysPerPage / 4
	if m < 1 {
		m = 1
	}
	return m
}

// treeNode is a page together with lazily-resolved in-memory children. A
// nil entry in kids means that child has not been loaded yet (or is
// unchanged since its last flush); resolve it through child(), which loads
// it via the childResolver (Map.readChild).
type treeNode struct {
	pg   *page.Page
	kids []*treeNode // node pages only, parallel to pg.Children
}

func newLeaf() *treeNode {
	return &treeNode{pg: &page.Page{Kind: page.KindLeaf}}
}

func (n *treeNode) isLeaf() bool { return n.pg.Kind == page.KindLeaf }

func (n *treeNode) nkeys() int { return len(n.pg.Keys) }

func (n *treeNode) totalCount() int64 { return n.pg.TotalCount() }

// cloneShallow copies the page's slices (so the original, possibly still
// referenced by an older RootReference, is never mutated) but reuses
// existing loaded child pointers where the copy doesn't touch them.
func (n *treeNode) cloneShallow() *treeNode {
	pg := &page.Page{Kind: n.pg.Kind}
	pg.Keys = append([][]byte(nil), n.pg.Keys...)
	if n.isLeaf() {
		pg.Values = append([][]byte(nil), n.pg.Values...)
	} else {
		pg.Children = append([]page.Position(nil), n.pg.Children...)
		pg.ChildCounts = append([]int64(nil), n.pg.ChildCounts...)
	}
	kids := append([]*treeNode(nil), n.kids...)
	return &treeNode{pg: pg, kids: kids}
}

// childResolver loads a child page by position; satisfied by Map.
type childResolver interface {
	readChild(pos page.Position) (*treeNode, error)
}

func (n *treeNode) child(i int, r childResolver) (*treeNode, error) {
	if n.kids[i] != nil {
		return n.kids[i], nil
	}
	c, err := r.readChild(n.pg.Children[i])
	if err != nil {
		return nil, err
	}
	n.kids[i] = c
	return c, nil
}

// findIndex returns the index of the largest key in keys that is <= key (-1
// when every key is greater), the same rule the teacher's nodeLookupLE
// applies, and whether that key is an exact match. For a leaf this is the
// entry's slot; for a node page childIndex turns it into a child index.
func findIndex(keys [][]byte, cmp Comparator, key []byte) (idx int, found bool) {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		c := cmp(keys[mid], key)
		if c == 0 {
			return mid, true
		} else if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1, false
}

// childIndex returns which child subtree of a node page covers key: each
// separator Keys[i] is the smallest key in Children[i+1], so the covering
// child is always one past findIndex's result, exact match or not.
func childIndex(keys [][]byte, cmp Comparator, key []byte) int {
	idx, _ := findIndex(keys, cmp, key)
	idx++
	if idx < 0 {
		idx = 0
	}
	return idx
}

func get(n *treeNode, r childResolver, cmp Comparator, key []byte) ([]byte, bool, error) {
	if n.isLeaf() {
		idx, found := findIndex(n.pg.Keys, cmp, key)
		if !found {
			return nil, false, nil
		}
		return n.pg.Values[idx], true, nil
	}
	idx := childIndex(n.pg.Keys, cmp, key)
	child, err := n.child(idx, r)
	if err != nil {
		return nil, false, err
	}
	return get(child, r, cmp, key)
}

// put inserts or overwrites key/val under n, returning the (possibly split)
// replacement subtree. A split returns two nodes and the separator key for
// the right one; the caller links both into its own child list.
func put(n *treeNode, r childResolver, cmp Comparator, key, val []byte, keysPerPage int) (*treeNode, []byte, *treeNode, error) {
	if n.isLeaf() {
		return putLeaf(n, cmp, key, val, keysPerPage)
	}

	idx := childIndex(n.pg.Keys, cmp, key)
	child, err := n.child(idx, r)
	if err != nil {
		return nil, nil, nil, err
	}

	newChild, sepKey, rightChild, err := put(child, r, cmp, key, val, keysPerPage)
	if err != nil {
		return nil, nil, nil, err
	}

	replaced := n.cloneShallow()
	replaced.kids[idx] = newChild
	replaced.pg.Children[idx] = page.Unwritten
	replaced.pg.ChildCounts[idx] = newChild.totalCount()

	if rightChild != nil {
		insertSeparator(replaced, idx+1, sepKey, rightChild)
	}

	return splitNodeIfNeeded(replaced, keysPerPage)
}

func putLeaf(n *treeNode, cmp Comparator, key, val []byte, keysPerPage int) (*treeNode, []byte, *treeNode, error) {
	idx, exact := findIndex(n.pg.Keys, cmp, key)
	replaced := n.cloneShallow()

	if exact {
		replaced.pg.Values[idx] = val
	} else {
		at := idx + 1
		replaced.pg.Keys = insertAt(replaced.pg.Keys, at, key)
		replaced.pg.Values = insertAtBytes(replaced.pg.Values, at, val)
	}

	return splitLeafIfNeeded(replaced, keysPerPage)
}

func insertAt(s [][]byte, at int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[at+1:], s[at:])
	s[at] = v
	return s
}

func insertAtBytes(s [][]byte, at int, v []byte) [][]byte {
	return insertAt(s, at, v)
}

// insertSeparator inserts a new child at child-index at (with its
// separator key immediately preceding it in n.pg.Keys).
func insertSeparator(n *treeNode, at int, sepKey []byte, child *treeNode) {
	n.pg.Keys = insertAt(n.pg.Keys, at-1, sepKey)
	n.pg.Children = append(n.pg.Children, page.Unwritten)
	copy(n.pg.Children[at+1:], n.pg.Children[at:])
	n.pg.Children[at] = page.Unwritten

	n.pg.ChildCounts = append(n.pg.ChildCounts, 0)
	copy(n.pg.ChildCounts[at+1:], n.pg.ChildCounts[at:])
	n.pg.ChildCounts[at] = child.totalCount()

	n.kids = append(n.kids, nil)
	copy(n.kids[at+1:], n.kids[at:])
	n.kids[at] = child
}

func splitLeafIfNeeded(n *treeNode, keysPerPage int) (*treeNode, []byte, *treeNode, error) {
	if len(n.pg.Keys) <= keysPerPage {
		return n, nil, nil, nil
	}
	mid := len(n.pg.Keys) / 2

	left := &treeNode{pg: &page.Page{
		Kind:   page.KindLeaf,
		Keys:   append([][]byte(nil), n.pg.Keys[:mid]...),
		Values: append([][]byte(nil), n.pg.Values[:mid]...),
	}}
	right := &treeNode{pg: &page.Page{
		Kind:   page.KindLeaf,
		Keys:   append([][]byte(nil), n.pg.Keys[mid:]...),
		Values: append([][]byte(nil), n.pg.Values[mid:]...),
	}}
	return left, right.pg.Keys[0], right, nil
}

func splitNodeIfNeeded(n *treeNode, keysPerPage int) (*treeNode, []byte, *treeNode, error) {
	if len(n.pg.Keys) <= keysPerPage {
		return n, nil, nil, nil
	}
	// len(Keys) separators, len(Keys)+1 children; split children roughly in half.
	nchild := len(n.pg.Children)
	mid := nchild / 2

	left := &treeNode{pg: &page.Page{
		Kind:        page.KindNode,
		Keys:        append([][]byte(nil), n.pg.Keys[:mid-1]...),
		Children:    append([]page.Position(nil), n.pg.Children[:mid]...),
		ChildCounts: append([]int64(nil), n.pg.ChildCounts[:mid]...),
	}, kids: append([]*treeNode(nil), n.kids[:mid]...)}

	right := &treeNode{pg: &page.Page{
		Kind:        page.KindNode,
		Keys:        append([][]byte(nil), n.pg.Keys[mid:]...),
		Children:    append([]page.Position(nil), n.pg.Children[mid:]...),
		ChildCounts: append([]int64(nil), n.pg.ChildCounts[mid:]...),
	}, kids: append([]*treeNode(nil), n.kids[mid:]...)}

	sepKey := n.pg.Keys[mid-1]
	return left, sepKey, right, nil
}

// deleteKey removes key from n, returning the replacement subtree and
// whether the key was found. A child left underfull by the removal is
// folded into a sibling via mergeWithSibling before returning.
func deleteKey(n *treeNode, r childResolver, cmp Comparator, key []byte, keysPerPage int) (*treeNode, bool, error) {
	if n.isLeaf() {
		idx, found := findIndex(n.pg.Keys, cmp, key)
		if !found {
			return n, false, nil
		}
		replaced := n.cloneShallow()
		replaced.pg.Keys = append(replaced.pg.Keys[:idx], replaced.pg.Keys[idx+1:]...)
		replaced.pg.Values = append(replaced.pg.Values[:idx], replaced.pg.Values[idx+1:]...)
		return replaced, true, nil
	}

	idx := childIndex(n.pg.Keys, cmp, key)
	child, err := n.child(idx, r)
	if err != nil {
		return nil, false, err
	}

	newChild, found, err := deleteKey(child, r, cmp, key, keysPerPage)
	if err != nil || !found {
		return n, found, err
	}

	replaced := n.cloneShallow()
	replaced.kids[idx] = newChild
	replaced.pg.Children[idx] = page.Unwritten
	replaced.pg.ChildCounts[idx] = newChild.totalCount()

	mergeWithSibling(replaced, r, idx, keysPerPage)

	return replaced, true, nil
}

// mergeWithSibling folds an underfull child at idx into an adjacent sibling
// when the combination still fits in one page, mirroring shouldMerge/
// nodeMerge in the teacher, generalized from byte-size to key-count.
func mergeWithSibling(n *treeNode, r childResolver, idx, keysPerPage int) {
	child := n.kids[idx]
	if child.nkeys() >= minKeysForMerge(keysPerPage) {
		return
	}

	if idx > 0 {
		left, err := n.child(idx-1, r)
		if err == nil && left.isLeaf() == child.isLeaf() && left.nkeys()+child.nkeys() <= keysPerPage {
			merged := left.cloneShallow()
			if !merged.isLeaf() {
				merged.pg.Keys = append(merged.pg.Keys, n.pg.Keys[idx-1])
			}
			mergeInto(merged, child)
			n.kids[idx-1] = merged
			n.pg.Children[idx-1] = page.Unwritten
			n.pg.ChildCounts[idx-1] = merged.totalCount()
			removeChildAt(n, idx)
			return
		}
	}
	if idx+1 < len(n.kids) {
		right, err := n.child(idx+1, r)
		if err == nil && right.isLeaf() == child.isLeaf() && right.nkeys()+child.nkeys() <= keysPerPage {
			if !child.isLeaf() {
				child.pg.Keys = append(child.pg.Keys, n.pg.Keys[idx])
			}
			mergeInto(child, right)
			removeChildAt(n, idx+1)
			n.pg.ChildCounts[idx] = child.totalCount()
			return
		}
	}
}

func mergeInto(dst, src *treeNode) {
	if dst.isLeaf() {
		dst.pg.Keys = append(dst.pg.Keys, src.pg.Keys...)
		dst.pg.Values = append(dst.pg.Values, src.pg.Values...)
		return
	}
	dst.pg.Keys = append(dst.pg.Keys, src.pg.Keys...)
	dst.pg.Children = append(dst.pg.Children, src.pg.Children...)
	dst.pg.ChildCounts = append(dst.pg.ChildCounts, src.pg.ChildCounts...)
	dst.kids = append(dst.kids, src.kids...)
}

func removeChildAt(n *treeNode, at int) {
	if at > 0 {
		n.pg.Keys = append(n.pg.Keys[:at-1], n.pg.Keys[at:]...)
	} else if len(n.pg.Keys) > 0 {
		n.pg.Keys = n.pg.Keys[1:]
	}
	n.pg.Children = append(n.pg.Children[:at], n.pg.Children[at+1:]...)
	n.pg.ChildCounts = append(n.pg.ChildCounts[:at], n.pg.ChildCounts[at+1:]...)
	n.kids = append(n.kids[:at], n.kids[at+1:]...)
}

// rootAfterDelete collapses a single-child root node to its child, the same
// level-removal shortcut the teacher's Delete applies.
func rootAfterDelete(n *treeNode, r childResolver) (*treeNode, error) {
	for !n.isLeaf() && len(n.pg.Children) == 1 {
		c, err := n.child(0, r)
		if err != nil {
			return nil, fmt.Errorf("mvmap: collapse root: %w", err)
		}
		n = c
	}
	return n, nil
}
