// ABOUTME: Cursor iterates a snapshot of the map taken at creation time
// ABOUTME: Holds a path of (node, index) frames down to the current leaf entry, like the teacher's BIter

package mvmap

import "fmt"

type frame struct {
	n   *treeNode
	idx int
}

// Cursor walks entries in key order over a fixed RootReference snapshot:
// concurrent Put/Remove calls never change what an already-open Cursor
// sees, since copy-on-write never mutates a published tree in place.
type Cursor struct {
	m     *Map
	path  []frame
	valid bool
}

// Cursor opens a cursor positioned at the first key >= from (or the first
// key overall if from is nil), reading against the map's current root.
func (m *Map) Cursor(from []byte) (*Cursor, error) {
	rr, err := m.currentRootForRead()
	if err != nil {
		return nil, err
	}
	c := &Cursor{m: m}
	if err := c.seek(rr.root, from); err != nil {
		return nil, err
	}
	return c, nil
}


func (c *Cursor) seek(root *treeNode, from []byte) error {
	n := root
	for {
		if n.isLeaf() {
			idx := 0
			if from != nil {
				lo, hi := 0, len(n.pg.Keys)
				for lo < hi {
					mid := (lo + hi) / 2
					if c.m.cmp(n.pg.Keys[mid], from) < 0 {
						lo = mid + 1
					} else {
						hi = mid
					}
				}
				idx = lo
			}
			c.path = append(c.path, frame{n: n, idx: idx})
			c.valid = idx < len(n.pg.Keys)
			if !c.valid {
				c.advancePastLeaf()
			}
			return nil
		}

		idx := 0
		if from != nil {
			idx = childIndex(n.pg.Keys, c.m.cmp, from)
		}
		c.path = append(c.path, frame{n: n, idx: idx})
		child, err := n.child(idx, c.m)
		if err != nil {
			return fmt.Errorf("mvmap: cursor descend: %w", err)
		}
		n = child
	}
}

// advancePastLeaf walks back up the path to find the next leaf entry once
// the current leaf frame has been exhausted.
func (c *Cursor) advancePastLeaf() {
	for len(c.path) > 0 {
		top := &c.path[len(c.path)-1]
		if top.n.isLeaf() {
			c.path = c.path[:len(c.path)-1]
			continue
		}
		top.idx++
		if top.idx < len(top.n.pg.Children) {
			child, err := top.n.child(top.idx, c.m)
			if err != nil {
				c.valid = false
				return
			}
			c.path = append(c.path, frame{n: child, idx: 0})
			for !child.isLeaf() {
				child, err = child.child(0, c.m)
				if err != nil {
					c.valid = false
					return
				}
				c.path = append(c.path, frame{n: child, idx: 0})
			}
			if len(child.pg.Keys) > 0 {
				c.valid = true
				return
			}
			continue
		}
		c.path = c.path[:len(c.path)-1]
	}
	c.valid = false
}

// Valid reports whether the cursor is positioned at an entry.
func (c *Cursor) Valid() bool { return c.valid }

// Key returns the current entry's key. Only valid when Valid() is true.
func (c *Cursor) Key() []byte {
	leaf := c.path[len(c.path)-1]
	return leaf.n.pg.Keys[leaf.idx]
}

// Value returns the current entry's value. Only valid when Valid() is true.
func (c *Cursor) Value() []byte {
	leaf := c.path[len(c.path)-1]
	return leaf.n.pg.Values[leaf.idx]
}

// Next advances the cursor to the following entry, returning false once
// iteration is exhausted.
func (c *Cursor) Next() bool {
	if !c.valid {
		return false
	}
	leaf := &c.path[len(c.path)-1]
	leaf.idx++
	if leaf.idx < len(leaf.n.pg.Keys) {
		return true
	}
	c.advancePastLeaf()
	return c.valid
}

// Scan calls fn for every entry from the cursor's current position forward,
// stopping early if fn returns false.
func (c *Cursor) Scan(fn func(key, val []byte) bool) {
	for c.Valid() {
		if !fn(c.Key(), c.Value()) {
			return
		}
		c.Next()
	}
}

// FirstKey returns the smallest key in the map, if any.
func (m *Map) FirstKey() ([]byte, bool, error) {
	c, err := m.Cursor(nil)
	if err != nil {
		return nil, false, err
	}
	if !c.Valid() {
		return nil, false, nil
	}
	return c.Key(), true, nil
}

// LastKey returns the largest key in the map, if any.
func (m *Map) LastKey() ([]byte, bool, error) {
	rr, err := m.currentRootForRead()
	if err != nil {
		return nil, false, err
	}
	n := rr.root
	for !n.isLeaf() {
		child, err := n.child(len(n.pg.Children)-1, m)
		if err != nil {
			return nil, false, err
		}
		n = child
	}
	if len(n.pg.Keys) == 0 {
		return nil, false, nil
	}
	return n.pg.Keys[len(n.pg.Keys)-1], true, nil
}

// CeilingKey returns the smallest key >= key.
func (m *Map) CeilingKey(key []byte) ([]byte, bool, error) {
	c, err := m.Cursor(key)
	if err != nil {
		return nil, false, err
	}
	if !c.Valid() {
		return nil, false, nil
	}
	return c.Key(), true, nil
}

// HigherKey returns the smallest key strictly greater than key.
func (m *Map) HigherKey(key []byte) ([]byte, bool, error) {
	c, err := m.Cursor(key)
	if err != nil {
		return nil, false, err
	}
	for c.Valid() {
		if m.cmp(c.Key(), key) > 0 {
			return c.Key(), true, nil
		}
		c.Next()
	}
	return nil, false, nil
}

// rightmostKey returns the largest key under n, descending via the last
// child at each level like LastKey does.
func rightmostKey(n *treeNode, r childResolver) ([]byte, bool, error) {
	for !n.isLeaf() {
		child, err := n.child(len(n.pg.Children)-1, r)
		if err != nil {
			return nil, false, err
		}
		n = child
	}
	if len(n.pg.Keys) == 0 {
		return nil, false, nil
	}
	return n.pg.Keys[len(n.pg.Keys)-1], true, nil
}

// floorOrLower finds the largest key <= key (strict false) or < key (strict
// true) under n. It descends into the subtree that would contain key; if
// that subtree holds no qualifying key, the previous sibling's rightmost key
// is the answer, since the separator bounding that sibling is itself <= key.
func floorOrLower(n *treeNode, r childResolver, cmp Comparator, key []byte, strict bool) ([]byte, bool, error) {
	if n.isLeaf() {
		lo, hi := 0, len(n.pg.Keys)
		for lo < hi {
			mid := (lo + hi) / 2
			var tooFar bool
			if strict {
				tooFar = cmp(n.pg.Keys[mid], key) >= 0
			} else {
				tooFar = cmp(n.pg.Keys[mid], key) > 0
			}
			if tooFar {
				hi = mid
			} else {
				lo = mid + 1
			}
		}
		if lo == 0 {
			return nil, false, nil
		}
		return n.pg.Keys[lo-1], true, nil
	}

	idx := childIndex(n.pg.Keys, cmp, key)
	child, err := n.child(idx, r)
	if err != nil {
		return nil, false, err
	}
	if k, ok, err := floorOrLower(child, r, cmp, key, strict); err != nil {
		return nil, false, err
	} else if ok {
		return k, true, nil
	}
	if idx == 0 {
		return nil, false, nil
	}
	prev, err := n.child(idx-1, r)
	if err != nil {
		return nil, false, err
	}
	return rightmostKey(prev, r)
}

// FloorKey returns the largest key <= key, if any.
func (m *Map) FloorKey(key []byte) ([]byte, bool, error) {
	rr, err := m.currentRootForRead()
	if err != nil {
		return nil, false, err
	}
	return floorOrLower(rr.root, m, m.cmp, key, false)
}

// LowerKey returns the largest key strictly less than key, if any.
func (m *Map) LowerKey(key []byte) ([]byte, bool, error) {
	rr, err := m.currentRootForRead()
	if err != nil {
		return nil, false, err
	}
	return floorOrLower(rr.root, m, m.cmp, key, true)
}

// GetKeyIndex returns the 0-based rank of key: the same index GetKey would
// need to return it. It uses the subtree counts carried on node pages so
// this never visits every leaf.
func (m *Map) GetKeyIndex(key []byte) (int64, error) {
	rr, err := m.currentRootForRead()
	if err != nil {
		return 0, err
	}
	n := rr.root
	var rank int64
	for !n.isLeaf() {
		idx := childIndex(n.pg.Keys, m.cmp, key)
		for i := 0; i < idx; i++ {
			rank += n.pg.ChildCounts[i]
		}
		child, err := n.child(idx, m)
		if err != nil {
			return 0, err
		}
		n = child
	}
	idx, _ := findIndex(n.pg.Keys, m.cmp, key)
	return rank + int64(idx), nil
}

// GetKey returns the key at rank index (0-based) in key order, using
// subtree counts to descend directly to it.
func (m *Map) GetKey(index int64) ([]byte, bool, error) {
	rr, err := m.currentRootForRead()
	if err != nil {
		return nil, false, err
	}
	n := rr.root
	remaining := index
	for !n.isLeaf() {
		found := false
		for i, cnt := range n.pg.ChildCounts {
			if remaining < cnt {
				child, err := n.child(i, m)
				if err != nil {
					return nil, false, err
				}
				n = child
				found = true
				break
			}
			remaining -= cnt
		}
		if !found {
			return nil, false, nil
		}
	}
	if remaining < 0 || remaining >= int64(len(n.pg.Keys)) {
		return nil, false, nil
	}
	return n.pg.Keys[remaining], true, nil
}
