// ABOUTME: Persistent, copy-on-write B-tree map with CAS-published root references
// ABOUTME: Generalizes the teacher's single-writer BTree into the RootReference/DecisionMaker model

package mvmap

import (
	"bytes"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/arvindrathore/mvstore/pkg/page"
)

// Comparator orders keys the same way the map's on-disk B-tree does.
type Comparator func(a, b []byte) int

// DefaultComparator orders keys by byte value, the same order bytes.Compare
// gives bare []byte keys.
func DefaultComparator(a, b []byte) int { return bytes.Compare(a, b) }

// PageSource reads a previously-written page's serialized bytes by
// position; satisfied by *pagefile.Store.
type PageSource interface {
	ReadPage(pos page.Position) ([]byte, error)
}

// RootReference is one published version of a Map: the tree it pointed to,
// the store version it was published at, a link to the reference it
// replaced (the chain OpenVersion/Rollback walk), and the CAS contention
// bookkeeping the locked-update back-pressure ladder and append-mode fast
// path need to carry across a publish.
type RootReference struct {
	root     *treeNode
	Version  int64
	Previous *RootReference

	// successCount/attemptCount track the locked-update ladder: attemptCount
	// is the number of consecutive failed CAS attempts that led to this
	// reference being a locked one, successCount the number of locked
	// updates this map has ever completed. Neither affects tree contents.
	successCount int
	attemptCount int

	// lockedForUpdate marks this reference as a flag-set placeholder a
	// writer published while it holds exclusive ownership of the next
	// update; other writers observing it back off instead of racing the
	// same CAS.
	lockedForUpdate bool

	// AppendMode flags a single-writer map using the append fast path.
	// appendKeys/appendValues/appendCount are its buffered, not-yet-flushed
	// tail entries; they hold at most KeysPerPage entries before a flush is
	// forced.
	AppendMode   bool
	appendKeys   [][]byte
	appendValues [][]byte
	appendCount  int
}

// locked-update back-pressure ladder constants (spec: k=2 lock, +4 yield,
// +24 sleep).
const (
	lockAfterAttempts  = 2
	yieldAfterAttempts = 4
	sleepAfterAttempts = 24
)

// Map is a single named B-tree sharing its owning store's chunk file with
// every other open map. All mutation goes through Operate's CAS loop;
// Get/cursors read a RootReference snapshot without ever blocking a writer.
type Map struct {
	Name        string
	ID          uint32
	KeysPerPage int
	cmp         Comparator
	source      PageSource
	compress    int

	rootRef atomic.Pointer[RootReference]
}

// New creates an empty map. id is the map's entry in the owning store's
// layout map; name is user-facing only.
func New(name string, id uint32, source PageSource, cmp Comparator, keysPerPage, compress int) *Map {
	if cmp == nil {
		cmp = DefaultComparator
	}
	if keysPerPage <= 0 {
		keysPerPage = DefaultKeysPerPage
	}
	m := &Map{Name: name, ID: id, KeysPerPage: keysPerPage, cmp: cmp, source: source, compress: compress}
	m.rootRef.Store(&RootReference{root: newLeaf(), Version: 0})
	return m
}

// CurrentRoot returns the currently published RootReference. Safe to call
// concurrently with any number of writers.
func (m *Map) CurrentRoot() *RootReference {
	return m.rootRef.Load()
}

// Compress returns the page compression level this map serializes with.
func (m *Map) Compress() int {
	return m.compress
}

// RestoreRoot force-publishes rr as the map's current root reference,
// bypassing the CAS loop. Used by the store layer for Rollback, where the
// replacement root is already known to be consistent rather than derived
// from the currently published one.
func (m *Map) RestoreRoot(rr *RootReference) {
	m.rootRef.Store(rr)
}

// readChild implements childResolver by deserializing through the page
// source, matching the teacher's pageRead-through-mmap pattern but behind
// the pagefile.Store abstraction.
func (m *Map) readChild(pos page.Position) (*treeNode, error) {
	raw, err := m.source.ReadPage(pos)
	if err != nil {
		return nil, fmt.Errorf("mvmap: read child at %v: %w", pos, err)
	}
	pg, err := page.Deserialize(raw, pos.ChunkID(), pos.Offset())
	if err != nil {
		return nil, fmt.Errorf("mvmap: deserialize child at %v: %w", pos, err)
	}
	pg.Pos = pos
	n := &treeNode{pg: pg}
	if pg.Kind == page.KindNode {
		n.kids = make([]*treeNode, len(pg.Children))
	}
	return n, nil
}

// Get returns the value for key from the currently published root.
func (m *Map) Get(key []byte) ([]byte, bool, error) {
	rr, err := m.currentRootForRead()
	if err != nil {
		return nil, false, err
	}
	return get(rr.root, m, m.cmp, key)
}

// ContainsKey reports whether key is present.
func (m *Map) ContainsKey(key []byte) (bool, error) {
	_, ok, err := m.Get(key)
	return ok, err
}

// Size returns the number of entries in the currently published root.
func (m *Map) Size() int64 {
	rr, err := m.currentRootForRead()
	if err != nil {
		return m.rootRef.Load().root.totalCount()
	}
	return rr.root.totalCount()
}

// currentRootForRead returns the reference to read against, flushing a
// pending append buffer first: readers only see append-mode entries once
// this function forces that flush on their behalf.
func (m *Map) currentRootForRead() (*RootReference, error) {
	rr := m.rootRef.Load()
	if len(rr.appendKeys) == 0 {
		return rr, nil
	}
	return m.flushAppend()
}

// EnableAppendMode flags m for the single-writer append fast path. Not
// thread-safe against other writers, matching Append itself.
func (m *Map) EnableAppendMode() {
	rr := m.rootRef.Load()
	newRR := *rr
	newRR.AppendMode = true
	m.rootRef.Store(&newRR)
}

// Append writes key=val into the append buffer, assuming key sorts after
// every key already in the map. It CASes in a new reference with the
// buffered entry added and appendCount incremented, then flushes once the
// buffer reaches KeysPerPage entries. Only safe with a single writer.
func (m *Map) Append(key, val []byte) error {
	for {
		rr := m.rootRef.Load()
		if !rr.AppendMode {
			return fmt.Errorf("mvmap: Append called on a map without append mode enabled")
		}

		newKeys := append(append([][]byte(nil), rr.appendKeys...), key)
		newValues := append(append([][]byte(nil), rr.appendValues...), val)
		newRR := &RootReference{
			root:         rr.root,
			Version:      rr.Version,
			Previous:     rr.Previous,
			AppendMode:   true,
			appendKeys:   newKeys,
			appendValues: newValues,
			appendCount:  rr.appendCount + 1,
		}
		if !m.rootRef.CompareAndSwap(rr, newRR) {
			continue
		}
		if len(newKeys) >= m.KeysPerPage {
			_, err := m.flushAppend()
			return err
		}
		return nil
	}
}

// flushAppend drains the currently published append buffer into the tree
// via the ordinary cursor-and-split put algorithm (each buffered entry sorts
// after everything already in the tree, so every put lands in the rightmost
// leaf), then publishes a reference with an empty buffer. A no-op if
// nothing is buffered.
func (m *Map) flushAppend() (*RootReference, error) {
	for {
		rr := m.rootRef.Load()
		if len(rr.appendKeys) == 0 {
			return rr, nil
		}

		root := rr.root
		for i, key := range rr.appendKeys {
			left, sepKey, right, err := put(root, m, m.cmp, key, rr.appendValues[i], m.KeysPerPage)
			if err != nil {
				return nil, err
			}
			if right == nil {
				root = left
				continue
			}
			root = &treeNode{
				pg:   &page.Page{Kind: page.KindNode},
				kids: []*treeNode{left, right},
			}
			root.pg.Children = []page.Position{page.Unwritten, page.Unwritten}
			root.pg.ChildCounts = []int64{left.totalCount(), right.totalCount()}
			root.pg.Keys = [][]byte{sepKey}
		}

		newRR := &RootReference{
			root:       root,
			Version:    rr.Version,
			Previous:   rr.Previous,
			AppendMode: rr.AppendMode,
		}
		if m.rootRef.CompareAndSwap(rr, newRR) {
			return newRR, nil
		}
	}
}

// backoff implements the locked-update escalation ladder: tight retries
// while under lockAfterAttempts, a runtime.Gosched yield once locked-update
// contention sets in, then short contention-scaled sleeps once that drags
// on, bounded so a genuinely stuck writer still makes progress instead of
// spinning forever.
func backoff(attempt int) {
	switch {
	case attempt < lockAfterAttempts+yieldAfterAttempts:
		// still within the locked-update phase; spin, the locker is likely
		// about to publish.
	case attempt < lockAfterAttempts+yieldAfterAttempts+sleepAfterAttempts:
		runtime.Gosched()
	default:
		delay := attempt - (lockAfterAttempts + yieldAfterAttempts + sleepAfterAttempts) + 1
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}
}

// Operate applies dm to key via the CAS update loop: read the published
// root, ask dm for a verdict against the current value, build the replaced
// tree for DecisionPut/DecisionRemove, and attempt to publish it. A losing
// CAS calls dm.Reset and retries against the new current root.
func (m *Map) Operate(key []byte, dm DecisionMaker) (oldValue []byte, existed bool, err error) {
	for attempt := 0; ; attempt++ {
		rr := m.rootRef.Load()

		if rr.lockedForUpdate {
			backoff(attempt)
			continue
		}

		existingValue, exists, err := get(rr.root, m, m.cmp, key)
		if err != nil {
			return nil, false, err
		}

		decision := dm.Decide(existingValue, exists)
		if decision == DecisionRepeat {
			continue
		}
		if decision == DecisionAbort {
			return existingValue, exists, nil
		}

		var newRoot *treeNode
		if decision == DecisionRemove {
			replaced, found, err := deleteKey(rr.root, m, m.cmp, key, m.KeysPerPage)
			if err != nil {
				return nil, false, err
			}
			if !found {
				return existingValue, exists, nil
			}
			newRoot, err = rootAfterDelete(replaced, m)
			if err != nil {
				return nil, false, err
			}
		} else {
			val := dm.SelectValue(existingValue)
			left, sepKey, right, err := put(rr.root, m, m.cmp, key, val, m.KeysPerPage)
			if err != nil {
				return nil, false, err
			}
			if right == nil {
				newRoot = left
			} else {
				newRoot = &treeNode{
					pg:   &page.Page{Kind: page.KindNode},
					kids: []*treeNode{left, right},
				}
				newRoot.pg.Children = []page.Position{page.Unwritten, page.Unwritten}
				newRoot.pg.ChildCounts = []int64{left.totalCount(), right.totalCount()}
				newRoot.pg.Keys = [][]byte{sepKey}
			}
		}

		if attempt < lockAfterAttempts {
			newRR := &RootReference{
				root:         newRoot,
				Version:      rr.Version,
				Previous:     rr.Previous,
				AppendMode:   rr.AppendMode,
				successCount: rr.successCount,
			}
			if m.rootRef.CompareAndSwap(rr, newRR) {
				return existingValue, exists, nil
			}
			dm.Reset()
			continue
		}

		// k failed attempts: escalate to a locked update. Claim exclusive
		// ownership by CASing a flag-set copy of rr, so other writers
		// observe lockedForUpdate and back off instead of racing the same
		// CAS we are about to win or lose.
		locked := &RootReference{
			root:            rr.root,
			Version:         rr.Version,
			Previous:        rr.Previous,
			AppendMode:      rr.AppendMode,
			successCount:    rr.successCount,
			attemptCount:    attempt,
			lockedForUpdate: true,
		}
		if !m.rootRef.CompareAndSwap(rr, locked) {
			dm.Reset()
			backoff(attempt)
			continue
		}

		// We hold the lock: rr's tree hasn't changed since we computed
		// newRoot against it, so it is still valid to publish. Unlock by
		// publishing a fresh, cleared reference.
		final := &RootReference{
			root:         newRoot,
			Version:      locked.Version,
			Previous:     locked.Previous,
			AppendMode:   locked.AppendMode,
			successCount: locked.successCount + 1,
		}
		m.rootRef.Store(final)
		return existingValue, exists, nil
	}
}

// Put writes key=val unconditionally and returns the previous value, if any.
func (m *Map) Put(key, val []byte) (oldValue []byte, existed bool, err error) {
	return m.Operate(key, NewPut(val))
}

// PutIfAbsent writes key=val only if key is not already present.
func (m *Map) PutIfAbsent(key, val []byte) (existed bool, err error) {
	_, existed, err = m.Operate(key, NewPutIfAbsent(val))
	return existed, err
}

// Remove deletes key, returning its prior value if it existed.
func (m *Map) Remove(key []byte) (oldValue []byte, existed bool, err error) {
	return m.Operate(key, NewRemove())
}

// RemoveIfEquals deletes key only if its current value equals expected.
func (m *Map) RemoveIfEquals(key, expected []byte) (removed bool, err error) {
	old, existed, err := m.Operate(key, NewRemoveIfEquals(expected, bytes.Equal))
	return existed && bytes.Equal(old, expected), err
}

// Replace writes newValue under key only if its current value equals oldValue.
func (m *Map) Replace(key, oldValue, newValue []byte) (replaced bool, err error) {
	old, existed, err := m.Operate(key, NewReplace(oldValue, newValue, bytes.Equal))
	return existed && bytes.Equal(old, oldValue), err
}

// Clear empties the map, publishing a fresh empty root. Unlike Operate this
// does not thread through the decision-maker loop since it has no
// meaningful per-key verdict; it is still a single atomic publish, so
// concurrent readers never see a partially-cleared tree.
func (m *Map) Clear() {
	for {
		rr := m.rootRef.Load()
		newRR := &RootReference{root: newLeaf(), Version: rr.Version, Previous: rr.Previous, AppendMode: rr.AppendMode}
		if m.rootRef.CompareAndSwap(rr, newRR) {
			return
		}
	}
}
