package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/indexer"
)

// Options configures trees created by a Registry.
type Options struct {
	// Strict makes a duplicate Insert fail with core.ErrAlreadyExists and a
	// Delete of an absent key fail with core.ErrIllegalState. Otherwise both
	// are logged no-ops.
	Strict bool
	Logger *slog.Logger
}

// Tree is an AVL balanced, size augmented binary search tree whose nodes
// live in a KVStore. Structural operations on one Tree are serialized by
// its mutex; obtain trees from a Registry so that every user of the same
// logical tree shares that mutex.
type Tree struct {
	store  core.KVStore
	layout layout
	seq    *indexer.Sequence
	strict bool
	logger *slog.Logger

	mu sync.Mutex
}

func newTree(store core.KVStore, l layout, opts Options) *Tree {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tree{
		store:  store,
		layout: l,
		seq:    indexer.NewSequence(store, l.seq),
		strict: opts.Strict,
		logger: logger.With("component", "OrderStatisticIndex", "tree", l.prefix),
	}
}

// Name returns the storage prefix of the tree.
func (t *Tree) Name() string {
	return t.layout.prefix
}

// Insert adds key. It reports false if the exact key is already present.
func (t *Tree) Insert(ctx context.Context, key Key) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.rootHandle(ctx)
	if err != nil {
		return false, err
	}
	newRoot, inserted, err := t.insert(ctx, root, key)
	if err != nil {
		return false, fmt.Errorf("insert %s into %s: %w", key, t.layout.prefix, err)
	}
	if !inserted {
		if t.strict {
			return false, fmt.Errorf("insert %s into %s: %w", key, t.layout.prefix, core.ErrAlreadyExists)
		}
		t.logger.Warn("Duplicate key insert ignored", "key", key.String())
		return false, nil
	}
	if newRoot != root {
		if err := t.setRoot(ctx, newRoot); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Delete removes key. It reports false if the key was not present.
func (t *Tree) Delete(ctx context.Context, key Key) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.rootHandle(ctx)
	if err != nil {
		return false, err
	}
	newRoot, removed, err := t.remove(ctx, root, key)
	if err != nil {
		return false, fmt.Errorf("delete %s from %s: %w", key, t.layout.prefix, err)
	}
	if !removed {
		if t.strict {
			return false, fmt.Errorf("delete %s from %s: %w", key, t.layout.prefix, core.ErrIllegalState)
		}
		t.logger.Warn("Delete of absent key ignored", "key", key.String())
		return false, nil
	}
	if newRoot != root {
		if err := t.setRoot(ctx, newRoot); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Contains reports whether the exact key (metric and id) is present.
func (t *Tree) Contains(ctx context.Context, key Key) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.rootHandle(ctx)
	if err != nil {
		return false, err
	}
	for h != nilHandle {
		n, err := t.load(ctx, h)
		if err != nil {
			return false, err
		}
		c := Compare(key, n.key)
		switch {
		case c == 0:
			return true, nil
		case c < 0:
			h = n.left
		default:
			h = n.right
		}
	}
	return false, nil
}

// Size returns the number of keys in the tree.
func (t *Tree) Size(ctx context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sizeLocked(ctx)
}

// Select returns the key with the given 0-based ascending rank.
func (t *Tree) Select(ctx context.Context, rank int64) (Key, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selectLocked(ctx, rank)
}

// Top returns the k highest keys in descending order, or all keys when the
// tree holds fewer than k. A k of zero or less yields no keys.
func (t *Tree) Top(ctx context.Context, k int) ([]Key, error) {
	if k <= 0 {
		return []Key{}, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	size, err := t.sizeLocked(ctx)
	if err != nil {
		return nil, err
	}
	lowest := size - int64(k)
	if lowest < 0 {
		lowest = 0
	}
	out := make([]Key, 0, size-lowest)
	for rank := size - 1; rank >= lowest; rank-- {
		key, err := t.selectLocked(ctx, rank)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, nil
}

// Ascend calls fn for every key in ascending order until fn returns false.
// fn must not call back into the same tree.
func (t *Tree) Ascend(ctx context.Context, fn func(Key) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.rootHandle(ctx)
	if err != nil {
		return err
	}
	// The stack holds handles only; each node is re-read when visited.
	var stack []int64
	h := root
	for h != nilHandle || len(stack) > 0 {
		for h != nilHandle {
			stack = append(stack, h)
			n, err := t.load(ctx, h)
			if err != nil {
				return err
			}
			h = n.left
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := t.load(ctx, top)
		if err != nil {
			return err
		}
		if !fn(n.key) {
			return nil
		}
		h = n.right
	}
	return nil
}

// Keys returns every key in ascending order.
func (t *Tree) Keys(ctx context.Context) ([]Key, error) {
	var out []Key
	err := t.Ascend(ctx, func(k Key) bool {
		out = append(out, k)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Check verifies ordering, AVL balance and the stored heights and sizes.
func (t *Tree) Check(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.rootHandle(ctx)
	if err != nil {
		return err
	}
	_, _, err = t.check(ctx, root, nil, nil)
	return err
}

func (t *Tree) check(ctx context.Context, h int64, lo, hi *Key) (int32, int64, error) {
	if h == nilHandle {
		return 0, 0, nil
	}
	n, err := t.load(ctx, h)
	if err != nil {
		return 0, 0, err
	}
	if lo != nil && Compare(n.key, *lo) <= 0 {
		return 0, 0, fmt.Errorf("%w: node %d key %s not above %s", core.ErrIllegalState, h, n.key, *lo)
	}
	if hi != nil && Compare(n.key, *hi) >= 0 {
		return 0, 0, fmt.Errorf("%w: node %d key %s not below %s", core.ErrIllegalState, h, n.key, *hi)
	}
	lh, ls, err := t.check(ctx, n.left, lo, &n.key)
	if err != nil {
		return 0, 0, err
	}
	rh, rs, err := t.check(ctx, n.right, &n.key, hi)
	if err != nil {
		return 0, 0, err
	}
	if d := lh - rh; d > 1 || d < -1 {
		return 0, 0, fmt.Errorf("%w: node %d unbalanced (%d vs %d)", core.ErrIllegalState, h, lh, rh)
	}
	height := 1 + max(lh, rh)
	size := 1 + ls + rs
	if n.height != height || n.size != size {
		return 0, 0, fmt.Errorf("%w: node %d stores height %d size %d, computed %d and %d",
			core.ErrIllegalState, h, n.height, n.size, height, size)
	}
	return height, size, nil
}

func (t *Tree) sizeLocked(ctx context.Context) (int64, error) {
	root, err := t.rootHandle(ctx)
	if err != nil {
		return 0, err
	}
	_, size, err := t.stats(ctx, root)
	return size, err
}

func (t *Tree) selectLocked(ctx context.Context, rank int64) (Key, error) {
	size, err := t.sizeLocked(ctx)
	if err != nil {
		return Key{}, err
	}
	if rank < 0 || rank >= size {
		return Key{}, fmt.Errorf("%w: rank %d, size %d in %s", core.ErrRankOutOfRange, rank, size, t.layout.prefix)
	}
	h, err := t.rootHandle(ctx)
	if err != nil {
		return Key{}, err
	}
	for {
		n, err := t.load(ctx, h)
		if err != nil {
			return Key{}, err
		}
		_, leftSize, err := t.stats(ctx, n.left)
		if err != nil {
			return Key{}, err
		}
		switch {
		case rank < leftSize:
			h = n.left
		case rank == leftSize:
			return n.key, nil
		default:
			rank -= leftSize + 1
			h = n.right
		}
		if h == nilHandle {
			return Key{}, fmt.Errorf("%w: subtree sizes of %s disagree with its shape", core.ErrIllegalState, t.layout.prefix)
		}
	}
}

// insert adds key below h and returns the handle of the new subtree root.
func (t *Tree) insert(ctx context.Context, h int64, key Key) (int64, bool, error) {
	if h == nilHandle {
		handle, err := t.seq.Next(ctx)
		if err != nil {
			return nilHandle, false, err
		}
		n := &node{handle: handle, key: key, height: 1, left: nilHandle, right: nilHandle, size: 1}
		if err := t.save(ctx, n); err != nil {
			return nilHandle, false, err
		}
		return handle, true, nil
	}

	n, err := t.load(ctx, h)
	if err != nil {
		return h, false, err
	}
	c := Compare(key, n.key)
	if c == 0 {
		return h, false, nil
	}
	if c < 0 {
		child, inserted, err := t.insert(ctx, n.left, key)
		if err != nil || !inserted {
			return h, false, err
		}
		n.left = child
	} else {
		child, inserted, err := t.insert(ctx, n.right, key)
		if err != nil || !inserted {
			return h, false, err
		}
		n.right = child
	}
	newRoot, err := t.rebalance(ctx, n)
	if err != nil {
		return h, false, err
	}
	return newRoot, true, nil
}

// remove deletes key below h and returns the handle of the new subtree root.
func (t *Tree) remove(ctx context.Context, h int64, key Key) (int64, bool, error) {
	if h == nilHandle {
		return h, false, nil
	}
	n, err := t.load(ctx, h)
	if err != nil {
		return h, false, err
	}

	c := Compare(key, n.key)
	switch {
	case c < 0:
		child, removed, err := t.remove(ctx, n.left, key)
		if err != nil || !removed {
			return h, false, err
		}
		n.left = child
	case c > 0:
		child, removed, err := t.remove(ctx, n.right, key)
		if err != nil || !removed {
			return h, false, err
		}
		n.right = child
	default:
		if n.left == nilHandle || n.right == nilHandle {
			replacement := n.left
			if replacement == nilHandle {
				replacement = n.right
			}
			if err := t.free(ctx, n.handle); err != nil {
				return h, false, err
			}
			return replacement, true, nil
		}
		// Two children: take over the in-order successor's key and remove
		// the successor from the right subtree.
		successor, err := t.minKey(ctx, n.right)
		if err != nil {
			return h, false, err
		}
		child, removed, err := t.remove(ctx, n.right, successor)
		if err != nil {
			return h, false, err
		}
		if !removed {
			return h, false, fmt.Errorf("%w: successor %s vanished", core.ErrIllegalState, successor)
		}
		n.key = successor
		n.right = child
	}

	newRoot, err := t.rebalance(ctx, n)
	if err != nil {
		return h, false, err
	}
	return newRoot, true, nil
}

func (t *Tree) minKey(ctx context.Context, h int64) (Key, error) {
	for {
		n, err := t.load(ctx, h)
		if err != nil {
			return Key{}, err
		}
		if n.left == nilHandle {
			return n.key, nil
		}
		h = n.left
	}
}

// rebalance restores the AVL property at n, whose subtrees are already
// balanced, saves every touched node and returns the new subtree root.
func (t *Tree) rebalance(ctx context.Context, n *node) (int64, error) {
	lh, _, err := t.stats(ctx, n.left)
	if err != nil {
		return nilHandle, err
	}
	rh, _, err := t.stats(ctx, n.right)
	if err != nil {
		return nilHandle, err
	}

	switch {
	case lh-rh > 1:
		l, err := t.load(ctx, n.left)
		if err != nil {
			return nilHandle, err
		}
		llh, _, err := t.stats(ctx, l.left)
		if err != nil {
			return nilHandle, err
		}
		lrh, _, err := t.stats(ctx, l.right)
		if err != nil {
			return nilHandle, err
		}
		if llh < lrh {
			if n.left, err = t.rotateLeft(ctx, l); err != nil {
				return nilHandle, err
			}
		}
		return t.rotateRight(ctx, n)
	case rh-lh > 1:
		r, err := t.load(ctx, n.right)
		if err != nil {
			return nilHandle, err
		}
		rlh, _, err := t.stats(ctx, r.left)
		if err != nil {
			return nilHandle, err
		}
		rrh, _, err := t.stats(ctx, r.right)
		if err != nil {
			return nilHandle, err
		}
		if rrh < rlh {
			if n.right, err = t.rotateRight(ctx, r); err != nil {
				return nilHandle, err
			}
		}
		return t.rotateLeft(ctx, n)
	default:
		if err := t.fix(ctx, n); err != nil {
			return nilHandle, err
		}
		return n.handle, nil
	}
}

func (t *Tree) rotateRight(ctx context.Context, n *node) (int64, error) {
	l, err := t.load(ctx, n.left)
	if err != nil {
		return nilHandle, err
	}
	n.left = l.right
	if err := t.fix(ctx, n); err != nil {
		return nilHandle, err
	}
	l.right = n.handle
	if err := t.fix(ctx, l); err != nil {
		return nilHandle, err
	}
	return l.handle, nil
}

func (t *Tree) rotateLeft(ctx context.Context, n *node) (int64, error) {
	r, err := t.load(ctx, n.right)
	if err != nil {
		return nilHandle, err
	}
	n.right = r.left
	if err := t.fix(ctx, n); err != nil {
		return nilHandle, err
	}
	r.left = n.handle
	if err := t.fix(ctx, r); err != nil {
		return nilHandle, err
	}
	return r.handle, nil
}

// fix recomputes height and size of n from its children and saves it.
func (t *Tree) fix(ctx context.Context, n *node) error {
	lh, ls, err := t.stats(ctx, n.left)
	if err != nil {
		return err
	}
	rh, rs, err := t.stats(ctx, n.right)
	if err != nil {
		return err
	}
	n.height = 1 + max(lh, rh)
	n.size = 1 + ls + rs
	return t.save(ctx, n)
}

func (t *Tree) stats(ctx context.Context, h int64) (int32, int64, error) {
	if h == nilHandle {
		return 0, 0, nil
	}
	n, err := t.load(ctx, h)
	if err != nil {
		return 0, 0, err
	}
	return n.height, n.size, nil
}

func (t *Tree) load(ctx context.Context, h int64) (*node, error) {
	data, found, err := t.store.Get(ctx, t.layout.nodeKey(h))
	if err != nil {
		return nil, err
	}
	if !found || len(data) == 0 {
		return nil, fmt.Errorf("%w: node %d of %s is missing", core.ErrCorruptRecord, h, t.layout.prefix)
	}
	return unmarshalNode(h, data)
}

func (t *Tree) save(ctx context.Context, n *node) error {
	return t.store.Set(ctx, t.layout.nodeKey(n.handle), n.marshal())
}

// free marks a node slot as unused. Handles are never reissued.
func (t *Tree) free(ctx context.Context, h int64) error {
	return t.store.Set(ctx, t.layout.nodeKey(h), []byte{})
}

func (t *Tree) rootHandle(ctx context.Context) (int64, error) {
	return core.GetInt64(ctx, t.store, t.layout.root, nilHandle)
}

func (t *Tree) setRoot(ctx context.Context, h int64) error {
	return core.SetInt64(ctx, t.store, t.layout.root, h)
}
