package index

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/INLOpen/nexuschat/core"
)

// Registry hands out exactly one *Tree per logical tree so that all users
// of a tree share its mutex and its node handle sequence.
type Registry struct {
	store core.KVStore
	opts  Options
	trees *xsync.MapOf[string, *Tree]
}

// NewRegistry creates a registry whose trees store their nodes in store.
func NewRegistry(store core.KVStore, opts Options) *Registry {
	return &Registry{
		store: store,
		opts:  opts,
		trees: xsync.NewMapOf[string, *Tree](),
	}
}

// Tree returns the global tree with the given name.
func (r *Registry) Tree(name string) *Tree {
	return r.get(name, 0, false)
}

// Scoped returns the tree name/id, e.g. the member set of one channel.
func (r *Registry) Scoped(name string, id int64) *Tree {
	return r.get(name, id, true)
}

// Drop forgets a scoped tree whose owner no longer exists. Its stored nodes
// are left in place.
func (r *Registry) Drop(name string, id int64) {
	r.trees.Delete(newLayout(name, id, true).prefix)
}

// Len returns the number of trees currently handed out.
func (r *Registry) Len() int {
	return r.trees.Size()
}

func (r *Registry) get(name string, id int64, scoped bool) *Tree {
	l := newLayout(name, id, scoped)
	tree, _ := r.trees.LoadOrCompute(l.prefix, func() *Tree {
		return newTree(r.store, l, r.opts)
	})
	return tree
}
