package manager

import (
	"context"
	"fmt"
	"strconv"

	"github.com/INLOpen/nexuschat/entity"
	"github.com/INLOpen/nexuschat/index"
)

// Counter is an integer property of an entity mirrored by exactly one key,
// (value, entity id), in one index. Every change goes through the same
// read, compute, delete old key, write value, insert new key sequence under
// the counter's own lock.
type Counter struct {
	props entity.Properties
	prop  string
	tree  *index.Tree
	locks *Locks
}

func NewCounter(props entity.Properties, prop string, tree *index.Tree, locks *Locks) *Counter {
	return &Counter{props: props, prop: prop, tree: tree, locks: locks}
}

func (c *Counter) lockKey(id int64) string {
	return "counter/" + c.props.Kind() + "/" + strconv.FormatInt(id, 10) + "/" + c.prop
}

// Get returns the current value.
func (c *Counter) Get(ctx context.Context, id int64) (int64, error) {
	return c.props.Int64(ctx, id, c.prop, 0)
}

// Init sets the value of a new entity and indexes it.
func (c *Counter) Init(ctx context.Context, id int64, value int64) error {
	unlock := c.locks.Lock(c.lockKey(id))
	defer unlock()

	if err := c.props.SetInt64(ctx, id, c.prop, value); err != nil {
		return fmt.Errorf("init %s of %s %d: %w", c.prop, c.props.Kind(), id, err)
	}
	if _, err := c.tree.Insert(ctx, index.Key{Metric: value, ID: id}); err != nil {
		return fmt.Errorf("index %s of %s %d: %w", c.prop, c.props.Kind(), id, err)
	}
	return nil
}

// Add changes the value by delta and moves its index key. It returns the
// new value.
func (c *Counter) Add(ctx context.Context, id int64, delta int64) (int64, error) {
	unlock := c.locks.Lock(c.lockKey(id))
	defer unlock()

	old, err := c.props.Int64(ctx, id, c.prop, 0)
	if err != nil {
		return 0, fmt.Errorf("read %s of %s %d: %w", c.prop, c.props.Kind(), id, err)
	}
	updated := old + delta
	if _, err := c.tree.Delete(ctx, index.Key{Metric: old, ID: id}); err != nil {
		return 0, fmt.Errorf("unindex %s of %s %d: %w", c.prop, c.props.Kind(), id, err)
	}
	if err := c.props.SetInt64(ctx, id, c.prop, updated); err != nil {
		return 0, fmt.Errorf("write %s of %s %d: %w", c.prop, c.props.Kind(), id, err)
	}
	if _, err := c.tree.Insert(ctx, index.Key{Metric: updated, ID: id}); err != nil {
		return 0, fmt.Errorf("index %s of %s %d: %w", c.prop, c.props.Kind(), id, err)
	}
	return updated, nil
}

// Remove drops the index key of a destroyed entity. The stored value is
// left as it was.
func (c *Counter) Remove(ctx context.Context, id int64) error {
	unlock := c.locks.Lock(c.lockKey(id))
	defer unlock()

	value, err := c.props.Int64(ctx, id, c.prop, 0)
	if err != nil {
		return fmt.Errorf("read %s of %s %d: %w", c.prop, c.props.Kind(), id, err)
	}
	if _, err := c.tree.Delete(ctx, index.Key{Metric: value, ID: id}); err != nil {
		return fmt.Errorf("unindex %s of %s %d: %w", c.prop, c.props.Kind(), id, err)
	}
	return nil
}
