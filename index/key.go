package index

import (
	"fmt"
)

// Key is the composite sort key of an order-statistic index: a ranking
// metric plus the id of the entity that owns it.
type Key struct {
	Metric int64
	ID     int64
}

// MemberKey is the degenerate key used when a tree is a plain set of ids.
func MemberKey(id int64) Key {
	return Key{Metric: id, ID: 0}
}

// Compare orders keys by Metric ascending, then by ID descending. With this
// order a walk from the highest rank down yields, among equal metrics, the
// lowest (earliest created) id first.
func Compare(a, b Key) int {
	switch {
	case a.Metric < b.Metric:
		return -1
	case a.Metric > b.Metric:
		return 1
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	default:
		return 0
	}
}

func (k Key) String() string {
	return fmt.Sprintf("(%d,%d)", k.Metric, k.ID)
}
