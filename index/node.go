package index

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/INLOpen/nexuschat/core"
)

const (
	nodeFormatVersion = 1
	// version(1) metric(8) id(8) height(4) left(8) right(8) size(8)
	nodeRecordSize = 1 + 8 + 8 + 4 + 8 + 8 + 8

	// nilHandle marks an absent child or an empty tree.
	nilHandle int64 = -1
)

// node is the in-memory image of one persisted tree node. It is loaded by
// handle for every step and never cached across store calls.
type node struct {
	handle int64
	key    Key
	height int32
	left   int64
	right  int64
	size   int64
}

func (n *node) marshal() []byte {
	buf := make([]byte, nodeRecordSize)
	buf[0] = nodeFormatVersion
	off := 1
	binary.BigEndian.PutUint64(buf[off:], uint64(n.key.Metric))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(n.key.ID))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(n.height))
	off += 4
	binary.BigEndian.PutUint64(buf[off:], uint64(n.left))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(n.right))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(n.size))
	return buf
}

func unmarshalNode(handle int64, data []byte) (*node, error) {
	if len(data) != nodeRecordSize {
		return nil, fmt.Errorf("%w: node %d has %d bytes, want %d", core.ErrCorruptRecord, handle, len(data), nodeRecordSize)
	}
	if data[0] != nodeFormatVersion {
		return nil, fmt.Errorf("%w: node %d has format version %d", core.ErrCorruptRecord, handle, data[0])
	}
	n := &node{handle: handle}
	off := 1
	n.key.Metric = int64(binary.BigEndian.Uint64(data[off:]))
	off += 8
	n.key.ID = int64(binary.BigEndian.Uint64(data[off:]))
	off += 8
	n.height = int32(binary.BigEndian.Uint32(data[off:]))
	off += 4
	n.left = int64(binary.BigEndian.Uint64(data[off:]))
	off += 8
	n.right = int64(binary.BigEndian.Uint64(data[off:]))
	off += 8
	n.size = int64(binary.BigEndian.Uint64(data[off:]))
	return n, nil
}

// layout holds the storage keys of one tree.
type layout struct {
	prefix string
	root   []byte
	seq    []byte
}

func newLayout(name string, prefixID int64, scoped bool) layout {
	prefix := "idx/" + name
	if scoped {
		prefix += "/" + strconv.FormatInt(prefixID, 10)
	}
	return layout{
		prefix: prefix,
		root:   []byte(prefix + "/root"),
		seq:    []byte(prefix + "/seq"),
	}
}

func (l layout) nodeKey(handle int64) []byte {
	return []byte(l.prefix + "/n/" + strconv.FormatInt(handle, 10))
}
