package btree

import (
	"bytes"
	"sort"

	"github.com/blocktree/store/internal/fileops"
)

// frame is one level of a Cursor's path: the node loaded at that level and
// the index of the next child (interior) or entry (leaf) to visit. A
// Cursor's stack of frames is the entire resumable scan state spec §4.4
// calls for.
type frame struct {
	node *decodedNode
	idx  int
}

// Cursor performs a resumable, depth-first, in-order scan of a tree
// starting at some lower key bound. RangeByID in db.go is a thin Next loop
// over one of these.
type Cursor struct {
	fops  fileops.FileOps
	stack []frame
}

// NewCursor positions a cursor at the first entry with key >= lower (or at
// the very first entry, if lower is nil). A nil root yields an empty
// cursor whose Next always reports done.
func NewCursor(fops fileops.FileOps, root *NodePointer, lower []byte) (*Cursor, error) {
	c := &Cursor{fops: fops}
	if root == nil {
		return c, nil
	}
	if err := c.descend(root, lower); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cursor) descend(ptr *NodePointer, lower []byte) error {
	node, err := readNode(c.fops, ptr)
	if err != nil {
		return err
	}
	if node.leaf {
		idx := 0
		if lower != nil {
			idx = sort.Search(len(node.entries), func(i int) bool {
				return bytes.Compare(node.entries[i].Key, lower) >= 0
			})
		}
		c.stack = append(c.stack, frame{node: node, idx: idx})
		return nil
	}

	idx := 0
	if lower != nil {
		idx = sort.Search(len(node.children), func(i int) bool {
			return bytes.Compare(node.children[i].Key, lower) >= 0
		})
	}
	// idx == len(children) means lower is past every separator in this
	// subtree: nothing here satisfies the bound, leave the frame exhausted
	// so Next immediately pops back up.
	c.stack = append(c.stack, frame{node: node, idx: idx + 1})
	if idx == len(node.children) {
		return nil
	}
	child := node.children[idx]
	return c.descend(&child, lower)
}

// Next returns the next (key, value) pair in ascending order, or ok=false
// once the scan is exhausted.
func (c *Cursor) Next() (key, value []byte, ok bool, err error) {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.node.leaf {
			if top.idx >= len(top.node.entries) {
				c.stack = c.stack[:len(c.stack)-1]
				continue
			}
			e := top.node.entries[top.idx]
			top.idx++
			return e.Key, e.Value, true, nil
		}
		if top.idx >= len(top.node.children) {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		child := top.node.children[top.idx]
		top.idx++
		if err := c.descend(&child, nil); err != nil {
			return nil, nil, false, err
		}
	}
	return nil, nil, false, nil
}
