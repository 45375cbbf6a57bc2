package btree

import (
	"bytes"
	"sort"

	"github.com/blocktree/store/internal/chunk"
	"github.com/blocktree/store/internal/fileops"
)

// entryOverhead and pointerOverhead are rough per-item encoding overheads
// (msgpack map framing, length prefixes) used only to decide where to
// split a node. They don't need to be exact, only deterministic, so a
// given batch always splits the same way (spec property: "identical input
// batches produce byte-identical new nodes").
const (
	entryOverhead   = 8
	pointerOverhead = 24
)

// Appender is the append-only write cursor BulkModify writes new chunks
// through. Db in the store package owns the real one; tests can use a bare
// Appender over an in-memory FileOps.
type Appender struct {
	Fops fileops.FileOps
	Pos  int64
}

func (a *Appender) writeChunk(raw []byte) (int64, error) {
	offset := a.Pos
	framed, err := chunk.Encode(chunk.Data, offset, raw)
	if err != nil {
		return 0, err
	}
	if _, err := a.Fops.Pwrite(framed, offset); err != nil {
		return 0, err
	}
	a.Pos += int64(len(framed))
	return offset, nil
}

// BulkModify applies a sorted batch of actions to the tree rooted at root,
// writing new leaf and interior chunks through app and returning the new
// root (nil if the tree becomes empty). It never mutates existing chunks;
// unaffected subtrees are reused by reference. An empty batch is a pure
// no-op: nothing is read or written and root is returned unchanged.
func BulkModify(app *Appender, root *NodePointer, actions []Action, funcs ReduceFuncs, splitThreshold int) (*NodePointer, error) {
	if len(actions) == 0 {
		return root, nil
	}
	actions = normalizeActions(actions)

	if root == nil {
		inserts := onlyInserts(actions)
		if len(inserts) == 0 {
			return nil, nil
		}
		return buildFromEntries(app, inserts, funcs, splitThreshold)
	}

	node, err := readNode(app.Fops, root)
	if err != nil {
		return nil, err
	}

	if node.leaf {
		merged := mergeLeaf(node.entries, actions)
		if len(merged) == 0 {
			return nil, nil
		}
		return buildFromEntries(app, merged, funcs, splitThreshold)
	}

	groups := splitActionsByChildren(node.children, actions)
	newChildren := make([]NodePointer, 0, len(node.children))
	for i, childActions := range groups {
		if len(childActions) == 0 {
			newChildren = append(newChildren, node.children[i])
			continue
		}
		child := node.children[i]
		newPtr, err := BulkModify(app, &child, childActions, funcs, splitThreshold)
		if err != nil {
			return nil, err
		}
		if newPtr != nil {
			newChildren = append(newChildren, *newPtr)
		}
	}
	if len(newChildren) == 0 {
		return nil, nil
	}
	return collapseLevel(app, newChildren, funcs, splitThreshold)
}

// normalizeActions stable-sorts by key (the store package stages its
// batches in document order, so they usually arrive unsorted) and
// collapses duplicate keys, last action wins.
func normalizeActions(actions []Action) []Action {
	sorted := make([]Action, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})
	out := sorted[:0:0]
	for _, a := range sorted {
		if len(out) > 0 && bytes.Equal(out[len(out)-1].Key, a.Key) {
			out[len(out)-1] = a
			continue
		}
		out = append(out, a)
	}
	return out
}

func onlyInserts(actions []Action) []Entry {
	entries := make([]Entry, 0, len(actions))
	for _, a := range actions {
		if !a.Delete {
			entries = append(entries, Entry{Key: a.Key, Value: a.Value})
		}
	}
	return entries
}

// mergeLeaf merge-joins a leaf's existing ascending entries with an
// ascending, deduplicated action batch: inserts add or replace, deletes
// remove, everything else passes through unchanged.
func mergeLeaf(entries []Entry, actions []Action) []Entry {
	out := make([]Entry, 0, len(entries)+len(actions))
	i, j := 0, 0
	for i < len(entries) || j < len(actions) {
		switch {
		case j >= len(actions):
			out = append(out, entries[i])
			i++
		case i >= len(entries):
			if !actions[j].Delete {
				out = append(out, Entry{Key: actions[j].Key, Value: actions[j].Value})
			}
			j++
		default:
			cmp := bytes.Compare(entries[i].Key, actions[j].Key)
			switch {
			case cmp < 0:
				out = append(out, entries[i])
				i++
			case cmp > 0:
				if !actions[j].Delete {
					out = append(out, Entry{Key: actions[j].Key, Value: actions[j].Value})
				}
				j++
			default:
				if !actions[j].Delete {
					out = append(out, Entry{Key: actions[j].Key, Value: actions[j].Value})
				}
				i++
				j++
			}
		}
	}
	return out
}

// splitActionsByChildren assigns each action to the child whose key range
// covers it: the child with the smallest separator >= the action's key, or
// the last child if the key exceeds every separator (extending the tree's
// key range through its rightmost edge).
func splitActionsByChildren(children []NodePointer, actions []Action) [][]Action {
	groups := make([][]Action, len(children))
	for _, a := range actions {
		i := sort.Search(len(children), func(i int) bool {
			return bytes.Compare(children[i].Key, a.Key) >= 0
		})
		if i == len(children) {
			i = len(children) - 1
		}
		groups[i] = append(groups[i], a)
	}
	return groups
}

func entrySize(e Entry) int {
	return len(e.Key) + len(e.Value) + entryOverhead
}

func childSize(c NodePointer) int {
	return len(c.Key) + len(c.ReduceValue) + pointerOverhead
}

// splitLeaves groups entries into runs that each stay under the split
// threshold once encoded, in order.
func splitLeaves(entries []Entry, threshold int) [][]Entry {
	var groups [][]Entry
	var cur []Entry
	size := 0
	for _, e := range entries {
		s := entrySize(e)
		if size > 0 && size+s > threshold {
			groups = append(groups, cur)
			cur = nil
			size = 0
		}
		cur = append(cur, e)
		size += s
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

func splitInterior(children []NodePointer, threshold int) [][]NodePointer {
	var groups [][]NodePointer
	var cur []NodePointer
	size := 0
	for _, c := range children {
		s := childSize(c)
		if size > 0 && size+s > threshold {
			groups = append(groups, cur)
			cur = nil
			size = 0
		}
		cur = append(cur, c)
		size += s
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

func writeLeafChunk(app *Appender, entries []Entry, funcs ReduceFuncs) (NodePointer, error) {
	reduceVal, err := funcs.Reduce(entries)
	if err != nil {
		return NodePointer{}, err
	}
	var subtreeSize uint64
	wire := leafWire{Entries: make([]leafWireEntry, len(entries))}
	for i, e := range entries {
		wire.Entries[i] = leafWireEntry{Key: e.Key, Value: e.Value}
		subtreeSize += uint64(len(e.Key) + len(e.Value))
	}
	body, err := marshalWire(wire)
	if err != nil {
		return NodePointer{}, err
	}
	raw := append([]byte{leafKind}, body...)
	offset, err := app.writeChunk(raw)
	if err != nil {
		return NodePointer{}, err
	}
	return NodePointer{
		Key:         entries[len(entries)-1].Key,
		Pointer:     uint64(offset),
		ReduceValue: reduceVal,
		SubtreeSize: subtreeSize,
	}, nil
}

func writeInteriorChunk(app *Appender, children []NodePointer, funcs ReduceFuncs) (NodePointer, error) {
	childReduces := make([][]byte, len(children))
	var subtreeSize uint64
	for i, c := range children {
		childReduces[i] = c.ReduceValue
		subtreeSize += c.SubtreeSize
	}
	reduceVal, err := funcs.Rereduce(childReduces)
	if err != nil {
		return NodePointer{}, err
	}
	wire := interiorWire{Children: children}
	body, err := marshalWire(wire)
	if err != nil {
		return NodePointer{}, err
	}
	raw := append([]byte{interiorKind}, body...)
	offset, err := app.writeChunk(raw)
	if err != nil {
		return NodePointer{}, err
	}
	return NodePointer{
		Key:         children[len(children)-1].Key,
		Pointer:     uint64(offset),
		ReduceValue: reduceVal,
		SubtreeSize: subtreeSize,
	}, nil
}

// buildFromEntries writes a fresh leaf level from entries and collapses it
// up to a single root, adding interior levels as needed.
func buildFromEntries(app *Appender, entries []Entry, funcs ReduceFuncs, threshold int) (*NodePointer, error) {
	groups := splitLeaves(entries, threshold)
	level := make([]NodePointer, 0, len(groups))
	for _, g := range groups {
		ptr, err := writeLeafChunk(app, g, funcs)
		if err != nil {
			return nil, err
		}
		level = append(level, ptr)
	}
	return collapseLevel(app, level, funcs, threshold)
}

// collapseLevel repeatedly groups a level of node pointers into parent
// interior nodes until exactly one root pointer remains.
func collapseLevel(app *Appender, level []NodePointer, funcs ReduceFuncs, threshold int) (*NodePointer, error) {
	for len(level) > 1 {
		groups := splitInterior(level, threshold)
		next := make([]NodePointer, 0, len(groups))
		for _, g := range groups {
			ptr, err := writeInteriorChunk(app, g, funcs)
			if err != nil {
				return nil, err
			}
			next = append(next, ptr)
		}
		level = next
	}
	if len(level) == 0 {
		return nil, nil
	}
	return &level[0], nil
}
