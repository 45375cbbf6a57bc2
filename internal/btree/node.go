// Package btree implements the append-only B+-tree engine of spec §4.4:
// lookup, resumable range scan, and the bulk-modify write path that turns a
// sorted batch of inserts/deletes into a new root, splitting nodes by
// encoded byte size rather than entry count, with a reduce value threaded
// through every interior node.
//
// The package knows nothing about documents or DocInfo -- callers supply
// opaque Entry values and a ReduceFuncs pair, the same separation the
// on-disk format itself draws between "a B+-tree" and "the document store
// built on top of one" (spec §3's by-id/by-seq/local-docs trees differ only
// in their reduce function and the shape of their leaf values).
package btree

import (
	"bytes"
	"sort"

	"github.com/blocktree/store/internal/chunk"
	"github.com/blocktree/store/internal/fileops"
	"github.com/blocktree/store/internal/storeerr"
	"github.com/blocktree/store/internal/term"
)

// NodePointer is re-exported so callers never need to import internal/term
// directly just to hold a tree root.
type NodePointer = term.NodePointer

// Entry is one (key, value) pair stored in a leaf.
type Entry struct {
	Key   []byte
	Value []byte
}

// Action is one element of a bulk-modify batch: either Insert(Key, Value)
// or, when Delete is true, Remove(Key).
type Action struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// ReduceFuncs is the pure (reduce, rereduce) pair threaded through every
// node of one tree (spec §4.4's "Reduce contract").
type ReduceFuncs struct {
	// Reduce aggregates a leaf's entries into that leaf's reduce value.
	Reduce func(entries []Entry) ([]byte, error)
	// Rereduce aggregates child reduce values into an interior node's
	// reduce value.
	Rereduce func(childReduces [][]byte) ([]byte, error)
}

const (
	leafKind     byte = 0
	interiorKind byte = 1
)

type leafWireEntry struct {
	Key   []byte `msgpack:"k"`
	Value []byte `msgpack:"v"`
}

type leafWire struct {
	Entries []leafWireEntry `msgpack:"e"`
}

type interiorWire struct {
	Children []NodePointer `msgpack:"c"`
}

type decodedNode struct {
	leaf     bool
	entries  []Entry
	children []NodePointer
}

func readNode(fops fileops.FileOps, ptr *NodePointer) (*decodedNode, error) {
	raw, _, err := chunk.Decode(chunk.Data, fops, int64(ptr.Pointer))
	if err != nil {
		return nil, err
	}
	if len(raw) < 1 {
		return nil, storeerr.New(storeerr.Read, "btree.readNode", nil)
	}
	kind, body := raw[0], raw[1:]
	switch kind {
	case leafKind:
		var w leafWire
		if err := term.Unmarshal(body, &w); err != nil {
			return nil, storeerr.New(storeerr.ParseTerm, "btree.readNode", err)
		}
		entries := make([]Entry, len(w.Entries))
		for i, e := range w.Entries {
			entries[i] = Entry{Key: e.Key, Value: e.Value}
		}
		return &decodedNode{leaf: true, entries: entries}, nil
	case interiorKind:
		var w interiorWire
		if err := term.Unmarshal(body, &w); err != nil {
			return nil, storeerr.New(storeerr.ParseTerm, "btree.readNode", err)
		}
		return &decodedNode{leaf: false, children: w.Children}, nil
	default:
		return nil, storeerr.New(storeerr.ParseTerm, "btree.readNode", nil)
	}
}

// Lookup walks down from root looking for an exact match on key.
func Lookup(fops fileops.FileOps, root *NodePointer, key []byte) ([]byte, error) {
	if root == nil {
		return nil, storeerr.New(storeerr.DocNotFound, "btree.Lookup", nil)
	}
	ptr := root
	for {
		node, err := readNode(fops, ptr)
		if err != nil {
			return nil, err
		}
		if node.leaf {
			i := sort.Search(len(node.entries), func(i int) bool {
				return bytes.Compare(node.entries[i].Key, key) >= 0
			})
			if i < len(node.entries) && bytes.Equal(node.entries[i].Key, key) {
				return node.entries[i].Value, nil
			}
			return nil, storeerr.New(storeerr.DocNotFound, "btree.Lookup", nil)
		}
		i := sort.Search(len(node.children), func(i int) bool {
			return bytes.Compare(node.children[i].Key, key) >= 0
		})
		if i == len(node.children) {
			return nil, storeerr.New(storeerr.DocNotFound, "btree.Lookup", nil)
		}
		child := node.children[i]
		ptr = &child
	}
}

func marshalWire(v interface{}) ([]byte, error) {
	return term.Marshal(v)
}

// Reduce returns the reduce value stored at root, or nil if root is nil.
func Reduce(root *NodePointer) []byte {
	if root == nil {
		return nil
	}
	return root.ReduceValue
}
