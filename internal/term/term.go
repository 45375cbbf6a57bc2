// Package term is the external binary tuple encoder spec §4.2/§9 calls out
// as "an external binary tuple encoder" / "term codec" for header and
// reduce-value payloads. §9 relaxes its contract to "symmetric round-trip
// and stable byte output for identical inputs" rather than pinning a
// specific wire format, so this wraps a real, API-stable ecosystem
// serializer (MessagePack) instead of hand-rolling one.
package term

import (
	"github.com/vmihailenco/msgpack/v5"
)

// NodePointer is the term-encoded form of a B+-tree node pointer: a
// separator key, the absolute file offset of the child chunk, the child's
// opaque reduce value, and the subtree's cumulative byte size (spec §3).
type NodePointer struct {
	Key         []byte `msgpack:"key"`
	Pointer     uint64 `msgpack:"pointer"`
	ReduceValue []byte `msgpack:"reduce"`
	SubtreeSize uint64 `msgpack:"subtreesize"`
}

// Header is the term-encoded form of the database header (spec §3/§6).
type Header struct {
	DiskVersion   uint8        `msgpack:"disk_version"`
	UpdateSeq     uint64       `msgpack:"update_seq"`
	ByIDRoot      *NodePointer `msgpack:"by_id_root"`
	BySeqRoot     *NodePointer `msgpack:"by_seq_root"`
	LocalDocsRoot *NodePointer `msgpack:"local_docs_root"`
	PurgeSeq      uint64       `msgpack:"purge_seq"`
	PurgedDocs    [][]byte     `msgpack:"purged_docs"`
}

// Marshal encodes any term payload (a Header, a reduce value, an encoded
// B+-tree node) into its stable binary form.
func Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal decodes a term payload previously produced by Marshal.
func Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// MarshalHeader and UnmarshalHeader are typed convenience wrappers, mirroring
// the header-specific encode/decode pair the original couch_db.h exposes.
func MarshalHeader(h Header) ([]byte, error) { return Marshal(h) }

func UnmarshalHeader(data []byte) (Header, error) {
	var h Header
	err := Unmarshal(data, &h)
	return h, err
}

// ByIDReduce is the by-id tree's reduce value: (count, deleted-count,
// total-size), per spec §3/§4.4.
type ByIDReduce struct {
	Count   uint64 `msgpack:"count"`
	Deleted uint64 `msgpack:"deleted"`
	Size    uint64 `msgpack:"size"`
}

func MarshalByIDReduce(r ByIDReduce) ([]byte, error) { return Marshal(r) }

func UnmarshalByIDReduce(data []byte) (ByIDReduce, error) {
	var r ByIDReduce
	err := Unmarshal(data, &r)
	return r, err
}

// BySeqReduce is the by-seq tree's reduce value: a plain count.
type BySeqReduce struct {
	Count uint64 `msgpack:"count"`
}

func MarshalBySeqReduce(r BySeqReduce) ([]byte, error) { return Marshal(r) }

func UnmarshalBySeqReduce(data []byte) (BySeqReduce, error) {
	var r BySeqReduce
	err := Unmarshal(data, &r)
	return r, err
}
