package store

import (
	"github.com/blocktree/store/internal/term"
)

// Doc is a document body plus its id; exactly one of JSON/Binary carries
// the payload (spec §3). DocInfo has no flag recording which of the two it
// was: body() stores JSON when it is non-nil and Binary otherwise, and
// ReadBody returns the stored bytes without saying which field they came
// from. Deletion is marked by DocInfo.Deleted, not by an empty body.
type Doc struct {
	ID     []byte
	JSON   []byte
	Binary []byte
}

func (d Doc) body() []byte {
	if d.JSON != nil {
		return d.JSON
	}
	return d.Binary
}

// DocInfo is the per-document metadata record stored in both the by-id and
// by-seq trees. Invariant: Deleted implies BodyPointer == 0.
type DocInfo struct {
	ID          []byte
	Meta        []byte
	Deleted     bool
	Seq         uint64
	Rev         uint64
	BodyPointer uint64
	Size        uint64
}

type docInfoWire struct {
	ID          []byte `msgpack:"id"`
	Meta        []byte `msgpack:"meta"`
	Deleted     bool   `msgpack:"deleted"`
	Seq         uint64 `msgpack:"seq"`
	Rev         uint64 `msgpack:"rev"`
	BodyPointer uint64 `msgpack:"bp"`
	Size        uint64 `msgpack:"size"`
}

func encodeDocInfo(info DocInfo) ([]byte, error) {
	return term.Marshal(docInfoWire{
		ID:          info.ID,
		Meta:        info.Meta,
		Deleted:     info.Deleted,
		Seq:         info.Seq,
		Rev:         info.Rev,
		BodyPointer: info.BodyPointer,
		Size:        info.Size,
	})
}

func decodeDocInfo(raw []byte) (DocInfo, error) {
	var w docInfoWire
	if err := term.Unmarshal(raw, &w); err != nil {
		return DocInfo{}, err
	}
	return DocInfo{
		ID:          w.ID,
		Meta:        w.Meta,
		Deleted:     w.Deleted,
		Seq:         w.Seq,
		Rev:         w.Rev,
		BodyPointer: w.BodyPointer,
		Size:        w.Size,
	}, nil
}

// seqKey encodes a sequence number as the 48-bit big-endian by-seq tree key
// (spec §3: "key = 48-bit big-endian sequence number").
func seqKey(seq uint64) []byte {
	return []byte{
		byte(seq >> 40),
		byte(seq >> 32),
		byte(seq >> 24),
		byte(seq >> 16),
		byte(seq >> 8),
		byte(seq),
	}
}
