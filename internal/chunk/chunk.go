// Package chunk implements the length-prefixed, CRC-checked, optionally
// Snappy-compressed payload framing described in spec §4.2/§6: data chunks
// (compressed flag in the length field's high bit) and header chunks (no
// compression, always block-aligned).
package chunk

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/klauspost/compress/s2"
	"golang.org/x/xerrors"

	"github.com/blocktree/store/internal/block"
	"github.com/blocktree/store/internal/fileops"
	"github.com/blocktree/store/internal/storeerr"
)

// Kind selects the chunk variant: data chunks may be Snappy-compressed,
// header chunks never are.
type Kind int

const (
	Data Kind = iota
	Header
)

func (k Kind) marker() byte {
	if k == Header {
		return block.MarkerHeader
	}
	return block.MarkerData
}

// SnappyThreshold is the payload size above which a data chunk's payload
// may be Snappy-compressed (spec §6: "payloads > 64 bytes may be
// compressed").
const SnappyThreshold = 64

const compressedFlag = uint32(1) << 31

// lengthFieldLen and crcFieldLen together make up the 8-byte chunk header
// that precedes every chunk's stored payload, before block framing.
const (
	lengthFieldLen = 4
	crcFieldLen    = 4
	rawHeaderLen   = lengthFieldLen + crcFieldLen
)

// RawHeaderLen is the minimum on-disk footprint of any chunk (its
// length+CRC header, before any payload bytes), exported so callers that
// need to reason about chunk-sized gaps -- e.g. header padding -- don't
// have to hardcode it.
const RawHeaderLen = rawHeaderLen

// Encode builds the on-disk bytes for payload (with block markers already
// inserted) ready to be written verbatim via FileOps.Pwrite at startOffset.
// The length of the returned framed bytes is exactly how far the caller's
// append position must advance.
func Encode(kind Kind, startOffset int64, payload []byte) ([]byte, error) {
	stored := payload
	compressed := false
	if kind == Data && len(payload) > SnappyThreshold {
		stored = s2.EncodeSnappy(nil, payload)
		compressed = true
	}

	lengthField := uint32(len(stored))
	if compressed {
		lengthField |= compressedFlag
	}
	crc := crc32.ChecksumIEEE(stored)

	raw := make([]byte, rawHeaderLen+len(stored))
	binary.BigEndian.PutUint32(raw[0:4], lengthField)
	binary.BigEndian.PutUint32(raw[4:8], crc)
	copy(raw[rawHeaderLen:], stored)

	return block.Frame(kind.marker(), startOffset, raw), nil
}

// Decode reads and decodes the chunk starting at offset, returning the
// decompressed payload and the number of raw on-disk bytes it occupied
// (the caller's read cursor must advance by exactly that much to reach the
// next chunk).
func Decode(kind Kind, fops fileops.FileOps, offset int64) ([]byte, int64, error) {
	headerSpan := block.SpanLength(offset, rawHeaderLen)
	rawHeader := make([]byte, headerSpan)
	if _, err := fops.Pread(rawHeader, offset); err != nil {
		return nil, 0, storeerr.New(storeerr.Read, "chunk.Decode", err)
	}
	hdr, err := block.Deframe(kind.marker(), offset, rawHeader)
	if err != nil {
		return nil, 0, storeerr.New(storeerr.Read, "chunk.Decode", err)
	}
	if len(hdr) != rawHeaderLen {
		return nil, 0, storeerr.New(storeerr.Read, "chunk.Decode", xerrors.New("short chunk header"))
	}

	lengthField := binary.BigEndian.Uint32(hdr[0:4])
	wantCRC := binary.BigEndian.Uint32(hdr[4:8])
	compressed := kind == Data && lengthField&compressedFlag != 0
	length := int(lengthField &^ compressedFlag)

	payloadOffset := offset + headerSpan
	payloadSpan := block.SpanLength(payloadOffset, length)
	rawPayload := make([]byte, payloadSpan)
	if _, err := fops.Pread(rawPayload, payloadOffset); err != nil {
		return nil, 0, storeerr.New(storeerr.Read, "chunk.Decode", err)
	}
	stored, err := block.Deframe(kind.marker(), payloadOffset, rawPayload)
	if err != nil {
		return nil, 0, storeerr.New(storeerr.Read, "chunk.Decode", err)
	}
	if len(stored) != length {
		return nil, 0, storeerr.New(storeerr.Read, "chunk.Decode", xerrors.New("short chunk payload"))
	}

	if crc32.ChecksumIEEE(stored) != wantCRC {
		return nil, 0, storeerr.New(storeerr.ChecksumFail, "chunk.Decode", nil)
	}

	payload := stored
	if compressed {
		payload, err = s2.Decode(nil, stored)
		if err != nil {
			return nil, 0, storeerr.New(storeerr.Read, "chunk.Decode", err)
		}
	}

	return payload, headerSpan + payloadSpan, nil
}
