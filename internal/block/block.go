// Package block implements the append-only file's block framing: every
// 4096-byte block begins with a one-byte marker that is not part of any
// chunk payload. Frame inserts markers into a logical byte stream destined
// for a given absolute file offset; Deframe strips them back out on read.
//
// See spec §4.1. There is deliberately no notion of "chunk" here -- block
// only knows about raw byte spans and boundaries, the same way the
// teacher's squashfs package keeps block/metadata framing (writeMetadataChunks)
// separate from inode encoding.
package block

import "fmt"

const (
	// Size is the fixed block size in bytes.
	Size = 4096

	// MarkerData marks the start of a block holding document/tree data.
	MarkerData byte = 0x00

	// MarkerHeader marks the start of a block holding a database header.
	MarkerHeader byte = 0x01
)

// BoundaryAfter returns the offset of the next block boundary strictly
// after offset, i.e. the next multiple of Size greater than offset.
func BoundaryAfter(offset int64) int64 {
	return (offset/Size + 1) * Size
}

// Frame returns payload with marker bytes inserted so that writing the
// result starting at startOffset places marker at byte 0 of every block
// boundary the span crosses (including at startOffset itself, if
// startOffset is already block-aligned).
func Frame(marker byte, startOffset int64, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(payload)/(Size-1)+2)
	pos := startOffset
	i := 0
	for {
		if pos%Size == 0 && i < len(payload) {
			out = append(out, marker)
			pos++
		}
		if i >= len(payload) {
			break
		}
		next := BoundaryAfter(pos)
		n := int(next - pos)
		if rem := len(payload) - i; n > rem {
			n = rem
		}
		out = append(out, payload[i:i+n]...)
		i += n
		pos += int64(n)
	}
	return out
}

// Deframe reverses Frame: given framed, the raw bytes read from the file
// starting at startOffset, it validates that every block-boundary byte
// equals marker and returns the payload with those marker bytes removed.
func Deframe(marker byte, startOffset int64, framed []byte) ([]byte, error) {
	out := make([]byte, 0, len(framed))
	pos := startOffset
	i := 0
	for i < len(framed) {
		if pos%Size == 0 {
			if framed[i] != marker {
				return nil, fmt.Errorf("block: unexpected marker %#x at offset %d, want %#x", framed[i], pos, marker)
			}
			i++
			pos++
			continue
		}
		next := BoundaryAfter(pos)
		n := int(next - pos)
		if rem := len(framed) - i; n > rem {
			n = rem
		}
		out = append(out, framed[i:i+n]...)
		i += n
		pos += int64(n)
	}
	return out, nil
}

// SpanLength returns the number of raw on-disk bytes a payload of
// payloadLen logical bytes occupies once marker bytes are inserted,
// starting at blockOffset -- i.e. payloadLen plus however many
// block-boundary markers fall within the span.
func SpanLength(blockOffset int64, payloadLen int) int64 {
	pos := blockOffset
	i := 0
	var markers int64
	for {
		if pos%Size == 0 && i < payloadLen {
			markers++
			pos++
		}
		if i >= payloadLen {
			break
		}
		next := BoundaryAfter(pos)
		n := int(next - pos)
		if rem := payloadLen - i; n > rem {
			n = rem
		}
		i += n
		pos += int64(n)
	}
	return int64(payloadLen) + markers
}
