// Package store is the database object of spec §4.5: it owns the latest
// header, orchestrates bulk-modifies on the by-id, by-seq, and local-docs
// trees, and commits new headers with the two-sync protocol that keeps a
// crash-recoverable file always readable at its previous header.
package store

import (
	"log"

	"github.com/blocktree/store/internal/block"
	"github.com/blocktree/store/internal/btree"
	"github.com/blocktree/store/internal/chunk"
	"github.com/blocktree/store/internal/fileops"
	"github.com/blocktree/store/internal/storeerr"
	"github.com/blocktree/store/internal/term"
)

// DiskVersion is the only header version this engine accepts (spec §6).
const DiskVersion = 8

// logger is used sparingly, the same way the teacher logs recoverable
// conditions rather than the hot read/write path: a corrupt header skipped
// during the backward scan is exactly the kind of thing worth a line, not
// an error, since Open keeps going and may still succeed.
var logger = log.Default()

// splitThreshold bounds the encoded byte size of any single B+-tree node
// (spec §4.4: "fanout is bounded by a size-in-bytes threshold"). Chosen
// well under the block size so a handful of nodes comfortably share a
// block's worth of chunks without forcing a split on every write.
const splitThreshold = 3800

// Db is a single open database file.
type Db struct {
	fops      fileops.FileOps
	appendPos int64
	header    term.Header

	pendingByID  []btree.Action
	pendingBySeq []btree.Action
}

// Open locates the most recent valid header by scanning backward from EOF
// in block-sized steps (spec §4.5, §9's resolution of the backward-scan
// open question). If the file is empty and flag permits creation, a fresh
// header with null roots is returned instead.
func Open(path string, flag fileops.OpenFlag, fops fileops.FileOps) (*Db, error) {
	if err := fops.Open(path, flag); err != nil {
		return nil, storeerr.New(storeerr.OpenFile, "store.Open", err)
	}
	eof, err := fops.GotoEOF()
	if err != nil {
		return nil, storeerr.New(storeerr.Read, "store.Open", err)
	}
	if eof == 0 {
		if flag != fileops.OpenCreate {
			return nil, storeerr.New(storeerr.NoHeader, "store.Open", nil)
		}
		return &Db{fops: fops, appendPos: 0, header: term.Header{DiskVersion: DiskVersion}}, nil
	}

	for offset := (eof / block.Size) * block.Size; offset >= 0; offset -= block.Size {
		h, span, err := tryReadHeaderAt(fops, offset)
		if err == nil {
			return &Db{fops: fops, appendPos: offset + span, header: h}, nil
		}
		if code, ok := storeerr.As(err); ok && code == storeerr.HeaderVersion {
			return nil, err
		}
		// Anything else (marker mismatch, CHECKSUM_FAIL, a corrupt term
		// payload) means there's no valid header at this offset: keep
		// scanning backward per spec §7's "skip and continue" rule.
		logger.Printf("store: skipping unreadable header at offset %d: %v", offset, err)
	}
	return nil, storeerr.New(storeerr.NoHeader, "store.Open", nil)
}

func tryReadHeaderAt(fops fileops.FileOps, offset int64) (term.Header, int64, error) {
	raw, span, err := chunk.Decode(chunk.Header, fops, offset)
	if err != nil {
		return term.Header{}, 0, err
	}
	h, err := term.UnmarshalHeader(raw)
	if err != nil {
		return term.Header{}, 0, storeerr.New(storeerr.ParseTerm, "store.tryReadHeaderAt", err)
	}
	if h.DiskVersion != DiskVersion {
		return term.Header{}, 0, storeerr.New(storeerr.HeaderVersion, "store.tryReadHeaderAt", nil)
	}
	return h, span, nil
}

// SaveDocs assigns sequence numbers, appends each non-deleted body as a
// data chunk, and stages by-id/by-seq batch actions for the next Commit
// (spec §4.5). infos is mutated in place: Seq, BodyPointer, and Size are
// filled in for every entry.
func (db *Db) SaveDocs(docs []Doc, infos []*DocInfo) error {
	for i, d := range docs {
		info := infos[i]
		info.ID = d.ID
		db.header.UpdateSeq++
		info.Seq = db.header.UpdateSeq

		if info.Deleted {
			info.BodyPointer = 0
			info.Size = 0
		} else {
			body := d.body()
			raw, err := chunk.Encode(chunk.Data, db.appendPos, body)
			if err != nil {
				return err
			}
			if _, err := db.fops.Pwrite(raw, db.appendPos); err != nil {
				return storeerr.New(storeerr.Write, "store.SaveDocs", err)
			}
			info.BodyPointer = uint64(db.appendPos)
			info.Size = uint64(len(body))
			db.appendPos += int64(len(raw))
		}

		if oldVal, err := btree.Lookup(db.fops, db.header.ByIDRoot, info.ID); err == nil {
			if oldInfo, derr := decodeDocInfo(oldVal); derr == nil {
				db.pendingBySeq = append(db.pendingBySeq, btree.Action{Key: seqKey(oldInfo.Seq), Delete: true})
			}
		}

		encInfo, err := encodeDocInfo(*info)
		if err != nil {
			return err
		}
		if info.Deleted {
			db.pendingByID = append(db.pendingByID, btree.Action{Key: info.ID, Delete: true})
		} else {
			db.pendingByID = append(db.pendingByID, btree.Action{Key: info.ID, Value: encInfo})
		}
		db.pendingBySeq = append(db.pendingBySeq, btree.Action{Key: seqKey(info.Seq), Value: encInfo})
	}
	return nil
}

// Commit bulk-modifies both primary trees against the staged batches,
// updates the header roots, and appends a new header chunk at the next
// block boundary, syncing once before the header write (so the data it
// references is durable first) and once after (spec §4.5).
func (db *Db) Commit() error {
	app := &btree.Appender{Fops: db.fops, Pos: db.appendPos}

	newByID, err := btree.BulkModify(app, db.header.ByIDRoot, db.pendingByID, byIDReduceFuncs, splitThreshold)
	if err != nil {
		return err
	}
	newBySeq, err := btree.BulkModify(app, db.header.BySeqRoot, db.pendingBySeq, bySeqReduceFuncs, splitThreshold)
	if err != nil {
		return err
	}
	db.header.ByIDRoot = newByID
	db.header.BySeqRoot = newBySeq
	db.pendingByID = nil
	db.pendingBySeq = nil
	db.appendPos = app.Pos

	if err := db.fops.Sync(); err != nil {
		return storeerr.New(storeerr.Write, "store.Commit", err)
	}

	if err := db.padToBoundary(); err != nil {
		return err
	}

	headerBody, err := term.MarshalHeader(db.header)
	if err != nil {
		return err
	}
	raw, err := chunk.Encode(chunk.Header, db.appendPos, headerBody)
	if err != nil {
		return err
	}
	if _, err := db.fops.Pwrite(raw, db.appendPos); err != nil {
		return storeerr.New(storeerr.Write, "store.Commit", err)
	}
	db.appendPos += int64(len(raw))

	if err := db.fops.Sync(); err != nil {
		return storeerr.New(storeerr.Write, "store.Commit", err)
	}
	return nil
}

// alignedHeaderOffset returns the smallest block-boundary offset >= pos.
func alignedHeaderOffset(pos int64) int64 {
	if pos%block.Size == 0 {
		return pos
	}
	return block.BoundaryAfter(pos)
}

// padToBoundary fills the gap up to the next block boundary with
// zero-payload data chunks (spec §4.5: "padding with a zero-length data
// chunk if needed"). The gap never crosses a block boundary itself, so no
// marker bytes land inside it and each filler chunk's on-disk length is
// exactly predictable. A gap under one chunk's minimum footprint (8 bytes)
// can't be expressed as a chunk at all; those leftover bytes are never
// revisited by the backward header scan, so they're written as raw filler.
func (db *Db) padToBoundary() error {
	boundary := alignedHeaderOffset(db.appendPos)
	for db.appendPos < boundary {
		gap := boundary - db.appendPos
		if gap < chunk.RawHeaderLen {
			filler := make([]byte, gap)
			if _, err := db.fops.Pwrite(filler, db.appendPos); err != nil {
				return storeerr.New(storeerr.Write, "store.padToBoundary", err)
			}
			db.appendPos += gap
			break
		}
		payloadLen := gap - chunk.RawHeaderLen
		if payloadLen > chunk.SnappyThreshold {
			payloadLen = chunk.SnappyThreshold
		}
		raw, err := chunk.Encode(chunk.Data, db.appendPos, make([]byte, payloadLen))
		if err != nil {
			return err
		}
		if _, err := db.fops.Pwrite(raw, db.appendPos); err != nil {
			return storeerr.New(storeerr.Write, "store.padToBoundary", err)
		}
		db.appendPos += int64(len(raw))
	}
	return nil
}

// LookupByID returns the DocInfo stored for id.
func (db *Db) LookupByID(id []byte) (DocInfo, error) {
	val, err := btree.Lookup(db.fops, db.header.ByIDRoot, id)
	if err != nil {
		return DocInfo{}, err
	}
	return decodeDocInfo(val)
}

// LookupBySeq returns the DocInfo stored for seq.
func (db *Db) LookupBySeq(seq uint64) (DocInfo, error) {
	val, err := btree.Lookup(db.fops, db.header.BySeqRoot, seqKey(seq))
	if err != nil {
		return DocInfo{}, err
	}
	return decodeDocInfo(val)
}

// ReadBody reads back the document body referenced by info, or nil for a
// deleted document.
func (db *Db) ReadBody(info DocInfo) ([]byte, error) {
	if info.Deleted {
		return nil, nil
	}
	body, _, err := chunk.Decode(chunk.Data, db.fops, int64(info.BodyPointer))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// RangeByID performs an in-order scan of the by-id tree starting at lower
// (or from the beginning, if lower is nil), calling fn for each DocInfo
// until it returns false or an error.
func (db *Db) RangeByID(lower []byte, fn func(DocInfo) (bool, error)) error {
	cur, err := btree.NewCursor(db.fops, db.header.ByIDRoot, lower)
	if err != nil {
		return err
	}
	for {
		_, v, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		info, err := decodeDocInfo(v)
		if err != nil {
			return err
		}
		cont, err := fn(info)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// SaveLocalDoc writes or overwrites a local document immediately; a later
// Commit persists the updated local_docs_root in the header.
func (db *Db) SaveLocalDoc(id, body []byte) error {
	app := &btree.Appender{Fops: db.fops, Pos: db.appendPos}
	newRoot, err := btree.BulkModify(app, db.header.LocalDocsRoot, []btree.Action{{Key: id, Value: body}}, noReduceFuncs, splitThreshold)
	if err != nil {
		return err
	}
	db.header.LocalDocsRoot = newRoot
	db.appendPos = app.Pos
	return nil
}

// GetLocalDoc returns the body stored for id.
func (db *Db) GetLocalDoc(id []byte) ([]byte, error) {
	return btree.Lookup(db.fops, db.header.LocalDocsRoot, id)
}

// DeleteLocalDoc removes id from the local-docs tree; a no-op if absent.
func (db *Db) DeleteLocalDoc(id []byte) error {
	app := &btree.Appender{Fops: db.fops, Pos: db.appendPos}
	newRoot, err := btree.BulkModify(app, db.header.LocalDocsRoot, []btree.Action{{Key: id, Delete: true}}, noReduceFuncs, splitThreshold)
	if err != nil {
		return err
	}
	db.header.LocalDocsRoot = newRoot
	db.appendPos = app.Pos
	return nil
}

// Close releases the underlying file handle. The in-memory header is
// discarded without writing; any staged but uncommitted batch is lost.
func (db *Db) Close() error {
	return db.fops.Close()
}

// Stats summarizes a database's contents for the diagnostic CLI (spec §6).
type Stats struct {
	DiskVersion  uint8
	UpdateSeq    uint64
	DocCount     uint64
	DeletedCount uint64
	DataSize     uint64
	BTreeSize    uint64
	FileSize     int64
}

// Stats gathers the figures cmd/blocktree-info prints, reading them
// straight out of the by-id root's reduce value rather than walking the
// tree.
func (db *Db) Stats() (Stats, error) {
	s := Stats{DiskVersion: db.header.DiskVersion, UpdateSeq: db.header.UpdateSeq}
	if db.header.ByIDRoot != nil {
		r, err := term.UnmarshalByIDReduce(db.header.ByIDRoot.ReduceValue)
		if err != nil {
			return Stats{}, err
		}
		s.DocCount = r.Count
		s.DeletedCount = r.Deleted
		s.DataSize = r.Size
		s.BTreeSize += db.header.ByIDRoot.SubtreeSize
	}
	if db.header.BySeqRoot != nil {
		s.BTreeSize += db.header.BySeqRoot.SubtreeSize
	}
	fileSize, err := db.fops.GotoEOF()
	if err != nil {
		return Stats{}, err
	}
	s.FileSize = fileSize
	return s, nil
}
