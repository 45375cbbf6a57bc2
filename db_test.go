package store

import (
	"bytes"
	"testing"

	"github.com/blocktree/store/internal/fileops"
	"github.com/blocktree/store/internal/storeerr"
)

// memFile is the same in-memory FileOps double used throughout internal/
// package tests, duplicated here since it's unexported and package-local.
type memFile struct {
	buf []byte
}

func (m *memFile) Version() int                             { return 1 }
func (m *memFile) Open(string, fileops.OpenFlag) error       { return nil }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) GotoEOF() (int64, error)                   { return int64(len(m.buf)), nil }
func (m *memFile) Sync() error                               { return nil }
func (m *memFile) Advise(int64, int64, fileops.Advice) error { return nil }

func (m *memFile) Pread(buf []byte, off int64) (int, error) {
	n := copy(buf, m.buf[off:])
	return n, nil
}

func (m *memFile) Pwrite(buf []byte, off int64) (int, error) {
	need := off + int64(len(buf))
	if need > int64(len(m.buf)) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:], buf)
	return len(buf), nil
}

func openFresh(t *testing.T) (*Db, *memFile) {
	t.Helper()
	f := &memFile{}
	db, err := Open("mem", fileops.OpenCreate, f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db, f
}

func TestSaveDocsCommitRoundTrip(t *testing.T) {
	db, f := openFresh(t)

	docs := []Doc{
		{ID: []byte("a"), JSON: []byte(`{"v":1}`)},
		{ID: []byte("b"), JSON: []byte(`{"v":2}`)},
		{ID: []byte("c"), JSON: []byte(`{"v":3}`)},
	}
	infos := []*DocInfo{{Meta: []byte("m1")}, {Meta: []byte("m2")}, {Meta: []byte("m3")}}
	if err := db.SaveDocs(docs, infos); err != nil {
		t.Fatalf("SaveDocs: %v", err)
	}
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for i, d := range docs {
		info, err := db.LookupByID(d.ID)
		if err != nil {
			t.Fatalf("LookupByID(%q): %v", d.ID, err)
		}
		if !bytes.Equal(info.ID, d.ID) || !bytes.Equal(info.Meta, infos[i].Meta) {
			t.Fatalf("LookupByID(%q) = %+v, want id/meta matching input", d.ID, info)
		}
		body, err := db.ReadBody(info)
		if err != nil {
			t.Fatalf("ReadBody: %v", err)
		}
		if !bytes.Equal(body, d.JSON) {
			t.Fatalf("ReadBody(%q) = %q, want %q", d.ID, body, d.JSON)
		}

		bySeq, err := db.LookupBySeq(info.Seq)
		if err != nil {
			t.Fatalf("LookupBySeq(%d): %v", info.Seq, err)
		}
		if !bytes.Equal(bySeq.ID, d.ID) {
			t.Fatalf("LookupBySeq(%d).ID = %q, want %q", info.Seq, bySeq.ID, d.ID)
		}
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocCount != 3 || stats.DeletedCount != 0 {
		t.Fatalf("Stats = %+v, want DocCount=3 DeletedCount=0", stats)
	}

	// Property 3: reopening the same file finds the header we just wrote.
	db2, err := Open("mem", fileops.OpenExisting, f)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	info, err := db2.LookupByID([]byte("a"))
	if err != nil {
		t.Fatalf("LookupByID after reopen: %v", err)
	}
	if string(info.Meta) != "m1" {
		t.Fatalf("got meta %q after reopen, want m1", info.Meta)
	}
}

func TestOpenEmptyFileWithoutCreateFlagFails(t *testing.T) {
	f := &memFile{}
	if _, err := Open("mem", fileops.OpenExisting, f); err == nil {
		t.Fatal("expected NO_HEADER opening an empty file without OpenCreate")
	}
}

func TestDeleteRemovesFromByIDAndBySeq(t *testing.T) {
	db, _ := openFresh(t)
	docs := []Doc{{ID: []byte("a"), JSON: []byte(`{}`)}}
	infos := []*DocInfo{{}}
	if err := db.SaveDocs(docs, infos); err != nil {
		t.Fatalf("SaveDocs: %v", err)
	}
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	firstSeq := infos[0].Seq

	delDocs := []Doc{{ID: []byte("a")}}
	delInfos := []*DocInfo{{Deleted: true}}
	if err := db.SaveDocs(delDocs, delInfos); err != nil {
		t.Fatalf("SaveDocs delete: %v", err)
	}
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit delete: %v", err)
	}

	_, err := db.LookupByID([]byte("a"))
	if err == nil {
		t.Fatal("expected the deleted id to be removed from by-id")
	}
	if code, ok := storeerr.As(err); !ok || code != storeerr.DocNotFound {
		t.Fatalf("LookupByID after delete: err = %v, want DOC_NOT_FOUND", err)
	}
	if _, err := db.LookupBySeq(firstSeq); err == nil {
		t.Fatal("expected the old seq entry to be removed")
	}
}

func TestRangeByIDIsSorted(t *testing.T) {
	db, _ := openFresh(t)
	ids := []string{"c", "a", "b"}
	var docs []Doc
	var infos []*DocInfo
	for _, id := range ids {
		docs = append(docs, Doc{ID: []byte(id), JSON: []byte(`{}`)})
		infos = append(infos, &DocInfo{})
	}
	if err := db.SaveDocs(docs, infos); err != nil {
		t.Fatalf("SaveDocs: %v", err)
	}
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	var got []string
	err := db.RangeByID(nil, func(info DocInfo) (bool, error) {
		got = append(got, string(info.ID))
		return true, nil
	})
	if err != nil {
		t.Fatalf("RangeByID: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("out of order: got %v, want %v", got, want)
		}
	}
}

func TestLocalDocsShims(t *testing.T) {
	db, _ := openFresh(t)
	if err := db.SaveLocalDoc([]byte("_local/x"), []byte("hello")); err != nil {
		t.Fatalf("SaveLocalDoc: %v", err)
	}
	got, err := db.GetLocalDoc([]byte("_local/x"))
	if err != nil {
		t.Fatalf("GetLocalDoc: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
	if err := db.DeleteLocalDoc([]byte("_local/x")); err != nil {
		t.Fatalf("DeleteLocalDoc: %v", err)
	}
	if _, err := db.GetLocalDoc([]byte("_local/x")); err == nil {
		t.Fatal("expected DOC_NOT_FOUND after delete")
	}
}

func TestCommitOfEmptyBatchWritesNoTreeChunks(t *testing.T) {
	db, f := openFresh(t)
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(f.buf) == 0 {
		t.Fatal("expected the header chunk itself to be written")
	}
	// The header chunk at offset 0 must account for every byte in the file.
	if _, span, err := tryReadHeaderAt(f, 0); err != nil || span != int64(len(f.buf)) {
		t.Fatalf("header at 0: span=%d err=%v, want span %d (no tree chunks)", span, err, len(f.buf))
	}
}
