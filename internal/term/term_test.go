package term

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		DiskVersion: 8,
		UpdateSeq:   42,
		ByIDRoot: &NodePointer{
			Key:         []byte("doc1"),
			Pointer:     4096,
			ReduceValue: []byte{1, 2, 3},
			SubtreeSize: 128,
		},
		BySeqRoot:     nil,
		LocalDocsRoot: nil,
		PurgeSeq:      0,
		PurgedDocs:    nil,
	}
	enc, err := MarshalHeader(h)
	if err != nil {
		t.Fatalf("MarshalHeader: %v", err)
	}
	got, err := UnmarshalHeader(enc)
	if err != nil {
		t.Fatalf("UnmarshalHeader: %v", err)
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}

	enc2, err := MarshalHeader(h)
	if err != nil {
		t.Fatalf("MarshalHeader (2nd): %v", err)
	}
	if !bytes.Equal(enc, enc2) {
		t.Fatal("expected stable byte output for identical inputs")
	}
}

func TestReduceRoundTrips(t *testing.T) {
	idr := ByIDReduce{Count: 3, Deleted: 1, Size: 999}
	enc, err := MarshalByIDReduce(idr)
	if err != nil {
		t.Fatalf("MarshalByIDReduce: %v", err)
	}
	got, err := UnmarshalByIDReduce(enc)
	if err != nil {
		t.Fatalf("UnmarshalByIDReduce: %v", err)
	}
	if got != idr {
		t.Fatalf("got %+v, want %+v", got, idr)
	}

	sr := BySeqReduce{Count: 7}
	enc2, err := MarshalBySeqReduce(sr)
	if err != nil {
		t.Fatalf("MarshalBySeqReduce: %v", err)
	}
	got2, err := UnmarshalBySeqReduce(enc2)
	if err != nil {
		t.Fatalf("UnmarshalBySeqReduce: %v", err)
	}
	if got2 != sr {
		t.Fatalf("got %+v, want %+v", got2, sr)
	}
}
