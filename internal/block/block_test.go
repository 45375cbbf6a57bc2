package block

import (
	"bytes"
	"testing"
)

func TestFrameDeframeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		marker  byte
		start   int64
		payload []byte
	}{
		{"empty at boundary", MarkerHeader, 4096, nil},
		{"small mid-block", MarkerData, 100, []byte("hello world")},
		{"exactly to boundary", MarkerData, 4090, bytes.Repeat([]byte{'a'}, 6)},
		{"spans many blocks", MarkerData, 4090, bytes.Repeat([]byte{'x'}, 4096*3+10)},
		{"starts at zero", MarkerHeader, 0, []byte("header bytes")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			framed := Frame(tc.marker, tc.start, tc.payload)
			got, err := Deframe(tc.marker, tc.start, framed)
			if err != nil {
				t.Fatalf("Deframe: %v", err)
			}
			if !bytes.Equal(got, tc.payload) && !(len(got) == 0 && len(tc.payload) == 0) {
				t.Fatalf("round-trip mismatch: got %q, want %q", got, tc.payload)
			}
			if int64(len(framed)) != SpanLength(tc.start, len(tc.payload)) {
				t.Fatalf("SpanLength mismatch: got %d, want %d", SpanLength(tc.start, len(tc.payload)), len(framed))
			}
		})
	}
}

func TestDeframeRejectsWrongMarker(t *testing.T) {
	framed := Frame(MarkerData, 0, []byte("payload"))
	if _, err := Deframe(MarkerHeader, 0, framed); err == nil {
		t.Fatal("expected error for mismatched marker")
	}
}

func TestBoundaryAfter(t *testing.T) {
	cases := []struct{ in, want int64 }{
		{0, 4096},
		{1, 4096},
		{4095, 4096},
		{4096, 8192},
		{4097, 8192},
	}
	for _, tc := range cases {
		if got := BoundaryAfter(tc.in); got != tc.want {
			t.Errorf("BoundaryAfter(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestHeaderAtOneByteAfterBoundary(t *testing.T) {
	// Property 10: a header whose start offset is one byte past a block
	// boundary must still be locatable by the backward scan. Exercised
	// here at the framing level: the marker byte still lands correctly
	// even though the logical header begins one byte into the block.
	start := int64(4096)
	framed := Frame(MarkerHeader, start, []byte("x"))
	if len(framed) != 2 || framed[0] != MarkerHeader {
		t.Fatalf("framed = %v, want marker %#x then the header byte", framed, MarkerHeader)
	}
	got, err := Deframe(MarkerHeader, start, framed)
	if err != nil {
		t.Fatalf("Deframe: %v", err)
	}
	if string(got) != "x" {
		t.Fatalf("got %q, want %q", got, "x")
	}
}
