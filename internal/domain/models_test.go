package domain

import "testing"

func TestChunkVector_RoundTrip(t *testing.T) {
	var c Chunk
	in := []float32{0.25, -1.5, 3.0, 0}
	c.SetVector(in)
	if len(c.Embedding) != 4*len(in) {
		t.Fatalf("encoded length %d", len(c.Embedding))
	}
	out := c.Vector()
	if len(out) != len(in) {
		t.Fatalf("decoded %d values, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("value %d: got %v want %v", i, out[i], in[i])
		}
	}
}

func TestChunkVector_EmptyAndTruncated(t *testing.T) {
	var c Chunk
	if v := c.Vector(); v != nil {
		t.Fatalf("empty blob must decode to nil, got %v", v)
	}
	c.Embedding = []byte{1, 2, 3} // not a multiple of 4
	if v := c.Vector(); v != nil {
		t.Fatalf("truncated blob must decode to nil, got %v", v)
	}
}

func TestChunkSetVector_Empty(t *testing.T) {
	var c Chunk
	c.SetVector(nil)
	if len(c.Embedding) != 0 {
		t.Fatalf("nil vector must encode empty, got %d bytes", len(c.Embedding))
	}
}
