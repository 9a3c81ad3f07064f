package store

import (
	"math"
	"testing"
)

func TestEncodeVector(t *testing.T) {
	got := EncodeVector([]float32{1, -0.5, 0.25})
	want := "[1,-0.5,0.25]"
	if got != want {
		t.Fatalf("EncodeVector = %q, want %q", got, want)
	}

	if got := EncodeVector(nil); got != "[]" {
		t.Fatalf("empty vector encodes as %q", got)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.123456789, -1e-8, 3.4e38, 0, 42}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector returned error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(out), len(in))
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 0 {
			t.Fatalf("element %d: %g != %g", i, out[i], in[i])
		}
	}
}

func TestDecodeVectorRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "1,2,3", "[1,2", "[1,x,3]"} {
		if _, err := DecodeVector(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestRound1(t *testing.T) {
	cases := map[float64]float64{
		66.666:  66.7,
		0:       0,
		100:     100,
		33.3333: 33.3,
	}
	for in, want := range cases {
		if got := round1(in); got != want {
			t.Fatalf("round1(%f) = %f, want %f", in, got, want)
		}
	}
}
