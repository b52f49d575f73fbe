package vectorstore

import (
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeVectorRoundTrip(t *testing.T) {
	t.Parallel()

	orig := []float32{0.0, 1.5, -2.25, 3.75, float32(math.Pi)}

	b := EncodeVector(orig)
	if len(b) != len(orig)*4 {
		t.Fatalf("blob length = %d, want %d", len(b), len(orig)*4)
	}

	decoded, err := DecodeVector(b)
	if err != nil {
		t.Fatalf("DecodeVector() error = %v", err)
	}
	for i := range orig {
		if decoded[i] != orig[i] {
			t.Errorf("decoded[%d] = %v, want %v", i, decoded[i], orig[i])
		}
	}
}

func TestEncodeVectorEmpty(t *testing.T) {
	t.Parallel()

	if b := EncodeVector(nil); b != nil {
		t.Errorf("EncodeVector(nil) = %v, want nil", b)
	}

	vec, err := DecodeVector(nil)
	if err != nil {
		t.Fatalf("DecodeVector(nil) error = %v", err)
	}
	if vec != nil {
		t.Errorf("DecodeVector(nil) = %v, want nil", vec)
	}
}

func TestDecodeVectorBadLength(t *testing.T) {
	t.Parallel()

	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeVector should reject blobs whose length is not a multiple of 4")
	}
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{
			name: "identical vectors",
			a:    []float32{1, 2, 3},
			b:    []float32{1, 2, 3},
			want: 1,
		},
		{
			name: "opposite vectors",
			a:    []float32{1, 0},
			b:    []float32{-1, 0},
			want: -1,
		},
		{
			name: "orthogonal vectors",
			a:    []float32{1, 0},
			b:    []float32{0, 1},
			want: 0,
		},
		{
			name: "scaled vectors stay identical",
			a:    []float32{1, 2, 3},
			b:    []float32{2, 4, 6},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity() error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarityErrors(t *testing.T) {
	t.Parallel()

	if _, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("mismatched lengths: error = %v, want ErrDimensionMismatch", err)
	}
	if _, err := CosineSimilarity(nil, nil); err == nil {
		t.Error("empty vectors should error")
	}
	if _, err := CosineSimilarity([]float32{0, 0}, []float32{1, 2}); err == nil {
		t.Error("zero-magnitude vector should error")
	}
}
