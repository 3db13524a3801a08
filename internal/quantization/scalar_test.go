package quantization

import (
	"math"
	"testing"
)

func TestScalarQuantizerTrainRequiresData(t *testing.T) {
	q := NewScalarQuantizer()
	if err := q.Train(nil); err == nil {
		t.Fatal("expected Train to reject an empty training set")
	}
}

func TestScalarQuantizerRangeMapsToFullCodeSpace(t *testing.T) {
	q := NewScalarQuantizer()
	if err := q.Train([][]float32{{-1, 0, 1}}); err != nil {
		t.Fatal(err)
	}

	codes := q.Quantize([]float32{-1, 0, 1})
	if codes[0] != -127 {
		t.Errorf("expected the trained minimum to encode as -127, got %d", codes[0])
	}
	if codes[2] != 127 {
		t.Errorf("expected the trained maximum to encode as 127, got %d", codes[2])
	}
}

func TestScalarQuantizerClampsOutOfRange(t *testing.T) {
	q := NewScalarQuantizer()
	if err := q.Train([][]float32{{0, 1}}); err != nil {
		t.Fatal(err)
	}

	codes := q.Quantize([]float32{-100, 100})
	if codes[0] != -127 || codes[1] != 127 {
		t.Errorf("expected out-of-range values clamped to [-127, 127], got %v", codes)
	}
}

func TestScalarQuantizerRoundTripError(t *testing.T) {
	q := NewScalarQuantizer()
	vectors := [][]float32{
		{0.1, 0.5, 0.9},
		{-0.3, 0.2, 0.7},
		{0.0, -0.8, 0.4},
	}
	if err := q.Train(vectors); err != nil {
		t.Fatal(err)
	}

	// One code step covers range/254 of the value space; round-trip
	// error must stay within half a step.
	min, max, _, _ := q.Parameters()
	tolerance := float64(max-min)/254/2 + 1e-6

	for _, v := range vectors {
		back := q.Dequantize(q.Quantize(v))
		for i := range v {
			if diff := math.Abs(float64(back[i] - v[i])); diff > tolerance {
				t.Errorf("component %d: round-trip error %g exceeds %g", i, diff, tolerance)
			}
		}
	}
}

func TestScalarQuantizerConstantInput(t *testing.T) {
	q := NewScalarQuantizer()
	if err := q.Train([][]float32{{5, 5, 5}}); err != nil {
		t.Fatal(err)
	}
	codes := q.Quantize([]float32{5})
	back := q.Dequantize(codes)
	if math.Abs(float64(back[0]-5)) > 0.01 {
		t.Errorf("expected a constant input to round-trip, got %g", back[0])
	}
}
