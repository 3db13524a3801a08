package quantization

import (
	"fmt"
	"math"
)

// ScalarQuantizer maps float32 vector components onto int8 codes by a
// single affine transform learned from training data: [min, max] of
// the observed values is stretched onto [-127, 127]. One code byte per
// component, a 4x reduction over float32. nbase uses it only as a
// sizing diagnostic (estimating what a quantized store would occupy),
// never on the insert or search path.
type ScalarQuantizer struct {
	min    float32
	max    float32
	scale  float32
	offset float32
}

// NewScalarQuantizer returns an untrained quantizer; call Train before
// Quantize or Dequantize.
func NewScalarQuantizer() *ScalarQuantizer {
	return &ScalarQuantizer{}
}

// Train learns the affine parameters from the global value range of
// the training vectors.
func (q *ScalarQuantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return fmt.Errorf("quantization: no training vectors")
	}

	q.min = float32(math.MaxFloat32)
	q.max = float32(-math.MaxFloat32)
	for _, v := range vectors {
		for _, x := range v {
			if x < q.min {
				q.min = x
			}
			if x > q.max {
				q.max = x
			}
		}
	}

	span := q.max - q.min
	if span == 0 {
		span = 1
	}
	q.scale = 254.0 / span
	q.offset = -127.0 - q.min*q.scale
	return nil
}

// Quantize encodes one vector, clamping values outside the trained
// range to the nearest representable code.
func (q *ScalarQuantizer) Quantize(vector []float32) []int8 {
	codes := make([]int8, len(vector))
	for i, x := range vector {
		scaled := x*q.scale + q.offset
		if scaled < -127 {
			scaled = -127
		} else if scaled > 127 {
			scaled = 127
		}
		codes[i] = int8(math.Round(float64(scaled)))
	}
	return codes
}

// Dequantize reverses Quantize up to the quantization error.
func (q *ScalarQuantizer) Dequantize(codes []int8) []float32 {
	out := make([]float32, len(codes))
	for i, c := range codes {
		out[i] = (float32(c) - q.offset) / q.scale
	}
	return out
}

// Parameters reports the learned affine transform.
func (q *ScalarQuantizer) Parameters() (min, max, scale, offset float32) {
	return q.min, q.max, q.scale, q.offset
}
