package detections

import (
	"fmt"

	"github.com/Tutortoise/face-overlay/models"
)

// Decoder turns the raw score and box tensors of an anchor-based face model
// into normalized boxes. Overlapping boxes for the same face are all kept.
type Decoder struct {
	Threshold float32
	BoxStride int
}

func NewDecoder(threshold float32) *Decoder {
	return &Decoder{
		Threshold: threshold,
		BoxStride: BoxStride,
	}
}

// Decode appends one box per anchor whose score is strictly above the
// threshold, in anchor order, to dst[:0]. Each box group starts with
// y_center, x_center, height, width.
func (d *Decoder) Decode(scores, boxes []float32, dst []models.BoundingBox) ([]models.BoundingBox, error) {
	stride := d.BoxStride
	if stride < 4 {
		return nil, fmt.Errorf("box stride %d too small, need at least 4", stride)
	}
	if len(boxes) < len(scores)*stride {
		return nil, fmt.Errorf("unexpected boxes length: got %d, want %d", len(boxes), len(scores)*stride)
	}

	out := dst[:0]
	for i, score := range scores {
		// NaN scores never pass.
		if !(score > d.Threshold) {
			continue
		}
		group := boxes[i*stride : i*stride+4]
		yCenter, xCenter := group[0], group[1]
		h, w := group[2], group[3]

		out = append(out, models.BoundingBox{
			X1: clampUnit(xCenter - w/2),
			Y1: clampUnit(yCenter - h/2),
			X2: clampUnit(xCenter + w/2),
			Y2: clampUnit(yCenter + h/2),
		})
	}
	return out, nil
}

// clampUnit maps v into [0,1]; NaN becomes 1.
func clampUnit(v float32) float32 {
	return max32(0, minF32(1, v))
}

// minF32 returns a unless b is strictly smaller, so a NaN b yields a.
func minF32(a, b float32) float32 {
	if b < a {
		return b
	}
	return a
}

// max32 returns a unless b is strictly larger, so a NaN b yields a.
func max32(a, b float32) float32 {
	if a < b {
		return b
	}
	return a
}
