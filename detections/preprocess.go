package detections

import (
	"fmt"

	"github.com/Tutortoise/face-overlay/models"
)

// normalized maps a channel byte to (c/255 - 0.5) * 2.
var normalized [256]float32

func init() {
	for i := range normalized {
		normalized[i] = (float32(i)/255.0 - 0.5) * 2.0
	}
}

// Preprocess resizes src to outW x outH with nearest-neighbour sampling and
// writes it as row-major R,G,B floats in [-1,1]. dst is reused when it already
// has the right length.
func Preprocess(src models.Frame, outW, outH int, dst []float32) ([]float32, error) {
	if outW < 1 || outH < 1 {
		return nil, fmt.Errorf("invalid tensor size %dx%d", outW, outH)
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}

	size := outW * outH * InputChannels
	if len(dst) != size {
		dst = make([]float32, size)
	}

	inW, inH := src.Width, src.Height
	stride := src.RowStride()
	for y := 0; y < outH; y++ {
		py := clampIndex(y*inH/outH, inH)
		row := src.Pix[py*stride:]
		offset := y * outW * InputChannels
		for x := 0; x < outW; x++ {
			px := clampIndex(x*inW/outW, inW)
			pixel := row[px*models.BytesPerPixel : px*models.BytesPerPixel+models.BytesPerPixel]
			i := offset + x*InputChannels
			dst[i] = normalized[pixel[2]]
			dst[i+1] = normalized[pixel[1]]
			dst[i+2] = normalized[pixel[0]]
		}
	}
	return dst, nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}
