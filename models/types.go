package models

import (
	"fmt"
	"time"
)

// BytesPerPixel is the size of one captured B,G,R,A pixel.
const BytesPerPixel = 4

// Frame is one captured snapshot of the screen. Pix holds B,G,R,A bytes and is
// only valid until the next capture.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
}

// RowStride returns the distance in bytes between two rows.
func (f Frame) RowStride() int {
	if f.Stride == 0 {
		return f.Width * BytesPerPixel
	}
	return f.Stride
}

func (f Frame) Validate() error {
	if f.Width < 1 || f.Height < 1 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	stride := f.RowStride()
	if stride < f.Width*BytesPerPixel {
		return fmt.Errorf("frame stride %d shorter than row of %d pixels", stride, f.Width)
	}
	if need := (f.Height-1)*stride + f.Width*BytesPerPixel; len(f.Pix) < need {
		return fmt.Errorf("frame buffer too short: got %d bytes, want %d", len(f.Pix), need)
	}
	return nil
}

// BoundingBox is a detection rectangle. After postprocessing the corners are
// normalized to [0,1]; after mapping they are in destination pixels.
// X1 <= X2 and Y1 <= Y2 is not guaranteed.
type BoundingBox struct {
	X1, Y1, X2, Y2 float32
}

type ProcessingTimings struct {
	Cycle       int64
	Capture     time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Mapping     time.Duration
	Render      time.Duration
	Total       time.Duration
}
