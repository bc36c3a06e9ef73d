// Package snapshot writes debug JPEGs of captured frames with the detected
// boxes drawn on top.
package snapshot

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"go.uber.org/zap"

	"github.com/Tutortoise/face-overlay/detections"
	"github.com/Tutortoise/face-overlay/models"
)

const (
	DefaultWidth = 960
	jpegQuality  = 85
)

type Writer struct {
	dir    string
	width  int
	logger *zap.SugaredLogger

	rgba  *image.NRGBA
	boxes []models.BoundingBox
}

// New creates dir if needed. Frames wider than width are downscaled to it.
func New(dir string, width int, logger *zap.SugaredLogger) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("snapshot directory is empty")
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Writer{dir: dir, width: width, logger: logger}, nil
}

// Path is the file a snapshot of cycle is written to.
func (w *Writer) Path(cycle int64) string {
	return filepath.Join(w.dir, fmt.Sprintf("snapshot_%06d.jpg", cycle))
}

// Save draws the normalized boxes over frame and writes it as a JPEG.
func (w *Writer) Save(cycle int64, frame models.Frame, boxes []models.BoundingBox) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	w.rgba = toNRGBA(frame, w.rgba)

	var img image.Image = w.rgba
	if frame.Width > w.width {
		img = imaging.Resize(w.rgba, w.width, 0, imaging.Linear)
	}
	size := img.Bounds().Size()

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 0, 0)
	dc.SetLineWidth(2)
	w.boxes = detections.MapAll(boxes, size.X, size.Y, w.boxes)
	for _, b := range w.boxes {
		dc.DrawRectangle(float64(b.X1), float64(b.Y1), float64(b.X2-b.X1), float64(b.Y2-b.Y1))
	}
	dc.Stroke()

	path := w.Path(cycle)
	if err := imaging.Save(dc.Image(), path, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	w.logger.Debugw("snapshot saved", "cycle", cycle, "path", path, "boxes", len(boxes))
	return nil
}

// toNRGBA converts a BGRA frame into an opaque NRGBA image, reusing dst when
// it has the right size.
func toNRGBA(frame models.Frame, dst *image.NRGBA) *image.NRGBA {
	if dst == nil || dst.Rect.Dx() != frame.Width || dst.Rect.Dy() != frame.Height {
		dst = image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	}
	stride := frame.RowStride()
	for y := 0; y < frame.Height; y++ {
		src := frame.Pix[y*stride : y*stride+frame.Width*models.BytesPerPixel]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+frame.Width*4]
		for x := 0; x < len(src); x += 4 {
			out[x+0] = src[x+2]
			out[x+1] = src[x+1]
			out[x+2] = src[x+0]
			out[x+3] = 0xff
		}
	}
	return dst
}
