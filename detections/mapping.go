package detections

import "github.com/Tutortoise/face-overlay/models"

// MapToDestination scales a normalized box into a dstW x dstH pixel space.
func MapToDestination(b models.BoundingBox, dstW, dstH int) models.BoundingBox {
	w, h := float32(dstW), float32(dstH)
	return models.BoundingBox{
		X1: b.X1 * w,
		Y1: b.Y1 * h,
		X2: b.X2 * w,
		Y2: b.Y2 * h,
	}
}

// MapAll maps every box of src into dst[:0].
func MapAll(src []models.BoundingBox, dstW, dstH int, dst []models.BoundingBox) []models.BoundingBox {
	out := dst[:0]
	for _, b := range src {
		out = append(out, MapToDestination(b, dstW, dstH))
	}
	return out
}
