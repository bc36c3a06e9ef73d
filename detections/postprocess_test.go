package detections

import (
	"math"
	"testing"

	"go.viam.com/test"

	"github.com/Tutortoise/face-overlay/models"
)

const epsilon = 1e-5

func anchorTensors() ([]float32, []float32) {
	return make([]float32, NumAnchors), make([]float32, NumAnchors*BoxStride)
}

func setBox(boxes []float32, i int, y, x, h, w float32) {
	copy(boxes[i*BoxStride:], []float32{y, x, h, w})
}

func shouldBeBox(t *testing.T, got, want models.BoundingBox) {
	t.Helper()
	test.That(t, got.X1, test.ShouldAlmostEqual, want.X1, epsilon)
	test.That(t, got.Y1, test.ShouldAlmostEqual, want.Y1, epsilon)
	test.That(t, got.X2, test.ShouldAlmostEqual, want.X2, epsilon)
	test.That(t, got.Y2, test.ShouldAlmostEqual, want.Y2, epsilon)
}

func TestDecodeThresholdIsStrict(t *testing.T) {
	scores, boxes := anchorTensors()
	scores[3] = 0.75
	scores[7] = 0.751
	setBox(boxes, 3, 0.5, 0.5, 0.2, 0.2)
	setBox(boxes, 7, 0.5, 0.5, 0.2, 0.2)

	out, err := NewDecoder(ConfThreshold).Decode(scores, boxes, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldEqual, 1)
	shouldBeBox(t, out[0], models.BoundingBox{X1: 0.4, Y1: 0.4, X2: 0.6, Y2: 0.6})
}

func TestDecodeClamps(t *testing.T) {
	scores, boxes := anchorTensors()
	scores[0] = 0.9
	setBox(boxes, 0, 0.05, 0.95, 0.3, 0.4)
	scores[1] = 0.9
	setBox(boxes, 1, 0.5, 0.5, 3, 3)

	out, err := NewDecoder(ConfThreshold).Decode(scores, boxes, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldEqual, 2)
	shouldBeBox(t, out[0], models.BoundingBox{X1: 0.75, Y1: 0, X2: 1, Y2: 0.2})
	test.That(t, out[1], test.ShouldResemble, models.BoundingBox{X1: 0, Y1: 0, X2: 1, Y2: 1})
}

func TestDecodeKeepsAnchorOrder(t *testing.T) {
	scores, boxes := anchorTensors()
	for i, s := range map[int]float32{10: 0.8, 200: 0.99, 895: 0.76, 42: 0.95} {
		scores[i] = s
		setBox(boxes, i, float32(i)/1000, 0.5, 0.01, 0.01)
	}

	out, err := NewDecoder(ConfThreshold).Decode(scores, boxes, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldEqual, 4)
	for i, anchor := range []int{10, 42, 200, 895} {
		test.That(t, out[i].Y1, test.ShouldAlmostEqual, float32(anchor)/1000-0.005, epsilon)
	}
}

func TestDecodeKeepsOverlapsAndInvertedBoxes(t *testing.T) {
	scores, boxes := anchorTensors()
	scores[0], scores[1] = 0.9, 0.9
	setBox(boxes, 0, 0.5, 0.5, 0.2, 0.2)
	setBox(boxes, 1, 0.5, 0.5, 0.2, 0.2)
	scores[2] = 0.9
	setBox(boxes, 2, 0.5, 0.5, -0.2, -0.4)

	out, err := NewDecoder(ConfThreshold).Decode(scores, boxes, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldEqual, 3)
	test.That(t, out[0], test.ShouldResemble, out[1])
	shouldBeBox(t, out[2], models.BoundingBox{X1: 0.7, Y1: 0.6, X2: 0.3, Y2: 0.4})
}

func TestDecodeDoesNotMutateInputs(t *testing.T) {
	scores, boxes := anchorTensors()
	scores[5] = 0.9
	setBox(boxes, 5, -1, 2, 1, 1)
	origScores := append([]float32(nil), scores...)
	origBoxes := append([]float32(nil), boxes...)

	_, err := NewDecoder(ConfThreshold).Decode(scores, boxes, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scores, test.ShouldResemble, origScores)
	test.That(t, boxes, test.ShouldResemble, origBoxes)
}

func TestDecodeReusesDestination(t *testing.T) {
	scores, boxes := anchorTensors()
	scores[1] = 0.9
	dst := make([]models.BoundingBox, 3, 16)
	out, err := NewDecoder(ConfThreshold).Decode(scores, boxes, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldEqual, 1)
	test.That(t, &out[0], test.ShouldEqual, &dst[0])
}

func TestDecodeConfigurableThreshold(t *testing.T) {
	scores, boxes := anchorTensors()
	scores[0] = 0.6
	out, err := NewDecoder(0.5).Decode(scores, boxes, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldEqual, 1)
}

func TestDecodeRejectsShortBoxes(t *testing.T) {
	scores, _ := anchorTensors()
	_, err := NewDecoder(ConfThreshold).Decode(scores, make([]float32, 10), nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unexpected boxes length")
}

func TestDecodeThenMap(t *testing.T) {
	scores, boxes := anchorTensors()
	scores[0] = 0.9
	setBox(boxes, 0, 0.5, 0.5, 0.1, 0.2)

	out, err := NewDecoder(ConfThreshold).Decode(scores, boxes, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldEqual, 1)
	shouldBeBox(t, out[0], models.BoundingBox{X1: 0.4, Y1: 0.45, X2: 0.6, Y2: 0.55})

	mapped := MapToDestination(out[0], 960, 1080)
	test.That(t, mapped.X1, test.ShouldAlmostEqual, 384, 1e-3)
	test.That(t, mapped.Y1, test.ShouldAlmostEqual, 486, 1e-3)
	test.That(t, mapped.X2, test.ShouldAlmostEqual, 576, 1e-3)
	test.That(t, mapped.Y2, test.ShouldAlmostEqual, 594, 1e-3)
}

func TestDecodeSkipsNaNScores(t *testing.T) {
	scores, boxes := anchorTensors()
	scores[0] = float32(math.NaN())
	setBox(boxes, 0, 0.5, 0.5, 0.2, 0.2)
	scores[1] = 0.9
	setBox(boxes, 1, 0.5, 0.5, 0.2, 0.2)

	out, err := NewDecoder(ConfThreshold).Decode(scores, boxes, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldEqual, 1)
	shouldBeBox(t, out[0], models.BoundingBox{X1: 0.4, Y1: 0.4, X2: 0.6, Y2: 0.6})
}

func TestDecodeClampsNaNCoordinates(t *testing.T) {
	scores, boxes := anchorTensors()
	scores[0] = 0.9
	setBox(boxes, 0, 0.5, float32(math.NaN()), 0.2, 0.2)

	out, err := NewDecoder(ConfThreshold).Decode(scores, boxes, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldEqual, 1)
	shouldBeBox(t, out[0], models.BoundingBox{X1: 1, Y1: 0.4, X2: 1, Y2: 0.6})
}

func TestClampUnit(t *testing.T) {
	for _, tc := range []struct {
		in, want float32
	}{
		{-0.5, 0},
		{0, 0},
		{0.3, 0.3},
		{1, 1},
		{1.7, 1},
		{float32(math.Inf(1)), 1},
		{float32(math.Inf(-1)), 0},
		{float32(math.NaN()), 1},
	} {
		test.That(t, clampUnit(tc.in), test.ShouldEqual, tc.want)
	}
}
