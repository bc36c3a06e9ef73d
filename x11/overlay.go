package x11

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/shape"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Tutortoise/face-overlay/models"
)

const (
	DefaultColor     uint32 = 0xFFFF0000
	DefaultLineWidth        = 2
)

type OverlayOptions struct {
	// Color is an ARGB pixel value for the 32-bit visual.
	Color     uint32
	LineWidth int
}

// Overlay is a screen-sized, override-redirect ARGB window that ignores input
// and shows only the rectangles of the most recent Draw.
type Overlay struct {
	conn     *xgb.Conn
	window   xproto.Window
	colormap xproto.Colormap
	gc       xproto.Gcontext
	width    int
	height   int
	logger   *zap.SugaredLogger

	rects []xproto.Rectangle

	closeOnce sync.Once
	closeErr  error
}

func NewOverlay(d *Display, opts OverlayOptions) (*Overlay, error) {
	if opts.Color == 0 {
		opts.Color = DefaultColor
	}
	if opts.LineWidth <= 0 {
		opts.LineWidth = DefaultLineWidth
	}

	if err := xfixes.Init(d.conn); err != nil {
		return nil, fmt.Errorf("XFIXES extension not available: %w", err)
	}
	if _, err := xfixes.QueryVersion(d.conn, 5, 0).Reply(); err != nil {
		return nil, fmt.Errorf("XFIXES version query: %w", err)
	}

	visual, ok := findARGBVisual(d.screen)
	if !ok {
		return nil, errors.New("no 32-bit TrueColor visual found for transparency")
	}

	width, height := d.Size()
	o := &Overlay{conn: d.conn, width: width, height: height, logger: d.logger}

	if err := o.create(d.root(), visual, opts); err != nil {
		return nil, multierr.Append(err, o.release())
	}

	d.logger.Infow("overlay window mapped",
		"window", o.window,
		"visual", visual,
		"color", fmt.Sprintf("%#08x", opts.Color),
		"line_width", opts.LineWidth)
	return o, nil
}

func (o *Overlay) create(root xproto.Window, visual xproto.Visualid, opts OverlayOptions) error {
	cmap, err := xproto.NewColormapId(o.conn)
	if err != nil {
		return fmt.Errorf("allocate colormap id: %w", err)
	}
	if err := xproto.CreateColormapChecked(o.conn, xproto.ColormapAllocNone, cmap, root, visual).Check(); err != nil {
		return fmt.Errorf("create colormap: %w", err)
	}
	o.colormap = cmap

	wid, err := xproto.NewWindowId(o.conn)
	if err != nil {
		return fmt.Errorf("allocate window id: %w", err)
	}
	mask := uint32(xproto.CwBackPixel | xproto.CwBorderPixel | xproto.CwOverrideRedirect | xproto.CwColormap)
	values := []uint32{0, 0, 1, uint32(cmap)}
	if err := xproto.CreateWindowChecked(o.conn, 32, wid, root,
		0, 0, uint16(o.width), uint16(o.height), 0,
		xproto.WindowClassInputOutput, visual, mask, values).Check(); err != nil {
		return fmt.Errorf("failed to create overlay window: %w", err)
	}
	o.window = wid

	if err := o.passInput(); err != nil {
		return err
	}

	if err := xproto.MapWindowChecked(o.conn, wid).Check(); err != nil {
		return fmt.Errorf("map overlay window: %w", err)
	}
	o.raise()

	gc, err := xproto.NewGcontextId(o.conn)
	if err != nil {
		return fmt.Errorf("allocate gc id: %w", err)
	}
	if err := xproto.CreateGCChecked(o.conn, gc, xproto.Drawable(wid),
		xproto.GcForeground|xproto.GcLineWidth,
		[]uint32{opts.Color, uint32(opts.LineWidth)}).Check(); err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	o.gc = gc
	return nil
}

// passInput sets an empty input shape so clicks reach the windows below.
func (o *Overlay) passInput() error {
	region, err := xfixes.NewRegionId(o.conn)
	if err != nil {
		return fmt.Errorf("allocate region id: %w", err)
	}
	if err := xfixes.CreateRegionChecked(o.conn, region, nil).Check(); err != nil {
		return fmt.Errorf("create empty region: %w", err)
	}
	defer xfixes.DestroyRegion(o.conn, region)

	if err := xfixes.SetWindowShapeRegionChecked(o.conn, o.window, shape.SkInput, 0, 0, region).Check(); err != nil {
		return fmt.Errorf("set input shape: %w", err)
	}
	return nil
}

func (o *Overlay) raise() {
	xproto.ConfigureWindow(o.conn, o.window, xproto.ConfigWindowStackMode, []uint32{xproto.StackModeAbove})
}

func (o *Overlay) Size() (int, int) {
	return o.width, o.height
}

// Draw clears the window and outlines every box, then raises the window.
func (o *Overlay) Draw(boxes []models.BoundingBox) error {
	xproto.ClearArea(o.conn, false, o.window, 0, 0, 0, 0)
	o.rects = rectangles(boxes, o.rects)
	if len(o.rects) > 0 {
		xproto.PolyRectangle(o.conn, xproto.Drawable(o.window), o.gc, o.rects)
	}
	o.raise()

	// A round trip flushes the requests and surfaces any asynchronous error.
	if _, err := xproto.GetInputFocus(o.conn).Reply(); err != nil {
		return fmt.Errorf("overlay draw: %w", err)
	}
	return nil
}

// Close is safe to call more than once.
func (o *Overlay) Close() error {
	o.closeOnce.Do(func() {
		o.closeErr = o.release()
	})
	return o.closeErr
}

func (o *Overlay) release() error {
	var err error
	if o.gc != 0 {
		err = multierr.Append(err, xproto.FreeGCChecked(o.conn, o.gc).Check())
	}
	if o.window != 0 {
		err = multierr.Append(err, xproto.DestroyWindowChecked(o.conn, o.window).Check())
	}
	if o.colormap != 0 {
		err = multierr.Append(err, xproto.FreeColormapChecked(o.conn, o.colormap).Check())
	}
	return err
}

// findARGBVisual returns the first 32-bit TrueColor visual of the screen.
func findARGBVisual(screen *xproto.ScreenInfo) (xproto.Visualid, bool) {
	for _, depth := range screen.AllowedDepths {
		if depth.Depth != 32 {
			continue
		}
		for _, v := range depth.Visuals {
			if v.Class == xproto.VisualClassTrueColor {
				return v.VisualId, true
			}
		}
	}
	return 0, false
}

// rectangles converts pixel boxes to X rectangles. The origin and the extent
// are each truncated toward zero, so the extent is int(x2-x1) rather than the
// difference of truncated corners. Inverted boxes are outlined from their
// smaller corner.
func rectangles(boxes []models.BoundingBox, dst []xproto.Rectangle) []xproto.Rectangle {
	dst = dst[:0]
	for _, b := range boxes {
		x, w := extent(b.X1, b.X2)
		y, h := extent(b.Y1, b.Y2)
		dst = append(dst, xproto.Rectangle{X: x, Y: y, Width: w, Height: h})
	}
	return dst
}

func extent(lo, hi float32) (int16, uint16) {
	if hi < lo {
		lo, hi = hi, lo
	}
	size := int(hi - lo)
	if size > math.MaxUint16 {
		size = math.MaxUint16
	}
	return int16(truncate(lo)), uint16(size)
}

func truncate(v float32) int {
	i := int(v)
	if i < math.MinInt16 {
		return math.MinInt16
	}
	if i > math.MaxInt16 {
		return math.MaxInt16
	}
	return i
}
