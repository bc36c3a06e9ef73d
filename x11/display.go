// Package x11 talks to the X server: screen capture over MIT-SHM and a
// transparent click-through overlay window for drawing boxes.
package x11

import (
	"fmt"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"go.uber.org/zap"
)

// Display is a connection to an X server and its default screen.
type Display struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	logger *zap.SugaredLogger

	closeOnce sync.Once
}

// Open connects to the named display. An empty name uses $DISPLAY.
func Open(name string, logger *zap.SugaredLogger) (*Display, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	// xgb reports protocol noise through the standard logger.
	xgb.Logger = zap.NewStdLog(logger.Desugar().Named("xgb"))

	conn, err := xgb.NewConnDisplay(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open X display %q: %w", name, err)
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)

	logger.Infow("connected to X server",
		"display", name,
		"width", screen.WidthInPixels,
		"height", screen.HeightInPixels,
		"depth", screen.RootDepth)

	return &Display{conn: conn, screen: screen, logger: logger}, nil
}

// Size is the default screen size in pixels.
func (d *Display) Size() (int, int) {
	return int(d.screen.WidthInPixels), int(d.screen.HeightInPixels)
}

func (d *Display) root() xproto.Window {
	return d.screen.Root
}

// Close is safe to call more than once.
func (d *Display) Close() error {
	d.closeOnce.Do(func() {
		d.conn.Close()
	})
	return nil
}
