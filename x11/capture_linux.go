//go:build linux

package x11

import (
	"fmt"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/shm"
	"github.com/jezek/xgb/xproto"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/Tutortoise/face-overlay/models"
)

// Capturer grabs the root window into a SysV shared memory segment shared with
// the X server. Frames returned by Capture alias that segment and are
// overwritten by the next call.
type Capturer struct {
	conn   *xgb.Conn
	root   xproto.Window
	width  int
	height int

	seg   shm.Seg
	shmID int
	buf   []byte

	closeOnce sync.Once
	closeErr  error
}

func NewCapturer(d *Display) (*Capturer, error) {
	if err := shm.Init(d.conn); err != nil {
		return nil, fmt.Errorf("MIT-SHM extension not available: %w", err)
	}
	width, height := d.Size()
	size := width * height * models.BytesPerPixel

	id, err := unix.SysvShmGet(unix.IPC_PRIVATE, size, unix.IPC_CREAT|0o600)
	if err != nil {
		return nil, fmt.Errorf("shmget %d bytes: %w", size, err)
	}
	buf, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return nil, fmt.Errorf("shmat: %w", err)
	}

	c := &Capturer{
		conn:   d.conn,
		root:   d.root(),
		width:  width,
		height: height,
		shmID:  id,
		buf:    buf,
	}

	seg, err := shm.NewSegId(d.conn)
	if err == nil {
		c.seg = seg
		err = shm.AttachChecked(d.conn, seg, uint32(id), false).Check()
	}
	if err != nil {
		err = fmt.Errorf("attach shared memory to X server: %w", err)
		return nil, multierr.Append(err, c.release(false))
	}

	d.logger.Debugw("capture segment attached", "shmid", id, "bytes", size)
	return c, nil
}

func (c *Capturer) Capture() (models.Frame, error) {
	reply, err := shm.GetImage(c.conn, xproto.Drawable(c.root),
		0, 0, uint16(c.width), uint16(c.height),
		0xffffffff, xproto.ImageFormatZPixmap, c.seg, 0).Reply()
	if err != nil {
		return models.Frame{}, fmt.Errorf("shm get image: %w", err)
	}
	if reply.Depth < 24 {
		return models.Frame{}, fmt.Errorf("unsupported root depth %d", reply.Depth)
	}
	return models.Frame{
		Pix:    c.buf,
		Width:  c.width,
		Height: c.height,
		Stride: c.width * models.BytesPerPixel,
	}, nil
}

// Close detaches and removes the segment. It is safe to call more than once.
func (c *Capturer) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.release(true)
	})
	return c.closeErr
}

func (c *Capturer) release(attached bool) error {
	var err error
	if attached {
		err = multierr.Append(err, shm.DetachChecked(c.conn, c.seg).Check())
	}
	if c.buf != nil {
		err = multierr.Append(err, unix.SysvShmDetach(c.buf))
		c.buf = nil
	}
	if _, rmErr := unix.SysvShmCtl(c.shmID, unix.IPC_RMID, nil); rmErr != nil {
		err = multierr.Append(err, fmt.Errorf("remove shm segment: %w", rmErr))
	}
	return err
}
