//go:build !linux

package x11

import (
	"errors"

	"github.com/Tutortoise/face-overlay/models"
)

// Capturer needs SysV shared memory, which is only wired up on Linux.
type Capturer struct{}

func NewCapturer(d *Display) (*Capturer, error) {
	return nil, errors.New("MIT-SHM capture is only supported on linux")
}

func (c *Capturer) Capture() (models.Frame, error) {
	return models.Frame{}, errors.New("MIT-SHM capture is only supported on linux")
}

func (c *Capturer) Close() error { return nil }
