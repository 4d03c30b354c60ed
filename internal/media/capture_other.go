//go:build !linux || !cgo

package media

import (
	"errors"
)

// unsupportedDevice is used on platforms without mediadevices drivers.
// Camera/mic capture via pion/mediadevices requires platform-specific
// drivers (V4L2/malgo/X11 on Linux); elsewhere the session falls back to
// the both-off state.
type unsupportedDevice struct{}

// NewCaptureDevice creates the hardware capture device for this platform.
func NewCaptureDevice() (Device, error) {
	return unsupportedDevice{}, nil
}

func (unsupportedDevice) GetUserMedia(Constraints) (*Stream, error) {
	return nil, errors.New("hardware capture requires the linux build")
}

func (unsupportedDevice) GetDisplayMedia() (*Stream, error) {
	return nil, ErrScreenShareUnsupported
}
