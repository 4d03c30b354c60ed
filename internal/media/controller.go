package media

import (
	"github.com/rs/zerolog"
)

// Controller is the sole owner of the local camera/mic stream and the
// screen-share stream. Callers must not retain streams beyond handing them
// to the rendering layer.
//
// Open/OpenScreenShare perform only the (possibly slow) device acquisition
// and return an unowned stream; SetLocal/SetShare adopt a stream into the
// controller. This split lets the session run acquisition off its event loop
// and discard stale results before adoption.
type Controller struct {
	dev Device
	log zerolog.Logger

	local *Stream
	share *Stream
}

// NewController creates a controller over the given capture device.
func NewController(dev Device, log zerolog.Logger) *Controller {
	return &Controller{
		dev: dev,
		log: log.With().Str("component", "media").Logger(),
	}
}

// Open acquires a camera/mic stream without adopting it.
func (c *Controller) Open(constraints Constraints) (*Stream, error) {
	stream, err := c.dev.GetUserMedia(constraints)
	if err != nil {
		return nil, &AcquisitionError{Err: err}
	}
	return stream, nil
}

// OpenScreenShare acquires a display-capture stream without adopting it.
func (c *Controller) OpenScreenShare() (*Stream, error) {
	return c.dev.GetDisplayMedia()
}

// Acquire opens a camera/mic stream and adopts it, releasing any previous
// one. Requesting neither audio nor video is a stop operation: the current
// stream is released and no new one is created.
func (c *Controller) Acquire(constraints Constraints) (*Stream, error) {
	if !constraints.Audio && !constraints.Video {
		c.ReleaseLocal()
		return nil, nil
	}
	stream, err := c.Open(constraints)
	if err != nil {
		return nil, err
	}
	c.SetLocal(stream)
	return stream, nil
}

// SetLocal adopts a camera/mic stream, releasing any previous one.
func (c *Controller) SetLocal(s *Stream) {
	if c.local != nil && c.local != s {
		c.local.Stop()
	}
	c.local = s
}

// SetShare adopts a screen-share stream, releasing any previous one.
func (c *Controller) SetShare(s *Stream) {
	if c.share != nil && c.share != s {
		c.share.Stop()
	}
	c.share = s
}

// Local returns the adopted camera/mic stream, or nil.
func (c *Controller) Local() *Stream { return c.local }

// Share returns the adopted screen-share stream, or nil.
func (c *Controller) Share() *Stream { return c.share }

// ReleaseLocal stops and drops the camera/mic stream. Safe with none held.
func (c *Controller) ReleaseLocal() {
	if c.local == nil {
		return
	}
	c.local.Stop()
	c.local = nil
}

// ReleaseShare stops and drops the screen-share stream. Safe with none held.
func (c *Controller) ReleaseShare() {
	if c.share == nil {
		return
	}
	c.share.Stop()
	c.share = nil
}

// Release stops s and drops it from the controller if adopted. Safe with nil.
func (c *Controller) Release(s *Stream) {
	if s == nil {
		return
	}
	s.Stop()
	if c.local == s {
		c.local = nil
	}
	if c.share == s {
		c.share = nil
	}
}

// SetLocalTrackEnabled toggles local tracks of a kind in place. Returns
// false when no track of that kind exists — the caller then reacquires.
func (c *Controller) SetLocalTrackEnabled(kind TrackKind, enabled bool) bool {
	if c.local == nil {
		return false
	}
	return c.local.SetTrackEnabled(kind, enabled)
}

// HasLocalTrack reports whether the camera/mic stream has a track of kind.
func (c *Controller) HasLocalTrack(kind TrackKind) bool {
	return c.local != nil && c.local.HasTrack(kind)
}
