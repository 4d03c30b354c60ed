// Package media owns the local capture streams: at most one camera/mic
// stream and one screen-share stream per process. No other component mutates
// them; the rendering layer only borrows references.
package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TrackKind distinguishes audio and video tracks.
type TrackKind string

const (
	Audio TrackKind = "audio"
	Video TrackKind = "video"
)

// ErrScreenShareUnsupported is returned when the platform/build lacks
// display capture.
var ErrScreenShareUnsupported = errors.New("screen sharing not supported on this device/build")

// AcquisitionError wraps a device/permission failure during capture.
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition: %v", e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Constraints selects which track kinds to capture. Video capture requests
// front-facing frames at 30fps.
type Constraints struct {
	Audio bool
	Video bool
}

// Track is one capture track. Enabled can be flipped in place without
// renegotiating the stream — the preferred mute/unmute path.
type Track struct {
	kind TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
	stopFn  func()
}

// NewTrack creates an enabled track. stopFn releases the underlying capture
// resource and may be nil.
func NewTrack(kind TrackKind, stopFn func()) *Track {
	return &Track{kind: kind, enabled: true, stopFn: stopFn}
}

// Kind returns the track kind.
func (t *Track) Kind() TrackKind { return t.kind }

// Enabled reports whether the track is live (unmuted).
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled toggles the track in place.
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// Stop releases the underlying capture resource. Idempotent.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	fn := t.stopFn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stream is a set of capture tracks with a shared lifecycle.
type Stream struct {
	id     string
	tracks []*Track

	mu      sync.Mutex
	onEnded func()
	ended   bool
}

// NewStream groups tracks into a stream.
func NewStream(tracks ...*Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

// ID returns the stream id.
func (s *Stream) ID() string { return s.id }

// Tracks returns all tracks.
func (s *Stream) Tracks() []*Track {
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// HasTrack reports whether the stream carries a track of the given kind.
func (s *Stream) HasTrack(kind TrackKind) bool {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

// SetTrackEnabled toggles all tracks of a kind in place. Returns true when
// at least one track of that kind exists.
func (s *Stream) SetTrackEnabled(kind TrackKind, enabled bool) bool {
	found := false
	for _, t := range s.tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
			found = true
		}
	}
	return found
}

// TrackEnabled reports whether a track of the given kind is enabled.
func (s *Stream) TrackEnabled(kind TrackKind) bool {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t.Enabled()
		}
	}
	return false
}

// Stop stops every track. Idempotent.
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// OnEnded registers fn to run when the stream terminates on its own, e.g.
// the user stops a screen share from the OS chrome. At most one handler.
func (s *Stream) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

// FireEnded signals asynchronous stream termination. Called by device
// implementations; fires the OnEnded handler once.
func (s *Stream) FireEnded() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Device is the platform capture boundary.
type Device interface {
	// GetUserMedia opens a camera/microphone stream with the given track mix.
	// At least one of Audio/Video must be requested.
	GetUserMedia(c Constraints) (*Stream, error)

	// GetDisplayMedia opens a display-capture stream (video only). Fails with
	// ErrScreenShareUnsupported when the platform lacks the capability.
	GetDisplayMedia() (*Stream, error)
}
