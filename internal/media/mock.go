package media

import (
	"sync"
)

// MockDevice is a mock capture device for tests and offline simulation.
type MockDevice struct {
	mu sync.Mutex

	// UserMediaErr, when set, fails GetUserMedia (permission denial etc).
	UserMediaErr error

	// DisplayErr, when set, fails GetDisplayMedia. Defaults to supported.
	DisplayErr error

	userMedia []*Stream
	displays  []*Stream
}

// NewMockDevice creates a device that grants every request.
func NewMockDevice() *MockDevice {
	return &MockDevice{}
}

// GetUserMedia returns a stream with the requested track mix.
func (d *MockDevice) GetUserMedia(c Constraints) (*Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.UserMediaErr != nil {
		return nil, d.UserMediaErr
	}
	var tracks []*Track
	if c.Audio {
		tracks = append(tracks, NewTrack(Audio, nil))
	}
	if c.Video {
		tracks = append(tracks, NewTrack(Video, nil))
	}
	s := NewStream(tracks...)
	d.userMedia = append(d.userMedia, s)
	return s, nil
}

// GetDisplayMedia returns a video-only stream.
func (d *MockDevice) GetDisplayMedia() (*Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DisplayErr != nil {
		return nil, d.DisplayErr
	}
	s := NewStream(NewTrack(Video, nil))
	d.displays = append(d.displays, s)
	return s, nil
}

// UserMediaStreams returns every camera/mic stream handed out.
func (d *MockDevice) UserMediaStreams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Stream, len(d.userMedia))
	copy(out, d.userMedia)
	return out
}

// LastDisplay returns the most recent display stream, or nil.
func (d *MockDevice) LastDisplay() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.displays) == 0 {
		return nil
	}
	return d.displays[len(d.displays)-1]
}
