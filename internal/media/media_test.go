package media

import (
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testController(t *testing.T) (*Controller, *MockDevice) {
	t.Helper()
	dev := NewMockDevice()
	return NewController(dev, zerolog.New(io.Discard)), dev
}

func TestAcquireTrackMix(t *testing.T) {
	c, _ := testController(t)

	stream, err := c.Acquire(Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	require.True(t, stream.HasTrack(Audio))
	require.True(t, stream.HasTrack(Video))
	require.Same(t, stream, c.Local())

	stream, err = c.Acquire(Constraints{Audio: true})
	require.NoError(t, err)
	require.True(t, stream.HasTrack(Audio))
	require.False(t, stream.HasTrack(Video))
}

func TestAcquireBothOffIsStop(t *testing.T) {
	c, _ := testController(t)

	first, err := c.Acquire(Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	track := first.Tracks()[0]

	stream, err := c.Acquire(Constraints{})
	require.NoError(t, err)
	require.Nil(t, stream, "both-off acquire must not create a stream")
	require.Nil(t, c.Local())

	track.Stop() // already stopped by release; must stay idempotent
}

func TestAcquireReleasesPreviousStream(t *testing.T) {
	c, dev := testController(t)

	_, err := c.Acquire(Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	_, err = c.Acquire(Constraints{Audio: true, Video: true})
	require.NoError(t, err)

	streams := dev.UserMediaStreams()
	require.Len(t, streams, 2)
	require.Same(t, streams[1], c.Local(), "only the newest stream may stay live")
}

func TestAcquisitionFailureIsTyped(t *testing.T) {
	c, dev := testController(t)
	cause := errors.New("permission denied")
	dev.UserMediaErr = cause

	_, err := c.Acquire(Constraints{Audio: true, Video: true})

	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	require.ErrorIs(t, err, cause)
}

func TestSetTrackEnabledTogglesInPlace(t *testing.T) {
	c, dev := testController(t)

	stream, err := c.Acquire(Constraints{Audio: true, Video: true})
	require.NoError(t, err)

	require.True(t, c.SetLocalTrackEnabled(Audio, false))
	require.False(t, stream.TrackEnabled(Audio))
	require.True(t, stream.TrackEnabled(Video), "other kinds must be untouched")

	require.True(t, c.SetLocalTrackEnabled(Audio, true))
	require.True(t, stream.TrackEnabled(Audio))

	require.Len(t, dev.UserMediaStreams(), 1, "toggling must not reacquire the stream")
}

func TestSetTrackEnabledReportsMissingKind(t *testing.T) {
	c, _ := testController(t)

	require.False(t, c.SetLocalTrackEnabled(Audio, true), "no stream held")

	_, err := c.Acquire(Constraints{Audio: true})
	require.NoError(t, err)
	require.False(t, c.SetLocalTrackEnabled(Video, true), "video was never opened")
	require.True(t, c.HasLocalTrack(Audio))
	require.False(t, c.HasLocalTrack(Video))
}

func TestScreenShareEndedSignal(t *testing.T) {
	c, dev := testController(t)

	stream, err := c.OpenScreenShare()
	require.NoError(t, err)
	c.SetShare(stream)

	ended := false
	stream.OnEnded(func() { ended = true })

	dev.LastDisplay().FireEnded()
	require.True(t, ended)

	dev.LastDisplay().FireEnded()
	require.True(t, ended, "ended signal fires at most once")
}

func TestScreenShareUnsupported(t *testing.T) {
	c, dev := testController(t)
	dev.DisplayErr = ErrScreenShareUnsupported

	_, err := c.OpenScreenShare()
	require.ErrorIs(t, err, ErrScreenShareUnsupported)
}

func TestReleaseIsIdempotentAndNilSafe(t *testing.T) {
	c, _ := testController(t)

	c.Release(nil)
	c.ReleaseLocal()
	c.ReleaseShare()

	stream, err := c.Acquire(Constraints{Audio: true})
	require.NoError(t, err)
	c.Release(stream)
	require.Nil(t, c.Local())
	c.Release(stream)
}
