//go:build linux && cgo

package media

import (
	"errors"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// captureDevice captures camera/mic/screen via pion/mediadevices
// (V4L2 + malgo + X11 on Linux).
type captureDevice struct {
	selector *mediadevices.CodecSelector
}

// NewCaptureDevice creates the hardware capture device for this platform.
func NewCaptureDevice() (Device, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &captureDevice{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *captureDevice) GetUserMedia(c Constraints) (*Stream, error) {
	if !c.Audio && !c.Video {
		return nil, errors.New("no tracks requested")
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// Raw formats only — some cameras expose an MJPEG node that
			// produces malformed JPEG frames and poisons the VP8 encoder.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 1280}
			mc.Height = prop.IntRanged{Max: 720}
			mc.FrameRate = prop.FloatRanged{Ideal: 30}
		}
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}
	return wrapStream(ms), nil
}

func (d *captureDevice) GetDisplayMedia() (*Stream, error) {
	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, ErrScreenShareUnsupported
	}

	stream := wrapStream(ms)
	// Display capture can terminate on its own (the user stops sharing from
	// the OS); surface that as the stream-ended signal.
	for _, t := range ms.GetTracks() {
		t.OnEnded(func(error) {
			stream.FireEnded()
		})
	}
	return stream, nil
}

func wrapStream(ms mediadevices.MediaStream) *Stream {
	var tracks []*Track
	for _, t := range ms.GetTracks() {
		kind := Audio
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			kind = Video
		}
		track := t
		tracks = append(tracks, NewTrack(kind, func() {
			_ = track.Close()
		}))
	}
	return NewStream(tracks...)
}
