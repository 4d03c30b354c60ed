package session

import (
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LemmyAI/callroom/internal/call"
	"github.com/LemmyAI/callroom/internal/media"
	"github.com/LemmyAI/callroom/internal/protocol"
	"github.com/LemmyAI/callroom/internal/room"
	"github.com/LemmyAI/callroom/internal/transport"
)

const eventually = 2 * time.Second

type fixture struct {
	sess *Session
	t    *transport.MockTransport
	dev  *media.MockDevice
	clk  *clock.Mock
	rec  *MockRecorder
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		t:   transport.NewMockTransport(),
		dev: media.NewMockDevice(),
		clk: clock.NewMock(),
		rec: &MockRecorder{Path: "capture-001.webm"},
	}
	cfg := Config{
		Transport: f.t,
		Device:    f.dev,
		Recorder:  f.rec,
		Clock:     f.clk,
		Rand:      rand.New(rand.NewSource(7)),
		Log:       zerolog.New(io.Discard),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.sess = New(cfg)
	t.Cleanup(f.sess.Close)
	return f
}

func realtime(cfg *Config) {
	cfg.EnableRealtime = true
	cfg.Token = "dev-token"
}

func capabilityReplies(t *transport.MockTransport) {
	t.ReplyFunc = func(*protocol.Envelope) (json.RawMessage, error) {
		return json.RawMessage(`{"rtpCapabilities":{"codecs":[{"mimeType":"video/VP8","clockRate":90000}]}}`), nil
	}
}

// waitSnapshot polls until pred accepts a snapshot, then returns it.
func waitSnapshot(t *testing.T, s *Session, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = s.Snapshot()
		return pred(snap)
	}, eventually, 5*time.Millisecond)
	return snap
}

func TestCreateMeetingSeedsCall(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DisplayName = "Ada" })

	id, err := f.sess.CreateMeeting()
	require.NoError(t, err)
	assert.True(t, room.ValidID(id))

	snap := waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.MediaInfo == "Camera and mic connected."
	})
	assert.Equal(t, PhaseInCall, snap.Phase)
	assert.Equal(t, id, snap.RoomID)
	require.Len(t, snap.Participants, 3)

	local := snap.Participants[0]
	assert.True(t, local.IsLocal)
	assert.True(t, local.IsHost)
	assert.Equal(t, "Ada", local.Name)

	firstRemote := snap.Participants[1]
	assert.Equal(t, firstRemote.ID, snap.ActiveSpeakerID)

	require.Len(t, snap.Messages, 1)
	assert.Equal(t, call.Greeting, snap.Messages[0].Text)
	assert.Equal(t, firstRemote.ID, snap.Messages[0].SenderID)
	assert.False(t, snap.Messages[0].Mine)
}

func TestJoinMeetingValidatesRoomID(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.sess.JoinMeeting("not a room"), ErrInvalidRoomID)
	require.ErrorIs(t, f.sess.JoinMeeting(""), ErrInvalidRoomID)

	require.NoError(t, f.sess.JoinMeeting("  ABC-DEF-GHI "))
	assert.Equal(t, "abc-def-ghi", f.sess.Snapshot().RoomID)

	require.ErrorIs(t, f.sess.JoinMeeting("jkl-mno-pqr"), ErrAlreadyInCall)
}

func TestSimulationModeWithoutRealtimeConfig(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	snap := f.sess.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, "Simulation mode active", snap.RealtimeInfo)
	assert.Empty(t, f.t.Sent())
}

func TestRealtimeConnectJoinsRoomAndNegotiates(t *testing.T) {
	f := newFixture(t, realtime)
	capabilityReplies(f.t)

	id, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	snap := waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.Status == StatusConnected
	})
	assert.Equal(t, "Connected to backend signaling + mediasoup router.", snap.RealtimeInfo)

	joins := f.t.SentWithEvent(protocol.EventRoomJoin)
	require.Len(t, joins, 1)
	var joinedRoom string
	require.NoError(t, joins[0].Bind(&joinedRoom))
	assert.Equal(t, id, joinedRoom)

	assert.Len(t, f.t.SentWithEvent(protocol.EventRouterCapabilities), 1)
}

func TestRealtimeConnectFailureFallsBackToSimulation(t *testing.T) {
	f := newFixture(t, realtime)
	f.t.FailConnectWith(errors.New("dial refused"))

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	snap := waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.Status == StatusFailed
	})
	assert.Equal(t, "Realtime connect failed. Using simulation fallback.", snap.RealtimeInfo)

	// The call itself keeps running on the simulated roster.
	assert.Equal(t, PhaseInCall, snap.Phase)
	assert.Len(t, snap.Participants, 3)
}

func TestRouterErrorStillReportsConnected(t *testing.T) {
	f := newFixture(t, realtime)
	f.t.ReplyFunc = func(*protocol.Envelope) (json.RawMessage, error) {
		return json.RawMessage(`{"error":"no router for room"}`), nil
	}

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	snap := waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.Status == StatusConnected
	})
	assert.Contains(t, snap.RealtimeInfo, "mediasoup error")
	assert.Contains(t, snap.RealtimeInfo, "no router for room")
}

func TestChatEchoAndSimulatedReply(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	require.NoError(t, f.sess.SendChat("  hey folks  "))

	snap := f.sess.Snapshot()
	require.Len(t, snap.Messages, 2)
	mine := snap.Messages[1]
	assert.True(t, mine.Mine)
	assert.Equal(t, "hey folks", mine.Text)
	assert.Equal(t, call.LocalID, mine.SenderID)

	f.clk.Add(replyDelay)
	snap = waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return len(s.Messages) == 3
	})
	reply := snap.Messages[2]
	assert.False(t, reply.Mine)
	assert.Contains(t, call.CannedReplies, reply.Text)
	remoteIDs := make(map[string]bool)
	for _, p := range snap.Participants[1:] {
		remoteIDs[p.ID] = true
	}
	assert.True(t, remoteIDs[reply.SenderID])
}

func TestChatEmptyDraftIsIgnored(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)
	before := len(f.sess.Snapshot().Messages)

	require.NoError(t, f.sess.SendChat("   "))
	assert.Len(t, f.sess.Snapshot().Messages, before)

	f.clk.Add(replyDelay)
	assert.Len(t, f.sess.Snapshot().Messages, before)
}

func TestChatForwardsOverRoomChannelWhenConnected(t *testing.T) {
	f := newFixture(t, realtime)
	capabilityReplies(f.t)

	id, err := f.sess.CreateMeeting()
	require.NoError(t, err)
	waitSnapshot(t, f.sess, func(s Snapshot) bool { return s.Status == StatusConnected })

	require.NoError(t, f.sess.SendChat("hello over the wire"))

	sent := f.t.SentWithEvent(protocol.EventRoomMessage)
	require.Len(t, sent, 1)
	var payload protocol.RoomMessageSend
	require.NoError(t, sent[0].Bind(&payload))
	assert.Equal(t, id, payload.RoomID)
	assert.Equal(t, "hello over the wire", payload.Text)
}

func TestInboundChatSuppression(t *testing.T) {
	f := newFixture(t, realtime)
	capabilityReplies(f.t)

	id, err := f.sess.CreateMeeting()
	require.NoError(t, err)
	waitSnapshot(t, f.sess, func(s Snapshot) bool { return s.Status == StatusConnected })
	before := len(f.sess.Snapshot().Messages)

	deliver := func(d protocol.RoomMessageDelivery) {
		data, err := json.Marshal(d)
		require.NoError(t, err)
		f.t.Deliver(&protocol.Envelope{Event: protocol.EventRoomMessage, Data: data})
	}

	// Server echo of our own message: dropped.
	deliver(protocol.RoomMessageDelivery{RoomID: id, UserID: call.LocalID, Text: "echo"})
	// Message for a room we already left: dropped.
	deliver(protocol.RoomMessageDelivery{RoomID: "zzz-zzz-zzz", UserID: "u1", DisplayName: "Ghost", Text: "stale"})
	// Message for the current room from someone else: kept.
	deliver(protocol.RoomMessageDelivery{RoomID: id, UserID: "u2", DisplayName: "Maya", Text: "made it"})

	snap := waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return len(s.Messages) == before+1
	})
	last := snap.Messages[len(snap.Messages)-1]
	assert.Equal(t, "made it", last.Text)
	assert.Equal(t, "Maya", last.SenderName)
	assert.False(t, last.Mine)
}

func TestMicToggleMirrorsTrackState(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)
	waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.MediaInfo == "Camera and mic connected."
	})

	require.NoError(t, f.sess.ToggleMic())
	snap := f.sess.Snapshot()
	assert.False(t, snap.MicOn)
	local := snap.Participants[0]
	assert.False(t, local.IsMicOn)
	assert.True(t, local.IsCameraOn)

	streams := f.dev.UserMediaStreams()
	require.Len(t, streams, 1)
	assert.False(t, streams[0].TrackEnabled(media.Audio))
	assert.True(t, streams[0].TrackEnabled(media.Video))

	require.NoError(t, f.sess.ToggleMic())
	assert.True(t, f.sess.Snapshot().MicOn)
	assert.True(t, streams[0].TrackEnabled(media.Audio))
	// Toggling in place does not reacquire the device.
	assert.Len(t, f.dev.UserMediaStreams(), 1)
}

func TestBothTogglesOffReleaseDevices(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)
	waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.MediaInfo == "Camera and mic connected."
	})

	require.NoError(t, f.sess.ToggleMic())
	require.NoError(t, f.sess.ToggleCamera())

	snap := f.sess.Snapshot()
	assert.Equal(t, "Camera and mic are off.", snap.MediaInfo)
	assert.False(t, snap.MicOn)
	assert.False(t, snap.CameraOn)

	// Turning the mic back on has no live track left, so it reacquires.
	require.NoError(t, f.sess.ToggleMic())
	waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.MediaInfo == "Camera and mic connected."
	})
	streams := f.dev.UserMediaStreams()
	require.Len(t, streams, 2)
	reacquired := streams[1]
	assert.True(t, reacquired.HasTrack(media.Audio))
	assert.False(t, reacquired.HasTrack(media.Video))
}

func TestMediaFailureTurnsTogglesOff(t *testing.T) {
	f := newFixture(t)
	f.dev.UserMediaErr = errors.New("permission denied")

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	snap := waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.MediaInfo == "Could not access camera/mic. Check device permissions."
	})
	assert.False(t, snap.MicOn)
	assert.False(t, snap.CameraOn)
	assert.False(t, snap.Participants[0].IsMicOn)
	assert.False(t, snap.Participants[0].IsCameraOn)

	// Device comes back; turning the mic on retries with audio only.
	f.dev.UserMediaErr = nil
	require.NoError(t, f.sess.ToggleMic())
	waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.MediaInfo == "Camera and mic connected."
	})
	streams := f.dev.UserMediaStreams()
	require.NotEmpty(t, streams)
	got := streams[len(streams)-1]
	assert.True(t, got.HasTrack(media.Audio))
	assert.False(t, got.HasTrack(media.Video))
}

func TestScreenShareLifecycle(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	require.NoError(t, f.sess.ToggleScreenShare())
	waitSnapshot(t, f.sess, func(s Snapshot) bool { return s.Sharing })
	assert.Equal(t, "Screen sharing active.", f.sess.Snapshot().MediaInfo)
	require.NotNil(t, f.dev.LastDisplay())

	// The OS can end the share out from under us.
	f.dev.LastDisplay().FireEnded()
	snap := waitSnapshot(t, f.sess, func(s Snapshot) bool { return !s.Sharing })
	assert.Equal(t, "Screen sharing ended.", snap.MediaInfo)

	// Manual stop path.
	require.NoError(t, f.sess.ToggleScreenShare())
	waitSnapshot(t, f.sess, func(s Snapshot) bool { return s.Sharing })
	require.NoError(t, f.sess.ToggleScreenShare())
	snap = f.sess.Snapshot()
	assert.False(t, snap.Sharing)
	assert.Equal(t, "Screen sharing stopped.", snap.MediaInfo)
}

func TestScreenShareFailure(t *testing.T) {
	f := newFixture(t)
	f.dev.DisplayErr = media.ErrScreenShareUnsupported

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	require.NoError(t, f.sess.ToggleScreenShare())
	snap := waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.MediaInfo == "Unable to start screen sharing on this device/build."
	})
	assert.False(t, snap.Sharing)
}

func TestRecordingLifecycle(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	require.NoError(t, f.sess.ToggleRecording())
	snap := f.sess.Snapshot()
	assert.True(t, snap.Recording)
	assert.Equal(t, "Meeting recording started with microphone.", snap.MediaInfo)
	assert.True(t, f.rec.LastMic)

	require.Eventually(t, func() bool {
		f.clk.Add(time.Second)
		return f.sess.Snapshot().RecordingSeconds >= 3
	}, eventually, time.Millisecond)

	require.NoError(t, f.sess.ToggleRecording())
	snap = f.sess.Snapshot()
	assert.False(t, snap.Recording)
	assert.Equal(t, "Recording stopped and saved.", snap.MediaInfo)
	assert.Equal(t, "capture-001.webm", snap.LastRecordingPath)
	assert.Equal(t, 1, f.rec.Stopped)
}

func TestRecordingWithoutRecorder(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Recorder = nil })

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	require.NoError(t, f.sess.ToggleRecording())
	snap := f.sess.Snapshot()
	assert.False(t, snap.Recording)
	assert.Equal(t, "Recording is not available on this build.", snap.MediaInfo)
}

func TestElapsedTimerAndFormatting(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f.clk.Add(time.Second)
		return f.sess.Snapshot().ElapsedSeconds >= 4
	}, eventually, time.Millisecond)

	assert.Equal(t, "01:01:05", Snapshot{ElapsedSeconds: 3665}.Elapsed())
	assert.Equal(t, "02:05", Snapshot{RecordingSeconds: 125}.RecordingElapsed())
}

func TestSpeakerRotationStaysOnRemotes(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		f.clk.Add(speakerInterval)
		snap := f.sess.Snapshot()
		require.NotEmpty(t, snap.ActiveSpeakerID)
		assert.NotEqual(t, call.LocalID, snap.ActiveSpeakerID)
	}
}

func TestParticipantAddAndRemove(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	// The seed pool is finite; adds past it are no-ops.
	for i := 0; i < len(call.RemoteSeedPool)+2; i++ {
		require.NoError(t, f.sess.AddParticipant())
	}
	snap := f.sess.Snapshot()
	assert.Len(t, snap.Participants, len(call.RemoteSeedPool)+1)

	for i := 0; i < len(call.RemoteSeedPool)+2; i++ {
		require.NoError(t, f.sess.RemoveLastParticipant())
	}
	snap = f.sess.Snapshot()
	require.Len(t, snap.Participants, 1)
	assert.True(t, snap.Participants[0].IsLocal)
}

func TestLeaveResetsEverything(t *testing.T) {
	f := newFixture(t, realtime)
	capabilityReplies(f.t)

	id, err := f.sess.CreateMeeting()
	require.NoError(t, err)
	waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.Status == StatusConnected && s.MediaInfo == "Camera and mic connected."
	})
	require.NoError(t, f.sess.ToggleRecording())

	require.NoError(t, f.sess.Leave())

	snap := f.sess.Snapshot()
	assert.Equal(t, PhaseLobby, snap.Phase)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Empty(t, snap.RoomID)
	assert.Empty(t, snap.Participants)
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.Recording)
	assert.Zero(t, snap.ElapsedSeconds)
	assert.Equal(t, "Camera and mic not started yet.", snap.MediaInfo)

	assert.False(t, f.t.IsConnected())
	leaves := f.t.SentWithEvent(protocol.EventRoomLeave)
	require.Len(t, leaves, 1)
	var leftRoom string
	require.NoError(t, leaves[0].Bind(&leftRoom))
	assert.Equal(t, id, leftRoom)
	assert.Equal(t, 1, f.rec.Stopped)
}

func TestLeaveCancelsPendingReply(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)
	require.NoError(t, f.sess.SendChat("anyone there?"))
	require.NoError(t, f.sess.Leave())

	_, err = f.sess.CreateMeeting()
	require.NoError(t, err)

	// The old reply timer must not leak into the new call.
	f.clk.Add(replyDelay)
	snap := f.sess.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, call.Greeting, snap.Messages[0].Text)
}

func TestReconnectRejoinsAndRenegotiates(t *testing.T) {
	f := newFixture(t, realtime)
	capabilityReplies(f.t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)
	waitSnapshot(t, f.sess, func(s Snapshot) bool { return s.Status == StatusConnected })

	f.t.FireReconnect()

	require.Eventually(t, func() bool {
		return len(f.t.SentWithEvent(protocol.EventRoomJoin)) == 2 &&
			len(f.t.SentWithEvent(protocol.EventRouterCapabilities)) == 2
	}, eventually, 5*time.Millisecond)
}

func TestLobbyGuards(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.sess.SendChat("hi"), ErrNotInCall)
	require.ErrorIs(t, f.sess.ToggleScreenShare(), ErrNotInCall)
	require.ErrorIs(t, f.sess.ToggleRecording(), ErrNotInCall)
	require.ErrorIs(t, f.sess.AddParticipant(), ErrNotInCall)
	require.NoError(t, f.sess.SetDisplayName("Grace"))

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)
	require.ErrorIs(t, f.sess.SetDisplayName("Other"), ErrAlreadyInCall)
	require.ErrorIs(t, f.sess.SetCallTitle("Other"), ErrAlreadyInCall)
	assert.Equal(t, "Grace", f.sess.Snapshot().Participants[0].Name)
}

func TestCloseRejectsFurtherCommands(t *testing.T) {
	f := newFixture(t)
	f.sess.Close()
	f.sess.Close() // idempotent

	_, err := f.sess.CreateMeeting()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, f.sess.SendChat("x"), ErrClosed)
}

// gatedDevice holds GetUserMedia open until the gate channel is closed,
// so tests can interleave toggles with an in-flight acquisition.
type gatedDevice struct {
	inner media.Device
	gate  chan struct{}
}

func (d *gatedDevice) GetUserMedia(c media.Constraints) (*media.Stream, error) {
	<-d.gate
	return d.inner.GetUserMedia(c)
}

func (d *gatedDevice) GetDisplayMedia() (*media.Stream, error) {
	return d.inner.GetDisplayMedia()
}

func TestBothOffDuringAcquisitionIsNotAdopted(t *testing.T) {
	inner := media.NewMockDevice()
	gate := make(chan struct{})
	f := newFixture(t, func(c *Config) {
		c.Device = &gatedDevice{inner: inner, gate: gate}
	})

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)

	// The device open is still blocked; turn everything off meanwhile.
	require.NoError(t, f.sess.ToggleMic())
	require.NoError(t, f.sess.ToggleCamera())
	snap := f.sess.Snapshot()
	require.False(t, snap.MicOn)
	require.False(t, snap.CameraOn)
	require.Equal(t, "Camera and mic are off.", snap.MediaInfo)

	close(gate)
	require.Eventually(t, func() bool {
		return len(inner.UserMediaStreams()) == 1
	}, eventually, 5*time.Millisecond)

	// The late completion must be discarded, not adopted.
	require.Never(t, func() bool {
		return f.sess.Snapshot().MediaInfo == "Camera and mic connected."
	}, 200*time.Millisecond, 10*time.Millisecond)
	snap = f.sess.Snapshot()
	assert.False(t, snap.MicOn)
	assert.False(t, snap.CameraOn)
	assert.Equal(t, "Camera and mic are off.", snap.MediaInfo)

	// Turning the mic back on recovers with a fresh audio-only stream.
	require.NoError(t, f.sess.ToggleMic())
	waitSnapshot(t, f.sess, func(s Snapshot) bool {
		return s.MediaInfo == "Camera and mic connected."
	})
	streams := inner.UserMediaStreams()
	require.Len(t, streams, 2)
	assert.True(t, streams[1].HasTrack(media.Audio))
	assert.False(t, streams[1].HasTrack(media.Video))
}

func TestReconnectExhaustedFallsBackToSimulation(t *testing.T) {
	f := newFixture(t, realtime)
	capabilityReplies(f.t)

	_, err := f.sess.CreateMeeting()
	require.NoError(t, err)
	waitSnapshot(t, f.sess, func(s Snapshot) bool { return s.Status == StatusConnected })

	f.t.FireReconnectFailed()

	snap := waitSnapshot(t, f.sess, func(s Snapshot) bool { return s.Status == StatusFailed })
	assert.Equal(t, "Realtime connection lost. Using simulation fallback.", snap.RealtimeInfo)

	// The call keeps running on the simulated roster.
	assert.Equal(t, PhaseInCall, snap.Phase)
	assert.NotEmpty(t, snap.Participants)
}
