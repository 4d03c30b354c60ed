// Package session drives a single call from lobby to hangup. All state is
// owned by one goroutine; public methods post commands onto that goroutine
// and wait for the result, so callers never observe a half-applied
// transition. Slow work (device capture, signaling dials) runs off-loop and
// re-enters through post, where an epoch check discards completions that
// belong to a call the user already left.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/LemmyAI/callroom/internal/call"
	"github.com/LemmyAI/callroom/internal/media"
	"github.com/LemmyAI/callroom/internal/protocol"
	"github.com/LemmyAI/callroom/internal/room"
	"github.com/LemmyAI/callroom/internal/rtc"
	"github.com/LemmyAI/callroom/internal/transport"
)

// Phase is the coarse lifecycle of the session.
type Phase string

const (
	PhaseLobby  Phase = "lobby"
	PhaseInCall Phase = "in-call"
)

// Status reports the realtime link, independent of the call itself: a call
// keeps running in simulation mode when signaling is down.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusFailed     Status = "failed"
)

const (
	elapsedInterval  = time.Second
	speakerInterval  = 2200 * time.Millisecond
	replyDelay       = 900 * time.Millisecond
	initialRemotes   = 2
	defaultLocalName = "You"
)

// Config carries the session's collaborators. Transport and Device are
// required; everything else has a usable zero value.
type Config struct {
	Transport transport.Transport
	Device    media.Device
	Recorder  Recorder // nil disables recording
	Clock     clock.Clock
	Rand      *rand.Rand
	Log       zerolog.Logger

	EnableRealtime bool
	Token          string
	DisplayName    string
	CallTitle      string
}

// Snapshot is an immutable view of the session for rendering. It is safe to
// hold across commands; slices are copies.
type Snapshot struct {
	Phase  Phase
	Status Status
	RoomID string

	CallTitle   string
	DisplayName string

	MicOn     bool
	CameraOn  bool
	Sharing   bool
	Recording bool

	ElapsedSeconds    int
	RecordingSeconds  int
	LastRecordingPath string

	RealtimeInfo string
	MediaInfo    string

	Participants    []call.Participant
	ActiveSpeakerID string
	Messages        []call.Message
}

// Elapsed renders the call timer as HH:MM:SS.
func (s Snapshot) Elapsed() string {
	h := s.ElapsedSeconds / 3600
	m := (s.ElapsedSeconds % 3600) / 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s.ElapsedSeconds%60)
}

// RecordingElapsed renders the recording timer as MM:SS.
func (s Snapshot) RecordingElapsed() string {
	return fmt.Sprintf("%02d:%02d", s.RecordingSeconds/60, s.RecordingSeconds%60)
}

// Session is the call state machine. Create with New, release with Close.
type Session struct {
	cfg   Config
	t     transport.Transport
	rooms *room.Controller
	caps  *rtc.Negotiator
	media *media.Controller
	rec   Recorder
	clk   clock.Clock
	rng   *rand.Rand
	log   zerolog.Logger

	cmds chan func()
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// Everything below is owned by the run goroutine.
	phase Phase
	epoch uint64

	roomID      string
	displayName string
	callTitle   string

	micOn     bool
	camOn     bool
	sharing   bool
	recording bool

	elapsedSeconds   int
	recordingSeconds int
	lastRecording    string

	status       Status
	realtimeInfo string
	mediaInfo    string

	registry *call.Registry
	chat     *call.ChatLog

	elapsedTicker *clock.Ticker
	speakerTicker *clock.Ticker
	replyTimers   []*clock.Timer

	cancelRoomMsgs  func()
	cancelReconn    func()
	cancelReconnEnd func()
}

// New builds a session in the lobby phase and starts its command loop.
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &Session{
		cfg:   cfg,
		t:     cfg.Transport,
		rooms: room.NewController(cfg.Transport, cfg.Log),
		caps:  rtc.NewNegotiator(cfg.Transport, cfg.Log),
		media: media.NewController(cfg.Device, cfg.Log),
		rec:   cfg.Recorder,
		clk:   cfg.Clock,
		rng:   cfg.Rand,
		log:   cfg.Log,

		cmds: make(chan func(), 64),
		done: make(chan struct{}),

		phase:       PhaseLobby,
		displayName: strings.TrimSpace(cfg.DisplayName),
		callTitle:   strings.TrimSpace(cfg.CallTitle),
		micOn:       true,
		camOn:       true,

		status:       StatusIdle,
		realtimeInfo: "Simulation mode active",
		mediaInfo:    "Camera and mic not started yet.",

		registry: call.NewRegistry(),
		chat:     call.NewChatLog(),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.cmds:
			fn()
		case <-s.tickC(s.elapsedTicker):
			s.onElapsedTick()
		case <-s.tickC(s.speakerTicker):
			s.onSpeakerTick()
		}
	}
}

// tickC lets the select treat a stopped ticker as a nil channel.
func (s *Session) tickC(t *clock.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// do runs fn on the loop goroutine and returns its error.
func (s *Session) do(fn func() error) error {
	res := make(chan error, 1)
	select {
	case s.cmds <- func() { res <- fn() }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// post hands an async completion to the loop without waiting.
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.done:
	}
}

// Close leaves any active call and stops the command loop.
func (s *Session) Close() {
	s.once.Do(func() {
		_ = s.Leave()
		close(s.done)
		s.wg.Wait()
	})
}

// CreateMeeting mints a fresh room id and starts a call in it.
func (s *Session) CreateMeeting() (string, error) {
	var id string
	err := s.do(func() error {
		id = room.NewID(s.rng)
		return s.startCall(id)
	})
	return id, err
}

// JoinMeeting normalizes and validates the given room id and starts a call.
func (s *Session) JoinMeeting(input string) error {
	return s.do(func() error {
		id := room.NormalizeID(input)
		if !room.ValidID(id) {
			return ErrInvalidRoomID
		}
		return s.startCall(id)
	})
}

// Leave hangs up, tears down media and signaling, and returns to the lobby.
func (s *Session) Leave() error {
	return s.do(func() error {
		if s.phase != PhaseInCall {
			return nil
		}
		s.teardown()
		return nil
	})
}

// ToggleMic flips the microphone. In the lobby it only adjusts the pre-join
// preference; in a call it mirrors the flag onto the live audio track,
// reacquiring the device if the stream never got one.
func (s *Session) ToggleMic() error {
	return s.do(func() error {
		s.micOn = !s.micOn
		s.registry.UpdateLocalMedia(s.micOn, s.camOn)
		if s.phase != PhaseInCall {
			return nil
		}
		if !s.micOn && !s.camOn {
			s.media.ReleaseLocal()
			s.mediaInfo = "Camera and mic are off."
			return nil
		}
		if s.media.SetLocalTrackEnabled(media.Audio, s.micOn) {
			return nil
		}
		if s.micOn {
			s.refreshLocalMedia(s.epoch)
		}
		return nil
	})
}

// ToggleCamera flips the camera, mirroring ToggleMic.
func (s *Session) ToggleCamera() error {
	return s.do(func() error {
		s.camOn = !s.camOn
		s.registry.UpdateLocalMedia(s.micOn, s.camOn)
		if s.phase != PhaseInCall {
			return nil
		}
		if !s.micOn && !s.camOn {
			s.media.ReleaseLocal()
			s.mediaInfo = "Camera and mic are off."
			return nil
		}
		if s.media.SetLocalTrackEnabled(media.Video, s.camOn) {
			return nil
		}
		if s.camOn {
			s.refreshLocalMedia(s.epoch)
		}
		return nil
	})
}

// ToggleScreenShare starts or stops sharing. Starting acquires the display
// asynchronously; the result is dropped if the call ended in the meantime.
func (s *Session) ToggleScreenShare() error {
	return s.do(func() error {
		if s.phase != PhaseInCall {
			return ErrNotInCall
		}
		if s.sharing {
			s.media.ReleaseShare()
			s.sharing = false
			s.mediaInfo = "Screen sharing stopped."
			return nil
		}
		e := s.epoch
		go func() {
			stream, err := s.media.OpenScreenShare()
			s.post(func() {
				if s.epoch != e || s.phase != PhaseInCall {
					if stream != nil {
						stream.Stop()
					}
					return
				}
				if err != nil {
					s.log.Warn().Err(err).Msg("screen share failed")
					s.mediaInfo = "Unable to start screen sharing on this device/build."
					return
				}
				s.media.SetShare(stream)
				s.sharing = true
				s.mediaInfo = "Screen sharing active."
				stream.OnEnded(func() {
					s.post(func() {
						if s.epoch != e || !s.sharing {
							return
						}
						s.media.ReleaseShare()
						s.sharing = false
						s.mediaInfo = "Screen sharing ended."
					})
				})
			})
		}()
		return nil
	})
}

// ToggleRecording starts or stops the screen recorder.
func (s *Session) ToggleRecording() error {
	return s.do(func() error {
		if s.phase != PhaseInCall {
			return ErrNotInCall
		}
		if s.rec == nil {
			s.mediaInfo = "Recording is not available on this build."
			return nil
		}
		if s.recording {
			path, err := s.rec.Stop()
			s.recording = false
			if err != nil {
				s.log.Warn().Err(err).Msg("recorder stop failed")
				s.mediaInfo = "Unable to stop recording cleanly."
				return nil
			}
			s.lastRecording = path
			s.mediaInfo = "Recording stopped and saved."
			return nil
		}
		s.recordingSeconds = 0
		if err := s.rec.Start(s.micOn); err != nil {
			s.log.Warn().Err(err).Msg("recorder start failed")
			s.mediaInfo = "Unable to start screen recording on this build."
			return nil
		}
		s.recording = true
		if s.micOn {
			s.mediaInfo = "Meeting recording started with microphone."
		} else {
			s.mediaInfo = "Meeting recording started without microphone."
		}
		return nil
	})
}

// SendChat appends the draft to the log, forwards it over the room channel
// when signaling is up, and schedules a simulated remote reply.
func (s *Session) SendChat(draft string) error {
	return s.do(func() error {
		if s.phase != PhaseInCall {
			return ErrNotInCall
		}
		name := s.displayName
		if name == "" {
			name = defaultLocalName
		}
		msg, ok := s.chat.AppendLocal(name, draft, s.clk.Now())
		if !ok {
			return nil
		}
		if s.t.IsConnected() {
			s.rooms.SendMessage(s.roomID, msg.Text)
		}
		remotes := s.registry.Remotes()
		if len(remotes) == 0 {
			return nil
		}
		sender := remotes[s.rng.Intn(len(remotes))]
		reply := call.CannedReplies[s.rng.Intn(len(call.CannedReplies))]
		e := s.epoch
		timer := s.clk.AfterFunc(replyDelay, func() {
			s.post(func() {
				if s.epoch != e || s.phase != PhaseInCall {
					return
				}
				s.chat.AppendRemote(sender.ID, sender.Name, reply, s.clk.Now())
			})
		})
		s.replyTimers = append(s.replyTimers, timer)
		return nil
	})
}

// AddParticipant seeds one more simulated remote, if any names remain.
func (s *Session) AddParticipant() error {
	return s.do(func() error {
		if s.phase != PhaseInCall {
			return ErrNotInCall
		}
		if seed, ok := call.NextSeed(s.registry.Participants()); ok {
			s.registry.AddRemote(seed)
		}
		return nil
	})
}

// RemoveLastParticipant drops the most recently added remote. The local
// participant is never removed.
func (s *Session) RemoveLastParticipant() error {
	return s.do(func() error {
		if s.phase != PhaseInCall {
			return ErrNotInCall
		}
		s.registry.RemoveLast()
		return nil
	})
}

// SetDisplayName updates the lobby display name. Rejected mid-call.
func (s *Session) SetDisplayName(name string) error {
	return s.do(func() error {
		if s.phase == PhaseInCall {
			return ErrAlreadyInCall
		}
		s.displayName = strings.TrimSpace(name)
		return nil
	})
}

// SetCallTitle updates the lobby call title. Rejected mid-call.
func (s *Session) SetCallTitle(title string) error {
	return s.do(func() error {
		if s.phase == PhaseInCall {
			return ErrAlreadyInCall
		}
		s.callTitle = strings.TrimSpace(title)
		return nil
	})
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	_ = s.do(func() error {
		snap = Snapshot{
			Phase:  s.phase,
			Status: s.status,
			RoomID: s.roomID,

			CallTitle:   s.callTitle,
			DisplayName: s.displayName,

			MicOn:     s.micOn,
			CameraOn:  s.camOn,
			Sharing:   s.sharing,
			Recording: s.recording,

			ElapsedSeconds:    s.elapsedSeconds,
			RecordingSeconds:  s.recordingSeconds,
			LastRecordingPath: s.lastRecording,

			RealtimeInfo: s.realtimeInfo,
			MediaInfo:    s.mediaInfo,

			Participants:    s.registry.Participants(),
			ActiveSpeakerID: s.registry.ActiveSpeakerID(),
			Messages:        s.chat.Messages(),
		}
		return nil
	})
	return snap
}

// startCall runs on the loop. It seeds the simulated roster, starts the
// timers, kicks off device capture, and dials signaling if configured.
func (s *Session) startCall(roomID string) error {
	if s.phase == PhaseInCall {
		return ErrAlreadyInCall
	}
	s.epoch++
	e := s.epoch
	s.phase = PhaseInCall
	s.roomID = roomID
	s.elapsedSeconds = 0

	name := s.displayName
	if name == "" {
		name = defaultLocalName
	}
	s.registry.SetLocal(call.Participant{
		Name:       name,
		IsHost:     true,
		IsMicOn:    s.micOn,
		IsCameraOn: s.camOn,
	})
	var first call.Participant
	for i := 0; i < initialRemotes; i++ {
		seed, ok := call.NextSeed(s.registry.Participants())
		if !ok {
			break
		}
		p := s.registry.AddRemote(seed)
		if i == 0 {
			first = p
		}
	}
	if first.ID != "" {
		s.registry.SetActiveSpeaker(first.ID)
		s.chat.Reset()
		s.chat.AppendRemote(first.ID, first.Name, call.Greeting, s.clk.Now())
	}

	s.elapsedTicker = s.clk.Ticker(elapsedInterval)
	s.speakerTicker = s.clk.Ticker(speakerInterval)

	s.cancelRoomMsgs = s.rooms.OnMessage(func(d protocol.RoomMessageDelivery) {
		s.post(func() {
			if s.epoch != e || s.phase != PhaseInCall {
				return
			}
			s.chat.Receive(d, s.roomID, s.clk.Now())
		})
	})

	s.refreshLocalMedia(e)
	s.connectRealtime(e, roomID)
	return nil
}

// refreshLocalMedia acquires a device stream matching the current mic and
// camera flags. Acquisition runs off-loop; adoption happens back on the loop
// and is skipped when the epoch moved on.
func (s *Session) refreshLocalMedia(e uint64) {
	if !s.micOn && !s.camOn {
		s.media.ReleaseLocal()
		s.mediaInfo = "Camera and mic are off."
		return
	}
	constraints := media.Constraints{Audio: s.micOn, Video: s.camOn}
	go func() {
		stream, err := s.media.Open(constraints)
		s.post(func() {
			if s.epoch != e || s.phase != PhaseInCall {
				if stream != nil {
					stream.Stop()
				}
				return
			}
			// Both toggles went off while the open was in flight: the
			// release already happened, so the stream must not be adopted.
			if !s.micOn && !s.camOn {
				if stream != nil {
					stream.Stop()
				}
				return
			}
			if err != nil {
				s.log.Warn().Err(err).Msg("media acquisition failed")
				s.media.ReleaseLocal()
				s.micOn = false
				s.camOn = false
				s.registry.UpdateLocalMedia(false, false)
				s.mediaInfo = "Could not access camera/mic. Check device permissions."
				return
			}
			s.media.SetLocal(stream)
			// Flags may have been toggled while the open was in flight.
			stream.SetTrackEnabled(media.Audio, s.micOn)
			stream.SetTrackEnabled(media.Video, s.camOn)
			s.mediaInfo = "Camera and mic connected."
		})
	}()
}

// connectRealtime dials signaling and negotiates router capabilities. Any
// failure leaves the call in simulation mode rather than ending it.
func (s *Session) connectRealtime(e uint64, roomID string) {
	token := strings.TrimSpace(s.cfg.Token)
	if !s.cfg.EnableRealtime || token == "" {
		s.status = StatusIdle
		s.realtimeInfo = "Simulation mode active"
		return
	}
	s.status = StatusConnecting
	s.realtimeInfo = "Connecting to signaling..."

	s.cancelReconn = s.t.OnReconnect(func() {
		s.post(func() { s.onReconnected(e) })
	})
	s.cancelReconnEnd = s.t.OnReconnectFailed(func() {
		s.post(func() {
			if s.epoch != e || s.phase != PhaseInCall {
				return
			}
			s.status = StatusFailed
			s.realtimeInfo = "Realtime connection lost. Using simulation fallback."
		})
	})

	go func() {
		if err := s.t.Connect(context.Background(), token); err != nil {
			s.log.Warn().Err(err).Msg("signaling connect failed")
			s.post(func() {
				if s.epoch != e || s.phase != PhaseInCall {
					return
				}
				s.status = StatusFailed
				s.realtimeInfo = "Realtime connect failed. Using simulation fallback."
			})
			return
		}
		joined := make(chan bool, 1)
		s.post(func() {
			if s.epoch != e || s.phase != PhaseInCall {
				_ = s.t.Close()
				joined <- false
				return
			}
			s.rooms.Join(roomID)
			joined <- true
		})
		select {
		case ok := <-joined:
			if !ok {
				return
			}
		case <-s.done:
			return
		}
		_, capsErr := s.caps.RouterCapabilities(context.Background(), roomID)
		s.post(func() {
			if s.epoch != e || s.phase != PhaseInCall {
				return
			}
			s.status = StatusConnected
			if capsErr != nil {
				s.realtimeInfo = fmt.Sprintf("Connected, mediasoup error: %v", capsErr)
				return
			}
			s.realtimeInfo = "Connected to backend signaling + mediasoup router."
		})
	}()
}

// onReconnected runs on the loop after the transport re-established its
// link. Room membership does not survive a reconnect, so the join is
// re-issued and cached capabilities are refreshed.
func (s *Session) onReconnected(e uint64) {
	if s.epoch != e || s.phase != PhaseInCall {
		return
	}
	roomID := s.roomID
	s.rooms.Join(roomID)
	s.caps.Invalidate(roomID)
	go func() {
		_, capsErr := s.caps.RouterCapabilities(context.Background(), roomID)
		s.post(func() {
			if s.epoch != e || s.phase != PhaseInCall {
				return
			}
			s.status = StatusConnected
			if capsErr != nil {
				s.realtimeInfo = fmt.Sprintf("Connected, mediasoup error: %v", capsErr)
				return
			}
			s.realtimeInfo = "Connected to backend signaling + mediasoup router."
		})
	}()
}

// teardown runs on the loop and returns the session to the lobby. Bumping
// the epoch first makes every in-flight completion a no-op.
func (s *Session) teardown() {
	s.epoch++
	roomID := s.roomID

	if s.elapsedTicker != nil {
		s.elapsedTicker.Stop()
		s.elapsedTicker = nil
	}
	if s.speakerTicker != nil {
		s.speakerTicker.Stop()
		s.speakerTicker = nil
	}
	for _, t := range s.replyTimers {
		t.Stop()
	}
	s.replyTimers = nil

	if s.cancelRoomMsgs != nil {
		s.cancelRoomMsgs()
		s.cancelRoomMsgs = nil
	}
	if s.cancelReconn != nil {
		s.cancelReconn()
		s.cancelReconn = nil
	}
	if s.cancelReconnEnd != nil {
		s.cancelReconnEnd()
		s.cancelReconnEnd = nil
	}

	if s.recording && s.rec != nil {
		if _, err := s.rec.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("recorder stop failed during hangup")
		}
	}
	s.recording = false
	s.recordingSeconds = 0

	s.media.ReleaseLocal()
	s.media.ReleaseShare()
	s.sharing = false
	s.mediaInfo = "Camera and mic not started yet."

	if s.t.IsConnected() {
		s.rooms.Leave(roomID)
		if err := s.t.Close(); err != nil {
			s.log.Warn().Err(err).Msg("transport close failed")
		}
	}
	s.caps.Invalidate(roomID)
	s.status = StatusIdle
	s.realtimeInfo = "Simulation mode active"

	s.registry.Reset()
	s.chat.Reset()
	s.roomID = ""
	s.elapsedSeconds = 0
	s.phase = PhaseLobby
}

func (s *Session) onElapsedTick() {
	if s.phase != PhaseInCall {
		return
	}
	s.elapsedSeconds++
	if s.recording {
		s.recordingSeconds++
	}
}

// onSpeakerTick rotates the active speaker badge among the remotes.
func (s *Session) onSpeakerTick() {
	if s.phase != PhaseInCall {
		return
	}
	remotes := s.registry.Remotes()
	if len(remotes) == 0 {
		return
	}
	next := remotes[s.rng.Intn(len(remotes))]
	s.registry.SetActiveSpeaker(next.ID)
}
