// Command client is an interactive terminal client for call rooms. It runs
// the full session against real signaling when CALLROOM_ENABLE_REALTIME is
// set, and in simulation mode otherwise.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/LemmyAI/callroom/internal/auth"
	"github.com/LemmyAI/callroom/internal/config"
	"github.com/LemmyAI/callroom/internal/media"
	"github.com/LemmyAI/callroom/internal/session"
	"github.com/LemmyAI/callroom/internal/transport"
)

func main() {
	name := flag.String("name", "You", "display name")
	title := flag.String("title", "Team Sync", "call title")
	joinID := flag.String("join", "", "room id to join on startup (empty creates one)")
	tokenFlag := flag.String("token", "", "auth token (overrides the stored one)")
	devSecret := flag.String("dev-secret", "", "mint and store a dev token signed with this secret")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.InfoLevel).With().Timestamp().Logger()
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("bad environment")
	}
	log.Debug().
		Str("api", cfg.APIBaseURLOrDefault()).
		Str("socket", cfg.SocketURLOrDefault()).
		Msg("endpoints")

	token := resolveToken(log, *tokenFlag, *devSecret, *name)

	t := transport.NewWS(transport.Config{
		URL:            cfg.SocketURLOrDefault(),
		ConnectTimeout: cfg.ConnectTimeout,
		MaxReconnects:  cfg.ReconnectAttempts,
	}, log)

	dev, err := media.NewCaptureDevice()
	if err != nil {
		log.Warn().Err(err).Msg("hardware capture unavailable, using mock devices")
		dev = media.NewMockDevice()
	}

	sess := session.New(session.Config{
		Transport:      t,
		Device:         dev,
		Log:            log,
		EnableRealtime: cfg.EnableRealtime && cfg.HasRealtimeConfig(),
		Token:          token,
		DisplayName:    *name,
		CallTitle:      *title,
	})
	defer sess.Close()

	if *joinID != "" {
		if err := sess.JoinMeeting(*joinID); err != nil {
			log.Fatal().Err(err).Str("room", *joinID).Msg("join failed")
		}
	} else {
		id, err := sess.CreateMeeting()
		if err != nil {
			log.Fatal().Err(err).Msg("create failed")
		}
		fmt.Printf("Created room %s\n", id)
	}

	fmt.Println("Commands: mic, cam, share, rec, chat <text>, add, kick, status, leave, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")

		var err error
		switch cmd {
		case "":
			continue
		case "mic":
			err = sess.ToggleMic()
		case "cam":
			err = sess.ToggleCamera()
		case "share":
			err = sess.ToggleScreenShare()
		case "rec":
			err = sess.ToggleRecording()
		case "chat":
			err = sess.SendChat(rest)
		case "add":
			err = sess.AddParticipant()
		case "kick":
			err = sess.RemoveLastParticipant()
		case "join":
			err = sess.JoinMeeting(rest)
		case "status":
			printStatus(sess.Snapshot())
		case "leave":
			err = sess.Leave()
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		if cmd != "status" {
			printStatus(sess.Snapshot())
		}
	}
}

// resolveToken prefers the flag, then the stored token. With -dev-secret it
// mints a fresh local token and stores it for next time.
func resolveToken(log zerolog.Logger, flagToken, devSecret, name string) string {
	if flagToken != "" {
		return flagToken
	}

	path, err := auth.DefaultStorePath()
	if err != nil {
		log.Warn().Err(err).Msg("no token store available")
		return ""
	}
	store := auth.NewFileStore(path)

	if devSecret != "" {
		// Reuse the stored dev token while it is still valid.
		if stored, err := store.Token(); err == nil {
			if claims, err := auth.ParseDevToken([]byte(devSecret), stored); err == nil {
				log.Debug().Str("name", claims.Name).Msg("reusing stored dev token")
				return stored
			}
		}
		token, err := auth.MintDevToken([]byte(devSecret), name, 24*time.Hour)
		if err != nil {
			log.Fatal().Err(err).Msg("mint dev token")
		}
		if err := store.SetToken(token); err != nil {
			log.Warn().Err(err).Msg("could not persist dev token")
		}
		return token
	}

	token, err := store.Token()
	if err != nil {
		return ""
	}
	return token
}

func printStatus(s session.Snapshot) {
	if s.Phase == session.PhaseLobby {
		fmt.Println("[lobby] not in a call")
		return
	}
	fmt.Printf("[%s] %s  elapsed %s  link=%s\n", s.RoomID, s.CallTitle, s.Elapsed(), s.Status)
	fmt.Printf("  %s\n  %s\n", s.RealtimeInfo, s.MediaInfo)

	fmt.Printf("  mic=%v cam=%v share=%v", s.MicOn, s.CameraOn, s.Sharing)
	if s.Recording {
		fmt.Printf(" rec=%s", s.RecordingElapsed())
	}
	fmt.Println()

	for _, p := range s.Participants {
		marker := " "
		if p.ID == s.ActiveSpeakerID {
			marker = "*"
		}
		host := ""
		if p.IsHost {
			host = " (host)"
		}
		fmt.Printf("  %s %s%s mic=%v cam=%v\n", marker, p.Name, host, p.IsMicOn, p.IsCameraOn)
	}
	for _, m := range s.Messages {
		who := m.SenderName
		if m.Mine {
			who = "me"
		}
		fmt.Printf("  [%s] %s: %s\n", m.SentAt.Format("15:04:05"), who, m.Text)
	}
}
