package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/classlive/classroom-rtc/internal/classroom"
	"github.com/classlive/classroom-rtc/internal/media"
	"github.com/classlive/classroom-rtc/internal/protocol"
	"github.com/classlive/classroom-rtc/internal/rtc"
)

var joinFlags struct {
	server      string
	token       string
	room        string
	participant string
	name        string
	role        string
	stun        []string
	videoFile   string
	audioFile   string
	screenFile  string
	loop        bool
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a classroom and stay in the call until interrupted",
	Long: `Join connects to the signaling server, enters the room and exchanges media
with every participant. Lines typed on stdin are sent as chat; the commands
/mute, /video, /share and /unshare control the local tracks.`,
	RunE: runJoin,
}

func init() {
	joinCmd.Flags().StringVar(&joinFlags.server, "server", "ws://localhost:8080/ws/signal", "signaling server URL")
	joinCmd.Flags().StringVar(&joinFlags.token, "token", "", "classroom join token (required by production servers)")
	joinCmd.Flags().StringVar(&joinFlags.room, "room", "", "room id to join")
	joinCmd.Flags().StringVar(&joinFlags.participant, "id", "", "participant id (random when empty)")
	joinCmd.Flags().StringVar(&joinFlags.name, "name", "", "display name")
	joinCmd.Flags().StringVar(&joinFlags.role, "role", "student", "role shown to other participants")
	joinCmd.Flags().StringSliceVar(&joinFlags.stun, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	joinCmd.Flags().StringVar(&joinFlags.videoFile, "video", "", "IVF (VP8) file to publish as camera")
	joinCmd.Flags().StringVar(&joinFlags.audioFile, "audio", "", "Ogg (Opus) file to publish as microphone")
	joinCmd.Flags().StringVar(&joinFlags.screenFile, "screen", "", "IVF (VP8) file to publish when screen sharing")
	joinCmd.Flags().BoolVar(&joinFlags.loop, "loop", true, "loop media files")
	joinCmd.MarkFlagRequired("room")
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	participantID := joinFlags.participant
	if participantID == "" {
		participantID = uuid.New().String()
	}
	name := joinFlags.name
	if name == "" {
		name = participantID[:8]
	}

	var source media.Source
	if joinFlags.videoFile != "" || joinFlags.audioFile != "" {
		source = &media.FileSource{
			VideoPath: joinFlags.videoFile,
			AudioPath: joinFlags.audioFile,
			Loop:      joinFlags.loop,
		}
	}

	session, err := classroom.Join(ctx, classroom.Options{
		ServerURL:     joinFlags.server,
		Token:         joinFlags.token,
		RoomID:        joinFlags.room,
		ParticipantID: participantID,
		Name:          name,
		Role:          joinFlags.role,
		STUNServers:   joinFlags.stun,
		Media:         source,
		Events: classroom.Events{
			OnPeerJoined: func(u protocol.UserInfo) {
				fmt.Printf("* %s (%s) is in the room\n", u.Name, u.Role)
			},
			OnPeerLeft: func(l protocol.UserLeft) {
				fmt.Printf("* %s left\n", l.Name)
			},
			OnChat: func(msg protocol.ChatMessage) {
				fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.SenderName, msg.Text)
			},
			OnScreenShare: func(id string, active bool) {
				if active {
					fmt.Printf("* %s started sharing their screen\n", id)
				} else {
					fmt.Printf("* %s stopped sharing their screen\n", id)
				}
			},
			OnPeerStatus: func(id string, status rtc.PeerStatus) {
				if status == rtc.PeerFailed {
					fmt.Printf("* connection to %s failed\n", id)
				}
			},
		},
	})
	if err != nil {
		return err
	}
	defer session.Leave()

	fmt.Printf("joined room %q as %s\n", joinFlags.room, name)

	input := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- scanner.Text()
		}
		close(input)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			return fmt.Errorf("disconnected from signaling server")
		case line, ok := <-input:
			if !ok {
				return nil
			}
			handleInput(ctx, session, strings.TrimSpace(line))
		}
	}
}

func handleInput(ctx context.Context, session *classroom.Session, line string) {
	switch {
	case line == "":
	case line == "/mute":
		if session.ToggleAudio() {
			fmt.Println("* microphone on")
		} else {
			fmt.Println("* microphone off")
		}
	case line == "/video":
		if session.ToggleVideo() {
			fmt.Println("* camera on")
		} else {
			fmt.Println("* camera off")
		}
	case line == "/share":
		if joinFlags.screenFile == "" {
			fmt.Println("* no --screen file configured")
			return
		}
		err := session.StartScreenShare(ctx, &media.FileSource{
			VideoPath: joinFlags.screenFile,
			Loop:      joinFlags.loop,
			StreamID:  "screen",
		})
		if err != nil {
			fmt.Printf("* screen share failed: %v\n", err)
			return
		}
		fmt.Println("* screen sharing")
	case line == "/unshare":
		session.StopScreenShare()
		fmt.Println("* screen share stopped")
	default:
		session.SendChat(line)
	}
}
