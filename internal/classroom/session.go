// Package classroom orchestrates one participant's call session: the
// signaling connection, the peer connection manager and the join/leave
// choreography between them.
package classroom

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/classlive/classroom-rtc/internal/media"
	"github.com/classlive/classroom-rtc/internal/protocol"
	"github.com/classlive/classroom-rtc/internal/rtc"
	"github.com/classlive/classroom-rtc/internal/signaling"
)

// Events are the callbacks the embedding application receives. Any of them
// may be nil. They are invoked from the session's event loop, so handlers
// must not block.
type Events struct {
	OnPeerJoined  func(protocol.UserInfo)
	OnPeerLeft    func(protocol.UserLeft)
	OnChat        func(protocol.ChatMessage)
	OnAudioToggle func(protocol.TrackToggle)
	OnVideoToggle func(protocol.TrackToggle)
	OnScreenShare func(participantID string, active bool)
	OnRemoteTrack func(peerID string, track *webrtc.TrackRemote)
	OnPeerStatus  func(peerID string, status rtc.PeerStatus)
}

// Options configure a join.
type Options struct {
	ServerURL     string
	Token         string
	RoomID        string
	ParticipantID string
	Name          string
	Role          string
	STUNServers   []string
	Media         media.Source
	OfferStagger  time.Duration
	Events        Events
}

// Session is one joined participant.
type Session struct {
	opts    Options
	client  *signaling.Client
	manager *rtc.Manager
	local   *media.Bundle

	cancel context.CancelFunc
	done   chan struct{}
}

// Join acquires local media, connects to the signaling server and enters the
// room. Media failures surface immediately (wrapping media.ErrMediaAccess);
// they are the user's to resolve, not something to retry behind their back.
// Offer creation starts only after the room-users snapshot arrives, so the
// join handshake is never overtaken by negotiation.
func Join(ctx context.Context, opts Options) (*Session, error) {
	if opts.RoomID == "" || opts.ParticipantID == "" {
		return nil, fmt.Errorf("room id and participant id are required")
	}

	ctx, cancel := context.WithCancel(ctx)

	var local *media.Bundle
	if opts.Media != nil {
		var err error
		local, err = opts.Media.Open(ctx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("acquire local media: %w", err)
		}
	}

	client, err := signaling.Dial(opts.ServerURL, opts.Token)
	if err != nil {
		cancel()
		local.Stop()
		return nil, err
	}

	manager := rtc.NewManager(opts.ParticipantID, opts.STUNServers, client, local)
	manager.OnRemoteTrack = opts.Events.OnRemoteTrack
	manager.OnPeerStatus = opts.Events.OnPeerStatus

	s := &Session{
		opts:    opts,
		client:  client,
		manager: manager,
		local:   local,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	join, err := protocol.NewEnvelope(protocol.TypeJoinRoom, protocol.JoinRoom{
		RoomID:        opts.RoomID,
		ParticipantID: opts.ParticipantID,
		Name:          opts.Name,
		Role:          opts.Role,
	})
	if err != nil {
		s.Leave()
		return nil, err
	}
	client.Send(join)

	go s.run(ctx)
	return s, nil
}

// Done is closed when the signaling connection ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// run is the session event loop: every inbound message is dispatched here,
// in arrival order. One peer's bad message never stops processing for the
// others.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.client.Incoming():
			if !ok {
				return
			}
			s.handle(ctx, env)
		}
	}
}

func (s *Session) handle(ctx context.Context, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRoomUsers:
		var snapshot protocol.RoomUsers
		if err := env.Decode(&snapshot); err != nil {
			slog.Warn("malformed room snapshot", "error", err)
			return
		}
		ids := make([]string, 0, len(snapshot.Users))
		for _, u := range snapshot.Users {
			ids = append(ids, u.ParticipantID)
			if s.opts.Events.OnPeerJoined != nil {
				s.opts.Events.OnPeerJoined(u)
			}
		}
		// The joiner offers to every existing member; they answer.
		s.manager.OfferAll(ctx, ids, s.opts.OfferStagger)

	case protocol.TypeUserJoined:
		var user protocol.UserInfo
		if err := env.Decode(&user); err != nil {
			slog.Warn("malformed user-joined", "error", err)
			return
		}
		// The new member initiates; we just surface the arrival.
		if s.opts.Events.OnPeerJoined != nil {
			s.opts.Events.OnPeerJoined(user)
		}

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		s.handleSignal(env)

	case protocol.TypeChatMessage:
		var msg protocol.ChatMessage
		if err := env.Decode(&msg); err != nil {
			slog.Warn("malformed chat message", "error", err)
			return
		}
		if s.opts.Events.OnChat != nil {
			s.opts.Events.OnChat(msg)
		}

	case protocol.TypeToggleAudio, protocol.TypeToggleVideo:
		var toggle protocol.TrackToggle
		if err := env.Decode(&toggle); err != nil {
			slog.Warn("malformed track toggle", "error", err)
			return
		}
		if env.Type == protocol.TypeToggleAudio && s.opts.Events.OnAudioToggle != nil {
			s.opts.Events.OnAudioToggle(toggle)
		}
		if env.Type == protocol.TypeToggleVideo && s.opts.Events.OnVideoToggle != nil {
			s.opts.Events.OnVideoToggle(toggle)
		}

	case protocol.TypeStartScreenShare, protocol.TypeStopScreenShare:
		var share protocol.ScreenShare
		if err := env.Decode(&share); err != nil {
			slog.Warn("malformed screen-share notification", "error", err)
			return
		}
		if s.opts.Events.OnScreenShare != nil {
			s.opts.Events.OnScreenShare(share.ParticipantID, env.Type == protocol.TypeStartScreenShare)
		}

	case protocol.TypeUserLeft:
		var left protocol.UserLeft
		if err := env.Decode(&left); err != nil {
			slog.Warn("malformed user-left", "error", err)
			return
		}
		s.manager.RemovePeer(left.ParticipantID)
		if s.opts.Events.OnPeerLeft != nil {
			s.opts.Events.OnPeerLeft(left)
		}

	default:
		slog.Warn("unknown message type", "type", env.Type)
	}
}

// handleSignal routes negotiation messages into the manager. Stale messages
// (unknown peer, out-of-order answer) are logged and dropped; they must not
// abort the event loop.
func (s *Session) handleSignal(env *protocol.Envelope) {
	var sig protocol.Signal
	if err := env.Decode(&sig); err != nil {
		slog.Warn("malformed signal", "type", env.Type, "error", err)
		return
	}
	if sig.SenderID == "" {
		slog.Warn("signal without sender, dropping", "type", env.Type)
		return
	}

	var err error
	switch env.Type {
	case protocol.TypeOffer:
		err = s.manager.HandleOffer(sig.SenderID, sig.Description)
	case protocol.TypeAnswer:
		err = s.manager.HandleAnswer(sig.SenderID, sig.Description)
	case protocol.TypeICECandidate:
		err = s.manager.HandleCandidate(sig.SenderID, sig.Candidate)
	}
	if err != nil {
		slog.Warn("dropped signal", "type", env.Type, "from", sig.SenderID, "error", err)
	}
}

// SendChat broadcasts a text message to the room.
func (s *Session) SendChat(text string) {
	env, err := protocol.NewEnvelope(protocol.TypeChatMessage, protocol.ChatMessage{
		Text:      text,
		Timestamp: time.Now(),
	})
	if err != nil {
		slog.Warn("failed to encode chat message", "error", err)
		return
	}
	s.client.Send(env)
}

// ToggleAudio flips the local microphone and notifies the room of the new
// advisory state.
func (s *Session) ToggleAudio() bool {
	enabled := s.manager.ToggleAudio()
	s.sendToggle(protocol.TypeToggleAudio, enabled)
	return enabled
}

// ToggleVideo flips the local camera and notifies the room.
func (s *Session) ToggleVideo() bool {
	enabled := s.manager.ToggleVideo()
	s.sendToggle(protocol.TypeToggleVideo, enabled)
	return enabled
}

func (s *Session) sendToggle(t protocol.Type, enabled bool) {
	env, err := protocol.NewEnvelope(t, protocol.TrackToggle{Enabled: enabled})
	if err != nil {
		slog.Warn("failed to encode toggle", "type", t, "error", err)
		return
	}
	s.client.Send(env)
}

// StartScreenShare swaps the outgoing video to the display source on every
// connection and notifies the room.
func (s *Session) StartScreenShare(ctx context.Context, source media.Source) error {
	if err := s.manager.StartScreenShare(ctx, source); err != nil {
		return err
	}
	s.client.Send(protocol.MustEnvelope(protocol.TypeStartScreenShare, protocol.ScreenShare{}))
	return nil
}

// StopScreenShare reverts to the camera and notifies the room.
func (s *Session) StopScreenShare() {
	s.manager.StopScreenShare()
	s.client.Send(protocol.MustEnvelope(protocol.TypeStopScreenShare, protocol.ScreenShare{}))
}

// Leave tears the session down: peer connections first, then local media,
// then the leave-room message and the transport, so no connection is left
// holding ICE timers against a closed socket.
func (s *Session) Leave() {
	s.manager.Close()
	s.client.Send(protocol.MustEnvelope(protocol.TypeLeaveRoom, nil))
	s.client.Close()
	s.cancel()
}
