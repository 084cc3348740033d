package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/classlive/classroom-rtc/internal/middleware"
	"github.com/classlive/classroom-rtc/internal/presence"
	"github.com/classlive/classroom-rtc/internal/protocol"
	"github.com/classlive/classroom-rtc/internal/registry"
)

// Relay interprets inbound signaling messages and produces the corresponding
// targeted or broadcast deliveries against the room registry. It never
// surfaces a "not found" condition to the sender: stale and malformed
// messages degrade to logged drops, so one bad message can neither crash the
// process nor corrupt membership state.
type Relay struct {
	registry *registry.Registry
	presence *presence.Store
}

func NewRelay(reg *registry.Registry, store *presence.Store) *Relay {
	return &Relay{registry: reg, presence: store}
}

// Registry exposes the membership state for the introspection endpoints.
func (r *Relay) Registry() *registry.Registry { return r.registry }

// Join registers the client in the requested room, answers with the current
// membership snapshot and notifies existing members. When token claims are
// present they are authoritative for name and role. A join that claims a
// participant id still held by a live session displaces that session: the
// old transport is closed and, being already unregistered, its disconnect
// cleanup resolves to a no-op.
func (r *Relay) Join(sess registry.Session, env *protocol.Envelope, claims *middleware.Claims) *registry.Participant {
	var req protocol.JoinRoom
	if err := env.Decode(&req); err != nil {
		slog.Warn("malformed join, dropping", "session", sess.ID(), "error", err)
		return nil
	}
	if req.RoomID == "" || req.ParticipantID == "" {
		slog.Warn("join missing room or participant id, dropping", "session", sess.ID())
		return nil
	}
	if claims != nil {
		if claims.Name != "" {
			req.Name = claims.Name
		}
		if claims.Role != "" {
			req.Role = claims.Role
		}
	}

	// A session that joins again without leaving first is cleaned out of its
	// previous room, user-left broadcast included.
	r.Disconnect(sess)

	rec, others, displaced := r.registry.Join(req.RoomID, req.ParticipantID, req.Name, req.Role, sess)
	if displaced != nil {
		slog.Info("participant id reclaimed, displacing stale session",
			"room", req.RoomID, "participant", req.ParticipantID, "oldSession", displaced.Session.ID())
		displaced.Session.Close()
	}

	r.presence.Add(context.Background(), req.RoomID, req.ParticipantID)

	users := make([]protocol.UserInfo, 0, len(others))
	for _, p := range others {
		users = append(users, p.Info())
	}
	sess.Deliver(protocol.MustEnvelope(protocol.TypeRoomUsers, protocol.RoomUsers{Users: users}))

	joinedMsg := protocol.MustEnvelope(protocol.TypeUserJoined, protocol.UserInfo{
		ParticipantID: req.ParticipantID,
		Name:          req.Name,
		Role:          req.Role,
	})
	for _, p := range others {
		p.Session.Deliver(joinedMsg)
	}

	slog.Info("participant joined", "room", req.RoomID, "participant", req.ParticipantID,
		"name", req.Name, "role", req.Role, "peers", len(others))
	return rec
}

// Dispatch routes a message from a joined participant.
func (r *Relay) Dispatch(from *registry.Participant, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		r.forward(from, env)
	case protocol.TypeChatMessage:
		r.chat(from, env)
	case protocol.TypeToggleAudio, protocol.TypeToggleVideo:
		r.toggleTrack(from, env)
	case protocol.TypeStartScreenShare, protocol.TypeStopScreenShare:
		r.screenShare(from, env)
	default:
		slog.Warn("unknown message type, dropping", "participant", from.ID, "type", env.Type)
	}
}

// forward relays an offer, answer or ICE candidate to the named target only,
// with the sender id attached so the recipient can route its reply. A target
// that already left is a silent drop, not an error: the sender self-heals by
// re-offering when membership changes.
func (r *Relay) forward(from *registry.Participant, env *protocol.Envelope) {
	var sig protocol.Signal
	if err := env.Decode(&sig); err != nil {
		slog.Warn("malformed signal, dropping", "participant", from.ID, "type", env.Type, "error", err)
		return
	}
	if sig.TargetID == "" {
		slog.Warn("signal without target, dropping", "participant", from.ID, "type", env.Type)
		return
	}
	sig.SenderID = from.ID

	target, ok := r.registry.FindInRoom(from.RoomID, sig.TargetID)
	if !ok {
		slog.Info("signal target not in room, dropping",
			"room", from.RoomID, "from", from.ID, "target", sig.TargetID, "type", env.Type)
		return
	}

	out, err := protocol.NewEnvelope(env.Type, sig)
	if err != nil {
		slog.Warn("failed to re-encode signal", "participant", from.ID, "error", err)
		return
	}
	target.Session.Deliver(out)
}

// chat broadcasts a text message to every other participant in the sender's
// room, stamped with the sender identity and a server timestamp.
func (r *Relay) chat(from *registry.Participant, env *protocol.Envelope) {
	var msg protocol.ChatMessage
	if err := env.Decode(&msg); err != nil {
		slog.Warn("malformed chat message, dropping", "participant", from.ID, "error", err)
		return
	}
	msg.SenderID = from.ID
	msg.SenderName = from.Name
	msg.Role = from.Role
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	r.broadcast(from, protocol.MustEnvelope(protocol.TypeChatMessage, msg))
}

// toggleTrack propagates an advisory audio/video mute notification. The relay
// does not validate or store the state; the track itself is the source of
// truth on the media path.
func (r *Relay) toggleTrack(from *registry.Participant, env *protocol.Envelope) {
	var toggle protocol.TrackToggle
	if err := env.Decode(&toggle); err != nil {
		slog.Warn("malformed track toggle, dropping", "participant", from.ID, "type", env.Type, "error", err)
		return
	}
	toggle.ParticipantID = from.ID

	r.broadcast(from, protocol.MustEnvelope(env.Type, toggle))
}

// screenShare propagates an advisory screen-share start/stop notification.
func (r *Relay) screenShare(from *registry.Participant, env *protocol.Envelope) {
	r.broadcast(from, protocol.MustEnvelope(env.Type, protocol.ScreenShare{ParticipantID: from.ID}))
}

// Disconnect runs the shared departure cleanup for explicit leave-room and
// transport disconnect. The registry lookup makes it idempotent: whichever
// path runs second finds nothing and produces no second user-left broadcast.
func (r *Relay) Disconnect(sess registry.Session) {
	rec, ok := r.registry.Leave(sess.ID())
	if !ok {
		return
	}

	r.presence.Remove(context.Background(), rec.RoomID, rec.ID)

	leftMsg := protocol.MustEnvelope(protocol.TypeUserLeft, protocol.UserLeft{
		ParticipantID: rec.ID,
		Name:          rec.Name,
	})
	for _, p := range r.registry.Others(rec.RoomID, rec.ID) {
		p.Session.Deliver(leftMsg)
	}
	slog.Info("participant left", "room", rec.RoomID, "participant", rec.ID)
}

func (r *Relay) broadcast(from *registry.Participant, env *protocol.Envelope) {
	for _, p := range r.registry.Others(from.RoomID, from.ID) {
		p.Session.Deliver(env)
	}
}
