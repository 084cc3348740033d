// Package registry holds the in-memory membership state for all active
// classroom rooms. It is the single source of truth for who is in which room;
// all mutation goes through its methods. State is ephemeral and lost on
// restart, which is acceptable since rooms are live call sessions.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/classlive/classroom-rtc/internal/protocol"
)

// Session is the transport handle owned by a participant. Implemented by the
// websocket client on the server side and by in-memory fakes in tests.
type Session interface {
	// ID returns the transport session identifier, unique per connection.
	ID() string
	// Deliver queues an outbound message. It must not block; delivery to a
	// slow consumer may be dropped.
	Deliver(env *protocol.Envelope)
	// Close tears the transport down. Used when a session is displaced by a
	// newer join claiming the same participant id.
	Close()
}

// Participant binds a transport session to an identity and a room. Fields are
// set at join time and never mutated afterwards.
type Participant struct {
	ID       string
	Name     string
	Role     string
	RoomID   string
	JoinedAt time.Time
	Session  Session
}

// Info returns the participant as its peers see it.
func (p *Participant) Info() protocol.UserInfo {
	return protocol.UserInfo{ParticipantID: p.ID, Name: p.Name, Role: p.Role}
}

// RoomInfo is a read-only snapshot used by the introspection endpoints.
type RoomInfo struct {
	ID           string              `json:"id"`
	Participants []protocol.UserInfo `json:"participants"`
}

// Registry maps room id -> participant id -> record, with a session id ->
// record reverse map for disconnect cleanup. A room exists iff it has at
// least one participant.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*Participant
	sessions map[string]*Participant
}

func New() *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]*Participant),
		sessions: make(map[string]*Participant),
	}
}

// Join registers a participant, creating the room if absent. It returns the
// new record, the other participants currently in the room and, if the
// participant id was already taken, the displaced record. The newer session
// wins; the caller is expected to close the displaced session, which by then
// is already unregistered so its own disconnect resolves to a no-op.
func (r *Registry) Join(roomID, participantID, name, role string, sess Session) (rec *Participant, others []*Participant, displaced *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]*Participant)
		r.rooms[roomID] = room
	}

	if old, ok := room[participantID]; ok {
		displaced = old
		delete(r.sessions, old.Session.ID())
	}

	rec = &Participant{
		ID:       participantID,
		Name:     name,
		Role:     role,
		RoomID:   roomID,
		JoinedAt: time.Now(),
		Session:  sess,
	}
	room[participantID] = rec
	r.sessions[sess.ID()] = rec

	others = make([]*Participant, 0, len(room)-1)
	for id, p := range room {
		if id != participantID {
			others = append(others, p)
		}
	}
	return rec, others, displaced
}

// Leave removes the session's participant from its room, deleting the room
// when it becomes empty. It returns false if the session was never registered
// or already left; callers treat that as a no-op, never an error, which makes
// disconnect-after-leave idempotent.
func (r *Registry) Leave(sessionID string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, sessionID)

	if room, ok := r.rooms[rec.RoomID]; ok {
		// Only remove the room entry if it is still ours: a displaced
		// session must not evict its replacement.
		if cur, ok := room[rec.ID]; ok && cur == rec {
			delete(room, rec.ID)
			if len(room) == 0 {
				delete(r.rooms, rec.RoomID)
			}
		}
	}
	return rec, true
}

// FindInRoom resolves a participant id within a room. The second return is
// false when the target has left or never existed; callers drop the message.
func (r *Registry) FindInRoom(roomID, participantID string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	p, ok := room[participantID]
	return p, ok
}

// Others returns every participant in the room except the given id.
func (r *Registry) Others(roomID, excludeID string) []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomID]
	out := make([]*Participant, 0, len(room))
	for id, p := range room {
		if id != excludeID {
			out = append(out, p)
		}
	}
	return out
}

// Rooms returns a sorted snapshot of all active rooms.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RoomInfo, 0, len(r.rooms))
	for id, room := range r.rooms {
		info := RoomInfo{ID: id, Participants: make([]protocol.UserInfo, 0, len(room))}
		for _, p := range room {
			info.Participants = append(info.Participants, p.Info())
		}
		sort.Slice(info.Participants, func(i, j int) bool {
			return info.Participants[i].ParticipantID < info.Participants[j].ParticipantID
		})
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Room returns the snapshot for one room.
func (r *Registry) Room(roomID string) (RoomInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return RoomInfo{}, false
	}
	info := RoomInfo{ID: roomID, Participants: make([]protocol.UserInfo, 0, len(room))}
	for _, p := range room {
		info.Participants = append(info.Participants, p.Info())
	}
	sort.Slice(info.Participants, func(i, j int) bool {
		return info.Participants[i].ParticipantID < info.Participants[j].ParticipantID
	})
	return info, true
}

// Counts reports active room and session totals for the health endpoint.
func (r *Registry) Counts() (rooms, sessions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.sessions)
}
