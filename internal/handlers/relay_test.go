package handlers

import (
	"encoding/json"
	"testing"

	"github.com/classlive/classroom-rtc/internal/middleware"
	"github.com/classlive/classroom-rtc/internal/protocol"
	"github.com/classlive/classroom-rtc/internal/registry"
)

type fakeSession struct {
	id        string
	delivered []*protocol.Envelope
	closed    bool
}

func (s *fakeSession) ID() string                     { return s.id }
func (s *fakeSession) Deliver(env *protocol.Envelope) { s.delivered = append(s.delivered, env) }
func (s *fakeSession) Close()                         { s.closed = true }

func (s *fakeSession) byType(t protocol.Type) []*protocol.Envelope {
	var out []*protocol.Envelope
	for _, env := range s.delivered {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func joinEnvelope(t *testing.T, roomID, participantID, name, role string) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypeJoinRoom, protocol.JoinRoom{
		RoomID:        roomID,
		ParticipantID: participantID,
		Name:          name,
		Role:          role,
	})
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func join(t *testing.T, relay *Relay, sess *fakeSession, roomID, participantID, name, role string) *registry.Participant {
	t.Helper()
	rec := relay.Join(sess, joinEnvelope(t, roomID, participantID, name, role), nil)
	if rec == nil {
		t.Fatalf("join failed for %s", participantID)
	}
	return rec
}

func newTestRelay() *Relay {
	return NewRelay(registry.New(), nil)
}

// Scenario: alice joins an empty room, then bob joins. Alice gets an empty
// snapshot plus a user-joined for bob; bob's snapshot lists alice.
func TestJoinSequence(t *testing.T) {
	relay := newTestRelay()
	alice := &fakeSession{id: "s-alice"}
	bob := &fakeSession{id: "s-bob"}

	join(t, relay, alice, "class-7", "alice", "Alice", "teacher")

	snaps := alice.byType(protocol.TypeRoomUsers)
	if len(snaps) != 1 {
		t.Fatalf("alice should receive one room-users snapshot, got %d", len(snaps))
	}
	var snapshot protocol.RoomUsers
	if err := snaps[0].Decode(&snapshot); err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Users) != 0 {
		t.Fatalf("alice's snapshot should be empty, got %v", snapshot.Users)
	}

	join(t, relay, bob, "class-7", "bob", "Bob", "student")

	snaps = bob.byType(protocol.TypeRoomUsers)
	if len(snaps) != 1 {
		t.Fatalf("bob should receive one room-users snapshot, got %d", len(snaps))
	}
	if err := snaps[0].Decode(&snapshot); err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Users) != 1 || snapshot.Users[0].ParticipantID != "alice" {
		t.Fatalf("bob's snapshot should list alice, got %v", snapshot.Users)
	}

	joins := alice.byType(protocol.TypeUserJoined)
	if len(joins) != 1 {
		t.Fatalf("alice should receive one user-joined, got %d", len(joins))
	}
	var user protocol.UserInfo
	if err := joins[0].Decode(&user); err != nil {
		t.Fatal(err)
	}
	if user.ParticipantID != "bob" || user.Name != "Bob" || user.Role != "student" {
		t.Fatalf("unexpected user-joined payload: %+v", user)
	}
	if len(bob.byType(protocol.TypeUserJoined)) != 0 {
		t.Fatal("the joiner must not receive its own user-joined")
	}
}

func TestTokenClaimsOverrideIdentity(t *testing.T) {
	relay := newTestRelay()
	sess := &fakeSession{id: "s1"}

	rec := relay.Join(sess, joinEnvelope(t, "class-7", "alice", "Spoofed", "teacher"),
		&middleware.Claims{UserID: "u1", Name: "Alice", Role: "student"})
	if rec.Name != "Alice" || rec.Role != "student" {
		t.Fatalf("claims should win over the payload, got name=%q role=%q", rec.Name, rec.Role)
	}
}

// Scenario: an offer targeted at bob reaches bob only; carol in the same
// room sees nothing.
func TestOfferIsTargeted(t *testing.T) {
	relay := newTestRelay()
	alice, bob, carol := &fakeSession{id: "s1"}, &fakeSession{id: "s2"}, &fakeSession{id: "s3"}

	aliceRec := join(t, relay, alice, "class-7", "alice", "Alice", "teacher")
	join(t, relay, bob, "class-7", "bob", "Bob", "student")
	join(t, relay, carol, "class-7", "carol", "Carol", "student")

	offer, err := protocol.NewEnvelope(protocol.TypeOffer, protocol.Signal{
		TargetID:    "bob",
		Description: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	relay.Dispatch(aliceRec, offer)

	got := bob.byType(protocol.TypeOffer)
	if len(got) != 1 {
		t.Fatalf("bob should receive exactly one offer, got %d", len(got))
	}
	var sig protocol.Signal
	if err := got[0].Decode(&sig); err != nil {
		t.Fatal(err)
	}
	if sig.SenderID != "alice" || sig.TargetID != "bob" {
		t.Fatalf("relayed signal should carry sender and target, got %+v", sig)
	}
	if len(carol.byType(protocol.TypeOffer)) != 0 {
		t.Fatal("carol must not receive a signal targeted at bob")
	}
	if len(alice.byType(protocol.TypeOffer)) != 0 {
		t.Fatal("the sender must not receive its own signal back")
	}
}

func TestSignalToDepartedPeerIsDropped(t *testing.T) {
	relay := newTestRelay()
	alice, bob := &fakeSession{id: "s1"}, &fakeSession{id: "s2"}

	aliceRec := join(t, relay, alice, "class-7", "alice", "Alice", "teacher")
	join(t, relay, bob, "class-7", "bob", "Bob", "student")
	relay.Disconnect(bob)

	offer, err := protocol.NewEnvelope(protocol.TypeOffer, protocol.Signal{
		TargetID:    "bob",
		Description: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	relay.Dispatch(aliceRec, offer)

	if len(bob.byType(protocol.TypeOffer)) != 0 {
		t.Fatal("a departed peer must not receive signals")
	}
}

func TestChatBroadcastScopedToRoom(t *testing.T) {
	relay := newTestRelay()
	alice, bob, carol := &fakeSession{id: "s1"}, &fakeSession{id: "s2"}, &fakeSession{id: "s3"}

	aliceRec := join(t, relay, alice, "class-7", "alice", "Alice", "teacher")
	join(t, relay, bob, "class-7", "bob", "Bob", "student")
	join(t, relay, carol, "class-8", "carol", "Carol", "student")

	chat, err := protocol.NewEnvelope(protocol.TypeChatMessage, protocol.ChatMessage{Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	relay.Dispatch(aliceRec, chat)

	got := bob.byType(protocol.TypeChatMessage)
	if len(got) != 1 {
		t.Fatalf("bob should receive the chat message, got %d", len(got))
	}
	var msg protocol.ChatMessage
	if err := got[0].Decode(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Text != "hello" || msg.SenderID != "alice" || msg.SenderName != "Alice" || msg.Role != "teacher" {
		t.Fatalf("chat should be stamped with the sender identity, got %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Fatal("chat should carry a timestamp")
	}
	if len(carol.byType(protocol.TypeChatMessage)) != 0 {
		t.Fatal("chat must not leak into other rooms")
	}
	if len(alice.byType(protocol.TypeChatMessage)) != 0 {
		t.Fatal("chat is not echoed back to the sender")
	}
}

func TestAdvisoryToggleBroadcast(t *testing.T) {
	relay := newTestRelay()
	alice, bob := &fakeSession{id: "s1"}, &fakeSession{id: "s2"}

	aliceRec := join(t, relay, alice, "class-7", "alice", "Alice", "teacher")
	join(t, relay, bob, "class-7", "bob", "Bob", "student")

	toggle, err := protocol.NewEnvelope(protocol.TypeToggleAudio, protocol.TrackToggle{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	relay.Dispatch(aliceRec, toggle)

	got := bob.byType(protocol.TypeToggleAudio)
	if len(got) != 1 {
		t.Fatalf("bob should receive the toggle, got %d", len(got))
	}
	var tg protocol.TrackToggle
	if err := got[0].Decode(&tg); err != nil {
		t.Fatal(err)
	}
	if tg.ParticipantID != "alice" || tg.Enabled {
		t.Fatalf("toggle should carry the sender id and state, got %+v", tg)
	}

	relay.Dispatch(aliceRec, protocol.MustEnvelope(protocol.TypeStartScreenShare, protocol.ScreenShare{}))
	shares := bob.byType(protocol.TypeStartScreenShare)
	if len(shares) != 1 {
		t.Fatalf("bob should receive the screen-share notification, got %d", len(shares))
	}
	var share protocol.ScreenShare
	if err := shares[0].Decode(&share); err != nil {
		t.Fatal(err)
	}
	if share.ParticipantID != "alice" {
		t.Fatalf("share notification should carry the sender id, got %+v", share)
	}
}

// Scenario: bob disconnects abruptly. Alice gets exactly one user-left, and
// a second disconnect (explicit leave racing the transport close) changes
// nothing.
func TestDisconnectBroadcastsOnce(t *testing.T) {
	relay := newTestRelay()
	alice, bob := &fakeSession{id: "s1"}, &fakeSession{id: "s2"}

	join(t, relay, alice, "class-7", "alice", "Alice", "teacher")
	join(t, relay, bob, "class-7", "bob", "Bob", "student")

	relay.Disconnect(bob)
	relay.Disconnect(bob)

	lefts := alice.byType(protocol.TypeUserLeft)
	if len(lefts) != 1 {
		t.Fatalf("alice should receive exactly one user-left, got %d", len(lefts))
	}
	var left protocol.UserLeft
	if err := lefts[0].Decode(&left); err != nil {
		t.Fatal(err)
	}
	if left.ParticipantID != "bob" || left.Name != "Bob" {
		t.Fatalf("unexpected user-left payload: %+v", left)
	}
	if _, ok := relay.Registry().FindInRoom("class-7", "bob"); ok {
		t.Fatal("bob must not resolve after disconnect")
	}
}

func TestDuplicateJoinDisplacesAndClosesOldSession(t *testing.T) {
	relay := newTestRelay()
	old := &fakeSession{id: "s1"}
	replacement := &fakeSession{id: "s2"}
	watcher := &fakeSession{id: "s3"}

	join(t, relay, watcher, "class-7", "walt", "Walt", "student")
	join(t, relay, old, "class-7", "alice", "Alice", "teacher")
	join(t, relay, replacement, "class-7", "alice", "Alice", "teacher")

	if !old.closed {
		t.Fatal("the displaced session must be closed")
	}

	// The stale session's transport teardown arrives afterwards; it must
	// produce no user-left for a participant who is still in the room.
	relay.Disconnect(old)
	if len(watcher.byType(protocol.TypeUserLeft)) != 0 {
		t.Fatal("displacement must not broadcast a user-left")
	}
	if _, ok := relay.Registry().FindInRoom("class-7", "alice"); !ok {
		t.Fatal("alice must remain joined via the replacement session")
	}
}

func TestRejoinMovesSessionBetweenRooms(t *testing.T) {
	relay := newTestRelay()
	alice := &fakeSession{id: "s1"}
	watcher := &fakeSession{id: "s2"}

	join(t, relay, watcher, "class-7", "walt", "Walt", "student")
	join(t, relay, alice, "class-7", "alice", "Alice", "teacher")
	join(t, relay, alice, "class-8", "alice", "Alice", "teacher")

	if len(watcher.byType(protocol.TypeUserLeft)) != 1 {
		t.Fatal("moving rooms should leave the old room first")
	}
	if _, ok := relay.Registry().FindInRoom("class-7", "alice"); ok {
		t.Fatal("alice must be gone from the old room")
	}
	if _, ok := relay.Registry().FindInRoom("class-8", "alice"); !ok {
		t.Fatal("alice should be joined in the new room")
	}
}

func TestMalformedJoinIsDropped(t *testing.T) {
	relay := newTestRelay()
	sess := &fakeSession{id: "s1"}

	if rec := relay.Join(sess, &protocol.Envelope{Type: protocol.TypeJoinRoom}, nil); rec != nil {
		t.Fatal("join without payload must be rejected")
	}
	if rec := relay.Join(sess, joinEnvelope(t, "", "alice", "Alice", "teacher"), nil); rec != nil {
		t.Fatal("join without room id must be rejected")
	}
	if _, sessions := relay.Registry().Counts(); sessions != 0 {
		t.Fatal("rejected joins must not register sessions")
	}
}
