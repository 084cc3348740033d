package registry

import (
	"testing"

	"github.com/classlive/classroom-rtc/internal/protocol"
)

type fakeSession struct {
	id        string
	delivered []*protocol.Envelope
	closed    bool
}

func (s *fakeSession) ID() string                     { return s.id }
func (s *fakeSession) Deliver(env *protocol.Envelope) { s.delivered = append(s.delivered, env) }
func (s *fakeSession) Close()                         { s.closed = true }

func TestJoinReturnsExistingMembers(t *testing.T) {
	reg := New()

	_, others, _ := reg.Join("class-7", "alice", "Alice", "teacher", &fakeSession{id: "s1"})
	if len(others) != 0 {
		t.Fatalf("first joiner should see an empty room, got %d members", len(others))
	}

	_, others, _ = reg.Join("class-7", "bob", "Bob", "student", &fakeSession{id: "s2"})
	if len(others) != 1 || others[0].ID != "alice" {
		t.Fatalf("second joiner should see [alice], got %v", others)
	}
}

func TestRoomExistsIffNonEmpty(t *testing.T) {
	reg := New()

	if rooms, _ := reg.Counts(); rooms != 0 {
		t.Fatalf("fresh registry should have no rooms, got %d", rooms)
	}

	reg.Join("class-7", "alice", "Alice", "teacher", &fakeSession{id: "s1"})
	if _, ok := reg.Room("class-7"); !ok {
		t.Fatal("room should exist after first join")
	}

	if _, ok := reg.Leave("s1"); !ok {
		t.Fatal("leave should find the registered session")
	}
	if _, ok := reg.Room("class-7"); ok {
		t.Fatal("room should be removed when the last participant leaves")
	}
	if rooms, sessions := reg.Counts(); rooms != 0 || sessions != 0 {
		t.Fatalf("registry should be empty, got %d rooms %d sessions", rooms, sessions)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	reg := New()
	reg.Join("class-7", "alice", "Alice", "teacher", &fakeSession{id: "s1"})

	if _, ok := reg.Leave("s1"); !ok {
		t.Fatal("first leave should succeed")
	}
	if _, ok := reg.Leave("s1"); ok {
		t.Fatal("second leave must be a no-op")
	}
	if _, ok := reg.Leave("never-registered"); ok {
		t.Fatal("leave for an unknown session must be a no-op")
	}
}

func TestFindInRoomAfterLeave(t *testing.T) {
	reg := New()
	reg.Join("class-7", "alice", "Alice", "teacher", &fakeSession{id: "s1"})
	reg.Join("class-7", "bob", "Bob", "student", &fakeSession{id: "s2"})

	if _, ok := reg.FindInRoom("class-7", "bob"); !ok {
		t.Fatal("bob should be resolvable while joined")
	}

	reg.Leave("s2")
	if _, ok := reg.FindInRoom("class-7", "bob"); ok {
		t.Fatal("bob must not resolve after leaving")
	}
	if _, ok := reg.FindInRoom("no-such-room", "alice"); ok {
		t.Fatal("unknown room must not resolve")
	}
}

func TestDuplicateIDDisplacesOlderSession(t *testing.T) {
	reg := New()
	old := &fakeSession{id: "s1"}
	reg.Join("class-7", "alice", "Alice", "teacher", old)

	_, _, displaced := reg.Join("class-7", "alice", "Alice", "teacher", &fakeSession{id: "s2"})
	if displaced == nil || displaced.Session.ID() != "s1" {
		t.Fatalf("rejoining with a live id should displace the old session, got %v", displaced)
	}

	// Only one deliverable entry remains.
	room, _ := reg.Room("class-7")
	if len(room.Participants) != 1 {
		t.Fatalf("duplicate join must not produce two entries, got %d", len(room.Participants))
	}
	rec, ok := reg.FindInRoom("class-7", "alice")
	if !ok || rec.Session.ID() != "s2" {
		t.Fatal("the newer session should own the participant id")
	}

	// The displaced session's own disconnect must not evict the replacement.
	if _, ok := reg.Leave("s1"); ok {
		t.Fatal("displaced session should already be unregistered")
	}
	if _, ok := reg.FindInRoom("class-7", "alice"); !ok {
		t.Fatal("replacement entry must survive the stale disconnect")
	}
}

func TestOthersExcludesSelfAndOtherRooms(t *testing.T) {
	reg := New()
	reg.Join("class-7", "alice", "Alice", "teacher", &fakeSession{id: "s1"})
	reg.Join("class-7", "bob", "Bob", "student", &fakeSession{id: "s2"})
	reg.Join("class-8", "carol", "Carol", "student", &fakeSession{id: "s3"})

	others := reg.Others("class-7", "alice")
	if len(others) != 1 || others[0].ID != "bob" {
		t.Fatalf("expected [bob], got %v", others)
	}
}

func TestRoomsSnapshot(t *testing.T) {
	reg := New()
	reg.Join("class-7", "bob", "Bob", "student", &fakeSession{id: "s1"})
	reg.Join("class-7", "alice", "Alice", "teacher", &fakeSession{id: "s2"})
	reg.Join("class-8", "carol", "Carol", "student", &fakeSession{id: "s3"})

	rooms := reg.Rooms()
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
	if rooms[0].ID != "class-7" || rooms[1].ID != "class-8" {
		t.Fatalf("rooms should be sorted by id, got %v", rooms)
	}
	want := []protocol.UserInfo{
		{ParticipantID: "alice", Name: "Alice", Role: "teacher"},
		{ParticipantID: "bob", Name: "Bob", Role: "student"},
	}
	if len(rooms[0].Participants) != 2 || rooms[0].Participants[0] != want[0] || rooms[0].Participants[1] != want[1] {
		t.Fatalf("unexpected class-7 membership: %v", rooms[0].Participants)
	}
}
