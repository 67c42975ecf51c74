package registry

import (
	"reflect"
	"testing"
)

func TestJoinRoomListsPriorMembers(t *testing.T) {
	r := New()

	ids := []string{"c1", "c2", "c3"}
	for _, id := range ids {
		r.Connect(id)
		r.JoinRoom(id, "r1", "user-"+id, "", "")
	}

	r.Connect("c4")
	_, _, existing := r.JoinRoom("c4", "r1", "user-c4", "", "")

	got := make([]string, 0, len(existing))
	for _, e := range existing {
		got = append(got, e.ConnectionID)
	}
	if !reflect.DeepEqual(got, ids) {
		t.Fatalf("existing members = %v, want %v", got, ids)
	}

	if members := r.Members("r1"); len(members) != 4 {
		t.Fatalf("room has %d members, want 4", len(members))
	}
}

func TestDisconnectCleansPresenceAndRoom(t *testing.T) {
	r := New()
	r.Connect("a")
	r.Connect("b")
	r.JoinRoom("a", "r1", "ua", "", "")
	r.JoinRoom("b", "r1", "ub", "", "")

	roomID, remaining := r.Disconnect("a")
	if roomID != "r1" {
		t.Fatalf("disconnect room = %q, want r1", roomID)
	}
	if !reflect.DeepEqual(remaining, []string{"b"}) {
		t.Fatalf("remaining = %v, want [b]", remaining)
	}
	if r.Online("a") {
		t.Fatal("disconnected connection still online")
	}
	if members := r.Members("r1"); !reflect.DeepEqual(members, []string{"b"}) {
		t.Fatalf("members after disconnect = %v, want [b]", members)
	}
}

func TestDisconnectLastMemberDrainsRoom(t *testing.T) {
	r := New()
	r.Connect("a")
	r.JoinRoom("a", "r1", "ua", "", "")

	if _, rooms := r.Counts(); rooms != 1 {
		t.Fatalf("rooms = %d, want 1", rooms)
	}
	r.Disconnect("a")
	if conns, rooms := r.Counts(); conns != 0 || rooms != 0 {
		t.Fatalf("counts after drain = (%d, %d), want (0, 0)", conns, rooms)
	}
}

func TestRejoinLeavesPreviousRoom(t *testing.T) {
	r := New()
	r.Connect("a")
	r.Connect("b")
	r.JoinRoom("a", "r1", "ua", "", "")
	r.JoinRoom("b", "r1", "ub", "", "")

	leftRoom, leftMembers, _ := r.JoinRoom("a", "r2", "ua", "", "")
	if leftRoom != "r1" {
		t.Fatalf("left room = %q, want r1", leftRoom)
	}
	if !reflect.DeepEqual(leftMembers, []string{"b"}) {
		t.Fatalf("left members = %v, want [b]", leftMembers)
	}
	if members := r.Members("r1"); !reflect.DeepEqual(members, []string{"b"}) {
		t.Fatalf("r1 members = %v, want [b]", members)
	}
	if members := r.Members("r2"); !reflect.DeepEqual(members, []string{"a"}) {
		t.Fatalf("r2 members = %v, want [a]", members)
	}

	entry, ok := r.Lookup("a")
	if !ok || entry.RoomID != "r2" {
		t.Fatalf("presence room = %q, want r2", entry.RoomID)
	}
}

func TestRejoinSameRoomIsIdempotent(t *testing.T) {
	r := New()
	r.Connect("a")
	r.JoinRoom("a", "r1", "ua", "", "")
	leftRoom, _, existing := r.JoinRoom("a", "r1", "ua", "", "")
	if leftRoom != "" {
		t.Fatalf("re-join reported leaving %q", leftRoom)
	}
	if len(existing) != 0 {
		t.Fatalf("re-join listed self as existing member: %v", existing)
	}
	if members := r.Members("r1"); !reflect.DeepEqual(members, []string{"a"}) {
		t.Fatalf("members = %v, want [a]", members)
	}
}

func TestLeaveRoomKeepsPresence(t *testing.T) {
	r := New()
	r.Connect("a")
	r.Connect("b")
	r.JoinRoom("a", "r1", "ua", "", "")
	r.JoinRoom("b", "r1", "ub", "", "")

	roomID, remaining := r.LeaveRoom("a")
	if roomID != "r1" || !reflect.DeepEqual(remaining, []string{"b"}) {
		t.Fatalf("leave = (%q, %v), want (r1, [b])", roomID, remaining)
	}
	if !r.Online("a") {
		t.Fatal("leaving a room must not drop presence")
	}
	if entry, _ := r.Lookup("a"); entry.RoomID != "" {
		t.Fatalf("room after leave = %q, want empty", entry.RoomID)
	}
}

func TestRoleStoredOnJoin(t *testing.T) {
	r := New()
	r.Connect("a")
	r.JoinRoom("a", "r1", "doc-7", "Dr. Okafor", "doctor")

	entry, ok := r.Lookup("a")
	if !ok {
		t.Fatal("lookup failed")
	}
	if entry.Role != "doctor" || entry.UserName != "Dr. Okafor" {
		t.Fatalf("entry = %+v, want doctor role", entry)
	}
}
