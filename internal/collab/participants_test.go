package collab

import (
	"reflect"
	"testing"
	"time"
)

func TestParticipantsKeepJoinOrder(t *testing.T) {
	var roster Participants
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, added := roster.Add("alice", t0); !added {
		t.Fatalf("expected alice to be added")
	}
	roster.Add("bob", t0.Add(time.Second))
	roster.Add("carol", t0.Add(2*time.Second))
	p, added := roster.Add("alice", t0.Add(3*time.Second))

	if added {
		t.Fatalf("expected re-adding alice to be a no-op")
	}
	if !p.JoinedAt.Equal(t0) {
		t.Errorf("expected original join time %v, got %v", t0, p.JoinedAt)
	}
	if !p.LastActivityAt.Equal(t0.Add(3 * time.Second)) {
		t.Errorf("expected refreshed activity, got %v", p.LastActivityAt)
	}
	if roster.Count() != 3 {
		t.Fatalf("expected 3 participants, got %d", roster.Count())
	}

	if !roster.Remove("bob") {
		t.Fatalf("expected bob to be removed")
	}
	if roster.Remove("bob") {
		t.Errorf("expected second remove to report false")
	}
	ids := []string{}
	for _, p := range roster.List() {
		ids = append(ids, p.UserID)
	}
	if want := []string{"alice", "carol"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("expected %v, got %v", want, ids)
	}
}

func TestParticipantsUnknownUser(t *testing.T) {
	var roster Participants
	now := time.Now()

	if roster.Has("ghost") {
		t.Errorf("Has reported unknown user")
	}
	if roster.Touch("ghost", now) {
		t.Errorf("Touch reported unknown user")
	}
	if roster.UpdateCursor("ghost", Cursor{Line: 1}, now) {
		t.Errorf("UpdateCursor reported unknown user")
	}
	if _, ok := roster.Get("ghost"); ok {
		t.Errorf("Get reported unknown user")
	}
	if n := len(roster.List()); n != 0 {
		t.Errorf("expected empty roster, got %d", n)
	}
}

func TestParticipantsListIsACopy(t *testing.T) {
	var roster Participants
	roster.Add("alice", time.Now())

	list := roster.List()
	list[0].Cursor = Cursor{Line: 9}

	p, _ := roster.Get("alice")
	if p.Cursor != (Cursor{}) {
		t.Errorf("roster changed through List copy: %+v", p.Cursor)
	}
}
