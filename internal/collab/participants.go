package collab

import "time"

type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type Participant struct {
	UserID         string    `json:"userId"`
	JoinedAt       time.Time `json:"joinedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	Cursor         Cursor    `json:"cursor"`
}

// Participants is the roster of one session, kept in join order. It has no lock
// of its own; the owning Session serializes access.
type Participants struct {
	order []string
	byID  map[string]*Participant
}

func newParticipants(list []Participant) Participants {
	var roster Participants
	for _, p := range list {
		roster.put(p)
	}
	return roster
}

func (r *Participants) put(p Participant) {
	if r.byID == nil {
		r.byID = make(map[string]*Participant)
	}
	if existing, ok := r.byID[p.UserID]; ok {
		*existing = p
		return
	}
	stored := p
	r.byID[p.UserID] = &stored
	r.order = append(r.order, p.UserID)
}

// Add inserts userID or, when already present, only refreshes its activity.
// It reports whether a new entry was created.
func (r *Participants) Add(userID string, at time.Time) (Participant, bool) {
	if existing, ok := r.byID[userID]; ok {
		existing.LastActivityAt = at
		return *existing, false
	}
	p := Participant{UserID: userID, JoinedAt: at, LastActivityAt: at}
	r.put(p)
	return p, true
}

func (r *Participants) Remove(userID string) bool {
	if _, ok := r.byID[userID]; !ok {
		return false
	}
	delete(r.byID, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Participants) Touch(userID string, at time.Time) bool {
	p, ok := r.byID[userID]
	if !ok {
		return false
	}
	p.LastActivityAt = at
	return true
}

func (r *Participants) UpdateCursor(userID string, cursor Cursor, at time.Time) bool {
	p, ok := r.byID[userID]
	if !ok {
		return false
	}
	p.Cursor = cursor
	p.LastActivityAt = at
	return true
}

func (r *Participants) Count() int {
	return len(r.order)
}

func (r *Participants) Has(userID string) bool {
	_, ok := r.byID[userID]
	return ok
}

func (r *Participants) Get(userID string) (Participant, bool) {
	p, ok := r.byID[userID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// List returns a copy of the roster in join order.
func (r *Participants) List() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}
