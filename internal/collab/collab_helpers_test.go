package collab

import (
	"context"
	"sync"
	"time"
)

type fakeStore struct {
	createSession      func(ctx context.Context, snapshot Snapshot) error
	saveParticipant    func(ctx context.Context, sessionID string, participant Participant, at time.Time) error
	removeParticipant  func(ctx context.Context, sessionID, userID string, deactivate bool, at time.Time) error
	saveContent        func(ctx context.Context, sessionID, content string, author Participant, at time.Time) error
	setActive          func(ctx context.Context, sessionID string, active bool, at time.Time) error
	listActiveSessions func(ctx context.Context) ([]Snapshot, error)
	loadSession        func(ctx context.Context, id string) (Snapshot, error)
}

func (f *fakeStore) CreateSession(ctx context.Context, snapshot Snapshot) error {
	if f.createSession == nil {
		return nil
	}
	return f.createSession(ctx, snapshot)
}

func (f *fakeStore) SaveParticipant(ctx context.Context, sessionID string, participant Participant, at time.Time) error {
	if f.saveParticipant == nil {
		return nil
	}
	return f.saveParticipant(ctx, sessionID, participant, at)
}

func (f *fakeStore) RemoveParticipant(ctx context.Context, sessionID, userID string, deactivate bool, at time.Time) error {
	if f.removeParticipant == nil {
		return nil
	}
	return f.removeParticipant(ctx, sessionID, userID, deactivate, at)
}

func (f *fakeStore) SaveContent(ctx context.Context, sessionID, content string, author Participant, at time.Time) error {
	if f.saveContent == nil {
		return nil
	}
	return f.saveContent(ctx, sessionID, content, author, at)
}

func (f *fakeStore) SetActive(ctx context.Context, sessionID string, active bool, at time.Time) error {
	if f.setActive == nil {
		return nil
	}
	return f.setActive(ctx, sessionID, active, at)
}

func (f *fakeStore) ListActiveSessions(ctx context.Context) ([]Snapshot, error) {
	if f.listActiveSessions == nil {
		return nil, nil
	}
	return f.listActiveSessions(ctx)
}

func (f *fakeStore) LoadSession(ctx context.Context, id string) (Snapshot, error) {
	if f.loadSession == nil {
		return Snapshot{}, ErrSessionNotFound
	}
	return f.loadSession(ctx, id)
}

// memoryStore keeps session rows the way the database does: ended rows stay
// until deleted and only active rows are listed.
func memoryStore() (*fakeStore, map[string]Snapshot) {
	var mu sync.Mutex
	rows := make(map[string]Snapshot)
	store := &fakeStore{
		createSession: func(_ context.Context, snapshot Snapshot) error {
			mu.Lock()
			defer mu.Unlock()
			rows[snapshot.ID] = snapshot
			return nil
		},
		setActive: func(_ context.Context, id string, active bool, at time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			row := rows[id]
			row.IsActive = active
			row.LastActivityAt = at
			rows[id] = row
			return nil
		},
		listActiveSessions: func(context.Context) ([]Snapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			out := make([]Snapshot, 0, len(rows))
			for _, row := range rows {
				if row.IsActive {
					out = append(out, row)
				}
			}
			return out, nil
		},
		loadSession: func(_ context.Context, id string) (Snapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			row, ok := rows[id]
			if !ok {
				return Snapshot{}, ErrSessionNotFound
			}
			return row, nil
		},
	}
	return store, rows
}

func eventTypesEqual(got, want []EventType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingBroadcaster) Publish(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingBroadcaster) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

// stepClock advances one second per call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestDirectory(store Store) (*Directory, *recordingBroadcaster) {
	events := &recordingBroadcaster{}
	if store == nil {
		store = &fakeStore{}
	}
	return NewDirectory(DirectoryConfig{Store: store, Broadcaster: events, Now: newStepClock().Now}), events
}

func startSession(dir *Directory, creatorID, content string) *Session {
	session, err := dir.Create(context.Background(), CreateParams{
		ProjectID: "proj-1",
		CreatorID: creatorID,
		Name:      "pairing",
		Language:  "go",
		Content:   content,
	})
	if err != nil {
		panic(err)
	}
	return session
}
