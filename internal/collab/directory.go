package collab

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"devconnect/api/internal/util"
)

type DirectoryConfig struct {
	Store       Store
	Broadcaster Broadcaster
	Now         func() time.Time
}

// Directory owns every session of the process. Per-project and per-user views
// are computed from the sessions on each call.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	store  Store
	events Broadcaster
	now    func() time.Time
}

func NewDirectory(cfg DirectoryConfig) *Directory {
	d := &Directory{
		sessions: make(map[string]*Session),
		store:    cfg.Store,
		events:   cfg.Broadcaster,
		now:      cfg.Now,
	}
	if d.store == nil {
		d.store = nopStore{}
	}
	if d.events == nil {
		d.events = nopBroadcaster{}
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

type CreateParams struct {
	ProjectID   string
	CreatorID   string
	Name        string
	Description string
	Language    string
	Content     string
}

// Create starts an active session with the creator as its first participant.
func (d *Directory) Create(ctx context.Context, params CreateParams) (*Session, error) {
	at := d.now()
	snapshot := Snapshot{
		ID:          util.NewID("cs"),
		ProjectID:   params.ProjectID,
		CreatorID:   params.CreatorID,
		Name:        params.Name,
		Description: params.Description,
		Language:    params.Language,
		Buffer:      params.Content,
		Participants: []Participant{{
			UserID:         params.CreatorID,
			JoinedAt:       at,
			LastActivityAt: at,
		}},
		IsActive:       true,
		LastActivityAt: at,
		CreatedAt:      at,
	}
	if err := d.store.CreateSession(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	session := newSession(snapshot, d.store, d.events, d.now)
	d.mu.Lock()
	d.sessions[session.id] = session
	d.mu.Unlock()
	return session, nil
}

// Get returns the session with the given id. Sessions the process does not
// hold, such as ones that ended before a restart, are loaded from the store.
func (d *Directory) Get(ctx context.Context, id string) (*Session, error) {
	if session, ok := d.cached(id); ok {
		return session, nil
	}
	snapshot, err := d.store.LoadSession(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	d.Restore([]Snapshot{snapshot})
	if session, ok := d.cached(id); ok {
		return session, nil
	}
	return nil, ErrSessionNotFound
}

func (d *Directory) cached(id string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	session, ok := d.sessions[id]
	return session, ok
}

// ListByProject returns the active sessions of a project, most recently
// active first.
func (d *Directory) ListByProject(projectID string) []Snapshot {
	return d.collect(func(s Snapshot) bool {
		return s.IsActive && s.ProjectID == projectID
	})
}

// ListByUser returns the active sessions userID created or participates in,
// most recently active first.
func (d *Directory) ListByUser(userID string) []Snapshot {
	return d.collect(func(s Snapshot) bool {
		return s.IsActive && s.HasMember(userID)
	})
}

func (d *Directory) collect(keep func(Snapshot) bool) []Snapshot {
	d.mu.RLock()
	sessions := make([]*Session, 0, len(d.sessions))
	for _, session := range d.sessions {
		sessions = append(sessions, session)
	}
	d.mu.RUnlock()

	out := make([]Snapshot, 0)
	for _, session := range sessions {
		snapshot := session.Snapshot()
		if keep(snapshot) {
			out = append(out, snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// Remove forgets an ended session held by the process. Ended sessions are
// otherwise retained.
func (d *Directory) Remove(id string) error {
	session, ok := d.cached(id)
	if !ok {
		return ErrSessionNotFound
	}
	// Ended is terminal, so the check stays valid once the map lock is taken.
	if session.IsActive() {
		return ErrSessionActive
	}
	d.mu.Lock()
	delete(d.sessions, id)
	d.mu.Unlock()
	return nil
}

// Restore registers previously persisted sessions, replacing none that are
// already known. It returns how many were added.
func (d *Directory) Restore(snapshots []Snapshot) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	added := 0
	for _, snapshot := range snapshots {
		if _, exists := d.sessions[snapshot.ID]; exists {
			continue
		}
		d.sessions[snapshot.ID] = newSession(snapshot, d.store, d.events, d.now)
		added++
	}
	return added
}

// Rehydrate loads the active sessions from the store.
func (d *Directory) Rehydrate(ctx context.Context) (int, error) {
	snapshots, err := d.store.ListActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	return d.Restore(snapshots), nil
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}
