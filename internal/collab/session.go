// Package collab hosts collaborative code sessions: the authoritative buffer of
// one shared document, the roster editing it and the directory of all sessions
// in the process.
//
// Every mutating operation on a Session runs under that session's mutex, so
// changes are applied in the order they acquire it. There is no rebasing of
// concurrent edits: a change submitted against a stale buffer is applied to
// the current one (last writer wins).
package collab

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"devconnect/api/internal/textpatch"
	"devconnect/api/internal/util"
)

type Snapshot struct {
	ID             string        `json:"id"`
	ProjectID      string        `json:"projectId"`
	CreatorID      string        `json:"creatorId"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	Language       string        `json:"language"`
	Buffer         string        `json:"buffer"`
	Participants   []Participant `json:"participants"`
	IsActive       bool          `json:"isActive"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// HasMember reports whether userID created the session or is on its roster.
func (s Snapshot) HasMember(userID string) bool {
	if s.CreatorID == userID {
		return true
	}
	for _, p := range s.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

type ChangeSet struct {
	SessionID   string
	AuthorID    string
	Patches     []textpatch.Patch
	SubmittedAt time.Time
}

type ChangeResult struct {
	ID              string            `json:"id"`
	SessionID       string            `json:"sessionId"`
	UserID          string            `json:"userId"`
	AppliedPatches  []textpatch.Patch `json:"appliedPatches"`
	NewBufferLength int               `json:"newBufferLength"`
	Timestamp       time.Time         `json:"timestamp"`
}

type Session struct {
	mu sync.Mutex

	id          string
	projectID   string
	creatorID   string
	name        string
	description string
	language    string
	createdAt   time.Time

	buffer         string
	participants   Participants
	active         bool
	lastActivityAt time.Time

	store  Store
	events Broadcaster
	now    func() time.Time
}

func newSession(snapshot Snapshot, store Store, events Broadcaster, now func() time.Time) *Session {
	return &Session{
		id:             snapshot.ID,
		projectID:      snapshot.ProjectID,
		creatorID:      snapshot.CreatorID,
		name:           snapshot.Name,
		description:    snapshot.Description,
		language:       snapshot.Language,
		createdAt:      snapshot.CreatedAt,
		buffer:         snapshot.Buffer,
		participants:   newParticipants(snapshot.Participants),
		active:         snapshot.IsActive,
		lastActivityAt: snapshot.LastActivityAt,
		store:          store,
		events:         events,
		now:            now,
	}
}

func (s *Session) ID() string        { return s.id }
func (s *Session) ProjectID() string { return s.projectID }
func (s *Session) CreatorID() string { return s.creatorID }

func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:             s.id,
		ProjectID:      s.projectID,
		CreatorID:      s.creatorID,
		Name:           s.name,
		Description:    s.description,
		Language:       s.language,
		Buffer:         s.buffer,
		Participants:   s.participants.List(),
		IsActive:       s.active,
		LastActivityAt: s.lastActivityAt,
		CreatedAt:      s.createdAt,
	}
}

// Join adds userID to the roster, or refreshes its activity when it is already
// there.
func (s *Session) Join(ctx context.Context, userID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return Snapshot{}, ErrSessionEnded
	}
	at := s.now()
	p, present := s.participants.Get(userID)
	if !present {
		p = Participant{UserID: userID, JoinedAt: at}
	}
	p.LastActivityAt = at
	if err := s.store.SaveParticipant(ctx, s.id, p, at); err != nil {
		return Snapshot{}, fmt.Errorf("save participant: %w", err)
	}

	p, added := s.participants.Add(userID, at)
	s.lastActivityAt = at
	if added {
		s.events.Publish(Event{Type: EventParticipantJoined, SessionID: s.id, UserID: userID, Participant: &p, Timestamp: at})
	}
	return s.snapshotLocked(), nil
}

// Leave removes userID from the roster. The session ends when nobody is left;
// ended reports whether this call ended it.
func (s *Session) Leave(ctx context.Context, userID string) (ended bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return false, ErrSessionEnded
	}
	if userID == s.creatorID {
		return false, ErrCreatorCannotLeave
	}
	if !s.participants.Has(userID) {
		return false, ErrNotParticipant
	}
	at := s.now()
	emptied := s.participants.Count() == 1
	if err := s.store.RemoveParticipant(ctx, s.id, userID, emptied, at); err != nil {
		return false, fmt.Errorf("remove participant: %w", err)
	}

	s.participants.Remove(userID)
	s.lastActivityAt = at
	s.events.Publish(Event{Type: EventParticipantLeft, SessionID: s.id, UserID: userID, Timestamp: at})
	if emptied {
		s.active = false
		s.events.Publish(Event{Type: EventSessionEnded, SessionID: s.id, UserID: userID, Timestamp: at})
	}
	return emptied, nil
}

// ApplyChange applies the change set to the current buffer, whatever version
// of it the author was looking at.
func (s *Session) ApplyChange(ctx context.Context, change ChangeSet) (ChangeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, change.AuthorID, func(string) []textpatch.Patch {
		return change.Patches
	})
}

// ReplaceContent makes content the new buffer. The patches broadcast to the
// other participants are diffed against the buffer current at apply time.
func (s *Session) ReplaceContent(ctx context.Context, authorID, content string) (ChangeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, authorID, func(current string) []textpatch.Patch {
		return textpatch.Diff(current, content)
	})
}

func (s *Session) applyLocked(ctx context.Context, authorID string, patchesFor func(current string) []textpatch.Patch) (ChangeResult, error) {
	if !s.active {
		return ChangeResult{}, ErrSessionEnded
	}
	author, ok := s.participants.Get(authorID)
	if !ok {
		return ChangeResult{}, ErrNotParticipant
	}
	at := s.now()
	patches := patchesFor(s.buffer)
	next := textpatch.Apply(s.buffer, patches)
	author.LastActivityAt = at
	if err := s.store.SaveContent(ctx, s.id, next, author, at); err != nil {
		return ChangeResult{}, fmt.Errorf("save content: %w", err)
	}

	s.buffer = next
	s.participants.Touch(authorID, at)
	s.lastActivityAt = at

	result := ChangeResult{
		ID:              util.NewID("chg"),
		SessionID:       s.id,
		UserID:          authorID,
		AppliedPatches:  textpatch.Sorted(patches),
		NewBufferLength: utf8.RuneCountInString(next),
		Timestamp:       at,
	}
	s.events.Publish(Event{
		Type:      EventContentChanged,
		SessionID: s.id,
		UserID:    authorID,
		ChangeID:  result.ID,
		Patches:   result.AppliedPatches,
		Timestamp: at,
	})
	return result, nil
}

func (s *Session) UpdateCursor(ctx context.Context, userID string, cursor Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrSessionEnded
	}
	p, ok := s.participants.Get(userID)
	if !ok {
		return ErrNotParticipant
	}
	at := s.now()
	p.Cursor = cursor
	p.LastActivityAt = at
	if err := s.store.SaveParticipant(ctx, s.id, p, at); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}

	s.participants.UpdateCursor(userID, cursor, at)
	s.lastActivityAt = at
	s.events.Publish(Event{Type: EventCursorMoved, SessionID: s.id, UserID: userID, Cursor: &cursor, Timestamp: at})
	return nil
}

// End deactivates the session. Only the creator may end it.
func (s *Session) End(ctx context.Context, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrSessionEnded
	}
	if requesterID != s.creatorID {
		return ErrNotCreator
	}
	at := s.now()
	if err := s.store.SetActive(ctx, s.id, false, at); err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	s.active = false
	s.lastActivityAt = at
	s.events.Publish(Event{Type: EventSessionEnded, SessionID: s.id, UserID: requesterID, Timestamp: at})
	return nil
}
