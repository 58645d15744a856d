package collab

import (
	"context"
	"time"
)

// Store persists session state. Every write happens before the in-memory
// commit; a failed write leaves the session untouched.
type Store interface {
	CreateSession(ctx context.Context, snapshot Snapshot) error
	SaveParticipant(ctx context.Context, sessionID string, participant Participant, at time.Time) error
	RemoveParticipant(ctx context.Context, sessionID, userID string, deactivate bool, at time.Time) error
	SaveContent(ctx context.Context, sessionID, content string, author Participant, at time.Time) error
	SetActive(ctx context.Context, sessionID string, active bool, at time.Time) error
	ListActiveSessions(ctx context.Context) ([]Snapshot, error)
	// LoadSession reads one session, ended or not. A missing session is
	// ErrSessionNotFound.
	LoadSession(ctx context.Context, id string) (Snapshot, error)
}

type nopStore struct{}

func (nopStore) CreateSession(context.Context, Snapshot) error { return nil }

func (nopStore) SaveParticipant(context.Context, string, Participant, time.Time) error { return nil }

func (nopStore) RemoveParticipant(context.Context, string, string, bool, time.Time) error {
	return nil
}

func (nopStore) SaveContent(context.Context, string, string, Participant, time.Time) error {
	return nil
}

func (nopStore) SetActive(context.Context, string, bool, time.Time) error { return nil }

func (nopStore) ListActiveSessions(context.Context) ([]Snapshot, error) { return nil, nil }

func (nopStore) LoadSession(context.Context, string) (Snapshot, error) {
	return Snapshot{}, ErrSessionNotFound
}
