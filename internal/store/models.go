package store

import (
	"errors"
	"time"

	"devconnect/api/internal/collab"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrSessionNotFound = errors.New("code session row not found")
)

type Project struct {
	ID         string
	Name       string
	OwnerID    string
	Visibility string
	CreatedAt  time.Time
}

func (p Project) Public() bool {
	return p.Visibility == "public"
}

// ProjectAccess is what the API needs to decide a caller's project role.
// MemberRole is empty for non-members.
type ProjectAccess struct {
	Project    Project
	MemberRole string
}

// SessionRow is the stored form of a code session without its roster.
type SessionRow struct {
	ID             string
	ProjectID      string
	CreatorID      string
	Name           string
	Description    string
	Language       string
	Content        string
	IsActive       bool
	LastActivityAt time.Time
	CreatedAt      time.Time
}

func (r SessionRow) Snapshot(participants []collab.Participant) collab.Snapshot {
	return collab.Snapshot{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		CreatorID:      r.CreatorID,
		Name:           r.Name,
		Description:    r.Description,
		Language:       r.Language,
		Buffer:         r.Content,
		Participants:   participants,
		IsActive:       r.IsActive,
		LastActivityAt: r.LastActivityAt,
		CreatedAt:      r.CreatedAt,
	}
}
