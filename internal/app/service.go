package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"devconnect/api/internal/auth"
	"devconnect/api/internal/broadcast"
	"devconnect/api/internal/collab"
	"devconnect/api/internal/config"
	"devconnect/api/internal/gitrepo"
	"devconnect/api/internal/rbac"
	"devconnect/api/internal/search"
	"devconnect/api/internal/store"
	"devconnect/api/internal/textpatch"
)

// Session is the authenticated caller.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

type StartSessionInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    string `json:"language"`
}

// PatchInput is a patch as submitted on the wire.
type PatchInput struct {
	Type     string `json:"type"`
	Position int    `json:"position"`
	Text     string `json:"text"`
	Length   int    `json:"length"`
}

// ChangeInput carries either explicit patches or a full replacement buffer,
// which is diffed against the current one.
type ChangeInput struct {
	Patches []PatchInput `json:"patches"`
	Content *string      `json:"content"`
}

type ProjectMemberInput struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type SyncProjectInput struct {
	Name       string               `json:"name"`
	OwnerID    string               `json:"ownerId"`
	Visibility string               `json:"visibility"`
	Members    []ProjectMemberInput `json:"members"`
}

type dataStore interface {
	ProjectAccess(context.Context, string, string) (store.ProjectAccess, error)
	InsertProject(context.Context, store.Project) error
	UpsertProjectMember(context.Context, string, string, string) error
	DeleteSession(context.Context, string) error
	Ping(ctx context.Context) error
}

type sessionIndex interface {
	Search(search.Query) search.Response
	IndexSession(search.SessionRecord)
	DeleteSession(string)
}

type sessionArchive interface {
	Archive(gitrepo.Entry) (gitrepo.CommitInfo, error)
	History(projectID string, limit int) ([]gitrepo.CommitInfo, error)
	Content(projectID, sessionID, language, hash string) (string, gitrepo.CommitInfo, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions *collab.Directory
	index    sessionIndex
	events   broadcast.Subscriber
	archive  sessionArchive
}

// New wires the service. A nil archive disables archiving of ended sessions.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions *collab.Directory, index *search.Service, events broadcast.Subscriber, archive *gitrepo.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		index:    index,
		events:   events,
	}
	if archive != nil {
		svc.archive = archive
	}
	return svc
}

// Bootstrap restores the active sessions recorded in the database.
func (s *Service) Bootstrap(ctx context.Context) error {
	restored, err := s.sessions.Rehydrate(ctx)
	if err != nil {
		return err
	}
	log.Printf("code sessions: restored %d active sessions", restored)
	return nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	session := Session{
		Token:    token,
		UserID:   claims.Subject,
		UserName: firstNonBlank(claims.Name, claims.Subject),
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness pings every backing service. Redis is only checked when events
// are fanned out through it.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.Ping(ctx)}
	if redis, ok := s.events.(pinger); ok {
		checks["redis"] = redis.Ping(ctx)
	}
	return checks
}

// Subscribe attaches to the event stream of one session.
func (s *Service) Subscribe(ctx context.Context, sessionID string) (*broadcast.Subscription, error) {
	if s.events == nil {
		return nil, errors.New("event stream unavailable")
	}
	return s.events.Subscribe(ctx, sessionID)
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *Service) projectRole(ctx context.Context, projectID, userID string) (rbac.Role, error) {
	access, err := s.store.ProjectAccess(ctx, projectID, userID)
	if err != nil {
		return rbac.RoleNone, err
	}
	return rbac.Resolve(access.Project.OwnerID == userID, access.MemberRole, access.Project.Public()), nil
}

func (s *Service) requireProject(ctx context.Context, projectID, userID string, action rbac.Action) (rbac.Role, error) {
	role, err := s.projectRole(ctx, projectID, userID)
	if err != nil {
		return role, err
	}
	if !rbac.Can(role, action) {
		return role, ErrAccessDenied
	}
	return role, nil
}

func (s *Service) StartSession(ctx context.Context, creatorID, projectID string, input StartSessionInput) (collab.Snapshot, error) {
	name := strings.TrimSpace(input.Name)
	if n := utf8.RuneCountInString(name); n < 3 || n > 100 {
		return collab.Snapshot{}, validationError("name must be between 3 and 100 characters")
	}
	description := strings.TrimSpace(input.Description)
	if utf8.RuneCountInString(description) > 500 {
		return collab.Snapshot{}, validationError("description must be at most 500 characters")
	}
	language := strings.ToLower(strings.TrimSpace(input.Language))
	if !collab.ValidLanguage(language) {
		return collab.Snapshot{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unsupported language", map[string]any{"languages": collab.Languages()})
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if _, err := s.requireProject(ctx, projectID, creatorID, rbac.ActionStartSession); err != nil {
		return collab.Snapshot{}, err
	}

	session, err := s.sessions.Create(ctx, collab.CreateParams{
		ProjectID:   projectID,
		CreatorID:   creatorID,
		Name:        name,
		Description: description,
		Language:    language,
		Content:     collab.DefaultContent(language),
	})
	if err != nil {
		return collab.Snapshot{}, err
	}
	snapshot := session.Snapshot()
	s.reindex(snapshot)
	return snapshot, nil
}

func (s *Service) JoinSession(ctx context.Context, sessionID, userID string) (collab.Snapshot, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return collab.Snapshot{}, err
	}
	if !session.IsActive() {
		return collab.Snapshot{}, collab.ErrSessionEnded
	}

	if !session.Snapshot().HasMember(userID) {
		if _, err := s.requireProject(ctx, session.ProjectID(), userID, rbac.ActionRead); err != nil {
			if errors.Is(err, store.ErrProjectNotFound) {
				return collab.Snapshot{}, ErrAccessDenied
			}
			return collab.Snapshot{}, err
		}
	}
	return session.Join(ctx, userID)
}

func (s *Service) LeaveSession(ctx context.Context, sessionID, userID string) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	ended, err := session.Leave(ctx, userID)
	if err != nil {
		return err
	}
	if ended {
		s.finish(session.Snapshot())
	}
	return nil
}

func (s *Service) SubmitChange(ctx context.Context, sessionID, userID string, input ChangeInput) (collab.ChangeResult, error) {
	if input.Content != nil && len(input.Patches) > 0 {
		return collab.ChangeResult{}, validationError("send either patches or content, not both")
	}
	var patches []textpatch.Patch
	if input.Content == nil {
		decoded, err := decodePatches(input.Patches)
		if err != nil {
			return collab.ChangeResult{}, err
		}
		patches = decoded
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return collab.ChangeResult{}, err
	}
	if input.Content != nil {
		return session.ReplaceContent(ctx, userID, *input.Content)
	}
	return session.ApplyChange(ctx, collab.ChangeSet{
		SessionID:   sessionID,
		AuthorID:    userID,
		Patches:     patches,
		SubmittedAt: time.Now().UTC(),
	})
}

func decodePatches(inputs []PatchInput) ([]textpatch.Patch, error) {
	patches := make([]textpatch.Patch, 0, len(inputs))
	for i, in := range inputs {
		kind, err := textpatch.ParseKind(in.Type)
		if err != nil {
			return nil, fmt.Errorf("patch %d: %w", i, err)
		}
		patches = append(patches, textpatch.Patch{
			Kind:     kind,
			Position: in.Position,
			Text:     in.Text,
			Length:   in.Length,
		})
	}
	return patches, nil
}

func (s *Service) UpdateCursor(ctx context.Context, sessionID, userID string, line, column int) error {
	if line < 0 || column < 0 {
		return validationError("line and column must not be negative")
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	return session.UpdateCursor(ctx, userID, collab.Cursor{Line: line, Column: column})
}

func (s *Service) EndSession(ctx context.Context, sessionID, requesterID string) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	// End fails with ErrSessionEnded unless this call made the transition.
	if err := session.End(ctx, requesterID); err != nil {
		return err
	}
	s.finish(session.Snapshot())
	return nil
}

// DeleteSession drops an ended session. The creator and project managers may
// delete it.
func (s *Service) DeleteSession(ctx context.Context, sessionID, requesterID string) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsActive() {
		return collab.ErrSessionActive
	}

	if session.CreatorID() != requesterID {
		if _, err := s.requireProject(ctx, session.ProjectID(), requesterID, rbac.ActionManage); err != nil {
			return err
		}
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return err
	}
	if err := s.sessions.Remove(sessionID); err != nil {
		return err
	}
	s.index.DeleteSession(sessionID)
	return nil
}

// GetSession returns the full snapshot to the creator and participants only.
func (s *Service) GetSession(ctx context.Context, sessionID, userID string) (collab.Snapshot, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return collab.Snapshot{}, err
	}
	snapshot := session.Snapshot()
	if !snapshot.HasMember(userID) {
		return collab.Snapshot{}, ErrAccessDenied
	}
	return snapshot, nil
}

func (s *Service) ListProjectSessions(ctx context.Context, projectID, userID string) ([]collab.Snapshot, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if _, err := s.requireProject(ctx, projectID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.sessions.ListByProject(projectID), nil
}

func (s *Service) ListUserSessions(_ context.Context, userID string) []collab.Snapshot {
	return s.sessions.ListByUser(userID)
}

func (s *Service) SearchSessions(ctx context.Context, projectID, userID string, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, validationError("q is required")
	}
	q.ProjectID = projectID

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if _, err := s.requireProject(ctx, projectID, userID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	return s.index.Search(q), nil
}

// SyncProject mirrors a project and its members from the project service.
func (s *Service) SyncProject(ctx context.Context, projectID string, input SyncProjectInput) (map[string]any, error) {
	projectID = strings.TrimSpace(projectID)
	ownerID := strings.TrimSpace(input.OwnerID)
	if projectID == "" || ownerID == "" {
		return nil, validationError("project id and ownerId are required")
	}
	visibility := strings.ToLower(strings.TrimSpace(input.Visibility))
	if visibility == "" {
		visibility = "private"
	}
	if visibility != "private" && visibility != "public" {
		return nil, validationError("visibility must be private or public")
	}
	for _, member := range input.Members {
		switch rbac.Role(member.Role) {
		case rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleMember:
		default:
			return nil, validationError(fmt.Sprintf("unsupported role %q for %s", member.Role, member.UserID))
		}
		if strings.TrimSpace(member.UserID) == "" {
			return nil, validationError("member userId is required")
		}
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.store.InsertProject(ctx, store.Project{
		ID:         projectID,
		Name:       firstNonBlank(input.Name, projectID),
		OwnerID:    ownerID,
		Visibility: visibility,
	}); err != nil {
		return nil, err
	}
	for _, member := range input.Members {
		if err := s.store.UpsertProjectMember(ctx, projectID, strings.TrimSpace(member.UserID), member.Role); err != nil {
			return nil, err
		}
	}
	return map[string]any{"ok": true, "projectId": projectID, "members": len(input.Members)}, nil
}

// ArchiveHistory lists the archived sessions of a project, newest first.
func (s *Service) ArchiveHistory(ctx context.Context, projectID, userID string, limit int) ([]gitrepo.CommitInfo, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if _, err := s.requireProject(ctx, projectID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	return s.archive.History(projectID, limit)
}

// ArchivedContent returns the buffer an ended session was archived with.
func (s *Service) ArchivedContent(ctx context.Context, sessionID, userID, hash string) (string, gitrepo.CommitInfo, error) {
	snapshot, err := s.GetSession(ctx, sessionID, userID)
	if err != nil {
		return "", gitrepo.CommitInfo{}, err
	}
	if snapshot.IsActive {
		return "", gitrepo.CommitInfo{}, collab.ErrSessionActive
	}
	if s.archive == nil {
		return "", gitrepo.CommitInfo{}, gitrepo.ErrNotArchived
	}
	return s.archive.Content(snapshot.ProjectID, snapshot.ID, snapshot.Language, strings.TrimSpace(hash))
}

// finish runs once a session has ended, whether by its creator or because the
// last participant left.
func (s *Service) finish(snapshot collab.Snapshot) {
	s.reindex(snapshot)
	if s.archive == nil {
		return
	}
	participants := make([]string, 0, len(snapshot.Participants))
	for _, p := range snapshot.Participants {
		participants = append(participants, p.UserID)
	}
	commit, err := s.archive.Archive(gitrepo.Entry{
		SessionID:    snapshot.ID,
		ProjectID:    snapshot.ProjectID,
		Name:         snapshot.Name,
		Description:  snapshot.Description,
		Language:     snapshot.Language,
		CreatorID:    snapshot.CreatorID,
		Participants: participants,
		CreatedAt:    snapshot.CreatedAt,
		EndedAt:      snapshot.LastActivityAt,
		Content:      snapshot.Buffer,
	})
	if err != nil {
		log.Printf("archive session %s failed: %v", snapshot.ID, err)
		return
	}
	log.Printf("archived session %s as %s", snapshot.ID, commit.Hash)
}

func (s *Service) reindex(snapshot collab.Snapshot) {
	s.index.IndexSession(search.SessionRecord{
		ID:          snapshot.ID,
		ProjectID:   snapshot.ProjectID,
		CreatorID:   snapshot.CreatorID,
		Name:        snapshot.Name,
		Description: snapshot.Description,
		Language:    snapshot.Language,
		Content:     snapshot.Buffer,
		IsActive:    snapshot.IsActive,
	})
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
