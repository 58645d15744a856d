package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"devconnect/api/internal/collab"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("DEVCONNECT_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("DEVCONNECT_TEST_DATABASE_URL is not set")
	}
	return dsn
}

func setupTestStore(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := getTestDatabaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := ResetMigrations(ctx, db); err != nil {
		t.Fatalf("reset migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), db
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	_, db := setupTestStore(t)
	ctx := context.Background()

	if err := ResetMigrations(ctx, db); err != nil {
		t.Fatalf("reset migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations (pass 2): %v", err)
	}
}

func TestPostgresStoreSessionLifecycle(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := s.InsertProject(ctx, Project{ID: "proj-1", Name: "DevConnect", OwnerID: "alice"}); err != nil {
		t.Fatalf("InsertProject: %v", err)
	}

	snapshot := collab.Snapshot{
		ID:             "cs_1",
		ProjectID:      "proj-1",
		CreatorID:      "alice",
		Name:           "pairing",
		Language:       "go",
		Buffer:         "package main\n",
		Participants:   []collab.Participant{{UserID: "alice", JoinedAt: at, LastActivityAt: at}},
		IsActive:       true,
		LastActivityAt: at,
		CreatedAt:      at,
	}
	if err := s.CreateSession(ctx, snapshot); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	bob := collab.Participant{UserID: "bob", JoinedAt: at.Add(time.Minute), LastActivityAt: at.Add(time.Minute)}
	if err := s.SaveParticipant(ctx, "cs_1", bob, bob.LastActivityAt); err != nil {
		t.Fatalf("SaveParticipant: %v", err)
	}
	bob.Cursor = collab.Cursor{Line: 4, Column: 2}
	bob.LastActivityAt = at.Add(2 * time.Minute)
	if err := s.SaveParticipant(ctx, "cs_1", bob, bob.LastActivityAt); err != nil {
		t.Fatalf("SaveParticipant (cursor): %v", err)
	}
	if err := s.SaveContent(ctx, "cs_1", "package main\n\nfunc main() {}\n", bob, at.Add(3*time.Minute)); err != nil {
		t.Fatalf("SaveContent: %v", err)
	}

	active, err := s.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(active))
	}
	got := active[0]
	if got.Buffer != "package main\n\nfunc main() {}\n" {
		t.Fatalf("unexpected buffer %q", got.Buffer)
	}
	if len(got.Participants) != 2 || got.Participants[0].UserID != "alice" || got.Participants[1].UserID != "bob" {
		t.Fatalf("unexpected participants %+v", got.Participants)
	}
	if got.Participants[1].Cursor != (collab.Cursor{Line: 4, Column: 2}) {
		t.Fatalf("cursor not persisted: %+v", got.Participants[1].Cursor)
	}
	if !got.LastActivityAt.Equal(at.Add(3 * time.Minute)) {
		t.Fatalf("unexpected last activity %v", got.LastActivityAt)
	}

	if err := s.RemoveParticipant(ctx, "cs_1", "bob", false, at.Add(4*time.Minute)); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if err := s.SetActive(ctx, "cs_1", false, at.Add(5*time.Minute)); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	active, err = s.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(active))
	}
	row, err := s.GetSessionRow(ctx, "cs_1")
	if err != nil {
		t.Fatalf("GetSessionRow: %v", err)
	}
	if row.IsActive {
		t.Fatal("expected session to be inactive")
	}
}

func TestPostgresStoreRemoveLastParticipantDeactivates(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	if err := s.InsertProject(ctx, Project{ID: "proj-1", Name: "DevConnect", OwnerID: "alice"}); err != nil {
		t.Fatalf("InsertProject: %v", err)
	}
	snapshot := collab.Snapshot{
		ID: "cs_2", ProjectID: "proj-1", CreatorID: "alice", Name: "solo", Language: "go",
		Participants: []collab.Participant{{UserID: "bob", JoinedAt: at, LastActivityAt: at}},
		IsActive:     true, LastActivityAt: at, CreatedAt: at,
	}
	if err := s.CreateSession(ctx, snapshot); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.RemoveParticipant(ctx, "cs_2", "bob", true, at); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	row, err := s.GetSessionRow(ctx, "cs_2")
	if err != nil {
		t.Fatalf("GetSessionRow: %v", err)
	}
	if row.IsActive {
		t.Fatal("expected session to be deactivated")
	}
}

func TestPostgresStoreUnknownRows(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	err := s.CreateSession(ctx, collab.Snapshot{ID: "cs_x", ProjectID: "missing", CreatorID: "a", Name: "orphan", Language: "go", IsActive: true, LastActivityAt: at, CreatedAt: at})
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if err := s.SaveContent(ctx, "cs_missing", "x", collab.Participant{UserID: "a"}, at); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound from SaveContent, got %v", err)
	}
	if err := s.SetActive(ctx, "cs_missing", false, at); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound from SetActive, got %v", err)
	}
	if _, err := s.GetSessionRow(ctx, "cs_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound from GetSessionRow, got %v", err)
	}
}

func TestPostgresStoreProjectAccess(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if err := s.InsertProject(ctx, Project{ID: "proj-1", Name: "DevConnect", OwnerID: "alice", Visibility: "public"}); err != nil {
		t.Fatalf("InsertProject: %v", err)
	}
	if err := s.UpsertProjectMember(ctx, "proj-1", "bob", "member"); err != nil {
		t.Fatalf("UpsertProjectMember: %v", err)
	}

	access, err := s.ProjectAccess(ctx, "proj-1", "bob")
	if err != nil {
		t.Fatalf("ProjectAccess: %v", err)
	}
	if access.MemberRole != "member" || access.Project.OwnerID != "alice" || !access.Project.Public() {
		t.Fatalf("unexpected access %+v", access)
	}

	access, err = s.ProjectAccess(ctx, "proj-1", "carol")
	if err != nil {
		t.Fatalf("ProjectAccess: %v", err)
	}
	if access.MemberRole != "" {
		t.Fatalf("expected no membership for carol, got %q", access.MemberRole)
	}

	if _, err := s.ProjectAccess(ctx, "missing", "bob"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if err := s.UpsertProjectMember(ctx, "missing", "bob", "member"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestPostgresStoreDeleteSessionRequiresEnded(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	if err := s.InsertProject(ctx, Project{ID: "proj-1", Name: "DevConnect", OwnerID: "alice"}); err != nil {
		t.Fatalf("InsertProject: %v", err)
	}
	snapshot := collab.Snapshot{
		ID: "cs_del", ProjectID: "proj-1", CreatorID: "alice", Name: "to delete", Language: "go",
		Participants: []collab.Participant{{UserID: "alice", JoinedAt: at, LastActivityAt: at}},
		IsActive:     true, LastActivityAt: at, CreatedAt: at,
	}
	if err := s.CreateSession(ctx, snapshot); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := s.DeleteSession(ctx, "cs_del"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected active session to be kept, got %v", err)
	}
	if err := s.SetActive(ctx, "cs_del", false, at); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if err := s.DeleteSession(ctx, "cs_del"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSessionRow(ctx, "cs_del"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session to be gone, got %v", err)
	}
}

func TestPostgresStoreLoadSessionIncludesEnded(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Microsecond)

	if err := s.InsertProject(ctx, Project{ID: "proj-1", Name: "DevConnect", OwnerID: "alice"}); err != nil {
		t.Fatalf("InsertProject: %v", err)
	}
	snapshot := collab.Snapshot{
		ID: "cs_load", ProjectID: "proj-1", CreatorID: "alice", Name: "ended", Language: "go", Buffer: "package main\n",
		Participants: []collab.Participant{
			{UserID: "alice", JoinedAt: at, LastActivityAt: at},
			{UserID: "bob", JoinedAt: at.Add(time.Second), LastActivityAt: at.Add(time.Second), Cursor: collab.Cursor{Line: 3, Column: 7}},
		},
		IsActive: true, LastActivityAt: at, CreatedAt: at,
	}
	if err := s.CreateSession(ctx, snapshot); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.SetActive(ctx, "cs_load", false, at.Add(time.Minute)); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	loaded, err := s.LoadSession(ctx, "cs_load")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.IsActive {
		t.Fatalf("expected ended session")
	}
	if loaded.Buffer != "package main\n" {
		t.Fatalf("unexpected buffer %q", loaded.Buffer)
	}
	if len(loaded.Participants) != 2 || loaded.Participants[0].UserID != "alice" || loaded.Participants[1].Cursor.Line != 3 {
		t.Fatalf("unexpected roster %+v", loaded.Participants)
	}

	if _, err := s.LoadSession(ctx, "cs_missing"); !errors.Is(err, collab.ErrSessionNotFound) {
		t.Fatalf("expected collab.ErrSessionNotFound, got %v", err)
	}
}
