package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"devconnect/api/internal/collab"
)

const foreignKeyViolation = "23503"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ collab.Store = (*PostgresStore)(nil)

func (s *PostgresStore) CreateSession(ctx context.Context, snapshot collab.Snapshot) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO code_sessions (id, project_id, creator_id, name, description, language, content, is_active, last_activity_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, snapshot.ID, snapshot.ProjectID, snapshot.CreatorID, snapshot.Name, snapshot.Description,
			snapshot.Language, snapshot.Buffer, snapshot.IsActive, snapshot.LastActivityAt, snapshot.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
				return ErrProjectNotFound
			}
			return fmt.Errorf("insert code session: %w", err)
		}
		for _, p := range snapshot.Participants {
			if err := upsertParticipant(ctx, tx, snapshot.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) SaveParticipant(ctx context.Context, sessionID string, participant collab.Participant, at time.Time) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := touchSession(ctx, tx, sessionID, at); err != nil {
			return err
		}
		return upsertParticipant(ctx, tx, sessionID, participant)
	})
}

func (s *PostgresStore) RemoveParticipant(ctx context.Context, sessionID, userID string, deactivate bool, at time.Time) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM code_session_participants WHERE session_id=$1 AND user_id=$2
		`, sessionID, userID); err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE code_sessions
			SET is_active = is_active AND NOT $2, last_activity_at = $3, updated_at = NOW()
			WHERE id = $1
		`, sessionID, deactivate, at)
		if err != nil {
			return fmt.Errorf("update code session: %w", err)
		}
		return requireRow(result)
	})
}

func (s *PostgresStore) SaveContent(ctx context.Context, sessionID, content string, author collab.Participant, at time.Time) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE code_sessions
			SET content = $2, last_activity_at = $3, updated_at = NOW()
			WHERE id = $1
		`, sessionID, content, at)
		if err != nil {
			return fmt.Errorf("update content: %w", err)
		}
		if err := requireRow(result); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE code_session_participants SET last_activity_at = $3
			WHERE session_id = $1 AND user_id = $2
		`, sessionID, author.UserID, author.LastActivityAt); err != nil {
			return fmt.Errorf("touch author: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) SetActive(ctx context.Context, sessionID string, active bool, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE code_sessions
		SET is_active = $2, last_activity_at = $3, updated_at = NOW()
		WHERE id = $1
	`, sessionID, active, at)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return requireRow(result)
}

// DeleteSession drops an ended session and, by cascade, its roster.
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM code_sessions WHERE id = $1 AND NOT is_active`, sessionID)
	if err != nil {
		return fmt.Errorf("delete code session: %w", err)
	}
	return requireRow(result)
}

// ListActiveSessions loads every active session with its roster in join order.
func (s *PostgresStore) ListActiveSessions(ctx context.Context) ([]collab.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, creator_id, name, description, language, content, is_active, last_activity_at, created_at
		FROM code_sessions
		WHERE is_active
		ORDER BY last_activity_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	snapshots := make([]collab.Snapshot, 0)
	index := map[string]int{}
	for rows.Next() {
		row, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		index[row.ID] = len(snapshots)
		snapshots = append(snapshots, row.Snapshot(nil))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	if len(snapshots) == 0 {
		return snapshots, nil
	}

	participantRows, err := s.db.QueryContext(ctx, `
		SELECT p.session_id, p.user_id, p.joined_at, p.last_activity_at, p.cursor_line, p.cursor_column
		FROM code_session_participants p
		JOIN code_sessions cs ON cs.id = p.session_id
		WHERE cs.is_active
		ORDER BY p.session_id, p.joined_at, p.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer participantRows.Close()

	for participantRows.Next() {
		var sessionID string
		var p collab.Participant
		if err := participantRows.Scan(&sessionID, &p.UserID, &p.JoinedAt, &p.LastActivityAt, &p.Cursor.Line, &p.Cursor.Column); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		i, ok := index[sessionID]
		if !ok {
			continue
		}
		snapshots[i].Participants = append(snapshots[i].Participants, p)
	}
	if err := participantRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return snapshots, nil
}

func (s *PostgresStore) GetSessionRow(ctx context.Context, sessionID string) (SessionRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, creator_id, name, description, language, content, is_active, last_activity_at, created_at
		FROM code_sessions WHERE id = $1
	`, sessionID)
	item, err := scanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, ErrSessionNotFound
	}
	return item, err
}

// LoadSession reads one session with its roster in join order, ended
// sessions included.
func (s *PostgresStore) LoadSession(ctx context.Context, sessionID string) (collab.Snapshot, error) {
	row, err := s.GetSessionRow(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return collab.Snapshot{}, collab.ErrSessionNotFound
	}
	if err != nil {
		return collab.Snapshot{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, joined_at, last_activity_at, cursor_line, cursor_column
		FROM code_session_participants
		WHERE session_id = $1
		ORDER BY joined_at, user_id
	`, sessionID)
	if err != nil {
		return collab.Snapshot{}, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	participants := make([]collab.Participant, 0)
	for rows.Next() {
		var p collab.Participant
		if err := rows.Scan(&p.UserID, &p.JoinedAt, &p.LastActivityAt, &p.Cursor.Line, &p.Cursor.Column); err != nil {
			return collab.Snapshot{}, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return collab.Snapshot{}, fmt.Errorf("iterate participants: %w", err)
	}
	return row.Snapshot(participants), nil
}

func (s *PostgresStore) ProjectAccess(ctx context.Context, projectID, userID string) (ProjectAccess, error) {
	var access ProjectAccess
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.owner_id, p.visibility, p.created_at, COALESCE(m.role, '')
		FROM projects p
		LEFT JOIN project_members m ON m.project_id = p.id AND m.user_id = $2
		WHERE p.id = $1
	`, projectID, userID).Scan(
		&access.Project.ID,
		&access.Project.Name,
		&access.Project.OwnerID,
		&access.Project.Visibility,
		&access.Project.CreatedAt,
		&access.MemberRole,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectAccess{}, ErrProjectNotFound
	}
	if err != nil {
		return ProjectAccess{}, fmt.Errorf("lookup project access: %w", err)
	}
	return access, nil
}

// InsertProject records a project and its owner membership. Projects are
// managed elsewhere; this mirrors them for access checks.
func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	if project.Visibility == "" {
		project.Visibility = "private"
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, name, owner_id, visibility)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, owner_id = EXCLUDED.owner_id, visibility = EXCLUDED.visibility
		`, project.ID, project.Name, project.OwnerID, project.Visibility); err != nil {
			return fmt.Errorf("upsert project: %w", err)
		}
		return upsertMember(ctx, tx, project.ID, project.OwnerID, "owner")
	})
}

func (s *PostgresStore) UpsertProjectMember(ctx context.Context, projectID, userID, role string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		return upsertMember(ctx, tx, projectID, userID, role)
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func upsertMember(ctx context.Context, tx *sql.Tx, projectID, userID, role string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, projectID, userID, role)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return ErrProjectNotFound
		}
		return fmt.Errorf("upsert project member: %w", err)
	}
	return nil
}

func upsertParticipant(ctx context.Context, tx *sql.Tx, sessionID string, p collab.Participant) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO code_session_participants (session_id, user_id, joined_at, last_activity_at, cursor_line, cursor_column)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, user_id) DO UPDATE
		SET last_activity_at = EXCLUDED.last_activity_at,
			cursor_line = EXCLUDED.cursor_line,
			cursor_column = EXCLUDED.cursor_column
	`, sessionID, p.UserID, p.JoinedAt, p.LastActivityAt, p.Cursor.Line, p.Cursor.Column)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return ErrSessionNotFound
		}
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func touchSession(ctx context.Context, tx *sql.Tx, sessionID string, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE code_sessions SET last_activity_at = $2, updated_at = NOW() WHERE id = $1
	`, sessionID, at)
	if err != nil {
		return fmt.Errorf("touch code session: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row rowScanner) (SessionRow, error) {
	var item SessionRow
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.CreatorID,
		&item.Name,
		&item.Description,
		&item.Language,
		&item.Content,
		&item.IsActive,
		&item.LastActivityAt,
		&item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, err
	}
	if err != nil {
		return SessionRow{}, fmt.Errorf("scan code session: %w", err)
	}
	return item, nil
}
