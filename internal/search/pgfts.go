package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches code sessions of one project against the generated fts
// column using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	where, args := buildWhere(q)
	offset := max(q.Offset, 0)

	countSQL := "SELECT count(*) FROM code_sessions cs WHERE " + where
	dataSQL := fmt.Sprintf(`SELECT cs.id, cs.project_id, cs.name, cs.language,
			ts_headline('simple', cs.content, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			cs.is_active
		FROM code_sessions cs
		WHERE %s
		ORDER BY ts_rank(cs.fts, plainto_tsquery('simple', $1)) DESC, cs.last_activity_at DESC
		LIMIT %d OFFSET %d`, where, normalizeLimit(q.Limit), offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Language, &r.Snippet, &r.IsActive); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// buildWhere returns the filter clause shared by the count and data queries.
// $1 is always the query text.
func buildWhere(q Query) (string, []any) {
	clauses := []string{"cs.fts @@ plainto_tsquery('simple', $1)", "cs.project_id = $2"}
	args := []any{q.Text, q.ProjectID}
	if q.Language != "" {
		args = append(args, q.Language)
		clauses = append(clauses, fmt.Sprintf("cs.language = $%d", len(args)))
	}
	if q.ActiveOnly {
		clauses = append(clauses, "cs.is_active")
	}
	return strings.Join(clauses, " AND "), args
}

// LoadAllRecords returns every code session for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SessionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, creator_id, name, description, language, content, is_active
		FROM code_sessions
	`)
	if err != nil {
		return nil, fmt.Errorf("load code sessions: %w", err)
	}
	defer rows.Close()

	records := make([]SessionRecord, 0)
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.CreatorID, &r.Name, &r.Description, &r.Language, &r.Content, &r.IsActive); err != nil {
			return nil, fmt.Errorf("scan code session: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate code sessions: %w", err)
	}
	return records, nil
}
