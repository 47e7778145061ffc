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

// Search executes a UNION ALL query across tasks and users using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultTask {
		taskWhere := "t.fts @@ " + tsQuery
		if q.OrganizationID != "" {
			taskWhere += fmt.Sprintf(" AND t.organization_id = $%d", argN)
			args = append(args, q.OrganizationID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.organization_id, t.status,
				ts_rank(t.fts, %s) AS rank
			FROM tasks t
			WHERE %s`, tsQuery, tsQuery, taskWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultUser {
		userWhere := "u.fts @@ " + tsQuery
		if q.OrganizationID != "" {
			userWhere += fmt.Sprintf(" AND u.organization_id = $%d", argN)
			args = append(args, q.OrganizationID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'user'::text AS type, u.id, u.name AS title,
				u.email AS snippet,
				u.organization_id, u.role AS status,
				ts_rank(u.fts, %s) AS rank
			FROM users u
			WHERE %s`, tsQuery, userWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, organization_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

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
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.OrganizationID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TaskRecord, []UserRecord, error) {
	taskRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, organization_id, status
		FROM tasks
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.Title, &t.Description, &t.OrganizationID, &t.Status); err != nil {
			return nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	userRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email, organization_id, role
		FROM users
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load users: %w", err)
	}
	defer userRows.Close()

	users := make([]UserRecord, 0)
	for userRows.Next() {
		var u UserRecord
		if err := userRows.Scan(&u.ID, &u.Name, &u.Email, &u.OrganizationID, &u.Role); err != nil {
			return nil, nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := userRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate users: %w", err)
	}

	return tasks, users, nil
}
