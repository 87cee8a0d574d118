package ci

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore reads projects and builds from Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pooled connection and verifies it with a ping.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres connection string is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema applies embedded migrations in lexical order.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, name := range names {
		payload, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		sqlText := strings.TrimSpace(string(payload))
		if sqlText == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, sqlText); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetByID(ctx context.Context, id int) (*Project, error) {
	var p Project
	const query = `SELECT id, title, reference, type, branch, allow_public_status FROM project WHERE id=$1`
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Title, &p.Reference, &p.Type, &p.Branch, &p.AllowPublicStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) GetWhere(ctx context.Context, q BuildQuery) (BuildList, error) {
	where, args := buildWhere(q)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM build`+where, args...).Scan(&total); err != nil {
		return BuildList{}, fmt.Errorf("count builds: %w", err)
	}

	query, args := selectBuildsQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return BuildList{}, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	items := make([]Build, 0)
	for rows.Next() {
		var b Build
		var message, email sql.NullString
		var started, finished sql.NullTime
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Branch, &b.CommitID, &message, &email, &b.Status, &b.Created, &started, &finished); err != nil {
			return BuildList{}, fmt.Errorf("scan build: %w", err)
		}
		if message.Valid {
			b.CommitMessage = message.String
		}
		if email.Valid {
			b.CommitterEmail = email.String
		}
		if started.Valid {
			t := started.Time
			b.Started = &t
		}
		if finished.Valid {
			t := finished.Time
			b.Finished = &t
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return BuildList{}, fmt.Errorf("iterate builds: %w", err)
	}
	return BuildList{Items: items, Count: total}, nil
}

// selectBuildsQuery renders the paged SELECT for q. LIMIT and OFFSET take
// the placeholders after the WHERE arguments.
func selectBuildsQuery(q BuildQuery) (string, []any) {
	where, args := buildWhere(q)
	order := OrderIDDesc
	if q.Order == OrderIDAsc {
		order = OrderIDAsc
	}
	query := `SELECT id, project_id, branch, commit_id, commit_message, committer_email, status, created, started, finished FROM build` +
		where + ` ORDER BY ` + string(order)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// buildWhere renders the criteria as a parameterised WHERE clause.
func buildWhere(q BuildQuery) (string, []any) {
	var clauses []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if !q.AllProjects {
		add("project_id", q.ProjectID)
	}
	if q.Branch != "" {
		add("branch", q.Branch)
	}
	if q.CommitID != "" {
		add("commit_id", q.CommitID)
	}
	if q.Status != nil {
		add("status", int(*q.Status))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
