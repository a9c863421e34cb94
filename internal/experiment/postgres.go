package experiment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const schema = `CREATE TABLE IF NOT EXISTS experiments (
	experiment_id TEXT PRIMARY KEY,
	run_timestamp TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	artifact_dir TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT ''
)`

const selectColumns = `experiment_id, run_timestamp, status, started_at, ended_at, artifact_dir, message`

// SQLStore keeps experiments in postgres.
type SQLStore struct {
	db DB
}

func NewSQLStore(db DB) *SQLStore {
	if db == nil {
		return nil
	}
	return &SQLStore{db: db}
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create experiments table: %w", err)
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, e Experiment) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO experiments (experiment_id, run_timestamp, status, started_at, artifact_dir, message)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		strings.TrimSpace(e.ID),
		strings.TrimSpace(e.RunTimestamp),
		string(e.Status),
		e.StartedAt.UTC(),
		e.ArtifactDir,
		e.Message,
	)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

func (s *SQLStore) Finish(ctx context.Context, id string, status Status, endedAt time.Time, message string) (Experiment, error) {
	if s == nil || s.db == nil {
		return Experiment{}, fmt.Errorf("experiment store not initialized")
	}
	if err := validateFinish(id, status); err != nil {
		return Experiment{}, err
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE experiments SET status = $2, ended_at = $3, message = $4
		 WHERE experiment_id = $1
		 RETURNING `+selectColumns,
		strings.TrimSpace(id),
		string(status),
		endedAt.UTC(),
		message,
	)
	return scanExperiment(row)
}

func (s *SQLStore) Get(ctx context.Context, id string) (Experiment, error) {
	if s == nil || s.db == nil {
		return Experiment{}, fmt.Errorf("experiment store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Experiment{}, errors.New("experiment id is required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM experiments WHERE experiment_id = $1`, id)
	return scanExperiment(row)
}

func (s *SQLStore) List(ctx context.Context, filter Filter) ([]Experiment, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("experiment store not initialized")
	}
	query, args, err := buildListQuery(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return out, nil
}

func buildListQuery(filter Filter) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return "", nil, fmt.Errorf("status unsupported: %q", filter.Status)
		}
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + selectColumns + ` FROM experiments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(" ORDER BY started_at DESC, experiment_id DESC LIMIT $%d", len(args))
	return query, args, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row scanner) (Experiment, error) {
	var (
		e       Experiment
		status  string
		endedAt sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.RunTimestamp, &status, &e.StartedAt, &endedAt, &e.ArtifactDir, &e.Message); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Experiment{}, ErrNotFound
		}
		return Experiment{}, fmt.Errorf("scan experiment: %w", err)
	}
	e.Status = Status(status)
	e.StartedAt = e.StartedAt.UTC()
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		e.EndedAt = &t
	}
	return e, nil
}
