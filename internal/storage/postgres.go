package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/xaenox/mail-pilot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	URL         string
	UseInMemory bool
}

// DSN returns URL when set, otherwise a keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err = s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) SaveRun(ctx context.Context, run *models.RunRecord) error {
	query := `
		INSERT INTO pipeline_runs (id, method, stage, total, started_at, completed_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET stage = EXCLUDED.stage,
			total = EXCLUDED.total,
			completed_at = EXCLUDED.completed_at,
			payload = EXCLUDED.payload`

	payload := run.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Method,
		run.Stage,
		run.Total,
		run.StartedAt,
		nullTime(run.CompletedAt),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("error saving run: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	query := `
		SELECT id, method, stage, total, started_at, completed_at, payload
		FROM pipeline_runs
		WHERE id = $1`

	run := &models.RunRecord{}
	var completed sql.NullTime
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Method,
		&run.Stage,
		&run.Total,
		&run.StartedAt,
		&completed,
		&payload,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying run: %w", err)
	}
	run.CompletedAt = completed.Time
	run.Payload = payload
	return run, nil
}

func (s *PostgresStorage) ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, method, stage, total, started_at, completed_at
		FROM pipeline_runs
		ORDER BY started_at DESC, id
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RunRecord
	for rows.Next() {
		run := &models.RunRecord{}
		var completed sql.NullTime
		if err := rows.Scan(&run.ID, &run.Method, &run.Stage, &run.Total, &run.StartedAt, &completed); err != nil {
			return nil, fmt.Errorf("error scanning run: %w", err)
		}
		run.CompletedAt = completed.Time
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
