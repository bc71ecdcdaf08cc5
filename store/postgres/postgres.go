package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smallnest/stepgraph/store"
)

// uniqueViolation is the SQLSTATE raised by a primary key collision.
const uniqueViolation = "23505"

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresCheckpointStore implements store.CheckpointStore using PostgreSQL
type PostgresCheckpointStore struct {
	pool      DBPool
	tableName string
}

var _ store.CheckpointStore = (*PostgresCheckpointStore)(nil)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "checkpoints"
}

// NewPostgresCheckpointStore creates a new Postgres checkpoint store
func NewPostgresCheckpointStore(ctx context.Context, opts PostgresOptions) (*PostgresCheckpointStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	return NewPostgresCheckpointStoreWithPool(pool, opts.TableName), nil
}

// NewPostgresCheckpointStoreWithPool creates a new Postgres checkpoint store with an existing pool
// Useful for testing with mocks
func NewPostgresCheckpointStoreWithPool(pool DBPool, tableName string) *PostgresCheckpointStore {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &PostgresCheckpointStore{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the necessary table if it doesn't exist
func (s *PostgresCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			state JSONB NOT NULL,
			pending JSONB,
			interrupt JSONB,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (thread_id, step)
		);
	`, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresCheckpointStore) Close() {
	s.pool.Close()
}

// Append inserts the checkpoint unless the thread already has the same or a later step.
func (s *PostgresCheckpointStore) Append(ctx context.Context, checkpoint *store.Checkpoint) error {
	if err := store.CheckAppend(nil, checkpoint); err != nil {
		return err
	}

	cols, err := store.MarshalColumns(checkpoint)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (thread_id, step, id, parent_id, source, state, pending, interrupt, metadata, created_at)
		SELECT $1::text, $2::integer, $3::text, $4::text, $5::text, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb, $10::timestamptz
		WHERE NOT EXISTS (SELECT 1 FROM %s WHERE thread_id = $1 AND step >= $2)
	`, s.tableName, s.tableName)

	tag, err := s.pool.Exec(ctx, query,
		checkpoint.ThreadID,
		checkpoint.Step,
		checkpoint.ID,
		checkpoint.ParentID,
		string(checkpoint.Source),
		cols.State,
		cols.Pending,
		cols.Interrupt,
		cols.Metadata,
		checkpoint.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: thread %s step %d", store.ErrStaleCheckpoint, checkpoint.ThreadID, checkpoint.Step)
		}
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: thread %s step %d", store.ErrStaleCheckpoint, checkpoint.ThreadID, checkpoint.Step)
	}
	return nil
}

const selectColumns = "thread_id, step, id, parent_id, source, state, pending, interrupt, metadata, created_at"

func scanCheckpoint(row pgx.Row) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var source string
	var cols store.Columns

	err := row.Scan(
		&cp.ThreadID,
		&cp.Step,
		&cp.ID,
		&cp.ParentID,
		&source,
		&cols.State,
		&cols.Pending,
		&cols.Interrupt,
		&cols.Metadata,
		&cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	cp.Source = store.Source(source)

	if err := cols.Decode(&cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetLatest returns the checkpoint with the highest step of the thread.
func (s *PostgresCheckpointStore) GetLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE thread_id = $1 ORDER BY step DESC LIMIT 1`, selectColumns, s.tableName)

	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, threadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// List returns all checkpoints of a thread ordered by step.
func (s *PostgresCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE thread_id = $1 ORDER BY step ASC`, selectColumns, s.tableName)

	rows, err := s.pool.Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []*store.Checkpoint{}
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}

	return checkpoints, nil
}

// Delete removes every checkpoint of a thread
func (s *PostgresCheckpointStore) Delete(ctx context.Context, threadID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
