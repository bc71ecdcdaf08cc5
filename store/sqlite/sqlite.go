package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/smallnest/stepgraph/store"
)

// SqliteCheckpointStore implements store.CheckpointStore using SQLite
type SqliteCheckpointStore struct {
	db        *sql.DB
	tableName string
}

var _ store.CheckpointStore = (*SqliteCheckpointStore)(nil)

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path      string
	TableName string // Default "checkpoints"
}

// NewSqliteCheckpointStore opens the database and creates the table if needed.
func NewSqliteCheckpointStore(opts SqliteOptions) (*SqliteCheckpointStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	// SQLite has a single writer; funnel everything through one connection.
	db.SetMaxOpenConns(1)

	tableName := opts.TableName
	if tableName == "" {
		tableName = "checkpoints"
	}

	s := &SqliteCheckpointStore{
		db:        db,
		tableName: tableName,
	}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (s *SqliteCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			state TEXT NOT NULL,
			pending TEXT,
			interrupt TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (thread_id, step)
		);
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteCheckpointStore) Close() error {
	return s.db.Close()
}

// Append inserts the checkpoint only if no row of the thread has the same or a later step.
func (s *SqliteCheckpointStore) Append(ctx context.Context, checkpoint *store.Checkpoint) error {
	if err := store.CheckAppend(nil, checkpoint); err != nil {
		return err
	}

	cols, err := store.MarshalColumns(checkpoint)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (thread_id, step, id, parent_id, source, state, pending, interrupt, metadata, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM %s WHERE thread_id = ? AND step >= ?)
	`, s.tableName, s.tableName)

	res, err := s.db.ExecContext(ctx, query,
		checkpoint.ThreadID,
		checkpoint.Step,
		checkpoint.ID,
		checkpoint.ParentID,
		string(checkpoint.Source),
		string(cols.State),
		string(cols.Pending),
		string(cols.Interrupt),
		string(cols.Metadata),
		checkpoint.CreatedAt,
		checkpoint.ThreadID,
		checkpoint.Step,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: thread %s step %d", store.ErrStaleCheckpoint, checkpoint.ThreadID, checkpoint.Step)
		}
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: thread %s step %d", store.ErrStaleCheckpoint, checkpoint.ThreadID, checkpoint.Step)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var source string
	var state, pending, interrupt, metadata sql.NullString

	err := row.Scan(
		&cp.ThreadID,
		&cp.Step,
		&cp.ID,
		&cp.ParentID,
		&source,
		&state,
		&pending,
		&interrupt,
		&metadata,
		&cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	cp.Source = store.Source(source)

	cols := store.Columns{
		State:     []byte(state.String),
		Pending:   []byte(pending.String),
		Interrupt: []byte(interrupt.String),
		Metadata:  []byte(metadata.String),
	}
	if err := cols.Decode(&cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

const selectColumns = "thread_id, step, id, parent_id, source, state, pending, interrupt, metadata, created_at"

// GetLatest returns the checkpoint with the highest step of the thread.
func (s *SqliteCheckpointStore) GetLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE thread_id = ?
		ORDER BY step DESC
		LIMIT 1
	`, selectColumns, s.tableName)

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, threadID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// List returns all checkpoints of a thread ordered by step.
func (s *SqliteCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE thread_id = ?
		ORDER BY step ASC
	`, selectColumns, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, threadID)
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
func (s *SqliteCheckpointStore) Delete(ctx context.Context, threadID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
