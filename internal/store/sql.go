package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/goal"
)

// Dialect captures the SQL differences between the supported databases
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter
	Placeholder func(n int) string
	// LockSuffix is appended to the read of an update transaction
	LockSuffix string
}

var (
	SQLite = Dialect{
		Name:        "sqlite",
		Placeholder: func(int) string { return "?" },
	}
	Postgres = Dialect{
		Name:        "postgres",
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		LockSuffix:  " FOR UPDATE",
	}
)

// SQLStore persists snapshots in a goals table
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL opens a database with the sqlite or postgres driver and migrates it
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	dialect := SQLite
	if driver == "postgres" {
		dialect = Postgres
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreOpen, fmt.Sprintf("failed to open %s store", driver), err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and creates the goals table
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreOpen, "failed to migrate goal store", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS goals (
		goal_key TEXT PRIMARY KEY,
		goal_set_id TEXT NOT NULL,
		unique_name TEXT NOT NULL,
		state TEXT NOT NULL,
		event TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// bind rewrites ? placeholders for the dialect
func (s *SQLStore) bind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Get(ctx context.Context, key string) (goal.GoalEvent, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.bind("SELECT event FROM goals WHERE goal_key = ?"), key).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return goal.GoalEvent{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return goal.GoalEvent{}, fmt.Errorf("failed to read goal %s: %w", key, err)
	}

	var event goal.GoalEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return goal.GoalEvent{}, fmt.Errorf("failed to decode goal %s: %w", key, err)
	}
	return event, nil
}

// Update writes the snapshot inside a transaction that first checks it
// against the stored one
func (s *SQLStore) Update(ctx context.Context, event goal.GoalEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreUpdate, "failed to encode goal", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreUpdate, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, s.bind("SELECT event FROM goals WHERE goal_key = ?")+s.dialect.LockSuffix, event.Key()).Scan(&raw)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
	case err != nil:
		return errors.Wrap(errors.ErrCodeStoreUpdate, fmt.Sprintf("failed to read goal %s", event.Key()), err)
	default:
		var stored goal.GoalEvent
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return errors.Wrap(errors.ErrCodeStoreUpdate, fmt.Sprintf("failed to decode goal %s", event.Key()), err)
		}
		if err := checkTransition(stored, event); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, s.bind(`INSERT INTO goals (goal_key, goal_set_id, unique_name, state, event, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (goal_key) DO UPDATE SET state = excluded.state, event = excluded.event, updated_at = excluded.updated_at`),
		event.Key(), event.GoalSetID, event.UniqueName, string(event.State), string(payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreUpdate, fmt.Sprintf("failed to write goal %s", event.Key()), err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreUpdate, "failed to commit goal update", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
