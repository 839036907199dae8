package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conductorhq/conductor/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	user_id  TEXT NOT NULL,
	slot     TEXT NOT NULL,
	saved_at TIMESTAMP NOT NULL,
	state    TEXT NOT NULL,
	PRIMARY KEY (user_id, slot)
)`

// SQLStore keeps checkpoints in a SQLite database, one row per user and
// slot, with the full task state as a JSON column.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	store := NewSQLStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing database handle. The caller owns the
// handle's lifecycle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the checkpoints table when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate checkpoints: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Get returns the state in the slot, or nil when absent.
func (s *SQLStore) Get(ctx context.Context, userID, slot string) (*models.TaskState, error) {
	if !validSlot(slot) || !validSlot(userID) {
		return nil, ErrInvalidSlot
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM checkpoints WHERE user_id = ? AND slot = ?",
		userID, slot,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	var state models.TaskState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s/%s: %w", userID, slot, err)
	}
	return &state, nil
}

// Put upserts the slot contents.
func (s *SQLStore) Put(ctx context.Context, userID, slot string, state *models.TaskState) error {
	if !validSlot(slot) || !validSlot(userID) {
		return ErrInvalidSlot
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (user_id, slot, saved_at, state) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, slot) DO UPDATE SET saved_at = excluded.saved_at, state = excluded.state`,
		userID, slot, time.Now().UTC(), string(data),
	)
	if err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	return nil
}

// List summarizes every slot for the user, newest first.
func (s *SQLStore) List(ctx context.Context, userID string) ([]models.CheckpointInfo, error) {
	if !validSlot(userID) {
		return nil, ErrInvalidSlot
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT slot, state FROM checkpoints WHERE user_id = ? ORDER BY saved_at DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var infos []models.CheckpointInfo
	for rows.Next() {
		var slot, raw string
		if err := rows.Scan(&slot, &raw); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		var state models.TaskState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			continue
		}
		infos = append(infos, infoFor(slot, &state))
	}
	return infos, rows.Err()
}
