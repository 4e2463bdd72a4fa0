package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/vscd/dbopen"
	"github.com/hazyhaar/vscd/watch"
)

// Schema for the settings table. One JSON value per key.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store is a Provider on SQLite. Every write bumps PRAGMA user_version
// in the same transaction so that Watch sees it.
type Store struct {
	db       *sql.DB
	defaults Snapshot
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]json.RawMessage
}

// NewStore applies the schema and returns a Store. base replaces the
// factory defaults for keys that were never saved.
func NewStore(db *sql.DB, base *Snapshot, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("settings: schema: %w", err)
	}
	s := &Store{db: db, defaults: Defaults(), logger: logger}
	if base != nil {
		s.defaults = base.Clone()
	}
	return s, nil
}

// SetDefaults replaces the base snapshot for unsaved keys.
func (s *Store) SetDefaults(base Snapshot) {
	s.mu.Lock()
	s.defaults = base.Clone()
	s.mu.Unlock()
}

// Load merges stored values over the defaults.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	raw, err := s.raw(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	snap := s.defaults.Clone()
	s.mu.Unlock()
	if len(raw) > 0 {
		data, err := json.Marshal(raw)
		if err != nil {
			return Snapshot{}, fmt.Errorf("settings: load: %w", err)
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("settings: load: %w", err)
		}
	}
	if snap.Limits.Max == 0 {
		snap.Limits = Limits{Min: MinSpeed, Max: MaxSpeed}
	}
	return snap.ensureDisplayBinding(), nil
}

// Save upserts each key of partial as JSON.
func (s *Store) Save(ctx context.Context, partial map[string]any) error {
	if len(partial) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for k, v := range partial {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("settings: save %s: %w", k, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				k, string(data), now); err != nil {
				return fmt.Errorf("settings: save %s: %w", k, err)
			}
		}
		return bump(ctx, tx)
	})
}

// Remove deletes keys, restoring their defaults.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, k); err != nil {
				return fmt.Errorf("settings: remove %s: %w", k, err)
			}
		}
		return bump(ctx, tx)
	})
}

// Clear deletes every stored key.
func (s *Store) Clear(ctx context.Context) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM settings`); err != nil {
			return fmt.Errorf("settings: clear: %w", err)
		}
		return bump(ctx, tx)
	})
}

// Watch polls for writes and calls fn with per-key changes until ctx ends.
func (s *Store) Watch(ctx context.Context, interval time.Duration, fn func(map[string]Change)) {
	cur, err := s.raw(ctx)
	if err != nil {
		s.logger.Warn("settings: initial read failed", "error", err)
	}
	s.mu.Lock()
	s.last = cur
	s.mu.Unlock()

	w := watch.New(s.db, watch.Options{
		Interval: interval,
		Detector: watch.PragmaUserVersion,
		Logger:   s.logger,
	})
	w.OnChange(ctx, func() error {
		next, err := s.raw(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		changes := diff(s.last, next)
		s.last = next
		s.mu.Unlock()
		if len(changes) > 0 {
			fn(changes)
		}
		return nil
	})
}

func (s *Store) raw(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("settings: read: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("settings: scan: %w", err)
		}
		out[k] = json.RawMessage(v)
	}
	return out, rows.Err()
}

func bump(ctx context.Context, tx *sql.Tx) error {
	var v int64
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return fmt.Errorf("settings: read version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
		return fmt.Errorf("settings: bump version: %w", err)
	}
	return nil
}

func diff(old, cur map[string]json.RawMessage) map[string]Change {
	out := make(map[string]Change)
	for k, v := range cur {
		if o, ok := old[k]; !ok || string(o) != string(v) {
			out[k] = Change{NewValue: v, OldValue: old[k]}
		}
	}
	for k, o := range old {
		if _, ok := cur[k]; !ok {
			out[k] = Change{OldValue: o}
		}
	}
	return out
}

var _ Provider = (*Store)(nil)
