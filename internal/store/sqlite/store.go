// Package sqlite persists sessions and champion cards in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kiliankoe/famemely/internal/game"
	"github.com/kiliankoe/famemely/internal/store/pubsub"
	"github.com/kiliankoe/famemely/internal/store/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store keeps each session as one JSON document. mu orders commit-then-publish against
// Get-then-subscribe so a subscriber never misses a version.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	broker *pubsub.Broker
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens (or creates) the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, broker: pubsub.NewBroker()}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, sess game.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, phase, version, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.Phase), sess.Version, string(payload), toMillis(sess.CreatedAt), toMillis(sess.UpdatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return game.ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	s.broker.Publish(sess)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (game.Session, error) {
	return s.get(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q queryer, id string) (game.Session, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Session{}, game.ErrSessionNotFound
	}
	if err != nil {
		return game.Session{}, fmt.Errorf("select session: %w", err)
	}
	var sess game.Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return game.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess.Clone(), nil
}

func (s *Store) Update(ctx context.Context, id string, fn func(*game.Session) error) (game.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return game.Session{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.get(ctx, tx, id)
	if err != nil {
		return game.Session{}, err
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur, err
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return cur, fmt.Errorf("encode session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET phase = ?, version = ?, payload = ?, updated_at = ? WHERE id = ?`,
		string(next.Phase), next.Version, string(payload), toMillis(next.UpdatedAt), id,
	); err != nil {
		return cur, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return cur, fmt.Errorf("commit session: %w", err)
	}
	s.broker.Publish(next)
	return next.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrSessionNotFound
	}
	s.broker.CloseSession(id)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, id string) (<-chan game.Session, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(ctx, s.db, id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.broker.Subscribe(id, cur)
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() { stop(); cancel() }, nil
}

func (s *Store) AddCards(ctx context.Context, cards []game.ChampionCard) error {
	if len(cards) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add cards: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, c := range cards {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode card: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO champion_cards (id, player_id, session_id, round, win_type, payload, won_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.PlayerID, c.SessionID, c.Round, string(c.WinType), string(payload), toMillis(c.WonAt),
		); err != nil {
			return fmt.Errorf("insert card %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// CardsForPlayer returns the player's cards, newest first.
func (s *Store) CardsForPlayer(ctx context.Context, playerID string) ([]game.ChampionCard, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, won_at FROM champion_cards WHERE player_id = ? ORDER BY won_at DESC, rowid DESC`, playerID)
	if err != nil {
		return nil, fmt.Errorf("select cards: %w", err)
	}
	defer rows.Close()

	out := []game.ChampionCard{}
	for rows.Next() {
		var (
			payload string
			wonAt   int64
		)
		if err := rows.Scan(&payload, &wonAt); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		var c game.ChampionCard
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode card: %w", err)
		}
		c.WonAt = fromMillis(wonAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
