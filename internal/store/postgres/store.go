// Package postgres persists sessions and champion cards in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiliankoe/famemely/internal/game"
	"github.com/kiliankoe/famemely/internal/store/pubsub"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    phase TEXT NOT NULL,
    version INTEGER NOT NULL,
    payload JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS champion_cards (
    id TEXT PRIMARY KEY,
    player_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    round INTEGER NOT NULL,
    win_type TEXT NOT NULL,
    payload JSONB NOT NULL,
    won_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_champion_cards_player ON champion_cards (player_id, won_at DESC);
`

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// Store uses row locks for the read-modify-write of a session. Publishing happens in-process,
// so a single server instance should own a given session.
type Store struct {
	pool   *pgxpool.Pool
	mu     sync.Mutex
	broker *pubsub.Broker
}

func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, broker: pubsub.NewBroker()}, nil
}

func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Create(ctx context.Context, sess game.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, phase, version, payload, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, string(sess.Phase), sess.Version, payload, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return game.ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	s.broker.Publish(sess)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (game.Session, error) {
	return get(ctx, s.pool, id, false)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func get(ctx context.Context, q queryer, id string, forUpdate bool) (game.Session, error) {
	query := `SELECT payload FROM sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var payload []byte
	if err := q.QueryRow(ctx, query, id).Scan(&payload); err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return game.Session{}, game.ErrSessionNotFound
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return game.Session{}, err
		default:
			return game.Session{}, fmt.Errorf("select session: %w", err)
		}
	}
	var sess game.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return game.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess.Clone(), nil
}

func (s *Store) Update(ctx context.Context, id string, fn func(*game.Session) error) (game.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return game.Session{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := get(ctx, tx, id, true)
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
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET phase = $1, version = $2, payload = $3, updated_at = $4 WHERE id = $5`,
		string(next.Phase), next.Version, payload, next.UpdatedAt, id,
	); err != nil {
		return cur, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return cur, fmt.Errorf("commit session: %w", err)
	}
	s.broker.Publish(next)
	return next.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return game.ErrSessionNotFound
	}
	s.broker.CloseSession(id)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, id string) (<-chan game.Session, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := get(ctx, s.pool, id, false)
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
	batch := &pgx.Batch{}
	for _, c := range cards {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode card: %w", err)
		}
		batch.Queue(
			`INSERT INTO champion_cards (id, player_id, session_id, round, win_type, payload, won_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, c.PlayerID, c.SessionID, c.Round, string(c.WinType), payload, c.WonAt,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert cards: %w", err)
	}
	return nil
}

// CardsForPlayer returns the player's cards, newest first.
func (s *Store) CardsForPlayer(ctx context.Context, playerID string) ([]game.ChampionCard, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM champion_cards WHERE player_id = $1 ORDER BY won_at DESC`, playerID)
	if err != nil {
		return nil, fmt.Errorf("select cards: %w", err)
	}
	defer rows.Close()

	out := []game.ChampionCard{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		var c game.ChampionCard
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("decode card: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
