// Package memory provides an in-memory session and card store for tests and demo mode.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/kiliankoe/famemely/internal/game"
	"github.com/kiliankoe/famemely/internal/store/pubsub"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]game.Session
	cards    []game.ChampionCard
	broker   *pubsub.Broker
}

func New() *Store {
	return &Store{sessions: make(map[string]game.Session), broker: pubsub.NewBroker()}
}

func (s *Store) Create(ctx context.Context, sess game.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return game.ErrSessionExists
	}
	s.sessions[sess.ID] = sess.Clone()
	s.broker.Publish(sess)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (game.Session, error) {
	if err := ctx.Err(); err != nil {
		return game.Session{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return game.Session{}, game.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) Update(ctx context.Context, id string, fn func(*game.Session) error) (game.Session, error) {
	if err := ctx.Err(); err != nil {
		return game.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[id]
	if !ok {
		return game.Session{}, game.ErrSessionNotFound
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur.Clone(), err
	}
	s.sessions[id] = next
	s.broker.Publish(next)
	return next.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return game.ErrSessionNotFound
	}
	delete(s.sessions, id)
	s.broker.CloseSession(id)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, id string) (<-chan game.Session, func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.sessions[id]
	if !ok {
		return nil, nil, game.ErrSessionNotFound
	}
	ch, cancel := s.broker.Subscribe(id, cur)
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() { stop(); cancel() }, nil
}

func (s *Store) AddCards(ctx context.Context, cards []game.ChampionCard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = append(s.cards, cards...)
	return nil
}

// CardsForPlayer returns the player's cards, newest first.
func (s *Store) CardsForPlayer(ctx context.Context, playerID string) ([]game.ChampionCard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []game.ChampionCard{}
	for _, c := range s.cards {
		if c.PlayerID == playerID {
			out = append(out, c)
		}
	}
	slices.Reverse(out)
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
