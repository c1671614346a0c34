package game

import "context"

// SessionStore persists sessions as single documents keyed by id and pushes every committed
// version to subscribers.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	// Update reads the session, applies fn to a copy and writes the copy back atomically.
	// When fn returns an error nothing is written and the error is returned as is.
	Update(ctx context.Context, id string, fn func(*Session) error) (Session, error)
	Delete(ctx context.Context, id string) error
	// Subscribe delivers the current snapshot followed by every committed update until
	// cancel is called or ctx ends.
	Subscribe(ctx context.Context, id string) (updates <-chan Session, cancel func(), err error)
}

type CardStore interface {
	AddCards(ctx context.Context, cards []ChampionCard) error
	CardsForPlayer(ctx context.Context, playerID string) ([]ChampionCard, error)
}

// Store is what a backend driver provides.
type Store interface {
	SessionStore
	CardStore
	Close() error
}
