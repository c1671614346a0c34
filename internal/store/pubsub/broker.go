// Package pubsub fans committed session snapshots out to subscribers.
package pubsub

import (
	"sync"

	"github.com/kiliankoe/famemely/internal/game"
	"github.com/rs/zerolog/log"
)

const bufferSize = 16

type subscriber struct {
	ch     chan game.Session
	closed bool
}

// Broker keeps per-session subscriber lists. A subscriber whose buffer is full is dropped and
// its channel closed; it can resubscribe and receive the latest snapshot.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a subscriber for id and primes it with current.
func (b *Broker) Subscribe(id string, current game.Session) (<-chan game.Session, func()) {
	sub := &subscriber{ch: make(chan game.Session, bufferSize)}
	sub.ch <- current.Clone()

	b.mu.Lock()
	if b.subs[id] == nil {
		b.subs[id] = make(map[*subscriber]struct{})
	}
	b.subs[id][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.remove(id, sub)
		})
	}
	return sub.ch, cancel
}

// Publish sends s to every subscriber of s.ID without blocking.
func (b *Broker) Publish(s game.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[s.ID] {
		select {
		case sub.ch <- s.Clone():
		default:
			log.Warn().Str("code", s.ID).Msg("subscriber too slow, dropping")
			b.remove(s.ID, sub)
		}
	}
	if s.Phase == game.PhaseFinished {
		for sub := range b.subs[s.ID] {
			b.remove(s.ID, sub)
		}
	}
}

// CloseSession ends every subscription of id.
func (b *Broker) CloseSession(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[id] {
		b.remove(id, sub)
	}
}

func (b *Broker) Subscribers(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[id])
}

func (b *Broker) remove(id string, sub *subscriber) {
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	delete(b.subs[id], sub)
	if len(b.subs[id]) == 0 {
		delete(b.subs, id)
	}
}
