// Package prompt supplies the caption prompt shown at the start of each round.
package prompt

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Builtin is used when no generator is configured or the generator fails.
var Builtin = []string{
	"When your code works on the first try",
	"Me explaining to my mom what I do for work",
	"The group chat at 3am",
	"When you finally find the bug after 5 hours",
	"My last two brain cells during an exam",
	"How I think I look vs how I actually look",
	"When the wifi goes out for 5 seconds",
	"Me pretending to work while my boss walks by",
	"That one friend who always says 'I'm on my way'",
	"When you open your phone and forget why",
}

// Generator produces fresh prompts, typically by asking a language model.
type Generator interface {
	Generate(ctx context.Context, n int) ([]string, error)
}

// Deck hands out prompts without blocking. Generated prompts are served first; once they run
// out the deck draws from the builtin list, avoiding the most recent picks.
type Deck struct {
	mu       sync.Mutex
	queue    []string
	fallback []string
	recent   []string
	rng      *rand.Rand
	gen      Generator
	low      int
}

func NewDeck(gen Generator, seed uint64) *Deck {
	return &Deck{
		fallback: Builtin,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		gen:      gen,
		low:      3,
	}
}

// Next returns the prompt for a new round.
func (d *Deck) Next() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) > 0 {
		p := d.queue[0]
		d.queue = d.queue[1:]
		d.remember(p)
		return p
	}
	if len(d.fallback) == 0 {
		return ""
	}
	p := d.fallback[d.rng.IntN(len(d.fallback))]
	for range 4 {
		if !d.seen(p) {
			break
		}
		p = d.fallback[d.rng.IntN(len(d.fallback))]
	}
	d.remember(p)
	return p
}

func (d *Deck) seen(p string) bool {
	for _, r := range d.recent {
		if r == p {
			return true
		}
	}
	return false
}

func (d *Deck) remember(p string) {
	d.recent = append(d.recent, p)
	if n := len(d.fallback) / 2; len(d.recent) > n {
		d.recent = d.recent[len(d.recent)-n:]
	}
}

// Pending reports how many generated prompts are queued.
func (d *Deck) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Refill asks the generator for more prompts when the queue is running low.
func (d *Deck) Refill(ctx context.Context, n int) error {
	if d.gen == nil || d.Pending() >= d.low {
		return nil
	}
	prompts, err := d.gen.Generate(ctx, n)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range prompts {
		if p = clean(p); p != "" {
			d.queue = append(d.queue, p)
		}
	}
	return nil
}

// Run keeps the queue topped up until ctx is done.
func (d *Deck) Run(ctx context.Context, every time.Duration) error {
	if d.gen == nil {
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := d.Refill(callCtx, 5); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("prompt refill failed, using builtin prompts")
		}
		cancel()
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// clean strips list markers and quotes a model tends to add.
func clean(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimLeft(p, "-*• ")
	if i := strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' }); i > 0 && (p[i] == '.' || p[i] == ')') {
		p = p[i+1:]
	}
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "\"'“”")
	return strings.TrimSpace(p)
}
