package game

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type ManagerOptions struct {
	ExportFile string // empty disables round export
	Now        func() time.Time
}

// Manager is the single writer for every session it hosts. Actions on one session are
// applied one at a time; actions on different sessions run in parallel.
type Manager struct {
	store SessionStore
	cards CardStore
	ctrl  *Controller
	opts  ManagerOptions

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	timers map[string]*phaseTimer
	tokens map[string]map[string]string // code -> token -> playerID
	active string

	ctx    context.Context
	cancel context.CancelFunc
}

type phaseTimer struct {
	phase Phase
	round int
	timer *RoundTimer
}

func NewManager(st SessionStore, cards CardStore, ctrl *Controller, opts ManagerOptions) *Manager {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:  st,
		cards:  cards,
		ctrl:   ctrl,
		opts:   opts,
		locks:  make(map[string]*sync.Mutex),
		timers: make(map[string]*phaseTimer),
		tokens: make(map[string]map[string]string),
		ctx:    ctx,
		cancel: cancel,
	}
}

// CreateSession opens a lobby owned by hostID and returns it with the host's resume token.
func (m *Manager) CreateSession(ctx context.Context, hostID, hostName string, settings Settings) (Session, string, error) {
	if strings.TrimSpace(hostID) == "" {
		return Session{}, "", reject(KindInvalidArgument, "host id is required")
	}
	for {
		s := NewSession(randomCode(6), hostID, hostName, settings, m.opts.Now())
		err := m.store.Create(ctx, s)
		if errors.Is(err, ErrSessionExists) {
			log.Debug().Str("code", s.ID).Msg("code collision, regenerating")
			continue
		}
		if err != nil {
			return Session{}, "", err
		}
		m.mu.Lock()
		m.active = s.ID
		m.mu.Unlock()
		token := m.issueToken(s.ID, hostID)
		log.Info().Str("code", s.ID).Str("hostId", hostID).Msg("session created")
		return s, token, nil
	}
}

// Resolve maps a join code typed by a player to the session id.
func (m *Manager) Resolve(ctx context.Context, code string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(code))
	if len(id) != 6 {
		return "", ErrSessionNotFound
	}
	if _, err := m.store.Get(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan Session, func(), error) {
	return m.store.Subscribe(ctx, id)
}

// Active returns the most recently created session that has not finished.
func (m *Manager) Active(ctx context.Context) (Session, bool) {
	m.mu.Lock()
	code := m.active
	m.mu.Unlock()
	if code == "" {
		return Session{}, false
	}
	s, err := m.store.Get(ctx, code)
	if err != nil || s.Phase == PhaseFinished {
		return Session{}, false
	}
	return s, true
}

func (m *Manager) CardsForPlayer(ctx context.Context, playerID string) ([]ChampionCard, error) {
	return m.cards.CardsForPlayer(ctx, playerID)
}

// PlayerForToken returns the player a resume token was issued to, or "".
func (m *Manager) PlayerForToken(code, token string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[code][token]
}

func (m *Manager) issueToken(code, playerID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, id := range m.tokens[code] {
		if id == playerID {
			return tok
		}
	}
	if m.tokens[code] == nil {
		m.tokens[code] = make(map[string]string)
	}
	tok := uuid.NewString()
	m.tokens[code][tok] = playerID
	return tok
}

func (m *Manager) Join(ctx context.Context, id, playerID, name string) (Session, string, error) {
	s, err := m.apply(ctx, id, func(s *Session) error {
		return m.ctrl.Join(s, playerID, name)
	})
	if err != nil {
		return s, "", err
	}
	return s, m.issueToken(id, playerID), nil
}

func (m *Manager) Leave(ctx context.Context, id, playerID string) (Session, error) {
	var abandoned bool
	s, err := m.apply(ctx, id, func(s *Session) error {
		var err error
		abandoned, err = m.ctrl.Leave(s, playerID)
		return err
	})
	if err == nil && abandoned {
		log.Info().Str("code", id).Msg("host left the lobby, session abandoned")
	}
	return s, err
}

func (m *Manager) UpdateSettings(ctx context.Context, id, caller string, settings Settings) (Session, error) {
	return m.apply(ctx, id, func(s *Session) error {
		return m.ctrl.UpdateSettings(s, caller, settings)
	})
}

func (m *Manager) Start(ctx context.Context, id, caller string) (Session, error) {
	return m.apply(ctx, id, func(s *Session) error {
		return m.ctrl.Start(s, caller)
	})
}

func (m *Manager) UploadPhoto(ctx context.Context, id, playerID, url string) (Session, Photo, error) {
	var p Photo
	s, err := m.apply(ctx, id, func(s *Session) error {
		var err error
		p, err = m.ctrl.UploadPhoto(s, playerID, url)
		return err
	})
	return s, p, err
}

func (m *Manager) FinishUpload(ctx context.Context, id, caller string) (Session, error) {
	return m.apply(ctx, id, func(s *Session) error {
		return m.ctrl.FinishUpload(s, caller)
	})
}

func (m *Manager) PickPhoto(ctx context.Context, id, caller, photoID string) (Session, error) {
	return m.apply(ctx, id, func(s *Session) error {
		return m.ctrl.PickPhoto(s, caller, photoID)
	})
}

func (m *Manager) SubmitCaption(ctx context.Context, id, caller string, captions []Caption, finalImageURL string) (Session, error) {
	return m.apply(ctx, id, func(s *Session) error {
		_, err := m.ctrl.SubmitCaption(s, caller, captions, finalImageURL)
		return err
	})
}

func (m *Manager) GrantExtension(ctx context.Context, id, caller string, seconds int) (Session, error) {
	return m.apply(ctx, id, func(s *Session) error {
		return m.ctrl.GrantExtension(s, caller, seconds)
	}, func(s Session) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if pt := m.timers[id]; pt != nil && pt.phase == PhaseCaptioning && pt.round == s.CurrentRound {
			pt.timer.Extend(seconds)
		}
	})
}

func (m *Manager) SelectJudgeWinner(ctx context.Context, id, caller, playerID string) (Session, error) {
	return m.apply(ctx, id, func(s *Session) error {
		return m.ctrl.SelectJudgeWinner(s, caller, playerID)
	})
}

func (m *Manager) CastVote(ctx context.Context, id, voterID, target string) (Session, error) {
	return m.apply(ctx, id, func(s *Session) error {
		_, err := m.ctrl.CastAudienceVote(s, voterID, target)
		return err
	})
}

func (m *Manager) Advance(ctx context.Context, id, caller string) (Session, error) {
	return m.apply(ctx, id, func(s *Session) error {
		return m.ctrl.Advance(s, caller)
	})
}

// Expire applies the forced transition for a timed phase. Exposed for timers and tests.
func (m *Manager) Expire(ctx context.Context, id string, phase Phase, round int) (Session, error) {
	return m.apply(ctx, id, func(s *Session) error {
		return m.ctrl.Expire(s, phase, round)
	})
}

// Remaining reports the seconds left on the running phase timer of a session.
func (m *Manager) Remaining(id string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pt := m.timers[id]
	if pt == nil || !pt.timer.Active() {
		return 0, false
	}
	return pt.timer.Remaining(), true
}

// Shutdown stops every timer. Sessions stay in the store.
func (m *Manager) Shutdown() {
	m.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pt := range m.timers {
		pt.timer.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk := m.locks[id]
	if lk == nil {
		lk = &sync.Mutex{}
		m.locks[id] = lk
	}
	return lk
}

// dropLock forgets the lock of a session that takes no more actions. A caller still waiting on
// the old lock sees the finished session and is rejected by the controller.
func (m *Manager) dropLock(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, id)
}

// apply runs one transition: read, validate and mutate a copy, persist, then re-arm timers.
// after hooks run on the committed session while the session lock is still held.
func (m *Manager) apply(ctx context.Context, id string, fn func(*Session) error, after ...func(Session)) (Session, error) {
	if err := m.ctx.Err(); err != nil {
		return Session{}, ErrSessionClosed
	}
	lk := m.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	var from Phase
	var fromRound int
	s, err := m.store.Update(ctx, id, func(s *Session) error {
		from, fromRound = s.Phase, s.CurrentRound
		if err := fn(s); err != nil {
			return err
		}
		s.Version++
		s.UpdatedAt = m.opts.Now()
		return nil
	})
	if s.Phase == PhaseFinished || errors.Is(err, ErrSessionNotFound) {
		defer m.dropLock(id)
	}
	if err != nil {
		return s, err
	}
	if s.Phase != from || s.CurrentRound != fromRound {
		log.Info().Str("code", id).Str("from", string(from)).Str("to", string(s.Phase)).Int("round", s.CurrentRound).Msg("phase transition")
		m.onTransition(ctx, from, s)
	}
	for _, hook := range after {
		hook(s)
	}
	return s, nil
}

func (m *Manager) onTransition(ctx context.Context, from Phase, s Session) {
	m.mu.Lock()
	if pt := m.timers[s.ID]; pt != nil {
		pt.timer.Stop()
		delete(m.timers, s.ID)
	}
	m.mu.Unlock()

	if s.Phase == PhaseResults && from != PhaseResults {
		m.recordRound(ctx, s)
	}

	switch s.Phase {
	case PhaseCaptioning:
		m.arm(s, s.Settings.TimePerRoundSeconds)
	case PhaseVoting:
		m.arm(s, s.Settings.VotingSeconds)
	case PhaseResults:
		if s.Settings.ResultsSeconds > 0 {
			m.arm(s, s.Settings.ResultsSeconds)
		}
	case PhaseFinished:
		m.mu.Lock()
		delete(m.tokens, s.ID)
		if m.active == s.ID {
			m.active = ""
		}
		m.mu.Unlock()
		log.Info().Str("code", s.ID).Int("rounds", s.CurrentRound).Msg("session finished")
	}
}

func (m *Manager) arm(s Session, seconds int) {
	id, phase, round := s.ID, s.Phase, s.CurrentRound
	t := NewRoundTimer(seconds, func() {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()
		if _, err := m.Expire(ctx, id, phase, round); err != nil {
			if errors.Is(err, ErrPhaseMismatch) {
				log.Debug().Str("code", id).Str("phase", string(phase)).Msg("stale timer dropped")
				return
			}
			log.Error().Err(err).Str("code", id).Str("phase", string(phase)).Msg("timer transition failed")
		}
	})
	m.mu.Lock()
	m.timers[id] = &phaseTimer{phase: phase, round: round, timer: t}
	m.mu.Unlock()
	go t.Run(m.ctx)
}

func (m *Manager) recordRound(ctx context.Context, s Session) {
	if s.LastResult == nil {
		return
	}
	if cards := ChampionCards(s, *s.LastResult, m.opts.Now()); len(cards) > 0 && m.cards != nil {
		if err := m.cards.AddCards(ctx, cards); err != nil {
			log.Error().Err(err).Str("code", s.ID).Msg("failed to store champion cards")
		}
	}
	if m.opts.ExportFile == "" {
		return
	}
	if err := ExportRound(s, m.opts.ExportFile); err != nil {
		log.Error().Err(err).Str("code", s.ID).Msg("failed to export round")
		return
	}
	log.Info().Str("code", s.ID).Str("file", m.opts.ExportFile).Msg("exported round")
}

func randomCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}
