package game

import (
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PromptPicker hands out the caption prompt for a new round. Next must not block.
type PromptPicker interface {
	Next() string
}

// Controller holds the transition rules. Every action validates against the session it is
// given and mutates it only when all preconditions hold.
type Controller struct {
	Now           func() time.Time
	DefaultPhotos []string
	Prompts       PromptPicker

	mu  sync.Mutex
	rng *rand.Rand
}

func NewController(seed uint64, defaultPhotos []string) *Controller {
	return &Controller{
		Now:           func() time.Time { return time.Now().UTC() },
		DefaultPhotos: defaultPhotos,
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (c *Controller) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now()
}

func (c *Controller) intn(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.IntN(n)
}

func expectPhase(s *Session, want Phase) error {
	if s.Phase != want {
		return reject(KindPhaseMismatch, "session is in %s, not %s", s.Phase, want)
	}
	return nil
}

func (c *Controller) Join(s *Session, playerID, name string) error {
	if strings.TrimSpace(playerID) == "" {
		return reject(KindInvalidArgument, "player id is required")
	}
	if s.IsPlayer(playerID) {
		if s.Phase == PhaseFinished {
			return reject(KindPhaseMismatch, "session is finished")
		}
		if s.IsDeparted(playerID) {
			return reject(KindPhaseMismatch, "player %s left the game", playerID)
		}
		if name != "" {
			s.Names[playerID] = name
		}
		return nil
	}
	if err := expectPhase(s, PhaseLobby); err != nil {
		return err
	}
	if len(s.Players) >= s.Settings.MaxPlayers {
		return reject(KindCapacityExceeded, "session is full")
	}
	s.Players = append(s.Players, playerID)
	s.Names[playerID] = name
	s.Scores[playerID] = 0
	return nil
}

// Leave removes a player from the lobby immediately. Once the game runs the player is only
// marked departed and the roster shrinks at the next round boundary; hosting passes on at once.
// It reports whether the session was abandoned by its host.
func (c *Controller) Leave(s *Session, playerID string) (abandoned bool, err error) {
	if !s.IsPlayer(playerID) {
		return false, reject(KindNotFound, "player %s is not in the session", playerID)
	}
	switch s.Phase {
	case PhaseLobby:
		if playerID == s.HostID {
			s.Phase = PhaseFinished
			return true, nil
		}
		s.Players = slices.DeleteFunc(s.Players, func(p string) bool { return p == playerID })
		delete(s.Scores, playerID)
		delete(s.Names, playerID)
		return false, nil
	case PhaseFinished:
		return false, reject(KindPhaseMismatch, "session is finished")
	default:
		if s.IsDeparted(playerID) {
			return false, nil
		}
		s.Departed = append(s.Departed, playerID)
		if playerID == s.HostID {
			for _, p := range s.Players {
				if !s.IsDeparted(p) {
					s.HostID = p
					break
				}
			}
		}
		c.settleAfterDeparture(s, playerID)
		return false, nil
	}
}

// settleAfterDeparture finishes a phase that was only waiting on the player who left. A judge
// who leaves before picking a winner voids the round.
func (c *Controller) settleAfterDeparture(s *Session, playerID string) {
	switch s.Phase {
	case PhasePicking, PhaseCaptioning, PhaseJudging:
		if s.IsJudge(playerID) {
			c.enterResults(s)
			return
		}
		if s.Phase == PhaseCaptioning && len(s.Submissions) > 0 && s.AllSubmitted() {
			s.Phase = PhaseJudging
			s.PhaseEndsAt = time.Time{}
		}
	case PhaseVoting:
		if s.AllEligibleVoted() {
			c.enterResults(s)
		}
	}
}

func (c *Controller) UpdateSettings(s *Session, caller string, next Settings) error {
	if err := expectPhase(s, PhaseLobby); err != nil {
		return err
	}
	if caller != s.HostID {
		return reject(KindNotAuthorized, "only the host can change the rules")
	}
	if next.MaxPlayers > MaxPlayers || (next.MaxPlayers > 0 && next.MaxPlayers < MinPlayers) {
		return reject(KindInvalidArgument, "max players must be between %d and %d", MinPlayers, MaxPlayers)
	}
	if next.MaxPlayers > 0 && next.MaxPlayers < len(s.Players) {
		return reject(KindCapacityExceeded, "%d players already joined", len(s.Players))
	}
	next = next.withDefaults()
	next.Code = s.Settings.Code
	s.Settings = next
	s.TotalRounds = next.TotalRounds
	return nil
}

func (c *Controller) Start(s *Session, caller string) error {
	if err := expectPhase(s, PhaseLobby); err != nil {
		return err
	}
	if caller != s.HostID {
		return reject(KindNotAuthorized, "only the host can start the game")
	}
	if n := len(s.Players); n < MinPlayers || n > MaxPlayers {
		return reject(KindCapacityExceeded, "need %d-%d players, have %d", MinPlayers, MaxPlayers, n)
	}
	if s.Settings.UseDefaultPhotos {
		now := c.now()
		for _, url := range c.DefaultPhotos {
			id := uuid.NewString()
			s.PhotoPool[id] = Photo{ID: id, UploaderID: SystemUploader, URL: url, IsDefault: true, UploadedAt: now}
		}
	}
	s.Phase = PhasePhotoUpload
	return nil
}

func (c *Controller) UploadPhoto(s *Session, playerID, url string) (Photo, error) {
	if err := expectPhase(s, PhasePhotoUpload); err != nil {
		return Photo{}, err
	}
	if !s.IsPlayer(playerID) || s.IsDeparted(playerID) {
		return Photo{}, reject(KindNotAuthorized, "only players can upload photos")
	}
	if strings.TrimSpace(url) == "" {
		return Photo{}, reject(KindInvalidArgument, "photo url is required")
	}
	p := Photo{ID: uuid.NewString(), UploaderID: playerID, URL: url, UploadedAt: c.now()}
	s.PhotoPool[p.ID] = p
	return p, nil
}

func (c *Controller) FinishUpload(s *Session, caller string) error {
	if err := expectPhase(s, PhasePhotoUpload); err != nil {
		return err
	}
	if caller != s.HostID {
		return reject(KindNotAuthorized, "only the host can finish the upload")
	}
	if n := s.NonDefaultPhotoCount(); n < MinUploads {
		return reject(KindCapacityExceeded, "need %d uploaded photos, have %d", MinUploads, n)
	}
	if !pruneDeparted(s) {
		return nil
	}
	s.CurrentJudgeID = s.Players[c.intn(len(s.Players))]
	c.beginRound(s, 1)
	return nil
}

// pruneDeparted removes departed players at a round boundary and finishes the game when too
// few remain. It reports whether the game goes on.
func pruneDeparted(s *Session) bool {
	if len(s.Departed) > 0 {
		s.Players = slices.DeleteFunc(s.Players, s.IsDeparted)
		if s.IsDeparted(s.HostID) && len(s.Players) > 0 {
			s.HostID = s.Players[0]
		}
		s.Departed = nil
	}
	if len(s.Players) < MinPlayers {
		s.Phase = PhaseFinished
		s.PhaseEndsAt = time.Time{}
		return false
	}
	return true
}

func (c *Controller) beginRound(s *Session, round int) {
	s.CurrentRound = round
	s.Phase = PhasePicking
	s.CurrentPhotoID = ""
	s.Submissions = make(map[string]Submission)
	s.Votes = []Vote{}
	s.JudgeWinnerID = ""
	s.AudienceWinnerID = ""
	s.TimeExtensions = []TimeExtension{}
	s.PhaseEndsAt = time.Time{}
	s.LastResult = nil
	s.CurrentPrompt = ""
	if c.Prompts != nil {
		s.CurrentPrompt = c.Prompts.Next()
	}
}

func (c *Controller) PickPhoto(s *Session, caller, photoID string) error {
	if err := expectPhase(s, PhasePicking); err != nil {
		return err
	}
	if !s.IsJudge(caller) {
		return reject(KindNotAuthorized, "only the judge picks the photo")
	}
	if _, ok := s.PhotoPool[photoID]; !ok {
		return reject(KindNotFound, "photo %s is not in the pool", photoID)
	}
	s.CurrentPhotoID = photoID
	s.Phase = PhaseCaptioning
	s.PhaseEndsAt = c.now().Add(time.Duration(s.Settings.TimePerRoundSeconds) * time.Second)
	return nil
}

// SubmitCaption records a player's captioned photo and reports whether it completed the phase.
func (c *Controller) SubmitCaption(s *Session, caller string, captions []Caption, finalImageURL string) (bool, error) {
	if err := expectPhase(s, PhaseCaptioning); err != nil {
		return false, err
	}
	if !s.IsPlayer(caller) || s.IsJudge(caller) {
		return false, reject(KindNotAuthorized, "the judge does not submit")
	}
	if s.IsDeparted(caller) {
		return false, reject(KindNotAuthorized, "player %s left the game", caller)
	}
	if _, ok := s.Submissions[caller]; ok {
		return false, reject(KindAlreadyActed, "caption already submitted")
	}
	if strings.TrimSpace(finalImageURL) == "" {
		return false, reject(KindInvalidArgument, "final image url is required")
	}
	s.Submissions[caller] = Submission{
		PlayerID:      caller,
		PhotoID:       s.CurrentPhotoID,
		Captions:      normalizeCaptions(captions),
		FinalImageURL: finalImageURL,
		SubmittedAt:   c.now(),
	}
	if s.AllSubmitted() {
		s.Phase = PhaseJudging
		s.PhaseEndsAt = time.Time{}
		return true, nil
	}
	return false, nil
}

func normalizeCaptions(in []Caption) []Caption {
	out := make([]Caption, 0, len(in))
	for _, cp := range in {
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		cp.X = clamp(cp.X, 0, 100)
		cp.Y = clamp(cp.Y, 0, 100)
		if cp.Scale <= 0 {
			cp.Scale = 1
		}
		out = append(out, cp)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

func ValidExtension(seconds int) bool {
	return seconds == 15 || seconds == 30 || seconds == 60
}

func (c *Controller) GrantExtension(s *Session, caller string, seconds int) error {
	if err := expectPhase(s, PhaseCaptioning); err != nil {
		return err
	}
	if !s.IsJudge(caller) {
		return reject(KindNotAuthorized, "only the judge grants extra time")
	}
	if !ValidExtension(seconds) {
		return reject(KindInvalidArgument, "extension must be 15, 30 or 60 seconds")
	}
	if len(s.TimeExtensions) >= MaxExtensions {
		return reject(KindCapacityExceeded, "at most %d extensions per round", MaxExtensions)
	}
	s.TimeExtensions = append(s.TimeExtensions, TimeExtension{Seconds: seconds, GrantedAt: c.now()})
	if !s.PhaseEndsAt.IsZero() {
		s.PhaseEndsAt = s.PhaseEndsAt.Add(time.Duration(seconds) * time.Second)
	}
	return nil
}

func (c *Controller) SelectJudgeWinner(s *Session, caller, playerID string) error {
	if err := expectPhase(s, PhaseJudging); err != nil {
		return err
	}
	if !s.IsJudge(caller) {
		return reject(KindNotAuthorized, "only the judge selects the winner")
	}
	if _, ok := s.Submissions[playerID]; !ok {
		return reject(KindNotFound, "player %s has no submission", playerID)
	}
	s.JudgeWinnerID = playerID
	s.Phase = PhaseVoting
	s.PhaseEndsAt = c.now().Add(time.Duration(s.Settings.VotingSeconds) * time.Second)
	return nil
}

// CastAudienceVote records a People's Choice vote and reports whether it completed the phase.
func (c *Controller) CastAudienceVote(s *Session, voterID, target string) (bool, error) {
	if err := expectPhase(s, PhaseVoting); err != nil {
		return false, err
	}
	if !s.IsPlayer(voterID) || s.IsJudge(voterID) {
		return false, reject(KindNotAuthorized, "the judge does not vote")
	}
	if s.IsDeparted(voterID) {
		return false, reject(KindNotAuthorized, "player %s left the game", voterID)
	}
	if voterID == target {
		return false, reject(KindNotAuthorized, "players cannot vote for themselves")
	}
	if _, ok := s.Submissions[target]; !ok {
		return false, reject(KindNotFound, "player %s has no submission", target)
	}
	if s.HasVoted(voterID) {
		return false, reject(KindAlreadyActed, "already voted this round")
	}
	s.Votes = append(s.Votes, Vote{VoterID: voterID, SubmissionPlayerID: target, Type: VoteAudience, VotedAt: c.now()})
	if s.AllEligibleVoted() {
		c.enterResults(s)
		return true, nil
	}
	return false, nil
}

// Expire applies the forced transition of a timed phase. A timer that lost the race to a
// player action is rejected with a phase mismatch.
func (c *Controller) Expire(s *Session, phase Phase, round int) error {
	if s.Phase != phase || s.CurrentRound != round {
		return reject(KindPhaseMismatch, "timer for %s round %d is stale", phase, round)
	}
	switch phase {
	case PhaseCaptioning:
		if len(s.Submissions) == 0 {
			c.enterResults(s)
			return nil
		}
		s.Phase = PhaseJudging
		s.PhaseEndsAt = time.Time{}
	case PhaseVoting:
		c.enterResults(s)
	case PhaseResults:
		return c.advance(s)
	default:
		return reject(KindPhaseMismatch, "%s has no timer", phase)
	}
	return nil
}

func (c *Controller) enterResults(s *Session) {
	res := ComputeRound(*s)
	s.Scores = res.Scores
	s.AudienceWinnerID = res.AudienceWinnerID
	s.LastResult = &res
	s.Phase = PhaseResults
	s.PhaseEndsAt = time.Time{}
	if s.Settings.ResultsSeconds > 0 {
		s.PhaseEndsAt = c.now().Add(time.Duration(s.Settings.ResultsSeconds) * time.Second)
	}
}

func (c *Controller) Advance(s *Session, caller string) error {
	if err := expectPhase(s, PhaseResults); err != nil {
		return err
	}
	if caller != s.HostID {
		return reject(KindNotAuthorized, "only the host advances to the next round")
	}
	return c.advance(s)
}

func (c *Controller) advance(s *Session) error {
	if s.LastResult != nil && s.LastResult.GameOver {
		s.Phase = PhaseFinished
		s.PhaseEndsAt = time.Time{}
		return nil
	}

	next := c.nextJudge(s)
	if !pruneDeparted(s) {
		return nil
	}
	s.CurrentJudgeID = next
	c.beginRound(s, s.CurrentRound+1)
	return nil
}

// nextJudge walks the join order from the current judge, skipping players who left.
func (c *Controller) nextJudge(s *Session) string {
	n := len(s.Players)
	ix := slices.Index(s.Players, s.CurrentJudgeID)
	for step := 1; step <= n; step++ {
		p := s.Players[(ix+step+n)%n]
		if !s.IsDeparted(p) {
			return p
		}
	}
	return ""
}
