package game

import (
	"maps"
	"slices"
	"time"
)

// Session is the authoritative record of one game. It is the unit that is persisted and
// broadcast; only the Controller mutates it.
type Session struct {
	ID     string `json:"id"`
	Phase  Phase  `json:"phase"`
	HostID string `json:"hostId"`

	Players  []string          `json:"players"`
	Names    map[string]string `json:"names"`
	Departed []string          `json:"departed,omitempty"`

	CurrentRound   int    `json:"currentRound"`
	TotalRounds    int    `json:"totalRounds"`
	CurrentJudgeID string `json:"currentJudgeId,omitempty"`
	CurrentPrompt  string `json:"currentPrompt,omitempty"`

	PhotoPool      map[string]Photo      `json:"photoPool"`
	CurrentPhotoID string                `json:"currentPhotoId,omitempty"`
	Submissions    map[string]Submission `json:"submissions"`
	Votes          []Vote                `json:"votes"`

	JudgeWinnerID    string `json:"judgeWinnerId,omitempty"`
	AudienceWinnerID string `json:"audienceWinnerId,omitempty"`

	Scores         map[string]float64 `json:"scores"`
	TimeExtensions []TimeExtension    `json:"timeExtensions"`
	Settings       Settings           `json:"settings"`

	PhaseEndsAt time.Time    `json:"phaseEndsAt,omitzero"`
	LastResult  *RoundResult `json:"lastResult,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"version"`
}

func NewSession(id, hostID, hostName string, settings Settings, now time.Time) Session {
	settings = settings.withDefaults()
	settings.Code = id
	return Session{
		ID:             id,
		Phase:          PhaseLobby,
		HostID:         hostID,
		Players:        []string{hostID},
		Names:          map[string]string{hostID: hostName},
		TotalRounds:    settings.TotalRounds,
		PhotoPool:      make(map[string]Photo),
		Submissions:    make(map[string]Submission),
		Votes:          []Vote{},
		Scores:         map[string]float64{hostID: 0},
		TimeExtensions: []TimeExtension{},
		Settings:       settings,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy. Actions run against a clone so a rejection leaves the original untouched.
func (s Session) Clone() Session {
	c := s
	c.Players = slices.Clone(s.Players)
	c.Names = maps.Clone(s.Names)
	c.Departed = slices.Clone(s.Departed)
	c.PhotoPool = maps.Clone(s.PhotoPool)
	c.Submissions = make(map[string]Submission, len(s.Submissions))
	for k, sub := range s.Submissions {
		sub.Captions = slices.Clone(sub.Captions)
		c.Submissions[k] = sub
	}
	c.Votes = slices.Clone(s.Votes)
	c.Scores = maps.Clone(s.Scores)
	c.TimeExtensions = slices.Clone(s.TimeExtensions)
	if s.LastResult != nil {
		r := *s.LastResult
		r.Tally = maps.Clone(s.LastResult.Tally)
		r.Scores = maps.Clone(s.LastResult.Scores)
		c.LastResult = &r
	}
	// maps.Clone keeps nil as nil; the JSON shape expects empty containers.
	if c.PhotoPool == nil {
		c.PhotoPool = make(map[string]Photo)
	}
	if c.Scores == nil {
		c.Scores = make(map[string]float64)
	}
	if c.Names == nil {
		c.Names = make(map[string]string)
	}
	if c.Votes == nil {
		c.Votes = []Vote{}
	}
	if c.TimeExtensions == nil {
		c.TimeExtensions = []TimeExtension{}
	}
	return c
}

func (s *Session) IsPlayer(id string) bool {
	return slices.Contains(s.Players, id)
}

func (s *Session) IsJudge(id string) bool {
	return id != "" && id == s.CurrentJudgeID
}

func (s *Session) IsDeparted(id string) bool {
	return slices.Contains(s.Departed, id)
}

// NonJudgePlayers lists the players expected to caption and vote this round. Players who
// left mid-round are not waited for.
func (s *Session) NonJudgePlayers() []string {
	out := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		if p != s.CurrentJudgeID && !s.IsDeparted(p) {
			out = append(out, p)
		}
	}
	return out
}

// AllSubmitted reports whether every player except the judge has a submission this round.
func (s *Session) AllSubmitted() bool {
	for _, p := range s.NonJudgePlayers() {
		if _, ok := s.Submissions[p]; !ok {
			return false
		}
	}
	return true
}

func (s *Session) HasVoted(voterID string) bool {
	for _, v := range s.Votes {
		if v.VoterID == voterID && v.Type == VoteAudience {
			return true
		}
	}
	return false
}

// EligibleVoters are the non-judge players with at least one submission other than their own to vote for.
func (s *Session) EligibleVoters() []string {
	out := []string{}
	for _, p := range s.NonJudgePlayers() {
		for author := range s.Submissions {
			if author != p {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func (s *Session) AllEligibleVoted() bool {
	voters := s.EligibleVoters()
	if len(voters) == 0 {
		return false
	}
	for _, v := range voters {
		if !s.HasVoted(v) {
			return false
		}
	}
	return true
}

func (s *Session) NonDefaultPhotoCount() int {
	n := 0
	for _, p := range s.PhotoPool {
		if !p.IsDefault {
			n++
		}
	}
	return n
}

func (s *Session) Running() bool {
	return s.Phase != PhaseLobby && s.Phase != PhaseFinished
}
