package game

// Viewer describes the receiving player's own role in a snapshot.
type Viewer struct {
	PlayerID string `json:"playerId"`
	IsHost   bool   `json:"isHost"`
	IsJudge  bool   `json:"isJudge"`
	HasVoted bool   `json:"hasVoted"`
}

// View is a session as one player may see it. Captions stay private to their author until
// the judging phase.
type View struct {
	Session
	You              Viewer   `json:"you"`
	Submitted        []string `json:"submitted"`
	RemainingSeconds int      `json:"remainingSeconds"`
}

func NewView(s Session, playerID string, remaining int) View {
	v := View{
		Session: s.Clone(),
		You: Viewer{
			PlayerID: playerID,
			IsHost:   playerID != "" && s.HostID == playerID,
			IsJudge:  playerID != "" && s.IsJudge(playerID),
			HasVoted: playerID != "" && s.HasVoted(playerID),
		},
		Submitted:        []string{},
		RemainingSeconds: remaining,
	}
	for _, p := range s.Players {
		if _, ok := s.Submissions[p]; ok {
			v.Submitted = append(v.Submitted, p)
		}
	}
	if s.Phase == PhaseCaptioning {
		for id := range v.Submissions {
			if id != playerID {
				delete(v.Submissions, id)
			}
		}
	}
	return v
}
