package game

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// ComputeRound scores the current round of s. It is pure: s is not modified and the same
// session always yields the same result.
//
// Audience ties go to the tied player who joined earliest. A player who is both the
// judge's pick and the audience winner gets the judge's card only.
func ComputeRound(s Session) RoundResult {
	res := RoundResult{
		Round:         s.CurrentRound,
		JudgeWinnerID: s.JudgeWinnerID,
		Tally:         make(map[string]int),
		Scores:        maps.Clone(s.Scores),
	}
	if res.Scores == nil {
		res.Scores = make(map[string]float64)
	}

	for _, v := range s.Votes {
		if v.Type != VoteAudience {
			continue
		}
		if _, ok := s.Submissions[v.SubmissionPlayerID]; !ok {
			continue
		}
		res.Tally[v.SubmissionPlayerID]++
	}

	best := 0
	for _, p := range s.Players {
		if n := res.Tally[p]; n > best {
			best = n
			res.AudienceWinnerID = p
		}
	}

	if res.JudgeWinnerID != "" {
		res.Scores[res.JudgeWinnerID] += 1
	}
	if res.AudienceWinnerID != "" {
		if res.AudienceWinnerID == res.JudgeWinnerID {
			res.DoubleWinner = true
		} else {
			res.Scores[res.AudienceWinnerID] += s.Settings.AudienceIncrement
		}
	}

	target := float64(s.Settings.CardsToWin)
	for _, score := range res.Scores {
		if target > 0 && score >= target {
			res.GameOver = true
		}
	}
	if s.TotalRounds > 0 && s.CurrentRound >= s.TotalRounds {
		res.GameOver = true
	}
	return res
}

// ChampionCards builds one card per distinct winner of the round.
func ChampionCards(s Session, res RoundResult, now time.Time) []ChampionCard {
	var cards []ChampionCard
	add := func(playerID string, wt WinType) {
		sub := s.Submissions[playerID]
		cards = append(cards, ChampionCard{
			ID:        uuid.NewString(),
			PlayerID:  playerID,
			SessionID: s.ID,
			Round:     res.Round,
			ImageURL:  sub.FinalImageURL,
			Captions:  sub.Captions,
			Prompt:    s.CurrentPrompt,
			WinType:   wt,
			WonAt:     now,
		})
	}
	switch {
	case res.DoubleWinner:
		add(res.JudgeWinnerID, WinBoth)
	default:
		if res.JudgeWinnerID != "" {
			add(res.JudgeWinnerID, WinJudge)
		}
		if res.AudienceWinnerID != "" {
			add(res.AudienceWinnerID, WinAudience)
		}
	}
	return cards
}
