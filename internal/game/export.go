package game

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ExportRound appends the scored round of s to a text file
func ExportRound(s Session, filename string) error {
	if s.LastResult == nil {
		return fmt.Errorf("round %d has no result", s.CurrentRound)
	}
	res := s.LastResult

	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fileExists := false
	if _, err := os.Stat(filename); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	name := func(id string) string {
		if n := s.Names[id]; n != "" {
			return n
		}
		return id
	}

	var sb strings.Builder

	// Header only for new files or first round of a new session
	if !fileExists || s.CurrentRound == 1 {
		if fileExists {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("Caption Battle Results - Session %s\n", s.ID))
		sb.WriteString(fmt.Sprintf("Started: %s\n", s.CreatedAt.Format("2006-01-02 15:04:05")))
		sb.WriteString(strings.Repeat("=", 50) + "\n\n")

		sb.WriteString("Players:\n")
		for _, p := range s.Players {
			sb.WriteString(fmt.Sprintf("- %s\n", name(p)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Round %d (judge: %s)", res.Round, name(s.CurrentJudgeID)))
	if s.CurrentPrompt != "" {
		sb.WriteString(fmt.Sprintf(": %q", s.CurrentPrompt))
	}
	sb.WriteString("\n" + strings.Repeat("-", 40) + "\n")

	for _, p := range s.Players {
		sub, ok := s.Submissions[p]
		if !ok {
			continue
		}
		texts := make([]string, 0, len(sub.Captions))
		for _, c := range sub.Captions {
			texts = append(texts, c.Text)
		}
		sb.WriteString(fmt.Sprintf("- %s: %q (%s)\n", name(p), strings.Join(texts, " / "), sub.FinalImageURL))
	}

	if len(res.Tally) > 0 {
		sb.WriteString("\nVotes:\n")
		for _, p := range s.Players {
			if n := res.Tally[p]; n > 0 {
				sb.WriteString(fmt.Sprintf("- %s: %d vote(s)\n", name(p), n))
			}
		}
	}

	sb.WriteString("\n")
	if res.JudgeWinnerID != "" {
		sb.WriteString(fmt.Sprintf("Judge's Pick: %s\n", name(res.JudgeWinnerID)))
	}
	if res.AudienceWinnerID != "" {
		sb.WriteString(fmt.Sprintf("People's Choice: %s\n", name(res.AudienceWinnerID)))
	}

	type playerScore struct {
		Name  string
		Score float64
	}
	scores := make([]playerScore, 0, len(res.Scores))
	for id, score := range res.Scores {
		scores = append(scores, playerScore{Name: name(id), Score: score})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Name < scores[j].Name
	})
	sb.WriteString("\nCards after this round:\n")
	for _, ps := range scores {
		sb.WriteString(fmt.Sprintf("- %s: %g\n", ps.Name, ps.Score))
	}
	sb.WriteString("\n")

	if res.GameOver {
		sb.WriteString(fmt.Sprintf("Game ended at %s\n", time.Now().Format("2006-01-02 15:04:05")))
		sb.WriteString(strings.Repeat("=", 50) + "\n")
	}

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}
