package game

import (
	"time"
)

type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhasePhotoUpload Phase = "photo_upload"
	PhasePicking     Phase = "picking"
	PhaseCaptioning  Phase = "captioning"
	PhaseJudging     Phase = "judging"
	PhaseVoting      Phase = "voting"
	PhaseResults     Phase = "results"
	PhaseFinished    Phase = "finished"
)

const (
	MinPlayers    = 3
	MaxPlayers    = 8
	MaxExtensions = 3
	MinUploads    = 3

	// SystemUploader owns the photos seeded from the default set.
	SystemUploader = "system"
)

type Settings struct {
	TimePerRoundSeconds int     `json:"timePerRoundSeconds"`
	VotingSeconds       int     `json:"votingSeconds"`
	ResultsSeconds      int     `json:"resultsSeconds"` // 0 = host advances manually
	CardsToWin          int     `json:"cardsToWin"`
	TotalRounds         int     `json:"totalRounds"`
	MaxPlayers          int     `json:"maxPlayers"`
	UseDefaultPhotos    bool    `json:"useDefaultPhotos"`
	IsPrivate           bool    `json:"isPrivate"`
	AudienceIncrement   float64 `json:"audienceIncrement"`
	Code                string  `json:"code"`
}

func DefaultSettings() Settings {
	return Settings{
		TimePerRoundSeconds: 90,
		VotingSeconds:       30,
		CardsToWin:          5,
		TotalRounds:         10,
		MaxPlayers:          MaxPlayers,
		UseDefaultPhotos:    true,
		IsPrivate:           true,
		AudienceIncrement:   0.5,
	}
}

// withDefaults fills zero values so a partially specified config from a client is usable.
func (st Settings) withDefaults() Settings {
	d := DefaultSettings()
	if st.TimePerRoundSeconds <= 0 {
		st.TimePerRoundSeconds = d.TimePerRoundSeconds
	}
	if st.VotingSeconds <= 0 {
		st.VotingSeconds = d.VotingSeconds
	}
	if st.ResultsSeconds < 0 {
		st.ResultsSeconds = 0
	}
	if st.CardsToWin <= 0 {
		st.CardsToWin = d.CardsToWin
	}
	if st.TotalRounds <= 0 {
		st.TotalRounds = d.TotalRounds
	}
	if st.MaxPlayers <= 0 || st.MaxPlayers > MaxPlayers {
		st.MaxPlayers = d.MaxPlayers
	}
	if st.AudienceIncrement < 0 {
		st.AudienceIncrement = d.AudienceIncrement
	}
	return st
}

type Photo struct {
	ID         string    `json:"id"`
	UploaderID string    `json:"uploaderId"`
	URL        string    `json:"url"`
	IsDefault  bool      `json:"isDefault"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Caption is one text overlay placed on the round photo. X and Y are percentages of the image size.
type Caption struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	FontSize   int     `json:"fontSize"`
	FontFamily string  `json:"fontFamily"`
	Color      string  `json:"color"`
	Rotation   float64 `json:"rotation"`
	Scale      float64 `json:"scale"`
	Style      string  `json:"style"`
}

type Submission struct {
	PlayerID      string    `json:"playerId"`
	PhotoID       string    `json:"photoId"`
	Captions      []Caption `json:"captions"`
	FinalImageURL string    `json:"finalImageUrl"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

type VoteType string

const (
	VoteJudge    VoteType = "judge"
	VoteAudience VoteType = "audience"
)

type Vote struct {
	VoterID            string    `json:"voterId"`
	SubmissionPlayerID string    `json:"submissionPlayerId"`
	Type               VoteType  `json:"type"`
	VotedAt            time.Time `json:"votedAt"`
}

type TimeExtension struct {
	Seconds   int       `json:"seconds"`
	GrantedAt time.Time `json:"grantedAt"`
}

type RoundResult struct {
	Round            int                `json:"round"`
	JudgeWinnerID    string             `json:"judgeWinnerId,omitempty"`
	AudienceWinnerID string             `json:"audienceWinnerId,omitempty"`
	Tally            map[string]int     `json:"tally"`
	Scores           map[string]float64 `json:"scores"`
	DoubleWinner     bool               `json:"doubleWinner"`
	GameOver         bool               `json:"gameOver"`
}

type WinType string

const (
	WinJudge    WinType = "judge"
	WinAudience WinType = "audience"
	WinBoth     WinType = "both"
)

// ChampionCard is the keepsake a player receives for winning a round.
type ChampionCard struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"playerId"`
	SessionID string    `json:"sessionId"`
	Round     int       `json:"round"`
	ImageURL  string    `json:"imageUrl"`
	Captions  []Caption `json:"captions"`
	Prompt    string    `json:"prompt,omitempty"`
	WinType   WinType   `json:"winType"`
	WonAt     time.Time `json:"wonAt"`
}
