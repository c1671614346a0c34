package game

import (
	"errors"
	"maps"
	"slices"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestController() *Controller {
	c := NewController(7, DefaultPhotoURLs)
	c.Now = func() time.Time { return testNow }
	return c
}

// lobby returns a lobby hosted by A with B and C joined.
func lobby(t *testing.T, c *Controller, settings Settings) Session {
	t.Helper()
	s := NewSession("ABCDEF", "A", "Alice", settings, testNow)
	for _, p := range []string{"B", "C"} {
		if err := c.Join(&s, p, "name-"+p); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
	}
	return s
}

// captioning drives a fresh lobby to the captioning phase of round 1.
func captioning(t *testing.T, c *Controller, settings Settings) Session {
	t.Helper()
	s := lobby(t, c, settings)
	if err := c.Start(&s, "A"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, p := range []string{"A", "A", "B", "B"} {
		if _, err := c.UploadPhoto(&s, p, "https://img.test/"+p); err != nil {
			t.Fatalf("upload: %v", err)
		}
	}
	if err := c.FinishUpload(&s, "A"); err != nil {
		t.Fatalf("finish upload: %v", err)
	}
	if err := c.PickPhoto(&s, s.CurrentJudgeID, anyPhoto(s)); err != nil {
		t.Fatalf("pick photo: %v", err)
	}
	return s
}

func anyPhoto(s Session) string {
	for id := range s.PhotoPool {
		return id
	}
	return ""
}

func submitAll(t *testing.T, c *Controller, s *Session) {
	t.Helper()
	for _, p := range s.NonJudgePlayers() {
		if _, err := c.SubmitCaption(s, p, []Caption{{Text: "caption by " + p}}, "https://img.test/final/"+p); err != nil {
			t.Fatalf("submit %s: %v", p, err)
		}
	}
}

func expectKind(t *testing.T, err error, want *Rejection) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s, got %v", want.Kind, err)
	}
}

func TestJoinRules(t *testing.T) {
	c := newTestController()
	s := lobby(t, c, Settings{MaxPlayers: 3})

	expectKind(t, c.Join(&s, "D", "Dora"), ErrCapacityExceeded)

	// rejoining is a rename, not a second seat
	if err := c.Join(&s, "B", "Bob"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(s.Players) != 3 || s.Names["B"] != "Bob" {
		t.Fatalf("unexpected roster %v %v", s.Players, s.Names)
	}

	expectKind(t, c.Join(&s, " ", "nobody"), ErrInvalidArgument)

	if err := c.Start(&s, "A"); err != nil {
		t.Fatalf("start: %v", err)
	}
	expectKind(t, c.Join(&s, "E", "Eve"), ErrPhaseMismatch)
}

func TestStartRequiresHostAndThreePlayers(t *testing.T) {
	c := newTestController()
	s := NewSession("ABCDEF", "A", "Alice", DefaultSettings(), testNow)
	_ = c.Join(&s, "B", "Bob")

	expectKind(t, c.Start(&s, "A"), ErrCapacityExceeded)
	_ = c.Join(&s, "C", "Cleo")
	expectKind(t, c.Start(&s, "B"), ErrNotAuthorized)

	if err := c.Start(&s, "A"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Phase != PhasePhotoUpload {
		t.Fatalf("expected photo_upload, got %s", s.Phase)
	}
	if len(s.PhotoPool) != len(DefaultPhotoURLs) {
		t.Fatalf("expected %d default photos, got %d", len(DefaultPhotoURLs), len(s.PhotoPool))
	}
	for _, p := range s.PhotoPool {
		if !p.IsDefault || p.UploaderID != SystemUploader {
			t.Fatalf("seeded photo not marked default: %+v", p)
		}
	}
}

func TestFinishUploadCountsOnlyPlayerPhotos(t *testing.T) {
	c := newTestController()
	s := lobby(t, c, DefaultSettings())
	_ = c.Start(&s, "A")

	_, _ = c.UploadPhoto(&s, "A", "https://img.test/1")
	_, _ = c.UploadPhoto(&s, "B", "https://img.test/2")
	expectKind(t, c.FinishUpload(&s, "A"), ErrCapacityExceeded)

	_, _ = c.UploadPhoto(&s, "C", "https://img.test/3")
	expectKind(t, c.FinishUpload(&s, "B"), ErrNotAuthorized)
	if err := c.FinishUpload(&s, "A"); err != nil {
		t.Fatalf("finish upload: %v", err)
	}
	if s.Phase != PhasePicking || s.CurrentRound != 1 {
		t.Fatalf("expected picking round 1, got %s round %d", s.Phase, s.CurrentRound)
	}
	if !s.IsPlayer(s.CurrentJudgeID) {
		t.Fatalf("judge %q is not a player", s.CurrentJudgeID)
	}
}

func TestJudgeSelectionIsSeeded(t *testing.T) {
	judge := func() string {
		c := NewController(99, nil)
		s := lobby(t, c, Settings{UseDefaultPhotos: false})
		_ = c.Start(&s, "A")
		for i := range 3 {
			_, _ = c.UploadPhoto(&s, "A", "https://img.test/"+string(rune('a'+i)))
		}
		if err := c.FinishUpload(&s, "A"); err != nil {
			t.Fatalf("finish upload: %v", err)
		}
		return s.CurrentJudgeID
	}
	if a, b := judge(), judge(); a != b {
		t.Fatalf("same seed picked different judges %s and %s", a, b)
	}
}

func TestPickPhotoOnlyJudge(t *testing.T) {
	c := newTestController()
	s := lobby(t, c, DefaultSettings())
	_ = c.Start(&s, "A")
	for range 3 {
		_, _ = c.UploadPhoto(&s, "B", "https://img.test/x")
	}
	_ = c.FinishUpload(&s, "A")

	other := s.NonJudgePlayers()[0]
	expectKind(t, c.PickPhoto(&s, other, anyPhoto(s)), ErrNotAuthorized)
	expectKind(t, c.PickPhoto(&s, s.CurrentJudgeID, "missing"), ErrNotFound)

	if err := c.PickPhoto(&s, s.CurrentJudgeID, anyPhoto(s)); err != nil {
		t.Fatalf("pick: %v", err)
	}
	if s.Phase != PhaseCaptioning {
		t.Fatalf("expected captioning, got %s", s.Phase)
	}
	if want := testNow.Add(90 * time.Second); !s.PhaseEndsAt.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, s.PhaseEndsAt)
	}
}

func TestJudgeCannotSubmitCaption(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())

	_, err := c.SubmitCaption(&s, s.CurrentJudgeID, []Caption{{Text: "mine"}}, "https://img.test/j")
	expectKind(t, err, ErrNotAuthorized)
	if len(s.Submissions) != 0 {
		t.Fatal("judge submission was recorded")
	}
}

func TestSubmitCaptionIsIdempotent(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	p := s.NonJudgePlayers()[0]

	if _, err := c.SubmitCaption(&s, p, []Caption{{Text: "first", X: 140, Y: -3}}, "https://img.test/1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	first := s.Submissions[p]
	if first.Captions[0].X != 100 || first.Captions[0].Y != 0 || first.Captions[0].Scale != 1 || first.Captions[0].ID == "" {
		t.Fatalf("caption not normalized: %+v", first.Captions[0])
	}

	_, err := c.SubmitCaption(&s, p, []Caption{{Text: "second"}}, "https://img.test/2")
	expectKind(t, err, ErrAlreadyActed)
	if got := s.Submissions[p]; got.FinalImageURL != first.FinalImageURL || got.Captions[0].Text != "first" {
		t.Fatalf("submission changed: %+v", got)
	}
}

func TestLastSubmissionMovesToJudging(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	players := s.NonJudgePlayers()

	done, _ := c.SubmitCaption(&s, players[0], nil, "https://img.test/a")
	if done || s.Phase != PhaseCaptioning {
		t.Fatal("phase advanced before everyone submitted")
	}
	done, _ = c.SubmitCaption(&s, players[1], nil, "https://img.test/b")
	if !done || s.Phase != PhaseJudging {
		t.Fatalf("expected judging, got %s", s.Phase)
	}
	if !s.PhaseEndsAt.IsZero() {
		t.Fatal("judging has no deadline")
	}
}

func TestExtensions(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	deadline := s.PhaseEndsAt

	expectKind(t, c.GrantExtension(&s, s.NonJudgePlayers()[0], 15), ErrNotAuthorized)
	expectKind(t, c.GrantExtension(&s, s.CurrentJudgeID, 20), ErrInvalidArgument)

	for _, sec := range []int{15, 30, 60} {
		if err := c.GrantExtension(&s, s.CurrentJudgeID, sec); err != nil {
			t.Fatalf("extension %d: %v", sec, err)
		}
		deadline = deadline.Add(time.Duration(sec) * time.Second)
		if !s.PhaseEndsAt.Equal(deadline) {
			t.Fatalf("expected deadline %v, got %v", deadline, s.PhaseEndsAt)
		}
	}
	expectKind(t, c.GrantExtension(&s, s.CurrentJudgeID, 15), ErrCapacityExceeded)
	if len(s.TimeExtensions) != MaxExtensions {
		t.Fatalf("expected %d extensions, got %d", MaxExtensions, len(s.TimeExtensions))
	}
}

func TestVotingRules(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	submitAll(t, c, &s)
	players := s.NonJudgePlayers()

	expectKind(t, c.SelectJudgeWinner(&s, players[0], players[0]), ErrNotAuthorized)
	if err := c.SelectJudgeWinner(&s, s.CurrentJudgeID, players[0]); err != nil {
		t.Fatalf("select: %v", err)
	}
	if s.Phase != PhaseVoting {
		t.Fatalf("expected voting, got %s", s.Phase)
	}

	_, err := c.CastAudienceVote(&s, s.CurrentJudgeID, players[0])
	expectKind(t, err, ErrNotAuthorized)
	_, err = c.CastAudienceVote(&s, players[0], players[0])
	expectKind(t, err, ErrNotAuthorized)

	done, err := c.CastAudienceVote(&s, players[0], players[1])
	if err != nil || done {
		t.Fatalf("first vote: done=%v err=%v", done, err)
	}
	_, err = c.CastAudienceVote(&s, players[0], players[1])
	expectKind(t, err, ErrAlreadyActed)

	done, err = c.CastAudienceVote(&s, players[1], players[0])
	if err != nil || !done {
		t.Fatalf("last vote: done=%v err=%v", done, err)
	}
	if s.Phase != PhaseResults || s.LastResult == nil {
		t.Fatalf("expected results, got %s", s.Phase)
	}
}

func TestExpireWithoutSubmissionsSkipsToResults(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	before := s.Scores

	if err := c.Expire(&s, PhaseCaptioning, 1); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if s.Phase != PhaseResults {
		t.Fatalf("expected results, got %s", s.Phase)
	}
	if s.LastResult.JudgeWinnerID != "" || s.LastResult.AudienceWinnerID != "" {
		t.Fatalf("expected no winners, got %+v", s.LastResult)
	}
	for p, v := range before {
		if s.Scores[p] != v {
			t.Fatalf("score of %s changed", p)
		}
	}
}

func TestExpireIsRejectedWhenStale(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	submitAll(t, c, &s)

	expectKind(t, c.Expire(&s, PhaseCaptioning, 1), ErrPhaseMismatch)
	expectKind(t, c.Expire(&s, PhaseJudging, 1), ErrPhaseMismatch)
	if s.Phase != PhaseJudging {
		t.Fatalf("stale expiry changed phase to %s", s.Phase)
	}
}

func TestAdvanceRotatesJudge(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	submitAll(t, c, &s)
	judge := s.CurrentJudgeID
	_ = c.SelectJudgeWinner(&s, judge, s.NonJudgePlayers()[0])
	if err := c.Expire(&s, PhaseVoting, 1); err != nil {
		t.Fatalf("expire voting: %v", err)
	}

	expectKind(t, c.Advance(&s, "B"), ErrNotAuthorized)
	if err := c.Advance(&s, "A"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.Phase != PhasePicking || s.CurrentRound != 2 {
		t.Fatalf("expected picking round 2, got %s round %d", s.Phase, s.CurrentRound)
	}
	ix := 0
	for i, p := range s.Players {
		if p == judge {
			ix = i
		}
	}
	if want := s.Players[(ix+1)%len(s.Players)]; s.CurrentJudgeID != want {
		t.Fatalf("expected judge %s, got %s", want, s.CurrentJudgeID)
	}
	if len(s.Submissions) != 0 || len(s.Votes) != 0 || s.JudgeWinnerID != "" || len(s.TimeExtensions) != 0 {
		t.Fatal("round state not reset")
	}
}

func TestJudgeRotationCoversEveryPlayer(t *testing.T) {
	c := newTestController()
	s := lobby(t, c, Settings{CardsToWin: 100, TotalRounds: 10})
	if err := c.Join(&s, "D", "name-D"); err != nil {
		t.Fatalf("join D: %v", err)
	}
	if err := c.Start(&s, "A"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, p := range []string{"A", "B", "C"} {
		if _, err := c.UploadPhoto(&s, p, "https://img.test/"+p); err != nil {
			t.Fatalf("upload: %v", err)
		}
	}
	if err := c.FinishUpload(&s, "A"); err != nil {
		t.Fatalf("finish upload: %v", err)
	}

	first := slices.Index(s.Players, s.CurrentJudgeID)
	n := len(s.Players)
	seen := map[string]bool{}
	prev := maps.Clone(s.Scores)
	for round := 1; round <= n+1; round++ {
		want := s.Players[(first+round-1)%n]
		if s.CurrentJudgeID != want || s.CurrentRound != round {
			t.Fatalf("round %d: expected judge %s, got %s (round %d)", round, want, s.CurrentJudgeID, s.CurrentRound)
		}
		if round <= n {
			if seen[want] {
				t.Fatalf("round %d: %s judges twice before everyone judged", round, want)
			}
			seen[want] = true
		}

		if err := c.PickPhoto(&s, s.CurrentJudgeID, anyPhoto(s)); err != nil {
			t.Fatalf("round %d pick: %v", round, err)
		}
		submitAll(t, c, &s)
		players := s.NonJudgePlayers()
		if err := c.SelectJudgeWinner(&s, s.CurrentJudgeID, players[round%len(players)]); err != nil {
			t.Fatalf("round %d select: %v", round, err)
		}
		if _, err := c.CastAudienceVote(&s, players[0], players[1]); err != nil {
			t.Fatalf("round %d vote: %v", round, err)
		}
		if err := c.Expire(&s, PhaseVoting, round); err != nil {
			t.Fatalf("round %d expire voting: %v", round, err)
		}

		var before, after float64
		for p, v := range s.Scores {
			if v < prev[p] {
				t.Fatalf("round %d: score of %s dropped from %g to %g", round, p, prev[p], v)
			}
			before += prev[p]
			after += v
		}
		if after <= before {
			t.Fatalf("round %d: total score did not grow (%g -> %g)", round, before, after)
		}
		prev = maps.Clone(s.Scores)

		if err := c.Advance(&s, "A"); err != nil {
			t.Fatalf("round %d advance: %v", round, err)
		}
	}
	if len(seen) != n {
		t.Fatalf("expected all %d players to judge, got %v", n, seen)
	}
}

func TestLeaveInLobby(t *testing.T) {
	c := newTestController()
	s := lobby(t, c, DefaultSettings())

	if abandoned, err := c.Leave(&s, "B"); err != nil || abandoned {
		t.Fatalf("leave B: abandoned=%v err=%v", abandoned, err)
	}
	if s.IsPlayer("B") {
		t.Fatal("B still seated")
	}
	abandoned, err := c.Leave(&s, "A")
	if err != nil || !abandoned || s.Phase != PhaseFinished {
		t.Fatalf("host leave: abandoned=%v err=%v phase=%s", abandoned, err, s.Phase)
	}
}

func TestDepartureMidRound(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	players := s.NonJudgePlayers()

	if _, err := c.SubmitCaption(&s, players[0], nil, "https://img.test/a"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := c.Leave(&s, players[1]); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !s.IsPlayer(players[1]) {
		t.Fatal("roster changed mid-round")
	}
	if s.Phase != PhaseJudging {
		t.Fatalf("expected judging once the remaining player submitted, got %s", s.Phase)
	}
	_, err := c.SubmitCaption(&s, players[1], nil, "https://img.test/b")
	expectKind(t, err, ErrPhaseMismatch)

	_ = c.SelectJudgeWinner(&s, s.CurrentJudgeID, players[0])
	_ = c.Expire(&s, PhaseVoting, 1)
	if err := c.Advance(&s, s.HostID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.Phase != PhaseFinished {
		t.Fatalf("expected finished with two players left, got %s", s.Phase)
	}
}

func TestJudgeDepartureVoidsRound(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	judge := s.CurrentJudgeID

	if _, err := c.Leave(&s, judge); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if s.Phase != PhaseResults {
		t.Fatalf("expected results, got %s", s.Phase)
	}
	if s.LastResult.JudgeWinnerID != "" {
		t.Fatal("voided round has a winner")
	}
	if s.IsDeparted(s.HostID) {
		t.Fatal("host role stayed with a departed player")
	}
}

func TestUpdateSettings(t *testing.T) {
	c := newTestController()
	s := lobby(t, c, DefaultSettings())

	expectKind(t, c.UpdateSettings(&s, "B", Settings{CardsToWin: 3}), ErrNotAuthorized)
	expectKind(t, c.UpdateSettings(&s, "A", Settings{MaxPlayers: 2}), ErrInvalidArgument)

	if err := c.UpdateSettings(&s, "A", Settings{CardsToWin: 3, TotalRounds: 4, AudienceIncrement: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if s.Settings.CardsToWin != 3 || s.TotalRounds != 4 || s.Settings.Code != "ABCDEF" {
		t.Fatalf("settings not applied: %+v", s.Settings)
	}
	if s.Settings.TimePerRoundSeconds != 90 {
		t.Fatalf("expected default round time, got %d", s.Settings.TimePerRoundSeconds)
	}
}

// photoUpload returns a four player session in photo_upload with one photo each from A, C and D.
func photoUpload(t *testing.T, c *Controller) Session {
	t.Helper()
	s := lobby(t, c, DefaultSettings())
	if err := c.Join(&s, "D", "name-D"); err != nil {
		t.Fatalf("join D: %v", err)
	}
	if err := c.Start(&s, "A"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, p := range []string{"A", "C", "D"} {
		if _, err := c.UploadPhoto(&s, p, "https://img.test/"+p); err != nil {
			t.Fatalf("upload %s: %v", p, err)
		}
	}
	return s
}

func TestDepartureDuringPhotoUpload(t *testing.T) {
	for seed := uint64(1); seed < 50; seed++ {
		c := NewController(seed, DefaultPhotoURLs)
		c.Now = func() time.Time { return testNow }
		s := photoUpload(t, c)

		if _, err := c.Leave(&s, "B"); err != nil {
			t.Fatalf("seed %d: leave: %v", seed, err)
		}
		_, err := c.UploadPhoto(&s, "B", "https://img.test/late")
		expectKind(t, err, ErrNotAuthorized)

		if err := c.FinishUpload(&s, "A"); err != nil {
			t.Fatalf("seed %d: finish upload: %v", seed, err)
		}
		if s.Phase != PhasePicking {
			t.Fatalf("seed %d: expected picking, got %s", seed, s.Phase)
		}
		if s.IsPlayer("B") || len(s.Departed) != 0 {
			t.Fatalf("seed %d: departed player still seated: players=%v departed=%v", seed, s.Players, s.Departed)
		}
		if s.CurrentJudgeID == "B" || !s.IsPlayer(s.CurrentJudgeID) {
			t.Fatalf("seed %d: judge %s is not a remaining player", seed, s.CurrentJudgeID)
		}
		if err := c.PickPhoto(&s, s.CurrentJudgeID, anyPhoto(s)); err != nil {
			t.Fatalf("seed %d: judge cannot pick: %v", seed, err)
		}
	}
}

func TestHostDepartureDuringPhotoUpload(t *testing.T) {
	c := newTestController()
	s := photoUpload(t, c)

	if _, err := c.Leave(&s, "A"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if s.HostID != "B" {
		t.Fatalf("expected B to host, got %s", s.HostID)
	}
	expectKind(t, c.FinishUpload(&s, "A"), ErrNotAuthorized)
	if err := c.FinishUpload(&s, "B"); err != nil {
		t.Fatalf("finish upload: %v", err)
	}
	if s.IsPlayer("A") || s.CurrentJudgeID == "A" || s.Phase != PhasePicking {
		t.Fatalf("unexpected round start: players=%v judge=%s phase=%s", s.Players, s.CurrentJudgeID, s.Phase)
	}
}

func TestFinishUploadBelowMinimumFinishes(t *testing.T) {
	c := newTestController()
	s := photoUpload(t, c)

	for _, p := range []string{"C", "D"} {
		if _, err := c.Leave(&s, p); err != nil {
			t.Fatalf("leave %s: %v", p, err)
		}
	}
	if err := c.FinishUpload(&s, "A"); err != nil {
		t.Fatalf("finish upload: %v", err)
	}
	if s.Phase != PhaseFinished {
		t.Fatalf("expected finished with two players left, got %s", s.Phase)
	}
	if s.CurrentJudgeID != "" {
		t.Fatalf("finished game has judge %s", s.CurrentJudgeID)
	}
}

func TestJoinRejectsDepartedAndFinished(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	leaver := s.NonJudgePlayers()[0]
	if _, err := c.Leave(&s, leaver); err != nil {
		t.Fatalf("leave: %v", err)
	}
	expectKind(t, c.Join(&s, leaver, "back again"), ErrPhaseMismatch)
	if s.Names[leaver] == "back again" {
		t.Fatal("rejected join renamed the player")
	}

	s.Phase = PhaseFinished
	expectKind(t, c.Join(&s, "A", "Alice"), ErrPhaseMismatch)
}
