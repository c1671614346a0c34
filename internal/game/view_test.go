package game

import "testing"

func TestViewHidesOtherCaptionsWhileCaptioning(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	players := s.NonJudgePlayers()
	_, _ = c.SubmitCaption(&s, players[0], []Caption{{Text: "secret"}}, "https://img.test/a")

	v := NewView(s, players[1], 42)
	if len(v.Submissions) != 0 {
		t.Fatalf("other captions leaked: %v", v.Submissions)
	}
	if len(v.Submitted) != 1 || v.Submitted[0] != players[0] {
		t.Fatalf("expected %s in submitted, got %v", players[0], v.Submitted)
	}
	if v.RemainingSeconds != 42 {
		t.Fatalf("expected 42 seconds, got %d", v.RemainingSeconds)
	}

	own := NewView(s, players[0], 42)
	if own.Submissions[players[0]].Captions[0].Text != "secret" {
		t.Fatal("author cannot see their own caption")
	}
	if _, ok := s.Submissions[players[0]]; !ok {
		t.Fatal("view modified the session")
	}
}

func TestViewRoles(t *testing.T) {
	c := newTestController()
	s := captioning(t, c, DefaultSettings())
	submitAll(t, c, &s)

	v := NewView(s, s.CurrentJudgeID, 0)
	if !v.You.IsJudge {
		t.Fatal("judge not flagged")
	}
	if len(v.Submissions) != 2 {
		t.Fatalf("judge should see every submission, got %d", len(v.Submissions))
	}
	if NewView(s, "", 0).You.IsHost {
		t.Fatal("anonymous viewer flagged as host")
	}
}
