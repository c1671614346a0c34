// Package storetest is the behaviour every game.Store driver must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/kiliankoe/famemely/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises a driver. open must return an empty store; ids are unique per run so a
// shared database works too.
func Run(t *testing.T, open func(t *testing.T) game.Store) {
	t.Run("create and get", func(t *testing.T) { testCreateGet(t, open(t)) })
	t.Run("create duplicate", func(t *testing.T) { testDuplicate(t, open(t)) })
	t.Run("update", func(t *testing.T) { testUpdate(t, open(t)) })
	t.Run("rejected update", func(t *testing.T) { testRejectedUpdate(t, open(t)) })
	t.Run("subscribe", func(t *testing.T) { testSubscribe(t, open(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("cards", func(t *testing.T) { testCards(t, open(t)) })
}

func newSession(t *testing.T) game.Session {
	t.Helper()
	id := "S-" + uuid.NewString()
	s := game.NewSession(id, "host", "Host", game.DefaultSettings(), now)
	s.Players = append(s.Players, "p1")
	s.Names["p1"] = "One"
	s.Submissions["p1"] = game.Submission{
		PlayerID:      "p1",
		Captions:      []game.Caption{{ID: "c1", Text: "hello", X: 10, Y: 20, Scale: 1}},
		FinalImageURL: "https://img.test/p1",
		SubmittedAt:   now,
	}
	return s
}

func testCreateGet(t *testing.T, st game.Store) {
	ctx := context.Background()
	s := newSession(t)
	require.NoError(t, st.Create(ctx, s))

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(s, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	_, err = st.Get(ctx, "missing")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
}

func testDuplicate(t *testing.T, st game.Store) {
	ctx := context.Background()
	s := newSession(t)
	require.NoError(t, st.Create(ctx, s))
	assert.ErrorIs(t, st.Create(ctx, s), game.ErrSessionExists)
}

func testUpdate(t *testing.T, st game.Store) {
	ctx := context.Background()
	s := newSession(t)
	require.NoError(t, st.Create(ctx, s))

	out, err := st.Update(ctx, s.ID, func(s *game.Session) error {
		s.Phase = game.PhasePhotoUpload
		s.Version++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, game.PhasePhotoUpload, out.Phase)

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)

	_, err = st.Update(ctx, "missing", func(*game.Session) error { return nil })
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
}

func testRejectedUpdate(t *testing.T, st game.Store) {
	ctx := context.Background()
	s := newSession(t)
	require.NoError(t, st.Create(ctx, s))

	boom := errors.New("boom")
	_, err := st.Update(ctx, s.ID, func(s *game.Session) error {
		s.Phase = game.PhaseFinished
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseLobby, got.Phase)
}

func testSubscribe(t *testing.T, st game.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newSession(t)
	require.NoError(t, st.Create(ctx, s))

	updates, stop, err := st.Subscribe(ctx, s.ID)
	require.NoError(t, err)
	defer stop()

	first := receive(t, updates)
	assert.Equal(t, 0, first.Version)

	for i := 1; i <= 3; i++ {
		_, err := st.Update(ctx, s.ID, func(s *game.Session) error {
			s.Version++
			return nil
		})
		require.NoError(t, err)
	}
	for want := 1; want <= 3; want++ {
		assert.Equal(t, want, receive(t, updates).Version)
	}

	stop()
	_, open := <-updates
	assert.False(t, open, "channel should close after cancel")

	_, _, err = st.Subscribe(ctx, "missing")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
}

func receive(t *testing.T, ch <-chan game.Session) game.Session {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
		return game.Session{}
	}
}

func testDelete(t *testing.T, st game.Store) {
	ctx := context.Background()
	s := newSession(t)
	require.NoError(t, st.Create(ctx, s))
	require.NoError(t, st.Delete(ctx, s.ID))
	_, err := st.Get(ctx, s.ID)
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
	assert.ErrorIs(t, st.Delete(ctx, s.ID), game.ErrSessionNotFound)
}

func testCards(t *testing.T, st game.Store) {
	ctx := context.Background()
	player := "player-" + uuid.NewString()
	older := game.ChampionCard{ID: player + "-1", PlayerID: player, SessionID: "S1", Round: 1, WinType: game.WinJudge, WonAt: now}
	newer := game.ChampionCard{ID: player + "-2", PlayerID: player, SessionID: "S1", Round: 2, WinType: game.WinBoth, WonAt: now.Add(time.Minute)}
	other := game.ChampionCard{ID: player + "-3", PlayerID: "someone-else", SessionID: "S1", Round: 2, WinType: game.WinAudience, WonAt: now}

	require.NoError(t, st.AddCards(ctx, []game.ChampionCard{older, other}))
	require.NoError(t, st.AddCards(ctx, []game.ChampionCard{newer}))
	require.NoError(t, st.AddCards(ctx, nil))

	cards, err := st.CardsForPlayer(ctx, player)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, newer.ID, cards[0].ID)
	assert.Equal(t, older.ID, cards[1].ID)
	assert.True(t, cards[0].WonAt.Equal(newer.WonAt))

	none, err := st.CardsForPlayer(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}
