package pubsub

import (
	"testing"
	"time"

	"github.com/kiliankoe/famemely/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func session(id string, version int) game.Session {
	s := game.NewSession(id, "host", "Host", game.DefaultSettings(), time.Now().UTC())
	s.Version = version
	return s
}

func TestSubscribePrimesWithCurrent(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("S1", session("S1", 4))
	defer cancel()

	got := <-ch
	assert.Equal(t, 4, got.Version)
	assert.Equal(t, 1, b.Subscribers("S1"))
}

func TestPublishFansOutPerSession(t *testing.T) {
	b := NewBroker()
	a, cancelA := b.Subscribe("S1", session("S1", 0))
	defer cancelA()
	c, cancelC := b.Subscribe("S1", session("S1", 0))
	defer cancelC()
	other, cancelOther := b.Subscribe("S2", session("S2", 0))
	defer cancelOther()
	<-a
	<-c
	<-other

	b.Publish(session("S1", 1))
	assert.Equal(t, 1, (<-a).Version)
	assert.Equal(t, 1, (<-c).Version)
	select {
	case s := <-other:
		t.Fatalf("S2 subscriber received %s", s.ID)
	default:
	}
}

func TestPublishedSnapshotsAreCopies(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("S1", session("S1", 0))
	defer cancel()
	<-ch

	s := session("S1", 1)
	b.Publish(s)
	s.Players[0] = "mutated"
	assert.Equal(t, "host", (<-ch).Players[0])
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("S1", session("S1", 0))
	defer cancel()

	for i := 1; i <= bufferSize+1; i++ {
		b.Publish(session("S1", i))
	}
	assert.Equal(t, 0, b.Subscribers("S1"))

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, bufferSize, n)
}

func TestFinishedClosesSubscriptions(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("S1", session("S1", 0))
	defer cancel()
	<-ch

	s := session("S1", 1)
	s.Phase = game.PhaseFinished
	b.Publish(s)

	got, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, game.PhaseFinished, got.Phase)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestCancelIsIdempotent(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("S1", session("S1", 0))
	cancel()
	cancel()
	b.CloseSession("S1")
	<-ch
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers("S1"))
}
