package events

import (
	"testing"

	"github.com/anisarzoo/Dots-and-boxes/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewBus()
	a, b := bus.Subscribe(4), bus.Subscribe(4)

	bus.Publish(StatusChanged{Room: "ABCD", Status: game.StatePlaying})

	for _, s := range []*Subscription{a, b} {
		e := <-s.C
		require.Equal(t, KindStatusChanged, e.Kind())
		assert.Equal(t, game.StatePlaying, e.(StatusChanged).Status)
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus()
	s := bus.Subscribe(1)

	bus.Publish(Notification{Text: "one"})
	bus.Publish(Notification{Text: "two"})

	e := <-s.C
	assert.Equal(t, "one", e.(Notification).Text)
	select {
	case extra := <-s.C:
		t.Fatalf("unexpected event %v", extra)
	default:
	}
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	s := bus.Subscribe(0)
	s.Close()
	s.Close()

	bus.Publish(Desync{Room: "ABCD"})
	_, open := <-s.C
	assert.False(t, open)

	other := bus.Subscribe(0)
	bus.Close()
	_, open = <-other.C
	assert.False(t, open)
	other.Close()

	late := bus.Subscribe(0)
	_, open = <-late.C
	assert.False(t, open)
	late.Close()
}

func TestKindNames(t *testing.T) {
	events := []Event{
		StateReplaced{}, MoveApplied{}, GameFinished{}, PlayersChanged{}, StatusChanged{},
		RematchChanged{}, ChatReceived{}, Desync{}, Notification{},
	}
	seen := make(map[string]bool)
	for _, e := range events {
		name := e.Kind().String()
		assert.NotContains(t, name, "kind(")
		assert.False(t, seen[name], name)
		seen[name] = true
	}
}
