package livebus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/turnkeeper/internal/livebus"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := livebus.New()
	ch, unsubscribe := bus.Subscribe("sess-1")
	defer unsubscribe()

	bus.Publish("sess-1", livebus.Delta{Rolls: &livebus.RollsDelta{Turn: 2}})

	select {
	case delta := <-ch:
		require.NotNil(t, delta.Rolls)
		assert.Equal(t, int64(2), delta.Rolls.Turn)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delta")
	}
}

func TestPublishDoesNotCrossSessions(t *testing.T) {
	bus := livebus.New()
	ch, unsubscribe := bus.Subscribe("sess-1")
	defer unsubscribe()

	bus.Publish("sess-2", livebus.Delta{Rolls: &livebus.RollsDelta{Turn: 9}})

	select {
	case delta := <-ch:
		t.Fatalf("unexpected delta delivered to wrong session's subscriber: %+v", delta)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSkipsFullSubscriberBufferWithoutBlocking(t *testing.T) {
	bus := livebus.New()
	_, unsubscribe := bus.Subscribe("sess-1")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			bus.Publish("sess-1", livebus.Delta{Changelog: &livebus.LogDelta{Lines: []model.TextEntry{{Position: int64(i), Text: "x"}}}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow/unread subscriber instead of skipping")
	}
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	bus := livebus.New()
	ch, unsubscribe := bus.Subscribe("sess-1")
	unsubscribe()

	bus.Publish("sess-1", livebus.Delta{Rolls: &livebus.RollsDelta{Turn: 1}})

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")
}
