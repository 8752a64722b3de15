package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeFiltersByTopic(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe(TopicStateChanged)
	defer unsubscribe()

	bus.Publish(TopicAlertCreated, "ignored")
	bus.Publish(TopicStateChanged, "node-1")

	select {
	case evt := <-ch:
		assert.Equal(t, TopicStateChanged, evt.Topic)
		assert.Equal(t, "node-1", evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected second event: %+v", evt)
	default:
	}
}

func TestSubscribeWithNoTopicsReceivesEverything(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(TopicCloneProgress, 1)
	bus.Publish(TopicAlertResolved, 2)

	first := <-ch
	second := <-ch
	assert.Equal(t, TopicCloneProgress, first.Topic)
	assert.Equal(t, TopicAlertResolved, second.Topic)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe(TopicStateChanged)
	require.Equal(t, 1, bus.SubscriberCount())
	unsubscribe()
	require.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-ch
	assert.False(t, ok)
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := New()
	_, unsubscribe := bus.Subscribe(TopicStateChanged)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(TopicStateChanged, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
