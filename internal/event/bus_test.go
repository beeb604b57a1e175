package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesOnlyItsTopic(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var gotA, gotB []Event

	unsubA := b.Subscribe("topic-a", func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		gotA = append(gotA, e)
	})
	defer unsubA()

	unsubB := b.Subscribe("topic-b", func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		gotB = append(gotB, e)
	})
	defer unsubB()

	b.Publish("topic-a", Event{Type: RunText, Data: "hello"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotA) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Empty(t, gotB)
	assert.Equal(t, RunText, gotA[0].Type)
	assert.Equal(t, "topic-a", gotA[0].Topic)
	mu.Unlock()
}

func TestSubscribeAllReceivesEveryTopic(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got []Event

	unsub := b.SubscribeAll(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})
	defer unsub()

	b.Publish("topic-a", Event{Type: RunConnected})
	b.Publish("topic-b", Event{Type: RunDone})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	count := 0

	unsub := b.Subscribe("topic-a", func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	b.Publish("topic-a", Event{Type: RunText})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, time.Millisecond)

	unsub()
	b.Publish("topic-a", Event{Type: RunText})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, count)
	mu.Unlock()
}

func TestHasSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	assert.False(t, b.HasSubscribers("topic-a"))

	unsub := b.Subscribe("topic-a", func(Event) {})
	assert.True(t, b.HasSubscribers("topic-a"))
	assert.False(t, b.HasSubscribers("topic-b"))

	unsub()
	assert.False(t, b.HasSubscribers("topic-a"))
}

func TestCloseStopsFurtherDelivery(t *testing.T) {
	b := New()

	var mu sync.Mutex
	count := 0
	b.Subscribe("topic-a", func(Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	require.NoError(t, b.Close())

	b.Publish("topic-a", Event{Type: RunText})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 0, count)
	mu.Unlock()

	// Subscribe after close is a safe no-op.
	unsub := b.Subscribe("topic-a", func(Event) {})
	unsub()
}
