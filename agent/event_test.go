package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBus_FanOutWithFilters(t *testing.T) {
	bus := NewBus(DefaultBusConfig(), zap.NewNop())
	defer bus.Close()

	all := bus.Subscribe(nil)
	onlyReq := bus.Subscribe(ForRequest("req-2"))
	onlyCycle := bus.Subscribe(ForKinds(EventCycleDetected))

	bus.Publish(Event{Kind: EventSpawned, RequestID: "req-1", AgentID: "a"})
	bus.Publish(Event{Kind: EventCycleDetected, RequestID: "req-2", AgentID: "b"})

	assert.Len(t, all.C(), 2)
	require.Len(t, onlyReq.C(), 1)
	require.Len(t, onlyCycle.C(), 1)

	e := <-onlyReq.C()
	assert.Equal(t, "b", e.AgentID)
	assert.False(t, e.Timestamp.IsZero())

	first := <-all.C()
	second := <-all.C()
	assert.Less(t, first.Seq, second.Seq)
}

func TestBus_ConcurrentPublishersDeliverInSeqOrder(t *testing.T) {
	const publishers, each = 8, 100
	bus := NewBus(BusConfig{BufferSize: publishers * each}, zap.NewNop())
	defer bus.Close()
	sub := bus.Subscribe(nil)

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				bus.Publish(Event{Kind: EventStarted})
			}
		}()
	}
	wg.Wait()

	require.Len(t, sub.C(), publishers*each)
	var last uint64
	for i := 0; i < publishers*each; i++ {
		e := <-sub.C()
		require.Equal(t, last+1, e.Seq, "events arrive in seq order without gaps")
		last = e.Seq
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	var (
		mu      sync.Mutex
		dropped []EventKind
	)
	bus := NewBus(BusConfig{BufferSize: 2, OnDrop: func(e Event) {
		mu.Lock()
		dropped = append(dropped, e.Kind)
		mu.Unlock()
	}}, nil)
	defer bus.Close()

	slow := bus.Subscribe(nil)
	fast := bus.Subscribe(ForKinds(EventCompleted))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Kind: EventStarted})
		}
		bus.Publish(Event{Kind: EventCompleted})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, uint64(9), slow.Dropped())
	assert.Equal(t, uint64(9), bus.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Len(t, fast.C(), 1)

	mu.Lock()
	assert.Len(t, dropped, 9)
	mu.Unlock()
}

func TestSubscription_EventsAndCancel(t *testing.T) {
	bus := NewBus(DefaultBusConfig(), nil)
	sub := bus.Subscribe(ForRequest("req-1"))

	bus.Publish(Event{Kind: EventSpawned, RequestID: "req-1"})
	bus.Publish(Event{Kind: EventStarted, RequestID: "req-1"})
	sub.Cancel()
	sub.Cancel()
	bus.Publish(Event{Kind: EventCompleted, RequestID: "req-1"})

	var kinds []EventKind
	for e := range sub.Events(context.Background()) {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EventKind{EventSpawned, EventStarted}, kinds)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestSubscription_EventsStopsOnContext(t *testing.T) {
	bus := NewBus(DefaultBusConfig(), nil)
	defer bus.Close()
	sub := bus.Subscribe(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n := 0
	for range sub.Events(ctx) {
		n++
	}
	assert.Zero(t, n)
}

func TestBus_SubscribeFuncRecoversPanics(t *testing.T) {
	bus := NewBus(DefaultBusConfig(), nil)
	got := make(chan EventKind, 2)
	bus.SubscribeFunc(nil, func(e Event) {
		if e.Kind == EventFailed {
			panic("boom")
		}
		got <- e.Kind
	})

	bus.Publish(Event{Kind: EventFailed})
	bus.Publish(Event{Kind: EventCompleted})

	select {
	case k := <-got:
		assert.Equal(t, EventCompleted, k)
	case <-time.After(2 * time.Second):
		t.Fatal("handler stopped after panic")
	}
	bus.Close()
	bus.Close()

	late := bus.Subscribe(nil)
	_, ok := <-late.C()
	assert.False(t, ok, "subscriptions on a closed bus are closed")
}
