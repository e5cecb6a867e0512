package eventhub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxpoint-media/fluxpoint/manager"
)

const waitTimeout = 2 * time.Second

func newHandle() *manager.Handle {
	return manager.NewHandle(make(chan manager.Request, 1), make(chan struct{}))
}

func subscribeOn(t *testing.T, hub *Hub) chan Event {
	t.Helper()
	events := make(chan Event, 16)
	select {
	case hub.SubscribeChan() <- SubscriptionRequest{Kind: WorkflowManagerEvents, Channel: events}:
	case <-time.After(waitTimeout):
		t.Fatal("hub never accepted the subscription")
	}
	return events
}

func expectEvent(t *testing.T, events chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "subscription channel closed unexpectedly")
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("expected an event, got none")
		return nil
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := Start(ctx)

	first := subscribeOn(t, hub)
	second := subscribeOn(t, hub)

	handle := newHandle()
	hub.PublishManagerRegistered(handle)

	for _, events := range []chan Event{first, second} {
		ev := expectEvent(t, events)
		registered, ok := ev.(WorkflowManagerRegistered)
		require.True(t, ok)
		assert.Same(t, handle, registered.Handle)
	}
}

func TestLateSubscriberSeesLastRegistration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := Start(ctx)

	handle := newHandle()
	hub.PublishManagerRegistered(handle)

	// No subscriber yet; give the hub a moment to consume the publish.
	time.Sleep(50 * time.Millisecond)

	events := subscribeOn(t, hub)
	ev := expectEvent(t, events)
	registered, ok := ev.(WorkflowManagerRegistered)
	require.True(t, ok)
	assert.Same(t, handle, registered.Handle)
}

func TestLateSubscriberSeesNewestRegistration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := Start(ctx)

	early := subscribeOn(t, hub)

	old := newHandle()
	current := newHandle()
	hub.PublishManagerRegistered(old)
	hub.PublishManagerRegistered(current)
	expectEvent(t, early)
	expectEvent(t, early)

	events := subscribeOn(t, hub)
	registered := expectEvent(t, events).(WorkflowManagerRegistered)
	assert.Same(t, current, registered.Handle)
}

func TestShutdownClosesSubscriberChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := Start(ctx)
	events := subscribeOn(t, hub)

	cancel()

	select {
	case <-hub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("hub did not stop")
	}

	select {
	case _, ok := <-events:
		assert.False(t, ok, "expected the subscription channel to be closed")
	case <-time.After(waitTimeout):
		t.Fatal("subscription channel was not closed")
	}
}

func TestPublishAfterShutdownIsNoOp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := Start(ctx)
	cancel()
	<-hub.Done()

	// Must not block or panic.
	hub.PublishManagerRegistered(newHandle())
}
