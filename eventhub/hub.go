// Package eventhub connects the components of a fluxpoint process without
// making them know about each other directly.
//
// The hub is a small actor: components subscribe to an event kind by sending
// a SubscriptionRequest on the hub's subscription channel, and publishers
// hand events to the hub, which fans them out to every current subscriber.
// The hub retains the most recent workflow-manager registration so that a
// subscriber arriving after the manager still learns about it.
package eventhub

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fluxpoint-media/fluxpoint/logger"
	"github.com/fluxpoint-media/fluxpoint/manager"
)

// Event is the variant set delivered to hub subscribers.
type Event interface {
	event()
}

// WorkflowManagerRegistered announces that a workflow manager is available.
// Subscribers replace any handle they held before with this one.
type WorkflowManagerRegistered struct {
	Handle *manager.Handle
}

func (WorkflowManagerRegistered) event() {}

// SubscriptionKind selects which events a subscription receives.
type SubscriptionKind string

const (
	// WorkflowManagerEvents subscribes to manager registrations.
	WorkflowManagerEvents SubscriptionKind = "workflow_manager_events"
)

// SubscriptionRequest asks the hub to deliver events of Kind on Channel.
// The hub closes Channel when it shuts down; subscribers treat that closure
// as the hub being gone.
type SubscriptionRequest struct {
	Kind    SubscriptionKind
	Channel chan<- Event
}

type subscriber struct {
	id      string
	kind    SubscriptionKind
	channel chan<- Event
}

// Hub is the process-wide event hub actor.
type Hub struct {
	log       *slog.Logger
	subscribe chan SubscriptionRequest
	events    chan Event
	done      chan struct{}
}

// Start launches a hub that runs until ctx is cancelled. On shutdown every
// subscriber channel is closed.
func Start(ctx context.Context) *Hub {
	h := &Hub{
		log:       logger.ForModule("eventhub"),
		subscribe: make(chan SubscriptionRequest),
		events:    make(chan Event, 16),
		done:      make(chan struct{}),
	}
	go h.run(ctx)
	return h
}

// SubscribeChan returns the channel subscription requests are sent on.
func (h *Hub) SubscribeChan() chan<- SubscriptionRequest {
	return h.subscribe
}

// PublishManagerRegistered announces a new workflow manager to subscribers.
// It is a no-op after the hub has shut down.
func (h *Hub) PublishManagerRegistered(handle *manager.Handle) {
	select {
	case h.events <- WorkflowManagerRegistered{Handle: handle}:
	case <-h.done:
	}
}

// Done returns a channel that closes once the hub has shut down.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) run(ctx context.Context) {
	var subscribers []subscriber
	var lastRegistration Event

	defer func() {
		for _, sub := range subscribers {
			close(sub.channel)
		}
		close(h.done)
		h.log.Info("event hub stopped")
	}()

	h.log.Info("event hub started")
	for {
		select {
		case <-ctx.Done():
			return

		case req := <-h.subscribe:
			sub := subscriber{
				id:      uuid.NewString(),
				kind:    req.Kind,
				channel: req.Channel,
			}
			subscribers = append(subscribers, sub)
			h.log.Debug("subscription added", "subscription_id", sub.id, "kind", sub.kind)

			if sub.kind == WorkflowManagerEvents && lastRegistration != nil {
				if !h.deliver(ctx, sub, lastRegistration) {
					return
				}
			}

		case event := <-h.events:
			if _, ok := event.(WorkflowManagerRegistered); ok {
				lastRegistration = event
			}
			for _, sub := range subscribers {
				if sub.kind != WorkflowManagerEvents {
					continue
				}
				if !h.deliver(ctx, sub, event) {
					return
				}
			}
		}
	}
}

// deliver blocks until the subscriber accepts the event or the hub shuts
// down. Subscribers are in-process actors that drain their channels promptly.
func (h *Hub) deliver(ctx context.Context, sub subscriber, event Event) bool {
	select {
	case sub.channel <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
